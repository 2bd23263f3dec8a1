package main

import (
	"context"
	"fmt"

	"github.com/rxtech-lab/vfunds/internal/workspace"
	"github.com/urfave/cli/v3"
)

func listCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List the fund definitions of the workspace",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "schema",
				Usage: "Print the JSON schema of a fund definition instead",
			},
		},
		Action: listAction,
	}
}

func listAction(_ context.Context, cmd *cli.Command) error {
	out := cmd.Root().Writer

	if cmd.Bool("schema") {
		schema, err := workspace.SchemaJSON()
		if err != nil {
			return err
		}

		fmt.Fprintln(out, schema)

		return nil
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	entries, err := workspace.List(workspace.Dir(workspaceDir(cmd)), workspace.Options{DefaultFrequency: cfg.Backtest.Rebalance})
	if err != nil {
		return err
	}

	if len(entries) == 0 {
		fmt.Fprintln(out, HelpStyle.Render("no funds in "+workspace.Dir(workspaceDir(cmd))))

		return nil
	}

	fmt.Fprintln(out, fundsTable(entries))

	for _, e := range entries {
		if e.Err != nil {
			fmt.Fprintf(out, "%s %s: %v\n", ErrorStyle.Render("invalid"), e.ID, e.Err)
		}
	}

	return nil
}
