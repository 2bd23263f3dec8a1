package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rxtech-lab/vfunds/internal/export"
	"github.com/urfave/cli/v3"
)

func resultCommand() *cli.Command {
	return &cli.Command{
		Name:      "result",
		Usage:     "Show the results of a previous backtest",
		ArgsUsage: "[@FUND ...]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Output `DIR` of the backtest (default: output.dir of the workspace)",
			},
			&cli.StringSliceFlag{
				Name:    "fund",
				Aliases: []string{"f"},
				Usage:   "Only show fund `ID`, repeatable",
			},
			&cli.BoolFlag{
				Name:    "chart",
				Aliases: []string{"g"},
				Usage:   "Render chart.html from the stored NAV series",
			},
		},
		Action: resultAction,
	}
}

func resultAction(_ context.Context, cmd *cli.Command) error {
	ws := workspaceDir(cmd)
	out := cmd.Root().Writer

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	dir := outputDir(ws, cfg.Output.Dir)
	if cmd.IsSet("output") {
		dir = outputDir(ws, cmd.String("output"))
	}

	report, err := export.LoadResults(dir, cmd.StringSlice("fund")...)
	if err != nil {
		return err
	}

	if len(report.Results) == 0 && len(report.Failures) == 0 {
		fmt.Fprintln(out, HelpStyle.Render("no results in "+dir))

		return nil
	}

	fmt.Fprintln(out, TitleStyle.Render("Results"))
	fmt.Fprintln(out, resultsTable(report.Results))

	printReport(cmd, report, dir)

	if cmd.Bool("chart") {
		path := filepath.Join(dir, "chart.html")

		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", path, err)
		}
		defer f.Close()

		if err := export.RenderNAV(f, report.Results); err != nil {
			return err
		}

		fmt.Fprintln(out, HelpStyle.Render("chart written to "+path))
	}

	return nil
}
