package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/rxtech-lab/vfunds/internal/config"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

func configCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Show or change the workspace configuration",
		Commands: []*cli.Command{
			{
				Name:   "show",
				Usage:  "Print the effective configuration with secrets redacted",
				Action: configShowAction,
			},
			{
				Name:      "set",
				Usage:     "Store a configuration value in vfunds.yaml",
				ArgsUsage: "KEY VALUE",
				Action:    configSetAction,
			},
			{
				Name:   "keys",
				Usage:  "List the configuration keys",
				Action: configKeysAction,
			},
		},
	}
}

func configShowAction(_ context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg.Redacted())
	if err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}

	fmt.Fprintln(cmd.Root().Writer, TitleStyle.Render(config.Path(workspaceDir(cmd))))
	fmt.Fprint(cmd.Root().Writer, string(data))

	return nil
}

func configSetAction(_ context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 2 {
		return fmt.Errorf("usage: vfunds config set KEY VALUE")
	}

	key, value := cmd.Args().Get(0), cmd.Args().Get(1)

	if err := config.Set(workspaceDir(cmd), key, value); err != nil {
		return err
	}

	fmt.Fprintf(cmd.Root().Writer, "%s = %s\n", strings.ToLower(key), value)

	return nil
}

func configKeysAction(_ context.Context, cmd *cli.Command) error {
	for _, key := range config.Keys() {
		fmt.Fprintln(cmd.Root().Writer, key)
	}

	return nil
}
