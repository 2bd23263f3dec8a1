package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rxtech-lab/vfunds/pkg/marketdata"
	"github.com/urfave/cli/v3"
)

func providersCommand() *cli.Command {
	return &cli.Command{
		Name:   "providers",
		Usage:  "List the market data sources",
		Action: providersAction,
	}
}

func providersAction(_ context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	t := newTable("Source", "Name", "Description", "Env", "Status")

	for _, name := range marketdata.GetSupportedProviders() {
		info, err := marketdata.GetProviderInfo(name)
		if err != nil {
			return err
		}

		status := "ready"

		switch {
		case info.RequiresAuth && os.Getenv(info.EnvKey) == "" && cfg.Data.PolygonAPIKey == "":
			status = HelpStyle.Render("needs " + info.EnvKey)
		case name == cfg.Data.DefaultSource:
			status = TitleStyle.Render("default")
		}

		t.Row(info.Name, info.DisplayName, info.Description, info.EnvKey, status)
	}

	fmt.Fprintln(cmd.Root().Writer, t)

	return nil
}
