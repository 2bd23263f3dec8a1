package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rxtech-lab/vfunds/internal/config"
	"github.com/rxtech-lab/vfunds/internal/logger"
	"github.com/rxtech-lab/vfunds/internal/version"
	"github.com/urfave/cli/v3"
)

// rewriteArgs expands the "@fund" shorthand into "--fund fund".
func rewriteArgs(args []string) []string {
	out := make([]string, 0, len(args))

	for i, arg := range args {
		if i > 0 && len(arg) > 1 && strings.HasPrefix(arg, "@") {
			out = append(out, "--fund", arg[1:])

			continue
		}

		out = append(out, arg)
	}

	return out
}

// workspaceDir returns the workspace directory of the invocation.
func workspaceDir(cmd *cli.Command) string {
	return cmd.String("workspace")
}

// loadConfig reads the workspace configuration.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	return config.Load(workspaceDir(cmd))
}

// newLogger builds the logger at the configured level unless --log-level
// overrides it.
func newLogger(cmd *cli.Command, cfg *config.Config) (*logger.Logger, error) {
	level := cfg.LogLevel
	if cmd.IsSet("log-level") {
		level = cmd.String("log-level")
	}

	return logger.NewLoggerWithLevel(level)
}

func newApp(stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name:    "vfunds",
		Usage:   "Backtest and cross validate virtual funds",
		Version: version.Version,
		Writer:  stdout,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "workspace",
				Aliases: []string{"w"},
				Usage:   "Workspace `DIR` holding vfunds.yaml and funds/",
				Value:   ".",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level: debug, info, warn or error",
			},
		},
		Commands: []*cli.Command{
			configCommand(),
			listCommand(),
			providersCommand(),
			backtestCommand(),
			resultCommand(),
		},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp(os.Stdout).Run(ctx, rewriteArgs(os.Args)); err != nil {
		fmt.Fprintln(os.Stderr, ErrorStyle.Render("error:"), err)
		stop()
		os.Exit(1)
	}
}
