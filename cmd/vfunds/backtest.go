package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rxtech-lab/vfunds/internal/backtest"
	"github.com/rxtech-lab/vfunds/internal/cache"
	"github.com/rxtech-lab/vfunds/internal/config"
	"github.com/rxtech-lab/vfunds/internal/crossval"
	"github.com/rxtech-lab/vfunds/internal/export"
	"github.com/rxtech-lab/vfunds/internal/simulator"
	"github.com/rxtech-lab/vfunds/internal/types"
	"github.com/rxtech-lab/vfunds/internal/workspace"
	"github.com/rxtech-lab/vfunds/pkg/marketdata"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

var dateLayouts = cli.TimestampConfig{Layouts: []string{time.DateOnly}}

func backtestCommand() *cli.Command {
	return &cli.Command{
		Name:      "backtest",
		Usage:     "Backtest funds over the windows of a strategy",
		ArgsUsage: "[@FUND ...]",
		Flags: []cli.Flag{
			&cli.TimestampFlag{
				Name:     "start",
				Aliases:  []string{"s"},
				Usage:    "Start of the global range in `YYYY-MM-DD` format",
				Required: true,
				Config:   dateLayouts,
			},
			&cli.TimestampFlag{
				Name:    "end",
				Aliases: []string{"e"},
				Usage:   "End of the global range in `YYYY-MM-DD` format (default: today)",
				Config:  dateLayouts,
			},
			&cli.StringSliceFlag{
				Name:    "fund",
				Aliases: []string{"f"},
				Usage:   "Fund `ID` to run, repeatable (default: every fund)",
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Output `DIR` (default: output.dir of the workspace)",
			},
			&cli.StringFlag{
				Name:    "strategy",
				Aliases: []string{"S"},
				Usage:   "Window strategy: fixed, rolling, leave-one-out, start-dates or halving",
				Value:   string(crossval.StrategyFixed),
			},
			&cli.IntFlag{
				Name:  "window",
				Usage: "Rolling window length in `DAYS`",
			},
			&cli.IntFlag{
				Name:  "stride",
				Usage: "Rolling window stride in `DAYS` (default: the window length)",
			},
			&cli.IntFlag{
				Name:  "folds",
				Usage: "Number of leave-one-out folds",
			},
			&cli.StringSliceFlag{
				Name:  "starts",
				Usage: "Start `YYYY-MM-DD` of a start-dates window, repeatable",
			},
			&cli.IntFlag{
				Name:  "min-days",
				Usage: "Shortest halving window in days",
				Value: crossval.DefaultHalvingMinDays,
			},
			&cli.StringSliceFlag{
				Name:  "freq",
				Usage: "Rebalance `FREQUENCY` variant to run for every fund, repeatable",
			},
			&cli.IntFlag{
				Name:    "parallel",
				Aliases: []string{"p"},
				Usage:   "Jobs in flight (default: backtest.parallel of the workspace)",
			},
			&cli.BoolFlag{
				Name:    "chart",
				Aliases: []string{"g"},
				Usage:   "Also write chart.html",
			},
			&cli.BoolFlag{
				Name:  "no-expire",
				Usage: "Serve expired cache entries instead of refetching",
			},
			&cli.StringSliceFlag{
				Name:  "format",
				Usage: "Output `FORMAT`: yaml, jsonl, parquet or chart, repeatable",
			},
			&cli.BoolFlag{
				Name:    "quiet",
				Aliases: []string{"q"},
				Usage:   "Hide the progress bar",
			},
		},
		Action: backtestAction,
	}
}

// strategyFromFlags builds the window strategy of the invocation.
func strategyFromFlags(cmd *cli.Command) (crossval.Strategy, error) {
	s := crossval.Strategy{
		Kind:    crossval.StrategyKind(cmd.String("strategy")),
		Length:  int(cmd.Int("window")),
		Stride:  int(cmd.Int("stride")),
		Folds:   int(cmd.Int("folds")),
		MinDays: int(cmd.Int("min-days")),
	}

	for _, start := range cmd.StringSlice("starts") {
		t, err := time.Parse(time.DateOnly, start)
		if err != nil {
			return s, fmt.Errorf("invalid start %q: %w", start, err)
		}

		s.Starts = append(s.Starts, t)
	}

	return s, nil
}

// outputDir resolves dir against the workspace.
func outputDir(ws, dir string) string {
	if filepath.IsAbs(dir) {
		return dir
	}

	return filepath.Join(ws, dir)
}

// formatsFromFlags returns the export formats of the invocation.
func formatsFromFlags(cmd *cli.Command, cfg *config.Config) []export.Format {
	names := cfg.Output.Formats
	if cmd.IsSet("format") {
		names = cmd.StringSlice("format")
	}

	formats := make([]export.Format, 0, len(names)+1)
	for _, name := range names {
		formats = append(formats, export.Format(name))
	}

	if cmd.Bool("chart") {
		formats = append(formats, export.FormatChart)
	}

	return formats
}

func backtestAction(ctx context.Context, cmd *cli.Command) error {
	ws := workspaceDir(cmd)

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	log, err := newLogger(cmd, cfg)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	global := types.DateRange{Start: types.Day(cmd.Timestamp("start")), End: types.Day(time.Now())}
	if cmd.IsSet("end") {
		global.End = types.Day(cmd.Timestamp("end"))
	}

	strategy, err := strategyFromFlags(cmd)
	if err != nil {
		return err
	}

	funds, err := workspace.LoadAll(workspace.Dir(ws), cmd.StringSlice("fund"), workspace.Options{DefaultFrequency: cfg.Backtest.Rebalance})
	if err != nil {
		return err
	}

	funds, err = crossval.ExpandVariants(funds, cmd.StringSlice("freq"))
	if err != nil {
		return err
	}

	noExpire := cmd.Bool("no-expire")

	store, err := cfg.OpenStore(ws)
	if err != nil {
		return err
	}

	pc, err := cache.New(store, cfg.CacheConfig(noExpire), log)
	if err != nil {
		store.Close() //nolint:errcheck

		return err
	}
	defer pc.Close() //nolint:errcheck

	client, err := marketdata.NewClient(cfg.ClientConfig(), log)
	if err != nil {
		return err
	}

	orchestrator, err := backtest.NewOrchestrator(pc, client, simulator.New(simulator.Config{RiskFreeRate: cfg.Backtest.RiskFreeRate}, log), cfg.OrchestratorConfig(noExpire), log)
	if err != nil {
		return err
	}

	parallel := cfg.Backtest.Parallel
	if cmd.IsSet("parallel") {
		parallel = int(cmd.Int("parallel"))
	}

	runner, err := crossval.NewRunner(orchestrator, crossval.Config{Parallel: parallel}, log)
	if err != nil {
		return err
	}

	outcomes, err := runner.RunAll(ctx, funds, global, strategy)
	if err != nil {
		return err
	}

	dir := outputDir(ws, cfg.Output.Dir)
	if cmd.IsSet("output") {
		dir = outputDir(ws, cmd.String("output"))
	}

	exporter, err := export.New(dir, formatsFromFlags(cmd, cfg), log)
	if err != nil {
		return err
	}

	total := 0
	for range crossval.Jobs(funds, global, strategy) {
		total++
	}

	bar := progressbar.NewOptions(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(fmt.Sprintf("%s %s..%s", strategy.Kind, formatDate(global.Start), formatDate(global.End))),
		progressbar.OptionShowCount(),
		progressbar.OptionSetVisibility(!cmd.Bool("quiet")),
	)

	log.Info("Backtest started",
		zap.Int("funds", len(funds)),
		zap.Int("jobs", total),
		zap.String("strategy", string(strategy.Kind)),
		zap.String("output", dir),
	)

	report := &crossval.Report{}

	for o := range outcomes {
		report.Add(o)

		if err := exporter.Write(o); err != nil {
			exporter.Close() //nolint:errcheck

			return err
		}

		bar.Add(1) //nolint:errcheck
	}

	bar.Finish() //nolint:errcheck

	if err := exporter.Close(); err != nil {
		return err
	}

	report.Summaries = crossval.Summarize(report.Results, report.Failures)

	stats := pc.Stats()
	log.Info("Backtest finished",
		zap.Int("results", len(report.Results)),
		zap.Int("failures", len(report.Failures)),
		zap.Int64("cache_hits", stats.Hits),
		zap.Int64("cache_misses", stats.Misses),
		zap.Int64("cache_shared", stats.Shared),
	)

	printReport(cmd, report, dir)

	if ctx.Err() != nil {
		return ctx.Err()
	}

	return report.Err
}

// printReport writes the summary and failure tables.
func printReport(cmd *cli.Command, report *crossval.Report, dir string) {
	out := cmd.Root().Writer

	fmt.Fprintln(out)
	fmt.Fprintln(out, TitleStyle.Render("Summary"))
	fmt.Fprintln(out, summaryTable(report.Summaries))

	if len(report.Failures) > 0 {
		fmt.Fprintln(out, TitleStyle.Render("Failures"))
		fmt.Fprintln(out, failuresTable(report.Failures))
	}

	fmt.Fprintln(out, HelpStyle.Render(fmt.Sprintf("%d results, %d failures written to %s", len(report.Results), len(report.Failures), dir)))
}
