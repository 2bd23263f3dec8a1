package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rxtech-lab/vfunds/internal/config"
	"github.com/rxtech-lab/vfunds/internal/crossval"
	"github.com/rxtech-lab/vfunds/internal/export"
	"github.com/rxtech-lab/vfunds/internal/types"
	"github.com/rxtech-lab/vfunds/internal/workspace"
	"github.com/rxtech-lab/vfunds/pkg/errors"
	"github.com/stretchr/testify/suite"
)

type CLITestSuite struct {
	suite.Suite
	ws  string
	out *bytes.Buffer
}

func TestCLISuite(t *testing.T) {
	suite.Run(t, new(CLITestSuite))
}

func (suite *CLITestSuite) SetupTest() {
	suite.ws = suite.T().TempDir()
	suite.out = &bytes.Buffer{}

	for _, env := range []string{"QMT_API", "AKTOOLS_API", "POLYGON_API_KEY", "VFUNDS_CACHE_NO_EXPIRE", "VFUNDS_LOG_LEVEL"} {
		suite.T().Setenv(env, "")
		os.Unsetenv(env)
	}
}

func (suite *CLITestSuite) run(args ...string) error {
	suite.out.Reset()

	argv := append([]string{"vfunds", "-w", suite.ws, "--log-level", "error"}, args...)

	return newApp(suite.out).Run(context.Background(), rewriteArgs(argv))
}

func (suite *CLITestSuite) writeFund(name, content string) {
	dir := workspace.Dir(suite.ws)
	suite.Require().NoError(os.MkdirAll(dir, 0o755))
	suite.Require().NoError(os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func (suite *CLITestSuite) TestRewriteArgs() {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{name: "shorthand", in: []string{"vfunds", "backtest", "@a", "@b"}, want: []string{"vfunds", "backtest", "--fund", "a", "--fund", "b"}},
		{name: "lone at", in: []string{"vfunds", "result", "@"}, want: []string{"vfunds", "result", "@"}},
		{name: "program name kept", in: []string{"@vfunds", "list"}, want: []string{"@vfunds", "list"}},
		{name: "plain", in: []string{"vfunds", "-w", "ws", "list"}, want: []string{"vfunds", "-w", "ws", "list"}},
	}

	for _, tc := range tests {
		suite.Run(tc.name, func() {
			suite.Equal(tc.want, rewriteArgs(tc.in))
		})
	}
}

func (suite *CLITestSuite) TestConfigSetAndShow() {
	suite.Require().NoError(suite.run("config", "set", "backtest.parallel", "8"))
	suite.Contains(suite.out.String(), "backtest.parallel = 8")

	cfg, err := config.Load(suite.ws)
	suite.Require().NoError(err)
	suite.Equal(8, cfg.Backtest.Parallel)

	suite.T().Setenv("POLYGON_API_KEY", "secret-key")

	suite.Require().NoError(suite.run("config", "show"))
	suite.Contains(suite.out.String(), "parallel: 8")
	suite.Contains(suite.out.String(), "***")
	suite.NotContains(suite.out.String(), "secret-key")

	err = suite.run("config", "set", "backtest.speed", "fast")
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidConfiguration))

	suite.Error(suite.run("config", "set", "backtest.parallel"))
}

func (suite *CLITestSuite) TestConfigKeys() {
	suite.Require().NoError(suite.run("config", "keys"))
	suite.Contains(suite.out.String(), "cache.ttl\n")
	suite.Contains(suite.out.String(), "data.default_source\n")
}

func (suite *CLITestSuite) TestList() {
	suite.Require().NoError(suite.run("list"))
	suite.Contains(suite.out.String(), "no funds")

	suite.writeFund("alpha.yaml", "title: Alpha\nholdings: [{symbol: A, weight: 1}]\n")
	suite.writeFund("broken.yaml", "holdings: []\n")

	suite.Require().NoError(suite.run("list"))
	suite.Contains(suite.out.String(), "Alpha")
	suite.Contains(suite.out.String(), "broken")
	suite.Contains(suite.out.String(), "invalid")

	suite.Require().NoError(suite.run("list", "--schema"))
	suite.Contains(suite.out.String(), `"holdings"`)
}

func (suite *CLITestSuite) TestProviders() {
	suite.Require().NoError(suite.run("providers"))
	suite.Contains(suite.out.String(), "Polygon.io")
	suite.Contains(suite.out.String(), "needs POLYGON_API_KEY")
	suite.Contains(suite.out.String(), "default")
}

func (suite *CLITestSuite) TestBacktestValidation() {
	err := suite.run("backtest", "-s", "2021-01-01", "-e", "2021-12-31")
	suite.True(errors.HasCode(err, errors.ErrCodeBacktestNoFunds), "%v", err)

	suite.Error(suite.run("backtest"))

	suite.writeFund("alpha.yaml", "holdings: [{symbol: A, weight: 1}]\n")

	err = suite.run("backtest", "-s", "2021-01-01", "-e", "2021-12-31", "@missing")
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidFund), "%v", err)

	err = suite.run("backtest", "-s", "2021-01-01", "-e", "2021-12-31", "-S", "rolling")
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidStrategy), "%v", err)

	err = suite.run("backtest", "-s", "2021-01-01", "-e", "2021-12-31", "--freq", "fortnightly")
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidFrequency), "%v", err)

	suite.Error(suite.run("backtest", "-s", "2021-01-01", "-S", "start-dates", "--starts", "01/02/2021"))
}

// qmtServer serves a rising weekday close for any symbol.
func qmtServer() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start, _ := time.Parse("20060102", r.URL.Query().Get("start_time"))
		end, _ := time.Parse("20060102", r.URL.Query().Get("end_time"))
		base := types.Date(2020, 1, 1)

		var records []string

		for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
			if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
				continue
			}

			price := 1 + d.Sub(base).Hours()/24*0.001
			records = append(records, fmt.Sprintf(`{"date": %q, "close": %f, "volume": 100}`, d.Format("20060102"), price))
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("[" + strings.Join(records, ",") + "]"))
	}))
}

func (suite *CLITestSuite) TestBacktestAndResult() {
	server := qmtServer()
	defer server.Close()

	suite.Require().NoError(suite.run("config", "set", "data.qmt_url", server.URL))
	suite.writeFund("balanced.yaml", `
title: Balanced
holdings:
  - symbol: 510300.SH
    weight: 0.6
  - symbol: 511010.SH
    weight: 0.4
`)
	suite.writeFund("core.yaml", "funds: [{fund: balanced, weight: 2}, {fund: bonds, weight: 1}]\n")
	suite.writeFund("bonds.yaml", "holdings: [{symbol: 511010.SH, weight: 1}]\n")

	suite.Require().NoError(suite.run("backtest", "-q", "-s", "2021-01-01", "-e", "2022-12-31", "-o", "out", "-g", "@balanced", "@core"))
	suite.Contains(suite.out.String(), "Summary")
	suite.Contains(suite.out.String(), "balanced")
	suite.Contains(suite.out.String(), "core")
	suite.NotContains(suite.out.String(), "Failures")

	out := filepath.Join(suite.ws, "out")
	suite.FileExists(filepath.Join(out, "balanced", "2021-01-01_2022-12-31.yaml"))
	suite.FileExists(filepath.Join(out, "core", "2021-01-01_2022-12-31.yaml"))
	suite.FileExists(filepath.Join(out, "chart.html"))

	suite.Require().NoError(suite.run("result", "-o", "out"))
	suite.Contains(suite.out.String(), "Results")
	suite.Contains(suite.out.String(), "2021-01-01_2022-12-31")

	// the second run is served from the cache
	server.Close()
	suite.Require().NoError(suite.run("backtest", "-q", "-s", "2021-01-01", "-e", "2022-12-31", "-o", "again", "--no-expire"))
	suite.FileExists(filepath.Join(suite.ws, "again", "balanced", "2021-01-01_2022-12-31.yaml"))
}

func (suite *CLITestSuite) TestResultFromExportedDir() {
	dir := filepath.Join(suite.ws, "results")
	w := types.NewWindow(types.Date(2021, 1, 4), types.Date(2021, 12, 31))

	e := export.NewYAMLExporter(dir)
	suite.Require().NoError(e.Write(crossval.Outcome{FundID: "F", Window: w, Result: &types.BacktestResult{
		FundID: "F",
		Window: w,
		NAV:    []types.NavPoint{{Date: w.Start, Value: 1}, {Date: w.End, Value: 1.1}},
		Metrics: types.Metrics{
			TotalReturn:      0.1,
			AnnualizedReturn: 0.1,
			Sharpe:           1.2,
		},
	}}))
	suite.Require().NoError(e.Write(crossval.Outcome{FundID: "G", Window: w, Err: errors.NewDataGapError("NEW", w.Start, nil)}))
	suite.Require().NoError(e.Close())

	suite.Require().NoError(suite.run("result", "-g"))
	suite.Contains(suite.out.String(), "10.00%")
	suite.Contains(suite.out.String(), "Failures")
	suite.Contains(suite.out.String(), "NEW")
	suite.Contains(suite.out.String(), strconv.Itoa(int(errors.ErrCodeDataGap)))
	suite.FileExists(filepath.Join(dir, "chart.html"))

	suite.Require().NoError(suite.run("result", "@G"))
	suite.NotContains(suite.out.String(), "10.00%")

	err := suite.run("result", "-o", "nowhere")
	suite.True(errors.HasCode(err, errors.ErrCodeBacktestNoResultDir))
}
