package export

import (
	"io"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	charttypes "github.com/go-echarts/go-echarts/v2/types"
	"github.com/rxtech-lab/vfunds/internal/crossval"
	"github.com/rxtech-lab/vfunds/internal/types"
	"github.com/rxtech-lab/vfunds/pkg/errors"
)

const chartFile = "chart.html"

// ChartExporter renders the NAV of every result as an HTML line chart, one
// chart per window, written to <dir>/chart.html by Close.
type ChartExporter struct {
	dir     string
	results []*types.BacktestResult
}

// NewChartExporter creates an exporter writing below dir.
func NewChartExporter(dir string) *ChartExporter {
	return &ChartExporter{dir: dir}
}

// Write keeps the result for rendering. Failures are skipped.
func (e *ChartExporter) Write(o crossval.Outcome) error {
	if o.Err == nil {
		e.results = append(e.results, o.Result)
	}

	return nil
}

// Close renders the page.
func (e *ChartExporter) Close() error {
	f, err := os.Create(filepath.Join(e.dir, chartFile))
	if err != nil {
		return errors.Wrap(errors.ErrCodeExportFailed, "failed to create chart file", err)
	}
	defer f.Close()

	return RenderNAV(f, e.results)
}

// RenderNAV writes an HTML page with one NAV line chart per window, one
// series per fund. Results must be in output order.
func RenderNAV(w io.Writer, results []*types.BacktestResult) error {
	page := components.NewPage()
	page.PageTitle = "vfunds"
	page.SetLayout(components.PageFlexLayout)

	for group := range byWindow(results) {
		window := group[0].Window

		line := charts.NewLine()
		line.SetGlobalOptions(
			charts.WithInitializationOpts(opts.Initialization{Theme: charttypes.ThemeWesteros, Width: "1200px"}),
			charts.WithTitleOpts(opts.Title{Title: "NAV", Subtitle: window.Name()}),
			charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "bottom"}),
			charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
			charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
			charts.WithYAxisOpts(opts.YAxis{Scale: opts.Bool(true)}),
		)

		dates := axis(group)
		line.SetXAxis(dates)

		for _, res := range group {
			line.AddSeries(res.FundID, lineData(res.NAV, dates),
				charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false), ConnectNulls: opts.Bool(true)}))
		}

		page.AddCharts(line)
	}

	if err := page.Render(w); err != nil {
		return errors.Wrap(errors.ErrCodeExportFailed, "failed to render chart", err)
	}

	return nil
}

// byWindow yields consecutive results sharing a window.
func byWindow(results []*types.BacktestResult) func(yield func([]*types.BacktestResult) bool) {
	return func(yield func([]*types.BacktestResult) bool) {
		for i := 0; i < len(results); {
			j := i + 1
			for j < len(results) && results[j].Window.Name() == results[i].Window.Name() {
				j++
			}

			if !yield(results[i:j]) {
				return
			}

			i = j
		}
	}
}

// axis is the sorted union of the NAV dates of a group.
func axis(group []*types.BacktestResult) []string {
	var dates []string

	for _, res := range group {
		for _, p := range res.NAV {
			dates = append(dates, p.Date.Format(time.DateOnly))
		}
	}

	slices.Sort(dates)

	return slices.Compact(dates)
}

func lineData(nav []types.NavPoint, dates []string) []opts.LineData {
	values := make(map[string]float64, len(nav))
	for _, p := range nav {
		values[p.Date.Format(time.DateOnly)] = p.Value
	}

	data := make([]opts.LineData, len(dates))

	for i, d := range dates {
		if v, ok := values[d]; ok {
			data[i] = opts.LineData{Value: v}
		} else {
			data[i] = opts.LineData{Value: "-"}
		}
	}

	return data
}
