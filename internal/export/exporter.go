// Package export writes backtest outcomes to an output directory and reads
// them back.
package export

import (
	"os"
	"slices"
	"strings"

	"github.com/rxtech-lab/vfunds/internal/crossval"
	"github.com/rxtech-lab/vfunds/internal/logger"
	"github.com/rxtech-lab/vfunds/pkg/errors"
)

// Exporter consumes outcomes in output order.
type Exporter interface {
	// Write records one outcome.
	Write(o crossval.Outcome) error
	// Close flushes everything written so far.
	Close() error
}

// Format names an exporter.
type Format string

const (
	FormatYAML    Format = "yaml"
	FormatJSONL   Format = "jsonl"
	FormatParquet Format = "parquet"
	FormatChart   Format = "chart"
)

// DefaultFormats are written when the configuration names none.
var DefaultFormats = []Format{FormatYAML}

// New builds one exporter per format, all writing below dir.
func New(dir string, formats []Format, log *logger.Logger) (Exporter, error) {
	if dir == "" {
		return nil, errors.New(errors.ErrCodeBacktestNoResultDir, "no output directory")
	}

	if len(formats) == 0 {
		formats = DefaultFormats
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(errors.ErrCodeExportFailed, "failed to create output directory", err)
	}

	if log == nil {
		log = logger.NewNopLogger()
	}

	log = log.Named("export")

	var exporters Multi

	for _, f := range slices.Compact(slices.Sorted(slices.Values(formats))) {
		var (
			e   Exporter
			err error
		)

		switch Format(strings.ToLower(string(f))) {
		case FormatYAML:
			e = NewYAMLExporter(dir)
		case FormatJSONL:
			e, err = NewJSONLExporter(dir)
		case FormatParquet:
			e, err = NewParquetExporter(dir, log)
		case FormatChart:
			e = NewChartExporter(dir)
		default:
			err = errors.Newf(errors.ErrCodeInvalidConfiguration, "unknown output format %q", f)
		}

		if err != nil {
			_ = exporters.Close()

			return nil, err
		}

		exporters = append(exporters, e)
	}

	return exporters, nil
}

// Multi fans every outcome out to several exporters.
type Multi []Exporter

// Write forwards o to every exporter and returns the first error.
func (m Multi) Write(o crossval.Outcome) error {
	var first error

	for _, e := range m {
		if err := e.Write(o); err != nil && first == nil {
			first = err
		}
	}

	return first
}

// Close closes every exporter and returns the first error.
func (m Multi) Close() error {
	var first error

	for _, e := range m {
		if err := e.Close(); err != nil && first == nil {
			first = err
		}
	}

	return first
}

// fileName turns an id or window label into a safe file name.
func fileName(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', ' ':
			return '_'
		default:
			return r
		}
	}, s)
}
