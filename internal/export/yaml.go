package export

import (
	"cmp"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/rxtech-lab/vfunds/internal/crossval"
	"github.com/rxtech-lab/vfunds/internal/types"
	"github.com/rxtech-lab/vfunds/internal/version"
	"github.com/rxtech-lab/vfunds/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	failuresFile = "failures.yaml"
	summaryFile  = "summary.yaml"
	manifestFile = "manifest.yaml"
)

// Manifest describes an output directory.
type Manifest struct {
	Version   string    `yaml:"version"`
	CreatedAt time.Time `yaml:"created_at"`
	Results   int       `yaml:"results"`
	Failures  int       `yaml:"failures"`
}

// YAMLExporter writes one file per result at <dir>/<fund>/<window>.yaml.
// Failures and per fund summaries are written by Close.
type YAMLExporter struct {
	dir      string
	results  []*types.BacktestResult
	failures []types.Failure
}

// NewYAMLExporter creates an exporter writing below dir.
func NewYAMLExporter(dir string) *YAMLExporter {
	return &YAMLExporter{dir: dir}
}

// Write stores a result file, or records the failure.
func (e *YAMLExporter) Write(o crossval.Outcome) error {
	if o.Err != nil {
		e.failures = append(e.failures, o.Failure())

		return nil
	}

	res := o.Result
	path := filepath.Join(e.dir, fileName(res.FundID), fileName(res.Window.Name())+".yaml")

	if err := writeYAML(path, res); err != nil {
		return err
	}

	// summaries only need the metrics
	slim := *res
	slim.NAV = nil
	e.results = append(e.results, &slim)

	return nil
}

// Close writes failures.yaml, summary.yaml and manifest.yaml.
func (e *YAMLExporter) Close() error {
	failures := e.failures
	if failures == nil {
		failures = []types.Failure{}
	}

	if err := writeYAML(filepath.Join(e.dir, failuresFile), failures); err != nil {
		return err
	}

	if err := writeYAML(filepath.Join(e.dir, summaryFile), crossval.Summarize(e.results, e.failures)); err != nil {
		return err
	}

	return writeYAML(filepath.Join(e.dir, manifestFile), Manifest{
		Version:   version.GetVersion(),
		CreatedAt: time.Now().UTC().Truncate(time.Second),
		Results:   len(e.results),
		Failures:  len(e.failures),
	})
}

func writeYAML(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(errors.ErrCodeExportFailed, err, "failed to create %s", filepath.Dir(path))
	}

	data, err := yaml.Marshal(v)
	if err != nil {
		return errors.Wrapf(errors.ErrCodeExportFailed, err, "failed to encode %s", path)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(errors.ErrCodeExportFailed, err, "failed to write %s", path)
	}

	return nil
}

// LoadResults reads a directory written by YAMLExporter. When fundIDs is not
// empty only those funds are returned; a variant matches its base id too.
// Results come back in output order and the summaries are recomputed.
func LoadResults(dir string, fundIDs ...string) (*crossval.Report, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, errors.Wrapf(errors.ErrCodeBacktestNoResultDir, err, "no results in %s", dir)
	}

	if data, err := os.ReadFile(filepath.Join(dir, manifestFile)); err == nil {
		var m Manifest
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, errors.Wrapf(errors.ErrCodeExportFailed, err, "failed to decode %s", manifestFile)
		}

		if err := version.CheckResultCompatibility(m.Version, version.GetVersion()); err != nil {
			return nil, err
		}
	}

	wanted := func(id string) bool {
		return len(fundIDs) == 0 || slices.Contains(fundIDs, id) || slices.Contains(fundIDs, crossval.BaseID(id))
	}

	report := &crossval.Report{}

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		// results live one level down, next to the top level files
		if d.IsDir() || filepath.Dir(path) == filepath.Clean(dir) || !strings.HasSuffix(path, ".yaml") {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		var res types.BacktestResult
		if err := yaml.Unmarshal(data, &res); err != nil {
			return errors.Wrapf(errors.ErrCodeExportFailed, err, "failed to decode %s", path)
		}

		if wanted(res.FundID) {
			report.Results = append(report.Results, &res)
		}

		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(errors.ErrCodeExportFailed, err, "failed to read results from %s", dir)
	}

	slices.SortFunc(report.Results, func(a, b *types.BacktestResult) int {
		return compareWindows(a.Window, a.FundID, b.Window, b.FundID)
	})

	if data, err := os.ReadFile(filepath.Join(dir, failuresFile)); err == nil {
		var failures []types.Failure
		if err := yaml.Unmarshal(data, &failures); err != nil {
			return nil, errors.Wrapf(errors.ErrCodeExportFailed, err, "failed to decode %s", failuresFile)
		}

		for _, f := range failures {
			if wanted(f.FundID) {
				report.Failures = append(report.Failures, f)
			}
		}
	}

	report.Summaries = crossval.Summarize(report.Results, report.Failures)

	return report, nil
}

func compareWindows(a types.BacktestWindow, aID string, b types.BacktestWindow, bID string) int {
	if c := a.Start.Compare(b.Start); c != 0 {
		return c
	}

	if c := a.End.Compare(b.End); c != 0 {
		return c
	}

	if c := cmp.Compare(aID, bID); c != 0 {
		return c
	}

	return cmp.Compare(a.Name(), b.Name())
}
