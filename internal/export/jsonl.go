package export

import (
	"bufio"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
	"github.com/rxtech-lab/vfunds/internal/crossval"
	"github.com/rxtech-lab/vfunds/internal/types"
	"github.com/rxtech-lab/vfunds/pkg/errors"
)

const resultsFile = "results.jsonl"

// record is one line of results.jsonl. Exactly one of Result and Failure is set.
type record struct {
	Seq     int                   `json:"seq"`
	Result  *types.BacktestResult `json:"result,omitempty"`
	Failure *types.Failure        `json:"failure,omitempty"`
}

// JSONLExporter streams every outcome as one JSON line to results.jsonl.
type JSONLExporter struct {
	file *os.File
	w    *bufio.Writer
	enc  *json.Encoder
}

// NewJSONLExporter creates <dir>/results.jsonl.
func NewJSONLExporter(dir string) (*JSONLExporter, error) {
	f, err := os.Create(filepath.Join(dir, resultsFile))
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeExportFailed, "failed to create results file", err)
	}

	w := bufio.NewWriter(f)

	return &JSONLExporter{file: f, w: w, enc: json.NewEncoder(w)}, nil
}

// Write appends one line.
func (e *JSONLExporter) Write(o crossval.Outcome) error {
	rec := record{Seq: o.Seq, Result: o.Result}
	if o.Err != nil {
		f := o.Failure()
		rec.Failure = &f
	}

	if err := e.enc.Encode(rec); err != nil {
		return errors.Wrap(errors.ErrCodeExportFailed, "failed to encode outcome", err)
	}

	return nil
}

// Close flushes and closes the file.
func (e *JSONLExporter) Close() error {
	if err := e.w.Flush(); err != nil {
		_ = e.file.Close()

		return errors.Wrap(errors.ErrCodeExportFailed, "failed to flush results file", err)
	}

	return e.file.Close()
}

// LoadJSONL reads a results.jsonl file back into a report.
func LoadJSONL(path string) (*crossval.Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrCodeBacktestNoResultDir, err, "failed to open %s", path)
	}
	defer f.Close()

	report := &crossval.Report{}
	dec := json.NewDecoder(bufio.NewReader(f))

	for dec.More() {
		var rec record
		if err := dec.Decode(&rec); err != nil {
			return nil, errors.Wrapf(errors.ErrCodeExportFailed, err, "failed to decode %s", path)
		}

		switch {
		case rec.Result != nil:
			report.Results = append(report.Results, rec.Result)
		case rec.Failure != nil:
			report.Failures = append(report.Failures, *rec.Failure)
		}
	}

	report.Summaries = crossval.Summarize(report.Results, report.Failures)

	return report, nil
}
