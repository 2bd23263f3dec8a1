package export

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	_ "github.com/marcboeker/go-duckdb"
	"github.com/rxtech-lab/vfunds/internal/crossval"
	"github.com/rxtech-lab/vfunds/internal/logger"
	"github.com/rxtech-lab/vfunds/pkg/errors"
	"go.uber.org/zap"
)

const navFile = "nav.parquet"

// NavRow is one NAV point of one run.
type NavRow struct {
	RunID  string
	FundID string
	Window string
	Date   time.Time
	Value  float64
}

// ParquetExporter collects NAV points in an in-memory DuckDB table and copies
// them to <dir>/nav.parquet on Close.
type ParquetExporter struct {
	db         *sql.DB
	tx         *sql.Tx
	stmt       *sql.Stmt
	outputPath string
	log        *logger.Logger
}

// NewParquetExporter opens the DuckDB connection, creates the nav table and
// prepares the insert statement.
func NewParquetExporter(dir string, log *logger.Logger) (_ *ParquetExporter, err error) {
	if log == nil {
		log = logger.NewNopLogger()
	}

	e := &ParquetExporter{outputPath: filepath.Join(dir, navFile), log: log}

	e.db, err = sql.Open("duckdb", ":memory:")
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeExportFailed, "failed to open DuckDB connection", err)
	}

	_, err = e.db.Exec(`
		CREATE TABLE nav (
			run_id TEXT,
			fund_id TEXT,
			window_name TEXT,
			date DATE,
			value DOUBLE
		)
	`)
	if err != nil {
		e.db.Close()

		return nil, errors.Wrap(errors.ErrCodeExportFailed, "failed to create nav table", err)
	}

	e.tx, err = e.db.Begin()
	if err != nil {
		e.db.Close()

		return nil, errors.Wrap(errors.ErrCodeExportFailed, "failed to begin transaction", err)
	}

	e.stmt, err = e.tx.Prepare(`INSERT INTO nav (run_id, fund_id, window_name, date, value) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		_ = e.tx.Rollback()
		e.db.Close()

		return nil, errors.Wrap(errors.ErrCodeExportFailed, "failed to prepare statement", err)
	}

	return e, nil
}

// Write inserts the NAV points of a result. Failures are skipped.
func (e *ParquetExporter) Write(o crossval.Outcome) error {
	if o.Err != nil {
		return nil
	}

	if e.stmt == nil {
		return errors.New(errors.ErrCodeExportFailed, "parquet exporter is closed")
	}

	res := o.Result
	window := res.Window.Name()

	for _, p := range res.NAV {
		if _, err := e.stmt.Exec(res.RunID, res.FundID, window, p.Date, p.Value); err != nil {
			return errors.Wrapf(errors.ErrCodeExportFailed, err, "failed to insert nav of %s", res.FundID)
		}
	}

	return nil
}

// Close commits the transaction, exports the table and releases the connection.
func (e *ParquetExporter) Close() error {
	if e.db == nil {
		return nil
	}

	defer func() {
		e.db.Close()
		e.db = nil
	}()

	if e.stmt != nil {
		e.stmt.Close()
		e.stmt = nil
	}

	if err := e.tx.Commit(); err != nil {
		_ = e.tx.Rollback()

		return errors.Wrap(errors.ErrCodeExportFailed, "failed to commit transaction", err)
	}

	_, err := e.db.Exec(fmt.Sprintf(`COPY nav TO '%s' (FORMAT PARQUET)`, quote(e.outputPath)))
	if err != nil {
		return errors.Wrap(errors.ErrCodeExportFailed, "failed to export to Parquet", err)
	}

	e.log.Info("exported nav", zap.String("path", e.outputPath))

	return nil
}

// LoadNAV reads nav.parquet from dir, optionally restricted to some funds,
// ordered by fund, window and date.
func LoadNAV(dir string, fundIDs ...string) ([]NavRow, error) {
	db, err := sql.Open("duckdb", ":memory:")
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeExportFailed, "failed to open DuckDB connection", err)
	}
	defer db.Close()

	sq := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question)

	builder := sq.
		Select("run_id", "fund_id", "window_name", "date", "value").
		From(fmt.Sprintf("read_parquet('%s')", quote(filepath.Join(dir, navFile)))).
		OrderBy("fund_id", "window_name", "date")

	if len(fundIDs) > 0 {
		builder = builder.Where(squirrel.Eq{"fund_id": fundIDs})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeExportFailed, "failed to build SQL query", err)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeExportFailed, "failed to query nav", err)
	}
	defer rows.Close()

	var out []NavRow

	for rows.Next() {
		var row NavRow
		if err := rows.Scan(&row.RunID, &row.FundID, &row.Window, &row.Date, &row.Value); err != nil {
			return nil, errors.Wrap(errors.ErrCodeExportFailed, "failed to scan nav row", err)
		}

		out = append(out, row)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeExportFailed, "error iterating nav rows", err)
	}

	return out, nil
}

func quote(path string) string {
	return strings.ReplaceAll(path, "'", "''")
}
