package index

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"lightmon/internal/index/migrations"
	"lightmon/internal/lightmon"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// MemoryPath opens a private in-memory index.
const MemoryPath = ":memory:"

// SQLiteIndex implements lightmon.Index and lightmon.OperationLog on an
// embedded SQLite file. The file runs in WAL mode so the sync process can
// write while other processes read it.
type SQLiteIndex struct {
	db    *sql.DB
	path  string
	clock lightmon.Clock

	mu        sync.Mutex
	watermark time.Time
}

var (
	_ lightmon.Index        = (*SQLiteIndex)(nil)
	_ lightmon.OperationLog = (*SQLiteIndex)(nil)
)

// NewSQLiteIndex opens (creating if needed) and migrates the index at path.
// path can be a file path or MemoryPath. Any failure to reach a usable
// index is reported as lightmon.ErrBackingStoreUnavailable.
func NewSQLiteIndex(path string, clock lightmon.Clock) (*SQLiteIndex, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", lightmon.ErrBackingStoreUnavailable, err)
	}

	if err := migrations.Up(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", lightmon.ErrBackingStoreUnavailable, err)
	}

	return &SQLiteIndex{
		db:        db,
		path:      path,
		clock:     clock,
		watermark: clock.Now(),
	}, nil
}

// OpenConnection opens a SQLite connection configured for concurrent
// access: WAL journal, a busy timeout instead of immediate SQLITE_BUSY,
// NORMAL synchronous and foreign keys. In-memory databases are limited to
// a single connection since each connection would see its own database.
func OpenConnection(path string) (*sql.DB, error) {
	dsn := path + "?_busy_timeout=10000&_foreign_keys=on"
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("creating index directory: %w", err)
		}
		dsn += "&_journal_mode=WAL&_synchronous=NORMAL"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening index: %w", err)
	}
	if path == MemoryPath {
		db.SetMaxOpenConns(1)
	}

	// sql.Open is lazy; surface permission and lock errors now.
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to index: %w", err)
	}
	return db, nil
}

// Path returns the index location as given to NewSQLiteIndex.
func (s *SQLiteIndex) Path() string { return s.path }

// SchemaStatus reports whether the index schema matches this binary.
func (s *SQLiteIndex) SchemaStatus() error {
	return migrations.Status(s.db)
}

func (s *SQLiteIndex) currentWatermark() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watermark
}

// Watermark returns the lastseen value subsequent upserts will record.
func (s *SQLiteIndex) Watermark() time.Time {
	return s.currentWatermark()
}

func (s *SQLiteIndex) UpdateCurrentLastseen(timestamp string) error {
	t := s.clock.Now()
	if timestamp != "" {
		parsed, err := lightmon.ParseDate(timestamp)
		if err != nil {
			return fmt.Errorf("%w: %q: %v", lightmon.ErrInvalidTimestamp, timestamp, err)
		}
		t = parsed
	}

	s.mu.Lock()
	s.watermark = t
	s.mu.Unlock()
	return nil
}

// dateUnix normalizes a report date to UTC unix nanoseconds. Unparsable
// dates are stored as NULL and never match a date range.
func dateUnix(date string) sql.NullInt64 {
	t, err := lightmon.ParseDate(date)
	if err != nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func (s *SQLiteIndex) Upsert(report *lightmon.Report) error {
	_, err := s.db.Exec(`
		INSERT INTO reports (id, url, name, preset, date, date_unix, path, lastseen)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET lastseen = excluded.lastseen, date_unix = excluded.date_unix`,
		report.ID, report.URL, report.Name, report.Preset, report.Date, dateUnix(report.Date), report.Path,
		s.currentWatermark().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("upserting report: %w", err)
	}
	return nil
}

func (s *SQLiteIndex) Delete(report *lightmon.Report) error {
	if _, err := s.db.Exec(`DELETE FROM reports WHERE id = ?`, report.ID); err != nil {
		return fmt.Errorf("deleting report: %w", err)
	}
	return nil
}

func (s *SQLiteIndex) DeleteByMeta(name, preset, date string) error {
	if name == "" || preset == "" || date == "" {
		return fmt.Errorf("%w: required name, preset, date; given name=%q preset=%q date=%q",
			lightmon.ErrMissingArgument, name, preset, date)
	}
	_, err := s.db.Exec(`DELETE FROM reports WHERE name = ? AND preset = ? AND date = ?`, name, preset, date)
	if err != nil {
		return fmt.Errorf("deleting report by meta: %w", err)
	}
	return nil
}

const reportColumns = `id, url, name, preset, date, path`

func (s *SQLiteIndex) Get(id string) (*lightmon.Report, error) {
	row := s.db.QueryRow(`SELECT `+reportColumns+` FROM reports WHERE id = ?`, id)

	var r lightmon.Report
	err := row.Scan(&r.ID, &r.URL, &r.Name, &r.Preset, &r.Date, &r.Path)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("getting report: %w", err)
	}
	return &r, nil
}

func (s *SQLiteIndex) All() ([]*lightmon.Report, error) {
	return s.queryReports(`SELECT ` + reportColumns + ` FROM reports ORDER BY date, id`)
}

func (s *SQLiteIndex) UniqueURLs() ([]string, error) {
	return s.queryStrings(`SELECT DISTINCT url FROM reports ORDER BY url`)
}

func (s *SQLiteIndex) PresetsForURL(url string) ([]string, error) {
	return s.queryStrings(`SELECT DISTINCT preset FROM reports WHERE url = ? ORDER BY preset`, url)
}

func (s *SQLiteIndex) DatesForURLAndPreset(url, preset string) ([]lightmon.DateRef, error) {
	rows, err := s.db.Query(`
		SELECT date, id FROM reports
		WHERE url = ? AND preset = ?
		ORDER BY date DESC, id`, url, preset)
	if err != nil {
		return nil, fmt.Errorf("querying dates: %w", err)
	}
	defer rows.Close()

	refs := []lightmon.DateRef{}
	for rows.Next() {
		var ref lightmon.DateRef
		if err := rows.Scan(&ref.Date, &ref.ID); err != nil {
			return nil, fmt.Errorf("scanning date: %w", err)
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

func (s *SQLiteIndex) YoungerThan(date time.Time) ([]*lightmon.Report, error) {
	return s.queryReports(`SELECT `+reportColumns+` FROM reports WHERE date_unix > ? ORDER BY date_unix, id`,
		date.UnixNano())
}

func (s *SQLiteIndex) OlderThan(date time.Time) ([]*lightmon.Report, error) {
	return s.queryReports(`SELECT `+reportColumns+` FROM reports WHERE date_unix < ? ORDER BY date_unix, id`,
		date.UnixNano())
}

func (s *SQLiteIndex) ByURLPresetDate(url, preset, date string) ([]*lightmon.Report, error) {
	return s.queryReports(`SELECT `+reportColumns+` FROM reports
		WHERE url = ? AND preset = ? AND date = ? ORDER BY id`, url, preset, date)
}

func (s *SQLiteIndex) Outdated() ([]*lightmon.Report, error) {
	return s.queryReports(`SELECT `+reportColumns+` FROM reports WHERE lastseen < ? ORDER BY date, id`,
		s.currentWatermark().UnixNano())
}

// Count returns the number of indexed reports.
func (s *SQLiteIndex) Count() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM reports`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting reports: %w", err)
	}
	return n, nil
}

func (s *SQLiteIndex) Close() error {
	return s.db.Close()
}

func (s *SQLiteIndex) queryReports(query string, args ...any) ([]*lightmon.Report, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying reports: %w", err)
	}
	defer rows.Close()

	reports := []*lightmon.Report{}
	for rows.Next() {
		var r lightmon.Report
		if err := rows.Scan(&r.ID, &r.URL, &r.Name, &r.Preset, &r.Date, &r.Path); err != nil {
			return nil, fmt.Errorf("scanning report: %w", err)
		}
		reports = append(reports, &r)
	}
	return reports, rows.Err()
}

func (s *SQLiteIndex) queryStrings(query string, args ...any) ([]string, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying: %w", err)
	}
	defer rows.Close()

	values := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scanning: %w", err)
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

// Operation log

func (s *SQLiteIndex) CreateOperation(operation, parameters string) (*lightmon.Operation, error) {
	startedAt := s.clock.Now()
	res, err := s.db.Exec(`
		INSERT INTO operations (operation, parameters, started_at, status)
		VALUES (?, ?, ?, ?)`, operation, parameters, startedAt.UnixNano(), "started")
	if err != nil {
		return nil, fmt.Errorf("creating operation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading operation id: %w", err)
	}
	return &lightmon.Operation{
		ID:         id,
		Operation:  operation,
		Parameters: parameters,
		StartedAt:  startedAt,
		Status:     "started",
	}, nil
}

func (s *SQLiteIndex) FinishOperation(id int64, status string) error {
	_, err := s.db.Exec(`UPDATE operations SET finished_at = ?, status = ? WHERE id = ?`,
		s.clock.Now().UnixNano(), status, id)
	if err != nil {
		return fmt.Errorf("finishing operation: %w", err)
	}
	return nil
}

func (s *SQLiteIndex) ListOperations(limit int) ([]*lightmon.Operation, error) {
	rows, err := s.db.Query(`
		SELECT id, operation, parameters, started_at, finished_at, status
		FROM operations ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	defer rows.Close()

	ops := []*lightmon.Operation{}
	for rows.Next() {
		var (
			op       lightmon.Operation
			started  int64
			finished sql.NullInt64
		)
		if err := rows.Scan(&op.ID, &op.Operation, &op.Parameters, &started, &finished, &op.Status); err != nil {
			return nil, fmt.Errorf("scanning operation: %w", err)
		}
		op.StartedAt = time.Unix(0, started).UTC()
		if finished.Valid {
			t := time.Unix(0, finished.Int64).UTC()
			op.FinishedAt = &t
		}
		ops = append(ops, &op)
	}
	return ops, rows.Err()
}
