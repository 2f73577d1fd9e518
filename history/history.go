// Package history keeps a SQLite record of every benchmark target run.
package history

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/weiihann/benchrun/target"
)

//go:embed schema.sql
var schema string

// ErrNotFound is returned when no run has the requested ID.
var ErrNotFound = errors.New("run not found")

// Outcome is how a target run ended.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
)

// timeLayout is fixed width so that stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Record is one stored target run.
type Record struct {
	ID         uuid.UUID
	Target     string
	Executable string
	StartedAt  time.Time
	FinishedAt time.Time
	Outcome    Outcome

	// ErrorKind, ExitCode and Message are set for failed runs only.
	ErrorKind string
	ExitCode  int
	Message   string

	// Benchmarks is the number of benchmarks the target reported.
	Benchmarks int
}

// Duration returns how long the run took.
func (r *Record) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// NewRecord describes a finished run of t that started at startedAt and
// returned err.
func NewRecord(t target.Target, startedAt time.Time, err error) *Record {
	rec := &Record{
		ID:         uuid.New(),
		Target:     t.Name,
		Executable: t.Executable,
		StartedAt:  startedAt,
		FinishedAt: time.Now(),
		Outcome:    OutcomeSucceeded,
	}
	if err == nil {
		return rec
	}

	rec.Outcome = OutcomeFailed
	rec.Message = err.Error()

	var targetErr *target.Error
	if errors.As(err, &targetErr) {
		rec.ErrorKind = targetErr.Kind.String()
		if targetErr.Kind == target.KindTargetFailed {
			rec.ExitCode = targetErr.ExitCode
		}
	} else {
		rec.ErrorKind = "other"
	}

	return rec
}

// Store persists Records.
type Store struct {
	db *sql.DB
}

// Open opens the database at path, creating it and its directory if needed.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("execute schema: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save stores rec, replacing any earlier record with the same ID.
func (s *Store) Save(ctx context.Context, rec *Record) error {
	query := `
		INSERT INTO target_runs (
			id, target, executable, started_at, finished_at,
			outcome, error_kind, exit_code, message, benchmarks
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			finished_at = excluded.finished_at,
			outcome = excluded.outcome,
			error_kind = excluded.error_kind,
			exit_code = excluded.exit_code,
			message = excluded.message,
			benchmarks = excluded.benchmarks
	`

	var errorKind, message *string
	var exitCode *int
	if rec.Outcome == OutcomeFailed {
		errorKind = &rec.ErrorKind
		message = &rec.Message
		exitCode = &rec.ExitCode
	}

	_, err := s.db.ExecContext(ctx, query,
		rec.ID.String(),
		rec.Target,
		rec.Executable,
		formatTime(rec.StartedAt),
		formatTime(rec.FinishedAt),
		string(rec.Outcome),
		errorKind,
		exitCode,
		message,
		rec.Benchmarks,
	)
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}

	return nil
}

const selectColumns = `
	SELECT id, target, executable, started_at, finished_at,
	       outcome, error_kind, exit_code, message, benchmarks
	FROM target_runs
`

// FindByID returns the record with the given ID.
func (s *Store) FindByID(ctx context.Context, id uuid.UUID) (*Record, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+"WHERE id = ?", id.String())

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return rec, nil
}

// List returns up to limit records, newest first. A limit of zero or less
// returns every record.
func (s *Store) List(ctx context.Context, limit int) ([]*Record, error) {
	query := selectColumns + "ORDER BY started_at DESC, id"
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}

	return records, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var (
		rec                   Record
		id, started, finished string
		outcome               string
		errorKind, message    sql.NullString
		exitCode              sql.NullInt64
	)

	err := row.Scan(&id, &rec.Target, &rec.Executable, &started, &finished,
		&outcome, &errorKind, &exitCode, &message, &rec.Benchmarks)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}

	if rec.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse id: %w", err)
	}
	if rec.StartedAt, err = time.Parse(timeLayout, started); err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	if rec.FinishedAt, err = time.Parse(timeLayout, finished); err != nil {
		return nil, fmt.Errorf("parse finished_at: %w", err)
	}

	rec.Outcome = Outcome(outcome)
	rec.ErrorKind = errorKind.String
	rec.Message = message.String
	rec.ExitCode = int(exitCode.Int64)

	return &rec, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
