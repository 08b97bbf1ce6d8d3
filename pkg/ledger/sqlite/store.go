// Package sqlite implements the ledger on a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/chris/tax-credit-settlement/pkg/ledger"
	"github.com/chris/tax-credit-settlement/pkg/ledger/sqlite/migrations"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Store is an append-only ledger backed by SQLite.
type Store struct {
	sqlDB *sql.DB
}

// Open opens the ledger file at path and applies migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("ledger path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(FULL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close releases the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Make sure we conform to the interface
var _ ledger.Recorder = (*Store)(nil)

// Append inserts rec unless its idempotency key is already recorded, then returns
// the receipt of whichever row holds the key.
func (s *Store) Append(ctx context.Context, rec ledger.Record) (ledger.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Receipt{}, err
	}
	if err := rec.Validate(); err != nil {
		return ledger.Receipt{}, err
	}
	if rec.Id == "" {
		rec.Id = uuid.NewString()
	}
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return ledger.Receipt{}, fmt.Errorf("%w: marshal payload: %v", ledger.ErrInvalidRecord, err)
	}

	_, err = s.sqlDB.ExecContext(ctx, `
INSERT INTO ledger_records (
	id,
	idempotency_key,
	aggregate_id,
	type,
	payload,
	recorded_at
) VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT DO NOTHING
`,
		rec.Id,
		rec.IdempotencyKey,
		rec.AggregateId,
		string(rec.Type),
		string(payload),
		rec.Timestamp.UTC().UnixNano(),
	)
	if err != nil {
		return ledger.Receipt{}, fmt.Errorf("append record: %w", err)
	}

	var (
		id  string
		seq int64
	)
	err = s.sqlDB.QueryRowContext(ctx,
		`SELECT id, seq FROM ledger_records WHERE idempotency_key = ?`, rec.IdempotencyKey,
	).Scan(&id, &seq)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.Receipt{}, fmt.Errorf("%w: record id %s is taken by another key", ledger.ErrInvalidRecord, rec.Id)
		}
		return ledger.Receipt{}, fmt.Errorf("read appended record: %w", err)
	}
	return ledger.Receipt{Id: id, Protocol: protocol(seq)}, nil
}

// Get reads one record by id.
func (s *Store) Get(ctx context.Context, id string) (ledger.Record, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Record{}, err
	}
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT seq, id, idempotency_key, aggregate_id, type, payload, recorded_at
FROM ledger_records
WHERE id = ?
`, id)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.Record{}, ledger.ErrNotFound
		}
		return ledger.Record{}, fmt.Errorf("get record: %w", err)
	}
	return rec, nil
}

// History lists an aggregate's records in append order.
func (s *Store) History(ctx context.Context, aggregateID string) ([]ledger.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT seq, id, idempotency_key, aggregate_id, type, payload, recorded_at
FROM ledger_records
WHERE aggregate_id = ?
ORDER BY seq
`, aggregateID)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var out []ledger.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (ledger.Record, error) {
	var (
		seq        int64
		rec        ledger.Record
		recordType string
		payload    string
		recordedAt int64
	)
	if err := row.Scan(&seq, &rec.Id, &rec.IdempotencyKey, &rec.AggregateId, &recordType, &payload, &recordedAt); err != nil {
		return ledger.Record{}, err
	}
	rec.Type = ledger.RecordType(recordType)
	rec.Timestamp = time.Unix(0, recordedAt).UTC()
	rec.Protocol = protocol(seq)
	if payload != "" && payload != "null" {
		if err := json.Unmarshal([]byte(payload), &rec.Payload); err != nil {
			return ledger.Record{}, fmt.Errorf("decode payload: %w", err)
		}
	}
	return rec, nil
}

func protocol(seq int64) string {
	return fmt.Sprintf("sqlite-%d", seq)
}

// applyMigrations runs each embedded migration at most once.
func applyMigrations(sqlDB *sql.DB, migrationFS fs.FS) error {
	if _, err := sqlDB.Exec(`
CREATE TABLE IF NOT EXISTS schema_migrations (
    name TEXT PRIMARY KEY,
    applied_at INTEGER NOT NULL
);
`); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	entries, err := fs.ReadDir(migrationFS, ".")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	for _, file := range files {
		var applied int
		if err := sqlDB.QueryRow(`SELECT COUNT(1) FROM schema_migrations WHERE name = ?`, file).Scan(&applied); err != nil {
			return fmt.Errorf("check migration %s: %w", file, err)
		}
		if applied > 0 {
			continue
		}

		content, err := fs.ReadFile(migrationFS, file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}

		tx, err := sqlDB.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", file, err)
		}
		if _, err := tx.Exec(upSection(string(content))); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("exec migration %s: %w", file, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (name, applied_at) VALUES (?, ?)`, file, time.Now().UTC().UnixMilli()); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", file, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", file, err)
		}
	}
	return nil
}

// upSection returns the SQL between the Up and Down markers.
func upSection(content string) string {
	const up, down = "-- +migrate Up", "-- +migrate Down"
	start := strings.Index(content, up)
	if start == -1 {
		return content
	}
	content = content[start+len(up):]
	if end := strings.Index(content, down); end != -1 {
		content = content[:end]
	}
	return content
}
