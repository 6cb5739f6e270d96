package recordstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	_ "github.com/mattn/go-sqlite3"
	"github.com/maxpert/credmirror/notify"
	"github.com/maxpert/credmirror/record"
	"github.com/rs/zerolog/log"
)

const recordsTable = "records"

const recordsSchema = `
CREATE TABLE IF NOT EXISTS records (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	origin          TEXT NOT NULL,
	form_target     TEXT NOT NULL DEFAULT '',
	realm           TEXT NOT NULL DEFAULT '',
	principal       TEXT NOT NULL DEFAULT '',
	secret          TEXT NOT NULL DEFAULT '',
	principal_field TEXT NOT NULL DEFAULT '',
	secret_field    TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_records_key ON records (origin, form_target, realm);
`

var recordColumns = []interface{}{
	"id", "origin", "form_target", "realm", "principal", "secret", "principal_field", "secret_field",
}

// SQLiteStore is a Store backed by a SQLite database file.
type SQLiteStore struct {
	db      *sql.DB
	dialect goqu.DialectWrapper
	hub     *notify.Hub

	// writeMu orders commits and their notifications.
	writeMu sync.Mutex
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the record database at path.
func OpenSQLite(path string, busyTimeoutMS int, hub *notify.Hub) (*SQLiteStore, error) {
	if hub == nil {
		hub = notify.NewHub(0)
	}
	if busyTimeoutMS <= 0 {
		busyTimeoutMS = 5000
	}

	dsn := path
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	dsn += fmt.Sprintf("%s_busy_timeout=%d&_journal_mode=WAL", sep, busyTimeoutMS)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open record store at %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(recordsSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create record schema: %w", err)
	}

	log.Debug().Str("path", path).Msg("Record store opened")

	return &SQLiteStore{
		db:      db,
		dialect: goqu.Dialect("sqlite3"),
		hub:     hub,
	}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Find(ctx context.Context, criteria record.Criteria) ([]record.Record, error) {
	rows, err := s.query(ctx, s.dialect.From(recordsTable).Where(keyExpr(criteria)))
	if err != nil {
		return nil, err
	}
	return recordsOf(rows), nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]record.Record, error) {
	rows, err := s.query(ctx, s.dialect.From(recordsTable))
	if err != nil {
		return nil, err
	}
	return recordsOf(rows), nil
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	query, args, err := s.dialect.From(recordsTable).Select(goqu.COUNT(goqu.Star())).Prepared(true).ToSQL()
	if err != nil {
		return 0, err
	}

	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) Add(ctx context.Context, r record.Record) error {
	if err := r.Validate(); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.locate(ctx, r); err == nil {
		return fmt.Errorf("%w: %s", ErrDuplicate, r.Origin)
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	query, args, err := s.dialect.Insert(recordsTable).Rows(columnsOf(r)).Prepared(true).ToSQL()
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to add record for %s: %w", r.Origin, err)
	}

	s.hub.Publish(record.Added(r))
	return nil
}

func (s *SQLiteStore) Modify(ctx context.Context, existing, updated record.Record) error {
	if err := updated.Validate(); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	rowID, err := s.locate(ctx, existing)
	if err != nil {
		return fmt.Errorf("%w: %s", err, existing.Origin)
	}

	query, args, err := s.dialect.Update(recordsTable).
		Set(columnsOf(updated)).
		Where(goqu.Ex{"id": rowID}).
		Prepared(true).
		ToSQL()
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to modify record for %s: %w", existing.Origin, err)
	}

	s.hub.Publish(record.Modified(existing, updated))
	return nil
}

func (s *SQLiteStore) Remove(ctx context.Context, r record.Record) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	rowID, err := s.locate(ctx, r)
	if err != nil {
		return fmt.Errorf("%w: %s", err, r.Origin)
	}

	query, args, err := s.dialect.Delete(recordsTable).Where(goqu.Ex{"id": rowID}).Prepared(true).ToSQL()
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to remove record for %s: %w", r.Origin, err)
	}

	s.hub.Publish(record.Removed(r))
	return nil
}

func (s *SQLiteStore) Subscribe(filter notify.Filter) (<-chan record.Notification, func()) {
	return s.hub.Subscribe(filter)
}

// storedRecord pairs a record with its row id.
type storedRecord struct {
	rowID int64
	rec   record.Record
}

// locate returns the row id of the first record equal to r, or ErrNotFound.
func (s *SQLiteStore) locate(ctx context.Context, r record.Record) (int64, error) {
	rows, err := s.query(ctx, s.dialect.From(recordsTable).Where(keyExpr(r.Key())))
	if err != nil {
		return 0, err
	}
	for _, row := range rows {
		if record.Matches(row.rec, r) {
			return row.rowID, nil
		}
	}
	return 0, ErrNotFound
}

func (s *SQLiteStore) query(ctx context.Context, ds *goqu.SelectDataset) ([]storedRecord, error) {
	query, args, err := ds.Select(recordColumns...).Order(goqu.I("id").Asc()).Prepared(true).ToSQL()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var out []storedRecord
	for rows.Next() {
		var row storedRecord
		if err := rows.Scan(
			&row.rowID,
			&row.rec.Origin,
			&row.rec.FormTarget,
			&row.rec.Realm,
			&row.rec.Principal,
			&row.rec.Secret,
			&row.rec.PrincipalField,
			&row.rec.SecretField,
		); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func keyExpr(c record.Criteria) goqu.Ex {
	return goqu.Ex{
		"origin":      c.Origin,
		"form_target": c.FormTarget,
		"realm":       c.Realm,
	}
}

func columnsOf(r record.Record) goqu.Record {
	return goqu.Record{
		"origin":          r.Origin,
		"form_target":     r.FormTarget,
		"realm":           r.Realm,
		"principal":       r.Principal,
		"secret":          r.Secret,
		"principal_field": r.PrincipalField,
		"secret_field":    r.SecretField,
	}
}

func recordsOf(rows []storedRecord) []record.Record {
	out := make([]record.Record, len(rows))
	for i, row := range rows {
		out[i] = row.rec
	}
	return out
}
