// Package store persists the companion server's state: plane records with
// their recorded positions in SQLite, and small documents such as shared
// settings as JSON files.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/vfrnav/vfrnav/pkg/logger"
	"github.com/vfrnav/vfrnav/pkg/protocol"
)

var ErrNotFound = errors.New("record not found")

// RecordStore keeps flight recordings. At most one record is active at a
// time; new plane positions are appended to it.
type RecordStore struct {
	db   *sql.DB
	path string
	mu   sync.RWMutex
	now  func() time.Time
}

// OpenRecords opens (creating if needed) the SQLite database at path.
// ":memory:" gives a private in-memory database.
func OpenRecords(path string) (*RecordStore, error) {
	dsn := "file::memory:?_foreign_keys=ON"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create records db dir: %w", err)
		}
		dsn = path + "?_journal_mode=WAL&_foreign_keys=ON"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open records db: %w", err)
	}
	// one connection keeps an in-memory database alive and serializes writes
	db.SetMaxOpenConns(1)

	s := &RecordStore{db: db, path: path, now: time.Now}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init records schema: %w", err)
	}
	logger.InfoCF("store", "Record store opened", map[string]interface{}{
		"db_path": path,
	})
	return s, nil
}

func (s *RecordStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS plane_records (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		date INTEGER NOT NULL,
		active INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS plane_positions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		record_id TEXT NOT NULL,
		lat REAL NOT NULL,
		lon REAL NOT NULL,
		altitude REAL NOT NULL,
		heading REAL NOT NULL,
		speed REAL NOT NULL DEFAULT 0,
		date INTEGER NOT NULL,
		FOREIGN KEY (record_id) REFERENCES plane_records(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_positions_record ON plane_positions(record_id, id);
	CREATE INDEX IF NOT EXISTS idx_records_active ON plane_records(active);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *RecordStore) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *RecordStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// List returns all records, newest first.
func (s *RecordStore) List(ctx context.Context) ([]protocol.PlaneRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, date, active FROM plane_records ORDER BY date DESC, id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []protocol.PlaneRecord{}
	for rows.Next() {
		var r protocol.PlaneRecord
		if err := rows.Scan(&r.ID, &r.Name, &r.Date, &r.Active); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Get returns one record.
func (s *RecordStore) Get(ctx context.Context, id string) (protocol.PlaneRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var r protocol.PlaneRecord
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, date, active FROM plane_records WHERE id = ?", id,
	).Scan(&r.ID, &r.Name, &r.Date, &r.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return r, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r, err
}

// Create starts a new record named name and makes it active.
func (s *RecordStore) Create(ctx context.Context, name string) (protocol.PlaneRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := protocol.PlaneRecord{
		ID:     uuid.NewString(),
		Name:   name,
		Date:   s.now().UnixMilli(),
		Active: true,
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return r, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "UPDATE plane_records SET active = 0"); err != nil {
		return r, err
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO plane_records (id, name, date, active) VALUES (?, ?, ?, 1)",
		r.ID, r.Name, r.Date,
	); err != nil {
		return r, err
	}
	if err := tx.Commit(); err != nil {
		return r, err
	}

	logger.DebugCF("store", "Record created", map[string]interface{}{
		"id":   r.ID,
		"name": r.Name,
	})
	return r, nil
}

// Rename changes a record's display name.
func (s *RecordStore) Rename(ctx context.Context, id, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "UPDATE plane_records SET name = ? WHERE id = ?", name, id)
	if err != nil {
		return err
	}
	return expectRow(res, id)
}

// Remove deletes a record and its positions.
func (s *RecordStore) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM plane_positions WHERE record_id = ?", id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM plane_records WHERE id = ?", id)
	if err != nil {
		return err
	}
	if err := expectRow(res, id); err != nil {
		return err
	}
	return tx.Commit()
}

// SetActive makes id the active record. An empty id deactivates all.
func (s *RecordStore) SetActive(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "UPDATE plane_records SET active = 0"); err != nil {
		return err
	}
	if id != "" {
		res, err := tx.ExecContext(ctx, "UPDATE plane_records SET active = 1 WHERE id = ?", id)
		if err != nil {
			return err
		}
		if err := expectRow(res, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Active returns the active record id, or "" when none is.
func (s *RecordStore) Active(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var id string
	err := s.db.QueryRowContext(ctx, "SELECT id FROM plane_records WHERE active = 1 LIMIT 1").Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return id, err
}

// AppendPosition adds p to record id.
func (s *RecordStore) AppendPosition(ctx context.Context, id string, p protocol.PlanePos) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO plane_positions (record_id, lat, lon, altitude, heading, speed, date)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, p.Lat, p.Lon, p.Altitude, p.Heading, p.Speed, p.Date,
	)
	if err != nil {
		return fmt.Errorf("append position to %s: %w", id, err)
	}
	return nil
}

// Positions returns the positions of record id in insertion order.
func (s *RecordStore) Positions(ctx context.Context, id string) ([]protocol.PlanePos, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT lat, lon, altitude, heading, speed, date
		FROM plane_positions WHERE record_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []protocol.PlanePos{}
	for rows.Next() {
		var p protocol.PlanePos
		if err := rows.Scan(&p.Lat, &p.Lon, &p.Altitude, &p.Heading, &p.Speed, &p.Date); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func expectRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}
