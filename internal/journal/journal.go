// Package journal keeps an append-only SQLite transcript of every envelope the
// bridge decodes or sends. Nothing is read back at startup.
package journal

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"example.com/clueless_bridge/internal/protocol"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

const writeTimeout = 5 * time.Second

// entry is one journaled envelope.
type entry struct {
	ID         string
	Seq        int64
	Direction  string
	PlayerID   string
	EventName  string
	Payload    map[string]any
	RecordedAt time.Time
}

// Store journals envelopes to SQLite.
type Store struct {
	sqlDB *sql.DB
	now   func() time.Time

	mu  sync.Mutex
	seq int64
}

// Open opens the journal at path and applies migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("journal path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := migrate(sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	s := &Store{sqlDB: sqlDB, now: time.Now}
	if err := sqlDB.QueryRow(`SELECT COALESCE(MAX(seq), 0) FROM envelopes`).Scan(&s.seq); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("read sequence: %w", err)
	}
	return s, nil
}

// Close releases the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Record appends env. direction is "in" or "out".
func (s *Store) Record(direction string, env protocol.Envelope) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return s.record(ctx, direction, env)
}

func (s *Store) record(ctx context.Context, direction string, env protocol.Envelope) error {
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("journal is not open")
	}
	payload := env.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	_, err = s.sqlDB.ExecContext(ctx, `
INSERT INTO envelopes (
	id,
	seq,
	direction,
	player_id,
	event_name,
	payload,
	recorded_at
) VALUES (?, ?, ?, ?, ?, ?, ?)
`,
		uuid.NewString(),
		s.seq,
		direction,
		env.PlayerID,
		env.EventName,
		string(raw),
		s.now().UTC().UnixMilli(),
	)
	if err != nil {
		s.seq--
		return fmt.Errorf("record envelope: %w", err)
	}
	return nil
}

// entries returns up to limit entries in the order they were recorded.
func (s *Store) entries(ctx context.Context, limit int) ([]entry, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, seq, direction, player_id, event_name, payload, recorded_at
FROM envelopes
ORDER BY seq
LIMIT ?
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var out []entry
	for rows.Next() {
		var (
			e       entry
			payload string
			millis  int64
		)
		if err := rows.Scan(&e.ID, &e.Seq, &e.Direction, &e.PlayerID, &e.EventName, &payload, &millis); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
			return nil, fmt.Errorf("decode entry %s: %w", e.ID, err)
		}
		e.RecordedAt = time.UnixMilli(millis).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

const migrationTable = "schema_migrations"

func migrate(sqlDB *sql.DB) error {
	entries, err := fs.ReadDir(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	if _, err := sqlDB.Exec(`CREATE TABLE IF NOT EXISTS ` + migrationTable + ` (
    name TEXT PRIMARY KEY,
    applied_at INTEGER NOT NULL
)`); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	for _, name := range files {
		var found int
		err := sqlDB.QueryRow(`SELECT 1 FROM `+migrationTable+` WHERE name = ?`, name).Scan(&found)
		if err == nil {
			continue
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("check migration %s: %w", name, err)
		}

		content, err := fs.ReadFile(migrations, "migrations/"+name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		tx, err := sqlDB.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", name, err)
		}
		if _, err := tx.Exec(upSection(string(content))); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("exec migration %s: %w", name, err)
		}
		if _, err := tx.Exec(`INSERT INTO `+migrationTable+` (name, applied_at) VALUES (?, ?)`, name, time.Now().UTC().UnixMilli()); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", name, err)
		}
	}
	return nil
}

// upSection returns the SQL between "-- +migrate Up" and "-- +migrate Down".
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
