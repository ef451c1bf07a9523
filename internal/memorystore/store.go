// Package memorystore implements the append-only conversation memory store
// (SPEC_FULL.md §4.4): a live active-thread view bounded by an inactivity
// TTL, and an immutable audit projection that outlives it.
package memorystore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nexusgw/gateway/pkg/models"
)

// Config configures the Store.
type Config struct {
	// Path is the sqlite database file path ("file::memory:?cache=shared" for tests).
	Path string
	// TTL is the active-thread inactivity window. Default 24h.
	TTL time.Duration
	// SweepInterval controls how often expired active threads are evicted.
	// Default 5m.
	SweepInterval time.Duration
	// Logger receives sweep and audit-write diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

// Store is the concrete C4 implementation. Appends to a single thread are
// serialized by a per-thread mutex; audit-write failures are logged and
// swallowed, active-view failures propagate (SPEC_FULL.md §4.4 failures).
type Store struct {
	db     *sql.DB
	ttl    time.Duration
	logger *slog.Logger

	mu      sync.Mutex // guards threadLocks map itself
	threadLocks map[string]*sync.Mutex

	stopSweep chan struct{}
}

// Open opens (and migrates) the sqlite-backed store described by cfg.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("memorystore: path is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 5 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("memorystore: open: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite: single-writer discipline

	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("memorystore: migrate: %w", err)
	}

	s := &Store{
		db:          db,
		ttl:         cfg.TTL,
		logger:      logger,
		threadLocks: make(map[string]*sync.Mutex),
		stopSweep:   make(chan struct{}),
	}
	go s.sweepLoop(cfg.SweepInterval)
	return s, nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS active_threads (
	thread_id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	last_activity INTEGER NOT NULL,
	messages_json TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS audit_records (
	thread_id TEXT NOT NULL,
	message_index INTEGER NOT NULL,
	user_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	timestamp INTEGER NOT NULL,
	closed_at INTEGER,
	PRIMARY KEY (thread_id, message_index)
);
`

// Close stops the TTL sweeper and closes the underlying database.
func (s *Store) Close() error {
	close(s.stopSweep)
	return s.db.Close()
}

func (s *Store) lockFor(threadID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.threadLocks[threadID]
	if !ok {
		l = &sync.Mutex{}
		s.threadLocks[threadID] = l
	}
	return l
}

// Load returns the ordered transcript for a thread, empty if unknown or
// expired (testable property #6: expired threads are absent from Load while
// their audit trail remains complete).
func (s *Store) Load(ctx context.Context, threadID string) ([]models.ChatMessage, error) {
	cutoff := time.Now().Add(-s.ttl).UnixMilli()
	row := s.db.QueryRowContext(ctx,
		`SELECT messages_json FROM active_threads WHERE thread_id = ? AND last_activity >= ?`, threadID, cutoff)
	var raw string
	if err := row.Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("memorystore: load: %w", err)
	}
	var messages []models.ChatMessage
	if err := json.Unmarshal([]byte(raw), &messages); err != nil {
		return nil, fmt.Errorf("memorystore: decode messages: %w", err)
	}
	return messages, nil
}

// Append upserts the active thread, extends its message list, and inserts
// one audit record per message. Per-thread appends are serialized; readers
// see either the pre- or post-append state (testable property #5).
func (s *Store) Append(ctx context.Context, threadID, userID string, newMessages []models.ChatMessage) error {
	if len(newMessages) == 0 {
		return nil
	}
	lock := s.lockFor(threadID)
	lock.Lock()
	defer lock.Unlock()

	existing, err := s.Load(ctx, threadID)
	if err != nil {
		return err
	}
	merged := append(append([]models.ChatMessage{}, existing...), newMessages...)
	payload, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("memorystore: encode messages: %w", err)
	}

	now := time.Now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("memorystore: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO active_threads (thread_id, user_id, created_at, last_activity, messages_json)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(thread_id) DO UPDATE SET
			last_activity = excluded.last_activity,
			messages_json = excluded.messages_json
	`, threadID, userID, now.UnixMilli(), now.UnixMilli(), string(payload))
	if err != nil {
		return fmt.Errorf("memorystore: active write: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("memorystore: commit: %w", err)
	}

	// Audit inserts are best-effort: failures are logged and swallowed,
	// matching the source's "swallow dup errors" posture for the audit
	// projection (SPEC_FULL.md §4.4 failure rules).
	s.writeAudit(ctx, threadID, userID, newMessages, now)
	return nil
}

// writeAudit assigns each new message the next message_index for its
// thread, a per-thread monotonic counter (not a timestamp-derived offset)
// so two Appends landing in the same millisecond never collide on the
// (thread_id, message_index) primary key (testable property #5). Callers
// always hold the thread's lock (via Append) while this runs, so the
// read-then-insert sequence below is race-free per thread.
func (s *Store) writeAudit(ctx context.Context, threadID, userID string, messages []models.ChatMessage, now time.Time) {
	next, err := s.nextAuditIndex(ctx, threadID)
	if err != nil {
		s.logger.Warn("memorystore: audit index lookup failed, swallowed",
			"thread_id", threadID, "error", err)
		return
	}
	for i, m := range messages {
		idx := next + int64(i)
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO audit_records (thread_id, message_index, user_id, role, content, timestamp)
			VALUES (?, ?, ?, ?, ?, ?)
		`, threadID, idx, userID, string(m.Role), m.Content, now.UnixMilli())
		if err != nil {
			s.logger.Warn("memorystore: audit insert failed, swallowed",
				"thread_id", threadID, "message_index", idx, "error", err)
		}
	}
}

func (s *Store) nextAuditIndex(ctx context.Context, threadID string) (int64, error) {
	var max sql.NullInt64
	row := s.db.QueryRowContext(ctx,
		`SELECT MAX(message_index) FROM audit_records WHERE thread_id = ?`, threadID)
	if err := row.Scan(&max); err != nil {
		return 0, err
	}
	if !max.Valid {
		return 1, nil
	}
	return max.Int64 + 1, nil
}

// CloseThread removes the active thread and marks its audit records closed.
func (s *Store) CloseThread(ctx context.Context, threadID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM active_threads WHERE thread_id = ?`, threadID); err != nil {
		return fmt.Errorf("memorystore: close active: %w", err)
	}
	now := time.Now().UnixMilli()
	if _, err := s.db.ExecContext(ctx, `UPDATE audit_records SET closed_at = ? WHERE thread_id = ?`, now, threadID); err != nil {
		s.logger.Warn("memorystore: audit close-stamp failed, swallowed", "thread_id", threadID, "error", err)
	}
	return nil
}

// AuditTrail returns every audit record for a thread in append order, used
// by tests verifying property #6 (TTL eviction leaves the audit trail intact).
func (s *Store) AuditTrail(ctx context.Context, threadID string) ([]models.AuditRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT thread_id, user_id, message_index, role, content, timestamp, closed_at
		FROM audit_records WHERE thread_id = ? ORDER BY message_index ASC
	`, threadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.AuditRecord
	for rows.Next() {
		var r models.AuditRecord
		var ts int64
		var closedAt sql.NullInt64
		if err := rows.Scan(&r.ThreadID, &r.UserID, &r.MessageIndex, &r.Role, &r.Content, &ts, &closedAt); err != nil {
			return nil, err
		}
		r.Timestamp = time.UnixMilli(ts)
		if closedAt.Valid {
			t := time.UnixMilli(closedAt.Int64)
			r.ClosedAt = &t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopSweep:
			return
		case <-ticker.C:
			s.sweepExpired()
		}
	}
}

func (s *Store) sweepExpired() {
	cutoff := time.Now().Add(-s.ttl).UnixMilli()
	res, err := s.db.Exec(`DELETE FROM active_threads WHERE last_activity < ?`, cutoff)
	if err != nil {
		s.logger.Warn("memorystore: ttl sweep failed", "error", err)
		return
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.logger.Info("memorystore: ttl sweep evicted threads", "count", n)
	}
}
