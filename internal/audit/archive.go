package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/mariia-hub/apiguard/internal/core"
)

// Archiver writes events evicted from the bounded store into sqlite for
// long-term retention. OnEvict only enqueues: the insert happens on a
// background worker so eviction never does I/O on the request path.
type Archiver struct {
	logger zerolog.Logger
	db     *sql.DB
	queue  chan *core.SecurityEvent
	done   chan struct{}

	started atomic.Bool
	dropped atomic.Int64
}

// NewArchiver opens (or creates) the archive database.
func NewArchiver(dsn string, logger zerolog.Logger) (*Archiver, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:apiguard-archive.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening archive db: %w", err)
	}
	a := &Archiver{
		logger: logger.With().Str("component", "audit_archiver").Logger(),
		db:     db,
		queue:  make(chan *core.SecurityEvent, 4096),
		done:   make(chan struct{}),
	}
	return a, nil
}

// Init creates the schema.
func (a *Archiver) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			ts TEXT NOT NULL,
			event_type TEXT NOT NULL,
			severity TEXT NOT NULL,
			actor TEXT,
			resource TEXT,
			result TEXT NOT NULL,
			source_ip TEXT,
			session_id TEXT,
			payload_json TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts)`,
		`CREATE INDEX IF NOT EXISTS idx_events_actor ON events(actor)`,
	}
	for _, stmt := range stmts {
		if _, err := a.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("creating archive schema: %w", err)
		}
	}
	return nil
}

// Start runs the insert worker until ctx is done.
func (a *Archiver) Start(ctx context.Context) {
	a.started.Store(true)
	go func() {
		defer close(a.done)
		for {
			select {
			case <-ctx.Done():
				a.drain()
				return
			case e := <-a.queue:
				a.insert(e)
			}
		}
	}()
}

// OnEvict implements Evicted. The queue is bounded; when it is full the
// event is dropped and counted rather than blocking the caller.
func (a *Archiver) OnEvict(event *core.SecurityEvent) {
	select {
	case a.queue <- event:
	default:
		a.dropped.Add(1)
		a.logger.Warn().Str("event_id", event.ID).Msg("archive queue full, event dropped")
	}
}

func (a *Archiver) drain() {
	for {
		select {
		case e := <-a.queue:
			a.insert(e)
		default:
			return
		}
	}
}

func (a *Archiver) insert(e *core.SecurityEvent) {
	payload, err := e.Marshal()
	if err != nil {
		a.logger.Error().Err(err).Str("event_id", e.ID).Msg("marshaling archived event")
		return
	}
	_, err = a.db.Exec(
		`INSERT OR IGNORE INTO events (id, ts, event_type, severity, actor, resource, result, source_ip, session_id, payload_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID,
		e.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z"),
		e.Type.String(),
		e.Severity.String(),
		e.Actor,
		e.Resource,
		e.Result,
		e.SourceIP,
		e.SessionID,
		string(payload),
	)
	if err != nil {
		a.logger.Error().Err(err).Str("event_id", e.ID).Msg("inserting archived event")
	}
}

// ArchivedCount returns the number of rows in the archive.
func (a *Archiver) ArchivedCount(ctx context.Context) (int64, error) {
	var n int64
	err := a.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n)
	return n, err
}

// Close waits for the worker to stop and closes the database. Safe to call
// when Start never ran, as on an Init error path.
func (a *Archiver) Close() error {
	if a.started.Load() {
		<-a.done
	}
	return a.db.Close()
}
