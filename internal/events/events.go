// Package events records learner progress events for analytics.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const dbTimeout = 5 * time.Second

// Event types written by the player.
const (
	LessonOpened         = "lesson_opened"
	StepStarted          = "step_started"
	StepCompleted        = "step_completed"
	StepCompletionFailed = "step_completion_failed"
	LessonCompleted      = "lesson_completed"
)

// Event is one progress event.
type Event struct {
	SessionID  string
	LearnerKey string
	LessonID   int64
	StepID     int64
	EventType  string
	Data       map[string]any
	CreatedAt  time.Time
}

// Logger defines event logging behavior.
type Logger interface {
	LogEvent(event Event) error
}

// NopLogger ignores all events.
type NopLogger struct{}

func (NopLogger) LogEvent(Event) error {
	return nil
}

// MemoryLogger stores events in memory for tests.
type MemoryLogger struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryLogger() *MemoryLogger {
	return &MemoryLogger{
		events: []Event{},
	}
}

func (l *MemoryLogger) LogEvent(event Event) error {
	if event.EventType == "" {
		return fmt.Errorf("event_type is required")
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	l.mu.Lock()
	l.events = append(l.events, event)
	l.mu.Unlock()

	return nil
}

func (l *MemoryLogger) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event{}, l.events...)
}

// Count returns how many events of the given type were logged.
func (l *MemoryLogger) Count(eventType string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e.EventType == eventType {
			n++
		}
	}
	return n
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS player_events (
	id          BIGSERIAL PRIMARY KEY,
	session_id  TEXT NOT NULL,
	learner_key TEXT NOT NULL DEFAULT '',
	lesson_id   BIGINT NOT NULL DEFAULT 0,
	step_id     BIGINT NOT NULL DEFAULT 0,
	event_type  TEXT NOT NULL,
	data        JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS player_events_lesson_idx ON player_events (learner_key, lesson_id, created_at);
`

// PostgresLogger inserts events into the player_events table.
type PostgresLogger struct {
	pool *pgxpool.Pool
}

func NewPostgresLogger(pool *pgxpool.Pool) *PostgresLogger {
	return &PostgresLogger{pool: pool}
}

// EnsureSchema creates the player_events table if it does not exist.
func (l *PostgresLogger) EnsureSchema(ctx context.Context) error {
	if l == nil || l.pool == nil {
		return fmt.Errorf("event logger pool is nil")
	}
	if _, err := l.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create player_events: %w", err)
	}
	return nil
}

func (l *PostgresLogger) LogEvent(event Event) error {
	if l == nil || l.pool == nil {
		return fmt.Errorf("event logger pool is nil")
	}
	if event.EventType == "" {
		return fmt.Errorf("event_type is required")
	}
	if event.SessionID == "" {
		return fmt.Errorf("session_id is required")
	}

	payload := event.Data
	if payload == nil {
		payload = map[string]any{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}

	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
	defer cancel()

	_, err = l.pool.Exec(ctx,
		`INSERT INTO player_events (session_id, learner_key, lesson_id, step_id, event_type, data, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7)`,
		event.SessionID,
		event.LearnerKey,
		event.LessonID,
		event.StepID,
		event.EventType,
		string(data),
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	slog.Debug("event logged",
		"type", event.EventType,
		"session_id", event.SessionID,
		"lesson_id", event.LessonID,
		"step_id", event.StepID,
	)
	return nil
}

// LessonEvents returns the events recorded for a learner's lesson, oldest first.
func (l *PostgresLogger) LessonEvents(ctx context.Context, learnerKey string, lessonID int64) ([]Event, error) {
	if l == nil || l.pool == nil {
		return nil, fmt.Errorf("event logger pool is nil")
	}

	rows, err := l.pool.Query(ctx,
		`SELECT session_id, learner_key, lesson_id, step_id, event_type, data, created_at
		 FROM player_events
		 WHERE learner_key = $1 AND lesson_id = $2
		 ORDER BY created_at, id`,
		learnerKey, lessonID,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			e   Event
			raw []byte
		)
		if err := rows.Scan(&e.SessionID, &e.LearnerKey, &e.LessonID, &e.StepID, &e.EventType, &raw, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &e.Data); err != nil {
				return nil, fmt.Errorf("decode event data: %w", err)
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}
