// Package storage persists lessons and archives terminal tasks in
// PostgreSQL. The core never reads the archive back; retention is an
// external concern.
package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/lib/pq"

	"github.com/jordanhubbard/spindle/pkg/models"
)

// rebind converts ? placeholders to $1, $2, ... for PostgreSQL.
func rebind(query string) string {
	n := 1
	out := strings.Builder{}
	for _, ch := range query {
		if ch == '?' {
			out.WriteString(fmt.Sprintf("$%d", n))
			n++
		} else {
			out.WriteRune(ch)
		}
	}
	return out.String()
}

// Postgres holds the database connection.
type Postgres struct {
	db *sql.DB
}

// NewPostgres opens a PostgreSQL connection and initializes the schema.
func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	p := &Postgres{db: db}
	if err := p.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return p, nil
}

// Close closes the database connection.
func (p *Postgres) Close() error {
	return p.db.Close()
}

// DB exposes the underlying connection for components that manage their
// own tables, such as the logging manager.
func (p *Postgres) DB() *sql.DB {
	return p.db
}

func (p *Postgres) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS lessons (
		id TEXT PRIMARY KEY,
		fingerprint TEXT NOT NULL,
		decision TEXT NOT NULL,
		outcome TEXT NOT NULL,
		cost_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
		latency_ms BIGINT NOT NULL DEFAULT 0,
		tags TEXT,
		confirmations INTEGER NOT NULL DEFAULT 0,
		pinned BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE (fingerprint, decision)
	);
	CREATE INDEX IF NOT EXISTS idx_lessons_fingerprint ON lessons(fingerprint);

	CREATE TABLE IF NOT EXISTS task_archive (
		id TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		session_id TEXT,
		flow_hint TEXT,
		status TEXT NOT NULL,
		flow_history TEXT,
		result_json TEXT,
		logs_json TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_task_archive_status ON task_archive(status);
	`
	_, err := p.db.Exec(schema)
	return err
}

// SaveLesson upserts one lesson keyed by fingerprint+decision.
// Implements lessons.Store.
func (p *Postgres) SaveLesson(lesson *models.Lesson) error {
	if lesson == nil {
		return fmt.Errorf("lesson cannot be nil")
	}
	tags := strings.Join(lesson.Tags, ",")
	_, err := p.db.Exec(rebind(`
		INSERT INTO lessons (id, fingerprint, decision, outcome, cost_usd, latency_ms, tags, confirmations, pinned, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (fingerprint, decision) DO UPDATE SET
			outcome = EXCLUDED.outcome,
			cost_usd = EXCLUDED.cost_usd,
			latency_ms = EXCLUDED.latency_ms,
			tags = EXCLUDED.tags,
			confirmations = EXCLUDED.confirmations,
			pinned = EXCLUDED.pinned,
			updated_at = EXCLUDED.updated_at`),
		lesson.ID, lesson.Fingerprint, lesson.Decision, string(lesson.Outcome),
		lesson.CostUSD, lesson.LatencyMs, tags, lesson.Confirmations, lesson.Pinned,
		lesson.CreatedAt, lesson.UpdatedAt,
	)
	return err
}

// LoadLessons returns every stored lesson. Called once at startup to
// warm the in-memory lessons manager. Implements lessons.Store.
func (p *Postgres) LoadLessons() ([]*models.Lesson, error) {
	rows, err := p.db.Query(`
		SELECT id, fingerprint, decision, outcome, cost_usd, latency_ms, tags, confirmations, pinned, created_at, updated_at
		FROM lessons`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Lesson
	for rows.Next() {
		l := &models.Lesson{}
		var outcome, tags string
		if err := rows.Scan(&l.ID, &l.Fingerprint, &l.Decision, &outcome, &l.CostUSD,
			&l.LatencyMs, &tags, &l.Confirmations, &l.Pinned, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return out, err
		}
		l.Outcome = models.LessonOutcome(outcome)
		if tags != "" {
			l.Tags = strings.Split(tags, ",")
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// ArchiveTask stores a terminal task. The core's responsibility ends
// at the terminal status; the archive exists for external retention.
func (p *Postgres) ArchiveTask(task *models.Task) error {
	if task == nil {
		return fmt.Errorf("task cannot be nil")
	}
	resultJSON, err := json.Marshal(task.Result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	logsJSON, err := json.Marshal(task.Logs)
	if err != nil {
		return fmt.Errorf("failed to marshal logs: %w", err)
	}

	_, err = p.db.Exec(rebind(`
		INSERT INTO task_archive (id, content, session_id, flow_hint, status, flow_history, result_json, logs_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			flow_history = EXCLUDED.flow_history,
			result_json = EXCLUDED.result_json,
			logs_json = EXCLUDED.logs_json,
			updated_at = EXCLUDED.updated_at`),
		task.ID, task.Content, task.SessionID, task.FlowHint, string(task.Status),
		strings.Join(task.FlowHistory, ","), string(resultJSON), string(logsJSON),
		task.CreatedAt, task.UpdatedAt,
	)
	return err
}
