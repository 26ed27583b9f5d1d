package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS requests (
	id                TEXT PRIMARY KEY,
	created_at        DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	model             TEXT NOT NULL,
	vendor            TEXT NOT NULL,
	stream            INTEGER NOT NULL DEFAULT 0,
	status            INTEGER NOT NULL DEFAULT 0,
	duration_ms       INTEGER NOT NULL DEFAULT 0,
	prompt_tokens     INTEGER NOT NULL DEFAULT 0,
	completion_tokens INTEGER NOT NULL DEFAULT 0,
	reasoning_tokens  INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_requests_created ON requests(created_at);
CREATE INDEX IF NOT EXISTS idx_requests_model ON requests(model);
`

// DB wraps *sql.DB for the request log.
type DB struct {
	*sql.DB
}

// Open opens the SQLite database at path and applies the schema.
// Creates the file if missing.
func Open(ctx context.Context, path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &DB{db}, nil
}

type Request struct {
	ID               string    `json:"id"`
	CreatedAt        time.Time `json:"created_at"`
	Model            string    `json:"model"`
	Vendor           string    `json:"vendor"`
	Stream           bool      `json:"stream"`
	Status           int       `json:"status"`
	Duration         int64     `json:"duration_ms"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	ReasoningTokens  int       `json:"reasoning_tokens"`
}

// RecordRequest inserts one completed request.
func (db *DB) RecordRequest(ctx context.Context, r Request) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO requests (id, model, vendor, stream, status, duration_ms, prompt_tokens, completion_tokens, reasoning_tokens)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Model, r.Vendor, r.Stream, r.Status, r.Duration,
		r.PromptTokens, r.CompletionTokens, r.ReasoningTokens,
	)
	return err
}

// RecentRequests returns the newest requests, most recent first.
func (db *DB) RecentRequests(ctx context.Context, limit int) ([]Request, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := db.QueryContext(ctx,
		`SELECT id, created_at, model, vendor, stream, status, duration_ms, prompt_tokens, completion_tokens, reasoning_tokens
		 FROM requests ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Request

	for rows.Next() {
		var r Request
		if err := rows.Scan(&r.ID, &r.CreatedAt, &r.Model, &r.Vendor, &r.Stream, &r.Status,
			&r.Duration, &r.PromptTokens, &r.CompletionTokens, &r.ReasoningTokens); err != nil {
			return nil, err
		}

		out = append(out, r)
	}

	return out, rows.Err()
}

type UsageTotals struct {
	Requests         int64 `json:"requests"`
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	ReasoningTokens  int64 `json:"reasoning_tokens"`
}

// Usage aggregates token usage per model since the given time.
func (db *DB) Usage(ctx context.Context, since time.Time) (map[string]UsageTotals, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT model, COUNT(*), SUM(prompt_tokens), SUM(completion_tokens), SUM(reasoning_tokens)
		 FROM requests WHERE created_at >= ? GROUP BY model`, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]UsageTotals)

	for rows.Next() {
		var (
			model string
			t     UsageTotals
		)
		if err := rows.Scan(&model, &t.Requests, &t.PromptTokens, &t.CompletionTokens, &t.ReasoningTokens); err != nil {
			return nil, err
		}

		out[model] = t
	}

	return out, rows.Err()
}
