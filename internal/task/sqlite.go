package task

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure Go driver
)

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	identifier TEXT NOT NULL UNIQUE,
	url        TEXT NOT NULL,
	status     INTEGER NOT NULL DEFAULT 0,
	detail     TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
`

// SQLiteSource is a Source backed by a local SQLite database. The WAL
// pragmas go into the DSN so they apply to every connection in the pool.
type SQLiteSource struct {
	db *sql.DB
}

// OpenSQLite opens (and if needed creates) the task database at path.
func OpenSQLite(path string) (*SQLiteSource, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
		path, (5 * time.Second).Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open task db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping task db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create task schema: %w", err)
	}
	return &SQLiteSource{db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteSource) Close() error { return s.db.Close() }

// Enqueue adds a pending task. Re-enqueueing an existing identifier resets
// it to pending with the new URL.
func (s *SQLiteSource) Enqueue(ctx context.Context, identifier, url string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (identifier, url, status, detail)
		VALUES (?, ?, ?, '')
		ON CONFLICT(identifier) DO UPDATE SET
			url = excluded.url,
			status = excluded.status,
			detail = '',
			updated_at = CURRENT_TIMESTAMP`,
		identifier, url, StatusPending)
	if err != nil {
		return fmt.Errorf("enqueue task %q: %w", identifier, err)
	}
	return nil
}

// ListPending returns up to limit pending tasks, oldest first.
func (s *SQLiteSource) ListPending(ctx context.Context, limit int) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, identifier, url, status, detail
		FROM tasks WHERE status = ? ORDER BY id LIMIT ?`,
		StatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending tasks: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		var t Task
		if err := rows.Scan(&t.ID, &t.Identifier, &t.URL, &t.Status, &t.Detail); err != nil {
			return nil, fmt.Errorf("scan task row: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task rows: %w", err)
	}
	return tasks, nil
}

// MarkResult records the terminal status of a finished task.
func (s *SQLiteSource) MarkResult(ctx context.Context, id int64, status Status, detail string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, detail = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		status, detail, id)
	if err != nil {
		return fmt.Errorf("mark task %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("mark task %d: no such task", id)
	}
	return nil
}

// Statistics reports queue counts by status.
func (s *SQLiteSource) Statistics(ctx context.Context) (Stats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return Stats{}, fmt.Errorf("queue statistics: %w", err)
	}
	defer rows.Close()

	var stats Stats
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return Stats{}, fmt.Errorf("scan statistics row: %w", err)
		}
		switch status {
		case StatusPending:
			stats.Pending = count
		case StatusComplete:
			stats.Complete = count
		case StatusFailed:
			stats.Failed = count
		}
	}
	return stats, rows.Err()
}
