// Package store persists run history in a local SQLite database. The
// history is advisory only: the workflow never reads it, and recording
// failures are logged rather than surfaced as run failures.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// RunRecord is one completed workflow run.
type RunRecord struct {
	ID               string
	Repo             string
	IssueNumber      int
	IssueTitle       string
	SelectedArticles int
	SelectedTopics   int
	ArticleResults   int
	TopicResults     int
	SyncedNew        int
	SyncedExisting   int
	SyncFailures     int
	CommentPosted    bool
	BodyPatched      bool
	StartedAt        time.Time
	FinishedAt       time.Time
}

// RunStore records run history in SQLite.
type RunStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewRunStore opens (creating if needed) the history database at path.
func NewRunStore(path string) (*RunStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating history directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("configuring history database: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing history schema: %w", err)
	}
	return &RunStore{db: db}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	repo TEXT NOT NULL,
	issue_number INTEGER NOT NULL,
	issue_title TEXT NOT NULL DEFAULT '',
	selected_articles INTEGER NOT NULL DEFAULT 0,
	selected_topics INTEGER NOT NULL DEFAULT 0,
	article_results INTEGER NOT NULL DEFAULT 0,
	topic_results INTEGER NOT NULL DEFAULT 0,
	synced_new INTEGER NOT NULL DEFAULT 0,
	synced_existing INTEGER NOT NULL DEFAULT 0,
	sync_failures INTEGER NOT NULL DEFAULT 0,
	comment_posted INTEGER NOT NULL DEFAULT 0,
	body_patched INTEGER NOT NULL DEFAULT 0,
	started_at TEXT NOT NULL,
	finished_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_repo_issue ON runs(repo, issue_number);
`

// RecordRun inserts one run record.
func (s *RunStore) RecordRun(rec RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO runs (
			id, repo, issue_number, issue_title,
			selected_articles, selected_topics,
			article_results, topic_results,
			synced_new, synced_existing, sync_failures,
			comment_posted, body_patched,
			started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Repo, rec.IssueNumber, rec.IssueTitle,
		rec.SelectedArticles, rec.SelectedTopics,
		rec.ArticleResults, rec.TopicResults,
		rec.SyncedNew, rec.SyncedExisting, rec.SyncFailures,
		boolToInt(rec.CommentPosted), boolToInt(rec.BodyPatched),
		rec.StartedAt.UTC().Format(time.RFC3339), rec.FinishedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("recording run: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (s *RunStore) ListRuns(limit int) ([]RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT id, repo, issue_number, issue_title,
			selected_articles, selected_topics,
			article_results, topic_results,
			synced_new, synced_existing, sync_failures,
			comment_posted, body_patched,
			started_at, finished_at
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var rec RunRecord
		var commentPosted, bodyPatched int
		var startedAt, finishedAt string
		if err := rows.Scan(
			&rec.ID, &rec.Repo, &rec.IssueNumber, &rec.IssueTitle,
			&rec.SelectedArticles, &rec.SelectedTopics,
			&rec.ArticleResults, &rec.TopicResults,
			&rec.SyncedNew, &rec.SyncedExisting, &rec.SyncFailures,
			&commentPosted, &bodyPatched,
			&startedAt, &finishedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning run row: %w", err)
		}
		rec.CommentPosted = commentPosted != 0
		rec.BodyPatched = bodyPatched != 0
		rec.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
		rec.FinishedAt, _ = time.Parse(time.RFC3339, finishedAt)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Close releases the underlying database handle.
func (s *RunStore) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
