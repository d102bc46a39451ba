package main

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store persists article records and the append-only audit log in SQLite.
// Access is single-threaded; no locking discipline is required.
type Store struct {
	db *sql.DB
}

// OpenStore opens the database at path and bootstraps the schema.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS articles (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			keyword1 TEXT NOT NULL,
			keyword2 TEXT NOT NULL,
			seo_title TEXT NOT NULL DEFAULT '',
			slug TEXT NOT NULL DEFAULT '',
			meta_description TEXT NOT NULL DEFAULT '',
			meta_keywords TEXT NOT NULL DEFAULT '',
			body TEXT NOT NULL DEFAULT '',
			posted INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			UNIQUE(keyword1, keyword2)
		)`,
		`CREATE TABLE IF NOT EXISTS log_entries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			created_at DATETIME NOT NULL,
			run_id TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL,
			prompt TEXT NOT NULL,
			response TEXT NOT NULL,
			token_count INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_articles_posted ON articles(posted)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrating schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// ExistingPairs returns every keyword pair that already has an article
// record, posted or not.
func (s *Store) ExistingPairs() (map[Pair]bool, error) {
	rows, err := s.db.Query(`SELECT keyword1, keyword2 FROM articles`)
	if err != nil {
		return nil, fmt.Errorf("reading existing pairs: %w", err)
	}
	defer rows.Close()

	pairs := make(map[Pair]bool)
	for rows.Next() {
		var p Pair
		if err := rows.Scan(&p.Keyword1, &p.Keyword2); err != nil {
			return nil, fmt.Errorf("scanning pair: %w", err)
		}
		pairs[p] = true
	}
	return pairs, rows.Err()
}

// AppendArticle inserts a new record and fills in its ID. Records are never
// overwritten: a duplicate pair is an error.
func (s *Store) AppendArticle(rec *ArticleRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	res, err := s.db.Exec(`INSERT INTO articles
		(keyword1, keyword2, seo_title, slug, meta_description, meta_keywords, body, posted, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Keyword1, rec.Keyword2, rec.SEOTitle, rec.Slug,
		rec.MetaDescription, rec.MetaKeywords, rec.Body, rec.Posted, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting article: %w", err)
	}
	rec.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading inserted id: %w", err)
	}
	return nil
}

// Articles returns all records in insertion order.
func (s *Store) Articles() ([]ArticleRecord, error) {
	rows, err := s.db.Query(`SELECT id, keyword1, keyword2, seo_title, slug,
		meta_description, meta_keywords, body, posted, created_at
		FROM articles ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("reading articles: %w", err)
	}
	defer rows.Close()

	var records []ArticleRecord
	for rows.Next() {
		var rec ArticleRecord
		if err := rows.Scan(&rec.ID, &rec.Keyword1, &rec.Keyword2, &rec.SEOTitle,
			&rec.Slug, &rec.MetaDescription, &rec.MetaKeywords, &rec.Body,
			&rec.Posted, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning article: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// MarkPosted flips the posted flag for one record. The flag is the sole
// idempotency gate for publishing and is never reverted.
func (s *Store) MarkPosted(id int64) error {
	res, err := s.db.Exec(`UPDATE articles SET posted = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("marking article %d posted: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("marking article %d posted: no such record", id)
	}
	return nil
}

// AppendLog appends one audit row.
func (s *Store) AppendLog(entry LogEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	_, err := s.db.Exec(`INSERT INTO log_entries
		(created_at, run_id, source, prompt, response, token_count)
		VALUES (?, ?, ?, ?, ?, ?)`,
		entry.Timestamp, entry.RunID, entry.Source, entry.Prompt, entry.Response, entry.TokenCount)
	if err != nil {
		return fmt.Errorf("inserting log entry: %w", err)
	}
	return nil
}
