package main

import "time"

// Message is one turn in a chat-style request. Ordering matters; at most one
// system message is meaningful per request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Reply is the outcome of a provider call. Degraded marks the fallback text
// returned when a provider answered with a shape we could not parse.
type Reply struct {
	Text     string
	Tokens   int
	Degraded bool
}

// Pair is one keyword combination. Order is significant: (a,b) and (b,a)
// are distinct work items.
type Pair struct {
	Keyword1 string
	Keyword2 string
}

// ArticleRecord is the persisted result of generating and enriching one
// keyword pair. Records are append-only; Posted flips to true exactly once.
type ArticleRecord struct {
	ID              int64
	Keyword1        string
	Keyword2        string
	SEOTitle        string
	Slug            string
	MetaDescription string
	MetaKeywords    string
	Body            string
	Posted          bool
	CreatedAt       time.Time
}

// LogEntry is one append-only audit row: one per provider call and one per
// publish attempt.
type LogEntry struct {
	Timestamp  time.Time
	RunID      string
	Source     string // model name, or "WordPress REST API"
	Prompt     string
	Response   string
	TokenCount int
}

// Category maps a display name to its WordPress category ID.
type Category struct {
	ID   int    `yaml:"id"`
	Name string `yaml:"name"`
}

// PublishOutcome is the per-record result of a publish attempt.
type PublishOutcome string

const (
	OutcomeCreated PublishOutcome = "created"
	OutcomeSkipped PublishOutcome = "skipped"
	OutcomeFailed  PublishOutcome = "failed"
)
