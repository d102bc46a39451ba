package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// publishedSentinel is the status label that maps to an immediate publish;
// any other label posts drafts.
const publishedSentinel = "公開"

// wpSource is the audit-log source recorded for publish attempts.
const wpSource = "WordPress REST API"

const classifierSystemPrompt = "あなたは優秀なアシスタントです。"

const categoryPromptFmt = "以下の記事の内容に最も適したカテゴリーを、次のカテゴリーの中から最大3つ選んでください。複数選択する場合は、カンマまたは、で区切って記載して、余計なものは出力せずに回答だけ出力してください。\n\nカテゴリー:\n%s\n\n記事内容:\n%s\n\n最も適したカテゴリー:"

// Replies may use either the ASCII or the Japanese comma.
var categorySplitRe = regexp.MustCompile(`,|、`)

// wpPost is the WordPress REST payload for POST /wp-json/wp/v2/posts.
type wpPost struct {
	Title      string `json:"title"`
	Slug       string `json:"slug"`
	Content    string `json:"content"`
	Status     string `json:"status"`
	Categories []int  `json:"categories"`
	Meta       wpMeta `json:"meta"`
}

type wpMeta struct {
	YoastTitle        string `json:"_yoast_wpseo_title"`
	YoastMetaDesc     string `json:"_yoast_wpseo_metadesc"`
	YoastFocusKeyword string `json:"_yoast_wpseo_focuskw"`
}

// publishStore is the slice of the row store the publisher touches.
type publishStore interface {
	MarkPosted(id int64) error
	AppendLog(entry LogEntry) error
}

// Publisher posts stored articles to a WordPress site. Every failure is
// contained to its record: the batch always runs to completion.
type Publisher struct {
	httpClient *http.Client
	store      publishStore
	sender     Sender
	settings   PublishSettings
	password   string
}

// NewPublisher creates a publisher for the configured WordPress endpoint.
func NewPublisher(settings PublishSettings, password string, store publishStore, sender Sender) *Publisher {
	return &Publisher{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		store:      store,
		sender:     sender,
		settings:   settings,
		password:   password,
	}
}

// PublishAll publishes every record not yet posted and returns the number of
// successfully created posts.
func (p *Publisher) PublishAll(records []ArticleRecord) int {
	posted := 0
	for i := range records {
		if p.Publish(&records[i]) == OutcomeCreated {
			posted++
		}
	}
	return posted
}

// Publish posts one record. Records missing required fields or already
// posted are skipped; upstream and local failures are logged and reported as
// Failed, never raised.
func (p *Publisher) Publish(rec *ArticleRecord) PublishOutcome {
	if rec.SEOTitle == "" || rec.Body == "" {
		debugLog("skipping article %d: missing title or body", rec.ID)
		return OutcomeSkipped
	}
	if rec.Posted {
		debugLog("skipping %q: already posted", rec.SEOTitle)
		return OutcomeSkipped
	}

	categoryIDs, chosen, err := p.classify(rec.Body)
	if err != nil {
		p.appendLog("", "リクエストエラー: "+err.Error(), len(err.Error()))
		log.Printf("✗ Classifying %q: %v", rec.SEOTitle, err)
		return OutcomeFailed
	}

	payload := wpPost{
		Title:      rec.SEOTitle,
		Slug:       rec.Slug,
		Content:    rec.Body,
		Status:     p.publishStatus(),
		Categories: categoryIDs,
		Meta: wpMeta{
			YoastTitle:        rec.SEOTitle,
			YoastMetaDesc:     rec.MetaDescription,
			YoastFocusKeyword: rec.MetaKeywords,
		},
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		p.appendLog("", "リクエストエラー: "+err.Error(), len(err.Error()))
		log.Printf("✗ Encoding %q: %v", rec.SEOTitle, err)
		return OutcomeFailed
	}

	req, err := http.NewRequest(http.MethodPost, strings.TrimRight(p.settings.URL, "/")+"/wp-json/wp/v2/posts", bytes.NewReader(payloadJSON))
	if err != nil {
		p.appendLog(string(payloadJSON), "リクエストエラー: "+err.Error(), len(err.Error()))
		return OutcomeFailed
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(p.settings.Username, p.password)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.appendLog(string(payloadJSON), "リクエストエラー: "+err.Error(), len(err.Error()))
		log.Printf("✗ Posting %q: %v", rec.SEOTitle, err)
		return OutcomeFailed
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		p.appendLog(string(payloadJSON), "リクエストエラー: "+err.Error(), len(err.Error()))
		return OutcomeFailed
	}

	// Non-2xx never raises; the status code decides the outcome.
	if resp.StatusCode != http.StatusCreated {
		p.appendLog(string(payloadJSON), "エラー: "+string(respBody), len(respBody))
		log.Printf("✗ Posting %q failed: HTTP %d", rec.SEOTitle, resp.StatusCode)
		return OutcomeFailed
	}

	if err := p.store.MarkPosted(rec.ID); err != nil {
		p.appendLog(string(payloadJSON), "リクエストエラー: "+err.Error(), len(err.Error()))
		log.Printf("✗ Marking %q posted: %v", rec.SEOTitle, err)
		return OutcomeFailed
	}
	rec.Posted = true

	p.appendLog(string(payloadJSON), string(respBody), len(respBody))
	log.Printf("✓ Posted: %s | Categories: %s", rec.SEOTitle, strings.Join(chosen, ", "))
	return OutcomeCreated
}

func (p *Publisher) publishStatus() string {
	if p.settings.Status == publishedSentinel || strings.EqualFold(p.settings.Status, "publish") {
		return "publish"
	}
	return "draft"
}

// classify asks the model to pick up to three category display names for the
// article body and resolves them to IDs. Unknown names are dropped silently;
// an empty result is fine.
func (p *Publisher) classify(body string) ([]int, []string, error) {
	if len(p.settings.Categories) == 0 {
		return nil, nil, nil
	}

	names := make([]string, 0, len(p.settings.Categories))
	for _, c := range p.settings.Categories {
		names = append(names, c.Name)
	}

	prompt := fmt.Sprintf(categoryPromptFmt, strings.Join(names, "\n"), body)
	reply, err := p.sender.Send([]Message{
		{Role: RoleSystem, Content: classifierSystemPrompt},
		{Role: RoleUser, Content: prompt},
	}, p.settings.ClassifierModel)
	if err != nil {
		return nil, nil, err
	}

	ids, chosen := resolveCategories(reply.Text, p.settings.Categories)
	return ids, chosen, nil
}

// resolveCategories splits the classifier reply on either comma character
// and resolves each trimmed name against the category table by exact match.
func resolveCategories(reply string, categories []Category) ([]int, []string) {
	var ids []int
	var chosen []string
	for _, token := range categorySplitRe.Split(reply, -1) {
		name := strings.TrimSpace(token)
		if name == "" {
			continue
		}
		for _, c := range categories {
			if c.Name == name {
				ids = append(ids, c.ID)
				chosen = append(chosen, name)
				break
			}
		}
	}
	return ids, chosen
}

func (p *Publisher) appendLog(prompt, response string, tokens int) {
	entry := LogEntry{
		Timestamp:  time.Now(),
		Source:     wpSource,
		Prompt:     prompt,
		Response:   response,
		TokenCount: tokens,
	}
	if err := p.store.AppendLog(entry); err != nil {
		log.Printf("✗ appending log entry: %v", err)
	}
}
