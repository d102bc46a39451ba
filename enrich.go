package main

import "fmt"

// Sender is the provider-call surface the pipeline depends on.
type Sender interface {
	Send(messages []Message, model string) (Reply, error)
}

// Enrichment holds the four artifacts derived from an article body.
// Degraded is set when any stage answered with fallback text instead of a
// real reply; such artifacts carry the apology string, not usable metadata.
type Enrichment struct {
	SEOTitle        string
	MetaDescription string
	MetaKeywords    string
	Slug            string
	Degraded        bool
}

const (
	seoTitlePromptFmt    = "以下の記事に適した1つの記事タイトルをSEOを踏まえて50文字以内で提案してください:\n\n%s"
	metaDescPromptFmt    = "以下の記事に適したメタディスクリプションを120文字以内で提案してください:\n\n%s"
	metaKeywordPromptFmt = "以下の記事に適したメタキーワードを10個以内、カンマ区切りで提案してください:\n\n%s"
	slugPromptFmt        = "以下のSEOタイトルから適切なスラッグ(URLに使うスラッグ)を提案してください。結果だけを出力して:\n\n%s"
)

// enrich derives the SEO title, meta description, meta keywords and slug for
// an article body through four sequential provider calls. The slug is derived
// from the generated title, not from the body. A failed stage aborts
// enrichment for this item; a degraded stage reply completes but marks the
// result degraded. The caller decides what happens to the batch either way.
func enrich(sender Sender, body, model string) (*Enrichment, error) {
	title, err := ask(sender, model, seoTitlePromptFmt, body)
	if err != nil {
		return nil, fmt.Errorf("deriving SEO title: %w", err)
	}

	description, err := ask(sender, model, metaDescPromptFmt, body)
	if err != nil {
		return nil, fmt.Errorf("deriving meta description: %w", err)
	}

	keywords, err := ask(sender, model, metaKeywordPromptFmt, body)
	if err != nil {
		return nil, fmt.Errorf("deriving meta keywords: %w", err)
	}

	slug, err := ask(sender, model, slugPromptFmt, title.Text)
	if err != nil {
		return nil, fmt.Errorf("deriving slug: %w", err)
	}

	return &Enrichment{
		SEOTitle:        title.Text,
		MetaDescription: description.Text,
		MetaKeywords:    keywords.Text,
		Slug:            slug.Text,
		Degraded:        title.Degraded || description.Degraded || keywords.Degraded || slug.Degraded,
	}, nil
}

// ask sends a single-user-message request built from a fixed prompt template.
func ask(sender Sender, model, promptFmt, input string) (Reply, error) {
	return sender.Send([]Message{
		{Role: RoleUser, Content: fmt.Sprintf(promptFmt, input)},
	}, model)
}
