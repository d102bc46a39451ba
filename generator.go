package main

import (
	"fmt"
	"log"
	"time"
)

const systemPromptFmt = "あなたはSEOの記事生成のプロです。次のペルソナがカスタマージャーニーの情報収集や検討段階にネットから見つけて読みたくなる記事を作成して、HTML形式で出力してください。記事は%dセクションに分けてください:\n\nペルソナ: %s\nカスタマージャーニー: %s\n\n%s"

const articlePromptFmt = "以下のキーワードを使って、%d文字程度、%dセクションからなる記事を<section>タグを用いて作成してください:\n\nキーワード1: %s\nキーワード2: %s"

// Generator runs the keyword-pair article pipeline: dedupe, generate,
// enrich, persist. A fatal provider error halts the remaining queue;
// only degraded replies are recoverable per item.
type Generator struct {
	client   Sender
	store    *Store
	notifier Notifier
	settings *Settings
}

// NewGenerator creates a generator over the given client and store.
func NewGenerator(client Sender, store *Store, notifier Notifier, settings *Settings) *Generator {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Generator{
		client:   client,
		store:    store,
		notifier: notifier,
		settings: settings,
	}
}

// Run processes every new keyword combination up to the configured maximum.
func (g *Generator) Run() error {
	gen := g.settings.Generation

	existing, err := g.store.ExistingPairs()
	if err != nil {
		return fmt.Errorf("reading existing combinations: %w", err)
	}

	queue := dedupePairs(g.settings.Keywords.Primary, g.settings.Keywords.Secondary, existing, gen.MaxArticles)
	if len(queue) == 0 {
		log.Printf("No new keyword combinations to generate")
		return nil
	}

	systemPrompt := fmt.Sprintf(systemPromptFmt, gen.Sections, gen.Persona, gen.CustomerJourney, gen.PromptSuffix)

	log.Printf("Generating %d articles...", len(queue))

	for i, pair := range queue {
		g.notifier.Notify(fmt.Sprintf("記事を生成しています... (%d/%d)", i+1, len(queue)), "記事生成の進捗", 3)
		log.Printf("[%d/%d] Generating: %s × %s", i+1, len(queue), pair.Keyword1, pair.Keyword2)

		g.watchProgress(i+1, len(queue))

		record, err := g.generateOne(pair, systemPrompt)
		if err != nil {
			g.notifier.Notify(fmt.Sprintf("エラー: %s", err), "エラー", 3)
			return fmt.Errorf("generating %q × %q: %w", pair.Keyword1, pair.Keyword2, err)
		}
		if record == nil {
			log.Printf("✗ Skipped %s × %s: provider reply was degraded", pair.Keyword1, pair.Keyword2)
			continue
		}

		if err := g.store.AppendArticle(record); err != nil {
			return fmt.Errorf("saving article for %q × %q: %w", pair.Keyword1, pair.Keyword2, err)
		}
		log.Printf("✓ Generated: %s", record.SEOTitle)
	}

	g.notifier.Notify("記事の生成が完了しました。", "完了", 3)
	return nil
}

// watchProgress wires the client's liveness callback, when the client has
// one, to per-item progress notifications.
func (g *Generator) watchProgress(item, total int) {
	client, ok := g.client.(interface{ SetProgress(ProgressFunc) })
	if !ok {
		return
	}
	client.SetProgress(func(elapsedSeconds int) {
		g.notifier.Notify(fmt.Sprintf("記事を生成しています... (%d/%d) - %d秒経過", item, total, elapsedSeconds), "記事生成の進捗", 1)
	})
}

// generateOne produces the article body and its enrichment for one pair.
// A nil record with nil error means the item was skipped: either the body or
// an enrichment stage came back degraded with allow_degraded off.
func (g *Generator) generateOne(pair Pair, systemPrompt string) (*ArticleRecord, error) {
	gen := g.settings.Generation

	userPrompt := fmt.Sprintf(articlePromptFmt, gen.ArticleLength, gen.Sections, pair.Keyword1, pair.Keyword2)
	reply, err := g.client.Send([]Message{
		{Role: RoleSystem, Content: systemPrompt},
		{Role: RoleUser, Content: userPrompt},
	}, gen.Model)
	if err != nil {
		return nil, err
	}
	if reply.Degraded && !gen.AllowDegraded {
		return nil, nil
	}

	enrichment, err := enrich(g.client, reply.Text, gen.Model)
	if err != nil {
		return nil, err
	}
	if enrichment.Degraded && !gen.AllowDegraded {
		return nil, nil
	}

	return &ArticleRecord{
		Keyword1:        pair.Keyword1,
		Keyword2:        pair.Keyword2,
		SEOTitle:        enrichment.SEOTitle,
		Slug:            enrichment.Slug,
		MetaDescription: enrichment.MetaDescription,
		MetaKeywords:    enrichment.MetaKeywords,
		Body:            reply.Text,
		CreatedAt:       time.Now(),
	}, nil
}
