package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
)

// Exporter writes stored article bodies to disk as Markdown files, one file
// per record, named by slug. Existing files are left alone.
type Exporter struct {
	store     *Store
	outputDir string
	converter *md.Converter
}

// NewExporter creates an exporter writing into outputDir.
func NewExporter(store *Store, outputDir string) *Exporter {
	return &Exporter{
		store:     store,
		outputDir: outputDir,
		converter: md.NewConverter("", true, nil),
	}
}

// ExportAll converts every stored article to Markdown and returns how many
// files were written. Conversion failures skip the record; write failures
// abort.
func (e *Exporter) ExportAll() (int, error) {
	records, err := e.store.Articles()
	if err != nil {
		return 0, err
	}

	if err := os.MkdirAll(e.outputDir, 0755); err != nil {
		return 0, fmt.Errorf("creating output directory: %w", err)
	}

	written := 0
	for i := range records {
		rec := &records[i]
		if rec.Body == "" {
			continue
		}

		filename := filepath.Join(e.outputDir, exportFilename(rec))
		if _, err := os.Stat(filename); err == nil {
			debugLog("skipping %s: file exists", filename)
			continue
		}

		markdown, err := e.converter.ConvertString(rec.Body)
		if err != nil {
			log.Printf("✗ Converting %q: %v", rec.SEOTitle, err)
			continue
		}

		content := fmt.Sprintf("# %s\n\n%s\n", rec.SEOTitle, markdown)
		if err := os.WriteFile(filename, []byte(content), 0644); err != nil {
			return written, fmt.Errorf("writing %s: %w", filename, err)
		}
		written++
		log.Printf("✓ Exported: %s", filename)
	}

	return written, nil
}

func exportFilename(rec *ArticleRecord) string {
	slug := sanitizeSlug(rec.Slug)
	if slug == "" {
		slug = fmt.Sprintf("article-%d", rec.ID)
	}
	return slug + ".md"
}

var (
	slugInvalidRe = regexp.MustCompile(`[^a-z0-9]+`)
	slugDashRe    = regexp.MustCompile(`-+`)
)

// sanitizeSlug normalizes a model-proposed slug into a safe filename stem.
func sanitizeSlug(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = slugInvalidRe.ReplaceAllString(s, "-")
	s = slugDashRe.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")

	// Limit length to avoid filesystem issues
	if len(s) > 50 {
		s = strings.Trim(s[:50], "-")
	}

	return s
}
