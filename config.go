package main

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const defaultConfigDir = ".seo-writer"

//go:embed config/settings.yaml
var defaultSettings string

// GenerationSettings configures the article generation run.
type GenerationSettings struct {
	Model           string `yaml:"model"`
	ArticleLength   int    `yaml:"article_length"`
	Sections        int    `yaml:"sections"`
	MaxArticles     int    `yaml:"max_articles"`
	Persona         string `yaml:"persona"`
	CustomerJourney string `yaml:"customer_journey"`
	PromptSuffix    string `yaml:"prompt_suffix"`
	AllowDegraded   bool   `yaml:"allow_degraded"`
}

// KeywordSettings holds the two keyword lists the work queue is built from.
type KeywordSettings struct {
	Primary   []string `yaml:"primary"`
	Secondary []string `yaml:"secondary"`
}

// PublishSettings configures the WordPress publishing run.
type PublishSettings struct {
	URL             string     `yaml:"url"`
	Username        string     `yaml:"username"`
	Status          string     `yaml:"status"`
	ClassifierModel string     `yaml:"classifier_model"`
	Categories      []Category `yaml:"categories"`
}

// Settings is the YAML configuration structure.
type Settings struct {
	Database        string             `yaml:"database"`
	OutputDirectory string             `yaml:"output_directory"`
	Generation      GenerationSettings `yaml:"generation"`
	Keywords        KeywordSettings    `yaml:"keywords"`
	Publish         PublishSettings    `yaml:"publish"`
}

// Validate checks the fields every publish run needs. Failing here is fatal
// before any record is processed.
func (p PublishSettings) Validate(password string) error {
	if p.URL == "" || p.Username == "" || password == "" {
		return fmt.Errorf("wordpress settings incomplete: publish.url, publish.username and WORDPRESS_APP_PASSWORD are required")
	}
	return nil
}

// applyDefaults fills the defaults the original deployment used for blank
// cells.
func (s *Settings) applyDefaults() {
	if s.Database == "" {
		s.Database = "seo-writer.db"
	}
	if s.OutputDirectory == "" {
		s.OutputDirectory = "articles"
	}
	if s.Generation.Model == "" {
		s.Generation.Model = "claude-3-haiku-20240307"
	}
	if s.Generation.ArticleLength == 0 {
		s.Generation.ArticleLength = 1000
	}
	if s.Generation.Sections == 0 {
		s.Generation.Sections = 1
	}
	if s.Generation.MaxArticles == 0 {
		s.Generation.MaxArticles = 10
	}
	if s.Publish.Status == "" {
		s.Publish.Status = "draft"
	}
	if s.Publish.ClassifierModel == "" {
		s.Publish.ClassifierModel = "claude-3-haiku-20240307"
	}
}

// loadSettings loads settings from a YAML file and applies defaults.
func loadSettings(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading settings file %s: %w", path, err)
	}

	var settings Settings
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("parsing settings YAML: %w", err)
	}

	settings.applyDefaults()
	return &settings, nil
}

// loadCredentials reads the provider API keys once from the environment.
func loadCredentials() Credentials {
	return Credentials{
		AnthropicKey: os.Getenv("ANTHROPIC_API_KEY"),
		OpenAIKey:    os.Getenv("OPENAI_API_KEY"),
		DeepSeekKey:  os.Getenv("DEEPSEEK_API_KEY"),
	}
}

// getConfigPath returns the path to a config file in the .seo-writer directory
func getConfigPath(filename string) string {
	return filepath.Join(defaultConfigDir, filename)
}

// ensureConfigExists creates the config directory and writes the embedded
// default settings on first run.
func ensureConfigExists() error {
	if err := os.MkdirAll(defaultConfigDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	settingsPath := getConfigPath("settings.yaml")
	if _, err := os.Stat(settingsPath); os.IsNotExist(err) {
		if err := os.WriteFile(settingsPath, []byte(defaultSettings), 0644); err != nil {
			return fmt.Errorf("writing default settings: %w", err)
		}
	}

	return nil
}
