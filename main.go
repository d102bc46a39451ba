package main

import (
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var debugMode bool

var rootCmd = &cobra.Command{
	Use:   "seo-writer",
	Short: "Keyword-pair SEO article generator and WordPress publisher",
	Long:  `Generates SEO articles from keyword combinations using LLM providers, enriches them with titles, meta tags and slugs, and posts them to WordPress.`,
}

var generateCmd = &cobra.Command{
	Use:   "generate [settings-file]",
	Short: "Generate articles for new keyword combinations",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		settings, store := setup(args)
		defer store.Close()

		creds := loadCredentials()
		if name, key := requiredKey(creds, settings.Generation.Model); key == "" {
			log.Fatalf("%s environment variable is required for model %q", name, settings.Generation.Model)
		}

		notifier := LogNotifier{}
		client := NewClient(creds, store, notifier)
		generator := NewGenerator(client, store, notifier, settings)

		if err := generator.Run(); err != nil {
			log.Fatalf("Generation failed: %v", err)
		}
	},
}

var publishCmd = &cobra.Command{
	Use:   "publish [settings-file]",
	Short: "Post unpublished articles to WordPress",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		settings, store := setup(args)
		defer store.Close()

		password := os.Getenv("WORDPRESS_APP_PASSWORD")
		if err := settings.Publish.Validate(password); err != nil {
			log.Fatalf("Configuration error: %v", err)
		}

		creds := loadCredentials()
		if name, key := requiredKey(creds, settings.Publish.ClassifierModel); key == "" {
			log.Fatalf("%s environment variable is required for model %q", name, settings.Publish.ClassifierModel)
		}

		records, err := store.Articles()
		if err != nil {
			log.Fatalf("Reading articles: %v", err)
		}

		notifier := LogNotifier{}
		client := NewClient(creds, store, notifier)
		publisher := NewPublisher(settings.Publish, password, store, client)

		posted := publisher.PublishAll(records)
		notifier.Notify(fmt.Sprintf("記事の投稿が完了しました。投稿された記事の件数: %d件", posted), "WP記事投稿", 3)
	},
}

var exportCmd = &cobra.Command{
	Use:   "export [settings-file]",
	Short: "Export stored articles as Markdown files",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		settings, store := setup(args)
		defer store.Close()

		exporter := NewExporter(store, settings.OutputDirectory)
		written, err := exporter.ExportAll()
		if err != nil {
			log.Fatalf("Export failed: %v", err)
		}
		log.Printf("Exported %d articles to %s", written, settings.OutputDirectory)
	},
}

// setup loads settings (writing embedded defaults on first run) and opens
// the store. Configuration errors are fatal before any item is processed.
func setup(args []string) (*Settings, *Store) {
	settingsPath := getConfigPath("settings.yaml")
	if len(args) > 0 {
		settingsPath = args[0]
	} else if err := ensureConfigExists(); err != nil {
		log.Fatalf("Ensuring config files exist: %v", err)
	}

	settings, err := loadSettings(settingsPath)
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	store, err := OpenStore(settings.Database)
	if err != nil {
		log.Fatalf("Opening store: %v", err)
	}

	return settings, store
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
	cobra.OnInitialize(func() {
		SetDebugMode(debugMode)
	})

	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(exportCmd)
}

func main() {
	// .env is optional; real environments set the variables directly.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
