package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"github.com/statpipe/statpipe/internal/logger"
	"github.com/statpipe/statpipe/pkg/config"
	"github.com/statpipe/statpipe/pkg/extract"
	"github.com/statpipe/statpipe/pkg/index"
	"github.com/statpipe/statpipe/pkg/pipeline"
	"github.com/statpipe/statpipe/pkg/scraper"
)

type flags struct {
	configPath string
	mode       string
	sourceURL  string
	dataDir    string
	stagingDir string
	startPage  int
	maxPages   int
	rateLimit  float64
}

func main() {
	if err := run(parseFlags()); err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

func parseFlags() flags {
	var f flags

	flag.StringVar(&f.configPath, "config", "", "Path to config file")
	flag.StringVar(&f.mode, "mode", "", "Run mode: SETUP or UPDATE")
	flag.StringVar(&f.sourceURL, "source-url", "", "Listing base URL, pages live at <base><n>/")
	flag.StringVar(&f.dataDir, "data-dir", "", "Committed store directory")
	flag.StringVar(&f.stagingDir, "staging-dir", "", "Staging area directory")
	flag.IntVar(&f.startPage, "start-page", 0, "First listing page to walk")
	flag.IntVar(&f.maxPages, "max-pages", 0, "Maximum listing pages to walk (0 = no cap)")
	flag.Float64Var(&f.rateLimit, "rate-limit", 0, "Download rate limit in requests/sec")
	flag.Parse()

	return f
}

// loadConfig reads the config file and lets command line flags
// override the values it carries.
func loadConfig(f flags) (*config.Config, error) {
	cfg, err := config.LoadConfig(f.configPath)
	if err != nil {
		return nil, err
	}

	if f.mode != "" {
		cfg.Mode = f.mode
	}
	if f.sourceURL != "" {
		cfg.Source.BaseURL = f.sourceURL
	}
	if f.dataDir != "" {
		cfg.DataDir = f.dataDir
	}
	if f.stagingDir != "" {
		cfg.StagingDir = f.stagingDir
	}
	if f.startPage != 0 {
		cfg.Source.StartPage = f.startPage
	}
	if f.maxPages != 0 {
		cfg.Source.MaxPages = f.maxPages
	}
	if f.rateLimit != 0 {
		cfg.Source.RateLimit = f.rateLimit
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			color.Red("config: %v", e)
		}
		return nil, fmt.Errorf("invalid configuration")
	}
	if cfg.Source.BaseURL == "" {
		return nil, fmt.Errorf("a source URL is required (-source-url or source.base_url)")
	}
	return cfg, nil
}

func getProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("files"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func getSpinner(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func run(f flags) error {
	cfg, err := loadConfig(f)
	if err != nil {
		return err
	}

	log := logger.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	discoverSpinner := getSpinner("🔍 Discovering publications...")
	source, err := scraper.NewWithConfig(scraper.ScraperConfig{
		BaseURL:   cfg.Source.BaseURL,
		StartPage: cfg.Source.StartPage,
		MaxPages:  cfg.Source.MaxPages,
		RateLimit: cfg.Source.RateLimit,
		OnProgress: func(string) {
			discoverSpinner.Add(1)
		},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize scraper: %v", err)
	}

	embedder, err := index.NewOllamaEmbedder(index.OllamaConfig{
		Model:   cfg.Embedding.Model,
		BaseURL: cfg.Embedding.BaseURL,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize embedder: %v", err)
	}

	downloadBar := getProgressBar(-1, "📄 Downloading publications...")
	coordinator, err := pipeline.NewWithOptions(pipeline.Options{
		Config:    cfg,
		Source:    source,
		Extractor: extract.NewPDFExtractor(),
		Embedder:  embedder,
		Logger:    log,
		OnDownload: func(string) {
			downloadBar.Add(1)
		},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize pipeline: %v", err)
	}

	color.Blue("\nStarting %s run against %s\n", cfg.Mode, cfg.Source.BaseURL)

	report, err := coordinator.Run(context.Background())
	discoverSpinner.Finish()
	downloadBar.Finish()
	fmt.Print("\n")
	printReport(report)
	return err
}

func printReport(report *pipeline.Report) {
	switch report.State {
	case pipeline.StateSkipped:
		color.Yellow("Nothing to do: %d publications listed, all already known.\n", report.Discovered)
	case pipeline.StateMerged:
		color.Green("✓ Merged %d documents (%d chunks, %d vectors, %d files moved)\n",
			report.Documents, report.Chunks, report.Vectors, report.Moved)
		for _, m := range report.Superseded {
			color.Cyan("  %s supersedes %s (score %d)", m.Staged, m.Committed, m.Score)
		}
	case pipeline.StateFailed:
		color.Red("✗ Run failed; the staging area was kept for inspection.\n")
	}

	if len(report.Errors) > 0 {
		color.Red("\n%d documents failed:", len(report.Errors))
		for _, e := range report.Errors {
			color.Red("  %v", e)
		}
	}
}
