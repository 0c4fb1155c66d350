package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Run modes. SETUP builds a committed store from scratch; UPDATE runs
// the staged incremental pipeline against an existing store.
const (
	ModeSetup  = "SETUP"
	ModeUpdate = "UPDATE"
)

type Config struct {
	Mode       string `yaml:"mode"`
	DataDir    string `yaml:"data_dir"`
	StagingDir string `yaml:"staging_dir"`

	Source struct {
		BaseURL     string  `yaml:"base_url"`
		StartPage   int     `yaml:"start_page"`
		MaxPages    int     `yaml:"max_pages"`
		RateLimit   float64 `yaml:"rate_limit"`
		TimeoutSecs int     `yaml:"timeout_secs"`
	} `yaml:"source"`

	Chunking struct {
		MaxLength int `yaml:"max_length"`
		Overlap   int `yaml:"overlap"`
		MinLength int `yaml:"min_length"`
	} `yaml:"chunking"`

	Embedding struct {
		BaseURL string `yaml:"base_url"`
		Model   string `yaml:"model"`
	} `yaml:"embedding"`

	Resolver struct {
		FuzzyMatchThreshold int  `yaml:"fuzzy_match_threshold"`
		FilterLatestOnly    bool `yaml:"filter_latest_only"`
	} `yaml:"resolver"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

func LoadConfig(path string) (*Config, error) {
	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/statpipe/config.yaml"),
			"/etc/statpipe/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %v", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %v", err)
	}

	mergeWithEnv(&config)
	applyDefaults(&config)

	return &config, nil
}

func getDefaultConfig() (*Config, error) {
	config := &Config{}
	applyDefaults(config)
	mergeWithEnv(config)
	return config, nil
}

func applyDefaults(config *Config) {
	if config.Mode == "" {
		config.Mode = ModeUpdate
	}
	if config.DataDir == "" {
		config.DataDir = "data"
	}
	if config.StagingDir == "" {
		config.StagingDir = filepath.Join(config.DataDir, "stage")
	}

	if config.Source.StartPage == 0 {
		config.Source.StartPage = 1
	}
	if config.Source.RateLimit == 0 {
		config.Source.RateLimit = 2.0
	}
	if config.Source.TimeoutSecs == 0 {
		config.Source.TimeoutSecs = 30
	}

	if config.Chunking.MaxLength == 0 {
		config.Chunking.MaxLength = 1000
	}
	if config.Chunking.Overlap == 0 {
		config.Chunking.Overlap = 100
	}
	if config.Chunking.MinLength == 0 {
		config.Chunking.MinLength = 50
	}

	if config.Embedding.BaseURL == "" {
		config.Embedding.BaseURL = "http://localhost:11434"
	}
	if config.Embedding.Model == "" {
		config.Embedding.Model = "nomic-embed-text:latest"
	}

	if config.Resolver.FuzzyMatchThreshold == 0 {
		config.Resolver.FuzzyMatchThreshold = 75
	}

	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
	if config.Log.Format == "" {
		config.Log.Format = "text"
	}
}

func mergeWithEnv(config *Config) {
	if baseURL := os.Getenv("STATPIPE_SOURCE_URL"); baseURL != "" {
		config.Source.BaseURL = baseURL
	}
	if ollamaURL := os.Getenv("OLLAMA_BASE_URL"); ollamaURL != "" {
		config.Embedding.BaseURL = ollamaURL
	}
	if dataDir := os.Getenv("STATPIPE_DATA_DIR"); dataDir != "" {
		config.DataDir = dataDir
	}
}
