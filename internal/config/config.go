package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/TobiSchelling/NewsDesk/internal/news"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Sources    []Source   `yaml:"sources"`
	Ingest     Ingest     `yaml:"ingest"`
	Enrichment Enrichment `yaml:"enrichment"`
	Cache      Cache      `yaml:"cache"`
	Sinks      Sinks      `yaml:"sinks"`
	Output     Output     `yaml:"output"`
	Server     Server     `yaml:"server"`
	Logging    Logging    `yaml:"logging"`
}

// Source seeds the source registry on first start.
type Source struct {
	ID              string `yaml:"id"`
	Name            string `yaml:"name"`
	URL             string `yaml:"url"`
	Type            string `yaml:"type"`
	LogoURL         string `yaml:"logo_url"`
	ContentSelector string `yaml:"content_selector"`
	Active          bool   `yaml:"active"`
}

type Ingest struct {
	Interval                    time.Duration `yaml:"interval"`
	MaxItemsPerFeed             int           `yaml:"max_items_per_feed"`
	FeedTimeout                 time.Duration `yaml:"feed_timeout"`
	PageTimeout                 time.Duration `yaml:"page_timeout"`
	SimilarityThreshold         float64       `yaml:"similarity_threshold"`
	RecentWindowDays            int           `yaml:"recent_window_days"`
	SummaryLength               int           `yaml:"summary_length"`
	MinContentLength            int           `yaml:"min_content_length"`
	SufficientDescriptionLength int           `yaml:"sufficient_description_length"`
	EnrichmentBatchSize         int           `yaml:"enrichment_batch_size"`
	SourceConcurrency           int           `yaml:"source_concurrency"`
	ItemConcurrency             int           `yaml:"item_concurrency"`
	UserAgent                   string        `yaml:"user_agent"`
}

type Enrichment struct {
	Enabled     bool   `yaml:"enabled"`
	Provider    string `yaml:"provider"`
	Model       string `yaml:"model"`
	OllamaURL   string `yaml:"ollama_url"`
	OpenAIModel string `yaml:"openai_model"`
	APIKeyEnv   string `yaml:"api_key_env"`
	MaxTokens   int    `yaml:"max_tokens"`
}

type Cache struct {
	RedisAddr string        `yaml:"redis_addr"`
	TTL       time.Duration `yaml:"ttl"`
}

type Sinks struct {
	Kafka         KafkaSink         `yaml:"kafka"`
	Elasticsearch ElasticsearchSink `yaml:"elasticsearch"`
}

type KafkaSink struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type ElasticsearchSink struct {
	Addr  string `yaml:"addr"`
	Index string `yaml:"index"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
}

type Server struct {
	Port int `yaml:"port"`
}

type Logging struct {
	Level string `yaml:"level"`
}

// ConfigDir returns the XDG config directory for newsdesk.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "newsdesk")
}

// DataDir returns the XDG data directory for newsdesk.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "newsdesk")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/newsdesk/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'newsdesk init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// Default returns the configuration baked into the binary.
func Default() *Config {
	cfg, err := parse(DefaultConfigYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded default config: %v", err))
	}
	return cfg
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Ingest: Ingest{
			Interval:                    5 * time.Minute,
			MaxItemsPerFeed:             10,
			FeedTimeout:                 15 * time.Second,
			PageTimeout:                 8 * time.Second,
			SimilarityThreshold:         0.6,
			RecentWindowDays:            3,
			SummaryLength:               200,
			MinContentLength:            100,
			SufficientDescriptionLength: 500,
			EnrichmentBatchSize:         15,
			SourceConcurrency:           8,
			ItemConcurrency:             4,
			UserAgent:                   "Mozilla/5.0 (compatible; NewsDesk/1.0; +https://github.com/TobiSchelling/NewsDesk)",
		},
		Enrichment: Enrichment{
			Enabled:     true,
			Provider:    "ollama",
			Model:       "qwen2.5:7b",
			OllamaURL:   "http://localhost:11434",
			OpenAIModel: "gpt-4o-mini",
			APIKeyEnv:   "OPENAI_API_KEY",
			MaxTokens:   1024,
		},
		Cache: Cache{TTL: 24 * time.Hour},
		Sinks: Sinks{
			Kafka:         KafkaSink{Topic: "news_candidates"},
			Elasticsearch: ElasticsearchSink{Index: "news"},
		},
		Server:  Server{Port: 8000},
		Logging: Logging{Level: "INFO"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the ingestion core cannot run with.
func (c *Config) Validate() error {
	in := c.Ingest
	switch {
	case in.Interval <= 0:
		return fmt.Errorf("ingest.interval must be positive")
	case in.MaxItemsPerFeed <= 0:
		return fmt.Errorf("ingest.max_items_per_feed must be positive")
	case in.PageTimeout <= 0 || in.FeedTimeout <= 0:
		return fmt.Errorf("ingest timeouts must be positive")
	case in.SimilarityThreshold <= 0 || in.SimilarityThreshold > 1:
		return fmt.Errorf("ingest.similarity_threshold must be in (0, 1], got %v", in.SimilarityThreshold)
	case in.RecentWindowDays <= 0:
		return fmt.Errorf("ingest.recent_window_days must be positive")
	case in.SummaryLength <= 0:
		return fmt.Errorf("ingest.summary_length must be positive")
	case in.EnrichmentBatchSize <= 0:
		return fmt.Errorf("ingest.enrichment_batch_size must be positive")
	}

	seen := make(map[string]bool, len(c.Sources))
	for _, s := range c.Sources {
		if s.ID == "" || s.URL == "" {
			return fmt.Errorf("source %q: id and url are required", s.Name)
		}
		if seen[s.ID] {
			return fmt.Errorf("source id %q is duplicated", s.ID)
		}
		seen[s.ID] = true
		if _, err := news.ParseSelector(s.ContentSelector); err != nil {
			return fmt.Errorf("source %q: %w", s.ID, err)
		}
	}
	return nil
}

// SeedSources converts the configured source list into registry entries.
func (c *Config) SeedSources() []news.Source {
	out := make([]news.Source, 0, len(c.Sources))
	for _, s := range c.Sources {
		sel, _ := news.ParseSelector(s.ContentSelector) // checked by Validate
		out = append(out, news.Source{
			ID:       s.ID,
			Name:     s.Name,
			URL:      s.URL,
			Kind:     news.ParseKind(s.Type),
			LogoURL:  s.LogoURL,
			Selector: sel,
			Active:   s.Active,
		})
	}
	return out
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
