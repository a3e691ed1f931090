package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Site        Site        `yaml:"site"`
	Output      Output      `yaml:"output"`
	LLM         LLM         `yaml:"llm"`
	Transcripts Transcripts `yaml:"transcripts"`
	Research    Research    `yaml:"research"`
	Generation  Generation  `yaml:"generation"`
	Runner      Runner      `yaml:"runner"`
	Enhance     Enhance     `yaml:"enhance"`
	Feeds       []Feed      `yaml:"feeds"`
	Server      Server      `yaml:"server"`
	Logging     Logging     `yaml:"logging"`
}

type Site struct {
	BaseURL     string `yaml:"base_url"`
	ArticlePath string `yaml:"article_path"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
}

type LLM struct {
	Provider       string  `yaml:"provider"`
	Model          string  `yaml:"model"`
	OllamaURL      string  `yaml:"ollama_url"`
	OpenAIModel    string  `yaml:"openai_model"`
	OpenAIURL      string  `yaml:"openai_url"`
	APIKeyEnv      string  `yaml:"api_key_env"`
	MaxTokens      int     `yaml:"max_tokens"`
	Temperature    float64 `yaml:"temperature"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
}

type Transcripts struct {
	BaseURL        string `yaml:"base_url"`
	APIKeyEnv      string `yaml:"api_key_env"`
	Lang           string `yaml:"lang"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type Research struct {
	Enabled             bool     `yaml:"enabled"`
	BaseURL             string   `yaml:"base_url"`
	APIKeyEnv           string   `yaml:"api_key_env"`
	Processor           string   `yaml:"processor"`
	TimeoutSeconds      int      `yaml:"timeout_seconds"`
	PollIntervalSeconds int      `yaml:"poll_interval_seconds"`
	ExcludedDomains     []string `yaml:"excluded_domains"`
	LowQualityTokens    []string `yaml:"low_quality_tokens"`
}

type Generation struct {
	DefaultRubric     string `yaml:"default_rubric"`
	JobTimeoutSeconds int    `yaml:"job_timeout_seconds"`
}

type Runner struct {
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`
}

type Enhance struct {
	StaleAfterDays int    `yaml:"stale_after_days"`
	Workers        int    `yaml:"workers"`
	Schedule       string `yaml:"schedule"`
	Limit          int    `yaml:"limit"`
}

type Feed struct {
	URL    string `yaml:"url"`
	Name   string `yaml:"name"`
	Rubric string `yaml:"rubric"`
}

type Server struct {
	Port int `yaml:"port"`
}

type Logging struct {
	Level string `yaml:"level"`
	Mode  string `yaml:"mode"`
}

// ConfigDir returns the XDG config directory for postforge.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "postforge")
}

// DataDir returns the XDG data directory for postforge.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "postforge")
}

// LoadEnv loads .env files into the process environment. Missing files are ignored;
// variables already set are never overwritten.
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env", filepath.Join(ConfigDir(), ".env")}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("loading %s: %w", p, err)
		}
	}
	return nil
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/postforge/config.yaml > ./config.yaml
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
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'postforge init' to create a default config",
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

// Default returns the configuration with every default applied.
func Default() *Config {
	cfg, _ := parse(nil)
	return cfg
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Site: Site{
			BaseURL:     "https://example.com",
			ArticlePath: "artykuly",
		},
		LLM: LLM{
			Provider:       "ollama",
			Model:          "qwen2.5:7b",
			OllamaURL:      "http://localhost:11434",
			OpenAIModel:    "gpt-4o-mini",
			OpenAIURL:      "https://api.openai.com/v1",
			APIKeyEnv:      "OPENAI_API_KEY",
			MaxTokens:      4096,
			Temperature:    0.4,
			TimeoutSeconds: 300,
		},
		Transcripts: Transcripts{
			BaseURL:        "https://api.supadata.ai/v1",
			APIKeyEnv:      "SUPADATA_API_KEY",
			Lang:           "pl",
			TimeoutSeconds: 60,
		},
		Research: Research{
			Enabled:             true,
			BaseURL:             "https://api.parallel.ai",
			APIKeyEnv:           "PARALLEL_API_KEY",
			Processor:           "base",
			TimeoutSeconds:      180,
			PollIntervalSeconds: 5,
			ExcludedDomains:     []string{".ru", ".su"},
			LowQualityTokens:    []string{"blogspot", "wordpress", "pinterest", "reddit"},
		},
		Generation: Generation{
			DefaultRubric:     "Zdrowie i joga",
			JobTimeoutSeconds: 600,
		},
		Runner: Runner{PollIntervalSeconds: 5},
		Enhance: Enhance{
			StaleAfterDays: 15,
			Workers:        2,
		},
		Server:  Server{Port: 8000},
		Logging: Logging{Level: "info", Mode: "dev"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.Site.BaseURL = strings.TrimRight(cfg.Site.BaseURL, "/")
	cfg.Site.ArticlePath = strings.Trim(cfg.Site.ArticlePath, "/")
	return cfg, nil
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

// JobTimeout bounds a single generation, including every external call it makes.
func (c *Config) JobTimeout() time.Duration {
	return seconds(c.Generation.JobTimeoutSeconds, 10*time.Minute)
}

func (c *Config) RunnerPollInterval() time.Duration {
	return seconds(c.Runner.PollIntervalSeconds, 5*time.Second)
}

func (c *Config) ResearchTimeout() time.Duration {
	return seconds(c.Research.TimeoutSeconds, 3*time.Minute)
}

func (c *Config) ResearchPollInterval() time.Duration {
	return seconds(c.Research.PollIntervalSeconds, 5*time.Second)
}

func (c *Config) TranscriptTimeout() time.Duration {
	return seconds(c.Transcripts.TimeoutSeconds, time.Minute)
}

// StaleAfter is the age past which a post becomes eligible for enhancement.
func (c *Config) StaleAfter() time.Duration {
	days := c.Enhance.StaleAfterDays
	if days <= 0 {
		days = 15
	}
	return time.Duration(days) * 24 * time.Hour
}

func seconds(n int, fallback time.Duration) time.Duration {
	if n <= 0 {
		return fallback
	}
	return time.Duration(n) * time.Second
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
