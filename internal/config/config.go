package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	GitHub   GitHubConfig   `yaml:"github"`
	LLM      LLMConfig      `yaml:"llm"`
	Scan     ScanConfig     `yaml:"scan"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "postgres"
	DSN    string `yaml:"dsn"`    // file path for sqlite, connection string for postgres
}

type GitHubConfig struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"` // opaque credential, passed through as-is
}

type LLMConfig struct {
	Provider        string `yaml:"provider"` // "openai" or "anthropic"
	Model           string `yaml:"model"`
	BaseURL         string `yaml:"base_url"` // override for tests, empty means provider default
	APIKey          string `yaml:"api_key"`
	MaxBatchTokens  int    `yaml:"max_batch_tokens"`  // context budget for one batch
	MaxOutputTokens int    `yaml:"max_output_tokens"` // completion cap per call
}

type ScanConfig struct {
	WriteBatchSize int `yaml:"write_batch_size"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) ValidateServe() error {
	if c == nil {
		return fmt.Errorf("config is required")
	}
	if c.GitHub.Token == "" {
		return fmt.Errorf("ISSUELENS_GITHUB_TOKEN must be set")
	}
	if c.LLM.APIKey == "" {
		return fmt.Errorf("ISSUELENS_LLM_API_KEY must be set")
	}
	switch c.LLM.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("llm.provider must be openai or anthropic (got %q)", c.LLM.Provider)
	}
	if c.LLM.MaxBatchTokens <= 0 {
		return fmt.Errorf("llm.max_batch_tokens must be positive")
	}
	return nil
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 3000,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "issuelens.db",
		},
		GitHub: GitHubConfig{
			BaseURL: "https://api.github.com",
		},
		LLM: LLMConfig{
			Provider:        "openai",
			Model:           "gpt-4o-mini",
			MaxBatchTokens:  4000,
			MaxOutputTokens: 2000,
		},
		Scan: ScanConfig{
			WriteBatchSize: 25,
		},
	}
}

func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("ISSUELENS_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("ISSUELENS_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("ISSUELENS_DB_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("ISSUELENS_DB_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("ISSUELENS_GITHUB_BASE_URL"); v != "" {
		cfg.GitHub.BaseURL = strings.TrimRight(v, "/")
	}
	if v := os.Getenv("ISSUELENS_GITHUB_TOKEN"); v != "" {
		cfg.GitHub.Token = v
	}
	if v := os.Getenv("ISSUELENS_LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("ISSUELENS_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("ISSUELENS_LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = strings.TrimRight(v, "/")
	}
	if v := os.Getenv("ISSUELENS_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("ISSUELENS_MAX_BATCH_TOKENS"); v != "" {
		if value, err := strconv.Atoi(v); err == nil && value > 0 {
			cfg.LLM.MaxBatchTokens = value
		}
	}
	if v := os.Getenv("ISSUELENS_MAX_OUTPUT_TOKENS"); v != "" {
		if value, err := strconv.Atoi(v); err == nil && value > 0 {
			cfg.LLM.MaxOutputTokens = value
		}
	}
	if v := os.Getenv("ISSUELENS_SCAN_WRITE_BATCH_SIZE"); v != "" {
		if value, err := strconv.Atoi(v); err == nil && value > 0 {
			cfg.Scan.WriteBatchSize = value
		}
	}
}
