// Package config layers engine settings from defaults, an optional TOML
// file, .env files, and process environment, in that order of increasing
// precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

type Config struct {
	StateDir string `toml:"state_dir"`
	LogLevel string `toml:"log_level"`

	Chunking  Chunking  `toml:"chunking"`
	Embedding Embedding `toml:"embedding"`
	Retrieval Retrieval `toml:"retrieval"`
	OpenAI    OpenAI    `toml:"openai"`
	CLIP      CLIP      `toml:"clip"`
	Retry     Retry     `toml:"retry"`
}

type Chunking struct {
	MaxChunkTokens int `toml:"max_chunk_tokens"`
	OverlapTokens  int `toml:"overlap_tokens"`
}

type Embedding struct {
	Dim         int `toml:"dim"`
	Concurrency int `toml:"concurrency"`
	// RateLimitRPS caps embedding calls per second across workers; zero
	// disables throttling.
	RateLimitRPS   float64 `toml:"rate_limit_rps"`
	RateLimitBurst int     `toml:"rate_limit_burst"`
}

type Retrieval struct {
	K           int     `toml:"k"`
	Threshold   float64 `toml:"threshold"`
	TokenBudget int     `toml:"token_budget"`
}

type OpenAI struct {
	APIKey          string   `toml:"-"`
	BaseURL         string   `toml:"base_url"`
	EmbedModel      string   `toml:"embed_model"`
	ChatModel       string   `toml:"chat_model"`
	EncodeTimeout   Duration `toml:"encode_timeout"`
	GenerateTimeout Duration `toml:"generate_timeout"`
}

type CLIP struct {
	BaseURL string `toml:"base_url"`
	APIKey  string `toml:"-"`
}

type Retry struct {
	MaxAttempts int      `toml:"max_attempts"`
	BaseDelay   Duration `toml:"base_delay"`
}

// Duration decodes TOML strings like "30s" into a time.Duration.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

func Default() Config {
	return Config{
		StateDir: filepath.Join(".", ".docrag"),
		LogLevel: "info",
		Chunking: Chunking{
			MaxChunkTokens: 400,
			OverlapTokens:  60,
		},
		Embedding: Embedding{
			Dim:            1024,
			Concurrency:    4,
			RateLimitRPS:   8,
			RateLimitBurst: 4,
		},
		Retrieval: Retrieval{
			K:           12,
			Threshold:   0.35,
			TokenBudget: 2048,
		},
		OpenAI: OpenAI{
			EmbedModel:      "text-embedding-3-small",
			ChatModel:       "gpt-4o-mini",
			EncodeTimeout:   Duration(30 * time.Second),
			GenerateTimeout: Duration(90 * time.Second),
		},
		Retry: Retry{
			MaxAttempts: 3,
			BaseDelay:   Duration(500 * time.Millisecond),
		},
	}
}

// Load builds the effective configuration. An empty path skips the file
// layer; a named file that does not exist is an error, so typos surface.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("load config %s: %w", path, err)
		}
	}

	if err := loadDotEnvPrecedence(); err != nil {
		return Config{}, err
	}
	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// loadDotEnvPrecedence reads .env then .env.local without clobbering
// variables already set in the process environment.
func loadDotEnvPrecedence() error {
	for _, name := range []string{".env", ".env.local"} {
		values, err := godotenv.Read(name)
		if err != nil {
			continue
		}
		for k, v := range values {
			if _, exists := os.LookupEnv(k); !exists {
				if setErr := os.Setenv(k, v); setErr != nil {
					return setErr
				}
			}
		}
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("DOCRAG_STATE_DIR")); v != "" {
		cfg.StateDir = v
	}
	if v := strings.TrimSpace(os.Getenv("DOCRAG_LOG_LEVEL")); v != "" {
		cfg.LogLevel = v
	}
	if v := strings.TrimSpace(os.Getenv("DOCRAG_EMBED_DIM")); v != "" {
		if dim, err := strconv.Atoi(v); err == nil && dim > 0 {
			cfg.Embedding.Dim = dim
		}
	}
	if v := strings.TrimSpace(os.Getenv("DOCRAG_EMBED_CONCURRENCY")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Embedding.Concurrency = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("DOCRAG_RETRIEVAL_K")); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			cfg.Retrieval.K = k
		}
	}
	if v := strings.TrimSpace(os.Getenv("DOCRAG_RETRIEVAL_THRESHOLD")); v != "" {
		if th, err := strconv.ParseFloat(v, 64); err == nil && th >= 0 {
			cfg.Retrieval.Threshold = th
		}
	}
	if v := strings.TrimSpace(os.Getenv("DOCRAG_TOKEN_BUDGET")); v != "" {
		if b, err := strconv.Atoi(v); err == nil && b > 0 {
			cfg.Retrieval.TokenBudget = b
		}
	}
	if v := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); v != "" {
		cfg.OpenAI.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")); v != "" {
		cfg.OpenAI.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("DOCRAG_EMBED_MODEL")); v != "" {
		cfg.OpenAI.EmbedModel = v
	}
	if v := strings.TrimSpace(os.Getenv("DOCRAG_CHAT_MODEL")); v != "" {
		cfg.OpenAI.ChatModel = v
	}
	if v := strings.TrimSpace(os.Getenv("DOCRAG_CLIP_BASE_URL")); v != "" {
		cfg.CLIP.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("DOCRAG_CLIP_API_KEY")); v != "" {
		cfg.CLIP.APIKey = v
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.StateDir) == "" {
		return errors.New("state_dir must not be empty")
	}
	if c.Chunking.MaxChunkTokens <= 0 {
		return errors.New("chunking.max_chunk_tokens must be positive")
	}
	if c.Chunking.OverlapTokens < 0 || c.Chunking.OverlapTokens >= c.Chunking.MaxChunkTokens {
		return errors.New("chunking.overlap_tokens must be in [0, max_chunk_tokens)")
	}
	if c.Embedding.Dim <= 0 {
		return errors.New("embedding.dim must be positive")
	}
	if c.Retrieval.K <= 0 {
		return errors.New("retrieval.k must be positive")
	}
	if c.Retrieval.Threshold < 0 || c.Retrieval.Threshold > 1 {
		return errors.New("retrieval.threshold must be in [0, 1]")
	}
	if c.Retrieval.TokenBudget <= 0 {
		return errors.New("retrieval.token_budget must be positive")
	}
	return nil
}

// DatabasePath is where the knowledge store lives under the state dir.
func (c Config) DatabasePath() string {
	return filepath.Join(c.StateDir, "knowledge.db")
}

// ObjectsDir is where raw document bytes live under the state dir.
func (c Config) ObjectsDir() string {
	return filepath.Join(c.StateDir, "objects")
}
