package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LLM       LLMConfig       `yaml:"llm"`
	NATS      NATSConfig      `yaml:"nats"`
	Store     StoreConfig     `yaml:"store"`
	Memory    MemoryConfig    `yaml:"memory"`
	Engine    EngineConfig    `yaml:"engine"`
	Tools     ToolsConfig     `yaml:"tools"`
	Vault     VaultConfig     `yaml:"vault"`
	Web       WebConfig       `yaml:"web"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

type LLMConfig struct {
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	RouterModel string        `yaml:"router_model"`
	MaxTokens   int           `yaml:"max_tokens"`
	Breaker     BreakerConfig `yaml:"breaker"`
}

// BreakerConfig tunes the circuit breaker in front of the reasoning backend.
type BreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures"`
	Cooldown    time.Duration `yaml:"cooldown"`
	Interval    time.Duration `yaml:"interval"`
}

type NATSConfig struct {
	Port    int    `yaml:"port"`
	DataDir string `yaml:"data_dir"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type MemoryConfig struct {
	TTL     time.Duration `yaml:"ttl"`
	Encrypt bool          `yaml:"encrypt"`
}

type EngineConfig struct {
	TurnTimeout       time.Duration `yaml:"turn_timeout"`
	NodeTimeout       time.Duration `yaml:"node_timeout"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	MaxToolIterations int           `yaml:"max_tool_iterations"`
}

type ToolsConfig struct {
	MCPServers map[string]MCPServer `yaml:"mcp_servers"`
}

// MCPServer defines one MCP tool server (stdio or http transport).
// Env and header values may reference vault entries as "secret:NAME".
type MCPServer struct {
	Type    string            `yaml:"type"`
	Command string            `yaml:"command,omitempty"`
	Args    []string          `yaml:"args,omitempty"`
	URL     string            `yaml:"url,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
}

type VaultConfig struct {
	Passphrase string `yaml:"passphrase"`
}

type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Auth    string `yaml:"auth"`
}

type TelegramConfig struct {
	Token     string  `yaml:"token"`
	AllowFrom []int64 `yaml:"allow_from"`
}

type SchedulerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

func defaults() Config {
	return Config{
		LLM: LLMConfig{
			Model:       "claude-sonnet-4-5",
			RouterModel: "claude-haiku-4-5",
			MaxTokens:   2048,
			Breaker: BreakerConfig{
				MaxFailures: 5,
				Cooldown:    30 * time.Second,
				Interval:    60 * time.Second,
			},
		},
		NATS: NATSConfig{
			Port:    4222,
			DataDir: "data/nats",
		},
		Store: StoreConfig{
			Path: "data/navigator.db",
		},
		Memory: MemoryConfig{
			TTL: 30 * time.Minute,
		},
		Engine: EngineConfig{
			TurnTimeout:       120 * time.Second,
			NodeTimeout:       30 * time.Second,
			RequestTimeout:    10 * time.Second,
			MaxToolIterations: 5,
		},
		Web: WebConfig{
			Enabled: true,
			Port:    8080,
		},
		Scheduler: SchedulerConfig{
			PollInterval: 30 * time.Second,
		},
	}
}

func Load() (*Config, error) {
	cfg := defaults()

	path := os.Getenv("NAVIGATOR_CONFIG")
	if path == "" {
		path = "config/navigator.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file not found, use defaults + env
	} else {
		// Expand environment variables in YAML
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	applyEnv(&cfg)

	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("NAVIGATOR_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("NAVIGATOR_TELEGRAM_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("NAVIGATOR_WEB_PASSWORD"); v != "" {
		cfg.Web.Auth = v
	}
	if v := os.Getenv("NAVIGATOR_WEB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Web.Port = port
		}
	}
	if v := os.Getenv("NAVIGATOR_NATS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.NATS.Port = port
		}
	}
	if v := os.Getenv("NAVIGATOR_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("NAVIGATOR_VAULT_PASSPHRASE"); v != "" {
		cfg.Vault.Passphrase = v
	}
	if v := os.Getenv("NAVIGATOR_MEMORY_TTL"); v != "" {
		if ttl, err := time.ParseDuration(v); err == nil {
			cfg.Memory.TTL = ttl
		}
	}
}
