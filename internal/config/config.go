package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Providers   map[string]ProviderConfig `json:"providers"`
	Redis       RedisConfig               `json:"redis"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	MCP         MCPConfig                 `json:"mcp"`
}

type BasicConfig struct {
	ServerAddress     string `json:"server_address"`
	Provider          string `json:"provider"`
	ContextWindowSize int    `json:"context_window_size"`
	MaxMessages       int    `json:"max_messages"`
	MaxConcurrency    int    `json:"max_concurrency"`
	StepTimeoutSec    int    `json:"step_timeout_sec"`
	SessionMaxAgeMin  int    `json:"session_max_age_min"`
	Persistence       string `json:"persistence"` // "", "redis", "sqlite3", "mysql"
	ResourceDir       string `json:"resource_dir"`
	MinWorkers        int    `json:"min_workers"`
	MaxWorkers        int    `json:"max_workers"`
	QueueSize         int    `json:"queue_size"`
	WorkerIdleMin     int    `json:"worker_idle_min"`
}

type ProviderConfig struct {
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
	APIKey  string `json:"api_key"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

// MCPConfig describes how to reach the MCP server the orchestrator calls
// tools on. Command is launched over stdio.
type MCPConfig struct {
	Command string   `json:"command"`
	Args    []string `json:"args"`
	Env     []string `json:"env"`
}

// Load reads configuration from the provided path (defaults to
// config.json). A .env file next to the binary, when present, is loaded
// first so ${VAR}-style secrets can stay out of the JSON file.
func Load(path string) (*Config, error) {
	// Missing .env is fine; only report unexpected failures.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	if path == "" {
		path = "config.json"
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyDefaults()
	cfg.expandEnv()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.BasicConfig.ServerAddress == "" {
		c.BasicConfig.ServerAddress = ":8080"
	}
	if c.BasicConfig.ContextWindowSize <= 0 {
		c.BasicConfig.ContextWindowSize = 10
	}
	if c.BasicConfig.MaxMessages <= 0 {
		c.BasicConfig.MaxMessages = 5
	}
	if c.BasicConfig.MaxConcurrency <= 0 {
		c.BasicConfig.MaxConcurrency = 3
	}
	if c.BasicConfig.StepTimeoutSec <= 0 {
		c.BasicConfig.StepTimeoutSec = 30
	}
	if c.BasicConfig.Provider == "" {
		c.BasicConfig.Provider = "openai"
	}
	if c.BasicConfig.MinWorkers <= 0 {
		c.BasicConfig.MinWorkers = 2
	}
	if c.BasicConfig.MaxWorkers < c.BasicConfig.MinWorkers {
		c.BasicConfig.MaxWorkers = c.BasicConfig.MinWorkers * 4
	}
	if c.BasicConfig.QueueSize <= 0 {
		c.BasicConfig.QueueSize = 64
	}
	if c.BasicConfig.WorkerIdleMin <= 0 {
		c.BasicConfig.WorkerIdleMin = 5
	}
}

// expandEnv resolves ${VAR} references in secret-bearing fields.
func (c *Config) expandEnv() {
	for name, p := range c.Providers {
		p.APIKey = os.ExpandEnv(p.APIKey)
		c.Providers[name] = p
	}
	c.Redis.Password = os.ExpandEnv(c.Redis.Password)
	for name, db := range c.Databases {
		db.Password = os.ExpandEnv(db.Password)
		db.DSN = os.ExpandEnv(db.DSN)
		c.Databases[name] = db
	}
}
