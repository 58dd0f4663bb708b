package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/0xAtelerix/yieldchain/application"
)

const (
	DefaultDataDir = "./data"
	DefaultRPCPort = ":8080"
	envPrefix      = "YIELDCHAIN_"
)

// Config holds the node configuration.
type Config struct {
	// DataDir holds the state database.
	DataDir string `yaml:"data_dir"`

	// RPCPort is the HTTP address for the JSON-RPC server.
	RPCPort string `yaml:"rpc_port"`

	// LogLevel is the zerolog log level (-1=trace, 1=info, 2=warn, 3=error).
	// Zero selects info.
	LogLevel int `yaml:"log_level"`

	// PoolCapacity bounds the number of pending transactions.
	PoolCapacity int `yaml:"pool_capacity"`

	// Chain configures the protocol components.
	Chain application.Config `yaml:"chain"`

	// Genesis is written into an empty database on first start.
	Genesis application.Genesis `yaml:"genesis"`
}

// DefaultConfig returns a config with all defaults applied.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()

	return cfg
}

// LoadConfig loads configuration from a YAML file, then applies YIELDCHAIN_*
// environment overrides. A .env file in the working directory is loaded first
// when present.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}

		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	return &cfg, nil
}

func (c *Config) applyEnv() error {
	c.DataDir = getEnv("DATA_DIR", c.DataDir)
	c.RPCPort = getEnv("RPC_PORT", c.RPCPort)
	c.LogLevel = getEnvAsInt("LOG_LEVEL", c.LogLevel)
	c.PoolCapacity = getEnvAsInt("POOL_CAPACITY", c.PoolCapacity)
	c.Chain.Keeper.Schedule = getEnv("KEEPER_SCHEDULE", c.Chain.Keeper.Schedule)

	interval, err := getEnvAsDuration("BLOCK_INTERVAL", c.Chain.BlockInterval)
	if err != nil {
		return err
	}

	c.Chain.BlockInterval = interval

	return nil
}

// applyDefaults sets default values for unset fields.
func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}

	if c.RPCPort == "" {
		c.RPCPort = DefaultRPCPort
	}

	if c.LogLevel == 0 {
		c.LogLevel = int(zerolog.InfoLevel)
	}

	if c.PoolCapacity == 0 {
		c.PoolCapacity = application.DefaultPoolCapacity
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(envPrefix + key); value != "" {
		return value
	}

	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(envPrefix + key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}

	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(envPrefix + key)
	if value == "" {
		return defaultValue, nil
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s%s: %w", envPrefix, key, err)
	}

	return d, nil
}
