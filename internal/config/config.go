package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	ListenPort       int           `yaml:"listenPort"`
	TunnelBinaryPath string        `yaml:"tunnelBinaryPath"`
	MasterSecret     string        `yaml:"masterSecret"`
	GinMode          string        `yaml:"ginMode"`
	TokenExpiry      time.Duration `yaml:"-"`
	MaxConversations int           `yaml:"maxConversations"`
}

type Env interface {
	Getenv(key string) string
}

type osEnv struct{}

func (osEnv) Getenv(key string) string { return os.Getenv(key) }

func LoadConfig(settingsFile string) (Config, error) {
	return LoadConfigFrom(osEnv{}, settingsFile)
}

// LoadConfigFrom builds the config from defaults, then the optional YAML
// settings file, then environment overrides. The master secret signs
// endpoint bearer tokens; a fresh one is generated per process when not
// supplied, since tokens only need to outlive the emulator itself.
func LoadConfigFrom(env Env, settingsFile string) (Config, error) {
	cfg := Config{
		ListenPort:  9002,
		GinMode:     "release",
		TokenExpiry: 7 * 24 * time.Hour,
	}

	if settingsFile != "" {
		data, err := os.ReadFile(settingsFile)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("read settings file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse settings file: %w", err)
		}
	}

	if raw := env.Getenv("PORT"); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil || port <= 0 || port > 65535 {
			return Config{}, fmt.Errorf("invalid PORT")
		}
		cfg.ListenPort = port
	}

	if raw := env.Getenv("TUNNEL_BINARY"); raw != "" {
		cfg.TunnelBinaryPath = raw
	}

	if raw := env.Getenv("MASTER_SECRET"); raw != "" {
		cfg.MasterSecret = raw
	}
	if cfg.MasterSecret == "" {
		secret := make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return Config{}, err
		}
		cfg.MasterSecret = hex.EncodeToString(secret)
	}

	if raw := env.Getenv("GIN_MODE"); raw != "" {
		cfg.GinMode = raw
	}

	if raw := env.Getenv("TOKEN_EXPIRY_SECONDS"); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil || seconds <= 0 {
			return Config{}, fmt.Errorf("invalid TOKEN_EXPIRY_SECONDS")
		}
		cfg.TokenExpiry = time.Duration(seconds) * time.Second
	}

	if raw := env.Getenv("MAX_CONVERSATIONS"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("invalid MAX_CONVERSATIONS")
		}
		cfg.MaxConversations = n
	}

	if cfg.ListenPort <= 0 || cfg.ListenPort > 65535 {
		return Config{}, fmt.Errorf("invalid listenPort %d", cfg.ListenPort)
	}

	return cfg, nil
}
