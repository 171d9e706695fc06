package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	NCP struct {
		Type           string        `yaml:"type"` // "remote"
		Broker         string        `yaml:"broker"`
		Username       string        `yaml:"username"`
		Password       string        `yaml:"password"`
		TopicPrefix    string        `yaml:"topic_prefix"`
		RequestTimeout time.Duration `yaml:"request_timeout"`
	} `yaml:"ncp"`
	Web struct {
		Listen         string   `yaml:"listen"`
		APIKey         string   `yaml:"api_key"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"web"`
	Store struct {
		Path string `yaml:"path"`
	} `yaml:"store"`
	MQTT struct {
		Enabled     bool   `yaml:"enabled"`
		Broker      string `yaml:"broker"`
		Username    string `yaml:"username"`
		Password    string `yaml:"password"`
		TopicPrefix string `yaml:"topic_prefix"`
	} `yaml:"mqtt"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	DevicesDir string `yaml:"devices_dir"`
	ScriptsDir string `yaml:"scripts_dir"`
}

func (c *Config) validate() error {
	if c.NCP.Type != "remote" {
		return fmt.Errorf("unknown ncp.type %q (supported: remote)", c.NCP.Type)
	}
	if c.NCP.Broker == "" {
		return errors.New("ncp.broker is required")
	}
	if c.NCP.RequestTimeout <= 0 {
		return fmt.Errorf("ncp.request_timeout must be positive, got %s", c.NCP.RequestTimeout)
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return errors.New("mqtt.broker is required when mqtt is enabled")
	}
	return nil
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return parseConfig(data)
}

func parseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.NCP.Type == "" {
		cfg.NCP.Type = "remote"
	}
	if cfg.NCP.TopicPrefix == "" {
		cfg.NCP.TopicPrefix = "zigbee-radio"
	}
	if cfg.NCP.RequestTimeout == 0 {
		cfg.NCP.RequestTimeout = 10 * time.Second
	}
	if cfg.Web.Listen == "" {
		cfg.Web.Listen = "127.0.0.1:8080"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "zigbee-endpoints.db"
	}
	if cfg.DevicesDir == "" {
		cfg.DevicesDir = "devices"
	}
	if cfg.ScriptsDir == "" {
		cfg.ScriptsDir = "scripts"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "zigbee2mqtt"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	return &cfg, nil
}

func newLogger(cfg *Config, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}
