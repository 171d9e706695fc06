package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := parseConfig([]byte("ncp:\n  broker: tcp://localhost:1883\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.NCP.Type != "remote" || cfg.NCP.TopicPrefix != "zigbee-radio" || cfg.NCP.RequestTimeout != 10*time.Second {
		t.Errorf("ncp = %+v", cfg.NCP)
	}
	if cfg.Web.Listen != "127.0.0.1:8080" || cfg.Store.Path != "zigbee-endpoints.db" {
		t.Errorf("web/store = %+v %+v", cfg.Web, cfg.Store)
	}
	if cfg.MQTT.TopicPrefix != "zigbee2mqtt" || cfg.ScriptsDir != "scripts" || cfg.DevicesDir != "devices" {
		t.Errorf("mqtt/dirs = %+v %q %q", cfg.MQTT, cfg.ScriptsDir, cfg.DevicesDir)
	}
	if err := cfg.validate(); err != nil {
		t.Errorf("validate: %v", err)
	}
}

func TestParseConfigValues(t *testing.T) {
	data := `
ncp:
  broker: tcp://radio:1883
  topic_prefix: radio
  request_timeout: 3s
web:
  listen: 0.0.0.0:9000
  allowed_origins: ["http://ha.local"]
mqtt:
  enabled: true
  broker: tcp://ha:1883
log:
  level: debug
  format: json
`
	cfg, err := parseConfig([]byte(data))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.NCP.TopicPrefix != "radio" || cfg.NCP.RequestTimeout != 3*time.Second {
		t.Errorf("ncp = %+v", cfg.NCP)
	}
	if cfg.Web.Listen != "0.0.0.0:9000" || len(cfg.Web.AllowedOrigins) != 1 {
		t.Errorf("web = %+v", cfg.Web)
	}
	if !cfg.MQTT.Enabled || cfg.MQTT.Broker != "tcp://ha:1883" {
		t.Errorf("mqtt = %+v", cfg.MQTT)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"missing broker", "ncp: {}\n", "ncp.broker"},
		{"unknown type", "ncp: {type: nrf52840, broker: tcp://x:1883}\n", "ncp.type"},
		{"negative timeout", "ncp: {broker: tcp://x:1883, request_timeout: -1s}\n", "request_timeout"},
		{"mqtt without broker", "ncp: {broker: tcp://x:1883}\nmqtt: {enabled: true}\n", "mqtt.broker"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := parseConfig([]byte(tt.yaml))
			if err != nil {
				t.Fatal(err)
			}
			err = cfg.validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	if _, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("ncp: [not, a, map]\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := loadConfig(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := &Config{}
	cfg.Log.Level = "warn"
	cfg.Log.Format = "json"
	logger := newLogger(cfg, &buf)

	logger.Info("hidden")
	logger.Warn("shown", "component", "test")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("lines = %q", lines)
	}
	var rec map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatal(err)
	}
	if rec["msg"] != "shown" || rec["component"] != "test" {
		t.Errorf("record = %v", rec)
	}
}
