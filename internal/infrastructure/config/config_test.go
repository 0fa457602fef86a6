package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
site:
  id: "test-site"
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
mqtt:
  broker:
    host: "localhost"
    port: 1883
    client_id: "test-client"
  qos: 1
api:
  host: "0.0.0.0"
  port: 8080
readers:
  start_concurrency: 4
broadcast:
  enabled: true
  network: "10.20.0.0/16"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Site.ID != "test-site" {
		t.Errorf("Site.ID = %q, want %q", cfg.Site.ID, "test-site")
	}
	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}
	if cfg.Readers.StartConcurrency != 4 {
		t.Errorf("Readers.StartConcurrency = %d, want 4", cfg.Readers.StartConcurrency)
	}
	// Unset keys keep their defaults.
	if cfg.Readers.RetryIntervalSeconds != 30 {
		t.Errorf("Readers.RetryIntervalSeconds = %d, want 30", cfg.Readers.RetryIntervalSeconds)
	}
	if cfg.Broadcast.Network != "10.20.0.0/16" || cfg.Broadcast.Port != 5001 {
		t.Errorf("Broadcast = %+v", cfg.Broadcast)
	}
	if !cfg.Sync.Enabled || cfg.Sync.PollIntervalSeconds != 5 {
		t.Errorf("Sync = %+v", cfg.Sync)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: [yaml: content"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	_, err := Load(writeConfig(t, `
site:
  id: ""
readers:
  start_concurrency: 0
`))
	if err == nil {
		t.Fatal("Load() expected validation error, got nil")
	}
	// Every problem is reported, not just the first.
	for _, want := range []string{"site.id", "readers.start_concurrency"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "missing site ID", mutate: func(c *Config) { c.Site.ID = "" }, wantErr: true},
		{name: "missing database path", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: true},
		{name: "invalid QoS", mutate: func(c *Config) { c.MQTT.QoS = 3 }, wantErr: true},
		{name: "invalid port low", mutate: func(c *Config) { c.API.Port = 0 }, wantErr: true},
		{name: "invalid port high", mutate: func(c *Config) { c.API.Port = 70000 }, wantErr: true},
		{name: "zero retry interval", mutate: func(c *Config) { c.Readers.RetryIntervalSeconds = 0 }, wantErr: true},
		{name: "zero write queue", mutate: func(c *Config) { c.Readers.WriteQueueSize = 0 }, wantErr: true},
		{
			name: "broadcast with bad network",
			mutate: func(c *Config) {
				c.Broadcast.Enabled = true
				c.Broadcast.Network = "not-a-network"
			},
			wantErr: true,
		},
		{
			name: "broadcast with bare address",
			mutate: func(c *Config) {
				c.Broadcast.Enabled = true
				c.Broadcast.Network = "192.168.5.10"
			},
		},
		{
			name: "disabled broadcast ignores network",
			mutate: func(c *Config) {
				c.Broadcast.Network = "not-a-network"
			},
		},
		{name: "sync with zero interval", mutate: func(c *Config) { c.Sync.PollIntervalSeconds = 0 }, wantErr: true},
		{
			name: "file logging without path",
			mutate: func(c *Config) {
				c.Logging.Output = "file"
				c.Logging.File.Path = ""
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := &Config{
		API: APIConfig{
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 45,
				Idle:  60,
			},
		},
	}

	if got := cfg.GetReadTimeout().Seconds(); got != 30 {
		t.Errorf("GetReadTimeout() = %v, want 30", got)
	}
	if got := cfg.GetWriteTimeout().Seconds(); got != 45 {
		t.Errorf("GetWriteTimeout() = %v, want 45", got)
	}
	if got := cfg.GetIdleTimeout().Seconds(); got != 60 {
		t.Errorf("GetIdleTimeout() = %v, want 60", got)
	}
	if got := Seconds(5); got != 5*time.Second {
		t.Errorf("Seconds(5) = %v", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("CARDPASS_DATABASE_PATH", "/custom/path.db")
	t.Setenv("CARDPASS_MQTT_HOST", "mqtt.example.com")
	t.Setenv("CARDPASS_MQTT_USERNAME", "testuser")
	t.Setenv("CARDPASS_MQTT_PASSWORD", "testpass")
	t.Setenv("CARDPASS_API_HOST", "192.168.1.1")
	t.Setenv("CARDPASS_API_PORT", "9090")
	t.Setenv("CARDPASS_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("CARDPASS_BROADCAST_NETWORK", "10.0.0.0/8")
	t.Setenv("CARDPASS_LOG_LEVEL", "debug")

	applyEnvOverrides(cfg)

	checks := []struct {
		field, got, want string
	}{
		{"Database.Path", cfg.Database.Path, "/custom/path.db"},
		{"MQTT.Broker.Host", cfg.MQTT.Broker.Host, "mqtt.example.com"},
		{"MQTT.Auth.Username", cfg.MQTT.Auth.Username, "testuser"},
		{"MQTT.Auth.Password", cfg.MQTT.Auth.Password, "testpass"},
		{"API.Host", cfg.API.Host, "192.168.1.1"},
		{"InfluxDB.Token", cfg.InfluxDB.Token, "secret-token"},
		{"Broadcast.Network", cfg.Broadcast.Network, "10.0.0.0/8"},
		{"Logging.Level", cfg.Logging.Level, "debug"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %q, want %q", c.field, c.got, c.want)
		}
	}
	if cfg.API.Port != 9090 {
		t.Errorf("API.Port = %d, want 9090", cfg.API.Port)
	}
}

func TestApplyEnvOverrides_BadPortIgnored(t *testing.T) {
	cfg := defaultConfig()
	t.Setenv("CARDPASS_API_PORT", "eighty")
	applyEnvOverrides(cfg)
	if cfg.API.Port != 8080 {
		t.Errorf("API.Port = %d, want default 8080", cfg.API.Port)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if err := cfg.Validate(); err != nil {
		t.Errorf("defaultConfig fails validation: %v", err)
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.Readers.StartConcurrency != 10 {
		t.Errorf("defaultConfig Readers.StartConcurrency = %d, want 10", cfg.Readers.StartConcurrency)
	}
	if cfg.Readers.MaxBackoffSeconds != 300 {
		t.Errorf("defaultConfig Readers.MaxBackoffSeconds = %d, want 300", cfg.Readers.MaxBackoffSeconds)
	}
	if cfg.Broadcast.Enabled {
		t.Error("defaultConfig should not enable broadcast")
	}
}
