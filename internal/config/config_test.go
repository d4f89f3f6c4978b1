package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dennisdiepolder/echo/backend/internal/storage"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr bool
		check   func(*testing.T, *Config)
	}{
		{
			name: "default values",
			env:  map[string]string{},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Port != "8080" {
					t.Errorf("expected port 8080, got %s", cfg.Port)
				}
				if cfg.LogLevel != "info" {
					t.Errorf("expected log level info, got %s", cfg.LogLevel)
				}
				if cfg.HTTPReadTimeout != 15*time.Second {
					t.Errorf("expected HTTPReadTimeout 15s, got %v", cfg.HTTPReadTimeout)
				}
				if cfg.Store.Driver != storage.DriverMemory {
					t.Errorf("expected memory driver, got %s", cfg.Store.Driver)
				}
				if cfg.Analytics.TrendWindowDays != 7 || cfg.Analytics.LeaderboardLimit != 5 {
					t.Errorf("unexpected analytics defaults %+v", cfg.Analytics)
				}
				if cfg.Analytics.TrendLocation != time.UTC {
					t.Errorf("expected UTC location, got %v", cfg.Analytics.TrendLocation)
				}
				if cfg.Kafka.Enabled || len(cfg.Kafka.Brokers) != 0 {
					t.Errorf("expected Kafka disabled by default, got %+v", cfg.Kafka)
				}
				if cfg.Auth.VerifySignature {
					t.Error("expected signature verification off without ENV")
				}
			},
		},
		{
			name: "custom values",
			env: map[string]string{
				"PORT":               "9000",
				"LOG_LEVEL":          "debug",
				"HTTP_READ_TIMEOUT":  "30",
				"HTTP_WRITE_TIMEOUT": "5",
				"ALLOWED_ORIGINS":    "http://example.com, http://test.com",
				"STORE_DRIVER":       "sqlite",
				"SQLITE_PATH":        "/tmp/echo.db",
				"KAFKA_BROKERS":      "k1:9092,k2:9092",
				"KAFKA_ENABLED":      "true",
				"TREND_TIMEZONE":     "Europe/Berlin",
				"TREND_WINDOW_DAYS":  "14",
				"LEADERBOARD_LIMIT":  "10",
				"ENV":                "production",
			},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Port != "9000" {
					t.Errorf("expected port 9000, got %s", cfg.Port)
				}
				if cfg.HTTPReadTimeout != 30*time.Second {
					t.Errorf("expected HTTPReadTimeout 30s, got %v", cfg.HTTPReadTimeout)
				}
				if cfg.HTTPWriteTimeout != 5*time.Second {
					t.Errorf("expected HTTPWriteTimeout 5s, got %v", cfg.HTTPWriteTimeout)
				}
				if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "http://test.com" {
					t.Errorf("expected 2 trimmed origins, got %v", cfg.AllowedOrigins)
				}
				if cfg.Store.Driver != storage.DriverSQLite || cfg.Store.SQLitePath != "/tmp/echo.db" {
					t.Errorf("unexpected store config %+v", cfg.Store)
				}
				if !cfg.Kafka.Enabled || len(cfg.Kafka.Brokers) != 2 {
					t.Errorf("unexpected kafka config %+v", cfg.Kafka)
				}
				if cfg.Analytics.TrendLocation.String() != "Europe/Berlin" {
					t.Errorf("expected Europe/Berlin, got %v", cfg.Analytics.TrendLocation)
				}
				if cfg.Analytics.TrendWindowDays != 14 || cfg.Analytics.LeaderboardLimit != 10 {
					t.Errorf("unexpected analytics config %+v", cfg.Analytics)
				}
				if !cfg.Auth.VerifySignature {
					t.Error("expected signature verification in production")
				}
			},
		},
		{
			name:    "invalid HTTP_READ_TIMEOUT",
			env:     map[string]string{"HTTP_READ_TIMEOUT": "invalid"},
			wantErr: true,
		},
		{
			name:    "invalid HTTP_WRITE_TIMEOUT",
			env:     map[string]string{"HTTP_WRITE_TIMEOUT": "invalid"},
			wantErr: true,
		},
		{
			name:    "invalid timezone",
			env:     map[string]string{"TREND_TIMEZONE": "Mars/Olympus"},
			wantErr: true,
		},
		{
			name:    "non-positive window",
			env:     map[string]string{"TREND_WINDOW_DAYS": "0"},
			wantErr: true,
		},
		{
			name:    "unknown driver",
			env:     map[string]string{"STORE_DRIVER": "cassandra"},
			wantErr: true,
		},
		{
			name:    "mongo without uri",
			env:     map[string]string{"STORE_DRIVER": "mongo"},
			wantErr: true,
		},
		{
			name:    "invalid KAFKA_ENABLED",
			env:     map[string]string{"KAFKA_ENABLED": "maybe"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Clear environment
			os.Clearenv()

			// Set test environment variables
			for k, v := range tt.env {
				os.Setenv(k, v)
			}

			// Load config
			cfg, err := Load()

			// Check error
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got nil")
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			// Run custom checks
			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestLoadConfigFileOverlay(t *testing.T) {
	os.Clearenv()

	path := filepath.Join(t.TempDir(), "echo.yaml")
	content := `
analytics:
  trend_timezone: America/New_York
  trend_window_days: 30
  leaderboard_limit: 3
kafka:
  brokers: [broker:9092]
  topic: ledger.audit
  enabled: true
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	os.Setenv("CONFIG_FILE", path)
	os.Setenv("LEADERBOARD_LIMIT", "8")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Analytics.TrendWindowDays != 30 {
		t.Errorf("expected window 30 from file, got %d", cfg.Analytics.TrendWindowDays)
	}
	if cfg.Analytics.LeaderboardLimit != 3 {
		t.Errorf("expected file to override env limit, got %d", cfg.Analytics.LeaderboardLimit)
	}
	if cfg.Analytics.TrendLocation.String() != "America/New_York" {
		t.Errorf("expected America/New_York, got %v", cfg.Analytics.TrendLocation)
	}
	if !cfg.Kafka.Enabled || cfg.Kafka.Topic != "ledger.audit" || len(cfg.Kafka.Brokers) != 1 {
		t.Errorf("unexpected kafka overlay %+v", cfg.Kafka)
	}
}

func TestLoadConfigFileMissing(t *testing.T) {
	os.Clearenv()
	os.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

	if _, err := Load(); err == nil {
		t.Error("expected error for missing config file")
	}
}
