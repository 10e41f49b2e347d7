package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node", "config.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress == "" || cfg.DurationUnit != "1m" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.KeystorePath != filepath.Join(filepath.Dir(path), "admin.keystore") {
		t.Fatalf("unexpected keystore path %q", cfg.KeystorePath)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config not persisted: %v", err)
	}
	again, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.ListenAddress != cfg.ListenAddress || again.KeystorePath != cfg.KeystorePath {
		t.Fatalf("reload mismatch: %+v vs %+v", again, cfg)
	}
}

func TestLoadParsesSections(t *testing.T) {
	path := writeConfig(t, `ListenAddress = "0.0.0.0:9000"
DataDir = "./data"
GenesisFile = "genesis.yaml"
KeystorePath = "/keys/admin.keystore"
DurationUnit = "1h"
Env = "staging"

[logging]
Level = "debug"
File = "/var/log/stakevault.log"

[auth]
HMACSecret = "0123456789abcdef0123456789abcdef"
Issuer = "stakectl"
Audience = "stakevault"
ClockSkewSeconds = 5

[rate_limit]
RequestsPerMinute = 120
Burst = 10

[telemetry]
Endpoint = "collector:4318"
Insecure = true
Traces = true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	unit, err := cfg.ParsedDurationUnit()
	if err != nil || unit != time.Hour {
		t.Fatalf("unexpected duration unit %v (%v)", unit, err)
	}
	if cfg.Logging.Level != "debug" || cfg.Auth.Issuer != "stakectl" || cfg.RateLimit.Burst != 10 {
		t.Fatalf("sections not decoded: %+v", cfg)
	}
	if cfg.ClockSkew() != 5*time.Second {
		t.Fatalf("unexpected clock skew %v", cfg.ClockSkew())
	}
	if !cfg.Telemetry.Traces || cfg.Telemetry.Endpoint != "collector:4318" {
		t.Fatalf("telemetry not decoded: %+v", cfg.Telemetry)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `ListenAddress = "127.0.0.1:1"
Bogus = true
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "Bogus") {
		t.Fatalf("expected unknown field error, got %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"listen":   "ListenAddress = \"nope\"\n",
		"unit":     "DurationUnit = \"500ms\"\n",
		"garbage":  "DurationUnit = \"soon\"\n",
		"huge":     "DurationUnit = \"8761h\"\n",
		"secret":   "[auth]\nHMACSecret = \"short\"\n",
		"negative": "[rate_limit]\nBurst = -1\n",
	}
	for name, contents := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, contents)); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestValidateAcceptsMaxDurationUnit(t *testing.T) {
	cfg, err := Load(writeConfig(t, "DurationUnit = \"8760h\"\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	unit, err := cfg.ParsedDurationUnit()
	if err != nil || unit != MaxDurationUnit {
		t.Fatalf("expected %s, got %s (%v)", MaxDurationUnit, unit, err)
	}
}

func TestHMACSecretPrefersEnv(t *testing.T) {
	t.Setenv("STAKEVAULT_TEST_SECRET", "from-env-0123456789abcdef0123456789")
	cfg := Default("config.toml")
	cfg.Auth.HMACSecret = "from-file"
	cfg.Auth.HMACSecretEnv = "STAKEVAULT_TEST_SECRET"
	if got := cfg.HMACSecret(); got != "from-env-0123456789abcdef0123456789" {
		t.Fatalf("unexpected secret %q", got)
	}
}
