package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load("/nonexistent/path/popfetch.toml")
	if err != nil {
		t.Fatalf("expected no error for missing file, got %v", err)
	}

	expected := Default()
	if cfg.LogLevel != expected.LogLevel {
		t.Errorf("expected log_level %q, got %q", expected.LogLevel, cfg.LogLevel)
	}
}

func TestLoadValidTOML(t *testing.T) {
	content := `
hostname = "mail.example.com"
port = 995
log_level = "debug"
security = "ssl"
proxy_url = "socks5://127.0.0.1:1080"

[tls]
min_version = "1.3"
insecure_skip_verify = true

[auth]
username = "alice"
password = "hunter2"
sasl_mechanisms = ["SCRAM-SHA-256", "PLAIN"]

[timeouts]
connect = "15s"
command = "2m"

[metrics]
enabled = true
address = ":9200"
`

	path := createTempConfig(t, content)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Hostname != "mail.example.com" {
		t.Errorf("hostname = %q, want 'mail.example.com'", cfg.Hostname)
	}
	if cfg.Port != 995 {
		t.Errorf("port = %d, want 995", cfg.Port)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log_level = %q, want 'debug'", cfg.LogLevel)
	}
	if cfg.Security != SecuritySSL {
		t.Errorf("security = %q, want 'ssl'", cfg.Security)
	}
	if cfg.ProxyURL != "socks5://127.0.0.1:1080" {
		t.Errorf("proxy_url = %q, want socks5 URL", cfg.ProxyURL)
	}
	if cfg.TLS.MinVersion != "1.3" {
		t.Errorf("tls.min_version = %q, want '1.3'", cfg.TLS.MinVersion)
	}
	if !cfg.TLS.InsecureSkipVerify {
		t.Errorf("tls.insecure_skip_verify = false, want true")
	}
	if cfg.Auth.Username != "alice" {
		t.Errorf("auth.username = %q, want 'alice'", cfg.Auth.Username)
	}
	if cfg.Auth.Password != "hunter2" {
		t.Errorf("auth.password = %q, want 'hunter2'", cfg.Auth.Password)
	}
	if len(cfg.Auth.SaslMechanisms) != 2 || cfg.Auth.SaslMechanisms[0] != "SCRAM-SHA-256" {
		t.Errorf("auth.sasl_mechanisms = %v, want [SCRAM-SHA-256 PLAIN]", cfg.Auth.SaslMechanisms)
	}
	if cfg.Timeouts.Connect != "15s" {
		t.Errorf("timeouts.connect = %q, want '15s'", cfg.Timeouts.Connect)
	}
	if cfg.Timeouts.Command != "2m" {
		t.Errorf("timeouts.command = %q, want '2m'", cfg.Timeouts.Command)
	}
	if !cfg.Metrics.Enabled {
		t.Errorf("metrics.enabled = false, want true")
	}
	if cfg.Metrics.Address != ":9200" {
		t.Errorf("metrics.address = %q, want ':9200'", cfg.Metrics.Address)
	}
}

func TestLoadInvalidTOML(t *testing.T) {
	content := `
hostname = "broken
`

	path := createTempConfig(t, content)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid TOML, got nil")
	}
}

func TestLoadPartialConfig(t *testing.T) {
	content := `
hostname = "partial.example.com"
`

	path := createTempConfig(t, content)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Hostname != "partial.example.com" {
		t.Errorf("hostname = %q, want 'partial.example.com'", cfg.Hostname)
	}

	defaults := Default()
	if cfg.LogLevel != defaults.LogLevel {
		t.Errorf("log_level = %q, want default %q", cfg.LogLevel, defaults.LogLevel)
	}
	if cfg.Security != defaults.Security {
		t.Errorf("security = %q, want default %q", cfg.Security, defaults.Security)
	}
}

func TestApplyFlags(t *testing.T) {
	cfg := Default()

	flags := &Flags{
		Hostname: "flag.example.com",
		Port:     995,
		LogLevel: "debug",
		Username: "bob",
		Password: "s3cret",
		Security: "starttls",
		ProxyURL: "socks5://proxy:1080",
	}

	result := ApplyFlags(cfg, flags)

	if result.Hostname != "flag.example.com" {
		t.Errorf("hostname = %q, want 'flag.example.com'", result.Hostname)
	}
	if result.Port != 995 {
		t.Errorf("port = %d, want 995", result.Port)
	}
	if result.LogLevel != "debug" {
		t.Errorf("log_level = %q, want 'debug'", result.LogLevel)
	}
	if result.Auth.Username != "bob" {
		t.Errorf("auth.username = %q, want 'bob'", result.Auth.Username)
	}
	if result.Auth.Password != "s3cret" {
		t.Errorf("auth.password = %q, want 's3cret'", result.Auth.Password)
	}
	if result.Security != SecurityStartTLS {
		t.Errorf("security = %q, want 'starttls'", result.Security)
	}
	if result.ProxyURL != "socks5://proxy:1080" {
		t.Errorf("proxy_url = %q, want socks5 URL", result.ProxyURL)
	}
}

func TestApplyFlagsEmptyValuesDoNotOverride(t *testing.T) {
	cfg := Default()
	cfg.Hostname = "original.example.com"
	cfg.LogLevel = "warn"
	cfg.Auth.Username = "carol"

	flags := &Flags{}

	result := ApplyFlags(cfg, flags)

	if result.Hostname != "original.example.com" {
		t.Errorf("hostname = %q, want 'original.example.com' (should not be overridden)", result.Hostname)
	}
	if result.LogLevel != "warn" {
		t.Errorf("log_level = %q, want 'warn' (should not be overridden)", result.LogLevel)
	}
	if result.Auth.Username != "carol" {
		t.Errorf("auth.username = %q, want 'carol' (should not be overridden)", result.Auth.Username)
	}
}

func TestFlagPriorityOverConfig(t *testing.T) {
	content := `
hostname = "config.example.com"
log_level = "info"
`

	path := createTempConfig(t, content)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	flags := &Flags{
		Hostname: "flag.example.com",
	}

	result := ApplyFlags(cfg, flags)

	if result.Hostname != "flag.example.com" {
		t.Errorf("hostname = %q, want 'flag.example.com' (flag should override)", result.Hostname)
	}
	if result.LogLevel != "info" {
		t.Errorf("log_level = %q, want 'info' (config value should remain)", result.LogLevel)
	}
}

func createTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "popfetch.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to create temp config: %v", err)
	}
	return path
}
