package config

import (
	"flag"
	"fmt"
	"os"

	toml "github.com/pelletier/go-toml/v2"
)

// Flags holds command-line flag values, which override anything read from
// the TOML config file.
type Flags struct {
	ConfigPath string
	Hostname   string
	Port       int
	LogLevel   string
	Username   string
	Password   string
	Security   string
	ProxyURL   string
}

// ParseFlags parses command-line flags and returns a Flags struct.
func ParseFlags() *Flags {
	f := &Flags{}

	flag.StringVar(&f.ConfigPath, "config", "./popfetch.toml", "Path to configuration file")
	flag.StringVar(&f.Hostname, "host", "", "POP3 server hostname")
	flag.IntVar(&f.Port, "port", 0, "POP3 server port (0 = resolve from security policy)")
	flag.StringVar(&f.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.StringVar(&f.Username, "user", "", "Mailbox username")
	flag.StringVar(&f.Password, "password", "", "Mailbox password")
	flag.StringVar(&f.Security, "security", "", "Security policy (none, ssl, starttls, starttls-if-available, auto)")
	flag.StringVar(&f.ProxyURL, "proxy", "", "SOCKS5 proxy URL")

	flag.Parse()
	return f
}

// Load parses a TOML configuration file and returns the Config. If the file
// does not exist, it returns the default configuration unmodified.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config file: %w", err)
	}

	var fileConfig Config
	if err := toml.Unmarshal(data, &fileConfig); err != nil {
		return cfg, fmt.Errorf("parsing config file: %w", err)
	}

	return mergeConfig(cfg, fileConfig), nil
}

// ApplyFlags merges command-line flag values into the config. Non-empty/
// non-zero flag values override config file values.
func ApplyFlags(cfg Config, f *Flags) Config {
	if f.Hostname != "" {
		cfg.Hostname = f.Hostname
	}
	if f.Port != 0 {
		cfg.Port = f.Port
	}
	if f.LogLevel != "" {
		cfg.LogLevel = f.LogLevel
	}
	if f.Username != "" {
		cfg.Auth.Username = f.Username
	}
	if f.Password != "" {
		cfg.Auth.Password = f.Password
	}
	if f.Security != "" {
		cfg.Security = SecurityPolicy(f.Security)
	}
	if f.ProxyURL != "" {
		cfg.ProxyURL = f.ProxyURL
	}
	return cfg
}

// LoadWithFlags loads configuration from the path named in flags, then
// applies flag overrides.
func LoadWithFlags(f *Flags) (Config, error) {
	cfg, err := Load(f.ConfigPath)
	if err != nil {
		return cfg, err
	}
	return ApplyFlags(cfg, f), nil
}

// mergeConfig merges non-zero values from src into dst.
func mergeConfig(dst, src Config) Config {
	if src.Hostname != "" {
		dst.Hostname = src.Hostname
	}
	if src.Port != 0 {
		dst.Port = src.Port
	}
	if src.LogLevel != "" {
		dst.LogLevel = src.LogLevel
	}
	if src.Security != "" {
		dst.Security = src.Security
	}
	if src.ProxyURL != "" {
		dst.ProxyURL = src.ProxyURL
	}
	if src.TLS.MinVersion != "" {
		dst.TLS.MinVersion = src.TLS.MinVersion
	}
	if src.TLS.InsecureSkipVerify {
		dst.TLS.InsecureSkipVerify = src.TLS.InsecureSkipVerify
	}
	if src.Auth.Username != "" {
		dst.Auth.Username = src.Auth.Username
	}
	if src.Auth.Password != "" {
		dst.Auth.Password = src.Auth.Password
	}
	if len(src.Auth.SaslMechanisms) > 0 {
		dst.Auth.SaslMechanisms = src.Auth.SaslMechanisms
	}
	if src.Timeouts.Connect != "" {
		dst.Timeouts.Connect = src.Timeouts.Connect
	}
	if src.Timeouts.Command != "" {
		dst.Timeouts.Command = src.Timeouts.Command
	}
	if src.Metrics.Enabled {
		dst.Metrics.Enabled = src.Metrics.Enabled
	}
	if src.Metrics.Address != "" {
		dst.Metrics.Address = src.Metrics.Address
	}
	return dst
}
