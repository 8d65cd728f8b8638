// Package config loads testmaild's runtime configuration from flags,
// an optional YAML file, and environment variables, layered with koanf.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf"
	kyaml "github.com/knadh/koanf/parsers/yaml"
	kenv "github.com/knadh/koanf/providers/env"
	kfile "github.com/knadh/koanf/providers/file"
	kposflag "github.com/knadh/koanf/providers/posflag"
	"github.com/spf13/pflag"

	"testmaild/logging"
)

// Default listener addresses and hostname.
const (
	DefaultSMTPAddr = ":2525"
	DefaultPOP3Addr = ":1110"
	DefaultHostname = "localhost"
)

// Config is testmaild's full runtime configuration.
type Config struct {
	Hostname string `koanf:"hostname"`

	SMTPAddr               string `koanf:"smtp-addr"`
	POP3Addr               string `koanf:"pop3-addr"`
	AuthenticationRequired bool   `koanf:"auth-required"`
	TLSEnabled             bool   `koanf:"tls-enabled"`

	MetricsAddr string `koanf:"metrics-addr"`

	LogConfig logging.LogConfig `koanf:"log"`
}

// EnsureDefaults fills in zero-valued fields with defaults.
func (c *Config) EnsureDefaults() {
	if c.Hostname == "" {
		c.Hostname = DefaultHostname
	}
	if c.SMTPAddr == "" {
		c.SMTPAddr = DefaultSMTPAddr
	}
	if c.POP3Addr == "" {
		c.POP3Addr = DefaultPOP3Addr
	}
	if c.LogConfig.Format == "" {
		c.LogConfig = logging.DefaultConfig()
	}
}

// Load layers flags, an optional YAML file, and TESTMAILD_-prefixed
// environment variables into a Config, in that order of increasing
// priority (flags first, env last).
func Load(flags *pflag.FlagSet, configPath string) (*Config, error) {
	k := koanf.New(".")

	if flags != nil {
		if err := k.Load(kposflag.Provider(flags, ".", k), nil); err != nil {
			return nil, fmt.Errorf("config: load flags: %w", err)
		}
	}

	path := configPath
	if path == "" {
		for _, fn := range []string{"testmaild.yaml", "testmaild.yml"} {
			if _, err := os.Stat(fn); err == nil {
				path = fn
				break
			}
		}
	}
	if path != "" {
		if err := k.Load(kfile.Provider(path), kyaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load file %s: %w", path, err)
		}
	}

	replacer := strings.NewReplacer("-", "_", ".", "_")
	if err := k.Load(kenv.Provider("TESTMAILD_", ".", replacer.Replace), nil); err != nil {
		return nil, fmt.Errorf("config: load env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	cfg.EnsureDefaults()
	return &cfg, nil
}
