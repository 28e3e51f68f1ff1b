package main

import (
	"fmt"
	"net/url"
	"os"

	responsetransformer "github.com/always-cache/cache-control/pkg/response-transformer"

	"gopkg.in/yaml.v3"
)

// Config is the yaml configuration file contents.
type Config struct {
	// Port to listen on for proxied traffic.
	Port int `yaml:"port"`
	// AdminAddr is the listen address for metrics and health endpoints.
	AdminAddr string `yaml:"admin-addr"`
	// DB is the cache database file name, "memory" for an in-memory cache.
	DB string `yaml:"db"`
	// Origins to proxy to.
	Origins []OriginConfig `yaml:"origins"`
}

type OriginConfig struct {
	// Origin URL to proxy to.
	Origin string `yaml:"origin"`
	// Addr is the origin IP address to proxy to, used with Host as an
	// alternative to Origin.
	Addr string `yaml:"addr"`
	// Host is the hostname of the origin, used together with Addr.
	Host string `yaml:"host"`
	// Hosts are the request hostnames routed to this origin. If empty,
	// the origin receives all traffic not claimed by another origin.
	Hosts []string `yaml:"hosts"`
	// CacheName is the name reported in Cache-Status headers.
	CacheName string `yaml:"cache-name"`
	// Legacy mode: do not update stored responses, only invalidate.
	Legacy bool `yaml:"legacy"`
	// Rules for rewriting origin response headers.
	Rules responsetransformer.Rules `yaml:"rules"`
}

func defaultConfig() Config {
	return Config{
		Port:      8080,
		AdminAddr: ":9091",
		DB:        "cache.db",
	}
}

func loadConfig(filename string) (Config, error) {
	cfg := defaultConfig()
	if filename == "" {
		return cfg, nil
	}
	contents, err := os.ReadFile(filename)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing %s: %w", filename, err)
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.AdminAddr == "" {
		cfg.AdminAddr = ":9091"
	}
	if cfg.DB == "" {
		cfg.DB = "cache.db"
	}
	return cfg, nil
}

func (c Config) validate() error {
	if len(c.Origins) == 0 {
		return fmt.Errorf("no origins configured")
	}
	for _, origin := range c.Origins {
		if err := origin.validate(); err != nil {
			return err
		}
	}
	return nil
}

func (o OriginConfig) validate() error {
	if o.Origin == "" && o.Addr == "" {
		return fmt.Errorf("origin is missing an url or address")
	}
	if _, _, err := o.originURL(); err != nil {
		return err
	}
	return o.Rules.Validate()
}

// originURL resolves the origin URL and Host header override from the
// configuration.
func (o OriginConfig) originURL() (url.URL, string, error) {
	if o.Origin != "" {
		originUrl, err := url.Parse(o.Origin)
		if err != nil {
			return url.URL{}, "", fmt.Errorf("parsing origin %q: %w", o.Origin, err)
		}
		return *originUrl, "", nil
	}
	originUrl, err := url.Parse("https://" + o.Addr)
	if err != nil {
		return url.URL{}, "", fmt.Errorf("parsing origin address %q: %w", o.Addr, err)
	}
	return *originUrl, o.Host, nil
}
