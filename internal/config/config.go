// Package config loads the updater configuration from a YAML file and the
// environment. A Config is loaded once per invocation and treated as
// read-only afterwards.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"
)

const (
	// PathEnv names the environment variable holding the config file path.
	PathEnv     = "YK_DDNS_CONFIG"
	DefaultPath = "configs/ddns.yaml"

	DefaultProvider    = "cloudflare"
	DefaultIPAPI       = "https://api.ipify.org"
	DefaultResolverURL = "https://cloudflare-dns.com/dns-query"
	// DefaultTTL of 1 means "automatic" for Cloudflare.
	DefaultTTL = 1

	DefaultListen       = ":8080"
	DefaultHistoryPath  = "ddns-history.db"
	DefaultHistoryLimit = 50
)

// Config holds everything one reconciliation run needs.
type Config struct {
	Provider    string            `yaml:"provider"`
	APIToken    string            `yaml:"api_token"`
	Email       string            `yaml:"email"`
	ZoneID      string            `yaml:"zone_id"`
	Domain      string            `yaml:"domain"`
	CustomIPs   List              `yaml:"custom_ips"`
	IPAPI       string            `yaml:"ip_api"`
	ResolverURL string            `yaml:"resolver_url"`
	Password    string            `yaml:"password"`
	TTL         int               `yaml:"ttl"`
	Proxied     bool              `yaml:"proxied"`
	Settings    map[string]string `yaml:"settings"`
	Server      ServerConfig      `yaml:"server"`
}

// ServerConfig holds process-level options of the serve command. They are
// read once at startup.
type ServerConfig struct {
	Listen       string        `yaml:"listen"`
	Interval     time.Duration `yaml:"interval"`
	HistoryPath  string        `yaml:"history_path"`
	HistoryLimit int           `yaml:"history_limit"`
	TriggerRate  float64       `yaml:"trigger_rate"`
	TriggerBurst int           `yaml:"trigger_burst"`
}

// ConfigError reports missing or invalid configuration. It is raised before
// any network call is made.
type ConfigError struct {
	Problems []string
}

func (e *ConfigError) Error() string {
	return "config: " + strings.Join(e.Problems, "; ")
}

// List is a list of address tokens. In YAML it may be written either as a
// sequence or as a single comma/newline separated string.
type List []string

func (l *List) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		*l = SplitList(value.Value)
		return nil
	case yaml.SequenceNode:
		var items []string
		if err := value.Decode(&items); err != nil {
			return err
		}
		var out List
		for _, item := range items {
			out = append(out, SplitList(item)...)
		}
		*l = out
		return nil
	default:
		return fmt.Errorf("custom_ips: expected string or list, got %v", value.Tag)
	}
}

var separators = regexp.MustCompile(`[,\r\n]+`)

// SplitList splits s on runs of commas and newlines, trims every token and
// drops empty ones.
func SplitList(s string) []string {
	var out []string
	for _, tok := range separators.Split(s, -1) {
		if tok = strings.TrimSpace(tok); tok != "" {
			out = append(out, tok)
		}
	}
	return out
}

// Loader produces a fresh Config for every invocation.
type Loader func() (*Config, error)

// NewLoader returns a Loader that re-reads path and the environment on every call.
func NewLoader(path string) Loader {
	return func() (*Config, error) {
		return Load(path)
	}
}

// Load reads the config file at path, applies environment overrides and
// defaults, and validates the result. An empty path falls back to $YK_DDNS_CONFIG
// and then to DefaultPath; only the default path may be absent.
func Load(path string) (*Config, error) {
	optional := false
	if path == "" {
		path = os.Getenv(PathEnv)
	}
	if path == "" {
		path = DefaultPath
		optional = true
	}

	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	case optional && errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg.expandEnv()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandEnv expands ${ENV_VAR} references in string values.
func (c *Config) expandEnv() {
	for _, s := range []*string{&c.Provider, &c.APIToken, &c.Email, &c.ZoneID, &c.Domain, &c.IPAPI, &c.ResolverURL, &c.Password} {
		*s = os.ExpandEnv(*s)
	}
	for i, v := range c.CustomIPs {
		c.CustomIPs[i] = os.ExpandEnv(v)
	}
	for k, v := range c.Settings {
		c.Settings[k] = os.ExpandEnv(v)
	}
}

// applyEnv lets the environment override file values, using the variable
// names of the original worker.
func (c *Config) applyEnv() error {
	strs := map[string]*string{
		"DDNS_PROVIDER": &c.Provider,
		"API_TOKEN":     &c.APIToken,
		"EMAIL":         &c.Email,
		"ZONE_ID":       &c.ZoneID,
		"DOMAIN":        &c.Domain,
		"IP_API":        &c.IPAPI,
		"RESOLVER_URL":  &c.ResolverURL,
		"PASSWORD":      &c.Password,
		"LISTEN_ADDR":   &c.Server.Listen,
	}
	for env, dst := range strs {
		if v, ok := os.LookupEnv(env); ok {
			*dst = v
		}
	}

	if v, ok := os.LookupEnv("CUSTOM_IPS"); ok {
		c.CustomIPs = SplitList(v)
	}

	var problems []string
	if v, ok := os.LookupEnv("TTL"); ok {
		ttl, err := strconv.Atoi(v)
		if err != nil {
			problems = append(problems, fmt.Sprintf("invalid TTL %q", v))
		}
		c.TTL = ttl
	}
	if v, ok := os.LookupEnv("PROXIED"); ok {
		proxied, err := strconv.ParseBool(v)
		if err != nil {
			problems = append(problems, fmt.Sprintf("invalid PROXIED %q", v))
		}
		c.Proxied = proxied
	}
	if v, ok := os.LookupEnv("UPDATE_INTERVAL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			problems = append(problems, fmt.Sprintf("invalid UPDATE_INTERVAL %q", v))
		}
		c.Server.Interval = d
	}
	if len(problems) > 0 {
		return &ConfigError{Problems: problems}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Provider == "" {
		c.Provider = DefaultProvider
	}
	if c.IPAPI == "" {
		c.IPAPI = DefaultIPAPI
	}
	if c.ResolverURL == "" {
		c.ResolverURL = DefaultResolverURL
	}
	if c.TTL == 0 {
		c.TTL = DefaultTTL
	}
	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListen
	}
	if c.Server.HistoryPath == "" {
		c.Server.HistoryPath = DefaultHistoryPath
	}
	if c.Server.HistoryLimit <= 0 {
		c.Server.HistoryLimit = DefaultHistoryLimit
	}
	if c.Server.TriggerRate > 0 && c.Server.TriggerBurst <= 0 {
		c.Server.TriggerBurst = 1
	}
}

// Validate reports every missing or malformed field at once.
func (c *Config) Validate() error {
	var problems []string
	if c.Domain == "" {
		problems = append(problems, "missing required field 'domain' (DOMAIN)")
	}
	if c.Provider == DefaultProvider {
		if c.APIToken == "" {
			problems = append(problems, "missing required field 'api_token' (API_TOKEN)")
		}
		if c.ZoneID == "" {
			problems = append(problems, "missing required field 'zone_id' (ZONE_ID)")
		}
	}
	if c.TTL < 1 {
		problems = append(problems, fmt.Sprintf("ttl must be positive, got %d", c.TTL))
	}
	for _, f := range []struct{ name, raw string }{{"ip_api", c.IPAPI}, {"resolver_url", c.ResolverURL}} {
		if f.raw == "" {
			continue
		}
		u, err := url.Parse(f.raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			problems = append(problems, fmt.Sprintf("%s must be an http(s) URL, got %q", f.name, f.raw))
		}
	}
	if c.Server.Interval < 0 {
		problems = append(problems, "server.interval must not be negative")
	}
	if len(problems) > 0 {
		return &ConfigError{Problems: problems}
	}
	return nil
}
