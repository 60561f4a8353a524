// Package config loads and validates the server configuration: listener and
// logging knobs, the server-wide cache ceiling, the base and named cache
// policies, and the route table that binds paths to policies.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/l0p7/pagecache/internal/policy"
)

// Config holds every server-level option plus the policy and route
// definitions the cache engine is built from.
type Config struct {
	Server     ServerConfig            `koanf:"server"`
	BasePolicy PolicyConfig            `koanf:"basePolicy"`
	Policies   map[string]PolicyConfig `koanf:"policies"`
	Routes     map[string]RouteConfig  `koanf:"routes"`
}

// ServerConfig collects the bootstrap knobs owned by the process lifecycle.
type ServerConfig struct {
	Listen    ListenConfig    `koanf:"listen"`
	Logging   LoggingConfig   `koanf:"logging"`
	Cache     CacheConfig     `koanf:"cache"`
	Templates TemplatesConfig `koanf:"templates"`
}

// ListenConfig instructs the HTTP listener about bind address and port.
type ListenConfig struct {
	Address string `koanf:"address"`
	Port    int    `koanf:"port"`
}

// LoggingConfig expresses log level and format.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// CacheConfig carries server-wide cache settings.
type CacheConfig struct {
	// MaxTTL caps every policy's TTL. Empty or "0s" means no ceiling.
	MaxTTL string `koanf:"maxTTL"`
}

// MaxTTLDuration parses the configured ceiling.
func (c CacheConfig) MaxTTLDuration() (time.Duration, error) {
	if strings.TrimSpace(c.MaxTTL) == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.MaxTTL)
	if err != nil {
		return 0, fmt.Errorf("config: server.cache.maxTTL invalid: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("config: server.cache.maxTTL must not be negative: %s", c.MaxTTL)
	}
	return d, nil
}

// TemplatesConfig points at the folder file-backed page bodies load from.
// Routes may only reference template files when a folder is configured.
type TemplatesConfig struct {
	Folder string `koanf:"folder"`
}

// PolicyConfig is the declarative form of a cache policy.
type PolicyConfig struct {
	TTL        string   `koanf:"ttl"`
	VaryQuery  []string `koanf:"varyQuery"`
	Tags       []string `koanf:"tags"`
	NoCache    bool     `koanf:"noCache"`
	NoStore    bool     `koanf:"noStore"`
	Visibility string   `koanf:"visibility"`
}

// Policy converts the declarative form into a runtime policy. The result is
// not yet validated; registration performs that.
func (p PolicyConfig) Policy(name string) (policy.Policy, error) {
	var ttl time.Duration
	if strings.TrimSpace(p.TTL) != "" {
		parsed, err := time.ParseDuration(p.TTL)
		if err != nil {
			return policy.Policy{}, fmt.Errorf("config: policy %q ttl invalid: %w", name, err)
		}
		ttl = parsed
	}
	return policy.Policy{
		Name:       name,
		TTL:        ttl,
		VaryQuery:  append([]string(nil), p.VaryQuery...),
		Tags:       append([]string(nil), p.Tags...),
		NoCache:    p.NoCache,
		NoStore:    p.NoStore,
		Visibility: policy.Visibility(strings.TrimSpace(strings.ToLower(p.Visibility))),
	}, nil
}

// RouteConfig binds a served path to a policy and describes the page body.
// Body holds an inline template; BodyFile names a template file under the
// configured templates folder. An empty policy name selects the base policy.
type RouteConfig struct {
	Policy      string `koanf:"policy"`
	ContentType string `koanf:"contentType"`
	Body        string `koanf:"body"`
	BodyFile    string `koanf:"bodyFile"`
}

// reservedPaths are owned by the server itself and cannot carry routes.
var reservedPaths = []string{"/purge", "/healthz", "/metrics"}

// Validate enforces invariants that keep the runtime predictable before
// serving traffic. Policy directive conflicts and route-to-policy references
// are all checked here so misconfiguration never survives to request time.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: nil")
	}
	if c.Server.Listen.Port <= 0 || c.Server.Listen.Port > 65535 {
		return fmt.Errorf("config: listen.port invalid: %d", c.Server.Listen.Port)
	}
	if _, err := c.Server.Cache.MaxTTLDuration(); err != nil {
		return err
	}

	base, err := c.BasePolicy.Policy("")
	if err != nil {
		return err
	}
	if err := base.Validate(); err != nil {
		return fmt.Errorf("config: base %w", err)
	}

	for name, pc := range c.Policies {
		if strings.TrimSpace(name) == "" {
			return errors.New("config: policies must be named; use basePolicy for the default")
		}
		pol, err := pc.Policy(name)
		if err != nil {
			return err
		}
		if err := pol.Validate(); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}

	for path, route := range c.Routes {
		if !strings.HasPrefix(path, "/") {
			return fmt.Errorf("config: route %q must start with /", path)
		}
		for _, reserved := range reservedPaths {
			if path == reserved || strings.HasPrefix(path, reserved+"/") {
				return fmt.Errorf("config: route %q collides with reserved path %s", path, reserved)
			}
		}
		if route.Policy != "" {
			if _, ok := c.Policies[route.Policy]; !ok {
				return fmt.Errorf("config: route %q references unknown policy %q", path, route.Policy)
			}
		}
		if route.Body != "" && route.BodyFile != "" {
			return fmt.Errorf("config: route %q sets both body and bodyFile", path)
		}
		if route.BodyFile != "" && strings.TrimSpace(c.Server.Templates.Folder) == "" {
			return fmt.Errorf("config: route %q uses bodyFile but server.templates.folder is unset", path)
		}
	}
	return nil
}

// PolicySet converts every declared policy, base first, with the server
// ceiling applied.
func (c *Config) PolicySet() ([]policy.Policy, error) {
	maxTTL, err := c.Server.Cache.MaxTTLDuration()
	if err != nil {
		return nil, err
	}
	out := make([]policy.Policy, 0, len(c.Policies)+1)
	base, err := c.BasePolicy.Policy("")
	if err != nil {
		return nil, err
	}
	out = append(out, base.ClampTTL(maxTTL))
	for name, pc := range c.Policies {
		pol, err := pc.Policy(name)
		if err != nil {
			return nil, err
		}
		out = append(out, pol.ClampTTL(maxTTL))
	}
	return out, nil
}

// DefaultConfig returns the baseline values applied before file and
// environment overrides.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Listen: ListenConfig{
				Address: "0.0.0.0",
				Port:    8080,
			},
			Logging: LoggingConfig{
				Level:  "info",
				Format: "json",
			},
		},
		BasePolicy: PolicyConfig{TTL: "0s"},
	}
}
