package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tmplbind/tmplbind-go/pkg/binding"
)

// DiscoverURL selects mDNS discovery instead of a fixed endpoint.
const DiscoverURL = "mdns"

// Defaults.
const (
	DefaultURL              = "tcp://127.0.0.1:8125"
	DefaultConnectTimeout   = 10 * time.Second
	DefaultRequestTimeout   = 30 * time.Second
	DefaultDiscoveryTimeout = 5 * time.Second
)

// ErrInvalidConfig is wrapped by every validation error.
var ErrInvalidConfig = errors.New("invalid config")

// Duration is a time.Duration written as a string such as "10s".
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML writes the duration as a string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the top-level configuration.
type Config struct {
	Service     ServiceConfig `yaml:"service"`
	Strict      bool          `yaml:"strict"`
	ProtocolLog string        `yaml:"protocol_log,omitempty"`
	MetricsAddr string        `yaml:"metrics_addr,omitempty"`
	Owners      []OwnerConfig `yaml:"owners"`
}

// ServiceConfig describes the evaluation service endpoint.
type ServiceConfig struct {
	// URL is tcp://, tls://, ws://, wss://, or "mdns" to discover it.
	URL string `yaml:"url"`

	// Instance selects a discovered instance by name. Empty takes the
	// first one found.
	Instance string `yaml:"instance,omitempty"`

	ConnectTimeout   Duration        `yaml:"connect_timeout,omitempty"`
	RequestTimeout   Duration        `yaml:"request_timeout,omitempty"`
	DiscoveryTimeout Duration        `yaml:"discovery_timeout,omitempty"`
	MaxMessageSize   uint32          `yaml:"max_message_size,omitempty"`
	TLS              TLSConfig       `yaml:"tls,omitempty"`
	KeepAlive        KeepAliveConfig `yaml:"keepalive,omitempty"`
}

// TLSConfig configures tls:// and wss:// endpoints.
type TLSConfig struct {
	CAFile             string `yaml:"ca_file,omitempty"`
	ServerName         string `yaml:"server_name,omitempty"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify,omitempty"`
}

// KeepAliveConfig configures pings. Zero interval disables them.
type KeepAliveConfig struct {
	Interval  Duration `yaml:"interval,omitempty"`
	Timeout   Duration `yaml:"timeout,omitempty"`
	MaxMissed int      `yaml:"max_missed,omitempty"`
}

// OwnerConfig declares one owner and its fields.
type OwnerConfig struct {
	ID     string        `yaml:"id"`
	Fields []FieldConfig `yaml:"fields"`
}

// FieldConfig declares one field.
type FieldConfig struct {
	Key       string         `yaml:"key"`
	Value     string         `yaml:"value"`
	Variables map[string]any `yaml:"variables,omitempty"`
}

// BindingFields converts the owner's fields.
func (o OwnerConfig) BindingFields() []binding.Field {
	fields := make([]binding.Field, 0, len(o.Fields))
	for _, f := range o.Fields {
		fields = append(fields, binding.Field{Key: f.Key, Raw: f.Value, Variables: f.Variables})
	}
	return fields
}

// Owner returns the owner with id.
func (c *Config) Owner(id string) (*OwnerConfig, bool) {
	for i := range c.Owners {
		if c.Owners[i].ID == id {
			return &c.Owners[i], true
		}
	}
	return nil, false
}

// DefaultConfig returns a configuration with defaults and no owners.
func DefaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			URL:              DefaultURL,
			ConnectTimeout:   Duration(DefaultConnectTimeout),
			RequestTimeout:   Duration(DefaultRequestTimeout),
			DiscoveryTimeout: Duration(DefaultDiscoveryTimeout),
		},
	}
}

// Parse parses YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads and parses the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the endpoint and that owner ids and field keys are
// unique.
func (c *Config) Validate() error {
	if err := validateURL(c.Service.URL); err != nil {
		return err
	}
	if c.Service.KeepAlive.MaxMissed < 0 {
		return fmt.Errorf("%w: keepalive.max_missed must not be negative", ErrInvalidConfig)
	}

	owners := make(map[string]bool, len(c.Owners))
	for i, o := range c.Owners {
		if o.ID == "" {
			return fmt.Errorf("%w: owners[%d]: id is required", ErrInvalidConfig, i)
		}
		if owners[o.ID] {
			return fmt.Errorf("%w: duplicate owner %q", ErrInvalidConfig, o.ID)
		}
		owners[o.ID] = true

		keys := make(map[string]bool, len(o.Fields))
		for j, f := range o.Fields {
			if f.Key == "" {
				return fmt.Errorf("%w: owner %q: fields[%d]: key is required", ErrInvalidConfig, o.ID, j)
			}
			if keys[f.Key] {
				return fmt.Errorf("%w: owner %q: duplicate key %q", ErrInvalidConfig, o.ID, f.Key)
			}
			keys[f.Key] = true
		}
	}
	return nil
}

func validateURL(raw string) error {
	if raw == DiscoverURL {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: service.url: %v", ErrInvalidConfig, err)
	}
	switch u.Scheme {
	case "tcp", "tls", "ws", "wss":
	default:
		return fmt.Errorf("%w: service.url: unsupported scheme %q", ErrInvalidConfig, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: service.url: missing host", ErrInvalidConfig)
	}
	return nil
}

// Marshal encodes c as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
