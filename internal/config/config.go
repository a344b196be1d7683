// Package config loads fanout tool configuration from YAML and derives broker endpoints.
package config

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rmacdonaldsmith/fanout-go/pkg/codec"
	"gopkg.in/yaml.v3"
)

var (
	// ErrEmptyHost is returned when the broker host is empty
	ErrEmptyHost = errors.New("broker host cannot be empty")
	// ErrInvalidPort is returned when a port is outside 1-65535
	ErrInvalidPort = errors.New("port must be between 1 and 65535")
	// ErrInvalidScheme is returned when the management scheme is not http or https
	ErrInvalidScheme = errors.New("management scheme must be http or https")
	// ErrInvalidAuth is returned when an auth string is not of the form user@password
	ErrInvalidAuth = errors.New("auth must be of the form user@password")
)

// Config is the top-level configuration for the fanout tools.
type Config struct {
	Broker     BrokerConfig     `yaml:"broker"`
	Management ManagementConfig `yaml:"management"`
	Logging    LoggingConfig    `yaml:"logging"`

	// Codec names the payload codec (msgpack, json, proto)
	Codec string `yaml:"codec"`
}

// BrokerConfig describes the AMQP endpoint.
type BrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	VHost    string `yaml:"vhost"`
}

// ManagementConfig describes the management plugin endpoint. It shares host
// and credentials with Broker.
type ManagementConfig struct {
	Port    int           `yaml:"port"`
	Scheme  string        `yaml:"scheme"`
	Timeout time.Duration `yaml:"timeout"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// Default returns a configuration for a local broker with guest credentials.
func Default() *Config {
	c := &Config{}
	c.SetDefaults()
	return c
}

// Load reads a YAML file, fills defaults and validates the result.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	c := &Config{}
	if err := DecodeStrict(f, c); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	c.SetDefaults()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// DecodeStrict decodes YAML from a reader and rejects any unknown fields.
// An empty document leaves out untouched.
func DecodeStrict(r io.Reader, out interface{}) error {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.Broker.Host == "" {
		c.Broker.Host = "localhost"
	}
	if c.Broker.Port == 0 {
		c.Broker.Port = 5672
	}
	if c.Broker.Username == "" && c.Broker.Password == "" {
		c.Broker.Username = "guest"
		c.Broker.Password = "guest"
	}
	if c.Broker.VHost == "" {
		c.Broker.VHost = "/"
	}
	if c.Management.Port == 0 {
		c.Management.Port = 15672
	}
	if c.Management.Scheme == "" {
		c.Management.Scheme = "http"
	}
	if c.Management.Timeout == 0 {
		c.Management.Timeout = 10 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
	if c.Codec == "" {
		c.Codec = codec.Default.Name()
	}
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	if c.Broker.Host == "" {
		return ErrEmptyHost
	}
	if !validPort(c.Broker.Port) {
		return fmt.Errorf("broker: %w", ErrInvalidPort)
	}
	if !validPort(c.Management.Port) {
		return fmt.Errorf("management: %w", ErrInvalidPort)
	}
	if c.Management.Scheme != "http" && c.Management.Scheme != "https" {
		return ErrInvalidScheme
	}
	if _, err := codec.ByName(c.Codec); err != nil {
		return err
	}
	return nil
}

func validPort(p int) bool {
	return p > 0 && p <= 65535
}

// SetAuth applies an auth string of the form user@password.
func (c *Config) SetAuth(auth string) error {
	user, password, err := ParseAuth(auth)
	if err != nil {
		return err
	}
	c.Broker.Username = user
	c.Broker.Password = password
	return nil
}

// ParseAuth splits "user@password". The password may itself contain '@'.
func ParseAuth(auth string) (user, password string, err error) {
	user, password, ok := strings.Cut(auth, "@")
	if !ok || user == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidAuth, auth)
	}
	return user, password, nil
}

// AMQPURL returns the amqp:// URL for the broker section.
func (c *Config) AMQPURL() string {
	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(c.Broker.Username, c.Broker.Password),
		Host:   net.JoinHostPort(c.Broker.Host, strconv.Itoa(c.Broker.Port)),
		Path:   "/",
	}
	if c.Broker.VHost != "/" {
		u.Path = "/" + c.Broker.VHost
		u.RawPath = "/" + url.PathEscape(c.Broker.VHost)
	}
	return u.String()
}

// ManagementURL returns the base URL of the management API.
func (c *Config) ManagementURL() string {
	u := url.URL{
		Scheme: c.Management.Scheme,
		Host:   net.JoinHostPort(c.Broker.Host, strconv.Itoa(c.Management.Port)),
	}
	return u.String()
}
