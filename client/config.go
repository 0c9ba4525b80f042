package client

import (
	"crypto/tls"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/kestreldb/kestrel-go/transport"
)

// Config describes how to reach the server and how the pool behaves. It is
// immutable once a pool has been created from it.
type Config struct {
	// Host is a hostname, IP address, or unix socket directory path.
	Host string `validate:"required"`

	// Port is the server port. Default: 5432.
	Port uint16 `validate:"required"`

	User     string `validate:"required"`
	Password string
	Database string

	// MaxPoolSize is the maximum number of open connections. The pool
	// starts empty and grows on demand. Default: 10.
	MaxPoolSize int `validate:"min=1"`

	// StatementCacheEnabled controls the per-connection prepared statement
	// cache. Default: true.
	StatementCacheEnabled bool

	// StatementCacheSize is the maximum number of cached statements per
	// connection. Default: 100.
	StatementCacheSize int `validate:"min=1"`

	// DialTimeout bounds connection establishment. Default: 10s.
	DialTimeout time.Duration

	// CloseGracePeriod is how long Close waits for in-flight work before
	// forcing teardown. Default: 30s.
	CloseGracePeriod time.Duration

	// TLS settings, passed through to the transport.
	UseTLS     bool
	TLSConfig  *tls.Config
	SkipVerify bool
	CertPath   string
	KeyPath    string

	// Logger receives driver lifecycle events. Default: no-op.
	Logger Logger
}

// DefaultConfig returns a Config with default values. Host, User and
// Database still need to be filled in.
func DefaultConfig() Config {
	return Config{
		Port:                  5432,
		MaxPoolSize:           10,
		StatementCacheEnabled: true,
		StatementCacheSize:    100,
		DialTimeout:           10 * time.Second,
		CloseGracePeriod:      30 * time.Second,
	}
}

var configValidator = validator.New()

// Validate checks the configuration. It is called by NewPool; standalone
// use is for surfacing problems early.
func (c *Config) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		return &PoolError{Code: "E_CONFIG_INVALID", Message: "invalid configuration", Cause: err}
	}
	return nil
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Port == 0 {
		out.Port = 5432
	}
	if out.MaxPoolSize == 0 {
		out.MaxPoolSize = 10
	}
	if out.StatementCacheSize == 0 {
		out.StatementCacheSize = 100
	}
	if out.DialTimeout == 0 {
		out.DialTimeout = 10 * time.Second
	}
	if out.CloseGracePeriod == 0 {
		out.CloseGracePeriod = 30 * time.Second
	}
	if out.Logger == nil {
		out.Logger = NewNoopLogger()
	}
	return out
}

func (c *Config) transportOptions() transport.Options {
	return transport.Options{
		Host:        c.Host,
		Port:        c.Port,
		User:        c.User,
		Password:    c.Password,
		Database:    c.Database,
		DialTimeout: c.DialTimeout,
		UseTLS:      c.UseTLS,
		TLSConfig:   c.TLSConfig,
		SkipVerify:  c.SkipVerify,
		CertPath:    c.CertPath,
		KeyPath:     c.KeyPath,
	}
}

// ParseURL builds a Config from a postgres:// or postgresql:// URL.
// Recognized query parameters: max_pool_size, statement_cache (on|off),
// sslmode (disable|require).
func ParseURL(raw string) (Config, error) {
	cfg := DefaultConfig()

	u, err := url.Parse(raw)
	if err != nil {
		return cfg, &PoolError{Code: "E_CONFIG_INVALID", Message: "invalid connection URL", Cause: err}
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return cfg, &PoolError{Code: "E_CONFIG_INVALID", Message: fmt.Sprintf("unsupported URL scheme %q", u.Scheme)}
	}

	if u.User != nil {
		cfg.User = u.User.Username()
		cfg.Password, _ = u.User.Password()
	}
	cfg.Host = u.Hostname()
	if portStr := u.Port(); portStr != "" {
		port, err := strconv.ParseUint(portStr, 10, 16)
		if err != nil {
			return cfg, &PoolError{Code: "E_CONFIG_INVALID", Message: "invalid port", Cause: err}
		}
		cfg.Port = uint16(port)
	}
	cfg.Database = strings.TrimPrefix(u.Path, "/")

	q := u.Query()
	if v := q.Get("max_pool_size"); v != "" {
		size, err := strconv.Atoi(v)
		if err != nil {
			return cfg, &PoolError{Code: "E_CONFIG_INVALID", Message: "invalid max_pool_size", Cause: err}
		}
		cfg.MaxPoolSize = size
	}
	if v := q.Get("statement_cache"); v != "" {
		cfg.StatementCacheEnabled = v != "off" && v != "disabled"
	}
	if v := q.Get("sslmode"); v != "" {
		cfg.UseTLS = v != "disable"
	}
	return cfg, nil
}
