// Package config handles interpreting the pgfront.json config file.
package config

import (
	"context"
	"encoding/json/v2"
	"errors"
	"fmt"
	"iter"
	"os"
)

// Config holds the pgfront server configuration.
type Config struct {
	// Listen is the TCP address to serve on, e.g. "127.0.0.1:5432".
	Listen string `json:"listen"`

	// TLS configures the server certificate and sslmode policy.
	TLS JsonTLSConfig `json:"tls,omitzero"`

	// DirectSSL accepts a TLS handshake immediately on connect, before any
	// protocol byte (PostgreSQL 17 direct SSL).
	DirectSSL bool `json:"direct_ssl,omitzero"`

	// AuthMethod is the default authentication method:
	// trust | cleartext | md5 | scram-sha-256 | scram-sha-256-plus.
	AuthMethod string `json:"auth_method,omitzero"`

	// AuthRules override AuthMethod per user and/or database. The first
	// matching rule wins.
	AuthRules []AuthRule `json:"auth_rules,omitzero"`

	// SCRAMIterations is the PBKDF2 iteration count for SCRAM verifiers
	// derived from cleartext passwords. Defaults to 4096.
	SCRAMIterations int `json:"scram_iterations,omitzero"`

	// MaxMessageBytes caps a single protocol message. Defaults to 256MiB.
	MaxMessageBytes ByteSize `json:"max_message_bytes,omitzero"`

	// StartupTimeout bounds the wait for the StartupMessage.
	StartupTimeout Duration `json:"startup_timeout,omitzero"`

	// IdleTimeout bounds the wait for the next query between commands.
	IdleTimeout Duration `json:"idle_timeout,omitzero"`

	// QueryTimeout bounds a single handler invocation.
	QueryTimeout Duration `json:"query_timeout,omitzero"`

	// StartupParameters are extra ParameterStatus pairs reported to clients,
	// overlaid on the built-in defaults.
	StartupParameters map[string]string `json:"startup_parameters,omitzero"`

	// Users lists the accounts this server accepts.
	Users []UserConfig `json:"users,omitzero"`
}

// AuthRule selects an auth method for matching connections. Empty User or
// Database fields match anything.
type AuthRule struct {
	User     string `json:"user,omitzero"`
	Database string `json:"database,omitzero"`
	Method   string `json:"method"`
}

// Matches reports whether the rule applies to the given user and database.
func (r AuthRule) Matches(user, database string) bool {
	if r.User != "" && r.User != user {
		return false
	}
	if r.Database != "" && r.Database != database {
		return false
	}
	return true
}

// UserConfig describes one account. Username and Password are secret
// references so real deployments can keep them out of the config file.
type UserConfig struct {
	Username SecretRef `json:"username"`
	Password SecretRef `json:"password"`
}

// ParseConfig parses a JSON configuration string and returns a Config.
func ParseConfig(jsonStr string) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal([]byte(jsonStr), &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ReadConfigFile reads and parses a configuration file from the given path.
func ReadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseConfig(string(data))
}

// Secrets returns an iterator over all secret references in the config.
// Each secret is yielded with a description of where it appears in the config.
func (c *Config) Secrets() iter.Seq2[string, SecretRef] {
	return func(yield func(string, SecretRef) bool) {
		for i, user := range c.Users {
			if !yield(fmt.Sprintf("users[%d].username", i), user.Username) {
				return
			}
			if !yield(fmt.Sprintf("users[%d].password", i), user.Password) {
				return
			}
		}
	}
}

// MethodFor resolves the auth method name for a user/database pair.
func (c *Config) MethodFor(user, database string) string {
	for _, rule := range c.AuthRules {
		if rule.Matches(user, database) {
			return rule.Method
		}
	}
	if c.AuthMethod != "" {
		return c.AuthMethod
	}
	return "scram-sha-256"
}

// Validate checks the configuration and resolves every secret reference once
// so misconfiguration fails at startup, not at the first login.
func (c *Config) Validate(ctx context.Context, secrets *SecretCache) error {
	if c.Listen == "" {
		return errors.New("listen address is required")
	}
	if err := c.TLS.Validate(os.DirFS(".")); err != nil {
		return fmt.Errorf("tls: %w", err)
	}
	if c.DirectSSL && !c.TLS.Enabled() {
		return errors.New("direct_ssl requires tls to be enabled")
	}
	validMethods := map[string]bool{
		"": true, "trust": true, "cleartext": true, "password": true,
		"md5": true, "scram-sha-256": true, "scram-sha-256-plus": true,
	}
	if !validMethods[c.AuthMethod] {
		return fmt.Errorf("unknown auth_method %q", c.AuthMethod)
	}
	for i, rule := range c.AuthRules {
		if rule.Method == "" || !validMethods[rule.Method] {
			return fmt.Errorf("auth_rules[%d]: unknown method %q", i, rule.Method)
		}
	}
	if c.SCRAMIterations < 0 {
		return errors.New("scram_iterations must be positive")
	}
	if secrets != nil {
		for where, ref := range c.Secrets() {
			if _, err := secrets.Get(ctx, ref); err != nil {
				return fmt.Errorf("%s: %w", where, err)
			}
		}
	}
	return nil
}
