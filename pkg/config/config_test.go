package config

import (
	"context"
	"testing"
	"time"
)

func TestParseConfig_Basic(t *testing.T) {
	cfg, err := ParseConfig(`{
		"listen": "127.0.0.1:5432",
		"auth_method": "scram-sha-256",
		"max_message_bytes": "64MiB",
		"startup_timeout": "10s",
		"startup_parameters": {"server_version": "17.0"},
		"users": [{
			"username": {"insecure_value": "tom"},
			"password": {"insecure_value": "pencil"}
		}]
	}`)
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}

	if cfg.Listen != "127.0.0.1:5432" {
		t.Errorf("listen: expected 127.0.0.1:5432, got %q", cfg.Listen)
	}
	if cfg.AuthMethod != "scram-sha-256" {
		t.Errorf("auth_method: got %q", cfg.AuthMethod)
	}
	if cfg.MaxMessageBytes != 64*MiB {
		t.Errorf("max_message_bytes: expected %d, got %d", 64*MiB, cfg.MaxMessageBytes)
	}
	if cfg.StartupTimeout.Std() != 10*time.Second {
		t.Errorf("startup_timeout: got %v", cfg.StartupTimeout)
	}
	if cfg.StartupParameters["server_version"] != "17.0" {
		t.Errorf("startup_parameters: got %v", cfg.StartupParameters)
	}
	if len(cfg.Users) != 1 {
		t.Fatalf("expected 1 user, got %d", len(cfg.Users))
	}
}

func TestConfig_MethodFor(t *testing.T) {
	cfg := &Config{
		AuthMethod: "md5",
		AuthRules: []AuthRule{
			{User: "admin", Method: "scram-sha-256-plus"},
			{Database: "metrics", Method: "trust"},
		},
	}

	tests := []struct {
		user, database, want string
	}{
		{"admin", "any", "scram-sha-256-plus"},
		{"bob", "metrics", "trust"},
		{"bob", "app", "md5"},
	}
	for _, tt := range tests {
		if got := cfg.MethodFor(tt.user, tt.database); got != tt.want {
			t.Errorf("MethodFor(%q, %q): expected %q, got %q", tt.user, tt.database, tt.want, got)
		}
	}

	empty := &Config{}
	if got := empty.MethodFor("u", "d"); got != "scram-sha-256" {
		t.Errorf("default method: expected scram-sha-256, got %q", got)
	}
}

func TestConfig_ValidateRejectsBadAuthMethod(t *testing.T) {
	cfg := &Config{Listen: ":5432", AuthMethod: "kerberos"}
	if err := cfg.Validate(context.Background(), nil); err == nil {
		t.Fatal("expected error for unknown auth_method")
	}
}

func TestConfig_ValidateRequiresListen(t *testing.T) {
	cfg := &Config{}
	if err := cfg.Validate(context.Background(), nil); err == nil {
		t.Fatal("expected error for missing listen address")
	}
}

func TestConfig_ValidateDirectSSLNeedsTLS(t *testing.T) {
	cfg := &Config{Listen: ":5432", DirectSSL: true}
	if err := cfg.Validate(context.Background(), nil); err == nil {
		t.Fatal("expected error for direct_ssl without tls")
	}
}

func TestConfig_ValidateResolvesSecrets(t *testing.T) {
	cfg := &Config{
		Listen: ":5432",
		Users: []UserConfig{{
			Username: SecretRef{InsecureValue: "tom"},
			Password: SecretRef{EnvVar: "PGFRONT_TEST_MISSING_ENV"},
		}},
	}
	if err := cfg.Validate(context.Background(), NewSecretCache(nil)); err == nil {
		t.Fatal("expected error for unresolvable secret")
	}

	t.Setenv("PGFRONT_TEST_MISSING_ENV", "pencil")
	if err := cfg.Validate(context.Background(), NewSecretCache(nil)); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestDuration_UnmarshalForms(t *testing.T) {
	tests := []struct {
		json string
		want time.Duration
	}{
		{`{"startup_timeout": "90s"}`, 90 * time.Second},
		{`{"startup_timeout": "1m30s"}`, 90 * time.Second},
		{`{"startup_timeout": 2}`, 2 * time.Second},
		{`{"startup_timeout": 0.5}`, 500 * time.Millisecond},
	}
	for _, tt := range tests {
		cfg, err := ParseConfig(tt.json)
		if err != nil {
			t.Fatalf("ParseConfig(%s) failed: %v", tt.json, err)
		}
		if cfg.StartupTimeout.Std() != tt.want {
			t.Errorf("%s: expected %v, got %v", tt.json, tt.want, cfg.StartupTimeout.Std())
		}
	}
}
