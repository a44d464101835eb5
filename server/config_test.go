package server

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig with no file: %v", err)
	}
	if cfg.Server.ListenAddr != "127.0.0.1:8080" {
		t.Fatalf("unexpected listen addr: %s", cfg.Server.ListenAddr)
	}
	if !cfg.Server.DevMode {
		t.Fatalf("defaults should be dev mode")
	}
	if cfg.Sessions.TTL != DefaultSessionTTL {
		t.Fatalf("unexpected session ttl: %v", cfg.Sessions.TTL)
	}
	if cfg.Tokens.AccessTTL != DefaultAccessTTL {
		t.Fatalf("unexpected access ttl: %v", cfg.Tokens.AccessTTL)
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	content := `
server:
  public_url: https://op.example.org
  listen_addr: 0.0.0.0:9443
  dev_mode: true
clients:
  - client_id: client_1
    client_secret: hemligt
    redirect_uris:
      - https://example.com/cb
    userinfo_signed_response_alg: ES256
provider:
  add_claims_by_scope: true
  extension_scopes:
    research_and_scholarship:
      - name
      - email
      - sub
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.PublicURL != "https://op.example.org" {
		t.Fatalf("unexpected public url: %s", cfg.Server.PublicURL)
	}
	if len(cfg.Clients) != 1 || cfg.Clients[0].UserInfoSignedResponseAlg != "ES256" {
		t.Fatalf("client not loaded: %+v", cfg.Clients)
	}
	if !cfg.Provider.AddClaimsByScope {
		t.Fatalf("add_claims_by_scope not loaded")
	}
	if got := cfg.Provider.ExtensionScopes["research_and_scholarship"]; len(got) != 3 {
		t.Fatalf("extension scope not loaded: %v", got)
	}
}

func TestLoadConfigRejectsUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  no_such_field: 1\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected unknown field to be rejected")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("OIDP_SERVER_PUBLIC_URL", "https://env.example.org")
	t.Setenv("OIDP_SERVER_LISTEN_ADDR", "127.0.0.1:7000")
	t.Setenv("OIDP_SESSION_TTL", "30m")
	t.Setenv("OIDP_AUTHN_FRESHNESS", "90s")
	t.Setenv("OIDP_TOKEN_ACCESS_TTL", "not-a-duration")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.PublicURL != "https://env.example.org" {
		t.Fatalf("public url override ignored: %s", cfg.Server.PublicURL)
	}
	if cfg.Server.ListenAddr != "127.0.0.1:7000" {
		t.Fatalf("listen addr override ignored: %s", cfg.Server.ListenAddr)
	}
	if cfg.Sessions.TTL != 30*time.Minute {
		t.Fatalf("session ttl override ignored: %v", cfg.Sessions.TTL)
	}
	if cfg.Sessions.AuthnFreshness != 90*time.Second {
		t.Fatalf("freshness override ignored: %v", cfg.Sessions.AuthnFreshness)
	}
	// Malformed durations keep the default rather than failing startup.
	if cfg.Tokens.AccessTTL != DefaultAccessTTL {
		t.Fatalf("malformed duration should fall back: %v", cfg.Tokens.AccessTTL)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing public url",
			mutate:  func(c *Config) { c.Server.PublicURL = "" },
			wantErr: "public_url",
		},
		{
			name:    "bad public url scheme",
			mutate:  func(c *Config) { c.Server.PublicURL = "ftp://op.example.org" },
			wantErr: "http",
		},
		{
			name: "prod mode with dev salt",
			mutate: func(c *Config) {
				c.Server.DevMode = false
			},
			wantErr: "pairwise_salt",
		},
		{
			name: "client without id",
			mutate: func(c *Config) {
				c.Clients = []ClientConfig{{ClientSecret: "x"}}
			},
			wantErr: "client_id",
		},
		{
			name: "unknown subject type",
			mutate: func(c *Config) {
				c.Clients = []ClientConfig{{ClientID: "c", SubjectType: "anonymous"}}
			},
			wantErr: "subject_type",
		},
		{
			name: "unsupported signing alg",
			mutate: func(c *Config) {
				c.Clients = []ClientConfig{{ClientID: "c", UserInfoSignedResponseAlg: "HS256"}}
			},
			wantErr: "userinfo_signed_response_alg",
		},
		{
			name: "pairwise without sector",
			mutate: func(c *Config) {
				c.Clients = []ClientConfig{{ClientID: "c", SubjectType: "pairwise"}}
			},
			wantErr: "sector_identifier_uri",
		},
		{
			name: "empty extension scope",
			mutate: func(c *Config) {
				c.Provider.ExtensionScopes = map[string][]string{"broken": {}}
			},
			wantErr: "extension_scopes",
		},
		{
			name: "non-positive freshness",
			mutate: func(c *Config) {
				c.Sessions.AuthnFreshness = 0
			},
			wantErr: "freshness",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}

	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestEffectiveClaimsSupportedDerived(t *testing.T) {
	policy := ProviderPolicy{
		ExtensionScopes: map[string][]string{
			"research_and_scholarship": {
				"name", "given_name", "family_name", "email",
				"email_verified", "sub", "eduperson_scoped_affiliation",
			},
		},
	}

	got := policy.EffectiveClaimsSupported()
	want := []string{
		"sub", "name", "given_name", "family_name", "middle_name", "nickname",
		"profile", "preferred_username", "picture", "website", "gender",
		"birthdate", "zoneinfo", "locale", "updated_at", "email",
		"email_verified", "address", "phone_number", "phone_number_verified",
		"eduperson_scoped_affiliation",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("derived claims_supported mismatch:\n got %v\nwant %v", got, want)
	}
}

func TestEffectiveClaimsSupportedExplicitOverride(t *testing.T) {
	policy := ProviderPolicy{ClaimsSupported: []string{"sub", "name"}}
	if got := policy.EffectiveClaimsSupported(); !reflect.DeepEqual(got, []string{"sub", "name"}) {
		t.Fatalf("override ignored: %v", got)
	}
}

func TestScopesSupported(t *testing.T) {
	policy := ProviderPolicy{
		ExtensionScopes: map[string][]string{
			"zebra": {"a"},
			"alpha": {"b"},
		},
	}
	got := policy.ScopesSupported()
	want := []string{"openid", "profile", "email", "address", "phone", "alpha", "zebra"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}
