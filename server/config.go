package server

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Hardcoded lifetime defaults, overridable through the environment.
const (
	DefaultSessionTTL     = 12 * time.Hour
	DefaultAuthnFreshness = time.Hour
	DefaultCodeTTL        = 5 * time.Minute
	DefaultAccessTTL      = 15 * time.Minute
	DefaultRefreshTTL     = 24 * time.Hour

	devPairwiseSalt = "dev-insecure-salt"
)

// Config captures the full provider configuration loaded from YAML and
// environment variables.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Clients  []ClientConfig `yaml:"clients"`
	Provider ProviderPolicy `yaml:"provider"`
	Users    UsersConfig    `yaml:"users"`

	// Lifetimes are fixed defaults plus env overrides, not YAML fields.
	Sessions SessionConfig `yaml:"-"`
	Tokens   TokenConfig   `yaml:"-"`
}

// ServerConfig controls listener and issuer identity concerns.
type ServerConfig struct {
	PublicURL    string `yaml:"public_url"`
	ListenAddr   string `yaml:"listen_addr"`
	DevMode      bool   `yaml:"dev_mode"`
	SecretsPath  string `yaml:"secrets_path"`
	PairwiseSalt string `yaml:"pairwise_salt"`
}

// ClientConfig describes a registered relying party.
type ClientConfig struct {
	ClientID                  string   `yaml:"client_id"`
	ClientSecret              string   `yaml:"client_secret"`
	RedirectURIs              []string `yaml:"redirect_uris"`
	Scopes                    []string `yaml:"scopes"`
	SubjectType               string   `yaml:"subject_type"`
	SectorIdentifierURI       string   `yaml:"sector_identifier_uri"`
	UserInfoSignedResponseAlg string   `yaml:"userinfo_signed_response_alg"`
}

// ProviderPolicy is the read-only claims-release policy consulted by the
// claims interface and advertised through discovery.
type ProviderPolicy struct {
	// ClaimsSupported is the advertised claim list. Empty means "derive
	// from the scope tables", which keeps discovery and claims resolution
	// in sync by construction.
	ClaimsSupported []string `yaml:"claims_supported"`

	// AddClaimsByScope unions scope-contributed claims into each usage
	// context's base claim set.
	AddClaimsByScope bool `yaml:"add_claims_by_scope"`

	// ExtensionScopes maps provider-registered scopes to the ordered claim
	// names they contribute, installed at configuration time.
	ExtensionScopes map[string][]string `yaml:"extension_scopes"`

	// UsageClaims overrides the base claim set per usage context. The
	// default for every context is just "sub".
	UsageClaims map[string][]string `yaml:"usage_claims"`
}

// UsersConfig points at the user attribute store backing data.
type UsersConfig struct {
	File   string                    `yaml:"file"`
	Inline map[string]map[string]any `yaml:"inline"`
}

// SessionConfig holds session registry lifetimes.
type SessionConfig struct {
	TTL            time.Duration
	AuthnFreshness time.Duration
}

// TokenConfig holds per-kind token lifetimes.
type TokenConfig struct {
	CodeTTL    time.Duration
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// LoadConfig reads the YAML config file and merges environment overrides.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		decoder := yaml.NewDecoder(bytes.NewReader(b))
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			PublicURL:    "http://127.0.0.1:8080",
			ListenAddr:   "127.0.0.1:8080",
			DevMode:      true,
			SecretsPath:  ".secrets",
			PairwiseSalt: devPairwiseSalt,
		},
		Sessions: SessionConfig{
			TTL:            DefaultSessionTTL,
			AuthnFreshness: DefaultAuthnFreshness,
		},
		Tokens: TokenConfig{
			CodeTTL:    DefaultCodeTTL,
			AccessTTL:  DefaultAccessTTL,
			RefreshTTL: DefaultRefreshTTL,
		},
	}
}

// DefaultConfig returns the default configuration template.
func DefaultConfig() Config {
	return defaultConfig()
}

func applyEnvOverrides(cfg *Config) {
	overrides := map[string]func(string){
		"OIDP_SERVER_PUBLIC_URL":    func(v string) { cfg.Server.PublicURL = v },
		"OIDP_SERVER_LISTEN_ADDR":   func(v string) { cfg.Server.ListenAddr = v },
		"OIDP_SERVER_DEV_MODE":      func(v string) { cfg.Server.DevMode = parseBool(v, cfg.Server.DevMode) },
		"OIDP_SERVER_SECRETS_PATH":  func(v string) { cfg.Server.SecretsPath = v },
		"OIDP_SERVER_PAIRWISE_SALT": func(v string) { cfg.Server.PairwiseSalt = v },
		"OIDP_USERS_FILE":           func(v string) { cfg.Users.File = v },
		"OIDP_SESSION_TTL":          func(v string) { cfg.Sessions.TTL = parseDuration(v, cfg.Sessions.TTL) },
		"OIDP_AUTHN_FRESHNESS":      func(v string) { cfg.Sessions.AuthnFreshness = parseDuration(v, cfg.Sessions.AuthnFreshness) },
		"OIDP_TOKEN_CODE_TTL":       func(v string) { cfg.Tokens.CodeTTL = parseDuration(v, cfg.Tokens.CodeTTL) },
		"OIDP_TOKEN_ACCESS_TTL":     func(v string) { cfg.Tokens.AccessTTL = parseDuration(v, cfg.Tokens.AccessTTL) },
		"OIDP_TOKEN_REFRESH_TTL":    func(v string) { cfg.Tokens.RefreshTTL = parseDuration(v, cfg.Tokens.RefreshTTL) },
	}

	for key, fn := range overrides {
		if val, ok := os.LookupEnv(key); ok {
			fn(val)
		}
	}
}

func parseDuration(val string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return d
}

func parseBool(val string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return fallback
	}
}

// Validate performs sanity checks on the merged configuration.
func (c Config) Validate() error {
	if c.Server.PublicURL == "" {
		return errors.New("server.public_url is required")
	}
	if !strings.HasPrefix(c.Server.PublicURL, "http://") && !strings.HasPrefix(c.Server.PublicURL, "https://") {
		return fmt.Errorf("server.public_url must start with http:// or https://, got: %s", c.Server.PublicURL)
	}
	if !c.Server.DevMode && c.Server.PairwiseSalt == devPairwiseSalt {
		return errors.New("server.pairwise_salt must be set in production mode")
	}

	for i, client := range c.Clients {
		if client.ClientID == "" {
			return fmt.Errorf("clients[%d]: client_id is required", i)
		}
		switch SubjectType(client.SubjectType) {
		case "", SubjectPublic, SubjectPairwise, SubjectEphemeral:
		default:
			return fmt.Errorf("clients[%d] (%s): unknown subject_type %q", i, client.ClientID, client.SubjectType)
		}
		switch client.UserInfoSignedResponseAlg {
		case "", "RS256", "ES256":
		default:
			return fmt.Errorf("clients[%d] (%s): unsupported userinfo_signed_response_alg %q", i, client.ClientID, client.UserInfoSignedResponseAlg)
		}
		if SubjectType(client.SubjectType) == SubjectPairwise && client.SectorIdentifierURI == "" && len(client.RedirectURIs) == 0 {
			return fmt.Errorf("clients[%d] (%s): pairwise clients need a sector_identifier_uri or redirect_uris", i, client.ClientID)
		}
	}

	for scope, names := range c.Provider.ExtensionScopes {
		if len(names) == 0 {
			return fmt.Errorf("provider.extension_scopes.%s maps to no claims", scope)
		}
	}

	if c.Sessions.AuthnFreshness <= 0 {
		return errors.New("authentication freshness window must be positive")
	}
	return nil
}

// EffectiveClaimsSupported returns the advertised claim list: an explicit
// override when configured, otherwise the union of the standard scope table
// and every extension scope, in stable order.
func (p ProviderPolicy) EffectiveClaimsSupported() []string {
	if len(p.ClaimsSupported) > 0 {
		return p.ClaimsSupported
	}

	seen := make(map[string]struct{})
	var out []string
	add := func(names []string) {
		for _, name := range names {
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}

	for _, scope := range standardScopeOrder {
		add(scopeClaims[scope])
	}
	for _, scope := range sortedKeys(p.ExtensionScopes) {
		add(p.ExtensionScopes[scope])
	}
	return out
}

// ScopesSupported lists the scopes the provider understands.
func (p ProviderPolicy) ScopesSupported() []string {
	out := append([]string(nil), standardScopeOrder...)
	out = append(out, sortedKeys(p.ExtensionScopes)...)
	return out
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
