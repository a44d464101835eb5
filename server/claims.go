package server

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"sync"
)

// Usage contexts claims can be resolved for. Each may release a different
// subset of the user's attributes.
const (
	UsageUserInfo      = "userinfo"
	UsageIDToken       = "id_token"
	UsageIntrospection = "introspection"
)

// standardScopeOrder fixes the iteration order of the standard table.
var standardScopeOrder = []string{"openid", "profile", "email", "address", "phone"}

// scopeClaims is the standard OpenID Connect scope to claims table.
var scopeClaims = map[string][]string{
	"openid": {"sub"},
	"profile": {
		"name", "given_name", "family_name", "middle_name", "nickname",
		"profile", "preferred_username", "picture", "website", "gender",
		"birthdate", "zoneinfo", "locale", "updated_at",
	},
	"email":   {"email", "email_verified"},
	"address": {"address"},
	"phone":   {"phone_number", "phone_number_verified"},
}

// ClaimsInterface computes the claim set releasable for a session, the
// requested scopes, and a usage context, merging the standard table with
// provider-registered extension scopes.
type ClaimsInterface struct {
	sessions *SessionManager
	users    *UserStore
	policy   ProviderPolicy
	logger   *slog.Logger

	mu               sync.RWMutex
	addClaimsByScope bool
	supported        map[string]struct{}
}

// NewClaimsInterface wires the resolver against the provider policy.
func NewClaimsInterface(policy ProviderPolicy, sessions *SessionManager, users *UserStore, logger *slog.Logger) *ClaimsInterface {
	supported := make(map[string]struct{})
	for _, name := range policy.EffectiveClaimsSupported() {
		supported[name] = struct{}{}
	}
	return &ClaimsInterface{
		sessions:         sessions,
		users:            users,
		policy:           policy,
		logger:           logger,
		addClaimsByScope: policy.AddClaimsByScope,
		supported:        supported,
	}
}

// SetAddClaimsByScope flips the scope-contribution flag at runtime. Cached
// grant resolutions are stamped against it and recompute on next use.
func (ci *ClaimsInterface) SetAddClaimsByScope(v bool) {
	ci.mu.Lock()
	ci.addClaimsByScope = v
	ci.mu.Unlock()
}

// GetClaims returns the ordered claim names releasable for the session in
// the given usage context. Results are cached on the grant keyed by usage
// until the scopes or the policy flag change.
func (ci *ClaimsInterface) GetClaims(sessionID string, scopes []string, usage string) ([]string, error) {
	byScope := ci.scopeFlag()
	stamp := claimsStamp(scopes, byScope)

	var out []string
	err := ci.sessions.withGrant(sessionID, func(g *Grant) error {
		if g.claimsStamp == stamp {
			if cached, ok := g.claims[usage]; ok {
				out = append([]string(nil), cached...)
				return nil
			}
		} else {
			g.claims = nil
		}

		resolved := ci.resolve(scopes, usage, byScope)
		if g.claims == nil {
			g.claims = make(map[string][]string)
		}
		g.claims[usage] = resolved
		g.claimsStamp = stamp
		out = append([]string(nil), resolved...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetUserClaims fetches concrete values from the user attribute store.
// An unknown user degrades to an empty claim set.
func (ci *ClaimsInterface) GetUserClaims(userID string, names []string) map[string]any {
	return ci.users.Claims(userID, names)
}

func (ci *ClaimsInterface) scopeFlag() bool {
	ci.mu.RLock()
	defer ci.mu.RUnlock()
	return ci.addClaimsByScope
}

// resolve walks the four resolution steps: usage base set, scope
// contributions, claims_supported intersection, ordered deduplication.
func (ci *ClaimsInterface) resolve(scopes []string, usage string, byScope bool) []string {
	names := append([]string(nil), ci.base(usage)...)

	if byScope {
		for _, scope := range scopes {
			if extra, ok := ci.policy.ExtensionScopes[scope]; ok {
				names = append(names, extra...)
				continue
			}
			names = append(names, scopeClaims[scope]...)
		}
	}

	ci.mu.RLock()
	defer ci.mu.RUnlock()
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		if _, ok := ci.supported[name]; !ok {
			// Advertisement mismatch, not a client error: drop silently.
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

func (ci *ClaimsInterface) base(usage string) []string {
	if names, ok := ci.policy.UsageClaims[usage]; ok {
		return names
	}
	return []string{"sub"}
}

func claimsStamp(scopes []string, byScope bool) string {
	h := sha256.New()
	h.Write([]byte(strings.Join(scopes, " ")))
	if byScope {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
