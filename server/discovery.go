package server

import "strings"

// DiscoveryDocument is a simple alias for discovery metadata.
type DiscoveryDocument map[string]any

// BuildDiscoveryDocument constructs the OIDC discovery document. The
// advertised claims_supported comes from the same provider policy the
// claims interface filters against, so the two cannot drift apart.
func BuildDiscoveryDocument(cfg Config) DiscoveryDocument {
	issuer := strings.TrimSuffix(cfg.Server.PublicURL, "/")
	return DiscoveryDocument{
		"issuer":                                issuer,
		"authorization_endpoint":                issuer + "/authorize",
		"token_endpoint":                        issuer + "/token",
		"userinfo_endpoint":                     issuer + "/userinfo",
		"jwks_uri":                              issuer + "/.well-known/jwks.json",
		"response_types_supported":              []string{"code"},
		"grant_types_supported":                 []string{"authorization_code", "refresh_token"},
		"subject_types_supported":               []string{"public", "pairwise", "ephemeral"},
		"scopes_supported":                      cfg.Provider.ScopesSupported(),
		"claims_supported":                      cfg.Provider.EffectiveClaimsSupported(),
		"claim_types_supported":                 []string{"normal"},
		"userinfo_signing_alg_values_supported": signingAlgs,
		"id_token_signing_alg_values_supported": signingAlgs,
	}
}
