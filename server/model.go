package server

import "time"

// TokenKind enumerates the credential kinds a grant can carry.
type TokenKind string

const (
	KindAuthorizationCode TokenKind = "authorization_code"
	KindAccessToken       TokenKind = "access_token"
	KindRefreshToken      TokenKind = "refresh_token"
)

// SubjectType selects how the externally visible sub claim is derived.
type SubjectType string

const (
	SubjectPublic    SubjectType = "public"
	SubjectPairwise  SubjectType = "pairwise"
	SubjectEphemeral SubjectType = "ephemeral"
)

// Token records one issued credential. The owning grant holds the token for
// its whole life; BasedOn is an audit reference to the value of the token
// that authorised its issuance and never a lifetime dependency.
type Token struct {
	Kind      TokenKind
	Value     string
	SessionID string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Revoked   bool
	BasedOn   string
}

// Active reports whether the token may still be presented. Revocation is
// monotonic, so a false result is final once observed.
func (t *Token) Active(now time.Time) bool {
	return !t.Revoked && now.Before(t.ExpiresAt)
}

// AuthnEvent captures one authentication of the user. ValidUntil is fixed
// from the freshness window at creation and only moves by explicit
// re-authentication or extension.
type AuthnEvent struct {
	ACR        string
	AuthnTime  time.Time
	ValidUntil time.Time
}

// Fresh reports whether the event is still inside its freshness window.
func (e AuthnEvent) Fresh(now time.Time) bool {
	return now.Before(e.ValidUntil)
}

// Grant is one authorization transaction: the authentication event it was
// issued under, the scopes the user consented to, and every token minted
// under it. The token list is append-only; revocation marks, never removes.
type Grant struct {
	ID         string
	AuthnEvent AuthnEvent
	Scopes     []string
	Tokens     []*Token
	CreatedAt  time.Time

	// Resolved claim names per usage context, recomputed when the stamp no
	// longer matches the scopes and claims policy they were derived from.
	claims      map[string][]string
	claimsStamp string
}

// Session binds a user to a client under one subject derivation policy.
// Its identity is deterministic in (user, client, subject policy), so
// repeated authorizations accumulate grants on the same session.
type Session struct {
	ID               string
	UserID           string
	ClientID         string
	SubjectType      SubjectType
	SectorIdentifier string
	Subject          string
	Grants           map[string]*Grant
	CreatedAt        time.Time

	latest string
}

// SessionInfo is the read model returned by GetSessionInfo.
type SessionInfo struct {
	SessionID        string
	UserID           string
	ClientID         string
	SubjectType      SubjectType
	SectorIdentifier string
	Subject          string
	Grant            *Grant
}

// AuthorizationRequest carries the parameters of the authorization
// transaction that opens a grant. It is produced by the authorization
// endpoint, which lives outside this core.
type AuthorizationRequest struct {
	ClientID            string
	RedirectURI         string
	Scope               []string
	State               string
	Nonce               string
	SectorIdentifierURI string
}
