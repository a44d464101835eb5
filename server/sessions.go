package server

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/crypto/hkdf"
)

// SessionManager is the authoritative registry of sessions and grants. It
// owns all token state and the reverse index from token value to session,
// maintained incrementally on mint so resolution stays off the brute-force
// path.
type SessionManager struct {
	mu       sync.RWMutex
	sessions *gocache.Cache // session id -> *Session
	tokens   *gocache.Cache // token value -> owning session id

	handlers  HandlerSet
	salt      string
	freshness time.Duration
	metrics   *Metrics
	logger    *slog.Logger
}

// NewSessionManager constructs the registry honouring configured lifetimes.
// Sessions and their token index entries share the same eviction horizon so
// an evicted session cannot leave resolvable token values behind.
func NewSessionManager(cfg Config, handlers HandlerSet, metrics *Metrics, logger *slog.Logger) *SessionManager {
	ttl := cfg.Sessions.TTL
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	return &SessionManager{
		sessions:  gocache.New(ttl, 10*time.Minute),
		tokens:    gocache.New(ttl, 10*time.Minute),
		handlers:  handlers,
		salt:      cfg.Server.PairwiseSalt,
		freshness: cfg.Sessions.AuthnFreshness,
		metrics:   metrics,
		logger:    logger,
	}
}

// NewAuthnEvent stamps an authentication event with the configured
// freshness window. ValidUntil is derived once, here, never recomputed.
func (sm *SessionManager) NewAuthnEvent(acr string) AuthnEvent {
	now := time.Now()
	return AuthnEvent{ACR: acr, AuthnTime: now, ValidUntil: now.Add(sm.freshness)}
}

// CreateSession registers (or revisits) the session for the given identity
// tuple and opens a fresh grant for this authorization transaction. The
// session id is deterministic in (user, client, subject policy), so
// repeated authorizations accumulate grants on one session.
func (sm *SessionManager) CreateSession(ev AuthnEvent, authReq AuthorizationRequest, userID, clientID string, subType SubjectType, sector string) (string, error) {
	if subType == "" {
		subType = SubjectPublic
	}
	if sector == "" {
		sector = sectorFromURI(authReq.SectorIdentifierURI)
	}
	if subType == SubjectPairwise && sector == "" {
		return "", &ConfigurationError{Reason: "pairwise subject type requires a resolvable sector identifier"}
	}

	id := sessionKey(userID, clientID, subType, sector)

	sm.mu.Lock()
	defer sm.mu.Unlock()

	sess := sm.lookup(id)
	if sess == nil {
		sub, err := sm.deriveSubject(userID, subType, sector)
		if err != nil {
			return "", err
		}
		sess = &Session{
			ID:               id,
			UserID:           userID,
			ClientID:         clientID,
			SubjectType:      subType,
			SectorIdentifier: sector,
			Subject:          sub,
			Grants:           make(map[string]*Grant),
			CreatedAt:        time.Now(),
		}
		sm.sessions.SetDefault(id, sess)
	}

	grant := &Grant{
		ID:         uuid.NewString(),
		AuthnEvent: ev,
		Scopes:     append([]string(nil), authReq.Scope...),
		CreatedAt:  time.Now(),
	}
	sess.Grants[grant.ID] = grant
	sess.latest = grant.ID

	sm.logger.Debug("session grant opened", "session_id", id, "grant_id", grant.ID, "client_id", clientID)
	return id, nil
}

// GetGrant returns the session's current grant.
func (sm *SessionManager) GetGrant(sessionID string) (*Grant, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	sess := sm.lookup(sessionID)
	if sess == nil {
		return nil, ErrSessionNotFound
	}
	grant := sess.Grants[sess.latest]
	if grant == nil {
		return nil, ErrSessionNotFound
	}
	return grant, nil
}

// GetSessionInfo returns the session attributes, plus the current grant
// when requested.
func (sm *SessionManager) GetSessionInfo(sessionID string, wantGrant bool) (SessionInfo, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	sess := sm.lookup(sessionID)
	if sess == nil {
		return SessionInfo{}, ErrSessionNotFound
	}
	info := SessionInfo{
		SessionID:        sess.ID,
		UserID:           sess.UserID,
		ClientID:         sess.ClientID,
		SubjectType:      sess.SubjectType,
		SectorIdentifier: sess.SectorIdentifier,
		Subject:          sess.Subject,
	}
	if wantGrant {
		info.Grant = sess.Grants[sess.latest]
	}
	return info, nil
}

// MintToken delegates to the handler for the kind, appends the token to the
// session's current grant, and indexes its value. Append and index happen
// under one critical section so resolution never observes a partial mint.
func (sm *SessionManager) MintToken(sessionID string, kind TokenKind, expiresAt time.Time, basedOn *Token) (*Token, error) {
	handler, ok := sm.handlers[kind]
	if !ok {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("no token handler for kind %q", kind)}
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	sess := sm.lookup(sessionID)
	if sess == nil {
		return nil, ErrSessionNotFound
	}
	grant := sess.Grants[sess.latest]
	if grant == nil {
		return nil, ErrSessionNotFound
	}

	parent := ""
	if basedOn != nil {
		parent = basedOn.Value
	}
	tok := handler.Mint(sessionID, expiresAt, parent)
	grant.Tokens = append(grant.Tokens, tok)
	sm.tokens.SetDefault(tok.Value, sessionID)

	if sm.metrics != nil {
		sm.metrics.TokensMinted.WithLabelValues(string(kind)).Inc()
	}
	return tok, nil
}

// ResolveToken maps a bearer value back to its owners. Expired or revoked
// tokens still resolve; callers decide what an inactive token means.
func (sm *SessionManager) ResolveToken(value string) (*Session, *Grant, *Token, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	owner, ok := sm.tokens.Get(value)
	if !ok {
		return nil, nil, nil, ErrTokenNotFound
	}
	sess := sm.lookup(owner.(string))
	if sess == nil {
		// Session evicted underneath its index entry.
		return nil, nil, nil, ErrTokenNotFound
	}
	for _, grant := range sess.Grants {
		for _, tok := range grant.Tokens {
			if tok.Value == value {
				return sess, grant, tok, nil
			}
		}
	}
	return nil, nil, nil, ErrTokenNotFound
}

// RevokeToken flips the monotonic revocation flag. In-flight reads may
// still observe the pre-revocation state; that is accepted.
func (sm *SessionManager) RevokeToken(value string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	tok := sm.findToken(value)
	if tok == nil {
		return ErrTokenNotFound
	}
	tok.Revoked = true
	return nil
}

// ExchangeCode mints an access token from an authorization code and
// consumes the code. A code can be exchanged exactly once.
func (sm *SessionManager) ExchangeCode(code string, expiresAt time.Time) (*Token, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	codeTok := sm.findToken(code)
	if codeTok == nil {
		return nil, ErrTokenNotFound
	}
	if codeTok.Kind != KindAuthorizationCode {
		return nil, ErrWrongTokenKind
	}
	if !codeTok.Active(time.Now()) {
		return nil, ErrExpiredOrRevoked
	}

	sess := sm.lookup(codeTok.SessionID)
	if sess == nil {
		return nil, ErrSessionNotFound
	}
	grant := sm.owningGrant(sess, code)
	if grant == nil {
		return nil, ErrTokenNotFound
	}

	codeTok.Revoked = true
	tok := sm.handlers[KindAccessToken].Mint(sess.ID, expiresAt, codeTok.Value)
	grant.Tokens = append(grant.Tokens, tok)
	sm.tokens.SetDefault(tok.Value, sess.ID)

	if sm.metrics != nil {
		sm.metrics.TokensMinted.WithLabelValues(string(KindAccessToken)).Inc()
	}
	return tok, nil
}

// ExtendAuthentication explicitly moves the current grant's freshness
// horizon, the only sanctioned way ValidUntil changes after creation.
func (sm *SessionManager) ExtendAuthentication(sessionID string, until time.Time) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sess := sm.lookup(sessionID)
	if sess == nil {
		return ErrSessionNotFound
	}
	grant := sess.Grants[sess.latest]
	if grant == nil {
		return ErrSessionNotFound
	}
	grant.AuthnEvent.ValidUntil = until
	return nil
}

// UpdateScopes replaces the current grant's authorized scopes. The cached
// claims resolution is stamped against scopes, so it invalidates itself.
func (sm *SessionManager) UpdateScopes(sessionID string, scopes []string) error {
	return sm.withGrant(sessionID, func(g *Grant) error {
		g.Scopes = append([]string(nil), scopes...)
		return nil
	})
}

// DeleteSession removes a session and all state reachable from it.
func (sm *SessionManager) DeleteSession(sessionID string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sess := sm.lookup(sessionID)
	if sess == nil {
		return
	}
	for _, grant := range sess.Grants {
		for _, tok := range grant.Tokens {
			sm.tokens.Delete(tok.Value)
		}
	}
	sm.sessions.Delete(sessionID)
}

// withGrant runs fn against the session's current grant under the write
// lock. Claims caching goes through here.
func (sm *SessionManager) withGrant(sessionID string, fn func(*Grant) error) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sess := sm.lookup(sessionID)
	if sess == nil {
		return ErrSessionNotFound
	}
	grant := sess.Grants[sess.latest]
	if grant == nil {
		return ErrSessionNotFound
	}
	return fn(grant)
}

// lookup must be called with at least the read lock held.
func (sm *SessionManager) lookup(id string) *Session {
	if v, ok := sm.sessions.Get(id); ok {
		return v.(*Session)
	}
	return nil
}

func (sm *SessionManager) findToken(value string) *Token {
	owner, ok := sm.tokens.Get(value)
	if !ok {
		return nil
	}
	sess := sm.lookup(owner.(string))
	if sess == nil {
		return nil
	}
	for _, grant := range sess.Grants {
		for _, tok := range grant.Tokens {
			if tok.Value == value {
				return tok
			}
		}
	}
	return nil
}

func (sm *SessionManager) owningGrant(sess *Session, value string) *Grant {
	for _, grant := range sess.Grants {
		for _, tok := range grant.Tokens {
			if tok.Value == value {
				return grant
			}
		}
	}
	return nil
}

// deriveSubject computes the externally visible sub for the session's
// policy. Public and pairwise derivations are deterministic and
// repeatable; ephemeral draws fresh randomness per session.
func (sm *SessionManager) deriveSubject(userID string, subType SubjectType, sector string) (string, error) {
	switch subType {
	case SubjectPublic:
		return userID, nil
	case SubjectPairwise:
		r := hkdf.New(sha256.New, []byte(sm.salt), []byte(sector), []byte(userID))
		buf := make([]byte, 32)
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", fmt.Errorf("derive pairwise subject: %w", err)
		}
		return hex.EncodeToString(buf), nil
	case SubjectEphemeral:
		buf := make([]byte, 16)
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("derive ephemeral subject: %w", err)
		}
		return hex.EncodeToString(buf), nil
	default:
		return "", &ConfigurationError{Reason: fmt.Sprintf("unknown subject type %q", subType)}
	}
}

func sessionKey(userID, clientID string, subType SubjectType, sector string) string {
	sum := sha256.Sum256([]byte(userID + "\x1f" + clientID + "\x1f" + string(subType) + "\x1f" + sector))
	return hex.EncodeToString(sum[:])
}

func sectorFromURI(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	return u.Host
}
