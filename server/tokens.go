package server

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// TokenHandler mints opaque credential values for one token kind and can
// later decode a bare value without consulting shared state.
type TokenHandler interface {
	Kind() TokenKind
	Mint(sessionID string, expiresAt time.Time, basedOn string) *Token
	Decode(value string) (TokenMeta, error)
}

// TokenMeta is the kind-specific metadata recoverable from a value alone.
type TokenMeta struct {
	Kind     TokenKind
	MintedAt time.Time
}

var kindPrefixes = map[TokenKind]string{
	KindAuthorizationCode: "ac",
	KindAccessToken:       "at",
	KindRefreshToken:      "rt",
}

// opaqueHandler is the default strategy: kind prefix plus a ULID drawn from
// a monotonic crypto/rand source, unique for the life of the handler.
type opaqueHandler struct {
	kind    TokenKind
	prefix  string
	mu      sync.Mutex
	entropy io.Reader
}

// NewTokenHandler builds the handler for one token kind. An unknown kind is
// the only failure mode, discovered here rather than at mint time.
func NewTokenHandler(kind TokenKind) (TokenHandler, error) {
	prefix, ok := kindPrefixes[kind]
	if !ok {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("no handler strategy for token kind %q", kind)}
	}
	return &opaqueHandler{
		kind:    kind,
		prefix:  prefix,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}, nil
}

func (h *opaqueHandler) Kind() TokenKind { return h.kind }

// Mint produces a new token. It never blocks and never fails.
func (h *opaqueHandler) Mint(sessionID string, expiresAt time.Time, basedOn string) *Token {
	now := time.Now()
	h.mu.Lock()
	id := ulid.MustNew(ulid.Timestamp(now), h.entropy)
	h.mu.Unlock()

	return &Token{
		Kind:      h.kind,
		Value:     h.prefix + "_" + id.String(),
		SessionID: sessionID,
		IssuedAt:  now,
		ExpiresAt: expiresAt,
		BasedOn:   basedOn,
	}
}

// Decode recovers kind and mint time from a value minted by this handler.
func (h *opaqueHandler) Decode(value string) (TokenMeta, error) {
	rest, ok := strings.CutPrefix(value, h.prefix+"_")
	if !ok {
		return TokenMeta{}, fmt.Errorf("value not minted by %s handler", h.kind)
	}
	id, err := ulid.Parse(rest)
	if err != nil {
		return TokenMeta{}, fmt.Errorf("malformed %s value: %w", h.kind, err)
	}
	return TokenMeta{Kind: h.kind, MintedAt: ulid.Time(id.Time())}, nil
}

// HandlerSet holds one handler per token kind.
type HandlerSet map[TokenKind]TokenHandler

// NewHandlerSet builds the default handler for every supported kind.
func NewHandlerSet() (HandlerSet, error) {
	set := make(HandlerSet, len(kindPrefixes))
	for kind := range kindPrefixes {
		h, err := NewTokenHandler(kind)
		if err != nil {
			return nil, err
		}
		set[kind] = h
	}
	return set, nil
}
