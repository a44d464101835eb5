package server

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestTokenHandlerMintUniqueValues(t *testing.T) {
	handler, err := NewTokenHandler(KindAccessToken)
	if err != nil {
		t.Fatalf("NewTokenHandler returned error: %v", err)
	}

	seen := make(map[string]struct{})
	expires := time.Now().Add(15 * time.Minute)
	for i := 0; i < 500; i++ {
		tok := handler.Mint("session", expires, "")
		if !strings.HasPrefix(tok.Value, "at_") {
			t.Fatalf("unexpected value prefix: %q", tok.Value)
		}
		if _, dup := seen[tok.Value]; dup {
			t.Fatalf("duplicate token value minted: %q", tok.Value)
		}
		seen[tok.Value] = struct{}{}
	}
}

func TestTokenHandlerMintFields(t *testing.T) {
	handler, err := NewTokenHandler(KindAuthorizationCode)
	if err != nil {
		t.Fatalf("NewTokenHandler returned error: %v", err)
	}

	expires := time.Now().Add(5 * time.Minute)
	tok := handler.Mint("session-1", expires, "parent-value")

	if tok.Kind != KindAuthorizationCode {
		t.Fatalf("unexpected kind: %s", tok.Kind)
	}
	if tok.SessionID != "session-1" {
		t.Fatalf("unexpected session id: %s", tok.SessionID)
	}
	if tok.BasedOn != "parent-value" {
		t.Fatalf("unexpected based_on: %s", tok.BasedOn)
	}
	if !tok.ExpiresAt.After(tok.IssuedAt) {
		t.Fatalf("expires_at must be after issued_at")
	}
	if tok.Revoked {
		t.Fatalf("fresh token must not be revoked")
	}
}

func TestTokenHandlerDecode(t *testing.T) {
	handler, err := NewTokenHandler(KindRefreshToken)
	if err != nil {
		t.Fatalf("NewTokenHandler returned error: %v", err)
	}

	tok := handler.Mint("session", time.Now().Add(time.Hour), "")
	meta, err := handler.Decode(tok.Value)
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	if meta.Kind != KindRefreshToken {
		t.Fatalf("decoded kind mismatch: %s", meta.Kind)
	}
	if d := time.Since(meta.MintedAt); d < 0 || d > time.Minute {
		t.Fatalf("decoded mint time implausible: %v", meta.MintedAt)
	}

	if _, err := handler.Decode("at_not-for-this-handler"); err == nil {
		t.Fatalf("expected decode of foreign value to fail")
	}
	if _, err := handler.Decode("rt_garbage"); err == nil {
		t.Fatalf("expected decode of malformed value to fail")
	}
}

func TestNewTokenHandlerUnknownKind(t *testing.T) {
	_, err := NewTokenHandler(TokenKind("id_token"))
	if err == nil {
		t.Fatalf("expected error for unknown kind")
	}
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %T", err)
	}
}

func TestNewHandlerSetCoversAllKinds(t *testing.T) {
	set, err := NewHandlerSet()
	if err != nil {
		t.Fatalf("NewHandlerSet returned error: %v", err)
	}
	for _, kind := range []TokenKind{KindAuthorizationCode, KindAccessToken, KindRefreshToken} {
		handler, ok := set[kind]
		if !ok {
			t.Fatalf("missing handler for kind %s", kind)
		}
		if handler.Kind() != kind {
			t.Fatalf("handler kind mismatch: %s", handler.Kind())
		}
	}
}
