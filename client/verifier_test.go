package client

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"oidp/server"
)

type jwksFixture struct {
	mgr     *server.JWKSManager
	srv     *httptest.Server
	fetches atomic.Int64
}

func newJWKSFixture(t *testing.T) *jwksFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mgr, err := server.NewJWKSManager("", logger)
	if err != nil {
		t.Fatalf("NewJWKSManager: %v", err)
	}

	f := &jwksFixture{mgr: mgr}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.fetches.Add(1)
		set := mgr.PublicJWKS()
		payload, _ := json.Marshal(set)
		etag := `"` + set.Keys[0].KeyID + `"`
		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", etag)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(payload)
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *jwksFixture) sign(t *testing.T, claims jwt.MapClaims, alg string) string {
	t.Helper()
	signed, _, err := f.mgr.Sign(claims, alg)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return signed
}

func testClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"iss":   "https://op.example.org",
		"aud":   "client_1",
		"sub":   "diana",
		"email": "diana@example.org",
		"iat":   time.Now().Unix(),
		"exp":   time.Now().Add(5 * time.Minute).Unix(),
	}
}

func newFixtureVerifier(f *jwksFixture) *Verifier {
	return NewVerifier(VerifierConfig{
		Issuer:   "https://op.example.org",
		JWKSURL:  f.srv.URL,
		ClientID: "client_1",
	})
}

func TestVerifyUserInfo(t *testing.T) {
	f := newJWKSFixture(t)
	v := newFixtureVerifier(f)

	for _, alg := range []string{"RS256", "ES256"} {
		raw := f.sign(t, testClaims(), alg)
		claims, err := v.VerifyUserInfo(context.Background(), raw)
		if err != nil {
			t.Fatalf("VerifyUserInfo %s: %v", alg, err)
		}
		if claims["sub"] != "diana" {
			t.Fatalf("unexpected sub: %v", claims["sub"])
		}
		if claims["email"] != "diana@example.org" {
			t.Fatalf("unexpected email: %v", claims["email"])
		}
	}
}

func TestVerifyUserInfoIssuerMismatch(t *testing.T) {
	f := newJWKSFixture(t)
	v := newFixtureVerifier(f)

	claims := testClaims()
	claims["iss"] = "https://evil.example.org"
	if _, err := v.VerifyUserInfo(context.Background(), f.sign(t, claims, "ES256")); err == nil {
		t.Fatalf("expected issuer mismatch to fail")
	}
}

func TestVerifyUserInfoAudienceMismatch(t *testing.T) {
	f := newJWKSFixture(t)
	v := newFixtureVerifier(f)

	claims := testClaims()
	claims["aud"] = "someone_else"
	if _, err := v.VerifyUserInfo(context.Background(), f.sign(t, claims, "ES256")); err == nil {
		t.Fatalf("expected audience mismatch to fail")
	}

	// A list audience containing the client is acceptable.
	claims["aud"] = []string{"someone_else", "client_1"}
	if _, err := v.VerifyUserInfo(context.Background(), f.sign(t, claims, "ES256")); err != nil {
		t.Fatalf("list audience should verify: %v", err)
	}
}

func TestVerifyUserInfoMissingSub(t *testing.T) {
	f := newJWKSFixture(t)
	v := newFixtureVerifier(f)

	claims := testClaims()
	delete(claims, "sub")
	if _, err := v.VerifyUserInfo(context.Background(), f.sign(t, claims, "ES256")); err == nil {
		t.Fatalf("expected missing sub to fail")
	}
}

func TestVerifyUserInfoExpired(t *testing.T) {
	f := newJWKSFixture(t)
	v := newFixtureVerifier(f)

	claims := testClaims()
	claims["exp"] = time.Now().Add(-2 * time.Minute).Unix()
	if _, err := v.VerifyUserInfo(context.Background(), f.sign(t, claims, "ES256")); err == nil {
		t.Fatalf("expected expired token to fail")
	}
}

func TestVerifyUserInfoRefreshesOnRotation(t *testing.T) {
	f := newJWKSFixture(t)
	v := newFixtureVerifier(f)

	// Warm the cache against the first key generation.
	if _, err := v.VerifyUserInfo(context.Background(), f.sign(t, testClaims(), "ES256")); err != nil {
		t.Fatalf("initial verify: %v", err)
	}

	if err := f.mgr.Rotate(); err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	// Signed with a kid the cached set has never seen.
	if _, err := v.VerifyUserInfo(context.Background(), f.sign(t, testClaims(), "ES256")); err != nil {
		t.Fatalf("verify after rotation: %v", err)
	}
	if f.fetches.Load() < 2 {
		t.Fatalf("kid miss should have forced a refetch, saw %d fetches", f.fetches.Load())
	}
}

func TestVerifyUserInfoRejectsEmpty(t *testing.T) {
	f := newJWKSFixture(t)
	v := newFixtureVerifier(f)
	if _, err := v.VerifyUserInfo(context.Background(), ""); err == nil {
		t.Fatalf("expected empty token to fail")
	}
}

func TestBearerFromHeader(t *testing.T) {
	cases := []struct {
		header string
		want   string
	}{
		{"Bearer abc", "abc"},
		{"bearer abc", "abc"},
		{"Basic abc", ""},
		{"Bearer", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := BearerFromHeader(tc.header); got != tc.want {
			t.Fatalf("BearerFromHeader(%q) = %q, want %q", tc.header, got, tc.want)
		}
	}
}
