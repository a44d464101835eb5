package server

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v3"
	"github.com/golang-jwt/jwt/v5"
)

var signingAlgs = []string{"RS256", "ES256"}

type signingKey struct {
	Private   any
	JWK       jose.JSONWebKey
	Alg       string
	Kid       string
	CreatedAt time.Time
}

// JWKSManager owns the provider signing keys, one per supported algorithm,
// and exposes the public set for the JWKS endpoint. Keys persist under the
// secrets path when one is configured.
type JWKSManager struct {
	mu        sync.RWMutex
	current   map[string]signingKey // alg -> key
	previous  []signingKey
	storePath string
	logger    *slog.Logger
}

// NewJWKSManager loads existing keys from disk or generates fresh ones.
func NewJWKSManager(secretsPath string, logger *slog.Logger) (*JWKSManager, error) {
	m := &JWKSManager{current: make(map[string]signingKey), logger: logger}
	if secretsPath != "" {
		m.storePath = filepath.Join(secretsPath, "jwks.json")
		if err := m.loadFromDisk(); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}
	if err := m.ensureKeys(); err != nil {
		return nil, err
	}
	return m, nil
}

// Sign produces a compact JWS over claims with the key for alg, defaulting
// to RS256, and returns the token and the kid used.
func (m *JWKSManager) Sign(claims jwt.MapClaims, alg string) (string, string, error) {
	if alg == "" {
		alg = "RS256"
	}
	method := jwt.GetSigningMethod(alg)
	if method == nil {
		return "", "", fmt.Errorf("unsupported signing alg %q", alg)
	}

	m.mu.RLock()
	key, ok := m.current[alg]
	m.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("no signing key for alg %q", alg)
	}

	token := jwt.NewWithClaims(method, claims)
	token.Header["kid"] = key.Kid
	signed, err := token.SignedString(key.Private)
	if err != nil {
		return "", "", err
	}
	return signed, key.Kid, nil
}

// PublicJWKS exposes the public keys for the JWKS endpoint.
func (m *JWKSManager) PublicJWKS() jose.JSONWebKeySet {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []jose.JSONWebKey
	for _, alg := range signingAlgs {
		if key, ok := m.current[alg]; ok {
			keys = append(keys, key.JWK.Public())
		}
	}
	for _, prev := range m.previous {
		keys = append(keys, prev.JWK.Public())
	}
	return jose.JSONWebKeySet{Keys: keys}
}

// Rotate replaces every signing key, keeping the outgoing generation
// published so recently issued artifacts stay verifiable.
func (m *JWKSManager) Rotate() error {
	fresh := make(map[string]signingKey, len(signingAlgs))
	for _, alg := range signingAlgs {
		key, err := generateSigningKey(alg)
		if err != nil {
			return err
		}
		fresh[alg] = key
	}

	m.mu.Lock()
	var outgoing []signingKey
	for _, alg := range signingAlgs {
		if key, ok := m.current[alg]; ok {
			outgoing = append(outgoing, key)
		}
	}
	m.previous = outgoing
	m.current = fresh
	m.mu.Unlock()

	if m.storePath != "" {
		return m.persist()
	}
	return nil
}

// StartRotation launches a background rotation ticker.
func (m *JWKSManager) StartRotation(every time.Duration, stop <-chan struct{}) {
	if every <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := m.Rotate(); err != nil {
					m.logger.Error("jwks rotate", "error", err)
				}
			case <-stop:
				return
			}
		}
	}()
}

func (m *JWKSManager) ensureKeys() error {
	changed := false
	for _, alg := range signingAlgs {
		if _, ok := m.current[alg]; ok {
			continue
		}
		key, err := generateSigningKey(alg)
		if err != nil {
			return err
		}
		m.current[alg] = key
		changed = true
	}
	if changed && m.storePath != "" {
		return m.persist()
	}
	return nil
}

func generateSigningKey(alg string) (signingKey, error) {
	kid := randomKID()
	switch alg {
	case "RS256":
		priv, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return signingKey{}, err
		}
		return signingKey{
			Private:   priv,
			Alg:       alg,
			Kid:       kid,
			CreatedAt: time.Now(),
			JWK:       jose.JSONWebKey{Key: priv, KeyID: kid, Algorithm: alg, Use: "sig"},
		}, nil
	case "ES256":
		priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return signingKey{}, err
		}
		return signingKey{
			Private:   priv,
			Alg:       alg,
			Kid:       kid,
			CreatedAt: time.Now(),
			JWK:       jose.JSONWebKey{Key: priv, KeyID: kid, Algorithm: alg, Use: "sig"},
		}, nil
	default:
		return signingKey{}, fmt.Errorf("unsupported signing alg %q", alg)
	}
}

func (m *JWKSManager) persist() error {
	m.mu.RLock()
	var keys []jose.JSONWebKey
	for _, alg := range signingAlgs {
		if key, ok := m.current[alg]; ok {
			keys = append(keys, key.JWK)
		}
	}
	for _, prev := range m.previous {
		keys = append(keys, prev.JWK)
	}
	m.mu.RUnlock()

	payload, err := json.MarshalIndent(jose.JSONWebKeySet{Keys: keys}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(m.storePath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(m.storePath, payload, 0o600)
}

func (m *JWKSManager) loadFromDisk() error {
	payload, err := os.ReadFile(m.storePath)
	if err != nil {
		return err
	}
	var set jose.JSONWebKeySet
	if err := json.Unmarshal(payload, &set); err != nil {
		return err
	}

	for _, key := range set.Keys {
		if key.IsPublic() || key.Algorithm == "" {
			continue
		}
		pair := signingKey{
			Private:   key.Key,
			JWK:       key,
			Alg:       key.Algorithm,
			Kid:       key.KeyID,
			CreatedAt: time.Now(),
		}
		if _, ok := m.current[key.Algorithm]; !ok {
			m.current[key.Algorithm] = pair
		} else {
			m.previous = append(m.previous, pair)
		}
	}
	return nil
}

func randomKID() string {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "kid"
	}
	return hex.EncodeToString(buf)
}
