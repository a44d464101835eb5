package server

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// UserStore is the in-memory user attribute collaborator behind
// GetUserClaims: an opaque lookup keyed by user identity and claim name.
// It loads from a JSON attribute file, inline YAML entries, or both.
type UserStore struct {
	mu    sync.RWMutex
	users map[string]map[string]any
}

// NewUserStore builds the store from configuration.
func NewUserStore(cfg UsersConfig) (*UserStore, error) {
	users := make(map[string]map[string]any)

	if cfg.File != "" {
		b, err := os.ReadFile(cfg.File)
		if err != nil {
			return nil, fmt.Errorf("read users db: %w", err)
		}
		if err := json.Unmarshal(b, &users); err != nil {
			return nil, fmt.Errorf("parse users db: %w", err)
		}
	}

	for id, attrs := range cfg.Inline {
		merged, ok := users[id]
		if !ok {
			merged = make(map[string]any, len(attrs))
			users[id] = merged
		}
		for name, value := range attrs {
			merged[name] = value
		}
	}

	return &UserStore{users: users}, nil
}

// Claims returns the requested attribute values for the user. An unknown
// user or attribute simply yields nothing.
func (us *UserStore) Claims(userID string, names []string) map[string]any {
	us.mu.RLock()
	defer us.mu.RUnlock()

	out := make(map[string]any, len(names))
	attrs, ok := us.users[userID]
	if !ok {
		return out
	}
	for _, name := range names {
		if value, ok := attrs[name]; ok {
			out[name] = value
		}
	}
	return out
}

// AddUser registers or replaces a user's attributes.
func (us *UserStore) AddUser(userID string, attrs map[string]any) {
	us.mu.Lock()
	defer us.mu.Unlock()
	copied := make(map[string]any, len(attrs))
	for name, value := range attrs {
		copied[name] = value
	}
	us.users[userID] = copied
}
