package server

import (
	"errors"
	"fmt"
	"slices"
)

// Client records registered relying party metadata.
type Client struct {
	ClientID                  string
	ClientSecret              string
	RedirectURIs              []string
	Scopes                    []string
	SubjectType               SubjectType
	SectorIdentifierURI       string
	UserInfoSignedResponseAlg string
}

// ClientRegistry holds registered clients.
type ClientRegistry struct {
	clients map[string]*Client
}

// NewClientRegistry builds the registry from configuration.
func NewClientRegistry(cfgs []ClientConfig) (*ClientRegistry, error) {
	clients := make(map[string]*Client, len(cfgs))
	for _, cfg := range cfgs {
		if cfg.ClientID == "" {
			return nil, errors.New("client_id required")
		}
		subType := SubjectType(cfg.SubjectType)
		if subType == "" {
			subType = SubjectPublic
		}
		clients[cfg.ClientID] = &Client{
			ClientID:                  cfg.ClientID,
			ClientSecret:              cfg.ClientSecret,
			RedirectURIs:              cfg.RedirectURIs,
			Scopes:                    cfg.Scopes,
			SubjectType:               subType,
			SectorIdentifierURI:       cfg.SectorIdentifierURI,
			UserInfoSignedResponseAlg: cfg.UserInfoSignedResponseAlg,
		}
	}
	return &ClientRegistry{clients: clients}, nil
}

// Get retrieves a client definition.
func (cr *ClientRegistry) Get(id string) (*Client, bool) {
	client, ok := cr.clients[id]
	return client, ok
}

// Add registers a client after construction.
func (cr *ClientRegistry) Add(c *Client) {
	cr.clients[c.ClientID] = c
}

// ValidateScopes ensures the requested scopes are a subset of the client's
// registered scopes. An empty registration accepts anything.
func (c *Client) ValidateScopes(scopes []string) error {
	if len(c.Scopes) == 0 {
		return nil
	}
	for _, scope := range scopes {
		if !slices.Contains(c.Scopes, scope) {
			return fmt.Errorf("scope %q not registered for client %s", scope, c.ClientID)
		}
	}
	return nil
}
