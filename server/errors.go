package server

import "errors"

// Failure classes surfaced by the session and token registries. The
// userinfo endpoint collapses all of them to the two-field error payload;
// the distinctions exist for diagnostics and logging.
var (
	ErrSessionNotFound     = errors.New("session not found")
	ErrTokenNotFound       = errors.New("token not found")
	ErrWrongTokenKind      = errors.New("wrong type of token")
	ErrExpiredOrRevoked    = errors.New("token expired or revoked")
	ErrStaleAuthentication = errors.New("authentication event expired")
)

// ConfigurationError reports an inconsistent provider setup, such as a
// pairwise subject request without a sector identifier. It aborts session
// creation before any state is written.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}
