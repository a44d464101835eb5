package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// UserInfoRequest is the parsed form of a userinfo call. Parsing is
// deliberately tolerant: an unresolvable credential is recorded in Error
// instead of failing, so transport error formatting stays uniform and the
// real security checks live in ProcessRequest.
type UserInfoRequest struct {
	ClientID    string
	AccessToken string
	Error       string
}

// ErrorResponse is the exact two-field payload the endpoint returns on
// failure. Callers distinguish error from success by this shape; no other
// keys may appear.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// UserInfoEndpoint drives the userinfo request/response state machine:
// parse, validate end-to-end, resolve claims, encode.
type UserInfoEndpoint struct {
	sessions *SessionManager
	claims   *ClaimsInterface
	clients  *ClientRegistry
	jwks     *JWKSManager
	issuer   string
	logger   *slog.Logger
}

// NewUserInfoEndpoint wires the endpoint against its collaborators.
func NewUserInfoEndpoint(cfg Config, sessions *SessionManager, claims *ClaimsInterface, clients *ClientRegistry, jwks *JWKSManager, logger *slog.Logger) *UserInfoEndpoint {
	return &UserInfoEndpoint{
		sessions: sessions,
		claims:   claims,
		clients:  clients,
		jwks:     jwks,
		issuer:   strings.TrimSuffix(cfg.Server.PublicURL, "/"),
		logger:   logger,
	}
}

// ParseRequest extracts the bearer credential from the Authorization
// header, falling back to the access_token form parameter. It never fails
// on an unknown token; resolution problems surface in the Error field.
func (ep *UserInfoEndpoint) ParseRequest(r *http.Request) UserInfoRequest {
	value := extractBearerToken(r.Header.Get("Authorization"))
	if value == "" {
		if err := r.ParseForm(); err == nil {
			value = r.Form.Get("access_token")
		}
	}
	if value == "" {
		return UserInfoRequest{Error: "invalid_token"}
	}

	req := UserInfoRequest{AccessToken: value}
	sess, _, _, err := ep.sessions.ResolveToken(value)
	if err != nil {
		req.Error = "invalid_token"
		return req
	}
	req.ClientID = sess.ClientID
	return req
}

// ProcessRequest validates the credential end-to-end and resolves the
// releasable claims for the userinfo context. Failures come back as the
// two-field error payload, never as a Go error; there are no retries.
func (ep *UserInfoEndpoint) ProcessRequest(req UserInfoRequest) (map[string]any, *ErrorResponse) {
	if req.Error != "" {
		return nil, &ErrorResponse{Error: req.Error, ErrorDescription: "Invalid Token"}
	}

	now := time.Now()
	sess, grant, tok, err := ep.sessions.ResolveToken(req.AccessToken)
	if err != nil {
		return nil, ep.deny(ErrTokenNotFound, "Invalid Token")
	}
	if tok.Kind != KindAccessToken {
		// Kind is checked before expiry: tokens are not polymorphic
		// credentials and this endpoint accepts exactly one kind.
		return nil, ep.deny(ErrWrongTokenKind, "Wrong type of token")
	}
	if !tok.Active(now) {
		return nil, ep.deny(ErrExpiredOrRevoked, "Invalid Token")
	}
	if !grant.AuthnEvent.Fresh(now) {
		// Authentication freshness is a stricter guarantee than token
		// expiry: a stale event blocks claims release for live tokens too.
		return nil, ep.deny(ErrStaleAuthentication, "Invalid Token")
	}

	names, err := ep.claims.GetClaims(sess.ID, grant.Scopes, UsageUserInfo)
	if err != nil {
		return nil, ep.deny(err, "Invalid Token")
	}

	args := make(map[string]any, len(names)+1)
	for name, value := range ep.claims.GetUserClaims(sess.UserID, names) {
		args[name] = value
	}
	// The subject policy decides sub, not the attribute store.
	args["sub"] = sess.Subject
	return args, nil
}

// DoResponse encodes the resolved claims. When the client is registered
// with a userinfo signing algorithm the same claims go out as a compact
// JWS; the branch changes the encoding, never the claim selection.
func (ep *UserInfoEndpoint) DoResponse(req UserInfoRequest, args map[string]any) ([]byte, string, error) {
	var alg string
	if client, ok := ep.clients.Get(req.ClientID); ok {
		alg = client.UserInfoSignedResponseAlg
	}

	if alg == "" {
		body, err := json.Marshal(args)
		return body, "application/json", err
	}

	claims := make(jwt.MapClaims, len(args)+2)
	for k, v := range args {
		claims[k] = v
	}
	claims["iss"] = ep.issuer
	claims["aud"] = req.ClientID

	signed, _, err := ep.jwks.Sign(claims, alg)
	if err != nil {
		return nil, "", err
	}
	return []byte(signed), "application/jwt", nil
}

func (ep *UserInfoEndpoint) deny(cause error, description string) *ErrorResponse {
	if !errors.Is(cause, ErrTokenNotFound) {
		ep.logger.Warn("userinfo request denied", "cause", cause)
	}
	return &ErrorResponse{Error: "invalid_token", ErrorDescription: description}
}

func extractBearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
