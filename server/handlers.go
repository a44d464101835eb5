package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// App bundles runtime dependencies for the HTTP service.
type App struct {
	Config   Config
	Logger   *slog.Logger
	Sessions *SessionManager
	Claims   *ClaimsInterface
	Clients  *ClientRegistry
	Users    *UserStore
	JWKS     *JWKSManager
	UserInfo *UserInfoEndpoint
	Metrics  *Metrics
}

// NewApp wires together the provider core from configuration.
func NewApp(cfg Config, logger *slog.Logger) (*App, error) {
	handlers, err := NewHandlerSet()
	if err != nil {
		return nil, err
	}
	jwks, err := NewJWKSManager(cfg.Server.SecretsPath, logger)
	if err != nil {
		return nil, err
	}
	users, err := NewUserStore(cfg.Users)
	if err != nil {
		return nil, err
	}
	clients, err := NewClientRegistry(cfg.Clients)
	if err != nil {
		return nil, err
	}

	metrics := NewMetrics()
	sessions := NewSessionManager(cfg, handlers, metrics, logger)
	claims := NewClaimsInterface(cfg.Provider, sessions, users, logger)
	userinfo := NewUserInfoEndpoint(cfg, sessions, claims, clients, jwks, logger)

	return &App{
		Config:   cfg,
		Logger:   logger,
		Sessions: sessions,
		Claims:   claims,
		Clients:  clients,
		Users:    users,
		JWKS:     jwks,
		UserInfo: userinfo,
		Metrics:  metrics,
	}, nil
}

func (a *App) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, BuildDiscoveryDocument(a.Config))
}

func (a *App) handleJWKS(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, a.JWKS.PublicJWKS())
}

func (a *App) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	req := a.UserInfo.ParseRequest(r)
	args, errResp := a.UserInfo.ProcessRequest(req)
	if errResp != nil {
		a.Metrics.UserInfoResults.WithLabelValues(errResp.Error).Inc()
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("WWW-Authenticate", `Bearer error="`+errResp.Error+`"`)
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(errResp)
		return
	}

	body, contentType, err := a.UserInfo.DoResponse(req, args)
	if err != nil {
		a.Logger.Error("userinfo response", "error", err)
		a.Metrics.UserInfoResults.WithLabelValues("server_error").Inc()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(ErrorResponse{Error: "server_error", ErrorDescription: "signing failed"})
		return
	}

	a.Metrics.UserInfoResults.WithLabelValues("success").Inc()
	w.Header().Set("Content-Type", contentType)
	_, _ = w.Write(body)
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
