// Package httpapi exposes the server's REST surface (health, enrollment,
// login, token issue) and the /connect WebSocket entry into the hub.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dmitrijs2005/clipsync/internal/common"
	"github.com/dmitrijs2005/clipsync/internal/logging"
	"github.com/dmitrijs2005/clipsync/internal/protocol"
	"github.com/dmitrijs2005/clipsync/internal/server/auth"
	"github.com/dmitrijs2005/clipsync/internal/server/hub"
	"github.com/dmitrijs2005/clipsync/internal/server/users"
)

// maxBodyBytes caps the REST bodies; record uploads travel over the
// WebSocket and have their own limit.
const maxBodyBytes = 1 << 20

type API struct {
	users    *users.Service
	hub      *hub.Hub
	logger   logging.Logger
	secret   []byte
	tokenTTL time.Duration
	upgrader websocket.Upgrader
}

func New(us *users.Service, h *hub.Hub, secret []byte, tokenTTL time.Duration, logger logging.Logger) *API {
	return &API{
		users:    us,
		hub:      h,
		logger:   logger.With("module", "httpapi"),
		secret:   secret,
		tokenTTL: tokenTTL,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// devices connect from arbitrary origins; auth is the bearer token
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(Metrics)
	r.Use(RequestLogging(a.logger))

	r.Get("/health", a.handleHealth)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Post("/usercheck", a.handleUserCheck)
	r.Post("/signin", a.handleSignIn)
	r.Post("/verify", a.handleVerify)
	r.Post("/login", a.handleLogin)
	r.Get("/getkey", a.handleGetKey)
	r.Get("/connect", a.handleConnect)

	return r
}

func (a *API) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return false
	}
	return true
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(protocol.HealthBody))
}

func (a *API) handleUserCheck(w http.ResponseWriter, r *http.Request) {
	var req protocol.UserCheckRequest
	if !a.decode(w, r, &req) {
		return
	}

	exists, err := a.users.Exists(r.Context(), req.User)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(exists)
}

func (a *API) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req protocol.SignInRequest
	if !a.decode(w, r, &req) {
		return
	}
	if req.User == "" || req.Email == "" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	if err := a.users.SignIn(r.Context(), req.User, req.Email); err != nil {
		a.logger.Error(r.Context(), "signin failed", "user", req.User, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (a *API) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req protocol.VerifyRequest
	if !a.decode(w, r, &req) {
		return
	}

	cred, err := a.users.Verify(r.Context(), req.User, req.Email, req.OTP)
	if err != nil {
		if errors.Is(err, common.ErrInvalidOTP) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(cred)
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var cred protocol.UserCred
	if !a.decode(w, r, &cred) {
		return
	}

	if err := a.users.CheckKey(r.Context(), cred); err != nil {
		// any auth failure answers 401, never 403
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (a *API) handleGetKey(w http.ResponseWriter, r *http.Request) {
	var cred protocol.UserCred
	if !a.decode(w, r, &cred) {
		return
	}

	if err := a.users.CheckKey(r.Context(), cred); err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	token, err := auth.GenerateToken(cred.Username, a.secret, a.tokenTTL)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte(token))
}

// bearerUsername validates the Authorization header and returns the
// authenticated username.
func (a *API) bearerUsername(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", common.ErrUnauthorized
	}
	username, err := auth.GetUsernameFromToken(strings.TrimPrefix(header, prefix), a.secret)
	if err != nil {
		return "", common.ErrUnauthorized
	}
	return username, nil
}

func (a *API) handleConnect(w http.ResponseWriter, r *http.Request) {
	username, err := a.bearerUsername(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Warn(r.Context(), "upgrade failed", "error", err)
		return
	}

	a.hub.Serve(r.Context(), username, conn)
}
