package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/trailversedev/trailverse/internal/auth"
	"github.com/trailversedev/trailverse/internal/ratelimit"
	"github.com/trailversedev/trailverse/internal/session"
	"github.com/trailversedev/trailverse/internal/store"
)

// RefreshCookie is the httpOnly cookie carrying the refresh token,
// scoped to the auth path so it never rides along on other requests.
const RefreshCookie = "trailverse_refresh"

const requestTimeout = 30 * time.Second

// Options configures the HTTP handler.
type Options struct {
	// SecureCookies marks the refresh cookie Secure. Disable only for
	// local development over plain HTTP.
	SecureCookies bool
}

// Handler owns the /auth HTTP surface.
type Handler struct {
	engine *auth.Engine
	log    *zap.Logger
	opts   Options
}

// NewHandler wires the engine to the HTTP surface.
func NewHandler(engine *auth.Engine, log *zap.Logger, opts Options) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{engine: engine, log: log, opts: opts}
}

// Router assembles the full route tree.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Timeout(requestTimeout))
	r.Use(requestLogger(h.log))
	r.Use(withRequestContext)

	r.Get("/healthz", h.health)

	r.Route("/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(h.RateLimit(ratelimit.ScopeIP))
			r.Post("/register", h.register)
			r.Post("/login", h.login)
			r.Post("/refresh", h.refresh)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.RequireAuth)
			r.Use(h.RateLimit(ratelimit.ScopeUser))
			r.Use(h.csrfGuard)
			r.Get("/me", h.me)
			r.Get("/sessions", h.sessions)
			r.Delete("/sessions/{id}", h.destroySession)
			r.Post("/logout", h.logout)
			r.Post("/logout-all", h.logoutAll)
			r.Post("/password", h.changePassword)
		})
	})

	return r
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type userResponse struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	Role        store.Role `json:"role"`
	IsVerified  bool       `json:"isVerified"`
	CreatedAt   time.Time  `json:"createdAt"`
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`
}

type tokenResponse struct {
	User        *userResponse `json:"user,omitempty"`
	AccessToken string        `json:"accessToken"`
	ExpiresIn   int64         `json:"expiresIn"`
	SessionID   string        `json:"sessionId,omitempty"`
}

type sessionResponse struct {
	ID             string    `json:"id"`
	CreatedAt      time.Time `json:"createdAt"`
	LastAccessedAt time.Time `json:"lastAccessedAt"`
	IP             string    `json:"ipAddress,omitempty"`
	UserAgent      string    `json:"userAgent,omitempty"`
	Current        bool      `json:"current"`
}

func toUserResponse(u *store.User) *userResponse {
	return &userResponse{
		ID:          u.ID.String(),
		Email:       u.Email,
		Role:        u.Role,
		IsVerified:  u.IsVerified,
		CreatedAt:   u.CreatedAt,
		LastLoginAt: u.LastLoginAt,
	}
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: malformed request body", auth.ErrValidation)
	}
	return nil
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	respondData(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}

	res, err := h.engine.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		respondError(w, err)
		return
	}

	h.setRefreshCookie(w, res.Tokens.RefreshToken)
	respondData(w, http.StatusCreated, h.tokenBody(res, true))
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}

	res, err := h.engine.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		respondError(w, err)
		return
	}

	h.setRefreshCookie(w, res.Tokens.RefreshToken)
	respondData(w, http.StatusOK, h.tokenBody(res, true))
}

// refresh reads the refresh token from its cookie, falling back to a
// JSON body for non-browser clients.
func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	token := ""
	if c, err := r.Cookie(RefreshCookie); err == nil {
		token = c.Value
	}
	if token == "" {
		var req struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := decodeBody(r, &req); err == nil {
			token = req.RefreshToken
		}
	}

	res, err := h.engine.Refresh(r.Context(), token)
	if err != nil {
		respondError(w, err)
		return
	}

	h.setRefreshCookie(w, res.Tokens.RefreshToken)
	respondData(w, http.StatusOK, h.tokenBody(res, false))
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	refresh := ""
	if c, err := r.Cookie(RefreshCookie); err == nil {
		refresh = c.Value
	}
	if err := h.engine.Logout(r.Context(), bearerToken(r), refresh); err != nil {
		respondError(w, err)
		return
	}
	h.clearRefreshCookie(w)
	respondData(w, http.StatusOK, map[string]string{"message": "logged out"})
}

func (h *Handler) logoutAll(w http.ResponseWriter, r *http.Request) {
	id := auth.IdentityFromContext(r.Context())
	if err := h.engine.LogoutAll(r.Context(), id.UserID); err != nil {
		respondError(w, err)
		return
	}
	h.clearRefreshCookie(w)
	respondData(w, http.StatusOK, map[string]string{"message": "all sessions revoked"})
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	id := auth.IdentityFromContext(r.Context())
	respondData(w, http.StatusOK, map[string]any{
		"id":        id.UserID.String(),
		"email":     id.Email,
		"role":      id.Role,
		"sessionId": id.SessionID,
	})
}

func (h *Handler) sessions(w http.ResponseWriter, r *http.Request) {
	id := auth.IdentityFromContext(r.Context())
	recs, err := h.engine.Sessions(r.Context(), id.UserID)
	if err != nil {
		respondError(w, err)
		return
	}

	out := make([]sessionResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toSessionResponse(rec, id.SessionID))
	}
	respondData(w, http.StatusOK, map[string]any{"sessions": out})
}

func (h *Handler) destroySession(w http.ResponseWriter, r *http.Request) {
	id := auth.IdentityFromContext(r.Context())
	if err := h.engine.DestroySession(r.Context(), id.UserID, chi.URLParam(r, "id")); err != nil {
		respondError(w, err)
		return
	}
	respondData(w, http.StatusOK, map[string]string{"message": "session revoked"})
}

func (h *Handler) changePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}

	id := auth.IdentityFromContext(r.Context())
	if err := h.engine.ChangePassword(r.Context(), id.UserID, req.CurrentPassword, req.NewPassword); err != nil {
		respondError(w, err)
		return
	}
	h.clearRefreshCookie(w)
	respondData(w, http.StatusOK, map[string]string{"message": "password changed, all sessions revoked"})
}

func (h *Handler) tokenBody(res *auth.LoginResult, includeUser bool) *tokenResponse {
	body := &tokenResponse{
		AccessToken: res.Tokens.AccessToken,
		ExpiresIn:   int64(h.engine.AccessTTL().Seconds()),
		SessionID:   res.SessionID,
	}
	if includeUser {
		body.User = toUserResponse(res.User)
	}
	return body
}

func toSessionResponse(rec *session.Record, currentID string) sessionResponse {
	return sessionResponse{
		ID:             rec.SessionID,
		CreatedAt:      rec.CreatedAt,
		LastAccessedAt: rec.LastAccessedAt,
		IP:             rec.IP,
		UserAgent:      rec.UserAgent,
		Current:        rec.SessionID == currentID,
	}
}

func (h *Handler) setRefreshCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookie,
		Value:    token,
		Path:     "/auth",
		MaxAge:   int(h.engine.RefreshTTL().Seconds()),
		HttpOnly: true,
		Secure:   h.opts.SecureCookies,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *Handler) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookie,
		Value:    "",
		Path:     "/auth",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.opts.SecureCookies,
		SameSite: http.SameSiteStrictMode,
	})
}
