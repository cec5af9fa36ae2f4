// Package server implements the auth gateway: the token refresh relay, the cookie
// routes and the session guard in front of protected pages.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	resilientfetch "github.com/opengovern/resilient-fetch"
	"github.com/opengovern/resilient-fetch/adapters"
	"github.com/opengovern/resilient-fetch/config"
	"github.com/opengovern/resilient-fetch/cookies"
	"github.com/opengovern/resilient-fetch/utils"
)

// Server handles gateway requests
type Server struct {
	config *config.Config
	logger *zap.Logger
	client resilientfetch.Doer
}

type Option func(*Server)

// WithHTTPClient sets the client used for backend calls.
func WithHTTPClient(c resilientfetch.Doer) Option {
	return func(s *Server) { s.client = c }
}

// New creates a new server
func New(cfg *config.Config, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{config: cfg, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the gateway routes wrapped in the access log.
func (s *Server) Handler() (http.Handler, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/token/refresh", s.handleTokenRefresh)
	mux.HandleFunc("POST /api/auth/set-cookie", s.handleSetCookie)
	mux.HandleFunc("POST /api/logout", s.handleLogout)
	mux.HandleFunc("GET /health", s.handleHealth)

	if s.config.Server.Upstream != "" {
		target, err := url.Parse(s.config.Server.Upstream)
		if err != nil {
			return nil, fmt.Errorf("parse upstream: %w", err)
		}
		proxy := s.RequireSession(httputil.NewSingleHostReverseProxy(target))
		for _, prefix := range s.config.Server.ProtectedPrefixes {
			mux.Handle(prefix, proxy)
		}
		mux.Handle("/{$}", proxy)
	}
	return s.AccessLog(mux), nil
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	handler, err := s.Handler()
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              s.config.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleTokenRefresh exchanges the refresh_token cookie for a new access token at the
// backend and relays the session cookies the backend issues.
func (s *Server) handleTokenRefresh(w http.ResponseWriter, r *http.Request) {
	refresh := cookieValue(r, cookies.RefreshToken)
	csrf := cookieValue(r, cookies.CSRFToken)
	if refresh == "" || csrf == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"message": fmt.Sprintf("No token provided(refresh : %s, CSRF : %s )", presence(refresh), presence(csrf)),
		})
		return
	}

	if s.config.Backend.RefreshURL == "" {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "backend refresh url not configured"})
		return
	}

	cfg := s.config.FetcherConfig(s.logger)
	cfg.HTTPClient = s.client
	fetcher, _, err := adapters.NewServerFetcher(r, cfg)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	resp, err := fetcher.Post(r.Context(), s.config.Backend.RefreshURL, csrf, map[string]string{"refresh": refresh})
	if err != nil {
		status := resilientfetch.StatusOf(err)
		if status == 0 {
			status = http.StatusBadGateway
		}
		s.logger.Warn("token refresh failed", zap.Int("status", status), zap.Error(err))
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}

	var body struct {
		AccessToken string `json:"access_token"`
	}
	if err := resp.Decode(&body); err != nil || body.AccessToken == "" {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "refresh response carries no access token"})
		return
	}
	if claims, err := utils.ParseClaims(body.AccessToken); err == nil {
		s.logger.Debug("access token issued", zap.String("user_id", claims.UserID), zap.Time("expiry", claims.ExpiresAt))
	}

	for _, line := range resp.Headers.Values("Set-Cookie") {
		w.Header().Add("Set-Cookie", line)
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message":      "access token refresh successful",
		"access_token": body.AccessToken,
	})
}

type setCookieRequest struct {
	SetCookies []cookies.Cookie `json:"setCookies"`
}

func (s *Server) handleSetCookie(w http.ResponseWriter, r *http.Request) {
	var req setCookieRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("invalid request: %v", err)})
		return
	}
	for _, c := range req.SetCookies {
		if c.Name == "" {
			continue
		}
		http.SetCookie(w, c.ToHTTP())
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "set cookie successful"})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	for _, name := range cookies.SessionCookies {
		http.SetCookie(w, &http.Cookie{
			Name:   name,
			Value:  "",
			Path:   "/",
			Domain: s.config.Server.CookieDomain,
			MaxAge: -1,
		})
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}

// RequireSession redirects to the login page unless the request carries a user id
// and at least one of the access or refresh tokens. Passing requests get X-User-Id.
func (s *Server) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		access := cookieValue(r, cookies.AccessToken)
		refresh := cookieValue(r, cookies.RefreshToken)
		userID := cookieValue(r, cookies.UserID)
		if (access == "" && refresh == "") || userID == "" {
			http.Redirect(w, r, s.loginURL(r), http.StatusFound)
			return
		}
		forwarded := r.Clone(r.Context())
		forwarded.Header.Set("X-User-Id", userID)
		next.ServeHTTP(w, forwarded)
	})
}

func (s *Server) loginURL(r *http.Request) string {
	u := url.URL{Path: s.config.Server.LoginPath}
	if r.URL.Path != "/" {
		u.RawQuery = url.Values{"redirect": []string{r.URL.RequestURI()}}.Encode()
	}
	return u.String()
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(c.Value)
}

func presence(v string) string {
	if v == "" {
		return "none"
	}
	return "exist"
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
