// Package web hosts the admin console: the JSON API, the SSE event
// stream and the embedded single-page UI.
package web

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/amia-bot/amia/internal/web/api"
	"github.com/amia-bot/amia/internal/web/ui"
)

const sessionCookie = "amia_session"

// Server is the HTTP server for the console UI and API.
type Server struct {
	httpServer *http.Server
	logger     hclog.Logger
}

// NewServer builds the console server. With a non-empty password every
// /api route except login and health requires a session cookie.
func NewServer(addr string, a *api.API, password string, logger hclog.Logger) *Server {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	mux := http.NewServeMux()
	a.RegisterRoutes(mux)

	auth := newSessionAuth(password)
	mux.HandleFunc("/api/login", auth.handleLogin)

	// Built-in minimal UI.
	mux.Handle("/ui/", http.StripPrefix("/ui/", ui.Handler()))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			http.Redirect(w, r, "/ui/", http.StatusTemporaryRedirect)
			return
		}
		http.NotFound(w, r)
	})

	return &Server{
		httpServer: &http.Server{
			Addr:    addr,
			Handler: corsMiddleware(auth.middleware(mux)),
		},
		logger: logger,
	}
}

// Start begins listening and serving HTTP requests.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	s.logger.Info("console listening", "addr", ln.Addr().String())
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// sessionAuth guards /api routes with an in-memory session table. An
// empty password disables the guard entirely.
type sessionAuth struct {
	password string

	mu       sync.Mutex
	sessions map[string]time.Time
}

const sessionTTL = 24 * time.Hour

func newSessionAuth(password string) *sessionAuth {
	return &sessionAuth{
		password: password,
		sessions: make(map[string]time.Time),
	}
}

func (s *sessionAuth) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.password == "" || !s.protected(r.URL.Path) || s.authorized(r) {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"code":    http.StatusUnauthorized,
			"message": "login required",
		})
	})
}

func (s *sessionAuth) protected(path string) bool {
	if len(path) < 5 || path[:5] != "/api/" {
		return false
	}
	switch path {
	case "/api/login", "/api/health":
		return false
	}
	return true
}

func (s *sessionAuth) authorized(r *http.Request) bool {
	c, err := r.Cookie(sessionCookie)
	if err != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.sessions[c.Value]
	if !ok {
		return false
	}
	if time.Now().After(exp) {
		delete(s.sessions, c.Value)
		return false
	}
	return true
}

func (s *sessionAuth) handleLogin(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"code": http.StatusMethodNotAllowed, "message": "method not allowed",
		})
		return
	}

	var req struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"code": http.StatusBadRequest, "message": "invalid request body",
		})
		return
	}
	if s.password != "" && subtle.ConstantTimeCompare([]byte(req.Password), []byte(s.password)) != 1 {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"code": http.StatusUnauthorized, "message": "wrong password",
		})
		return
	}

	token := newToken()
	s.mu.Lock()
	s.sessions[token] = time.Now().Add(sessionTTL)
	s.mu.Unlock()

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(sessionTTL / time.Second),
	})
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"code": 0, "data": map[string]string{"status": "ok"}})
}

func newToken() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// corsMiddleware adds permissive CORS headers for development.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
