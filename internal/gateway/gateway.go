// Package gateway implements a small openrestdb-compatible REST SQL
// gateway for development and testing. It holds sessions server-side
// (JWT handles, per-session row-lock accounting, idle reaping) and
// executes statements through sqlx, giving the client package a
// faithful counterpart for its session and lock protocol.
package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"golang.org/x/crypto/bcrypt"
)

const (
	// defaultSessionTTL is how long an idle session survives before
	// the reaper reclaims it.
	defaultSessionTTL = 10 * time.Minute

	// defaultReapInterval is how often the reaper sweeps.
	defaultReapInterval = 30 * time.Second
)

// User is a gateway account. PasswordHash is a bcrypt hash.
type User struct {
	Name         string `yaml:"name"`
	PasswordHash string `yaml:"password_hash"`
}

// Config configures a gateway.
type Config struct {
	// SigningKey signs session handle tokens. Required.
	SigningKey []byte

	// SessionTTL bounds idle session lifetime server-side.
	SessionTTL time.Duration

	// ReapInterval is the idle-session sweep interval.
	ReapInterval time.Duration

	// Users lists accepted accounts. Empty means any credentials are
	// accepted (development mode).
	Users []User

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Server is the gateway. It serves the wire protocol over the injected
// database handle.
type Server struct {
	db       *sqlx.DB
	sessions *registry
	users    []User
	logger   *slog.Logger
}

// NewServer creates a gateway over the given database handle. The
// caller owns the handle; Close does not close it.
func NewServer(db *sqlx.DB, cfg Config) (*Server, error) {
	if len(cfg.SigningKey) == 0 {
		return nil, errors.New("gateway: signing key is required")
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = defaultSessionTTL
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = defaultReapInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{
		db:       db,
		sessions: newRegistry(cfg.SigningKey, cfg.SessionTTL, cfg.Logger),
		users:    cfg.Users,
		logger:   cfg.Logger,
	}
	s.sessions.startReaper(cfg.ReapInterval)
	return s, nil
}

// Handler returns the gateway's HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/connect", s.post(s.handleConnect))
	mux.HandleFunc("/disconnect", s.post(s.handleDisconnect))
	mux.HandleFunc("/ping", s.post(s.handlePing))
	mux.HandleFunc("/commit", s.post(s.handleCommit))
	mux.HandleFunc("/rollback", s.post(s.handleRollback))
	mux.HandleFunc("/select", s.post(s.handleExec))
	mux.HandleFunc("/insert", s.post(s.handleExec))
	mux.HandleFunc("/update", s.post(s.handleExec))
	mux.HandleFunc("/delete", s.post(s.handleExec))
	mux.HandleFunc("/script", s.post(s.handleScript))
	mux.HandleFunc("/batch", s.post(s.handleBatch))
	mux.HandleFunc("/status", s.handleStatus)
	return mux
}

// Close stops the session reaper and rolls back every open session.
func (s *Server) Close() error {
	return s.sessions.close()
}

// post guards a handler against non-POST methods.
func (s *Server) post(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		next(w, r)
	}
}

// authenticate checks the credentials against the configured accounts.
func (s *Server) authenticate(username, password string) bool {
	if len(s.users) == 0 {
		return true
	}
	for _, u := range s.users {
		if u.Name != username {
			continue
		}
		return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
	}
	return false
}

// HashPassword produces a bcrypt hash for gateway account setup.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// writeJSON writes v as a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusResponse is the body of the status probe.
type statusResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
}

// handleStatus is a liveness probe reporting the live session count.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Status:   "ok",
		Sessions: s.sessions.count(),
	})
}
