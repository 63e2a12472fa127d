package gateway

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/miracle-42/openrestdb-go/pkg/sqlrest"
)

const (
	scopeStateless     = "stateless"
	scopeStateful      = "stateful"
	scopeTransactional = "transactional"

	msgSessionNotFound = "session not found"
)

// fail builds a gateway-level failure envelope.
func fail(message string) sqlrest.Response {
	return sqlrest.Response{Success: false, Message: message}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req sqlrest.ConnectRequest
	if !decode(w, r, &req) {
		return
	}

	switch req.Scope {
	case scopeStateless, scopeStateful, scopeTransactional:
	default:
		writeJSON(w, http.StatusOK, fail("unknown scope "+req.Scope))
		return
	}

	if !s.authenticate(req.Username, req.Password) {
		s.logger.Info("gateway: authentication rejected", "user", req.Username)
		writeJSON(w, http.StatusOK, fail("invalid credentials"))
		return
	}

	if req.Scope == scopeStateless {
		writeJSON(w, http.StatusOK, sqlrest.Response{Success: true})
		return
	}

	handle, err := s.sessions.create(req.Username, req.Scope)
	if err != nil {
		s.logger.Error("gateway: session creation failed", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	s.logger.Info("gateway: session opened", "user", req.Username, "scope", req.Scope)
	writeJSON(w, http.StatusOK, sqlrest.Response{Success: true, Session: handle})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	var req sqlrest.SessionRequest
	if !decode(w, r, &req) {
		return
	}

	// Disconnect is idempotent: an unknown handle is already gone.
	if sess := s.sessions.resolve(req.Session); sess != nil {
		s.sessions.drop(sess)
		s.logger.Info("gateway: session closed", "session", sess.id)
	}
	writeJSON(w, http.StatusOK, sqlrest.Response{Success: true})
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	var req sqlrest.SessionRequest
	if !decode(w, r, &req) {
		return
	}

	sess := s.sessions.resolve(req.Session)
	if sess == nil {
		writeJSON(w, http.StatusOK, fail(msgSessionNotFound))
		return
	}
	locks := sess.lockCount()
	writeJSON(w, http.StatusOK, sqlrest.Response{Success: true, Locks: &locks})
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	s.finishTransaction(w, r, true)
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	s.finishTransaction(w, r, false)
}

func (s *Server) finishTransaction(w http.ResponseWriter, r *http.Request, commit bool) {
	var req sqlrest.SessionRequest
	if !decode(w, r, &req) {
		return
	}

	sess := s.sessions.resolve(req.Session)
	if sess == nil {
		writeJSON(w, http.StatusOK, fail(msgSessionNotFound))
		return
	}
	if err := sess.endTx(commit); err != nil {
		writeJSON(w, http.StatusOK, fail(err.Error()))
		return
	}
	zero := 0
	writeJSON(w, http.StatusOK, sqlrest.Response{Success: true, Locks: &zero})
}

// handleExec serves the four single-statement endpoints; the operation
// is the request path's last element.
func (s *Server) handleExec(w http.ResponseWriter, r *http.Request) {
	var req sqlrest.ExecRequest
	if !decode(w, r, &req) {
		return
	}
	op := strings.TrimPrefix(r.URL.Path, "/")
	mutating := op != "select"

	sess, ext, ok := s.sessionContext(w, req.Session, mutating)
	if !ok {
		return
	}

	env := s.execStatement(ext, op, req.Statement)
	if env.Success && mutating && sess != nil && sess.scope == scopeTransactional {
		locks := sess.addLocks(1)
		env.Locks = &locks
	}
	writeJSON(w, http.StatusOK, env)
}

// sessionContext resolves the optional session handle and picks the
// execution target: the session's transaction when one applies, the
// bare database handle otherwise. A transactional session begins its
// transaction on the first mutating statement.
func (s *Server) sessionContext(w http.ResponseWriter, handle string, mutating bool) (*gwSession, execTarget, bool) {
	if handle == "" {
		return nil, s.db, true
	}

	sess := s.sessions.resolve(handle)
	if sess == nil {
		writeJSON(w, http.StatusOK, fail(msgSessionNotFound))
		return nil, nil, false
	}
	if sess.scope != scopeTransactional {
		return sess, s.db, true
	}

	if mutating {
		tx, err := sess.beginTx(s.db)
		if err != nil {
			writeJSON(w, http.StatusOK, fail(err.Error()))
			return nil, nil, false
		}
		return sess, tx, true
	}
	// Reads join the open transaction so the session sees its own
	// uncommitted writes.
	if tx := sess.openTx(); tx != nil {
		return sess, tx, true
	}
	return sess, s.db, true
}
