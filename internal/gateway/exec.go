package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/jmoiron/sqlx"

	"github.com/miracle-42/openrestdb-go/pkg/sqlrest"
)

// execTarget is where a statement runs: the bare database handle or a
// session's open transaction.
type execTarget = sqlx.Ext

// scriptSavepoint guards script steps inside an already-open session
// transaction, so a failed script rolls back only its own steps.
const scriptSavepoint = "openrestdb_script"

// execStatement runs one statement and folds the outcome into a wire
// envelope. SQL errors are the caller's payload, not HTTP errors.
func (s *Server) execStatement(ext execTarget, op string, stmt sqlrest.SQLRest) sqlrest.Response {
	args := bindMap(stmt.Bind)

	if op == "select" {
		rows, err := sqlx.NamedQuery(ext, stmt.Stmt, args)
		if err != nil {
			return fail(err.Error())
		}
		defer func() { _ = rows.Close() }()

		data, err := rowsToJSON(rows)
		if err != nil {
			return fail(err.Error())
		}
		return sqlrest.Response{Success: true, Rows: data}
	}

	res, err := sqlx.NamedExec(ext, stmt.Stmt, args)
	if err != nil {
		return fail(err.Error())
	}
	affected, err := res.RowsAffected()
	if err != nil {
		affected = 0
	}
	return sqlrest.Response{Success: true, Affected: affected}
}

// bindMap converts wire bind values into sqlx named arguments.
func bindMap(binds []sqlrest.BindValue) map[string]any {
	args := make(map[string]any, len(binds))
	for _, b := range binds {
		args[b.Name] = b.Value
	}
	return args
}

// rowsToJSON drains a result set into a JSON array of objects.
func rowsToJSON(rows *sqlx.Rows) (json.RawMessage, error) {
	out := make([]map[string]any, 0)
	for rows.Next() {
		row := make(map[string]any)
		if err := rows.MapScan(row); err != nil {
			return nil, err
		}
		for k, v := range row {
			if b, ok := v.([]byte); ok {
				row[k] = string(b)
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return json.Marshal(out)
}

func (s *Server) handleScript(w http.ResponseWriter, r *http.Request) {
	var req sqlrest.ScriptRequest
	if !decode(w, r, &req) {
		return
	}

	sess, ext, ok := s.sessionContext(w, req.Session, true)
	if !ok {
		return
	}

	var env sqlrest.Response
	if tx, inTx := ext.(*sqlx.Tx); inTx {
		env = s.runScriptInTx(tx, req.Steps)
	} else {
		env = s.runScriptOwnTx(req.Steps)
	}

	if env.Success && sess != nil && sess.scope == scopeTransactional {
		locks := sess.addLocks(1)
		env.Locks = &locks
	}
	writeJSON(w, http.StatusOK, env)
}

// runScriptOwnTx runs a script atomically in its own transaction.
func (s *Server) runScriptOwnTx(steps []sqlrest.Step) sqlrest.Response {
	tx, err := s.db.Beginx()
	if err != nil {
		return fail(err.Error())
	}
	for i, step := range steps {
		if env := s.execStatement(tx, step.Path, step.Payload); !env.Success {
			_ = tx.Rollback()
			return fail(fmt.Sprintf("step %d (%s): %s", i, step.Path, env.Message))
		}
	}
	if err := tx.Commit(); err != nil {
		return fail(err.Error())
	}
	return sqlrest.Response{Success: true}
}

// runScriptInTx runs a script inside a session's open transaction,
// fenced by a savepoint so a failure undoes only the script's steps.
func (s *Server) runScriptInTx(tx *sqlx.Tx, steps []sqlrest.Step) sqlrest.Response {
	if _, err := tx.Exec("SAVEPOINT " + scriptSavepoint); err != nil {
		return fail(err.Error())
	}
	for i, step := range steps {
		if env := s.execStatement(tx, step.Path, step.Payload); !env.Success {
			_, _ = tx.Exec("ROLLBACK TO " + scriptSavepoint)
			return fail(fmt.Sprintf("step %d (%s): %s", i, step.Path, env.Message))
		}
	}
	if _, err := tx.Exec("RELEASE " + scriptSavepoint); err != nil {
		return fail(err.Error())
	}
	return sqlrest.Response{Success: true}
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req sqlrest.BatchRequest
	if !decode(w, r, &req) {
		return
	}

	sess, ext, ok := s.sessionContext(w, req.Session, true)
	if !ok {
		return
	}

	results := make([]sqlrest.Response, 0, len(req.Steps))
	mutated := 0
	for _, step := range req.Steps {
		env := s.execStatement(ext, step.Path, step.Payload)
		if env.Success && step.Path != "select" {
			mutated++
		}
		results = append(results, env)
	}

	out := sqlrest.BatchResponse{Success: true, Results: results}
	if sess != nil && sess.scope == scopeTransactional && mutated > 0 {
		locks := sess.addLocks(mutated)
		out.Locks = &locks
	}
	writeJSON(w, http.StatusOK, out)
}
