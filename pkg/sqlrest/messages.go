package sqlrest

import "encoding/json"

// ConnectRequest opens a session with the gateway.
type ConnectRequest struct {
	Username   string         `json:"username,omitempty"`
	Password   string         `json:"password,omitempty"`
	Scope      string         `json:"scope"`
	Custom     map[string]any `json:"custom,omitempty"`
	ClientInfo []NameValue    `json:"clientinfo,omitempty"`
}

// SessionRequest carries only the session handle. Used for disconnect,
// commit, rollback, and keep-alive pings.
type SessionRequest struct {
	Session string `json:"session,omitempty"`
}

// ExecRequest executes a single statement.
type ExecRequest struct {
	Session    string      `json:"session,omitempty"`
	Attributes []NameValue `json:"attributes,omitempty"`
	ClientInfo []NameValue `json:"clientinfo,omitempty"`
	Statement  SQLRest     `json:"statement"`
}

// ScriptRequest executes an ordered sequence of dependent steps as one
// round trip. Atomicity of the sequence is a gateway contract.
type ScriptRequest struct {
	Session    string      `json:"session,omitempty"`
	Attributes []NameValue `json:"attributes,omitempty"`
	ClientInfo []NameValue `json:"clientinfo,omitempty"`
	Steps      []Step      `json:"steps"`
}

// BatchRequest executes independent steps in one round trip; each step
// has its own outcome and a failed step does not undo earlier ones.
type BatchRequest struct {
	Session    string      `json:"session,omitempty"`
	Attributes []NameValue `json:"attributes,omitempty"`
	ClientInfo []NameValue `json:"clientinfo,omitempty"`
	Steps      []Step      `json:"steps"`
}

// Response is the gateway's envelope for a single operation.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`

	// Session is the opaque handle issued by connect.
	Session string `json:"session,omitempty"`

	// Locks, when present, is the gateway's authoritative count of row
	// locks held by the session after the operation.
	Locks *int `json:"locks,omitempty"`

	// Rows holds result rows for read operations, left raw for the
	// caller's row-mapping layer.
	Rows json.RawMessage `json:"rows,omitempty"`

	// Affected is the row count reported for mutating statements.
	Affected int64 `json:"affected,omitempty"`

	// Values holds out-parameter values keyed by bind name.
	Values map[string]any `json:"values,omitempty"`
}

// BatchResponse is the gateway's envelope for a batch: one Response per
// step, preserving input order.
type BatchResponse struct {
	Success bool       `json:"success"`
	Message string     `json:"message,omitempty"`
	Locks   *int       `json:"locks,omitempty"`
	Results []Response `json:"results"`
}
