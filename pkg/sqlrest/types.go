// Package sqlrest defines the wire types exchanged with an openrestdb
// gateway. Statement payloads (SQLRest, Step) are produced by a
// statement-building layer and carried through the connection layer
// unmodified; this package assigns them no SQL semantics.
package sqlrest

// NameValue is an ordered name/value pair used for attributes and
// client info forwarded with every request.
type NameValue struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// BindValue is a single bind variable attached to a statement.
type BindValue struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
	Type  string `json:"type,omitempty"`

	// Out marks the bind as an out-parameter whose value is returned
	// by the gateway after execution.
	Out bool `json:"out,omitempty"`
}

// SQLRest is a pre-built single-statement payload.
type SQLRest struct {
	Stmt      string      `json:"stmt"`
	Bind      []BindValue `json:"bindvalues,omitempty"`
	Returning []string    `json:"returning,omitempty"`
}

// Step is one statement within a script or batch request. Path names
// the gateway operation the step maps to (insert, update, delete,
// select); Payload is the statement body for that operation.
type Step struct {
	Path    string  `json:"path"`
	Payload SQLRest `json:"payload"`
}
