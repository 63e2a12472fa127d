// Package transport performs single request/response exchanges against
// an openrestdb gateway endpoint. It exposes only success/failure and
// the response body; callers never see status codes or headers.
package transport

import (
	"context"
	"encoding/json"
)

// Request describes one exchange with the gateway.
type Request struct {
	// Method is the HTTP method, normally POST.
	Method string

	// Path is resolved relative to the invoker's base endpoint.
	Path string

	// Headers are merged over the invoker's standing headers.
	Headers map[string]string

	// Body is serialized to JSON when non-nil.
	Body any
}

// Response is the outcome of one exchange. Success reflects whether the
// gateway produced a usable response; application-level failures travel
// inside Body.
type Response struct {
	Success bool

	// Body is the parsed response payload when the gateway answered
	// with a body.
	Body json.RawMessage

	// Raw holds the response text when Body could not be parsed or the
	// exchange failed with a textual error page.
	Raw string
}

// Invoker executes one exchange. An error return means no usable
// response was obtained at all (network failure, unreachable gateway);
// everything the gateway actually said comes back in the Response.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (*Response, error)
}
