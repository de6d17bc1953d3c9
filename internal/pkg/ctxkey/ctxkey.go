// Package ctxkey defines typed keys for context.Value.
package ctxkey

// Key avoids collisions with other packages' context values.
type Key string

const (
	// RequestID is the server-generated or forwarded request id.
	RequestID Key = "ctx_request_id"
)
