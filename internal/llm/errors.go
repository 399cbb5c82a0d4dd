package llm

import "errors"

// ErrQuotaExceeded is returned by a Provider when the backing API reports a
// 429/quota error for the currently selected key.
var ErrQuotaExceeded = errors.New("llm: quota exceeded")

// ErrUnsupportedFeature is returned when the server reports a capability
// (e.g. search grounding) as unsupported; the Gateway disables that tool
// for the remainder of the process.
var ErrUnsupportedFeature = errors.New("llm: unsupported feature")

// ErrAllKeysExhausted is returned when every key in the rotation pool is
// currently blocked.
var ErrAllKeysExhausted = errors.New("llm: all keys exhausted")

// ErrCircuitOpen is returned when the circuit breaker is open.
var ErrCircuitOpen = errors.New("llm: circuit open")

// GatewayError wraps a terminal Generate/Embed failure the orchestrator
// must surface as a localized reply.
type GatewayError struct {
	Err error
}

func (e *GatewayError) Error() string { return "llm gateway: " + e.Err.Error() }
func (e *GatewayError) Unwrap() error { return e.Err }
