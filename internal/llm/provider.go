// Package llm is the gateway to the generative/embedding model: an async
// Generate with a bounded tool-callback loop, a concurrency-capped Embed,
// key rotation across a pool of API keys, and a circuit breaker shared
// across keys. Provider implementations live in the google/anthropic/openai
// subpackages.
package llm

import "context"

// Part is one piece of a generated response: either visible text, a
// thinking/thought fragment (never shown to the user), or a function call.
type Part struct {
	Text string
	Thought bool
	FuncCall *FuncCall
}

// FuncCall is a model-issued tool invocation.
type FuncCall struct {
	Name string
	Args map[string]any
}

// Turn is one entry in the conversation sent to/received from the model.
type Turn struct {
	Role string // "user" | "model" | "system" | "tool"
	Parts []Part
}

// ToolDecl describes a callable tool the model may invoke.
type ToolDecl struct {
	Name string
	Description string
	Parameters map[string]any
}

// GenerateRequest bundles everything Generate needs for one call.
type GenerateRequest struct {
	SystemPrompt string
	History []Turn
	UserParts []Part
	Tools []ToolDecl
}

// GenerateResult is the distilled output of a (possibly multi-round)
// Generate call: visible text plus any collected thinking.
type GenerateResult struct {
	Text string
	Thinking string
}

// ToolCallback executes one tool invocation and returns a string result
// (parsed as JSON by the caller when possible). Errors are captured and
// surfaced to the model as {"error": "..."} rather than propagated.
type ToolCallback func(ctx context.Context, args map[string]any) (string, error)

// Provider is the minimal per-SDK surface the Gateway drives. Each
// sub-package (google, anthropic, openai) implements this against its own
// client.
type Provider interface {
	// Generate performs one raw model call; SupportsSystemInstruction tells
	// the Gateway whether to fold SystemPrompt into a leading user turn.
	Generate(ctx context.Context, req GenerateRequest) (Turn, error)
	// Embed returns a dense vector for text, or an empty slice for empty text.
	Embed(ctx context.Context, text string) ([]float32, error)
	SupportsSystemInstruction() bool
}
