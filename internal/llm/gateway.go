package llm

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/thathunky/gryag/internal/logging"
)

const maxToolRounds = 2

// embedConcurrency bounds simultaneous Embed calls to at most 8 at once,
// using a weighted semaphore the same way a worker pool caps fan-out.
const embedConcurrency = 8

// ProviderFactory builds a Provider bound to a single API key.
type ProviderFactory func(apiKey string) (Provider, error)

// Gateway wraps a Provider with a bounded tool-callback loop in Generate,
// an Embed concurrency cap, key rotation on quota errors, and a shared
// circuit breaker.
type Gateway struct {
	factory ProviderFactory
	pool *keyPool
	freeTier bool

	breaker *circuitBreaker
	embedSem *semaphore.Weighted

	mu sync.Mutex
	providers map[string]Provider // keyed by api key
	disabledTools map[string]bool // tools the server reported as unsupported

	// embedFallback is used when the primary provider's Embed fails or no
	// key is available; may be nil.
	embedFallback Provider
}

// NewGateway constructs a Gateway. keys must contain at least one API key
// when freeTier is true; with a single key, a quota error blocks that key
// and the call fails with ErrAllKeysExhausted until the block expires.
func NewGateway(factory ProviderFactory, keys []string, freeTier bool, keyBlockFor time.Duration, maxFailures int, circuitCooldown time.Duration) *Gateway {
	return &Gateway{
 factory: factory,
 pool: newKeyPool(keys, keyBlockFor),
 freeTier: freeTier,
 breaker: newCircuitBreaker(maxFailures, circuitCooldown),
 embedSem: semaphore.NewWeighted(embedConcurrency),
 providers: map[string]Provider{},
 disabledTools: map[string]bool{},
	}
}

// WithEmbedFallback registers a secondary provider used only for Embed
// when a primary Embed call fails or no key is available.
func (g *Gateway) WithEmbedFallback(p Provider) *Gateway {
	g.embedFallback = p
	return g
}

func (g *Gateway) providerFor(key string) (Provider, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if p, ok := g.providers[key]; ok {
 return p, nil
	}
	p, err := g.factory(key)
	if err != nil {
 return nil, err
	}
	g.providers[key] = p
	return p, nil
}

func (g *Gateway) filterDisabledTools(tools []ToolDecl) []ToolDecl {
	if len(g.disabledTools) == 0 {
 return tools
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]ToolDecl, 0, len(tools))
	for _, t := range tools {
 if !g.disabledTools[t.Name] {
 out = append(out, t)
 }
	}
	return out
}

func (g *Gateway) disableTool(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.disabledTools[name] = true
}

// Generate drives the tool-callback loop: executes callbacks for any
// function-call parts whose name is in callbacks,
// appends tool results, and re-invokes the model for up to maxToolRounds
// rounds. If the final response is still function-calls-only with no
// text, it retries once with tools omitted to force a textual reply.
func (g *Gateway) Generate(ctx context.Context, req GenerateRequest, callbacks map[string]ToolCallback) (GenerateResult, error) {
	if !g.breaker.Allow() {
 return GenerateResult{}, &GatewayError{Err: ErrCircuitOpen}
	}

	req.Tools = g.filterDisabledTools(req.Tools)

	history := append([]Turn{}, req.History...)
	var thinking strings.Builder

	for round := 0; round <= maxToolRounds; round++ {
 turn, err := g.callWithRotation(ctx, req, history)
 if err != nil {
 if ctx.Err() != nil {
 g.breaker.RecordCancellation()
 } else {
 g.breaker.RecordFailure()
 }
 return GenerateResult{}, err
 }
 g.breaker.RecordSuccess()

 text, thoughtText, calls := splitParts(turn.Parts)
 if thoughtText != "" {
 if thinking.Len() > 0 {
 thinking.WriteString("\n")
 }
 thinking.WriteString(thoughtText)
 }

 if len(calls) == 0 || round == maxToolRounds {
 if text != "" || len(calls) == 0 {
 return GenerateResult{Text: text, Thinking: thinking.String()}, nil
 }
 break
 }

 history = append(history, turn)
 toolTurn := Turn{Role: "tool"}
 for _, call := range calls {
 cb, ok := callbacks[call.Name]
 var result string
 if !ok {
 result = `{"error":"unknown tool"}`
 } else {
 out, err := cb(ctx, call.Args)
 if err != nil {
 b, _ := json.Marshal(map[string]string{"error": err.Error()})
 result = string(b)
 } else {
 result = out
 }
 }
 toolTurn.Parts = append(toolTurn.Parts, Part{Text: result})
 }
 history = append(history, toolTurn)
	}

	// Tool loop exhausted with only function calls and no text: force a
	// textual reply by retrying once without tools.
	noToolsReq := req
	noToolsReq.Tools = nil
	noToolsReq.History = history
	turn, err := g.callWithRotation(ctx, noToolsReq, history)
	if err != nil {
 g.breaker.RecordFailure()
 return GenerateResult{}, err
	}
	g.breaker.RecordSuccess()
	text, thoughtText, _ := splitParts(turn.Parts)
	if thoughtText != "" {
 if thinking.Len() > 0 {
 thinking.WriteString("\n")
 }
 thinking.WriteString(thoughtText)
	}
	return GenerateResult{Text: text, Thinking: thinking.String()}, nil
}

func splitParts(parts []Part) (text, thought string, calls []FuncCall) {
	var tb, vb strings.Builder
	for _, p := range parts {
 switch {
 case p.FuncCall != nil:
 calls = append(calls, *p.FuncCall)
 case p.Thought:
 tb.WriteString(p.Text)
 default:
 vb.WriteString(p.Text)
 }
	}
	return vb.String(), tb.String(), calls
}

// callWithRotation performs one Generate call, rotating through the key
// pool on quota errors and disabling unsupported-feature tools for the
// process lifetime.
func (g *Gateway) callWithRotation(ctx context.Context, req GenerateRequest, history []Turn) (Turn, error) {
	callReq := req
	callReq.History = history

	if !g.freeTier || g.pool.Len() == 0 {
 p, err := g.currentProvider()
 if err != nil {
 return Turn{}, err
 }
 return g.invoke(ctx, p, callReq)
	}

	for {
 key, ok := g.pool.Next()
 if !ok {
 return Turn{}, &GatewayError{Err: ErrAllKeysExhausted}
 }
 p, err := g.providerFor(key)
 if err != nil {
 return Turn{}, err
 }
 turn, err := g.invoke(ctx, p, callReq)
 if err == nil {
 return turn, nil
 }
 if strings.Contains(err.Error(), ErrQuotaExceeded.Error()) {
 g.pool.Block(key)
 logging.Log.Info().Str("key_suffix", lastFour(key)).Msg("llm_key_blocked_quota")
 continue
 }
 return Turn{}, err
	}
}

func (g *Gateway) invoke(ctx context.Context, p Provider, req GenerateRequest) (Turn, error) {
	if !p.SupportsSystemInstruction() && req.SystemPrompt != "" {
 req.History = append([]Turn{{Role: "user", Parts: []Part{{Text: req.SystemPrompt}}}}, req.History...)
 req.SystemPrompt = ""
	}
	turn, err := p.Generate(ctx, req)
	if err != nil && strings.Contains(err.Error(), "search grounding not supported") {
 g.disableTool("search")
 return Turn{}, &GatewayError{Err: ErrUnsupportedFeature}
	}
	return turn, err
}

func (g *Gateway) currentProvider() (Provider, error) {
	key, ok := g.pool.Next()
	if !ok {
 return nil, &GatewayError{Err: ErrAllKeysExhausted}
	}
	return g.providerFor(key)
}

// Embed computes a dense vector for text, bounded by embedConcurrency
// concurrent calls. Empty text returns an empty slice without calling the
// provider.
func (g *Gateway) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
 return []float32{}, nil
	}
	if err := g.embedSem.Acquire(ctx, 1); err != nil {
 return nil, err
	}
	defer g.embedSem.Release(1)

	p, err := g.currentProvider()
	if err != nil {
 if g.embedFallback != nil {
 return g.embedFallback.Embed(ctx, text)
 }
 return nil, err
	}
	vec, err := p.Embed(ctx, text)
	if err != nil && g.embedFallback != nil {
 logging.Log.Warn().Err(err).Msg("llm_embed_primary_failed_using_fallback")
 return g.embedFallback.Embed(ctx, text)
	}
	return vec, err
}

func lastFour(s string) string {
	if len(s) <= 4 {
 return s
	}
	return s[len(s)-4:]
}
