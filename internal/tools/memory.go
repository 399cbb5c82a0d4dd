// Package tools wires the memory tool callbacks the model can call during
// generation (remember_memory, recall_memories, forget_memory,
// set_pronouns). A callback never returns a Go error for a domain
// failure; it returns {"error": "..."} so the model can react to it.
package tools

import (
	"context"
	"encoding/json"
	"time"

	"github.com/thathunky/gryag/internal/llm"
	"github.com/thathunky/gryag/internal/logging"
	"github.com/thathunky/gryag/internal/model"
	"github.com/thathunky/gryag/internal/profile"
)

// Facts is the subset of profile.Store the memory tools need.
type Facts interface {
	AddFact(ctx context.Context, in profile.AddFactInput) (model.Fact, bool, error)
	GetFacts(ctx context.Context, in profile.GetFactsInput) ([]model.Fact, error)
	DeleteFact(ctx context.Context, id int64) error
}

const maxRecallLimit = 20

var factCategories = []string{
	"preference", "interest", "skill", "personal_info", "relationship", "habit", "opinion", "dislike",
}

// RememberMemoryDecl, RecallMemoriesDecl, ForgetMemoryDecl, and
// SetPronounsDecl are the function-calling declarations surfaced to the
// model whenever tool-based memory is enabled.
var RememberMemoryDecl = llm.ToolDecl{
	Name: "remember_memory",
	Description: "Remember a specific fact about the current user for future conversations " +
 "(a preference, interest, personal detail, etc).",
	Parameters: map[string]any{
 "type": "object",
 "properties": map[string]any{
 "category": map[string]any{"type": "string", "description": "Kind of fact", "enum": factCategories},
 "key": map[string]any{"type": "string", "description": "Short label for the fact, e.g. 'favorite_language'"},
 "value": map[string]any{"type": "string", "description": "The fact itself"},
 "confidence": map[string]any{"type": "number", "description": "How certain (0.0-1.0), default 0.8"},
 },
 "required": []string{"category", "key", "value"},
	},
}

var RecallMemoriesDecl = llm.ToolDecl{
	Name: "recall_memories",
	Description: "Recall previously remembered facts about the current user, optionally filtered by category.",
	Parameters: map[string]any{
 "type": "object",
 "properties": map[string]any{
 "category": map[string]any{"type": "string", "description": "Optional category filter", "enum": factCategories},
 "limit": map[string]any{"type": "integer", "description": "Max facts to return (default 10, max 20)"},
 },
	},
}

var ForgetMemoryDecl = llm.ToolDecl{
	Name: "forget_memory",
	Description: "Forget a previously remembered fact about the current user by its key.",
	Parameters: map[string]any{
 "type": "object",
 "properties": map[string]any{
 "key": map[string]any{"type": "string", "description": "The fact key to forget"},
 "category": map[string]any{"type": "string", "description": "Optional category to narrow the match", "enum": factCategories},
 },
 "required": []string{"key"},
	},
}

var SetPronounsDecl = llm.ToolDecl{
	Name: "set_pronouns",
	Description: "Record the current user's preferred pronouns for future replies.",
	Parameters: map[string]any{
 "type": "object",
 "properties": map[string]any{
 "pronouns": map[string]any{"type": "string", "description": "Preferred pronouns, e.g. 'she/her', 'they/them'"},
 },
 "required": []string{"pronouns"},
	},
}

// Declarations returns the four memory tool declarations, for wiring into
// a GenerateRequest.Tools list.
func Declarations() []llm.ToolDecl {
	return []llm.ToolDecl{RememberMemoryDecl, RecallMemoriesDecl, ForgetMemoryDecl, SetPronounsDecl}
}

// MemoryTools builds per-message tool callback maps closing over the
// addressing user, so each callback already knows whose profile to touch.
type MemoryTools struct {
	facts Facts
	now func() time.Time
}

func NewMemoryTools(facts Facts) *MemoryTools {
	return &MemoryTools{facts: facts, now: time.Now}
}

// Callbacks builds the tool-name -> callback map for one in-flight
// message addressed by userID.
func (m *MemoryTools) Callbacks(userID int64) map[string]llm.ToolCallback {
	return map[string]llm.ToolCallback{
 "remember_memory": m.rememberMemory(userID),
 "recall_memories": m.recallMemories(userID),
 "forget_memory": m.forgetMemory(userID),
 "set_pronouns": m.setPronouns(userID),
	}
}

func (m *MemoryTools) rememberMemory(userID int64) llm.ToolCallback {
	return func(ctx context.Context, args map[string]any) (string, error) {
 category, _ := args["category"].(string)
 key, _ := args["key"].(string)
 value, _ := args["value"].(string)
 if category == "" || key == "" || value == "" {
 return errJSON("category, key, and value are all required"), nil
 }
 confidence := 0.8
 if c, ok := args["confidence"].(float64); ok && c > 0 {
 confidence = c
 }

 fact, reinforced, err := m.facts.AddFact(ctx, profile.AddFactInput{
 Owner: model.FactOwnerUser, ProfileID: userID, Category: category, Key: key, Value: value,
 Confidence: confidence, Source: "user_explicit",
 })
 if err != nil {
 logging.Log.Warn().Err(err).Str("tool", "remember_memory").Msg("tool_callback_failed")
 return errJSON("failed to remember that"), nil
 }
 return marshalOK(map[string]any{
 "success": true, "reinforced": reinforced, "category": fact.Category, "key": fact.Key,
 }), nil
	}
}

func (m *MemoryTools) recallMemories(userID int64) llm.ToolCallback {
	return func(ctx context.Context, args map[string]any) (string, error) {
 category, _ := args["category"].(string)
 limit := 10
 if l, ok := args["limit"].(float64); ok && l > 0 {
 limit = int(l)
 }
 if limit > maxRecallLimit {
 limit = maxRecallLimit
 }

 facts, err := m.facts.GetFacts(ctx, profile.GetFactsInput{
 Owner: model.FactOwnerUser, ProfileID: userID, Category: category, ApplyDecay: true, Limit: limit,
 })
 if err != nil {
 logging.Log.Warn().Err(err).Str("tool", "recall_memories").Msg("tool_callback_failed")
 return errJSON("failed to recall memories"), nil
 }

 out := make([]map[string]any, 0, len(facts))
 for _, f := range facts {
 out = append(out, map[string]any{
 "category": f.Category, "key": f.Key, "value": f.Value, "confidence": f.Confidence,
 })
 }
 return marshalOK(map[string]any{"memories": out}), nil
	}
}

func (m *MemoryTools) forgetMemory(userID int64) llm.ToolCallback {
	return func(ctx context.Context, args map[string]any) (string, error) {
 key, _ := args["key"].(string)
 if key == "" {
 return errJSON("key is required"), nil
 }
 category, _ := args["category"].(string)

 facts, err := m.facts.GetFacts(ctx, profile.GetFactsInput{
 Owner: model.FactOwnerUser, ProfileID: userID, Category: category,
 })
 if err != nil {
 logging.Log.Warn().Err(err).Str("tool", "forget_memory").Msg("tool_callback_failed")
 return errJSON("failed to look up that memory"), nil
 }

 deleted := 0
 for _, f := range facts {
 if f.Key != key {
 continue
 }
 if err := m.facts.DeleteFact(ctx, f.ID); err != nil {
 logging.Log.Warn().Err(err).Str("tool", "forget_memory").Int64("fact_id", f.ID).Msg("tool_callback_failed")
 continue
 }
 deleted++
 }
 return marshalOK(map[string]any{"success": deleted > 0, "deleted": deleted}), nil
	}
}

func (m *MemoryTools) setPronouns(userID int64) llm.ToolCallback {
	return func(ctx context.Context, args map[string]any) (string, error) {
 pronouns, _ := args["pronouns"].(string)
 if pronouns == "" {
 return errJSON("pronouns value is required"), nil
 }
 if _, _, err := m.facts.AddFact(ctx, profile.AddFactInput{
 Owner: model.FactOwnerUser, ProfileID: userID, Category: "preference", Key: "pronouns",
 Value: pronouns, Confidence: 1.0, Source: "user_explicit",
 }); err != nil {
 logging.Log.Warn().Err(err).Str("tool", "set_pronouns").Msg("tool_callback_failed")
 return errJSON("failed to set pronouns"), nil
 }
 return marshalOK(map[string]any{"success": true, "pronouns": pronouns}), nil
	}
}

func errJSON(msg string) string {
	b, _ := json.Marshal(map[string]string{"error": msg})
	return string(b)
}

func marshalOK(v map[string]any) string {
	b, err := json.Marshal(v)
	if err != nil {
 return errJSON("failed to encode result")
	}
	return string(b)
}
