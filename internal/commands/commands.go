// Package commands dispatches the admin slash-command surface (ban/unban,
// quota reset, profile and fact inspection, chat-memory view/reset, and
// system-prompt management). Every handler here is transport-agnostic: it
// takes a Request and returns a Response, leaving Telegram message delivery
// to the caller.
package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/thathunky/gryag/internal/model"
)

// Request is one parsed slash-command invocation, already stripped of
// Telegram-specific plumbing by the orchestrator.
type Request struct {
	Text string // full command text including leading "/"
	ChatID int64
	UserID int64
	IsAdmin bool
	Now time.Time
	ReplyToUserID *int64
	ReplyToDisplayName string
	ReplyToText string
	ReplyToDocument []byte // raw bytes when replying to a.txt attachment
}

// Document is a file the dispatcher wants sent back alongside Response.Text.
type Document struct {
	Filename string
	Bytes []byte
}

// Response is what a command handler produced.
type Response struct {
	Text string
	Document *Document
}

const adminOnlyText = "Only admins can do that."

// pendingConfirm is a two-step destructive-action confirmation, keyed by
// "chatID:adminID:action" and expiring after a fixed TTL.
type pendingConfirm struct {
	targetUserID int64
	expiresAt time.Time
}

// Dispatcher routes parsed slash commands to their handlers. All
// dependencies are narrow interfaces so tests can fake them individually.
type Dispatcher struct {
	facts Facts
	profiles Profiles
	messages Messages
	limiter RateLimiter
	prompts Prompts
	learning Learning
	botUsername string

	confirmations map[string]pendingConfirm
}

func NewDispatcher(facts Facts, profiles Profiles, messages Messages, limiter RateLimiter, prompts Prompts, learning Learning, botUsername string) *Dispatcher {
	return &Dispatcher{
 facts: facts, profiles: profiles, messages: messages, limiter: limiter,
 prompts: prompts, learning: learning, botUsername: botUsername,
 confirmations: make(map[string]pendingConfirm),
	}
}

// IsCommand reports whether text looks like a slash command this
// dispatcher might handle, without actually routing it. The orchestrator
// uses this to decide whether to fall through to normal addressing.
func IsCommand(text string) bool {
	return strings.HasPrefix(strings.TrimSpace(text), "/")
}

// name extracts the bare, lower-cased command word (e.g. "ban" from
// "/gryagban@gryagbot arg1 arg2"), stripping both an "@botname" suffix and
// the optional "gryag" prefix, since every command works under either its
// short form or its "gryag"-prefixed form.
func (d *Dispatcher) name(word string) string {
	word = strings.TrimPrefix(word, "/")
	if at := strings.IndexByte(word, '@'); at >= 0 {
 suffix := strings.ToLower(word[at+1:])
 if d.botUsername != "" && suffix != strings.ToLower(d.botUsername) {
 return "\x00" // addressed to a different bot in the same chat; never matches a case
 }
 word = word[:at]
	}
	word = strings.ToLower(word)
	return strings.TrimPrefix(word, "gryag")
}

// Dispatch routes req to its handler. ok is false when Text isn't a
// recognized command, in which case the caller should treat the message
// as ordinary conversation input.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (Response, bool) {
	fields := strings.Fields(req.Text)
	if len(fields) == 0 {
 return Response{}, false
	}
	cmd := d.name(fields[0])
	args := fields[1:]

	if !req.IsAdmin && cmd != "ping" && cmd != "" {
 // Every command below this package implements is admin-only;
 // non-admin callers get a uniform refusal rather than silence.
 if handler := d.lookup(cmd); handler != nil {
 return Response{Text: adminOnlyText}, true
 }
 return Response{}, false
	}

	handler := d.lookup(cmd)
	if handler == nil {
 return Response{}, false
	}
	return handler(ctx, req, args), true
}

func (d *Dispatcher) lookup(cmd string) func(context.Context, Request, []string) Response {
	switch cmd {
	case "", "ping":
 return d.handlePing
	case "ban":
 return d.handleBan
	case "unban":
 return d.handleUnban
	case "reset", "resetquotas":
 return d.handleResetQuotas
	case "chatinfo":
 return d.handleChatInfo
	case "profile":
 return d.handleProfile
	case "facts":
 return d.handleFacts
	case "removefact":
 return d.handleRemoveFact
	case "forget":
 return d.handleForgetUser
	case "export":
 return d.handleExportProfile
	case "users":
 return d.handleListMembers
	case "self":
 return d.handleBotSelfProfile
	case "insights":
 return d.handleGenerateInsights
	case "chatfacts":
 return d.handleChatMemoryView
	case "chatreset":
 return d.handleChatMemoryReset
	case "prompt":
 return d.handlePromptView
	case "setprompt":
 return d.handlePromptSet
	case "resetprompt":
 return d.handlePromptReset
	case "prompthistory":
 return d.handlePromptHistory
	case "activateprompt":
 return d.handlePromptActivate
	case "showprompt":
 return d.handlePromptEffective
	default:
 return nil
	}
}

func (d *Dispatcher) handlePing(ctx context.Context, req Request, args []string) Response {
	return Response{Text: "🏓 pong"}
}

func confirmKey(chatID, adminID int64, action string) string {
	return fmt.Sprintf("%d:%d:%s", chatID, adminID, action)
}

func (d *Dispatcher) checkConfirm(req Request, action string, ttl time.Duration) (int64, bool) {
	key := confirmKey(req.ChatID, req.UserID, action)
	pc, ok := d.confirmations[key]
	if !ok {
 return 0, false
	}
	if req.Now.After(pc.expiresAt) {
 delete(d.confirmations, key)
 return 0, false
	}
	delete(d.confirmations, key)
	return pc.targetUserID, true
}

func (d *Dispatcher) requestConfirm(req Request, action string, targetUserID int64, ttl time.Duration) {
	d.confirmations[confirmKey(req.ChatID, req.UserID, action)] = pendingConfirm{
 targetUserID: targetUserID,
 expiresAt: req.Now.Add(ttl),
	}
}

func factsToJSON(facts []model.Fact) ([]byte, error) {
	type exportFact struct {
 Category string `json:"category"`
 Key string `json:"key"`
 Value string `json:"value"`
 Confidence float64 `json:"confidence"`
 Evidence int `json:"evidence_count"`
 Source string `json:"source"`
 Tags []string `json:"tags"`
 CreatedAt int64 `json:"created_at"`
	}
	out := make([]exportFact, 0, len(facts))
	for _, f := range facts {
 out = append(out, exportFact{
 Category: f.Category, Key: f.Key, Value: f.Value, Confidence: f.Confidence,
 Evidence: f.EvidenceCount, Source: f.SourceType, Tags: f.ContextTags, CreatedAt: f.CreatedAt,
 })
	}
	return json.MarshalIndent(out, "", " ")
}

func parseInt(s string) (int64, bool) {
	n, err := strconv.ParseInt(s, 10, 64)
	return n, err == nil
}
