// Package orchestrator runs the per-message state machine:
// gate → context → generate → persist → learn, tying every other
// component together behind a transport-agnostic Handle call so the
// Telegram wiring in cmd/gryagd stays a thin adapter with no business
// logic of its own. Every dependency is a narrow interface
// (commands.Facts/Profiles, botlearning.Facts, tools.Facts) so the whole
// state machine can be exercised without a database or live model.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/thathunky/gryag/internal/botlearning"
	"github.com/thathunky/gryag/internal/commands"
	"github.com/thathunky/gryag/internal/config"
	"github.com/thathunky/gryag/internal/contextassembler"
	"github.com/thathunky/gryag/internal/ingest"
	"github.com/thathunky/gryag/internal/llm"
	"github.com/thathunky/gryag/internal/logging"
	"github.com/thathunky/gryag/internal/model"
	"github.com/thathunky/gryag/internal/profile"
	"github.com/thathunky/gryag/internal/ratelimit"
)

const generateTimeout = 45 * time.Second

var failureReplyText = "Sorry, I couldn't come up with a reply just now — try again in a bit."
var rateLimitNoticeText = "You're sending messages a bit fast — give it a minute."

// Reply is what the caller (the Telegram adapter) should send back, if
// anything.
type Reply struct {
	ChatID int64
	ThreadID *int64
	Text string
	Document *commands.Document
}

// Sender delivers a Reply produced outside the synchronous Handle call,
// i.e. once a delayed album wait completes.
type Sender interface {
	Send(ctx context.Context, reply Reply) error
}

// Messages is the subset of persistence.MessageStore the orchestrator
// writes to directly (append + embedding backfill on the hot path).
type Messages interface {
	Append(ctx context.Context, msg model.Message) (int64, error)
	BackfillEmbedding(ctx context.Context, id int64, vec []float32) error
}

// Episodes is the subset of persistence.EpisodeStore used to look up a
// just-closed episode for the learning bridge.
type Episodes interface {
	ByChat(ctx context.Context, chatID int64, minImportance float64, limit int) ([]model.Episode, error)
}

// Profiles is the subset of profile.Store the orchestrator needs: the
// per-message touch, the chat-fact heuristic's AddFact, and the
// background summarizer's fact lookup.
type Profiles interface {
	GetProfile(ctx context.Context, userID, chatID int64) (model.UserProfile, bool, error)
	EnsureProfile(ctx context.Context, userID, chatID int64, displayName, username string) (model.UserProfile, error)
	TouchProfile(ctx context.Context, userID, chatID int64, displayName, username string) error
	AddFact(ctx context.Context, in profile.AddFactInput) (model.Fact, bool, error)
	GetFacts(ctx context.Context, in profile.GetFactsInput) ([]model.Fact, error)
	GetProfilesNeedingSummarization(ctx context.Context, staleAfter time.Duration, limit int) ([]model.UserProfile, error)
	UpdateProfileSummary(ctx context.Context, profileID int64, summary string) error
}

// Monitor is the subset of episode.Monitor the orchestrator drives.
type Monitor interface {
	TrackMessage(ctx context.Context, chatID int64, threadID *int64, msg model.Message)
	CreatedCount() int64
	Run(ctx context.Context)
}

// Learning is the subset of botlearning.Engine the orchestrator's
// learning bridges need.
type Learning interface {
	RecordResponse(ctx context.Context, in botlearning.ResponseInput) (int64, error)
	RecordUserReaction(ctx context.Context, in botlearning.ReactionInput) (model.Outcome, error)
	LearnFromToolUsage(ctx context.Context, toolName, userReaction string, chatID int64, success bool, tags []string) error
	LearnFromEpisode(ctx context.Context, chatID int64, summary string, importance float64, valence model.EmotionalValence) error
}

// Gateway is the subset of llm.Gateway the orchestrator drives directly.
type Gateway interface {
	Generate(ctx context.Context, req llm.GenerateRequest, callbacks map[string]llm.ToolCallback) (llm.GenerateResult, error)
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Assembler is contextassembler.Assembler's surface.
type Assembler interface {
	Assemble(ctx context.Context, req contextassembler.AssembleRequest) (contextassembler.LayeredContext, error)
}

// PromptResolver is the subset of prompts.Manager the orchestrator needs
// to resolve the effective system prompt for a chat.
type PromptResolver interface {
	Effective(ctx context.Context, chatID *int64) (string, string, error)
}

// RateLimiter is the subset of ratelimit.Limiter the orchestrator checks
// before generating a reply.
type RateLimiter interface {
	CheckAndIncrement(ctx context.Context, userID int64, feature string, limit int) (ratelimit.Decision, error)
	ShouldNotify(ctx context.Context, userID int64, feature string) (bool, error)
}

// MemoryTools is the subset of tools.MemoryTools the orchestrator wires
// into each Generate call.
type MemoryTools interface {
	Callbacks(userID int64) map[string]llm.ToolCallback
}

// CommandDispatcher is commands.Dispatcher's surface.
type CommandDispatcher interface {
	Dispatch(ctx context.Context, req commands.Request) (commands.Response, bool)
}

type pendingReply struct {
	text string
	toolsUsed []string
	ts time.Time
}

// Orchestrator owns every per-message dependency and the small amount of
// in-memory state (pending bot replies awaiting a user reaction) the
// state machine needs between calls.
type Orchestrator struct {
	pipeline *ingest.Pipeline
	messages Messages
	episodesR Episodes
	profiles Profiles
	monitor Monitor
	learning Learning
	gateway Gateway
	assembler Assembler
	limiter RateLimiter
	promptMgr PromptResolver
	memTools MemoryTools
	dispatch CommandDispatcher
	cfg config.Config
	sender Sender
	now func() time.Time

	mu sync.Mutex
	pending map[string]pendingReply // "chatID:userID" -> last bot reply awaiting a reaction

	cancel context.CancelFunc
	wg sync.WaitGroup
	pruner Pruner
	vacuumer Vacuumer
	downloader ingest.Downloader
}

// SetDownloader wires the file downloader used to fetch a replied-to.txt
// attachment's bytes for /gryagsetprompt; left unset, that source is
// simply unavailable and the command falls back to inline args / replied
// text.
func (o *Orchestrator) SetDownloader(d ingest.Downloader) *Orchestrator {
	o.downloader = d
	return o
}

// New builds an Orchestrator. sender may be nil; it is only consulted for
// the first message of an album (whose reply must wait for the rest of
// the group), and when nil that message is processed immediately instead
// of waiting.
func New(
	pipeline *ingest.Pipeline,
	messages Messages,
	episodesR Episodes,
	profiles Profiles,
	monitor Monitor,
	learning Learning,
	gateway Gateway,
	assembler Assembler,
	limiter RateLimiter,
	promptMgr PromptResolver,
	memTools MemoryTools,
	dispatch CommandDispatcher,
	cfg config.Config,
	sender Sender,
) *Orchestrator {
	return &Orchestrator{
 pipeline: pipeline, messages: messages, episodesR: episodesR, profiles: profiles,
 monitor: monitor, learning: learning, gateway: gateway, assembler: assembler,
 limiter: limiter, promptMgr: promptMgr, memTools: memTools, dispatch: dispatch,
 cfg: cfg, sender: sender, now: time.Now,
 pending: make(map[string]pendingReply),
	}
}

func pendingKey(chatID, userID int64) string {
	return fmt.Sprintf("%d:%d", chatID, userID)
}

// Handle runs the full state machine for one incoming Telegram message.
// A nil Reply with a nil error means the message was handled (stored,
// dropped, or deferred to a background goroutine) with nothing to send
// back synchronously.
func (o *Orchestrator) Handle(ctx context.Context, msg *tgbotapi.Message, isPrivate, isAdmin, isBotOriginated bool) (*Reply, error) {
	decision := o.pipeline.Evaluate(msg, isPrivate, isAdmin, isBotOriginated)
	if !decision.Admit {
 return nil, nil // chat-filter block, silent
	}
	if decision.Locked {
 return nil, nil // processing-lock drop, silent
	}

	if msg.From != nil && !isBotOriginated {
 o.touchProfile(ctx, msg)
	}

	if !decision.Addressed {
 o.storeOnly(ctx, msg)
 return nil, nil
	}

	if decision.WaitForAlbum > 0 && o.sender != nil {
 wait := decision.WaitForAlbum
 go func() {
 defer o.pipeline.Release(msg)
 time.Sleep(wait)
 reply, err := o.processAddressed(context.Background(), msg, isPrivate, isAdmin)
 if err != nil {
 logging.Log.Warn().Err(err).Msg("orchestrator_delayed_album_failed")
 return
 }
 if reply != nil {
 if err := o.sender.Send(context.Background(), *reply); err != nil {
 logging.Log.Warn().Err(err).Msg("orchestrator_delayed_send_failed")
 }
 }
 }()
 return nil, nil
	}

	defer o.pipeline.Release(msg)
	return o.processAddressed(ctx, msg, isPrivate, isAdmin)
}

func (o *Orchestrator) touchProfile(ctx context.Context, msg *tgbotapi.Message) {
	userID := msg.From.ID
	chatID := msg.Chat.ID
	displayName := displayNameOf(msg.From)
	if _, found, err := o.profiles.GetProfile(ctx, userID, chatID); err == nil && found {
 if err := o.profiles.TouchProfile(ctx, userID, chatID, displayName, msg.From.UserName); err != nil {
 logging.Log.Debug().Err(err).Msg("orchestrator_touch_profile_failed")
 }
 return
	}
	if _, err := o.profiles.EnsureProfile(ctx, userID, chatID, displayName, msg.From.UserName); err != nil {
 logging.Log.Debug().Err(err).Msg("orchestrator_ensure_profile_failed")
	}
}

func displayNameOf(u *tgbotapi.User) string {
	if u == nil {
 return ""
	}
	name := u.FirstName
	if u.LastName != "" {
 name += " " + u.LastName
	}
	if name == "" {
 name = u.UserName
	}
	return name
}

func threadIDOf(msg *tgbotapi.Message) *int64 {
	if msg.IsTopicMessage {
 id := int64(msg.MessageThreadID)
 return &id
	}
	return nil
}

func messageTextOf(msg *tgbotapi.Message) string {
	if msg.Text != "" {
 return msg.Text
	}
	return msg.Caption
}

// storeOnly persists a non-addressed message:
// logged to persistence, folded into the episode window, and scanned by
// the lightweight chat-fact heuristic.
func (o *Orchestrator) storeOnly(ctx context.Context, msg *tgbotapi.Message) {
	m := o.toStoredMessage(msg, model.RoleUser)
	id, err := o.messages.Append(ctx, m)
	if err != nil {
 logging.Log.Warn().Err(err).Msg("orchestrator_store_only_append_failed")
 return
	}
	m.ID = id
	o.backfillEmbedding(ctx, id, m.Text)
	o.monitor.TrackMessage(ctx, msg.Chat.ID, threadIDOf(msg), m)
	o.maybeExtractChatFacts(ctx, msg.Chat.ID, m.Text)
}

func (o *Orchestrator) toStoredMessage(msg *tgbotapi.Message, role model.Role) model.Message {
	var userID *int64
	if msg.From != nil {
 id := msg.From.ID
 userID = &id
	}
	var replyTo *int64
	if msg.ReplyToMessage != nil {
 id := int64(msg.ReplyToMessage.MessageID)
 replyTo = &id
	}
	return model.Message{
 ChatID: msg.Chat.ID,
 ThreadID: threadIDOf(msg),
 UserID: userID,
 Role: role,
 Text: messageTextOf(msg),
 TS: int64(msg.Date),
 TelegramMsgID: int64(msg.MessageID),
 Addressed: role == model.RoleModel,
 ReplyToMsgID: replyTo,
	}
}

func (o *Orchestrator) backfillEmbedding(ctx context.Context, id int64, text string) {
	if text == "" {
 return
	}
	vec, err := o.gateway.Embed(ctx, text)
	if err != nil || len(vec) == 0 {
 return
	}
	if err := o.messages.BackfillEmbedding(ctx, id, vec); err != nil {
 logging.Log.Debug().Err(err).Msg("orchestrator_backfill_embedding_failed")
	}
}
