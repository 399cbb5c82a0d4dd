package orchestrator

import (
	"context"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/thathunky/gryag/internal/botlearning"
	"github.com/thathunky/gryag/internal/commands"
	"github.com/thathunky/gryag/internal/contextassembler"
	"github.com/thathunky/gryag/internal/llm"
	"github.com/thathunky/gryag/internal/logging"
	"github.com/thathunky/gryag/internal/model"
	"github.com/thathunky/gryag/internal/tools"
)

// processAddressed runs the addressed-message branch: command
// dispatch first, then reaction detection, rate limiting, context assembly,
// generation, persistence, and the self-learning bridges. The caller is
// responsible for lock release (immediate or delayed-album path).
func (o *Orchestrator) processAddressed(ctx context.Context, msg *tgbotapi.Message, isPrivate, isAdmin bool) (*Reply, error) {
	chatID := msg.Chat.ID
	var userID int64
	if msg.From != nil {
 userID = msg.From.ID
	}
	text := messageTextOf(msg)

	if commands.IsCommand(text) {
 req := commands.Request{
 Text: text, ChatID: chatID, UserID: userID, IsAdmin: isAdmin, Now: o.now(),
 }
 o.fillReplyContext(&req, msg)
 if resp, ok := o.dispatch.Dispatch(ctx, req); ok {
 return &Reply{ChatID: chatID, ThreadID: threadIDOf(msg), Text: resp.Text, Document: resp.Document}, nil
 }
	}

	o.detectReaction(ctx, chatID, userID, text)

	decision, err := o.limiter.CheckAndIncrement(ctx, userID, "message", o.cfg.Limits.PerUserPerHour)
	if err != nil {
 logging.Log.Warn().Err(err).Msg("orchestrator_ratelimit_check_failed")
	}
	if err == nil && !decision.Allowed {
 if notify, nerr := o.limiter.ShouldNotify(ctx, userID, "message"); nerr == nil && notify {
 return &Reply{ChatID: chatID, ThreadID: threadIDOf(msg), Text: rateLimitNoticeText}, nil
 }
 return nil, nil
	}

	in := o.toStoredMessage(msg, model.RoleUser)
	msgID, err := o.messages.Append(ctx, in)
	if err != nil {
 logging.Log.Warn().Err(err).Msg("orchestrator_append_failed")
 return nil, err
	}
	in.ID = msgID
	o.backfillEmbedding(ctx, msgID, in.Text)
	createdBefore := o.monitor.CreatedCount()
	o.monitor.TrackMessage(ctx, chatID, threadIDOf(msg), in)

	genCtx, cancel := context.WithTimeout(ctx, generateTimeout)
	defer cancel()

	layered, err := o.assembler.Assemble(genCtx, contextassembler.AssembleRequest{
 ChatID: chatID, ThreadID: threadIDOf(msg), UserID: userID, QueryText: text,
 MaxTokens: o.cfg.Context.TokenBudget, ReplyToMsgID: in.ReplyToMsgID,
	})
	if err != nil {
 logging.Log.Warn().Err(err).Msg("orchestrator_assemble_failed")
	}

	systemPrompt, _, err := o.promptMgr.Effective(genCtx, &chatID)
	if err != nil {
 logging.Log.Warn().Err(err).Msg("orchestrator_effective_prompt_failed")
	}
	if layered.SystemContext != "" {
 systemPrompt = systemPrompt + "\n\n" + layered.SystemContext
	}

	var toolsUsed []string
	callbacks := o.wrappedCallbacks(userID, &toolsUsed)

	start := o.now()
	result, genErr := o.gateway.Generate(genCtx, llm.GenerateRequest{
 SystemPrompt: systemPrompt,
 History: layered.Turns,
 UserParts: []llm.Part{{Text: text}},
 Tools: tools.Declarations(),
	}, callbacks)
	elapsed := o.now().Sub(start)

	if genErr != nil {
 logging.Log.Warn().Err(genErr).Msg("orchestrator_generate_failed")
 o.recordOutcome(ctx, chatID, threadIDOf(msg), msgID, elapsed, toolsUsed, nil)
 return &Reply{ChatID: chatID, ThreadID: threadIDOf(msg), Text: failureReplyText}, nil
	}

	replyMsg := model.Message{
 ChatID: chatID, ThreadID: threadIDOf(msg), Role: model.RoleModel, Text: result.Text,
 TS: o.now().Unix(), Addressed: true, ReplyToMsgID: &msgID,
	}
	replyID, err := o.messages.Append(ctx, replyMsg)
	if err != nil {
 logging.Log.Warn().Err(err).Msg("orchestrator_persist_reply_failed")
	} else {
 o.backfillEmbedding(ctx, replyID, result.Text)
	}

	var episodeID *int64
	if created := o.monitor.CreatedCount(); created > createdBefore {
 episodeID = o.learnFromNewEpisode(ctx, chatID)
	}

	o.recordOutcome(ctx, chatID, threadIDOf(msg), replyID, elapsed, toolsUsed, episodeID)
	o.rememberPendingReply(chatID, userID, result.Text, toolsUsed)

	return &Reply{ChatID: chatID, ThreadID: threadIDOf(msg), Text: result.Text}, nil
}

func (o *Orchestrator) fillReplyContext(req *commands.Request, msg *tgbotapi.Message) {
	if msg.ReplyToMessage == nil {
 return
	}
	r := msg.ReplyToMessage
	if r.From != nil {
 id := r.From.ID
 req.ReplyToUserID = &id
 req.ReplyToDisplayName = displayNameOf(r.From)
	}
	req.ReplyToText = messageTextOf(r)
	if r.Document != nil && o.downloader != nil && strings.HasSuffix(strings.ToLower(r.Document.FileName), ".txt") {
 data, _, err := o.downloader.Download(context.Background(), r.Document.FileID)
 if err != nil {
 logging.Log.Debug().Err(err).Msg("orchestrator_reply_document_download_failed")
 return
 }
 req.ReplyToDocument = data
	}
}

// wrappedCallbacks delegates to memTools.Callbacks but records each
// invoked tool's name, since llm.Gateway.Generate doesn't expose which
// tools ran.
func (o *Orchestrator) wrappedCallbacks(userID int64, used *[]string) map[string]llm.ToolCallback {
	inner := o.memTools.Callbacks(userID)
	out := make(map[string]llm.ToolCallback, len(inner))
	for name, cb := range inner {
 name, cb := name, cb
 out[name] = func(ctx context.Context, args map[string]any) (string, error) {
 *used = append(*used, name)
 return cb(ctx, args)
 }
	}
	return out
}

func (o *Orchestrator) recordOutcome(ctx context.Context, chatID int64, threadID *int64, messageID int64, elapsed time.Duration, toolsUsed []string, episodeID *int64) {
	_, err := o.learning.RecordResponse(ctx, botlearning.ResponseInput{
 BotProfileID: chatID,
 ChatID: chatID,
 ThreadID: threadID,
 MessageID: messageID,
 ResponseTimeMs: elapsed.Milliseconds(),
 ToolsUsed: toolsUsed,
 EpisodeID: episodeID,
	})
	if err != nil {
 logging.Log.Debug().Err(err).Msg("orchestrator_record_response_failed")
	}
}

func (o *Orchestrator) learnFromNewEpisode(ctx context.Context, chatID int64) *int64 {
	episodes, err := o.episodesR.ByChat(ctx, chatID, 0, 1)
	if err != nil || len(episodes) == 0 {
 return nil
	}
	ep := episodes[0]
	if err := o.learning.LearnFromEpisode(ctx, chatID, ep.Summary, ep.Importance, ep.Valence); err != nil {
 logging.Log.Debug().Err(err).Msg("orchestrator_learn_from_episode_failed")
	}
	id := ep.ID
	return &id
}

func (o *Orchestrator) rememberPendingReply(chatID, userID int64, text string, toolsUsed []string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pending[pendingKey(chatID, userID)] = pendingReply{text: text, toolsUsed: toolsUsed, ts: o.now()}
}

// detectReaction consults the pending-reply map for a bot reply this user
// hasn't yet reacted to, and feeds it to the learning engine's sentiment
// pass when the new message arrives within the reaction window.
func (o *Orchestrator) detectReaction(ctx context.Context, chatID, userID int64, text string) {
	timeout := time.Duration(o.cfg.Limits.ReactionTimeoutSec) * time.Second
	if timeout <= 0 {
 timeout = 300 * time.Second
	}

	o.mu.Lock()
	key := pendingKey(chatID, userID)
	pr, ok := o.pending[key]
	if ok {
 delete(o.pending, key)
	}
	o.mu.Unlock()

	if !ok || o.now().Sub(pr.ts) > timeout {
 return
	}

	_, err := o.learning.RecordUserReaction(ctx, botlearning.ReactionInput{
 BotProfileID: chatID,
 ChatID: chatID,
 UserMessageText: text,
 PreviousResponseText: pr.text,
 ReactionDelaySeconds: int64(o.now().Sub(pr.ts).Seconds()),
	})
	if err != nil {
 logging.Log.Debug().Err(err).Msg("orchestrator_record_reaction_failed")
	}

	for _, tool := range pr.toolsUsed {
 if err := o.learning.LearnFromToolUsage(ctx, tool, text, chatID, true, nil); err != nil {
 logging.Log.Debug().Err(err).Msg("orchestrator_learn_tool_usage_failed")
 }
	}
}
