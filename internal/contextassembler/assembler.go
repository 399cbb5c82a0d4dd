// Package contextassembler composes the layered LLM context: Immediate,
// Recent, Relevant, Background, and Episodic layers, each under its own
// token sub-budget, loaded in parallel and cached.
package contextassembler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/thathunky/gryag/internal/config"
	"github.com/thathunky/gryag/internal/llm"
	"github.com/thathunky/gryag/internal/model"
	"github.com/thathunky/gryag/internal/profile"
	"github.com/thathunky/gryag/internal/retrieval"
	"github.com/thathunky/gryag/internal/vecmath"
)

const (
	immediateFraction = 0.20
	recentFraction = 0.30
	relevantFraction = 0.25
	backgroundFraction = 0.15
	episodicFraction = 0.10

	immediateTurns = 5
)

// MessageSource is the subset of persistence.MessageStore the assembler
// needs for the Immediate/Recent layers and reply-to injection.
type MessageSource interface {
	Recent(ctx context.Context, chatID int64, threadID *int64, n int) ([]model.Message, error)
	GetByID(ctx context.Context, chatID, telegramMsgID int64) (model.Message, bool, error)
}

// EpisodeSource is the subset of persistence.EpisodeStore the assembler
// needs for the Episodic layer.
type EpisodeSource interface {
	ByChat(ctx context.Context, chatID int64, minImportance float64, limit int) ([]model.Episode, error)
}

// LayeredContext is the assembled output: a turn list for the generator
// plus a system-context string aggregating Background and Episodic
// content textually.
type LayeredContext struct {
	Turns []llm.Turn
	SystemContext string
	TotalTokens int
	AssemblyLatency time.Duration
	LayerTokens map[string]int
}

// AssembleRequest bundles one assembly call's parameters.
type AssembleRequest struct {
	ChatID int64
	ThreadID *int64
	UserID int64
	QueryText string
	MaxTokens int
	// ReplyToMsgID is the Telegram message id the current message is a
	// reply to, if any. When set, that message is guaranteed a slot in
	// Turns even if the Recent/Relevant layers didn't already surface it.
	ReplyToMsgID *int64
}

// Assembler owns the five layer sources plus the two-tier cache.
type Assembler struct {
	messages MessageSource
	episodes EpisodeSource
	retriever *retrieval.Retriever
	profiles *profile.Store
	cfg config.ContextConfig
	epCfg config.EpisodesConfig
	l1 *lruCache
	l2 *l2Cache
	now func() time.Time
}

// NewL2Cache builds the Redis-backed second-tier cache. Pass a nil client
// to run with the L1 in-process cache only.
func NewL2Cache(client redis.UniversalClient, ttl time.Duration) *l2Cache {
	return newL2Cache(client, ttl)
}

func NewAssembler(messages MessageSource, episodes EpisodeSource, retriever *retrieval.Retriever,
	profiles *profile.Store, cfg config.ContextConfig, epCfg config.EpisodesConfig, l2 *l2Cache) *Assembler {
	return &Assembler{
 messages: messages, episodes: episodes, retriever: retriever, profiles: profiles,
 cfg: cfg, epCfg: epCfg,
 l1: newLRUCache(cfg.L1CacheSize, time.Duration(cfg.CacheTTLMinSeconds)*time.Second, time.Duration(cfg.CacheTTLMaxSeconds)*time.Second),
 l2: l2,
 now: time.Now,
	}
}

func threadKey(threadID *int64) int64 {
	if threadID == nil {
 return 0
	}
	return *threadID
}

// Assemble loads all five layers (cache permitting) and returns the
// composed LayeredContext. Immediate is never omitted; the others are
// silently skipped if their dependency errors.
func (a *Assembler) Assemble(ctx context.Context, req AssembleRequest) (LayeredContext, error) {
	start := a.now()
	key := cacheKey{ChatID: req.ChatID, ThreadID: threadKey(req.ThreadID)}

	if lc, ok := a.l1.Get(key); ok {
 return lc, nil
	}
	if a.l2 != nil {
 if lc, ok := a.l2.Get(ctx, key); ok {
 a.l1.Set(key, lc)
 return lc, nil
 }
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
 maxTokens = 8000
	}
	charsPerToken := a.cfg.CharsPerToken

	var (
 wg sync.WaitGroup
 immediate, recent []model.Message
 relevant []retrieval.Result
 facts []model.Fact
 summary string
 episodes []model.Episode
 immediateTok, recentTok, relevantTok int
 backgroundTok, episodicTok int
	)

	wg.Add(1)
	go func() {
 defer wg.Done()
 immediate, recent, immediateTok, recentTok = a.loadConversation(ctx, req, maxTokens, charsPerToken)
	}()

	if a.retriever != nil {
 wg.Add(1)
 go func() {
 defer wg.Done()
 relevant, relevantTok = a.loadRelevant(ctx, req, maxTokens, charsPerToken)
 }()
	}

	if a.profiles != nil {
 wg.Add(1)
 go func() {
 defer wg.Done()
 facts, summary, backgroundTok = a.loadBackground(ctx, req, maxTokens, charsPerToken)
 }()
	}

	if a.episodes != nil && a.epCfg.Enabled {
 wg.Add(1)
 go func() {
 defer wg.Done()
 episodes, episodicTok = a.loadEpisodic(ctx, req, maxTokens, charsPerToken)
 }()
	}

	wg.Wait()

	turns := make([]llm.Turn, 0, len(immediate)+len(recent)+len(relevant))
	seen := map[int64]struct{}{}
	for _, m := range recent {
 turns = append(turns, messageTurn(m))
 seen[m.ID] = struct{}{}
	}
	for _, m := range immediate {
 if _, ok := seen[m.ID]; ok {
 continue
 }
 turns = append(turns, messageTurn(m))
 seen[m.ID] = struct{}{}
	}
	for _, r := range relevant {
 if _, ok := seen[r.Message.ID]; ok {
 continue
 }
 turns = append(turns, messageTurn(r.Message))
 seen[r.Message.ID] = struct{}{}
	}

	if req.ReplyToMsgID != nil {
		if rm, ok, err := a.messages.GetByID(ctx, req.ChatID, *req.ReplyToMsgID); err == nil && ok {
			if _, dup := seen[rm.ID]; !dup {
				turns = append([]llm.Turn{messageTurn(rm)}, turns...)
				seen[rm.ID] = struct{}{}
			}
		}
	}

	systemContext := buildSystemContext(facts, summary, episodes)

	lc := LayeredContext{
 Turns: turns,
 SystemContext: systemContext,
 TotalTokens: immediateTok + recentTok + relevantTok + backgroundTok + episodicTok,
 AssemblyLatency: a.now().Sub(start),
 LayerTokens: map[string]int{
 "immediate": immediateTok, "recent": recentTok, "relevant": relevantTok,
 "background": backgroundTok, "episodic": episodicTok,
 },
	}

	a.l1.Set(key, lc)
	if a.l2 != nil {
 a.l2.Set(ctx, key, lc)
	}
	return lc, nil
}

func (a *Assembler) loadConversation(ctx context.Context, req AssembleRequest, maxTokens int, charsPerToken float64) (immediate, recent []model.Message, immediateTok, recentTok int) {
	immediateBudget := int(float64(maxTokens) * immediateFraction)
	recentBudget := int(float64(maxTokens) * recentFraction)

	all, err := a.messages.Recent(ctx, req.ChatID, req.ThreadID, immediateTurns+50)
	if err != nil || len(all) == 0 {
 return nil, nil, 0, 0
	}

	splitAt := len(all)
	if splitAt > immediateTurns {
 splitAt = len(all) - immediateTurns
	} else {
 splitAt = 0
	}
	recentCandidates := all[:splitAt]
	immediateCandidates := all[splitAt:]

	immediate, immediateTok = truncateToBudget(immediateCandidates, immediateBudget, charsPerToken, false)
	recent, recentTok = truncateToBudget(recentCandidates, recentBudget, charsPerToken, true)
	return immediate, recent, immediateTok, recentTok
}

// truncateToBudget keeps messages while they fit the token budget. When
// fromEnd is true (Recent layer), it keeps the most recent messages first
// by scanning backward; Immediate keeps everything (it's never omitted)
// but still reports the token count so a caller could detect overflow.
func truncateToBudget(msgs []model.Message, budget int, charsPerToken float64, fromEnd bool) ([]model.Message, int) {
	if len(msgs) == 0 {
 return nil, 0
	}
	if fromEnd {
 var kept []model.Message
 total := 0
 for i := len(msgs) - 1; i >= 0; i-- {
 t := vecmath.EstimateTokens(msgs[i].Text, charsPerToken)
 if total+t > budget && len(kept) > 0 {
 break
 }
 kept = append([]model.Message{msgs[i]}, kept...)
 total += t
 }
 return kept, total
	}
	total := 0
	for _, m := range msgs {
 total += vecmath.EstimateTokens(m.Text, charsPerToken)
	}
	return msgs, total
}

func (a *Assembler) loadRelevant(ctx context.Context, req AssembleRequest, maxTokens int, charsPerToken float64) ([]retrieval.Result, int) {
	budget := int(float64(maxTokens) * relevantFraction)
	results, err := a.retriever.Search(ctx, retrieval.Request{
 QueryText: req.QueryText, ChatID: req.ChatID, ThreadID: req.ThreadID, Limit: 20,
	})
	if err != nil {
 return nil, 0
	}
	var kept []retrieval.Result
	total := 0
	for _, r := range results {
 t := vecmath.EstimateTokens(r.Message.Text, charsPerToken)
 if total+t > budget && len(kept) > 0 {
 break
 }
 kept = append(kept, r)
 total += t
	}
	return kept, total
}

func (a *Assembler) loadBackground(ctx context.Context, req AssembleRequest, maxTokens int, charsPerToken float64) ([]model.Fact, string, int) {
	budget := int(float64(maxTokens) * backgroundFraction)

	var summary string
	if prof, ok, err := a.profiles.GetProfile(ctx, req.UserID, req.ChatID); err == nil && ok {
 summary = prof.Summary
	}
	total := vecmath.EstimateTokens(summary, charsPerToken)

	userFacts, err := a.profiles.GetFacts(ctx, profile.GetFactsInput{
 Owner: model.FactOwnerUser, ProfileID: req.UserID, ApplyDecay: true, Limit: 20,
	})
	if err != nil {
 userFacts = nil
	}
	chatFacts, err := a.profiles.GetFacts(ctx, profile.GetFactsInput{
 Owner: model.FactOwnerChat, ProfileID: req.ChatID, ApplyDecay: true, Limit: 20,
	})
	if err != nil {
 chatFacts = nil
	}

	var kept []model.Fact
	for _, f := range append(userFacts, chatFacts...) {
 t := vecmath.EstimateTokens(f.Value, charsPerToken)
 if total+t > budget && len(kept) > 0 {
 break
 }
 kept = append(kept, f)
 total += t
	}
	return kept, summary, total
}

func (a *Assembler) loadEpisodic(ctx context.Context, req AssembleRequest, maxTokens int, charsPerToken float64) ([]model.Episode, int) {
	budget := int(float64(maxTokens) * episodicFraction)
	eps, err := a.episodes.ByChat(ctx, req.ChatID, 0, 10)
	if err != nil {
 return nil, 0
	}
	var kept []model.Episode
	total := 0
	for _, e := range eps {
 if !participates(e, req.UserID) {
 continue
 }
 t := vecmath.EstimateTokens(e.Summary, charsPerToken)
 if total+t > budget && len(kept) > 0 {
 break
 }
 kept = append(kept, e)
 total += t
	}
	return kept, total
}

func participates(e model.Episode, userID int64) bool {
	if userID == 0 {
 return true
	}
	for _, id := range e.ParticipantIDs {
 if id == userID {
 return true
 }
	}
	return false
}

func messageTurn(m model.Message) llm.Turn {
	role := "user"
	if m.Role == model.RoleModel {
 role = "model"
	}
	return llm.Turn{Role: role, Parts: []llm.Part{{Text: m.Text}}}
}

func buildSystemContext(facts []model.Fact, summary string, episodes []model.Episode) string {
	var sb strings.Builder
	if summary != "" {
 sb.WriteString("User summary: ")
 sb.WriteString(summary)
 sb.WriteString("\n")
	}
	if len(facts) > 0 {
 sb.WriteString("Known facts:\n")
 for _, f := range facts {
 sb.WriteString(fmt.Sprintf("- [%s] %s: %s\n", f.Category, f.Key, f.Value))
 }
	}
	if len(episodes) > 0 {
 sb.WriteString("Relevant past episodes:\n")
 for _, e := range episodes {
 sb.WriteString("- " + e.Topic + ": " + e.Summary + "\n")
 }
	}
	return sb.String()
}
