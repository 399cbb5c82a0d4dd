// Package retrieval implements hybrid (semantic + keyword) search over the
// message log with temporal decay, sender-importance, and addressed-to-bot
// boosts, fusing FTS and vector candidate lists into one ranked result set.
package retrieval

import (
	"context"
	"math"
	"time"

	"github.com/thathunky/gryag/internal/config"
	"github.com/thathunky/gryag/internal/model"
	"github.com/thathunky/gryag/internal/persistence"
)

// Embedder is the subset of llm.Gateway that Retriever needs.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// MessageSearcher is the subset of persistence.MessageStore that Retriever
// needs, narrowed to an interface so tests can inject a fake store without
// a live database.
type MessageSearcher interface {
	SemanticSearch(ctx context.Context, chatID int64, threadID *int64, queryVec []float32, k, maxCandidates int) ([]persistence.ScoredMessage, error)
	FTSSearch(ctx context.Context, chatID int64, threadID *int64, tokens []string, k int) ([]persistence.ScoredMessage, error)
	SenderMessageCounts(ctx context.Context, chatID int64) (map[int64]int64, error)
}

// Result is one ranked message with its component and final scores.
type Result struct {
	Message model.Message
	SemanticScore float64
	KeywordScore float64
	Base float64
	TemporalFactor float64
	ImportanceF float64
	TypeBoost float64
	Final float64
}

// Request bundles a hybrid search call's parameters.
type Request struct {
	QueryText string
	ChatID int64
	ThreadID *int64
	Limit int
	TimeRangeDays int // 0 = unbounded
}

type Retriever struct {
	messages MessageSearcher
	embedder Embedder
	cfg config.ContextConfig
	weights *weightCache
	now func() time.Time
}

func NewRetriever(messages MessageSearcher, embedder Embedder, cfg config.ContextConfig) *Retriever {
	return &Retriever{
 messages: messages,
 embedder: embedder,
 cfg: cfg,
 weights: newWeightCache(5 * time.Minute),
 now: time.Now,
	}
}

// Search runs semantic and keyword retrieval (both, when embedding
// succeeds), merges by message ID, scores with the formula, and
// returns the top Limit results sorted by Final descending.
func (r *Retriever) Search(ctx context.Context, req Request) ([]Result, error) {
	limit := req.Limit
	if limit <= 0 {
 limit = 10
	}

	semantic := map[int64]persistence.ScoredMessage{}
	if r.embedder != nil && req.QueryText != "" {
 vec, err := r.embedder.Embed(ctx, req.QueryText)
 if err == nil && len(vec) > 0 {
 candidates, serr := r.messages.SemanticSearch(ctx, req.ChatID, req.ThreadID, vec, limit*4, r.cfg.MaxSearchCandidates)
 if serr == nil {
 for _, c := range candidates {
 semantic[c.Message.ID] = c
 }
 }
 }
	}

	keyword := map[int64]persistence.ScoredMessage{}
	tokens := Tokenize(req.QueryText)
	if len(tokens) > 0 {
 candidates, err := r.messages.FTSSearch(ctx, req.ChatID, req.ThreadID, tokens, limit*4)
 if err == nil {
 for _, c := range candidates {
 keyword[c.Message.ID] = c
 }
 }
	}

	if len(semantic) == 0 && len(keyword) == 0 {
 return nil, nil
	}

	weights, err := r.senderWeights(ctx, req.ChatID)
	if err != nil {
 weights = map[int64]float64{}
	}

	semW, kwW := r.cfg.SemanticWeight, r.cfg.KeywordWeight
	if semW+kwW == 0 {
 semW, kwW = 0.6, 0.4
	}
	halfLife := r.cfg.TemporalHalfLifeDays
	if halfLife <= 0 {
 halfLife = 7
	}

	seen := map[int64]struct{}{}
	var out []Result
	nowUnix := r.now().Unix()
	cutoff := int64(0)
	if req.TimeRangeDays > 0 {
 cutoff = nowUnix - int64(req.TimeRangeDays)*86400
	}

	merge := func(id int64, msg model.Message) {
 if _, ok := seen[id]; ok {
 return
 }
 seen[id] = struct{}{}
 if cutoff > 0 && msg.TS < cutoff {
 return
 }
 sem := semantic[id].Score
 kw := keyword[id].Score

 // fallback: hybrid disabled (no keyword weight) means semantic only
 var base float64
 if kwW == 0 {
 base = sem
 } else {
 base = (semW*sem + kwW*kw) / (semW + kwW)
 }

 ageDays := float64(nowUnix-msg.TS) / 86400
 if ageDays < 0 {
 ageDays = 0
 }
 temporalF := math.Exp(-ageDays / halfLife)

 importanceF := 1.0
 if msg.UserID != nil {
 if w, ok := weights[*msg.UserID]; ok {
 importanceF = w
 }
 }

 typeBoost := 1.0
 if msg.Addressed {
 typeBoost = 1.5
 }

 final := base * math.Pow(temporalF, r.cfg.TemporalWeight) * importanceF * typeBoost
 if final <= r.cfg.RelevanceThreshold {
 return
 }

 out = append(out, Result{
 Message: msg, SemanticScore: sem, KeywordScore: kw,
 Base: base, TemporalFactor: temporalF, ImportanceF: importanceF,
 TypeBoost: typeBoost, Final: final,
 })
	}

	for id, sm := range semantic {
 merge(id, sm.Message)
	}
	for id, sm := range keyword {
 merge(id, sm.Message)
	}

	stableSortResults(out)
	if len(out) > limit {
 out = out[:limit]
	}
	return out, nil
}

func (r *Retriever) senderWeights(ctx context.Context, chatID int64) (map[int64]float64, error) {
	if w, ok := r.weights.get(chatID); ok {
 return w, nil
	}
	counts, err := r.messages.SenderMessageCounts(ctx, chatID)
	if err != nil {
 return nil, err
	}
	w := importanceWeights(counts)
	r.weights.set(chatID, w)
	return w, nil
}
