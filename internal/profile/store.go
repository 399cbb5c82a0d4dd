// Package profile implements the fact/profile business logic (semantic
// dedup, confidence reinforcement, decay-aware querying) on top of the
// plain persistence.FactStore/ProfileStore row stores, the way the
// teacher keeps scoring/decision logic out of its postgres_*.go storage
// layer and in a dedicated internal/rag service.
package profile

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/thathunky/gryag/internal/config"
	"github.com/thathunky/gryag/internal/model"
	"github.com/thathunky/gryag/internal/persistence"
	"github.com/thathunky/gryag/internal/vecmath"
)

// Embedder is the subset of llm.Gateway a Store needs to compute fact
// embeddings for semantic dedup.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type Store struct {
	facts *persistence.FactStore
	profiles *persistence.ProfileStore
	embedder Embedder
	cfg config.ProfilesConfig
	now func() time.Time
}

func NewStore(facts *persistence.FactStore, profiles *persistence.ProfileStore, embedder Embedder, cfg config.ProfilesConfig) *Store {
	return &Store{facts: facts, profiles: profiles, embedder: embedder, cfg: cfg, now: time.Now}
}

func encodeEmbedding(v []float32) string {
	if len(v) == 0 {
 return ""
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func decodeEmbedding(s string) []float32 {
	if s == "" {
 return nil
	}
	var v []float32
	_ = json.Unmarshal([]byte(s), &v)
	return v
}

// AddFactInput bundles add_fact's parameters.
type AddFactInput struct {
	Owner model.FactOwnerKind
	ProfileID int64
	Category string
	Key string
	Value string
	Confidence float64
	Source string
	Tags []string
	DecayRate float64
}

// AddFact computes an embedding (when dedup is enabled and an embedder is
// set), runs semantic dedup against the owner's active facts in the
// same category, and either reinforces the closest match (cosine ≥
// DedupThreshold) or inserts a brand-new fact. Returns the resulting fact
// and whether an existing fact was reinforced rather than inserted.
func (s *Store) AddFact(ctx context.Context, in AddFactInput) (model.Fact, bool, error) {
	nowTS := s.now().Unix()

	var embedding []float32
	if s.embedder != nil && s.cfg.EnableDedup {
 vec, err := s.embedder.Embed(ctx, in.Key+": "+in.Value)
 if err == nil {
 embedding = vec
 }
	}

	if s.cfg.EnableDedup && len(embedding) > 0 {
 existing, err := s.facts.ActiveByCategory(ctx, in.Owner, in.ProfileID, in.Category)
 if err != nil {
 return model.Fact{}, false, err
 }
 best := model.Fact{}
 bestSim := 0.0
 for _, f := range existing {
 sim := vecmath.Cosine(embedding, decodeEmbedding(f.EmbeddingJSON))
 if sim > bestSim {
 bestSim = sim
 best = f
 }
 }
 if bestSim >= s.cfg.DedupThreshold && best.ID != 0 {
 newConf := vecmath.Reinforce(best.Confidence, in.Confidence)
 replace := newConf > best.Confidence
 value := best.Value
 if replace {
 value = in.Value
 }
 if err := s.facts.Reinforce(ctx, best.ID, newConf, value, replace, nowTS); err != nil {
 return model.Fact{}, false, err
 }
 best.Confidence = newConf
 best.EvidenceCount++
 best.Value = value
 best.LastReinforced = nowTS
 return best, true, nil
 }
	}

	f := model.Fact{
 OwnerKind: in.Owner,
 ProfileID: in.ProfileID,
 Category: in.Category,
 Key: in.Key,
 Value: in.Value,
 Confidence: in.Confidence,
 EvidenceCount: 1,
 SourceType: in.Source,
 ContextTags: in.Tags,
 EmbeddingJSON: encodeEmbedding(embedding),
 DecayRate: in.DecayRate,
 LastReinforced: nowTS,
 IsActive: true,
 CreatedAt: nowTS,
 UpdatedAt: nowTS,
	}
	id, err := s.facts.Insert(ctx, f)
	if err != nil {
 return model.Fact{}, false, err
	}
	f.ID = id
	return f, false, nil
}

// GetFactsInput bundles get_facts's parameters.
type GetFactsInput struct {
	Owner model.FactOwnerKind
	ProfileID int64 // matched exactly; 0 selects facts stored under profile id 0
	Category string
	MinConf float64
	Tags []string
	ApplyDecay bool
	Limit int
}

// GetFacts fetches active facts, applies temporal decay (unless
// disabled), re-filters by MinConf, optionally keeps only facts whose tag
// set intersects the requested tags, then sorts by effective confidence
// desc with evidence_count as the tie-break.
func (s *Store) GetFacts(ctx context.Context, in GetFactsInput) ([]model.Fact, error) {
	facts, err := s.facts.Query(ctx, in.Owner, in.ProfileID, in.Category)
	if err != nil {
 return nil, err
	}
	nowTS := s.now().Unix()

	var out []model.Fact
	eff := make(map[int64]float64, len(facts))
	for _, f := range facts {
 effConf := f.Confidence
 if in.ApplyDecay && s.cfg.EnableDecay {
 ageDays := float64(nowTS-f.LastReinforced) / 86400
 if ageDays < 0 {
 ageDays = 0
 }
 effConf = vecmath.EffectiveConfidence(f.Confidence, f.DecayRate, ageDays)
 }
 if effConf < in.MinConf {
 continue
 }
 if len(in.Tags) > 0 && !tagsIntersect(f.ContextTags, in.Tags) {
 continue
 }
 eff[f.ID] = effConf
 out = append(out, f)
	}

	sort.SliceStable(out, func(i, j int) bool {
 if eff[out[i].ID] != eff[out[j].ID] {
 return eff[out[i].ID] > eff[out[j].ID]
 }
 return out[i].EvidenceCount > out[j].EvidenceCount
	})

	if in.Limit > 0 && len(out) > in.Limit {
 out = out[:in.Limit]
	}
	return out, nil
}

func tagsIntersect(have, want []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, t := range have {
 set[t] = struct{}{}
	}
	for _, t := range want {
 if _, ok := set[t]; ok {
 return true
 }
	}
	return false
}

func (s *Store) GetProfile(ctx context.Context, userID, chatID int64) (model.UserProfile, bool, error) {
	return s.profiles.Get(ctx, userID, chatID)
}

// EnsureProfile fetches or creates the (userID, chatID) profile row, for
// the orchestrator's per-message "touch" step.
func (s *Store) EnsureProfile(ctx context.Context, userID, chatID int64, displayName, username string) (model.UserProfile, error) {
	return s.profiles.GetOrCreate(ctx, userID, chatID, displayName, username, s.now().Unix())
}

// TouchProfile bumps interaction_count/last_seen and refreshes the
// display name/username on an existing profile.
func (s *Store) TouchProfile(ctx context.Context, userID, chatID int64, displayName, username string) error {
	return s.profiles.Touch(ctx, userID, chatID, displayName, username, s.now().Unix())
}

// SetMembership updates a user's membership status for a chat (ban/unban
// admin commands).
func (s *Store) SetMembership(ctx context.Context, userID, chatID int64, status model.MembershipStatus) error {
	return s.profiles.SetMembership(ctx, userID, chatID, status, s.now().Unix())
}

func (s *Store) ClearUserFacts(ctx context.Context, userID int64) error {
	return s.facts.ClearOwner(ctx, model.FactOwnerUser, userID)
}

func (s *Store) DeleteFact(ctx context.Context, id int64) error {
	return s.facts.Delete(ctx, id)
}

func (s *Store) GetProfilesNeedingSummarization(ctx context.Context, staleAfter time.Duration, limit int) ([]model.UserProfile, error) {
	cutoff := s.now().Add(-staleAfter).Unix()
	return s.profiles.GetProfilesNeedingSummarization(ctx, cutoff, limit)
}

// UpdateProfileSummary stores a freshly generated profile summary,
// bumping its version (background summarizer loop).
func (s *Store) UpdateProfileSummary(ctx context.Context, profileID int64, summary string) error {
	return s.profiles.UpdateSummary(ctx, profileID, summary, s.now().Unix())
}
