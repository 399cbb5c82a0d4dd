package profile

import (
	"context"
	"strings"
	"time"

	"github.com/thathunky/gryag/internal/config"
	"github.com/thathunky/gryag/internal/logging"
	"github.com/thathunky/gryag/internal/model"
	"github.com/thathunky/gryag/internal/persistence"
)

// Generator is the subset of llm.Gateway the summarizer needs to turn a
// profile's facts into a short prose summary.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

// GenerateRequest is the minimal shape the summarizer passes to Generator,
// kept decoupled from llm.GenerateRequest so this package doesn't import
// the gateway just for a struct literal.
type GenerateRequest struct {
	SystemPrompt string
	UserText string
}

// Summarizer runs the cron-like daily profile-summarization background
// task: at SummarizeHourUTC it processes up to
// MaxProfilesPerDay stale profiles, sequentially, pacing 500ms between
// each, feeding grouped facts to an LLM and storing a ≤200-word summary.
// It owns its own background goroutine the same way other periodic
// maintenance loops in this codebase do.
type Summarizer struct {
	store *Store
	facts *persistence.FactStore
	generator Generator
	cfg config.ProfilesConfig
	now func() time.Time

	lastRunDate string
	failures int64
}

func NewSummarizer(store *Store, facts *persistence.FactStore, generator Generator, cfg config.ProfilesConfig) *Summarizer {
	return &Summarizer{store: store, facts: facts, generator: generator, cfg: cfg, now: time.Now}
}

// Failures returns the count of profiles that failed summarization since
// process start, for monitoring.
func (s *Summarizer) Failures() int64 { return s.failures }

// Run blocks, checking once a minute whether it's time to fire the daily
// batch, until ctx is cancelled.
func (s *Summarizer) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
 select {
 case <-ctx.Done():
 return
 case <-ticker.C:
 s.maybeRunOnce(ctx)
 }
	}
}

func (s *Summarizer) maybeRunOnce(ctx context.Context) {
	now := s.now().UTC()
	today := now.Format("2006-01-02")
	if now.Hour() != s.cfg.SummarizeHourUTC || s.lastRunDate == today {
 return
	}
	s.lastRunDate = today
	s.runBatch(ctx)
}

func (s *Summarizer) runBatch(ctx context.Context) {
	profiles, err := s.store.GetProfilesNeedingSummarization(ctx, 24*time.Hour, s.cfg.MaxProfilesPerDay)
	if err != nil {
 logging.Log.Error().Err(err).Msg("profile summarizer: fetch stale profiles failed")
 return
	}
	for _, p := range profiles {
 select {
 case <-ctx.Done():
 return
 default:
 }
 if err := s.summarizeOne(ctx, p); err != nil {
 s.failures++
 logging.Log.Warn().Err(err).Int64("user_id", p.UserID).Int64("chat_id", p.ChatID).
 Msg("profile summarizer: failed, will retry next day")
 }
 time.Sleep(500 * time.Millisecond)
	}
}

func (s *Summarizer) summarizeOne(ctx context.Context, p model.UserProfile) error {
	facts, err := s.store.GetFacts(ctx, GetFactsInput{
 Owner: model.FactOwnerUser,
 ProfileID: p.UserID,
 MinConf: s.cfg.MinConfidence,
 ApplyDecay: true,
 Limit: 50,
	})
	if err != nil {
 return err
	}
	if len(facts) == 0 {
 return nil
	}

	var sb strings.Builder
	for _, f := range facts {
 sb.WriteString("- [" + f.Category + "] " + f.Key + ": " + f.Value + "\n")
	}

	summary, err := s.generator.Generate(ctx, GenerateRequest{
 SystemPrompt: "Summarize this person's known facts in at most 200 words, prose, no bullet points.",
 UserText: sb.String(),
	})
	if err != nil {
 return err
	}
	summary = capWords(summary, 200)

	return s.profilesUpdateSummary(ctx, p.ID, summary)
}

func (s *Summarizer) profilesUpdateSummary(ctx context.Context, profileID int64, summary string) error {
	return s.store.profiles.UpdateSummary(ctx, profileID, summary, s.now().Unix())
}

func capWords(text string, max int) string {
	words := strings.Fields(text)
	if len(words) <= max {
 return text
	}
	return strings.Join(words[:max], " ")
}
