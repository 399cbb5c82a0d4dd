package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/thathunky/gryag/internal/llm"
	"github.com/thathunky/gryag/internal/logging"
	"github.com/thathunky/gryag/internal/model"
	"github.com/thathunky/gryag/internal/profile"
)

// Pruner is the subset of persistence.MessageStore the retention loop
// needs.
type Pruner interface {
	PruneOlderThan(ctx context.Context, cutoffTS int64, batchSize int) (int64, error)
}

// Vacuumer reclaims storage after a batch of deletes; the postgres pool
// satisfies this directly via its Exec method.
type Vacuumer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// SetPruner wires the daily retention sweep; left unset, retention is
// skipped.
func (o *Orchestrator) SetPruner(p Pruner) *Orchestrator {
	o.pruner = p
	return o
}

// SetVacuumer wires a post-prune VACUUM, run only after a sweep actually
// deleted rows. Optional: retention still works without it.
func (o *Orchestrator) SetVacuumer(v Vacuumer) *Orchestrator {
	o.vacuumer = v
	return o
}

// Start launches every background loop the orchestrator owns: the episode
// monitor's periodic boundary check, an album-cache sweep, the hourly
// profile-summarization check, and a daily message-retention sweep, each
// in its own owned goroutine. Stop cancels every loop and waits for them
// to exit.
func (o *Orchestrator) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	o.wg.Add(1)
	go func() {
 defer o.wg.Done()
 o.monitor.Run(runCtx)
	}()

	o.wg.Add(1)
	go func() {
 defer o.wg.Done()
 o.runAlbumSweep(runCtx)
	}()

	o.wg.Add(1)
	go func() {
 defer o.wg.Done()
 o.runProfileSummarizer(runCtx)
	}()

	if o.pruner != nil {
 o.wg.Add(1)
 go func() {
 defer o.wg.Done()
 o.runRetention(runCtx)
 }()
	}
}

// Stop cancels every background loop started by Start and blocks until
// they've all returned.
func (o *Orchestrator) Stop() {
	if o.cancel != nil {
 o.cancel()
	}
	o.wg.Wait()
}

func (o *Orchestrator) runAlbumSweep(ctx context.Context) {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()
	for {
 select {
 case <-ctx.Done():
 return
 case <-ticker.C:
 o.pipeline.SweepAlbums()
 }
	}
}

// runProfileSummarizer wakes once an hour and, at the configured UTC
// hour, regenerates summaries for every profile the store reports as
// stale, capped at MaxProfilesPerDay.
func (o *Orchestrator) runProfileSummarizer(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	lastRunDate := ""
	for {
 select {
 case <-ctx.Done():
 return
 case <-ticker.C:
 now := o.now().UTC()
 today := now.Format("2006-01-02")
 if now.Hour() != o.cfg.Profiles.SummarizeHourUTC || lastRunDate == today {
 continue
 }
 lastRunDate = today
 o.summarizeStaleProfiles(ctx)
 }
	}
}

func (o *Orchestrator) summarizeStaleProfiles(ctx context.Context) {
	limit := o.cfg.Profiles.MaxProfilesPerDay
	if limit <= 0 {
 limit = 50
	}
	profiles, err := o.profiles.GetProfilesNeedingSummarization(ctx, 24*time.Hour, limit)
	if err != nil {
 logging.Log.Warn().Err(err).Msg("orchestrator_profile_summarization_query_failed")
 return
	}
	for _, p := range profiles {
 if err := o.summarizeProfile(ctx, p); err != nil {
 logging.Log.Warn().Err(err).Int64("user_id", p.UserID).Msg("orchestrator_profile_summarization_failed")
 }
	}
}

func (o *Orchestrator) summarizeProfile(ctx context.Context, p model.UserProfile) error {
	facts, err := o.profiles.GetFacts(ctx, profile.GetFactsInput{
 Owner: model.FactOwnerUser, ProfileID: p.UserID, ApplyDecay: true, MinConf: 0.3, Limit: 30,
	})
	if err != nil {
 return err
	}
	if len(facts) == 0 {
 return nil
	}
	prompt := buildSummaryPrompt(p, facts)
	result, err := o.gateway.Generate(ctx, llm.GenerateRequest{
 SystemPrompt: "Summarize this person's profile in 2-3 concise sentences based on the facts provided.",
 UserParts: []llm.Part{{Text: prompt}},
	}, nil)
	if err != nil {
 return err
	}
	return o.profiles.UpdateProfileSummary(ctx, p.ID, strings.TrimSpace(result.Text))
}

func buildSummaryPrompt(p model.UserProfile, facts []model.Fact) string {
	var b strings.Builder
	fmt.Fprintf(&b, "User: %s\n\nFacts:\n", p.DisplayName)
	for _, f := range facts {
 fmt.Fprintf(&b, "- [%s] %s: %s\n", f.Category, f.Key, f.Value)
	}
	return b.String()
}

func (o *Orchestrator) runRetention(ctx context.Context) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
 select {
 case <-ctx.Done():
 return
 case <-ticker.C:
 o.pruneOldMessages(ctx)
 }
	}
}

// pruneOldMessages deletes messages older than RetentionDays in one batch
// and, only when rows were actually removed, reclaims the freed space with
// a VACUUM. A prune failure and a vacuum failure are both worth surfacing,
// so they're collected into a single aggregated error rather than one
// masking the other.
func (o *Orchestrator) pruneOldMessages(ctx context.Context) {
	days := o.cfg.Operational.RetentionDays
	if days <= 0 {
 return
	}
	cutoff := o.now().AddDate(0, 0, -days).Unix()

	var errs *multierror.Error
	n, err := o.pruner.PruneOlderThan(ctx, cutoff, 500)
	if err != nil {
 errs = multierror.Append(errs, err)
	}
	if n > 0 && o.vacuumer != nil {
 if _, vacErr := o.vacuumer.Exec(ctx, `VACUUM (ANALYZE) messages`); vacErr != nil {
 errs = multierror.Append(errs, vacErr)
 }
	}
	if err := errs.ErrorOrNil(); err != nil {
 logging.Log.Warn().Err(err).Msg("orchestrator_retention_sweep_failed")
 return
	}
	if n > 0 {
 logging.Log.Info().Int64("deleted", n).Msg("orchestrator_retention_pruned")
	}
}
