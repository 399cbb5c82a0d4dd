package orchestrator

import (
	"context"
	"regexp"
	"strings"

	"github.com/thathunky/gryag/internal/logging"
	"github.com/thathunky/gryag/internal/model"
	"github.com/thathunky/gryag/internal/profile"
)

// chatFactPatterns recognize simple declarative statements worth
// recording as low-confidence chat-level facts from messages the bot was
// never addressed in. This is a lightweight regex heuristic, not an LLM
// extraction pass: addressed messages get the model's full attention via
// the memory tools, but the store-only path can't afford a model call per
// ordinary message, so it only catches a few common shapes.
var chatFactPatterns = []struct {
	category string
	re       *regexp.Regexp
}{
	{"topic", regexp.MustCompile(`(?i)\blet'?s talk about (.{3,60})`)},
	{"topic", regexp.MustCompile(`(?i)\bwe('?re| are) discussing (.{3,60})`)},
	{"event", regexp.MustCompile(`(?i)\b(meetup|event|party|deadline) (?:is|on) (.{3,60})`)},
}

// maybeExtractChatFacts scans a stored, non-addressed message for the
// recognized shapes above and records any match as a chat-owned fact with
// low confidence and evidence_count reinforcement left to AddFact's dedup
// pass, gated behind cfg.Profiles.EnableChatProfiling.
func (o *Orchestrator) maybeExtractChatFacts(ctx context.Context, chatID int64, text string) {
	if !o.cfg.Profiles.EnableChatProfiling || strings.TrimSpace(text) == "" {
		return
	}
	for _, p := range chatFactPatterns {
		m := p.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		value := strings.TrimSpace(m[len(m)-1])
		if value == "" {
			continue
		}
		_, _, err := o.profiles.AddFact(ctx, profile.AddFactInput{
			Owner:      model.FactOwnerChat,
			ProfileID:  chatID,
			Category:   p.category,
			Key:        p.category,
			Value:      value,
			Confidence: 0.3,
			Source:     "chat_heuristic",
			DecayRate:  0.05,
		})
		if err != nil {
			logging.Log.Debug().Err(err).Msg("orchestrator_chat_fact_failed")
		}
		return // one fact per message keeps this cheap and low-noise
	}
}
