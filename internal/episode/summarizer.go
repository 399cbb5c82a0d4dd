package episode

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/thathunky/gryag/internal/llm"
)

// Generator is the subset of llm.Gateway the monitor needs for the
// optional LLM-generated episode summary.
type Generator interface {
	Generate(ctx context.Context, req llm.GenerateRequest, callbacks map[string]llm.ToolCallback) (llm.GenerateResult, error)
}

var episodeFencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

type episodePayload struct {
	Topic   string   `json:"topic"`
	Summary string   `json:"summary"`
	Valence string   `json:"valence"`
	Tags    []string `json:"tags"`
}

// rateGate throttles LLM summarization calls to a fixed number per
// rolling minute, reset lazily on the next call past the window.
type rateGate struct {
	perMin int
	count  int
	windowStart time.Time
	now func() time.Time
}

func newRateGate(perMin int, now func() time.Time) *rateGate {
	return &rateGate{perMin: perMin, now: now}
}

func (g *rateGate) allow() bool {
	if g.perMin <= 0 {
		return false
	}
	now := g.now()
	if now.Sub(g.windowStart) >= time.Minute {
		g.windowStart = now
		g.count = 0
	}
	if g.count >= g.perMin {
		return false
	}
	g.count++
	return true
}

// generateLLMEpisode asks the model for a topic/summary/valence/tags
// quadruple for a closed window, falling back to the heuristic
// generators on any failure. ok is false whenever the LLM path wasn't
// used or didn't parse, so the caller can fall back transparently.
func generateLLMEpisode(ctx context.Context, w *ConversationWindow, gen Generator) (topic, summary string, valence string, tags []string, ok bool) {
	if gen == nil {
		return "", "", "", nil, false
	}
	result, err := gen.Generate(ctx, llm.GenerateRequest{
		SystemPrompt: "Summarize this conversation excerpt concisely. Respond with JSON only.",
		UserParts:    []llm.Part{{Text: buildEpisodePrompt(w)}},
	}, nil)
	if err != nil {
		return "", "", "", nil, false
	}
	payload, err := parseEpisodePayload(result.Text)
	if err != nil || payload.Summary == "" {
		return "", "", "", nil, false
	}
	return payload.Topic, payload.Summary, payload.Valence, payload.Tags, true
}

func buildEpisodePrompt(w *ConversationWindow) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Conversation (%d messages, %d participants):\n", len(w.Messages), len(w.ParticipantIDs))
	for _, m := range w.Messages {
		fmt.Fprintf(&b, "- %s: %s\n", m.Role, truncateText(m.Text, 200))
	}
	b.WriteString(`
Return JSON:
{
  "topic": "short topic phrase",
  "summary": "2-3 sentence summary",
  "valence": "positive|negative|neutral|mixed",
  "tags": ["tag1", "tag2"]
}`)
	return b.String()
}

func truncateText(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func parseEpisodePayload(text string) (episodePayload, error) {
	text = strings.TrimSpace(text)
	if m := episodeFencedJSON.FindStringSubmatch(text); m != nil {
		text = m[1]
	}
	var payload episodePayload
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return episodePayload{}, err
	}
	return payload, nil
}
