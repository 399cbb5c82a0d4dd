package botlearning

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/thathunky/gryag/internal/llm"
	"github.com/thathunky/gryag/internal/model"
	"github.com/thathunky/gryag/internal/profile"
)

// Generator is the subset of llm.Gateway the engine needs for the
// self-reflection insight pass.
type Generator interface {
	Generate(ctx context.Context, req llm.GenerateRequest, callbacks map[string]llm.ToolCallback) (llm.GenerateResult, error)
}

// InsightStore is the subset of persistence.InsightStore the engine
// needs to persist generated insights.
type InsightStore interface {
	Insert(ctx context.Context, in model.Insight) (int64, error)
}

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

type insightPayload struct {
	Insights []struct {
 Type string `json:"type"`
 Text string `json:"text"`
 Confidence float64 `json:"confidence"`
 Actionable bool `json:"actionable"`
 SupportingFacts []string `json:"supporting_facts"`
	} `json:"insights"`
}

// GenerateInsights prompts the model to reflect on the accumulated bot
// facts and recent effectiveness summary, parses the returned JSON, and
// stores each insight. Returns an empty slice, not an error, when insight
// generation is disabled or no generator is wired.
func (e *Engine) GenerateInsights(ctx context.Context, chatID *int64) ([]model.Insight, error) {
	if !e.cfg.EnableInsights || e.generator == nil || e.insights == nil {
 return nil, nil
	}
	scopeID := int64(0)
	if chatID != nil {
 scopeID = *chatID
	}
	summary, err := e.EffectivenessSummary(ctx, scopeID, e.cfg.InsightWindowDays)
	if err != nil {
 return nil, err
	}

	factLimit := e.cfg.MaxFactsInPrompt
	if factLimit <= 0 {
 factLimit = 30
	}
	facts, err := e.facts.GetFacts(ctx, profile.GetFactsInput{
 Owner: model.FactOwnerBot, ProfileID: scopeID, MinConf: 0.6, Limit: factLimit,
	})
	if err != nil {
 return nil, err
	}

	prompt := buildInsightPrompt(summary, facts, e.cfg.InsightWindowDays)
	result, err := e.generator.Generate(ctx, llm.GenerateRequest{
 SystemPrompt: "You are analyzing your own bot performance data. Be honest and objective.",
 UserParts: []llm.Part{{Text: prompt}},
	}, nil)
	if err != nil {
 return nil, err
	}

	payload, err := parseInsightPayload(result.Text)
	if err != nil {
 return nil, nil //nolint:nilerr
	}

	now := e.now().Unix()
	out := make([]model.Insight, 0, len(payload.Insights))
	for _, raw := range payload.Insights {
 in := model.Insight{
 ChatID: chatID,
 Type: model.InsightType(firstNonEmptyStr(raw.Type, string(model.InsightImprovementSuggest))),
 Text: raw.Text,
 Confidence: raw.Confidence,
 Actionable: raw.Actionable,
 SupportingFact: raw.SupportingFacts,
 CreatedAt: now,
 }
 id, err := e.insights.Insert(ctx, in)
 if err != nil {
 return out, err
 }
 in.ID = id
 out = append(out, in)
	}
	return out, nil
}

func firstNonEmptyStr(vals ...string) string {
	for _, v := range vals {
 if v != "" {
 return v
 }
	}
	return ""
}

func buildInsightPrompt(summary Summary, facts []model.Fact, days int) string {
	var factLines strings.Builder
	for _, f := range facts {
 fmt.Fprintf(&factLines, "- [%s] %s: %s (confidence: %.2f, evidence: %d)\n",
 f.Category, f.Key, f.Value, f.Confidence, f.EvidenceCount)
	}

	return fmt.Sprintf(`Analyze your own performance and learning patterns as a bot.

## Your Statistics (last %d days)
- Total interactions: %d
- Positive: %d
- Negative: %d
- Recent effectiveness: %.2f%%
- Avg response time: %.0fms
- Avg sentiment: %.2f

## Facts You've Learned About Yourself
%s

## Task
Generate 3-5 actionable insights about:
1. What communication patterns work best
2. Knowledge gaps or areas of struggle
3. Temporal patterns (time of day, response speed)
4. Tool usage effectiveness
5. Opportunities for improvement

Return JSON:
{
 "insights": [
 {
 "type": "effectiveness_trend|communication_pattern|knowledge_gap|temporal_insight|improvement_suggestion",
 "text": "Brief insight description",
 "confidence": 0.0-1.0,
 "actionable": true|false,
 "supporting_facts": ["fact_key1", "fact_key2"]
 }
 ]
}`, days, summary.TotalInteractions, summary.PositiveInteractions, summary.NegativeInteractions,
 summary.RecentEffectiveness*100, summary.AvgResponseTimeMs, summary.AvgSentiment, factLines.String())
}

// parseInsightPayload strips an optional markdown code fence before
// decoding, since models often wrap JSON replies in one.
func parseInsightPayload(text string) (insightPayload, error) {
	text = strings.TrimSpace(text)
	if m := fencedJSON.FindStringSubmatch(text); m != nil {
 text = m[1]
	}
	var payload insightPayload
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
 return insightPayload{}, err
	}
	return payload, nil
}
