package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/thathunky/gryag/internal/model"
	"github.com/thathunky/gryag/internal/profile"
)

func (d *Dispatcher) handleBotSelfProfile(ctx context.Context, req Request, args []string) Response {
	facts, err := d.facts.GetFacts(ctx, profile.GetFactsInput{
		Owner: model.FactOwnerBot, ProfileID: req.ChatID, ApplyDecay: true, Limit: 20,
	})
	if err != nil {
		return Response{Text: "Failed to load self-profile."}
	}
	summary, err := d.learning.EffectivenessSummary(ctx, req.ChatID, 0)
	if err != nil {
		return Response{Text: "Failed to load effectiveness summary."}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "🤖 Self-profile for this chat\n")
	fmt.Fprintf(&b, "Interactions: %d (+%d/-%d)\n", summary.TotalInteractions, summary.PositiveInteractions, summary.NegativeInteractions)
	fmt.Fprintf(&b, "Recent effectiveness: %.2f\n", summary.RecentEffectiveness)
	fmt.Fprintf(&b, "Avg response time: %.0fms, avg sentiment: %.2f\n", summary.AvgResponseTimeMs, summary.AvgSentiment)
	fmt.Fprintf(&b, "Learned facts: %d\n", len(facts))
	for _, f := range facts {
		fmt.Fprintf(&b, "- [%s] %s: %s\n", f.Category, f.Key, f.Value)
	}
	return Response{Text: b.String()}
}

func (d *Dispatcher) handleGenerateInsights(ctx context.Context, req Request, args []string) Response {
	chatID := req.ChatID
	insights, err := d.learning.GenerateInsights(ctx, &chatID)
	if err != nil {
		return Response{Text: "Failed to generate insights."}
	}
	if len(insights) == 0 {
		return Response{Text: "No new insights to report."}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "💡 %d insights:\n", len(insights))
	for _, in := range insights {
		marker := ""
		if in.Actionable {
			marker = " (actionable)"
		}
		fmt.Fprintf(&b, "- [%s]%s %s (%.2f)\n", in.Type, marker, in.Text, in.Confidence)
	}
	return Response{Text: b.String()}
}
