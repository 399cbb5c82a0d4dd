package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/thathunky/gryag/internal/model"
	"github.com/thathunky/gryag/internal/profile"
)

const forgetConfirmAction = "forget"
const forgetConfirmTTL = 30 * time.Second

func (d *Dispatcher) handleProfile(ctx context.Context, req Request, args []string) Response {
	target, _, ok := d.resolveTarget(req, args)
	if !ok {
		return Response{Text: "Reply to (or name) the user whose profile to show."}
	}
	p, found, err := d.profiles.GetProfile(ctx, target, req.ChatID)
	if err != nil {
		return Response{Text: "Failed to load profile."}
	}
	if !found {
		return Response{Text: "No profile on record for that user."}
	}
	summary := p.Summary
	if summary == "" {
		summary = "(no summary yet)"
	}
	return Response{Text: fmt.Sprintf(
		"👤 %s\nMembership: %s\nInteractions: %d\nSummary: %s",
		p.DisplayName, p.Membership, p.InteractionCount, summary,
	)}
}

func (d *Dispatcher) handleFacts(ctx context.Context, req Request, args []string) Response {
	target, _, ok := d.resolveTarget(req, args)
	if !ok {
		return Response{Text: "Reply to (or name) the user whose facts to show."}
	}
	facts, err := d.facts.GetFacts(ctx, profile.GetFactsInput{
		Owner: model.FactOwnerUser, ProfileID: target, ApplyDecay: true, Limit: 20,
	})
	if err != nil {
		return Response{Text: "Failed to load facts."}
	}
	if len(facts) == 0 {
		return Response{Text: "No facts on record for that user."}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "🧠 %d facts:\n", len(facts))
	for _, f := range facts {
		fmt.Fprintf(&b, "#%d [%s] %s: %s (%.2f)\n", f.ID, f.Category, f.Key, f.Value, f.Confidence)
	}
	return Response{Text: b.String()}
}

func (d *Dispatcher) handleRemoveFact(ctx context.Context, req Request, args []string) Response {
	if len(args) == 0 {
		return Response{Text: "Usage: /gryagremovefact <fact_id>"}
	}
	id, ok := parseInt(args[0])
	if !ok {
		return Response{Text: "That doesn't look like a fact ID."}
	}
	if err := d.facts.DeleteFact(ctx, id); err != nil {
		return Response{Text: "Failed to delete that fact."}
	}
	return Response{Text: fmt.Sprintf("🗑️ Deleted fact #%d.", id)}
}

// handleForgetUser implements the two-step "/gryagforget" flow: the first
// invocation stages a confirmation that expires after 30s, the second
// (within the window) actually clears the target's facts.
func (d *Dispatcher) handleForgetUser(ctx context.Context, req Request, args []string) Response {
	target, name, ok := d.resolveTarget(req, args)
	if !ok {
		return Response{Text: "Reply to (or name) the user whose facts to forget."}
	}
	if confirmed, pending := d.checkConfirm(req, forgetConfirmAction, forgetConfirmTTL); pending && confirmed == target {
		if err := d.facts.ClearUserFacts(ctx, target); err != nil {
			return Response{Text: "Failed to forget that user's facts."}
		}
		return Response{Text: fmt.Sprintf("🧹 Forgot all facts for %s.", name)}
	}
	d.requestConfirm(req, forgetConfirmAction, target, forgetConfirmTTL)
	return Response{Text: fmt.Sprintf("Repeat the command within 30s to confirm forgetting %s's facts.", name)}
}

func (d *Dispatcher) handleExportProfile(ctx context.Context, req Request, args []string) Response {
	target, _, ok := d.resolveTarget(req, args)
	if !ok {
		return Response{Text: "Reply to (or name) the user whose profile to export."}
	}
	facts, err := d.facts.GetFacts(ctx, profile.GetFactsInput{Owner: model.FactOwnerUser, ProfileID: target})
	if err != nil {
		return Response{Text: "Failed to export facts."}
	}
	data, err := factsToJSON(facts)
	if err != nil {
		return Response{Text: "Failed to serialize facts."}
	}
	return Response{
		Text:     fmt.Sprintf("📤 Exported %d facts for user %d.", len(facts), target),
		Document: &Document{Filename: fmt.Sprintf("facts_%d.json", target), Bytes: data},
	}
}

func (d *Dispatcher) handleListMembers(ctx context.Context, req Request, args []string) Response {
	counts, err := d.messages.SenderMessageCounts(ctx, req.ChatID)
	if err != nil {
		return Response{Text: "Failed to list members."}
	}
	if len(counts) == 0 {
		return Response{Text: "No tracked members in this chat yet."}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "👥 %d tracked members:\n", len(counts))
	for uid, n := range counts {
		fmt.Fprintf(&b, "ID %d: %d messages\n", uid, n)
	}
	return Response{Text: b.String()}
}
