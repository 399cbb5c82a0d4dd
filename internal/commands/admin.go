package commands

import (
	"context"
	"fmt"

	"github.com/thathunky/gryag/internal/model"
)

func (d *Dispatcher) handleBan(ctx context.Context, req Request, args []string) Response {
	target, name, ok := d.resolveTarget(req, args)
	if !ok {
		return Response{Text: "Reply to (or name) the user to ban."}
	}
	if err := d.profiles.SetMembership(ctx, target, req.ChatID, model.MembershipBanned); err != nil {
		return Response{Text: "Failed to ban that user."}
	}
	return Response{Text: fmt.Sprintf("🔨 Banned %s.", name)}
}

func (d *Dispatcher) handleUnban(ctx context.Context, req Request, args []string) Response {
	target, name, ok := d.resolveTarget(req, args)
	if !ok {
		return Response{Text: "Reply to (or name) the user to unban."}
	}
	if err := d.profiles.SetMembership(ctx, target, req.ChatID, model.MembershipActive); err != nil {
		return Response{Text: "Failed to unban that user."}
	}
	return Response{Text: fmt.Sprintf("✅ Unbanned %s.", name)}
}

// resolveTarget picks the subject of a moderation command: the replied-to
// user, or a bare numeric user ID passed as the first argument.
func (d *Dispatcher) resolveTarget(req Request, args []string) (int64, string, bool) {
	if req.ReplyToUserID != nil {
		name := req.ReplyToDisplayName
		if name == "" {
			name = fmt.Sprintf("ID %d", *req.ReplyToUserID)
		}
		return *req.ReplyToUserID, name, true
	}
	if len(args) > 0 {
		if id, ok := parseInt(args[0]); ok {
			return id, fmt.Sprintf("ID %d", id), true
		}
	}
	return 0, "", false
}

var defaultFeatureList = []string{"message", "weather", "currency", "image", "search"}

func (d *Dispatcher) handleResetQuotas(ctx context.Context, req Request, args []string) Response {
	target, _, ok := d.resolveTarget(req, args)
	if !ok {
		return Response{Text: "Reply to (or name) the user whose quotas to reset."}
	}
	for _, feature := range defaultFeatureList {
		if err := d.limiter.ResetUser(ctx, target, feature); err != nil {
			return Response{Text: "Failed to reset quotas."}
		}
	}
	return Response{Text: fmt.Sprintf("♻️ Reset quotas for user %d.", target)}
}

func (d *Dispatcher) handleChatInfo(ctx context.Context, req Request, args []string) Response {
	counts, err := d.messages.SenderMessageCounts(ctx, req.ChatID)
	if err != nil {
		return Response{Text: "Failed to load chat info."}
	}
	total, err := d.messages.CountByChat(ctx, req.ChatID)
	if err != nil {
		return Response{Text: "Failed to load chat info."}
	}
	return Response{Text: fmt.Sprintf(
		"📊 Chat %d\nStored messages: %d\nDistinct senders: %d", req.ChatID, total, len(counts),
	)}
}
