package commands

import (
	"context"
	"fmt"
	"time"
)

const chatResetConfirmAction = "chatreset"
const chatResetConfirmTTL = 60 * time.Second

func (d *Dispatcher) handleChatMemoryView(ctx context.Context, req Request, args []string) Response {
	total, err := d.messages.CountByChat(ctx, req.ChatID)
	if err != nil {
		return Response{Text: "Failed to load chat memory."}
	}
	counts, err := d.messages.SenderMessageCounts(ctx, req.ChatID)
	if err != nil {
		return Response{Text: "Failed to load chat memory."}
	}
	return Response{Text: fmt.Sprintf(
		"🗂️ This chat has %d stored messages from %d distinct senders.", total, len(counts),
	)}
}

// handleChatMemoryReset is the two-step "/gryagchatreset" flow: the first
// invocation stages a confirmation that expires after 60s, the second
// (within the window) wipes every stored message for the chat.
func (d *Dispatcher) handleChatMemoryReset(ctx context.Context, req Request, args []string) Response {
	if _, pending := d.checkConfirm(req, chatResetConfirmAction, chatResetConfirmTTL); pending {
		n, err := d.messages.DeleteByChat(ctx, req.ChatID)
		if err != nil {
			return Response{Text: "Failed to reset chat memory."}
		}
		return Response{Text: fmt.Sprintf("🧹 Wiped %d stored messages for this chat.", n)}
	}
	d.requestConfirm(req, chatResetConfirmAction, req.ChatID, chatResetConfirmTTL)
	return Response{Text: "Repeat the command within 60s to confirm wiping this chat's message memory."}
}
