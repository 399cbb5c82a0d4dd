package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/thathunky/gryag/internal/model"
)

const minPromptLen = 50
const shortPromptWarnLen = 200

// promptScope picks global vs. chat scope from an optional leading
// "global" argument, returning the remaining args and the chatID pointer
// to use (nil for global).
func promptScope(req Request, args []string) (model.PromptScope, *int64, []string) {
	if len(args) > 0 && strings.EqualFold(args[0], "global") {
		return model.PromptScopeGlobal, nil, args[1:]
	}
	chatID := req.ChatID
	return model.PromptScopeChat, &chatID, args
}

func (d *Dispatcher) handlePromptView(ctx context.Context, req Request, args []string) Response {
	scope, chatID, _ := promptScope(req, args)
	p, found, err := d.prompts.ActivePrompt(ctx, scope, chatID)
	if err != nil {
		return Response{Text: "Failed to load the active prompt."}
	}
	if !found {
		return Response{Text: fmt.Sprintf("No custom %s prompt is active.", scope)}
	}
	return Response{Text: fmt.Sprintf("📝 Active %s prompt (v%d):\n%s", scope, p.Version, p.Text)}
}

func (d *Dispatcher) handlePromptEffective(ctx context.Context, req Request, args []string) Response {
	chatID := req.ChatID
	text, source, err := d.prompts.Effective(ctx, &chatID)
	if err != nil {
		return Response{Text: "Failed to resolve the effective prompt."}
	}
	cache := "miss"
	if d.prompts.LastCacheHit() {
		cache = "hit"
	}
	return Response{Text: fmt.Sprintf("📝 Effective prompt (source: %s, cache: %s):\n%s", source, cache, text)}
}

// promptText resolves the text a /gryagsetprompt invocation supplies,
// preferring the command's own arguments, then a replied-to message's
// text, then a replied-to .txt attachment.
func promptText(req Request, args []string) string {
	if joined := strings.TrimSpace(strings.Join(args, " ")); joined != "" {
		return joined
	}
	if strings.TrimSpace(req.ReplyToText) != "" {
		return strings.TrimSpace(req.ReplyToText)
	}
	if len(req.ReplyToDocument) > 0 {
		return strings.TrimSpace(string(req.ReplyToDocument))
	}
	return ""
}

func (d *Dispatcher) handlePromptSet(ctx context.Context, req Request, args []string) Response {
	scope, chatID, rest := promptScope(req, args)
	text := promptText(req, rest)
	if text == "" {
		return Response{Text: "Provide prompt text, reply to a message, or reply to a .txt file."}
	}
	if len(text) < minPromptLen {
		return Response{Text: fmt.Sprintf("Prompt must be at least %d characters (got %d).", minPromptLen, len(text))}
	}

	var userID *int64
	adminID := req.UserID
	userID = &adminID

	p, err := d.prompts.Set(ctx, scope, chatID, userID, text)
	if err != nil {
		return Response{Text: "Failed to set the prompt."}
	}
	resp := Response{Text: fmt.Sprintf("✅ Set %s prompt to v%d.", scope, p.Version)}
	if len(text) < shortPromptWarnLen {
		resp.Text += fmt.Sprintf("\n⚠️ That's fairly short (%d chars) — consider adding more detail.", len(text))
	}
	return resp
}

func (d *Dispatcher) handlePromptReset(ctx context.Context, req Request, args []string) Response {
	scope, chatID, _ := promptScope(req, args)
	deactivated, err := d.prompts.Reset(ctx, scope, chatID)
	if err != nil {
		return Response{Text: "Failed to reset the prompt."}
	}
	if !deactivated {
		return Response{Text: fmt.Sprintf("No custom %s prompt was active.", scope)}
	}
	return Response{Text: fmt.Sprintf("↩️ Reset %s prompt to default resolution.", scope)}
}

func (d *Dispatcher) handlePromptHistory(ctx context.Context, req Request, args []string) Response {
	scope, chatID, _ := promptScope(req, args)
	history, err := d.prompts.History(ctx, scope, chatID, 10)
	if err != nil {
		return Response{Text: "Failed to load prompt history."}
	}
	if len(history) == 0 {
		return Response{Text: fmt.Sprintf("No prompt history for %s scope.", scope)}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "📜 %s prompt history:\n", scope)
	for _, p := range history {
		active := ""
		if p.IsActive {
			active = " (active)"
		}
		fmt.Fprintf(&b, "v%d%s: %.60s\n", p.Version, active, p.Text)
	}
	return Response{Text: b.String()}
}

func (d *Dispatcher) handlePromptActivate(ctx context.Context, req Request, args []string) Response {
	scope, chatID, rest := promptScope(req, args)
	if len(rest) == 0 {
		return Response{Text: "Usage: /gryagactivateprompt [global] <version>"}
	}
	version, ok := parseInt(rest[0])
	if !ok {
		return Response{Text: "That doesn't look like a version number."}
	}
	if err := d.prompts.ActivateVersion(ctx, scope, chatID, int(version)); err != nil {
		return Response{Text: "Failed to activate that version."}
	}
	return Response{Text: fmt.Sprintf("✅ Activated %s prompt v%d.", scope, version)}
}
