package ingest

import (
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Addresser decides whether an incoming message is addressed to the bot:
// a reply to one of its own messages, an explicit @mention/text_mention
// entity, or a fuzzy match against a configured set of name variants.
type Addresser struct {
	botUserID    int64
	botUsername  string // without "@"
	nameVariants []string
}

func NewAddresser(botUserID int64, botUsername string, nameVariants []string) *Addresser {
	lower := make([]string, len(nameVariants))
	for i, v := range nameVariants {
		lower[i] = strings.ToLower(strings.TrimSpace(v))
	}
	return &Addresser{
		botUserID:    botUserID,
		botUsername:  strings.ToLower(strings.TrimPrefix(botUsername, "@")),
		nameVariants: lower,
	}
}

func (a *Addresser) IsAddressed(msg *tgbotapi.Message) bool {
	if msg == nil {
		return false
	}
	if msg.ReplyToMessage != nil && msg.ReplyToMessage.From != nil && msg.ReplyToMessage.From.ID == a.botUserID {
		return true
	}
	if a.hasMentionEntity(msg) {
		return true
	}
	return a.fuzzyNameMatch(msg.Text)
}

func (a *Addresser) hasMentionEntity(msg *tgbotapi.Message) bool {
	for _, e := range msg.Entities {
		switch e.Type {
		case "text_mention":
			if e.User != nil && e.User.ID == a.botUserID {
				return true
			}
		case "mention":
			if a.botUsername == "" {
				continue
			}
			start, end := e.Offset, e.Offset+e.Length
			runes := []rune(msg.Text)
			if start < 0 || end > len(runes) || start >= end {
				continue
			}
			mention := strings.ToLower(strings.TrimPrefix(string(runes[start:end]), "@"))
			if mention == a.botUsername {
				return true
			}
		}
	}
	return false
}

// fuzzyNameMatch does a whitespace/punctuation-tolerant substring match
// against the configured name variants, since addressing a bot in casual
// chat rarely respects word boundaries precisely ("гряг глянь сюди").
func (a *Addresser) fuzzyNameMatch(text string) bool {
	if text == "" || len(a.nameVariants) == 0 {
		return false
	}
	lower := strings.ToLower(text)
	for _, v := range a.nameVariants {
		if v == "" {
			continue
		}
		if strings.Contains(lower, v) {
			return true
		}
	}
	return false
}
