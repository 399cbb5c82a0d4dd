// Package ingest implements the per-update pipeline: chat admission,
// per-user processing lock, addressing detection, album aggregation, and
// media collection.
package ingest

import "github.com/thathunky/gryag/internal/config"

// ChatFilter decides whether an update from a chat is admitted, per the
// configured mode. Private chats with an admin user are always allowed
// regardless of mode.
type ChatFilter struct {
	cfg config.FilterConfig
}

func NewChatFilter(cfg config.FilterConfig) *ChatFilter {
	return &ChatFilter{cfg: cfg}
}

// Allow reports whether chatID is admitted. isPrivate and isAdmin let the
// private-chat-with-admin bypass apply regardless of mode.
func (f *ChatFilter) Allow(chatID int64, isPrivate, isAdmin bool) bool {
	if isPrivate && isAdmin {
		return true
	}
	switch f.cfg.Mode {
	case config.FilterWhitelist:
		_, ok := f.cfg.AllowedChats[chatID]
		return ok
	case config.FilterBlacklist:
		_, blocked := f.cfg.BlockedChats[chatID]
		return !blocked
	default: // global
		return true
	}
}
