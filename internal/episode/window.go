// Package episode implements the conversation-window tracker, boundary
// detector, and background monitor that turns a chat's message stream into
// discrete episodes, using the codebase's owned-goroutine background-task
// idiom.
package episode

import (
	"sync"
	"time"

	"github.com/thathunky/gryag/internal/model"
)

// WindowKey identifies a conversation window by chat and optional thread.
type WindowKey struct {
	ChatID int64
	ThreadID int64 // 0 when the chat has no thread
}

func keyOf(chatID int64, threadID *int64) WindowKey {
	var t int64
	if threadID != nil {
 t = *threadID
	}
	return WindowKey{ChatID: chatID, ThreadID: t}
}

// ConversationWindow accumulates recent messages for one (chat, thread)
// pair until it's closed into an episode.
type ConversationWindow struct {
	ChatID int64
	ThreadID *int64
	Messages []model.Message
	LastActivity time.Time
	ParticipantIDs map[int64]struct{}
	CreatedAt time.Time
}

func newWindow(chatID int64, threadID *int64, now time.Time) *ConversationWindow {
	return &ConversationWindow{
 ChatID: chatID, ThreadID: threadID,
 ParticipantIDs: map[int64]struct{}{},
 LastActivity: now, CreatedAt: now,
	}
}

func (w *ConversationWindow) add(msg model.Message, now time.Time) {
	w.Messages = append(w.Messages, msg)
	w.LastActivity = now
	if msg.UserID != nil {
 w.ParticipantIDs[*msg.UserID] = struct{}{}
	}
}

// ParticipantList returns the window's participant ids as a slice.
func (w *ConversationWindow) ParticipantList() []int64 {
	out := make([]int64, 0, len(w.ParticipantIDs))
	for id := range w.ParticipantIDs {
 out = append(out, id)
	}
	return out
}

func (w *ConversationWindow) isExpired(now time.Time, timeout time.Duration) bool {
	return now.Sub(w.LastActivity) > timeout
}

func (w *ConversationWindow) hasMinMessages(min int) bool {
	return len(w.Messages) >= min
}

// WindowTracker owns the live set of conversation windows, keyed by
// (chat_id, thread_id), guarded by a single mutex the way the codebase
// guards its in-process caches (internal/ingest.AlbumCache).
type WindowTracker struct {
	mu sync.Mutex
	windows map[WindowKey]*ConversationWindow
	now func() time.Time
}

func NewWindowTracker() *WindowTracker {
	return &WindowTracker{windows: map[WindowKey]*ConversationWindow{}, now: time.Now}
}

// Track appends msg to its window (creating one if needed) and reports
// whether the window has now reached maxMessages, signalling the caller
// to force a boundary check.
func (t *WindowTracker) Track(chatID int64, threadID *int64, msg model.Message, maxMessages int) (full bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := keyOf(chatID, threadID)
	w, ok := t.windows[key]
	if !ok {
 w = newWindow(chatID, threadID, t.now())
 t.windows[key] = w
	}
	w.add(msg, t.now())
	return maxMessages > 0 && len(w.Messages) >= maxMessages
}

// Get returns the window for key, if any.
func (t *WindowTracker) Get(key WindowKey) (*ConversationWindow, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	w, ok := t.windows[key]
	return w, ok
}

// Remove drops a window, e.g. after it's closed into an episode.
func (t *WindowTracker) Remove(key WindowKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.windows, key)
}

// Snapshot returns a point-in-time copy of the active window keys, so the
// monitor loop can iterate without holding the lock across network calls.
func (t *WindowTracker) Snapshot() []WindowKey {
	t.mu.Lock()
	defer t.mu.Unlock()
	keys := make([]WindowKey, 0, len(t.windows))
	for k := range t.windows {
 keys = append(keys, k)
	}
	return keys
}

// Count returns the number of active windows.
func (t *WindowTracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.windows)
}
