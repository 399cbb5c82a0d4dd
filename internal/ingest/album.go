package ingest

import (
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// albumEntry buffers the sibling messages of one media_group_id while the
// first arrival waits for the rest to land.
type albumEntry struct {
	messages  []*tgbotapi.Message
	firstSeen time.Time
	expiresAt time.Time
}

// AlbumCache groups messages sharing a media_group_id within the same
// chat/thread. The first-arriving message of a group should wait up to
// waitFor before collecting media so later siblings are included;
// subsequent arrivals skip the wait and just append. Entries are swept on
// a best-effort interval rather than precisely on expiry.
type AlbumCache struct {
	mu      sync.Mutex
	entries map[string]*albumEntry
	ttl     time.Duration
	waitFor time.Duration
	now     func() time.Time
}

func NewAlbumCache(ttl, waitFor time.Duration) *AlbumCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if waitFor <= 0 {
		waitFor = 1500 * time.Millisecond
	}
	return &AlbumCache{entries: map[string]*albumEntry{}, ttl: ttl, waitFor: waitFor, now: time.Now}
}

func albumKey(chatID int64, threadID *int64, mediaGroupID string) string {
	k := keyOf(chatID, threadIDOrZero(threadID))
	return k + ":" + mediaGroupID
}

func threadIDOrZero(id *int64) int64 {
	if id == nil {
		return 0
	}
	return *id
}

// Add appends msg to its album group, returning the full set of messages
// seen so far plus whether this was the first arrival (caller should wait
// waitFor before collecting media only when isFirst is true).
func (c *AlbumCache) Add(chatID int64, threadID *int64, mediaGroupID string, msg *tgbotapi.Message) (group []*tgbotapi.Message, isFirst bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := albumKey(chatID, threadID, mediaGroupID)
	now := c.now()
	e, ok := c.entries[k]
	if !ok {
		e = &albumEntry{firstSeen: now}
		c.entries[k] = e
		isFirst = true
	}
	e.messages = append(e.messages, msg)
	e.expiresAt = now.Add(c.ttl)
	return append([]*tgbotapi.Message(nil), e.messages...), isFirst
}

func (c *AlbumCache) WaitDuration() time.Duration { return c.waitFor }

// Get returns the messages accumulated so far for a group without adding
// anything, used once the wait/skip decision has already been made.
func (c *AlbumCache) Get(chatID int64, threadID *int64, mediaGroupID string) []*tgbotapi.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[albumKey(chatID, threadID, mediaGroupID)]
	if !ok {
		return nil
	}
	return append([]*tgbotapi.Message(nil), e.messages...)
}

// Sweep removes expired entries; intended to run on a ticker.
func (c *AlbumCache) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}
}
