package episode

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thathunky/gryag/internal/model"
)

func TestWindowTracker_TrackCreatesWindowAndRecordsParticipant(t *testing.T) {
	tr := NewWindowTracker()
	uid := int64(7)
	tr.Track(1, nil, model.Message{ID: 1, UserID: &uid, TS: 100}, 50)

	w, ok := tr.Get(WindowKey{ChatID: 1})
	require.True(t, ok)
	assert.Len(t, w.Messages, 1)
	assert.Contains(t, w.ParticipantList(), int64(7))
}

func TestWindowTracker_TrackReportsFullAtMaxMessages(t *testing.T) {
	tr := NewWindowTracker()
	full := tr.Track(1, nil, model.Message{ID: 1, TS: 100}, 2)
	assert.False(t, full)
	full = tr.Track(1, nil, model.Message{ID: 2, TS: 101}, 2)
	assert.True(t, full)
}

func TestWindowTracker_SeparateThreadsGetSeparateWindows(t *testing.T) {
	tr := NewWindowTracker()
	t1, t2 := int64(10), int64(20)
	tr.Track(1, &t1, model.Message{ID: 1}, 50)
	tr.Track(1, &t2, model.Message{ID: 2}, 50)

	assert.Equal(t, 2, tr.Count())
}

func TestWindowTracker_RemoveDropsWindow(t *testing.T) {
	tr := NewWindowTracker()
	tr.Track(1, nil, model.Message{ID: 1}, 50)
	tr.Remove(WindowKey{ChatID: 1})
	_, ok := tr.Get(WindowKey{ChatID: 1})
	assert.False(t, ok)
}

func TestConversationWindow_IsExpiredAfterTimeout(t *testing.T) {
	tr := NewWindowTracker()
	now := time.Unix(1000, 0)
	tr.now = func() time.Time { return now }
	tr.Track(1, nil, model.Message{ID: 1}, 50)

	w, _ := tr.Get(WindowKey{ChatID: 1})
	assert.False(t, w.isExpired(now.Add(10*time.Second), 30*time.Second))
	assert.True(t, w.isExpired(now.Add(60*time.Second), 30*time.Second))
}
