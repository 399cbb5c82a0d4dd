package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

func TestAlbumCache_FirstArrivalReportsIsFirstAndSubsequentDont(t *testing.T) {
	c := NewAlbumCache(30*time.Second, 1500*time.Millisecond)
	chat := int64(1)
	m1 := &tgbotapi.Message{MessageID: 1}
	m2 := &tgbotapi.Message{MessageID: 2}

	group, isFirst := c.Add(chat, nil, "g1", m1)
	require.True(t, isFirst)
	assert.Len(t, group, 1)

	group, isFirst = c.Add(chat, nil, "g1", m2)
	assert.False(t, isFirst)
	assert.Len(t, group, 2)
}

func TestAlbumCache_DifferentGroupsAreIndependent(t *testing.T) {
	c := NewAlbumCache(30*time.Second, 1500*time.Millisecond)
	_, isFirst1 := c.Add(1, nil, "g1", &tgbotapi.Message{MessageID: 1})
	_, isFirst2 := c.Add(1, nil, "g2", &tgbotapi.Message{MessageID: 2})
	assert.True(t, isFirst1)
	assert.True(t, isFirst2)
}

func TestAlbumCache_Get_ReturnsAccumulatedGroupWithoutMutating(t *testing.T) {
	c := NewAlbumCache(30*time.Second, 1500*time.Millisecond)
	c.Add(1, nil, "g1", &tgbotapi.Message{MessageID: 1})
	c.Add(1, nil, "g1", &tgbotapi.Message{MessageID: 2})

	got := c.Get(1, nil, "g1")
	assert.Len(t, got, 2)
	got2 := c.Get(1, nil, "g1")
	assert.Len(t, got2, 2)
}

func TestAlbumCache_Sweep_RemovesExpiredEntries(t *testing.T) {
	c := NewAlbumCache(30*time.Second, 1500*time.Millisecond)
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }
	c.Add(1, nil, "g1", &tgbotapi.Message{MessageID: 1})

	now = now.Add(31 * time.Second)
	c.Sweep()

	assert.Empty(t, c.Get(1, nil, "g1"))
}
