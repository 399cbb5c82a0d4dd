package ingest

import (
	"context"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/thathunky/gryag/internal/config"
)

// Pipeline runs the full per-update admission/addressing/media sequence:
// chat filter, processing lock, addressing, album aggregation, and media
// collection, independent of persistence and the LLM gateway so it can be
// unit tested in isolation.
type Pipeline struct {
	filter *ChatFilter
	locks *ProcessingLock
	addresser *Addresser
	albums *AlbumCache
	media *MediaCollector
	botUserID int64
}

func NewPipeline(cfg config.Config, botUserID int64, downloader Downloader) *Pipeline {
	return &Pipeline{
 filter: NewChatFilter(cfg.Filter),
 locks: NewProcessingLock(time.Duration(cfg.Limits.ProcessingLockTTLSec) * time.Second),
 addresser: NewAddresser(botUserID, cfg.Auth.BotUsername, cfg.Auth.NameVariants),
 albums: NewAlbumCache(time.Duration(cfg.Ingest.AlbumCacheTTLSeconds)*time.Second, time.Duration(cfg.Ingest.AlbumWaitMS)*time.Millisecond),
 media: NewMediaCollector(downloader, cfg.Ingest),
 botUserID: botUserID,
	}
}

// Decision is the pipeline's verdict for one incoming message.
type Decision struct {
	Admit bool // false: silently dropped by chat filter
	Locked bool // true: dropped, another update for this (chat,user) is in-flight
	Addressed bool
	WaitForAlbum time.Duration // >0 only when this is the first message of a fresh album group
}

// Evaluate runs steps 1-3 (chat filter, processing lock, addressing) and
// reports what the caller should do next. It does not collect media or
// block on album aggregation itself; CollectMedia does that once the
// caller has decided to proceed.
func (p *Pipeline) Evaluate(msg *tgbotapi.Message, isPrivate, isAdmin, isBotOriginated bool) Decision {
	chatID := msg.Chat.ID
	userID := int64(0)
	if msg.From != nil {
 userID = msg.From.ID
	}

	if !p.filter.Allow(chatID, isPrivate, isAdmin) {
 return Decision{Admit: false}
	}

	addressed := p.addresser.IsAddressed(msg)

	if !isBotOriginated && addressed {
 if !p.locks.TryAcquire(chatID, userID) {
 return Decision{Admit: true, Locked: true, Addressed: addressed}
 }
	}

	var wait time.Duration
	if msg.MediaGroupID != "" {
 _, isFirst := p.albums.Add(chatID, threadIDOf(msg), msg.MediaGroupID, msg)
 if isFirst {
 wait = p.albums.WaitDuration()
 }
	}

	return Decision{Admit: true, Addressed: addressed, WaitForAlbum: wait}
}

// Release frees the processing lock once handling of an addressed
// message (and any reply it produced) has finished.
func (p *Pipeline) Release(msg *tgbotapi.Message) {
	userID := int64(0)
	if msg.From != nil {
 userID = msg.From.ID
	}
	p.locks.Release(msg.Chat.ID, userID)
}

// CollectMedia gathers every attachment belonging to msg's album group (or
// just msg itself if it isn't part of one).
func (p *Pipeline) CollectMedia(ctx context.Context, msg *tgbotapi.Message) []MediaItem {
	group := []*tgbotapi.Message{msg}
	if msg.MediaGroupID != "" {
 if g := p.albums.Get(msg.Chat.ID, threadIDOf(msg), msg.MediaGroupID); len(g) > 0 {
 group = g
 }
	}
	return p.media.Collect(ctx, group)
}

func threadIDOf(msg *tgbotapi.Message) *int64 {
	if msg.IsTopicMessage {
 id := int64(msg.MessageThreadID)
 return &id
	}
	return nil
}

// SweepAlbums should be invoked on a ticker to drop expired album cache
// entries; the cache never actively evicts on its own.
func (p *Pipeline) SweepAlbums() { p.albums.Sweep() }
