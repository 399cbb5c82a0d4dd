package ingest

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/image/draw"

	"github.com/thathunky/gryag/internal/config"
	"github.com/thathunky/gryag/internal/logging"
)

// MediaKind enumerates the supported Telegram attachment kinds.
type MediaKind string

const (
	MediaPhoto MediaKind = "photo"
	MediaSticker MediaKind = "sticker"
	MediaVoice MediaKind = "voice"
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
	MediaVideoNote MediaKind = "video_note"
	MediaAnimation MediaKind = "animation"
	MediaDocument MediaKind = "document"
)

// MediaItem is one downloaded, validated attachment, ready to be embedded
// in a message's MediaJSON payload.
type MediaItem struct {
	Kind MediaKind `json:"kind"`
	MIMEType string `json:"mime_type"`
	DataB64 string `json:"data_b64"`
}

// magic-byte signatures for containers Telegram routinely sends, checked
// only when net/http.DetectContentType reports application/octet-stream
// (it already maps Ogg to application/ogg and WebP to image/webp).
var magicTable = []struct {
	sig []byte
	mime string
}{
	{[]byte("OggS"), "audio/ogg"}, // voice notes (opus-in-ogg)
	{[]byte("RIFF"), "image/webp"}, // stickers (webp container; refined below)
}

func sniffMIME(data []byte) string {
	if len(data) == 0 {
 return ""
	}
	if mt := http.DetectContentType(data); mt != "application/octet-stream" {
 return mt
	}
	for _, m := range magicTable {
 if bytes.HasPrefix(data, m.sig) {
 if m.mime == "image/webp" && len(data) >= 12 && string(data[8:12]) != "WEBP" {
 continue
 }
 return m.mime
 }
	}
	return ""
}

// Downloader fetches Telegram file bytes by file ID, abstracted so tests
// can supply a fake without a live bot token / network.
type Downloader interface {
	Download(ctx context.Context, fileID string) (data []byte, mimeHint string, err error)
}

// BotDownloader downloads via the live Bot API (GetFile + HTTP GET on the
// resulting file path).
type BotDownloader struct {
	Bot *tgbotapi.BotAPI
	HTTP *http.Client
}

func NewBotDownloader(bot *tgbotapi.BotAPI) *BotDownloader {
	return &BotDownloader{Bot: bot, HTTP: http.DefaultClient}
}

func (d *BotDownloader) Download(ctx context.Context, fileID string) ([]byte, string, error) {
	file, err := d.Bot.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
 return nil, "", fmt.Errorf("get file: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, file.Link(d.Bot.Token), nil)
	if err != nil {
 return nil, "", err
	}
	resp, err := d.HTTP.Do(req)
	if err != nil {
 return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
 return nil, "", fmt.Errorf("download file: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
 return nil, "", err
	}
	return data, "", nil
}

// MediaCollector downloads, validates, and (for oversized images) recompresses
// the attachments of a message, skipping individually-failing items
// silently.
type MediaCollector struct {
	downloader Downloader
	cfg config.IngestConfig
}

func NewMediaCollector(d Downloader, cfg config.IngestConfig) *MediaCollector {
	return &MediaCollector{downloader: d, cfg: cfg}
}

type fileRef struct {
	kind MediaKind
	fileID string
}

// Collect gathers every supported attachment across a (possibly
// multi-message, for albums) set of messages, enforcing the total inline
// payload cap.
func (c *MediaCollector) Collect(ctx context.Context, msgs []*tgbotapi.Message) []MediaItem {
	var refs []fileRef
	for _, m := range msgs {
 refs = append(refs, fileRefsOf(m)...)
	}

	var items []MediaItem
	var total int64
	for _, r := range refs {
 data, err := c.downloadWithRetry(ctx, r.fileID)
 if err != nil {
 logging.Log.Warn().Err(err).Str("kind", string(r.kind)).Msg("media_download_failed_skipping")
 continue
 }
 mime := sniffMIME(data)
 if mime == "" {
 logging.Log.Warn().Str("kind", string(r.kind)).Msg("media_signature_invalid_skipping")
 continue
 }
 if r.kind == MediaPhoto && (int64(len(data)) > c.cfg.ImageRecompressBytes) {
 if recompressed, rerr := recompressJPEG(data, c.cfg.ImageMaxDimensionPx, c.cfg.ImageJPEGQuality); rerr == nil {
 data = recompressed
 mime = "image/jpeg"
 }
 }
 if total+int64(len(data)) > c.cfg.MediaMaxInlineBytes {
 logging.Log.Warn().Int64("total_bytes", total).Msg("media_inline_payload_cap_exceeded")
 break
 }
 total += int64(len(data))
 items = append(items, MediaItem{Kind: r.kind, MIMEType: mime, DataB64: base64.StdEncoding.EncodeToString(data)})
	}
	return items
}

func (c *MediaCollector) downloadWithRetry(ctx context.Context, fileID string) ([]byte, error) {
	var data []byte
	err := retry.Do(
 func() error {
 d, _, err := c.downloader.Download(ctx, fileID)
 if err != nil {
 return err
 }
 data = d
 return nil
 },
 retry.Context(ctx),
 retry.Attempts(uint(maxInt(c.cfg.MediaMaxRetries, 1))),
 retry.Delay(500*time.Millisecond),
 retry.DelayType(retry.BackOffDelay),
	)
	return data, err
}

func fileRefsOf(m *tgbotapi.Message) []fileRef {
	var refs []fileRef
	if len(m.Photo) > 0 {
 // largest available size is last in the slice
 refs = append(refs, fileRef{MediaPhoto, m.Photo[len(m.Photo)-1].FileID})
	}
	if m.Sticker != nil {
 refs = append(refs, fileRef{MediaSticker, m.Sticker.FileID})
	}
	if m.Voice != nil {
 refs = append(refs, fileRef{MediaVoice, m.Voice.FileID})
	}
	if m.Audio != nil {
 refs = append(refs, fileRef{MediaAudio, m.Audio.FileID})
	}
	if m.Video != nil {
 refs = append(refs, fileRef{MediaVideo, m.Video.FileID})
	}
	if m.VideoNote != nil {
 refs = append(refs, fileRef{MediaVideoNote, m.VideoNote.FileID})
	}
	if m.Animation != nil {
 refs = append(refs, fileRef{MediaAnimation, m.Animation.FileID})
	}
	if m.Document != nil && isMediaMIME(m.Document.MimeType) {
 refs = append(refs, fileRef{MediaDocument, m.Document.FileID})
	}
	return refs
}

func isMediaMIME(mime string) bool {
	return len(mime) > 6 && (mime[:6] == "image/" || mime[:6] == "video/" || mime[:6] == "audio/")
}

// recompressJPEG resizes to fit within maxDim (preserving aspect) and
// re-encodes at the given JPEG quality.
func recompressJPEG(data []byte, maxDim, quality int) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
 return nil, err
	}
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w > maxDim || h > maxDim {
 scale := float64(maxDim) / float64(maxInt(w, h))
 w = int(float64(w) * scale)
 h = int(float64(h) * scale)
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: quality}); err != nil {
 return nil, err
	}
	return buf.Bytes(), nil
}

func maxInt(a, b int) int {
	if a > b {
 return a
	}
	return b
}
