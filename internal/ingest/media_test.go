package ingest

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/thathunky/gryag/internal/config"
)

type fakeDownloader struct {
	byFileID map[string][]byte
	fail     map[string]bool
}

func (f *fakeDownloader) Download(ctx context.Context, fileID string) ([]byte, string, error) {
	if f.fail[fileID] {
		return nil, "", assertErr
	}
	return f.byFileID[fileID], "", nil
}

var assertErr = bytesErr("simulated download failure")

type bytesErr string

func (e bytesErr) Error() string { return string(e) }

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 255), G: uint8(y % 255), B: 100, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}))
	return buf.Bytes()
}

func defaultIngestCfg() config.IngestConfig {
	return config.IngestConfig{
		MediaMaxRetries:      3,
		MediaMaxInlineBytes:  20 * 1024 * 1024,
		ImageRecompressBytes: 1024 * 1024,
		ImageMaxDimensionPx:  1600,
		ImageJPEGQuality:     80,
	}
}

func TestMediaCollector_CollectsPhotoWithinSizeAsIs(t *testing.T) {
	small := jpegBytes(t, 50, 50)
	d := &fakeDownloader{byFileID: map[string][]byte{"f1": small}}
	mc := NewMediaCollector(d, defaultIngestCfg())

	msg := &tgbotapi.Message{Photo: []tgbotapi.PhotoSize{{FileID: "f1", Width: 50, Height: 50}}}
	items := mc.Collect(context.Background(), []*tgbotapi.Message{msg})
	require.Len(t, items, 1)
	assert.Equal(t, MediaPhoto, items[0].Kind)
	assert.Equal(t, "image/jpeg", items[0].MIMEType)
}

func TestMediaCollector_RecompressesOversizedImage(t *testing.T) {
	big := jpegBytes(t, 2000, 2000)
	cfg := defaultIngestCfg()
	cfg.ImageRecompressBytes = 10 // force recompression path
	d := &fakeDownloader{byFileID: map[string][]byte{"f1": big}}
	mc := NewMediaCollector(d, cfg)

	msg := &tgbotapi.Message{Photo: []tgbotapi.PhotoSize{{FileID: "f1", Width: 2000, Height: 2000}}}
	items := mc.Collect(context.Background(), []*tgbotapi.Message{msg})
	require.Len(t, items, 1)
	assert.Equal(t, "image/jpeg", items[0].MIMEType)
}

func TestMediaCollector_SkipsFailedDownloadSilently(t *testing.T) {
	d := &fakeDownloader{fail: map[string]bool{"f1": true}}
	mc := NewMediaCollector(d, defaultIngestCfg())

	msg := &tgbotapi.Message{Photo: []tgbotapi.PhotoSize{{FileID: "f1"}}}
	items := mc.Collect(context.Background(), []*tgbotapi.Message{msg})
	assert.Empty(t, items)
}

func TestMediaCollector_EnforcesTotalInlineCap(t *testing.T) {
	a := jpegBytes(t, 100, 100)
	b := jpegBytes(t, 100, 100)
	cfg := defaultIngestCfg()
	cfg.MediaMaxInlineBytes = int64(len(a)) // only the first item fits
	d := &fakeDownloader{byFileID: map[string][]byte{"f1": a, "f2": b}}
	mc := NewMediaCollector(d, cfg)

	msg1 := &tgbotapi.Message{Photo: []tgbotapi.PhotoSize{{FileID: "f1"}}}
	msg2 := &tgbotapi.Message{Photo: []tgbotapi.PhotoSize{{FileID: "f2"}}}
	items := mc.Collect(context.Background(), []*tgbotapi.Message{msg1, msg2})
	assert.Len(t, items, 1)
}

func TestMediaCollector_SkipsDocumentWithNonMediaMIME(t *testing.T) {
	d := &fakeDownloader{byFileID: map[string][]byte{"f1": []byte("not used")}}
	mc := NewMediaCollector(d, defaultIngestCfg())

	msg := &tgbotapi.Message{Document: &tgbotapi.Document{FileID: "f1", MimeType: "application/pdf"}}
	items := mc.Collect(context.Background(), []*tgbotapi.Message{msg})
	assert.Empty(t, items)
}
