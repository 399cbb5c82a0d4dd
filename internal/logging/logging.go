// Package logging configures the process-wide zerolog logger and attaches
// request-scoped fields (chat_id, user_id) to a context-carried logger.
package logging

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// Log is the application-wide logger. Reassigned once by Init at startup.
var Log = zerolog.New(os.Stdout).With().Timestamp().Logger()

// Init configures Log to write JSON to stdout and, when dir is non-empty,
// to a file under dir named for the current UTC date (the file is not
// switched when the date changes). level is parsed with zerolog's
// ParseLevel, falling back to info on error.
func Init(dir, level string) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
 lvl = zerolog.InfoLevel
	}

	var w io.Writer = os.Stdout
	if dir != "" {
 if err := os.MkdirAll(dir, 0o755); err != nil {
 return err
 }
 name := filepath.Join(dir, time.Now().UTC().Format("2006-01-02")+".log")
 f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
 if err != nil {
 return err
 }
 w = io.MultiWriter(os.Stdout, f)
	}

	Log = zerolog.New(w).Level(lvl).With().Timestamp().Caller().Logger()
	return nil
}

type ctxKey struct{}

// WithFields returns a context carrying a logger enriched with the given
// key/value pairs, retrievable with FromContext.
func WithFields(ctx context.Context, kv map[string]any) context.Context {
	l := FromContext(ctx).With().Fields(kv).Logger()
	return context.WithValue(ctx, ctxKey{}, &l)
}

// FromContext returns the logger attached to ctx, or the package-level Log
// if none was attached.
func FromContext(ctx context.Context) *zerolog.Logger {
	if ctx != nil {
 if l, ok := ctx.Value(ctxKey{}).(*zerolog.Logger); ok && l != nil {
 return l
 }
	}
	return &Log
}

// Prune deletes log files under dir older than retentionDays. Best
// effort: remove failures are logged and files whose info cannot be read
// are skipped; nothing is returned.
func Prune(dir string, retentionDays int) {
	if dir == "" || retentionDays <= 0 {
 return
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	entries, err := os.ReadDir(dir)
	if err != nil {
 Log.Warn().Err(err).Str("dir", dir).Msg("log_prune_readdir_failed")
 return
	}
	for _, e := range entries {
 if e.IsDir() {
 continue
 }
 info, err := e.Info()
 if err != nil {
 continue
 }
 if info.ModTime().Before(cutoff) {
 if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
 Log.Warn().Err(err).Str("file", e.Name()).Msg("log_prune_remove_failed")
 }
 }
	}
}
