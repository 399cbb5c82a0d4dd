package episode

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/thathunky/gryag/internal/config"
	"github.com/thathunky/gryag/internal/logging"
	"github.com/thathunky/gryag/internal/model"
)

// EpisodeInserter is the subset of persistence.EpisodeStore the monitor
// needs to close a window into an episode.
type EpisodeInserter interface {
	Insert(ctx context.Context, e model.Episode) (int64, error)
}

// Monitor ties a WindowTracker and Detector to episode creation: messages
// are tracked as they're ingested, and a single background goroutine
// periodically checks windows for expiry or boundaries, matching owned-background-task idiom.
type Monitor struct {
	tracker *WindowTracker
	detector *Detector
	episodes EpisodeInserter
	cfg config.EpisodesConfig
	now func() time.Time

	generator Generator
	rate *rateGate

	created int64
}

func NewMonitor(tracker *WindowTracker, detector *Detector, episodes EpisodeInserter, cfg config.EpisodesConfig) *Monitor {
	return &Monitor{tracker: tracker, detector: detector, episodes: episodes, cfg: cfg, now: time.Now}
}

// WithGenerator wires the LLM path for episode summarization, gated on
// EpisodesConfig.UseLLMSummarization and throttled to
// SummarizationRatePerMin calls per rolling minute. Left unset, or when
// UseLLMSummarization is false, every episode uses the heuristic
// topic/summary generators instead.
func (m *Monitor) WithGenerator(gen Generator) *Monitor {
	m.generator = gen
	m.rate = newRateGate(m.cfg.SummarizationRatePerMin, m.now)
	return m
}

// CreatedCount reports how many episodes this monitor has created, for
// monitoring.
func (m *Monitor) CreatedCount() int64 { return m.created }

// TrackMessage records msg in its window and, if the window just reached
// its max size, forces an immediate boundary check that may close it.
func (m *Monitor) TrackMessage(ctx context.Context, chatID int64, threadID *int64, msg model.Message) {
	if !m.cfg.Enabled || !m.cfg.AutoCreate {
 return
	}
	maxMessages := m.cfg.MaxMessagesPerWindow
	if maxMessages <= 0 {
 maxMessages = 50
	}
	full := m.tracker.Track(chatID, threadID, msg, maxMessages)
	if full {
 key := keyOf(chatID, threadID)
 if w, ok := m.tracker.Get(key); ok {
 m.checkWindow(ctx, key, w, true)
 }
	}
}

// Run blocks checking every check_interval until ctx is cancelled,
// pacing across windows with batch_delay_ms to avoid CPU spikes.
func (m *Monitor) Run(ctx context.Context) {
	interval := time.Duration(m.cfg.MonitorIntervalSeconds) * time.Second
	if interval <= 0 {
 interval = 300 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
 select {
 case <-ctx.Done():
 return
 case <-ticker.C:
 m.checkAllWindows(ctx)
 }
	}
}

func (m *Monitor) checkAllWindows(ctx context.Context) {
	batchDelay := time.Duration(m.cfg.BatchDelayMS) * time.Millisecond
	if batchDelay <= 0 {
 batchDelay = 100 * time.Millisecond
	}
	timeout := time.Duration(m.cfg.WindowTimeoutSeconds) * time.Second
	if timeout <= 0 {
 timeout = 1800 * time.Second
	}
	minMessages := m.cfg.MinMessages
	if minMessages <= 0 {
 minMessages = 5
	}

	keys := m.tracker.Snapshot()
	for idx, key := range keys {
 select {
 case <-ctx.Done():
 return
 default:
 }
 if idx > 0 {
 time.Sleep(batchDelay)
 }
 w, ok := m.tracker.Get(key)
 if !ok {
 continue
 }
 now := m.now()
 if w.isExpired(now, timeout) {
 m.closeWindow(ctx, key, w, "timeout")
 continue
 }
 if !w.hasMinMessages(minMessages) || now.Sub(w.LastActivity) < time.Minute {
 continue
 }
 m.checkWindow(ctx, key, w, false)
	}
}

func (m *Monitor) checkWindow(ctx context.Context, key WindowKey, w *ConversationWindow, autoClose bool) {
	minMessages := m.cfg.MinMessages
	if minMessages <= 0 {
 minMessages = 5
	}
	if !w.hasMinMessages(minMessages) {
 return
	}
	signals := m.detector.DetectSignals(ctx, w)
	should, score, contributing := m.detector.ShouldCreateBoundary(signals)
	if !should {
 return
	}
	logging.Log.Info().Int64("chat_id", key.ChatID).Float64("score", score).
 Int("signals", len(contributing)).Msg("episode boundary detected")
	if autoClose {
 m.closeWindow(ctx, key, w, "boundary")
	}
}

func (m *Monitor) closeWindow(ctx context.Context, key WindowKey, w *ConversationWindow, reason string) {
	minMessages := m.cfg.MinMessages
	if minMessages <= 0 {
 minMessages = 5
	}
	if w.hasMinMessages(minMessages) {
 if _, err := m.createEpisode(ctx, w, reason); err != nil {
 logging.Log.Warn().Err(err).Int64("chat_id", key.ChatID).Msg("episode creation failed")
 }
	}
	m.tracker.Remove(key)
}

func (m *Monitor) createEpisode(ctx context.Context, w *ConversationWindow, reason string) (int64, error) {
	participantIDs := w.ParticipantList()
	if len(participantIDs) == 0 {
 return 0, nil
	}
	messageIDs := make([]int64, 0, len(w.Messages))
	for _, msg := range w.Messages {
 if msg.ID != 0 {
 messageIDs = append(messageIDs, msg.ID)
 }
	}
	if len(messageIDs) == 0 {
 return 0, nil
	}

	topic, summary, valence, tags := generateTopic(w), generateSummary(w), model.ValenceNeutral, []string{reason}
	if m.cfg.UseLLMSummarization && m.generator != nil && m.rate != nil && m.rate.allow() {
 if llmTopic, llmSummary, llmValence, llmTags, ok := generateLLMEpisode(ctx, w, m.generator); ok {
 topic, summary = llmTopic, llmSummary
 if v := model.EmotionalValence(llmValence); v == model.ValencePositive || v == model.ValenceNegative ||
 v == model.ValenceNeutral || v == model.ValenceMixed {
 valence = v
 }
 tags = append(tags, llmTags...)
 }
	}

	e := model.Episode{
 ChatID: w.ChatID,
 ThreadID: w.ThreadID,
 Topic: topic,
 Summary: summary,
 Importance: calculateImportance(w),
 Valence: valence,
 MessageIDs: messageIDs,
 ParticipantIDs: participantIDs,
 Tags: tags,
 CreatedAt: m.now().Unix(),
	}
	id, err := m.episodes.Insert(ctx, e)
	if err == nil {
 m.created++
	}
	return id, err
}

// generateTopic is the fast heuristic fallback: the first message's
// leading 50 characters.
func generateTopic(w *ConversationWindow) string {
	if len(w.Messages) == 0 {
 return "Conversation"
	}
	text := strings.TrimSpace(w.Messages[0].Text)
	if text == "" {
 return "Conversation"
	}
	runes := []rune(text)
	if len(runes) > 50 {
 return string(runes[:50]) + "..."
	}
	return text
}

func generateSummary(w *ConversationWindow) string {
	return "Conversation with " + strconv.Itoa(len(w.ParticipantIDs)) + " participant(s) over " +
 strconv.Itoa(len(w.Messages)) + " message(s)"
}

// calculateImportance combines message-count, participant-count, and
// duration, each contributing a bounded amount, capped at 1.0.
func calculateImportance(w *ConversationWindow) float64 {
	importance := 0.0
	switch n := len(w.Messages); {
	case n >= 20:
 importance += 0.4
	case n >= 10:
 importance += 0.3
	case n >= 5:
 importance += 0.2
	}
	switch p := len(w.ParticipantIDs); {
	case p >= 3:
 importance += 0.3
	case p >= 2:
 importance += 0.2
	}
	if len(w.Messages) > 0 {
 durationMin := float64(w.Messages[len(w.Messages)-1].TS-w.Messages[0].TS) / 60
 switch {
 case durationMin >= 30:
 importance += 0.3
 case durationMin >= 10:
 importance += 0.2
 case durationMin >= 5:
 importance += 0.1
 }
	}
	if importance > 1 {
 importance = 1
	}
	return importance
}
