package episode

import (
	"context"
	"encoding/json"
	"regexp"
	"sort"
	"strings"

	"github.com/thathunky/gryag/internal/config"
	"github.com/thathunky/gryag/internal/model"
	"github.com/thathunky/gryag/internal/vecmath"
)

// SignalType distinguishes the three boundary-signal kinds
type SignalType string

const (
	SignalTemporal SignalType = "temporal"
	SignalMarker SignalType = "topic_marker"
	SignalSemantic SignalType = "semantic"
)

// Signal is one boundary signal between two adjacent window messages.
type Signal struct {
	MessageID int64
	Timestamp int64
	Type SignalType
	Strength float64
	Reason string
}

// topicMarkers mirrors two-locale phrase list (Ukrainian
// + English) for the explicit topic-change signal.
var topicMarkers = compileMarkers([]string{
	`(?i)(давайте поговорим|поговорим про|зміні?мо тему|нова тема|до речі|кстаті)`,
	`(?i)(а зараз|зараз про|перейдем до|далі)`,
	`(?i)(тепер про|тепер давайте|тепер до)`,
	`(?i)(let'?s talk about|speaking of|by the way|anyway|on another note)`,
	`(?i)(changing (the )?subject|new topic|moving on|next topic)`,
	`(?i)(now (about|for)|so about|okay so)`,
})

func compileMarkers(patterns []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
 out[i] = regexp.MustCompile(p)
	}
	return out
}

// Embedder is the subset of llm.Gateway the boundary detector needs for
// the semantic signal.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Detector computes boundary signals for a window and decides whether
// its best signal cluster crosses the configured threshold.
type Detector struct {
	cfg config.EpisodesConfig
	embedder Embedder
}

func NewDetector(cfg config.EpisodesConfig, embedder Embedder) *Detector {
	return &Detector{cfg: cfg, embedder: embedder}
}

func (d *Detector) gap(name string, seconds int) int {
	if seconds > 0 {
 return seconds
	}
	switch name {
	case "short":
 return 120
	case "medium":
 return 900
	case "long":
 return 3600
	}
	return 0
}

// DetectSignals walks adjacent message pairs in w and returns every
// boundary signal found, sorted by timestamp.
func (d *Detector) DetectSignals(ctx context.Context, w *ConversationWindow) []Signal {
	if len(w.Messages) < 2 {
 return nil
	}
	var signals []Signal
	for i := 0; i < len(w.Messages)-1; i++ {
 a, b := w.Messages[i], w.Messages[i+1]
 if s, ok := d.temporalSignal(a, b); ok {
 signals = append(signals, s)
 }
 if s, ok := d.markerSignal(b); ok {
 signals = append(signals, s)
 }
 if s, ok := d.semanticSignal(ctx, a, b); ok {
 signals = append(signals, s)
 }
	}
	sort.SliceStable(signals, func(i, j int) bool { return signals[i].Timestamp < signals[j].Timestamp })
	return signals
}

func (d *Detector) temporalSignal(a, b model.Message) (Signal, bool) {
	gap := b.TS - a.TS
	short := int64(d.gap("short", d.cfg.ShortGapSeconds))
	medium := int64(d.gap("medium", d.cfg.MediumGapSeconds))
	long := int64(d.gap("long", d.cfg.LongGapSeconds))

	if gap < short {
 return Signal{}, false
	}
	strength := 0.4
	reason := "short gap"
	switch {
	case gap >= long:
 strength, reason = 1.0, "long gap"
	case gap >= medium:
 strength, reason = 0.7, "medium gap"
	}
	return Signal{MessageID: b.ID, Timestamp: b.TS, Type: SignalTemporal, Strength: strength, Reason: reason}, true
}

func (d *Detector) markerSignal(msg model.Message) (Signal, bool) {
	text := strings.ToLower(msg.Text)
	for _, re := range topicMarkers {
 if re.MatchString(text) {
 return Signal{MessageID: msg.ID, Timestamp: msg.TS, Type: SignalMarker, Strength: 0.8, Reason: "topic marker"}, true
 }
	}
	return Signal{}, false
}

func (d *Detector) semanticSignal(ctx context.Context, a, b model.Message) (Signal, bool) {
	if len(strings.Fields(a.Text)) < 3 || len(strings.Fields(b.Text)) < 3 {
 return Signal{}, false
	}
	vecA, ok := d.embeddingOf(ctx, a)
	if !ok {
 return Signal{}, false
	}
	vecB, ok := d.embeddingOf(ctx, b)
	if !ok {
 return Signal{}, false
	}
	sim := vecmath.Cosine(vecA, vecB)
	medium := d.cfg.SimilarityMedium
	if medium <= 0 {
 medium = 0.5
	}
	if sim >= medium {
 return Signal{}, false
	}
	strength := 1 - sim
	if strength > 1 {
 strength = 1
	}
	return Signal{MessageID: b.ID, Timestamp: b.TS, Type: SignalSemantic, Strength: strength, Reason: "low semantic similarity"}, true
}

func (d *Detector) embeddingOf(ctx context.Context, msg model.Message) ([]float32, bool) {
	if msg.EmbeddingJSON != "" {
 var v []float32
 if err := json.Unmarshal([]byte(msg.EmbeddingJSON), &v); err == nil && len(v) > 0 {
 return v, true
 }
	}
	if d.embedder == nil {
 return nil, false
	}
	v, err := d.embedder.Embed(ctx, msg.Text)
	if err != nil || len(v) == 0 {
 return nil, false
	}
	return v, true
}

// clusterSignals groups signals occurring within windowSeconds of each
// other, assuming signals is already timestamp-sorted.
func clusterSignals(signals []Signal, windowSeconds int64) [][]Signal {
	if len(signals) == 0 {
 return nil
	}
	var clusters [][]Signal
	current := []Signal{signals[0]}
	for _, s := range signals[1:] {
 if s.Timestamp-current[len(current)-1].Timestamp <= windowSeconds {
 current = append(current, s)
 } else {
 clusters = append(clusters, current)
 current = []Signal{s}
 }
	}
	clusters = append(clusters, current)
	return clusters
}

// scoreCluster combines a cluster's per-type max strength with the
// weighted formula and multi-signal bonuses
func scoreCluster(cluster []Signal) float64 {
	var maxSemantic, maxTemporal, maxMarker float64
	types := map[SignalType]struct{}{}
	for _, s := range cluster {
 types[s.Type] = struct{}{}
 switch s.Type {
 case SignalSemantic:
 if s.Strength > maxSemantic {
 maxSemantic = s.Strength
 }
 case SignalTemporal:
 if s.Strength > maxTemporal {
 maxTemporal = s.Strength
 }
 case SignalMarker:
 if s.Strength > maxMarker {
 maxMarker = s.Strength
 }
 }
	}
	score := 0.4*maxSemantic + 0.35*maxTemporal + 0.25*maxMarker
	if len(types) >= 2 {
 score *= 1.2
	}
	if len(types) >= 3 {
 score *= 1.1
	}
	if score > 1 {
 score = 1
	}
	return score
}

// ShouldCreateBoundary clusters signals within a 60-second window, scores
// each cluster, and reports whether the best score crosses the
// configured boundary threshold.
func (d *Detector) ShouldCreateBoundary(signals []Signal) (bool, float64, []Signal) {
	if len(signals) == 0 {
 return false, 0, nil
	}
	clusters := clusterSignals(signals, 60)
	var best []Signal
	bestScore := 0.0
	for _, c := range clusters {
 score := scoreCluster(c)
 if score > bestScore {
 bestScore = score
 best = c
 }
	}
	threshold := d.cfg.BoundaryThreshold
	if threshold <= 0 {
 threshold = 0.6
	}
	return bestScore >= threshold, bestScore, best
}
