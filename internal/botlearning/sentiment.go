// Package botlearning extracts self-learning signal from the bot's own
// interactions: detecting user sentiment toward a prior reply, reinforcing
// bot facts about what works, and rolling up an effectiveness summary.
package botlearning

import (
	"regexp"
	"strings"

	"github.com/thathunky/gryag/internal/model"
)

// Four phrase-pattern lists, Ukrainian and English, for praise, positive,
// negative, and correction sentiment.
var (
	praisePatterns = compilePatterns([]string{
 `(?i)\b(brilliant|genius|розумний|молодець)\b`,
 `(?i)\b(love it|люблю|супер|класно)\b`,
 `🔥|⭐|🌟|💪`,
	})
	positivePatterns = compilePatterns([]string{
 `(?i)\b(thanks?|thank you|thx|дяка|дякую)\b`,
 `(?i)\b(good|great|awesome|perfect|excellent|helpful|корисно)\b`,
 `(?i)\b(exactly|саме так|правильно|точно)\b`,
 `👍|❤️|🙏|💯|✅`,
	})
	negativePatterns = compilePatterns([]string{
 `(?i)\b(wrong|incorrect|error|неправильно|помилка)\b`,
 `(?i)\b(confus\w*|незрозуміло|не розумію)\b`,
 `(?i)\b(bad|terrible|awful|погано|жахливо)\b`,
 `👎|😡|😤|❌`,
	})
	correctionPatterns = compilePatterns([]string{
 `(?i)\b(actually|насправді|to be honest|власне)\b`,
 `(?i)\b(no[,!]|ні[,!]|not|не так)\b`,
 `(?i)\b(you'?re wrong|ти не правий|помиляєшся)\b`,
 `(?i)\b(that'?s not|це не так|неправда)\b`,
	})
)

func compilePatterns(patterns []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
 // Go's \b is ASCII-only, so the word guards are rewritten as explicit
 // non-letter/non-digit (or start/end) guards to work for Cyrillic too.
 p = strings.ReplaceAll(p, `\b(`, `(?:^|[^\p{L}\p{N}_])(`)
 p = strings.ReplaceAll(p, `)\b`, `)(?:$|[^\p{L}\p{N}_])`)
 out[i] = regexp.MustCompile(p)
	}
	return out
}

func anyMatch(patterns []*regexp.Regexp, text string) bool {
	for _, re := range patterns {
 if re.MatchString(text) {
 return true
 }
	}
	return false
}

// DetectSentiment classifies a user message reacting to a bot reply,
// checking praise before correction before negative before positive.
func DetectSentiment(text string) (model.Outcome, float64) {
	switch {
	case anyMatch(praisePatterns, text):
 return model.OutcomePraised, 0.9
	case anyMatch(correctionPatterns, text):
 return model.OutcomeCorrected, 0.8
	case anyMatch(negativePatterns, text):
 return model.OutcomeNegative, 0.7
	case anyMatch(positivePatterns, text):
 return model.OutcomePositive, 0.7
	default:
 return model.OutcomeNeutral, 0.5
	}
}

// sentimentScores maps an outcome label to a numeric score in [-1, 1].
var sentimentScores = map[model.Outcome]float64{
	model.OutcomePraised: 1.0,
	model.OutcomePositive: 0.7,
	model.OutcomeNeutral: 0.0,
	model.OutcomeNegative: -0.7,
	model.OutcomeCorrected: -0.5,
	model.OutcomeIgnored: -0.3,
}

// SentimentScore maps an outcome label to its numeric score.
func SentimentScore(o model.Outcome) float64 {
	return sentimentScores[o]
}

// effectivenessWeights weights each outcome label for the recent-
// effectiveness rollup.
var effectivenessWeights = map[model.Outcome]float64{
	model.OutcomePraised: 1.0,
	model.OutcomePositive: 0.8,
	model.OutcomeNeutral: 0.5,
	model.OutcomeNegative: 0.2,
	model.OutcomeCorrected: 0.1,
	model.OutcomeIgnored: 0.0,
}

func classifyResponseType(response string) string {
	switch {
	case containsAny(response, "?", "clarify", "уточни"):
 return "clarification"
	case containsAny(response, "search", "weather", "calculator"):
 return "tool_usage"
	case len(response) < 50:
 return "brief"
	case len(response) > 500:
 return "detailed"
	default:
 return "conversational"
	}
}

func containsAny(text string, needles ...string) bool {
	lower := strings.ToLower(text)
	for _, n := range needles {
 if strings.Contains(lower, strings.ToLower(n)) {
 return true
 }
	}
	return false
}

func lengthCategory(n int) string {
	switch {
	case n < 100:
 return "short"
	case n < 300:
 return "medium"
	default:
 return "long"
	}
}

func delayCategory(seconds int64) string {
	switch {
	case seconds < 10:
 return "immediate"
	case seconds < 60:
 return "quick"
	case seconds < 300:
 return "delayed"
	default:
 return "slow"
	}
}

var topicKeywords = map[string][]string{
	"weather": {"weather", "temperature", "погода", "температура"},
	"currency": {"currency", "exchange", "валюта", "курс"},
	"calculation": {"calculate", "math", "порахуй", "математика"},
	"search": {"search", "find", "пошук", "знайди"},
	"programming": {"code", "program", "код", "програма"},
}

// extractTopic returns the first keyword-matched topic found in text, or
// "" if none match.
func extractTopic(text string) string {
	lower := strings.ToLower(text)
	for _, topic := range topicOrder {
 for _, kw := range topicKeywords[topic] {
 if strings.Contains(lower, kw) {
 return topic
 }
 }
	}
	return ""
}

// topicOrder fixes iteration order over topicKeywords so extractTopic is
// deterministic (Go map iteration order is randomized).
var topicOrder = []string{"weather", "currency", "calculation", "search", "programming"}
