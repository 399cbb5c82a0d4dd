// Package vecmath holds the small numeric routines shared by the fact
// store's semantic dedup and the hybrid retrieval fuser: cosine similarity,
// confidence decay, and a cheap token estimator. Kept separate from both
// callers so the math is defined and tested exactly once, since embeddings
// are compared in-process rather than pushed down into a vector-capable
// database.
package vecmath

import "math"

// Cosine returns the cosine similarity of a and b, 0 if either is empty or
// either has zero magnitude.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
 return 0
	}
	var dot, magA, magB float64
	for i := range a {
 av := float64(a[i])
 bv := float64(b[i])
 dot += av * bv
 magA += av * av
 magB += bv * bv
	}
	if magA == 0 || magB == 0 {
 return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

// EffectiveConfidence applies exponential decay to a raw confidence value
// given the fact's age in days and its decay rate. decayRate == 0 disables
// decay entirely.
func EffectiveConfidence(confidence, decayRate, ageDays float64) float64 {
	if decayRate <= 0 {
 return confidence
	}
	return confidence * math.Exp(-decayRate*ageDays)
}

// Reinforce combines an existing confidence with a newly observed one using
// a fixed 0.7/0.3 weighted average favoring prior evidence, capped at 1.
func Reinforce(oldConfidence, newConfidence float64) float64 {
	c := 0.7*oldConfidence + 0.3*newConfidence
	if c > 1 {
 c = 1
	}
	return c
}

// EstimateTokens approximates token count as chars/charsPerToken, rounding
// up. charsPerToken <= 0 falls back to 4.
func EstimateTokens(text string, charsPerToken float64) int {
	if charsPerToken <= 0 {
 charsPerToken = 4
	}
	n := len(text)
	if n == 0 {
 return 0
	}
	return int(math.Ceil(float64(n) / charsPerToken))
}
