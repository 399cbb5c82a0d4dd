package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenize_DropsShortWordsAndStopwords(t *testing.T) {
	got := Tokenize("the cat and a dog are running")
	assert.Contains(t, got, "running")
	assert.Contains(t, got, "dog")
	assert.Contains(t, got, "cat")
	assert.NotContains(t, got, "the")
	assert.NotContains(t, got, "and")
	assert.NotContains(t, got, "are")
	assert.NotContains(t, got, "a")
}

func TestTokenize_LowercasesAndKeepsUnicodeWords(t *testing.T) {
	got := Tokenize("Привіт Гряг")
	assert.Contains(t, got, "привіт")
	assert.Contains(t, got, "гряг")
}
