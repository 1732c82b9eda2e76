package embedding

import (
	"strings"
)

// Scorer rates the sentiment of a text on a 0-1 scale, 0.5 neutral.
// Sentiment is a best-effort signal: callers must tolerate it missing.
type Scorer interface {
	Sentiment(text string) float64
}

// Sentiment word lists for the lexical scorer. Coarse on purpose; the
// engine only needs a direction, not an opinion model.
var (
	positiveWords = []string{
		"love", "great", "wonderful", "happy", "glad", "enjoy", "beautiful",
		"excellent", "fantastic", "exciting", "delight", "thank", "perfect",
		"fun", "amazing", "nice", "good", "laugh", "brilliant",
	}
	negativeWords = []string{
		"hate", "terrible", "awful", "sad", "angry", "annoying", "horrible",
		"boring", "worst", "ugly", "disgusting", "miserable", "dreadful",
		"upset", "fear", "worried", "bad", "complain", "tired",
	}
)

// LexicalScorer scores sentiment from word counts. Deterministic, no I/O.
type LexicalScorer struct{}

func NewLexicalScorer() *LexicalScorer { return &LexicalScorer{} }

// Sentiment returns 0.5 + (positive − negative) pressure, clamped to [0,1].
func (*LexicalScorer) Sentiment(text string) float64 {
	lower := strings.ToLower(text)
	score := 0.5
	for _, w := range positiveWords {
		if strings.Contains(lower, w) {
			score += 0.08
		}
	}
	for _, w := range negativeWords {
		if strings.Contains(lower, w) {
			score -= 0.08
		}
	}
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
