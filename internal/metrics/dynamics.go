package metrics

import (
	"strings"

	"github.com/nidhogg/agora/internal/conversation"
)

// Lexical markers used by the emotional-dynamics heuristics.
var (
	disagreementMarkers = []string{
		"disagree", "no way", "wrong", "nonsense", "that's not",
		"i doubt", "absolutely not", "you're missing",
	}
	agreementMarkers = []string{
		"agree", "exactly", "good point", "you're right", "that's true",
		"fair enough", "makes sense", "absolutely",
	}
	empathyMarkers = []string{
		"i understand", "i see how", "that must", "i'm sorry",
		"i hear you", "i can imagine", "sounds tough", "i feel",
	}
)

// EmotionalDynamicsOf scores tension, agreement, and empathy over the log.
//
// Tension rises with sharp sentiment drops between consecutive turns, with
// the same speaker pressing again within two turns, and with lexical
// disagreement. Agreement is seeded at 0.5 and moves with lexical agreement
// and sentiment alignment between consecutive turns. Empathy is seeded at
// 0.5 and moves with lexical empathy and positive responses to positive
// messages.
func EmotionalDynamicsOf(msgs []conversation.Message) conversation.EmotionalDynamics {
	dyn := conversation.EmotionalDynamics{
		Tension:   0.0,
		Agreement: 0.5,
		Empathy:   0.5,
	}
	spoken := nonSystem(msgs)
	if len(spoken) == 0 {
		return dyn
	}

	for i, m := range spoken {
		lower := strings.ToLower(m.Content)

		if containsAny(lower, disagreementMarkers) {
			dyn.Tension += 0.12
		}
		if containsAny(lower, agreementMarkers) {
			dyn.Agreement += 0.08
			dyn.Tension -= 0.04
		}
		if containsAny(lower, empathyMarkers) {
			dyn.Empathy += 0.1
		}

		// Same speaker pressing again within two turns reads as insistence.
		for back := 1; back <= 2 && i-back >= 0; back++ {
			if spoken[i-back].Author == m.Author {
				dyn.Tension += 0.05
				break
			}
		}

		if i == 0 || m.Sentiment == nil || spoken[i-1].Sentiment == nil {
			continue
		}
		prev := *spoken[i-1].Sentiment
		cur := *m.Sentiment
		delta := cur - prev

		if delta < -0.3 {
			dyn.Tension += 0.1
		}
		if abs(delta) < 0.15 {
			dyn.Agreement += 0.05
		} else if abs(delta) > 0.4 {
			dyn.Agreement -= 0.05
		}
		if prev >= 0.6 && cur >= 0.6 {
			dyn.Empathy += 0.05
		}
	}

	dyn.Tension = clamp(dyn.Tension, 0, 1)
	dyn.Agreement = clamp(dyn.Agreement, 0, 1)
	dyn.Empathy = clamp(dyn.Empathy, 0, 1)
	return dyn
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
