package engine

import (
	"time"

	"github.com/nidhogg/agora/internal/conversation"
)

// checkTermination decides whether a conversation should close and why.
// The hard limits (duration, message cap) apply unconditionally; every
// quality-based condition waits out the minimum duration so conversations
// get a fair chance to find their footing.
func (e *Engine) checkTermination(rec *conversation.Record, snap conversation.MetricsSnapshot, now time.Time) conversation.EndReason {
	elapsed := now.Sub(rec.StartedAt)
	voiced := 0
	for _, m := range rec.Messages {
		if m.Role != conversation.RoleSystem {
			voiced++
		}
	}

	if elapsed >= e.cfg.MaxDuration.Std() {
		return conversation.EndMaxDuration
	}
	if voiced >= e.cfg.MaxMessages {
		return conversation.EndMessageCap
	}
	if elapsed < e.cfg.MinDuration.Std() {
		return ""
	}

	agreement := snap.Dynamics.Agreement
	tension := snap.Dynamics.Tension

	if snap.Quality < e.cfg.LowQualityScore &&
		voiced >= e.cfg.LowQualityMessages &&
		(agreement > e.cfg.HighAgreement || tension > e.cfg.HighTension) {
		return conversation.EndLowQuality
	}
	if snap.SilenceProbability > e.cfg.TaperSilenceProb &&
		voiced >= e.cfg.TaperMessages &&
		agreement > e.cfg.HighAgreement {
		return conversation.EndAmicableTaper
	}
	if snap.Depth > e.cfg.ExhaustedDepth &&
		voiced >= e.cfg.ExhaustedMessages &&
		agreement > e.cfg.HighAgreement &&
		snap.ContextualRelevance < e.cfg.ExhaustedRelevance {
		return conversation.EndTopicExhausted
	}
	return ""
}
