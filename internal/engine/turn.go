package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nidhogg/agora/internal/conversation"
	"github.com/nidhogg/agora/internal/metrics"
	"github.com/nidhogg/agora/internal/quota"
	"github.com/nidhogg/agora/internal/registry"
)

// speakerExclusionWindow is how many most recent speakers are barred from
// taking the next turn. With fewer participants the window collapses to
// everyone but the most recent speaker.
const speakerExclusionWindow = 3

// recentPromptMessages bounds how much transcript the prompt carries.
const recentPromptMessages = 10

// RunTurn executes one full turn of an active conversation: pick a speaker,
// generate, delay, append, recompute metrics, and check termination. A
// second call while a turn is in flight is a no-op, so back-to-back sweeps
// produce at most one message.
func (e *Engine) RunTurn(ctx context.Context, convID string) error {
	if !e.markInFlight(convID) {
		e.logger.Debug("turn already in flight", zap.String("conversation", convID))
		return nil
	}
	defer e.clearInFlight(convID)

	rec, err := e.convs.Get(convID)
	if err != nil {
		return err
	}
	if rec.Status != conversation.StatusActive {
		return conversation.ErrEnded
	}

	// The budget call is consumed before any suspension so two concurrent
	// turns cannot both slip under the global cap.
	if err := e.quota.ConsumeCall(); err != nil {
		if errors.Is(err, quota.ErrBudgetExhausted) {
			e.logger.Warn("global budget exhausted, forcing termination",
				zap.String("conversation", convID))
			if terr := e.Terminate(ctx, convID, conversation.EndBudgetExhausted); terr != nil {
				e.logger.Warn("budget termination failed", zap.Error(terr))
			}
		}
		return err
	}

	speakerID := e.selectSpeaker(rec)
	speaker, err := e.reg.Get(speakerID)
	if err != nil {
		return fmt.Errorf("turn speaker %s: %w", speakerID, err)
	}

	now := e.clk.Now()
	conditions := e.sampleConditions(rec.Context.District, now)
	recall := e.recallSnippets(ctx, rec)
	prompt := e.buildPrompt(speaker, rec, conditions, recall)

	text, err := e.generateWithRetries(ctx, speaker, rec, prompt)
	if err != nil {
		e.logger.Warn("generation failed, closing conversation",
			zap.String("conversation", convID),
			zap.String("agent", speakerID),
			zap.Error(err))
		if terr := e.Terminate(ctx, convID, conversation.EndGenerationFail); terr != nil {
			e.logger.Warn("generation-failure termination failed", zap.Error(terr))
		}
		return ErrGenerationFailed
	}

	if err := e.simulateDelay(ctx, text); err != nil {
		return err
	}

	msg := conversation.Message{
		ID:        uuid.New().String(),
		Author:    speakerID,
		Role:      conversation.RoleAgent,
		Content:   text,
		Timestamp: e.clk.Now(),
		Topics:    e.tagTopics(speaker, rec, text),
	}
	if e.scorer != nil {
		s := e.scorer.Sentiment(text)
		msg.Sentiment = &s
	}
	if err := e.convs.Append(convID, msg); err != nil {
		// The conversation ended while we were suspended; drop the turn.
		if errors.Is(err, conversation.ErrEnded) {
			return nil
		}
		return err
	}

	snap := e.refreshMetrics(convID)
	e.announceMessage(rec.Context.District, convID, msg)
	e.indexMessage(ctx, convID, msg)
	e.maybeShiftTopic(convID, snap)

	fresh, err := e.convs.Get(convID)
	if err != nil {
		return err
	}
	if reason := e.checkTermination(fresh, snap, e.clk.Now()); reason != "" {
		return e.Terminate(ctx, convID, reason)
	}
	return nil
}

// selectSpeaker picks the next speaker uniformly among participants who are
// not one of the last few speakers. When exclusion empties the pool (small
// groups), everyone but the most recent speaker is eligible again.
func (e *Engine) selectSpeaker(rec *conversation.Record) string {
	recent := rec.LastSpeakers(speakerExclusionWindow)
	excluded := make(map[string]bool, len(recent))
	for _, id := range recent {
		excluded[id] = true
	}

	var pool []string
	for _, id := range rec.Participants {
		if !excluded[id] {
			pool = append(pool, id)
		}
	}
	if len(pool) == 0 {
		last := rec.LastSpeakers(1)
		for _, id := range rec.Participants {
			if len(last) == 0 || id != last[0] {
				pool = append(pool, id)
			}
		}
	}
	if len(pool) == 0 {
		pool = rec.Participants
	}
	return pool[e.randIntn(len(pool))]
}

// generateWithRetries calls the generator up to the configured attempt
// count with a fixed backoff. An empty response counts as a failure.
func (e *Engine) generateWithRetries(ctx context.Context, speaker *registry.Agent, rec *conversation.Record, prompt string) (string, error) {
	prior := rec.Messages
	if len(prior) > recentPromptMessages {
		prior = prior[len(prior)-recentPromptMessages:]
	}

	var lastErr error
	attempts := e.cfg.GenerationRetries
	for attempt := 1; attempt <= attempts; attempt++ {
		text, err := e.gen.Generate(ctx, speaker, prior, prompt)
		if err == nil && strings.TrimSpace(text) != "" {
			return strings.TrimSpace(text), nil
		}
		if err == nil {
			err = errors.New("empty response")
		}
		lastErr = err
		e.logger.Debug("generation attempt failed",
			zap.String("conversation", rec.ID),
			zap.String("agent", speaker.ID),
			zap.Int("attempt", attempt),
			zap.Error(err))
		if attempt < attempts {
			if serr := e.clk.Sleep(ctx, e.cfg.RetryBackoff.Std()); serr != nil {
				return "", serr
			}
		}
	}
	return "", fmt.Errorf("%w: %v", ErrGenerationFailed, lastErr)
}

// simulateDelay paces delivery like a person typing: a fixed response delay
// plus a per-character typing delay, capped.
func (e *Engine) simulateDelay(ctx context.Context, text string) error {
	typing := time.Duration(len(text)) * e.cfg.TypingDelayPerChar.Std()
	if max := e.cfg.MaxTypingDelay.Std(); typing > max {
		typing = max
	}
	return e.clk.Sleep(ctx, e.cfg.ResponseDelay.Std()+typing)
}

// tagTopics marks the message with the current topic when the content
// touches it, plus any of the speaker's interests it mentions.
func (e *Engine) tagTopics(speaker *registry.Agent, rec *conversation.Record, text string) []string {
	lower := strings.ToLower(text)
	var topics []string
	if rec.Topic != "" && strings.Contains(lower, strings.ToLower(rec.Topic)) {
		topics = append(topics, rec.Topic)
	}
	for _, interest := range speaker.Interests {
		if interest == rec.Topic {
			continue
		}
		if strings.Contains(lower, strings.ToLower(interest)) {
			topics = append(topics, interest)
		}
	}
	if len(topics) == 0 && rec.Topic != "" {
		topics = []string{rec.Topic}
	}
	return topics
}

// maybeShiftTopic rotates to a fresher subject once the current one is worn
// out. The new topic comes from the participants' interests.
func (e *Engine) maybeShiftTopic(convID string, snap conversation.MetricsSnapshot) {
	rec, err := e.convs.Get(convID)
	if err != nil || rec.Topic == "" {
		return
	}
	current := snap.TopicExhaustion[rec.Topic]
	if current < 0.8 {
		return
	}

	seen := map[string]bool{rec.Topic: true}
	for _, t := range rec.TopicHistory {
		seen[t] = true
	}
	var candidates []string
	for _, id := range rec.Participants {
		agent, err := e.reg.Get(id)
		if err != nil {
			continue
		}
		for _, interest := range agent.Interests {
			if !seen[interest] {
				seen[interest] = true
				candidates = append(candidates, interest)
			}
		}
	}
	if len(candidates) == 0 {
		return
	}
	next := candidates[e.randIntn(len(candidates))]
	if err := e.convs.SetTopic(convID, next); err != nil {
		return
	}
	e.logger.Info("topic shifted",
		zap.String("conversation", convID),
		zap.String("from", rec.Topic),
		zap.String("to", next),
		zap.Float64("exhaustion", current))
}

// recallSnippets pulls semantically similar transcript fragments from the
// same district; empty on any failure.
func (e *Engine) recallSnippets(ctx context.Context, rec *conversation.Record) []string {
	if e.index == nil || rec.Topic == "" {
		return nil
	}
	snippets, err := e.index.RecallSimilar(ctx, rec.Topic, rec.Context.District, 3)
	if err != nil {
		e.logger.Debug("transcript recall failed",
			zap.String("conversation", rec.ID), zap.Error(err))
		return nil
	}
	return snippets
}

func (e *Engine) indexMessage(ctx context.Context, convID string, msg conversation.Message) {
	if e.index == nil {
		return
	}
	rec, err := e.convs.Get(convID)
	if err != nil {
		return
	}
	if err := e.index.IndexMessage(ctx, rec, msg); err != nil {
		e.logger.Debug("transcript index failed",
			zap.String("conversation", convID), zap.Error(err))
	}
}

func (e *Engine) computeMetrics(rec *conversation.Record) conversation.MetricsSnapshot {
	return metrics.Compute(rec, e.clk.Now(), metrics.Params{
		ExhaustionThreshold: e.cfg.TopicExhaustionThreshold,
	})
}

// summarize produces the synthetic closing line appended as the final
// system message.
func (e *Engine) summarize(rec *conversation.Record) string {
	voiced := 0
	var sum float64
	var scored int
	for _, m := range rec.Messages {
		if m.Role == conversation.RoleSystem {
			continue
		}
		voiced++
		if m.Sentiment != nil {
			sum += *m.Sentiment
			scored++
		}
	}
	tone := "neutral"
	if scored > 0 {
		switch mean := sum / float64(scored); {
		case mean >= 0.6:
			tone = "warm"
		case mean <= 0.4:
			tone = "tense"
		}
	}
	topics := rec.Topic
	if len(rec.TopicHistory) > 0 {
		topics = strings.Join(append(append([]string(nil), rec.TopicHistory...), rec.Topic), ", ")
	}
	if topics == "" {
		topics = "nothing in particular"
	}
	return fmt.Sprintf("The conversation wound down after %d messages. They talked about %s; the overall tone was %s.",
		voiced, topics, tone)
}
