// Package engine is the conversation lifecycle manager: it creates
// conversations once every participant is reserved, drives turns, keeps the
// derived metrics consistent with the message log, and decides when and why
// a conversation ends.
package engine

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nidhogg/agora/internal/city"
	"github.com/nidhogg/agora/internal/clock"
	"github.com/nidhogg/agora/internal/config"
	"github.com/nidhogg/agora/internal/conversation"
	"github.com/nidhogg/agora/internal/event"
	"github.com/nidhogg/agora/internal/quota"
	"github.com/nidhogg/agora/internal/registry"
)

// ErrGenerationFailed means the generation collaborator exhausted its
// retries. Fatal to the current turn only; the conversation is closed
// gracefully and other conversations are unaffected.
var ErrGenerationFailed = errors.New("generation failed after retries")

// Generator produces the next utterance for an agent. Empty responses and
// errors are retryable.
type Generator interface {
	Generate(ctx context.Context, agent *registry.Agent, prior []conversation.Message, systemPrompt string) (string, error)
}

// Scorer rates utterance sentiment; best-effort.
type Scorer interface {
	Sentiment(text string) float64
}

// TranscriptIndex persists and recalls transcript vectors; best-effort.
type TranscriptIndex interface {
	IndexMessage(ctx context.Context, rec *conversation.Record, msg conversation.Message) error
	RecallSimilar(ctx context.Context, text, district string, topK int) ([]string, error)
}

// Broadcaster announces district events without being awaited.
type Broadcaster interface {
	Broadcast(ev event.Event)
}

// SocialGraph records completed conversations between residents.
type SocialGraph interface {
	RecordConversation(ctx context.Context, participants []string, summary string, boost float64) error
}

// Archiver persists ended conversations.
type Archiver interface {
	ArchiveConversation(ctx context.Context, rec *conversation.Record) error
}

// Engine coordinates the conversation lifecycle.
type Engine struct {
	cfg        config.EngineConfig
	reg        *registry.Registry
	quota      *quota.Tracker
	convs      *conversation.Store
	gen        Generator
	dispatcher *event.Dispatcher
	districts  *city.Directory
	clk        clock.Clock
	logger     *zap.Logger

	// Optional best-effort collaborators.
	scorer      Scorer
	index       TranscriptIndex
	broadcaster Broadcaster
	social      SocialGraph
	archiver    Archiver

	rng      *rand.Rand
	rngMu    sync.Mutex
	inFlight map[string]struct{}
	flightMu sync.Mutex
}

// New creates an engine. The random source is injected so turn selection
// and context sampling are reproducible.
func New(
	cfg config.EngineConfig,
	reg *registry.Registry,
	tracker *quota.Tracker,
	convs *conversation.Store,
	gen Generator,
	dispatcher *event.Dispatcher,
	districts *city.Directory,
	clk clock.Clock,
	rng *rand.Rand,
	logger *zap.Logger,
) *Engine {
	cfg.Defaults()
	return &Engine{
		cfg:        cfg,
		reg:        reg,
		quota:      tracker,
		convs:      convs,
		gen:        gen,
		dispatcher: dispatcher,
		districts:  districts,
		clk:        clk,
		rng:        rng,
		inFlight:   make(map[string]struct{}),
		logger:     logger,
	}
}

// SetScorer wires the sentiment collaborator.
func (e *Engine) SetScorer(s Scorer) { e.scorer = s }

// SetIndex wires the transcript vector index.
func (e *Engine) SetIndex(idx TranscriptIndex) { e.index = idx }

// SetBroadcaster wires the district broadcast fan-out.
func (e *Engine) SetBroadcaster(b Broadcaster) { e.broadcaster = b }

// SetSocialGraph wires the friendship graph mirror.
func (e *Engine) SetSocialGraph(g SocialGraph) { e.social = g }

// SetArchiver wires the conversation archive.
func (e *Engine) SetArchiver(a Archiver) { e.archiver = a }

// StartConversation reserves the participants and creates an active record.
// No record exists if reservation fails: the caller gets
// quota.ErrParticipantsBusy or quota.ErrBudgetExhausted untouched.
func (e *Engine) StartConversation(ctx context.Context, participantIDs []string, topic, location, activity string) (*conversation.Record, error) {
	if len(participantIDs) < 1 {
		return nil, errors.New("start conversation: no participants")
	}
	for _, id := range participantIDs {
		if _, err := e.reg.Get(id); err != nil {
			return nil, err
		}
	}

	convID := uuid.New().String()
	if err := e.quota.Reserve(convID, participantIDs); err != nil {
		return nil, err
	}

	now := e.clk.Now()
	rec := &conversation.Record{
		ID:           convID,
		Participants: append([]string(nil), participantIDs...),
		Topic:        topic,
		Context: conversation.Context{
			Location: location,
			Activity: activity,
			District: e.districts.DistrictFor(location),
		},
		Status:        conversation.StatusActive,
		StartedAt:     now,
		LastMessageAt: now,
	}
	if err := e.convs.Create(rec); err != nil {
		e.quota.Release(participantIDs)
		return nil, err
	}

	started := event.ConversationStarted{
		ConversationID: convID,
		Participants:   rec.Participants,
		Topic:          topic,
		InDistrict:     rec.Context.District,
		At:             now,
	}
	e.dispatcher.Publish(started)
	if e.broadcaster != nil {
		e.broadcaster.Broadcast(started)
	}
	e.logger.Info("conversation started",
		zap.String("conversation", convID),
		zap.Strings("participants", participantIDs),
		zap.String("district", rec.Context.District),
		zap.String("topic", topic))
	return e.convs.Get(convID)
}

// PostUserMessage appends a user utterance to an active conversation and
// refreshes the metrics snapshot.
func (e *Engine) PostUserMessage(ctx context.Context, convID, content string) error {
	rec, err := e.convs.Get(convID)
	if err != nil {
		return err
	}
	msg := conversation.Message{
		ID:        uuid.New().String(),
		Author:    registry.AuthorUser,
		Role:      conversation.RoleUser,
		Content:   content,
		Timestamp: e.clk.Now(),
	}
	if e.scorer != nil {
		s := e.scorer.Sentiment(content)
		msg.Sentiment = &s
	}
	if rec.Topic != "" {
		msg.Topics = []string{rec.Topic}
	}
	if err := e.convs.Append(convID, msg); err != nil {
		return err
	}
	e.refreshMetrics(convID)
	e.announceMessage(rec.Context.District, convID, msg)
	return nil
}

// refreshMetrics recomputes the derived snapshot from the current log.
func (e *Engine) refreshMetrics(convID string) conversation.MetricsSnapshot {
	rec, err := e.convs.Get(convID)
	if err != nil {
		return conversation.MetricsSnapshot{}
	}
	snap := e.computeMetrics(rec)
	if err := e.convs.SetMetrics(convID, snap); err != nil {
		e.logger.Warn("metrics update failed",
			zap.String("conversation", convID), zap.Error(err))
	}
	return snap
}

func (e *Engine) announceMessage(district, convID string, msg conversation.Message) {
	ev := event.MessageAdded{
		ConversationID: convID,
		InDistrict:     district,
		Message:        msg,
	}
	e.dispatcher.Publish(ev)
	if e.broadcaster != nil {
		e.broadcaster.Broadcast(ev)
	}
}

// Terminate closes a conversation: synthetic summary, reservation release,
// archival, social-graph update, and a completion event with final metrics.
// Safe to call twice; the second call is a no-op.
func (e *Engine) Terminate(ctx context.Context, convID string, reason conversation.EndReason) error {
	rec, err := e.convs.Get(convID)
	if err != nil {
		return err
	}
	if rec.Status != conversation.StatusActive {
		return nil
	}

	summary := e.summarize(rec)
	sysMsg := conversation.Message{
		ID:        uuid.New().String(),
		Author:    registry.AuthorSystem,
		Role:      conversation.RoleSystem,
		Content:   summary,
		Timestamp: e.clk.Now(),
	}
	// Summary and end commit together; a racing terminator loses in the
	// store and leaves no second summary.
	if err := e.convs.EndWithSummary(convID, sysMsg, reason); err != nil {
		if errors.Is(err, conversation.ErrEnded) {
			return nil
		}
		return err
	}
	e.quota.Release(rec.Participants)

	final, err := e.convs.Get(convID)
	if err != nil {
		return err
	}
	snap := e.computeMetrics(final)
	if err := e.convs.SetMetrics(convID, snap); err != nil {
		e.logger.Warn("final metrics update failed",
			zap.String("conversation", convID), zap.Error(err))
	}

	e.recordInteractions(final, snap)

	ended := event.ConversationEnded{
		ConversationID: convID,
		Participants:   final.Participants,
		InDistrict:     final.Context.District,
		Reason:         reason,
		Messages:       len(final.Messages),
		Metrics:        snap,
		At:             e.clk.Now(),
	}
	e.dispatcher.Publish(ended)
	if e.broadcaster != nil {
		e.broadcaster.Broadcast(ended)
	}

	// Best-effort mirrors; failures are logged and swallowed.
	if e.archiver != nil {
		if err := e.archiver.ArchiveConversation(ctx, final); err != nil {
			e.logger.Warn("conversation archive failed",
				zap.String("conversation", convID), zap.Error(err))
		}
	}
	if e.social != nil && len(final.Participants) > 1 {
		boost := 0.02 + 0.05*snap.Quality
		if err := e.social.RecordConversation(ctx, final.Participants, summary, boost); err != nil {
			e.logger.Warn("social graph update failed",
				zap.String("conversation", convID), zap.Error(err))
		}
	}
	return nil
}

// recordInteractions feeds the registry's recency windows for every
// participant pair.
func (e *Engine) recordInteractions(rec *conversation.Record, snap conversation.MetricsSnapshot) {
	now := e.clk.Now()
	for _, id := range rec.Participants {
		for _, other := range rec.Participants {
			if id == other {
				continue
			}
			e.reg.RecordInteraction(id, registry.Interaction{
				WithID:         other,
				ConversationID: rec.ID,
				At:             now,
				Sentiment:      snap.EmotionalState,
			})
		}
	}
}

// markInFlight claims the single-turn-in-flight slot for a conversation.
// It must be taken before any suspension point in turn execution.
func (e *Engine) markInFlight(convID string) bool {
	e.flightMu.Lock()
	defer e.flightMu.Unlock()
	if _, busy := e.inFlight[convID]; busy {
		return false
	}
	e.inFlight[convID] = struct{}{}
	return true
}

func (e *Engine) clearInFlight(convID string) {
	e.flightMu.Lock()
	defer e.flightMu.Unlock()
	delete(e.inFlight, convID)
}

// randFloat and randIntn guard the shared random source.
func (e *Engine) randFloat() float64 {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return e.rng.Float64()
}

func (e *Engine) randIntn(n int) int {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return e.rng.Intn(n)
}

func (e *Engine) sampleConditions(district string, t time.Time) city.Conditions {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return e.districts.SampleConditions(e.rng, district, t)
}
