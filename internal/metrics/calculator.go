// Package metrics derives conversation health scores from a record
// snapshot. Every function is deterministic, tolerates empty or short logs
// by returning its documented neutral default, and never mutates the record.
package metrics

import (
	"math"
	"strings"
	"time"

	"github.com/nidhogg/agora/internal/conversation"
)

// Neutral defaults for empty or short logs.
const (
	NeutralMomentum   = 0.5
	NeutralSilence    = 0.2
	NeutralEmotion    = 0.5
	NeutralBalance    = 0.5
	NeutralRelevance  = 0.5
	NeutralDepth      = 0.5
	NeutralQuality    = 0.5
	NeutralEngagement = 0.5
)

// Momentum bounds. The score never saturates fully in either direction.
const (
	MomentumFloor = 0.1
	MomentumCeil  = 0.9
)

// DefaultExhaustionThreshold is the message count per topic at which the
// count component of exhaustion saturates.
const DefaultExhaustionThreshold = 5

// Params holds the tunables the calculator needs.
type Params struct {
	ExhaustionThreshold int
}

func (p Params) threshold() int {
	if p.ExhaustionThreshold <= 0 {
		return DefaultExhaustionThreshold
	}
	return p.ExhaustionThreshold
}

// Momentum scores how rapidly a conversation is progressing from its
// inter-message timing. It rises when the latest gap beats the running
// average and decays otherwise, clamped to [MomentumFloor, MomentumCeil].
// Logs with fewer than two intervals score NeutralMomentum.
func Momentum(msgs []conversation.Message) float64 {
	gaps := intervals(msgs)
	if len(gaps) < 2 {
		return NeutralMomentum
	}
	m := NeutralMomentum
	sum := gaps[0]
	for i := 1; i < len(gaps); i++ {
		avg := sum / float64(i)
		if gaps[i] < avg {
			m += 0.08
		} else {
			m *= 0.9
		}
		sum += gaps[i]
	}
	return clamp(m, MomentumFloor, MomentumCeil)
}

// SilenceProbability grows with the coefficient of variation of the
// inter-message intervals: erratic pacing predicts a lull.
func SilenceProbability(msgs []conversation.Message) float64 {
	gaps := intervals(msgs)
	if len(gaps) < 2 {
		return NeutralSilence
	}
	mean := meanOf(gaps)
	if mean <= 0 {
		return NeutralSilence
	}
	cv := stddevOf(gaps, mean) / mean
	return clamp(cv/(cv+1), 0, 1)
}

// TopicExhaustion estimates how talked-out a topic is: the average of the
// content-repetition ratio and the message-count ratio among messages
// tagged with the topic, clamped to [0,1]. Untouched topics score 0.
func TopicExhaustion(msgs []conversation.Message, topic string, p Params) float64 {
	var tagged []conversation.Message
	for _, m := range msgs {
		for _, t := range m.Topics {
			if t == topic {
				tagged = append(tagged, m)
				break
			}
		}
	}
	if len(tagged) == 0 {
		return 0
	}
	total, unique := 0, 0
	seen := make(map[string]struct{})
	for _, m := range tagged {
		for _, w := range contentWords(m.Content) {
			total++
			if _, ok := seen[w]; !ok {
				seen[w] = struct{}{}
				unique++
			}
		}
	}
	repetition := 0.0
	if total > 0 {
		repetition = 1 - float64(unique)/float64(total)
	}
	countRatio := math.Min(1, float64(len(tagged))/float64(p.threshold()))
	return clamp((repetition+countRatio)/2, 0, 1)
}

// EmotionalState blends the mean and volatility of the last five scored
// sentiments: 0.7·mean + 0.3·stddev. Unscored logs return NeutralEmotion.
func EmotionalState(msgs []conversation.Message) float64 {
	sents := lastSentiments(msgs, 5)
	if len(sents) == 0 {
		return NeutralEmotion
	}
	mean := meanOf(sents)
	vol := stddevOf(sents, mean)
	return clamp(0.7*mean+0.3*vol, 0, 1)
}

// TurnTakingBalance is 1 minus the normalized standard deviation of the
// per-participant message counts: 1.0 means perfectly even turns.
func TurnTakingBalance(msgs []conversation.Message, participants []string) float64 {
	counts := make(map[string]int, len(participants))
	for _, p := range participants {
		counts[p] = 0
	}
	spoke := 0
	for _, m := range msgs {
		if m.Role == conversation.RoleSystem {
			continue
		}
		if _, tracked := counts[m.Author]; tracked {
			counts[m.Author]++
			spoke++
		}
	}
	if spoke == 0 || len(counts) == 0 {
		return NeutralBalance
	}
	vals := make([]float64, 0, len(counts))
	for _, c := range counts {
		vals = append(vals, float64(c))
	}
	mean := meanOf(vals)
	if mean <= 0 {
		return NeutralBalance
	}
	return clamp(1-stddevOf(vals, mean)/mean, 0, 1)
}

// Engagement scores each participant from its share of the turns and the
// substance of its contributions.
func Engagement(msgs []conversation.Message, participants []string) map[string]float64 {
	out := make(map[string]float64, len(participants))
	counts := make(map[string]int, len(participants))
	lengths := make(map[string]int, len(participants))
	spoke := 0
	for _, m := range msgs {
		if m.Role == conversation.RoleSystem {
			continue
		}
		counts[m.Author]++
		lengths[m.Author] += len(m.Content)
		spoke++
	}
	for _, p := range participants {
		if counts[p] == 0 {
			out[p] = 0
			continue
		}
		share := float64(counts[p]) / float64(spoke) * float64(len(participants))
		avgLen := float64(lengths[p]) / float64(counts[p])
		out[p] = clamp(0.6*math.Min(1, share)+0.4*math.Min(1, avgLen/200), 0, 1)
	}
	return out
}

// ResponseLatencies averages, per author, the gap between each of their
// messages and the message before it.
func ResponseLatencies(msgs []conversation.Message) map[string]time.Duration {
	sums := make(map[string]time.Duration)
	counts := make(map[string]int)
	for i := 1; i < len(msgs); i++ {
		if msgs[i].Role == conversation.RoleSystem {
			continue
		}
		sums[msgs[i].Author] += msgs[i].Timestamp.Sub(msgs[i-1].Timestamp)
		counts[msgs[i].Author]++
	}
	out := make(map[string]time.Duration, len(sums))
	for author, sum := range sums {
		out[author] = sum / time.Duration(counts[author])
	}
	return out
}

// TopicInitiations counts, per author, how many topics each introduced
// first in the log.
func TopicInitiations(msgs []conversation.Message) map[string]int {
	out := make(map[string]int)
	seen := make(map[string]struct{})
	for _, m := range msgs {
		for _, t := range m.Topics {
			if _, known := seen[t]; !known {
				seen[t] = struct{}{}
				out[m.Author]++
			}
		}
	}
	return out
}

// ContextualRelevance measures how much the recent exchange still touches
// the current topic.
func ContextualRelevance(rec *conversation.Record) float64 {
	if rec.Topic == "" || len(rec.Messages) == 0 {
		return NeutralRelevance
	}
	recent := rec.Messages
	if len(recent) > 10 {
		recent = recent[len(recent)-10:]
	}
	topicWords := contentWords(rec.Topic)
	hits := 0
	for _, m := range recent {
		if touchesTopic(m, rec.Topic, topicWords) {
			hits++
		}
	}
	return clamp(float64(hits)/float64(len(recent)), 0, 1)
}

// ConversationDepth blends message substance, topic consistency, average
// engagement, and sentiment variance:
// 0.3·norm(avg length) + 0.3·consistency + 0.2·engagement + 0.2·variance.
func ConversationDepth(rec *conversation.Record) float64 {
	spoken := nonSystem(rec.Messages)
	if len(spoken) == 0 {
		return NeutralDepth
	}
	totalLen := 0
	for _, m := range spoken {
		totalLen += len(m.Content)
	}
	lengthNorm := math.Min(1, float64(totalLen)/float64(len(spoken))/240)

	consistency := NeutralRelevance
	tagged, onTopic := 0, 0
	for _, m := range spoken {
		if len(m.Topics) == 0 {
			continue
		}
		tagged++
		for _, t := range m.Topics {
			if t == rec.Topic {
				onTopic++
				break
			}
		}
	}
	if tagged > 0 {
		consistency = float64(onTopic) / float64(tagged)
	}

	eng := Engagement(rec.Messages, rec.Participants)
	avgEng := NeutralEngagement
	if len(eng) > 0 {
		sum := 0.0
		for _, v := range eng {
			sum += v
		}
		avgEng = sum / float64(len(eng))
	}

	variance := 0.0
	if sents := allSentiments(spoken); len(sents) > 1 {
		mean := meanOf(sents)
		sd := stddevOf(sents, mean)
		variance = math.Min(1, sd*sd*4) // variance of [0,1] values tops out at 0.25
	}

	return clamp(0.3*lengthNorm+0.3*consistency+0.2*avgEng+0.2*variance, 0, 1)
}

// QualityScore is the composite health score:
// 0.3·relevance + 0.3·depth + 0.2·balance + 0.2·mean(empathy, agreement).
// A log with zero sentiment-bearing messages scores NeutralQuality.
func QualityScore(rec *conversation.Record) float64 {
	if len(allSentiments(rec.Messages)) == 0 {
		return NeutralQuality
	}
	dyn := EmotionalDynamicsOf(rec.Messages)
	q := 0.3*ContextualRelevance(rec) +
		0.3*ConversationDepth(rec) +
		0.2*TurnTakingBalance(rec.Messages, rec.Participants) +
		0.2*(dyn.Empathy+dyn.Agreement)/2
	return clamp(q, 0, 1)
}

// Compute derives the full metrics snapshot for a record at the given time.
func Compute(rec *conversation.Record, now time.Time, p Params) conversation.MetricsSnapshot {
	snap := conversation.MetricsSnapshot{
		Momentum:            Momentum(rec.Messages),
		SilenceProbability:  SilenceProbability(rec.Messages),
		EmotionalState:      EmotionalState(rec.Messages),
		Dynamics:            EmotionalDynamicsOf(rec.Messages),
		Engagement:          Engagement(rec.Messages, rec.Participants),
		ContextualRelevance: ContextualRelevance(rec),
		Depth:               ConversationDepth(rec),
	}
	if !rec.LastMessageAt.IsZero() {
		snap.SilenceDuration = now.Sub(rec.LastMessageAt)
	}
	snap.TopicExhaustion = make(map[string]float64)
	if rec.Topic != "" {
		snap.TopicExhaustion[rec.Topic] = TopicExhaustion(rec.Messages, rec.Topic, p)
	}
	for _, t := range rec.TopicHistory {
		if _, done := snap.TopicExhaustion[t]; !done {
			snap.TopicExhaustion[t] = TopicExhaustion(rec.Messages, t, p)
		}
	}
	snap.Patterns = conversation.InteractionPatterns{
		TurnTakingBalance: TurnTakingBalance(rec.Messages, rec.Participants),
		ResponseLatencies: ResponseLatencies(rec.Messages),
		TopicInitiations:  TopicInitiations(rec.Messages),
	}
	snap.Quality = QualityScore(rec)
	return snap
}

// intervals returns the inter-message gaps in seconds for non-system
// messages, in log order.
func intervals(msgs []conversation.Message) []float64 {
	spoken := nonSystem(msgs)
	if len(spoken) < 2 {
		return nil
	}
	out := make([]float64, 0, len(spoken)-1)
	for i := 1; i < len(spoken); i++ {
		out = append(out, spoken[i].Timestamp.Sub(spoken[i-1].Timestamp).Seconds())
	}
	return out
}

func nonSystem(msgs []conversation.Message) []conversation.Message {
	out := make([]conversation.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role != conversation.RoleSystem {
			out = append(out, m)
		}
	}
	return out
}

func lastSentiments(msgs []conversation.Message, n int) []float64 {
	sents := allSentiments(msgs)
	if len(sents) > n {
		sents = sents[len(sents)-n:]
	}
	return sents
}

func allSentiments(msgs []conversation.Message) []float64 {
	var out []float64
	for _, m := range msgs {
		if m.Sentiment != nil {
			out = append(out, *m.Sentiment)
		}
	}
	return out
}

func touchesTopic(m conversation.Message, topic string, topicWords []string) bool {
	for _, t := range m.Topics {
		if t == topic {
			return true
		}
	}
	lower := strings.ToLower(m.Content)
	for _, w := range topicWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// contentWords lowercases and keeps words long enough to carry meaning.
func contentWords(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) > 3 {
			out = append(out, f)
		}
	}
	return out
}

func meanOf(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

func stddevOf(vals []float64, mean float64) float64 {
	if len(vals) < 2 {
		return 0
	}
	sum := 0.0
	for _, v := range vals {
		d := v - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(vals)))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
