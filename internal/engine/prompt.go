package engine

import (
	"fmt"
	"strings"

	"github.com/nidhogg/agora/internal/city"
	"github.com/nidhogg/agora/internal/conversation"
	"github.com/nidhogg/agora/internal/registry"
)

// buildPrompt assembles the system prompt for one turn: who the speaker is,
// where they are, what the district feels like right now, and what has been
// said so far.
func (e *Engine) buildPrompt(speaker *registry.Agent, rec *conversation.Record, cond city.Conditions, recall []string) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("You are %s, a resident of the city.\n", speaker.Name))
	if speaker.Backstory != "" {
		b.WriteString(speaker.Backstory)
		b.WriteString("\n")
	}
	if speaker.Style != "" {
		b.WriteString(fmt.Sprintf("You speak in a %s manner.\n", speaker.Style))
	}
	if len(speaker.Interests) > 0 {
		b.WriteString(fmt.Sprintf("You care about: %s.\n", strings.Join(speaker.Interests, ", ")))
	}
	b.WriteString(describeTraits(speaker))

	b.WriteString(fmt.Sprintf("\nYou are at %s", rec.Context.Location))
	if rec.Context.Activity != "" {
		b.WriteString(fmt.Sprintf(", %s", rec.Context.Activity))
	}
	b.WriteString(".\n")

	mood := e.districts.Mood(rec.Context.District)
	culture := e.districts.Culture(rec.Context.District)
	b.WriteString(fmt.Sprintf("The %s district feels %s today", rec.Context.District, moodWord(mood)))
	if culture != "" {
		b.WriteString(fmt.Sprintf("; the local culture is %s", culture))
	}
	b.WriteString(".\n")
	b.WriteString(describeConditions(cond))

	if rec.Topic != "" {
		b.WriteString(fmt.Sprintf("\nThe conversation is about %s.\n", rec.Topic))
	}
	if len(rec.TopicHistory) > 0 {
		b.WriteString(fmt.Sprintf("Earlier you talked about %s.\n", strings.Join(rec.TopicHistory, ", ")))
	}

	if len(recall) > 0 {
		b.WriteString("\nThings you remember hearing around the neighborhood:\n")
		for _, s := range recall {
			b.WriteString("- ")
			b.WriteString(s)
			b.WriteString("\n")
		}
	}

	recent := rec.Messages
	if len(recent) > recentPromptMessages {
		recent = recent[len(recent)-recentPromptMessages:]
	}
	if len(recent) > 0 {
		b.WriteString("\nRecent exchange:\n")
		for _, m := range recent {
			if m.Role == conversation.RoleSystem {
				continue
			}
			name := m.Author
			if agent, err := e.reg.Get(m.Author); err == nil {
				name = agent.Name
			}
			b.WriteString(fmt.Sprintf("[%s] %s\n", name, m.Content))
		}
	}

	b.WriteString("\nReply with your next line only, staying in character. ")
	if cond.TimePressure > 0.6 {
		b.WriteString("You are pressed for time; keep it to a sentence or two.")
	} else {
		b.WriteString("Keep it conversational, a few sentences at most.")
	}
	return b.String()
}

// describeTraits turns the numeric personality vector into prose the model
// can act on. Only pronounced traits are mentioned.
func describeTraits(a *registry.Agent) string {
	var parts []string
	add := func(trait, high, low string) {
		switch v := a.Trait(trait); {
		case v >= 0.7:
			parts = append(parts, high)
		case v <= 0.3:
			parts = append(parts, low)
		}
	}
	add(registry.TraitExtroversion, "outgoing and talkative", "reserved and quiet")
	add(registry.TraitOpenness, "curious about new ideas", "set in your ways")
	add(registry.TraitAgreeable, "warm and accommodating", "blunt and contrarian")
	add(registry.TraitCuriosity, "full of questions", "uninterested in small talk")
	add(registry.TraitCommunity, "invested in the neighborhood", "detached from local affairs")
	if len(parts) == 0 {
		return ""
	}
	return fmt.Sprintf("You are %s.\n", strings.Join(parts, ", "))
}

func describeConditions(c city.Conditions) string {
	var parts []string
	if c.Noise > 0.6 {
		parts = append(parts, "it is noisy")
	}
	if c.Crowding > 0.6 {
		parts = append(parts, "the place is crowded")
	} else if c.Crowding < 0.2 {
		parts = append(parts, "the place is nearly empty")
	}
	if len(parts) == 0 {
		return ""
	}
	return fmt.Sprintf("Right now %s.\n", strings.Join(parts, " and "))
}

func moodWord(m float64) string {
	switch {
	case m >= 0.7:
		return "lively"
	case m >= 0.5:
		return "pleasant"
	case m >= 0.3:
		return "subdued"
	default:
		return "gloomy"
	}
}
