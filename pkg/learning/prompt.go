package learning

import (
	"fmt"
	"strings"

	"github.com/motionlabs/cswatch/ent"
	"github.com/motionlabs/cswatch/ent/messageevent"
	"github.com/motionlabs/cswatch/pkg/llm"
)

const learningSystemPrompt = `You are the knowledge keeper for a clinic customer-service team.
You receive the team's previous accumulated understanding (possibly empty) and
a sample of recent support conversations. Produce an UPDATED understanding of
how customers ask and how staff respond: recurring topics, phrasing patterns,
resolution playbooks, timing expectations, and anything the team keeps getting
wrong. Keep what is still true from the previous understanding, revise what
changed. Respond with a single JSON object:
{
  "understanding": the full updated understanding as free-form text (Korean ok),
  "key_insights": 3 to 7 short bullet strings with the most actionable findings
}`

const maxLearningTurnChars = 300

// ticketGroup is one sampled ticket with its window events, oldest first.
type ticketGroup struct {
	ticket *ent.Ticket
	events []*ent.MessageEvent
}

// buildCorpusPrompt renders the previous understanding and the sampled
// tickets into the single learning conversation.
func buildCorpusPrompt(previous string, groups []ticketGroup) []llm.Message {
	var b strings.Builder

	b.WriteString("Previous understanding:\n")
	if previous == "" {
		b.WriteString("(none yet — this is the first run)\n")
	} else {
		b.WriteString(previous)
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "\nSampled conversations (%d tickets):\n", len(groups))
	for _, g := range groups {
		fmt.Fprintf(&b, "\n--- %s | status=%s priority=%s", g.ticket.ClinicKey, g.ticket.Status, g.ticket.Priority)
		if g.ticket.TopicPrimary != nil {
			fmt.Fprintf(&b, " topic=%s", *g.ticket.TopicPrimary)
		}
		if g.ticket.FirstResponseSec != nil {
			fmt.Fprintf(&b, " first_response=%ds", *g.ticket.FirstResponseSec)
		}
		b.WriteString(" ---\n")
		for _, ev := range g.events {
			role := "customer"
			if ev.SenderType == messageevent.SenderTypeStaff {
				role = "staff"
			}
			fmt.Fprintf(&b, "[%s] %s\n", role, clipRunes(ev.TextRaw, maxLearningTurnChars))
		}
	}

	return []llm.Message{
		{Role: llm.RoleSystem, Content: learningSystemPrompt},
		{Role: llm.RoleUser, Content: b.String()},
	}
}

func clipRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}
