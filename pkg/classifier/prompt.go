package classifier

import (
	"fmt"
	"strings"

	"github.com/motionlabs/cswatch/pkg/llm"
)

// PromptVersion identifies the classification prompt; stored on every
// annotation so results remain comparable across prompt changes.
const PromptVersion = "cs-classify/v2"

const classifySystemPrompt = `You are a customer-service analyst for clinic group chats.
Classify the LAST message of the conversation. Respond with a single JSON object:
{
  "topic": short topic label (Korean ok),
  "urgency": one of "low" | "medium" | "high" | "critical",
  "sentiment": one of "positive" | "neutral" | "negative",
  "intent": what the sender wants, one short phrase,
  "summary": one-sentence summary of the current inquiry state,
  "next_action": the concrete next step for our staff, one short phrase,
  "confidence": 0.0-1.0, how sure you are about urgency and topic
}
"critical" is reserved for service outages, medical-safety issues, and angry
escalations. Messages from our own staff are context, not complaints.`

// Turn is one prior message of the same ticket, oldest first.
type Turn struct {
	Staff bool
	Text  string
}

const maxTurnChars = 400

// BuildMessages assembles the classification conversation: room context, the
// last turns of the ticket, and the event under classification.
func BuildMessages(clinicKey, eventText string, eventStaff bool, history []Turn) []llm.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Room: %s\nPrompt-Version: %s\n\nConversation so far:\n", clinicKey, PromptVersion)
	if len(history) == 0 {
		b.WriteString("(no earlier messages)\n")
	}
	for _, turn := range history {
		fmt.Fprintf(&b, "[%s] %s\n", roleLabel(turn.Staff), clip(turn.Text, maxTurnChars))
	}
	fmt.Fprintf(&b, "\nClassify this message:\n[%s] %s\n", roleLabel(eventStaff), eventText)

	return []llm.Message{
		{Role: llm.RoleSystem, Content: classifySystemPrompt},
		{Role: llm.RoleUser, Content: b.String()},
	}
}

func roleLabel(staff bool) string {
	if staff {
		return "staff"
	}
	return "customer"
}

func clip(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}
