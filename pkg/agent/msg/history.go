// Package msg turns stored conversation history into completion messages.
package msg

import (
	"fmt"
	"strings"

	"github.com/vortexion256/caremax-sub002/pkg/agent/llm"
	"github.com/vortexion256/caremax-sub002/pkg/proto"
	"github.com/vortexion256/caremax-sub002/pkg/utils"
)

// StaffPrefix marks replies a human team member wrote, so the model can tell
// them apart from its own earlier answers.
const StaffPrefix = "[Team member]: "

// ValidationError describes history that cannot be sent to a model.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("message validation error - %s: '%s' (%s)", e.Field, e.Value, e.Reason)
}

// rolePrefixes are stripped from customer text so it cannot pose as another author.
var rolePrefixes = []string{"[]", "[assistant]", "[user]", "[system]", "[tool]", "[team member]:"}

// Sanitize trims content and removes leading role markers.
func Sanitize(content string) string {
	content = strings.TrimSpace(content)
	for changed := true; changed; {
		changed = false
		lower := strings.ToLower(content)
		for _, p := range rolePrefixes {
			if strings.HasPrefix(lower, p) {
				content = strings.TrimSpace(content[len(p):])
				changed = true
				break
			}
		}
	}
	return content
}

// Build converts history into messages after a system prompt. Empty turns
// are dropped, human agent replies become assistant messages carrying
// StaffPrefix, consecutive turns of one role are merged, and leading
// assistant turns are removed so the first message after the system prompt
// is from the customer. When maxTokens is positive the oldest turns are
// dropped until the estimate fits, always keeping the last customer turn.
func Build(system string, history []proto.ChatTurn, maxTokens int) ([]llm.CompletionMessage, error) {
	var turns []llm.CompletionMessage
	for _, t := range history {
		var m llm.CompletionMessage
		switch t.Role {
		case proto.RoleUser:
			m = llm.NewUserMessage(Sanitize(t.Content))
		case proto.RoleAssistant:
			m = llm.NewAssistantMessage(strings.TrimSpace(t.Content))
		case proto.RoleHumanAgent:
			if c := strings.TrimSpace(t.Content); c != "" {
				m = llm.NewAssistantMessage(StaffPrefix + c)
			}
		default:
			return nil, ValidationError{Field: "role", Value: string(t.Role), Reason: "role must be one of: user, assistant, human_agent"}
		}
		if m.Content == "" {
			continue
		}
		if n := len(turns); n > 0 && turns[n-1].Role == m.Role {
			turns[n-1].Content += "\n\n" + m.Content
			continue
		}
		turns = append(turns, m)
	}

	for len(turns) > 0 && turns[0].Role != llm.RoleUser {
		turns = turns[1:]
	}
	if len(turns) == 0 {
		return nil, ValidationError{Field: "history", Value: "[]", Reason: "at least one customer message is required"}
	}

	if maxTokens > 0 {
		turns = fit(system, turns, maxTokens)
	}

	out := make([]llm.CompletionMessage, 0, len(turns)+1)
	if s := strings.TrimSpace(system); s != "" {
		out = append(out, llm.NewSystemMessage(s))
	}
	return append(out, turns...), nil
}

// LastUserMessage returns the content of the most recent customer turn.
func LastUserMessage(history []proto.ChatTurn) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == proto.RoleUser {
			if s := Sanitize(history[i].Content); s != "" {
				return s
			}
		}
	}
	return ""
}

func fit(system string, turns []llm.CompletionMessage, maxTokens int) []llm.CompletionMessage {
	total := utils.CountTokens(system)
	sizes := make([]int, len(turns))
	for i := range turns {
		sizes[i] = utils.CountTokens(turns[i].Content) + 4
		total += sizes[i]
	}
	start := 0
	for total > maxTokens && start < len(turns)-1 {
		total -= sizes[start]
		start++
	}
	// Keep the window opening on a customer turn.
	for start < len(turns)-1 && turns[start].Role != llm.RoleUser {
		start++
	}
	return turns[start:]
}
