package agent

import (
	"fmt"
	"strings"

	"github.com/vortexion256/caremax-sub002/pkg/agent/toolloop"
	"github.com/vortexion256/caremax-sub002/pkg/memory"
	"github.com/vortexion256/caremax-sub002/pkg/proto"
	"github.com/vortexion256/caremax-sub002/pkg/tools"
)

// SafeReply is sent when no pipeline could produce an answer.
const SafeReply = "I'm sorry, I'm having trouble right now. Please try again in a moment, or ask to speak with a member of our team."

// HandoffAck answers a customer who asked for a person.
const HandoffAck = "I'll connect you with a member of our team. Someone will join this conversation shortly."

const defaultAgentName = "the support assistant"

const baseRules = `Rules:
- Answer in the customer's language, briefly and warmly.
- Use the tools for anything about availability, bookings or the organization's own information. Never invent times, prices or policies.
- Only say a booking or change was made when the tool result confirms it.
- If a tool fails, apologise and offer an alternative instead of repeating the failing call.`

var handoffRule = fmt.Sprintf(`- If the customer asks for a person, or the request needs a human decision (complaints, refunds, medical advice), tell them a team member will follow up and end your reply with %s.`, toolloop.HandoffMarker)

// systemPrompt renders the tenant persona, the assembled context, the tool
// list and any pipeline guidance into one system message.
func systemPrompt(ts *proto.TenantSettings, ac *memory.AgentContext, reg *tools.Registry, guidance string) string {
	name := strings.TrimSpace(ts.AgentName)
	if name == "" {
		name = defaultAgentName
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "You are %s, answering customers on behalf of the organization.\n", name)
	if p := strings.TrimSpace(ts.SystemPrompt); p != "" {
		sb.WriteString(p)
		sb.WriteString("\n")
	}
	sb.WriteString("\n")
	sb.WriteString(baseRules)
	sb.WriteString("\n")
	sb.WriteString(handoffRule)
	sb.WriteString("\n\n")

	if ac != nil {
		if rendered := ac.Render(); rendered != "" {
			sb.WriteString(rendered)
			sb.WriteString("\n\n")
		}
	}
	if reg != nil && len(reg.Names()) > 0 {
		sb.WriteString(reg.Documentation())
		sb.WriteString("\n")
	}
	if g := strings.TrimSpace(guidance); g != "" {
		sb.WriteString("## Guidance for this reply\n")
		sb.WriteString(g)
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}
