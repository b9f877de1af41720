package memory

import (
	"fmt"
	"strings"

	"github.com/vortexion256/caremax-sub002/pkg/proto"
)

const maxTraceField = 160

// FormatExecutionLogs renders the last k attempts as one line each:
//
//	✓ sheet_query({"date":"2026-03-02"}) -> [...]
//	✗ append_booking({...}) -> sheet unavailable
func FormatExecutionLogs(logs []proto.ExecutionLog, k int) string {
	if k > 0 && len(logs) > k {
		logs = logs[len(logs)-k:]
	}
	var sb strings.Builder
	for i := range logs {
		l := &logs[i]
		mark, outcome := "✓", l.Result
		if !l.Success {
			mark, outcome = "✗", l.Error
		}
		fmt.Fprintf(&sb, "%s %s(%s) -> %s", mark, l.ToolName, truncate(l.Arguments), truncate(outcome))
		if l.Verified != nil {
			if *l.Verified {
				sb.WriteString(" [verified]")
			} else {
				sb.WriteString(" [NOT verified]")
			}
		}
		if l.Attempt > 1 {
			fmt.Fprintf(&sb, " (attempt %d)", l.Attempt)
		}
		sb.WriteByte('\n')
	}
	return strings.TrimRight(sb.String(), "\n")
}

func truncate(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= maxTraceField {
		return s
	}
	return s[:maxTraceField] + "…"
}

// Render formats the context as system prompt sections. Structured state
// comes first and is marked authoritative.
func (c *AgentContext) Render() string {
	var sb strings.Builder

	if len(c.Notes) > 0 || c.Plan != nil {
		sb.WriteString("## Current state (authoritative, overrides anything in the conversation)\n")
		if c.Plan != nil {
			sb.WriteString(RenderPlan(c.Plan))
		}
		if len(c.Notes) > 0 {
			sb.WriteString("Notes:\n")
			for i := range c.Notes {
				fmt.Fprintf(&sb, "- [%s] %s\n", c.Notes[i].Category, c.Notes[i].Content)
			}
		}
		sb.WriteByte('\n')
	}

	if c.ConversationMemory.Summary != "" {
		sb.WriteString("## Earlier in this conversation\n")
		sb.WriteString(c.ConversationMemory.Summary)
		sb.WriteString("\n\n")
	}

	if c.ExecutionTrace != "" {
		sb.WriteString("## Recent tool activity (do not repeat successful calls)\n")
		sb.WriteString(c.ExecutionTrace)
		sb.WriteString("\n\n")
	}

	if len(c.Summaries) > 0 {
		sb.WriteString("## Relevant past conversations\n")
		for i := range c.Summaries {
			fmt.Fprintf(&sb, "- %s", c.Summaries[i].Summary)
			if len(c.Summaries[i].Topics) > 0 {
				fmt.Fprintf(&sb, " (topics: %s)", strings.Join(c.Summaries[i].Topics, ", "))
			}
			sb.WriteByte('\n')
		}
		sb.WriteByte('\n')
	}

	if len(c.RAGChunks) > 0 {
		sb.WriteString("## Knowledge base excerpts\n")
		for _, chunk := range c.RAGChunks {
			sb.WriteString(chunk)
			sb.WriteString("\n\n")
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

// RenderPlan formats a plan with per-step status.
func RenderPlan(p *proto.ExecutionPlan) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Plan for %q (%s, current step %d):\n", p.Request, p.Status, p.CurrentStep)
	for i := range p.Steps {
		s := &p.Steps[i]
		fmt.Fprintf(&sb, "  %d. [%s] %s", s.StepNumber, s.Status, s.Description)
		if s.ToolToUse != "" {
			fmt.Fprintf(&sb, " (tool: %s)", s.ToolToUse)
		}
		sb.WriteByte('\n')
	}
	if len(p.MissingInfo) > 0 {
		fmt.Fprintf(&sb, "Still needed from the user: %s\n", strings.Join(p.MissingInfo, ", "))
	}
	return sb.String()
}
