package conversation

import (
	"regexp"
	"strings"
)

// handoffPatterns recognize explicit requests for a human in common phrasings.
var handoffPatterns = []*regexp.Regexp{
	// talk/speak/chat/connect/transfer ... to/with ... a human/person/agent/...
	regexp.MustCompile(`(?i)\b(talk|speak|chat|connect|transfer|put|pass)\b(\s+me)?(\s+\w+){0,3}?\s+(to|with|through to)\s+(a|an|the|some|your|one of your)?\s*(real|live|actual)?\s*(human|person|people|agent|representative|rep|operator|staff member|somebody|someone|team member|care team|support team|member of (your|the) (care |support )?team)\b`),
	// I want / need / can I get ... a human / real person / live agent
	regexp.MustCompile(`(?i)\b(i want|i need|i'd like|i would like|can i get|could i get|give me|get me|let me have)\b(\s+\w+){0,3}?\s+(a|an|to a)?\s*(human|real person|live person|actual person|live agent|human agent|representative)\b`),
	// transfer me / escalate this / hand me over
	regexp.MustCompile(`(?i)\b(transfer|escalate)\s+(me|this|my (case|chat|conversation))\b`),
	regexp.MustCompile(`(?i)\bhand\s+(me|this)\s+(over|off)\b`),
	// single word: "human", "agent please", "representative!"
	regexp.MustCompile(`(?i)^\s*(a\s+)?(human|agent|representative|operator|real person|live agent)(\s+please)?\s*[.!?]*\s*$`),
}

// IsHandoffRequest reports whether text explicitly asks for a human.
func IsHandoffRequest(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	for _, re := range handoffPatterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}
