package plan

import (
	"fmt"
	"strings"

	"github.com/vortexion256/caremax-sub002/pkg/intent"
	"github.com/vortexion256/caremax-sub002/pkg/proto"
)

// MissingInfo lists required fields the customer has not given yet.
type MissingInfo struct {
	MissingFields []string `json:"missing_fields"`
	// Prompt asks for every missing field at once. Empty when nothing is missing.
	Prompt string `json:"prompt,omitempty"`
}

// fieldCues are phrases that show the customer supplied a field.
var fieldCues = map[string][]string{
	"name":    {"my name is", "name is", "i'm ", "i am ", "this is ", "name:", "call me "},
	"phone":   {"my number", "phone number is", "phone is", "phone:", "mobile", "cell", "reach me at", "call me on", "call me at", "whatsapp"},
	"email":   {"my email", "email is", "email:", "e-mail"},
	"date":    {"today", "tomorrow", "next week", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday", "on the "},
	"time":    {"o'clock", "morning", "afternoon", "evening", "noon", " am", " pm"},
	"service": {"cleaning", "checkup", "check-up", "consultation", "appointment for"},
}

// aliases maps common field spellings onto the canonical keys above.
var aliases = map[string]string{
	"full name":        "name",
	"customer name":    "name",
	"patient name":     "name",
	"phone number":     "phone",
	"mobile number":    "phone",
	"contact number":   "phone",
	"telephone":        "phone",
	"email address":    "email",
	"preferred date":   "date",
	"appointment date": "date",
	"day":              "date",
	"preferred time":   "time",
	"appointment time": "time",
	"slot":             "time",
	"service type":     "service",
	"treatment":        "service",
}

var labels = map[string]string{
	"name":    "your full name",
	"phone":   "a phone number",
	"email":   "an email address",
	"date":    "the preferred date",
	"time":    "the preferred time",
	"service": "the service you need",
}

func canonical(field string) string {
	f := strings.ToLower(strings.TrimSpace(strings.ReplaceAll(field, "_", " ")))
	if c, ok := aliases[f]; ok {
		return c
	}
	return f
}

// CheckMissingInfo reports which of required the customer has not provided
// in recentTurns. A field counts as provided when a customer message
// contains its name, a known cue for it, or a value of its shape.
func CheckMissingInfo(required []string, recentTurns []proto.ChatTurn) MissingInfo {
	var text strings.Builder
	for _, t := range recentTurns {
		if t.Role == proto.RoleUser {
			text.WriteString(t.Content)
			text.WriteString("\n")
		}
	}
	raw := text.String()
	lower := strings.ToLower(raw)
	found := intent.ExtractEntities(raw)

	var out MissingInfo
	seen := make(map[string]bool)
	for _, field := range required {
		key := canonical(field)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		if provided(key, lower, found) {
			continue
		}
		out.MissingFields = append(out.MissingFields, field)
	}
	if len(out.MissingFields) > 0 {
		out.Prompt = prompt(out.MissingFields)
	}
	return out
}

func provided(key, lower string, found intent.Entities) bool {
	switch key {
	case "name":
		if found.Name != "" {
			return true
		}
	case "phone":
		if found.Phone != "" {
			return true
		}
	case "email":
		if found.Email != "" {
			return true
		}
	case "date":
		if found.Date != "" {
			return true
		}
	case "time":
		if found.Time != "" {
			return true
		}
	case "service":
		if found.Service != "" {
			return true
		}
	}
	for _, cue := range fieldCues[key] {
		if strings.Contains(lower, cue) {
			return true
		}
	}
	// Fields without known cues match on their own name.
	if _, known := fieldCues[key]; !known {
		return strings.Contains(lower, key)
	}
	return false
}

func prompt(fields []string) string {
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		key := canonical(f)
		if l, ok := labels[key]; ok {
			parts = append(parts, l)
		} else {
			parts = append(parts, "your "+key)
		}
	}
	var list string
	switch len(parts) {
	case 1:
		list = parts[0]
	default:
		list = strings.Join(parts[:len(parts)-1], ", ") + " and " + parts[len(parts)-1]
	}
	return fmt.Sprintf("To continue, could you please share %s?", list)
}
