package intent

import (
	"regexp"
	"strings"

	"github.com/vortexion256/caremax-sub002/pkg/conversation"
	"github.com/vortexion256/caremax-sub002/pkg/tools"
)

type rule struct {
	intent Intent
	match  func(text string) bool
	tools  []string
}

func pattern(expr string) func(string) bool {
	re := regexp.MustCompile(expr)
	return re.MatchString
}

// rules are tried in order; the first match wins.
var rules = []rule{
	{
		intent: RequestHuman,
		match:  conversation.IsHandoffRequest,
	},
	{
		intent: ConfirmAction,
		match:  pattern(`(?i)^\s*(yes|yeah|yep|yup|sure|ok|okay|confirm|confirmed|go ahead|sounds good|that works|that's fine|please do|correct|perfect|do it|book it)\b[\w\s,.!']{0,40}$`),
		tools:  []string{tools.ToolAppendBooking},
	},
	{
		intent: BookAppointment,
		match:  pattern(`(?i)\b(book|booking|schedule|reschedule|reserve|make an appointment|set up an appointment|appointment for|come in (on|at|for))\b`),
		tools:  []string{tools.ToolSheetQuery, tools.ToolAppendBooking},
	},
	{
		intent: CheckAvailability,
		match:  pattern(`(?i)\b(available|availability|free slots?|open slots?|openings|any slots?|any time|what times|which days|when can i come|are you free)\b`),
		tools:  []string{tools.ToolSheetQuery},
	},
	{
		intent: CreateNote,
		match:  pattern(`(?i)\b(remember (that|this|my)|make a note|note that|write (it|this|that) down|write down|record that|keep in mind|for your records)\b`),
		tools:  []string{tools.ToolCreateNote},
	},
	{
		intent: QueryInformation,
		match: func(text string) bool {
			return strings.HasSuffix(strings.TrimSpace(text), "?") || questionStart.MatchString(text) || infoTopic.MatchString(text)
		},
		tools: []string{tools.ToolSearchKnowledge},
	},
}

var (
	questionStart = regexp.MustCompile(`(?i)^\s*(what|when|where|how|who|which|why|do you|does|is there|are there|are you|can you tell|could you tell|tell me)\b`)
	infoTopic     = regexp.MustCompile(`(?i)\b(hours|opening times|price|prices|pricing|cost|costs|fee|fees|insurance|location|address|parking|directions|policy|policies|services)\b`)
)

// Fallback classifies message with ordered patterns. Confidence is fixed.
func (e *Extractor) Fallback(message string) Result {
	res := Result{
		Intent:     GeneralConversation,
		Confidence: e.fallbackConfidence,
		Entities:   ExtractEntities(message),
		Source:     SourceFallback,
	}
	for _, r := range rules {
		if r.match(message) {
			res.Intent = r.intent
			res.SuggestedTools = append([]string(nil), r.tools...)
			res.RequiresTools = len(r.tools) > 0
			break
		}
	}
	return res
}

var (
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9-]+(\.[A-Za-z0-9-]+)+`)
	phonePattern = regexp.MustCompile(`\+?\(?\d[\d\s().-]{6,}\d`)
	datePattern  = regexp.MustCompile(`(?i)\b(` +
		`\d{4}-\d{2}-\d{2}` +
		`|\d{1,2}/\d{1,2}(/\d{2,4})?` +
		`|(jan|feb|mar|apr|may|jun|jul|aug|sep|sept|oct|nov|dec)[a-z]*\.?\s+\d{1,2}(st|nd|rd|th)?` +
		`|\d{1,2}(st|nd|rd|th)?\s+(of\s+)?(jan|feb|mar|apr|may|jun|jul|aug|sep|sept|oct|nov|dec)[a-z]*` +
		`|today|tomorrow|tonight|day after tomorrow` +
		`|(next|this)\s+(week|monday|tuesday|wednesday|thursday|friday|saturday|sunday)` +
		`|monday|tuesday|wednesday|thursday|friday|saturday|sunday` +
		`)\b`)
	timePattern    = regexp.MustCompile(`(?i)\b(\d{1,2}(:\d{2})?\s?(am|pm|a\.m\.|p\.m\.)|\d{1,2}:\d{2}|noon|midnight|morning|afternoon|evening)`)
	namePattern    = regexp.MustCompile(`(?i:my name is|this is|i am|i'm|name's)\s+([A-Z][a-z]+(?:\s+[A-Z][a-z]+)?)`)
	servicePattern = regexp.MustCompile(`(?i)\b(cleaning|check-?up|consultation|filling|whitening|x-?ray|extraction|root canal|crown|vaccination|vaccine|blood test|physiotherapy|massage|haircut|follow-?up|eye exam|dental exam)s?\b`)
)

// ExtractEntities finds dates, times, phone numbers, emails, names and
// services with patterns.
func ExtractEntities(text string) Entities {
	var ent Entities
	ent.Email = emailPattern.FindString(text)
	ent.Date = datePattern.FindString(text)
	if m := timePattern.FindStringSubmatch(text); m != nil {
		ent.Time = strings.TrimSpace(m[1])
	}

	// Dates, times and emails look like digit runs; blank them before
	// looking for a phone number.
	rest := emailPattern.ReplaceAllString(text, " ")
	rest = datePattern.ReplaceAllString(rest, " ")
	rest = timePattern.ReplaceAllString(rest, " ")
	for _, cand := range phonePattern.FindAllString(rest, -1) {
		if digitCount(cand) >= 7 {
			ent.Phone = strings.TrimSpace(cand)
			break
		}
	}

	if m := namePattern.FindStringSubmatch(text); m != nil {
		ent.Name = m[1]
	}
	if m := servicePattern.FindStringSubmatch(text); m != nil {
		ent.Service = strings.ToLower(m[1])
	}
	return ent
}

func digitCount(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}
