package memory

import (
	"regexp"
	"sort"
	"strings"
)

// topicVocabulary is the fixed set of support topics recognized in
// conversation text. Multi-word entries match as phrases.
var topicVocabulary = []string{
	"appointment", "booking", "schedule", "cancel", "reschedule",
	"availability", "price", "cost", "payment", "insurance", "billing",
	"refund", "hours", "location", "parking", "doctor", "dentist",
	"prescription", "test results", "symptoms", "emergency", "vaccination",
	"referral", "account", "password", "delivery", "order", "complaint",
	"feedback", "subscription",
}

var topicPatterns = func() []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(topicVocabulary))
	for i, topic := range topicVocabulary {
		// Allow simple plurals and verb forms: appointments, cancelled, booking(s).
		out[i] = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(topic) + `(s|es|ed|led|ing)?\b`)
	}
	return out
}()

// ExtractTopics returns up to max vocabulary topics mentioned in text, most
// frequent first; ties keep vocabulary order.
func ExtractTopics(text string, max int) []string {
	type hit struct {
		topic string
		count int
		order int
	}
	var hits []hit
	for i, re := range topicPatterns {
		if n := len(re.FindAllStringIndex(text, -1)); n > 0 {
			hits = append(hits, hit{topic: topicVocabulary[i], count: n, order: i})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].count > hits[j].count
	})
	if max > 0 && len(hits) > max {
		hits = hits[:max]
	}
	topics := make([]string, len(hits))
	for i := range hits {
		topics[i] = hits[i].topic
	}
	return topics
}

func overlap(a, b []string) int {
	set := make(map[string]bool, len(a))
	for _, s := range a {
		set[strings.ToLower(s)] = true
	}
	n := 0
	for _, s := range b {
		if set[strings.ToLower(s)] {
			n++
		}
	}
	return n
}
