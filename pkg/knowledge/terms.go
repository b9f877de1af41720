// Package knowledge manages a tenant's curated agent records: chunking,
// keyword retrieval and agent-proposed modifications awaiting review.
package knowledge

import (
	"regexp"
	"sort"
	"strings"
)

var tokenPattern = regexp.MustCompile(`[a-zA-Z0-9_'-]+`)

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true,
	"but": true, "in": true, "on": true, "at": true, "to": true,
	"for": true, "of": true, "with": true, "by": true, "from": true,
	"as": true, "is": true, "are": true, "was": true, "were": true,
	"be": true, "been": true, "being": true, "have": true, "has": true,
	"had": true, "do": true, "does": true, "did": true, "will": true,
	"would": true, "should": true, "could": true, "may": true, "might": true,
	"must": true, "can": true, "this": true, "that": true, "these": true,
	"those": true, "i": true, "you": true, "he": true, "she": true,
	"it": true, "we": true, "they": true, "what": true, "which": true,
	"who": true, "when": true, "where": true, "why": true, "how": true,
	"your": true, "our": true, "my": true, "me": true, "please": true,
	"there": true, "any": true, "about": true, "want": true, "like": true,
	"know": true, "tell": true, "get": true, "need": true, "also": true,
}

// Terms returns the lowercased content words of text in order of appearance,
// without stop words or tokens shorter than three characters.
func Terms(text string) []string {
	tokens := tokenPattern.FindAllString(text, -1)
	out := make([]string, 0, len(tokens))
	for _, token := range tokens {
		lower := strings.Trim(strings.ToLower(token), "'-")
		if len(lower) < 3 || stopWords[lower] {
			continue
		}
		out = append(out, lower)
	}
	return out
}

// ExtractKeyTerms returns up to max distinct terms of text, most frequent
// first. Ties keep their order of first appearance.
func ExtractKeyTerms(text string, max int) []string {
	type termFreq struct {
		term  string
		freq  int
		first int
	}
	index := make(map[string]int)
	var sorted []termFreq
	for i, term := range Terms(text) {
		if at, ok := index[term]; ok {
			sorted[at].freq++
			continue
		}
		index[term] = len(sorted)
		sorted = append(sorted, termFreq{term: term, freq: 1, first: i})
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].freq > sorted[j].freq
	})

	if max > 0 && len(sorted) > max {
		sorted = sorted[:max]
	}
	terms := make([]string, len(sorted))
	for i, tf := range sorted {
		terms[i] = tf.term
	}
	return terms
}

// DefaultChunkSize bounds the characters of one record chunk.
const DefaultChunkSize = 800

// Chunk splits content into paragraphs on blank lines and packs consecutive
// paragraphs into chunks of at most size characters. A single paragraph
// longer than size is split on sentence or word boundaries.
func Chunk(content string, size int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	var (
		chunks  []string
		current strings.Builder
	)
	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
		}
	}
	for _, para := range Paragraphs(content) {
		for _, piece := range splitLong(para, size) {
			if current.Len() > 0 && current.Len()+2+len(piece) > size {
				flush()
			}
			if current.Len() > 0 {
				current.WriteString("\n\n")
			}
			current.WriteString(piece)
		}
	}
	flush()
	return chunks
}

// Paragraphs splits text on blank lines and drops empty paragraphs.
func Paragraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var out []string
	for _, p := range blankLines.Split(text, -1) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

var blankLines = regexp.MustCompile(`\n[ \t]*\n`)

func splitLong(para string, size int) []string {
	var out []string
	for len(para) > size {
		cut := strings.LastIndex(para[:size], ". ")
		if cut > 0 {
			cut++
		} else if cut = strings.LastIndexByte(para[:size], ' '); cut <= 0 {
			cut = size
		}
		out = append(out, strings.TrimSpace(para[:cut]))
		para = strings.TrimSpace(para[cut:])
	}
	if para != "" {
		out = append(out, para)
	}
	return out
}
