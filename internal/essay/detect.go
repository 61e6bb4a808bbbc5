package essay

import (
	"strings"

	"groundwrite/api/internal/evidence"
)

var transitionLeads = []string{
	"in conclusion", "to conclude", "to summarize", "in summary", "in short", "overall",
	"first", "firstly", "second", "secondly", "third", "finally", "lastly", "next",
	"furthermore", "moreover", "however", "in addition", "additionally", "therefore",
	"thus", "consequently", "as a result", "for example", "for instance",
	"on the other hand", "in contrast", "similarly", "likewise", "meanwhile",
	"in other words", "to begin",
}

var metaLeads = []string{
	"this essay", "this paragraph", "this section", "in this essay", "in this paragraph",
	"the following", "the next section", "as discussed", "as mentioned", "as noted",
	"let us", "let's", "we will", "we now", "turning to",
}

var negations = map[string]bool{
	"not": true, "no": true, "never": true, "none": true, "neither": true, "nor": true,
	"cannot": true, "can't": true, "don't": true, "doesn't": true, "didn't": true,
	"isn't": true, "aren't": true, "wasn't": true, "weren't": true, "won't": true,
	"without": true, "hardly": true,
}

const (
	minClaimWords      = 3
	contradictOverlap  = 0.6
	contradictMinTerms = 2
)

// structural reports whether a sentence only organises the text: a question,
// meta-discourse, or a transition with almost nothing after it.
func structural(text string) bool {
	s := strings.ToLower(strings.TrimSpace(text))
	if strings.HasSuffix(strings.TrimRight(s, closers), "?") {
		return true
	}
	for _, lead := range metaLeads {
		if strings.HasPrefix(s, lead) {
			return true
		}
	}
	for _, lead := range transitionLeads {
		if strings.HasPrefix(s, lead) {
			rest := s[len(lead):]
			if rest == "" || rest[0] == ',' || rest[0] == ' ' || rest[0] == '.' {
				s = strings.TrimLeft(rest, " ,")
				break
			}
		}
	}
	return len(strings.Fields(s)) < minClaimWords
}

// claimTerms is TermSet without negation words, plus whether any were present.
func claimTerms(text string) (map[string]struct{}, bool) {
	terms := evidence.TermSet(text)
	negated := false
	for term := range terms {
		if negations[term] {
			negated = true
			delete(terms, term)
		}
	}
	return terms, negated
}

// contradiction finds an evidence sentence that shares most content words
// with text but disagrees on negation.
func contradiction(text string, chunks []evidence.Chunk) (string, bool) {
	terms, negated := claimTerms(text)
	if len(terms) < contradictMinTerms {
		return "", false
	}
	for _, chunk := range chunks {
		for _, s := range splitSentences(chunk.ExcerptText) {
			evTerms, evNegated := claimTerms(s.text(chunk.ExcerptText))
			if evNegated == negated || len(evTerms) < contradictMinTerms {
				continue
			}
			shared := 0
			for term := range terms {
				if _, ok := evTerms[term]; ok {
					shared++
				}
			}
			smaller := len(terms)
			if len(evTerms) < smaller {
				smaller = len(evTerms)
			}
			if shared >= contradictMinTerms && float64(shared)/float64(smaller) >= contradictOverlap {
				return chunk.Label, true
			}
		}
	}
	return "", false
}

// detectUnsupported flags sentences of text. Grounded mode flags every
// substantive sentence that carries no marker; Mixed and Teach flag only
// sentences contradicting the evidence. Sentences holding an unresolved
// marker are never flagged.
func detectUnsupported(mode Mode, text string, markers []marker, chunks []evidence.Chunk) []UnsupportedFlag {
	var flags []UnsupportedFlag
	for _, s := range splitSentences(text) {
		hasMarker, hasUnresolved := false, false
		for _, m := range markers {
			if m.offset >= s.start && m.offset <= s.end {
				hasMarker = true
				if !m.resolved {
					hasUnresolved = true
				}
			}
		}
		sentenceText := s.text(text)
		switch mode {
		case ModeGrounded:
			if !hasMarker && !structural(sentenceText) {
				flags = append(flags, UnsupportedFlag{SentenceText: sentenceText, Reason: ReasonNotSupported})
			}
		default:
			if hasUnresolved {
				continue
			}
			if label, ok := contradiction(sentenceText, chunks); ok {
				flags = append(flags, UnsupportedFlag{SentenceText: sentenceText, Reason: ReasonContradicts, SourceLabel: label})
			}
		}
	}
	return flags
}
