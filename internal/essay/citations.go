package essay

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"groundwrite/api/internal/evidence"
)

// markerPattern matches one bracket group. Whether it is a citation marker is
// decided by its contents.
var markerPattern = regexp.MustCompile(`\[([^\[\]\n]{1,200})\]`)

type marker struct {
	offset   int
	resolved bool
}

type parsedText struct {
	text      string
	citations []Citation
	used      []string
	markers   []marker
}

// parseMarkers strips inline citation markers from raw and binds each known
// label to the text it follows. A span runs from the previous marker or the
// start of the sentence, whichever is later, up to the marker. Labels that
// are not in known are dropped silently. Bracket groups holding no
// label-shaped token are ordinary text and stay.
func parseMarkers(raw string, known map[string]evidence.Chunk) parsedText {
	var (
		b         strings.Builder
		out       parsedText
		last      int
		segStart  int
		prevSpan  string
		prevOcc   int
		prevStart = -1
		seenCite  = make(map[Citation]bool)
		seenUsed  = make(map[string]bool)
	)
	for _, loc := range markerPattern.FindAllStringSubmatchIndex(raw, -1) {
		labels := markerLabels(raw[loc[2]:loc[3]])
		if len(labels) == 0 {
			continue
		}
		b.WriteString(strings.TrimRight(raw[last:loc[0]], " \t"))
		current := b.String()
		offset := len(current)
		sentStart := lastSentenceStart(current)
		from := sentStart
		if segStart > from {
			from = segStart
		}
		span := strings.TrimSpace(current[from:])
		occ := 0
		if span != "" {
			occ = countStartsBefore(current, span, from+strings.Index(current[from:], span))
		} else if sentStart == prevStart {
			span, occ = prevSpan, prevOcc
		}

		resolved := false
		for _, label := range labels {
			if _, ok := known[label]; !ok {
				continue
			}
			resolved = true
			if !seenUsed[label] {
				seenUsed[label] = true
				out.used = append(out.used, label)
			}
			if span == "" {
				continue
			}
			c := Citation{SpanText: span, SourceLabel: label, Occurrence: occ}
			if !seenCite[c] {
				seenCite[c] = true
				out.citations = append(out.citations, c)
			}
		}
		out.markers = append(out.markers, marker{offset: offset, resolved: resolved})

		if span != "" {
			prevSpan, prevOcc = span, occ
			prevStart = sentStart
		}
		segStart = offset
		last = loc[1]
		if r, _ := utf8.DecodeRuneInString(raw[last:]); last < len(raw) && (unicode.IsLetter(r) || unicode.IsDigit(r)) && offset > 0 {
			b.WriteByte(' ')
		}
	}
	b.WriteString(raw[last:])

	full := b.String()
	lead := len(full) - len(strings.TrimLeftFunc(full, unicode.IsSpace))
	out.text = strings.TrimSpace(full)
	for i := range out.markers {
		o := out.markers[i].offset - lead
		if o < 0 {
			o = 0
		}
		if o > len(out.text) {
			o = len(out.text)
		}
		out.markers[i].offset = o
	}
	return out
}

// countStartsBefore counts the possibly overlapping appearances of sub in s
// that start before limit.
func countStartsBefore(s, sub string, limit int) int {
	n := 0
	for from := 0; from < limit; {
		i := strings.Index(s[from:], sub)
		if i < 0 || from+i >= limit {
			break
		}
		n++
		from += i + 1
	}
	return n
}

// markerLabels returns the label-shaped tokens of a bracket group's contents.
func markerLabels(inner string) []string {
	tokens := strings.FieldsFunc(inner, func(r rune) bool { return r == ';' || r == ',' })
	labels := make([]string, 0, len(tokens))
	for _, token := range tokens {
		token = strings.TrimSpace(token)
		if evidence.LooksLikeLabel(token) {
			labels = append(labels, token)
		}
	}
	return labels
}

type sentence struct {
	start, end int
}

func (s sentence) text(of string) string { return of[s.start:s.end] }

const closers = "\"')]”’"

// sentenceStarts returns the byte offsets at which sentences begin. A sentence
// ends at . ! or ? (plus closing quotes or brackets) followed by whitespace,
// or at a newline.
func sentenceStarts(s string) []int {
	starts := []int{0}
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\n':
			starts = append(starts, i+1)
		case '.', '!', '?':
			j := i + 1
			for j < len(s) {
				r, size := utf8.DecodeRuneInString(s[j:])
				if !strings.ContainsRune(closers, r) {
					break
				}
				j += size
			}
			if j < len(s) && (s[j] == ' ' || s[j] == '\t' || s[j] == '\r') {
				starts = append(starts, j)
				i = j - 1
			}
		}
	}
	return starts
}

func lastSentenceStart(s string) int {
	starts := sentenceStarts(s)
	return starts[len(starts)-1]
}

// splitSentences returns the non-empty, whitespace-trimmed sentences of s as
// offsets into s.
func splitSentences(s string) []sentence {
	starts := sentenceStarts(s)
	out := make([]sentence, 0, len(starts))
	for i, start := range starts {
		end := len(s)
		if i+1 < len(starts) {
			end = starts[i+1]
		}
		for start < end && isSpaceByte(s[start]) {
			start++
		}
		for end > start && isSpaceByte(s[end-1]) {
			end--
		}
		if start < end {
			out = append(out, sentence{start: start, end: end})
		}
	}
	return out
}

func isSpaceByte(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
