package essay

import (
	"slices"
	"sort"
	"strings"
)

// Assemble joins the paragraphs of outline into one text, blank-line
// separated. A paragraph contributes its edit when there is one, otherwise
// its expanded text, otherwise its title. With includeCitations the labels
// of each span are written once in parentheses after it. Citations sharing a
// span and occurrence form one annotation, placed at that occurrence when it
// is still free and otherwise at the first free one.
func Assemble(outline Outline, edits map[int]string, includeCitations bool) string {
	parts := make([]string, 0, len(outline.Paragraphs))
	for i, p := range outline.Paragraphs {
		body, edited := edits[i]
		if !edited {
			body = p.ExpandedText
		}
		titleOnly := !edited && strings.TrimSpace(body) == ""
		if titleOnly {
			body = p.Title
		}
		if includeCitations && !titleOnly {
			body = annotate(body, p.Citations)
		}
		parts = append(parts, strings.TrimSpace(body))
	}
	return strings.Join(parts, "\n\n")
}

type occurrence struct {
	start, end int
}

type spanKey struct {
	text string
	nth  int
}

func annotate(body string, citations []Citation) string {
	if len(citations) == 0 {
		return body
	}
	var keys []spanKey
	labels := make(map[spanKey][]string)
	for _, c := range citations {
		if c.SpanText == "" {
			continue
		}
		key := spanKey{text: c.SpanText, nth: c.Occurrence}
		if _, ok := labels[key]; !ok {
			keys = append(keys, key)
		}
		if !slices.Contains(labels[key], c.SourceLabel) {
			labels[key] = append(labels[key], c.SourceLabel)
		}
	}

	claimed := make(map[occurrence]bool)
	labelsAt := make(map[int][]string)
	for _, key := range keys {
		occs := occurrences(body, key.text)
		if len(occs) == 0 {
			continue
		}
		at := occs[0]
		if key.nth >= 0 && key.nth < len(occs) && !claimed[occs[key.nth]] {
			at = occs[key.nth]
		} else {
			for _, occ := range occs {
				if !claimed[occ] {
					at = occ
					break
				}
			}
		}
		claimed[at] = true
		for _, label := range labels[key] {
			if !slices.Contains(labelsAt[at.end], label) {
				labelsAt[at.end] = append(labelsAt[at.end], label)
			}
		}
	}

	ends := make([]int, 0, len(labelsAt))
	for end := range labelsAt {
		ends = append(ends, end)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(ends)))
	out := body
	for _, end := range ends {
		out = out[:end] + " (" + strings.Join(labelsAt[end], "; ") + ")" + out[end:]
	}
	return out
}

// occurrences lists every, possibly overlapping, appearance of span in body.
func occurrences(body, span string) []occurrence {
	var out []occurrence
	for from := 0; from <= len(body); {
		idx := strings.Index(body[from:], span)
		if idx < 0 {
			break
		}
		start := from + idx
		out = append(out, occurrence{start: start, end: start + len(span)})
		from = start + 1
	}
	return out
}
