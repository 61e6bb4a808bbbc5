package evidence

import (
	"sort"
	"strings"
	"unicode"
)

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "but": {}, "by": {},
	"for": {}, "from": {}, "has": {}, "have": {}, "how": {}, "in": {}, "into": {}, "is": {}, "it": {},
	"its": {}, "of": {}, "on": {}, "or": {}, "that": {}, "the": {}, "their": {}, "this": {}, "to": {},
	"was": {}, "were": {}, "what": {}, "which": {}, "with": {}, "about": {}, "can": {}, "do": {},
	"does": {}, "these": {}, "those": {}, "they": {}, "them": {}, "than": {}, "then": {}, "there": {},
	"also": {}, "such": {}, "will": {}, "would": {}, "should": {}, "could": {}, "we": {}, "our": {},
}

// Terms lowercases text and returns its content words with a naive plural
// fold ("cells" and "cell" match).
func Terms(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	out := make([]string, 0, len(fields))
	for _, field := range fields {
		field = strings.Trim(field, "'")
		if len(field) < 2 {
			continue
		}
		if _, stop := stopwords[field]; stop {
			continue
		}
		if len(field) > 3 && strings.HasSuffix(field, "s") && !strings.HasSuffix(field, "ss") {
			field = strings.TrimSuffix(field, "s")
		}
		out = append(out, field)
	}
	return out
}

// TermSet is Terms deduplicated.
func TermSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, term := range Terms(text) {
		set[term] = struct{}{}
	}
	return set
}

type Scored struct {
	Chunk Chunk
	Score float64
}

// Rank orders chunks by term overlap with query. Priority chunks get a small
// boost; ties keep index order. Chunks with no overlap are dropped.
func Rank(chunks []Chunk, query string, limit int) []Scored {
	queryTerms := TermSet(query)
	if len(queryTerms) == 0 || limit == 0 {
		return nil
	}
	scored := make([]Scored, 0, len(chunks))
	for _, chunk := range chunks {
		chunkTerms := TermSet(chunk.ExcerptText + " " + chunk.DisplayName)
		hits := 0
		for term := range queryTerms {
			if _, ok := chunkTerms[term]; ok {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		score := float64(hits) / float64(len(queryTerms))
		if chunk.Priority {
			score += 0.1
		}
		scored = append(scored, Scored{Chunk: chunk, Score: score})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}
