// Package evidence turns registry items into citable chunks.
//
// A chunk label is "{sourceItemID}:p{page}". Pages are separated by form
// feeds in the excerpt text; an excerpt without form feeds is a single chunk
// on page 1. PageNumber is left nil for that single chunk when the item has no
// page count, so callers can tell a real page from the implied one.
package evidence

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"groundwrite/api/internal/sources"
)

const pageBreak = "\f"

type Chunk struct {
	Label        string        `json:"label"`
	SourceItemID string        `json:"sourceItemId"`
	ExcerptText  string        `json:"excerptText"`
	PageNumber   *int          `json:"pageNumber,omitempty"`
	Group        sources.Group `json:"group"`
	Priority     bool          `json:"priority"`
	DisplayName  string        `json:"displayName"`
}

var labelPattern = regexp.MustCompile(`^` + sources.IDChars + `:p[0-9]+$`)

// Label formats the chunk label for an item page.
func Label(sourceItemID string, page int) string {
	return fmt.Sprintf("%s:p%d", sourceItemID, page)
}

// LooksLikeLabel reports whether s has the shape of a chunk label.
func LooksLikeLabel(s string) bool {
	return labelPattern.MatchString(strings.TrimSpace(s))
}

// ParseLabel splits a label into its item id and page.
func ParseLabel(label string) (string, int, bool) {
	label = strings.TrimSpace(label)
	if !labelPattern.MatchString(label) {
		return "", 0, false
	}
	sep := strings.LastIndex(label, ":p")
	page, err := strconv.Atoi(label[sep+2:])
	if err != nil {
		return "", 0, false
	}
	return label[:sep], page, true
}

// Index is pure: the same items always yield the same chunks in the same order.
// Blank pages produce no chunk but still advance page numbering.
func Index(items []sources.Item) []Chunk {
	chunks := make([]Chunk, 0, len(items))
	for _, item := range items {
		pages := strings.Split(item.ExcerptText, pageBreak)
		for i, text := range pages {
			text = strings.TrimSpace(text)
			if text == "" {
				continue
			}
			page := i + 1
			chunk := Chunk{
				Label:        Label(item.ID, page),
				SourceItemID: item.ID,
				ExcerptText:  text,
				Group:        item.Group,
				Priority:     item.Priority,
				DisplayName:  item.DisplayName,
			}
			if len(pages) > 1 || item.PageCount != nil {
				p := page
				chunk.PageNumber = &p
			}
			chunks = append(chunks, chunk)
		}
	}
	return chunks
}

// ByLabel maps labels to chunks.
func ByLabel(chunks []Chunk) map[string]Chunk {
	out := make(map[string]Chunk, len(chunks))
	for _, chunk := range chunks {
		out[chunk.Label] = chunk
	}
	return out
}
