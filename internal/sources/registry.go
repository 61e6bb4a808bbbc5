// Package sources holds the user's study materials for one drafting session.
package sources

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
)

type Group string

const (
	GroupNotes      Group = "notes"
	GroupReferences Group = "references"
)

type OriginKind string

const (
	OriginFile       OriginKind = "file"
	OriginPastedText OriginKind = "pasted_text"
	OriginURL        OriginKind = "url"
)

var (
	ErrInvalidGroup  = errors.New("invalid source group")
	ErrInvalidOrigin = errors.New("invalid source origin")
	ErrDuplicateID   = errors.New("source id already exists")
	ErrInvalidID     = errors.New("invalid source id")
	ErrOutOfRange    = errors.New("reorder index out of range")
)

// IDChars is the alphabet of a source id. Chunk labels embed the id, so an id
// outside it could never be cited.
const IDChars = `[A-Za-z0-9_.\-]+`

var idPattern = regexp.MustCompile(`^` + IDChars + `$`)

// ValidID reports whether id can be used as a source id.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// Item is a single uploaded or pasted source. Order is dense within its group.
type Item struct {
	ID          string     `json:"id"`
	Group       Group      `json:"group"`
	DisplayName string     `json:"displayName"`
	ExcerptText string     `json:"excerptText"`
	Priority    bool       `json:"priority"`
	Order       int        `json:"order"`
	PageCount   *int       `json:"pageCount,omitempty"`
	OriginKind  OriginKind `json:"originKind"`
}

// Content is the caller-supplied part of a new Item. ID is optional; upload
// hand-offs pass their file id so labels stay recognisable.
type Content struct {
	ID          string
	DisplayName string
	ExcerptText string
	PageCount   *int
}

// State is the serialisable form of a Registry.
type State struct {
	Items    []Item `json:"items"`
	NextSeq  int    `json:"nextSeq"`
	Revision int64  `json:"revision"`
}

type Registry struct {
	mu       sync.Mutex
	items    []Item
	nextSeq  int
	revision int64
}

func New() *Registry {
	return &Registry{nextSeq: 1}
}

func FromState(state State) *Registry {
	items := make([]Item, len(state.Items))
	copy(items, state.Items)
	next := state.NextSeq
	if next < 1 {
		next = 1
	}
	return &Registry{items: items, nextSeq: next, revision: state.Revision}
}

func (r *Registry) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return State{Items: r.snapshotLocked(), NextSeq: r.nextSeq, Revision: r.revision}
}

// Revision increments on every effective mutation.
func (r *Registry) Revision() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.revision
}

// Items returns a copy ordered by group (references first) and then order.
func (r *Registry) Items() []Item {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Registry) Get(id string) (Item, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i := r.indexOfLocked(id); i >= 0 {
		return r.items[i], true
	}
	return Item{}, false
}

func (r *Registry) Add(group Group, content Content, origin OriginKind) (Item, error) {
	if !ValidGroup(group) {
		return Item{}, fmt.Errorf("%w: %q", ErrInvalidGroup, group)
	}
	if !validOrigin(origin) {
		return Item{}, fmt.Errorf("%w: %q", ErrInvalidOrigin, origin)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id := strings.TrimSpace(content.ID)
	if id != "" {
		if !ValidID(id) {
			return Item{}, fmt.Errorf("%w: %q", ErrInvalidID, id)
		}
		if r.indexOfLocked(id) >= 0 {
			return Item{}, fmt.Errorf("%w: %s", ErrDuplicateID, id)
		}
	} else {
		id = r.generateIDLocked()
	}

	name := strings.TrimSpace(content.DisplayName)
	if name == "" {
		name = id
	}
	item := Item{
		ID:          id,
		Group:       group,
		DisplayName: name,
		ExcerptText: content.ExcerptText,
		Order:       r.groupLenLocked(group),
		OriginKind:  origin,
	}
	if content.PageCount != nil && *content.PageCount > 0 {
		pages := *content.PageCount
		item.PageCount = &pages
	}
	r.items = append(r.items, item)
	r.revision++
	return item, nil
}

// TogglePriority flips the priority flag. Unknown ids are ignored.
func (r *Registry) TogglePriority(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i := r.indexOfLocked(id); i >= 0 {
		r.items[i].Priority = !r.items[i].Priority
		r.revision++
	}
}

// UpdateExcerpt replaces the excerpt text. Unknown ids are ignored.
func (r *Registry) UpdateExcerpt(id, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i := r.indexOfLocked(id); i >= 0 {
		r.items[i].ExcerptText = text
		r.revision++
	}
}

// Remove deletes an item and closes the gap in its group. Unknown ids are ignored.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.indexOfLocked(id)
	if i < 0 {
		return
	}
	group := r.items[i].Group
	r.items = append(r.items[:i], r.items[i+1:]...)
	r.renumberLocked(group, r.groupItemsLocked(group))
	r.revision++
}

// Reorder moves the item at fromIndex to toIndex within group and reassigns
// dense order values for that group only.
func (r *Registry) Reorder(group Group, fromIndex, toIndex int) error {
	if !ValidGroup(group) {
		return fmt.Errorf("%w: %q", ErrInvalidGroup, group)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := r.groupItemsLocked(group)
	if fromIndex < 0 || fromIndex >= len(ids) || toIndex < 0 || toIndex >= len(ids) {
		return fmt.Errorf("%w: from=%d to=%d size=%d", ErrOutOfRange, fromIndex, toIndex, len(ids))
	}
	if fromIndex == toIndex {
		return nil
	}
	moved := ids[fromIndex]
	ids = append(ids[:fromIndex], ids[fromIndex+1:]...)
	ids = append(ids[:toIndex], append([]string{moved}, ids[toIndex:]...)...)
	r.renumberLocked(group, ids)
	r.revision++
	return nil
}

func ValidGroup(group Group) bool {
	return group == GroupNotes || group == GroupReferences
}

func validOrigin(origin OriginKind) bool {
	switch origin {
	case OriginFile, OriginPastedText, OriginURL:
		return true
	default:
		return false
	}
}

func (r *Registry) generateIDLocked() string {
	for {
		id := "S" + strconv.Itoa(r.nextSeq)
		r.nextSeq++
		if r.indexOfLocked(id) < 0 {
			return id
		}
	}
}

func (r *Registry) indexOfLocked(id string) int {
	for i := range r.items {
		if r.items[i].ID == id {
			return i
		}
	}
	return -1
}

func (r *Registry) groupLenLocked(group Group) int {
	n := 0
	for _, item := range r.items {
		if item.Group == group {
			n++
		}
	}
	return n
}

// groupItemsLocked returns the ids of group in current order.
func (r *Registry) groupItemsLocked(group Group) []string {
	members := make([]Item, 0)
	for _, item := range r.items {
		if item.Group == group {
			members = append(members, item)
		}
	}
	sort.SliceStable(members, func(i, j int) bool { return members[i].Order < members[j].Order })
	ids := make([]string, len(members))
	for i, item := range members {
		ids[i] = item.ID
	}
	return ids
}

func (r *Registry) renumberLocked(group Group, orderedIDs []string) {
	position := make(map[string]int, len(orderedIDs))
	for i, id := range orderedIDs {
		position[id] = i
	}
	for i := range r.items {
		if r.items[i].Group != group {
			continue
		}
		if pos, ok := position[r.items[i].ID]; ok {
			r.items[i].Order = pos
		}
	}
}

func (r *Registry) snapshotLocked() []Item {
	out := make([]Item, len(r.items))
	copy(out, r.items)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Group != out[j].Group {
			return out[i].Group == GroupReferences
		}
		return out[i].Order < out[j].Order
	})
	return out
}
