package app

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"groundwrite/api/internal/drafts"
	"groundwrite/api/internal/entitlement"
	"groundwrite/api/internal/essay"
	"groundwrite/api/internal/evidence"
	"groundwrite/api/internal/generation"
	"groundwrite/api/internal/logger"
	"groundwrite/api/internal/session"
	"groundwrite/api/internal/sources"
	"groundwrite/api/internal/uploads"
	"groundwrite/api/internal/util"
)

const maxExpandConcurrency = 8

// Principal is the authenticated caller.
type Principal struct {
	UserID string
	Name   string
	Plan   entitlement.Plan
}

type OutlineStore interface {
	essay.Store
	Ping(ctx context.Context) error
}

type DraftHistory interface {
	Commit(snap drafts.Snapshot, author, message string) (drafts.Commit, error)
	History(outlineID string, limit int) ([]drafts.Commit, error)
	Get(outlineID, hash string) (drafts.Snapshot, drafts.Commit, error)
}

type pinger interface {
	Ping(ctx context.Context) error
}

type Options struct {
	Logger            *logger.Logger
	GenerationTimeout time.Duration
	SearchLimit       int
	Discoverer        essay.Discoverer
	Uploads           uploads.Fetcher
	Drafts            DraftHistory
	Gate              entitlement.Gate
	Now               func() time.Time
}

type Service struct {
	sessions session.Store
	outlines OutlineStore
	essays   *essay.Service
	uploads  uploads.Fetcher
	drafts   DraftHistory
	gate     entitlement.Gate
	log      *logger.Logger
	now      func() time.Time

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

func NewService(gen generation.Generator, sessions session.Store, outlines OutlineStore, opts Options) *Service {
	s := &Service{
		sessions: sessions,
		outlines: outlines,
		uploads:  opts.Uploads,
		drafts:   opts.Drafts,
		gate:     opts.Gate,
		log:      opts.Logger,
		now:      opts.Now,
		locks:    make(map[string]*sync.Mutex),
	}
	if s.log == nil {
		s.log = logger.Nop()
	}
	if s.gate == nil {
		s.gate = entitlement.PlanGate{}
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	s.essays = essay.NewService(gen, outlines, essay.EvidenceFunc(s.evidence), essay.Options{
		Timeout:     opts.GenerationTimeout,
		SearchLimit: opts.SearchLimit,
		Discoverer:  opts.Discoverer,
		Logger:      s.log,
		Now:         s.now,
	})
	return s
}

// SessionView is a draft session as the API returns it.
type SessionView struct {
	SessionID string           `json:"sessionId"`
	Revision  int64            `json:"revision"`
	Sources   []sources.Item   `json:"sources"`
	Chunks    []evidence.Chunk `json:"chunks"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

func viewOf(draft session.Draft) SessionView {
	reg := sources.FromState(draft.Registry)
	items := reg.Items()
	return SessionView{
		SessionID: draft.ID,
		Revision:  reg.Revision(),
		Sources:   items,
		Chunks:    evidence.Index(items),
		UpdatedAt: draft.UpdatedAt,
	}
}

func (s *Service) CreateSession(ctx context.Context, p Principal) (SessionView, error) {
	now := s.now()
	draft := session.Draft{
		ID:        util.NewID("ses"),
		OwnerID:   p.UserID,
		Registry:  sources.New().State(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.sessions.Create(ctx, draft); err != nil {
		return SessionView{}, fmt.Errorf("create session: %w", err)
	}
	s.log.Info("draft session created", "session_id", draft.ID, "user_id", p.UserID)
	return viewOf(draft), nil
}

func (s *Service) Session(ctx context.Context, p Principal, sessionID string) (SessionView, error) {
	draft, err := s.ownedDraft(ctx, p, sessionID)
	if err != nil {
		return SessionView{}, err
	}
	return viewOf(draft), nil
}

func (s *Service) DeleteSession(ctx context.Context, p Principal, sessionID string) error {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()
	if _, err := s.ownedDraft(ctx, p, sessionID); err != nil {
		return err
	}
	return s.sessions.Delete(ctx, sessionID)
}

// Chunks returns the evidence index of the session's current registry.
func (s *Service) Chunks(ctx context.Context, p Principal, sessionID string) ([]evidence.Chunk, int64, error) {
	view, err := s.Session(ctx, p, sessionID)
	if err != nil {
		return nil, 0, err
	}
	return view.Chunks, view.Revision, nil
}

type AddSourceInput struct {
	ID          string             `json:"id"`
	Group       sources.Group      `json:"group"`
	DisplayName string             `json:"displayName"`
	ExcerptText string             `json:"excerptText"`
	PageCount   *int               `json:"pageCount"`
	OriginKind  sources.OriginKind `json:"originKind"`
}

func (s *Service) AddSource(ctx context.Context, p Principal, sessionID string, in AddSourceInput) (sources.Item, error) {
	if in.OriginKind == "" {
		in.OriginKind = sources.OriginPastedText
	}
	var added sources.Item
	_, err := s.mutate(ctx, p, sessionID, func(reg *sources.Registry) error {
		item, err := reg.Add(in.Group, sources.Content{
			ID:          in.ID,
			DisplayName: in.DisplayName,
			ExcerptText: in.ExcerptText,
			PageCount:   in.PageCount,
		}, in.OriginKind)
		added = item
		return err
	})
	return added, err
}

// ImportUpload adds the OCR record of an uploaded file as a File source whose
// id is the file id.
func (s *Service) ImportUpload(ctx context.Context, p Principal, sessionID, fileID string, group sources.Group) (sources.Item, error) {
	if s.uploads == nil {
		return sources.Item{}, domainError(http.StatusServiceUnavailable, "UPLOADS_DISABLED", "Upload import is not configured", nil)
	}
	if !entitlement.Can(p.Plan, entitlement.ActionImportUpload) {
		return sources.Item{}, fmt.Errorf("%w: %s", entitlement.ErrNotEntitled, entitlement.ActionImportUpload)
	}
	if _, err := s.ownedDraft(ctx, p, sessionID); err != nil {
		return sources.Item{}, err
	}
	rec, err := s.uploads.Fetch(ctx, strings.TrimSpace(fileID))
	if err != nil {
		return sources.Item{}, err
	}
	return s.AddSource(ctx, p, sessionID, AddSourceInput{
		ID:          rec.FileID,
		Group:       group,
		DisplayName: rec.FileName,
		ExcerptText: rec.ExcerptText,
		PageCount:   rec.PageCount,
		OriginKind:  sources.OriginFile,
	})
}

func (s *Service) UpdateExcerpt(ctx context.Context, p Principal, sessionID, id, text string) (SessionView, error) {
	return s.mutate(ctx, p, sessionID, func(reg *sources.Registry) error {
		reg.UpdateExcerpt(id, text)
		return nil
	})
}

func (s *Service) TogglePriority(ctx context.Context, p Principal, sessionID, id string) (SessionView, error) {
	return s.mutate(ctx, p, sessionID, func(reg *sources.Registry) error {
		reg.TogglePriority(id)
		return nil
	})
}

func (s *Service) RemoveSource(ctx context.Context, p Principal, sessionID, id string) (SessionView, error) {
	return s.mutate(ctx, p, sessionID, func(reg *sources.Registry) error {
		reg.Remove(id)
		return nil
	})
}

func (s *Service) Reorder(ctx context.Context, p Principal, sessionID string, group sources.Group, from, to int) (SessionView, error) {
	return s.mutate(ctx, p, sessionID, func(reg *sources.Registry) error {
		return reg.Reorder(group, from, to)
	})
}

// mutate applies fn to the session's registry under the session lock and
// saves the result only when fn succeeds.
func (s *Service) mutate(ctx context.Context, p Principal, sessionID string, fn func(*sources.Registry) error) (SessionView, error) {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	draft, err := s.ownedDraft(ctx, p, sessionID)
	if err != nil {
		return SessionView{}, err
	}
	reg := sources.FromState(draft.Registry)
	if err := fn(reg); err != nil {
		return SessionView{}, err
	}
	if reg.Revision() == draft.Registry.Revision {
		return viewOf(draft), nil
	}
	draft.Registry = reg.State()
	draft.UpdatedAt = s.now()
	if err := s.sessions.Save(ctx, draft); err != nil {
		return SessionView{}, err
	}
	return viewOf(draft), nil
}

func (s *Service) evidence(ctx context.Context, sessionID string) ([]evidence.Chunk, int64, error) {
	draft, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, 0, err
	}
	reg := sources.FromState(draft.Registry)
	return evidence.Index(reg.Items()), reg.Revision(), nil
}

func (s *Service) PlanOutline(ctx context.Context, p Principal, sessionID string, req essay.PlanRequest) (essay.Outline, error) {
	if _, err := s.ownedDraft(ctx, p, sessionID); err != nil {
		return essay.Outline{}, err
	}
	if !s.gate.CanGenerateEssay(p.Plan) {
		return essay.Outline{}, fmt.Errorf("%w: %s", entitlement.ErrNotEntitled, entitlement.ActionGenerateEssay)
	}
	return s.essays.PlanOutline(ctx, sessionID, p.UserID, req)
}

func (s *Service) Outline(ctx context.Context, p Principal, outlineID string) (essay.Outline, error) {
	return s.ownedOutline(ctx, p, outlineID)
}

func (s *Service) ExpandParagraph(ctx context.Context, p Principal, outlineID string, index int) (essay.Paragraph, error) {
	if _, err := s.ownedOutline(ctx, p, outlineID); err != nil {
		return essay.Paragraph{}, err
	}
	if !entitlement.Can(p.Plan, entitlement.ActionExpand) {
		return essay.Paragraph{}, fmt.Errorf("%w: %s", entitlement.ErrNotEntitled, entitlement.ActionExpand)
	}
	return s.essays.ExpandParagraph(ctx, outlineID, index)
}

// ExpandAll expands every paragraph not yet expanded. concurrency above one
// runs independent paragraphs in parallel and needs a paid plan.
func (s *Service) ExpandAll(ctx context.Context, p Principal, outlineID string, concurrency int) ([]essay.ParagraphResult, error) {
	outline, err := s.ownedOutline(ctx, p, outlineID)
	if err != nil {
		return nil, err
	}
	if !entitlement.Can(p.Plan, entitlement.ActionExpand) {
		return nil, fmt.Errorf("%w: %s", entitlement.ErrNotEntitled, entitlement.ActionExpand)
	}
	if concurrency <= 1 {
		return s.essays.ExpandAll(ctx, outlineID)
	}
	if !entitlement.Can(p.Plan, entitlement.ActionConcurrentExpand) {
		return nil, fmt.Errorf("%w: %s", entitlement.ErrNotEntitled, entitlement.ActionConcurrentExpand)
	}
	return s.ExpandConcurrent(ctx, outline, concurrency)
}

// ExpandConcurrent expands the outline's unexpanded paragraphs with at most
// limit generation calls in flight. Results are ordered by index.
func (s *Service) ExpandConcurrent(ctx context.Context, outline essay.Outline, limit int) ([]essay.ParagraphResult, error) {
	if limit > maxExpandConcurrency {
		limit = maxExpandConcurrency
	}
	var (
		g       errgroup.Group
		mu      sync.Mutex
		results = make([]essay.ParagraphResult, 0, len(outline.Paragraphs))
	)
	g.SetLimit(limit)
	for i, para := range outline.Paragraphs {
		if para.ExpansionState == essay.StateExpanded {
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			expanded, err := s.essays.ExpandParagraph(ctx, outline.ID, i)
			result := essay.ParagraphResult{Index: i, Paragraph: expanded, Err: err}
			if err != nil {
				result.Error = err.Error()
			}
			mu.Lock()
			results = append(results, result)
			mu.Unlock()
			return ctx.Err()
		})
	}
	err := g.Wait()
	sort.Slice(results, func(a, b int) bool { return results[a].Index < results[b].Index })
	return results, err
}

func (s *Service) SetEdit(ctx context.Context, p Principal, outlineID string, index int, text string) error {
	if strings.TrimSpace(text) == "" {
		return &essay.ValidationError{Field: "text", Message: "edit text is required; delete the edit to clear it"}
	}
	if _, err := s.ownedOutline(ctx, p, outlineID); err != nil {
		return err
	}
	return s.outlines.SetEdit(ctx, outlineID, index, text)
}

func (s *Service) ClearEdit(ctx context.Context, p Principal, outlineID string, index int) error {
	if _, err := s.ownedOutline(ctx, p, outlineID); err != nil {
		return err
	}
	return s.outlines.ClearEdit(ctx, outlineID, index)
}

// Essay assembles the outline with the caller's stored edits.
func (s *Service) Essay(ctx context.Context, p Principal, outlineID string, includeCitations bool) (string, error) {
	outline, edits, err := s.outlineWithEdits(ctx, p, outlineID)
	if err != nil {
		return "", err
	}
	return essay.Assemble(outline, edits, includeCitations), nil
}

func (s *Service) SaveDraft(ctx context.Context, p Principal, outlineID string, includeCitations bool, message string) (drafts.Commit, error) {
	if err := s.requireDrafts(p); err != nil {
		return drafts.Commit{}, err
	}
	outline, edits, err := s.outlineWithEdits(ctx, p, outlineID)
	if err != nil {
		return drafts.Commit{}, err
	}
	snap := drafts.Snapshot{
		OutlineID:        outline.ID,
		Thesis:           outline.Thesis,
		Text:             essay.Assemble(outline, edits, includeCitations),
		IncludeCitations: includeCitations,
		Paragraphs:       make([]drafts.ParagraphState, 0, len(outline.Paragraphs)),
	}
	for i, para := range outline.Paragraphs {
		_, edited := edits[i]
		snap.Paragraphs = append(snap.Paragraphs, drafts.ParagraphState{
			Title:  para.Title,
			State:  string(para.ExpansionState),
			Edited: edited,
		})
	}
	author := p.Name
	if author == "" {
		author = p.UserID
	}
	commit, err := s.drafts.Commit(snap, author, strings.TrimSpace(message))
	if err != nil {
		return drafts.Commit{}, err
	}
	s.log.Info("draft saved", "outline_id", outline.ID, "hash", commit.Hash)
	return commit, nil
}

func (s *Service) DraftHistory(ctx context.Context, p Principal, outlineID string, limit int) ([]drafts.Commit, error) {
	if err := s.requireDrafts(p); err != nil {
		return nil, err
	}
	if _, err := s.ownedOutline(ctx, p, outlineID); err != nil {
		return nil, err
	}
	return s.drafts.History(outlineID, limit)
}

func (s *Service) Draft(ctx context.Context, p Principal, outlineID, hash string) (drafts.Snapshot, drafts.Commit, error) {
	if err := s.requireDrafts(p); err != nil {
		return drafts.Snapshot{}, drafts.Commit{}, err
	}
	if _, err := s.ownedOutline(ctx, p, outlineID); err != nil {
		return drafts.Snapshot{}, drafts.Commit{}, err
	}
	return s.drafts.Get(outlineID, hash)
}

// Ping checks every backing store and reports failures by name.
func (s *Service) Ping(ctx context.Context) map[string]error {
	checks := map[string]pinger{
		"outlines": s.outlines,
		"sessions": s.sessions,
	}
	if up, ok := s.uploads.(pinger); ok {
		checks["uploads"] = up
	}
	out := make(map[string]error, len(checks))
	for name, c := range checks {
		out[name] = c.Ping(ctx)
	}
	return out
}

func (s *Service) requireDrafts(p Principal) error {
	if s.drafts == nil {
		return domainError(http.StatusServiceUnavailable, "DRAFTS_DISABLED", "Draft history is not configured", nil)
	}
	if !entitlement.Can(p.Plan, entitlement.ActionDraftHistory) {
		return fmt.Errorf("%w: %s", entitlement.ErrNotEntitled, entitlement.ActionDraftHistory)
	}
	return nil
}

func (s *Service) outlineWithEdits(ctx context.Context, p Principal, outlineID string) (essay.Outline, map[int]string, error) {
	outline, err := s.ownedOutline(ctx, p, outlineID)
	if err != nil {
		return essay.Outline{}, nil, err
	}
	edits, err := s.outlines.Edits(ctx, outlineID)
	if err != nil {
		return essay.Outline{}, nil, err
	}
	return outline, edits, nil
}

// ownedDraft hides sessions of other users behind ErrNotFound.
func (s *Service) ownedDraft(ctx context.Context, p Principal, sessionID string) (session.Draft, error) {
	draft, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return session.Draft{}, err
	}
	if draft.OwnerID != p.UserID {
		return session.Draft{}, session.ErrNotFound
	}
	return draft, nil
}

func (s *Service) ownedOutline(ctx context.Context, p Principal, outlineID string) (essay.Outline, error) {
	outline, err := s.essays.Outline(ctx, outlineID)
	if err != nil {
		return essay.Outline{}, err
	}
	if outline.OwnerID != p.UserID {
		return essay.Outline{}, &essay.NotFoundError{Resource: "outline", ID: outlineID}
	}
	return outline, nil
}

func (s *Service) sessionLock(sessionID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()

	lock, ok := s.locks[sessionID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[sessionID] = lock
	return lock
}
