// Package drafts keeps the revision history of assembled essays, one git
// repository per outline.
package drafts

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const (
	snapshotFile = "draft.json"
	essayFile    = "essay.md"
	mainBranch   = "main"
)

var (
	ErrNotFound  = errors.New("draft not found")
	ErrInvalidID = errors.New("invalid outline id")
)

var outlineIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

type ParagraphState struct {
	Title  string `json:"title"`
	State  string `json:"state"`
	Edited bool   `json:"edited"`
}

// Snapshot is what a draft commit records.
type Snapshot struct {
	OutlineID        string           `json:"outlineId"`
	Thesis           string           `json:"thesis"`
	Text             string           `json:"text"`
	IncludeCitations bool             `json:"includeCitations"`
	Paragraphs       []ParagraphState `json:"paragraphs"`
}

type Commit struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
	now     func() time.Time
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
		now:     time.Now,
	}
}

// Commit records snap as the newest draft of its outline, creating the
// repository on first use. Every call produces a commit, even when the text
// is unchanged, so each save shows up in History.
func (s *Service) Commit(snap Snapshot, author, message string) (Commit, error) {
	if !outlineIDPattern.MatchString(snap.OutlineID) {
		return Commit{}, fmt.Errorf("%w: %q", ErrInvalidID, snap.OutlineID)
	}
	lock := s.outlineLock(snap.OutlineID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.openOrInit(snap.OutlineID)
	if err != nil {
		return Commit{}, err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return Commit{}, fmt.Errorf("open worktree: %w", err)
	}
	payload, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return Commit{}, fmt.Errorf("marshal snapshot: %w", err)
	}
	root := worktree.Filesystem.Root()
	if err := os.WriteFile(filepath.Join(root, snapshotFile), append(payload, '\n'), 0o644); err != nil {
		return Commit{}, fmt.Errorf("write %s: %w", snapshotFile, err)
	}
	if err := os.WriteFile(filepath.Join(root, essayFile), []byte(snap.Text+"\n"), 0o644); err != nil {
		return Commit{}, fmt.Errorf("write %s: %w", essayFile, err)
	}
	for _, name := range []string{snapshotFile, essayFile} {
		if _, err := worktree.Add(name); err != nil {
			return Commit{}, fmt.Errorf("git add %s: %w", name, err)
		}
	}
	if message == "" {
		message = "Save draft"
	}
	hash, err := worktree.Commit(message, &git.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@local.groundwrite.dev", sanitizeEmail(author)),
			When:  s.now(),
		},
	})
	if err != nil {
		return Commit{}, fmt.Errorf("commit draft: %w", err)
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Commit{}, fmt.Errorf("read commit object: %w", err)
	}
	return toCommit(commitObj), nil
}

// History lists draft commits newest first. An outline with no drafts yet
// has an empty history.
func (s *Service) History(outlineID string, limit int) ([]Commit, error) {
	if !outlineIDPattern.MatchString(outlineID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidID, outlineID)
	}
	lock := s.outlineLock(outlineID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(outlineID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return []Commit{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(mainBranch), true)
	if err != nil {
		return nil, fmt.Errorf("resolve branch %s: %w", mainBranch, err)
	}
	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]Commit, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toCommit(commitObj))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// Get returns the snapshot recorded by a commit. hash may be abbreviated.
func (s *Service) Get(outlineID, hash string) (Snapshot, Commit, error) {
	if !outlineIDPattern.MatchString(outlineID) {
		return Snapshot{}, Commit{}, fmt.Errorf("%w: %q", ErrInvalidID, outlineID)
	}
	lock := s.outlineLock(outlineID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(outlineID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return Snapshot{}, Commit{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, Commit{}, fmt.Errorf("open repo: %w", err)
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return Snapshot{}, Commit{}, fmt.Errorf("%w: %s", ErrNotFound, hash)
	}
	commitObj, err := repo.CommitObject(*resolved)
	if err != nil {
		return Snapshot{}, Commit{}, fmt.Errorf("%w: %s", ErrNotFound, hash)
	}
	snap, err := readSnapshot(commitObj)
	if err != nil {
		return Snapshot{}, Commit{}, err
	}
	return snap, toCommit(commitObj), nil
}

func (s *Service) openOrInit(outlineID string) (*git.Repository, error) {
	path := s.repoPath(outlineID)
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(mainBranch))); err != nil {
		return nil, fmt.Errorf("set HEAD to %s: %w", mainBranch, err)
	}
	return repo, nil
}

func (s *Service) repoPath(outlineID string) string {
	return filepath.Join(s.baseDir, outlineID)
}

func (s *Service) outlineLock(outlineID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()

	lock, ok := s.locks[outlineID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[outlineID] = lock
	return lock
}

func readSnapshot(commitObj *object.Commit) (Snapshot, error) {
	file, err := commitObj.File(snapshotFile)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load %s from commit: %w", snapshotFile, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return Snapshot{}, fmt.Errorf("open snapshot reader: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read snapshot bytes: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}

func toCommit(commitObj *object.Commit) Commit {
	return Commit{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}
