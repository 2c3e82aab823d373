// Package history keeps the content history of each log entry as a git repository holding one
// content.json file, one commit per distinct saved version.
package history

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"golang.org/x/crypto/blake2b"
)

const (
	contentFile = "content.json"
	mainBranch  = "main"
)

var (
	ErrNoHistory      = errors.New("entry has no history")
	ErrUnknownVersion = errors.New("unknown version")
)

// Snapshot is the versioned state of an entry.
type Snapshot struct {
	Title   string          `json:"title"`
	Author  string          `json:"author"`
	Content json.RawMessage `json:"content"`
}

type CommitInfo struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	Digest    string    `json:"digest,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// Digest is the blake2b-256 hex digest of a document in canonical JSON form, so documents that
// differ only in whitespace or key order share a digest. Unreadable input is digested as is.
func Digest(content json.RawMessage) string {
	canonical := normalizeDoc(content)
	if canonical == nil {
		canonical = content
	}
	sum := blake2b.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

// Commit records a snapshot of an entry, creating the entry's repository on first use. A snapshot
// identical to the head is not committed again: the head is returned with created false.
func (s *Service) Commit(entryID string, snap Snapshot, message string) (CommitInfo, bool, error) {
	lock := s.entryLock(entryID)
	lock.Lock()
	defer lock.Unlock()

	repo, fresh, err := s.openOrInit(entryID)
	if err != nil {
		return CommitInfo{}, false, err
	}

	if !fresh {
		head, err := headCommit(repo)
		if err != nil {
			return CommitInfo{}, false, err
		}
		current, err := readSnapshot(head)
		if err != nil {
			return CommitInfo{}, false, err
		}
		if !Changed(current, snap) {
			return toCommitInfo(head, current), false, nil
		}
	}

	hash, err := s.commit(repo, snap, message)
	if err != nil {
		return CommitInfo{}, false, err
	}
	if fresh {
		if err := repo.Storer.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName(mainBranch), hash)); err != nil {
			return CommitInfo{}, false, fmt.Errorf("set main branch ref: %w", err)
		}
		if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(mainBranch))); err != nil {
			return CommitInfo{}, false, fmt.Errorf("set HEAD to main: %w", err)
		}
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return CommitInfo{}, false, fmt.Errorf("read commit object: %w", err)
	}
	return toCommitInfo(commitObj, snap), true, nil
}

// Head returns the latest snapshot of an entry.
func (s *Service) Head(entryID string) (Snapshot, CommitInfo, error) {
	lock := s.entryLock(entryID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(entryID)
	if err != nil {
		return Snapshot{}, CommitInfo{}, err
	}
	commitObj, err := headCommit(repo)
	if err != nil {
		return Snapshot{}, CommitInfo{}, err
	}
	snap, err := readSnapshot(commitObj)
	if err != nil {
		return Snapshot{}, CommitInfo{}, err
	}
	return snap, toCommitInfo(commitObj, snap), nil
}

// At returns the snapshot of an entry at a full or abbreviated commit hash.
func (s *Service) At(entryID, hash string) (Snapshot, CommitInfo, error) {
	lock := s.entryLock(entryID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(entryID)
	if err != nil {
		return Snapshot{}, CommitInfo{}, err
	}
	resolved, err := resolveHash(repo, hash)
	if err != nil {
		return Snapshot{}, CommitInfo{}, err
	}
	commitObj, err := repo.CommitObject(resolved)
	if errors.Is(err, plumbing.ErrObjectNotFound) {
		return Snapshot{}, CommitInfo{}, fmt.Errorf("%w: %s", ErrUnknownVersion, hash)
	}
	if err != nil {
		return Snapshot{}, CommitInfo{}, fmt.Errorf("read commit %s: %w", hash, err)
	}
	snap, err := readSnapshot(commitObj)
	if err != nil {
		return Snapshot{}, CommitInfo{}, err
	}
	return snap, toCommitInfo(commitObj, snap), nil
}

// History lists the commits of an entry, newest first. A limit of zero or less lists them all.
func (s *Service) History(entryID string, limit int) ([]CommitInfo, error) {
	lock := s.entryLock(entryID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(entryID)
	if err != nil {
		return nil, err
	}
	head, err := headCommit(repo)
	if err != nil {
		return nil, err
	}

	iter, err := repo.Log(&git.LogOptions{From: head.Hash})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]CommitInfo, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		snap, err := readSnapshot(commitObj)
		if err != nil {
			return err
		}
		items = append(items, toCommitInfo(commitObj, snap))
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

// Changed reports whether two snapshots differ in any versioned field. Content is compared in
// canonical form.
func Changed(from, to Snapshot) bool {
	return from.Title != to.Title || from.Author != to.Author || Digest(from.Content) != Digest(to.Content)
}

func (s *Service) repoPath(entryID string) string {
	return filepath.Join(s.baseDir, entryID)
}

func (s *Service) entryLock(entryID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[entryID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[entryID] = lock
	return lock
}

func (s *Service) open(entryID string) (*git.Repository, error) {
	repo, err := git.PlainOpen(s.repoPath(entryID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("entry %s: %w", entryID, ErrNoHistory)
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	return repo, nil
}

func (s *Service) openOrInit(entryID string) (*git.Repository, bool, error) {
	repo, err := s.open(entryID)
	if err == nil {
		return repo, false, nil
	}
	if !errors.Is(err, ErrNoHistory) {
		return nil, false, err
	}

	path := s.repoPath(entryID)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, false, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, false, fmt.Errorf("init repo: %w", err)
	}
	return repo, true, nil
}

func (s *Service) commit(repo *git.Repository, snap Snapshot, message string) (plumbing.Hash, error) {
	worktree, err := repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("open worktree: %w", err)
	}

	payload, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := os.WriteFile(filepath.Join(worktree.Filesystem.Root(), contentFile), append(payload, '\n'), 0o644); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("write %s: %w", contentFile, err)
	}
	if _, err := worktree.Add(contentFile); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("git add content: %w", err)
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  snap.Author,
			Email: fmt.Sprintf("%s@local.logbook.dev", sanitizeEmail(snap.Author)),
			When:  time.Now(),
		},
	})
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("commit content: %w", err)
	}
	return hash, nil
}

func headCommit(repo *git.Repository) (*object.Commit, error) {
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(mainBranch), true)
	if err != nil {
		return nil, fmt.Errorf("resolve branch %s: %w", mainBranch, err)
	}
	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("load commit object: %w", err)
	}
	return commitObj, nil
}

func readSnapshot(commitObj *object.Commit) (Snapshot, error) {
	file, err := commitObj.File(contentFile)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load %s from commit: %w", contentFile, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return Snapshot{}, fmt.Errorf("open content reader: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read content bytes: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode commit content: %w", err)
	}
	return snap, nil
}

func toCommitInfo(commitObj *object.Commit, snap Snapshot) CommitInfo {
	return CommitInfo{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		Digest:    Digest(snap.Content),
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

func normalizeDoc(doc json.RawMessage) []byte {
	if len(doc) == 0 {
		return nil
	}
	var parsed any
	if err := json.Unmarshal(doc, &parsed); err != nil {
		return nil
	}
	normalized, err := json.Marshal(parsed)
	if err != nil {
		return nil
	}
	return normalized
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("%w: %s: %v", ErrUnknownVersion, hash, err)
	}
	return *resolved, nil
}
