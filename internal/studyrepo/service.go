// Package studyrepo keeps an on-disk git repository per study so every saved
// revision of the study design can be inspected and restored.
package studyrepo

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"afkar/api/internal/store"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Design is the versioned snapshot of a study: its metadata plus the ordered
// block list, as committed to design.json.
type Design struct {
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Status      string        `json:"status"`
	Blocks      []BlockDesign `json:"blocks"`
}

// BlockDesign is one block as captured in a design snapshot.
type BlockDesign struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Title    string          `json:"title"`
	Settings json.RawMessage `json:"settings,omitempty"`
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

// EnsureStudyRepo initializes the repository for a study with a baseline
// commit. Calling it for a study that already has a repository is a no-op.
func (s *Service) EnsureStudyRepo(studyID string, initial Design, author string) error {
	lock := s.studyLock(studyID)
	lock.Lock()
	defer lock.Unlock()

	path := s.repoPath(studyID)
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat repo path: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create repo dir: %w", err)
	}

	repo, err := git.PlainInit(path, false)
	if err != nil {
		return fmt.Errorf("init repo: %w", err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}
	payload, err := json.MarshalIndent(initial, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal initial design: %w", err)
	}
	if err := os.WriteFile(filepath.Join(path, "design.json"), append(payload, '\n'), 0o644); err != nil {
		return fmt.Errorf("write initial design: %w", err)
	}
	if _, err := worktree.Add("design.json"); err != nil {
		return fmt.Errorf("git add initial design: %w", err)
	}
	hash, err := worktree.Commit("Create study", &git.CommitOptions{
		Author: signature(author),
	})
	if err != nil {
		return fmt.Errorf("commit initial design: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName("main"), hash)); err != nil {
		return fmt.Errorf("set main branch ref: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))); err != nil {
		return fmt.Errorf("set HEAD to main: %w", err)
	}
	return nil
}

// CommitDesign records a new revision of the study design.
func (s *Service) CommitDesign(studyID string, design Design, author, message string) (store.CommitInfo, error) {
	lock := s.studyLock(studyID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(studyID))
	if err != nil {
		return store.CommitInfo{}, fmt.Errorf("open repo: %w", err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return store.CommitInfo{}, fmt.Errorf("open worktree: %w", err)
	}

	payload, err := json.MarshalIndent(design, "", "  ")
	if err != nil {
		return store.CommitInfo{}, fmt.Errorf("marshal design: %w", err)
	}

	repoRoot := worktree.Filesystem.Root()
	if err := os.WriteFile(filepath.Join(repoRoot, "design.json"), append(payload, '\n'), 0o644); err != nil {
		return store.CommitInfo{}, fmt.Errorf("write design.json: %w", err)
	}

	if _, err := worktree.Add("design.json"); err != nil {
		return store.CommitInfo{}, fmt.Errorf("git add design: %w", err)
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		AllowEmptyCommits: true,
		Author:            signature(author),
	})
	if err != nil {
		return store.CommitInfo{}, fmt.Errorf("commit design: %w", err)
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return store.CommitInfo{}, fmt.Errorf("read commit object: %w", err)
	}

	return toCommitInfo(commitObj), nil
}

// GetHeadDesign returns the latest committed design and its commit.
func (s *Service) GetHeadDesign(studyID string) (Design, store.CommitInfo, error) {
	lock := s.studyLock(studyID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(studyID))
	if err != nil {
		return Design{}, store.CommitInfo{}, fmt.Errorf("open repo: %w", err)
	}

	ref, err := repo.Reference(plumbing.NewBranchReferenceName("main"), true)
	if err != nil {
		return Design{}, store.CommitInfo{}, fmt.Errorf("resolve main: %w", err)
	}

	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return Design{}, store.CommitInfo{}, fmt.Errorf("load commit object: %w", err)
	}

	design, err := readDesignFromCommit(commitObj)
	if err != nil {
		return Design{}, store.CommitInfo{}, err
	}

	return design, toCommitInfo(commitObj), nil
}

// GetDesignByHash returns the design snapshot at a specific revision.
// Abbreviated hashes are accepted.
func (s *Service) GetDesignByHash(studyID, hash string) (Design, error) {
	lock := s.studyLock(studyID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(studyID))
	if err != nil {
		return Design{}, fmt.Errorf("open repo: %w", err)
	}

	resolvedHash, err := resolveHash(repo, hash)
	if err != nil {
		return Design{}, err
	}
	commitObj, err := repo.CommitObject(resolvedHash)
	if err != nil {
		return Design{}, fmt.Errorf("read commit %s: %w", hash, err)
	}
	return readDesignFromCommit(commitObj)
}

// History lists revisions newest-first, up to limit when limit > 0.
func (s *Service) History(studyID string, limit int) ([]store.CommitInfo, error) {
	lock := s.studyLock(studyID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(studyID))
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	ref, err := repo.Reference(plumbing.NewBranchReferenceName("main"), true)
	if err != nil {
		return nil, fmt.Errorf("resolve main: %w", err)
	}

	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]store.CommitInfo, 0, limit)
	count := 0
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toCommitInfo(commitObj))
		count++
		if limit > 0 && count >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// HasChanges reports whether two designs differ.
func HasChanges(from, to Design) bool {
	a, _ := json.Marshal(from)
	b, _ := json.Marshal(to)
	return string(a) != string(b)
}

func (s *Service) repoPath(studyID string) string {
	return filepath.Join(s.baseDir, studyID)
}

func (s *Service) studyLock(studyID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[studyID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[studyID] = lock
	return lock
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}

	// Abbreviated hash: scan the log for a prefix match.
	head, err := repo.Head()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve HEAD: %w", err)
	}
	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	var found plumbing.Hash
	err = iter.ForEach(func(commitObj *object.Commit) error {
		if strings.HasPrefix(commitObj.Hash.String(), hash) {
			found = commitObj.Hash
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return plumbing.ZeroHash, fmt.Errorf("iterate log: %w", err)
	}
	if found.IsZero() {
		return plumbing.ZeroHash, fmt.Errorf("commit %s not found", hash)
	}
	return found, nil
}

func readDesignFromCommit(commitObj *object.Commit) (Design, error) {
	file, err := commitObj.File("design.json")
	if err != nil {
		return Design{}, fmt.Errorf("load design.json from commit: %w", err)
	}
	reader, err := file.Reader()
	if err != nil {
		return Design{}, fmt.Errorf("open design reader: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return Design{}, fmt.Errorf("read design bytes: %w", err)
	}

	var design Design
	if err := json.Unmarshal(data, &design); err != nil {
		return Design{}, fmt.Errorf("decode commit design: %w", err)
	}
	return design, nil
}

func signature(author string) *object.Signature {
	return &object.Signature{
		Name:  author,
		Email: fmt.Sprintf("%s@local.afkar.dev", sanitizeEmail(author)),
		When:  time.Now(),
	}
}

func sanitizeEmail(author string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '-'
		}
	}, author)
	if cleaned == "" {
		return "unknown"
	}
	return cleaned
}

func toCommitInfo(commitObj *object.Commit) store.CommitInfo {
	return store.CommitInfo{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}
