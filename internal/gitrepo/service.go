// Package gitrepo keeps one local git repository per tracked repository so the
// local tracker can cut real release tags.
package gitrepo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

var ErrTagExists = errors.New("tag already exists")

type Tag struct {
	Name    string
	Hash    string
	Message string
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[int64]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[int64]*sync.Mutex),
	}
}

// EnsureRepo initialises the repository with a baseline commit on main.
func (s *Service) EnsureRepo(repoID int64, author string) error {
	lock := s.repoLock(repoID)
	lock.Lock()
	defer lock.Unlock()

	path := s.repoPath(repoID)
	if _, err := os.Stat(filepath.Join(path, ".git")); err == nil {
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
	readme := fmt.Sprintf("# repository %d\n", repoID)
	if err := os.WriteFile(filepath.Join(path, "README.md"), []byte(readme), 0o644); err != nil {
		return fmt.Errorf("write readme: %w", err)
	}
	if _, err := worktree.Add("README.md"); err != nil {
		return fmt.Errorf("git add readme: %w", err)
	}
	hash, err := worktree.Commit("Initial commit", &git.CommitOptions{
		Author: signature(author),
	})
	if err != nil {
		return fmt.Errorf("commit baseline: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName("main"), hash)); err != nil {
		return fmt.Errorf("set main branch ref: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))); err != nil {
		return fmt.Errorf("set HEAD to main: %w", err)
	}
	return nil
}

// CreateTag creates an annotated tag at the head of ref, which may be a branch
// name or a revision.
func (s *Service) CreateTag(repoID int64, ref, name, message string) (Tag, error) {
	lock := s.repoLock(repoID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(repoID))
	if err != nil {
		return Tag{}, fmt.Errorf("open repo: %w", err)
	}
	target, err := resolveRef(repo, ref)
	if err != nil {
		return Tag{}, err
	}
	if message == "" {
		message = name
	}
	_, err = repo.CreateTag(name, target, &git.CreateTagOptions{
		Tagger:  signature("Cadence"),
		Message: message,
	})
	if errors.Is(err, git.ErrTagExists) {
		return Tag{}, fmt.Errorf("%w: %s", ErrTagExists, name)
	}
	if err != nil {
		return Tag{}, fmt.Errorf("create tag: %w", err)
	}
	return Tag{Name: name, Hash: target.String(), Message: message}, nil
}

func (s *Service) Tags(repoID int64) ([]Tag, error) {
	lock := s.repoLock(repoID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(repoID))
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	iter, err := repo.Tags()
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	var tags []Tag
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		tag := Tag{Name: ref.Name().Short(), Hash: ref.Hash().String()}
		if annotated, err := repo.TagObject(ref.Hash()); err == nil {
			tag.Hash = annotated.Target.String()
			tag.Message = annotated.Message
		}
		tags = append(tags, tag)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate tags: %w", err)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].Name < tags[j].Name })
	return tags, nil
}

func (s *Service) repoPath(repoID int64) string {
	return filepath.Join(s.baseDir, strconv.FormatInt(repoID, 10))
}

func (s *Service) repoLock(repoID int64) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[repoID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[repoID] = lock
	return lock
}

func resolveRef(repo *git.Repository, ref string) (plumbing.Hash, error) {
	if branch, err := repo.Reference(plumbing.NewBranchReferenceName(ref), true); err == nil {
		return branch.Hash(), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(ref))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve ref %s: %w", ref, err)
	}
	return *resolved, nil
}

func signature(name string) *object.Signature {
	return &object.Signature{
		Name:  name,
		Email: fmt.Sprintf("%s@local.cadence.dev", sanitizeEmail(name)),
		When:  time.Now(),
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
