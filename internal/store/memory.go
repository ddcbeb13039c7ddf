package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps everything in process. It backs the local tracker mode
// when no database is configured and the end-to-end tests.
type MemoryStore struct {
	mu         sync.Mutex
	users      map[string]User
	repos      map[int64]Repository
	projects   map[string]BusinessProject
	identities map[string]IdentityBinding
	releases   []ReleaseRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:      make(map[string]User),
		repos:      make(map[int64]Repository),
		projects:   make(map[string]BusinessProject),
		identities: make(map[string]IdentityBinding),
	}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) EnsureUserByName(_ context.Context, name string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, user := range s.users {
		if user.DisplayName == name {
			return user, nil
		}
	}
	user := User{
		ID:          uuid.NewString(),
		DisplayName: name,
		Email:       strings.ToLower(strings.ReplaceAll(name, " ", ".")) + "@local.cadence.dev",
		Role:        DefaultRole,
		CreatedAt:   time.Now().UTC(),
	}
	s.users[user.ID] = user
	return user, nil
}

func (s *MemoryStore) GetUserByID(_ context.Context, userID string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return User{}, ErrNotFound
	}
	return user, nil
}

func (s *MemoryStore) SetRole(_ context.Context, userID, role string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	user.Role = role
	s.users[userID] = user
	return nil
}

func (s *MemoryStore) UpsertRepository(_ context.Context, repo Repository) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if repo.CreatedAt.IsZero() {
		repo.CreatedAt = time.Now().UTC()
	}
	s.repos[repo.ID] = repo
	return nil
}

func (s *MemoryStore) ListRepositories(context.Context) ([]Repository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Repository, 0, len(s.repos))
	for _, repo := range s.repos {
		out = append(out, repo)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].ID < out[j].ID
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (s *MemoryStore) UpsertBusinessProject(_ context.Context, project BusinessProject) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if project.Status == "" {
		project.Status = "active"
	}
	if project.CreatedAt.IsZero() {
		project.CreatedAt = time.Now().UTC()
	}
	project.Repositories = append([]Repository(nil), project.Repositories...)
	s.projects[project.ID] = project
	return nil
}

func (s *MemoryStore) ListBusinessProjects(context.Context) ([]BusinessProject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]BusinessProject, 0, len(s.projects))
	for _, project := range s.projects {
		project.Repositories = append([]Repository(nil), project.Repositories...)
		out = append(out, project)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) GetIdentityBinding(_ context.Context, userID, provider string) (IdentityBinding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	binding, ok := s.identities[userID+"/"+provider]
	if !ok {
		return IdentityBinding{}, ErrNotFound
	}
	return binding, nil
}

func (s *MemoryStore) SaveIdentityBinding(_ context.Context, binding IdentityBinding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	binding.UpdatedAt = time.Now().UTC()
	s.identities[binding.UserID+"/"+binding.Provider] = binding
	return nil
}

func (s *MemoryStore) DeleteIdentityBinding(_ context.Context, userID, provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.identities, userID+"/"+provider)
	return nil
}

func (s *MemoryStore) InsertRelease(_ context.Context, record ReleaseRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	s.releases = append(s.releases, record)
	return nil
}

func (s *MemoryStore) ListReleases(_ context.Context, repoID int64, limit int) ([]ReleaseRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ReleaseRecord
	for i := len(s.releases) - 1; i >= 0; i-- {
		if s.releases[i].RepoID != repoID {
			continue
		}
		out = append(out, s.releases[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
