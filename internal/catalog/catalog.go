// Package catalog resolves business projects to the repository used for planning.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"cadence/api/internal/model"
)

// ErrNeedsConfiguration means the project has no lead repository; planning is
// disabled and milestones must not be listed.
var ErrNeedsConfiguration = errors.New("business project has no lead repository")

var ErrUnknownProject = errors.New("unknown business project")

type source interface {
	ListBusinessProjects(context.Context) ([]model.BusinessProject, error)
}

type Catalog struct {
	source source

	mu       sync.RWMutex
	projects map[string]model.BusinessProject
}

func New(src source) *Catalog {
	return &Catalog{source: src, projects: make(map[string]model.BusinessProject)}
}

func (c *Catalog) ListBusinessProjects(ctx context.Context) ([]model.BusinessProject, error) {
	projects, err := c.source.ListBusinessProjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("list business projects: %w", err)
	}
	c.mu.Lock()
	c.projects = make(map[string]model.BusinessProject, len(projects))
	for _, p := range projects {
		c.projects[p.ID] = p
	}
	c.mu.Unlock()
	return projects, nil
}

// ResolveLeadRepository returns the designated lead repository. The identifier
// alone is enough; the project's repository list need not be loaded.
func ResolveLeadRepository(project model.BusinessProject) (int64, bool) {
	if project.LeadRepoID == nil || *project.LeadRepoID <= 0 {
		return 0, false
	}
	return *project.LeadRepoID, true
}

// PlanningRepository looks up a project from the last listing and returns its
// lead repository, or ErrNeedsConfiguration.
func (c *Catalog) PlanningRepository(projectID string) (int64, error) {
	c.mu.RLock()
	project, ok := c.projects[projectID]
	c.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownProject, projectID)
	}
	repoID, ok := ResolveLeadRepository(project)
	if !ok {
		return 0, fmt.Errorf("%s: %w", project.Name, ErrNeedsConfiguration)
	}
	return repoID, nil
}

// LeadRepository returns the lead's full record when the repository list was
// fetched, falling back to a bare identifier otherwise.
func LeadRepository(project model.BusinessProject) (model.Repository, bool) {
	repoID, ok := ResolveLeadRepository(project)
	if !ok {
		return model.Repository{}, false
	}
	for _, repo := range project.Repositories {
		if repo.ID == repoID {
			return repo, true
		}
	}
	return model.Repository{ID: repoID, Name: fmt.Sprintf("Lead Repo (ID: %d)", repoID)}, true
}
