// Package local is an in-process tracker used for development and end-to-end
// tests. Milestones and issues live in memory; tags are cut in real git
// repositories through gitrepo.
package local

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"cadence/api/internal/gitrepo"
	"cadence/api/internal/model"
	"cadence/api/internal/tracker"
)

type Release struct {
	RepoID int64
	Spec   tracker.ReleaseSpec
}

type Tracker struct {
	tags *gitrepo.Service
	now  func() time.Time

	mu         sync.Mutex
	nextID     int64
	milestones map[int64][]*model.Milestone
	issues     map[int64][]*model.Issue
	releases   []Release
}

func New(tags *gitrepo.Service) *Tracker {
	return &Tracker{
		tags:       tags,
		now:        time.Now,
		nextID:     1000,
		milestones: make(map[int64][]*model.Milestone),
		issues:     make(map[int64][]*model.Issue),
	}
}

// ForCredential accepts any non-empty credential and returns the shared
// tracker.
func (t *Tracker) ForCredential(credential string) (tracker.Tracker, error) {
	if strings.TrimSpace(credential) == "" {
		return nil, tracker.ErrUnauthorized
	}
	return t, nil
}

// AddRepository prepares the git repository that backs tag creation.
func (t *Tracker) AddRepository(repoID int64) error {
	if t.tags == nil {
		return nil
	}
	return t.tags.EnsureRepo(repoID, "Cadence")
}

// SeedIssue adds an issue. A zero IID is assigned the next free one.
func (t *Tracker) SeedIssue(repoID int64, issue model.Issue) model.Issue {
	t.mu.Lock()
	defer t.mu.Unlock()
	if issue.IID == 0 {
		issue.IID = int64(len(t.issues[repoID]) + 1)
	}
	if issue.ID == 0 {
		issue.ID = t.allocID()
	}
	if issue.State == "" {
		issue.State = model.IssueOpened
	}
	if issue.CreatedAt == nil {
		created := t.now()
		issue.CreatedAt = &created
	}
	stored := issue
	t.issues[repoID] = append(t.issues[repoID], &stored)
	return stored
}

// CloseIssue marks the issue closed.
func (t *Tracker) CloseIssue(repoID, issueIID int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	issue := t.findIssue(repoID, issueIID)
	if issue == nil {
		return tracker.ErrNotFound
	}
	issue.State = model.IssueClosed
	return nil
}

// Milestone returns any milestone, open or closed.
func (t *Tracker) Milestone(repoID, milestoneID int64) (model.Milestone, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m := t.findMilestone(repoID, milestoneID)
	if m == nil {
		return model.Milestone{}, false
	}
	return *m, true
}

func (t *Tracker) Releases() []Release {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Release(nil), t.releases...)
}

func (t *Tracker) Tags(repoID int64) ([]gitrepo.Tag, error) {
	if t.tags == nil {
		return nil, nil
	}
	return t.tags.Tags(repoID)
}

func (t *Tracker) ListMilestones(_ context.Context, repoID int64) ([]model.Milestone, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]model.Milestone, 0, len(t.milestones[repoID]))
	for _, m := range t.milestones[repoID] {
		if m.State == model.MilestoneOpen {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (t *Tracker) CreateMilestone(_ context.Context, repoID int64, draft model.MilestoneDraft) (model.Milestone, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m := &model.Milestone{
		ID:          t.allocID(),
		IID:         int64(len(t.milestones[repoID]) + 1),
		Title:       draft.Title,
		StartDate:   draft.StartDate,
		DueDate:     draft.DueDate,
		Description: draft.Description,
		State:       model.MilestoneOpen,
	}
	t.milestones[repoID] = append(t.milestones[repoID], m)
	return *m, nil
}

func (t *Tracker) UpdateMilestone(_ context.Context, repoID, milestoneID int64, update tracker.MilestoneUpdate) (model.Milestone, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m := t.findMilestone(repoID, milestoneID)
	if m == nil {
		return model.Milestone{}, tracker.ErrNotFound
	}
	if update.Title != nil {
		m.Title = *update.Title
		for _, issue := range t.issues[repoID] {
			if issue.Milestone != nil && issue.Milestone.ID == m.ID {
				issue.Milestone.Title = m.Title
			}
		}
	}
	if update.StateEvent != nil {
		switch *update.StateEvent {
		case tracker.StateEventClose:
			m.State = model.MilestoneClosed
		case tracker.StateEventActivate:
			m.State = model.MilestoneOpen
		default:
			return model.Milestone{}, fmt.Errorf("unknown state event %q", *update.StateEvent)
		}
	}
	return *m, nil
}

func (t *Tracker) ListIssues(_ context.Context, repoID int64, filter tracker.IssueFilter) ([]model.Issue, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []model.Issue
	for _, issue := range t.issues[repoID] {
		if filter.State != "" && issue.State != filter.State {
			continue
		}
		if filter.NoMilestone && issue.Milestone != nil {
			continue
		}
		if filter.Milestone != "" && (issue.Milestone == nil || issue.Milestone.Title != filter.Milestone) {
			continue
		}
		out = append(out, copyIssue(issue))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].IID < out[j].IID })
	return out, nil
}

func (t *Tracker) SetIssueMilestone(_ context.Context, repoID, issueIID, milestoneID int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	issue := t.findIssue(repoID, issueIID)
	if issue == nil {
		return tracker.ErrNotFound
	}
	if milestoneID == 0 {
		issue.Milestone = nil
		return nil
	}
	m := t.findMilestone(repoID, milestoneID)
	if m == nil {
		return tracker.ErrNotFound
	}
	issue.Milestone = &model.MilestoneRef{ID: m.ID, Title: m.Title}
	return nil
}

func (t *Tracker) CreateTag(_ context.Context, repoID int64, name, ref, message string) error {
	if t.tags == nil {
		return errors.New("local tracker has no tag store")
	}
	_, err := t.tags.CreateTag(repoID, ref, name, message)
	return err
}

func (t *Tracker) CreateRelease(_ context.Context, repoID int64, spec tracker.ReleaseSpec) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, r := range t.releases {
		if r.RepoID == repoID && r.Spec.TagName == spec.TagName {
			return fmt.Errorf("release %s already exists", spec.TagName)
		}
	}
	t.releases = append(t.releases, Release{RepoID: repoID, Spec: spec})
	return nil
}

func (t *Tracker) allocID() int64 {
	t.nextID++
	return t.nextID
}

func (t *Tracker) findMilestone(repoID, milestoneID int64) *model.Milestone {
	for _, m := range t.milestones[repoID] {
		if m.ID == milestoneID {
			return m
		}
	}
	return nil
}

func (t *Tracker) findIssue(repoID, issueIID int64) *model.Issue {
	for _, issue := range t.issues[repoID] {
		if issue.IID == issueIID {
			return issue
		}
	}
	return nil
}

func copyIssue(issue *model.Issue) model.Issue {
	out := *issue
	out.Labels = append([]string(nil), issue.Labels...)
	if issue.Milestone != nil {
		ref := *issue.Milestone
		out.Milestone = &ref
	}
	return out
}
