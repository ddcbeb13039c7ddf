// Package tracker is the server-side view of the remote issue tracker: the
// milestone, issue, tag and release operations the iteration plan needs.
package tracker

import (
	"context"
	"errors"

	"cadence/api/internal/model"
)

var (
	ErrNotFound     = errors.New("tracker: not found")
	ErrUnauthorized = errors.New("tracker: credential rejected")
)

const (
	StateEventClose    = "close"
	StateEventActivate = "activate"
)

type MilestoneUpdate struct {
	Title      *string
	StateEvent *string
}

// IssueFilter narrows ListIssues. Milestone filters by title; NoMilestone
// keeps only unassigned issues. State "" means any state.
type IssueFilter struct {
	State       string
	Milestone   string
	NoMilestone bool
}

// ReleaseSpec describes a tracker release. Ref is used to create TagName
// when the tag does not exist yet.
type ReleaseSpec struct {
	TagName     string
	Ref         string
	Name        string
	Description string
	Milestones  []string
}

type Tracker interface {
	ListMilestones(ctx context.Context, repoID int64) ([]model.Milestone, error)
	CreateMilestone(ctx context.Context, repoID int64, draft model.MilestoneDraft) (model.Milestone, error)
	UpdateMilestone(ctx context.Context, repoID, milestoneID int64, update MilestoneUpdate) (model.Milestone, error)
	ListIssues(ctx context.Context, repoID int64, filter IssueFilter) ([]model.Issue, error)
	// SetIssueMilestone assigns the issue; milestoneID 0 unassigns it.
	SetIssueMilestone(ctx context.Context, repoID, issueIID, milestoneID int64) error
	CreateTag(ctx context.Context, repoID int64, name, ref, message string) error
	CreateRelease(ctx context.Context, repoID int64, spec ReleaseSpec) error
}

// Factory opens a tracker acting with one user's credential.
type Factory interface {
	ForCredential(credential string) (Tracker, error)
}

// FindMilestone returns the open milestone with the given title. Titles are
// not unique; the first match wins.
func FindMilestone(ctx context.Context, t Tracker, repoID int64, title string) (model.Milestone, error) {
	milestones, err := t.ListMilestones(ctx, repoID)
	if err != nil {
		return model.Milestone{}, err
	}
	for _, m := range milestones {
		if m.Title == title {
			return m, nil
		}
	}
	return model.Milestone{}, ErrNotFound
}
