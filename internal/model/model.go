// Package model holds the wire types shared by the portal API and its clients.
package model

import "time"

const (
	IssueOpened = "opened"
	IssueClosed = "closed"

	MilestoneOpen   = "open"
	MilestoneClosed = "closed"

	LabelRequirement = "type::requirements"
	LabelBug         = "type::bug"
)

// Repository is a source-control project reference.
type Repository struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Path string `json:"path"`
}

// BusinessProject groups repositories for planning. LeadRepoID names the
// repository used for planning and release when one is designated.
type BusinessProject struct {
	ID           string       `json:"project_id"`
	Name         string       `json:"project_name"`
	Status       string       `json:"status,omitempty"`
	Repositories []Repository `json:"repositories,omitempty"`
	RepoCount    int          `json:"repo_count"`
	LeadRepoID   *int64       `json:"lead_repo_id"`
}

type Milestone struct {
	ID          int64   `json:"id"`
	IID         int64   `json:"iid,omitempty"`
	Title       string  `json:"title"`
	StartDate   *string `json:"start_date"`
	DueDate     *string `json:"due_date"`
	Description *string `json:"description"`
	State       string  `json:"state"`
}

// MilestoneDraft is the create payload. Absent optional fields encode as null.
type MilestoneDraft struct {
	Title       string  `json:"title"`
	StartDate   *string `json:"start_date"`
	DueDate     *string `json:"due_date"`
	Description *string `json:"description"`
}

type MilestoneRef struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

type Author struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username,omitempty"`
}

type Issue struct {
	ID        int64         `json:"id"`
	IID       int64         `json:"iid"`
	Title     string        `json:"title"`
	State     string        `json:"state"`
	Weight    int           `json:"weight"`
	Labels    []string      `json:"labels"`
	Milestone *MilestoneRef `json:"milestone"`
	Author    *Author       `json:"author,omitempty"`
	CreatedAt *time.Time    `json:"created_at,omitempty"`
}

// IsBug reports whether the issue carries the bug type label.
func (i Issue) IsBug() bool {
	for _, label := range i.Labels {
		if label == LabelBug {
			return true
		}
	}
	return false
}

// ReleaseAttempt describes one invocation of the release protocol.
type ReleaseAttempt struct {
	MilestoneTitle    string
	NewTitle          string
	RefBranch         string
	AutoRollover      bool
	TargetMilestoneID *int64
}

// ReleaseRequest is the release endpoint payload. TargetMilestoneID is always
// sent, as null when rollover unassigns issues.
type ReleaseRequest struct {
	Version           string `json:"version"`
	NewTitle          string `json:"new_title"`
	RefBranch         string `json:"ref_branch"`
	AutoRollover      bool   `json:"auto_rollover"`
	TargetMilestoneID *int64 `json:"target_milestone_id"`
}

func (a ReleaseAttempt) Request() ReleaseRequest {
	ref := a.RefBranch
	if ref == "" {
		ref = "main"
	}
	return ReleaseRequest{
		Version:           a.MilestoneTitle,
		NewTitle:          a.NewTitle,
		RefBranch:         ref,
		AutoRollover:      a.AutoRollover,
		TargetMilestoneID: a.TargetMilestoneID,
	}
}

type ReleaseResult struct {
	Status       string `json:"status"`
	Tag          string `json:"tag"`
	ReleaseNotes string `json:"release_notes"`
}

type PlanRequest struct {
	IssueIID    int64 `json:"issue_iid"`
	MilestoneID int64 `json:"milestone_id"`
}

type RemoveRequest struct {
	IssueIID int64 `json:"issue_iid"`
}

type StatusResponse struct {
	Status string `json:"status"`
}

// CurrentUser is the acting portal user as reported by the session endpoint.
type CurrentUser struct {
	Authenticated bool   `json:"authenticated"`
	UserID        string `json:"userId,omitempty"`
	UserName      string `json:"userName,omitempty"`
	Role          string `json:"role,omitempty"`
}
