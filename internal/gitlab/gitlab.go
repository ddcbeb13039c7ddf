// Package gitlab implements tracker.Tracker on top of the GitLab REST API.
package gitlab

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	gogitlab "github.com/xanzy/go-gitlab"

	"cadence/api/internal/model"
	"cadence/api/internal/tracker"
)

const (
	perPage    = 100
	dateLayout = "2006-01-02"
)

// Factory opens GitLab clients acting with a user's OAuth token.
type Factory struct {
	BaseURL    string
	HTTPClient *http.Client
}

func NewFactory(baseURL string, httpClient *http.Client) *Factory {
	return &Factory{BaseURL: strings.TrimRight(baseURL, "/"), HTTPClient: httpClient}
}

func (f *Factory) ForCredential(credential string) (tracker.Tracker, error) {
	if strings.TrimSpace(credential) == "" {
		return nil, tracker.ErrUnauthorized
	}
	opts := []gogitlab.ClientOptionFunc{gogitlab.WithBaseURL(f.BaseURL + "/api/v4")}
	if f.HTTPClient != nil {
		opts = append(opts, gogitlab.WithHTTPClient(f.HTTPClient))
	}
	client, err := gogitlab.NewOAuthClient(credential, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gitlab client: %w", err)
	}
	return &Tracker{client: client}, nil
}

type Tracker struct {
	client *gogitlab.Client
}

func (t *Tracker) ListMilestones(ctx context.Context, repoID int64) ([]model.Milestone, error) {
	opts := &gogitlab.ListMilestonesOptions{
		ListOptions: gogitlab.ListOptions{Page: 1, PerPage: perPage},
		State:       gogitlab.String("active"),
	}
	var out []model.Milestone
	for {
		page, resp, err := t.client.Milestones.ListMilestones(int(repoID), opts, gogitlab.WithContext(ctx))
		if err != nil {
			return nil, wrap("list milestones", err)
		}
		for _, m := range page {
			out = append(out, toMilestone(m))
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

func (t *Tracker) CreateMilestone(ctx context.Context, repoID int64, draft model.MilestoneDraft) (model.Milestone, error) {
	opts := &gogitlab.CreateMilestoneOptions{
		Title:       gogitlab.String(draft.Title),
		Description: draft.Description,
	}
	var err error
	if opts.StartDate, err = isoDate(draft.StartDate); err != nil {
		return model.Milestone{}, fmt.Errorf("start_date: %w", err)
	}
	if opts.DueDate, err = isoDate(draft.DueDate); err != nil {
		return model.Milestone{}, fmt.Errorf("due_date: %w", err)
	}
	m, _, err := t.client.Milestones.CreateMilestone(int(repoID), opts, gogitlab.WithContext(ctx))
	if err != nil {
		return model.Milestone{}, wrap("create milestone", err)
	}
	return toMilestone(m), nil
}

func (t *Tracker) UpdateMilestone(ctx context.Context, repoID, milestoneID int64, update tracker.MilestoneUpdate) (model.Milestone, error) {
	opts := &gogitlab.UpdateMilestoneOptions{
		Title:      update.Title,
		StateEvent: update.StateEvent,
	}
	m, _, err := t.client.Milestones.UpdateMilestone(int(repoID), int(milestoneID), opts, gogitlab.WithContext(ctx))
	if err != nil {
		return model.Milestone{}, wrap("update milestone", err)
	}
	return toMilestone(m), nil
}

func (t *Tracker) ListIssues(ctx context.Context, repoID int64, filter tracker.IssueFilter) ([]model.Issue, error) {
	opts := &gogitlab.ListProjectIssuesOptions{
		ListOptions: gogitlab.ListOptions{Page: 1, PerPage: perPage},
	}
	if filter.State != "" {
		opts.State = gogitlab.String(filter.State)
	}
	switch {
	case filter.NoMilestone:
		opts.Milestone = gogitlab.String("None")
	case filter.Milestone != "":
		opts.Milestone = gogitlab.String(filter.Milestone)
	}

	var out []model.Issue
	for {
		page, resp, err := t.client.Issues.ListProjectIssues(int(repoID), opts, gogitlab.WithContext(ctx))
		if err != nil {
			return nil, wrap("list issues", err)
		}
		for _, issue := range page {
			out = append(out, toIssue(issue))
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

func (t *Tracker) SetIssueMilestone(ctx context.Context, repoID, issueIID, milestoneID int64) error {
	opts := &gogitlab.UpdateIssueOptions{MilestoneID: gogitlab.Int(int(milestoneID))}
	if _, _, err := t.client.Issues.UpdateIssue(int(repoID), int(issueIID), opts, gogitlab.WithContext(ctx)); err != nil {
		return wrap(fmt.Sprintf("update issue #%d", issueIID), err)
	}
	return nil
}

func (t *Tracker) CreateTag(ctx context.Context, repoID int64, name, ref, message string) error {
	opts := &gogitlab.CreateTagOptions{
		TagName: gogitlab.String(name),
		Ref:     gogitlab.String(ref),
		Message: gogitlab.String(message),
	}
	if _, _, err := t.client.Tags.CreateTag(int(repoID), opts, gogitlab.WithContext(ctx)); err != nil {
		return wrap("create tag", err)
	}
	return nil
}

func (t *Tracker) CreateRelease(ctx context.Context, repoID int64, spec tracker.ReleaseSpec) error {
	opts := &gogitlab.CreateReleaseOptions{
		Name:        gogitlab.String(spec.Name),
		TagName:     gogitlab.String(spec.TagName),
		Description: gogitlab.String(spec.Description),
	}
	if spec.Ref != "" {
		opts.Ref = gogitlab.String(spec.Ref)
	}
	if len(spec.Milestones) > 0 {
		milestones := append([]string(nil), spec.Milestones...)
		opts.Milestones = &milestones
	}
	if _, _, err := t.client.Releases.CreateRelease(int(repoID), opts, gogitlab.WithContext(ctx)); err != nil {
		return wrap("create release", err)
	}
	return nil
}

func wrap(op string, err error) error {
	var apiErr *gogitlab.ErrorResponse
	if errors.As(err, &apiErr) && apiErr.Response != nil {
		switch apiErr.Response.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%s: %w", op, tracker.ErrNotFound)
		case http.StatusUnauthorized:
			return fmt.Errorf("%s: %w", op, tracker.ErrUnauthorized)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isoDate(value *string) (*gogitlab.ISOTime, error) {
	if value == nil || strings.TrimSpace(*value) == "" {
		return nil, nil
	}
	parsed, err := time.Parse(dateLayout, strings.TrimSpace(*value))
	if err != nil {
		return nil, err
	}
	iso := gogitlab.ISOTime(parsed)
	return &iso, nil
}

func dateString(value *gogitlab.ISOTime) *string {
	if value == nil {
		return nil
	}
	s := time.Time(*value).Format(dateLayout)
	return &s
}

func toMilestone(m *gogitlab.Milestone) model.Milestone {
	out := model.Milestone{
		ID:        int64(m.ID),
		IID:       int64(m.IID),
		Title:     m.Title,
		StartDate: dateString(m.StartDate),
		DueDate:   dateString(m.DueDate),
		State:     model.MilestoneOpen,
	}
	if m.Description != "" {
		description := m.Description
		out.Description = &description
	}
	if m.State == "closed" {
		out.State = model.MilestoneClosed
	}
	return out
}

func toIssue(issue *gogitlab.Issue) model.Issue {
	out := model.Issue{
		ID:        int64(issue.ID),
		IID:       int64(issue.IID),
		Title:     issue.Title,
		State:     issue.State,
		Weight:    issue.Weight,
		Labels:    append([]string(nil), issue.Labels...),
		CreatedAt: issue.CreatedAt,
	}
	if issue.Milestone != nil {
		out.Milestone = &model.MilestoneRef{ID: int64(issue.Milestone.ID), Title: issue.Milestone.Title}
	}
	if issue.Author != nil {
		out.Author = &model.Author{ID: int64(issue.Author.ID), Name: issue.Author.Name, Username: issue.Author.Username}
	}
	return out
}
