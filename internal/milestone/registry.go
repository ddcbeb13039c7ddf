// Package milestone lists and creates iteration milestones for a repository.
package milestone

import (
	"context"
	"fmt"
	"strings"

	"cadence/api/internal/model"
	"cadence/api/internal/portal"
)

type api interface {
	ListMilestones(context.Context, int64) ([]model.Milestone, error)
	CreateMilestone(context.Context, int64, model.MilestoneDraft) (model.Milestone, error)
}

type Registry struct {
	api api
}

func NewRegistry(client api) *Registry {
	return &Registry{api: client}
}

func (r *Registry) List(ctx context.Context, repoID int64) ([]model.Milestone, error) {
	milestones, err := r.api.ListMilestones(ctx, repoID)
	if err != nil {
		return nil, err
	}
	return milestones, nil
}

// Create validates the title locally and sends the draft. Dates pass through
// unchanged; blank optional fields are sent as null.
func (r *Registry) Create(ctx context.Context, repoID int64, draft model.MilestoneDraft) (model.Milestone, error) {
	if strings.TrimSpace(draft.Title) == "" {
		return model.Milestone{}, portal.Invalid("title", "milestone title is required")
	}
	payload := model.MilestoneDraft{
		Title:       strings.TrimSpace(draft.Title),
		StartDate:   nullIfBlank(draft.StartDate),
		DueDate:     nullIfBlank(draft.DueDate),
		Description: nullIfBlank(draft.Description),
	}
	created, err := r.api.CreateMilestone(ctx, repoID, payload)
	if err != nil {
		return model.Milestone{}, err
	}
	return created, nil
}

// CreateAndRefresh creates the milestone and returns a fresh listing, which is
// authoritative for ordering and derived fields.
func (r *Registry) CreateAndRefresh(ctx context.Context, repoID int64, draft model.MilestoneDraft) ([]model.Milestone, error) {
	if _, err := r.Create(ctx, repoID, draft); err != nil {
		return nil, err
	}
	milestones, err := r.List(ctx, repoID)
	if err != nil {
		return nil, fmt.Errorf("refresh milestones: %w", err)
	}
	return milestones, nil
}

func nullIfBlank(value *string) *string {
	if value == nil || strings.TrimSpace(*value) == "" {
		return nil
	}
	v := *value
	return &v
}

// DueLabel formats a due date for display, "N/A" when absent.
func DueLabel(m model.Milestone) string {
	if m.DueDate == nil || *m.DueDate == "" {
		return "N/A"
	}
	day, _, _ := strings.Cut(*m.DueDate, "T")
	return day
}
