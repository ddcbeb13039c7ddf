package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"

	"cadence/api/internal/model"
	"cadence/api/internal/store"
	"cadence/api/internal/tracker"
	"cadence/api/internal/util"
)

const (
	conflictSummary    = "unfinished work"
	conflictIssueLimit = 3
)

// Release closes a milestone as a tagged release.
//
// Open issues are checked before anything is changed on the tracker. Without
// auto_rollover they fail the call with 409 and a "summary|detail" message;
// with it they are moved to target_milestone_id, or unassigned when no target
// is given. The milestone is then renamed to new_title if that differs,
// tagged, published as a tracker release and closed.
func (s *Service) Release(ctx context.Context, session Session, repoID int64, req model.ReleaseRequest) (model.ReleaseResult, error) {
	version := strings.TrimSpace(req.Version)
	if version == "" {
		return model.ReleaseResult{}, validationError("version is required")
	}
	tag := strings.TrimSpace(req.NewTitle)
	if tag == "" {
		tag = version
	}
	ref := strings.TrimSpace(req.RefBranch)
	if ref == "" {
		ref = "main"
	}

	t, err := s.trackerFor(ctx, session)
	if err != nil {
		return model.ReleaseResult{}, err
	}

	lock := s.releaseLock(repoID)
	lock.Lock()
	defer lock.Unlock()

	logger := log.WithFields(log.Fields{"repo": repoID, "milestone": version, "tag": tag})

	milestone, err := tracker.FindMilestone(ctx, t, repoID, version)
	if errors.Is(err, tracker.ErrNotFound) {
		return model.ReleaseResult{}, domainError(http.StatusNotFound, "MILESTONE_NOT_FOUND",
			fmt.Sprintf("milestone %q not found", version), nil)
	}
	if err != nil {
		return model.ReleaseResult{}, s.trackerError("find milestone", err)
	}
	if req.TargetMilestoneID != nil && *req.TargetMilestoneID == milestone.ID {
		return model.ReleaseResult{}, validationError("target_milestone_id must differ from the released milestone")
	}

	open, err := t.ListIssues(ctx, repoID, tracker.IssueFilter{State: model.IssueOpened, Milestone: version})
	if err != nil {
		return model.ReleaseResult{}, s.trackerError("list open issues", err)
	}
	if len(open) > 0 && !req.AutoRollover {
		logger.WithField("open_issues", len(open)).Info("release blocked by unfinished work")
		return model.ReleaseResult{}, domainError(http.StatusConflict, "UNFINISHED_WORK", conflictMessage(open), map[string]any{
			"open_issues": len(open),
		})
	}

	if len(open) > 0 {
		var target int64
		if req.TargetMilestoneID != nil {
			target = *req.TargetMilestoneID
		}
		for _, issue := range open {
			if err := t.SetIssueMilestone(ctx, repoID, issue.IID, target); err != nil {
				return model.ReleaseResult{}, domainError(http.StatusBadGateway, "ROLLOVER_FAILED",
					fmt.Sprintf("rollover of issue #%d failed, release aborted: %v", issue.IID, err), nil)
			}
		}
		logger.WithFields(log.Fields{"rolled_over": len(open), "target_milestone_id": target}).Info("unfinished work rolled over")
	}

	if tag != milestone.Title {
		renamed, err := t.UpdateMilestone(ctx, repoID, milestone.ID, tracker.MilestoneUpdate{Title: &tag})
		if err != nil {
			return model.ReleaseResult{}, s.trackerError("rename milestone", err)
		}
		milestone = renamed
	}

	included, err := t.ListIssues(ctx, repoID, tracker.IssueFilter{Milestone: tag})
	if err != nil {
		return model.ReleaseResult{}, s.trackerError("list release issues", err)
	}
	notes := releaseNotes(tag, included)

	if err := t.CreateTag(ctx, repoID, tag, ref, "Release "+tag); err != nil {
		logger.WithError(err).Warn("tag creation failed, continuing")
	}
	if err := t.CreateRelease(ctx, repoID, tracker.ReleaseSpec{
		TagName:     tag,
		Ref:         ref,
		Name:        "Release " + tag,
		Description: notes,
		Milestones:  []string{tag},
	}); err != nil {
		return model.ReleaseResult{}, s.trackerError("create release", err)
	}

	closeEvent := tracker.StateEventClose
	if _, err := t.UpdateMilestone(ctx, repoID, milestone.ID, tracker.MilestoneUpdate{StateEvent: &closeEvent}); err != nil {
		return model.ReleaseResult{}, s.trackerError("close milestone", err)
	}

	record := store.ReleaseRecord{
		ID:             util.NewID("rel"),
		RepoID:         repoID,
		MilestoneID:    milestone.ID,
		MilestoneTitle: tag,
		Tag:            tag,
		RefBranch:      ref,
		ReleaseNotes:   notes,
		RolledOver:     len(open),
		ReleasedBy:     session.UserID,
		CreatedAt:      s.now().UTC(),
	}
	if s.archive != nil {
		key, err := s.archive.StoreNotes(ctx, repoID, tag, notes)
		if err != nil {
			logger.WithError(err).Warn("release notes archive failed")
		} else {
			record.ArchiveKey = key
		}
	}
	if err := s.store.InsertRelease(ctx, record); err != nil {
		logger.WithError(err).Error("release record not persisted")
	}

	logger.WithField("rolled_over", len(open)).Info("release published")
	return model.ReleaseResult{Status: "success", Tag: tag, ReleaseNotes: notes}, nil
}

// conflictMessage renders "unfinished work|issue #11 open, issue #12 open".
// At most three issues are listed.
func conflictMessage(open []model.Issue) string {
	parts := make([]string, 0, conflictIssueLimit)
	for i, issue := range open {
		if i == conflictIssueLimit {
			break
		}
		parts = append(parts, fmt.Sprintf("issue #%d open", issue.IID))
	}
	detail := strings.Join(parts, ", ")
	if len(open) > conflictIssueLimit {
		detail += fmt.Sprintf(", and %d more", len(open)-conflictIssueLimit)
	}
	return conflictSummary + "|" + detail
}

func releaseNotes(tag string, issues []model.Issue) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Release %s\n\n### Changelog\n", tag)
	if len(issues) == 0 {
		b.WriteString("- No changes recorded\n")
		return b.String()
	}
	for _, issue := range issues {
		kind := "[Feature]"
		if issue.IsBug() {
			kind = "[Bug]"
		}
		fmt.Fprintf(&b, "- %s %s (#%d)\n", kind, issue.Title, issue.IID)
	}
	return b.String()
}
