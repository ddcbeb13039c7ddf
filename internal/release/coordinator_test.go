package release

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cadence/api/internal/model"
	"cadence/api/internal/notify"
	"cadence/api/internal/portal"
)

type scriptedAPI struct {
	mu        sync.Mutex
	responses []func(model.ReleaseRequest) (model.ReleaseResult, error)
	requests  []model.ReleaseRequest
}

func (s *scriptedAPI) Release(_ context.Context, _ int64, req model.ReleaseRequest) (model.ReleaseResult, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	next := s.responses[0]
	s.responses = s.responses[1:]
	s.mu.Unlock()
	return next(req)
}

func succeed(req model.ReleaseRequest) (model.ReleaseResult, error) {
	return model.ReleaseResult{Status: "success", Tag: req.NewTitle}, nil
}

func conflictWith(message string) func(model.ReleaseRequest) (model.ReleaseResult, error) {
	return func(model.ReleaseRequest) (model.ReleaseResult, error) {
		return model.ReleaseResult{}, &portal.ConflictError{Message: message}
	}
}

type countingBoard struct{ reloads int }

func (b *countingBoard) Reload(context.Context) error {
	b.reloads++
	return nil
}

var sprintAttempt = model.ReleaseAttempt{MilestoneTitle: "Sprint-7", NewTitle: "v3.0.0", RefBranch: "main"}

func TestCoordinatorSuccessReloadsBoard(t *testing.T) {
	api := &scriptedAPI{responses: []func(model.ReleaseRequest) (model.ReleaseResult, error){succeed}}
	board := &countingBoard{}
	rec := &notify.Recorder{}
	c := NewCoordinator(api, board, NotifierRenderer{Notifier: rec}, "")

	result, err := c.Release(context.Background(), 42, sprintAttempt)
	require.NoError(t, err)
	assert.Equal(t, "v3.0.0", result.Tag)
	assert.Equal(t, Idle, c.State())
	assert.Equal(t, []State{Idle, Releasing, Succeeded, Idle}, c.History())
	assert.Equal(t, 1, board.reloads)
	assert.False(t, rec.Busy())
	last, _ := rec.Last()
	assert.Equal(t, notify.Success, last.Level)
}

func TestCoordinatorConflictThenRollover(t *testing.T) {
	api := &scriptedAPI{responses: []func(model.ReleaseRequest) (model.ReleaseResult, error){
		conflictWith("unfinished work|issue #11 open"),
		succeed,
	}}
	board := &countingBoard{}
	rec := &notify.Recorder{}
	c := NewCoordinator(api, board, NotifierRenderer{Notifier: rec}, "")

	_, err := c.Release(context.Background(), 42, sprintAttempt)
	require.True(t, portal.IsConflict(err))
	assert.Equal(t, Conflicted, c.State())
	assert.Equal(t, "issue #11 open", c.Conflict().Detail())
	assert.Equal(t, 0, board.reloads)
	assert.False(t, rec.Busy())

	_, err = c.Rollover(context.Background(), 42, c.Attempt())
	require.NoError(t, err)
	require.Len(t, api.requests, 2)
	assert.False(t, api.requests[0].AutoRollover)
	assert.True(t, api.requests[1].AutoRollover)
	assert.Nil(t, api.requests[1].TargetMilestoneID)
	assert.Nil(t, c.Conflict())
	assert.Equal(t, 1, board.reloads)
}

func TestCoordinatorRepeatedConflictStaysConflicted(t *testing.T) {
	api := &scriptedAPI{responses: []func(model.ReleaseRequest) (model.ReleaseResult, error){
		conflictWith("unfinished work|issue #11 open"),
		conflictWith("unfinished work|issue #12 open"),
	}}
	c := NewCoordinator(api, nil, nil, "")

	_, _ = c.Release(context.Background(), 42, sprintAttempt)
	_, err := c.Rollover(context.Background(), 42, c.Attempt())
	require.True(t, portal.IsConflict(err))
	assert.Equal(t, Conflicted, c.State())
	assert.Equal(t, "issue #12 open", c.Conflict().Detail())

	require.NoError(t, c.Cancel())
	assert.Equal(t, Idle, c.State())
}

func TestCoordinatorIdentityRequiredUsesDefaultBindURL(t *testing.T) {
	api := &scriptedAPI{responses: []func(model.ReleaseRequest) (model.ReleaseResult, error){
		func(model.ReleaseRequest) (model.ReleaseResult, error) {
			return model.ReleaseResult{}, &portal.IdentityError{Code: "IDENTITY_REQUIRED", Message: "bind"}
		},
	}}
	rec := &notify.Recorder{}
	c := NewCoordinator(api, nil, NotifierRenderer{Notifier: rec}, "/default/bind")

	_, err := c.Release(context.Background(), 42, sprintAttempt)
	require.True(t, portal.IsIdentity(err))
	assert.Equal(t, IdentityRequired, c.State())

	require.NoError(t, c.BindIdentity())
	assert.Equal(t, Idle, c.State())
	last, _ := rec.Last()
	assert.Equal(t, "Open /default/bind", last.Message)
	assert.Len(t, api.requests, 1, "binding never retries the release")
}

func TestCoordinatorRoleDenialIsNotABindPrompt(t *testing.T) {
	api := &scriptedAPI{responses: []func(model.ReleaseRequest) (model.ReleaseResult, error){
		func(model.ReleaseRequest) (model.ReleaseResult, error) {
			return model.ReleaseResult{}, &portal.IdentityError{Code: "FORBIDDEN", Message: "Forbidden"}
		},
	}}
	rec := &notify.Recorder{}
	c := NewCoordinator(api, nil, NotifierRenderer{Notifier: rec}, "/default/bind")

	_, err := c.Release(context.Background(), 42, sprintAttempt)
	require.True(t, portal.IsIdentity(err))
	assert.Equal(t, IdentityRequired, c.State())

	last, ok := rec.Last()
	require.True(t, ok)
	assert.Equal(t, notify.Error, last.Level)
	assert.Equal(t, "Your role does not allow releases: Forbidden", last.Message)
	assert.Zero(t, rec.Count(notify.Warning), "no bind prompt for a role denial")

	assert.ErrorIs(t, c.BindIdentity(), ErrInvalidTransition)
	assert.Equal(t, IdentityRequired, c.State())
	require.NoError(t, c.Cancel())
	assert.Equal(t, Idle, c.State())
	assert.Len(t, api.requests, 1)
}

func TestCoordinatorTransportFailure(t *testing.T) {
	api := &scriptedAPI{responses: []func(model.ReleaseRequest) (model.ReleaseResult, error){
		func(model.ReleaseRequest) (model.ReleaseResult, error) {
			return model.ReleaseResult{}, &portal.TransportError{Err: errors.New("connection reset")}
		},
		succeed,
	}}
	rec := &notify.Recorder{}
	c := NewCoordinator(api, nil, NotifierRenderer{Notifier: rec}, "")

	_, err := c.Release(context.Background(), 42, sprintAttempt)
	require.Error(t, err)
	assert.Equal(t, Failed, c.State())
	assert.Equal(t, 1, rec.Count(notify.Error))

	_, err = c.Release(context.Background(), 42, sprintAttempt)
	require.NoError(t, err, "a failed attempt may be retried")
}

func TestCoordinatorValidationSendsNothing(t *testing.T) {
	api := &scriptedAPI{}
	rec := &notify.Recorder{}
	c := NewCoordinator(api, nil, NotifierRenderer{Notifier: rec}, "")

	_, err := c.Release(context.Background(), 42, model.ReleaseAttempt{MilestoneTitle: "Sprint-7"})
	require.True(t, portal.IsValidation(err))
	assert.Empty(t, api.requests)
	assert.Equal(t, 1, rec.Count(notify.Warning))
}

func TestCoordinatorRejectsConcurrentRelease(t *testing.T) {
	entered := make(chan struct{})
	unblock := make(chan struct{})
	api := &scriptedAPI{responses: []func(model.ReleaseRequest) (model.ReleaseResult, error){
		func(req model.ReleaseRequest) (model.ReleaseResult, error) {
			close(entered)
			<-unblock
			return succeed(req)
		},
	}}
	c := NewCoordinator(api, nil, nil, "")

	done := make(chan error, 1)
	go func() {
		_, err := c.Release(context.Background(), 42, sprintAttempt)
		done <- err
	}()
	<-entered
	assert.True(t, c.Busy())
	_, err := c.Release(context.Background(), 42, sprintAttempt)
	assert.ErrorIs(t, err, ErrBusy)

	close(unblock)
	require.NoError(t, <-done)
}
