package release

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cadence/api/internal/model"
	"cadence/api/internal/portal"
)

func effectKinds(effects []Effect) []EffectKind {
	out := make([]EffectKind, 0, len(effects))
	for _, e := range effects {
		out = append(out, e.Kind)
	}
	return out
}

func TestTransitionReleaseFromIdle(t *testing.T) {
	attempt := model.ReleaseAttempt{MilestoneTitle: "Sprint-7", NewTitle: "v3.0.0"}
	next, effects, err := Transition(Idle, Event{Kind: EventRelease, Attempt: attempt})
	require.NoError(t, err)
	assert.Equal(t, Releasing, next)
	assert.Equal(t, []EffectKind{EffectBusy, EffectCallRelease}, effectKinds(effects))

	req := effects[1].Request
	assert.Equal(t, "Sprint-7", req.Version)
	assert.Equal(t, "v3.0.0", req.NewTitle)
	assert.Equal(t, "main", req.RefBranch)
	assert.False(t, req.AutoRollover)
	assert.Nil(t, req.TargetMilestoneID)
}

func TestTransitionValidation(t *testing.T) {
	_, effects, err := Transition(Idle, Event{Kind: EventRelease, Attempt: model.ReleaseAttempt{NewTitle: "v3.0.0"}})
	assert.True(t, portal.IsValidation(err))
	assert.Equal(t, []EffectKind{EffectNotify}, effectKinds(effects))

	next, _, err := Transition(Idle, Event{Kind: EventRelease, Attempt: model.ReleaseAttempt{MilestoneTitle: "Sprint-7", NewTitle: "  "}})
	assert.True(t, portal.IsValidation(err))
	assert.Equal(t, Failed, next)
}

func TestTransitionBusy(t *testing.T) {
	attempt := model.ReleaseAttempt{MilestoneTitle: "Sprint-7", NewTitle: "v3.0.0"}
	next, effects, err := Transition(Releasing, Event{Kind: EventRelease, Attempt: attempt})
	assert.ErrorIs(t, err, ErrBusy)
	assert.Equal(t, Releasing, next)
	assert.Empty(t, effects)

	_, _, err = Transition(Releasing, Event{Kind: EventRollover, Attempt: attempt})
	assert.ErrorIs(t, err, ErrBusy)
}

func TestTransitionRolloverForcesUnassign(t *testing.T) {
	target := int64(8)
	attempt := model.ReleaseAttempt{MilestoneTitle: "Sprint-7", NewTitle: "v3.0.0", TargetMilestoneID: &target}
	next, effects, err := Transition(Conflicted, Event{Kind: EventRollover, Attempt: attempt})
	require.NoError(t, err)
	assert.Equal(t, Releasing, next)
	require.Len(t, effects, 2)
	assert.True(t, effects[1].Request.AutoRollover)
	assert.Nil(t, effects[1].Request.TargetMilestoneID)

	_, _, err = Transition(Idle, Event{Kind: EventRollover, Attempt: attempt})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestTransitionOutcomes(t *testing.T) {
	tests := []struct {
		name  string
		event Event
		want  State
		kinds []EffectKind
	}{
		{
			name:  "succeeded",
			event: Event{Kind: EventSucceeded, Result: model.ReleaseResult{Tag: "v3.0.0"}},
			want:  Succeeded,
			kinds: []EffectKind{EffectBusy, EffectNotify, EffectCloseModals, EffectReloadBoard},
		},
		{
			name:  "conflict",
			event: Event{Kind: EventConflict, Message: "unfinished work", Detail: "issue #11 open"},
			want:  Conflicted,
			kinds: []EffectKind{EffectBusy, EffectCloseModals, EffectPromptRollover},
		},
		{
			name:  "forbidden",
			event: Event{Kind: EventForbidden, BindURL: "/auth/gitlab/bind"},
			want:  IdentityRequired,
			kinds: []EffectKind{EffectBusy, EffectPromptIdentity},
		},
		{
			name:  "failed",
			event: Event{Kind: EventFailed, Message: "boom"},
			want:  Failed,
			kinds: []EffectKind{EffectBusy, EffectNotify},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			next, effects, err := Transition(Releasing, tc.event)
			require.NoError(t, err)
			assert.Equal(t, tc.want, next)
			assert.Equal(t, tc.kinds, effectKinds(effects))
			assert.False(t, effects[0].Busy)
		})
	}
}

func TestTransitionExits(t *testing.T) {
	for _, from := range []State{Conflicted, IdentityRequired, Failed} {
		next, _, err := Transition(from, Event{Kind: EventCancel})
		require.NoError(t, err)
		assert.Equal(t, Idle, next, from.String())
	}

	next, _, err := Transition(Succeeded, Event{Kind: EventAcknowledge})
	require.NoError(t, err)
	assert.Equal(t, Idle, next)

	next, effects, err := Transition(IdentityRequired, Event{Kind: EventBindIdentity, BindURL: "/bind"})
	require.NoError(t, err)
	assert.Equal(t, Idle, next)
	assert.Equal(t, []EffectKind{EffectCloseModals, EffectOpenBindFlow}, effectKinds(effects))

	_, _, err = Transition(Conflicted, Event{Kind: EventBindIdentity})
	assert.True(t, errors.Is(err, ErrInvalidTransition))
}

func TestForbiddenCarriesCode(t *testing.T) {
	tests := []struct {
		code       string
		roleDenied bool
	}{
		{code: "IDENTITY_REQUIRED", roleDenied: false},
		{code: "", roleDenied: false},
		{code: "FORBIDDEN", roleDenied: true},
	}
	for _, tc := range tests {
		next, effects, err := Transition(Releasing, Event{Kind: EventForbidden, Code: tc.code, BindURL: "/bind"})
		require.NoError(t, err)
		assert.Equal(t, IdentityRequired, next)
		require.Len(t, effects, 2)
		prompt := effects[1]
		assert.Equal(t, EffectPromptIdentity, prompt.Kind)
		assert.Equal(t, tc.code, prompt.Code)
		assert.Equal(t, tc.roleDenied, prompt.RoleDenied(), "code=%q", tc.code)
	}
}

func TestSuccessMessage(t *testing.T) {
	assert.Equal(t, "Released v3.0.0; milestone closed", successMessage(model.ReleaseResult{Tag: "v3.0.0"}))
	assert.Equal(t, "Released; milestone closed", successMessage(model.ReleaseResult{}))
}
