// Package release drives the two-phase release protocol: a conservative first
// attempt, and on conflict an explicitly confirmed rollover that may move
// unfinished work out of the milestone before it is closed.
//
// Transition is pure: it maps (state, event) to the next state and the effects
// a caller must perform. Coordinator executes those effects.
package release

import (
	"errors"
	"fmt"
	"strings"

	"cadence/api/internal/model"
	"cadence/api/internal/notify"
	"cadence/api/internal/portal"
)

type State int

const (
	Idle State = iota
	Releasing
	Succeeded
	Conflicted
	IdentityRequired
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Releasing:
		return "RELEASING"
	case Succeeded:
		return "SUCCEEDED"
	case Conflicted:
		return "CONFLICTED"
	case IdentityRequired:
		return "IDENTITY_REQUIRED"
	case Failed:
		return "FAILED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

type EventKind int

const (
	EventRelease EventKind = iota + 1
	EventRollover
	EventSucceeded
	EventConflict
	EventForbidden
	EventFailed
	EventCancel
	EventAcknowledge
	EventBindIdentity
)

func (k EventKind) String() string {
	switch k {
	case EventRelease:
		return "release"
	case EventRollover:
		return "rollover"
	case EventSucceeded:
		return "succeeded"
	case EventConflict:
		return "conflict"
	case EventForbidden:
		return "forbidden"
	case EventFailed:
		return "failed"
	case EventCancel:
		return "cancel"
	case EventAcknowledge:
		return "acknowledge"
	case EventBindIdentity:
		return "bind-identity"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

type Event struct {
	Kind    EventKind
	Attempt model.ReleaseAttempt
	Message string
	Detail  string
	BindURL string
	Code    string
	Result  model.ReleaseResult
}

type EffectKind int

const (
	EffectBusy EffectKind = iota + 1
	EffectCallRelease
	EffectReloadBoard
	EffectNotify
	EffectPromptRollover
	EffectPromptIdentity
	EffectOpenBindFlow
	EffectCloseModals
)

type Effect struct {
	Kind    EffectKind
	Busy    bool
	Request model.ReleaseRequest
	Level   notify.Level
	Message string
	Detail  string
	BindURL string
	Code    string
}

// RoleDenied reports whether an identity prompt stems from the role gate
// rather than a missing binding.
func (e Effect) RoleDenied() bool {
	return e.Code != "" && e.Code != portal.CodeIdentityRequired
}

var (
	ErrBusy              = errors.New("a release is already in progress")
	ErrInvalidTransition = errors.New("invalid release transition")
)

// Validate checks the release preconditions without touching the network.
func Validate(attempt model.ReleaseAttempt) error {
	if strings.TrimSpace(attempt.MilestoneTitle) == "" {
		return portal.Invalid("milestone", "no milestone selected")
	}
	if strings.TrimSpace(attempt.NewTitle) == "" {
		return portal.Invalid("new_title", "release title must not be empty")
	}
	return nil
}

// RolloverAttempt escalates an attempt: unfinished issues are unassigned from
// the milestone, never moved to a specific future milestone.
func RolloverAttempt(attempt model.ReleaseAttempt) model.ReleaseAttempt {
	attempt.AutoRollover = true
	attempt.TargetMilestoneID = nil
	return attempt
}

func Transition(current State, ev Event) (State, []Effect, error) {
	switch ev.Kind {
	case EventRelease:
		switch current {
		case Idle, Failed:
			return startAttempt(ev.Attempt)
		case Releasing:
			return current, nil, ErrBusy
		}
	case EventRollover:
		switch current {
		case Conflicted:
			attempt := RolloverAttempt(ev.Attempt)
			if err := Validate(attempt); err != nil {
				return failValidation(err)
			}
			return Releasing, []Effect{
				{Kind: EffectBusy, Busy: true, Message: "Migrating unfinished issues"},
				{Kind: EffectCallRelease, Request: attempt.Request()},
			}, nil
		case Releasing:
			return current, nil, ErrBusy
		}
	case EventSucceeded:
		if current == Releasing {
			return Succeeded, []Effect{
				{Kind: EffectBusy, Busy: false},
				{Kind: EffectNotify, Level: notify.Success, Message: successMessage(ev.Result)},
				{Kind: EffectCloseModals},
				{Kind: EffectReloadBoard},
			}, nil
		}
	case EventConflict:
		if current == Releasing {
			return Conflicted, []Effect{
				{Kind: EffectBusy, Busy: false},
				{Kind: EffectCloseModals},
				{Kind: EffectPromptRollover, Message: ev.Message, Detail: ev.Detail},
			}, nil
		}
	case EventForbidden:
		if current == Releasing {
			return IdentityRequired, []Effect{
				{Kind: EffectBusy, Busy: false},
				{Kind: EffectPromptIdentity, Message: ev.Message, BindURL: ev.BindURL, Code: ev.Code},
			}, nil
		}
	case EventFailed:
		if current == Releasing {
			return Failed, []Effect{
				{Kind: EffectBusy, Busy: false},
				{Kind: EffectNotify, Level: notify.Error, Message: "Release failed: " + ev.Message},
			}, nil
		}
	case EventCancel:
		switch current {
		case Conflicted, IdentityRequired, Failed, Idle:
			return Idle, []Effect{{Kind: EffectCloseModals}}, nil
		}
	case EventAcknowledge:
		if current == Succeeded {
			return Idle, nil, nil
		}
	case EventBindIdentity:
		if current == IdentityRequired {
			return Idle, []Effect{
				{Kind: EffectCloseModals},
				{Kind: EffectOpenBindFlow, BindURL: ev.BindURL},
			}, nil
		}
	}
	return current, nil, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, ev.Kind, current)
}

func startAttempt(attempt model.ReleaseAttempt) (State, []Effect, error) {
	if err := Validate(attempt); err != nil {
		return failValidation(err)
	}
	return Releasing, []Effect{
		{Kind: EffectBusy, Busy: true, Message: "Syncing milestone and tag"},
		{Kind: EffectCallRelease, Request: attempt.Request()},
	}, nil
}

func failValidation(err error) (State, []Effect, error) {
	return Failed, []Effect{
		{Kind: EffectNotify, Level: notify.Warning, Message: err.Error()},
	}, err
}

func successMessage(result model.ReleaseResult) string {
	if result.Tag != "" {
		return fmt.Sprintf("Released %s; milestone closed", result.Tag)
	}
	return "Released; milestone closed"
}
