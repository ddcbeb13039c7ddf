package release

import (
	"context"
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"cadence/api/internal/model"
	"cadence/api/internal/notify"
	"cadence/api/internal/portal"
)

type api interface {
	Release(context.Context, int64, model.ReleaseRequest) (model.ReleaseResult, error)
}

// Reloader is the board the coordinator refreshes after a successful release.
type Reloader interface {
	Reload(context.Context) error
}

// Renderer consumes the presentational effects: busy indicator, notices,
// prompts and modal handling.
type Renderer interface {
	Render(Effect)
}

type Coordinator struct {
	api            api
	board          Reloader
	renderer       Renderer
	defaultBindURL string

	mu       sync.Mutex
	state    State
	history  []State
	attempt  model.ReleaseAttempt
	repoID   int64
	conflict *portal.ConflictError
	identity *portal.IdentityError
	result   model.ReleaseResult
}

func NewCoordinator(client api, board Reloader, renderer Renderer, defaultBindURL string) *Coordinator {
	return &Coordinator{
		api:            client,
		board:          board,
		renderer:       renderer,
		defaultBindURL: defaultBindURL,
		state:          Idle,
		history:        []State{Idle},
	}
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// History lists every state entered since construction, starting with Idle.
func (c *Coordinator) History() []State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]State(nil), c.history...)
}

// Busy reports whether a release call is in flight. The release control
// should be disabled while it is true.
func (c *Coordinator) Busy() bool {
	return c.State() == Releasing
}

// Conflict returns the last 409 while the coordinator is Conflicted.
func (c *Coordinator) Conflict() *portal.ConflictError {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Conflicted {
		return nil
	}
	return c.conflict
}

// Attempt returns the attempt the coordinator is working on.
func (c *Coordinator) Attempt() model.ReleaseAttempt {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempt
}

// Release runs the conservative first attempt.
func (c *Coordinator) Release(ctx context.Context, repoID int64, attempt model.ReleaseAttempt) (model.ReleaseResult, error) {
	return c.run(ctx, repoID, Event{Kind: EventRelease, Attempt: attempt})
}

// Rollover retries a conflicted attempt with auto_rollover forced on and no
// target milestone. It may conflict again.
func (c *Coordinator) Rollover(ctx context.Context, repoID int64, attempt model.ReleaseAttempt) (model.ReleaseResult, error) {
	return c.run(ctx, repoID, Event{Kind: EventRollover, Attempt: attempt})
}

// Cancel dismisses a conflict, identity or failure prompt.
func (c *Coordinator) Cancel() error {
	effects, err := c.apply(Event{Kind: EventCancel})
	if err != nil {
		return err
	}
	c.render(effects)
	return nil
}

// BindIdentity leaves IdentityRequired by handing off to the external binding
// flow. Nothing is retried afterwards. A role denial cannot be fixed by
// binding and is refused; use Cancel.
func (c *Coordinator) BindIdentity() error {
	c.mu.Lock()
	if c.identity.RoleDenied() {
		c.mu.Unlock()
		return fmt.Errorf("%w: release denied by role (%s)", ErrInvalidTransition, c.identity.Code)
	}
	bindURL := c.defaultBindURL
	if c.identity != nil && c.identity.BindURL != "" {
		bindURL = c.identity.BindURL
	}
	c.mu.Unlock()

	effects, err := c.apply(Event{Kind: EventBindIdentity, BindURL: bindURL})
	if err != nil {
		return err
	}
	c.render(effects)
	return nil
}

func (c *Coordinator) run(ctx context.Context, repoID int64, ev Event) (model.ReleaseResult, error) {
	c.mu.Lock()
	prev := c.state
	c.mu.Unlock()

	effects, err := c.apply(ev)
	if err != nil {
		if errors.Is(err, ErrBusy) || errors.Is(err, ErrInvalidTransition) {
			return model.ReleaseResult{}, err
		}
		// validation failures still produce a notice
		c.render(effects)
		return model.ReleaseResult{}, err
	}

	c.mu.Lock()
	c.repoID = repoID
	c.attempt = ev.Attempt
	c.conflict = nil
	c.identity = nil
	c.mu.Unlock()

	log.WithFields(log.Fields{
		"repo":      repoID,
		"milestone": ev.Attempt.MilestoneTitle,
		"new_title": ev.Attempt.NewTitle,
		"event":     ev.Kind.String(),
		"from":      prev.String(),
	}).Info("release: attempt started")

	return c.execute(ctx, repoID, effects)
}

// execute performs effects in order. The release call feeds its outcome back
// through Transition and continues with the resulting effects.
func (c *Coordinator) execute(ctx context.Context, repoID int64, effects []Effect) (model.ReleaseResult, error) {
	var (
		result  model.ReleaseResult
		callErr error
	)
	for _, effect := range effects {
		switch effect.Kind {
		case EffectCallRelease:
			result, callErr = c.api.Release(ctx, repoID, effect.Request)
			next, err := c.apply(c.outcome(result, callErr))
			if err != nil {
				return result, err
			}
			if _, err := c.execute(ctx, repoID, next); err != nil {
				return result, err
			}
		case EffectReloadBoard:
			if c.board != nil {
				if err := c.board.Reload(ctx); err != nil {
					log.WithError(err).Warn("release: board reload after release failed")
				}
			}
			if _, err := c.apply(Event{Kind: EventAcknowledge}); err != nil {
				return result, err
			}
		default:
			c.render([]Effect{effect})
		}
	}
	return result, callErr
}

// outcome classifies the release response into the next event.
func (c *Coordinator) outcome(result model.ReleaseResult, err error) Event {
	if err == nil {
		c.mu.Lock()
		c.result = result
		c.mu.Unlock()
		return Event{Kind: EventSucceeded, Result: result}
	}

	var conflict *portal.ConflictError
	if errors.As(err, &conflict) {
		c.mu.Lock()
		c.conflict = conflict
		c.mu.Unlock()
		return Event{Kind: EventConflict, Message: conflict.Summary(), Detail: conflict.Detail()}
	}

	var identity *portal.IdentityError
	if errors.As(err, &identity) {
		bindURL := identity.BindURL
		if bindURL == "" {
			bindURL = c.defaultBindURL
		}
		c.mu.Lock()
		c.identity = identity
		c.mu.Unlock()
		return Event{Kind: EventForbidden, Message: identity.Message, BindURL: bindURL, Code: identity.Code}
	}

	return Event{Kind: EventFailed, Message: err.Error()}
}

func (c *Coordinator) apply(ev Event) ([]Effect, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	next, effects, err := Transition(c.state, ev)
	if next != c.state {
		log.WithFields(log.Fields{
			"from":  c.state.String(),
			"to":    next.String(),
			"event": ev.Kind.String(),
		}).Debug("release: transition")
		c.state = next
		c.history = append(c.history, next)
	}
	return effects, err
}

func (c *Coordinator) render(effects []Effect) {
	if c.renderer == nil {
		return
	}
	for _, effect := range effects {
		c.renderer.Render(effect)
	}
}

// NotifierRenderer renders effects through a notify.Notifier. Prompts become
// warnings; callers with an interactive surface supply their own Renderer.
type NotifierRenderer struct {
	Notifier notify.Notifier
}

func (r NotifierRenderer) Render(effect Effect) {
	switch effect.Kind {
	case EffectBusy:
		r.Notifier.Loading(effect.Message, effect.Busy)
	case EffectNotify:
		r.Notifier.Notify(effect.Level, effect.Message)
	case EffectPromptRollover:
		r.Notifier.Notify(notify.Warning, effect.Message)
	case EffectPromptIdentity:
		if effect.RoleDenied() {
			r.Notifier.Notify(notify.Error, "Your role does not allow releases: "+effect.Message)
			return
		}
		r.Notifier.Notify(notify.Warning, "Bind your tracker account: "+effect.BindURL)
	case EffectOpenBindFlow:
		r.Notifier.Notify(notify.Info, "Open "+effect.BindURL)
	}
}
