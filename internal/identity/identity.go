// Package identity resolves the tracker credential bound to a portal user.
// Bindings are stored durably and cached in Redis when a cache is configured.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"cadence/api/internal/store"
)

// ErrUnbound means the user has not linked a tracker account.
var ErrUnbound = errors.New("identity: no tracker account bound")

type durable interface {
	GetIdentityBinding(ctx context.Context, userID, provider string) (store.IdentityBinding, error)
	SaveIdentityBinding(ctx context.Context, binding store.IdentityBinding) error
	DeleteIdentityBinding(ctx context.Context, userID, provider string) error
}

type cache interface {
	Get(ctx context.Context, userID, provider string) (store.IdentityBinding, error)
	Set(ctx context.Context, binding store.IdentityBinding) error
	Delete(ctx context.Context, userID, provider string) error
}

type Service struct {
	provider string
	store    durable
	cache    cache
}

// New builds a resolver for one provider. c may be nil.
func New(provider string, s durable, c cache) *Service {
	return &Service{provider: provider, store: s, cache: c}
}

// Credential returns the user's bound credential or ErrUnbound.
func (s *Service) Credential(ctx context.Context, userID string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", ErrUnbound
	}
	if s.cache != nil {
		binding, err := s.cache.Get(ctx, userID, s.provider)
		if err == nil && binding.Credential != "" {
			return binding.Credential, nil
		}
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			log.WithError(err).WithField("user", userID).Warn("identity: cache lookup failed")
		}
	}

	binding, err := s.store.GetIdentityBinding(ctx, userID, s.provider)
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrUnbound
	}
	if err != nil {
		return "", fmt.Errorf("lookup identity binding: %w", err)
	}
	if binding.Credential == "" {
		return "", ErrUnbound
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, binding); err != nil {
			log.WithError(err).WithField("user", userID).Warn("identity: cache fill failed")
		}
	}
	return binding.Credential, nil
}

// Bind stores the credential for the user, replacing any previous binding.
func (s *Service) Bind(ctx context.Context, userID, credential, externalID string) error {
	credential = strings.TrimSpace(credential)
	if userID == "" || credential == "" {
		return errors.New("identity: user and credential are required")
	}
	binding := store.IdentityBinding{
		UserID:     userID,
		Provider:   s.provider,
		Credential: credential,
		ExternalID: externalID,
	}
	if err := s.store.SaveIdentityBinding(ctx, binding); err != nil {
		return err
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, binding); err != nil {
			log.WithError(err).WithField("user", userID).Warn("identity: cache fill failed")
		}
	}
	return nil
}

func (s *Service) Unbind(ctx context.Context, userID string) error {
	if s.cache != nil {
		if err := s.cache.Delete(ctx, userID, s.provider); err != nil {
			return err
		}
	}
	return s.store.DeleteIdentityBinding(ctx, userID, s.provider)
}
