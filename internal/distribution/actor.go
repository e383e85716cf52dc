package distribution

import (
	"context"
	"errors"
	"fmt"

	"github.com/dennisdiepolder/leaddesk/internal/storage"
)

// Actor identifies the authenticated caller of an operation
type Actor struct {
	UserID string
	Email  string
}

// ActorResolver maps the caller to their agent-facing identifier
type ActorResolver interface {
	ResolveActor(ctx context.Context, actor Actor) (string, error)
}

// StoreActorResolver resolves actors through the agent roster
type StoreActorResolver struct {
	store storage.Store
}

func NewStoreActorResolver(store storage.Store) *StoreActorResolver {
	return &StoreActorResolver{store: store}
}

func (r *StoreActorResolver) ResolveActor(ctx context.Context, actor Actor) (string, error) {
	if actor.UserID == "" {
		return "", ErrActorUnresolved
	}
	agent, err := r.store.FindAgentByUserID(ctx, actor.UserID)
	if errors.Is(err, storage.ErrNotFound) {
		return "", ErrActorUnresolved
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up actor: %w", err)
	}
	return agent.ID, nil
}

// resolveActor fails closed: any failure becomes a validation error
func (e *Engine) resolveActor(ctx context.Context, actor Actor) (string, error) {
	if e.actors == nil {
		return "", &ValidationError{Field: "actor", Reason: "no actor resolver configured", cause: ErrActorUnresolved}
	}
	id, err := e.actors.ResolveActor(ctx, actor)
	if err != nil || id == "" {
		e.logger.Warn().Err(err).Str("userId", actor.UserID).Str("email", actor.Email).Msg("actor resolution failed")
		return "", &ValidationError{Field: "actor", Reason: "acting admin has no agent profile", cause: ErrActorUnresolved}
	}
	return id, nil
}
