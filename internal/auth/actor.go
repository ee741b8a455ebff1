package auth

import (
	"context"

	"doc-approval/backend/pkg/models"
)

type actorKey struct{}

// WithActor returns a copy of ctx carrying actor.
func WithActor(ctx context.Context, actor models.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom returns the actor RequireAuth resolved for the request.
func ActorFrom(ctx context.Context) (models.Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(models.Actor)
	return actor, ok
}
