package shared

import "context"

type actorKey struct{}

// ContextWithActor stores the authenticated actor ID supplied by the
// identity subsystem. The ledger only records the actor, it never
// authenticates.
func ContextWithActor(ctx context.Context, actorID int64) context.Context {
	return context.WithValue(ctx, actorKey{}, actorID)
}

// ActorFromContext returns the actor ID, or zero when the request carried
// none.
func ActorFromContext(ctx context.Context) int64 {
	if id, ok := ctx.Value(actorKey{}).(int64); ok {
		return id
	}
	return 0
}
