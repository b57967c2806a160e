package utils

import (
	"context"
)

type contextKey string

const ContextActorKey contextKey = "actor"

// WithActor records who triggered the request.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, ContextActorKey, actor)
}

func GetActorFromContext(ctx context.Context) (string, bool) {
	actor := ctx.Value(ContextActorKey)
	actorStr, ok := actor.(string)
	return actorStr, ok && actorStr != ""
}
