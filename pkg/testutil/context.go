package testutil

import (
	"context"
	"time"

	"approvalflow/pkg/requestcontext"
)

// ActorAt returns a context acting as id with roles, with the request clock
// pinned to at. Use it wherever a test needs an authenticated caller.
func ActorAt(at time.Time, id string, roles ...string) context.Context {
	ctx := requestcontext.WithTime(context.Background(), at)
	return requestcontext.WithActor(ctx, requestcontext.Actor{ID: id, Roles: roles})
}
