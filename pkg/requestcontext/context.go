// Package requestcontext provides transport-independent accessors for
// request-scoped values.
//
// The identity provider (see internal/identity) or any other front door sets
// the acting identity; the approval gate and manager only read it:
//
//	ctx = requestcontext.WithActor(ctx, requestcontext.Actor{ID: "u-42", Roles: []string{"supervisor"}})
//	actor, ok := requestcontext.ActorFrom(ctx)
//
// Tests and workers pin time with WithTime so a batch sees one consistent clock.
package requestcontext

import (
	"context"
	"slices"
	"time"
)

type (
	actorKey       struct{}
	requestIDKey   struct{}
	requestTimeKey struct{}
)

var (
	ContextKeyActor       = actorKey{}
	ContextKeyRequestID   = requestIDKey{}
	ContextKeyRequestTime = requestTimeKey{}
)

// Actor is an already-authenticated identity and its role set.
type Actor struct {
	ID    string
	Roles []string
}

// HasRole reports whether the actor holds role.
func (a Actor) HasRole(role string) bool {
	return slices.Contains(a.Roles, role)
}

// HasAnyRole reports whether the actor holds at least one of roles.
func (a Actor) HasAnyRole(roles ...string) bool {
	for _, r := range roles {
		if a.HasRole(r) {
			return true
		}
	}
	return false
}

// IsZero reports whether no identity is set.
func (a Actor) IsZero() bool {
	return a.ID == ""
}

// ActorFrom retrieves the acting identity. ok is false when none was set.
func ActorFrom(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(ContextKeyActor).(Actor)
	if !ok || actor.IsZero() {
		return Actor{}, false
	}
	return actor, true
}

// WithActor injects the acting identity.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, ContextKeyActor, actor)
}

// RequestID retrieves the correlation id.
func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return reqID
	}
	return ""
}

// WithRequestID injects a correlation id.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// Now retrieves the request-scoped time, falling back to time.Now().
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyRequestTime, t)
}
