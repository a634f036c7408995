// Package actor carries the calling user's identity and role through context.
package actor

import "context"

// Role is the caller's role within a Formatic workspace.
type Role string

// Roles recognized by the hooks engine.
const (
	RoleOwner Role = "owner"
	RoleAdmin Role = "admin"
)

// Actor identifies the user performing an operation.
type Actor struct {
	// ID is the Formatic user identifier.
	ID string

	// Role is the caller's workspace role.
	Role Role
}

// IsAdmin reports whether the actor may perform administrative operations
// such as approving or rejecting webhooks.
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

type contextKey struct{}

// WithActor returns a context carrying the given actor.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, contextKey{}, a)
}

// FromContext extracts the actor from the context, if present.
func FromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(contextKey{}).(Actor)
	return a, ok
}
