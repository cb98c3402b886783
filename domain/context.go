package domain

import "context"

type contextKey string

// ActorContextKey is the key used to store the authenticated Actor in context.
const ActorContextKey contextKey = "auth_actor"

// Actor is the authenticated platform user attached to a request by the auth
// middleware. Platform SSO itself is outside this subsystem; only the
// validated claims are carried here.
type Actor struct {
	UserID   string
	TenantID string
	Role     string
}

// IsTenantOwner reports whether the actor owns the given tenant workspace.
func (a Actor) IsTenantOwner(tenantID string) bool {
	return a.TenantID == tenantID && a.Role == "owner"
}

// ActorFromContext retrieves the authenticated Actor from context.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(ActorContextKey).(Actor)
	return actor, ok
}

// ContextWithActor returns a context carrying the authenticated Actor.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, ActorContextKey, actor)
}
