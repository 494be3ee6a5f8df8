package tenant

import (
	"context"
	"errors"
)

// ErrMissingOwner is returned when an operation requires an owner scope but
// none was attached to the context.
var ErrMissingOwner = errors.New("owner context not found")

// contextKey is a private type for context keys to avoid collisions
type contextKey int

const (
	ownerContextKey contextKey = iota
)

// ContextWithOwner adds an OwnerID to a context.Context.
func ContextWithOwner(ctx context.Context, ownerID OwnerID) context.Context {
	return context.WithValue(ctx, ownerContextKey, Context{OwnerID: ownerID})
}

// ContextWith adds a full tenant.Context to a context.Context.
func ContextWith(ctx context.Context, ownerCtx Context) context.Context {
	return context.WithValue(ctx, ownerContextKey, ownerCtx)
}

// FromContext retrieves the tenant.Context from a context.Context.
// If no tenant.Context is found, it returns a zero-valued Context and false.
func FromContext(ctx context.Context) (Context, bool) {
	ownerCtx, ok := ctx.Value(ownerContextKey).(Context)
	return ownerCtx, ok
}

// MustFromContext retrieves the tenant.Context from a context.Context.
// Panics if no Context is found, so only use when you are sure one exists.
func MustFromContext(ctx context.Context) Context {
	ownerCtx, ok := FromContext(ctx)
	if !ok {
		panic("tenant.Context not found in context.Context")
	}
	return ownerCtx
}
