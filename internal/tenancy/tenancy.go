// Package tenancy carries the caller's tenant through request contexts.
//
// Tenant scoping is fail-closed: any indexed write or search that cannot
// produce a tenant id from its context is rejected, never defaulted. The
// vector index and the SQL guard both depend on this package being the only
// source of tenant identity.
package tenancy

import (
	"context"
	"errors"
)

// ErrMissingTenant indicates an operation that requires a tenant was called
// without one. Treated as a security event by callers.
var ErrMissingTenant = errors.New("tenancy: missing tenant id")

// Tenant identifies one guild partition. IDs are platform snowflakes.
type Tenant struct {
	ID int64
}

type contextKey struct{}

// WithTenant returns a context carrying the tenant.
func WithTenant(ctx context.Context, t Tenant) context.Context {
	return context.WithValue(ctx, contextKey{}, t)
}

// FromContext extracts the tenant, failing closed when absent or zero.
func FromContext(ctx context.Context) (Tenant, error) {
	t, ok := ctx.Value(contextKey{}).(Tenant)
	if !ok || t.ID == 0 {
		return Tenant{}, ErrMissingTenant
	}
	return t, nil
}

// MustFromContext is FromContext for call sites that have already validated
// the request; it panics on a missing tenant, which indicates a programming
// error upstream.
func MustFromContext(ctx context.Context) Tenant {
	t, err := FromContext(ctx)
	if err != nil {
		panic(err)
	}
	return t
}
