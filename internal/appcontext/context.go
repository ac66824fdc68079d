// Package appcontext carries request-scoped caller identity and clock through
// context.Context. Transport-level authentication happens upstream; the values
// here are trusted inputs used for entity-level authorization and logging.
package appcontext

import (
	"context"
	"time"
)

type ContextKey string

var (
	RequestIDKey      = ContextKey("X-Request-Id")
	TenantIDKey       = ContextKey("X-Tenant-Id")
	ProfessionalIDKey = ContextKey("X-Professional-Id")
	RoleKey           = ContextKey("X-Role")
	ClockKey          = ContextKey("X-Clock")
)

// Role is the coarse caller role forwarded by the gateway.
type Role string

const (
	RoleProfessional Role = "professional"
	RoleAdmin        Role = "admin"
)

func SetRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

func GetRequestID(ctx context.Context) string {
	value, ok := ctx.Value(RequestIDKey).(string)
	if !ok {
		return ""
	}
	return value
}

func SetTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, TenantIDKey, tenantID)
}

func GetTenantID(ctx context.Context) string {
	value, ok := ctx.Value(TenantIDKey).(string)
	if !ok {
		return ""
	}
	return value
}

func SetProfessionalID(ctx context.Context, professionalID string) context.Context {
	return context.WithValue(ctx, ProfessionalIDKey, professionalID)
}

func GetProfessionalID(ctx context.Context) string {
	value, ok := ctx.Value(ProfessionalIDKey).(string)
	if !ok {
		return ""
	}
	return value
}

func SetRole(ctx context.Context, role Role) context.Context {
	return context.WithValue(ctx, RoleKey, role)
}

func GetRole(ctx context.Context) Role {
	value, ok := ctx.Value(RoleKey).(Role)
	if !ok {
		return ""
	}
	return value
}

// SetClock overrides the request clock. Tests use this to pin "now".
func SetClock(ctx context.Context, now func() time.Time) context.Context {
	return context.WithValue(ctx, ClockKey, now)
}

// Now returns the request-scoped clock, falling back to time.Now.
func Now(ctx context.Context) time.Time {
	if clock, ok := ctx.Value(ClockKey).(func() time.Time); ok {
		return clock().UTC()
	}
	return time.Now().UTC()
}
