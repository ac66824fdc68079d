package repositories

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/clover/internal/appcontext"
	"github.com/Ramsey-B/clover/internal/database"
)

// ErrStaleUpdate is returned by conditional updates that matched no row. The
// caller re-reads to distinguish a missing entity from a lost version race.
var ErrStaleUpdate = errors.New("conditional update affected no rows")

// Error kind helpers. The engine reports failures as httperrors with the
// family's status-code conventions: validation 400, not found 404, conflict
// 409, invalid transition 422, authorization 403, timeout 504, storage 500.

// NotFound returns a 404 HTTP error with a descriptive message
func NotFound(format string, args ...any) error {
	return httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf(format, args...))
}

// BadRequest returns a 400 HTTP error for malformed or missing input
func BadRequest(format string, args ...any) error {
	return httperror.NewHTTPError(http.StatusBadRequest, fmt.Sprintf(format, args...))
}

// Conflict returns a 409 HTTP error for exclusivity or stale-state clashes
func Conflict(format string, args ...any) error {
	return httperror.NewHTTPError(http.StatusConflict, fmt.Sprintf(format, args...))
}

// InvalidTransition returns a 422 HTTP error for state machine violations
func InvalidTransition(format string, args ...any) error {
	return httperror.NewHTTPError(http.StatusUnprocessableEntity, fmt.Sprintf(format, args...))
}

// Forbidden returns a 403 HTTP error when the caller lacks entity-level rights
func Forbidden(format string, args ...any) error {
	return httperror.NewHTTPError(http.StatusForbidden, fmt.Sprintf(format, args...))
}

// Unauthorized returns a 401 HTTP error
func Unauthorized(message string) error {
	return httperror.NewHTTPError(http.StatusUnauthorized, message)
}

// Timeout returns a 504 HTTP error for storage deadline failures
func Timeout(format string, args ...any) error {
	return httperror.NewHTTPError(http.StatusGatewayTimeout, fmt.Sprintf(format, args...))
}

// Storage returns a 500 HTTP error for collaborator failures
func Storage(message string) error {
	return httperror.NewHTTPError(http.StatusInternalServerError, message)
}

// StorageErr wraps a database error, surfacing context deadline failures as
// timeouts so callers can make their own retry decisions.
func StorageErr(err error, message string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout("%s: storage deadline exceeded", message)
	}
	return Storage(message)
}

// IsNotFound reports whether err is a 404 httperror.
func IsNotFound(err error) bool {
	return httperror.IsHTTPError(err) && httperror.GetStatusCode(err) == http.StatusNotFound
}

// Repository provides common database operations with tenant isolation
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new base repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// DB returns the database instance
func (r *Repository) DB() database.DB {
	return r.db
}

// GetTenantID extracts and validates tenant_id from context
func GetTenantID(ctx context.Context) (uuid.UUID, error) {
	tenantIDStr := appcontext.GetTenantID(ctx)
	if tenantIDStr == "" {
		return uuid.Nil, httperror.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}

	tenantID, err := uuid.Parse(tenantIDStr)
	if err != nil {
		return uuid.Nil, httperror.NewHTTPError(http.StatusUnauthorized, "invalid authentication token")
	}

	return tenantID, nil
}

// GetProfessionalID extracts the caller's professional id from context.
func GetProfessionalID(ctx context.Context) (uuid.UUID, error) {
	idStr := appcontext.GetProfessionalID(ctx)
	if idStr == "" {
		return uuid.Nil, httperror.NewHTTPError(http.StatusUnauthorized, "caller identity required")
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return uuid.Nil, httperror.NewHTTPError(http.StatusUnauthorized, "invalid caller identity")
	}

	return id, nil
}
