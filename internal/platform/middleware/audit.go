package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/cdr/cdr/internal/platform/auth"
)

// AuditEntry captures who touched which clinical record, when, from where,
// and the action taken. Every request under /api/v1 produces one.
type AuditEntry struct {
	UserID     string
	UserRole   string
	Resource   string
	PersonID   string
	Action     string // read, create, update, void, unvoid, delete, search, evaluate
	IPAddress  string
	UserAgent  string
	Path       string
	Method     string
	Timestamp  time.Time
	RequestID  string
	StatusCode int
}

// AuditRecorder persists audit entries. The middleware falls back to
// structured logging alone when no recorder is provided, so tests and
// deployments without a durable audit sink still get a trail.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

// AuditRecorderFunc is a function adapter for AuditRecorder.
type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

// Audit logs every access to clinical data under /api/v1: the authenticated
// principal, the resource collection, the subject person where one can be
// determined, and the action. Recording failures are logged and never fail
// the request.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			path := req.URL.Path

			if !isAuditablePath(path) {
				return next(c)
			}

			// Run the handler first so the entry carries the response status.
			err := next(c)

			entry := AuditEntry{
				Timestamp:  time.Now().UTC(),
				Path:       path,
				Method:     req.Method,
				IPAddress:  c.RealIP(),
				UserAgent:  req.UserAgent(),
				StatusCode: c.Response().Status,
			}

			if p := auth.PrincipalFromContext(req.Context()); p != nil {
				entry.UserID = p.Subject
				entry.UserRole = p.Role
			}

			if rid, ok := c.Get("request_id").(string); ok {
				entry.RequestID = rid
			}

			entry.Action = auditAction(req.Method, path)
			entry.Resource = extractResource(path)
			entry.PersonID = extractPersonID(c)

			if len(recorders) > 0 && recorders[0] != nil {
				if recErr := recorders[0].RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).
						Str("request_id", entry.RequestID).
						Msg("failed to record audit entry")
				}
			}

			logger.Info().
				Str("type", "phi_access").
				Str("request_id", entry.RequestID).
				Str("user_id", entry.UserID).
				Str("user_role", entry.UserRole).
				Str("resource", entry.Resource).
				Str("person_id", entry.PersonID).
				Str("action", entry.Action).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("phi_access")

			return err
		}
	}
}

func isAuditablePath(path string) bool {
	return strings.HasPrefix(path, "/api/v1/")
}

// auditAction maps the request to an audit action code. Lifecycle subpaths
// refine the plain method mapping so the trail distinguishes a void from an
// ordinary update.
func auditAction(method, path string) string {
	switch {
	case strings.HasSuffix(path, "/void"):
		return "void"
	case strings.HasSuffix(path, "/unvoid"):
		return "unvoid"
	case strings.HasSuffix(path, "/evaluate"):
		return "evaluate"
	case strings.HasSuffix(path, "/search"):
		return "search"
	}

	switch method {
	case http.MethodGet, http.MethodHead:
		return "read"
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}

// extractResource returns the collection segment of an /api/v1 path:
// /api/v1/observations/42 -> observations.
func extractResource(path string) string {
	segments := strings.Split(strings.TrimPrefix(path, "/api/v1/"), "/")
	if len(segments) > 0 && segments[0] != "" {
		return segments[0]
	}
	return "unknown"
}

// extractPersonID finds the subject person in person-scoped paths
// (/api/v1/people/7/observations) or a person_id query parameter.
func extractPersonID(c echo.Context) string {
	path := c.Request().URL.Path

	if strings.HasPrefix(path, "/api/v1/people/") {
		segments := strings.Split(strings.TrimPrefix(path, "/api/v1/people/"), "/")
		if len(segments) > 0 && isNumericID(segments[0]) {
			return segments[0]
		}
	}

	if pid := c.QueryParam("person_id"); pid != "" {
		return pid
	}

	return ""
}

func isNumericID(s string) bool {
	if s == "" {
		return false
	}
	_, err := strconv.ParseInt(s, 10, 64)
	return err == nil
}
