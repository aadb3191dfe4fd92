package middleware

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

// BodyLimit limits request body size. defaultLimit applies to ordinary JSON
// endpoints; valueLimit applies to complex value uploads
// (PUT /api/v1/observations/:id/value), which carry raw binary payloads and
// can legitimately be much larger.
//
// Limits are human-readable strings: "1M", "512K", "2G". A bare number is
// bytes. When the limit is exceeded the middleware returns 413.
func BodyLimit(defaultLimit string, valueLimit string) echo.MiddlewareFunc {
	defaultBytes := parseLimit(defaultLimit)
	valueBytes := parseLimit(valueLimit)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Request().Body == nil || c.Request().Body == http.NoBody {
				return next(c)
			}

			limit := defaultBytes
			if isValueUpload(c.Request()) {
				limit = valueBytes
			}

			// Content-Length allows early rejection before reading anything.
			if c.Request().ContentLength > limit {
				return payloadTooLarge(c, limit)
			}

			// Wrap the body so the limit holds even when Content-Length is
			// missing or lies.
			c.Request().Body = &limitedReadCloser{
				ReadCloser: c.Request().Body,
				remaining:  limit,
			}

			return next(c)
		}
	}
}

func isValueUpload(req *http.Request) bool {
	return req.Method == http.MethodPut &&
		strings.HasPrefix(req.URL.Path, "/api/v1/observations/") &&
		strings.HasSuffix(req.URL.Path, "/value")
}

// limitedReadCloser errors once more than the allowed bytes have been read.
type limitedReadCloser struct {
	io.ReadCloser
	remaining int64
	exceeded  bool
}

func (r *limitedReadCloser) Read(p []byte) (n int, err error) {
	if r.exceeded {
		return 0, echo.NewHTTPError(http.StatusRequestEntityTooLarge, "request body too large")
	}

	// Read at most remaining+1 so overflow is detectable.
	toRead := int64(len(p))
	if toRead > r.remaining+1 {
		toRead = r.remaining + 1
	}

	n, err = r.ReadCloser.Read(p[:toRead])
	r.remaining -= int64(n)

	if r.remaining < 0 {
		r.exceeded = true
		return 0, echo.NewHTTPError(http.StatusRequestEntityTooLarge, "request body too large")
	}

	return n, err
}

func payloadTooLarge(c echo.Context, limit int64) error {
	return c.JSON(http.StatusRequestEntityTooLarge, map[string]string{
		"error": fmt.Sprintf("request body exceeds maximum allowed size of %d bytes", limit),
	})
}

// parseLimit parses a human-readable size ("1M", "512K", "2G") into bytes,
// defaulting to 1 MB on empty or unparseable input.
func parseLimit(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 1 << 20
	}

	s = strings.ToUpper(s)
	var multiplier int64 = 1

	if strings.HasSuffix(s, "G") || strings.HasSuffix(s, "GB") {
		multiplier = 1 << 30
		s = strings.TrimRight(s, "GB")
	} else if strings.HasSuffix(s, "M") || strings.HasSuffix(s, "MB") {
		multiplier = 1 << 20
		s = strings.TrimRight(s, "MB")
	} else if strings.HasSuffix(s, "K") || strings.HasSuffix(s, "KB") {
		multiplier = 1 << 10
		s = strings.TrimRight(s, "KB")
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 1 << 20
	}

	return n * multiplier
}
