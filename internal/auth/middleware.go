// ABOUTME: Echo middleware for bearer-token authentication on API endpoints
// ABOUTME: Extracts the JWT from the Authorization header and stores the subject on the context

package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// SubjectKey is the echo context key holding the authenticated subject.
const SubjectKey = "auth.subject"

type subjectContextKey struct{}

// WithSubject returns a context carrying the authenticated subject.
func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, subjectContextKey{}, subject)
}

// SubjectFromContext returns the authenticated subject, or "" if none.
func SubjectFromContext(ctx context.Context) string {
	s, _ := ctx.Value(subjectContextKey{}).(string)
	return s
}

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// Middleware rejects requests without a valid bearer token with 401 and the
// API's error envelope. Requests for which skip returns true pass through.
func Middleware(verifier TokenVerifier, skip func(c echo.Context) bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if skip != nil && skip(c) {
				return next(c)
			}

			token, errMsg := extractBearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if errMsg != "" {
				return unauthorized(c, errMsg)
			}

			subject, err := verifier.Verify(token)
			if err != nil {
				return unauthorized(c, err.Error())
			}

			c.Set(SubjectKey, subject)
			req := c.Request()
			c.SetRequest(req.WithContext(WithSubject(req.Context(), subject)))
			return next(c)
		}
	}
}

func unauthorized(c echo.Context, message string) error {
	c.Response().Header().Set(echo.HeaderWWWAuthenticate, `Bearer realm="ephemera"`)
	return c.JSON(http.StatusUnauthorized, map[string]string{
		"status":  "error",
		"message": message,
	})
}
