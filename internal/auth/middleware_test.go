// ABOUTME: Tests for the echo authentication middleware
// ABOUTME: Covers header parsing, rejection envelope, skipper, and subject propagation

package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serveWithAuth(t *testing.T, header, path string) (*httptest.ResponseRecorder, string) {
	t.Helper()
	verifier := newTestVerifier(t)

	e := echo.New()
	var gotSubject string
	handler := func(c echo.Context) error {
		gotSubject = SubjectFromContext(c.Request().Context())
		if s, ok := c.Get(SubjectKey).(string); ok {
			assert.Equal(t, gotSubject, s)
		}
		return c.String(http.StatusOK, "ok")
	}
	skip := func(c echo.Context) bool { return strings.HasPrefix(c.Path(), "/health") }

	e.Use(Middleware(verifier, skip))
	e.GET("/api/agents", handler)
	e.GET("/health", handler)

	req := httptest.NewRequest(http.MethodGet, path, nil)
	if header != "" {
		req.Header.Set(echo.HeaderAuthorization, header)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec, gotSubject
}

func TestMiddleware_ValidToken(t *testing.T) {
	token, err := newTestVerifier(t).Generate("ops", time.Hour)
	require.NoError(t, err)

	rec, subject := serveWithAuth(t, "Bearer "+token, "/api/agents")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ops", subject)
}

func TestMiddleware_Rejections(t *testing.T) {
	expired, err := newTestVerifier(t).Generate("ops", -time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name    string
		header  string
		message string
	}{
		{"missing header", "", "missing authorization header"},
		{"wrong scheme", "Basic dXNlcjpwYXNz", "invalid authorization header format"},
		{"empty token", "Bearer ", "empty token"},
		{"garbage", "Bearer nope", "invalid token"},
		{"expired", "Bearer " + expired, "token expired"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, subject := serveWithAuth(t, tt.header, "/api/agents")
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Empty(t, subject)
			assert.Contains(t, rec.Body.String(), `"status":"error"`)
			assert.Contains(t, rec.Body.String(), tt.message)
			assert.NotEmpty(t, rec.Header().Get(echo.HeaderWWWAuthenticate))
		})
	}
}

func TestMiddleware_Skipper(t *testing.T) {
	rec, _ := serveWithAuth(t, "", "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
}
