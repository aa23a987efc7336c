package middlewares_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"civicsync-dispatch/middlewares"
	"civicsync-dispatch/models"
	authUtils "civicsync-dispatch/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/m-mizutani/ctxlog"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

func whoami(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"user_id": c.GetString("user_id"), "role": c.GetString("role")})
}

func token(t *testing.T, role models.Role) string {
	t.Helper()
	tok, err := authUtils.GenerateToken(secret, "64b000000000000000000001", role)
	require.NoError(t, err)
	return tok
}

func TestAuthMiddleware(t *testing.T) {
	r := gin.New()
	r.GET("/me", middlewares.AuthMiddleware(secret), whoami)
	r.GET("/admin", middlewares.AuthMiddleware(secret), middlewares.RequireAdmin(), whoami)

	tests := []struct {
		name   string
		path   string
		header string
		cookie string
		status int
	}{
		{"bearer header", "/me", "Bearer " + token(t, models.RoleCitizen), "", http.StatusOK},
		{"raw header", "/me", token(t, models.RoleCitizen), "", http.StatusOK},
		{"cookie", "/me", "", token(t, models.RoleCitizen), http.StatusOK},
		{"missing", "/me", "", "", http.StatusUnauthorized},
		{"invalid", "/me", "Bearer nope", "", http.StatusUnauthorized},
		{"citizen on admin route", "/admin", "Bearer " + token(t, models.RoleCitizen), "", http.StatusForbidden},
		{"admin on admin route", "/admin", "Bearer " + token(t, models.RoleAdmin), "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: middlewares.AuthCookie, Value: tt.cookie})
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestAuthMiddlewareSetsClaims(t *testing.T) {
	r := gin.New()
	r.GET("/me", middlewares.AuthMiddleware(secret), whoami)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token(t, models.RoleAdmin))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "64b000000000000000000001", body["user_id"])
	assert.Equal(t, "admin", body["role"])
}

func TestAuthMiddlewareWithoutSecret(t *testing.T) {
	r := gin.New()
	r.GET("/me", middlewares.AuthMiddleware(""), whoami)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestIssueRateLimiterWithoutRedis(t *testing.T) {
	r := gin.New()
	r.POST("/issues", middlewares.IssueRateLimiter(nil, "issues", 1), whoami)

	for range 3 {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/issues", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}
}

func TestIssueRateLimiterWithRedis(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDRESS")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDRESS is not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	prefix := "test-rate:" + uuid.NewString()
	r := gin.New()
	r.POST("/issues",
		middlewares.AuthMiddleware(secret),
		middlewares.IssueRateLimiter(client, prefix, 2),
		whoami,
	)

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/issues", nil)
		req.Header.Set("Authorization", "Bearer "+token(t, models.RoleCitizen))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusOK, send().Code)
	assert.Equal(t, http.StatusOK, send().Code)
	w := send()
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "retry_after")

	t.Cleanup(func() {
		client.Del(context.Background(), prefix+":64b000000000000000000001")
	})
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	r := gin.New()
	r.Use(middlewares.RequestLogger(logger))
	r.GET("/ping", func(c *gin.Context) {
		ctxlog.From(c.Request.Context()).Info("inside handler")
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	t.Run("generates request id", func(t *testing.T) {
		buf.Reset()
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

		id := w.Header().Get(middlewares.RequestIDHeader)
		require.NotEmpty(t, id)
		_, err := uuid.Parse(id)
		assert.NoError(t, err)
		assert.Contains(t, buf.String(), `"msg":"inside handler"`)
		assert.Contains(t, buf.String(), `"request_id":"`+id+`"`)
		assert.Contains(t, buf.String(), `"status":200`)
	})

	t.Run("keeps caller request id", func(t *testing.T) {
		buf.Reset()
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.Header.Set(middlewares.RequestIDHeader, "abc-123")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, "abc-123", w.Header().Get(middlewares.RequestIDHeader))
		assert.Contains(t, buf.String(), `"request_id":"abc-123"`)
	})
}
