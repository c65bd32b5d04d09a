package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"seawatch/internal/auth"
	"seawatch/internal/errs"
	"seawatch/internal/limiter"
	"seawatch/internal/model"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "middleware-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

func whoami(c *gin.Context) {
	actor := ActorFrom(c)
	c.JSON(http.StatusOK, gin.H{"id": actor.ID.String(), "role": actor.Role})
}

func TestAuthenticate(t *testing.T) {
	r := gin.New()
	r.Use(Authenticate(secret))
	r.GET("/whoami", whoami)

	user := &model.User{ID: uuid.New(), Role: model.RoleAdmin}
	token, err := auth.GenerateAccessToken(user, secret, time.Hour)
	require.NoError(t, err)

	t.Run("anonymous", func(t *testing.T) {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/whoami", nil)
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var body map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, uuid.Nil.String(), body["id"])
	})

	t.Run("valid token", func(t *testing.T) {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/whoami", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var body map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, user.ID.String(), body["id"])
		assert.Equal(t, "admin", body["role"])
	})

	for name, header := range map[string]string{
		"bad token":  "Bearer nope",
		"bad scheme": "Basic " + token,
		"no token":   "Bearer",
	} {
		t.Run(name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req, _ := http.NewRequest("GET", "/whoami", nil)
			req.Header.Set("Authorization", header)
			r.ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			var body errs.Response
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, errs.KindUnauthorized, body.Kind)
		})
	}
}

func TestOptionalAuthenticate(t *testing.T) {
	r := gin.New()
	r.Use(OptionalAuthenticate(secret))
	r.GET("/whoami", whoami)

	user := &model.User{ID: uuid.New(), Role: model.RoleCaptain}
	token, err := auth.GenerateAccessToken(user, secret, time.Hour)
	require.NoError(t, err)
	expired, err := auth.GenerateAccessToken(user, secret, -time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		wantID string
	}{
		{"valid token", "Bearer " + token, user.ID.String()},
		{"no header", "", uuid.Nil.String()},
		{"garbage token", "Bearer not-a-valid-token", uuid.Nil.String()},
		{"expired token", "Bearer " + expired, uuid.Nil.String()},
		{"bad scheme", "Basic " + token, uuid.Nil.String()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req, _ := http.NewRequest("GET", "/whoami", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			r.ServeHTTP(w, req)

			require.Equal(t, http.StatusOK, w.Code)
			var body map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.wantID, body["id"])
		})
	}
}

type fakeLimiter struct {
	result *limiter.Result
	err    error
	keys   []string
}

func (f *fakeLimiter) Allow(_ context.Context, key string) (*limiter.Result, error) {
	f.keys = append(f.keys, key)
	return f.result, f.err
}

func rateLimitedRouter(l Limiter, actor model.Actor) *gin.Engine {
	log, _ := logtest.NewNullLogger()
	r := gin.New()
	r.Use(func(c *gin.Context) { SetActor(c, actor); c.Next() })
	r.Use(RateLimit(l, log))
	r.POST("/things", func(c *gin.Context) { c.Status(http.StatusCreated) })
	r.GET("/things", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func TestRateLimit(t *testing.T) {
	actor := model.Actor{ID: uuid.New(), Role: model.RoleSailor}

	t.Run("allowed", func(t *testing.T) {
		l := &fakeLimiter{result: &limiter.Result{Allowed: true, Limit: 30, Remaining: 29}}
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("POST", "/things", nil)
		rateLimitedRouter(l, actor).ServeHTTP(w, req)

		assert.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, "29", w.Header().Get("X-RateLimit-Remaining"))
		assert.Equal(t, []string{"actor:" + actor.ID.String()}, l.keys)
	})

	t.Run("rejected", func(t *testing.T) {
		l := &fakeLimiter{result: &limiter.Result{
			Allowed: false,
			Limit:   30,
			ResetAt: time.Now().Add(42 * time.Second),
		}}
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("POST", "/things", nil)
		rateLimitedRouter(l, actor).ServeHTTP(w, req)

		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		retry := w.Header().Get("Retry-After")
		assert.Contains(t, []string{"41", "42"}, retry)
	})

	t.Run("backend down fails open", func(t *testing.T) {
		l := &fakeLimiter{err: errors.New("dial tcp: connection refused")}
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("POST", "/things", nil)
		rateLimitedRouter(l, actor).ServeHTTP(w, req)

		assert.Equal(t, http.StatusCreated, w.Code)
	})

	t.Run("reads are not counted", func(t *testing.T) {
		l := &fakeLimiter{result: &limiter.Result{Allowed: false}}
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/things", nil)
		rateLimitedRouter(l, actor).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, l.keys)
	})

	t.Run("anonymous keyed by ip", func(t *testing.T) {
		l := &fakeLimiter{result: &limiter.Result{Allowed: true}}
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("POST", "/things", nil)
		req.RemoteAddr = "192.0.2.7:5555"
		rateLimitedRouter(l, model.Anonymous).ServeHTTP(w, req)

		assert.Equal(t, []string{"ip:192.0.2.7"}, l.keys)
	})
}
