package logger

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	InitWithWriter("debug", &buf)
	t.Cleanup(func() { Init("info") })
	return &buf
}

func lines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	sc := bufio.NewScanner(bytes.NewReader(buf.Bytes()))
	for sc.Scan() {
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m), sc.Text())
		out = append(out, m)
	}
	return out
}

func TestForProject_TagsFields(t *testing.T) {
	buf := capture(t)

	ForProject(context.Background(), 12, 7).Info().Msg("created")
	ForUser(context.Background(), 3).Warn().Msg("login")

	got := lines(t, buf)
	require.Len(t, got, 2)
	assert.Equal(t, float64(12), got[0]["project_id"])
	assert.Equal(t, float64(7), got[0]["user_id"])
	assert.Equal(t, "created", got[0]["message"])
	assert.Equal(t, float64(3), got[1]["user_id"])
	assert.NotContains(t, got[1], "project_id")
	assert.Equal(t, "warn", got[1]["level"])
}

func TestCtx_FallsBackToGlobal(t *testing.T) {
	buf := capture(t)

	Ctx(nil).Info().Msg("nil ctx")
	Ctx(context.Background()).Info().Msg("bare ctx")

	got := lines(t, buf)
	require.Len(t, got, 2)
	assert.NotContains(t, got[0], "request_id")
}

func TestGinLogger_RequestScope(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := capture(t)

	r := gin.New()
	r.Use(GinLogger())
	r.GET("/api/projects/:id", func(c *gin.Context) {
		c.Set("user_id", uint(42))
		ForProject(c.Request.Context(), 5, 42).Info().Msg("[Project] viewed")
		c.Status(http.StatusForbidden)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/projects/5", nil)
	req.Header.Set(RequestIDHeader, "req-abc")
	r.ServeHTTP(w, req)

	assert.Equal(t, "req-abc", w.Header().Get(RequestIDHeader))

	got := lines(t, buf)
	require.Len(t, got, 2)
	assert.Equal(t, "req-abc", got[0]["request_id"])
	assert.Equal(t, float64(5), got[0]["project_id"])

	access := got[1]
	assert.Equal(t, "request", access["message"])
	assert.Equal(t, "warn", access["level"])
	assert.Equal(t, "req-abc", access["request_id"])
	assert.Equal(t, float64(42), access["user_id"])
	assert.Equal(t, float64(http.StatusForbidden), access["status"])
}

func TestGinLogger_GeneratesRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := capture(t)

	r := gin.New()
	r.Use(GinLogger())
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	id := w.Header().Get(RequestIDHeader)
	assert.Len(t, id, 36)

	got := lines(t, buf)
	require.Len(t, got, 1)
	assert.Equal(t, id, got[0]["request_id"])
	assert.Equal(t, "info", got[0]["level"])
	assert.NotContains(t, got[0], "user_id")
}

func TestGinRecovery_LogsPanic(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := capture(t)

	r := gin.New()
	r.Use(GinLogger(), GinRecovery())
	r.GET("/boom", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	got := lines(t, buf)
	require.Len(t, got, 2)
	assert.Equal(t, "panic recovered", got[0]["message"])
	assert.Equal(t, "boom", got[0]["panic"])
	assert.Equal(t, got[0]["request_id"], got[1]["request_id"])
	assert.Equal(t, "error", got[1]["level"])
}
