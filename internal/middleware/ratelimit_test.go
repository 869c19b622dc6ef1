package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/huangang/taskhub/pkg/response"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func limitedRouter(rl *RateLimiter, before ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	handlers := append(before, rl.Middleware(), func(c *gin.Context) {
		response.Success(c, nil)
	})
	r.POST("/api/projects/:id/invites", handlers...)
	return r
}

func post(r *gin.Engine, remoteAddr string, userID uint) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/projects/1/invites", nil)
	req.RemoteAddr = remoteAddr
	if userID != 0 {
		req.Header.Set("X-Test-User", strconv.FormatUint(uint64(userID), 10))
	}
	r.ServeHTTP(w, req)
	return w
}

// fakeAuth stands in for AuthRequired so tests can pick the caller.
func fakeAuth(c *gin.Context) {
	if id, err := strconv.ParseUint(c.GetHeader("X-Test-User"), 10, 64); err == nil {
		c.Set(ContextUserID, uint(id))
	}
	c.Next()
}

func TestRateLimit_BurstThenRejects(t *testing.T) {
	rl := NewRateLimiter(1, 2, nil)
	defer rl.Stop()
	r := limitedRouter(rl)

	assert.Equal(t, http.StatusOK, post(r, "10.0.0.1:1234", 0).Code)
	assert.Equal(t, http.StatusOK, post(r, "10.0.0.1:1234", 0).Code)

	w := post(r, "10.0.0.1:1234", 0)
	require.Equal(t, http.StatusTooManyRequests, w.Code)

	var body response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 429, body.Code)
	assert.Equal(t, response.KindRateLimited, body.Kind)

	retry, err := strconv.Atoi(w.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.Equal(t, 1, retry)
}

func TestRateLimit_RejectionDoesNotConsumeTokens(t *testing.T) {
	rl := NewRateLimiter(2, 1, nil)
	defer rl.Stop()
	r := limitedRouter(rl)

	require.Equal(t, http.StatusOK, post(r, "10.0.0.1:1234", 0).Code)
	for i := 0; i < 10; i++ {
		require.Equal(t, http.StatusTooManyRequests, post(r, "10.0.0.1:1234", 0).Code)
	}

	// One token refills after 500ms no matter how many requests were refused.
	time.Sleep(600 * time.Millisecond)
	assert.Equal(t, http.StatusOK, post(r, "10.0.0.1:1234", 0).Code)
}

func TestRateLimit_IndependentPerIP(t *testing.T) {
	rl := NewRateLimiter(1, 1, ByClientIP)
	defer rl.Stop()
	r := limitedRouter(rl)

	assert.Equal(t, http.StatusOK, post(r, "10.0.0.1:1234", 0).Code)
	assert.Equal(t, http.StatusTooManyRequests, post(r, "10.0.0.1:1234", 0).Code)
	assert.Equal(t, http.StatusOK, post(r, "10.0.0.2:1234", 0).Code)
	assert.Equal(t, 2, rl.Len())
}

func TestRateLimit_ByUser(t *testing.T) {
	rl := NewRateLimiter(1, 1, ByUser)
	defer rl.Stop()
	r := limitedRouter(rl, fakeAuth)

	// Same user from two addresses shares one bucket.
	assert.Equal(t, http.StatusOK, post(r, "10.0.0.1:1234", 7).Code)
	assert.Equal(t, http.StatusTooManyRequests, post(r, "10.0.0.2:1234", 7).Code)

	// Another user behind the same address is unaffected.
	assert.Equal(t, http.StatusOK, post(r, "10.0.0.1:1234", 8).Code)

	// Anonymous callers fall back to the address.
	assert.Equal(t, http.StatusOK, post(r, "10.0.0.1:1234", 0).Code)
	assert.Equal(t, http.StatusTooManyRequests, post(r, "10.0.0.1:1234", 0).Code)
	assert.Equal(t, 3, rl.Len())
}

func TestRateLimit_SweepDropsIdleBuckets(t *testing.T) {
	rl := NewRateLimiter(1, 1, nil)
	defer rl.Stop()
	r := limitedRouter(rl)

	post(r, "10.0.0.1:1234", 0)
	post(r, "10.0.0.2:1234", 0)
	require.Equal(t, 2, rl.Len())

	assert.Zero(t, rl.sweep(time.Now()))
	assert.Equal(t, 2, rl.sweep(time.Now().Add(rl.idleTTL+time.Second)))
	assert.Zero(t, rl.Len())
}

func TestRateLimit_StopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(1, 1, nil)
	rl.Stop()
	rl.Stop()

	assert.Equal(t, http.StatusOK, post(limitedRouter(rl), "10.0.0.1:1234", 0).Code)
}
