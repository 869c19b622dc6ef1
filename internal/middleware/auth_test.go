package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/huangang/taskhub/internal/models"
	"github.com/huangang/taskhub/internal/utils"
	"github.com/huangang/taskhub/pkg/response"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
	utils.SetJWTSecret("test-secret-for-middleware-testing")
}

func token(t *testing.T, userID uint, role string, hours int) string {
	t.Helper()
	tok, err := utils.GenerateToken(userID, "bob", role, hours)
	require.NoError(t, err)
	return tok
}

// authRouter echoes the identity AuthRequired established.
func authRouter(extra ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	handlers := append([]gin.HandlerFunc{AuthRequired()}, extra...)
	handlers = append(handlers, func(c *gin.Context) {
		response.Success(c, CurrentUser(c))
	})
	r.GET("/api/projects", handlers...)
	return r
}

func serve(r *gin.Engine, authorization string) (*httptest.ResponseRecorder, response.Response) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/projects", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	r.ServeHTTP(w, req)

	var body response.Response
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	return w, body
}

func TestAuthRequired_Rejections(t *testing.T) {
	r := authRouter()

	tests := []struct {
		name          string
		authorization string
		wantKind      string
		wantMessage   string
	}{
		{"missing header", "", response.KindUnauthorized, "authorization header required"},
		{"basic scheme", "Basic dXNlcjpwYXNz", response.KindUnauthorized, "invalid authorization header format"},
		{"bearer without token", "Bearer", response.KindUnauthorized, "invalid authorization header format"},
		{"extra segment", "Bearer a b", response.KindUnauthorized, "invalid authorization header format"},
		{"garbage token", "Bearer not.a.jwt", response.KindUnauthorized, "invalid token"},
		{"expired token", "Bearer " + token(t, 1, models.UserRoleUser, -1), response.KindTokenExpired, "access token expired"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, body := serve(r, tt.authorization)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, 401, body.Code)
			assert.Equal(t, tt.wantKind, body.Kind)
			assert.Equal(t, tt.wantMessage, body.Message)
			assert.Nil(t, body.Data, "handler must not run")
		})
	}
}

func TestAuthRequired_WrongSecret(t *testing.T) {
	tok := token(t, 1, models.UserRoleUser, 1)
	utils.SetJWTSecret("rotated-secret")
	defer utils.SetJWTSecret("test-secret-for-middleware-testing")

	w, body := serve(authRouter(), "Bearer "+tok)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, response.KindUnauthorized, body.Kind)
}

func TestAuthRequired_SetsIdentity(t *testing.T) {
	tok := token(t, 42, models.UserRoleUser, 1)
	claims, err := utils.ParseToken(tok)
	require.NoError(t, err)

	// The scheme is case-insensitive and surrounding blanks are ignored.
	for _, header := range []string{"Bearer " + tok, "bearer " + tok, "  BEARER   " + tok + " "} {
		w, body := serve(authRouter(), header)
		require.Equal(t, http.StatusOK, w.Code, header)
		assert.Equal(t, 0, body.Code)

		data, ok := body.Data.(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, float64(42), data["UserID"])
		assert.Equal(t, "bob", data["Username"])
		assert.Equal(t, models.UserRoleUser, data["Role"])
		assert.Equal(t, claims.ID, data["TokenID"])
	}
}

func TestAdminRequired(t *testing.T) {
	r := authRouter(AdminRequired())

	w, body := serve(r, "Bearer "+token(t, 1, models.UserRoleAdmin, 1))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, body.Code)

	for _, role := range []string{models.UserRoleUser, "", "Admin"} {
		w, body = serve(r, "Bearer "+token(t, 2, role, 1))
		assert.Equal(t, http.StatusForbidden, w.Code, role)
		assert.Equal(t, response.KindForbidden, body.Kind)
		assert.Equal(t, "admin access required", body.Message)
		assert.Nil(t, body.Data)
	}
}

func TestAdminRequired_WithoutAuth(t *testing.T) {
	r := gin.New()
	r.GET("/admin", AdminRequired(), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestIdentity_IsAdmin(t *testing.T) {
	assert.True(t, Identity{Role: models.UserRoleAdmin}.IsAdmin())
	assert.False(t, Identity{Role: models.UserRoleUser}.IsAdmin())
	assert.False(t, Identity{}.IsAdmin())
}

func TestCurrentUser_ZeroWithoutAuth(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Equal(t, Identity{}, CurrentUser(c))
	assert.Zero(t, GetUserID(c))
	assert.Empty(t, GetUsername(c))
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer abc", "abc", true},
		{"Token abc", "", false},
		{"abc", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
		c.Request.Header.Set("Authorization", tt.header)

		got, ok := BearerToken(c)
		assert.Equal(t, tt.ok, ok, tt.header)
		assert.Equal(t, tt.want, got, tt.header)
	}
}
