package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/moviereviews/internal/model"
)

const testSecret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

func protectedEngine() *gin.Engine {
	return protectedEngineWith(nil)
}

func protectedEngineWith(users UserLookup) *gin.Engine {
	r := gin.New()
	admin := r.Group("/admin", RequireAuth(testSecret, users), RequireAdmin())
	admin.GET("/movies", func(c *gin.Context) {
		c.String(http.StatusOK, "user %d", GetUserID(c))
	})
	r.GET("/", OptionalAuth(testSecret, users), func(c *gin.Context) {
		c.String(http.StatusOK, "%d %v", GetUserID(c), IsAdmin(c))
	})
	return r
}

func tokenFor(t *testing.T, role string) string {
	t.Helper()
	token, err := GenerateToken(&model.User{ID: 7, Email: "a@b.c", Username: "ab", Role: role}, testSecret, time.Hour)
	require.NoError(t, err)
	return token
}

func TestRequireAuth_RedirectsBrowsers(t *testing.T) {
	r := protectedEngine()
	req := httptest.NewRequest(http.MethodGet, "/admin/movies?q=x", nil)
	req.Header.Set("Accept", "text/html")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/auth/login?redirect=%2Fadmin%2Fmovies%3Fq%3Dx", w.Header().Get("Location"))
}

func TestRequireAuth_JSON401(t *testing.T) {
	r := protectedEngine()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/movies", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireAdmin(t *testing.T) {
	r := protectedEngine()

	req := httptest.NewRequest(http.MethodGet, "/admin/movies", nil)
	req.AddCookie(&http.Cookie{Name: TokenCookie, Value: tokenFor(t, model.RoleUser)})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/admin/movies", nil)
	req.Header.Set("Authorization", "Bearer "+tokenFor(t, model.RoleAdmin))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "user 7", w.Body.String())
}

func TestOptionalAuth(t *testing.T) {
	r := protectedEngine()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "0 false", w.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: TokenCookie, Value: "garbage"})
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "0 false", w.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: TokenCookie, Value: tokenFor(t, model.RoleAdmin)})
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "7 true", w.Body.String())
}

func TestParseToken(t *testing.T) {
	claims, err := ParseToken(tokenFor(t, model.RoleUser), testSecret)
	require.NoError(t, err)
	assert.Equal(t, 7, claims.UserID)
	assert.Equal(t, "ab", claims.Username)

	_, err = ParseToken(tokenFor(t, model.RoleUser), "other-secret")
	assert.Error(t, err)

	expired, err := GenerateToken(&model.User{ID: 1}, testSecret, -time.Minute)
	require.NoError(t, err)
	_, err = ParseToken(expired, testSecret)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestShouldRefresh(t *testing.T) {
	now := time.Now()
	fresh := &Claims{RegisteredClaims: jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}}
	assert.False(t, shouldRefresh(fresh))

	old := &Claims{RegisteredClaims: jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now.Add(-50 * time.Minute)),
		ExpiresAt: jwt.NewNumericDate(now.Add(10 * time.Minute)),
	}}
	assert.True(t, shouldRefresh(old))
	assert.False(t, shouldRefresh(&Claims{}))
}

type fakeUsers map[int]*model.User

func (f fakeUsers) FindByID(ctx context.Context, id int) (*model.User, error) {
	return f[id], nil
}

// staleToken 有效期已消耗过半，会触发续期
func staleToken(t *testing.T, role string) string {
	t.Helper()
	now := time.Now()
	claims := &Claims{
		UserID:   7,
		Email:    "a@b.c",
		Username: "ab",
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now.Add(-50 * time.Minute)),
			ExpiresAt: jwt.NewNumericDate(now.Add(10 * time.Minute)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

func refreshedToken(t *testing.T, w *httptest.ResponseRecorder) *Claims {
	t.Helper()
	for _, ck := range w.Result().Cookies() {
		if ck.Name == TokenCookie && ck.Value != "" {
			claims, err := ParseToken(ck.Value, testSecret)
			require.NoError(t, err)
			return claims
		}
	}
	return nil
}

func TestRefresh_DemotedAdminLosesAccess(t *testing.T) {
	users := fakeUsers{7: {ID: 7, Email: "a@b.c", Username: "ab", Role: model.RoleUser}}
	r := protectedEngineWith(users)

	req := httptest.NewRequest(http.MethodGet, "/admin/movies", nil)
	req.AddCookie(&http.Cookie{Name: TokenCookie, Value: staleToken(t, model.RoleAdmin)})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	claims := refreshedToken(t, w)
	require.NotNil(t, claims)
	assert.Equal(t, model.RoleUser, claims.Role)
}

func TestRefresh_AdminStillAdmin(t *testing.T) {
	users := fakeUsers{7: {ID: 7, Email: "a@b.c", Username: "ab", Role: model.RoleAdmin}}
	r := protectedEngineWith(users)

	req := httptest.NewRequest(http.MethodGet, "/admin/movies", nil)
	req.AddCookie(&http.Cookie{Name: TokenCookie, Value: staleToken(t, model.RoleAdmin)})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	claims := refreshedToken(t, w)
	require.NotNil(t, claims)
	assert.Equal(t, model.RoleAdmin, claims.Role)
}

func TestRefresh_DeletedAdmin(t *testing.T) {
	r := protectedEngineWith(fakeUsers{})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: TokenCookie, Value: staleToken(t, model.RoleAdmin)})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "0 false", w.Body.String())
	assert.Nil(t, refreshedToken(t, w))
}

func TestRateLimiter(t *testing.T) {
	assert.Nil(t, NewRateLimiter(0, 10))

	rl := NewRateLimiter(4, 10)
	require.NotNil(t, rl)
	// burst = 4/4 = 1
	assert.True(t, rl.Allow("1.1.1.1"))
	assert.False(t, rl.Allow("1.1.1.1"))
	assert.True(t, rl.Allow("2.2.2.2"))
}

func TestRateLimiter_Middleware(t *testing.T) {
	rl := NewRateLimiter(4, 10)
	r := gin.New()
	r.POST("/api/recommend", rl.Middleware(), func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/api/recommend", rl.Middleware(), func(c *gin.Context) { c.Status(http.StatusOK) })
	r.POST("/recommend/", rl.Middleware(), func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func(method, path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, nil)
		req.RemoteAddr = "10.0.0.1:1234"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusOK, do(http.MethodPost, "/api/recommend").Code)
	w := do(http.MethodPost, "/api/recommend")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "application/json"))

	// GET 不受限制
	assert.Equal(t, http.StatusOK, do(http.MethodGet, "/api/recommend").Code)

	w = do(http.MethodPost, "/recommend/")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "text/plain"))
}

func TestNilRateLimiterPassesThrough(t *testing.T) {
	var rl *RateLimiter
	r := gin.New()
	r.POST("/x", rl.Middleware(), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/x", nil))
		assert.Equal(t, http.StatusNoContent, w.Code)
	}
}

func TestSecurityHeadersAndCORS(t *testing.T) {
	r := gin.New()
	r.Use(RequestID(), Security(), CORS())
	r.GET("/api/movies", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/api/movies", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.NotEmpty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
