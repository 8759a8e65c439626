package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockAdminChecker struct {
	isAdmin bool
	err     error
}

func (m *mockAdminChecker) IsAdmin(_ context.Context, _ int) (bool, error) {
	return m.isAdmin, m.err
}

func setupSessionRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	store := cookie.NewStore([]byte("test-secret-key"))
	router.Use(sessions.Sessions("test-session", store))
	return router
}

// loginAs issues a request that stores the given identity in the session
// and returns the resulting session cookie.
func loginAs(t *testing.T, router *gin.Engine, userID interface{}, username interface{}) *http.Cookie {
	t.Helper()

	router.GET("/test-login", func(c *gin.Context) {
		session := sessions.Default(c)
		if userID != nil {
			session.Set(UserIDKey, userID)
		}
		if username != nil {
			session.Set(UsernameKey, username)
		}
		require.NoError(t, session.Save())
		c.Status(http.StatusOK)
	})

	req, _ := http.NewRequest("GET", "/test-login", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	cookies := w.Result().Cookies()
	require.NotEmpty(t, cookies)
	return cookies[0]
}

func TestRequireAuth_Authenticated(t *testing.T) {
	router := setupSessionRouter()
	router.GET("/protected", RequireAuth(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"user_id":  c.GetInt(UserIDKey),
			"username": c.GetString(UsernameKey),
		})
	})

	sessionCookie := loginAs(t, router, 42, "alice")

	req, _ := http.NewRequest("GET", "/protected", nil)
	req.AddCookie(sessionCookie)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "alice")
	assert.Contains(t, w.Body.String(), "42")
}

func TestRequireAuth_NoSession(t *testing.T) {
	router := setupSessionRouter()
	router.GET("/protected", RequireAuth(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "should not reach here"})
	})

	req, _ := http.NewRequest("GET", "/protected", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "Authentication required")
}

func TestRequireAuth_MissingUsername(t *testing.T) {
	router := setupSessionRouter()
	router.GET("/protected", RequireAuth(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "should not reach here"})
	})

	sessionCookie := loginAs(t, router, 42, nil)

	req, _ := http.NewRequest("GET", "/protected", nil)
	req.AddCookie(sessionCookie)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireAuth_CorruptedSessionTypes(t *testing.T) {
	router := setupSessionRouter()
	router.GET("/protected", RequireAuth(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "should not reach here"})
	})

	sessionCookie := loginAs(t, router, "not-an-integer", 12345)

	req, _ := http.NewRequest("GET", "/protected", nil)
	req.AddCookie(sessionCookie)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireAuth_InvalidCookie(t *testing.T) {
	router := setupSessionRouter()
	router.GET("/protected", RequireAuth(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "should not reach here"})
	})

	req, _ := http.NewRequest("GET", "/protected", nil)
	req.AddCookie(&http.Cookie{Name: "test-session", Value: "garbage", Path: "/"})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireAdmin_AdminUser(t *testing.T) {
	router := setupSessionRouter()
	router.GET("/admin", RequireAdmin(&mockAdminChecker{isAdmin: true}), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"username": c.GetString(UsernameKey)})
	})

	sessionCookie := loginAs(t, router, 1, "admin")

	req, _ := http.NewRequest("GET", "/admin", nil)
	req.AddCookie(sessionCookie)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "admin")
}

func TestRequireAdmin_NonAdminUser(t *testing.T) {
	router := setupSessionRouter()
	router.GET("/admin", RequireAdmin(&mockAdminChecker{isAdmin: false}), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "should not reach here"})
	})

	sessionCookie := loginAs(t, router, 2, "bob")

	req, _ := http.NewRequest("GET", "/admin", nil)
	req.AddCookie(sessionCookie)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "Admin access required")
}

func TestRequireAdmin_CheckFails(t *testing.T) {
	router := setupSessionRouter()
	router.GET("/admin", RequireAdmin(&mockAdminChecker{err: errors.New("db down")}), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "should not reach here"})
	})

	sessionCookie := loginAs(t, router, 2, "bob")

	req, _ := http.NewRequest("GET", "/admin", nil)
	req.AddCookie(sessionCookie)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestRequireAdmin_Unauthenticated(t *testing.T) {
	router := setupSessionRouter()
	router.GET("/admin", RequireAdmin(&mockAdminChecker{isAdmin: true}), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "should not reach here"})
	})

	req, _ := http.NewRequest("GET", "/admin", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireAdmin_PanicsOnWrongServiceType(t *testing.T) {
	assert.Panics(t, func() {
		RequireAdmin(struct{}{})
	})
}
