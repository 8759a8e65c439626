package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcqapp/internal/config"
	"mcqapp/internal/middleware"
	"mcqapp/internal/observability"
)

type adminTestEnv struct {
	router *gin.Engine
	users  *mockUserService
}

// newAdminTestEnv mounts the admin routes behind RequireAdmin and offers
// a login route that can impersonate any existing user.
func newAdminTestEnv(t *testing.T) *adminTestEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := observability.NewLogger(&config.OpenTelemetryConfig{EnableLogging: false})
	users := newMockUserService()
	handler := NewUserAdminHandler(users, logger)

	router := gin.New()
	store := cookie.NewStore([]byte("test-secret"))
	router.Use(sessions.Sessions("test-session", store))

	router.GET("/test-login/:id/:username", func(c *gin.Context) {
		session := sessions.Default(c)
		id, err := strconv.Atoi(c.Param("id"))
		require.NoError(t, err)
		session.Set(middleware.UserIDKey, id)
		session.Set(middleware.UsernameKey, c.Param("username"))
		require.NoError(t, session.Save())
		c.Status(http.StatusOK)
	})

	admin := router.Group("/v1/admin")
	admin.Use(middleware.RequireAdmin(users))
	admin.GET("/userz", handler.GetAllUsers)
	admin.DELETE("/userz/:id", handler.DeleteUser)

	return &adminTestEnv{router: router, users: users}
}

func (e *adminTestEnv) loginAs(t *testing.T, id int, username string) *http.Cookie {
	t.Helper()

	req, _ := http.NewRequest("GET", "/test-login/"+strconv.Itoa(id)+"/"+username, nil)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	cookies := w.Result().Cookies()
	require.NotEmpty(t, cookies)
	return cookies[0]
}

func TestAdminGetAllUsers(t *testing.T) {
	env := newAdminTestEnv(t)
	admin := env.users.addUser("admin", "password123", true)
	env.users.addUser("alice", "password123", false)

	sessionCookie := env.loginAs(t, admin.ID, admin.Username)

	req, _ := http.NewRequest("GET", "/v1/admin/userz", nil)
	req.AddCookie(sessionCookie)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Users []struct {
			Username string `json:"username"`
		} `json:"users"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Users, 2)
	assert.Equal(t, "admin", resp.Users[0].Username)
	assert.Equal(t, "alice", resp.Users[1].Username)
}

func TestAdminGetAllUsers_NonAdminForbidden(t *testing.T) {
	env := newAdminTestEnv(t)
	user := env.users.addUser("alice", "password123", false)

	sessionCookie := env.loginAs(t, user.ID, user.Username)

	req, _ := http.NewRequest("GET", "/v1/admin/userz", nil)
	req.AddCookie(sessionCookie)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAdminDeleteUser(t *testing.T) {
	env := newAdminTestEnv(t)
	admin := env.users.addUser("admin", "password123", true)
	target := env.users.addUser("alice", "password123", false)

	sessionCookie := env.loginAs(t, admin.ID, admin.Username)

	req, _ := http.NewRequest("DELETE", "/v1/admin/userz/"+strconv.Itoa(target.ID), nil)
	req.AddCookie(sessionCookie)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	remaining, err := env.users.GetAllUsers(nil)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "admin", remaining[0].Username)
}

func TestAdminDeleteUser_SelfForbidden(t *testing.T) {
	env := newAdminTestEnv(t)
	admin := env.users.addUser("admin", "password123", true)

	sessionCookie := env.loginAs(t, admin.ID, admin.Username)

	req, _ := http.NewRequest("DELETE", "/v1/admin/userz/"+strconv.Itoa(admin.ID), nil)
	req.AddCookie(sessionCookie)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "Cannot delete your own account")
}

func TestAdminDeleteUser_Unknown(t *testing.T) {
	env := newAdminTestEnv(t)
	admin := env.users.addUser("admin", "password123", true)

	sessionCookie := env.loginAs(t, admin.ID, admin.Username)

	req, _ := http.NewRequest("DELETE", "/v1/admin/userz/999", nil)
	req.AddCookie(sessionCookie)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminDeleteUser_InvalidID(t *testing.T) {
	env := newAdminTestEnv(t)
	admin := env.users.addUser("admin", "password123", true)

	sessionCookie := env.loginAs(t, admin.ID, admin.Username)

	req, _ := http.NewRequest("DELETE", "/v1/admin/userz/not-a-number", nil)
	req.AddCookie(sessionCookie)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
