package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
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

type authTestEnv struct {
	router *gin.Engine
	users  *mockUserService
}

func newAuthTestEnv(t *testing.T, cfg *config.Config) *authTestEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	if cfg == nil {
		cfg = &config.Config{}
	}

	logger := observability.NewLogger(&config.OpenTelemetryConfig{EnableLogging: false})
	users := newMockUserService()
	handler := NewAuthHandler(users, cfg, logger)

	router := gin.New()
	store := cookie.NewStore([]byte("test-secret"))
	router.Use(sessions.Sessions("test-session", store))

	auth := router.Group("/v1/auth")
	auth.POST("/login", handler.Login)
	auth.POST("/logout", handler.Logout)
	auth.GET("/status", handler.Status)
	auth.GET("/check", middleware.RequireAuth(), handler.Check)
	auth.POST("/signup", handler.Signup)
	auth.GET("/signup/status", handler.SignupStatus)

	return &authTestEnv{router: router, users: users}
}

func (e *authTestEnv) post(t *testing.T, path string, body interface{}, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(body))
	req, _ := http.NewRequest("POST", path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *authTestEnv) get(path string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req, _ := http.NewRequest("GET", path, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func TestLogin_Success(t *testing.T) {
	env := newAuthTestEnv(t, nil)
	env.users.addUser("alice", "password123", false)

	w := env.post(t, "/v1/auth/login", gin.H{"username": "alice", "password": "password123"})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Login successful")
	assert.NotEmpty(t, w.Result().Cookies())

	// Session cookie works against the auth check endpoint
	cookies := w.Result().Cookies()
	check := env.get("/v1/auth/check", cookies...)
	assert.Equal(t, http.StatusNoContent, check.Code)
}

func TestLogin_WrongPassword(t *testing.T) {
	env := newAuthTestEnv(t, nil)
	env.users.addUser("alice", "password123", false)

	w := env.post(t, "/v1/auth/login", gin.H{"username": "alice", "password": "wrong"})

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_CREDENTIALS")
}

func TestLogin_MissingFields(t *testing.T) {
	env := newAuthTestEnv(t, nil)

	w := env.post(t, "/v1/auth/login", gin.H{"username": "alice"})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLogout_ClearsSession(t *testing.T) {
	env := newAuthTestEnv(t, nil)
	env.users.addUser("alice", "password123", false)

	login := env.post(t, "/v1/auth/login", gin.H{"username": "alice", "password": "password123"})
	require.Equal(t, http.StatusOK, login.Code)
	cookies := login.Result().Cookies()

	logout := env.post(t, "/v1/auth/logout", gin.H{}, cookies...)
	require.Equal(t, http.StatusOK, logout.Code)

	// The rewritten cookie no longer authenticates
	check := env.get("/v1/auth/check", logout.Result().Cookies()...)
	assert.Equal(t, http.StatusUnauthorized, check.Code)
}

func TestStatus_Unauthenticated(t *testing.T) {
	env := newAuthTestEnv(t, nil)

	w := env.get("/v1/auth/status")

	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, false, resp["authenticated"])
	assert.Nil(t, resp["user"])
}

func TestStatus_Authenticated(t *testing.T) {
	env := newAuthTestEnv(t, nil)
	env.users.addUser("alice", "password123", false)

	login := env.post(t, "/v1/auth/login", gin.H{"username": "alice", "password": "password123"})
	require.Equal(t, http.StatusOK, login.Code)

	w := env.get("/v1/auth/status", login.Result().Cookies()...)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Authenticated bool `json:"authenticated"`
		User          struct {
			Username string `json:"username"`
		} `json:"user"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Authenticated)
	assert.Equal(t, "alice", resp.User.Username)

	// Password hash never appears in responses
	assert.NotContains(t, w.Body.String(), "password_hash")
}

func TestStatus_StaleSessionCleared(t *testing.T) {
	env := newAuthTestEnv(t, nil)
	user := env.users.addUser("alice", "password123", false)

	login := env.post(t, "/v1/auth/login", gin.H{"username": "alice", "password": "password123"})
	require.Equal(t, http.StatusOK, login.Code)

	// User removed behind the session's back
	require.NoError(t, env.users.DeleteUser(nil, user.ID))

	w := env.get("/v1/auth/status", login.Result().Cookies()...)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, false, resp["authenticated"])
}

func TestSignup_Success(t *testing.T) {
	env := newAuthTestEnv(t, nil)

	w := env.post(t, "/v1/auth/signup", gin.H{
		"username": "newuser",
		"password": "password123",
		"email":    "New@Example.com",
	})

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), "Account created successfully")

	user, err := env.users.GetUserByUsername(nil, "newuser")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "new@example.com", user.Email.String)
	assert.False(t, user.IsAdmin)
}

func TestSignup_UsernameTaken(t *testing.T) {
	env := newAuthTestEnv(t, nil)
	env.users.addUser("taken", "password123", false)

	w := env.post(t, "/v1/auth/signup", gin.H{"username": "taken", "password": "password123"})

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestSignup_InvalidInput(t *testing.T) {
	env := newAuthTestEnv(t, nil)

	cases := []struct {
		name string
		body gin.H
	}{
		{"short username", gin.H{"username": "ab", "password": "password123"}},
		{"bad characters", gin.H{"username": "bad user!", "password": "password123"}},
		{"short password", gin.H{"username": "validname", "password": "short"}},
		{"bad email", gin.H{"username": "validname", "password": "password123", "email": "not-an-email"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := env.post(t, "/v1/auth/signup", tc.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestSignup_Disabled(t *testing.T) {
	cfg := &config.Config{
		System: &config.SystemConfig{
			Auth: config.AuthConfig{SignupsDisabled: true},
		},
	}
	env := newAuthTestEnv(t, cfg)

	w := env.post(t, "/v1/auth/signup", gin.H{"username": "newuser", "password": "password123"})

	assert.Equal(t, http.StatusForbidden, w.Code)

	status := env.get("/v1/auth/signup/status")
	require.Equal(t, http.StatusOK, status.Code)
	assert.Contains(t, status.Body.String(), `"signups_disabled":true`)
}
