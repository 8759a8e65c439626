//go:build integration

package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcqapp/internal/config"
	"mcqapp/internal/models"
	"mcqapp/internal/observability"
)

func newUserServiceForTest(t *testing.T) (*UserService, func()) {
	db := SharedTestDBSetup(t)
	logger := observability.NewLogger(&config.OpenTelemetryConfig{EnableLogging: false})
	service := NewUserService(db, logger)
	return service, func() { _ = db.Close() }
}

func TestUserService_CreateUserWithPassword_Integration(t *testing.T) {
	service, cleanup := newUserServiceForTest(t)
	defer cleanup()

	username := fmt.Sprintf("testuser_%d", time.Now().UnixNano())
	user, err := service.CreateUserWithPassword(context.Background(), username, "alice@example.com", "password123")
	require.NoError(t, err)
	require.NotNil(t, user)

	assert.Greater(t, user.ID, 0)
	assert.Equal(t, username, user.Username)
	assert.True(t, user.Email.Valid)
	assert.Equal(t, "alice@example.com", user.Email.String)
	assert.True(t, user.PasswordHash.Valid)
	assert.NotEqual(t, "password123", user.PasswordHash.String)
	assert.False(t, user.IsAdmin)
	assert.False(t, user.CreatedAt.IsZero())
}

func TestUserService_CreateUserWithPassword_DuplicateUsername_Integration(t *testing.T) {
	service, cleanup := newUserServiceForTest(t)
	defer cleanup()

	username := fmt.Sprintf("testuser_%d", time.Now().UnixNano())
	_, err := service.CreateUserWithPassword(context.Background(), username, "", "password123")
	require.NoError(t, err)

	_, err = service.CreateUserWithPassword(context.Background(), username, "", "otherpassword")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already taken")
}

func TestUserService_AuthenticateUser_Integration(t *testing.T) {
	service, cleanup := newUserServiceForTest(t)
	defer cleanup()

	username := fmt.Sprintf("testuser_%d", time.Now().UnixNano())
	created, err := service.CreateUserWithPassword(context.Background(), username, "", "password123")
	require.NoError(t, err)

	t.Run("correct password", func(t *testing.T) {
		user, err := service.AuthenticateUser(context.Background(), username, "password123")
		require.NoError(t, err)
		assert.Equal(t, created.ID, user.ID)
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := service.AuthenticateUser(context.Background(), username, "wrong")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid username or password")
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := service.AuthenticateUser(context.Background(), "no-such-user", "password123")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid username or password")
	})
}

func TestUserService_GetUserByID_Integration(t *testing.T) {
	service, cleanup := newUserServiceForTest(t)
	defer cleanup()

	username := fmt.Sprintf("testuser_%d", time.Now().UnixNano())
	created, err := service.CreateUserWithPassword(context.Background(), username, "", "password123")
	require.NoError(t, err)

	user, err := service.GetUserByID(context.Background(), created.ID)
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, username, user.Username)

	missing, err := service.GetUserByID(context.Background(), 999999)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestUserService_UpdateLastActive_Integration(t *testing.T) {
	service, cleanup := newUserServiceForTest(t)
	defer cleanup()

	username := fmt.Sprintf("testuser_%d", time.Now().UnixNano())
	created, err := service.CreateUserWithPassword(context.Background(), username, "", "password123")
	require.NoError(t, err)

	require.NoError(t, service.UpdateLastActive(context.Background(), created.ID))

	user, err := service.GetUserByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.True(t, user.LastActive.Valid)

	err = service.UpdateLastActive(context.Background(), 999999)
	require.Error(t, err)
}

func TestUserService_GetAllUsers_Integration(t *testing.T) {
	service, cleanup := newUserServiceForTest(t)
	defer cleanup()

	for i := 0; i < 3; i++ {
		username := fmt.Sprintf("testuser_%d_%d", time.Now().UnixNano(), i)
		_, err := service.CreateUserWithPassword(context.Background(), username, "", "password123")
		require.NoError(t, err)
	}

	users, err := service.GetAllUsers(context.Background())
	require.NoError(t, err)
	assert.Len(t, users, 3)
	for _, user := range users {
		assert.False(t, user.PasswordHash.Valid)
	}
}

func TestUserService_DeleteUser_Integration(t *testing.T) {
	service, cleanup := newUserServiceForTest(t)
	defer cleanup()

	logger := observability.NewLogger(&config.OpenTelemetryConfig{EnableLogging: false})
	quizService := NewQuizService(service.GetDB(), logger)

	username := fmt.Sprintf("testuser_%d", time.Now().UnixNano())
	created, err := service.CreateUserWithPassword(context.Background(), username, "", "password123")
	require.NoError(t, err)

	test, err := quizService.CreateTest(context.Background(), created.ID, "Algebra Basics", "Mathematics",
		[]string{"Algebra"}, "Easy", sampleQuestions(), false)
	require.NoError(t, err)

	require.NoError(t, quizService.SaveTestResult(context.Background(), created.ID, &models.TestResult{
		TestID:         test.ID,
		TestName:       test.Name,
		TotalQuestions: 1,
		CorrectAnswers: 1,
		Score:          100,
	}))

	require.NoError(t, service.DeleteUser(context.Background(), created.ID))

	user, err := service.GetUserByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Nil(t, user)

	tests, err := quizService.GetUserTests(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Empty(t, tests)

	err = service.DeleteUser(context.Background(), created.ID)
	require.Error(t, err)
}

func TestUserService_EnsureAdminUserExists_Integration(t *testing.T) {
	service, cleanup := newUserServiceForTest(t)
	defer cleanup()

	require.NoError(t, service.EnsureAdminUserExists(context.Background(), "admin", "adminpass"))

	admin, err := service.GetUserByUsername(context.Background(), "admin")
	require.NoError(t, err)
	require.NotNil(t, admin)
	assert.True(t, admin.IsAdmin)

	isAdmin, err := service.IsAdmin(context.Background(), admin.ID)
	require.NoError(t, err)
	assert.True(t, isAdmin)

	// Idempotent with the same password
	require.NoError(t, service.EnsureAdminUserExists(context.Background(), "admin", "adminpass"))

	// Rotates the password when it changed
	require.NoError(t, service.EnsureAdminUserExists(context.Background(), "admin", "newpass"))
	_, err = service.AuthenticateUser(context.Background(), "admin", "newpass")
	require.NoError(t, err)

	require.Error(t, service.EnsureAdminUserExists(context.Background(), "", "pass"))
	require.Error(t, service.EnsureAdminUserExists(context.Background(), "admin", ""))
}
