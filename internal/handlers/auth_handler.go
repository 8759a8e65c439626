package handlers

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"

	"mcqapp/internal/config"
	"mcqapp/internal/middleware"
	"mcqapp/internal/observability"
	"mcqapp/internal/services"
	contextutils "mcqapp/internal/utils"
)

// AuthHandler handles authentication related HTTP requests
type AuthHandler struct {
	userService services.UserServiceInterface
	config      *config.Config
	logger      *observability.Logger
}

// NewAuthHandler creates a new AuthHandler instance
func NewAuthHandler(userService services.UserServiceInterface, cfg *config.Config, logger *observability.Logger) *AuthHandler {
	return &AuthHandler{
		userService: userService,
		config:      cfg,
		logger:      logger,
	}
}

// LoginRequest is the body of POST /v1/auth/login
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// SignupRequest is the body of POST /v1/auth/signup
type SignupRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	Email    string `json:"email"`
}

var usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// Login handles user login requests
func (h *AuthHandler) Login(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "login")
	defer observability.FinishSpan(span, nil)

	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		HandleAppError(c, contextutils.NewAppErrorWithCause(
			contextutils.ErrorCodeInvalidInput,
			contextutils.SeverityWarn,
			"Invalid request body",
			"",
			err,
		))
		return
	}

	span.SetAttributes(
		attribute.String("auth.username", req.Username),
		attribute.Bool("auth.password_provided", req.Password != ""),
	)

	user, err := h.userService.AuthenticateUser(ctx, req.Username, req.Password)
	if err != nil {
		h.logger.Warn(ctx, "Authentication failed for user", map[string]interface{}{"username": req.Username, "error": err.Error()})
		HandleAppError(c, contextutils.ErrInvalidCredentials)
		return
	}

	span.SetAttributes(
		attribute.Int("user.id", user.ID),
		attribute.String("user.username", user.Username),
	)

	if err := h.userService.UpdateLastActive(ctx, user.ID); err != nil {
		// Log but don't fail login
		h.logger.Warn(ctx, "Failed to update last active for user", map[string]interface{}{"user_id": user.ID, "error": err.Error()})
	}

	session := sessions.Default(c)
	session.Set(middleware.UserIDKey, user.ID)
	session.Set(middleware.UsernameKey, user.Username)

	if err := session.Save(); err != nil {
		h.logger.Error(ctx, "Failed to save session", err, map[string]interface{}{"error": err.Error()})
		HandleAppError(c, contextutils.WrapError(err, "failed to create session"))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Login successful",
		"user":    user,
	})
}

// Logout handles user logout requests
func (h *AuthHandler) Logout(c *gin.Context) {
	_, span := observability.TraceHandlerFunction(c.Request.Context(), "logout")
	defer observability.FinishSpan(span, nil)

	session := sessions.Default(c)
	if userID := session.Get(middleware.UserIDKey); userID != nil {
		span.SetAttributes(attribute.Int("user.id", userID.(int)))
	}

	session.Clear()

	if err := session.Save(); err != nil {
		HandleAppError(c, contextutils.WrapError(err, "failed to clear session"))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Logout successful",
	})
}

// Status returns the current authentication status
func (h *AuthHandler) Status(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "status")
	defer observability.FinishSpan(span, nil)

	session := sessions.Default(c)
	userID := session.Get(middleware.UserIDKey)

	if userID == nil {
		span.SetAttributes(attribute.Bool("auth.authenticated", false))
		c.JSON(http.StatusOK, gin.H{
			"authenticated": false,
			"user":          nil,
		})
		return
	}

	span.SetAttributes(
		attribute.Bool("auth.authenticated", true),
		attribute.Int("user.id", userID.(int)),
	)

	user, err := h.userService.GetUserByID(ctx, userID.(int))
	if err != nil {
		h.logger.Error(ctx, "Error getting user by ID", err, map[string]interface{}{"user_id": userID.(int)})
		HandleAppError(c, contextutils.ErrInternalError)
		return
	}

	if user == nil {
		// Stale session, clear it
		session.Clear()
		if err := session.Save(); err != nil {
			h.logger.Error(ctx, "Error saving session", err, map[string]interface{}{"error": err.Error()})
		}
		span.SetAttributes(attribute.Bool("auth.user_found", false))
		c.JSON(http.StatusOK, gin.H{
			"authenticated": false,
			"user":          nil,
		})
		return
	}

	span.SetAttributes(
		attribute.Bool("auth.user_found", true),
		attribute.String("user.username", user.Username),
	)

	if err := h.userService.UpdateLastActive(ctx, user.ID); err != nil {
		h.logger.Warn(ctx, "Error updating last active", map[string]interface{}{"user_id": user.ID, "error": err.Error()})
	}

	c.JSON(http.StatusOK, gin.H{
		"authenticated": true,
		"user":          user,
	})
}

// Check is a lightweight auth-check endpoint intended for reverse proxy auth_request.
// Unauthenticated requests are rejected by the RequireAuth middleware with 401.
func (h *AuthHandler) Check(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// Signup handles user registration requests
func (h *AuthHandler) Signup(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "signup")
	defer observability.FinishSpan(span, nil)

	if h.config != nil && h.config.IsSignupDisabled() {
		span.SetAttributes(attribute.Bool("auth.signups_disabled", true))
		HandleAppError(c, contextutils.ErrForbidden)
		return
	}

	var req SignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		HandleAppError(c, contextutils.NewAppErrorWithCause(
			contextutils.ErrorCodeInvalidInput,
			contextutils.SeverityWarn,
			"Invalid request body",
			"",
			err,
		))
		return
	}

	span.SetAttributes(
		attribute.String("signup.username", req.Username),
		attribute.Bool("signup.email_provided", req.Email != ""),
	)

	// Username: 3-50 characters, alphanumeric plus underscore
	if len(req.Username) < 3 || len(req.Username) > 50 || !usernameRegex.MatchString(req.Username) {
		HandleAppError(c, contextutils.ErrInvalidFormat)
		return
	}

	if len(req.Password) < 8 {
		HandleAppError(c, contextutils.ErrInvalidFormat)
		return
	}

	email := strings.ToLower(req.Email)
	if email != "" && !contextutils.IsValidEmail(email) {
		HandleAppError(c, contextutils.ErrInvalidFormat)
		return
	}

	existingUser, err := h.userService.GetUserByUsername(ctx, req.Username)
	if err != nil {
		h.logger.Error(ctx, "Error checking username uniqueness", err, map[string]interface{}{"username": req.Username})
		HandleAppError(c, contextutils.ErrInternalError)
		return
	}
	if existingUser != nil {
		span.SetAttributes(attribute.Bool("signup.username_exists", true))
		HandleAppError(c, contextutils.ErrRecordExists)
		return
	}

	user, err := h.userService.CreateUserWithPassword(ctx, req.Username, email, req.Password)
	if err != nil {
		h.logger.Error(ctx, "Error creating user", err, map[string]interface{}{"username": req.Username})
		HandleAppError(c, contextutils.WrapError(err, "failed to create user account"))
		return
	}

	span.SetAttributes(
		attribute.Int("user.id", user.ID),
		attribute.String("user.username", user.Username),
	)

	h.logger.Info(ctx, "Successfully created user", map[string]interface{}{"username": req.Username, "user_id": user.ID})

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"message": "Account created successfully. Please log in.",
	})
}

// SignupStatus returns whether signups are enabled or disabled
func (h *AuthHandler) SignupStatus(c *gin.Context) {
	_, span := observability.TraceHandlerFunction(c.Request.Context(), "signup_status")
	defer observability.FinishSpan(span, nil)

	signupsDisabled := false
	if h.config != nil {
		signupsDisabled = h.config.IsSignupDisabled()
	}

	span.SetAttributes(attribute.Bool("auth.signups_disabled", signupsDisabled))

	c.JSON(http.StatusOK, gin.H{
		"signups_disabled": signupsDisabled,
	})
}
