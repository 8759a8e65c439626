package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"

	"mcqapp/internal/observability"
	"mcqapp/internal/services"
	contextutils "mcqapp/internal/utils"
)

// UserAdminHandler handles user management operations
type UserAdminHandler struct {
	userService services.UserServiceInterface
	logger      *observability.Logger
}

// NewUserAdminHandler creates a new UserAdminHandler instance
func NewUserAdminHandler(userService services.UserServiceInterface, logger *observability.Logger) *UserAdminHandler {
	return &UserAdminHandler{
		userService: userService,
		logger:      logger,
	}
}

// GetAllUsers handles GET /userz - list all users (admin only)
func (h *UserAdminHandler) GetAllUsers(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "admin_get_all_users")
	defer observability.FinishSpan(span, nil)

	users, err := h.userService.GetAllUsers(ctx)
	if err != nil {
		h.logger.Error(ctx, "Error retrieving users", err, nil)
		HandleAppError(c, contextutils.WrapError(err, "failed to retrieve users"))
		return
	}

	span.SetAttributes(attribute.Int("admin.user_count", len(users)))

	c.JSON(http.StatusOK, gin.H{"users": users})
}

// DeleteUser handles DELETE /userz/:id - delete a user and their data
// (admin only). Admins cannot delete their own account.
func (h *UserAdminHandler) DeleteUser(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "admin_delete_user")
	defer observability.FinishSpan(span, nil)

	targetID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		HandleAppError(c, contextutils.NewAppErrorWithCause(
			contextutils.ErrorCodeInvalidInput,
			contextutils.SeverityWarn,
			"Invalid user ID",
			"",
			err,
		))
		return
	}

	currentUserID, ok := GetUserIDFromSession(c)
	if !ok {
		HandleAppError(c, contextutils.ErrUnauthorized)
		return
	}
	if targetID == currentUserID {
		HandleAppError(c, contextutils.NewAppError(
			contextutils.ErrorCodeForbidden,
			contextutils.SeverityWarn,
			"Cannot delete your own account",
			"",
		))
		return
	}

	span.SetAttributes(observability.AttributeUserID(targetID))

	user, err := h.userService.GetUserByID(ctx, targetID)
	if err != nil {
		HandleAppError(c, contextutils.WrapError(err, "failed to look up user"))
		return
	}
	if user == nil {
		HandleAppError(c, contextutils.ErrRecordNotFound)
		return
	}

	if err := h.userService.DeleteUser(ctx, targetID); err != nil {
		h.logger.Error(ctx, "Error deleting user", err, map[string]interface{}{"user_id": targetID})
		HandleAppError(c, contextutils.WrapError(err, "failed to delete user"))
		return
	}

	h.logger.Info(ctx, "Deleted user", map[string]interface{}{
		"user_id":  targetID,
		"username": user.Username,
		"admin_id": currentUserID,
	})

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "User deleted successfully",
	})
}
