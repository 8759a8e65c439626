// Package middleware provides authentication and authorization middleware for the Gin web framework.
package middleware

import (
	"context"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

// Session keys for storing user information
const (
	// UserIDKey is the key used to store user ID in session
	UserIDKey = "user_id"
	// UsernameKey is the key used to store username in session
	UsernameKey = "username"
)

// sessionIdentity is the validated user identity carried by a session
type sessionIdentity struct {
	UserID   int
	Username string
}

// identityFromSession validates the session contents and extracts the
// user identity. Returns false when either key is missing or malformed.
func identityFromSession(c *gin.Context) (sessionIdentity, bool) {
	session := sessions.Default(c)

	var id sessionIdentity

	// Cookie round-trips can turn the int into a float64
	switch v := session.Get(UserIDKey).(type) {
	case int:
		id.UserID = v
	case float64:
		id.UserID = int(v)
	default:
		return sessionIdentity{}, false
	}

	username, ok := session.Get(UsernameKey).(string)
	if !ok || username == "" {
		return sessionIdentity{}, false
	}
	id.Username = username

	return id, true
}

// abortUnauthenticated rejects the request with a 401 response
func abortUnauthenticated(c *gin.Context) {
	c.JSON(http.StatusUnauthorized, gin.H{
		"error": "Authentication required",
		"code":  "UNAUTHORIZED",
	})
	c.Abort()
}

// expose stores the identity in the gin context for handlers to use
func (id sessionIdentity) expose(c *gin.Context) {
	c.Set(UserIDKey, id.UserID)
	c.Set(UsernameKey, id.Username)
}

// RequireAuth returns a middleware that requires authentication
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := identityFromSession(c)
		if !ok {
			abortUnauthenticated(c)
			return
		}

		id.expose(c)
		c.Next()
	}
}

// RequireAdmin returns a middleware that requires authentication and admin role
func RequireAdmin(userService interface{}) gin.HandlerFunc {
	// Type assertion to get the user service
	us, ok := userService.(interface {
		IsAdmin(ctx context.Context, userID int) (bool, error)
	})
	if !ok {
		panic("userService must implement IsAdmin method")
	}

	return func(c *gin.Context) {
		id, ok := identityFromSession(c)
		if !ok {
			abortUnauthenticated(c)
			return
		}

		isAdmin, err := us.IsAdmin(c.Request.Context(), id.UserID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to check admin status",
				"code":  "INTERNAL_ERROR",
			})
			c.Abort()
			return
		}

		if !isAdmin {
			c.JSON(http.StatusForbidden, gin.H{
				"error": "Admin access required",
				"code":  "FORBIDDEN",
			})
			c.Abort()
			return
		}

		id.expose(c)
		c.Next()
	}
}
