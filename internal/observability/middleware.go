package observability

import (
	"errors"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	contextutils "mcqapp/internal/utils"
)

// GinMiddleware creates OpenTelemetry middleware for Gin HTTP requests
func GinMiddleware(serviceName string) gin.HandlerFunc {
	return otelgin.Middleware(serviceName)
}

// GinMiddlewareWithErrorHandling creates OpenTelemetry middleware that also
// annotates the request span with error details for failed requests
func GinMiddlewareWithErrorHandling(serviceName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		otelgin.Middleware(serviceName)(c)

		c.Next()

		span := trace.SpanFromContext(c.Request.Context())
		if span == nil {
			return
		}
		if statusCode := c.Writer.Status(); statusCode >= 400 {
			annotateFailedRequest(c, span, statusCode)
		}
	}
}

// annotateFailedRequest records error details on the request span
func annotateFailedRequest(c *gin.Context, span trace.Span, statusCode int) {
	errorMsg := "client error"
	if statusCode >= 500 {
		errorMsg = "server error"
	}

	// Prefer AppError details from Gin's error context when available
	severity := determineErrorSeverity(statusCode, c.Errors)
	appErr := firstAppError(c.Errors)
	switch {
	case appErr != nil:
		errorMsg = appErr.Message
		span.SetAttributes(
			attribute.String("error.code", string(appErr.Code)),
			attribute.Bool("error.retryable", contextutils.IsRetryable(appErr)),
		)
	case len(c.Errors) > 0:
		errorMsg = c.Errors.Last().Error()
	}

	span.RecordError(errors.New(errorMsg), trace.WithStackTrace(true))
	span.SetStatus(codes.Error, errorMsg)

	span.SetAttributes(
		attribute.Int("http.status_code", statusCode),
		attribute.String("http.method", c.Request.Method),
		attribute.String("http.path", c.Request.URL.Path),
		attribute.String("error.handler", c.HandlerName()),
		attribute.String("error.severity", severity),
	)

	// Add user context if available
	if userID, ok := sessions.Default(c).Get("user_id").(int); ok {
		span.SetAttributes(attribute.Int("error.user_id", userID))
	}

	if c.Request.ContentLength > 0 {
		span.SetAttributes(attribute.Int64("error.request_size", c.Request.ContentLength))
	}

	if statusCode >= 500 {
		span.SetAttributes(attribute.Bool("error.server_error", true))
	}
}

// firstAppError returns the first AppError from Gin's accumulated errors
func firstAppError(ginErrors []*gin.Error) *contextutils.AppError {
	for _, err := range ginErrors {
		var appErr *contextutils.AppError
		if errors.As(err.Err, &appErr) {
			return appErr
		}
	}
	return nil
}

// determineErrorSeverity determines the severity level based on status code and error types
func determineErrorSeverity(statusCode int, ginErrors []*gin.Error) string {
	if appErr := firstAppError(ginErrors); appErr != nil {
		return string(appErr.Severity)
	}

	switch {
	case statusCode >= 500:
		return string(contextutils.SeverityError)
	case statusCode >= 400:
		return string(contextutils.SeverityWarn)
	default:
		return string(contextutils.SeverityInfo)
	}
}
