package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"mcqapp/internal/observability"
	contextutils "mcqapp/internal/utils"
)

// ErrorRecoveryConfig configures panic recovery and circuit breaking
type ErrorRecoveryConfig struct {
	// EnableCircuitBreaker enables the circuit breaker pattern
	EnableCircuitBreaker bool
	// CircuitBreakerThreshold specifies the failure threshold for opening the circuit
	CircuitBreakerThreshold int
	// CircuitBreakerTimeout specifies how long to wait before retrying after the circuit opens
	CircuitBreakerTimeout time.Duration
}

// DefaultErrorRecoveryConfig returns a default error recovery configuration
func DefaultErrorRecoveryConfig() *ErrorRecoveryConfig {
	return &ErrorRecoveryConfig{
		EnableCircuitBreaker:    false,
		CircuitBreakerThreshold: 5,
		CircuitBreakerTimeout:   30 * time.Second,
	}
}

// circuitBreakerState represents the state of a circuit breaker
type circuitBreakerState int

const (
	circuitClosed circuitBreakerState = iota
	circuitOpen
	circuitHalfOpen
)

// circuitBreaker tracks failures and manages circuit state
type circuitBreaker struct {
	mu          sync.Mutex
	state       circuitBreakerState
	failures    int
	lastFailure time.Time
	config      *ErrorRecoveryConfig
}

func newCircuitBreaker(config *ErrorRecoveryConfig) *circuitBreaker {
	return &circuitBreaker{
		state:  circuitClosed,
		config: config,
	}
}

// canExecute checks if the circuit breaker allows execution
func (cb *circuitBreaker) canExecute() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case circuitClosed:
		return true
	case circuitOpen:
		if time.Since(cb.lastFailure) > cb.config.CircuitBreakerTimeout {
			cb.state = circuitHalfOpen
			return true
		}
		return false
	case circuitHalfOpen:
		return true
	default:
		return false
	}
}

func (cb *circuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	cb.state = circuitClosed
}

func (cb *circuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailure = time.Now()

	if cb.failures >= cb.config.CircuitBreakerThreshold {
		cb.state = circuitOpen
	}
}

// ErrorRecoveryMiddleware recovers from handler panics with a standardized
// error response and optionally sheds load via a circuit breaker when the
// server keeps failing.
func ErrorRecoveryMiddleware(logger *observability.Logger, config *ErrorRecoveryConfig) gin.HandlerFunc {
	if config == nil {
		config = DefaultErrorRecoveryConfig()
	}

	var cb *circuitBreaker
	if config.EnableCircuitBreaker {
		cb = newCircuitBreaker(config)
	}

	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				stackTrace := string(debug.Stack())
				if logger != nil {
					logger.Error(c.Request.Context(), "Panic recovered", nil, map[string]interface{}{
						"panic":       fmt.Sprintf("%v", err),
						"stack_trace": stackTrace,
						"http.method": c.Request.Method,
						"http.path":   c.Request.URL.Path,
					})
				}

				if cb != nil {
					cb.recordFailure()
				}

				appErr := contextutils.NewAppError(
					contextutils.ErrorCodeInternalError,
					contextutils.SeverityFatal,
					"Internal server error",
					"A panic occurred while processing the request",
				)
				if gin.Mode() == gin.DebugMode {
					appErr.Details = fmt.Sprintf("%s\nStack trace: %s", appErr.Details, stackTrace)
				}

				writeErrorResponse(c, http.StatusInternalServerError, appErr)
				c.Abort()
			}
		}()

		if cb != nil && !cb.canExecute() {
			writeErrorResponse(c, http.StatusServiceUnavailable, contextutils.NewAppError(
				contextutils.ErrorCodeServiceUnavailable,
				contextutils.SeverityError,
				"Service temporarily unavailable due to high error rate",
				"",
			))
			c.Abort()
			return
		}

		c.Next()

		if cb != nil {
			if c.Writer.Status() >= 500 {
				cb.recordFailure()
			} else {
				cb.recordSuccess()
			}
		}
	}
}

// writeErrorResponse renders an AppError at a fixed status. The middleware
// only ever answers with 500 (panic) or 503 (circuit open); full
// code-to-status mapping lives with the handlers.
func writeErrorResponse(c *gin.Context, statusCode int, err *contextutils.AppError) {
	c.JSON(statusCode, err.ToJSON())
}
