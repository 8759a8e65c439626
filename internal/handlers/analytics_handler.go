package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"mcqapp/internal/observability"
	"mcqapp/internal/services"
	contextutils "mcqapp/internal/utils"
)

// AnalyticsHandler exposes per-user performance analytics
type AnalyticsHandler struct {
	analyticsService services.AnalyticsServiceInterface
	logger           *observability.Logger
}

// NewAnalyticsHandler creates a new AnalyticsHandler instance
func NewAnalyticsHandler(analyticsService services.AnalyticsServiceInterface, logger *observability.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{
		analyticsService: analyticsService,
		logger:           logger,
	}
}

// analyticsKey resolves the analytics bucket key for the current session
func (h *AnalyticsHandler) analyticsKey(c *gin.Context) (string, bool) {
	userID, ok := GetUserIDFromSession(c)
	if !ok {
		return "", false
	}
	return strconv.Itoa(userID), true
}

// Overall returns aggregate score statistics for the current user
func (h *AnalyticsHandler) Overall(c *gin.Context) {
	_, span := observability.TraceHandlerFunction(c.Request.Context(), "analytics_overall")
	defer observability.FinishSpan(span, nil)

	key, ok := h.analyticsKey(c)
	if !ok {
		HandleAppError(c, contextutils.ErrUnauthorized)
		return
	}

	c.JSON(http.StatusOK, h.analyticsService.OverallPerformance(key))
}

// Topics returns per-topic accuracy for the current user, best first
func (h *AnalyticsHandler) Topics(c *gin.Context) {
	_, span := observability.TraceHandlerFunction(c.Request.Context(), "analytics_topics")
	defer observability.FinishSpan(span, nil)

	key, ok := h.analyticsKey(c)
	if !ok {
		HandleAppError(c, contextutils.ErrUnauthorized)
		return
	}

	c.JSON(http.StatusOK, gin.H{"topics": h.analyticsService.TopicPerformance(key)})
}

// Difficulties returns per-difficulty accuracy for the current user
func (h *AnalyticsHandler) Difficulties(c *gin.Context) {
	_, span := observability.TraceHandlerFunction(c.Request.Context(), "analytics_difficulties")
	defer observability.FinishSpan(span, nil)

	key, ok := h.analyticsKey(c)
	if !ok {
		HandleAppError(c, contextutils.ErrUnauthorized)
		return
	}

	c.JSON(http.StatusOK, gin.H{"difficulties": h.analyticsService.DifficultyPerformance(key)})
}

// Trend returns the current user's recent score history, newest first
func (h *AnalyticsHandler) Trend(c *gin.Context) {
	_, span := observability.TraceHandlerFunction(c.Request.Context(), "analytics_trend")
	defer observability.FinishSpan(span, nil)

	key, ok := h.analyticsKey(c)
	if !ok {
		HandleAppError(c, contextutils.ErrUnauthorized)
		return
	}

	c.JSON(http.StatusOK, gin.H{"trend": h.analyticsService.PerformanceTrend(key)})
}

// Insights returns the current user's strongest and weakest topics
func (h *AnalyticsHandler) Insights(c *gin.Context) {
	_, span := observability.TraceHandlerFunction(c.Request.Context(), "analytics_insights")
	defer observability.FinishSpan(span, nil)

	key, ok := h.analyticsKey(c)
	if !ok {
		HandleAppError(c, contextutils.ErrUnauthorized)
		return
	}

	c.JSON(http.StatusOK, h.analyticsService.StrengthsAndWeaknesses(key))
}

// Recommendations returns study recommendations for the current user
func (h *AnalyticsHandler) Recommendations(c *gin.Context) {
	_, span := observability.TraceHandlerFunction(c.Request.Context(), "analytics_recommendations")
	defer observability.FinishSpan(span, nil)

	key, ok := h.analyticsKey(c)
	if !ok {
		HandleAppError(c, contextutils.ErrUnauthorized)
		return
	}

	c.JSON(http.StatusOK, gin.H{"recommendations": h.analyticsService.Recommendations(key)})
}
