package handlers

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"

	"mcqapp/internal/config"
	"mcqapp/internal/middleware"
	"mcqapp/internal/models"
	"mcqapp/internal/observability"
	"mcqapp/internal/services"
	contextutils "mcqapp/internal/utils"
)

// QuizHandler handles test generation, retrieval and result submission
type QuizHandler struct {
	quizService      services.QuizServiceInterface
	generatorService services.GeneratorServiceInterface
	analyticsService services.AnalyticsServiceInterface
	config           *config.Config
	logger           *observability.Logger
}

// NewQuizHandler creates a new QuizHandler instance
func NewQuizHandler(
	quizService services.QuizServiceInterface,
	generatorService services.GeneratorServiceInterface,
	analyticsService services.AnalyticsServiceInterface,
	cfg *config.Config,
	logger *observability.Logger,
) *QuizHandler {
	return &QuizHandler{
		quizService:      quizService,
		generatorService: generatorService,
		analyticsService: analyticsService,
		config:           cfg,
		logger:           logger,
	}
}

// GenerateTestRequest is the body of POST /v1/tests/generate
type GenerateTestRequest struct {
	Name              string   `json:"name"`
	Subject           string   `json:"subject" binding:"required"`
	Topics            []string `json:"topics"`
	Difficulty        string   `json:"difficulty"`
	NumQuestions      int      `json:"num_questions"`
	Adaptive          bool     `json:"adaptive"`
	Content           string   `json:"content"`
	CustomDescription string   `json:"custom_description"`
}

// SubmittedAnswer is one answer in a result submission
type SubmittedAnswer struct {
	QuestionIndex int    `json:"question_index"`
	UserAnswer    string `json:"user_answer"`
}

// SubmitResultRequest is the body of POST /v1/tests/:id/results
type SubmitResultRequest struct {
	Answers []SubmittedAnswer `json:"answers" binding:"required"`
}

// questionView is a question with the correct answer stripped, for
// sending to a client that has not submitted results yet
type questionView struct {
	Question   string   `json:"question"`
	Options    []string `json:"options"`
	Difficulty string   `json:"difficulty"`
}

func newTestView(test *models.Test) gin.H {
	questions := make([]questionView, 0, len(test.Questions))
	for _, q := range test.Questions {
		questions = append(questions, questionView{
			Question:   q.Question,
			Options:    q.Options,
			Difficulty: q.Difficulty,
		})
	}
	return gin.H{
		"id":         test.ID,
		"name":       test.Name,
		"subject":    test.Subject,
		"topics":     test.Topics,
		"difficulty": test.Difficulty,
		"questions":  questions,
		"adaptive":   test.Adaptive,
		"created_at": test.CreatedAt,
	}
}

// GenerateTest creates a new test for the current user. Questions come
// from the AI provider when available and the fallback bank otherwise.
func (h *QuizHandler) GenerateTest(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "generate_test")
	defer observability.FinishSpan(span, nil)

	userID, ok := GetUserIDFromSession(c)
	if !ok {
		HandleAppError(c, contextutils.ErrUnauthorized)
		return
	}
	username := c.GetString(middleware.UsernameKey)

	var req GenerateTestRequest
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

	difficulty := req.Difficulty
	if difficulty == "" {
		difficulty = "Medium"
	}
	if !h.isKnownDifficulty(difficulty) {
		HandleAppError(c, contextutils.NewAppError(
			contextutils.ErrorCodeInvalidInput,
			contextutils.SeverityWarn,
			"Unknown difficulty level",
			difficulty,
		))
		return
	}

	numQuestions := req.NumQuestions
	if numQuestions <= 0 {
		numQuestions = h.config.Quiz.DefaultQuestionCount
	}
	if limit := h.config.Quiz.MaxQuestionCount; limit > 0 && numQuestions > limit {
		numQuestions = limit
	}

	if req.Adaptive {
		overall := h.analyticsService.OverallPerformance(strconv.Itoa(userID))
		if overall.TestsTaken > 0 {
			adjusted := h.generatorService.AdjustDifficulty(difficulty, overall.AverageScore/100)
			if adjusted != difficulty {
				h.logger.Info(ctx, "Adjusted difficulty from recent performance", map[string]interface{}{
					"user_id":    userID,
					"requested":  difficulty,
					"adjusted":   adjusted,
					"avg_score":  overall.AverageScore,
					"tests_seen": overall.TestsTaken,
				})
				difficulty = adjusted
			}
		}
	}

	span.SetAttributes(
		observability.AttributeUserID(userID),
		observability.AttributeSubject(req.Subject),
		observability.AttributeDifficulty(difficulty),
		observability.AttributeQuestionCount(numQuestions),
		attribute.Bool("quiz.adaptive", req.Adaptive),
	)

	genReq := &models.QuestionGenRequest{
		Subject:           req.Subject,
		Topics:            req.Topics,
		Difficulty:        difficulty,
		NumQuestions:      numQuestions,
		Content:           req.Content,
		CustomDescription: req.CustomDescription,
	}

	questions, err := h.generatorService.GenerateQuestions(ctx, username, genReq)
	if err != nil {
		h.logger.Error(ctx, "Question generation failed", err, map[string]interface{}{
			"user_id": userID,
			"subject": req.Subject,
		})
		HandleAppError(c, err)
		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = req.Subject + " Test"
	}

	test, err := h.quizService.CreateTest(ctx, userID, name, req.Subject, req.Topics, difficulty, questions, req.Adaptive)
	if err != nil {
		HandleAppError(c, contextutils.WrapError(err, "failed to save generated test"))
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"test":    newTestView(test),
	})
}

// ListTests returns all tests belonging to the current user
func (h *QuizHandler) ListTests(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "list_tests")
	defer observability.FinishSpan(span, nil)

	userID, ok := GetUserIDFromSession(c)
	if !ok {
		HandleAppError(c, contextutils.ErrUnauthorized)
		return
	}

	tests, err := h.quizService.GetUserTests(ctx, userID)
	if err != nil {
		HandleAppError(c, contextutils.WrapError(err, "failed to load tests"))
		return
	}

	span.SetAttributes(
		observability.AttributeUserID(userID),
		attribute.Int("quiz.test_count", len(tests)),
	)

	views := make([]gin.H, 0, len(tests))
	for i := range tests {
		views = append(views, newTestView(&tests[i]))
	}

	c.JSON(http.StatusOK, gin.H{"tests": views})
}

// GetTest returns a single test owned by the current user. Tests owned
// by other users are reported as not found rather than forbidden.
func (h *QuizHandler) GetTest(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "get_test")
	defer observability.FinishSpan(span, nil)

	userID, ok := GetUserIDFromSession(c)
	if !ok {
		HandleAppError(c, contextutils.ErrUnauthorized)
		return
	}

	test, err := h.loadOwnedTest(ctx, c, userID)
	if err != nil {
		HandleAppError(c, err)
		return
	}

	span.SetAttributes(
		observability.AttributeUserID(userID),
		observability.AttributeTestID(test.ID),
	)

	c.JSON(http.StatusOK, gin.H{"test": newTestView(test)})
}

// SubmitResults grades a result submission against the stored test,
// persists it and feeds it into the analytics service.
func (h *QuizHandler) SubmitResults(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "submit_results")
	defer observability.FinishSpan(span, nil)

	userID, ok := GetUserIDFromSession(c)
	if !ok {
		HandleAppError(c, contextutils.ErrUnauthorized)
		return
	}

	test, err := h.loadOwnedTest(ctx, c, userID)
	if err != nil {
		HandleAppError(c, err)
		return
	}

	var req SubmitResultRequest
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

	result, err := h.gradeSubmission(test, req.Answers)
	if err != nil {
		HandleAppError(c, err)
		return
	}

	span.SetAttributes(
		observability.AttributeUserID(userID),
		observability.AttributeTestID(test.ID),
		attribute.Float64("quiz.score", result.Score),
	)

	if err := h.quizService.SaveTestResult(ctx, userID, result); err != nil {
		HandleAppError(c, contextutils.WrapError(err, "failed to save test result"))
		return
	}

	h.analyticsService.Ingest(strconv.Itoa(userID), result)

	accuracy := 0.0
	if result.TotalQuestions > 0 {
		accuracy = float64(result.CorrectAnswers) / float64(result.TotalQuestions)
	}

	c.JSON(http.StatusOK, gin.H{
		"success":           true,
		"result":            result,
		"performance_label": models.PerformanceLabel(accuracy),
	})
}

// ListResults returns all of the current user's results, oldest first
func (h *QuizHandler) ListResults(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "list_results")
	defer observability.FinishSpan(span, nil)

	userID, ok := GetUserIDFromSession(c)
	if !ok {
		HandleAppError(c, contextutils.ErrUnauthorized)
		return
	}

	results, err := h.quizService.GetAllTestResults(ctx, userID)
	if err != nil {
		HandleAppError(c, contextutils.WrapError(err, "failed to load test results"))
		return
	}

	span.SetAttributes(
		observability.AttributeUserID(userID),
		attribute.Int("quiz.result_count", len(results)),
	)

	c.JSON(http.StatusOK, gin.H{"results": results})
}

// Catalog returns the configured subjects, their topics, and the
// available difficulty levels.
func (h *QuizHandler) Catalog(c *gin.Context) {
	_, span := observability.TraceHandlerFunction(c.Request.Context(), "catalog")
	defer observability.FinishSpan(span, nil)

	subjects := make([]gin.H, 0)
	for _, subject := range h.config.GetSubjects() {
		topics := h.config.GetTopicsForSubject(subject)
		sort.Strings(topics)
		subjects = append(subjects, gin.H{
			"name":   subject,
			"topics": topics,
		})
	}

	span.SetAttributes(attribute.Int("quiz.subject_count", len(subjects)))

	c.JSON(http.StatusOK, gin.H{
		"subjects":               subjects,
		"difficulties":           h.config.GetDifficulties(),
		"default_question_count": h.config.Quiz.DefaultQuestionCount,
		"max_question_count":     h.config.Quiz.MaxQuestionCount,
	})
}

// loadOwnedTest fetches the test named by the :id path param and checks
// that the current user owns it.
func (h *QuizHandler) loadOwnedTest(ctx context.Context, c *gin.Context, userID int) (*models.Test, error) {
	testID := c.Param("id")
	if testID == "" {
		return nil, contextutils.ErrMissingRequired
	}

	test, err := h.quizService.GetTest(ctx, testID)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to load test")
	}
	if test == nil || test.UserID != userID {
		return nil, contextutils.ErrTestNotFound
	}
	return test, nil
}

// gradeSubmission grades submitted answers against the stored questions.
// Each question may be answered at most once; unanswered questions count
// as incorrect and are omitted from the answer records.
func (h *QuizHandler) gradeSubmission(test *models.Test, answers []SubmittedAnswer) (*models.TestResult, error) {
	total := len(test.Questions)
	if total == 0 {
		return nil, contextutils.ErrQuestionNotFound
	}

	seen := make(map[int]bool, len(answers))
	records := make([]models.AnswerRecord, 0, len(answers))
	correct := 0

	for _, answer := range answers {
		if answer.QuestionIndex < 0 || answer.QuestionIndex >= total {
			return nil, contextutils.NewAppError(
				contextutils.ErrorCodeInvalidAnswerIndex,
				contextutils.SeverityWarn,
				"Answer index out of range",
				fmt.Sprintf("question_index %d is not in [0, %d)", answer.QuestionIndex, total),
			)
		}
		if seen[answer.QuestionIndex] {
			return nil, contextutils.NewAppError(
				contextutils.ErrorCodeInvalidInput,
				contextutils.SeverityWarn,
				"Duplicate answer",
				fmt.Sprintf("question %d was answered more than once", answer.QuestionIndex),
			)
		}
		seen[answer.QuestionIndex] = true

		question := test.Questions[answer.QuestionIndex]
		isCorrect := answer.UserAnswer == question.CorrectAnswer
		if isCorrect {
			correct++
		}

		topic := test.Subject
		if len(test.Topics) > 0 {
			topic = test.Topics[0]
		}

		records = append(records, models.AnswerRecord{
			QuestionIndex: answer.QuestionIndex,
			Question:      question.Question,
			UserAnswer:    answer.UserAnswer,
			CorrectAnswer: question.CorrectAnswer,
			IsCorrect:     isCorrect,
			Topic:         topic,
			Difficulty:    question.Difficulty,
		})
	}

	return &models.TestResult{
		TestID:         test.ID,
		TestName:       test.Name,
		TotalQuestions: total,
		CorrectAnswers: correct,
		Score:          100 * float64(correct) / float64(total),
		Answers:        records,
	}, nil
}

func (h *QuizHandler) isKnownDifficulty(difficulty string) bool {
	for _, d := range h.config.GetDifficulties() {
		if d == difficulty {
			return true
		}
	}
	return false
}
