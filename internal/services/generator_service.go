package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"mcqapp/internal/config"
	"mcqapp/internal/models"
	"mcqapp/internal/observability"
	contextutils "mcqapp/internal/utils"
)

// GeneratorServiceInterface defines the contract for AI question generation
type GeneratorServiceInterface interface {
	GenerateQuestions(ctx context.Context, username string, req *models.QuestionGenRequest) ([]models.Question, error)
	AdjustDifficulty(currentDifficulty string, performanceScore float64) string
	Shutdown(ctx context.Context) error
}

// questionSchema validates each generated question before it is accepted
const questionSchema = `{
	"type": "object",
	"properties": {
		"question": {"type": "string", "minLength": 1},
		"options": {
			"type": "array",
			"items": {"type": "string"},
			"minItems": 4,
			"maxItems": 4
		},
		"correct_answer": {"type": "string", "minLength": 1},
		"difficulty": {"type": "string"}
	},
	"required": ["question", "options", "correct_answer", "difficulty"]
}`

// difficultyLevels is the ordered ladder AdjustDifficulty moves along
var difficultyLevels = []string{"Easy", "Medium", "Hard"}

// chatRequest is a request to an OpenAI-compatible chat completions API
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []chatChoice  `json:"choices"`
	Error   *chatAPIError `json:"error,omitempty"`
}

type chatChoice struct {
	Message chatMessage `json:"message"`
}

type chatAPIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// GeneratorService produces multiple-choice questions via an
// OpenAI-compatible API, falling back to a small built-in question bank
// when the provider is unavailable or returns unusable output.
type GeneratorService struct {
	httpClient *http.Client
	cfg        *config.Config
	logger     *observability.Logger

	// Concurrency control
	globalSemaphore chan struct{}
	maxConcurrent   int
	maxPerUser      int

	userRequestCount map[string]int
	concurrencyMu    sync.Mutex

	rng   *rand.Rand
	rngMu sync.Mutex

	fallbackQuestions map[string]map[string]map[string][]models.Question

	shutdownCtx context.Context
	shutdownMu  sync.RWMutex
}

// Ensure GeneratorService implements GeneratorServiceInterface
var _ GeneratorServiceInterface = (*GeneratorService)(nil)

// NewGeneratorService creates a new generator service instance
func NewGeneratorService(cfg *config.Config, logger *observability.Logger) *GeneratorService {
	httpClient := &http.Client{
		Timeout: config.AIRequestTimeout - 5*time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport,
			otelhttp.WithSpanOptions(trace.WithSpanKind(trace.SpanKindClient)),
		),
	}

	maxConcurrent := cfg.Server.MaxAIConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	maxPerUser := cfg.Server.MaxAIPerUser
	if maxPerUser <= 0 {
		maxPerUser = 1
	}

	logger.Info(context.Background(), "Initializing generator service", map[string]interface{}{
		"provider":       cfg.AI.Provider,
		"model":          cfg.AI.Model,
		"api_key":        contextutils.MaskAPIKey(cfg.AI.APIKey),
		"max_concurrent": maxConcurrent,
		"max_per_user":   maxPerUser,
	})

	return &GeneratorService{
		httpClient:        httpClient,
		cfg:               cfg,
		logger:            logger,
		globalSemaphore:   make(chan struct{}, maxConcurrent),
		maxConcurrent:     maxConcurrent,
		maxPerUser:        maxPerUser,
		userRequestCount:  make(map[string]int),
		rng:               rand.New(rand.NewSource(time.Now().UnixNano())),
		fallbackQuestions: loadFallbackQuestions(),
		shutdownCtx:       context.Background(),
	}
}

// GenerateQuestions generates MCQs for the request. AI failures fall back to
// the built-in question bank; the only error conditions are concurrency
// limits and an empty fallback.
func (s *GeneratorService) GenerateQuestions(ctx context.Context, username string, req *models.QuestionGenRequest) (result0 []models.Question, err error) {
	ctx, span := observability.TraceGeneratorFunction(ctx, "generate_questions",
		observability.AttributeSubject(req.Subject),
		observability.AttributeDifficulty(req.Difficulty),
		observability.AttributeQuestionCount(req.NumQuestions),
		attribute.String("user.username", username),
	)
	defer observability.FinishSpan(span, &err)

	if s.isShutdown() {
		return nil, contextutils.WrapError(contextutils.ErrServiceUnavailable, "generator service is shutting down")
	}

	if err = s.acquireGlobalSlot(ctx); err != nil {
		return nil, err
	}
	defer s.releaseGlobalSlot(ctx)

	if err = s.acquireUserSlot(username); err != nil {
		return nil, err
	}
	defer s.releaseUserSlot(ctx, username)

	questions, aiErr := s.generateAIQuestions(ctx, req)
	if aiErr == nil && len(questions) > 0 {
		span.SetAttributes(attribute.String("generation.source", "ai"))
		return questions, nil
	}

	if aiErr != nil {
		s.logger.Warn(ctx, "AI generation failed, using fallback questions", map[string]interface{}{
			"error": aiErr.Error(), "subject": req.Subject, "difficulty": req.Difficulty,
		})
	} else {
		s.logger.Warn(ctx, "AI returned no usable questions, using fallback questions", map[string]interface{}{
			"subject": req.Subject, "difficulty": req.Difficulty,
		})
	}

	fallback := s.getFallbackQuestions(req.Subject, req.Topics, req.Difficulty, req.NumQuestions)
	if len(fallback) == 0 {
		return nil, contextutils.WrapErrorf(contextutils.ErrNoQuestionsAvailable,
			"no questions available for subject %q", req.Subject)
	}

	span.SetAttributes(attribute.String("generation.source", "fallback"))
	return fallback, nil
}

func (s *GeneratorService) generateAIQuestions(ctx context.Context, req *models.QuestionGenRequest) ([]models.Question, error) {
	prompt := s.buildPrompt(req)

	response, err := s.callChatCompletions(ctx, prompt)
	if err != nil {
		return nil, err
	}

	return s.parseQuestionsResponse(ctx, response, req.NumQuestions)
}

// buildPrompt assembles the generation prompt: specifications, optional
// custom-requirement emphasis, optional source content, and a JSON array
// example the model must follow.
func (s *GeneratorService) buildPrompt(req *models.QuestionGenRequest) string {
	topicsStr := strings.Join(req.Topics, ", ")

	var b strings.Builder
	fmt.Fprintf(&b, `Generate %d multiple-choice questions (MCQs) with the following specifications:

Subject: %s
Topics: %s
Difficulty Level: %s
`, req.NumQuestions, req.Subject, topicsStr, req.Difficulty)

	if req.CustomDescription != "" {
		fmt.Fprintf(&b, `
IMPORTANT CUSTOM REQUIREMENTS (MUST FOLLOW EXACTLY): %s

CRITICAL: The questions MUST strictly follow the custom requirements above. Do not deviate from the specified topic or requirements.
`, req.CustomDescription)
	}

	if len(strings.TrimSpace(req.Content)) > 50 {
		fmt.Fprintf(&b, "Base the questions on this educational content: %s\n", req.Content)
	}

	focusArea := topicsStr
	if req.CustomDescription != "" {
		focusArea = req.CustomDescription
	}

	fmt.Fprintf(&b, `
Requirements for each question:
1. Create exactly %d questions
2. Each question should have exactly 4 multiple choice options
3. Mark the correct answer clearly
4. Make sure the difficulty is %s
5. Questions should be educational and test understanding of: %s
6. STRICTLY FOLLOW the custom requirements if provided - do not include questions about other topics

Format your response as a valid JSON array like this example:
[
    {
        "question": "What is the time complexity of binary search?",
        "options": ["O(1)", "O(log n)", "O(n)", "O(n²)"],
        "correct_answer": "O(log n)",
        "difficulty": "%s"
    },
    {
        "question": "Which data structure follows LIFO principle?",
        "options": ["Queue", "Stack", "Array", "Tree"],
        "correct_answer": "Stack",
        "difficulty": "%s"
    }
]

Generate the questions now:`, req.NumQuestions, req.Difficulty, focusArea, req.Difficulty, req.Difficulty)

	return b.String()
}

func (s *GeneratorService) callChatCompletions(ctx context.Context, prompt string) (result0 string, err error) {
	_, span := observability.TraceGeneratorFunction(ctx, "call_chat_completions",
		attribute.String("ai.provider", s.cfg.AI.Provider),
		attribute.String("ai.model", s.cfg.AI.Model),
		attribute.Int("prompt.length", len(prompt)),
	)
	defer observability.FinishSpan(span, &err)

	provider, ok := s.cfg.GetProvider(s.cfg.AI.Provider)
	if !ok || provider.URL == "" {
		return "", contextutils.WrapErrorf(contextutils.ErrAIConfigInvalid,
			"no base URL configured for provider %q", s.cfg.AI.Provider)
	}
	if s.cfg.AI.Model == "" {
		return "", contextutils.WrapError(contextutils.ErrAIConfigInvalid, "model is required")
	}

	reqBody := chatRequest{
		Model:       s.cfg.AI.Model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: 0.3,
		MaxTokens:   s.maxTokensForModel(provider, s.cfg.AI.Model),
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", contextutils.WrapError(err, "failed to marshal request body")
	}

	apiURL := provider.URL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", contextutils.WrapError(err, "failed to create HTTP request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "mcqapp/1.0")
	if s.cfg.AI.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.AI.APIKey)
	}

	startTime := time.Now()
	resp, err := s.httpClient.Do(req)
	duration := time.Since(startTime)
	if err != nil {
		return "", contextutils.WrapErrorf(err, "HTTP request failed after %v", duration)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			s.logger.Warn(ctx, "Failed to close response body", map[string]interface{}{"error": closeErr.Error()})
		}
	}()

	s.logger.Debug(ctx, "AI HTTP request completed", map[string]interface{}{
		"url": apiURL, "status_code": resp.StatusCode, "duration": duration.String(),
	})

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", contextutils.WrapError(err, "failed to read response body")
	}

	if resp.StatusCode != http.StatusOK {
		return "", contextutils.WrapErrorf(contextutils.ErrAIRequestFailed,
			"API request failed with status %d to %s: %s", resp.StatusCode, apiURL, string(body))
	}

	var chatResp chatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return "", contextutils.WrapErrorf(contextutils.ErrAIResponseInvalid,
			"failed to parse AI response as JSON: %v", err)
	}
	if chatResp.Error != nil {
		return "", contextutils.WrapErrorf(contextutils.ErrAIRequestFailed,
			"API error: %s", chatResp.Error.Message)
	}
	if len(chatResp.Choices) == 0 {
		return "", contextutils.WrapError(contextutils.ErrAIResponseInvalid, "no choices in AI response")
	}

	content := chatResp.Choices[0].Message.Content
	if content == "" {
		return "", contextutils.WrapError(contextutils.ErrAIResponseInvalid, "AI returned empty content")
	}

	span.SetAttributes(attribute.Int("content_length", len(content)))
	return content, nil
}

func (s *GeneratorService) maxTokensForModel(provider *config.ProviderConfig, modelCode string) int {
	for _, m := range provider.Models {
		if m.Code == modelCode && m.MaxTokens > 0 {
			return m.MaxTokens
		}
	}
	return 3000
}

// parseQuestionsResponse extracts the first JSON array from the model output,
// validates each entry, and truncates to the requested count. Models often
// wrap the array in prose, so everything outside the outermost brackets is
// discarded.
func (s *GeneratorService) parseQuestionsResponse(ctx context.Context, response string, numQuestions int) (result0 []models.Question, err error) {
	_, span := observability.TraceGeneratorFunction(ctx, "parse_questions_response",
		attribute.Int("response.length", len(response)),
	)
	defer observability.FinishSpan(span, &err)

	start := strings.Index(response, "[")
	end := strings.LastIndex(response, "]")
	if start < 0 || end <= start {
		return nil, contextutils.WrapError(contextutils.ErrAIResponseInvalid,
			"could not find JSON array in AI response")
	}

	var raw []json.RawMessage
	if err = json.Unmarshal([]byte(response[start:end+1]), &raw); err != nil {
		return nil, contextutils.WrapErrorf(contextutils.ErrAIResponseInvalid,
			"failed to parse JSON array from AI response: %v", err)
	}

	schemaLoader := gojsonschema.NewStringLoader(questionSchema)

	var questions []models.Question
	for _, item := range raw {
		result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(item))
		if err != nil || !result.Valid() {
			s.logger.Debug(ctx, "Dropping question that failed schema validation", map[string]interface{}{
				"question": string(item),
			})
			continue
		}

		var q models.Question
		if err := json.Unmarshal(item, &q); err != nil {
			continue
		}
		questions = append(questions, q)
		if len(questions) == numQuestions {
			break
		}
	}

	span.SetAttributes(attribute.Int("questions.validated", len(questions)))
	return questions, nil
}

// loadFallbackQuestions builds the minimal subject→topic→difficulty bank
// used when AI generation fails
func loadFallbackQuestions() map[string]map[string]map[string][]models.Question {
	return map[string]map[string]map[string][]models.Question{
		"Mathematics": {
			"Algebra": {
				"Easy": {
					{
						Question:      "What is 2 + 2?",
						Options:       []string{"3", "4", "5", "6"},
						CorrectAnswer: "4",
						Difficulty:    "Easy",
					},
				},
			},
		},
		"Computer Science": {
			"Programming": {
				"Easy": {
					{
						Question:      "Which of the following is a programming language?",
						Options:       []string{"HTML", "Python", "CSS", "JSON"},
						CorrectAnswer: "Python",
						Difficulty:    "Easy",
					},
				},
			},
		},
		"Science": {
			"Physics": {
				"Easy": {
					{
						Question:      "What is the SI unit of force?",
						Options:       []string{"Newton", "Joule", "Watt", "Pascal"},
						CorrectAnswer: "Newton",
						Difficulty:    "Easy",
					},
				},
			},
		},
	}
}

// getFallbackQuestions collects bank questions for the requested
// subject/topics/difficulty, padding from other difficulties when short,
// then shuffles question order and per-question option order.
func (s *GeneratorService) getFallbackQuestions(subject string, topics []string, difficulty string, numQuestions int) []models.Question {
	var questions []models.Question

	if byTopic, ok := s.fallbackQuestions[subject]; ok {
		for _, topic := range topics {
			byDifficulty, ok := byTopic[topic]
			if !ok {
				continue
			}
			questions = append(questions, byDifficulty[difficulty]...)

			if len(questions) < numQuestions {
				for _, diff := range difficultyLevels {
					if diff != difficulty {
						questions = append(questions, byDifficulty[diff]...)
					}
				}
			}
		}
	}

	s.rngMu.Lock()
	defer s.rngMu.Unlock()

	s.rng.Shuffle(len(questions), func(i, j int) {
		questions[i], questions[j] = questions[j], questions[i]
	})

	if len(questions) > numQuestions {
		questions = questions[:numQuestions]
	}

	randomized := make([]models.Question, len(questions))
	for i, q := range questions {
		options := make([]string, len(q.Options))
		copy(options, q.Options)
		s.rng.Shuffle(len(options), func(a, b int) {
			options[a], options[b] = options[b], options[a]
		})
		q.Options = options
		randomized[i] = q
	}

	return randomized
}

// AdjustDifficulty steps the difficulty up when the performance score is at
// least 0.8 and down when it is at most 0.4, clamped to the ladder.
func (s *GeneratorService) AdjustDifficulty(currentDifficulty string, performanceScore float64) string {
	index := 1
	for i, level := range difficultyLevels {
		if level == currentDifficulty {
			index = i
			break
		}
	}

	switch {
	case performanceScore >= 0.8:
		if index < len(difficultyLevels)-1 {
			index++
		}
	case performanceScore <= 0.4:
		if index > 0 {
			index--
		}
	}

	return difficultyLevels[index]
}

// Shutdown waits for in-flight generation requests to finish
func (s *GeneratorService) Shutdown(ctx context.Context) error {
	s.shutdownMu.Lock()
	shutdownCtx, cancel := context.WithCancel(ctx)
	s.shutdownCtx = shutdownCtx
	s.shutdownMu.Unlock()
	defer cancel()

	ticker := time.NewTicker(config.AIShutdownPollInterval)
	defer ticker.Stop()

	deadline := time.Now().Add(config.AIShutdownTimeout)
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}

	for time.Now().Before(deadline) {
		if len(s.globalSemaphore) == 0 {
			break
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.httpClient.CloseIdleConnections()

	s.concurrencyMu.Lock()
	s.userRequestCount = make(map[string]int)
	s.concurrencyMu.Unlock()

	s.logger.Info(ctx, "Generator service shutdown completed")
	return nil
}

func (s *GeneratorService) isShutdown() bool {
	s.shutdownMu.RLock()
	defer s.shutdownMu.RUnlock()
	select {
	case <-s.shutdownCtx.Done():
		return true
	default:
		return false
	}
}

func (s *GeneratorService) acquireGlobalSlot(ctx context.Context) error {
	select {
	case s.globalSemaphore <- struct{}{}:
		return nil
	case <-ctx.Done():
		return contextutils.WrapErrorf(contextutils.ErrTimeout,
			"request cancelled while waiting for generation slot: %v", ctx.Err())
	default:
		return contextutils.WrapErrorf(contextutils.ErrServiceUnavailable,
			"generator at capacity (%d concurrent requests), please try again", s.maxConcurrent)
	}
}

func (s *GeneratorService) releaseGlobalSlot(ctx context.Context) {
	select {
	case <-s.globalSemaphore:
	default:
		s.logger.Warn(ctx, "Attempted to release generation slot but none were acquired", nil)
	}
}

func (s *GeneratorService) acquireUserSlot(username string) error {
	s.concurrencyMu.Lock()
	defer s.concurrencyMu.Unlock()

	if s.userRequestCount[username] >= s.maxPerUser {
		return contextutils.WrapErrorf(contextutils.ErrServiceUnavailable,
			"concurrent generation limit exceeded for %s: %d/%d", username, s.userRequestCount[username], s.maxPerUser)
	}
	s.userRequestCount[username]++
	return nil
}

func (s *GeneratorService) releaseUserSlot(ctx context.Context, username string) {
	s.concurrencyMu.Lock()
	defer s.concurrencyMu.Unlock()

	if s.userRequestCount[username] > 0 {
		s.userRequestCount[username]--
	} else {
		s.logger.Warn(ctx, "Attempted to release user generation slot but none were acquired", map[string]interface{}{
			"username": username,
		})
	}
}
