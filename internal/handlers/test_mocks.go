package handlers

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"mcqapp/internal/models"
	"mcqapp/internal/services"
	contextutils "mcqapp/internal/utils"

	"github.com/google/uuid"
)

// In-memory service fakes shared by the handler unit tests. They
// implement the same interfaces the real services do, without a
// database or an AI provider behind them.

// mockUserService is an in-memory UserServiceInterface implementation
type mockUserService struct {
	users     map[int]*models.User
	passwords map[int]string
	nextID    int

	authErr   error
	deleteErr error
}

var _ services.UserServiceInterface = (*mockUserService)(nil)

func newMockUserService() *mockUserService {
	return &mockUserService{
		users:     make(map[int]*models.User),
		passwords: make(map[int]string),
		nextID:    1,
	}
}

func (m *mockUserService) addUser(username, password string, isAdmin bool) *models.User {
	user := &models.User{
		ID:        m.nextID,
		Username:  username,
		IsAdmin:   isAdmin,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	m.users[user.ID] = user
	m.passwords[user.ID] = password
	m.nextID++
	return user
}

func (m *mockUserService) CreateUserWithPassword(_ context.Context, username, email, password string) (*models.User, error) {
	for _, u := range m.users {
		if u.Username == username {
			return nil, contextutils.ErrRecordExists
		}
	}
	user := m.addUser(username, password, false)
	if email != "" {
		user.Email = sql.NullString{String: email, Valid: true}
	}
	return user, nil
}

func (m *mockUserService) AuthenticateUser(_ context.Context, username, password string) (*models.User, error) {
	if m.authErr != nil {
		return nil, m.authErr
	}
	for _, u := range m.users {
		if u.Username == username && m.passwords[u.ID] == password {
			return u, nil
		}
	}
	return nil, contextutils.ErrInvalidCredentials
}

func (m *mockUserService) GetUserByID(_ context.Context, userID int) (*models.User, error) {
	return m.users[userID], nil
}

func (m *mockUserService) GetUserByUsername(_ context.Context, username string) (*models.User, error) {
	for _, u := range m.users {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, nil
}

func (m *mockUserService) UpdateLastActive(_ context.Context, userID int) error {
	user, ok := m.users[userID]
	if !ok {
		return contextutils.ErrRecordNotFound
	}
	user.LastActive = sql.NullTime{Time: time.Now().UTC(), Valid: true}
	return nil
}

func (m *mockUserService) GetAllUsers(_ context.Context) ([]models.User, error) {
	users := make([]models.User, 0, len(m.users))
	for id := 1; id < m.nextID; id++ {
		if u, ok := m.users[id]; ok {
			users = append(users, *u)
		}
	}
	return users, nil
}

func (m *mockUserService) DeleteUser(_ context.Context, userID int) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}
	if _, ok := m.users[userID]; !ok {
		return contextutils.ErrRecordNotFound
	}
	delete(m.users, userID)
	delete(m.passwords, userID)
	return nil
}

func (m *mockUserService) EnsureAdminUserExists(_ context.Context, username, password string) error {
	for _, u := range m.users {
		if u.Username == username {
			u.IsAdmin = true
			return nil
		}
	}
	m.addUser(username, password, true)
	return nil
}

func (m *mockUserService) IsAdmin(_ context.Context, userID int) (bool, error) {
	user, ok := m.users[userID]
	if !ok {
		return false, nil
	}
	return user.IsAdmin, nil
}

func (m *mockUserService) GetDB() *sql.DB {
	return nil
}

// mockQuizService is an in-memory QuizServiceInterface implementation
type mockQuizService struct {
	tests   map[string]*models.Test
	results map[int][]models.TestResult

	createErr error
	saveErr   error
}

var _ services.QuizServiceInterface = (*mockQuizService)(nil)

func newMockQuizService() *mockQuizService {
	return &mockQuizService{
		tests:   make(map[string]*models.Test),
		results: make(map[int][]models.TestResult),
	}
}

func (m *mockQuizService) CreateTest(_ context.Context, userID int, name, subject string, topics []string, difficulty string, questions []models.Question, adaptive bool) (*models.Test, error) {
	if m.createErr != nil {
		return nil, m.createErr
	}
	if len(questions) == 0 {
		return nil, contextutils.ErrNoQuestionsAvailable
	}
	test := &models.Test{
		ID:         uuid.NewString(),
		UserID:     userID,
		Name:       name,
		Subject:    subject,
		Topics:     topics,
		Difficulty: difficulty,
		Questions:  questions,
		Adaptive:   adaptive,
		CreatedAt:  time.Now().UTC(),
	}
	m.tests[test.ID] = test
	return test, nil
}

func (m *mockQuizService) GetTest(_ context.Context, testID string) (*models.Test, error) {
	return m.tests[testID], nil
}

func (m *mockQuizService) GetUserTests(_ context.Context, userID int) ([]models.Test, error) {
	var tests []models.Test
	for _, t := range m.tests {
		if t.UserID == userID {
			tests = append(tests, *t)
		}
	}
	return tests, nil
}

func (m *mockQuizService) SaveTestResult(_ context.Context, userID int, result *models.TestResult) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	if result.Timestamp == "" {
		result.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	m.results[userID] = append(m.results[userID], *result)
	return nil
}

func (m *mockQuizService) GetAllTestResults(_ context.Context, userID int) ([]models.TestResult, error) {
	return m.results[userID], nil
}

func (m *mockQuizService) GetAllResults(_ context.Context) ([]services.UserResult, error) {
	var all []services.UserResult
	for userID, results := range m.results {
		for _, r := range results {
			all = append(all, services.UserResult{UserID: userID, Result: r})
		}
	}
	return all, nil
}

func (m *mockQuizService) CountUserResults(_ context.Context, userID int) (int, error) {
	return len(m.results[userID]), nil
}

// mockGeneratorService returns canned questions without calling a provider
type mockGeneratorService struct {
	questions []models.Question
	err       error

	lastUsername string
	lastRequest  *models.QuestionGenRequest
}

var _ services.GeneratorServiceInterface = (*mockGeneratorService)(nil)

func newMockGeneratorService(questions []models.Question) *mockGeneratorService {
	return &mockGeneratorService{questions: questions}
}

func (m *mockGeneratorService) GenerateQuestions(_ context.Context, username string, req *models.QuestionGenRequest) ([]models.Question, error) {
	m.lastUsername = username
	m.lastRequest = req
	if m.err != nil {
		return nil, m.err
	}
	questions := m.questions
	if req.NumQuestions > 0 && len(questions) > req.NumQuestions {
		questions = questions[:req.NumQuestions]
	}
	return questions, nil
}

func (m *mockGeneratorService) AdjustDifficulty(currentDifficulty string, performanceScore float64) string {
	levels := []string{"Easy", "Medium", "Hard"}
	idx := 1
	for i, l := range levels {
		if l == currentDifficulty {
			idx = i
		}
	}
	switch {
	case performanceScore >= 0.8 && idx < len(levels)-1:
		return levels[idx+1]
	case performanceScore <= 0.4 && idx > 0:
		return levels[idx-1]
	default:
		return currentDifficulty
	}
}

func (m *mockGeneratorService) Shutdown(_ context.Context) error {
	return nil
}

// sampleGeneratedQuestions builds a deterministic question set for tests
func sampleGeneratedQuestions(n int) []models.Question {
	questions := make([]models.Question, 0, n)
	for i := 0; i < n; i++ {
		questions = append(questions, models.Question{
			Question:      fmt.Sprintf("Question %d?", i+1),
			Options:       []string{"A", "B", "C", "D"},
			CorrectAnswer: "A",
			Difficulty:    "Medium",
		})
	}
	return questions
}
