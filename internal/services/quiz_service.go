package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"

	"mcqapp/internal/models"
	"mcqapp/internal/observability"
	contextutils "mcqapp/internal/utils"
)

// QuizServiceInterface defines the contract for quiz storage operations
type QuizServiceInterface interface {
	CreateTest(ctx context.Context, userID int, name, subject string, topics []string, difficulty string, questions []models.Question, adaptive bool) (*models.Test, error)
	GetTest(ctx context.Context, testID string) (*models.Test, error)
	GetUserTests(ctx context.Context, userID int) ([]models.Test, error)
	SaveTestResult(ctx context.Context, userID int, result *models.TestResult) error
	GetAllTestResults(ctx context.Context, userID int) ([]models.TestResult, error)
	GetAllResults(ctx context.Context) ([]UserResult, error)
	CountUserResults(ctx context.Context, userID int) (int, error)
}

// UserResult pairs a persisted test result with its owner, used when
// replaying history into the analytics service at startup
type UserResult struct {
	UserID int
	Result models.TestResult
}

// QuizService persists generated tests and submitted results in Postgres
type QuizService struct {
	db     *sql.DB
	logger *observability.Logger
}

// Ensure QuizService implements QuizServiceInterface
var _ QuizServiceInterface = (*QuizService)(nil)

// NewQuizService creates a new quiz service instance
func NewQuizService(db *sql.DB, logger *observability.Logger) *QuizService {
	return &QuizService{db: db, logger: logger}
}

// CreateTest stores a newly generated test and returns it with its assigned ID
func (s *QuizService) CreateTest(ctx context.Context, userID int, name, subject string, topics []string, difficulty string, questions []models.Question, adaptive bool) (result0 *models.Test, err error) {
	ctx, span := observability.TraceQuizFunction(ctx, "create_test",
		observability.AttributeUserID(userID),
		observability.AttributeSubject(subject),
		observability.AttributeDifficulty(difficulty),
		observability.AttributeQuestionCount(len(questions)),
	)
	defer observability.FinishSpan(span, &err)

	if len(questions) == 0 {
		return nil, contextutils.WrapError(contextutils.ErrNoQuestionsAvailable, "cannot create a test without questions")
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
		CreatedAt:  time.Now(),
	}

	var questionsJSON []byte
	questionsJSON, err = json.Marshal(test.Questions)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to marshal test questions")
	}

	query := `
		INSERT INTO tests (id, user_id, name, subject, topics, difficulty, questions, adaptive, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err = s.db.ExecContext(ctx, query,
		test.ID, test.UserID, test.Name, test.Subject, pq.Array(test.Topics),
		test.Difficulty, questionsJSON, test.Adaptive, test.CreatedAt,
	)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to insert test")
	}

	s.logger.Info(ctx, "Created test", map[string]interface{}{
		"test_id": test.ID, "user_id": userID, "subject": subject, "question_count": len(questions),
	})
	return test, nil
}

// GetTest retrieves a single test by ID
func (s *QuizService) GetTest(ctx context.Context, testID string) (result0 *models.Test, err error) {
	ctx, span := observability.TraceQuizFunction(ctx, "get_test", observability.AttributeTestID(testID))
	defer observability.FinishSpan(span, &err)

	query := `
		SELECT id, user_id, name, subject, topics, difficulty, questions, adaptive, created_at
		FROM tests WHERE id = $1`
	row := s.db.QueryRowContext(ctx, query, testID)

	test, err := s.scanTest(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, contextutils.WrapError(err, "failed to get test")
	}
	return test, nil
}

// GetUserTests retrieves all tests belonging to a user, newest first
func (s *QuizService) GetUserTests(ctx context.Context, userID int) (result0 []models.Test, err error) {
	ctx, span := observability.TraceQuizFunction(ctx, "get_user_tests", observability.AttributeUserID(userID))
	defer observability.FinishSpan(span, &err)

	query := `
		SELECT id, user_id, name, subject, topics, difficulty, questions, adaptive, created_at
		FROM tests WHERE user_id = $1 ORDER BY created_at DESC`
	var rows *sql.Rows
	rows, err = s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to query user tests")
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Warn(ctx, "Warning: failed to close rows", map[string]interface{}{"error": closeErr.Error()})
		}
	}()

	var tests []models.Test
	for rows.Next() {
		test, err := s.scanTest(rows)
		if err != nil {
			return nil, contextutils.WrapError(err, "failed to scan test")
		}
		tests = append(tests, *test)
	}
	if err = rows.Err(); err != nil {
		return nil, contextutils.WrapError(err, "failed to iterate tests")
	}

	return tests, nil
}

// rowScanner abstracts sql.Row and sql.Rows for shared scanning
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *QuizService) scanTest(row rowScanner) (*models.Test, error) {
	var test models.Test
	var questionsJSON []byte
	err := row.Scan(
		&test.ID, &test.UserID, &test.Name, &test.Subject, pq.Array(&test.Topics),
		&test.Difficulty, &questionsJSON, &test.Adaptive, &test.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(questionsJSON, &test.Questions); err != nil {
		return nil, contextutils.WrapError(err, "failed to unmarshal test questions")
	}
	return &test, nil
}

// SaveTestResult stores a graded result. The submission timestamp is stamped
// here if the caller left it empty.
func (s *QuizService) SaveTestResult(ctx context.Context, userID int, result *models.TestResult) (err error) {
	ctx, span := observability.TraceQuizFunction(ctx, "save_test_result",
		observability.AttributeUserID(userID),
		observability.AttributeTestID(result.TestID),
		attribute.Float64("result.score", result.Score),
	)
	defer observability.FinishSpan(span, &err)

	if result.Timestamp == "" {
		result.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}

	var answersJSON []byte
	answersJSON, err = json.Marshal(result.Answers)
	if err != nil {
		return contextutils.WrapError(err, "failed to marshal answer records")
	}

	query := `
		INSERT INTO test_results (test_id, user_id, test_name, total_questions, correct_answers, score, answers, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err = s.db.ExecContext(ctx, query,
		result.TestID, userID, result.TestName, result.TotalQuestions,
		result.CorrectAnswers, result.Score, answersJSON, result.Timestamp,
	)
	if err != nil {
		return contextutils.WrapError(err, "failed to insert test result")
	}

	s.logger.Info(ctx, "Saved test result", map[string]interface{}{
		"test_id": result.TestID, "user_id": userID, "score": result.Score,
	})
	return nil
}

// GetAllTestResults retrieves a user's results in chronological order, which
// the performance aggregator relies on when replaying history at startup.
func (s *QuizService) GetAllTestResults(ctx context.Context, userID int) (result0 []models.TestResult, err error) {
	ctx, span := observability.TraceQuizFunction(ctx, "get_all_test_results", observability.AttributeUserID(userID))
	defer observability.FinishSpan(span, &err)

	query := `
		SELECT test_id, test_name, total_questions, correct_answers, score, answers, submitted_at
		FROM test_results WHERE user_id = $1 ORDER BY submitted_at ASC, id ASC`
	var rows *sql.Rows
	rows, err = s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to query test results")
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Warn(ctx, "Warning: failed to close rows", map[string]interface{}{"error": closeErr.Error()})
		}
	}()

	var results []models.TestResult
	for rows.Next() {
		var r models.TestResult
		var answersJSON []byte
		err = rows.Scan(&r.TestID, &r.TestName, &r.TotalQuestions, &r.CorrectAnswers, &r.Score, &answersJSON, &r.Timestamp)
		if err != nil {
			return nil, contextutils.WrapError(err, "failed to scan test result")
		}
		if len(answersJSON) > 0 {
			if err = json.Unmarshal(answersJSON, &r.Answers); err != nil {
				return nil, contextutils.WrapError(err, "failed to unmarshal answer records")
			}
		}
		results = append(results, r)
	}
	if err = rows.Err(); err != nil {
		return nil, contextutils.WrapError(err, "failed to iterate test results")
	}

	return results, nil
}

// GetAllResults retrieves every persisted result across all users in
// submission order
func (s *QuizService) GetAllResults(ctx context.Context) (result0 []UserResult, err error) {
	ctx, span := observability.TraceQuizFunction(ctx, "get_all_results")
	defer observability.FinishSpan(span, &err)

	query := `
		SELECT user_id, test_id, test_name, total_questions, correct_answers, score, answers, submitted_at
		FROM test_results ORDER BY submitted_at ASC, id ASC`
	var rows *sql.Rows
	rows, err = s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to query test results")
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Warn(ctx, "Warning: failed to close rows", map[string]interface{}{"error": closeErr.Error()})
		}
	}()

	var results []UserResult
	for rows.Next() {
		var ur UserResult
		var answersJSON []byte
		err = rows.Scan(&ur.UserID, &ur.Result.TestID, &ur.Result.TestName, &ur.Result.TotalQuestions,
			&ur.Result.CorrectAnswers, &ur.Result.Score, &answersJSON, &ur.Result.Timestamp)
		if err != nil {
			return nil, contextutils.WrapError(err, "failed to scan test result")
		}
		if len(answersJSON) > 0 {
			if err = json.Unmarshal(answersJSON, &ur.Result.Answers); err != nil {
				return nil, contextutils.WrapError(err, "failed to unmarshal answer records")
			}
		}
		results = append(results, ur)
	}
	if err = rows.Err(); err != nil {
		return nil, contextutils.WrapError(err, "failed to iterate test results")
	}

	return results, nil
}

// CountUserResults returns the number of results a user has submitted
func (s *QuizService) CountUserResults(ctx context.Context, userID int) (result0 int, err error) {
	ctx, span := observability.TraceQuizFunction(ctx, "count_user_results", observability.AttributeUserID(userID))
	defer observability.FinishSpan(span, &err)

	var count int
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM test_results WHERE user_id = $1`, userID).Scan(&count)
	if err != nil {
		return 0, contextutils.WrapError(err, "failed to count test results")
	}
	return count, nil
}
