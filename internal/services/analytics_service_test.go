package services

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcqapp/internal/config"
	"mcqapp/internal/models"
	"mcqapp/internal/observability"
)

func newTestAnalyticsService() *AnalyticsService {
	logger := observability.NewLogger(&config.OpenTelemetryConfig{EnableLogging: false})
	return NewAnalyticsService(nil, logger)
}

func answeredResult(testName string, score float64, timestamp string, correct, wrong int) *models.TestResult {
	var answers []models.AnswerRecord
	for i := 0; i < correct; i++ {
		answers = append(answers, models.AnswerRecord{QuestionIndex: i, IsCorrect: true})
	}
	for i := 0; i < wrong; i++ {
		answers = append(answers, models.AnswerRecord{QuestionIndex: correct + i, IsCorrect: false})
	}
	return &models.TestResult{
		TestName:       testName,
		Score:          score,
		Timestamp:      timestamp,
		TotalQuestions: correct + wrong,
		CorrectAnswers: correct,
		Answers:        answers,
	}
}

func TestAnalyticsService_OverallPerformance_UnknownUser(t *testing.T) {
	service := newTestAnalyticsService()

	overall := service.OverallPerformance("nobody")
	assert.Equal(t, models.OverallPerformance{}, overall)
	assert.Equal(t, 0, overall.TestsTaken)
	assert.Equal(t, 0.0, overall.AverageScore)
	assert.Equal(t, 0.0, overall.HighScore)
	assert.Equal(t, 0.0, overall.LowScore)
	assert.Equal(t, 0.0, overall.ImprovementRate)
}

func TestAnalyticsService_OverallPerformance_TwoTests(t *testing.T) {
	service := newTestAnalyticsService()

	service.Ingest("alice", answeredResult("T1", 80, "2024-01-01", 1, 1))
	service.Ingest("alice", &models.TestResult{TestName: "T2", Score: 60, Timestamp: "2024-01-02"})

	overall := service.OverallPerformance("alice")
	assert.Equal(t, 2, overall.TestsTaken)
	assert.InDelta(t, 70.0, overall.AverageScore, 1e-9)
	assert.Equal(t, 80.0, overall.HighScore)
	assert.Equal(t, 60.0, overall.LowScore)
	assert.InDelta(t, -25.0, overall.ImprovementRate, 1e-9)
}

func TestAnalyticsService_ImprovementRate(t *testing.T) {
	t.Run("single test yields zero", func(t *testing.T) {
		service := newTestAnalyticsService()
		service.Ingest("bob", &models.TestResult{TestName: "T1", Score: 50, Timestamp: "2024-01-01"})
		assert.Equal(t, 0.0, service.OverallPerformance("bob").ImprovementRate)
	})

	t.Run("50 then 75 yields 50 percent", func(t *testing.T) {
		service := newTestAnalyticsService()
		service.Ingest("bob", &models.TestResult{TestName: "T1", Score: 50, Timestamp: "2024-01-01"})
		service.Ingest("bob", &models.TestResult{TestName: "T2", Score: 75, Timestamp: "2024-01-02"})
		assert.InDelta(t, 50.0, service.OverallPerformance("bob").ImprovementRate, 1e-9)
	})

	t.Run("zero first score guarded", func(t *testing.T) {
		service := newTestAnalyticsService()
		service.Ingest("bob", &models.TestResult{TestName: "T1", Score: 0, Timestamp: "2024-01-01"})
		service.Ingest("bob", &models.TestResult{TestName: "T2", Score: 90, Timestamp: "2024-01-02"})
		assert.Equal(t, 0.0, service.OverallPerformance("bob").ImprovementRate)
	})
}

func TestAnalyticsService_TopicPerformance_SingleIngest(t *testing.T) {
	service := newTestAnalyticsService()

	service.Ingest("alice", answeredResult("T1", 80, "2024-01-01", 1, 1))

	topics := service.TopicPerformance("alice")
	require.Len(t, topics, 1)
	assert.Equal(t, "General", topics[0].Topic)
	assert.InDelta(t, 50.0, topics[0].Score, 1e-9)
	assert.Equal(t, 2, topics[0].TotalQuestions)
}

func TestAnalyticsService_TopicPerformance_AccumulatesAcrossIngests(t *testing.T) {
	service := newTestAnalyticsService()

	service.Ingest("alice", answeredResult("T1", 50, "2024-01-01", 1, 1))
	service.Ingest("alice", answeredResult("T2", 100, "2024-01-02", 3, 0))

	topics := service.TopicPerformance("alice")
	require.Len(t, topics, 1)
	assert.Equal(t, 5, topics[0].TotalQuestions)
	assert.InDelta(t, 80.0, topics[0].Score, 1e-9)
}

func TestAnalyticsService_TopicPerformance_EmptyCases(t *testing.T) {
	service := newTestAnalyticsService()

	assert.Empty(t, service.TopicPerformance("nobody"))

	// Ingest without answers creates no topic buckets
	service.Ingest("alice", &models.TestResult{TestName: "T1", Score: 80, Timestamp: "2024-01-01"})
	assert.Empty(t, service.TopicPerformance("alice"))
}

func TestAnalyticsService_DifficultyPerformance(t *testing.T) {
	service := newTestAnalyticsService()

	assert.Empty(t, service.DifficultyPerformance("nobody"))

	service.Ingest("alice", answeredResult("T1", 75, "2024-01-01", 3, 1))

	difficulties := service.DifficultyPerformance("alice")
	require.Len(t, difficulties, 1)
	assert.Equal(t, "Medium", difficulties[0].Difficulty)
	assert.InDelta(t, 75.0, difficulties[0].Score, 1e-9)
	assert.Equal(t, 4, difficulties[0].TotalQuestions)
}

func TestAnalyticsService_ScoreBounds(t *testing.T) {
	service := newTestAnalyticsService()

	for i := 0; i < 20; i++ {
		correct := i % 4
		wrong := 3 - correct
		service.Ingest("alice", answeredResult(fmt.Sprintf("T%d", i), float64(i*5), fmt.Sprintf("2024-01-%02d", i+1), correct, wrong))
	}

	for _, topic := range service.TopicPerformance("alice") {
		assert.GreaterOrEqual(t, topic.Score, 0.0)
		assert.LessOrEqual(t, topic.Score, 100.0)
	}
	for _, difficulty := range service.DifficultyPerformance("alice") {
		assert.GreaterOrEqual(t, difficulty.Score, 0.0)
		assert.LessOrEqual(t, difficulty.Score, 100.0)
	}
}

func TestAnalyticsService_PerformanceTrend_BoundedAndSorted(t *testing.T) {
	service := newTestAnalyticsService()

	assert.Empty(t, service.PerformanceTrend("nobody"))

	for i := 1; i <= 15; i++ {
		service.Ingest("alice", &models.TestResult{
			TestName:  fmt.Sprintf("T%d", i),
			Score:     float64(i),
			Timestamp: fmt.Sprintf("2024-01-%02d", i),
		})

		trend := service.PerformanceTrend("alice")
		assert.LessOrEqual(t, len(trend), 10)
		assert.LessOrEqual(t, len(trend), i)
		for j := 1; j < len(trend); j++ {
			assert.GreaterOrEqual(t, trend[j-1].Date, trend[j].Date)
		}
	}

	// After 15 ingests the most recent 10 remain, newest first
	trend := service.PerformanceTrend("alice")
	require.Len(t, trend, 10)
	assert.Equal(t, "T15", trend[0].Test)
	assert.Equal(t, "2024-01-15", trend[0].Date)
	assert.Equal(t, "T6", trend[9].Test)
}

func TestAnalyticsService_Ingest_DefaultsTestName(t *testing.T) {
	service := newTestAnalyticsService()

	service.Ingest("alice", &models.TestResult{Score: 40, Timestamp: "2024-01-01"})

	trend := service.PerformanceTrend("alice")
	require.Len(t, trend, 1)
	assert.Equal(t, "Unknown Test", trend[0].Test)
}

func TestAnalyticsService_QueriesArePure(t *testing.T) {
	service := newTestAnalyticsService()
	service.Ingest("alice", answeredResult("T1", 80, "2024-01-01", 4, 1))
	service.Ingest("alice", answeredResult("T2", 60, "2024-01-02", 3, 2))

	assert.Equal(t, service.OverallPerformance("alice"), service.OverallPerformance("alice"))
	assert.Equal(t, service.TopicPerformance("alice"), service.TopicPerformance("alice"))
	assert.Equal(t, service.DifficultyPerformance("alice"), service.DifficultyPerformance("alice"))
	assert.Equal(t, service.PerformanceTrend("alice"), service.PerformanceTrend("alice"))
	assert.Equal(t, service.StrengthsAndWeaknesses("alice"), service.StrengthsAndWeaknesses("alice"))
	assert.Equal(t, service.Recommendations("alice"), service.Recommendations("alice"))
}

func TestAnalyticsService_StrengthsAndWeaknesses(t *testing.T) {
	t.Run("no data", func(t *testing.T) {
		service := newTestAnalyticsService()
		insights := service.StrengthsAndWeaknesses("nobody")
		assert.Empty(t, insights.Strengths)
		assert.Empty(t, insights.Weaknesses)
	})

	t.Run("requires five answered questions", func(t *testing.T) {
		service := newTestAnalyticsService()
		service.Ingest("alice", answeredResult("T1", 100, "2024-01-01", 4, 0))

		insights := service.StrengthsAndWeaknesses("alice")
		assert.Empty(t, insights.Strengths)
		assert.Empty(t, insights.Weaknesses)
	})

	t.Run("high scoring topic is a strength", func(t *testing.T) {
		service := newTestAnalyticsService()
		service.Ingest("alice", answeredResult("T1", 100, "2024-01-01", 5, 1))

		insights := service.StrengthsAndWeaknesses("alice")
		assert.Equal(t, []string{"General (83.3%)"}, insights.Strengths)
		assert.Empty(t, insights.Weaknesses)
	})

	t.Run("low scoring topic is a weakness", func(t *testing.T) {
		service := newTestAnalyticsService()
		service.Ingest("alice", answeredResult("T1", 20, "2024-01-01", 1, 4))

		insights := service.StrengthsAndWeaknesses("alice")
		assert.Empty(t, insights.Strengths)
		assert.Equal(t, []string{"General (20.0%)"}, insights.Weaknesses)
	})
}

func TestAnalyticsService_AlternatingScores_BoundedOutput(t *testing.T) {
	service := newTestAnalyticsService()

	// Six alternating high/low results all land in the single shared
	// bucket, so the top-3 and bottom-3 windows overlap entirely.
	for i := 0; i < 6; i++ {
		score := 90.0
		correct, wrong := 9, 1
		if i%2 == 1 {
			score = 30.0
			correct, wrong = 3, 7
		}
		service.Ingest("carol", answeredResult(fmt.Sprintf("T%d", i+1), score, fmt.Sprintf("2024-02-%02d", i+1), correct, wrong))
	}

	insights := service.StrengthsAndWeaknesses("carol")
	assert.LessOrEqual(t, len(insights.Strengths), 3)
	assert.LessOrEqual(t, len(insights.Weaknesses), 3)

	recommendations := service.Recommendations("carol")
	assert.NotEmpty(t, recommendations)
	assert.LessOrEqual(t, len(recommendations), 6)
}

func TestAnalyticsService_Recommendations(t *testing.T) {
	t.Run("unknown user gets the generic prompt", func(t *testing.T) {
		service := newTestAnalyticsService()
		assert.Equal(t,
			[]string{"Take some tests to get personalized recommendations."},
			service.Recommendations("nobody"))
	})

	t.Run("weak topic message includes score", func(t *testing.T) {
		service := newTestAnalyticsService()
		service.Ingest("alice", answeredResult("T1", 25, "2024-01-01", 1, 3))

		recommendations := service.Recommendations("alice")
		assert.Contains(t, recommendations,
			"Focus on improving your knowledge of General (current score: 25.0%).")
	})

	t.Run("few tests message", func(t *testing.T) {
		service := newTestAnalyticsService()
		service.Ingest("alice", &models.TestResult{TestName: "T1", Score: 90, Timestamp: "2024-01-01"})

		recommendations := service.Recommendations("alice")
		assert.Contains(t, recommendations,
			"Take more tests to get more accurate performance analytics.")
	})

	t.Run("declining and improving are mutually exclusive", func(t *testing.T) {
		declining := newTestAnalyticsService()
		declining.Ingest("alice", &models.TestResult{TestName: "T1", Score: 80, Timestamp: "2024-01-01"})
		declining.Ingest("alice", &models.TestResult{TestName: "T2", Score: 40, Timestamp: "2024-01-02"})

		recs := declining.Recommendations("alice")
		assert.Contains(t, recs, "Your performance is declining. Consider reviewing the fundamentals again.")
		assert.NotContains(t, recs, "Great improvement! Keep up the good work.")

		improving := newTestAnalyticsService()
		improving.Ingest("alice", &models.TestResult{TestName: "T1", Score: 50, Timestamp: "2024-01-01"})
		improving.Ingest("alice", &models.TestResult{TestName: "T2", Score: 90, Timestamp: "2024-01-02"})

		recs = improving.Recommendations("alice")
		assert.Contains(t, recs, "Great improvement! Keep up the good work.")
		assert.NotContains(t, recs, "Your performance is declining. Consider reviewing the fundamentals again.")
	})

	t.Run("fallback when no rule fires", func(t *testing.T) {
		service := newTestAnalyticsService()
		// Five strong tests: enough tests taken, no weak topics, flat improvement
		for i := 1; i <= 5; i++ {
			service.Ingest("alice", &models.TestResult{
				TestName:  fmt.Sprintf("T%d", i),
				Score:     90,
				Timestamp: fmt.Sprintf("2024-01-%02d", i),
			})
		}

		assert.Equal(t,
			[]string{"Continue practicing to improve your performance."},
			service.Recommendations("alice"))
	})
}

func TestAnalyticsService_UsersAreIsolated(t *testing.T) {
	service := newTestAnalyticsService()

	service.Ingest("alice", answeredResult("T1", 80, "2024-01-01", 4, 1))

	assert.Equal(t, 1, service.OverallPerformance("alice").TestsTaken)
	assert.Equal(t, 0, service.OverallPerformance("bob").TestsTaken)
	assert.Empty(t, service.TopicPerformance("bob"))
}
