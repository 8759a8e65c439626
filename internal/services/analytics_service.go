package services

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"mcqapp/internal/models"
	"mcqapp/internal/observability"
	contextutils "mcqapp/internal/utils"
)

// Answers are currently folded into fixed buckets rather than per-question
// metadata; per-question Topic/Difficulty fields exist on AnswerRecord for a
// future richer tagging scheme.
const (
	defaultTopicBucket      = "General"
	defaultDifficultyBucket = "Medium"
)

const recentPerformanceCapacity = 10

// AnalyticsServiceInterface defines the contract for performance analytics
type AnalyticsServiceInterface interface {
	Ingest(userID string, result *models.TestResult)
	OverallPerformance(userID string) models.OverallPerformance
	TopicPerformance(userID string) []models.TopicPerformance
	DifficultyPerformance(userID string) []models.DifficultyPerformance
	PerformanceTrend(userID string) []models.TrendPoint
	StrengthsAndWeaknesses(userID string) models.PerformanceInsights
	Recommendations(userID string) []string
	ReplayFromStore(ctx context.Context) error
}

// bucketSnapshot is one per-ingest correctness record for a topic or
// difficulty bucket. Snapshots are append-only and summed on read.
type bucketSnapshot struct {
	Correct int
	Total   int
	Score   float64
}

// recentEntry is one row of the capacity-bounded recent performance list
type recentEntry struct {
	TestName  string
	Score     float64
	Timestamp string
}

// userPerformanceState holds everything the aggregator knows about one user
type userPerformanceState struct {
	tests                 []models.TestResult
	topicPerformance      map[string][]bucketSnapshot
	difficultyPerformance map[string][]bucketSnapshot
	recentPerformance     []recentEntry
}

// resultReplaySource is the slice of the quiz store the analytics service
// needs to rebuild in-memory state at startup
type resultReplaySource interface {
	GetAllResults(ctx context.Context) ([]UserResult, error)
}

// AnalyticsService aggregates submitted test results into per-user
// performance state and derives reports and recommendations from it.
// All query methods are pure reads and return zero values for unknown users.
type AnalyticsService struct {
	mu     sync.RWMutex
	users  map[string]*userPerformanceState
	store  resultReplaySource
	logger *observability.Logger
}

// Ensure AnalyticsService implements AnalyticsServiceInterface
var _ AnalyticsServiceInterface = (*AnalyticsService)(nil)

// NewAnalyticsService creates an analytics service. The store may be nil in
// tests that exercise only the in-memory aggregation.
func NewAnalyticsService(store resultReplaySource, logger *observability.Logger) *AnalyticsService {
	return &AnalyticsService{
		users:  make(map[string]*userPerformanceState),
		store:  store,
		logger: logger,
	}
}

func (s *AnalyticsService) getOrCreateState(userID string) *userPerformanceState {
	state, ok := s.users[userID]
	if !ok {
		state = &userPerformanceState{
			topicPerformance:      make(map[string][]bucketSnapshot),
			difficultyPerformance: make(map[string][]bucketSnapshot),
		}
		s.users[userID] = state
	}
	return state
}

// Ingest records one completed test result into the user's performance state.
// Missing fields default rather than fail.
func (s *AnalyticsService) Ingest(userID string, result *models.TestResult) {
	if result == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.getOrCreateState(userID)
	state.tests = append(state.tests, *result)

	testName := result.TestName
	if testName == "" {
		testName = "Unknown Test"
	}
	state.recentPerformance = append(state.recentPerformance, recentEntry{
		TestName:  testName,
		Score:     result.Score,
		Timestamp: result.Timestamp,
	})
	sort.SliceStable(state.recentPerformance, func(i, j int) bool {
		return state.recentPerformance[i].Timestamp > state.recentPerformance[j].Timestamp
	})
	if len(state.recentPerformance) > recentPerformanceCapacity {
		state.recentPerformance = state.recentPerformance[:recentPerformanceCapacity]
	}

	if len(result.Answers) == 0 {
		return
	}

	topicCorrect := make(map[string]int)
	topicTotal := make(map[string]int)
	difficultyCorrect := make(map[string]int)
	difficultyTotal := make(map[string]int)

	for _, answer := range result.Answers {
		topic := defaultTopicBucket
		difficulty := defaultDifficultyBucket

		topicTotal[topic]++
		difficultyTotal[difficulty]++
		if answer.IsCorrect {
			topicCorrect[topic]++
			difficultyCorrect[difficulty]++
		}
	}

	for topic, total := range topicTotal {
		state.topicPerformance[topic] = append(state.topicPerformance[topic],
			newBucketSnapshot(topicCorrect[topic], total))
	}
	for difficulty, total := range difficultyTotal {
		state.difficultyPerformance[difficulty] = append(state.difficultyPerformance[difficulty],
			newBucketSnapshot(difficultyCorrect[difficulty], total))
	}
}

func newBucketSnapshot(correct, total int) bucketSnapshot {
	score := 0.0
	if total > 0 {
		score = float64(correct) / float64(total) * 100
	}
	return bucketSnapshot{Correct: correct, Total: total, Score: score}
}

// OverallPerformance returns count/mean/max/min of the user's test scores
// plus the improvement rate between the chronological first and last test.
func (s *AnalyticsService) OverallPerformance(userID string) models.OverallPerformance {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.users[userID]
	if !ok || len(state.tests) == 0 {
		return models.OverallPerformance{}
	}

	scores := make([]float64, len(state.tests))
	for i, test := range state.tests {
		scores[i] = test.Score
	}

	sum, high, low := scores[0], scores[0], scores[0]
	for _, score := range scores[1:] {
		sum += score
		if score > high {
			high = score
		}
		if score < low {
			low = score
		}
	}

	improvementRate := 0.0
	if len(scores) >= 2 {
		first, last := scores[0], scores[len(scores)-1]
		if first > 0 {
			improvementRate = (last - first) / first * 100
		}
	}

	return models.OverallPerformance{
		TestsTaken:      len(scores),
		AverageScore:    sum / float64(len(scores)),
		HighScore:       high,
		LowScore:        low,
		ImprovementRate: improvementRate,
	}
}

func aggregateBuckets(buckets map[string][]bucketSnapshot) map[string]bucketSnapshot {
	aggregated := make(map[string]bucketSnapshot, len(buckets))
	for name, snapshots := range buckets {
		var correct, total int
		for _, snap := range snapshots {
			correct += snap.Correct
			total += snap.Total
		}
		aggregated[name] = newBucketSnapshot(correct, total)
	}
	return aggregated
}

// TopicPerformance sums all snapshots per topic, sorted by score descending
func (s *AnalyticsService) TopicPerformance(userID string) []models.TopicPerformance {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.users[userID]
	if !ok || len(state.topicPerformance) == 0 {
		return []models.TopicPerformance{}
	}

	result := make([]models.TopicPerformance, 0, len(state.topicPerformance))
	for topic, agg := range aggregateBuckets(state.topicPerformance) {
		result = append(result, models.TopicPerformance{
			Topic:          topic,
			Score:          agg.Score,
			TotalQuestions: agg.Total,
		})
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].Score > result[j].Score })
	return result
}

// DifficultyPerformance sums all snapshots per difficulty, sorted by name
func (s *AnalyticsService) DifficultyPerformance(userID string) []models.DifficultyPerformance {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.users[userID]
	if !ok || len(state.difficultyPerformance) == 0 {
		return []models.DifficultyPerformance{}
	}

	result := make([]models.DifficultyPerformance, 0, len(state.difficultyPerformance))
	for difficulty, agg := range aggregateBuckets(state.difficultyPerformance) {
		result = append(result, models.DifficultyPerformance{
			Difficulty:     difficulty,
			Score:          agg.Score,
			TotalQuestions: agg.Total,
		})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Difficulty < result[j].Difficulty })
	return result
}

// PerformanceTrend returns the recent performance list, newest first
func (s *AnalyticsService) PerformanceTrend(userID string) []models.TrendPoint {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.users[userID]
	if !ok {
		return []models.TrendPoint{}
	}

	trend := make([]models.TrendPoint, len(state.recentPerformance))
	for i, entry := range state.recentPerformance {
		trend[i] = models.TrendPoint{
			Test:  entry.TestName,
			Score: entry.Score,
			Date:  entry.Timestamp,
		}
	}
	return trend
}

// StrengthsAndWeaknesses derives formatted strength/weakness strings from
// topic performance. Only topics with at least 5 answered questions count.
// Top 3 and bottom 3 come from the same sorted list, so with fewer than 6
// valid topics a topic can land in both lists or in neither.
func (s *AnalyticsService) StrengthsAndWeaknesses(userID string) models.PerformanceInsights {
	topics := s.TopicPerformance(userID)

	insights := models.PerformanceInsights{Strengths: []string{}, Weaknesses: []string{}}
	if len(topics) == 0 {
		return insights
	}

	var validTopics []models.TopicPerformance
	for _, t := range topics {
		if t.TotalQuestions >= 5 {
			validTopics = append(validTopics, t)
		}
	}
	if len(validTopics) == 0 {
		return insights
	}

	top := validTopics
	if len(top) > 3 {
		top = top[:3]
	}
	for _, t := range top {
		if t.Score >= 60 {
			insights.Strengths = append(insights.Strengths, fmt.Sprintf("%s (%.1f%%)", t.Topic, t.Score))
		}
	}

	bottom := validTopics
	if len(bottom) > 3 {
		bottom = bottom[len(bottom)-3:]
	}
	for _, t := range bottom {
		if t.Score < 60 {
			insights.Weaknesses = append(insights.Weaknesses, fmt.Sprintf("%s (%.1f%%)", t.Topic, t.Score))
		}
	}

	return insights
}

// Recommendations evaluates a fixed, ordered rule set over the derived
// views and returns human-readable suggestions.
func (s *AnalyticsService) Recommendations(userID string) []string {
	s.mu.RLock()
	_, known := s.users[userID]
	s.mu.RUnlock()
	if !known {
		return []string{"Take some tests to get personalized recommendations."}
	}

	topics := s.TopicPerformance(userID)
	difficulties := s.DifficultyPerformance(userID)
	overall := s.OverallPerformance(userID)

	var recommendations []string

	weakCount := 0
	for _, t := range topics {
		if t.Score < 60 && t.TotalQuestions >= 3 {
			recommendations = append(recommendations,
				fmt.Sprintf("Focus on improving your knowledge of %s (current score: %.1f%%).", t.Topic, t.Score))
			weakCount++
			if weakCount == 2 {
				break
			}
		}
	}

	if len(difficulties) > 0 {
		scores := make(map[string]float64, len(difficulties))
		for _, d := range difficulties {
			scores[d.Difficulty] = d.Score
		}
		if easy, ok := scores["Easy"]; ok && easy < 80 {
			recommendations = append(recommendations,
				"Work on mastering the basic concepts before moving to more advanced topics.")
		}
		if hard, ok := scores["Hard"]; ok && hard < 50 && scores["Medium"] >= 70 {
			recommendations = append(recommendations,
				"You're doing well with medium difficulty questions. Challenge yourself with more advanced questions.")
		}
	}

	if overall.TestsTaken < 5 {
		recommendations = append(recommendations,
			"Take more tests to get more accurate performance analytics.")
	}

	if overall.ImprovementRate < 0 {
		recommendations = append(recommendations,
			"Your performance is declining. Consider reviewing the fundamentals again.")
	} else if overall.ImprovementRate > 20 {
		recommendations = append(recommendations, "Great improvement! Keep up the good work.")
	}

	if len(recommendations) == 0 {
		recommendations = append(recommendations, "Continue practicing to improve your performance.")
	}

	return recommendations
}

// ReplayFromStore rebuilds in-memory performance state from every persisted
// test result, in submission order. Called once at startup.
func (s *AnalyticsService) ReplayFromStore(ctx context.Context) (err error) {
	ctx, span := observability.TraceAnalyticsFunction(ctx, "replay_from_store")
	defer observability.FinishSpan(span, &err)

	if s.store == nil {
		return nil
	}

	rows, err := s.store.GetAllResults(ctx)
	if err != nil {
		return contextutils.WrapError(err, "failed to load persisted test results")
	}

	for i := range rows {
		s.Ingest(strconv.Itoa(rows[i].UserID), &rows[i].Result)
	}

	if s.logger != nil {
		s.logger.Info(ctx, "Replayed test results into analytics state", map[string]interface{}{"result_count": len(rows)})
	}
	return nil
}
