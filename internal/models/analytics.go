package models

// OverallPerformance summarizes a user's results across all recorded tests
type OverallPerformance struct {
	TestsTaken      int     `json:"tests_taken"`
	AverageScore    float64 `json:"average_score"`
	HighScore       float64 `json:"high_score"`
	LowScore        float64 `json:"low_score"`
	ImprovementRate float64 `json:"improvement_rate"`
}

// TopicPerformance aggregates answer accuracy for a single topic
type TopicPerformance struct {
	Topic          string  `json:"topic"`
	Score          float64 `json:"score"`
	TotalQuestions int     `json:"total_questions"`
}

// DifficultyPerformance aggregates answer accuracy for a single difficulty level
type DifficultyPerformance struct {
	Difficulty     string  `json:"difficulty"`
	Score          float64 `json:"score"`
	TotalQuestions int     `json:"total_questions"`
}

// TrendPoint is one entry in a user's recent score history
type TrendPoint struct {
	Test  string  `json:"test"`
	Score float64 `json:"score"`
	Date  string  `json:"date"`
}

// PerformanceInsights lists a user's strongest and weakest topics
type PerformanceInsights struct {
	Strengths  []string `json:"strengths"`
	Weaknesses []string `json:"weaknesses"`
}
