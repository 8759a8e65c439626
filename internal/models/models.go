// Package models defines data structures used throughout the application.
package models

import (
	"database/sql"
	"encoding/json"
	"time"
)

// User represents a user in the system
type User struct {
	ID           int            `json:"id" yaml:"id"`
	Username     string         `json:"username" yaml:"username"`
	Email        sql.NullString `json:"email" yaml:"email"`
	PasswordHash sql.NullString `json:"-" yaml:"-"` // Omit from JSON responses
	IsAdmin      bool           `json:"is_admin" yaml:"is_admin"`
	LastActive   sql.NullTime   `json:"last_active" yaml:"last_active"`
	CreatedAt    time.Time      `json:"created_at" yaml:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at" yaml:"updated_at"`
}

// MarshalJSON customizes JSON marshaling for User to handle sql.NullString and sql.NullTime properly
func (u User) MarshalJSON() (result0 []byte, err error) {
	return json.Marshal(&struct {
		ID         int        `json:"id"`
		Username   string     `json:"username"`
		Email      *string    `json:"email"`
		IsAdmin    bool       `json:"is_admin"`
		LastActive *time.Time `json:"last_active"`
		CreatedAt  time.Time  `json:"created_at"`
		UpdatedAt  time.Time  `json:"updated_at"`
	}{
		ID:         u.ID,
		Username:   u.Username,
		Email:      nullStringToPointer(u.Email),
		IsAdmin:    u.IsAdmin,
		LastActive: nullTimeToPointer(u.LastActive),
		CreatedAt:  u.CreatedAt,
		UpdatedAt:  u.UpdatedAt,
	})
}

// Helper functions for converting sql.Null types to pointers
func nullStringToPointer(ns sql.NullString) *string {
	if ns.Valid {
		return &ns.String
	}
	return nil
}

func nullTimeToPointer(nt sql.NullTime) *time.Time {
	if nt.Valid {
		return &nt.Time
	}
	return nil
}

// Question represents a single multiple-choice question
type Question struct {
	Question      string   `json:"question" yaml:"question"`
	Options       []string `json:"options" yaml:"options"`
	CorrectAnswer string   `json:"correct_answer" yaml:"correct_answer"`
	Difficulty    string   `json:"difficulty" yaml:"difficulty"`
}

// Test represents a generated multiple-choice test
type Test struct {
	ID         string     `json:"id" yaml:"id"`
	UserID     int        `json:"user_id" yaml:"user_id"`
	Name       string     `json:"name" yaml:"name"`
	Subject    string     `json:"subject" yaml:"subject"`
	Topics     []string   `json:"topics" yaml:"topics"`
	Difficulty string     `json:"difficulty" yaml:"difficulty"`
	Questions  []Question `json:"questions" yaml:"questions"`
	Adaptive   bool       `json:"adaptive" yaml:"adaptive"`
	CreatedAt  time.Time  `json:"created_at" yaml:"created_at"`
}

// AnswerRecord captures a single graded answer within a test result.
// Topic and Difficulty tag the answer for performance bucketing; today
// every answer is graded into the General topic and Medium difficulty
// buckets, but the fields keep the result format stable for richer
// per-question tagging later.
type AnswerRecord struct {
	QuestionIndex int    `json:"question_index" yaml:"question_index"`
	Question      string `json:"question" yaml:"question"`
	UserAnswer    string `json:"user_answer" yaml:"user_answer"`
	CorrectAnswer string `json:"correct_answer" yaml:"correct_answer"`
	IsCorrect     bool   `json:"is_correct" yaml:"is_correct"`
	Topic         string `json:"topic" yaml:"topic"`
	Difficulty    string `json:"difficulty" yaml:"difficulty"`
}

// TestResult represents a completed, graded test attempt
type TestResult struct {
	TestID         string         `json:"test_id" yaml:"test_id"`
	TestName       string         `json:"test_name" yaml:"test_name"`
	TotalQuestions int            `json:"total_questions" yaml:"total_questions"`
	CorrectAnswers int            `json:"correct_answers" yaml:"correct_answers"`
	Score          float64        `json:"score" yaml:"score"`
	Timestamp      string         `json:"timestamp" yaml:"timestamp"`
	Answers        []AnswerRecord `json:"answers,omitempty" yaml:"answers,omitempty"`
}

// QuestionGenRequest represents a request to generate questions for a test
type QuestionGenRequest struct {
	Subject           string   `json:"subject"`
	Topics            []string `json:"topics"`
	Difficulty        string   `json:"difficulty"`
	NumQuestions      int      `json:"num_questions"`
	Content           string   `json:"content,omitempty"`
	CustomDescription string   `json:"custom_description,omitempty"`
}

// PerformanceLabel maps a 0-1 accuracy ratio to a human-readable label
func PerformanceLabel(accuracy float64) string {
	switch {
	case accuracy >= 0.8:
		return "Excellent"
	case accuracy >= 0.6:
		return "Good"
	case accuracy >= 0.4:
		return "Average"
	default:
		return "Needs Improvement"
	}
}
