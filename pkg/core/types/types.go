// Package types holds the shared interview data model.
package types

import "time"

// Turn is one completed question/answer exchange. A turn is created exactly
// once when a capture finalizes and is immutable afterwards.
type Turn struct {
	QuestionID string    `json:"question_id"`
	Prompt     string    `json:"prompt"`
	Answer     string    `json:"answer"`
	CapturedAt time.Time `json:"captured_at"`
}

// FinishReason is the cause of session termination.
type FinishReason string

const (
	// FinishTime means the absolute session deadline was reached.
	FinishTime FinishReason = "time"
	// FinishInactive means the candidate went silent past the inactivity policy.
	FinishInactive FinishReason = "inactive"
	// FinishNatural means the question graph reached its terminal node.
	FinishNatural FinishReason = "natural"
	// FinishManual means the candidate ended the session explicitly.
	FinishManual FinishReason = "manual"
)

// FeedbackReport is the scored outcome of a session, derived solely from its
// turns. Computed once at termination and immutable afterwards.
type FeedbackReport struct {
	Score        int          `json:"score"`
	Strengths    []string     `json:"strengths"`
	Improvements []string     `json:"improvements"`
	Reason       FinishReason `json:"reason,omitempty"`
}
