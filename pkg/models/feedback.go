package models

import "time"

// FeedbackResult classifies a collected rating.
type FeedbackResult string

const (
	FeedbackPositive FeedbackResult = "positive"
	FeedbackNegative FeedbackResult = "negative"
	FeedbackNeutral  FeedbackResult = "neutral"
	// FeedbackUnknown is recorded when no usable response was collected.
	// It is treated as neutral, not as an error.
	FeedbackUnknown FeedbackResult = "unknown"
)

// FeedbackMode selects how ratings are collected.
type FeedbackMode string

const (
	// FeedbackModeThumbs collects a yes/no rating.
	FeedbackModeThumbs FeedbackMode = "thumbs"
	// FeedbackModeStars collects a 1-5 rating.
	FeedbackModeStars FeedbackMode = "stars"
	// FeedbackModeFreeText collects free-form text.
	FeedbackModeFreeText FeedbackMode = "free_text"
)

// Valid returns true if the mode is a known value.
func (m FeedbackMode) Valid() bool {
	switch m {
	case FeedbackModeThumbs, FeedbackModeStars, FeedbackModeFreeText:
		return true
	default:
		return false
	}
}

// FeedbackRecord links a task or plan to a rating. Owned by the feedback loop;
// triggers at most one memory-update action when auto-learning is enabled.
type FeedbackRecord struct {
	// ID is the unique identifier for this record.
	ID string `json:"id"`
	// PlanID is the plan the feedback refers to.
	PlanID string `json:"plan_id"`
	// TaskID is the task the feedback refers to, empty for plan-level feedback.
	TaskID string `json:"task_id,omitempty"`
	// GoalCategory is carried for learning and metrics grouping.
	GoalCategory string `json:"goal_category,omitempty"`
	// Result is the classified rating.
	Result FeedbackResult `json:"result"`
	// Rating is the raw numeric rating when the mode provides one.
	Rating int `json:"rating,omitempty"`
	// Text is the optional free-form comment.
	Text string `json:"text,omitempty"`
	// Metadata carries the configured additional fields to store.
	Metadata map[string]string `json:"metadata,omitempty"`
	// CreatedAt is when the feedback was collected.
	CreatedAt time.Time `json:"created_at"`
}
