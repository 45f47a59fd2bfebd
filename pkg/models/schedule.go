package models

import "time"

// DefaultEaseFactor is the ease factor of an item that was never answered
const DefaultEaseFactor = 2.5

// ScheduleState tracks a user's review schedule for a single item using the SM-2 algorithm
type ScheduleState struct {
	Repetitions  int        `json:"repetitions" db:"repetitions"`     // Consecutive qualifying reviews
	EaseFactor   float64    `json:"ease_factor" db:"ease_factor"`     // SM-2 EF parameter, never below 1.3
	IntervalDays int        `json:"interval_days" db:"interval_days"` // Days until the next review
	DueAt        time.Time  `json:"due_at" db:"due_at"`
	LastQuality  int        `json:"last_quality" db:"last_quality"` // 0-5 rating of last recall
	ReviewedAt   *time.Time `json:"reviewed_at,omitempty" db:"reviewed_at"`
}

// NewScheduleState returns the state of an item with no prior record
func NewScheduleState() ScheduleState {
	return ScheduleState{EaseFactor: DefaultEaseFactor}
}

// Quality represents the quality of a response on the SM-2 scale
type Quality int

const (
	// Complete blackout, unable to recall
	QualityBlackout Quality = 0
	// Incorrect response but remembered upon seeing the correct answer
	QualityIncorrect Quality = 1
	// Incorrect response but the correct answer felt familiar
	QualityIncorrectFamiliar Quality = 2
	// Correct response but required significant effort
	QualityCorrectDifficult Quality = 3
	// Correct response after some hesitation
	QualityCorrectHesitation Quality = 4
	// Perfect response with no hesitation
	QualityPerfect Quality = 5
)

// Valid reports whether q is on the 0-5 scale
func (q Quality) Valid() bool {
	return q >= QualityBlackout && q <= QualityPerfect
}
