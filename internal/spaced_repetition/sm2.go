package spaced_repetition

import (
	"math"
	"time"

	"github.com/example/tradeprep/pkg/models"
)

const (
	// PassThreshold is the lowest quality counted as a successful recall
	PassThreshold = models.QualityCorrectDifficult
	// MinEaseFactor is the floor applied after every update
	MinEaseFactor = 1.3
)

// SM2 implements the SuperMemo-2 algorithm for spaced repetition
type SM2 struct{}

// NewSM2 creates a new SM2 scheduler
func NewSM2() *SM2 {
	return &SM2{}
}

// Update computes the schedule that follows an answer of the given quality.
// The prior state is not modified. A zero-valued prior is treated as a new item.
func (sm *SM2) Update(quality models.Quality, prior models.ScheduleState, now time.Time) models.ScheduleState {
	if prior.EaseFactor == 0 {
		prior = models.NewScheduleState()
	}
	quality = clampQuality(quality)

	next := prior
	if quality >= PassThreshold {
		switch prior.Repetitions {
		case 0:
			next.IntervalDays = 1
		case 1:
			next.IntervalDays = 6
		default:
			next.IntervalDays = int(math.Round(float64(prior.IntervalDays) * prior.EaseFactor))
		}
		next.Repetitions = prior.Repetitions + 1

		q := float64(5 - quality)
		next.EaseFactor = prior.EaseFactor + (0.1 - q*(0.08+q*0.02))
	} else {
		// Forgetting resets the streak; the ease factor is left alone
		next.Repetitions = 0
		next.IntervalDays = 1
	}

	if next.EaseFactor < MinEaseFactor {
		next.EaseFactor = MinEaseFactor
	}

	reviewed := now
	next.ReviewedAt = &reviewed
	next.LastQuality = int(quality)
	next.DueAt = now.AddDate(0, 0, next.IntervalDays)
	return next
}

// Thresholds a schedule must reach to count as mastered
const (
	MasteredRepetitions  = 5
	MasteredQuality      = models.QualityCorrectHesitation
	MasteredIntervalDays = 30
)

// IsMastered determines if an item is considered "mastered": recalled at least
// MasteredRepetitions times in a row, last graded MasteredQuality or better, and
// scheduled at least MasteredIntervalDays out
func (sm *SM2) IsMastered(state models.ScheduleState) bool {
	return state.Repetitions >= MasteredRepetitions &&
		state.LastQuality >= int(MasteredQuality) &&
		state.IntervalDays >= MasteredIntervalDays
}

func clampQuality(q models.Quality) models.Quality {
	if q < models.QualityBlackout {
		return models.QualityBlackout
	}
	if q > models.QualityPerfect {
		return models.QualityPerfect
	}
	return q
}

// QualityPolicy maps a binary answer outcome onto the 0-5 quality scale.
// Hosts that only know right/wrong use it; the scheduler itself always takes a full grade.
type QualityPolicy struct {
	Correct   models.Quality
	Incorrect models.Quality
}

// DefaultQualityPolicy grades a correct choice as "correct after hesitation" and a wrong one as "incorrect"
func DefaultQualityPolicy() QualityPolicy {
	return QualityPolicy{
		Correct:   models.QualityCorrectHesitation,
		Incorrect: models.QualityIncorrect,
	}
}

// Grade returns the quality for an answer outcome
func (p QualityPolicy) Grade(correct bool) models.Quality {
	if correct {
		return p.Correct
	}
	return p.Incorrect
}
