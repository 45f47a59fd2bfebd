package spaced_repetition

import (
	"time"

	"github.com/example/tradeprep/pkg/models"
)

// ScheduledItem pairs an item with the learner's current schedule for it
type ScheduledItem struct {
	Item  models.Item
	State models.ScheduleState
}

// Partition splits a category's items by review status
type Partition struct {
	Due   []ScheduledItem // Answered before and due at or before now
	New   []models.Item   // Never answered
	Later []ScheduledItem // Answered before and due after now
}

// Classify places every item into exactly one of Due, New or Later.
// Items keep their input order within each group.
func Classify(items []models.Item, states map[string]models.ScheduleState, now time.Time) Partition {
	var p Partition
	for _, item := range items {
		state, seen := states[item.ID]
		switch {
		case !seen:
			p.New = append(p.New, item)
		case !state.DueAt.After(now):
			p.Due = append(p.Due, ScheduledItem{Item: item, State: state})
		default:
			p.Later = append(p.Later, ScheduledItem{Item: item, State: state})
		}
	}
	return p
}
