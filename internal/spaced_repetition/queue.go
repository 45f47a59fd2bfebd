package spaced_repetition

import (
	"math/rand"
	"sort"
	"time"

	"github.com/example/tradeprep/pkg/models"
)

// SessionCap is the maximum number of items presented in one practice session
const SessionCap = 20

// Shuffler is a source of uniform permutations. *rand.Rand satisfies it.
type Shuffler interface {
	Shuffle(n int, swap func(i, j int))
}

// QueueBuilder assembles a bounded practice queue from a partition
type QueueBuilder struct {
	Cap      int
	Shuffler Shuffler
}

// NewQueueBuilder creates a builder capped at SessionCap.
// A nil shuffler falls back to a time-seeded source.
func NewQueueBuilder(shuffler Shuffler) *QueueBuilder {
	if shuffler == nil {
		shuffler = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &QueueBuilder{Cap: SessionCap, Shuffler: shuffler}
}

// Build returns due items ordered by due time (ties by id) followed by shuffled new items,
// truncated to the cap. Later items are never included. The partition is not modified.
func (b *QueueBuilder) Build(p Partition) []models.Item {
	limit := b.Cap
	if limit <= 0 {
		limit = SessionCap
	}

	due := make([]ScheduledItem, len(p.Due))
	copy(due, p.Due)
	sort.SliceStable(due, func(i, j int) bool {
		if !due[i].State.DueAt.Equal(due[j].State.DueAt) {
			return due[i].State.DueAt.Before(due[j].State.DueAt)
		}
		return due[i].Item.ID < due[j].Item.ID
	})

	queue := make([]models.Item, 0, min(limit, len(due)+len(p.New)))
	for _, d := range due {
		if len(queue) == limit {
			return queue
		}
		queue = append(queue, d.Item)
	}

	if len(queue) == limit || len(p.New) == 0 {
		return queue
	}

	fresh := make([]models.Item, len(p.New))
	copy(fresh, p.New)
	b.Shuffler.Shuffle(len(fresh), func(i, j int) {
		fresh[i], fresh[j] = fresh[j], fresh[i]
	})

	room := limit - len(queue)
	if len(fresh) > room {
		fresh = fresh[:room]
	}
	return append(queue, fresh...)
}
