package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/example/tradeprep/internal/logger"
	"github.com/example/tradeprep/internal/spaced_repetition"
	"github.com/example/tradeprep/pkg/models"
)

var (
	ErrInvalidTransition = errors.New("session: invalid transition")
	ErrSuperseded        = errors.New("session: load superseded by a newer request")
	ErrOptionOutOfRange  = errors.New("session: option index out of range")
	ErrInvalidQuality    = errors.New("session: quality outside 0-5")
	ErrStaleAnswer       = errors.New("session: answer is for an item that is no longer current")
)

// ItemRepository supplies the items of a category
type ItemRepository interface {
	GetByCategory(ctx context.Context, category string) ([]models.Item, error)
}

// ProgressRepository reads and writes per-user schedule state
type ProgressRepository interface {
	GetForUser(ctx context.Context, userID, category string) (map[string]models.ScheduleState, error)
	Upsert(ctx context.Context, userID, itemID string, state models.ScheduleState) error
}

// State is a step of the practice session state machine
type State int

const (
	Idle State = iota
	Loading
	Presenting
	Answered
	Complete
	Errored
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Presenting:
		return "presenting"
	case Answered:
		return "answered"
	case Complete:
		return "complete"
	case Errored:
		return "errored"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// AnswerResult describes a graded answer and the schedule it produced
type AnswerResult struct {
	ItemID         string               `json:"item_id"`
	Selected       int                  `json:"selected"`
	Correct        bool                 `json:"correct"`
	CorrectIndexes []int                `json:"correct_indexes"`
	Explanation    string               `json:"explanation"`
	Quality        models.Quality       `json:"quality"`
	Schedule       models.ScheduleState `json:"schedule"`
	Mastered       bool                 `json:"mastered"`
	Persisted      bool                 `json:"persisted"` // false for anonymous sessions
}

// View is a point-in-time copy of the session
type View struct {
	State      State         `json:"-"`
	Category   string        `json:"category"`
	Position   int           `json:"position"` // 0-based index of the current item
	Total      int           `json:"total"`
	Current    *models.Item  `json:"current,omitempty"`
	LastAnswer *AnswerResult `json:"last_answer,omitempty"`
	Err        error         `json:"-"`
}

// Controller drives one learner's practice session
type Controller struct {
	items    ItemRepository
	progress ProgressRepository
	userID   string
	sm2      *spaced_repetition.SM2
	builder  *spaced_repetition.QueueBuilder
	policy   spaced_repetition.QualityPolicy
	now      func() time.Time
	log      *logger.Logger
	timeout  time.Duration
	writer   *writer

	mu         sync.Mutex
	token      uint64
	cancelLoad context.CancelFunc
	state      State
	category   string
	queue      []models.Item
	snapshot   map[string]models.ScheduleState
	index      int
	last       *AnswerResult
	err        error
	startedAt  time.Time
	finishedAt time.Time
	answered   int
	correct    int
}

// Option configures a Controller
type Option func(*Controller)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithShuffler sets the randomness used to order new items
func WithShuffler(s spaced_repetition.Shuffler) Option {
	return func(c *Controller) { c.builder.Shuffler = s }
}

// WithQualityPolicy sets how right/wrong answers map onto the 0-5 scale
func WithQualityPolicy(p spaced_repetition.QualityPolicy) Option {
	return func(c *Controller) { c.policy = p }
}

// WithLogger sets the logger; sessions are silent by default
func WithLogger(l *logger.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// WithWriteTimeout bounds each progress write
func WithWriteTimeout(d time.Duration) Option {
	return func(c *Controller) { c.timeout = d }
}

// NewController creates a controller for userID. An empty userID runs the session anonymously:
// schedules are computed but never read from or written to progress.
func NewController(items ItemRepository, progress ProgressRepository, userID string, opts ...Option) *Controller {
	c := &Controller{
		items:    items,
		progress: progress,
		userID:   userID,
		sm2:      spaced_repetition.NewSM2(),
		builder:  spaced_repetition.NewQueueBuilder(rand.New(rand.NewSource(time.Now().UnixNano()))),
		policy:   spaced_repetition.DefaultQualityPolicy(),
		now:      time.Now,
		log:      logger.NewNop(),
		timeout:  5 * time.Second,
		state:    Idle,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With("component", "session", "user_id", userID)
	if c.identified() {
		c.writer = newWriter(progress, c.log, c.timeout)
	}
	return c
}

func (c *Controller) identified() bool {
	return c.userID != "" && c.progress != nil
}

// UserID returns the learner this session belongs to, or "" when anonymous
func (c *Controller) UserID() string {
	return c.userID
}

// Start loads a fresh queue for category. It may be called from any state, including while
// another Start is in flight: the older load is cancelled and its result discarded with
// ErrSuperseded. A fetch failure leaves the session Errored; calling Start again retries.
func (c *Controller) Start(ctx context.Context, category string) (View, error) {
	c.mu.Lock()
	c.token++
	token := c.token
	if c.cancelLoad != nil {
		c.cancelLoad()
	}
	loadCtx, cancel := context.WithCancel(ctx)
	c.cancelLoad = cancel
	c.reset(category)
	c.mu.Unlock()
	defer cancel()

	partition, snapshot, err := c.load(loadCtx, category)

	c.mu.Lock()
	defer c.mu.Unlock()

	if token != c.token {
		c.log.Debug("discarding superseded load", "category", category)
		return c.viewLocked(), ErrSuperseded
	}
	c.cancelLoad = nil

	if err != nil {
		c.state = Errored
		c.err = err
		c.log.Error("failed to load session", "category", category, "error", err)
		return c.viewLocked(), err
	}

	c.snapshot = snapshot
	c.queue = c.builder.Build(partition)
	c.startedAt = c.now()
	if len(c.queue) == 0 {
		c.state = Complete
		c.finishedAt = c.startedAt
		c.log.Info("nothing to review", "category", category, "later", len(partition.Later))
	} else {
		c.state = Presenting
		c.log.Info("session started",
			"category", category,
			"queue", len(c.queue),
			"due", len(partition.Due),
			"new", len(partition.New),
			"later", len(partition.Later),
		)
	}
	return c.viewLocked(), nil
}

func (c *Controller) reset(category string) {
	c.state = Loading
	c.category = category
	c.queue = nil
	c.snapshot = nil
	c.index = 0
	c.last = nil
	c.err = nil
	c.startedAt = time.Time{}
	c.finishedAt = time.Time{}
	c.answered = 0
	c.correct = 0
}

func (c *Controller) load(ctx context.Context, category string) (spaced_repetition.Partition, map[string]models.ScheduleState, error) {
	items, err := c.items.GetByCategory(ctx, category)
	if err != nil {
		return spaced_repetition.Partition{}, nil, fmt.Errorf("failed to load items for %q: %w", category, err)
	}

	valid := make([]models.Item, 0, len(items))
	for _, item := range items {
		if err := item.Validate(); err != nil {
			c.log.Warn("rejecting malformed item", "item_id", item.ID, "category", category, "error", err)
			continue
		}
		valid = append(valid, item)
	}

	snapshot := make(map[string]models.ScheduleState)
	if c.identified() {
		states, err := c.progress.GetForUser(ctx, c.userID, category)
		if err != nil {
			return spaced_repetition.Partition{}, nil, fmt.Errorf("failed to load progress for %q: %w", category, err)
		}
		for id, st := range states {
			snapshot[id] = st
		}
	}

	return spaced_repetition.Classify(valid, snapshot, c.now()), snapshot, nil
}

// Answer grades the selected option of the current item using the quality policy
func (c *Controller) Answer(option int) (AnswerResult, error) {
	return c.answer("", option, nil)
}

// AnswerWithQuality grades the selected option with an explicit 0-5 quality
func (c *Controller) AnswerWithQuality(option int, quality models.Quality) (AnswerResult, error) {
	return c.AnswerItemWithQuality("", option, quality)
}

// AnswerItem is Answer for a learner who was shown itemID. It fails with ErrStaleAnswer
// when that item is no longer the current one. An empty itemID skips the check.
func (c *Controller) AnswerItem(itemID string, option int) (AnswerResult, error) {
	return c.answer(itemID, option, nil)
}

// AnswerItemWithQuality is AnswerWithQuality guarded the same way as AnswerItem
func (c *Controller) AnswerItemWithQuality(itemID string, option int, quality models.Quality) (AnswerResult, error) {
	if !quality.Valid() {
		return AnswerResult{}, fmt.Errorf("%w: %d", ErrInvalidQuality, quality)
	}
	return c.answer(itemID, option, &quality)
}

func (c *Controller) answer(itemID string, option int, explicit *models.Quality) (AnswerResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if itemID != "" && !c.isCurrent(itemID) {
		c.log.Debug("rejecting answer for a passed item", "item_id", itemID, "state", c.state.String())
		return AnswerResult{}, fmt.Errorf("%w: %s", ErrStaleAnswer, itemID)
	}
	if c.state != Presenting {
		return AnswerResult{}, fmt.Errorf("%w: cannot answer while %s", ErrInvalidTransition, c.state)
	}

	item := c.queue[c.index]
	if option < 0 || option >= len(item.Options) {
		c.log.Warn("option index out of range", "item_id", item.ID, "option", option, "options", len(item.Options))
		return AnswerResult{}, fmt.Errorf("%w: %d not in [0, %d)", ErrOptionOutOfRange, option, len(item.Options))
	}

	correct := item.Options[option].IsCorrect
	quality := c.policy.Grade(correct)
	if explicit != nil {
		quality = *explicit
	}

	prior, ok := c.snapshot[item.ID]
	if !ok {
		prior = models.NewScheduleState()
	}
	next := c.sm2.Update(quality, prior, c.now())
	c.snapshot[item.ID] = next

	result := AnswerResult{
		ItemID:         item.ID,
		Selected:       option,
		Correct:        correct,
		CorrectIndexes: item.CorrectIndexes(),
		Explanation:    item.Explanation,
		Quality:        quality,
		Schedule:       next,
		Mastered:       c.sm2.IsMastered(next),
	}
	if c.writer != nil {
		result.Persisted = c.writer.enqueue(write{userID: c.userID, itemID: item.ID, state: next})
	}

	c.answered++
	if correct {
		c.correct++
	}
	c.last = &result
	c.state = Answered
	return result, nil
}

func (c *Controller) isCurrent(itemID string) bool {
	if c.state != Presenting && c.state != Answered {
		return false
	}
	return c.index < len(c.queue) && c.queue[c.index].ID == itemID
}

// Advance moves past an answered item, to the next one or to Complete
func (c *Controller) Advance() (View, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Answered {
		return c.viewLocked(), fmt.Errorf("%w: cannot advance while %s", ErrInvalidTransition, c.state)
	}

	if c.index+1 >= len(c.queue) {
		c.state = Complete
		c.finishedAt = c.now()
		c.log.Info("session complete", "category", c.category, "answered", c.answered, "correct", c.correct)
		return c.viewLocked(), nil
	}

	c.index++
	c.last = nil
	c.state = Presenting
	return c.viewLocked(), nil
}

// View returns a copy of the current session state
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

func (c *Controller) viewLocked() View {
	v := View{
		State:    c.state,
		Category: c.category,
		Position: c.index,
		Total:    len(c.queue),
		Err:      c.err,
	}
	if (c.state == Presenting || c.state == Answered) && c.index < len(c.queue) {
		item := c.queue[c.index]
		item.Options = append([]models.Option(nil), item.Options...)
		v.Current = &item
	}
	if c.last != nil {
		last := *c.last
		v.LastAnswer = &last
	}
	return v
}

// Summary reports the session outcome so far
func (c *Controller) Summary() models.SessionResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return models.SessionResult{
		UserID:     c.userID,
		Category:   c.category,
		Total:      len(c.queue),
		Answered:   c.answered,
		Correct:    c.correct,
		StartedAt:  c.startedAt,
		FinishedAt: c.finishedAt,
	}
}

// Close cancels any in-flight load and waits for queued progress writes to finish
func (c *Controller) Close() {
	c.mu.Lock()
	if c.cancelLoad != nil {
		c.cancelLoad()
		c.cancelLoad = nil
	}
	c.token++
	c.mu.Unlock()

	if c.writer != nil {
		c.writer.close()
	}
}
