package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/example/tradeprep/internal/spaced_repetition"
	"github.com/example/tradeprep/pkg/models"
)

var t0 = time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)

type fakeItems struct {
	byCategory map[string][]models.Item
	err        error
	// blocking categories wait for their context to end
	blocking map[string]chan struct{}
}

func (f *fakeItems) GetByCategory(ctx context.Context, category string) ([]models.Item, error) {
	if started, ok := f.blocking[category]; ok {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.byCategory[category], nil
}

type upsertCall struct {
	userID string
	itemID string
	state  models.ScheduleState
}

type fakeProgress struct {
	mu        sync.Mutex
	states    map[string]models.ScheduleState
	calls     []upsertCall
	reads     int
	readErr   error
	upsertErr error
}

func newFakeProgress() *fakeProgress {
	return &fakeProgress{states: make(map[string]models.ScheduleState)}
}

func (f *fakeProgress) GetForUser(ctx context.Context, userID, category string) (map[string]models.ScheduleState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if f.readErr != nil {
		return nil, f.readErr
	}
	out := make(map[string]models.ScheduleState, len(f.states))
	for k, v := range f.states {
		out[k] = v
	}
	return out, nil
}

func (f *fakeProgress) Upsert(ctx context.Context, userID, itemID string, state models.ScheduleState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, upsertCall{userID, itemID, state})
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.states[itemID] = state
	return nil
}

func item(id string, correct int, n int) models.Item {
	opts := make([]models.Option, n)
	for i := range opts {
		opts[i] = models.Option{Text: fmt.Sprintf("option %d", i), IsCorrect: i == correct}
	}
	return models.Item{ID: id, Category: "water", Prompt: "prompt " + id, Options: opts, Explanation: "because " + id}
}

func items(n int) []models.Item {
	out := make([]models.Item, n)
	for i := range out {
		out[i] = item(fmt.Sprintf("q-%02d", i), 0, 4)
	}
	return out
}

func newTestController(repo ItemRepository, progress ProgressRepository, userID string) *Controller {
	return NewController(repo, progress, userID,
		WithClock(func() time.Time { return t0 }),
		WithShuffler(rand.New(rand.NewSource(1))),
	)
}

func TestStartEmptyCategoryCompletes(t *testing.T) {
	c := newTestController(&fakeItems{}, newFakeProgress(), "u1")
	defer c.Close()

	view, err := c.Start(context.Background(), "empty")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if view.State != Complete || view.Total != 0 || view.Current != nil {
		t.Errorf("view = %+v, want empty Complete", view)
	}
}

func TestStartFetchFailureThenRetry(t *testing.T) {
	boom := errors.New("connection refused")
	repo := &fakeItems{byCategory: map[string][]models.Item{"water": items(2)}, err: boom}
	c := newTestController(repo, newFakeProgress(), "u1")
	defer c.Close()

	view, err := c.Start(context.Background(), "water")
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if view.State != Errored || !errors.Is(view.Err, boom) {
		t.Errorf("view = %+v", view)
	}

	repo.err = nil
	view, err = c.Start(context.Background(), "water")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if view.State != Presenting || view.Err != nil {
		t.Errorf("after retry view = %+v", view)
	}
}

func TestProgressReadFailureErrors(t *testing.T) {
	progress := newFakeProgress()
	progress.readErr = errors.New("timeout")
	c := newTestController(&fakeItems{byCategory: map[string][]models.Item{"water": items(1)}}, progress, "u1")
	defer c.Close()

	view, err := c.Start(context.Background(), "water")
	if err == nil || view.State != Errored {
		t.Fatalf("view = %+v, err = %v", view, err)
	}
}

func TestFullSessionWritesInOrder(t *testing.T) {
	repo := &fakeItems{byCategory: map[string][]models.Item{"water": {item("a", 0, 3), item("b", 1, 3), item("c", 2, 3)}}}
	progress := newFakeProgress()
	c := newTestController(repo, progress, "u1")

	view, err := c.Start(context.Background(), "water")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if view.State != Presenting || view.Total != 3 {
		t.Fatalf("view = %+v", view)
	}

	var order []string
	correct := 0
	for {
		cur := c.View().Current
		if cur == nil {
			t.Fatal("no current item while presenting")
		}
		order = append(order, cur.ID)
		// Answer "a" wrong, everything else right
		pick := cur.CorrectIndexes()[0]
		if cur.ID == "a" {
			pick = (pick + 1) % len(cur.Options)
		} else {
			correct++
		}

		res, err := c.Answer(pick)
		if err != nil {
			t.Fatalf("Answer: %v", err)
		}
		if res.Correct != (cur.ID != "a") {
			t.Errorf("%s: Correct = %v", cur.ID, res.Correct)
		}
		if !res.Persisted {
			t.Errorf("%s: expected write to be issued", cur.ID)
		}
		if res.Explanation != "because "+cur.ID {
			t.Errorf("Explanation = %q", res.Explanation)
		}
		if v := c.View(); v.State != Answered || v.LastAnswer == nil {
			t.Errorf("after answer view = %+v", v)
		}

		view, err = c.Advance()
		if err != nil {
			t.Fatalf("Advance: %v", err)
		}
		if view.State == Complete {
			break
		}
	}
	c.Close()

	if len(progress.calls) != 3 {
		t.Fatalf("upserts = %d, want 3", len(progress.calls))
	}
	for i, call := range progress.calls {
		if call.itemID != order[i] || call.userID != "u1" {
			t.Errorf("write %d = %s/%s, want u1/%s", i, call.userID, call.itemID, order[i])
		}
	}

	a := progress.states["a"]
	if a.Repetitions != 0 || a.IntervalDays != 1 || a.LastQuality != int(models.QualityIncorrect) {
		t.Errorf("state a = %+v", a)
	}
	b := progress.states["b"]
	if b.Repetitions != 1 || b.IntervalDays != 1 || !b.DueAt.Equal(t0.AddDate(0, 0, 1)) {
		t.Errorf("state b = %+v", b)
	}

	sum := c.Summary()
	if sum.Total != 3 || sum.Answered != 3 || sum.Correct != correct || sum.Category != "water" || sum.UserID != "u1" {
		t.Errorf("summary = %+v", sum)
	}
	if !sum.StartedAt.Equal(t0) || !sum.FinishedAt.Equal(t0) {
		t.Errorf("summary times = %v..%v", sum.StartedAt, sum.FinishedAt)
	}
}

func TestAnonymousSessionSkipsPersistence(t *testing.T) {
	repo := &fakeItems{byCategory: map[string][]models.Item{"water": items(2)}}
	progress := newFakeProgress()
	c := newTestController(repo, progress, "")

	if _, err := c.Start(context.Background(), "water"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	res, err := c.Answer(0)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if res.Persisted {
		t.Error("anonymous answer reported as persisted")
	}
	if res.Schedule.IntervalDays != 1 || res.Schedule.Repetitions != 1 {
		t.Errorf("schedule still computed for display, got %+v", res.Schedule)
	}
	c.Close()

	if progress.reads != 0 || len(progress.calls) != 0 {
		t.Errorf("reads = %d, writes = %d, want none", progress.reads, len(progress.calls))
	}
}

func TestPersistenceFailureIsInvisible(t *testing.T) {
	repo := &fakeItems{byCategory: map[string][]models.Item{"water": items(2)}}
	progress := newFakeProgress()
	progress.upsertErr = errors.New("disk full")
	c := newTestController(repo, progress, "u1")
	defer c.Close()

	if _, err := c.Start(context.Background(), "water"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Answer(0); err != nil {
		t.Fatalf("Answer: %v", err)
	}
	view, err := c.Advance()
	if err != nil || view.State != Presenting || view.Position != 1 {
		t.Errorf("view = %+v, err = %v", view, err)
	}
}

func TestInvalidTransitions(t *testing.T) {
	repo := &fakeItems{byCategory: map[string][]models.Item{"water": items(1)}}
	c := newTestController(repo, nil, "")
	defer c.Close()

	if _, err := c.Answer(0); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Answer while idle: %v", err)
	}
	if _, err := c.Start(context.Background(), "water"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Advance(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Advance while presenting: %v", err)
	}
	if _, err := c.Answer(0); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Answer(1); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("second Answer: %v", err)
	}
	if v, _ := c.Advance(); v.State != Complete {
		t.Fatalf("state = %s, want complete", v.State)
	}
	if _, err := c.Advance(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Advance after complete: %v", err)
	}
}

func TestOptionOutOfRange(t *testing.T) {
	repo := &fakeItems{byCategory: map[string][]models.Item{"water": items(1)}}
	c := newTestController(repo, nil, "")
	defer c.Close()

	if _, err := c.Start(context.Background(), "water"); err != nil {
		t.Fatal(err)
	}
	for _, idx := range []int{-1, 4, 99} {
		if _, err := c.Answer(idx); !errors.Is(err, ErrOptionOutOfRange) {
			t.Errorf("Answer(%d) = %v", idx, err)
		}
	}
	if s := c.View().State; s != Presenting {
		t.Errorf("state = %s, want presenting", s)
	}
}

func TestAnswerWithQuality(t *testing.T) {
	repo := &fakeItems{byCategory: map[string][]models.Item{"water": items(1)}}
	c := newTestController(repo, nil, "")
	defer c.Close()

	if _, err := c.Start(context.Background(), "water"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.AnswerWithQuality(0, 7); !errors.Is(err, ErrInvalidQuality) {
		t.Errorf("quality 7: %v", err)
	}
	res, err := c.AnswerWithQuality(0, models.QualityPerfect)
	if err != nil {
		t.Fatal(err)
	}
	if res.Quality != models.QualityPerfect || res.Schedule.EaseFactor <= 2.5 {
		t.Errorf("result = %+v", res)
	}
}

func TestAnswerForPassedItemIsRejected(t *testing.T) {
	progress := newFakeProgress()
	repo := &fakeItems{byCategory: map[string][]models.Item{"water": {item("q-yes", 0, 2), item("q-red", 1, 2)}}}
	c := newTestController(repo, progress, "u1")

	view, err := c.Start(context.Background(), "water")
	if err != nil {
		t.Fatal(err)
	}
	first := view.Current.ID
	if _, err := c.AnswerItem(first, 0); err != nil {
		t.Fatal(err)
	}
	view, _ = c.Advance()
	second := view.Current.ID

	// a late answer to the first item must not land on the second
	if _, err := c.AnswerItem(first, 1); !errors.Is(err, ErrStaleAnswer) {
		t.Fatalf("answer for %s while showing %s: %v", first, second, err)
	}
	if _, err := c.AnswerItemWithQuality(first, 1, models.QualityPerfect); !errors.Is(err, ErrStaleAnswer) {
		t.Errorf("with quality: %v", err)
	}
	if v := c.View(); v.State != Presenting || v.Current.ID != second || v.LastAnswer != nil {
		t.Errorf("view = %+v", v)
	}

	if _, err := c.AnswerItem(second, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := c.AnswerItem(second, 1); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("second answer to the current item: %v", err)
	}
	c.Advance()
	if _, err := c.AnswerItem(second, 0); !errors.Is(err, ErrStaleAnswer) {
		t.Errorf("answer after complete: %v", err)
	}
	c.Close()

	if len(progress.calls) != 2 || progress.calls[0].itemID != first || progress.calls[1].itemID != second {
		t.Errorf("writes = %+v", progress.calls)
	}
}

func TestAnswerReportsMastery(t *testing.T) {
	progress := newFakeProgress()
	progress.states["q-00"] = models.ScheduleState{Repetitions: 4, EaseFactor: 2.5, IntervalDays: 30, DueAt: t0}
	c := newTestController(&fakeItems{byCategory: map[string][]models.Item{"water": items(1)}}, progress, "u1")
	defer c.Close()

	if _, err := c.Start(context.Background(), "water"); err != nil {
		t.Fatal(err)
	}
	res, err := c.Answer(0)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Mastered || res.Schedule.Repetitions != 5 || res.Schedule.IntervalDays != 75 {
		t.Errorf("result = %+v", res)
	}
}

func TestQualityPolicyOption(t *testing.T) {
	repo := &fakeItems{byCategory: map[string][]models.Item{"water": items(1)}}
	c := NewController(repo, nil, "",
		WithClock(func() time.Time { return t0 }),
		WithQualityPolicy(spaced_repetition.QualityPolicy{Correct: models.QualityPerfect, Incorrect: models.QualityBlackout}),
	)
	defer c.Close()

	if _, err := c.Start(context.Background(), "water"); err != nil {
		t.Fatal(err)
	}
	res, _ := c.Answer(0)
	if res.Quality != models.QualityPerfect {
		t.Errorf("Quality = %d, want 5", res.Quality)
	}
}

func TestMalformedItemsAreDropped(t *testing.T) {
	noCorrect := models.Item{ID: "bad", Category: "water", Prompt: "?", Options: []models.Option{{Text: "x"}, {Text: "y"}}}
	noOptions := models.Item{ID: "empty", Category: "water", Prompt: "?"}
	repo := &fakeItems{byCategory: map[string][]models.Item{"water": {noCorrect, item("ok", 1, 2), noOptions}}}
	c := newTestController(repo, nil, "")
	defer c.Close()

	view, err := c.Start(context.Background(), "water")
	if err != nil {
		t.Fatal(err)
	}
	if view.Total != 1 || view.Current.ID != "ok" {
		t.Errorf("view = %+v", view)
	}
}

func TestStaleLoadIsDiscarded(t *testing.T) {
	started := make(chan struct{})
	repo := &fakeItems{
		byCategory: map[string][]models.Item{"sewer": {item("s1", 0, 2)}},
		blocking:   map[string]chan struct{}{"water": started},
	}
	c := newTestController(repo, nil, "")
	defer c.Close()

	type outcome struct {
		view View
		err  error
	}
	stale := make(chan outcome, 1)
	go func() {
		v, err := c.Start(context.Background(), "water")
		stale <- outcome{v, err}
	}()
	<-started

	view, err := c.Start(context.Background(), "sewer")
	if err != nil {
		t.Fatalf("Start sewer: %v", err)
	}
	if view.Category != "sewer" || view.State != Presenting {
		t.Errorf("view = %+v", view)
	}

	select {
	case out := <-stale:
		if !errors.Is(out.err, ErrSuperseded) {
			t.Errorf("stale err = %v, want ErrSuperseded", out.err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("stale load was not cancelled")
	}

	if v := c.View(); v.Category != "sewer" || v.State != Presenting || v.Current.ID != "s1" {
		t.Errorf("stale result leaked into session: %+v", v)
	}
}

func TestDueItemsComeFirst(t *testing.T) {
	all := items(25)
	progress := newFakeProgress()
	progress.states["q-10"] = models.ScheduleState{Repetitions: 1, EaseFactor: 2.5, IntervalDays: 1, DueAt: t0.Add(-time.Hour)}
	progress.states["q-20"] = models.ScheduleState{Repetitions: 2, EaseFactor: 2.5, IntervalDays: 6, DueAt: t0.Add(-48 * time.Hour)}
	progress.states["q-05"] = models.ScheduleState{Repetitions: 1, EaseFactor: 2.5, IntervalDays: 1, DueAt: t0.Add(-3 * time.Hour)}
	c := newTestController(&fakeItems{byCategory: map[string][]models.Item{"water": all}}, progress, "u1")
	defer c.Close()

	view, err := c.Start(context.Background(), "water")
	if err != nil {
		t.Fatal(err)
	}
	if view.Total != 20 {
		t.Fatalf("Total = %d, want 20", view.Total)
	}

	var got []string
	for i := 0; i < 3; i++ {
		got = append(got, c.View().Current.ID)
		if _, err := c.Answer(0); err != nil {
			t.Fatal(err)
		}
		if _, err := c.Advance(); err != nil {
			t.Fatal(err)
		}
	}
	if fmt.Sprint(got) != "[q-20 q-05 q-10]" {
		t.Errorf("due order = %v", got)
	}
}

func TestReviewUsesStoredSchedule(t *testing.T) {
	progress := newFakeProgress()
	progress.states["q-00"] = models.ScheduleState{Repetitions: 2, EaseFactor: 2.5, IntervalDays: 6, DueAt: t0}
	c := newTestController(&fakeItems{byCategory: map[string][]models.Item{"water": items(1)}}, progress, "u1")

	if _, err := c.Start(context.Background(), "water"); err != nil {
		t.Fatal(err)
	}
	res, err := c.Answer(0)
	if err != nil {
		t.Fatal(err)
	}
	c.Close()

	if res.Schedule.IntervalDays != 15 || res.Schedule.Repetitions != 3 {
		t.Errorf("schedule = %+v, want 15 days / 3 reps", res.Schedule)
	}
	if got := progress.states["q-00"]; got.IntervalDays != 15 {
		t.Errorf("persisted = %+v", got)
	}
}

func TestViewIsACopy(t *testing.T) {
	c := newTestController(&fakeItems{byCategory: map[string][]models.Item{"water": items(1)}}, nil, "")
	defer c.Close()
	view, _ := c.Start(context.Background(), "water")

	view.Current.Options[0].IsCorrect = false
	res, err := c.Answer(0)
	if err != nil || !res.Correct {
		t.Errorf("mutating a view changed the session: %+v, %v", res, err)
	}
}

func TestCloseDropsLaterWrites(t *testing.T) {
	progress := newFakeProgress()
	c := newTestController(&fakeItems{byCategory: map[string][]models.Item{"water": items(2)}}, progress, "u1")
	if _, err := c.Start(context.Background(), "water"); err != nil {
		t.Fatal(err)
	}
	c.Close()

	res, err := c.Answer(0)
	if err != nil {
		t.Fatal(err)
	}
	if res.Persisted || len(progress.calls) != 0 {
		t.Errorf("write after close: persisted=%v calls=%d", res.Persisted, len(progress.calls))
	}
}
