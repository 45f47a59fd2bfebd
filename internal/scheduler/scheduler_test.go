package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/tradeprep/internal/config"
	"github.com/example/tradeprep/pkg/models"
)

type fakeUsers struct {
	byHour map[int][]models.User
	err    error
	asked  []int
}

func (f *fakeUsers) GetUsersForNotification(ctx context.Context, hour int) ([]models.User, error) {
	f.asked = append(f.asked, hour)
	return f.byHour[hour], f.err
}

type fakeDue map[string]int

func (f fakeDue) CountDue(ctx context.Context, userID string, now time.Time) (int, error) {
	n, ok := f[userID]
	if !ok {
		return 0, errors.New("unknown user")
	}
	return n, nil
}

type sentReminder struct {
	userID string
	due    int
}

type fakeNotifier struct {
	sent []sentReminder
	fail map[string]bool
}

func (f *fakeNotifier) SendReminders(ctx context.Context, user models.User, due int) error {
	if f.fail[user.ID] {
		return errors.New("chat not found")
	}
	f.sent = append(f.sent, sentReminder{user.ID, due})
	return nil
}

func newTestScheduler(users UserSource, due DueCounter, n Notifier, at time.Time) *Scheduler {
	s := New(config.SchedulerConfig{StartHour: DefaultNotificationStartHour, EndHour: DefaultNotificationEndHour}, users, due, n, nil)
	s.SetClock(func() time.Time { return at })
	return s
}

func TestRunOnceRemindsUsersWithDueItems(t *testing.T) {
	users := &fakeUsers{byHour: map[int][]models.User{
		18: {{ID: "u1"}, {ID: "u2"}, {ID: "u3"}, {ID: "ghost"}},
	}}
	due := fakeDue{"u1": 3, "u2": 0, "u3": 7}
	notifier := &fakeNotifier{}
	s := newTestScheduler(users, due, notifier, time.Date(2025, 6, 15, 18, 5, 0, 0, time.UTC))

	if sent := s.RunOnce(context.Background()); sent != 2 {
		t.Errorf("sent = %d, want 2", sent)
	}
	if len(notifier.sent) != 2 || notifier.sent[0] != (sentReminder{"u1", 3}) || notifier.sent[1] != (sentReminder{"u3", 7}) {
		t.Errorf("reminders = %+v", notifier.sent)
	}
}

func TestRunOnceOutsideWindow(t *testing.T) {
	users := &fakeUsers{}
	s := newTestScheduler(users, fakeDue{}, &fakeNotifier{}, time.Date(2025, 6, 15, 3, 0, 0, 0, time.UTC))

	if sent := s.RunOnce(context.Background()); sent != 0 {
		t.Errorf("sent = %d", sent)
	}
	if len(users.asked) != 0 {
		t.Error("users queried outside notification window")
	}
}

func TestRunOnceContinuesPastFailures(t *testing.T) {
	users := &fakeUsers{byHour: map[int][]models.User{9: {{ID: "u1"}, {ID: "u2"}}}}
	notifier := &fakeNotifier{fail: map[string]bool{"u1": true}}
	s := newTestScheduler(users, fakeDue{"u1": 1, "u2": 1}, notifier, time.Date(2025, 6, 15, 9, 0, 0, 0, time.UTC))

	if sent := s.RunOnce(context.Background()); sent != 1 {
		t.Errorf("sent = %d, want 1", sent)
	}
}

func TestRunOnceUserLookupFails(t *testing.T) {
	users := &fakeUsers{err: errors.New("db down")}
	s := newTestScheduler(users, fakeDue{}, &fakeNotifier{}, time.Date(2025, 6, 15, 9, 0, 0, 0, time.UTC))

	if sent := s.RunOnce(context.Background()); sent != 0 {
		t.Errorf("sent = %d", sent)
	}
}

func TestRunManualCheck(t *testing.T) {
	notifier := &fakeNotifier{}
	s := newTestScheduler(&fakeUsers{}, fakeDue{"u1": 0, "u2": 4}, notifier, time.Date(2025, 6, 15, 2, 0, 0, 0, time.UTC))

	if ok, err := s.RunManualCheck(context.Background(), models.User{ID: "u1"}); ok || err != nil {
		t.Errorf("nothing due: ok=%v err=%v", ok, err)
	}
	if ok, err := s.RunManualCheck(context.Background(), models.User{ID: "u2"}); !ok || err != nil {
		t.Errorf("due: ok=%v err=%v", ok, err)
	}
	if len(notifier.sent) != 1 || notifier.sent[0].due != 4 {
		t.Errorf("reminders = %+v", notifier.sent)
	}
}

func TestNextHour(t *testing.T) {
	s := newTestScheduler(&fakeUsers{}, fakeDue{}, &fakeNotifier{}, time.Date(2025, 6, 15, 9, 41, 12, 0, time.UTC))
	if got := s.nextHour(); !got.Equal(time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("nextHour = %v", got)
	}
}
