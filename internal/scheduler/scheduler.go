package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/example/tradeprep/internal/config"
	"github.com/example/tradeprep/internal/logger"
	"github.com/example/tradeprep/pkg/models"
)

// Default notification window, inclusive
const (
	DefaultNotificationStartHour = 8
	DefaultNotificationEndHour   = 22
)

// Notifier delivers a "you have reviews due" reminder
type Notifier interface {
	SendReminders(ctx context.Context, user models.User, due int) error
}

// UserSource lists users who want reminders at an hour of the day
type UserSource interface {
	GetUsersForNotification(ctx context.Context, hour int) ([]models.User, error)
}

// DueCounter counts a user's items that are due for review
type DueCounter interface {
	CountDue(ctx context.Context, userID string, now time.Time) (int, error)
}

// Scheduler manages scheduled tasks for the application
type Scheduler struct {
	scheduler *gocron.Scheduler
	users     UserSource
	due       DueCounter
	notifier  Notifier
	log       *logger.Logger
	now       func() time.Time
	startHour int
	endHour   int
	timeout   time.Duration
}

// New creates a new scheduler instance
func New(cfg config.SchedulerConfig, users UserSource, due DueCounter, notifier Notifier, log *logger.Logger) *Scheduler {
	if log == nil {
		log = logger.NewNop()
	}
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		users:     users,
		due:       due,
		notifier:  notifier,
		log:       log.With("component", "scheduler"),
		now:       time.Now,
		startHour: cfg.StartHour,
		endHour:   cfg.EndHour,
		timeout:   5 * time.Minute,
	}
}

// SetClock replaces time.Now
func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
}

// Start begins running all scheduled tasks
func (s *Scheduler) Start() error {
	_, err := s.scheduler.Every(1).Hour().StartAt(s.nextHour()).Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		s.RunOnce(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule reminders: %w", err)
	}

	s.scheduler.StartAsync()
	s.log.Info("scheduler started", "start_hour", s.startHour, "end_hour", s.endHour)
	return nil
}

// Stop terminates all scheduled tasks
func (s *Scheduler) Stop() {
	s.scheduler.Stop()
}

func (s *Scheduler) nextHour() time.Time {
	return s.now().UTC().Truncate(time.Hour).Add(time.Hour)
}

// RunOnce sends reminders to users whose notification hour is the current one. It returns the
// number of reminders sent.
func (s *Scheduler) RunOnce(ctx context.Context) int {
	now := s.now().UTC()
	hour := now.Hour()

	if hour < s.startHour || hour > s.endHour {
		s.log.Debug("outside notification hours, skipping reminders",
			"hour", hour, "start_hour", s.startHour, "end_hour", s.endHour)
		return 0
	}

	users, err := s.users.GetUsersForNotification(ctx, hour)
	if err != nil {
		s.log.Error("failed to get users for notification", "error", err)
		return 0
	}

	sent := 0
	for _, user := range users {
		ok, err := s.remind(ctx, user, now)
		if err != nil {
			s.log.Error("failed to remind user", "user_id", user.ID, "error", err)
			continue
		}
		if ok {
			sent++
		}
	}

	s.log.Info("reminders sent", "hour", hour, "candidates", len(users), "sent", sent)
	return sent
}

// RunManualCheck reminds one user immediately if anything is due
func (s *Scheduler) RunManualCheck(ctx context.Context, user models.User) (bool, error) {
	return s.remind(ctx, user, s.now().UTC())
}

func (s *Scheduler) remind(ctx context.Context, user models.User, now time.Time) (bool, error) {
	count, err := s.due.CountDue(ctx, user.ID, now)
	if err != nil {
		return false, fmt.Errorf("failed to count due items: %w", err)
	}
	if count == 0 {
		return false, nil
	}
	if err := s.notifier.SendReminders(ctx, user, count); err != nil {
		return false, fmt.Errorf("failed to send reminder: %w", err)
	}
	return true, nil
}
