package session

import (
	"context"
	"sync"
	"time"

	"github.com/example/tradeprep/internal/logger"
	"github.com/example/tradeprep/pkg/models"
)

type write struct {
	userID string
	itemID string
	state  models.ScheduleState
}

// writer issues progress upserts one at a time in the order they were enqueued.
// Callers never wait for a write; failures are logged and dropped.
type writer struct {
	repo    ProgressRepository
	log     *logger.Logger
	timeout time.Duration

	mu      sync.Mutex
	pending []write
	closed  bool
	wake    chan struct{}
	done    chan struct{}
}

func newWriter(repo ProgressRepository, log *logger.Logger, timeout time.Duration) *writer {
	w := &writer{
		repo:    repo,
		log:     log,
		timeout: timeout,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *writer) enqueue(wr write) bool {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		w.log.Warn("session closed, dropping progress write", "item_id", wr.itemID)
		return false
	}
	w.pending = append(w.pending, wr)
	w.mu.Unlock()
	w.signal()
	return true
}

func (w *writer) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *writer) run() {
	defer close(w.done)
	for {
		w.mu.Lock()
		if len(w.pending) == 0 {
			closed := w.closed
			w.mu.Unlock()
			if closed {
				return
			}
			<-w.wake
			continue
		}
		next := w.pending[0]
		w.pending = w.pending[1:]
		w.mu.Unlock()

		w.flush(next)
	}
}

func (w *writer) flush(wr write) {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	if err := w.repo.Upsert(ctx, wr.userID, wr.itemID, wr.state); err != nil {
		w.log.Error("failed to persist schedule", "item_id", wr.itemID, "error", err)
		return
	}
	w.log.Debug("schedule persisted", "item_id", wr.itemID, "due_at", wr.state.DueAt, "interval_days", wr.state.IntervalDays)
}

// close stops accepting writes and blocks until the backlog is flushed
func (w *writer) close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	w.signal()
	<-w.done
}
