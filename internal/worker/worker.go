// Package worker delivers push notifications in the background so that the
// coordinator never waits on the network while holding its lock.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/noahxzhu/alarm-notify/internal/logx"
)

// Sender delivers one push message.
type Sender interface {
	Send(ctx context.Context, title, message string, devices []string) error
}

type job struct {
	title    string
	message  string
	devices  []string
	attempts int
	next     time.Time
}

type Worker struct {
	sender      Sender
	log         logx.Logger
	maxAttempts int
	backoff     time.Duration

	mu         sync.Mutex
	queue      []*job
	updateChan chan struct{}
}

func NewWorker(sender Sender, log logx.Logger) *Worker {
	return &Worker{
		sender:      sender,
		log:         log.With(logx.String("component", "worker")),
		maxAttempts: 3,
		backoff:     30 * time.Second,
		updateChan:  make(chan struct{}, 1),
	}
}

// SetRetry changes the attempt limit and the wait between attempts.
func (w *Worker) SetRetry(attempts int, backoff time.Duration) {
	w.mu.Lock()
	w.maxAttempts, w.backoff = attempts, backoff
	w.mu.Unlock()
}

// Notify queues a message. It never blocks.
func (w *Worker) Notify(title, message string, devices []string) {
	w.mu.Lock()
	w.queue = append(w.queue, &job{
		title:   title,
		message: message,
		devices: append([]string(nil), devices...),
	})
	w.mu.Unlock()
	w.Refresh()
}

// Refresh signals the worker to re-evaluate the queue immediately
func (w *Worker) Refresh() {
	select {
	case w.updateChan <- struct{}{}:
	default:
		// a signal is already pending
	}
}

// Pending returns the number of queued messages.
func (w *Worker) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}

func (w *Worker) Start(ctx context.Context) {
	w.log.Info("worker started")

	timer := time.NewTimer(time.Hour)
	timer.Stop()

	for {
		nextRun := w.checkAndProcess(ctx)

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		if !nextRun.IsZero() {
			d := time.Until(nextRun)
			if d < 0 {
				d = 0
			}
			timer.Reset(d)
			w.log.Debug("next retry scheduled", logx.Duration("in", d))
		}

		select {
		case <-ctx.Done():
			w.log.Info("worker stopped", logx.Int("dropped", w.Pending()))
			return
		case <-w.updateChan:
		case <-timer.C:
		}
	}
}

// checkAndProcess sends every due message and returns the time of the
// earliest pending retry, or zero when the queue is empty.
func (w *Worker) checkAndProcess(ctx context.Context) time.Time {
	w.mu.Lock()
	due := make([]*job, 0, len(w.queue))
	var rest []*job
	now := time.Now()
	for _, j := range w.queue {
		if !now.Before(j.next) {
			due = append(due, j)
		} else {
			rest = append(rest, j)
		}
	}
	w.queue = rest
	maxAttempts, backoff := w.maxAttempts, w.backoff
	w.mu.Unlock()

	var retry []*job
	for _, j := range due {
		if ctx.Err() != nil {
			retry = append(retry, j)
			continue
		}
		j.attempts++
		err := w.sender.Send(ctx, j.title, j.message, j.devices)
		if err == nil {
			w.log.Info("push sent", logx.String("title", j.title), logx.Int("devices", len(j.devices)))
			continue
		}
		if j.attempts >= maxAttempts {
			w.log.Error("push failed, giving up", logx.String("title", j.title), logx.Int("attempts", j.attempts), logx.Err(err))
			continue
		}
		w.log.Warn("push failed, will retry", logx.String("title", j.title), logx.Int("attempt", j.attempts), logx.Err(err))
		j.next = time.Now().Add(backoff)
		retry = append(retry, j)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.queue = append(w.queue, retry...)
	var earliest time.Time
	for _, j := range w.queue {
		if earliest.IsZero() || j.next.Before(earliest) {
			earliest = j.next
		}
	}
	return earliest
}
