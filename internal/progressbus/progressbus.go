// Package progressbus implements the Progress Bus (§4.9): synchronous,
// registration-order fan-out of ProgressUpdates to subscribers, with a
// throttling guard and per-subscriber panic isolation so one bad
// callback cannot stall the bus. Grounded on the teacher's
// manager.triggerProgressCallback pattern of isolating callback
// failures, adapted from fire-and-forget goroutines to synchronous
// delivery since §4.9/§5 require per-(task,subtask) ordering guarantees
// that an unbounded goroutine fan-out would not preserve.
package progressbus

import (
	"log/slog"
	"sync"
	"time"

	"github.com/stormino/vixsrc-downloader/internal/taskmodel"
)

// Subscriber receives every published update that survives throttling.
type Subscriber func(taskmodel.ProgressUpdate)

// Unsubscribe removes a previously registered subscriber.
type Unsubscribe func()

type subscription struct {
	id int
	fn Subscriber
}

// Bus fans out ProgressUpdates to subscribers and applies the 500ms /
// 0.1%-delta throttle per (taskId, subTaskId) stream.
type Bus struct {
	mu          sync.Mutex
	subs        []subscription
	nextSubID   int
	logger      *slog.Logger
	minInterval time.Duration
	minDelta    float64

	lastSent map[string]sentState
}

type sentState struct {
	at     time.Time
	pct    float64
	status taskmodel.Status
}

// New builds a Bus with the spec-default throttle (500ms / 0.1%).
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		logger:      logger,
		minInterval: 500 * time.Millisecond,
		minDelta:    0.1,
		lastSent:    make(map[string]sentState),
	}
}

// Subscribe registers fn; returned Unsubscribe removes it.
func (b *Bus) Subscribe(fn Subscriber) Unsubscribe {
	b.mu.Lock()
	id := b.nextSubID
	b.nextSubID++
	b.subs = append(b.subs, subscription{id: id, fn: fn})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers update to every subscriber, in registration order,
// unless it is suppressed by the throttle guard. Status transitions and
// terminal updates always bypass the guard, per §4.9.
func (b *Bus) Publish(update taskmodel.ProgressUpdate) {
	key := streamKey(update)

	b.mu.Lock()
	prev, seen := b.lastSent[key]
	shouldSend := !seen ||
		update.Status != prev.status ||
		update.Status.IsTerminal() ||
		time.Since(prev.at) >= b.minInterval ||
		absDelta(update.Progress, prev.pct) >= b.minDelta

	if !shouldSend {
		b.mu.Unlock()
		return
	}
	b.lastSent[key] = sentState{at: time.Now(), pct: update.Progress, status: update.Status}
	subsCopy := make([]subscription, len(b.subs))
	copy(subsCopy, b.subs)
	b.mu.Unlock()

	for _, s := range subsCopy {
		b.deliver(s, update)
	}
}

func (b *Bus) deliver(s subscription, update taskmodel.ProgressUpdate) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("progress subscriber panicked", "subscriber_id", s.id, "recovered", r)
		}
	}()
	s.fn(update)
}

func streamKey(u taskmodel.ProgressUpdate) string {
	return u.TaskID + "|" + u.SubTaskID
}

func absDelta(a, b float64) float64 {
	d := a - b
	if d < 0 {
		return -d
	}
	return d
}
