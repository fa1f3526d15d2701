// Package pending finds the unanswered run of user messages at the tail of a
// conversation and debounces the work of answering it.
package pending

import (
	"sync"
	"time"

	"github.com/comigor/phonechat-go/internal/clock"
	"github.com/comigor/phonechat-go/internal/history"
)

// DefaultWindow is how long the newest user message must sit before a reply
// is generated; messages typed inside the window join the same turn.
const DefaultWindow = 3 * time.Minute

// Turn is the unanswered run of user messages.
type Turn struct {
	Texts      []string
	MessageIDs []string
	LastAt     int64 // epoch millis of the newest message
}

// ID identifies the turn by its newest user message.
func (t Turn) ID() string {
	if len(t.MessageIDs) == 0 {
		return ""
	}
	return t.MessageIDs[len(t.MessageIDs)-1]
}

// Detect returns the user messages the character has not answered yet: those
// after the newest user message of the turn the latest character message
// answered (its TurnID), or after that character message itself when it
// carries no TurnID. Messages sent while a reply was being generated sit
// before its bubbles and are still returned. System messages are ignored.
func Detect(msgs []history.Message) (Turn, bool) {
	start := 0
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Sender != history.SenderCharacter {
			continue
		}
		start = i + 1
		if id := msgs[i].TurnID; id != "" {
			for j := i - 1; j >= 0; j-- {
				if msgs[j].ID == id {
					start = j + 1
					break
				}
			}
		}
		break
	}
	var t Turn
	for _, m := range msgs[start:] {
		if m.Sender != history.SenderUser {
			continue
		}
		t.Texts = append(t.Texts, m.Text)
		t.MessageIDs = append(t.MessageIDs, m.ID)
		t.LastAt = m.CreatedAt
	}
	return t, len(t.Texts) > 0
}

// Remaining is how long to wait before turn t may be answered at now.
func Remaining(t Turn, now time.Time, window time.Duration) time.Duration {
	age := now.Sub(time.UnixMilli(t.LastAt))
	if age >= window {
		return 0
	}
	return window - age
}

// Debouncer keeps at most one armed task per key.
type Debouncer struct {
	clock clock.Clock

	mu    sync.Mutex
	tasks map[string]*task
}

type task struct {
	timer clock.Timer
}

func NewDebouncer(c clock.Clock) *Debouncer {
	return &Debouncer{clock: c, tasks: make(map[string]*task)}
}

// Arm schedules fn to run once after delay. If a task is already armed for key
// nothing is scheduled and Arm returns false.
func (d *Debouncer) Arm(key string, delay time.Duration, fn func()) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.tasks[key]; ok {
		return false
	}
	t := &task{}
	t.timer = d.clock.AfterFunc(delay, func() {
		d.mu.Lock()
		if d.tasks[key] != t {
			d.mu.Unlock()
			return
		}
		delete(d.tasks, key)
		d.mu.Unlock()
		fn()
	})
	d.tasks[key] = t
	return true
}

// Cancel stops the task armed for key, if any.
func (d *Debouncer) Cancel(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tasks[key]
	if !ok {
		return false
	}
	delete(d.tasks, key)
	t.timer.Stop()
	return true
}

// Armed reports whether a task is waiting for key.
func (d *Debouncer) Armed(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.tasks[key]
	return ok
}

// Stop cancels every armed task.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for key, t := range d.tasks {
		t.timer.Stop()
		delete(d.tasks, key)
	}
}
