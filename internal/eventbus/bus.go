// Package eventbus is a small in-memory fanout used to announce task
// lifecycle events to the host application.
package eventbus

import (
	"sync"
	"time"
)

// Event types published by the execution engine.
const (
	TypeTaskCompleted = "task.completed"
	TypeTaskFailed    = "task.failed"
)

// TaskEvent is the payload carried by task lifecycle events.
type TaskEvent struct {
	TaskID      string        `json:"task_id"`
	ExecutionID string        `json:"execution_id"`
	WorkspaceID string        `json:"workspace_id"`
	TaskName    string        `json:"task_name"`
	Duration    time.Duration `json:"duration"`
	Error       string        `json:"error,omitempty"`
}

type Event struct {
	Type string
	Time time.Time
	Data TaskEvent
}

// Bus delivers events to subscribers. Publish is non-blocking and
// fire-and-forget: slow subscribers drop events, and delivery failure never
// propagates to the publisher.
type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// A subscriber may unsubscribe (and close) concurrently; recover
		// from the resulting send panic instead of taking the engine down.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	b.seq++
	id := b.seq
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}
