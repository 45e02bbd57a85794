package download

import "sync"

type EventType string

const (
	EventStarted         EventType = "started"
	EventProgressUpdated EventType = "progress_updated"
	EventPaused          EventType = "paused"
	EventResumed         EventType = "resumed"
	EventCompleted       EventType = "completed"
	EventFailed          EventType = "failed"
	EventCancelled       EventType = "cancelled"
)

// Event is a notification about a task. Progress is set only for progress
// updates and Reason only for failures.
type Event struct {
	Type     EventType `json:"type"`
	TaskID   string    `json:"task_id"`
	Progress *Progress `json:"progress,omitempty"`
	Reason   string    `json:"reason,omitempty"`
}

// Terminal reports whether the event ends a run of its task.
func (e Event) Terminal() bool {
	return e.Type == EventCompleted || e.Type == EventFailed || e.Type == EventCancelled
}

// Bus is a bounded, ordered event channel with a single subscriber.
// Publishing blocks while a subscriber is attached and the buffer is full;
// without a subscriber, or once closed, events are dropped.
type Bus struct {
	ch         chan Event
	done       chan struct{}
	mu         sync.RWMutex
	subscribed bool
	closed     bool
	closeOnce  sync.Once
}

func NewBus(capacity int) *Bus {
	if capacity <= 0 {
		capacity = 100
	}
	return &Bus{
		ch:   make(chan Event, capacity),
		done: make(chan struct{}),
	}
}

// Subscribe hands out the receive side once. The channel is closed by Close.
func (b *Bus) Subscribe() (<-chan Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscribed || b.closed {
		return nil, false
	}
	b.subscribed = true
	return b.ch, true
}

func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.subscribed || b.closed {
		return
	}
	select {
	case b.ch <- ev:
	case <-b.done:
	}
}

// Close stops delivery and closes the subscriber channel. Blocked publishers return.
func (b *Bus) Close() {
	b.closeOnce.Do(func() {
		close(b.done)
		b.mu.Lock()
		b.closed = true
		close(b.ch)
		b.mu.Unlock()
	})
}
