package services

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/manthysbr/inspectd/internal/core/domain"
)

type EventType string

const (
	EventTypeStatus EventType = "status"
	EventTypeLog    EventType = "log"
)

type Event struct {
	TaskID    domain.TaskID
	Type      EventType
	Data      string // JSON payload or raw text
	Timestamp int64
}

// StatusPayload is the JSON body of a status event.
type StatusPayload struct {
	Status   domain.TaskStatus `json:"status"`
	Progress *int              `json:"progress,omitempty"`
	Stage    string            `json:"stage,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// EventBus fans task events out to live subscribers. Delivery is best
// effort; slow subscribers lose events rather than block the pipeline.
type EventBus struct {
	logger *slog.Logger
	mu     sync.RWMutex
	subs   map[domain.TaskID][]chan Event
}

func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		logger: logger,
		subs:   make(map[domain.TaskID][]chan Event),
	}
}

// Subscribe returns a channel that receives events for one task
func (b *EventBus) Subscribe(id domain.TaskID) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, 64)
	b.subs[id] = append(b.subs[id], ch)

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()

			subscribers := b.subs[id]
			for i, sub := range subscribers {
				if sub == ch {
					close(ch)
					b.subs[id] = append(subscribers[:i], subscribers[i+1:]...)
					break
				}
			}
			if len(b.subs[id]) == 0 {
				delete(b.subs, id)
			}
		})
	}

	return ch, unsub
}

// Publish sends an event to all subscribers of the task
func (b *EventBus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs[e.TaskID] {
		select {
		case ch <- e:
		default:
			b.logger.Warn("event bus channel full, dropping event", "task_id", e.TaskID)
		}
	}
}

// PublishStatus emits a status event. progress < 0 omits the field.
func (b *EventBus) PublishStatus(id domain.TaskID, status domain.TaskStatus, progress int, stage, errMsg string) {
	payload := StatusPayload{Status: status, Stage: stage, Error: errMsg}
	if progress >= 0 {
		payload.Progress = &progress
	}
	data, err := json.Marshal(payload)
	if err != nil {
		b.logger.Error("failed to encode status event", "task_id", id, "error", err)
		return
	}
	b.Publish(Event{TaskID: id, Type: EventTypeStatus, Data: string(data), Timestamp: time.Now().Unix()})
}

func (b *EventBus) PublishLog(id domain.TaskID, msg string) {
	b.Publish(Event{TaskID: id, Type: EventTypeLog, Data: msg, Timestamp: time.Now().Unix()})
}

// Subscribers returns how many listeners a task currently has.
func (b *EventBus) Subscribers(id domain.TaskID) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[id])
}
