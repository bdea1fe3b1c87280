package services

import (
	"context"
	"sync"
	"time"
)

// CodeNotification is the payload pushed to an expert's dashboard when a
// verification code is extracted
type CodeNotification struct {
	CodeUUID   string    `json:"code_uuid"`
	ExpertUUID string    `json:"expert_uuid"`
	Code       string    `json:"code"`
	Platform   string    `json:"platform"`
	Confidence float64   `json:"confidence"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// CodeDeliverer pushes extracted codes toward the expert dashboard.
// Delivery is injected into the verification flow rather than hardwired so
// the pipeline does not care whether codes go to SSE streams, a queue, or a
// test recorder.
type CodeDeliverer interface {
	Deliver(ctx context.Context, notification *CodeNotification) error
}

// SSEStreamRegistry fans code notifications out to live dashboard streams.
// One expert can hold several open streams (multiple tabs); each gets every
// notification. Delivery to a stream is best effort: a subscriber that has
// stopped draining its channel is skipped, since codes are also persisted
// and retrievable by polling.
type SSEStreamRegistry struct {
	mu      sync.RWMutex
	streams map[string]map[uint64]chan *CodeNotification
	nextID  uint64
}

// NewSSEStreamRegistry creates an empty stream registry
func NewSSEStreamRegistry() *SSEStreamRegistry {
	return &SSEStreamRegistry{
		streams: make(map[string]map[uint64]chan *CodeNotification),
	}
}

// Subscribe registers a new stream for an expert and returns the channel to
// drain plus an unsubscribe function. The unsubscribe function is safe to
// call more than once.
func (r *SSEStreamRegistry) Subscribe(expertUUID string) (<-chan *CodeNotification, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID

	ch := make(chan *CodeNotification, 16)
	if r.streams[expertUUID] == nil {
		r.streams[expertUUID] = make(map[uint64]chan *CodeNotification)
	}
	r.streams[expertUUID][id] = ch

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if subs, ok := r.streams[expertUUID]; ok {
				if sub, ok := subs[id]; ok {
					delete(subs, id)
					close(sub)
				}
				if len(subs) == 0 {
					delete(r.streams, expertUUID)
				}
			}
		})
	}

	return ch, unsubscribe
}

// SubscriberCount returns how many live streams an expert holds
func (r *SSEStreamRegistry) SubscriberCount(expertUUID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.streams[expertUUID])
}

// Deliver pushes a notification to every live stream for the expert.
// Missing subscribers are not an error; the code remains retrievable
// through the polling endpoint until it expires.
func (r *SSEStreamRegistry) Deliver(ctx context.Context, notification *CodeNotification) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, ch := range r.streams[notification.ExpertUUID] {
		select {
		case ch <- notification:
		default:
			// subscriber is not draining; skip it
		}
	}

	return nil
}

// MockCodeDeliverer is a mock implementation for testing
type MockCodeDeliverer struct {
	DeliverFunc func(ctx context.Context, notification *CodeNotification) error

	mu        sync.Mutex
	Delivered []*CodeNotification
}

func (m *MockCodeDeliverer) Deliver(ctx context.Context, notification *CodeNotification) error {
	m.mu.Lock()
	m.Delivered = append(m.Delivered, notification)
	m.mu.Unlock()

	if m.DeliverFunc != nil {
		return m.DeliverFunc(ctx, notification)
	}
	return nil
}

// DeliveredCount returns the number of notifications recorded so far
func (m *MockCodeDeliverer) DeliveredCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Delivered)
}
