// Package notification provides the notification manager for broadcasting events.
package notification

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"
)

// DefaultSendTimeout bounds how long Broadcast waits for one subscriber.
const DefaultSendTimeout = 500 * time.Millisecond

// ErrSubscriberBehind is returned by ChannelStream when its buffer is full.
var ErrSubscriberBehind = errors.New("subscriber is not keeping up")

// Envelope carries a payload with its broadcast sequence number.
type Envelope[T any] struct {
	SequenceNo uint64
	Payload    T
}

// Stream represents a notification stream for a subscriber.
type Stream[T any] interface {
	Send(Envelope[T]) error
}

// subscription represents a subscriber's subscription.
type subscription[T any] struct {
	id     string
	stream Stream[T]
}

// Manager manages notification subscriptions and broadcasting.
type Manager[T any] struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription[T]
	sequenceNo    uint64
	sequenceNoMu  sync.Mutex
	sendTimeout   time.Duration
}

// NewManager creates a new notification manager.
func NewManager[T any]() *Manager[T] {
	return &Manager[T]{
		subscriptions: make(map[string]*subscription[T]),
		sendTimeout:   DefaultSendTimeout,
	}
}

// Subscribe adds a new subscription and returns the subscription ID.
func (m *Manager[T]) Subscribe(stream Stream[T]) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.New().String()
	m.subscriptions[id] = &subscription[T]{
		id:     id,
		stream: stream,
	}
	return id
}

// Unsubscribe removes a subscription.
func (m *Manager[T]) Unsubscribe(subscriptionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subscriptions, subscriptionID)
}

// Broadcast sends a payload to all subscribers and returns its sequence number.
// Each stream send is done in a goroutine with a timeout to prevent blocking.
func (m *Manager[T]) Broadcast(payload T) uint64 {
	m.sequenceNoMu.Lock()
	m.sequenceNo++
	env := Envelope[T]{SequenceNo: m.sequenceNo, Payload: payload}
	m.sequenceNoMu.Unlock()

	m.mu.RLock()
	subs := make([]*subscription[T], 0, len(m.subscriptions))
	for _, sub := range m.subscriptions {
		subs = append(subs, sub)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(s *subscription[T]) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), m.sendTimeout)
			defer cancel()

			done := make(chan error, 1)
			go func() {
				done <- s.stream.Send(env)
			}()

			select {
			case err := <-done:
				if err != nil {
					zlog.Debug().Err(err).Msgf("notification: send failed: subscription=%s, seq=%d", s.id, env.SequenceNo)
				}
			case <-ctx.Done():
				zlog.Debug().Msgf("notification: send timed out: subscription=%s, seq=%d", s.id, env.SequenceNo)
			}
		}(sub)
	}

	wg.Wait()
	return env.SequenceNo
}

// Forward broadcasts every value received on ch until ctx is done or ch is closed.
func (m *Manager[T]) Forward(ctx context.Context, ch <-chan T) {
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-ch:
			if !ok {
				return
			}
			m.Broadcast(v)
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (m *Manager[T]) SubscriberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscriptions)
}

// Close removes all subscriptions.
func (m *Manager[T]) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = make(map[string]*subscription[T])
}

// ChannelStream delivers envelopes to a buffered channel without blocking.
type ChannelStream[T any] struct {
	ch chan Envelope[T]
}

// NewChannelStream creates a stream with the given buffer size.
func NewChannelStream[T any](size int) *ChannelStream[T] {
	return &ChannelStream[T]{ch: make(chan Envelope[T], size)}
}

// Send queues env, or fails when the buffer is full.
func (s *ChannelStream[T]) Send(env Envelope[T]) error {
	select {
	case s.ch <- env:
		return nil
	default:
		return ErrSubscriberBehind
	}
}

// C returns the receive side of the stream.
func (s *ChannelStream[T]) C() <-chan Envelope[T] {
	return s.ch
}
