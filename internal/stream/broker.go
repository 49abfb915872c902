package stream

import (
	"sync"
)

// PayloadType tags an event delivered to stream subscribers.
type PayloadType string

const (
	PayloadDelta PayloadType = "delta"
	PayloadError PayloadType = "error"
	// PayloadDone is the end-of-stream sentinel; it is always the last payload
	// a subscriber receives and its queue is never written again afterwards.
	PayloadDone PayloadType = "done"
)

// Payload is one event fanned out to every subscriber of a stream session.
type Payload struct {
	Type    PayloadType `json:"type"`
	TurnID  string      `json:"turn_id"`
	Content string      `json:"content,omitempty"`
	Message string      `json:"message,omitempty"`
}

// Session is the ephemeral state of one in-flight generation for one
// conversation. Mutable fields are guarded by mu; the broker's registry has
// its own lock so unrelated conversations never contend.
type Session struct {
	ConversationID string
	TurnID         string

	mu          sync.Mutex
	content     string
	done        bool
	subscribers map[chan Payload]struct{}
}

// Broker is an in-memory single-producer/multi-consumer token relay with
// snapshot-on-subscribe semantics. At most one live session exists per
// conversation; starting a new one finalizes any stale prior session.
type Broker struct {
	queueSize int

	mu       sync.Mutex
	sessions map[string]*Session

	onDrop func(conversationID string)
}

func NewBroker(queueSize int) *Broker {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Broker{
		queueSize: queueSize,
		sessions:  make(map[string]*Session),
	}
}

// SetDropHook installs a callback invoked when a slow subscriber's queue is
// full and a payload is discarded for it.
func (b *Broker) SetDropHook(hook func(conversationID string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onDrop = hook
}

// Start registers a fresh session for the conversation. A still-live prior
// session is treated as abandoned and finished first, so leaked sessions from
// a crashed or cancelled request self-heal here.
func (b *Broker) Start(conversationID, turnID string) *Session {
	b.mu.Lock()
	existing := b.sessions[conversationID]
	b.mu.Unlock()
	if existing != nil {
		b.Finish(conversationID)
	}

	s := &Session{
		ConversationID: conversationID,
		TurnID:         turnID,
		subscribers:    make(map[chan Payload]struct{}),
	}
	b.mu.Lock()
	b.sessions[conversationID] = s
	b.mu.Unlock()
	return s
}

func (b *Broker) get(conversationID string) *Session {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sessions[conversationID]
}

// ActiveCount returns the number of live sessions.
func (b *Broker) ActiveCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions)
}

// Append adds a delta to the accumulated text and fans it out to all current
// subscribers. No-op when no live session exists or the session is done.
func (b *Broker) Append(conversationID, delta string) {
	s := b.get(conversationID)
	if s == nil {
		return
	}

	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.content += delta
	payload := Payload{Type: PayloadDelta, TurnID: s.TurnID, Content: delta}
	queues := subscriberQueues(s)
	s.mu.Unlock()

	b.deliver(conversationID, queues, payload)
}

// Error fans an error payload out to subscribers. It does not finalize the
// session; the producer calls Finish in its cleanup path regardless.
func (b *Broker) Error(conversationID, message string) {
	s := b.get(conversationID)
	if s == nil {
		return
	}

	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	payload := Payload{Type: PayloadError, TurnID: s.TurnID, Message: message}
	queues := subscriberQueues(s)
	s.mu.Unlock()

	b.deliver(conversationID, queues, payload)
}

// Finish marks the session done, pushes the end sentinel to every subscriber,
// clears the subscriber set, and removes the session from the registry.
// Idempotent: a second call for the same session is a no-op.
func (b *Broker) Finish(conversationID string) {
	s := b.get(conversationID)
	if s == nil {
		return
	}

	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	queues := subscriberQueues(s)
	s.subscribers = make(map[chan Payload]struct{})
	turnID := s.TurnID
	s.mu.Unlock()

	b.deliver(conversationID, queues, Payload{Type: PayloadDone, TurnID: turnID})

	b.mu.Lock()
	if b.sessions[conversationID] == s {
		delete(b.sessions, conversationID)
	}
	b.mu.Unlock()
}

// Subscribe atomically snapshots the accumulated text and registers a new
// queue, so a late subscriber sees everything so far exactly once followed by
// only deltas. Returns ok=false when nothing is in flight.
func (b *Broker) Subscribe(conversationID string) (*Session, <-chan Payload, string, bool) {
	s := b.get(conversationID)
	if s == nil {
		return nil, nil, "", false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return nil, nil, "", false
	}
	queue := make(chan Payload, b.queueSize)
	s.subscribers[queue] = struct{}{}
	return s, queue, s.content, true
}

// Unsubscribe removes the queue from the session's subscriber set. Safe to
// call after the session has finished.
func (b *Broker) Unsubscribe(s *Session, queue <-chan Payload) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for q := range s.subscribers {
		if (<-chan Payload)(q) == queue {
			delete(s.subscribers, q)
			return
		}
	}
}

func subscriberQueues(s *Session) []chan Payload {
	queues := make([]chan Payload, 0, len(s.subscribers))
	for q := range s.subscribers {
		queues = append(queues, q)
	}
	return queues
}

// deliver is a non-blocking fan-out: a subscriber whose queue is full loses
// the payload rather than stalling the producer.
func (b *Broker) deliver(conversationID string, queues []chan Payload, payload Payload) {
	for _, q := range queues {
		select {
		case q <- payload:
		default:
			if b.onDrop != nil {
				b.onDrop(conversationID)
			}
		}
	}
}
