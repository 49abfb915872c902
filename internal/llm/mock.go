package llm

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

// ErrMockExhausted is returned when a scripted mock runs out of responses.
var ErrMockExhausted = errors.New("mock client: no scripted response")

// MockClient is a scripted in-process client for tests and local dev.
// Each GenerateStream call consumes the next scripted StreamReply; each
// GenerateJSON call consumes the next scripted JSON document.
type MockClient struct {
	mu sync.Mutex

	StreamReplies []StreamReply
	JSONReplies   []string
	JSONErr       error
	StreamErr     error

	StreamCalls []StreamRequest
	JSONCalls   []JSONRequest
}

// StreamReply scripts one streaming response: the deltas delivered through
// the callback plus the final text returned to the caller.
type StreamReply struct {
	Deltas []string
	Final  string
}

func NewMockClient() *MockClient { return &MockClient{} }

func (m *MockClient) GenerateStream(ctx context.Context, req StreamRequest, onDelta DeltaHandler) (string, error) {
	m.mu.Lock()
	m.StreamCalls = append(m.StreamCalls, req)
	if m.StreamErr != nil {
		err := m.StreamErr
		m.mu.Unlock()
		return "", err
	}
	if len(m.StreamReplies) == 0 {
		m.mu.Unlock()
		return "", ErrMockExhausted
	}
	reply := m.StreamReplies[0]
	m.StreamReplies = m.StreamReplies[1:]
	m.mu.Unlock()

	for _, delta := range reply.Deltas {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}
		if onDelta != nil {
			if err := onDelta(delta); err != nil {
				return "", err
			}
		}
	}
	return reply.Final, nil
}

func (m *MockClient) GenerateJSON(ctx context.Context, req JSONRequest, out any) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	m.mu.Lock()
	m.JSONCalls = append(m.JSONCalls, req)
	if m.JSONErr != nil {
		err := m.JSONErr
		m.mu.Unlock()
		return err
	}
	if len(m.JSONReplies) == 0 {
		m.mu.Unlock()
		return ErrMockExhausted
	}
	raw := m.JSONReplies[0]
	m.JSONReplies = m.JSONReplies[1:]
	m.mu.Unlock()

	return json.Unmarshal([]byte(raw), out)
}
