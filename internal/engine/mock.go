package engine

import (
	"context"
	"iter"
	"sync"

	"github.com/Veraticus/mailtally/internal/extract"
	"github.com/Veraticus/mailtally/internal/model"
)

// MockSource is a test implementation of mailbox.Source backed by a fixed
// message list.
type MockSource struct {
	Err      error
	Messages []model.RawMessage
	mu       sync.Mutex
	calls    int
}

// Fetch yields the messages inside r, then Err if set.
func (m *MockSource) Fetch(ctx context.Context, r model.DateRange) iter.Seq2[model.RawMessage, error] {
	m.mu.Lock()
	m.calls++
	messages := append([]model.RawMessage(nil), m.Messages...)
	fetchErr := m.Err
	m.mu.Unlock()

	return func(yield func(model.RawMessage, error) bool) {
		for _, msg := range messages {
			if err := ctx.Err(); err != nil {
				yield(model.RawMessage{}, err)
				return
			}
			if !r.Contains(msg.ReceivedAt) {
				continue
			}
			if !yield(msg, nil) {
				return
			}
		}
		if fetchErr != nil {
			yield(model.RawMessage{}, fetchErr)
		}
	}
}

// Calls returns how many times Fetch was invoked.
func (m *MockSource) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// MockExtractor is a test implementation of Extractor. Results are looked up
// by message ID; unknown messages yield KindNoTransaction.
type MockExtractor struct {
	Results map[string]extract.Result
	Errors  map[string]error
	// Before runs at the start of every Extract call, outside the lock.
	Before func(c model.Candidate)
	calls  []string
	mu     sync.Mutex
}

// NewMockExtractor creates a mock with no scripted results.
func NewMockExtractor() *MockExtractor {
	return &MockExtractor{
		Results: make(map[string]extract.Result),
		Errors:  make(map[string]error),
	}
}

// Extract returns the scripted result for the candidate.
func (m *MockExtractor) Extract(_ context.Context, c model.Candidate) (extract.Result, error) {
	if m.Before != nil {
		m.Before(c)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, c.MessageID)

	if err, ok := m.Errors[c.MessageID]; ok {
		return extract.Result{}, err
	}
	if res, ok := m.Results[c.MessageID]; ok {
		return res, nil
	}
	return extract.Result{Kind: extract.KindNoTransaction, Reason: "no transaction"}, nil
}

// Calls returns the message IDs passed to Extract, in order.
func (m *MockExtractor) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}
