package clipboard

import (
	"context"
	"sync"
)

// MockClipboard is an in-memory Clipboard for tests.
type MockClipboard struct {
	mu      sync.Mutex
	content map[string][]byte
	events  chan struct{}
}

func NewMockClipboard() *MockClipboard {
	return &MockClipboard{
		content: map[string][]byte{},
		events:  make(chan struct{}, 16),
	}
}

// Set replaces the clipboard contents and fires a change event.
func (m *MockClipboard) Set(target string, data []byte) {
	m.mu.Lock()
	m.content = map[string][]byte{target: data}
	m.mu.Unlock()
	m.events <- struct{}{}
}

func (m *MockClipboard) Targets(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	targets := make([]string, 0, len(m.content))
	for t := range m.content {
		targets = append(targets, t)
	}
	return targets, nil
}

func (m *MockClipboard) Read(ctx context.Context, target string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.content[target], nil
}

func (m *MockClipboard) Write(ctx context.Context, target string, data []byte) error {
	m.mu.Lock()
	m.content = map[string][]byte{target: data}
	m.mu.Unlock()
	m.events <- struct{}{}
	return nil
}

func (m *MockClipboard) Watch(ctx context.Context) <-chan struct{} {
	out := make(chan struct{})
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-m.events:
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
