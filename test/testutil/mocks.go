package testutil

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/TheMichaelB/stepsync/internal/models"
)

// MockPusher mocks the push side of the fitness client.
type MockPusher struct {
	mock.Mock
}

func (m *MockPusher) Push(ctx context.Context, stats models.DailyStats) error {
	args := m.Called(ctx, stats)
	return args.Error(0)
}

// FakePusher records pushes and can fail or block them.
type FakePusher struct {
	mu     sync.Mutex
	pushes []models.DailyStats
	err    error
	gate   chan struct{}
}

func NewFakePusher() *FakePusher {
	return &FakePusher{}
}

func (p *FakePusher) Push(ctx context.Context, stats models.DailyStats) error {
	p.mu.Lock()
	gate := p.gate
	p.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.pushes = append(p.pushes, stats)
	return p.err
}

// SetErr makes subsequent pushes fail with err.
func (p *FakePusher) SetErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Hold blocks pushes until the returned release func is called.
func (p *FakePusher) Hold() (release func()) {
	gate := make(chan struct{})
	p.mu.Lock()
	p.gate = gate
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			p.gate = nil
			p.mu.Unlock()
			close(gate)
		})
	}
}

// Pushes returns every attempted push in order.
func (p *FakePusher) Pushes() []models.DailyStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.DailyStats(nil), p.pushes...)
}

// Count returns the number of attempted pushes.
func (p *FakePusher) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pushes)
}

// AssertMockExpectations verifies all mock expectations.
func AssertMockExpectations(t mock.TestingT, mocks ...interface{}) {
	for _, m := range mocks {
		if mockObj, ok := m.(interface{ AssertExpectations(mock.TestingT) bool }); ok {
			mockObj.AssertExpectations(t)
		}
	}
}
