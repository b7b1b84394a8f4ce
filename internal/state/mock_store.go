package state

import (
	"sort"
	"sync"

	"github.com/TheMichaelB/stepsync/internal/models"
)

// MockStore provides an in-memory implementation for testing.
type MockStore struct {
	mu     sync.RWMutex
	states map[string]*models.DailyStepState
	saves  int
	locks  *keyLocks

	// SaveErr, when set, is returned by every Save.
	SaveErr error
}

// NewMockStore creates a mock state store.
func NewMockStore() *MockStore {
	return &MockStore{
		states: make(map[string]*models.DailyStepState),
		locks:  newKeyLocks(),
	}
}

// Load loads step state for a user.
func (m *MockStore) Load(userID string) (*models.DailyStepState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if st, ok := m.states[userID]; ok {
		return st.Clone(), nil
	}

	return nil, ErrStateNotFound
}

// Save saves step state for a user.
func (m *MockStore) Save(userID string, st *models.DailyStepState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SaveErr != nil {
		return m.SaveErr
	}

	c := st.Clone()
	c.UserID = userID
	m.states[userID] = c
	m.saves++
	return nil
}

// Reset removes step state for a user.
func (m *MockStore) Reset(userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.states, userID)
	return nil
}

// List returns all user IDs with stored state.
func (m *MockStore) List() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	userIDs := make([]string, 0, len(m.states))
	for userID := range m.states {
		userIDs = append(userIDs, userID)
	}
	sort.Strings(userIDs)
	return userIDs, nil
}

// Helper methods for testing

// SaveState stores state directly, bypassing SaveErr.
func (m *MockStore) SaveState(userID string, st *models.DailyStepState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[userID] = st.Clone()
}

// SetSaveErr changes the injected Save failure.
func (m *MockStore) SetSaveErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SaveErr = err
}

// Saves returns the number of successful Save calls.
func (m *MockStore) Saves() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves
}

// Lock acquires an exclusive lock for a user.
func (m *MockStore) Lock(userID string) (UnlockFunc, error) {
	return m.locks.acquire(userID)
}

// Migrate copies every state into target.
func (m *MockStore) Migrate(target Store) error {
	ids, _ := m.List()
	for _, id := range ids {
		st, err := m.Load(id)
		if err != nil {
			return err
		}
		if err := target.Save(id, st); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the store (no-op for mock).
func (m *MockStore) Close() error {
	return nil
}

// Clear removes all states.
func (m *MockStore) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states = make(map[string]*models.DailyStepState)
}
