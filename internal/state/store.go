package state

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/TheMichaelB/stepsync/internal/events"
	"github.com/TheMichaelB/stepsync/internal/models"
)

// Store manages per-user step state persistence. Save must replace the whole
// record for a user atomically.
type Store interface {
	// Load retrieves the step state for a user.
	Load(userID string) (*models.DailyStepState, error)

	// Save persists the step state for a user.
	Save(userID string, state *models.DailyStepState) error

	// Reset removes all state for a user.
	Reset(userID string) error

	// List returns all known user IDs.
	List() ([]string, error)

	// Lock acquires an exclusive lock for a user.
	Lock(userID string) (UnlockFunc, error)

	// Migrate transfers state between stores.
	Migrate(target Store) error

	// Close releases resources.
	Close() error
}

// UnlockFunc releases a user lock.
type UnlockFunc func()

// Errors
var (
	ErrStateNotFound = errors.New("state not found")
	ErrStateLocked   = errors.New("state is locked")
	ErrStateCorrupt  = errors.New("state file is corrupt")
)

// StoredState extends the model with store metadata.
type StoredState struct {
	*models.DailyStepState

	// Store metadata
	SchemaVersion int       `json:"schema_version"`
	SavedAt       time.Time `json:"saved_at"`
	Checksum      string    `json:"checksum,omitempty"`
}

// CurrentSchemaVersion for migrations.
const CurrentSchemaVersion = 1

// DefaultLockTimeout bounds how long Lock waits for a held user key.
const DefaultLockTimeout = 5 * time.Second

// keyLocks hands out one exclusive slot per user.
type keyLocks struct {
	mu      sync.Mutex
	slots   map[string]chan struct{}
	timeout time.Duration
}

func newKeyLocks() *keyLocks {
	return &keyLocks{
		slots:   make(map[string]chan struct{}),
		timeout: DefaultLockTimeout,
	}
}

func (k *keyLocks) slot(userID string) chan struct{} {
	k.mu.Lock()
	defer k.mu.Unlock()

	s, ok := k.slots[userID]
	if !ok {
		s = make(chan struct{}, 1)
		k.slots[userID] = s
	}
	return s
}

// acquire waits up to the timeout for userID's slot.
func (k *keyLocks) acquire(userID string) (UnlockFunc, error) {
	s := k.slot(userID)

	timer := time.NewTimer(k.timeout)
	defer timer.Stop()

	select {
	case s <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-s }) }, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: user %s", ErrStateLocked, userID)
	}
}

// migrateAll copies every user from src into target. Unreadable entries are
// logged and skipped.
func migrateAll(src, target Store, logger *events.Logger) error {
	userIDs, err := src.List()
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}

	logger.WithField("count", len(userIDs)).Info("Migrating states")

	for _, userID := range userIDs {
		st, err := src.Load(userID)
		if err != nil {
			logger.WithError(err).WithField("user_id", userID).Error("Failed to load state")
			continue
		}

		if err := target.Save(userID, st); err != nil {
			return fmt.Errorf("save user %s: %w", userID, err)
		}

		logger.WithField("user_id", userID).Debug("Migrated state")
	}

	return nil
}
