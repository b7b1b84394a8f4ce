package state

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/TheMichaelB/stepsync/internal/events"
	"github.com/TheMichaelB/stepsync/internal/models"
)

// JSONStore implements file-based state storage, one file per user.
type JSONStore struct {
	baseDir string
	logger  *events.Logger

	mu    sync.RWMutex
	locks *keyLocks
}

// NewJSONStore creates a JSON-based state store.
func NewJSONStore(baseDir string, logger *events.Logger) (*JSONStore, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	return &JSONStore{
		baseDir: baseDir,
		logger:  logger.WithField("component", "json_state_store"),
		locks:   newKeyLocks(),
	}, nil
}

// SetLockTimeout changes how long Lock waits for a held user.
func (s *JSONStore) SetLockTimeout(d time.Duration) {
	s.locks.timeout = d
}

// Load reads state from the user's JSON file, falling back to the backup
// copy when the primary is unreadable.
func (s *JSONStore) Load(userID string) (*models.DailyStepState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	path := s.statePath(userID)

	s.logger.WithFields(map[string]interface{}{
		"user_id": userID,
		"path":    path,
	}).Debug("Loading state")

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}

	st, err := decodeStored(data)
	if err != nil {
		s.logger.WithError(err).WithField("user_id", userID).Error("State file unreadable")

		if backup, berr := s.loadBackup(userID); berr == nil {
			s.logger.Warn("Loaded state from backup due to corruption")
			return backup, nil
		}
		return nil, ErrStateCorrupt
	}

	return st, nil
}

// Save writes state to the user's JSON file via temp file and rename.
func (s *JSONStore) Save(userID string, st *models.DailyStepState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.statePath(userID)

	s.logger.WithFields(map[string]interface{}{
		"user_id": userID,
		"steps":   st.StepsToday,
		"date":    st.LastSyncDate,
	}).Debug("Saving state")

	record := st.Clone()
	record.UserID = userID

	jsonData, err := encodeStored(record, time.Now().UTC())
	if err != nil {
		return err
	}

	if _, err := os.Stat(path); err == nil {
		if err := s.copyFile(path, path+".backup"); err != nil {
			s.logger.WithError(err).Warn("Failed to create backup")
		}
	}

	tmpPath := path + ".tmp"
	if err := writeSynced(tmpPath, jsonData); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename state file: %w", err)
	}

	return nil
}

// Reset removes state for a user.
func (s *JSONStore) Reset(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.WithField("user_id", userID).Info("Resetting state")

	path := s.statePath(userID)
	for _, p := range []string{path, path + ".backup", path + ".tmp"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", filepath.Base(p), err)
		}
	}

	return nil
}

// List returns all user IDs with state.
func (s *JSONStore) List() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("read state directory: %w", err)
	}

	var userIDs []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if filepath.Ext(name) != ".json" {
			continue
		}

		userID, err := url.PathUnescape(strings.TrimSuffix(name, ".json"))
		if err != nil {
			s.logger.WithField("file", name).Warn("Skipping unrecognized state file")
			continue
		}
		userIDs = append(userIDs, userID)
	}

	return userIDs, nil
}

// Lock acquires a lock for a user.
func (s *JSONStore) Lock(userID string) (UnlockFunc, error) {
	return s.locks.acquire(userID)
}

// Migrate transfers all states to another store.
func (s *JSONStore) Migrate(target Store) error {
	return migrateAll(s, target, s.logger)
}

// Close releases resources.
func (s *JSONStore) Close() error {
	return nil
}

// Helper methods

func (s *JSONStore) statePath(userID string) string {
	return filepath.Join(s.baseDir, url.PathEscape(userID)+".json")
}

func (s *JSONStore) loadBackup(userID string) (*models.DailyStepState, error) {
	data, err := os.ReadFile(s.statePath(userID) + ".backup")
	if err != nil {
		return nil, err
	}
	return decodeStored(data)
}

func (s *JSONStore) copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

func writeSynced(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// encodeStored wraps st with metadata and a checksum over the unchecksummed form.
func encodeStored(st *models.DailyStepState, savedAt time.Time) ([]byte, error) {
	wrapper := StoredState{
		DailyStepState: st,
		SchemaVersion:  CurrentSchemaVersion,
		SavedAt:        savedAt,
	}

	checksumData, err := json.Marshal(wrapper)
	if err != nil {
		return nil, fmt.Errorf("marshal state for checksum: %w", err)
	}
	hash := sha256.Sum256(checksumData)
	wrapper.Checksum = hex.EncodeToString(hash[:])

	jsonData, err := json.MarshalIndent(wrapper, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal state with checksum: %w", err)
	}
	return jsonData, nil
}

// decodeStored parses and verifies a stored record.
func decodeStored(data []byte) (*models.DailyStepState, error) {
	var wrapper StoredState
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStateCorrupt, err)
	}
	if wrapper.DailyStepState == nil {
		return nil, fmt.Errorf("%w: empty record", ErrStateCorrupt)
	}

	if wrapper.Checksum != "" {
		verification := StoredState{
			DailyStepState: wrapper.DailyStepState,
			SchemaVersion:  wrapper.SchemaVersion,
			SavedAt:        wrapper.SavedAt,
		}
		verifyData, err := json.Marshal(verification)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStateCorrupt, err)
		}
		hash := sha256.Sum256(verifyData)
		if hex.EncodeToString(hash[:]) != wrapper.Checksum {
			return nil, fmt.Errorf("%w: checksum mismatch", ErrStateCorrupt)
		}
	}

	if wrapper.SchemaVersion > CurrentSchemaVersion {
		return nil, fmt.Errorf("%w: schema version %d is newer than %d",
			ErrStateCorrupt, wrapper.SchemaVersion, CurrentSchemaVersion)
	}

	if err := wrapper.DailyStepState.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStateCorrupt, err)
	}

	return wrapper.DailyStepState, nil
}
