package state

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/TheMichaelB/stepsync/internal/events"
	"github.com/TheMichaelB/stepsync/internal/models"
	"github.com/TheMichaelB/stepsync/internal/state/migrations"
)

// SQLiteStore implements SQLite-based state storage.
type SQLiteStore struct {
	db     *sql.DB
	logger *events.Logger
	locks  *keyLocks
}

// NewSQLiteStore opens dbPath and applies pending schema migrations.
func NewSQLiteStore(dbPath string, logger *events.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A single connection keeps WAL writers from tripping over each other.
	db.SetMaxOpenConns(1)

	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize database: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.WithField("component", "sqlite_state_store"),
		locks:  newKeyLocks(),
	}, nil
}

// SetLockTimeout changes how long Lock waits for a held user.
func (s *SQLiteStore) SetLockTimeout(d time.Duration) {
	s.locks.timeout = d
}

// SchemaStatus reports applied and latest migration versions.
func (s *SQLiteStore) SchemaStatus() (current, latest uint, dirty bool, err error) {
	return migrations.Status(s.db)
}

// Load retrieves state from database.
func (s *SQLiteStore) Load(userID string) (*models.DailyStepState, error) {
	s.logger.WithField("user_id", userID).Debug("Loading state from SQLite")

	st := models.DailyStepState{UserID: userID}
	var baseline sql.NullInt64

	err := s.db.QueryRow(`
        SELECT steps_today, initial_sensor_value, last_sync_date, last_backend_sync
        FROM step_states
        WHERE user_id = ?
    `, userID).Scan(&st.StepsToday, &baseline, &st.LastSyncDate, &st.LastBackendSync)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query state: %w", err)
	}

	if baseline.Valid {
		st.SetBaseline(baseline.Int64)
	}

	if err := st.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStateCorrupt, err)
	}

	return &st, nil
}

// Save upserts the user's row in one transaction.
func (s *SQLiteStore) Save(userID string, st *models.DailyStepState) error {
	s.logger.WithFields(map[string]interface{}{
		"user_id": userID,
		"steps":   st.StepsToday,
		"date":    st.LastSyncDate,
	}).Debug("Saving state to SQLite")

	var baseline sql.NullInt64
	if st.InitialSensorValue != nil {
		baseline = sql.NullInt64{Int64: *st.InitialSensorValue, Valid: true}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec(`
        INSERT INTO step_states (user_id, steps_today, initial_sensor_value, last_sync_date, last_backend_sync, updated_at)
        VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
        ON CONFLICT(user_id) DO UPDATE SET
            steps_today = excluded.steps_today,
            initial_sensor_value = excluded.initial_sensor_value,
            last_sync_date = excluded.last_sync_date,
            last_backend_sync = excluded.last_backend_sync,
            updated_at = CURRENT_TIMESTAMP
    `, userID, st.StepsToday, baseline, st.LastSyncDate, st.LastBackendSync)
	if err != nil {
		return fmt.Errorf("upsert state: %w", err)
	}

	return tx.Commit()
}

// Reset removes state for a user.
func (s *SQLiteStore) Reset(userID string) error {
	s.logger.WithField("user_id", userID).Info("Resetting state in SQLite")

	if _, err := s.db.Exec("DELETE FROM step_states WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("delete state: %w", err)
	}

	return nil
}

// List returns all user IDs.
func (s *SQLiteStore) List() ([]string, error) {
	rows, err := s.db.Query("SELECT user_id FROM step_states ORDER BY user_id")
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var userIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user ID: %w", err)
		}
		userIDs = append(userIDs, id)
	}

	return userIDs, rows.Err()
}

// Lock acquires a lock for a user.
func (s *SQLiteStore) Lock(userID string) (UnlockFunc, error) {
	return s.locks.acquire(userID)
}

// Migrate transfers all states to another store.
func (s *SQLiteStore) Migrate(target Store) error {
	return migrateAll(s, target, s.logger)
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
