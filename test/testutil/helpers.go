package testutil

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/TheMichaelB/stepsync/internal/models"
)

// LogEntry represents a captured log entry for testing
type LogEntry struct {
	Level   string    `json:"level"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
	Error   string    `json:"error,omitempty"`
}

// TestServer is an in-memory fitness backend speaking the REST contract
// under /api. Records are upserted per (userId, day).
type TestServer struct {
	*httptest.Server
	secret []byte

	mu          sync.RWMutex
	records     map[string]map[string]storedRecord
	logCalls    int
	failLogs    int
	logDelay    time.Duration
	statsStatus int
	requests    []string
}

type storedRecord struct {
	models.DailyStats
	UpdatedAt time.Time
}

// NewTestServer creates a new fake backend.
func NewTestServer() *TestServer {
	ts := &TestServer{
		secret:  []byte("test-secret"),
		records: make(map[string]map[string]storedRecord),
	}

	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Use(ts.recordRequest)
		r.Get("/health", ts.handleHealth)
		r.Post("/auth/login", ts.handleLogin)

		r.Route("/fitness", func(r chi.Router) {
			r.Use(ts.verifyToken)
			r.Post("/log", ts.handleLog)
			r.Get("/today/{userId}", ts.handleToday)
			r.Get("/stats/{userId}/{range}", ts.handleStats)
			r.Get("/summary/{userId}", ts.handleSummary)
		})
	})

	ts.Server = httptest.NewServer(r)
	return ts
}

// BaseURL returns the API root to configure clients with.
func (ts *TestServer) BaseURL() string {
	return ts.Server.URL + "/api"
}

// IssueToken signs a token for userID valid for ttl.
func (ts *TestServer) IssueToken(userID, email string, ttl time.Duration) string {
	claims := models.TokenClaims{
		UID:   userID,
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ts.secret)
	if err != nil {
		panic(err)
	}
	return signed
}

// Seed stores a record directly.
func (ts *TestServer) Seed(userID string, stats models.DailyStats) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.upsert(userID, stats)
}

// Records returns a user's records, newest first.
func (ts *TestServer) Records(userID string) []models.DailyStats {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.sortedRecords(userID, false)
}

// LogCalls returns how many POST /fitness/log requests were accepted.
func (ts *TestServer) LogCalls() int {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.logCalls
}

// FailLogs makes the next n log requests answer 500.
func (ts *TestServer) FailLogs(n int) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.failLogs = n
}

// SetLogDelay holds every log request for d before answering.
func (ts *TestServer) SetLogDelay(d time.Duration) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.logDelay = d
}

// SetStatsStatus forces the stats endpoint to answer with status. 0 restores
// normal behavior.
func (ts *TestServer) SetStatsStatus(status int) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.statsStatus = status
}

// Requests returns "METHOD path" for every request seen.
func (ts *TestServer) Requests() []string {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return append([]string(nil), ts.requests...)
}

func (ts *TestServer) recordRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.mu.Lock()
		ts.requests = append(ts.requests, r.Method+" "+r.URL.Path)
		ts.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (ts *TestServer) verifyToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "No token provided")
			return
		}

		_, err := jwt.ParseWithClaims(token, &models.TokenClaims{}, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("unexpected signing method")
			}
			return ts.secret, nil
		})
		if err != nil {
			writeError(w, http.StatusForbidden, "Invalid token")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (ts *TestServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "Fitness Service OK"})
}

func (ts *TestServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FirebaseUID string `json:"firebaseUid"`
		Email       string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.FirebaseUID == "" || req.Email == "" {
		writeError(w, http.StatusBadRequest, "firebaseUid and email required")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"user": map[string]string{
			"id":          "u-" + req.FirebaseUID,
			"firebaseUid": req.FirebaseUID,
			"email":       req.Email,
		},
		"token": ts.IssueToken(req.FirebaseUID, req.Email, 7*24*time.Hour),
	})
}

func (ts *TestServer) handleLog(w http.ResponseWriter, r *http.Request) {
	var req models.LogRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" || req.Date == "" {
		writeError(w, http.StatusBadRequest, "userId and date required")
		return
	}

	day, err := models.NormalizeDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad date")
		return
	}

	ts.mu.Lock()
	delay := ts.logDelay
	fail := ts.failLogs > 0
	if fail {
		ts.failLogs--
	}
	ts.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}
	if fail {
		writeError(w, http.StatusInternalServerError, "Failed to log data")
		return
	}

	stats := models.DailyStats{
		Date:          day,
		Steps:         req.Steps,
		Calories:      req.Calories,
		Distance:      req.Distance,
		ActiveMinutes: req.ActiveMinutes,
	}

	ts.mu.Lock()
	ts.logCalls++
	rec := ts.upsert(req.UserID, stats)
	ts.mu.Unlock()

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"data":    wireRecord(req.UserID, rec),
	})
}

func (ts *TestServer) handleToday(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	today := models.DayOf(time.Now())

	ts.mu.RLock()
	rec, ok := ts.records[userID][today]
	ts.mu.RUnlock()

	if !ok {
		rec = storedRecord{DailyStats: models.DailyStats{Date: today}}
	}
	writeJSON(w, http.StatusOK, wireRecord(userID, rec))
}

func (ts *TestServer) handleStats(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	period := chi.URLParam(r, "range")

	ts.mu.RLock()
	status := ts.statsStatus
	data := ts.sortedRecords(userID, true)
	ts.mu.RUnlock()

	if status != 0 {
		writeError(w, status, http.StatusText(status))
		return
	}

	report := map[string]interface{}{"period": period}
	var steps, calories, minutes int64
	var distance float64
	rows := make([]map[string]interface{}, 0, len(data))
	for _, d := range data {
		steps += d.Steps
		calories += d.Calories
		distance += d.Distance
		minutes += d.ActiveMinutes
		rows = append(rows, wireRecord(userID, storedRecord{DailyStats: d}))
	}
	report["totalSteps"] = steps
	report["totalCalories"] = calories
	report["totalDistance"] = distance
	report["totalActiveMinutes"] = minutes
	report["averageSteps"] = 0
	report["averageCalories"] = 0
	if n := int64(len(data)); n > 0 {
		report["averageSteps"] = (steps + n/2) / n
		report["averageCalories"] = (calories + n/2) / n
	}
	report["data"] = rows

	writeJSON(w, http.StatusOK, report)
}

func (ts *TestServer) handleSummary(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")

	ts.mu.RLock()
	defer ts.mu.RUnlock()

	summary := models.Summary{}
	var last time.Time
	for _, rec := range ts.records[userID] {
		summary.TotalEntries++
		summary.TotalSteps += rec.Steps
		summary.TotalCalories += rec.Calories
		summary.TotalDistance += rec.Distance
		summary.TotalActiveMinutes += rec.ActiveMinutes
		if rec.UpdatedAt.After(last) {
			last = rec.UpdatedAt
		}
	}
	if !last.IsZero() {
		summary.LastUpdate = &last
	}

	writeJSON(w, http.StatusOK, summary)
}

// upsert requires ts.mu held.
func (ts *TestServer) upsert(userID string, stats models.DailyStats) storedRecord {
	days, ok := ts.records[userID]
	if !ok {
		days = make(map[string]storedRecord)
		ts.records[userID] = days
	}
	rec := storedRecord{DailyStats: stats, UpdatedAt: time.Now()}
	days[stats.Date] = rec
	return rec
}

// sortedRecords requires ts.mu held.
func (ts *TestServer) sortedRecords(userID string, ascending bool) []models.DailyStats {
	out := make([]models.DailyStats, 0, len(ts.records[userID]))
	for _, rec := range ts.records[userID] {
		out = append(out, rec.DailyStats)
	}
	sort.Slice(out, func(i, j int) bool {
		if ascending {
			return out[i].Date < out[j].Date
		}
		return out[i].Date > out[j].Date
	})
	return out
}

// wireRecord renders a record the way the backend stores it: the day as a
// midnight timestamp.
func wireRecord(userID string, rec storedRecord) map[string]interface{} {
	date := rec.Date
	if t, err := time.ParseInLocation(models.DateFormat, rec.Date, time.Local); err == nil {
		date = t.Format(time.RFC3339)
	}
	return map[string]interface{}{
		"userId":        userID,
		"date":          date,
		"steps":         rec.Steps,
		"calories":      rec.Calories,
		"distance":      rec.Distance,
		"activeMinutes": rec.ActiveMinutes,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// TestTimeout provides timeout context for tests.
func TestTimeout(duration time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), duration)
}

// TestContext creates a test context with reasonable timeout.
func TestContext() (context.Context, context.CancelFunc) {
	return TestTimeout(30 * time.Second)
}

// WaitForCondition waits for a condition to be true with timeout.
func WaitForCondition(t *testing.T, condition func() bool, timeout time.Duration, message string) {
	t.Helper()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		if condition() {
			return
		}
		select {
		case <-timer.C:
			t.Fatalf("Timeout waiting for condition: %s", message)
		case <-ticker.C:
		}
	}
}

// LogOutput captures JSON log output for testing.
type LogOutput struct {
	mu      sync.RWMutex
	entries []LogEntry
}

// NewLogOutput creates a new log output capturer.
func NewLogOutput() *LogOutput {
	return &LogOutput{}
}

// Write implements io.Writer to capture log output.
func (lo *LogOutput) Write(p []byte) (n int, err error) {
	var entry LogEntry
	if err := json.Unmarshal(p, &entry); err == nil {
		lo.mu.Lock()
		lo.entries = append(lo.entries, entry)
		lo.mu.Unlock()
	}
	return len(p), nil
}

// Entries returns captured log entries.
func (lo *LogOutput) Entries() []LogEntry {
	lo.mu.RLock()
	defer lo.mu.RUnlock()

	entries := make([]LogEntry, len(lo.entries))
	copy(entries, lo.entries)
	return entries
}

// HasLevel checks if any log entry has the specified level.
func (lo *LogOutput) HasLevel(level string) bool {
	lo.mu.RLock()
	defer lo.mu.RUnlock()

	for _, entry := range lo.entries {
		if entry.Level == level {
			return true
		}
	}
	return false
}

// HasMessage checks if any log entry contains the message.
func (lo *LogOutput) HasMessage(message string) bool {
	lo.mu.RLock()
	defer lo.mu.RUnlock()

	for _, entry := range lo.entries {
		if strings.Contains(entry.Message, message) {
			return true
		}
	}
	return false
}

// Clear clears all captured entries.
func (lo *LogOutput) Clear() {
	lo.mu.Lock()
	defer lo.mu.Unlock()
	lo.entries = nil
}

// SkipIfShort skips test if testing.Short() is true.
func SkipIfShort(t *testing.T, reason string) {
	if testing.Short() {
		t.Skipf("Skipping test in short mode: %s", reason)
	}
}
