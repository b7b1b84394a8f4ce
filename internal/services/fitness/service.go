package fitness

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"

	"github.com/TheMichaelB/stepsync/internal/clock"
	"github.com/TheMichaelB/stepsync/internal/events"
	"github.com/TheMichaelB/stepsync/internal/models"
	"github.com/TheMichaelB/stepsync/internal/services/auth"
	"github.com/TheMichaelB/stepsync/internal/transport"
)

// DefaultHistoryLimit is how many entries Recent returns by default.
const DefaultHistoryLimit = 5

// Authenticator keeps a usable token installed on the transport, renewing
// it when possible.
type Authenticator interface {
	EnsureAuthenticated(ctx context.Context) error
}

// Service talks to the fitness backend on behalf of one user.
type Service struct {
	transport transport.Transport
	userID    string
	auth      Authenticator
	clock     clock.Clock
	logger    *events.Logger
}

// NewService creates a fitness client for userID.
func NewService(transport transport.Transport, userID string, clk clock.Clock, logger *events.Logger) *Service {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Service{
		transport: transport,
		userID:    userID,
		clock:     clk,
		logger:    logger.WithFields(map[string]interface{}{"service": "fitness", "user_id": userID}),
	}
}

// SetAuthenticator installs the token source consulted before every
// request. Call before use.
func (s *Service) SetAuthenticator(a Authenticator) {
	s.auth = a
}

// UserID returns the user this client pushes for.
func (s *Service) UserID() string {
	return s.userID
}

// Push upserts one day's stats. The backend keys entries by (user, day), so
// repeating a push is harmless.
func (s *Service) Push(ctx context.Context, stats models.DailyStats) error {
	if err := s.ready(ctx); err != nil {
		return &models.SyncError{Code: models.ErrCodeAuth, Phase: "push", UserID: s.userID, Date: stats.Date, Err: err}
	}

	log := s.logger.WithFields(map[string]interface{}{
		"date":  stats.Date,
		"steps": stats.Steps,
	})
	if id := events.GetRequestID(ctx); id != "" {
		log = log.WithField("request_id", id)
	}
	log.Debug("Logging daily stats")

	var resp models.LogResponse
	if err := s.transport.PostJSON(ctx, "/fitness/log", models.NewLogRequest(s.userID, stats), &resp); err != nil {
		return &models.SyncError{Code: codeOf(err), Phase: "push", UserID: s.userID, Date: stats.Date, Err: err}
	}

	log.Info("Daily stats logged")
	return nil
}

// Today returns the backend's record for the current day. A day with no
// record comes back zeroed.
func (s *Service) Today(ctx context.Context) (*models.DailyStats, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}

	var day models.DailyStats
	err := s.transport.GetJSON(ctx, "/fitness/today/"+url.PathEscape(s.userID), &day)
	switch {
	case isNotFound(err):
		return &models.DailyStats{Date: models.DayOf(s.clock.Now())}, nil
	case err != nil:
		return nil, fmt.Errorf("get today: %w", err)
	}

	if day.Date == "" {
		day.Date = models.DayOf(s.clock.Now())
	} else if day.Date, err = models.NormalizeDate(day.Date); err != nil {
		return nil, fmt.Errorf("get today: %w", err)
	}
	return &day, nil
}

// Stats fetches aggregated history for a range. Dates are normalized to
// local days. A 404 means the user has no history yet.
func (s *Service) Stats(ctx context.Context, r models.StatsRange) (*models.StatsReport, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	if _, err := models.ParseStatsRange(string(r)); err != nil {
		return nil, err
	}

	path := fmt.Sprintf("/fitness/stats/%s/%s", url.PathEscape(s.userID), r)

	var report models.StatsReport
	err := s.transport.GetJSON(ctx, path, &report)
	switch {
	case isNotFound(err):
		s.logger.WithField("range", string(r)).Debug("No stats yet")
		return &models.StatsReport{Period: string(r), Data: []models.DailyStats{}}, nil
	case err != nil:
		return nil, fmt.Errorf("get stats: %w", err)
	}

	for i := range report.Data {
		day, err := models.NormalizeDate(report.Data[i].Date)
		if err != nil {
			return nil, fmt.Errorf("get stats: %w", err)
		}
		report.Data[i].Date = day
	}
	if report.Data == nil {
		report.Data = []models.DailyStats{}
	}

	s.logger.WithFields(map[string]interface{}{
		"range":   string(r),
		"entries": len(report.Data),
	}).Debug("Fetched stats")
	return &report, nil
}

// Recent returns up to limit entries of the week range, most recent first.
func (s *Service) Recent(ctx context.Context, limit int) ([]models.DailyStats, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	report, err := s.Stats(ctx, models.RangeWeek)
	if err != nil {
		return nil, err
	}

	data := report.Data
	sort.SliceStable(data, func(i, j int) bool { return data[i].Date > data[j].Date })
	if len(data) > limit {
		data = data[:limit]
	}
	return data, nil
}

// Summary fetches lifetime totals.
func (s *Service) Summary(ctx context.Context) (*models.Summary, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}

	var summary models.Summary
	if err := s.transport.GetJSON(ctx, "/fitness/summary/"+url.PathEscape(s.userID), &summary); err != nil {
		return nil, fmt.Errorf("get summary: %w", err)
	}
	return &summary, nil
}

// Health probes the unauthenticated health endpoint.
func (s *Service) Health(ctx context.Context) (string, error) {
	var resp struct {
		Status string `json:"status"`
	}
	if err := s.transport.GetJSON(ctx, "/health", &resp); err != nil {
		return "", fmt.Errorf("health check: %w", err)
	}
	return resp.Status, nil
}

// ready fails fast, before any network I/O, when there is no identity or
// the token has expired and could not be renewed.
func (s *Service) ready(ctx context.Context) error {
	if s.userID == "" {
		return models.ErrNotAuthenticated
	}

	if s.auth != nil {
		if err := s.auth.EnsureAuthenticated(ctx); err != nil {
			if errors.Is(err, models.ErrNotAuthenticated) {
				return err
			}
			return fmt.Errorf("%w: %w", models.ErrNotAuthenticated, err)
		}
	}

	token := s.transport.GetToken()
	if token == "" {
		return models.ErrNotAuthenticated
	}
	// Tokens without readable claims are left to the backend.
	if info, err := auth.ParseToken(token); err == nil && info.ExpiredAt(s.clock.Now()) {
		return fmt.Errorf("%w: %w", models.ErrNotAuthenticated, models.ErrTokenExpired)
	}
	return nil
}

func isNotFound(err error) bool {
	var apiErr *models.APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

func codeOf(err error) string {
	var apiErr *models.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code != "" {
			return apiErr.Code
		}
		return models.CodeForStatus(apiErr.StatusCode)
	}
	return models.ErrCodeNetwork
}
