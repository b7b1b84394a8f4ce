package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/TheMichaelB/stepsync/internal/clock"
	"github.com/TheMichaelB/stepsync/internal/creds"
	"github.com/TheMichaelB/stepsync/internal/events"
	"github.com/TheMichaelB/stepsync/internal/models"
	"github.com/TheMichaelB/stepsync/internal/transport"
)

// renewWindow is how close to expiry a token is renewed from credentials.
const renewWindow = 5 * time.Minute

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	FirebaseUID string `json:"firebaseUid"`
	Email       string `json:"email"`
}

// LoginResponse is the backend's answer to a login.
type LoginResponse struct {
	Success bool `json:"success"`
	User    struct {
		ID          string `json:"id"`
		FirebaseUID string `json:"firebaseUid"`
		Email       string `json:"email"`
	} `json:"user"`
	Token string `json:"token"`
}

// Service handles authentication operations.
type Service struct {
	transport transport.Transport
	clock     clock.Clock
	logger    *events.Logger

	mu        sync.Mutex
	token     *models.TokenInfo
	tokenFile string

	// Combined credentials (optional)
	creds *creds.Combined
}

// NewService creates an auth service.
func NewService(transport transport.Transport, tokenFile string, logger *events.Logger) *Service {
	return &Service{
		transport: transport,
		tokenFile: tokenFile,
		clock:     clock.RealClock{},
		logger:    logger.WithField("service", "auth"),
	}
}

// SetClock replaces the time source for expiry checks. Call before use.
func (s *Service) SetClock(clk clock.Clock) {
	if clk != nil {
		s.clock = clk
	}
}

// SetCredentials sets the combined credentials.
func (s *Service) SetCredentials(c *creds.Combined) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = c
}

// Login exchanges a login identity for a backend token. Empty arguments
// fall back to the combined credentials.
func (s *Service) Login(ctx context.Context, email, firebaseUID string) error {
	s.mu.Lock()
	if s.creds != nil {
		if email == "" {
			email = s.creds.Auth.Email
		}
		if firebaseUID == "" {
			firebaseUID = s.creds.Auth.FirebaseUID
		}
	}
	s.mu.Unlock()

	if email == "" || firebaseUID == "" {
		return fmt.Errorf("email and firebase uid required")
	}

	s.logger.WithField("email", email).Info("Logging in")

	var resp LoginResponse
	if err := s.transport.PostJSON(ctx, "/auth/login", LoginRequest{FirebaseUID: firebaseUID, Email: email}, &resp); err != nil {
		return fmt.Errorf("login request: %w", err)
	}
	if resp.Token == "" {
		return fmt.Errorf("invalid login response: missing token")
	}

	info, err := ParseToken(resp.Token)
	if err != nil {
		return err
	}
	if info.UserID == "" {
		info.UserID = resp.User.FirebaseUID
	}
	if info.Email == "" {
		info.Email = email
	}

	s.setToken(info)

	s.logger.WithField("user_id", info.UserID).Info("Login successful")
	return nil
}

// UseToken adopts a token issued elsewhere, such as one pasted by the user.
func (s *Service) UseToken(token string) error {
	info, err := ParseToken(token)
	if err != nil {
		return err
	}
	if info.ExpiredAt(s.clock.Now()) {
		return fmt.Errorf("%w: %w", models.ErrNotAuthenticated, models.ErrTokenExpired)
	}
	s.setToken(info)

	s.logger.WithField("user_id", info.UserID).Info("Token stored")
	return nil
}

// Logout clears authentication. The backend keeps no sessions, so this is
// local only.
func (s *Service) Logout(ctx context.Context) error {
	s.logger.Info("Logging out")

	s.mu.Lock()
	defer s.mu.Unlock()

	s.token = nil
	s.transport.SetToken("")

	if s.tokenFile != "" {
		if err := os.Remove(s.tokenFile); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove token file: %w", err)
		}
	}

	return nil
}

// GetToken returns current token if valid.
func (s *Service) GetToken() (*models.TokenInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentToken()
}

// UserID returns the authenticated user's ID.
func (s *Service) UserID() (string, error) {
	info, err := s.GetToken()
	if err != nil {
		return "", err
	}
	return info.UserID, nil
}

// EnsureAuthenticated checks the token and renews it from credentials when
// it is missing or about to expire.
func (s *Service) EnsureAuthenticated(ctx context.Context) error {
	token, err := s.GetToken()
	if err == nil && !expiringSoon(token, s.clock.Now()) {
		return nil
	}

	s.mu.Lock()
	c := s.creds
	s.mu.Unlock()

	if c == nil {
		return err
	}

	rerr := s.renew(ctx, c)
	switch {
	case rerr == nil:
		return nil
	case err == nil:
		// Current token is still usable.
		s.logger.WithError(rerr).Warn("Token renewal failed")
		return nil
	default:
		return fmt.Errorf("%w: %w", models.ErrNotAuthenticated, rerr)
	}
}

func (s *Service) renew(ctx context.Context, c *creds.Combined) error {
	if c.HasLogin() {
		return s.Login(ctx, "", "")
	}
	return s.UseToken(c.Auth.Token)
}

func expiringSoon(t *models.TokenInfo, now time.Time) bool {
	return !t.ExpiresAt.IsZero() && t.ExpiresAt.Sub(now) < renewWindow
}

// ParseToken reads the claims of a backend JWT without verifying its
// signature; only the backend holds the key.
func ParseToken(token string) (*models.TokenInfo, error) {
	claims := &models.TokenClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	info := models.TokenInfoFromClaims(token, claims)
	if info.UserID == "" {
		return nil, errors.New("parse token: no user id claim")
	}
	return info, nil
}

// currentToken requires s.mu held.
func (s *Service) currentToken() (*models.TokenInfo, error) {
	if s.token == nil {
		if err := s.loadToken(); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				s.logger.WithError(err).Debug("No usable token file")
			}
			return nil, models.ErrNotAuthenticated
		}
		s.transport.SetToken(s.token.Token)
	}

	if s.token.ExpiredAt(s.clock.Now()) {
		return nil, fmt.Errorf("%w: %w", models.ErrNotAuthenticated, models.ErrTokenExpired)
	}

	return s.token, nil
}

func (s *Service) setToken(info *models.TokenInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.token = info
	s.transport.SetToken(info.Token)

	if err := s.saveToken(); err != nil {
		s.logger.WithError(err).Warn("Failed to save token")
	}
}

// Token persistence

func (s *Service) saveToken() error {
	if s.tokenFile == "" || s.token == nil {
		return nil
	}

	data, err := json.Marshal(s.token)
	if err != nil {
		return fmt.Errorf("marshal token: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.tokenFile), 0700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}

	// Save with restricted permissions
	return os.WriteFile(s.tokenFile, data, 0600)
}

func (s *Service) loadToken() error {
	if s.tokenFile == "" {
		return fmt.Errorf("no token file configured: %w", os.ErrNotExist)
	}

	data, err := os.ReadFile(s.tokenFile)
	if err != nil {
		return fmt.Errorf("read token file: %w", err)
	}

	var token models.TokenInfo
	if err := json.Unmarshal(data, &token); err != nil {
		return fmt.Errorf("parse token: %w", err)
	}
	if token.Token == "" {
		return errors.New("token file has no token")
	}

	s.token = &token
	return nil
}
