package auth_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/stepsync/internal/creds"
	"github.com/TheMichaelB/stepsync/internal/models"
	"github.com/TheMichaelB/stepsync/internal/services/auth"
	"github.com/TheMichaelB/stepsync/internal/transport"
	"github.com/TheMichaelB/stepsync/test/testutil"
)

func newBackend(t *testing.T) (*testutil.TestServer, transport.Transport) {
	t.Helper()
	server := testutil.NewTestServer()
	t.Cleanup(server.Close)

	cfg := testutil.TestConfigWithDir(t.TempDir())
	cfg.API.BaseURL = server.BaseURL()
	return server, transport.NewTransport(&cfg.API, testutil.NewTestLogger())
}

func TestAuthService(t *testing.T) {
	logger := testutil.NewTestLogger()
	_, tr := newBackend(t)
	tokenFile := filepath.Join(t.TempDir(), "auth", "token.json")

	service := auth.NewService(tr, tokenFile, logger)

	t.Run("successful login", func(t *testing.T) {
		err := service.Login(context.Background(), "walker@example.com", "fb-1")
		require.NoError(t, err)

		token, err := service.GetToken()
		require.NoError(t, err)
		assert.Equal(t, "fb-1", token.UserID)
		assert.Equal(t, "walker@example.com", token.Email)
		assert.False(t, token.IsExpired())

		// Verify transport token was set
		assert.Equal(t, token.Token, tr.GetToken())
	})

	t.Run("token persistence", func(t *testing.T) {
		mock := transport.NewMockTransport()
		service2 := auth.NewService(mock, tokenFile, logger)

		userID, err := service2.UserID()
		require.NoError(t, err)
		assert.Equal(t, "fb-1", userID)
		assert.Equal(t, tr.GetToken(), mock.GetToken())

		info, err := os.Stat(tokenFile)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	})

	t.Run("logout", func(t *testing.T) {
		require.NoError(t, service.Logout(context.Background()))

		_, err := service.GetToken()
		assert.ErrorIs(t, err, models.ErrNotAuthenticated)
		assert.Empty(t, tr.GetToken())

		_, err = os.Stat(tokenFile)
		assert.True(t, os.IsNotExist(err))

		// Logging out twice is fine.
		assert.NoError(t, service.Logout(context.Background()))
	})
}

func TestLoginValidation(t *testing.T) {
	_, tr := newBackend(t)
	service := auth.NewService(tr, "", testutil.NewTestLogger())

	err := service.Login(context.Background(), "walker@example.com", "")
	assert.ErrorContains(t, err, "firebase uid required")

	mock := transport.NewMockTransport()
	mock.PostResponses["/auth/login"] = map[string]interface{}{"success": true}
	service = auth.NewService(mock, "", testutil.NewTestLogger())
	err = service.Login(context.Background(), "walker@example.com", "fb-1")
	assert.ErrorContains(t, err, "missing token")
}

func TestUseToken(t *testing.T) {
	server, tr := newBackend(t)
	service := auth.NewService(tr, "", testutil.NewTestLogger())

	require.NoError(t, service.UseToken(server.IssueToken("fb-2", "runner@example.com", time.Hour)))
	userID, err := service.UserID()
	require.NoError(t, err)
	assert.Equal(t, "fb-2", userID)

	err = service.UseToken(server.IssueToken("fb-2", "", -time.Minute))
	assert.ErrorIs(t, err, models.ErrTokenExpired)
	assert.ErrorIs(t, err, models.ErrNotAuthenticated)

	assert.Error(t, service.UseToken("not-a-jwt"))
}

func TestTokenExpiry(t *testing.T) {
	server, tr := newBackend(t)
	tokenFile := filepath.Join(t.TempDir(), "token.json")

	expired, err := auth.ParseToken(server.IssueToken("fb-1", "", -time.Hour))
	require.NoError(t, err)
	writeToken(t, tokenFile, expired)

	service := auth.NewService(tr, tokenFile, testutil.NewTestLogger())
	_, err = service.GetToken()
	assert.ErrorIs(t, err, models.ErrNotAuthenticated)
	assert.ErrorIs(t, err, models.ErrTokenExpired)
}

func TestEnsureAuthenticated(t *testing.T) {
	server, tr := newBackend(t)

	t.Run("no token", func(t *testing.T) {
		service := auth.NewService(tr, "", testutil.NewTestLogger())
		err := service.EnsureAuthenticated(context.Background())
		assert.ErrorIs(t, err, models.ErrNotAuthenticated)
	})

	t.Run("valid token", func(t *testing.T) {
		service := auth.NewService(tr, "", testutil.NewTestLogger())
		require.NoError(t, service.UseToken(server.IssueToken("fb-1", "", time.Hour)))
		assert.NoError(t, service.EnsureAuthenticated(context.Background()))
	})

	t.Run("login from credentials", func(t *testing.T) {
		service := auth.NewService(tr, "", testutil.NewTestLogger())
		c, err := creds.ParseCombined([]byte(`{"auth":{"email":"walker@example.com","firebase_uid":"fb-9"}}`))
		require.NoError(t, err)
		service.SetCredentials(c)

		require.NoError(t, service.EnsureAuthenticated(context.Background()))
		userID, err := service.UserID()
		require.NoError(t, err)
		assert.Equal(t, "fb-9", userID)
	})

	t.Run("token expiring soon is renewed", func(t *testing.T) {
		service := auth.NewService(tr, "", testutil.NewTestLogger())
		require.NoError(t, service.UseToken(server.IssueToken("fb-3", "", 2*time.Minute)))
		before, err := service.GetToken()
		require.NoError(t, err)

		c, err := creds.ParseCombined([]byte(`{"auth":{"email":"walker@example.com","firebase_uid":"fb-3"}}`))
		require.NoError(t, err)
		service.SetCredentials(c)

		require.NoError(t, service.EnsureAuthenticated(context.Background()))
		after, err := service.GetToken()
		require.NoError(t, err)
		assert.True(t, after.ExpiresAt.After(before.ExpiresAt))
	})

	t.Run("renewal failure keeps usable token", func(t *testing.T) {
		mock := transport.NewMockTransport()
		mock.Errors["/auth/login"] = &models.APIError{StatusCode: 500, Message: "Login failed"}

		service := auth.NewService(mock, "", testutil.NewTestLogger())
		require.NoError(t, service.UseToken(server.IssueToken("fb-3", "", 2*time.Minute)))
		c, err := creds.ParseCombined([]byte(`{"auth":{"email":"walker@example.com","firebase_uid":"fb-3"}}`))
		require.NoError(t, err)
		service.SetCredentials(c)

		assert.NoError(t, service.EnsureAuthenticated(context.Background()))
	})
}

func writeToken(t *testing.T, path string, info *models.TokenInfo) {
	t.Helper()
	data, err := json.Marshal(info)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0600))
}
