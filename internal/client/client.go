package client

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/TheMichaelB/stepsync/internal/clock"
	"github.com/TheMichaelB/stepsync/internal/config"
	"github.com/TheMichaelB/stepsync/internal/creds"
	"github.com/TheMichaelB/stepsync/internal/events"
	"github.com/TheMichaelB/stepsync/internal/metrics"
	"github.com/TheMichaelB/stepsync/internal/reconcile"
	"github.com/TheMichaelB/stepsync/internal/services/auth"
	"github.com/TheMichaelB/stepsync/internal/services/fitness"
	"github.com/TheMichaelB/stepsync/internal/state"
	"github.com/TheMichaelB/stepsync/internal/tracker"
	"github.com/TheMichaelB/stepsync/internal/transport"
)

// Client provides the high-level API for stepsync operations.
type Client struct {
	Auth    *auth.Service
	State   state.Store
	Metrics *metrics.Collector

	config    *config.Config
	logger    *events.Logger
	transport transport.Transport
	clock     clock.Clock
}

// Session is everything bound to one authenticated user.
type Session struct {
	UserID     string
	Fitness    *fitness.Service
	Tracker    *tracker.Tracker
	Reconciler *reconcile.Reconciler
}

// New creates a client with the configured state backend.
func New(ctx context.Context, cfg *config.Config, logger *events.Logger) (*Client, error) {
	transportClient := transport.NewTransport(&cfg.API, logger)

	store, err := NewStore(ctx, &cfg.Storage, logger)
	if err != nil {
		transportClient.Close()
		return nil, err
	}

	tokenFile := expandHome(cfg.Auth.TokenFile)
	if tokenFile == "" {
		tokenFile = filepath.Join(cfg.Storage.DataDir, "auth", "token.json")
	}

	authService := auth.NewService(transportClient, tokenFile, logger)

	c := &Client{
		Auth:      authService,
		State:     store,
		Metrics:   metrics.NewCollector(cfg.Metrics.Namespace),
		config:    cfg,
		logger:    logger,
		transport: transportClient,
		clock:     clock.RealClock{},
	}

	if err := c.loadCredentials(ctx); err != nil {
		logger.WithError(err).Warn("Failed to load credentials")
	}

	return c, nil
}

// NewStore opens the state backend named by cfg.Backend.
func NewStore(ctx context.Context, cfg *config.StorageConfig, logger *events.Logger) (state.Store, error) {
	switch cfg.Backend {
	case "", "json":
		return state.NewJSONStore(expandHome(cfg.StateDir), logger)
	case "sqlite":
		path := expandHome(cfg.SQLitePath)
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
		return state.NewSQLiteStore(path, logger)
	case "dynamodb":
		return state.NewDynamoDBStore(ctx, cfg.DynamoDBTable, logger)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}

// Transport returns the shared backend transport.
func (c *Client) Transport() transport.Transport {
	return c.transport
}

// Fitness returns a backend client for the authenticated user.
func (c *Client) Fitness(ctx context.Context) (*fitness.Service, error) {
	if err := c.Auth.EnsureAuthenticated(ctx); err != nil {
		return nil, err
	}
	userID, err := c.Auth.UserID()
	if err != nil {
		return nil, err
	}
	fit := fitness.NewService(c.transport, userID, c.clock, c.logger)
	fit.SetAuthenticator(c.Auth)
	return fit, nil
}

// NewSession wires the tracker and reconciler for the authenticated user.
// The user ID is fixed here for the life of the session.
func (c *Client) NewSession(ctx context.Context) (*Session, error) {
	fit, err := c.Fitness(ctx)
	if err != nil {
		return nil, err
	}

	tc := &c.config.Tracker
	trk, err := tracker.New(tracker.Config{
		UserID: fit.UserID(),
		Scheduler: tracker.Scheduler{
			Threshold:  int64(tc.StepThreshold),
			Interval:   tc.SyncInterval,
			StartGrace: tc.StartGrace,
		},
		PushTimeout: tc.PushTimeout,
	}, c.State, fit, c.clock, c.logger)
	if err != nil {
		return nil, err
	}
	trk.SetRecorder(c.Metrics)

	ui := &c.config.UI
	rec := reconcile.New(reconcile.Config{
		PollInterval:  ui.PollInterval,
		AutoSyncDelay: ui.AutoSyncDelay,
		HistoryLimit:  ui.HistoryLimit,
	}, trk, fit, c.clock, c.logger)

	return &Session{
		UserID:     fit.UserID(),
		Fitness:    fit,
		Tracker:    trk,
		Reconciler: rec,
	}, nil
}

// Close releases the transport and state store.
func (c *Client) Close() error {
	terr := c.transport.Close()
	if err := c.State.Close(); err != nil {
		return err
	}
	return terr
}

// loadCredentials installs combined credentials from the configured file or
// secret so expired tokens can be renewed without a prompt.
func (c *Client) loadCredentials(ctx context.Context) error {
	var (
		combined *creds.Combined
		err      error
	)

	switch {
	case c.config.Auth.CredentialsFile != "":
		combined, err = creds.LoadFromFile(expandHome(c.config.Auth.CredentialsFile))
	case c.config.Auth.TokenSecretID != "":
		combined, err = creds.LoadFromSecret(ctx, c.config.Auth.TokenSecretID)
	default:
		return nil
	}
	if err != nil {
		return err
	}

	c.Auth.SetCredentials(combined)
	return nil
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
