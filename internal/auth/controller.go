// Package auth owns device-flow authentication state and the background
// polling loop that converts a pending authorization into a durable
// credential.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/semfind/semfind/internal/backend"
)

const (
	// defaultInitialDelay is the wait between auth.start and the first poll
	defaultInitialDelay = 2 * time.Second

	// defaultPollInterval is the steady poll cadence
	defaultPollInterval = 5 * time.Second

	// defaultSlowInterval is the cadence after the provider asks to slow
	// down; the switch is permanent for the session
	defaultSlowInterval = 10 * time.Second
)

// ErrSessionActive is returned when a session is started while another
// polling loop is running
var ErrSessionActive = fmt.Errorf("an authorization session is already active")

// ErrCancelled is delivered on the session's Done channel when the user
// cancels the flow
var ErrCancelled = fmt.Errorf("authorization cancelled")

// Session is the transient state of one pending authorization. It exists
// only while the flow is active and is destroyed on any terminal outcome.
type Session struct {
	UserCode        string
	VerificationURI string

	// Done receives exactly one value: nil after the credential was stored,
	// or the terminal error
	Done <-chan error

	deviceCode string
	cancel     context.CancelFunc
}

// Controller drives device-flow authorization. At most one session exists
// process-wide.
type Controller struct {
	backend backend.Client
	creds   CredentialStore

	// onAuthorized is invoked after a credential is stored, making the
	// catalog eligible to enumerate
	onAuthorized func()

	initialDelay time.Duration
	pollInterval time.Duration
	slowInterval time.Duration

	mu     sync.Mutex
	active *Session
}

// Option configures a Controller
type Option func(*Controller)

// WithOnAuthorized sets the hook invoked after a credential is stored
func WithOnAuthorized(fn func()) Option {
	return func(c *Controller) {
		c.onAuthorized = fn
	}
}

// WithIntervals overrides the polling cadence, used by tests
func WithIntervals(initial, poll, slow time.Duration) Option {
	return func(c *Controller) {
		c.initialDelay = initial
		c.pollInterval = poll
		c.slowInterval = slow
	}
}

// NewController creates a Controller
func NewController(client backend.Client, creds CredentialStore, opts ...Option) *Controller {
	c := &Controller{
		backend:      client,
		creds:        creds,
		initialDelay: defaultInitialDelay,
		pollInterval: defaultPollInterval,
		slowInterval: defaultSlowInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Status reports whether a durable credential is present
func (c *Controller) Status() (bool, error) {
	_, err := c.creds.Load()
	if err != nil {
		if errors.Is(err, ErrNoCredential) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Logout removes the stored credential
func (c *Controller) Logout() error {
	return c.creds.Delete()
}

// Token returns the stored credential
func (c *Controller) Token(_ context.Context) (string, error) {
	token, err := c.creds.Load()
	if err != nil {
		if errors.Is(err, ErrNoCredential) {
			return "", nil
		}
		return "", err
	}
	return token, nil
}

// Start requests a device-flow challenge and launches the polling loop.
// Starting while a session is active is rejected.
func (c *Controller) Start(ctx context.Context) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != nil {
		return nil, ErrSessionActive
	}

	device, err := c.backend.StartAuth(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to start authorization: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan error, 1)
	session := &Session{
		UserCode:        device.UserCode,
		VerificationURI: device.VerificationURI,
		Done:            done,
		deviceCode:      device.DeviceCode,
		cancel:          cancel,
	}
	c.active = session

	go c.pollLoop(loopCtx, session, done)

	slog.Info("Authorization started", "user_code", device.UserCode, "verification_uri", device.VerificationURI)
	return session, nil
}

// Cancel destroys the active session, if any, without side effects
func (c *Controller) Cancel() {
	c.mu.Lock()
	session := c.active
	c.mu.Unlock()

	if session != nil {
		session.cancel()
	}
}

// Active reports whether a session is currently polling
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}

// pollLoop polls on the configured cadence until a terminal outcome. On
// slow_down the cadence switches to the slow interval for the rest of the
// session.
func (c *Controller) pollLoop(ctx context.Context, session *Session, done chan<- error) {
	defer c.destroy(session)

	interval := c.pollInterval
	delay := c.initialDelay

	for {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			slog.Info("Authorization cancelled")
			done <- ErrCancelled
			return
		case <-timer.C:
		}

		result, err := c.pollOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				done <- ErrCancelled
				return
			}
			slog.Error("Authorization poll failed", "error", err)
			done <- fmt.Errorf("authorization poll failed: %w", err)
			return
		}

		switch result.Status {
		case backend.AuthPending:
			delay = interval
		case backend.AuthSlowDown:
			interval = c.slowInterval
			delay = interval
		case backend.AuthAuthorized:
			if err := c.creds.Save(result.Token); err != nil {
				done <- fmt.Errorf("failed to store credential: %w", err)
				return
			}
			slog.Info("Authorization complete")
			if c.onAuthorized != nil {
				c.onAuthorized()
			}
			done <- nil
			return
		case backend.AuthExpiredOrDenied:
			msg := result.Message
			if msg == "" {
				msg = "authorization expired or denied"
			}
			slog.Warn("Authorization ended without credential", "reason", msg)
			done <- errors.New(msg)
			return
		}
	}
}

// pollOnce issues one auth.poll call, tolerating exactly one transport
// failure before surfacing it as terminal.
func (c *Controller) pollOnce(ctx context.Context) (*backend.AuthPollResult, error) {
	session := c.activeSession()
	if session == nil {
		return nil, fmt.Errorf("no active session")
	}

	return backoff.Retry(ctx, func() (*backend.AuthPollResult, error) {
		return c.backend.PollAuth(ctx, session.deviceCode)
	},
		backoff.WithBackOff(&backoff.ZeroBackOff{}),
		backoff.WithMaxTries(2),
	)
}

func (c *Controller) activeSession() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *Controller) destroy(session *Session) {
	session.cancel()
	c.mu.Lock()
	if c.active == session {
		c.active = nil
	}
	c.mu.Unlock()
}
