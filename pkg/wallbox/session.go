/*
 * Copyright 2025 Alfen Wallbox Contributors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package wallbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/steynovich/alfen-wallbox/pkg/logger"
)

const (
	paramUsername    = "username"
	paramPassword    = "password"
	paramDisplayName = "displayname"

	// The wallbox UI shows the session holder's display name; it accepts
	// at most 32 characters.
	maxDisplayNameLen = 32

	loginRateWindow      = 60 * time.Second
	loginRateMaxAttempts = 5
)

// loginAttempt is one in-flight login. done is closed after err is set, so
// waiters observing the close see the result.
type loginAttempt struct {
	done chan struct{}
	err  error
}

// Session tracks the authenticated state of the single device session. The
// wallbox honors exactly one active session; logging in implicitly
// invalidates any other client (e.g. the vendor mobile app).
//
// The mutex only guards in-memory state and is never held across a device
// call, so LoggedIn and KeepLoggedOut return immediately even while a login
// request is in flight.
type Session struct {
	client       *Client
	username     string
	password     string
	displayName  string
	loginTimeout time.Duration
	clock        Clock
	logID        string
	logger       logger.Logger

	mu            sync.Mutex
	loggedIn      bool
	keepLoggedOut bool
	attempts      []time.Time
	inflight      *loginAttempt
}

// NewSession creates a session manager bound to the given transport.
func NewSession(client *Client, cfg *Config, clock Clock, log logger.Logger) *Session {
	displayName := cfg.Name
	if len(displayName) > maxDisplayNameLen {
		displayName = displayName[:maxDisplayNameLen]
	}

	return &Session{
		client:       client,
		username:     cfg.Username,
		password:     cfg.Password,
		displayName:  displayName,
		loginTimeout: time.Duration(cfg.LoginTimeout),
		clock:        clock,
		logID:        cfg.LogID(),
		logger:       log,
	}
}

// LoggedIn reports whether the session currently believes it is
// authenticated.
func (s *Session) LoggedIn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.loggedIn
}

// KeepLoggedOut reports whether an explicit logout suppresses cycles until
// the next explicit login.
func (s *Session) KeepLoggedOut() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.keepLoggedOut
}

// Invalidate marks the session unauthenticated so the next cycle performs a
// fresh login. Used after auth-rejected responses, accepted writes (the
// wallbox closes the connection) and cycle timeouts.
func (s *Session) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.loggedIn = false
}

// EnsureLoggedIn is a no-op when authenticated; otherwise it logs in under
// its own deadline, shorter than the cycle timeout, so an unresponsive
// device cannot stall the cycle. Concurrent triggers share one in-flight
// attempt and observe its result instead of starting a second one.
func (s *Session) EnsureLoggedIn(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.loginTimeout)
	defer cancel()

	for {
		s.mu.Lock()

		if s.loggedIn {
			s.mu.Unlock()
			return nil
		}

		if attempt := s.inflight; attempt != nil {
			s.mu.Unlock()

			select {
			case <-ctx.Done():
				return s.mapLoginError(ctx.Err())
			case <-attempt.done:
			}

			if attempt.err != nil {
				return s.mapLoginError(attempt.err)
			}

			// The shared attempt succeeded; re-check in case the
			// session was invalidated since.
			continue
		}

		attempt := &loginAttempt{done: make(chan struct{})}
		s.inflight = attempt
		s.mu.Unlock()

		err := s.login(ctx)

		s.mu.Lock()
		s.inflight = nil
		s.mu.Unlock()

		attempt.err = err
		close(attempt.done)

		return s.mapLoginError(err)
	}
}

func (s *Session) mapLoginError(err error) error {
	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", ErrLoginTimeout, s.loginTimeout)
	}

	return err
}

// Login authenticates against the device. An explicit login clears the
// keep-logged-out flag set by Logout.
func (s *Session) Login(ctx context.Context) error {
	s.mu.Lock()
	s.keepLoggedOut = false
	s.mu.Unlock()

	return s.login(ctx)
}

// login performs one rate-limited login attempt. The state mutex is only
// taken around the bookkeeping, never across the device call.
func (s *Session) login(ctx context.Context) error {
	s.mu.Lock()

	if !s.allowAttemptLocked() {
		attempts := len(s.attempts)
		s.mu.Unlock()

		s.logger.Warn().
			Str("device", s.logID).
			Int("attempts", attempts).
			Dur("window", loginRateWindow).
			Msg("Login blocked by rate limiter")

		return ErrLoginRateLimited
	}

	s.attempts = append(s.attempts, s.clock.Now())
	s.mu.Unlock()

	payload := map[string]string{
		paramUsername:    s.username,
		paramPassword:    s.password,
		paramDisplayName: s.displayName,
	}

	if _, err := s.client.Post(ctx, actionLogin, payload); err != nil {
		s.setLoggedIn(false)

		s.logger.Warn().
			Str("device", s.logID).
			Str("error", sanitizeError(err)).
			Msg("Login failed")

		return err
	}

	s.setLoggedIn(true)

	s.logger.Debug().Str("device", s.logID).Str("user", s.username).Msg("Login successful")

	return nil
}

func (s *Session) setLoggedIn(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.loggedIn = v
}

// allowAttemptLocked prunes attempts outside the rolling window and reports
// whether another login may be sent. Callers hold s.mu.
func (s *Session) allowAttemptLocked() bool {
	now := s.clock.Now()
	kept := s.attempts[:0]

	for _, t := range s.attempts {
		if now.Sub(t) < loginRateWindow {
			kept = append(kept, t)
		}
	}

	s.attempts = kept

	return len(s.attempts) < loginRateMaxAttempts
}

// Logout ends the session explicitly and keeps the engine logged out until
// the next explicit Login. The session is bound to the TCP connection, so
// the pooled connection is dropped afterwards to let other clients in.
func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	s.keepLoggedOut = true
	s.loggedIn = false
	s.mu.Unlock()

	_, err := s.client.Post(ctx, actionLogout, nil)

	s.client.CloseIdleConnections()

	if err != nil && !errors.Is(err, ErrAuthRejected) {
		s.logger.Warn().
			Str("device", s.logID).
			Str("error", sanitizeError(err)).
			Msg("Logout request failed")

		return err
	}

	s.logger.Debug().Str("device", s.logID).Msg("Logout successful")

	return nil
}
