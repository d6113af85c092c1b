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
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/steynovich/alfen-wallbox/pkg/logger"
	"github.com/steynovich/alfen-wallbox/pkg/models"
)

// testClock drives Session through a movable wall clock.
type testClock struct {
	mock *MockClock
	now  time.Time
}

func newTestClock(t *testing.T) *testClock {
	t.Helper()

	ctrl := gomock.NewController(t)
	tc := &testClock{mock: NewMockClock(ctrl), now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}

	tc.mock.EXPECT().Now().DoAndReturn(func() time.Time { return tc.now }).AnyTimes()

	return tc
}

func (tc *testClock) advance(d time.Duration) {
	tc.now = tc.now.Add(d)
}

func newTestSession(t *testing.T, handler http.Handler, clock Clock) *Session {
	t.Helper()

	client, _ := newTestClient(t, handler)

	cfg := &Config{
		Host:     "device.local",
		Name:     "Garage Wallbox With A Very Long Display Name Indeed",
		Username: "admin",
		Password: "secret",
	}
	require.NoError(t, cfg.Validate())

	return NewSession(client, cfg, clock, logger.NewTestLogger())
}

func loginOKHandler(calls *int32, payloads *[]map[string]string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/login" {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		if calls != nil {
			atomic.AddInt32(calls, 1)
		}

		if payloads != nil {
			var p map[string]string
			_ = json.NewDecoder(r.Body).Decode(&p)
			*payloads = append(*payloads, p)
		}

		w.WriteHeader(http.StatusOK)
	})
}

func TestLoginSendsCredentialsAndTruncatedDisplayName(t *testing.T) {
	var payloads []map[string]string

	clock := newTestClock(t)
	session := newTestSession(t, loginOKHandler(nil, &payloads), clock.mock)

	require.NoError(t, session.Login(context.Background()))
	require.Len(t, payloads, 1)

	assert.Equal(t, "admin", payloads[0]["username"])
	assert.Equal(t, "secret", payloads[0]["password"])
	assert.Len(t, payloads[0]["displayname"], maxDisplayNameLen)
	assert.True(t, session.LoggedIn())
}

func TestLoginRateLimit(t *testing.T) {
	var calls int32

	clock := newTestClock(t)
	session := newTestSession(t, loginOKHandler(&calls, nil), clock.mock)

	ctx := context.Background()

	// The full budget is spent; each attempt succeeds.
	for i := 0; i < loginRateMaxAttempts; i++ {
		require.NoError(t, session.Login(ctx), "attempt %d", i+1)
		clock.advance(time.Second)
	}

	// The sixth attempt inside the window never reaches the device.
	err := session.Login(ctx)
	assert.ErrorIs(t, err, ErrLoginRateLimited)
	assert.Equal(t, int32(loginRateMaxAttempts), atomic.LoadInt32(&calls))

	// Once the oldest attempt leaves the rolling window, logins resume.
	clock.advance(loginRateWindow)

	require.NoError(t, session.Login(ctx))
	assert.Equal(t, int32(loginRateMaxAttempts+1), atomic.LoadInt32(&calls))
}

func TestEnsureLoggedInIsNoOpWhenAuthenticated(t *testing.T) {
	var calls int32

	clock := newTestClock(t)
	session := newTestSession(t, loginOKHandler(&calls, nil), clock.mock)

	ctx := context.Background()

	require.NoError(t, session.EnsureLoggedIn(ctx))
	require.NoError(t, session.EnsureLoggedIn(ctx))
	require.NoError(t, session.EnsureLoggedIn(ctx))

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestEnsureLoggedInAfterInvalidate(t *testing.T) {
	var calls int32

	clock := newTestClock(t)
	session := newTestSession(t, loginOKHandler(&calls, nil), clock.mock)

	ctx := context.Background()

	require.NoError(t, session.EnsureLoggedIn(ctx))
	session.Invalidate()
	assert.False(t, session.LoggedIn())

	require.NoError(t, session.EnsureLoggedIn(ctx))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.True(t, session.LoggedIn())
}

func TestEnsureLoggedInMapsTimeout(t *testing.T) {
	clock := newTestClock(t)

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	})

	client, _ := newTestClient(t, handler)

	cfg := &Config{
		Host:         "device.local",
		Password:     "secret",
		LoginTimeout: models.Duration(50 * time.Millisecond),
	}
	require.NoError(t, cfg.Validate())

	session := NewSession(client, cfg, clock.mock, logger.NewTestLogger())

	err := session.EnsureLoggedIn(context.Background())
	assert.ErrorIs(t, err, ErrLoginTimeout)
	assert.False(t, session.LoggedIn())
}

func TestLogoutKeepsLoggedOut(t *testing.T) {
	clock := newTestClock(t)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/logout") || strings.HasSuffix(r.URL.Path, "/login") {
			w.WriteHeader(http.StatusOK)
			return
		}

		w.WriteHeader(http.StatusNotFound)
	})

	session := newTestSession(t, handler, clock.mock)

	ctx := context.Background()

	require.NoError(t, session.Login(ctx))
	require.NoError(t, session.Logout(ctx))

	assert.False(t, session.LoggedIn())
	assert.True(t, session.KeepLoggedOut())

	// An explicit login clears the flag.
	require.NoError(t, session.Login(ctx))
	assert.False(t, session.KeepLoggedOut())
	assert.True(t, session.LoggedIn())
}

func TestSessionStateNotBlockedByInflightLogin(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		close(started)
		<-release
		w.WriteHeader(http.StatusOK)
	})

	clock := newTestClock(t)
	session := newTestSession(t, handler, clock.mock)

	done := make(chan error, 1)

	go func() {
		done <- session.EnsureLoggedIn(context.Background())
	}()

	<-started

	// State reads return immediately while the login call is held open on
	// the device; they must never wait behind network I/O.
	begin := time.Now()

	assert.False(t, session.LoggedIn())
	assert.False(t, session.KeepLoggedOut())
	assert.Less(t, time.Since(begin), 200*time.Millisecond)

	close(release)
	require.NoError(t, <-done)
	assert.True(t, session.LoggedIn())
}

func TestEnsureLoggedInSharesInflightAttempt(t *testing.T) {
	var calls int32

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(50 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	})

	clock := newTestClock(t)
	session := newTestSession(t, handler, clock.mock)

	var wg sync.WaitGroup

	for i := 0; i < 4; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			assert.NoError(t, session.EnsureLoggedIn(context.Background()))
		}()
	}

	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "concurrent triggers share one login")
	assert.True(t, session.LoggedIn())
}

func TestLoginFailureLeavesLoggedOut(t *testing.T) {
	clock := newTestClock(t)

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	session := newTestSession(t, handler, clock.mock)

	err := session.Login(context.Background())
	assert.ErrorIs(t, err, ErrAuthRejected)
	assert.False(t, session.LoggedIn())
}
