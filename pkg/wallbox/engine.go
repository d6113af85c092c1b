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
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/google/uuid"

	"github.com/steynovich/alfen-wallbox/pkg/logger"
	"github.com/steynovich/alfen-wallbox/pkg/models"
)

const (
	// fetchMaxRetries is how many extra attempts a transient category fetch
	// failure gets within the same cycle.
	fetchMaxRetries = 1

	// slowCategoryThreshold promotes a category fetch duration from debug
	// to info logging.
	slowCategoryThreshold = 5 * time.Second
)

// Engine runs the update loop for one wallbox: it drains queued writes,
// fetches property categories on their schedules and folds the results into
// the local cache. Cycles are single-flight; overlapping triggers coalesce.
type Engine struct {
	config    *Config
	client    *Client
	session   *Session
	store     *Store
	queue     *WriteQueue
	scheduler *Scheduler
	eventLog  *EventLog
	txLog     *TransactionLog
	clock     Clock
	logger    logger.Logger
	logID     string

	retry retrypolicy.RetryPolicy[*models.PropertyPage]

	infoMu sync.RWMutex
	info   *models.DeviceInfo

	// cycleMu serializes update cycles; cycle is only touched under it.
	cycleMu sync.Mutex
	cycle   uint64

	// refreshCh has capacity 1 so any number of immediate-refresh requests
	// arriving during a running cycle collapse into one follow-up cycle.
	refreshCh chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates an engine for the configured device. The config is validated
// and defaulted first.
func New(cfg *Config, log logger.Logger) (*Engine, error) {
	return newEngine(cfg, realClock{}, log)
}

func newEngine(cfg *Config, clock Clock, log logger.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if log == nil {
		log = logger.NewTestLogger()
	}

	client := NewClient(cfg.Host, time.Duration(cfg.RequestTimeout), log)

	// One extra attempt with a fixed delay, and only for transient
	// failures: malformed responses and auth rejections have their own
	// handling.
	retry := retrypolicy.NewBuilder[*models.PropertyPage]().
		WithDelay(time.Duration(cfg.RetryDelay)).
		WithMaxRetries(fetchMaxRetries).
		HandleIf(func(_ *models.PropertyPage, err error) bool {
			return errors.Is(err, ErrTimeout) || errors.Is(err, ErrConnection)
		}).
		Build()

	return &Engine{
		config:    cfg,
		client:    client,
		session:   NewSession(client, cfg, clock, log),
		store:     NewStore(),
		queue:     NewWriteQueue(),
		scheduler: NewScheduler(cfg.RefreshCategories, cfg.CategoriesPerCycle),
		eventLog:  NewEventLog(),
		txLog:     NewTransactionLog(),
		clock:     clock,
		logger:    log,
		logID:     cfg.LogID(),
		retry:     retry,
		refreshCh: make(chan struct{}, 1),
		done:      make(chan struct{}),
	}, nil
}

// Start runs the update loop until ctx is canceled or Stop is called. The
// first cycle runs immediately; afterwards cycles run on the poll interval
// and on immediate-refresh requests.
func (e *Engine) Start(ctx context.Context) error {
	interval := time.Duration(e.config.PollInterval)
	ticker := e.clock.Ticker(interval)

	defer ticker.Stop()

	e.logger.Info().
		Str("device", e.logID).
		Dur("interval", interval).
		Msg("Starting update engine")

	e.wg.Add(1)
	defer e.wg.Done()

	e.loadInfo(ctx)

	if err := e.RunCycle(ctx); err != nil {
		e.logger.Error().Str("device", e.logID).Err(err).Msg("Error during initial update cycle")
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.done:
			return nil
		case <-ticker.Chan():
			if err := e.RunCycle(ctx); err != nil {
				e.logger.Error().Str("device", e.logID).Err(err).Msg("Error during update cycle")
			}
		case <-e.refreshCh:
			if err := e.RunCycle(ctx); err != nil {
				e.logger.Error().Str("device", e.logID).Err(err).Msg("Error during requested update cycle")
			}
		}
	}
}

// Stop ends the update loop and waits for an in-flight cycle to finish.
func (e *Engine) Stop(_ context.Context) error {
	e.closeOnce.Do(func() {
		close(e.done)
	})

	e.wg.Wait()

	return nil
}

// RunCycle executes one full update cycle. Concurrent callers serialize;
// each waiting caller runs its own cycle once the running one finishes.
func (e *Engine) RunCycle(ctx context.Context) error {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	if e.session.KeepLoggedOut() {
		e.logger.Debug().Str("device", e.logID).Msg("Skipping cycle while logged out")
		return nil
	}

	e.cycle++

	cycleID := uuid.New().String()
	start := e.clock.Now()

	ctx, cancel := context.WithTimeout(ctx, time.Duration(e.config.CycleTimeout))
	defer cancel()

	if err := e.session.EnsureLoggedIn(ctx); err != nil {
		e.logger.Warn().
			Str("device", e.logID).
			Str("cycle_id", cycleID).
			Str("error", sanitizeError(err)).
			Msg("Cycle aborted, not logged in")

		return err
	}

	touched, wrote := e.drainWrites(ctx, cycleID)

	plan := e.scheduler.Plan(e.cycle, wrote, touched)

	var firstErr error

	for i, category := range plan.Categories() {
		if ctx.Err() != nil {
			break
		}

		if i > 0 {
			e.pause(ctx)
		}

		if err := e.fetchCategory(ctx, category, cycleID); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	for _, category := range plan.LowFrequency {
		if ctx.Err() != nil {
			break
		}

		switch category {
		case CategoryLogs:
			e.fetchEventLog(ctx, cycleID)
		case CategoryTransactions:
			e.fetchTransactions(ctx, cycleID)
		}
	}

	elapsed := e.clock.Now().Sub(start)

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		// The device may be wedged mid-response; force a fresh login next
		// cycle rather than reusing a session in an unknown state.
		e.session.Invalidate()

		e.logger.Warn().
			Str("device", e.logID).
			Str("cycle_id", cycleID).
			Dur("elapsed", elapsed).
			Msg("Cycle timed out, session invalidated")

		return fmt.Errorf("%w: cycle deadline exceeded", ErrTimeout)
	}

	event := e.logger.Debug()
	if elapsed > slowCategoryThreshold {
		event = e.logger.Info()
	}

	event.
		Str("device", e.logID).
		Str("cycle_id", cycleID).
		Uint64("cycle", e.cycle).
		Int("properties", e.store.Len()).
		Dur("elapsed", elapsed).
		Msg("Update cycle finished")

	return firstErr
}

// drainWrites submits the queued property writes from one snapshot. It
// returns the categories the accepted writes belong to, where the cache
// knows them, and whether any write was accepted at all. Per-write failures
// are logged and left queued; they never abort the cycle.
func (e *Engine) drainWrites(ctx context.Context, cycleID string) ([]string, bool) {
	snapshot := e.queue.Snapshot()
	if len(snapshot) == 0 {
		return nil, false
	}

	var touched []string

	accepted := 0

	for id, value := range snapshot {
		if ctx.Err() != nil {
			break
		}

		if err := e.client.SetProperty(ctx, id, value); err != nil {
			if errors.Is(err, ErrAuthRejected) {
				e.session.Invalidate()
			}

			e.logger.Warn().
				Str("device", e.logID).
				Str("cycle_id", cycleID).
				Str("param", id).
				Str("value", fmt.Sprintf("%v", value)).
				Str("error", sanitizeError(err)).
				Msg("Property write failed, kept queued")

			continue
		}

		accepted++

		// Only confirmed-and-unchanged entries leave the queue; a value
		// enqueued mid-flight stays and wins next cycle.
		if e.queue.Complete(id, value) {
			e.store.SetValue(id, value, e.cycle)
		}

		if cat, ok := e.store.CategoryOf(id); ok {
			touched = append(touched, cat)
		}

		e.logger.Debug().
			Str("device", e.logID).
			Str("cycle_id", cycleID).
			Str("param", id).
			Msg("Property write accepted")
	}

	if accepted > 0 {
		// The firmware restarts parts of its web stack after accepting
		// writes; re-login before reading the results back.
		e.session.Invalidate()

		if err := e.session.EnsureLoggedIn(ctx); err != nil {
			e.logger.Warn().
				Str("device", e.logID).
				Str("cycle_id", cycleID).
				Str("error", sanitizeError(err)).
				Msg("Re-login after writes failed")
		}
	}

	return touched, accepted > 0
}

// fetchCategory pages through one category listing and merges the result.
// Transient failures get one retry; an auth rejection triggers a re-login
// and one more attempt before giving up for this cycle.
func (e *Engine) fetchCategory(ctx context.Context, category, cycleID string) error {
	start := e.clock.Now()
	offset := 0
	total := 0
	attempts := 0

	var (
		props    []models.Property
		fetchErr error
	)

	for {
		page, err := e.fetchPage(ctx, category, offset, &attempts)
		if errors.Is(err, ErrAuthRejected) {
			e.session.Invalidate()

			if lerr := e.session.EnsureLoggedIn(ctx); lerr != nil {
				fetchErr = lerr
				break
			}

			page, err = e.fetchPage(ctx, category, offset, &attempts)
		}

		if err != nil {
			fetchErr = err
			break
		}

		props = append(props, page.Properties...)
		total = page.Total
		offset += len(page.Properties)

		if len(page.Properties) == 0 || offset >= total || offset > maxOffset {
			break
		}
	}

	elapsed := e.clock.Now().Sub(start)

	if fetchErr != nil {
		e.logger.Warn().
			Str("device", e.logID).
			Str("cycle_id", cycleID).
			Str("category", category).
			Int("attempts", attempts).
			Dur("elapsed", elapsed).
			Str("error", sanitizeError(fetchErr)).
			Msg("Category fetch failed")

		return fetchErr
	}

	e.store.Merge(props, e.cycle)

	event := e.logger.Debug()
	if elapsed > slowCategoryThreshold {
		event = e.logger.Info()
	}

	event.
		Str("device", e.logID).
		Str("cycle_id", cycleID).
		Str("category", category).
		Int("properties", len(props)).
		Int("total", total).
		Dur("elapsed", elapsed).
		Msg("Category fetched")

	return nil
}

func (e *Engine) fetchPage(ctx context.Context, category string, offset int, attempts *int) (*models.PropertyPage, error) {
	return failsafe.With(e.retry).WithContext(ctx).Get(func() (*models.PropertyPage, error) {
		*attempts++

		return e.client.GetProperties(ctx, category, offset)
	})
}

// pause waits the configured inter-category delay, giving the device's
// single-threaded web server room to breathe between listings.
func (e *Engine) pause(ctx context.Context) {
	delay := time.Duration(e.config.CategoryFetchDelay)
	if delay <= 0 {
		return
	}

	select {
	case <-ctx.Done():
	case <-e.clock.After(delay):
	}
}

// fetchEventLog sweeps the newest event log pages and re-derives per-socket
// tag state. Log failures never fail the cycle.
func (e *Engine) fetchEventLog(ctx context.Context, cycleID string) {
	for offset := 0; offset <= maxLogPage; offset++ {
		page, err := e.client.GetText(ctx, actionLog, offset)
		if err != nil {
			e.logger.Debug().
				Str("device", e.logID).
				Str("cycle_id", cycleID).
				Int("page", offset).
				Str("error", sanitizeError(err)).
				Msg("Event log fetch stopped")

			break
		}

		e.eventLog.Ingest(page)
	}

	e.eventLog.Refresh()

	// Tag values are RFID card identifiers; only their hashes are logged.
	if tags := e.eventLog.Tags(); len(tags) > 0 {
		hashed := make(map[string]string, len(tags))
		for socket, event := range tags {
			hashed[socket] = hashTag(event.Tag)
		}

		e.logger.Debug().
			Str("device", e.logID).
			Str("cycle_id", cycleID).
			Interface("tags", hashed).
			Msg("Socket tags refreshed")
	}
}

// fetchTransactions advances the transaction journal reader.
func (e *Engine) fetchTransactions(ctx context.Context, cycleID string) {
	err := e.txLog.Sync(ctx, func(ctx context.Context, offset int) (string, error) {
		return e.client.GetText(ctx, actionTransactions, offset)
	})
	if err != nil {
		e.logger.Warn().
			Str("device", e.logID).
			Str("cycle_id", cycleID).
			Str("error", sanitizeError(err)).
			Msg("Transaction sync failed")
	}
}

// loadInfo fetches the device identity once at startup. Older firmware has
// no info endpoint; those devices get generic info.
func (e *Engine) loadInfo(ctx context.Context) {
	info := e.fetchInfo(ctx)

	e.infoMu.Lock()
	e.info = info
	e.infoMu.Unlock()

	e.logger.Info().
		Str("device", e.logID).
		Str("model", info.Model).
		Str("firmware", info.FirmwareVersion).
		Msg("Device info loaded")
}

func (e *Engine) fetchInfo(ctx context.Context) *models.DeviceInfo {
	body, err := e.client.Get(ctx, actionInfo, nil)
	if err != nil {
		e.logger.Debug().
			Str("device", e.logID).
			Str("error", sanitizeError(err)).
			Msg("Info endpoint unavailable, using generic device info")

		return models.GenericDeviceInfo(e.config.Host)
	}

	var info models.DeviceInfo
	if err := json.Unmarshal(body, &info); err != nil || info.Identity == "" {
		return models.GenericDeviceInfo(e.config.Host)
	}

	return &info
}

// Info returns the device identity. Generic info is returned until the
// startup fetch completes.
func (e *Engine) Info() models.DeviceInfo {
	e.infoMu.RLock()
	defer e.infoMu.RUnlock()

	if e.info == nil {
		return *models.GenericDeviceInfo(e.config.Host)
	}

	return *e.info
}

// SetProperty queues a property write and requests an immediate cycle. The
// cache is only updated once the device confirms the write.
func (e *Engine) SetProperty(id string, value interface{}) error {
	if !paramIDPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", errInvalidParamID, truncate(id, 50))
	}

	if e.session.KeepLoggedOut() {
		return errLoggedOut
	}

	e.queue.Enqueue(id, value)

	e.logger.Debug().
		Str("device", e.logID).
		Str("param", id).
		Msg("Queued property write")

	e.RequestRefresh()

	return nil
}

// ReadProperty returns the cached entry for a property identifier.
func (e *Engine) ReadProperty(id string) (StoredProperty, bool) {
	return e.store.Get(id)
}

// Properties returns a snapshot of the whole property cache.
func (e *Engine) Properties() map[string]StoredProperty {
	return e.store.Snapshot()
}

// PendingWrites returns the current write queue depth.
func (e *Engine) PendingWrites() int {
	return e.queue.Len()
}

// Tags returns the latest RFID observation per socket.
func (e *Engine) Tags() map[string]TagEvent {
	return e.eventLog.Tags()
}

// Sessions returns the per-socket charging session readings.
func (e *Engine) Sessions() map[string]SocketSession {
	return e.txLog.Sessions()
}

// RequestRefresh asks the loop to run a cycle as soon as the current one
// (if any) finishes. Requests arriving while one is pending coalesce.
func (e *Engine) RequestRefresh() {
	select {
	case e.refreshCh <- struct{}{}:
	default:
	}
}

// Login authenticates explicitly and resumes cycles after a Logout.
func (e *Engine) Login(ctx context.Context) error {
	if err := e.session.Login(ctx); err != nil {
		return err
	}

	e.RequestRefresh()

	return nil
}

// Logout ends the device session and suspends cycles until the next Login.
func (e *Engine) Logout(ctx context.Context) error {
	return e.session.Logout(ctx)
}
