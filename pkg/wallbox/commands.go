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
	"net/url"
)

const (
	paramCommand = "command"

	commandReboot            = "reboot"
	commandClearTransactions = "cleartransactions"
)

// Reboot restarts the wallbox. The device drops the session and comes back
// with fresh state, so the next cycle logs in again and the schedule reloads
// the static categories.
func (e *Engine) Reboot(ctx context.Context) error {
	if err := e.SendCommand(ctx, map[string]interface{}{paramCommand: commandReboot}); err != nil {
		return err
	}

	e.session.Invalidate()

	// The scheduler is owned by the cycle loop; rewind it between cycles.
	e.cycleMu.Lock()
	e.scheduler.Rewind()
	e.cycleMu.Unlock()

	return nil
}

// ClearTransactions erases the device's transaction journal and resets the
// local reader.
func (e *Engine) ClearTransactions(ctx context.Context) error {
	if err := e.SendCommand(ctx, map[string]interface{}{paramCommand: commandClearTransactions}); err != nil {
		return err
	}

	e.txLog.Reset()

	return nil
}

// SendCommand posts a raw command payload to the device.
func (e *Engine) SendCommand(ctx context.Context, payload map[string]interface{}) error {
	if e.session.KeepLoggedOut() {
		return errLoggedOut
	}

	if err := e.session.EnsureLoggedIn(ctx); err != nil {
		return err
	}

	_, err := e.client.Post(ctx, actionCmd, payload)

	return err
}

// Request performs a raw API call against the device, for callers that need
// endpoints the engine does not model.
func (e *Engine) Request(ctx context.Context, method, action string, payload interface{}) ([]byte, error) {
	if e.session.KeepLoggedOut() {
		return nil, errLoggedOut
	}

	if err := e.session.EnsureLoggedIn(ctx); err != nil {
		return nil, err
	}

	if method == "POST" {
		return e.client.Post(ctx, action, payload)
	}

	return e.client.Get(ctx, action, url.Values{})
}
