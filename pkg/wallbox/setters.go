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
	"fmt"
	"sort"
)

// Well-known parameter identifiers.
const (
	paramCurrentLimit   = "2129_0"
	paramRFIDAuthMode   = "2126_0"
	paramCurrentPhase   = "2069_0"
	paramPhaseSwitching = "2185_0"
	paramGreenShare     = "3280_2"
	paramComfortPower   = "3280_3"
	paramSocketCount    = "205E_0"
	paramLicenses       = "21A2_0"
)

// licenseBits maps installed-feature names to their bit in the license
// bitmask parameter.
var licenseBits = map[string]int64{
	"SCN":                     1,
	"Active Loadbalancing":    4,
	"Static Loadbalancing":    8,
	"High Power Sockets":      16,
	"RFID Reader":             32,
	"Personalized Display":    64,
	"Mobile 3G/4G":            128,
	"Giro-e Payment":          512,
	"Qi Payment":              1024,
	"Expose Smart Meter Data": 65536,
}

// SetCurrentLimit queues the maximum charging current, in amperes.
func (e *Engine) SetCurrentLimit(limit int) error {
	if limit < 1 || limit > 32 {
		return fmt.Errorf("%w: current limit %dA", errValueOutOfRange, limit)
	}

	return e.SetProperty(paramCurrentLimit, limit)
}

// SetRFIDAuthMode queues the authorization mode: RFID required or plug and
// charge.
func (e *Engine) SetRFIDAuthMode(enabled bool) error {
	value := 0
	if enabled {
		value = 2
	}

	return e.SetProperty(paramRFIDAuthMode, value)
}

// SetCurrentPhase queues the active charging phase for single-phase
// installations.
func (e *Engine) SetCurrentPhase(phase string) error {
	switch phase {
	case "L1", "L2", "L3":
	default:
		return fmt.Errorf("%w: phase %q", errValueOutOfRange, phase)
	}

	return e.SetProperty(paramCurrentPhase, phase)
}

// SetPhaseSwitching queues automatic 1/3-phase switching.
func (e *Engine) SetPhaseSwitching(enabled bool) error {
	value := 0
	if enabled {
		value = 1
	}

	return e.SetProperty(paramPhaseSwitching, value)
}

// SetGreenShare queues the solar green share percentage.
func (e *Engine) SetGreenShare(percent int) error {
	if percent < 0 || percent > 100 {
		return fmt.Errorf("%w: green share %d%%", errValueOutOfRange, percent)
	}

	return e.SetProperty(paramGreenShare, percent)
}

// SetComfortPower queues the comfort charging power level, in watts.
func (e *Engine) SetComfortPower(watts int) error {
	if watts < 1400 || watts > 5000 {
		return fmt.Errorf("%w: comfort power %dW", errValueOutOfRange, watts)
	}

	return e.SetProperty(paramComfortPower, watts)
}

// SocketCount derives the number of charging sockets from the cache. Devices
// that do not report it have one socket.
func (e *Engine) SocketCount() int {
	p, ok := e.store.Get(paramSocketCount)
	if !ok {
		return 1
	}

	if n, ok := toInt64(p.Value); ok && n > 0 {
		return int(n)
	}

	return 1
}

// Licenses derives the installed feature licenses from the bitmask
// parameter.
func (e *Engine) Licenses() []string {
	p, ok := e.store.Get(paramLicenses)
	if !ok {
		return nil
	}

	mask, ok := toInt64(p.Value)
	if !ok {
		return nil
	}

	var licenses []string

	for name, bit := range licenseBits {
		if mask&bit != 0 {
			licenses = append(licenses, name)
		}
	}

	sort.Strings(licenses)

	return licenses
}

// toInt64 normalizes the untyped numeric values the listing API returns.
func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int:
		return int64(n), true
	case int64:
		return n, true
	default:
		return 0, false
	}
}
