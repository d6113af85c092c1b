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
	"strconv"
	"strings"
	"sync"
)

// MeterReading is a timestamped energy reading taken from the transaction
// history. Date and energy keep the device's own string formats.
type MeterReading struct {
	Date   string
	Energy string
}

// SocketSession holds the charging session bookkeeping for one socket:
// the running session's start reading, the last completed session's stop
// reading, the periodic meter value, and the start reading of the last
// completed session.
type SocketSession struct {
	Start      MeterReading
	Stop       MeterReading
	MeterValue MeterReading
	LastStart  MeterReading
}

// fetchPageFunc fetches one plain-text page at an offset.
type fetchPageFunc func(ctx context.Context, offset int) (string, error)

// TransactionLog incrementally reads the device's transaction history. The
// history is an append-only journal addressed by transaction id; the reader
// keeps its offset across sweeps and only walks forward.
type TransactionLog struct {
	mu      sync.Mutex
	offset  int
	sockets map[string]*SocketSession
}

func NewTransactionLog() *TransactionLog {
	return &TransactionLog{sockets: make(map[string]*SocketSession)}
}

// Offset returns the reader's current journal position.
func (t *TransactionLog) Offset() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.offset
}

// Sessions returns a copy of the per-socket session state.
func (t *TransactionLog) Sessions() map[string]SocketSession {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]SocketSession, len(t.sockets))
	for socket, s := range t.sockets {
		out[socket] = *s
	}

	return out
}

// Reset clears the reader state after the device's journal was erased.
func (t *TransactionLog) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.offset = 0
	t.sockets = make(map[string]*SocketSession)
}

// Sync walks the journal from the stored offset until it reaches the head.
// The head is detected by the device repeating the same transaction id
// (repeat counter hits 2), an explicit empty marker, or more than two
// consecutive unparseable lines. Transport errors abort the sweep; parse
// errors never do.
func (t *TransactionLog) Sync(ctx context.Context, fetch fetchPageFunc) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	repeats := 0
	unknown := 0

	for {
		if t.offset < 0 {
			t.offset = 0
		}

		if t.offset > maxOffset {
			t.offset = maxOffset
		}

		page, err := fetch(ctx, t.offset)
		if err != nil {
			return err
		}

		lines := strings.Split(strings.ReplaceAll(page, "\r\n", "\n"), "\n")
		if page == "" || len(lines) == 0 {
			return nil
		}

		if done := t.applyPageLocked(lines, &repeats, &unknown); done {
			return nil
		}
	}
}

// applyPageLocked consumes one page of journal lines and reports whether
// the sweep is finished. A truncated record ends the page; the next fetch
// resumes from the current offset.
func (t *TransactionLog) applyPageLocked(lines []string, repeats, unknown *int) bool {
	for i, line := range lines {
		if line == "" {
			return true
		}

		// Firmware prefixes the first record with a version header.
		if strings.Contains(line, "version") {
			split := strings.SplitN(line, ":2,", 2)
			if len(split) < 2 {
				return true
			}

			line = split[1]
		}

		fields := strings.Split(line, " ")

		var tidStr string

		switch {
		case strings.Contains(line, "txstart"):
			if len(fields) < 8 {
				return false
			}

			tidStr = firstField(fields[0])
			socket := socketField(fields[3], fields[4])
			reading := MeterReading{
				Date:   fields[5] + " " + fields[6],
				Energy: strings.SplitN(fields[7], "kWh", 2)[0],
			}

			t.sessionLocked(socket).Start = reading

		case strings.Contains(line, "txstop"):
			if len(fields) < 8 {
				return false
			}

			tidStr = firstField(fields[0])
			socket := socketField(fields[3], fields[4])
			s := t.sessionLocked(socket)
			s.Stop = MeterReading{
				Date:   fields[5] + " " + fields[6],
				Energy: strings.SplitN(fields[7], "kWh", 2)[0],
			}

			// The completed session's start reading is pinned so the next
			// txstart cannot erase it.
			if s.Start.Energy != "" {
				s.LastStart = s.Start
			}

		case strings.Contains(line, "mv"):
			if len(fields) < 6 {
				return false
			}

			tidStr = firstField(fields[0])
			socket := socketField(fields[1], fields[2])
			t.sessionLocked(socket).MeterValue = MeterReading{
				Date:   fields[3] + " " + fields[4],
				Energy: fields[5],
			}

		case strings.Contains(line, "dto"):
			tid, err := strconv.Atoi(firstField(fields[0]))
			if err != nil {
				continue
			}

			if tid > t.offset {
				t.offset = tid
			} else {
				t.offset++
			}

			if t.offset > maxOffset {
				t.offset = maxOffset
			}

			continue

		case strings.Contains(line, "0_Empty"):
			return true

		default:
			t.offset++
			*unknown++

			if *unknown > 2 {
				return true
			}

			continue
		}

		if tid, err := strconv.Atoi(tidStr); err == nil {
			if tid == t.offset {
				*repeats++
			} else {
				t.offset = tid
				*repeats = 0
			}

			if *repeats == 2 {
				return true
			}
		}

		if i == len(lines)-1 {
			return false
		}
	}

	return false
}

func (t *TransactionLog) sessionLocked(socket string) *SocketSession {
	s, ok := t.sockets[socket]
	if !ok {
		s = &SocketSession{}
		t.sockets[socket] = s
	}

	return s
}

// firstField strips the record suffix from a "<tid>_<kind>" field.
func firstField(f string) string {
	return strings.SplitN(f, "_", 2)[0]
}

// socketField joins the two-word socket designator, dropping the trailing
// comma of the second word.
func socketField(a, b string) string {
	return a + " " + strings.SplitN(b, ",", 2)[0]
}
