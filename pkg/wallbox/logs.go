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
	"regexp"
	"strconv"
	"strings"
	"sync"
)

const (
	// noTag marks a socket whose last session ended or carried no RFID tag.
	noTag = "No Tag"

	// The event log is fetched newest-first, at most pages 0..maxLogPage
	// per sweep.
	maxLogPage = 5

	// logRingSize bounds the retained raw log lines.
	logRingSize = 500

	// A log line starts with a numeric line identifier before the first
	// underscore; anything longer than this is not an identifier.
	maxLineIDLen = 20

	// minLogParts is the colon-separated field count of a well-formed log
	// line; the human-readable message starts at field index 6.
	minLogParts  = 7
	logMsgField  = 6
	socketPrefix = "socket "
)

var (
	socketPattern = regexp.MustCompile(`Socket #(\d+)`)
	tagPattern    = regexp.MustCompile(`tag:\s*(\S+)`)

	connectEvents    = []string{"EV_CONNECTED_AUTHORIZED", "CHARGING_POWER_ON", "CABLE_CONNECTED"}
	disconnectEvents = []string{"CHARGING_POWER_OFF", "CHARGING_TERMINATING"}
)

// TagEvent is the most recent RFID observation for one socket: the tag that
// authorized the session, or noTag once the session ended, plus the log line
// identifier it came from so older pages can never overwrite newer state.
type TagEvent struct {
	Tag    string
	LineID int64
}

// EventLog accumulates raw device log lines across sweeps and derives the
// latest RFID tag per socket. Lines are deduplicated; the ring keeps the
// newest logRingSize of them.
type EventLog struct {
	mu    sync.Mutex
	lines []string
	tags  map[string]TagEvent
}

func NewEventLog() *EventLog {
	return &EventLog{tags: make(map[string]TagEvent)}
}

// Ingest appends the unique lines of one log page to the ring.
func (l *EventLog) Ingest(page string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, line := range strings.Split(page, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" || l.containsLocked(line) {
			continue
		}

		l.lines = append(l.lines, line)
		if len(l.lines) > logRingSize {
			l.lines = l.lines[len(l.lines)-logRingSize:]
		}
	}
}

func (l *EventLog) containsLocked(line string) bool {
	for _, have := range l.lines {
		if have == line {
			return true
		}
	}

	return false
}

// Refresh re-derives per-socket tag state from the retained lines, newest
// first. Malformed lines are skipped, never fatal.
func (l *EventLog) Refresh() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := len(l.lines) - 1; i >= 0; i-- {
		l.applyLocked(l.lines[i])
	}
}

func (l *EventLog) applyLocked(line string) {
	underscore := strings.Index(line, "_")
	if underscore == -1 || underscore >= maxLineIDLen {
		return
	}

	lineID, err := strconv.ParseInt(line[:underscore], 10, 64)
	if err != nil {
		return
	}

	parts := strings.Split(line[underscore+1:], ":")
	if len(parts) < minLogParts {
		return
	}

	message := strings.Join(parts[logMsgField:], ":")

	socketMatch := socketPattern.FindStringSubmatch(message)
	if socketMatch == nil {
		return
	}

	isConnect := containsAny(message, connectEvents)
	isDisconnect := containsAny(message, disconnectEvents)

	if (!isConnect && !isDisconnect) || !strings.Contains(message, "tag:") {
		return
	}

	socket := socketPrefix + socketMatch[1]

	prev := l.tags[socket]
	if lineID <= prev.LineID {
		return
	}

	event := TagEvent{Tag: noTag, LineID: lineID}

	if isConnect {
		if tagMatch := tagPattern.FindStringSubmatch(message); tagMatch != nil {
			event.Tag = tagMatch[1]
		} else {
			event.Tag = prev.Tag
		}
	}

	l.tags[socket] = event
}

// Tags returns the latest tag observation per socket.
func (l *EventLog) Tags() map[string]TagEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[string]TagEvent, len(l.tags))
	for socket, event := range l.tags {
		out[socket] = event
	}

	return out
}

// Lines returns a copy of the retained raw log lines, oldest first.
func (l *EventLog) Lines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]string, len(l.lines))
	copy(out, l.lines)

	return out
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}

	return false
}
