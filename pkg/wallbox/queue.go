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
	"reflect"
	"sync"
)

// WriteQueue holds pending user-requested property changes until the device
// confirms them. Enqueue never blocks beyond the short-held lock; only the
// orchestrator drains.
type WriteQueue struct {
	mu      sync.Mutex
	pending map[string]interface{}
}

func NewWriteQueue() *WriteQueue {
	return &WriteQueue{pending: make(map[string]interface{})}
}

// Enqueue records the desired value for an identifier. A newer enqueue for
// the same identifier replaces the older desired value.
func (q *WriteQueue) Enqueue(id string, value interface{}) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.pending[id] = value
}

// Snapshot returns a point-in-time copy of the queue for one drain pass.
func (q *WriteQueue) Snapshot() map[string]interface{} {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make(map[string]interface{}, len(q.pending))
	for id, v := range q.pending {
		out[id] = v
	}

	return out
}

// Complete removes an identifier after the device accepted the write, but
// only if its desired value still matches the snapshot the drain submitted.
// If a caller enqueued a newer value mid-flight the entry survives so the
// newer value wins on the next cycle. Returns whether the entry was
// removed.
func (q *WriteQueue) Complete(id string, submitted interface{}) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	current, ok := q.pending[id]
	if !ok {
		return false
	}

	if !reflect.DeepEqual(current, submitted) {
		return false
	}

	delete(q.pending, id)

	return true
}

// Contains reports whether an identifier is still queued.
func (q *WriteQueue) Contains(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	_, ok := q.pending[id]

	return ok
}

// Len returns the queue depth.
func (q *WriteQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.pending)
}
