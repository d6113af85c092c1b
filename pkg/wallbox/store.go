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
	"sync"

	"github.com/steynovich/alfen-wallbox/pkg/models"
)

// StoredProperty is a property plus the cycle number it was last fetched or
// confirmed in. Readers can surface staleness from LastCycle.
type StoredProperty struct {
	models.Property
	LastCycle uint64
}

// Store is the in-memory property cache. It is merged incrementally:
// categories not fetched in a cycle keep their prior values. Safe for
// concurrent reads at any time; the orchestrator is the sole mutator
// within a cycle.
type Store struct {
	mu    sync.RWMutex
	props map[string]StoredProperty
}

func NewStore() *Store {
	return &Store{props: make(map[string]StoredProperty)}
}

// Get returns the current entry for a property identifier.
func (s *Store) Get(id string) (StoredProperty, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.props[id]

	return p, ok
}

// CategoryOf resolves a property identifier to its owning category.
func (s *Store) CategoryOf(id string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.props[id]
	if !ok || p.Category == "" {
		return "", false
	}

	return p.Category, true
}

// Merge folds fetched properties into the cache. Existing entries for
// identifiers absent from props are left untouched; a fetch result never
// deletes properties.
func (s *Store) Merge(props []models.Property, cycle uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range props {
		if props[i].ID == "" {
			continue
		}

		s.props[props[i].ID] = StoredProperty{Property: props[i], LastCycle: cycle}
	}
}

// SetValue overwrites the cached value of an existing property after the
// device confirmed a write, keeping its category.
func (s *Store) SetValue(id string, value interface{}, cycle uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.props[id]
	if !ok {
		return
	}

	p.Value = value
	p.LastCycle = cycle
	s.props[id] = p
}

// Len returns the number of cached properties.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.props)
}

// Snapshot returns a copy of the cache for diagnostics.
func (s *Store) Snapshot() map[string]StoredProperty {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]StoredProperty, len(s.props))
	for id, p := range s.props {
		out[id] = p
	}

	return out
}
