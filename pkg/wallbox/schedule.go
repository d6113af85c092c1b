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

// CyclePlan lists the categories one update cycle fetches, in fetch order.
// PostWrite runs first so writes become visible immediately; Static is the
// one-time startup load; Rotation is this cycle's slice of the eager set;
// LowFrequency is the event log and transaction history on their cadences.
type CyclePlan struct {
	PostWrite    []string
	Static       []string
	Rotation     []string
	LowFrequency []string
}

// Categories returns the plan flattened in fetch order, without duplicates.
func (p *CyclePlan) Categories() []string {
	seen := make(map[string]bool)
	out := make([]string, 0, len(p.PostWrite)+len(p.Static)+len(p.Rotation))

	for _, group := range [][]string{p.PostWrite, p.Static, p.Rotation} {
		for _, cat := range group {
			if !seen[cat] {
				seen[cat] = true
				out = append(out, cat)
			}
		}
	}

	return out
}

// Scheduler decides which categories each cycle fetches. Eager categories
// rotate through a cursor so every cycle stays short; the remaining
// categories are static device facts loaded once. Not safe for concurrent
// use; the orchestrator owns it.
type Scheduler struct {
	eager      []string
	static     []string
	perCycle   int
	cursor     int
	staticDone bool

	fetchLogs         bool
	fetchTransactions bool
}

// NewScheduler builds a scheduler from the configured refresh set. Log and
// transaction categories are never rotated; naming them in the refresh set
// enables their low-frequency cadence instead.
func NewScheduler(refreshCategories []string, perCycle int) *Scheduler {
	s := &Scheduler{perCycle: perCycle}

	eager := make(map[string]bool)

	for _, cat := range refreshCategories {
		switch cat {
		case CategoryLogs:
			s.fetchLogs = true
		case CategoryTransactions:
			s.fetchTransactions = true
		default:
			if !eager[cat] {
				eager[cat] = true
				s.eager = append(s.eager, cat)
			}
		}
	}

	for _, cat := range Categories {
		if cat == CategoryLogs || cat == CategoryTransactions {
			continue
		}

		if !eager[cat] {
			s.static = append(s.static, cat)
		}
	}

	return s
}

// Plan produces the fetch plan for one cycle. Cycle numbers start at 1.
// wrote reports whether the device accepted any write this cycle; touched
// lists the categories those writes belong to, where known. States is always
// fetched after writes so charging state changes show up without waiting for
// rotation, even when no write could be mapped to a category.
func (s *Scheduler) Plan(cycle uint64, wrote bool, touched []string) CyclePlan {
	plan := CyclePlan{}

	if wrote {
		seen := make(map[string]bool)

		for _, cat := range append(touched, CategoryStates) {
			if cat != "" && !seen[cat] {
				seen[cat] = true
				plan.PostWrite = append(plan.PostWrite, cat)
			}
		}
	}

	if !s.staticDone {
		plan.Static = append(plan.Static, s.static...)
		s.staticDone = true
	}

	plan.Rotation = s.advance()

	if s.fetchLogs && cycle%logFetchPeriod == 0 {
		plan.LowFrequency = append(plan.LowFrequency, CategoryLogs)
	}

	if s.fetchTransactions && cycle%transactionFetchPeriod == 0 {
		plan.LowFrequency = append(plan.LowFrequency, CategoryTransactions)
	}

	return plan
}

// advance takes the next slice of the eager set. It never wraps mid-cycle:
// at most min(perCycle, remaining) categories are taken, so the cursor
// returns to the start after exactly ceil(len(eager)/perCycle) cycles and
// every eager category is fetched once per revolution.
func (s *Scheduler) advance() []string {
	n := len(s.eager)
	if n == 0 {
		return nil
	}

	count := s.perCycle
	if remaining := n - s.cursor; count > remaining {
		count = remaining
	}

	out := make([]string, count)
	copy(out, s.eager[s.cursor:s.cursor+count])

	s.cursor = (s.cursor + count) % n

	return out
}

// Rewind restarts the static load and rotation. A rebooted device starts
// from factory-fresh web stack state, so static facts are read again.
func (s *Scheduler) Rewind() {
	s.cursor = 0
	s.staticDone = false
}
