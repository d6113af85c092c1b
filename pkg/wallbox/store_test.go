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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steynovich/alfen-wallbox/pkg/models"
)

func TestStoreMergePreservesOtherCategories(t *testing.T) {
	store := NewStore()

	store.Merge([]models.Property{
		{ID: "2060_0", Value: 230.1, Category: CategoryMeter1},
		{ID: "2501_2", Value: 4, Category: CategoryStates},
	}, 1)

	// A later cycle fetches only meter1. The states entry must survive.
	store.Merge([]models.Property{
		{ID: "2060_0", Value: 231.4, Category: CategoryMeter1},
	}, 2)

	meter, ok := store.Get("2060_0")
	require.True(t, ok)
	assert.Equal(t, 231.4, meter.Value)
	assert.Equal(t, uint64(2), meter.LastCycle)

	state, ok := store.Get("2501_2")
	require.True(t, ok)
	assert.Equal(t, 4, state.Value)
	assert.Equal(t, uint64(1), state.LastCycle)

	assert.Equal(t, 2, store.Len())
}

func TestStoreMergeSkipsEmptyIDs(t *testing.T) {
	store := NewStore()

	store.Merge([]models.Property{
		{ID: "", Value: 1},
		{ID: "2060_0", Value: 2},
	}, 1)

	assert.Equal(t, 1, store.Len())
}

func TestStoreCategoryOf(t *testing.T) {
	store := NewStore()

	store.Merge([]models.Property{
		{ID: "2129_0", Value: 16, Category: CategoryGeneric},
		{ID: "9999_0", Value: 1},
	}, 1)

	cat, ok := store.CategoryOf("2129_0")
	require.True(t, ok)
	assert.Equal(t, CategoryGeneric, cat)

	_, ok = store.CategoryOf("9999_0")
	assert.False(t, ok, "property without category")

	_, ok = store.CategoryOf("unknown")
	assert.False(t, ok)
}

func TestStoreSetValueOnlyUpdatesExisting(t *testing.T) {
	store := NewStore()

	store.SetValue("2129_0", 16, 3)
	_, ok := store.Get("2129_0")
	assert.False(t, ok, "SetValue must not create entries")

	store.Merge([]models.Property{{ID: "2129_0", Value: 10, Category: CategoryGeneric}}, 1)
	store.SetValue("2129_0", 16, 3)

	p, ok := store.Get("2129_0")
	require.True(t, ok)
	assert.Equal(t, 16, p.Value)
	assert.Equal(t, CategoryGeneric, p.Category)
	assert.Equal(t, uint64(3), p.LastCycle)
}

func TestStoreSnapshotIsACopy(t *testing.T) {
	store := NewStore()
	store.Merge([]models.Property{{ID: "2060_0", Value: 1}}, 1)

	snap := store.Snapshot()
	snap["2060_0"] = StoredProperty{Property: models.Property{ID: "2060_0", Value: 99}}

	p, _ := store.Get("2060_0")
	assert.Equal(t, 1, p.Value)
}
