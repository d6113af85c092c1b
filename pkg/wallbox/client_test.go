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
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steynovich/alfen-wallbox/pkg/logger"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()

	srv := httptest.NewTLSServer(handler)
	t.Cleanup(srv.Close)

	host := strings.TrimPrefix(srv.URL, "https://")
	client := NewClient(host, 5*time.Second, logger.NewTestLogger())

	return client, srv
}

func TestGetPropertiesValidatesCategory(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		t.Fatal("request should not reach the device")
	}))

	cases := []string{"", "bad cat", "states;drop", "a/b", "states?x=1"}

	for _, category := range cases {
		_, err := client.GetProperties(context.Background(), category, 0)
		assert.ErrorIs(t, err, errInvalidParamID, "category %q", category)
	}
}

func TestGetPropertiesCapsOffset(t *testing.T) {
	var gotOffset string

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotOffset = r.URL.Query().Get(paramOffset)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"properties": []map[string]interface{}{},
			"total":      0,
		})
	}))

	_, err := client.GetProperties(context.Background(), CategoryStates, 99999999)
	require.NoError(t, err)
	assert.Equal(t, "100000", gotOffset)

	_, err = client.GetProperties(context.Background(), CategoryStates, -7)
	require.NoError(t, err)
	assert.Equal(t, "0", gotOffset)
}

func TestGetPropertiesParsesPage(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/prop", r.URL.Path)
		assert.Equal(t, CategoryMeter1, r.URL.Query().Get(paramCategory))

		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"properties": []map[string]interface{}{
				{"id": "2221_3", "value": 229.8, "cat": CategoryMeter1},
				{"id": "2221_A", "value": 6.1, "cat": CategoryMeter1},
			},
			"total": 2,
		})
	}))

	page, err := client.GetProperties(context.Background(), CategoryMeter1, 0)
	require.NoError(t, err)
	require.Len(t, page.Properties, 2)
	assert.Equal(t, "2221_3", page.Properties[0].ID)
	assert.Equal(t, 2, page.Total)
}

func TestGetPropertiesMalformedResponses(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `<html>boot loader</html>`},
		{"missing total", `{"properties": []}`},
		{"missing properties", `{"total": 5}`},
		{"properties not a list", `{"properties": {"id": "x"}, "total": 1}`},
		{"total not a number", `{"properties": [], "total": "many"}`},
		{"property without id", `{"properties": [{"value": 1}], "total": 1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			}))

			_, err := client.GetProperties(context.Background(), CategoryStates, 0)
			assert.ErrorIs(t, err, ErrMalformedResponse)
		})
	}
}

func TestDoMapsUnauthorized(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	_, err := client.GetProperties(context.Background(), CategoryStates, 0)
	assert.ErrorIs(t, err, ErrAuthRejected)
}

func TestDoMapsServerError(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	_, err := client.GetProperties(context.Background(), CategoryStates, 0)
	assert.ErrorIs(t, err, ErrConnection)
}

func TestSetPropertyValidatesID(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		t.Fatal("request should not reach the device")
	}))

	err := client.SetProperty(context.Background(), "2129_0; rm -rf", 16)
	assert.ErrorIs(t, err, errInvalidParamID)
}

func TestSetPropertySendsStringValue(t *testing.T) {
	var payload map[string]map[string]interface{}

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.WriteHeader(http.StatusOK)
	}))

	require.NoError(t, client.SetProperty(context.Background(), "2129_0", 16))

	require.Contains(t, payload, "2129_0")
	assert.Equal(t, "2129_0", payload["2129_0"]["id"])
	assert.Equal(t, "16", payload["2129_0"]["value"])
}

func TestSetPropertyWrapsRejection(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))

	err := client.SetProperty(context.Background(), "2129_0", 16)
	assert.ErrorIs(t, err, ErrWriteRejected)
}

func TestSetPropertyPassesThroughAuthRejected(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	err := client.SetProperty(context.Background(), "2129_0", 16)
	assert.ErrorIs(t, err, ErrAuthRejected)
	assert.NotErrorIs(t, err, ErrWriteRejected)
}

func TestClientSerializesRequests(t *testing.T) {
	var inFlight, maxInFlight int32

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := atomic.AddInt32(&inFlight, 1)

		for {
			old := atomic.LoadInt32(&maxInFlight)
			if n <= old || atomic.CompareAndSwapInt32(&maxInFlight, old, n) {
				break
			}
		}

		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)

		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"properties": []map[string]interface{}{},
			"total":      0,
		})
	}))

	done := make(chan struct{})

	for i := 0; i < 4; i++ {
		go func() {
			defer func() { done <- struct{}{} }()

			_, err := client.GetProperties(context.Background(), CategoryStates, 0)
			assert.NoError(t, err)
		}()
	}

	for i := 0; i < 4; i++ {
		<-done
	}

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxInFlight), "requests must not overlap")
}

func TestClassifyRequestErrorTimeout(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.GetProperties(ctx, CategoryStates, 0)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestSanitizeErrorRedacts(t *testing.T) {
	assert.Equal(t, "", sanitizeError(nil))

	err := errors.New("dial tcp 192.168.1.14:443: token a1b2c3d4e5f60718293a4b5c6d7e8f90aa bad")
	msg := sanitizeError(err)

	assert.NotContains(t, msg, "192.168.1.14")
	assert.NotContains(t, msg, "a1b2c3d4e5f60718293a4b5c6d7e8f90aa")
	assert.Contains(t, msg, "<ip>")
	assert.Contains(t, msg, "<redacted>")

	long := errors.New(strings.Repeat("x ", 300))
	assert.LessOrEqual(t, len(sanitizeError(long)), maxSanitizedLen+len("..."))
}

func TestHashTag(t *testing.T) {
	assert.Equal(t, "", hashTag(""))
	assert.Equal(t, noTag, hashTag(noTag))

	hashed := hashTag("04AA11BB22CC33")
	assert.True(t, strings.HasPrefix(hashed, "<tag:"))
	assert.NotContains(t, hashed, "04AA11BB22CC33")
	assert.Equal(t, hashed, hashTag("04AA11BB22CC33"))
}
