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
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"sync"
	"time"

	"github.com/steynovich/alfen-wallbox/pkg/logger"
	"github.com/steynovich/alfen-wallbox/pkg/models"
)

const (
	actionInfo         = "info"
	actionLogin        = "login"
	actionLogout       = "logout"
	actionProp         = "prop"
	actionCmd          = "cmd"
	actionLog          = "log"
	actionTransactions = "transactions"

	paramCategory = "cat"
	paramOffset   = "offset"
	paramID       = "id"

	// maxOffset caps paging offsets so a bogus "total" from the device can
	// never drive unbounded request growth.
	maxOffset = 100000
)

// paramIDPattern restricts outgoing identifier parameters to the characters
// the wallbox API defines for parameter IDs.
var paramIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Client issues authenticated HTTPS requests against one wallbox. Exactly
// one request is in flight at a time; concurrent callers queue on the mutex
// and none are dropped. The device presents a self-signed certificate, so
// peer verification is disabled (accepted local-network risk).
type Client struct {
	host       string
	httpClient *http.Client
	mu         sync.Mutex
	logger     logger.Logger
}

// NewClient creates a transport for the device at host.
func NewClient(host string, requestTimeout time.Duration, log logger.Logger) *Client {
	return &Client{
		host: host,
		httpClient: &http.Client{
			Timeout: requestTimeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					InsecureSkipVerify: true, //nolint:gosec // G402: wallbox serves a self-signed certificate
				},
			},
		},
		logger: log,
	}
}

func (c *Client) url(action string, params url.Values) string {
	u := fmt.Sprintf("https://%s/api/%s", c.host, action)
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	return u
}

// do holds the request slot for the full request/response exchange: the
// body is read to completion before the slot is released, never after.
func (c *Client) do(req *http.Request) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyRequestError(err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Debug().Err(cerr).Msg("Failed to close response body")
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyRequestError(err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, ErrAuthRejected
	case resp.StatusCode >= http.StatusBadRequest:
		return body, fmt.Errorf("%w: status %d", ErrConnection, resp.StatusCode)
	}

	return body, nil
}

// Get issues a GET against an API action and returns the raw body.
func (c *Client) Get(ctx context.Context, action string, params url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(action, params), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrConnection, sanitizeError(err))
	}

	return c.do(req)
}

// Post issues a JSON POST against an API action and returns the raw body.
func (c *Client) Post(ctx context.Context, action string, payload interface{}) ([]byte, error) {
	var body io.Reader = http.NoBody

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrMalformedResponse, sanitizeError(err))
		}

		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(action, nil), body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrConnection, sanitizeError(err))
	}

	req.Header.Set("Content-Type", "application/json")

	return c.do(req)
}

// GetProperties fetches one page of the property listing for a category.
// The response is structurally validated before use; violations map to
// ErrMalformedResponse, never a decode panic.
func (c *Client) GetProperties(ctx context.Context, category string, offset int) (*models.PropertyPage, error) {
	if !paramIDPattern.MatchString(category) {
		return nil, fmt.Errorf("%w: %q", errInvalidParamID, truncate(category, 50))
	}

	if offset < 0 {
		offset = 0
	}

	if offset > maxOffset {
		offset = maxOffset
	}

	params := url.Values{}
	params.Set(paramCategory, category)
	params.Set(paramOffset, fmt.Sprintf("%d", offset))

	body, err := c.Get(ctx, actionProp, params)
	if err != nil {
		return nil, err
	}

	return parsePropertyPage(body)
}

// parsePropertyPage validates the listing response shape: a list-typed
// "properties" field, an integer-typed "total" field, and an "id" on every
// element.
func parsePropertyPage(body []byte) (*models.PropertyPage, error) {
	var raw struct {
		Properties *[]models.Property `json:"properties"`
		Total      *int               `json:"total"`
	}

	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedResponse, sanitizeError(err))
	}

	if raw.Properties == nil || raw.Total == nil {
		return nil, fmt.Errorf("%w: missing properties or total", ErrMalformedResponse)
	}

	for i := range *raw.Properties {
		if (*raw.Properties)[i].ID == "" {
			return nil, fmt.Errorf("%w: property %d has no id", ErrMalformedResponse, i)
		}
	}

	return &models.PropertyPage{Properties: *raw.Properties, Total: *raw.Total}, nil
}

// SetProperty submits a single identifier/value pair. The value travels as
// a string, matching what the wallbox firmware expects.
func (c *Client) SetProperty(ctx context.Context, id string, value interface{}) error {
	if !paramIDPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", errInvalidParamID, truncate(id, 50))
	}

	payload := map[string]interface{}{
		id: map[string]interface{}{
			paramID: id,
			"value": fmt.Sprintf("%v", value),
		},
	}

	_, err := c.Post(ctx, actionProp, payload)
	if err != nil {
		if errors.Is(err, ErrAuthRejected) || errors.Is(err, ErrTimeout) {
			return err
		}

		return fmt.Errorf("%w: %s", ErrWriteRejected, sanitizeError(err))
	}

	return nil
}

// GetText fetches a plain-text paginated endpoint (event log, transaction
// history) at the given offset.
func (c *Client) GetText(ctx context.Context, action string, offset int) (string, error) {
	if offset < 0 {
		offset = 0
	}

	if offset > maxOffset {
		offset = maxOffset
	}

	params := url.Values{}
	params.Set(paramOffset, fmt.Sprintf("%d", offset))

	body, err := c.Get(ctx, action, params)
	if err != nil {
		return "", err
	}

	return string(body), nil
}

// CloseIdleConnections drops the pooled device connection. The session is
// bound to the TCP connection, so this runs after logout.
func (c *Client) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}

// classifyRequestError maps low-level transport failures onto the engine's
// error taxonomy.
func classifyRequestError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", ErrTimeout, sanitizeError(err))
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %s", ErrTimeout, sanitizeError(err))
	}

	return fmt.Errorf("%w: %s", ErrConnection, sanitizeError(err))
}
