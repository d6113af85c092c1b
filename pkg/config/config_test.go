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

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`

	validateErr error
}

func (c *sampleConfig) Validate() error {
	if c.validateErr != nil {
		return c.validateErr
	}

	if c.Port == 0 {
		c.Port = 443
	}

	return nil
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoadAndValidate(t *testing.T) {
	path := writeConfigFile(t, `{"host": "192.168.1.14"}`)

	var cfg sampleConfig

	err := NewConfig(nil).LoadAndValidate(context.Background(), path, &cfg)
	require.NoError(t, err)

	assert.Equal(t, "192.168.1.14", cfg.Host)
	assert.Equal(t, 443, cfg.Port, "Validate fills defaults")
}

func TestLoadAndValidateMissingFile(t *testing.T) {
	var cfg sampleConfig

	err := NewConfig(nil).LoadAndValidate(context.Background(), "/does/not/exist.json", &cfg)
	assert.Error(t, err)
}

func TestLoadAndValidateBadJSON(t *testing.T) {
	path := writeConfigFile(t, `{"host": `)

	var cfg sampleConfig

	err := NewConfig(nil).LoadAndValidate(context.Background(), path, &cfg)
	assert.Error(t, err)
}

func TestLoadAndValidatePropagatesValidationError(t *testing.T) {
	path := writeConfigFile(t, `{"host": "h"}`)

	wantErr := errors.New("bad config")
	cfg := sampleConfig{validateErr: wantErr}

	err := NewConfig(nil).LoadAndValidate(context.Background(), path, &cfg)
	assert.ErrorIs(t, err, wantErr)
}

func TestValidateConfigSkipsNonValidators(t *testing.T) {
	type plain struct{ Host string }

	assert.NoError(t, ValidateConfig(&plain{}))
}
