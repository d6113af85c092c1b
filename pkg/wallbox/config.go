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
	"time"

	"github.com/steynovich/alfen-wallbox/pkg/logger"
	"github.com/steynovich/alfen-wallbox/pkg/models"
)

var (
	errHostRequired     = fmt.Errorf("device host is required")
	errPasswordRequired = fmt.Errorf("device password is required")
	errUnknownCategory  = fmt.Errorf("unknown refresh category")
)

const (
	defaultUsername           = "admin"
	defaultPollInterval       = 20 * time.Second
	defaultRequestTimeout     = 20 * time.Second
	defaultCycleTimeout       = 30 * time.Second
	defaultLoginTimeout       = 10 * time.Second
	defaultCategoriesPerCycle = 3
	defaultRetryDelay         = 2 * time.Second

	minPollInterval   = 1 * time.Second
	maxPollInterval   = 300 * time.Second
	minRequestTimeout = 1 * time.Second
	maxRequestTimeout = 30 * time.Second
	minCategories     = 1
	maxCategories     = 15
	maxFetchDelay     = 5 * time.Second
)

// Config represents the engine configuration for one wallbox.
type Config struct {
	Host     string `json:"host"`
	Name     string `json:"name"`
	Username string `json:"username"`
	Password string `json:"password"`

	PollInterval       models.Duration `json:"poll_interval"`
	RequestTimeout     models.Duration `json:"request_timeout"`
	CycleTimeout       models.Duration `json:"cycle_timeout"`
	LoginTimeout       models.Duration `json:"login_timeout"`
	CategoriesPerCycle int             `json:"categories_per_cycle"`
	CategoryFetchDelay models.Duration `json:"category_fetch_delay"`
	RetryDelay         models.Duration `json:"retry_delay"`

	// RefreshCategories is the set fetched on the regular (eager)
	// cadence. Categories outside this set are loaded once at startup.
	RefreshCategories []string `json:"refresh_categories"`

	Logging *logger.Config `json:"logging,omitempty"`
}

// Validate implements config.Validator. It fills defaults and range-checks
// the tunables.
func (c *Config) Validate() error {
	if c.Host == "" {
		return errHostRequired
	}

	if c.Password == "" {
		return errPasswordRequired
	}

	if c.Username == "" {
		c.Username = defaultUsername
	}

	if c.Name == "" {
		c.Name = c.Host
	}

	if time.Duration(c.PollInterval) == 0 {
		c.PollInterval = models.Duration(defaultPollInterval)
	}

	if time.Duration(c.RequestTimeout) == 0 {
		c.RequestTimeout = models.Duration(defaultRequestTimeout)
	}

	if time.Duration(c.CycleTimeout) == 0 {
		c.CycleTimeout = models.Duration(defaultCycleTimeout)
	}

	if time.Duration(c.LoginTimeout) == 0 {
		c.LoginTimeout = models.Duration(defaultLoginTimeout)
	}

	if c.CategoriesPerCycle == 0 {
		c.CategoriesPerCycle = defaultCategoriesPerCycle
	}

	if time.Duration(c.RetryDelay) == 0 {
		c.RetryDelay = models.Duration(defaultRetryDelay)
	}

	if len(c.RefreshCategories) == 0 {
		c.RefreshCategories = []string{CategoryGeneric, CategoryMeter1, CategoryStates}
	}

	if d := time.Duration(c.PollInterval); d < minPollInterval || d > maxPollInterval {
		return fmt.Errorf("poll_interval %s outside [%s, %s]", d, minPollInterval, maxPollInterval)
	}

	if d := time.Duration(c.RequestTimeout); d < minRequestTimeout || d > maxRequestTimeout {
		return fmt.Errorf("request_timeout %s outside [%s, %s]", d, minRequestTimeout, maxRequestTimeout)
	}

	if c.CategoriesPerCycle < minCategories || c.CategoriesPerCycle > maxCategories {
		return fmt.Errorf("categories_per_cycle %d outside [%d, %d]", c.CategoriesPerCycle, minCategories, maxCategories)
	}

	if d := time.Duration(c.CategoryFetchDelay); d < 0 || d > maxFetchDelay {
		return fmt.Errorf("category_fetch_delay %s outside [0s, %s]", d, maxFetchDelay)
	}

	for _, cat := range c.RefreshCategories {
		if !isKnownCategory(cat) {
			return fmt.Errorf("%w: %s", errUnknownCategory, cat)
		}
	}

	return nil
}

// LogID identifies the device in log output, e.g. "Garage@192.168.1.14".
func (c *Config) LogID() string {
	return c.Name + "@" + c.Host
}
