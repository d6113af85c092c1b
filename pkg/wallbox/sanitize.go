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
	"crypto/sha256"
	"encoding/hex"
	"regexp"
)

var (
	pathPattern  = regexp.MustCompile(`(/[^\s:]+)+`)
	ipPattern    = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	tokenPattern = regexp.MustCompile(`\b[A-Za-z0-9]{32,}\b`)
)

const maxSanitizedLen = 200

// sanitizeError redacts file paths, IP addresses and token-like strings
// from an error message so it is safe to log.
func sanitizeError(err error) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	msg = pathPattern.ReplaceAllString(msg, "<path>")
	msg = ipPattern.ReplaceAllString(msg, "<ip>")
	msg = tokenPattern.ReplaceAllString(msg, "<redacted>")

	return truncate(msg, maxSanitizedLen)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}

	return s[:n] + "..."
}

// hashTag replaces an RFID tag value with a short hash for privacy-safe
// logging.
func hashTag(tag string) string {
	if tag == "" || tag == noTag {
		return tag
	}

	sum := sha256.Sum256([]byte(tag))

	return "<tag:" + hex.EncodeToString(sum[:])[:8] + ">"
}
