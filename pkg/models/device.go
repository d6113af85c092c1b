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

package models

// Property is one device parameter as returned by the wallbox listing API.
// Value stays untyped; the presentation layer owns value typing.
type Property struct {
	ID       string      `json:"id"`
	Value    interface{} `json:"value"`
	Category string      `json:"cat,omitempty"`
}

// PropertyPage is one page of a paginated property listing response.
type PropertyPage struct {
	Properties []Property `json:"properties"`
	Total      int        `json:"total"`
}

// DeviceInfo describes the wallbox as reported by its info endpoint.
type DeviceInfo struct {
	Identity        string `json:"Identity"`
	FirmwareVersion string `json:"FWVersion"`
	Model           string `json:"Model"`
	ObjectID        string `json:"ObjectId"`
	Type            string `json:"Type"`
}

// GenericDeviceInfo is the fallback used when the info endpoint is not
// available on older firmware.
func GenericDeviceInfo(host string) *DeviceInfo {
	return &DeviceInfo{
		Identity:        host,
		FirmwareVersion: "?",
		Model:           "Generic Alfen Wallbox",
		ObjectID:        "?",
		Type:            "?",
	}
}
