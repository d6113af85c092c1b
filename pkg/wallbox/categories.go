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

// Property categories understood by the wallbox listing API. Each category
// partitions the device's property space and is fetched as a unit.
const (
	CategoryGeneric      = "generic"
	CategoryGeneric2     = "generic2"
	CategoryMeter1       = "meter1"
	CategoryMeter2       = "meter2"
	CategoryMeter4       = "meter4"
	CategoryStates       = "states"
	CategoryTemp         = "temp"
	CategoryOCPP         = "ocpp"
	CategoryAccelero     = "accelero"
	CategoryLEDs         = "leds"
	CategoryMBusTCP      = "mbus_tcp"
	CategoryComm         = "comm"
	CategoryDisplay      = "display"
	CategoryLogs         = "logs"
	CategoryTransactions = "transactions"
)

// Categories is the ordered full category set. Logs and transactions are
// low-frequency categories with their own fetch paths and cadences.
var Categories = []string{
	CategoryGeneric,
	CategoryGeneric2,
	CategoryMeter1,
	CategoryMeter2,
	CategoryMeter4,
	CategoryStates,
	CategoryTemp,
	CategoryOCPP,
	CategoryAccelero,
	CategoryLEDs,
	CategoryMBusTCP,
	CategoryComm,
	CategoryDisplay,
	CategoryLogs,
	CategoryTransactions,
}

// Low-frequency fetch cadences, in cycles.
const (
	logFetchPeriod         = 20
	transactionFetchPeriod = 60
)

func isKnownCategory(cat string) bool {
	for _, c := range Categories {
		if c == cat {
			return true
		}
	}

	return false
}
