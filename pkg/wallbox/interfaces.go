package wallbox

//go:generate mockgen -destination=mock_clock.go -package=wallbox github.com/steynovich/alfen-wallbox/pkg/wallbox Clock,Ticker

import "time"

// Clock abstracts time-related operations so cycle tests run without real
// sleeps.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
	Ticker(d time.Duration) Ticker
}

// Ticker abstracts the ticker behavior.
type Ticker interface {
	Chan() <-chan time.Time
	Stop()
}
