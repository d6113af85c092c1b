package wallbox

import "errors"

var (
	// ErrTimeout covers network timeouts and exceeded phase deadlines.
	// Recoverable; the affected work is retried on the next cycle.
	ErrTimeout = errors.New("request timed out")

	// ErrConnection means the device was unreachable or answered with an
	// unexpected status. Recoverable.
	ErrConnection = errors.New("device unreachable")

	// ErrAuthRejected means the device refused the session. The caller
	// triggers re-login; the transport never retries on its own.
	ErrAuthRejected = errors.New("authentication rejected")

	// ErrMalformedResponse means a response failed structural validation.
	// The category fetch is abandoned for the cycle.
	ErrMalformedResponse = errors.New("malformed response")

	// ErrLoginRateLimited means the login attempt budget for the rolling
	// window is spent; the attempt was not sent to the device.
	ErrLoginRateLimited = errors.New("login rate limited")

	// ErrLoginTimeout means the proactive login did not finish within its
	// own deadline; the cycle is aborted.
	ErrLoginTimeout = errors.New("login timed out")

	// ErrWriteRejected means the device refused a specific property write;
	// the entry stays queued and is retried next cycle.
	ErrWriteRejected = errors.New("write rejected by device")

	errInvalidParamID  = errors.New("invalid parameter id")
	errValueOutOfRange = errors.New("value out of range")
	errLoggedOut       = errors.New("engine is logged out")
)
