package netclient

import "time"

// Backoff returns the exponential delay for the given zero-based attempt
// number: base, 2×base, 4×base, ... capped at max. Grounded on the worker's
// `1<<attempt * RetryBaseDelay` pattern, generalized with an explicit cap
// per spec §4.3 ("doubling, capped at 60s").
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := base << attempt
	if d <= 0 || d > max { // d<=0 catches overflow from a very large attempt count
		return max
	}
	return d
}
