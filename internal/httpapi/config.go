package httpapi

import "time"

const defaultMaxBodyBytes int64 = 10 << 20

// maxBodyBytes caps JSON request bodies. Images arrive base64-encoded, so the
// default is well above a typical capture.
var maxBodyBytes = defaultMaxBodyBytes

// SetMaxBodyBytes sets the request body cap; non-positive restores the default.
func SetMaxBodyBytes(n int64) {
	if n <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
		return
	}
	maxBodyBytes = n
}

// retryAfter is advertised on busy responses.
var retryAfter = time.Second

// SetRetryAfter sets the Retry-After hint sent with busy responses.
// Values below one second are rounded up to one second.
func SetRetryAfter(d time.Duration) {
	if d < time.Second {
		d = time.Second
	}
	retryAfter = d
}

// CORS configuration (opt-in). If disabled, no CORS middleware is added.
var (
	corsEnabled        bool
	corsAllowedOrigins []string
	corsAllowedMethods []string
	corsAllowedHeaders []string
)

// SetCORSOptions configures CORS behavior for the HTTP server.
func SetCORSOptions(enabled bool, origins, methods, headers []string) {
	corsEnabled = enabled
	corsAllowedOrigins = append([]string(nil), origins...)
	corsAllowedMethods = append([]string(nil), methods...)
	corsAllowedHeaders = append([]string(nil), headers...)
}

// Per-client rate limit; zero rps disables it.
var (
	rateRPS   float64
	rateBurst = 5
)

// SetRateLimit enables a token bucket per client IP.
func SetRateLimit(rps float64, burst int) {
	if rps < 0 {
		rps = 0
	}
	if burst <= 0 {
		burst = 5
	}
	rateRPS, rateBurst = rps, burst
}
