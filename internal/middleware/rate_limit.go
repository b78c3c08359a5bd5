package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	pkghttp "github.com/BradenHooton/gatekeeper/pkg/http"
)

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Requests int
	// Window defaults to one minute when zero.
	Window time.Duration
	// Counter shares window counts across instances. Nil keeps them in memory.
	Counter httprate.LimitCounter
	// IPConfig decides which forwarding headers are believed when keying
	// by client address. Nil keys on the peer address.
	IPConfig *pkghttp.IPConfig
}

// RateLimitByIP creates a middleware that rate limits requests by client IP.
// This throttles request volume only; account lockout is decided from the
// failed-attempt stream and is unaffected by it.
func RateLimitByIP(config RateLimitConfig) func(next http.Handler) http.Handler {
	window := config.Window
	if window <= 0 {
		window = time.Minute
	}

	opts := []httprate.Option{
		httprate.WithKeyFuncs(clientIPKey(config.IPConfig)),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			pkghttp.WriteTooManyRequests(w, "Rate limit exceeded")
		}),
	}
	if config.Counter != nil {
		opts = append(opts, httprate.WithLimitCounter(config.Counter))
	}
	return httprate.Limit(config.Requests, window, opts...)
}

func clientIPKey(ipConfig *pkghttp.IPConfig) httprate.KeyFunc {
	return func(r *http.Request) (string, error) {
		return pkghttp.ExtractClientIP(r, ipConfig), nil
	}
}
