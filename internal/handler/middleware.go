package handler

import (
	"math"
	"net"
	"net/http"
	"strconv"

	"github.com/accmarket/market-bfa-go/internal/domain"

	"go.uber.org/zap"
)

// rateLimitMiddleware rejects callers over budget with a SNAP 429 ack and
// reports the budget in RateLimit-* headers. RemoteAddr is already rewritten
// by middleware.RealIP.
func rateLimitMiddleware(l *ipLimiter, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			q := l.allow(ip)
			resetSecs := strconv.Itoa(int(math.Ceil(q.reset.Seconds())))
			w.Header().Set("RateLimit-Limit", strconv.Itoa(l.limit))
			w.Header().Set("RateLimit-Remaining", strconv.Itoa(q.remaining))
			w.Header().Set("RateLimit-Reset", resetSecs)
			if !q.allowed {
				w.Header().Set("Retry-After", resetSecs)
				logger.Warn("relay: rate limit exceeded",
					zap.String("remote_addr", ip),
					zap.String("path", r.URL.Path),
				)
				writeAckError(w, &domain.ErrRateLimited{Key: ip}, logger)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
