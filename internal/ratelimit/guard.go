package ratelimit

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"

	"iptracker/internal/metrics"
)

const TooManyAttemptsMessage = "Too many attempts. Please try again later."

type retryAfterer interface {
	RetryAfter(key string, limit int, window time.Duration) time.Duration
}

// Guard rejects requests over budget with 429 before the wrapped handler
// runs. Only the listed methods are counted; POST when none are given.
func Guard(limiter Limiter, policy *Policy, methods ...string) func(http.Handler) http.Handler {
	if len(methods) == 0 {
		methods = []string{http.MethodPost}
	}
	counted := make(map[string]struct{}, len(methods))
	for _, method := range methods {
		counted[method] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := counted[r.Method]; !ok {
				next.ServeHTTP(w, r)
				return
			}

			rule := policy.Rule(r)
			allowed, err := limiter.Allow(r.Context(), rule.Key, rule.Limit, rule.Window)
			if err != nil {
				log.Error("Rate limit check failed, allowing request", "key", rule.Key, "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if allowed {
				next.ServeHTTP(w, r)
				return
			}

			metrics.RateLimitRejections.WithLabelValues(rule.Actor).Inc()
			log.Debug("Rate limit exceeded", "key", rule.Key, "limit", rule.Limit, "window", rule.Window)

			retry := rule.Window
			if ra, ok := limiter.(retryAfterer); ok {
				retry = ra.RetryAfter(rule.Key, rule.Limit, rule.Window)
			}
			w.Header().Set("Retry-After", strconv.Itoa(retrySeconds(retry)))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": TooManyAttemptsMessage})
		})
	}
}

func retrySeconds(d time.Duration) int {
	seconds := int(math.Ceil(d.Seconds()))
	if seconds < 1 {
		return 1
	}
	return seconds
}
