package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

const rateLimitBody = `{"success":false,"error":"Too many requests, please try again later."}`

type window struct {
	hits  int
	reset time.Time
}

// fixedWindow counts hits per key in consecutive windows of length per.
type fixedWindow struct {
	limit int
	per   time.Duration
	now   func() time.Time

	mu      sync.Mutex
	windows map[string]*window
	swept   time.Time
}

func newFixedWindow(limit int, per time.Duration, now func() time.Time) *fixedWindow {
	return &fixedWindow{limit: limit, per: per, now: now, windows: map[string]*window{}, swept: now()}
}

// take records one hit for key. It reports whether the hit fits the current
// window, how many hits remain and when the window resets.
func (f *fixedWindow) take(key string) (bool, int, time.Time) {
	now := f.now()
	f.mu.Lock()
	defer f.mu.Unlock()

	if now.Sub(f.swept) > f.per {
		for k, w := range f.windows {
			if !now.Before(w.reset) {
				delete(f.windows, k)
			}
		}
		f.swept = now
	}
	w, ok := f.windows[key]
	if !ok || !now.Before(w.reset) {
		w = &window{reset: now.Add(f.per)}
		f.windows[key] = w
	}
	if w.hits >= f.limit {
		return false, 0, w.reset
	}
	w.hits++
	return true, f.limit - w.hits, w.reset
}

// RateLimit allows limit requests per client IP in each fixed window of
// length per. Rejected requests get 429 with Retry-After.
func RateLimit(limit int, per time.Duration) func(http.Handler) http.Handler {
	return rateLimit(newFixedWindow(limit, per, time.Now))
}

func rateLimit(f *fixedWindow) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, remaining, reset := f.take(ClientIP(r))
			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(f.limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			if !ok {
				retry := int(reset.Sub(f.now())/time.Second) + 1
				h.Set("Retry-After", strconv.Itoa(retry))
				h.Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(rateLimitBody))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
