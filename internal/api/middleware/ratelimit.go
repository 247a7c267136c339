package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	burstCapacityMultiplier    = 2
	rateLimiterCleanupInterval = 5 * time.Minute
	rateLimiterIdleTimeout     = 1 * time.Hour
)

type (
	// RateLimiter decides whether an incoming request should be admitted.
	//
	// The in-memory implementation suits single-node deployments; a
	// distributed store can replace it behind the same interface when the
	// ingestion tier scales out.
	RateLimiter interface {
		// Allow reports whether a request from the given client should be
		// admitted. The client key is the remote IP.
		Allow(client string) bool
	}

	// RateLimitConfig holds token bucket settings for the in-memory limiter.
	// A zero burst is computed as 2 x rate.
	RateLimitConfig struct {
		GlobalRPS       int
		GlobalBurst     int
		ClientRPS       int
		ClientBurst     int
		CleanupInterval time.Duration
		IdleTimeout     time.Duration
	}

	// InMemoryRateLimiter implements RateLimiter using golang.org/x/time/rate.
	//
	// Two tiers: a global bucket shared by all producers and one bucket per
	// client IP. Idle client buckets are removed by a background sweep so the
	// map does not grow without bound.
	InMemoryRateLimiter struct {
		global        *rate.Limiter
		perClient     map[string]*clientLimiter
		mu            sync.RWMutex
		cleanupTicker *time.Ticker
		done          chan struct{}

		clientRPS   int
		clientBurst int
		idleTimeout time.Duration
	}

	// clientLimiter tracks rate limit state for a single client IP.
	clientLimiter struct {
		limiter    *rate.Limiter
		lastAccess time.Time
		mu         sync.Mutex
	}
)

// NewInMemoryRateLimiter creates an in-memory limiter and starts its cleanup
// goroutine. Call Close to stop it.
func NewInMemoryRateLimiter(cfg *RateLimitConfig) *InMemoryRateLimiter {
	globalBurst := computeBurstCapacity(cfg.GlobalRPS, cfg.GlobalBurst)
	clientBurst := computeBurstCapacity(cfg.ClientRPS, cfg.ClientBurst)

	cleanupInterval := cfg.CleanupInterval
	if cleanupInterval == 0 {
		cleanupInterval = rateLimiterCleanupInterval
	}

	idleTimeout := cfg.IdleTimeout
	if idleTimeout == 0 {
		idleTimeout = rateLimiterIdleTimeout
	}

	rl := &InMemoryRateLimiter{
		global:      rate.NewLimiter(rate.Limit(cfg.GlobalRPS), globalBurst),
		perClient:   make(map[string]*clientLimiter),
		done:        make(chan struct{}),
		clientRPS:   cfg.ClientRPS,
		clientBurst: clientBurst,
		idleTimeout: idleTimeout,
	}

	rl.cleanupTicker = time.NewTicker(cleanupInterval)

	go func() {
		for {
			select {
			case <-rl.cleanupTicker.C:
				rl.cleanup()
			case <-rl.done:
				return
			}
		}
	}()

	return rl
}

// computeBurstCapacity returns the override when set, otherwise 2 x rate.
func computeBurstCapacity(rps, burstOverride int) int {
	if burstOverride > 0 {
		return burstOverride
	}

	return rps * burstCapacityMultiplier
}

// Allow implements the RateLimiter interface.
func (rl *InMemoryRateLimiter) Allow(client string) bool {
	// Check the global bucket first (fail fast)
	if !rl.global.Allow() {
		return false
	}

	rl.mu.RLock()
	cl, ok := rl.perClient[client]
	rl.mu.RUnlock()

	if !ok {
		rl.mu.Lock()
		// Re-check after acquiring the write lock
		if cl, ok = rl.perClient[client]; !ok {
			cl = &clientLimiter{
				limiter:    rate.NewLimiter(rate.Limit(rl.clientRPS), rl.clientBurst),
				lastAccess: time.Now(),
			}

			rl.perClient[client] = cl
		}
		rl.mu.Unlock()
	}

	cl.mu.Lock()
	cl.lastAccess = time.Now()
	cl.mu.Unlock()

	return cl.limiter.Allow()
}

// Close stops the cleanup goroutine.
func (rl *InMemoryRateLimiter) Close() {
	rl.cleanupTicker.Stop()
	close(rl.done)
}

// cleanup removes client buckets that have been idle past the timeout.
func (rl *InMemoryRateLimiter) cleanup() {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	for client, cl := range rl.perClient {
		cl.mu.Lock()
		lastAccess := cl.lastAccess
		cl.mu.Unlock()

		if now.Sub(lastAccess) > rl.idleTimeout {
			delete(rl.perClient, client)
		}
	}
}

// RateLimit returns a middleware that enforces rate limits on incoming
// requests, keyed by client IP. Over-limit requests receive a 429 with an
// RFC 7807 body.
func RateLimit(limiter RateLimiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(clientIP(r)) {
				correlationID := GetCorrelationID(r.Context())

				detail := "Rate limit exceeded. Please retry after some time."
				if err := writeProblem(w, r, http.StatusTooManyRequests,
					"Too Many Requests", detail, correlationID); err != nil {
					logger.Error("failed to write rate limit response",
						slog.String("correlation_id", correlationID),
						slog.String("path", r.URL.Path),
						slog.String("error", err.Error()),
					)

					http.Error(w, detail, http.StatusTooManyRequests)
				}

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientIP extracts the remote IP, dropping the ephemeral port.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}
