// Package middleware provides HTTP and gRPC middleware for the roster server
package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/rizome-dev/roster/pkg/config"
)

const (
	cleanupInterval = 10 * time.Minute
	clientIdleTTL   = 30 * time.Minute
)

// RateLimiter applies a global limit and a per-client limit keyed by IP
type RateLimiter struct {
	config        config.RateLimitConfig
	globalLimiter *rate.Limiter
	clients       map[string]*clientLimiter
	mu            sync.Mutex
	stopCleanup   chan struct{}
	stopOnce      sync.Once

	// OnLimited is called for every rejected request
	OnLimited func()
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(cfg config.RateLimitConfig) *RateLimiter {
	rl := &RateLimiter{
		config:      cfg,
		clients:     make(map[string]*clientLimiter),
		stopCleanup: make(chan struct{}),
	}

	if cfg.GlobalLimit > 0 && cfg.GlobalWindow > 0 {
		rl.globalLimiter = rate.NewLimiter(rate.Every(cfg.GlobalWindow/time.Duration(cfg.GlobalLimit)), cfg.GlobalLimit)
	}

	go rl.runCleanup()

	return rl
}

// Stop stops the cleanup goroutine
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCleanup) })
}

// HTTP rejects requests over the limit with 429
func (rl *RateLimiter) HTTP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.config.Enabled {
			next.ServeHTTP(w, r)
			return
		}

		if !rl.Allow(ClientIP(r)) {
			rl.limited()
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// UnaryServerInterceptor applies the same limits to gRPC calls
func (rl *RateLimiter) UnaryServerInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	if !rl.config.Enabled {
		return handler(ctx, req)
	}

	var ip string
	if p, ok := peer.FromContext(ctx); ok {
		if addr, ok := p.Addr.(*net.TCPAddr); ok {
			ip = addr.IP.String()
		} else {
			ip = p.Addr.String()
		}
	}

	if !rl.Allow(ip) {
		rl.limited()
		return nil, status.Errorf(codes.ResourceExhausted, "rate limit exceeded")
	}
	return handler(ctx, req)
}

// Allow reports whether a request from client may proceed, consuming a token
func (rl *RateLimiter) Allow(client string) bool {
	if rl.globalLimiter != nil && !rl.globalLimiter.Allow() {
		return false
	}
	if client == "" || rl.config.ClientLimit <= 0 || rl.config.ClientWindow <= 0 {
		return true
	}

	rl.mu.Lock()
	entry, ok := rl.clients[client]
	if !ok {
		entry = &clientLimiter{
			limiter: rate.NewLimiter(rate.Every(rl.config.ClientWindow/time.Duration(rl.config.ClientLimit)), rl.config.ClientLimit),
		}
		rl.clients[client] = entry
	}
	entry.lastSeen = time.Now()
	rl.mu.Unlock()

	return entry.limiter.Allow()
}

// Clients returns how many per-client limiters are tracked
func (rl *RateLimiter) Clients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

func (rl *RateLimiter) limited() {
	if rl.OnLimited != nil {
		rl.OnLimited()
	}
}

func (rl *RateLimiter) runCleanup() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup(time.Now().Add(-clientIdleTTL))
		case <-rl.stopCleanup:
			return
		}
	}
}

// cleanup drops limiters not used since cutoff
func (rl *RateLimiter) cleanup(cutoff time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for key, entry := range rl.clients {
		if entry.lastSeen.Before(cutoff) {
			delete(rl.clients, key)
		}
	}
}

// ClientIP extracts the real client IP from an HTTP request
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
