package web

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Default cleanup intervals.
const (
	cleanupInterval = 1 * time.Minute
	visitorTimeout  = 3 * time.Minute
)

// visitor is a single client IP and its token bucket.
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter applies a token bucket per client IP.
type RateLimiter struct {
	// mu protects the visitors map.
	mu       sync.Mutex
	visitors map[string]*visitor

	// rate is the number of tokens added per second.
	rate rate.Limit
	// burst is the max burst size.
	burst int

	// trusted lists the proxies whose X-Forwarded-For header is believed.
	trusted []netip.Prefix
}

// NewRateLimiter creates a RateLimiter and starts the background cleanup.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	rl := newRateLimiter(perSecond, burst)

	// Start background cleanup goroutine
	go rl.cleanupVisitors()

	return rl
}

func newRateLimiter(perSecond float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		visitors: make(map[string]*visitor),
		rate:     rate.Limit(perSecond),
		burst:    burst,
	}
}

// TrustProxies sets the CIDRs (or bare IPs) of reverse proxies allowed to
// report the client address in X-Forwarded-For. Call it before serving.
func (rl *RateLimiter) TrustProxies(cidrs []string) error {
	trusted := make([]netip.Prefix, 0, len(cidrs))
	for _, c := range cidrs {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if !strings.Contains(c, "/") {
			addr, err := netip.ParseAddr(c)
			if err != nil {
				return fmt.Errorf("trusted proxy %q: %w", c, err)
			}
			trusted = append(trusted, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		prefix, err := netip.ParsePrefix(c)
		if err != nil {
			return fmt.Errorf("trusted proxy %q: %w", c, err)
		}
		trusted = append(trusted, prefix.Masked())
	}
	rl.trusted = trusted
	return nil
}

// Allow reports whether a request from ip is within its limit.
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, ok := rl.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.rate, rl.burst)} // Start full
		rl.visitors[ip] = v
	}
	v.lastSeen = time.Now()
	return v.limiter.Allow()
}

// cleanupVisitors removes inactive clients to prevent memory leaks.
func (rl *RateLimiter) cleanupVisitors() {
	for {
		time.Sleep(cleanupInterval)
		rl.evict(time.Now().Add(-visitorTimeout))
	}
}

func (rl *RateLimiter) evict(cutoff time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for ip, v := range rl.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(rl.visitors, ip)
		}
	}
}

// Middleware wraps a handler to enforce rate limits.
func (rl *RateLimiter) Middleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(rl.clientIP(r)) {
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "Too Many Requests"})
			return
		}

		next(w, r)
	}
}

// clientIP returns the connection address, or the first X-Forwarded-For hop
// when the connection comes from a trusted proxy.
func (rl *RateLimiter) clientIP(r *http.Request) string {
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		host = h
	}

	fwd := r.Header.Get("X-Forwarded-For")
	if fwd == "" || !rl.isTrusted(host) {
		return host
	}
	first, _, _ := strings.Cut(fwd, ",")
	if first = strings.TrimSpace(first); first != "" {
		return first
	}
	return host
}

func (rl *RateLimiter) isTrusted(host string) bool {
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range rl.trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
