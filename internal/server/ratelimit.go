package server

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/bobmcallan/depot/internal/apperr"
	"github.com/bobmcallan/depot/internal/common"
)

// tier buckets requests by sensitivity. Auth endpoints get the tightest
// budget, mutations a middle one, reads the loosest.
type tier int

const (
	tierAuth tier = iota
	tierMutation
	tierGeneral
)

// rateLimiter keeps one token bucket per client IP per tier. Buckets are
// in-process; the deployment is a single replica.
type rateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucketEntry
	limits  [3]rate.Limit
	bursts  [3]int
}

type bucketEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// newRateLimiter derives per-tier refill rates from the configured budget
// over the sliding window. Burst equals the full window budget, so a quiet
// client can spend its whole allowance at once.
func newRateLimiter(cfg *common.RateLimitConfig) *rateLimiter {
	window := cfg.Window()
	rl := &rateLimiter{buckets: make(map[string]*bucketEntry)}
	for t, budget := range map[tier]int{
		tierAuth:     cfg.Auth,
		tierMutation: cfg.Mutation,
		tierGeneral:  cfg.General,
	} {
		rl.limits[t] = rate.Limit(float64(budget) / window.Seconds())
		rl.bursts[t] = budget
	}
	return rl
}

// authTierPaths are the credential endpoints that share the strictest
// budget. Logout carries a valid session and is billed as an ordinary
// mutation.
var authTierPaths = map[string]bool{
	"/api/auth/register": true,
	"/api/auth/login":    true,
	"/api/auth/refresh":  true,
}

// classify picks the tier for a request.
func classify(r *http.Request) tier {
	if authTierPaths[r.URL.Path] {
		return tierAuth
	}
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return tierMutation
	default:
		return tierGeneral
	}
}

// allow consumes one token from the caller's bucket for the tier.
func (rl *rateLimiter) allow(ip string, t tier) bool {
	key := ip + "|" + string(rune('0'+t))

	rl.mu.Lock()
	entry, ok := rl.buckets[key]
	if !ok {
		entry = &bucketEntry{limiter: rate.NewLimiter(rl.limits[t], rl.bursts[t])}
		rl.buckets[key] = entry
	}
	entry.lastSeen = time.Now()
	rl.prune()
	rl.mu.Unlock()

	return entry.limiter.Allow()
}

// prune drops buckets idle for over an hour. Called under the lock.
func (rl *rateLimiter) prune() {
	if len(rl.buckets) < 10000 {
		return
	}
	cutoff := time.Now().Add(-time.Hour)
	for key, entry := range rl.buckets {
		if entry.lastSeen.Before(cutoff) {
			delete(rl.buckets, key)
		}
	}
}

// middleware rejects over-budget requests with 429 before they reach the
// auth gate, so credential stuffing cannot burn CPU on bcrypt.
func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.allow(clientIP(r), classify(r)) {
			w.Header().Set("Retry-After", "60")
			WriteErr(w, apperr.New(apperr.KindRateLimited, "rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
