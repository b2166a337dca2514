package http

import (
	"sync"
	"time"

	"finplan/internal/cache"
)

const (
	runRequestsPerMinute = 6
	rateLimitClients     = 1024
	staleClientAfter     = 10 * time.Minute
)

// rateLimiter implements a simple in-memory rate limiter per client IP.
// Client windows live in a bounded LRU and are dropped after staleClientAfter.
type rateLimiter struct {
	mu      sync.Mutex
	limit   int
	now     func() time.Time
	clients *cache.LRUCache[string, *clientInfo]
}

type clientInfo struct {
	lastRequest time.Time
	requests    int
}

func newRateLimiter(limit int) *rateLimiter {
	rl := &rateLimiter{limit: limit, now: time.Now}
	rl.clients = cache.NewLRUCache[string, *clientInfo](rateLimitClients, staleClientAfter).
		WithClock(func() time.Time { return rl.now() })
	return rl
}

// CleanExpired removes client entries idle for longer than staleClientAfter.
func (rl *rateLimiter) CleanExpired() int {
	return rl.clients.CleanExpired()
}

// allow reports whether a request from clientIP fits in the per-minute window.
func (rl *rateLimiter) allow(clientIP string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	client, exists := rl.clients.Get(clientIP)
	if !exists {
		rl.clients.Set(clientIP, &clientInfo{lastRequest: now, requests: 1})
		return true
	}

	// Reset counter if more than 1 minute has passed
	if now.Sub(client.lastRequest) > time.Minute {
		client.requests = 1
		client.lastRequest = now
		rl.clients.Set(clientIP, client)
		return true
	}

	client.requests++
	client.lastRequest = now
	rl.clients.Set(clientIP, client)
	return client.requests <= rl.limit
}
