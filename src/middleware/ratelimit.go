package middleware

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"lob-engine/src/config"
	"lob-engine/src/models"
)

type window struct {
	start time.Time
	count int
}

// RateLimiter allows each client maxRequests per fixed window.
type RateLimiter struct {
	maxRequests    int
	windowDuration time.Duration
	clients        map[string]*window
	lastSweep      time.Time
	now            func() time.Time
	mu             sync.Mutex
}

func NewRateLimiter(cfg config.RateLimitConfig) *RateLimiter {
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = 100
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Second
	}
	return &RateLimiter{
		maxRequests:    cfg.MaxRequests,
		windowDuration: cfg.Window,
		clients:        make(map[string]*window),
		now:            time.Now,
	}
}

func clientID(c *fiber.Ctx) string {
	// first hop of X-Forwarded-For is the original client
	if fwd := c.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if ip := c.Get("X-Real-IP"); ip != "" {
		return ip
	}
	return c.IP()
}

// Allow records one request for client and reports whether it fits in the
// current window, plus how many requests the window has left.
func (rl *RateLimiter) Allow(client string) (bool, int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.sweep(now)

	w, ok := rl.clients[client]
	if !ok || now.Sub(w.start) >= rl.windowDuration {
		rl.clients[client] = &window{start: now, count: 1}
		return true, rl.maxRequests - 1
	}
	if w.count >= rl.maxRequests {
		return false, 0
	}
	w.count++
	return true, rl.maxRequests - w.count
}

// sweep drops clients whose window expired, at most once per window.
func (rl *RateLimiter) sweep(now time.Time) {
	if now.Sub(rl.lastSweep) < rl.windowDuration {
		return
	}
	rl.lastSweep = now
	for client, w := range rl.clients {
		if now.Sub(w.start) >= rl.windowDuration {
			delete(rl.clients, client)
		}
	}
}

func (rl *RateLimiter) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		client := clientID(c)

		allowed, remaining := rl.Allow(client)
		c.Set("X-RateLimit-Limit", strconv.Itoa(rl.maxRequests))
		c.Set("X-RateLimit-Window", rl.windowDuration.String())
		c.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if !allowed {
			log.Warn().
				Str("client_ip", client).
				Str("path", c.Path()).
				Str("method", c.Method()).
				Int("max_requests", rl.maxRequests).
				Msg("Rate limit exceeded")
			return c.Status(fiber.StatusTooManyRequests).JSON(models.ErrorResponse{
				Error: "Rate limit exceeded",
			})
		}
		return c.Next()
	}
}
