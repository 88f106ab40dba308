package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"lob-engine/src/config"
)

const RequestIDHeader = "X-Request-ID"

// RequestLogger tags every request with an id, echoed in the response, and
// logs one line per request when enabled.
func RequestLogger(cfg config.LoggingConfig) fiber.Handler {
	shouldLog := cfg.RequestsEnabled && zerolog.GlobalLevel() <= zerolog.InfoLevel

	return func(c *fiber.Ctx) error {
		requestID := c.Get(RequestIDHeader)
		if _, err := uuid.Parse(requestID); err != nil {
			requestID = uuid.NewString()
		}
		c.Locals("request_id", requestID)
		c.Set(RequestIDHeader, requestID)

		start := time.Now()
		err := c.Next()

		if shouldLog {
			log.Info().
				Str("request_id", requestID).
				Str("method", c.Method()).
				Str("path", c.Path()).
				Str("ip", c.IP()).
				Int("status", c.Response().StatusCode()).
				Dur("latency", time.Since(start)).
				Int("bytes_in", len(c.Body())).
				Int("bytes_out", len(c.Response().Body())).
				Msg("HTTP request")
		}
		return err
	}
}
