package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog/log"

	"lob-engine/src/config"
	"lob-engine/src/engine"
	"lob-engine/src/handlers"
	"lob-engine/src/journal"
	"lob-engine/src/logger"
	"lob-engine/src/publisher"
	"lob-engine/src/routes"
)

func main() {
	cfg, err := config.Load()
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	logger.Init(cfg.Logging)
	defer logger.Close()

	log.Info().Str("config", cfg.String()).Msg("Initializing limit order matching engine")

	opts := []engine.Option{
		engine.WithLogger(logger.Component("engine")),
		engine.WithQueueSize(cfg.Engine.QueueSize),
		engine.WithTradeBuffer(cfg.Engine.TradeBuffer),
	}

	var history handlers.TradeHistory
	var trades *journal.Journal
	if cfg.Journal.Enabled() {
		trades, err = journal.Open(cfg.Journal.Path)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.Journal.Path).Msg("Failed to open trade journal")
		}
		history = trades
		opts = append(opts,
			engine.WithTradeSink(trades),
			// numbering continues after what the journal already holds
			engine.WithSequenceSource(func(inst engine.Instrument) (uint64, error) {
				return trades.LastSequence(context.Background(), inst)
			}),
		)
		log.Info().Str("path", cfg.Journal.Path).Msg("Trade journal enabled")
	}

	var pub *publisher.Publisher
	if cfg.Kafka.Enabled() {
		pub = publisher.New(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		opts = append(opts, engine.WithTradeSink(pub))
		log.Info().
			Strs("brokers", cfg.Kafka.Brokers).
			Str("topic", cfg.Kafka.Topic).
			Msg("Trade publisher enabled")
	}

	eng := engine.New(opts...)
	for _, inst := range cfg.Engine.Markets {
		if err := eng.OpenMarket(inst); err != nil && !errors.Is(err, engine.ErrMarketExists) {
			log.Fatal().Err(err).Str("market", inst.String()).Msg("Failed to open market")
		}
	}

	orderHandler := handlers.NewOrderHandler(eng, history, cfg.OrderBook, cfg.Service.MaxLatencySamples)

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				code = fe.Code
			}

			log.Error().
				Str("path", c.Path()).
				Str("method", c.Method()).
				Int("status", code).
				Str("error", err.Error()).
				Msg("Request error")

			return c.Status(code).JSON(fiber.Map{
				"error": err.Error(),
			})
		},
	})

	app.Use(recover.New())
	availability := routes.SetupRoutes(app, cfg, orderHandler)

	port := ":" + cfg.Server.Port
	serverError := make(chan error, 1)

	go func() {
		if err := app.Listen(port); err != nil {
			serverError <- err
		}
	}()

	log.Info().Str("port", port).Msg("Order matching engine started")
	log.Info().Strs("endpoints", routes.Endpoints()).Msg("API endpoints registered")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	hangup := make(chan os.Signal, 1)
	signal.Notify(hangup, syscall.SIGHUP)

wait:
	for {
		select {
		case err := <-serverError:
			log.Error().
				Err(err).
				Str("port", port).
				Str("hint", "Port may be already in use. Try: PORT=3000 go run main.go").
				Msg("Server failed to start")
			break wait
		case <-hangup:
			log.Info().
				Bool("maintenance", availability.ToggleMaintenanceMode()).
				Msg("Received SIGHUP, toggled maintenance mode")
		case sig := <-quit:
			log.Info().Str("signal", sig.String()).Msg("Received shutdown signal, shutting down...")
			break wait
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		// edge case: timeout during shutdown is acceptable
		if errors.Is(err, context.DeadlineExceeded) {
			log.Warn().
				Dur("timeout", cfg.Server.ShutdownTimeout).
				Msg("Timeout exceeded, shutting down...")
		} else {
			log.Error().Err(err).Msg("Error during shutdown")
		}
	}

	// engine first, so its dispatcher flushes into sinks that are still open
	if err := eng.Close(); err != nil {
		log.Error().Err(err).Msg("Error stopping engine")
	}
	if pub != nil {
		if err := pub.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing trade publisher")
		}
	}
	if trades != nil {
		if err := trades.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing trade journal")
		}
	}

	log.Info().Msg("Shutdown complete")
}
