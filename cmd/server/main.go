package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"

	"github.com/evpower/chargecore/internal/adapter/cache"
	"github.com/evpower/chargecore/internal/adapter/http/fiber/handlers"
	"github.com/evpower/chargecore/internal/adapter/http/fiber/middleware"
	"github.com/evpower/chargecore/internal/adapter/queue"
	"github.com/evpower/chargecore/internal/adapter/resilience"
	wsAdapter "github.com/evpower/chargecore/internal/adapter/websocket"
	"github.com/evpower/chargecore/internal/core/allocator"
	"github.com/evpower/chargecore/internal/core/bess"
	"github.com/evpower/chargecore/internal/core/registry"
	"github.com/evpower/chargecore/internal/facade"
	"github.com/evpower/chargecore/internal/observability/telemetry"
	"github.com/evpower/chargecore/pkg/config"
)

const serviceName = "chargecore"

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal("Failed to initialize logger:", err)
	}
	defer logger.Sync()

	logger.Info("Starting chargecore", zap.String("service", serviceName))

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	tracerProvider, err := telemetry.InitTracer(serviceName, cfg.OpenTelemetry.Jaeger.Endpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		if err := tracerProvider.Shutdown(context.Background()); err != nil {
			logger.Error("Error shutting down tracer provider", zap.Error(err))
		}
	}()

	// Cache: Redis with an in-memory fallback, both wrapped in a circuit
	// breaker so a stalled Redis degrades to "no cache" rather than
	// blocking façade calls.
	var stationCache cache.Cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL, logger)
	if err != nil {
		logger.Warn("Redis not available, falling back to local cache", zap.Error(err))
		stationCache = cache.NewLocalCache(time.Minute, logger)
	} else {
		stationCache = redisCache
	}
	stationCache = resilience.WrapCache(stationCache, logger)
	defer stationCache.Close()

	// Event publishing: NATS for session lifecycle events, RabbitMQ for the
	// BESS alarm stream. Both optional.
	var sessionQueue queue.MessageQueue
	natsQueue, err := queue.NewNATSQueue(cfg.NATS.URL, logger)
	if err != nil {
		logger.Warn("NATS not available, running without session event publishing", zap.Error(err))
	} else {
		sessionQueue = resilience.WrapQueue(natsQueue, "nats-session-events", logger)
		defer sessionQueue.Close()
	}

	var alarmQueue queue.MessageQueue
	rabbitQueue, err := queue.NewRabbitMQQueue(cfg.RabbitMQ.URL, logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, running without BESS alarm stream", zap.Error(err))
	} else {
		alarmQueue = resilience.WrapQueue(rabbitQueue, "rabbitmq-bess-alarms", logger)
		defer alarmQueue.Close()
	}

	publisher := newFanoutQueue(sessionQueue, alarmQueue)

	// Core: registry, BESS controller, allocator, façade.
	station := cfg.Station.ToDomain()

	reg := registry.New(station, logger)

	var battery *bess.Controller
	var batteryForAllocator interface {
		IsAvailable() bool
		AvailableDischarge() float64
		Discharge(requestedKw, durationSec float64) float64
		Charge(requestedKw, durationSec float64) float64
		SetIdle()
	}
	if station.Battery != nil {
		battery = bess.New(*station.Battery, logger)
		batteryForAllocator = battery
	}

	alloc := allocator.New(reg, station, batteryForAllocator, logger)
	stationFacade := facade.New(station, reg, alloc, battery, stationCache, publisher, logger)

	// WebSocket hub pushing allocation snapshots after each forced recompute
	// (see the /station/recompute route below) and forwarding BESS alarms.
	wsHub := wsAdapter.NewHub()
	go wsHub.Run()

	// Forward BESS emergency alarms straight through to connected
	// dashboards so operators see them without polling batteryStatus().
	if alarmQueue != nil {
		if err := alarmQueue.Subscribe("bess.emergency", func(data []byte) error {
			return wsHub.BroadcastAlarm(data)
		}); err != nil {
			logger.Warn("failed to subscribe to bess alarm stream", zap.Error(err))
		}
	}

	app := fiber.New(fiber.Config{
		AppName:               serviceName,
		ServerHeader:          serviceName,
		DisableStartupMessage: true,
		ErrorHandler:          middleware.ErrorHandler(logger),
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(cfg.HTTP.AllowedOrigins, ","),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, PATCH, DELETE, OPTIONS",
	}))
	if cfg.CircuitBreaker.Enabled {
		app.Use(middleware.CircuitBreakerWithLogger(logger))
	}

	app.Get("/health/live", func(c *fiber.Ctx) error {
		return c.SendString("OK")
	})
	app.Get("/health/ready", func(c *fiber.Ctx) error {
		if err := stationCache.Ping(); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).SendString("Cache not ready")
		}
		return c.SendString("Ready")
	})

	app.Get("/metrics", func(c *fiber.Ctx) error {
		handler := fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler())
		handler(c.Context())
		return nil
	})

	stationHandler := handlers.NewStationHandler(stationFacade, logger)

	v1 := app.Group("/api/v1")
	v1.Post("/sessions", stationHandler.StartSession)
	v1.Get("/sessions", stationHandler.ListSessions)
	v1.Get("/sessions/:id", stationHandler.GetSession)
	v1.Post("/sessions/:id/power", stationHandler.UpdatePower)
	v1.Post("/sessions/:id/stop", stationHandler.StopSession)
	v1.Get("/station/status", stationHandler.StationStatus)
	v1.Get("/station/battery", stationHandler.BatteryStatus)
	v1.Get("/station/load", stationHandler.LoadSummary)
	v1.Post("/station/recompute", func(c *fiber.Ctx) error {
		err := stationHandler.Recompute(c)
		if pushErr := wsHub.BroadcastAllocations(stationFacade.StationStatus().Allocations); pushErr != nil {
			logger.Warn("failed to broadcast allocation snapshot", zap.Error(pushErr))
		}
		return err
	})

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/allocations", websocket.New(func(c *websocket.Conn) {
		wsHub.AddClient(c, c.Query("client", "dashboard"))
	}))

	go func() {
		logger.Info("Starting HTTP server", zap.Int("port", cfg.HTTP.Port))
		if err := app.Listen(fmt.Sprintf(":%d", cfg.HTTP.Port)); err != nil {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited gracefully")
}

// fanoutQueue lets the façade publish through a single queue.MessageQueue
// while the session-lifecycle and BESS-alarm subjects actually route to two
// independently optional backends (NATS, RabbitMQ).
type fanoutQueue struct {
	session queue.MessageQueue
	alarm   queue.MessageQueue
}

func newFanoutQueue(session, alarm queue.MessageQueue) queue.MessageQueue {
	if session == nil && alarm == nil {
		return nil
	}
	return &fanoutQueue{session: session, alarm: alarm}
}

func (f *fanoutQueue) Publish(subject string, data []byte) error {
	if strings.HasPrefix(subject, "bess.") {
		if f.alarm == nil {
			return nil
		}
		return f.alarm.Publish(subject, data)
	}
	if f.session == nil {
		return nil
	}
	return f.session.Publish(subject, data)
}

func (f *fanoutQueue) Subscribe(subject string, handler func(data []byte) error) error {
	if strings.HasPrefix(subject, "bess.") {
		if f.alarm == nil {
			return nil
		}
		return f.alarm.Subscribe(subject, handler)
	}
	if f.session == nil {
		return nil
	}
	return f.session.Subscribe(subject, handler)
}

func (f *fanoutQueue) Close() error {
	var firstErr error
	if f.session != nil {
		if err := f.session.Close(); err != nil {
			firstErr = err
		}
	}
	if f.alarm != nil {
		if err := f.alarm.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
