package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"roadassist/config"
	"roadassist/pkg/api"
	"roadassist/pkg/auth"
	"roadassist/pkg/bot"
	"roadassist/pkg/logger"
	"roadassist/pkg/mq"
	"roadassist/pkg/outbox"
	"roadassist/pkg/presence"
	"roadassist/pkg/realtime"
	"roadassist/pkg/telemetry"
	"roadassist/service"
	"roadassist/storage"
	"roadassist/storage/memory"
	"roadassist/storage/postgres"
	"roadassist/storage/redisgeo"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.ServiceName, cfg.LoggerLevel)
	if err := run(cfg, log); err != nil {
		log.Error("service stopped", logger.Error(err))
		os.Exit(1)
	}
}

// run owns every resource it opens, so deferred closes happen on both the
// error path and a normal shutdown.
func run(cfg config.Config, log logger.ILogger) error {
	// 1. Signals and tracing
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing := telemetry.Setup(ctx, cfg, log)

	// 2. Storage
	var stg storage.IStorage
	switch cfg.StorageDriver {
	case config.StorageDriverMemory:
		log.Warning("using in-memory storage, data is lost on restart")
		stg = memory.New()
	default:
		pg, err := postgres.New(ctx, cfg, log)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		stg = pg
	}
	defer stg.Close()

	// 3. Presence and the best-effort push queue
	registry := presence.New(log)
	box := outbox.New(registry, cfg.OutboxSize, log)
	go box.Run(ctx)

	opts := []service.Option{
		service.WithPusher(box),
		service.WithPresence(registry),
		service.WithRooms(registry),
	}

	if cfg.RedisGeoEnabled {
		idx, err := redisgeo.New(ctx, cfg, log)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer idx.Close()
		opts = append(opts, service.WithIndex(idx))
	}

	// 4. Message bus and the operations bot, both optional
	var publisher *mq.Publisher
	if cfg.AMQPURL != "" {
		p, err := mq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			return fmt.Errorf("connect rabbitmq: %w", err)
		}
		defer p.Close()
		publisher = p
		opts = append(opts, service.WithPublisher(p))
	}

	if cfg.AdminBotToken != "" {
		opsBot, err := bot.New(cfg, stg, log)
		if err != nil {
			return fmt.Errorf("init operations bot: %w", err)
		}
		opts = append(opts, service.WithAlerter(opsBot))
		go opsBot.Start()
		defer opsBot.Stop()
	}

	// 5. Services
	svc := service.New(stg, cfg, log, opts...)

	// a fresh GEO set knows nothing about providers already on file
	if cfg.RedisGeoEnabled {
		if _, err := svc.Directory().Reindex(ctx); err != nil {
			return fmt.Errorf("rebuild location index: %w", err)
		}
	}

	if publisher != nil {
		handlers := svc.Handlers()
		keys := make([]string, 0, len(handlers))
		for k := range handlers {
			keys = append(keys, k)
		}
		consumer, err := mq.NewConsumer(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, keys, log)
		if err != nil {
			return fmt.Errorf("start consumer: %w", err)
		}
		defer consumer.Close()
		go func() {
			if err := consumer.Run(ctx, handlers); err != nil {
				log.Error("consumer stopped", logger.Error(err))
			}
		}()
	}

	// 6. HTTP: REST and websocket behind one traced handler
	gin.SetMode(gin.ReleaseMode)
	verifier := auth.NewVerifier(cfg.JWTSecret)
	router := api.NewRouter(svc, verifier, log)
	router.GET("/ws", gin.WrapH(realtime.New(registry, svc, verifier, log)))

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.HTTPPort),
		Handler:           otelhttp.NewHandler(router, cfg.ServiceName),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("🚀 http server listening", logger.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", logger.Error(err))
			stop()
		}
	}()

	// 7. Expired notification janitor
	if cfg.PurgeInterval > 0 {
		go janitor(ctx, svc, cfg.PurgeInterval, log)
	}

	// 8. Graceful shutdown
	<-ctx.Done()
	log.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", logger.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Warning("tracing shutdown", logger.Error(err))
	}
	log.Info("dropped pushes", logger.Int64("count", box.Dropped()))
	return nil
}

func janitor(ctx context.Context, svc service.IServiceManager, every time.Duration, log logger.ILogger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := svc.Notification().PurgeExpired(ctx); err != nil {
				log.Warning("purge expired notifications", logger.Error(err))
			}
		}
	}
}
