package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/weiawesome/wes-io-consult/pkg/database"
	"github.com/weiawesome/wes-io-consult/pkg/jwt"
	pkglog "github.com/weiawesome/wes-io-consult/pkg/log"
	"github.com/weiawesome/wes-io-consult/pkg/middleware"
	"github.com/weiawesome/wes-io-consult/pkg/pubsub"
	"github.com/weiawesome/wes-io-consult/pkg/storage"
	"github.com/weiawesome/wes-io-consult/session-service/internal/archive"
	"github.com/weiawesome/wes-io-consult/session-service/internal/cache"
	"github.com/weiawesome/wes-io-consult/session-service/internal/config"
	"github.com/weiawesome/wes-io-consult/session-service/internal/domain"
	"github.com/weiawesome/wes-io-consult/session-service/internal/handler"
	"github.com/weiawesome/wes-io-consult/session-service/internal/kafka"
	"github.com/weiawesome/wes-io-consult/session-service/internal/notify"
	"github.com/weiawesome/wes-io-consult/session-service/internal/repository"
	"github.com/weiawesome/wes-io-consult/session-service/internal/service"
)

const serviceName = "session-service"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		l := pkglog.L()
		l.Fatal().Err(err).Msg("failed to load config")
	}

	// Initialize structured logger
	pkglog.Init(pkglog.Config{
		Level:       cfg.Log.Level,
		Pretty:      cfg.Log.Pretty || cfg.Log.Level == "debug",
		ServiceName: serviceName,
	})
	logger := pkglog.L()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.New(&cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	if err := database.AutoMigrate(db, domain.Models()...); err != nil {
		logger.Fatal().Err(err).Msg("failed to auto-migrate")
	}
	logger.Info().Str("driver", cfg.Database.Driver).Msg("database migration completed")

	deps := service.Deps{
		Sessions: repository.NewGormSessionRepository(db),
		Messages: repository.NewGormMessageRepository(db),
		Accounts: repository.NewGormAccountRepository(db),
	}

	// Notifications reach participants through relay-service.
	ps, err := pubsub.NewPubSub(cfg.PubSub)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize pubsub")
	}
	defer ps.Close()
	deps.Notifier = notify.NewBusNotifier(ps)
	logger.Info().Str("driver", cfg.PubSub.Driver).Msg("connected to pubsub")

	if cfg.Cache.Enabled {
		profileCache, err := cache.NewRedisProfileCache(cfg.Redis, cfg.Cache.Prefix)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer profileCache.Close()
		deps.Profiles = profileCache
		logger.Info().Msg("redis profile cache connected")
	}

	if cfg.Kafka.Enabled {
		producer, err := kafka.NewConfluentProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.Partitions)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create kafka producer")
		}
		defer producer.Close()
		deps.Events = producer
		logger.Info().Str("topic", cfg.Kafka.Topic).Msg("session events enabled")
	}

	if cfg.Storage.Enabled {
		store, err := storage.New(ctx, cfg.Storage.Config)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to initialize storage")
		}
		deps.Archiver = archive.NewArchiver(store, cfg.Storage.Prefix)
		logger.Info().Str("driver", cfg.Storage.Driver).Msg("transcript archive enabled")
	}

	jwtManager, err := jwt.NewManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTTL, cfg.Auth.MediaTTL, cfg.Auth.Issuer)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create jwt manager")
	}
	deps.Tokens = jwtManager

	sessionService := service.NewSessionService(deps, service.Options{
		RequestTimeout:  cfg.Session.RequestTimeout,
		DefaultRate:     cfg.Session.DefaultRate,
		StartingBalance: cfg.Session.StartingBalance,
		ProfileTTL:      cfg.Cache.TTL,
	})

	httpHandler := handler.NewHandler(sessionService, middleware.NewAuthMiddleware(jwtManager), jwtManager, cfg.Media.ICEServers)

	// Setup Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(pkglog.GinMiddleware(logger))

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	httpHandler.RegisterRoutes(r)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{Addr: addr, Handler: r}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", addr).Dur("request_timeout", cfg.Session.RequestTimeout).Msg("session-service starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return service.NewSweeper(sessionService, cfg.Session.SweepInterval).Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("session-service stopped with error")
		return
	}
	logger.Info().Msg("server stopped")
}
