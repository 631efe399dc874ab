package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/weiawesome/wes-io-consult/pkg/jwt"
	pkglog "github.com/weiawesome/wes-io-consult/pkg/log"
	"github.com/weiawesome/wes-io-consult/pkg/pubsub"
	"github.com/weiawesome/wes-io-consult/relay-service/internal/client"
	"github.com/weiawesome/wes-io-consult/relay-service/internal/config"
	"github.com/weiawesome/wes-io-consult/relay-service/internal/handler"
	"github.com/weiawesome/wes-io-consult/relay-service/internal/hub"
	"github.com/weiawesome/wes-io-consult/relay-service/internal/service"
)

const serviceName = "relay-service"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		l := pkglog.L()
		l.Fatal().Err(err).Msg("failed to load configuration")
	}

	pkglog.Init(pkglog.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty, ServiceName: serviceName})
	logger := pkglog.L()

	logger.Info().Str("host", cfg.Server.Host).Int("port", cfg.Server.Port).Msg("starting relay-service")

	// Initialize PubSub
	ps, err := pubsub.NewPubSub(cfg.PubSub)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize pubsub")
	}
	defer ps.Close()
	logger.Info().Str("driver", cfg.PubSub.Driver).Msg("connected to pubsub")

	jwtManager, err := jwt.NewManager(cfg.Auth.JWTSecret, cfg.Auth.ServiceTokenTTL, time.Minute, cfg.Auth.Issuer)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create jwt manager")
	}
	serviceToken, err := jwtManager.IssueAccess(serviceName, serviceName, jwt.RoleService)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to issue service token")
	}

	sessionClient := client.NewSessionClient(cfg.SessionService.HTTPAddress, serviceToken, cfg.SessionService.Timeout, cfg.SessionService.CacheTTL)
	logger.Info().Str("address", cfg.SessionService.HTTPAddress).Msg("session service client configured")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize hub
	wsHub := hub.NewHub(cfg.WebSocket)
	go wsHub.Run(ctx)

	relaySvc := service.NewRelayService(wsHub, jwtManager, sessionClient, ps)
	if err := relaySvc.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start relay service")
	}
	defer relaySvc.Stop()

	wsHandler := handler.NewWSHandler(wsHub, relaySvc, cfg.WebSocket.AuthTimeout)

	router := mux.NewRouter()
	router.Use(pkglog.HTTPMiddleware(logger))
	wsHandler.RegisterRoutes(router)
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods(http.MethodGet)

	server := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info().Str("host", cfg.Server.Host).Int("port", cfg.Server.Port).Msg("relay-service listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down relay-service")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}
	cancel()

	logger.Info().Msg("relay-service stopped")
}
