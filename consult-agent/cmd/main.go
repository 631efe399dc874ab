package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/weiawesome/wes-io-consult/consult-agent/internal/backend"
	"github.com/weiawesome/wes-io-consult/consult-agent/internal/channel"
	"github.com/weiawesome/wes-io-consult/consult-agent/internal/config"
	"github.com/weiawesome/wes-io-consult/consult-agent/internal/console"
	"github.com/weiawesome/wes-io-consult/consult-agent/internal/domain"
	"github.com/weiawesome/wes-io-consult/consult-agent/internal/media"
	"github.com/weiawesome/wes-io-consult/consult-agent/internal/securecache"
	"github.com/weiawesome/wes-io-consult/consult-agent/internal/session"
	"github.com/weiawesome/wes-io-consult/pkg/database"
	"github.com/weiawesome/wes-io-consult/pkg/jwt"
	pkglog "github.com/weiawesome/wes-io-consult/pkg/log"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		l := pkglog.L()
		l.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Logs go to a file so they do not interleave with the console.
	logOut, closeLog := openLog(cfg.Log.File)
	defer closeLog()
	pkglog.Init(pkglog.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty, ServiceName: "consult-agent", Output: logOut})
	logger := pkglog.L().With().Str(pkglog.FieldParticipantID, cfg.Participant.ID).Logger()

	logger.Info().Str("role", cfg.Participant.Role).Msg("starting consult-agent")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx = pkglog.WithLogger(ctx, logger)

	token, err := accessToken(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to obtain access token")
	}

	// Initialize event channel
	relayCfg := cfg.Relay
	relayCfg.Token = token
	events := channel.New(relayCfg)
	defer events.Close()

	connectCtx, connectCancel := context.WithTimeout(ctx, 15*time.Second)
	if err := events.Connect(connectCtx); err != nil {
		logger.Warn().Err(err).Str("url", relayCfg.URL).Msg("relay not reachable yet, retrying in background")
	} else {
		logger.Info().Str("url", relayCfg.URL).Msg("connected to relay")
	}
	connectCancel()

	// Initialize backend client
	be := backend.NewClient(cfg.Backend.BaseURL, token, cfg.Backend.Timeout)
	logger.Info().Str("address", cfg.Backend.BaseURL).Msg("session-service client configured")

	// Initialize secure profile cache
	var profiles *securecache.ProfileCache
	if cfg.Cache.Enabled {
		profiles, err = openProfileCache(ctx, cfg.Cache, be, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("secure cache disabled")
			profiles = nil
		}
	}

	// Initialize media engine
	var adapters session.AdapterFactory
	if cfg.Media.Enabled {
		loader := media.NewPionLoader(events, iceServers(be))
		adapters = func(video bool) *media.Adapter {
			return media.NewAdapter(loader, video)
		}
	}

	coordinator := session.New(session.Config{
		ParticipantID:  cfg.Participant.ID,
		DisplayName:    cfg.Participant.DisplayName,
		Role:           domain.Role(cfg.Participant.Role),
		StaleAfter:     cfg.Session.StaleAfter,
		RequestTimeout: cfg.Session.RequestTimeout,
		TickInterval:   cfg.Session.TickInterval,
	}, be, events, adapters, profiles)
	defer coordinator.Close()

	if err := coordinator.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start session coordinator")
	}

	con := console.New(coordinator, cfg.Participant.ID, os.Stdin, os.Stdout)
	if err := con.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("console stopped")
	}

	logger.Info().Msg("consult-agent stopped")
}

func openLog(path string) (io.Writer, func()) {
	if path == "" {
		return os.Stderr, func() {}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return os.Stderr, func() {}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return os.Stderr, func() {}
	}
	return f, func() { f.Close() }
}

// accessToken returns the configured token or signs a development one.
func accessToken(cfg *config.Config) (string, error) {
	if cfg.Auth.Token != "" {
		return cfg.Auth.Token, nil
	}
	m, err := jwt.NewManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, 5*time.Minute, cfg.Auth.Issuer)
	if err != nil {
		return "", err
	}
	return m.IssueAccess(cfg.Participant.ID, cfg.Participant.DisplayName, cfg.Participant.Role)
}

func openProfileCache(ctx context.Context, cfg config.CacheConfig, be *backend.Client, logger zerolog.Logger) (*securecache.ProfileCache, error) {
	if cfg.Database.Driver == "sqlite" && cfg.Database.FilePath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.FilePath), 0o700); err != nil {
			return nil, err
		}
	}
	db, err := database.New(&cfg.Database)
	if err != nil {
		return nil, err
	}
	store, err := securecache.NewGormStore(db)
	if err != nil {
		return nil, err
	}
	secret, err := securecache.LoadOrCreateSecret(cfg.SecretPath)
	if err != nil {
		return nil, err
	}
	cache, err := securecache.New(store, secret, cfg.Info)
	if err != nil {
		return nil, err
	}

	go func() {
		if err := securecache.WatchSecret(ctx, cache, cfg.SecretPath); err != nil {
			logger.Warn().Err(err).Msg("device secret watcher stopped")
		}
	}()
	logger.Info().Str("path", cfg.Database.FilePath).Msg("secure cache ready")
	return securecache.NewProfileCache(cache, be), nil
}

// iceServers asks session-service for the servers a media token may use.
func iceServers(be *backend.Client) media.ICEProvider {
	return func(ctx context.Context, mediaToken string) ([]webrtc.ICEServer, error) {
		servers, err := be.ICEServers(ctx, mediaToken)
		if err != nil {
			return nil, err
		}
		out := make([]webrtc.ICEServer, 0, len(servers))
		for _, s := range servers {
			out = append(out, webrtc.ICEServer{URLs: s.URLs, Username: s.Username, Credential: s.Credential})
		}
		return out, nil
	}
}
