package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/weiawesome/wes-totp-chat/internal/app"
	"github.com/weiawesome/wes-totp-chat/internal/config"
	"github.com/weiawesome/wes-totp-chat/internal/events"
	"github.com/weiawesome/wes-totp-chat/internal/handler"
	"github.com/weiawesome/wes-totp-chat/internal/jobs"
	pkgconfig "github.com/weiawesome/wes-totp-chat/pkg/config"
	"github.com/weiawesome/wes-totp-chat/pkg/jwt"
	pkglog "github.com/weiawesome/wes-totp-chat/pkg/log"
	"github.com/weiawesome/wes-totp-chat/pkg/middleware"
)

// flagKeys maps the server flags onto config keys. Only flags given on the
// command line are bound so file and env values keep their precedence
// otherwise.
var flagKeys = map[string]string{
	"log-level": "log.level",
	"port":      "server.port",
	"db-driver": "database.driver",
	"db-file":   "database.file_path",
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("totp-chat", pflag.ContinueOnError)
	fs.StringP("config", "c", "", "path to the config directory")
	fs.String("log-level", "", "log level (debug, info, warn, error)")
	fs.IntP("port", "p", 0, "listen port")
	fs.String("db-driver", "", "database driver (sqlite, postgres, mysql)")
	fs.String("db-file", "", "sqlite database file")
	return fs
}

// loadConfig parses args and reads the configuration with the given flags
// laid over file and env values.
func loadConfig(args []string) (*config.Config, error) {
	fs := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	configDir, err := fs.GetString("config")
	if err != nil {
		return nil, err
	}

	v, err := pkgconfig.Load(configDir, "config")
	if err != nil {
		return nil, err
	}
	mapping := make(map[string]string)
	for name, key := range flagKeys {
		if fs.Changed(name) {
			mapping[name] = key
		}
	}
	if err := pkgconfig.BindFlags(v, fs, mapping); err != nil {
		return nil, err
	}
	return config.FromViper(v)
}

func main() {
	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		l := pkglog.L()
		l.Fatal().Err(err).Msg("failed to load config")
	}

	// Initialize structured logger
	pkglog.Init(pkglog.Config{
		Level:       cfg.Log.Level,
		Pretty:      cfg.Log.Pretty,
		ServiceName: "totp-chat",
	})
	logger := pkglog.L()

	a, err := app.New(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize")
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close resources")
		}
	}()

	tokens, err := jwt.NewManager([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create token validator")
	}
	authMiddleware := middleware.NewAuthMiddleware(tokens)

	scheduler, err := jobs.NewScheduler(cfg.AI.ReaperSchedule, a.Sessions)
	if err != nil {
		logger.Fatal().Err(err).Str("schedule", cfg.AI.ReaperSchedule).Msg("invalid reaper schedule")
	}
	listener := events.NewListener(a.Bus, a.Hub, a.AiRepo)

	// Setup Gin router
	if !cfg.Log.Pretty {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(pkglog.GinMiddleware(logger))

	handler.NewHandler(a.Rooms, a.Sessions, authMiddleware).RegisterRoutes(r)
	handler.NewWSHandler(a.Hub, a.Chat, authMiddleware).RegisterRoutes(r)
	handler.NewAIWSHandler(a.Hub, a.Sessions, a.Coordinator, authMiddleware).RegisterRoutes(r)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Hub.Run(gctx) })
	g.Go(func() error { return listener.Run(gctx) })
	g.Go(func() error { return scheduler.Run(gctx) })
	g.Go(func() error {
		logger.Info().
			Str("addr", addr).
			Str("db_driver", cfg.Database.Driver).
			Str("cache_driver", cfg.Cache.Driver).
			Str("pubsub_driver", cfg.PubSub.Driver).
			Msg("totp-chat listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down totp-chat")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("server stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("totp-chat stopped")
}
