// Package main runs the club portal HTTP server with the view shell websocket and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/clubhub/portal/config"
	"github.com/clubhub/portal/internal/auth"
	"github.com/clubhub/portal/internal/datasvc"
	"github.com/clubhub/portal/internal/realtime"
	"github.com/clubhub/portal/internal/server"
	"github.com/clubhub/portal/internal/session"
	"github.com/clubhub/portal/internal/worker"
	"github.com/clubhub/portal/pkg/database"
	"github.com/clubhub/portal/pkg/queue"
	"github.com/clubhub/portal/pkg/redis"
	"github.com/clubhub/portal/pkg/storage"
)

const upstreamTimeout = 15 * time.Second

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	upstream := &http.Client{Timeout: upstreamTimeout}

	// Data service
	var data datasvc.Client
	switch cfg.Data.Backend {
	case config.BackendPostgres:
		pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
		if err != nil {
			logger.Fatal("database", zap.Error(err))
		}
		defer pool.Close()
		if cfg.Database.Migrate {
			if err := database.Migrate(ctx, pool, logger); err != nil {
				logger.Fatal("migrate", zap.Error(err))
			}
		}
		data = datasvc.NewPostgres(pool, datasvc.PostgresConfig{AssumeRole: cfg.Data.AssumeRole})
	case config.BackendMemory:
		logger.Warn("using in-memory data service, nothing is persisted")
		data = datasvc.NewMemory()
	default:
		data = datasvc.NewREST(datasvc.RESTConfig{BaseURL: cfg.Supabase.URL, APIKey: cfg.Supabase.AnonKey}, upstream)
	}
	data = datasvc.Bounded(data, cfg.Data.RequestTimeout, logger)

	// Background work (auth event subscription, image cleanup) stops with workerCtx.
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	// Redis (optional): cross-instance auth events, the magic-link cooldown and the cleanup queue
	var rdb *redis.Client
	var cooldown *auth.Cooldown
	hub := realtime.NewHub(logger, nil, nil)
	if cfg.Redis.Addr != "" {
		rdb, err = redis.NewClient(ctx, redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}, logger)
		if err != nil {
			logger.Fatal("redis", zap.Error(err))
		}
		defer rdb.Close()
		redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
		hub = realtime.NewHub(logger, redisPubSub, redisPubSub)
		go hub.Run(workerCtx)
		cooldown = auth.NewCooldown(rdb.Client, cfg.Auth.MagicLinkCooldown)
	}

	// Auth
	var issuer auth.Issuer
	jwtSecret := cfg.Supabase.JWTSecret
	if cfg.LocalAuth() {
		if jwtSecret == "" {
			jwtSecret = uuid.NewString()
			logger.Warn("no SUPABASE_JWT_SECRET, local sessions end with the process")
		}
		issuer = auth.NewLocal(auth.NewJWTService(jwtSecret, time.Hour), cfg.Auth.LocalLinkTTL, logger)
		logger.Info("local auth issuer enabled, magic links are logged")
	} else {
		issuer = auth.NewGoTrue(auth.GoTrueConfig{BaseURL: cfg.Supabase.URL, APIKey: cfg.Supabase.AnonKey}, upstream)
	}
	verifier := auth.NewVerifier(auth.NewJWTService(jwtSecret, time.Hour), issuer)

	cookies := auth.CookieConfig{Secure: cfg.Auth.CookieSecure, Domain: cfg.Auth.CookieDomain}
	deps := server.Deps{
		Data:     data,
		Issuer:   issuer,
		Verifier: verifier,
		Cooldown: cooldown,
		Hub:      hub,
		Auth: auth.HandlerConfig{
			SiteURL:           cfg.Server.SiteURL,
			RedirectAllowlist: cfg.Auth.RedirectAllowlist,
			Cookies:           cookies,
		},
		Resolver: session.Config{
			Timeout:  cfg.Resolver.Timeout,
			Attempts: cfg.Resolver.Attempts,
			Backoff:  cfg.Resolver.Backoff,
		},
		CORSAllowedOrigins: cfg.Server.CORSAllowedOrigins,
		WSAllowedOrigins:   wsOrigins(cfg.Server.CORSAllowedOrigins),
		Logger:             logger,
	}

	// Club images
	if cfg.AWS.Bucket != "" {
		s3Client, err := storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			Bucket:               cfg.AWS.Bucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		} else {
			deps.Images = s3Client
		}
	}

	// Background worker (deleted clubs' images)
	if rdb != nil && deps.Images != nil {
		jobQueue := queue.NewQueue(rdb.Client, logger)
		deps.Cleanup = jobQueue
		go worker.NewImageCleaner(deps.Images, jobQueue, logger).Run(workerCtx)
		logger.Info("image cleanup worker started")
	}

	router := server.NewRouter(deps)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening",
			zap.String("port", cfg.Server.Port),
			zap.String("data_backend", cfg.Data.Backend),
			zap.String("site_url", cfg.Server.SiteURL))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	workerCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}

// wsOrigins turns the CORS setting into the websocket origin allowlist. The
// wildcard allows any origin.
func wsOrigins(cors string) []string {
	var out []string
	for _, o := range strings.Split(cors, ",") {
		o = strings.TrimSpace(o)
		if o == "*" {
			return nil
		}
		if o != "" {
			out = append(out, o)
		}
	}
	return out
}
