package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/oksasatya/go-ddd-school-auth/config"
	"github.com/oksasatya/go-ddd-school-auth/internal/application"
	"github.com/oksasatya/go-ddd-school-auth/internal/container"
	"github.com/oksasatya/go-ddd-school-auth/internal/domain/policy"
	"github.com/oksasatya/go-ddd-school-auth/internal/infrastructure/security"
	"github.com/oksasatya/go-ddd-school-auth/internal/interface/middleware"
	"github.com/oksasatya/go-ddd-school-auth/internal/router"
	"github.com/oksasatya/go-ddd-school-auth/pkg/helpers"
	"github.com/oksasatya/go-ddd-school-auth/pkg/validation"
)

func main() {
	_ = godotenv.Load() // load .env if present

	cfg := config.Load()
	logger := helpers.NewLogger(cfg.AppName, cfg.Env)
	gin.SetMode(cfg.GinMode)
	validation.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	container.SetLogger(logger)
	// Registered clients are released after the server has stopped.
	defer container.Close()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("failed to open user store: %v", err)
	}

	rdb := openRedis(ctx, cfg, logger)
	container.SetRedis(rdb)

	limiter := newLimiter(ctx, cfg, rdb)
	breach := newBreachList(ctx, cfg, rdb, logger)
	publisher, notifier := newMessaging(ctx, cfg, logger)

	jwtManager := security.NewJWTManager(cfg.JWTAccessSecret, cfg.JWTRefreshSecret, cfg.AccessTTL, cfg.RefreshTTL, cfg.JWTIssuer)
	authCfg := cfg.AuthConfig()
	deps := application.Deps{
		Repo:      store.repo,
		Hasher:    security.NewBcryptHasher(cfg.BcryptCost),
		Policy:    policy.New(breach, authCfg.CollaboratorTimeout, logger),
		Limiter:   limiter,
		Tokens:    jwtManager,
		Notifier:  notifier,
		Publisher: publisher,
		Logger:    logger,

		Verification: newVerificationTokens(rdb),
	}
	svc := application.NewService(deps, authCfg)

	container.SetConfig(cfg)
	container.SetAuthService(svc)

	if store.purge != nil {
		go runSessionJanitor(ctx, store.purge, cfg.SessionPurgeAfter, logger)
	}

	// Gin engine and global middleware
	r := gin.New()
	if !cfg.TrustForwardedFor {
		// Only the socket address identifies the client.
		if err := r.SetTrustedProxies(nil); err != nil {
			logger.WithError(err).Warn("failed to reset trusted proxies")
		}
	}
	r.Use(gin.Recovery())
	r.Use(middleware.RequestIDMiddleware())
	r.Use(middleware.RealIP(cfg.TrustForwardedFor))
	r.Use(middleware.Metrics())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSOrigins(),
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.RequestIDHeader},
		ExposeHeaders:    []string{"Content-Length", middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	if cfg.HTTPLogEnabled {
		r.Use(gin.Logger())
	}

	reg := router.NewRegistry(r)
	router.InitModules(reg)
	reg.RegisterAll()

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logger.Infof("server starting on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("listen: %s\n", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server")

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctxShutdown); err != nil {
		logger.Errorf("server forced to shutdown: %v", err)
		return
	}
	logger.Info("server exited properly")
}
