package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/oksasatya/go-ddd-school-auth/config"
	"github.com/oksasatya/go-ddd-school-auth/internal/container"
	"github.com/oksasatya/go-ddd-school-auth/internal/domain/port"
	repo "github.com/oksasatya/go-ddd-school-auth/internal/domain/repository"
	"github.com/oksasatya/go-ddd-school-auth/internal/infrastructure/audit"
	"github.com/oksasatya/go-ddd-school-auth/internal/infrastructure/breachlist"
	"github.com/oksasatya/go-ddd-school-auth/internal/infrastructure/memory"
	"github.com/oksasatya/go-ddd-school-auth/internal/infrastructure/messaging"
	pginfra "github.com/oksasatya/go-ddd-school-auth/internal/infrastructure/postgres"
	"github.com/oksasatya/go-ddd-school-auth/internal/infrastructure/redisstore"
	"github.com/oksasatya/go-ddd-school-auth/pkg/helpers"
	"github.com/oksasatya/go-ddd-school-auth/pkg/mailer"
)

type sessionPurger interface {
	PurgeEndedSessions(ctx context.Context, cutoff time.Time) (int64, error)
}

type userStore struct {
	repo  repo.UserRepository
	purge sessionPurger
}

func openStore(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*userStore, error) {
	switch cfg.StoreDriver {
	case "memory":
		logger.Warn("using in-memory user store; data is lost on restart")
		return &userStore{repo: memory.NewUserRepository()}, nil
	case "postgres", "":
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}

	pool, err := pginfra.NewPool(ctx, cfg.PostgresDSN(), cfg.DBMaxConns, cfg.DBMinConns, cfg.DBMaxConnLife, cfg.DBPingTimeout)
	if err != nil {
		return nil, err
	}
	if err := pginfra.RunMigrations(cfg.PostgresDSN(), cfg.MigrationsDir, logger); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	container.SetPGPool(pool)
	r := pginfra.NewUserRepository(pool)
	return &userStore{repo: r, purge: r}, nil
}

// openRedis returns nil when Redis is not configured or unreachable; callers
// then fall back to in-process implementations.
func openRedis(ctx context.Context, cfg *config.Config, logger *logrus.Logger) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}
	rdb := helpers.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err := helpers.PingRedis(ctx, rdb, cfg.CollaboratorTimeout); err != nil {
		logger.WithError(err).Warn("redis unreachable, using in-process limiter and breach list")
		_ = rdb.Close()
		return nil
	}
	return rdb
}

func newLimiter(ctx context.Context, cfg *config.Config, rdb *redis.Client) port.LoginRateLimiter {
	if rdb != nil {
		return redisstore.NewLoginRateLimiter(rdb, cfg.RateLimitMax, cfg.RateLimitWindow, cfg.SuspiciousThreshold, port.SystemClock{})
	}
	l := memory.NewLoginRateLimiter(cfg.RateLimitMax, cfg.RateLimitWindow, cfg.SuspiciousThreshold, port.SystemClock{})
	go func() {
		t := time.NewTicker(cfg.RateLimitWindow)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				l.Sweep()
			}
		}
	}()
	return l
}

func newBreachList(ctx context.Context, cfg *config.Config, rdb *redis.Client, logger *logrus.Logger) port.BreachListChecker {
	if rdb == nil {
		return memory.NewStaticBreachList(memory.CommonPasswords...)
	}
	list := redisstore.NewBreachList(rdb, cfg.BreachListRedisKey)
	if cfg.BreachListBucket == "" {
		return list
	}
	gcs, err := helpers.NewGCSClient(ctx, cfg.GCSCredentialsJSONPath)
	if err != nil {
		logger.WithError(err).Warn("gcs client unavailable, breach list will not sync")
		return list
	}
	container.SetGCS(gcs)
	go func() {
		loader := breachlist.NewLoader(breachlist.GCSObject(gcs, cfg.BreachListBucket, cfg.BreachListObject), list, logger)
		loader.Run(ctx, cfg.BreachListSyncInterval)
	}()
	return list
}

func newVerificationTokens(rdb *redis.Client) port.VerificationTokenStore {
	if rdb == nil {
		return nil
	}
	return redisstore.NewVerificationTokens(rdb)
}

// newMessaging builds the event fan-out (log, RabbitMQ, Elasticsearch audit)
// and the e-mail job notifier. Brokers that cannot be reached are skipped.
func newMessaging(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (port.EventPublisher, port.Notifier) {
	fan := messaging.Fanout{messaging.LogPublisher{Logger: logger}}
	var notifier port.Notifier

	pub, err := helpers.NewRabbitPublisher(cfg.RabbitMQURL, cfg.RabbitMQEmailQueue, cfg.RabbitMQEventsExchange)
	if err != nil {
		logger.WithError(err).Warn("rabbitmq unavailable, events and e-mail jobs are not enqueued")
	} else {
		container.SetRabbitPub(pub)
		fan = append(fan, messaging.NewEventPublisher(pub, cfg.CollaboratorTimeout))
		links := mailer.Links{AppName: cfg.AppName, ResetPasswordURL: cfg.ResetPasswordURL, VerifyEmailURL: cfg.VerifyEmailURL}
		notifier = messaging.NewNotifier(pub, links, cfg.ResetTokenTTL, cfg.ConfirmTokenTTL, cfg.CollaboratorTimeout)
	}

	if addrs := cfg.ESAddrs(); len(addrs) > 0 {
		es, err := helpers.NewESClient(addrs, cfg.ElasticsearchUser, cfg.ElasticsearchPass, cfg.CollaboratorTimeout)
		if err != nil {
			logger.WithError(err).Warn("elasticsearch unavailable, audit trail disabled")
		} else {
			sink := audit.NewElasticSink(es, cfg.ESAuditIndex, cfg.CollaboratorTimeout)
			if err := sink.EnsureIndex(ctx); err != nil {
				logger.WithError(err).Warn("audit index not verified, relying on dynamic mapping")
			}
			container.SetAuditSink(sink)
			fan = append(fan, sink)
		}
	}
	return fan, notifier
}

// runSessionJanitor deletes ended sessions older than keep, once an hour.
func runSessionJanitor(ctx context.Context, p sessionPurger, keep time.Duration, logger *logrus.Logger) {
	t := time.NewTicker(time.Hour)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := p.PurgeEndedSessions(ctx, time.Now().Add(-keep))
			if err != nil {
				helpers.LogError(logger, "session purge failed", err, nil)
				continue
			}
			if n > 0 {
				logger.WithField("purged", n).Info("ended sessions purged")
			}
		}
	}
}
