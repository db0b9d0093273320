package container

import (
	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/oksasatya/go-ddd-school-auth/config"
	"github.com/oksasatya/go-ddd-school-auth/internal/application"
	"github.com/oksasatya/go-ddd-school-auth/internal/infrastructure/audit"
	"github.com/oksasatya/go-ddd-school-auth/pkg/helpers"
)

// app-level container to share constructed components across packages.
// Router modules wire themselves from these singletons; main sets them once
// before InitModules. Redis, GCS, RabbitMQ and Elasticsearch may be nil.

var (
	cfg         *config.Config
	logger      *logrus.Logger
	pgPool      *pgxpool.Pool
	redisClient *redis.Client
	gcsClient   *storage.Client
	rabbitPub   *helpers.RabbitPublisher

	authService *application.Service
	auditSink   *audit.ElasticSink
)

func SetConfig(c *config.Config)              { cfg = c }
func GetConfig() *config.Config               { return cfg }
func SetLogger(l *logrus.Logger)              { logger = l }
func GetLogger() *logrus.Logger               { return logger }
func SetPGPool(p *pgxpool.Pool)               { pgPool = p }
func SetRedis(r *redis.Client)                { redisClient = r }
func GetRedis() *redis.Client                 { return redisClient }
func SetGCS(s *storage.Client)                { gcsClient = s }
func SetRabbitPub(p *helpers.RabbitPublisher) { rabbitPub = p }

func SetAuthService(s *application.Service) { authService = s }
func GetAuthService() *application.Service  { return authService }
func SetAuditSink(s *audit.ElasticSink)     { auditSink = s }

// GetAuditSink returns nil when Elasticsearch is not configured.
func GetAuditSink() *audit.ElasticSink { return auditSink }

// Close releases the shared clients in reverse order of construction. It is
// called once, after the HTTP server has stopped.
func Close() {
	closed := []string{}
	if rabbitPub != nil {
		rabbitPub.Close()
		closed = append(closed, "rabbitmq")
	}
	if gcsClient != nil {
		if err := gcsClient.Close(); err != nil && logger != nil {
			logger.WithError(err).Warn("gcs client close failed")
		}
		closed = append(closed, "gcs")
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil && logger != nil {
			logger.WithError(err).Warn("redis client close failed")
		}
		closed = append(closed, "redis")
	}
	if pgPool != nil {
		pgPool.Close()
		closed = append(closed, "postgres")
	}
	if logger != nil {
		helpers.LogInfo(logger, "shared clients closed", logrus.Fields{"clients": closed})
	}
}
