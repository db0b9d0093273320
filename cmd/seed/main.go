package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/oksasatya/go-ddd-school-auth/config"
	"github.com/oksasatya/go-ddd-school-auth/internal/domain/entity"
	"github.com/oksasatya/go-ddd-school-auth/internal/domain/policy"
	repo "github.com/oksasatya/go-ddd-school-auth/internal/domain/repository"
	pginfra "github.com/oksasatya/go-ddd-school-auth/internal/infrastructure/postgres"
	"github.com/oksasatya/go-ddd-school-auth/internal/infrastructure/security"
	"github.com/oksasatya/go-ddd-school-auth/pkg/helpers"
)

// seed creates the platform administrator through the domain model so the
// row carries the same invariants as any registered account.
func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger := helpers.NewLogger(cfg.AppName+"-seed", cfg.Env)

	email := flag.String("email", getenv("SEED_ADMIN_EMAIL", "admin@school.local"), "administrator e-mail")
	first := flag.String("first-name", "Platform", "administrator first name")
	last := flag.String("last-name", "Admin", "administrator last name")
	flag.Parse()
	password := os.Getenv("SEED_ADMIN_PASSWORD")
	if password == "" {
		log.Fatal("SEED_ADMIN_PASSWORD is required")
	}
	if v := policy.Validate(password); len(v) > 0 {
		log.Fatalf("SEED_ADMIN_PASSWORD rejected: %v", v)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pginfra.NewPool(ctx, cfg.PostgresDSN(), 2, 1, time.Minute, cfg.DBPingTimeout)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()
	if err := pginfra.RunMigrations(cfg.PostgresDSN(), cfg.MigrationsDir, logger); err != nil {
		log.Fatalf("migration failed: %v", err)
	}

	name, err := entity.NewPersonName(*first, *last)
	if err != nil {
		log.Fatalf("invalid name: %v", err)
	}
	addr, err := entity.NewEmailAddress(*email)
	if err != nil {
		log.Fatalf("invalid email: %v", err)
	}
	hash, err := security.NewBcryptHasher(cfg.BcryptCost).Hash(password)
	if err != nil {
		log.Fatalf("failed to hash password: %v", err)
	}
	u, err := entity.NewUser(entity.NewUserParams{
		Name:           name,
		Email:          addr,
		CredentialHash: hash,
		Role:           entity.MustRole(entity.RoleSuperAdmin),
	}, time.Now().UTC())
	if err != nil {
		log.Fatalf("invalid administrator: %v", err)
	}
	u.ConfirmEmail(time.Now().UTC())

	users := pginfra.NewUserRepository(pool)
	if err := users.Save(ctx, u); err != nil {
		if errors.Is(err, repo.ErrDuplicateEmail) {
			logger.WithField("email", addr.String()).Info("administrator already exists")
			return
		}
		log.Fatalf("failed to seed administrator: %v", err)
	}
	logger.WithFields(map[string]any{"id": u.ID(), "email": addr.String()}).Info("seeded administrator")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
