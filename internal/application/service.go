package application

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"

	"github.com/oksasatya/go-ddd-school-auth/internal/domain/entity"
	"github.com/oksasatya/go-ddd-school-auth/internal/domain/policy"
	"github.com/oksasatya/go-ddd-school-auth/internal/domain/port"
	repo "github.com/oksasatya/go-ddd-school-auth/internal/domain/repository"
	"github.com/oksasatya/go-ddd-school-auth/internal/observability/metrics"
	"github.com/oksasatya/go-ddd-school-auth/pkg/helpers"
)

// Config holds the named thresholds of the authentication workflow.
type Config struct {
	Lockout             entity.LockoutPolicy
	RateLimitWindow     time.Duration
	SessionMaxIdle      time.Duration
	SessionMaxDuration  time.Duration
	PasswordMaxAge      time.Duration
	CollaboratorTimeout time.Duration
	StoreTimeout        time.Duration
	ResetTokenTTL       time.Duration
	ConfirmTokenTTL     time.Duration
	RetryDelay          time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Lockout:             entity.DefaultLockoutPolicy,
		RateLimitWindow:     15 * time.Minute,
		SessionMaxIdle:      entity.DefaultSessionMaxIdle,
		SessionMaxDuration:  entity.DefaultSessionMaxDuration,
		PasswordMaxAge:      90 * 24 * time.Hour,
		CollaboratorTimeout: 2 * time.Second,
		StoreTimeout:        2 * time.Second,
		ResetTokenTTL:       15 * time.Minute,
		ConfirmTokenTTL:     24 * time.Hour,
		RetryDelay:          25 * time.Millisecond,
	}
}

// Deps are the collaborators of Service. Notifier, Publisher and
// Verification may be nil; the matching features then become no-ops.
type Deps struct {
	Repo         repo.UserRepository
	Hasher       port.CredentialHasher
	Policy       *policy.CredentialPolicy
	Limiter      port.LoginRateLimiter
	Tokens       port.TokenIssuer
	Verification port.VerificationTokenStore
	Notifier     port.Notifier
	Publisher    port.EventPublisher
	Clock        port.Clock
	Logger       *logrus.Logger
}

type Service struct {
	repo         repo.UserRepository
	hasher       port.CredentialHasher
	policy       *policy.CredentialPolicy
	limiter      port.LoginRateLimiter
	tokens       port.TokenIssuer
	verification port.VerificationTokenStore
	notifier     port.Notifier
	publisher    port.EventPublisher
	clock        port.Clock
	logger       *logrus.Logger
	cfg          Config

	dummyOnce sync.Once
	dummyHash string
}

func NewService(d Deps, cfg Config) *Service {
	if d.Clock == nil {
		d.Clock = port.SystemClock{}
	}
	if d.Logger == nil {
		d.Logger = logrus.StandardLogger()
	}
	if d.Policy == nil {
		d.Policy = policy.New(nil, cfg.CollaboratorTimeout, d.Logger)
	}
	if cfg.CollaboratorTimeout <= 0 || cfg.CollaboratorTimeout > policy.DefaultCheckTimeout {
		cfg.CollaboratorTimeout = policy.DefaultCheckTimeout
	}
	if cfg.StoreTimeout <= 0 || cfg.StoreTimeout > policy.DefaultCheckTimeout {
		cfg.StoreTimeout = policy.DefaultCheckTimeout
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 25 * time.Millisecond
	}
	return &Service{
		repo:         d.Repo,
		hasher:       d.Hasher,
		policy:       d.Policy,
		limiter:      d.Limiter,
		tokens:       d.Tokens,
		verification: d.Verification,
		notifier:     d.Notifier,
		publisher:    d.Publisher,
		clock:        d.Clock,
		logger:       d.Logger,
		cfg:          cfg,
	}
}

// failAfterSave carries a failure whose aggregate changes must still be
// persisted, e.g. a failed login counter or a cleared refresh token.
type failAfterSave struct{ err error }

func (f *failAfterSave) Error() string { return f.err.Error() }
func (f *failAfterSave) Unwrap() error { return f.err }

func persistThenFail(err error) error { return &failAfterSave{err: err} }

type loader func(ctx context.Context) (*entity.User, error)

// mutate runs one unit of work: load the aggregate, apply fn, save once and
// publish the drained events. A version conflict reloads and retries once.
// initial, when non-nil, is used for the first attempt instead of loading.
func (s *Service) mutate(ctx context.Context, load loader, initial *entity.User, fn func(u *entity.User, now time.Time) error) (*entity.User, error) {
	var result *entity.User
	attempt := 0
	backoff := retry.WithMaxRetries(1, retry.NewConstant(s.cfg.RetryDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		u := initial
		if u == nil || attempt > 1 {
			if attempt > 1 {
				metrics.IncConcurrentRetries()
			}
			loaded, err := load(ctx)
			if err != nil {
				return err
			}
			u = loaded
		}

		fnErr := fn(u, s.clock.Now())
		var deferred *failAfterSave
		if fnErr != nil && !errors.As(fnErr, &deferred) {
			return fnErr
		}
		if u.HasPendingEvents() {
			if err := s.save(ctx, u); err != nil {
				if errors.Is(err, repo.ErrConcurrentUpdate) {
					return retry.RetryableError(err)
				}
				return s.storeError(err, u.ID())
			}
			s.publish(ctx, u.PullEvents())
		}
		result = u
		if deferred != nil {
			return deferred.err
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, repo.ErrConcurrentUpdate) {
			return nil, entity.TransientError("AUTH_CONCURRENT_UPDATE", entity.ErrConcurrentUpdate, "attempts", attempt)
		}
		return result, err
	}
	return result, nil
}

// storeError converts repository failures into domain errors. Errors that
// already carry a kind pass through unchanged.
func (s *Service) storeError(err error, userID string) error {
	switch {
	case entity.KindOf(err) != "":
		return err
	case errors.Is(err, repo.ErrNotFound):
		return entity.NotFoundError("AUTH_USER_NOT_FOUND", entity.ErrUserNotFound, "user_id", userID)
	case errors.Is(err, repo.ErrDuplicateEmail):
		return entity.ConflictError("AUTH_EMAIL_TAKEN", entity.ErrEmailTaken)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return entity.TransientError("AUTH_STORE_TIMEOUT", errors.Join(entity.ErrUnavailable, err), "user_id", userID)
	default:
		helpers.LogError(s.logger, "user store failure", err, logrus.Fields{"user_id": userID})
		return entity.TransientError("AUTH_STORE_UNAVAILABLE", errors.Join(entity.ErrUnavailable, err), "user_id", userID)
	}
}

func (s *Service) byID(id string) loader {
	return func(ctx context.Context) (*entity.User, error) {
		u, err := s.findByID(ctx, id)
		if err != nil {
			return nil, s.storeError(err, id)
		}
		return u, nil
	}
}

func (s *Service) byEmail(email entity.EmailAddress) loader {
	return func(ctx context.Context) (*entity.User, error) {
		u, err := s.findByEmail(ctx, email)
		if err != nil {
			return nil, s.storeError(err, "")
		}
		return u, nil
	}
}

func (s *Service) publish(ctx context.Context, events []entity.Event) {
	if s.publisher == nil || len(events) == 0 {
		return
	}
	if err := s.publisher.Publish(ctx, events); err != nil {
		s.logger.WithError(err).WithField("events", len(events)).Warn("domain event publish failed")
	}
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.CollaboratorTimeout)
}

// Every repository and verification-token call is bounded by StoreTimeout.

func (s *Service) findByID(ctx context.Context, id string) (*entity.User, error) {
	c, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	return s.repo.FindByID(c, id)
}

func (s *Service) findByEmail(ctx context.Context, email entity.EmailAddress) (*entity.User, error) {
	c, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	return s.repo.FindByEmail(c, email)
}

func (s *Service) existsByEmail(ctx context.Context, email entity.EmailAddress) (bool, error) {
	c, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	return s.repo.ExistsByEmail(c, email)
}

func (s *Service) save(ctx context.Context, u *entity.User) error {
	c, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	return s.repo.Save(c, u)
}

func (s *Service) issueVerification(ctx context.Context, purpose port.TokenPurpose, email string, ttl time.Duration) (string, error) {
	c, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	return s.verification.Issue(c, purpose, email, ttl)
}

func (s *Service) consumeVerification(ctx context.Context, purpose port.TokenPurpose, email, token string) (bool, error) {
	c, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	return s.verification.Consume(c, purpose, email, token)
}

// verifyDummy burns the same hashing work as a real verification so that an
// unknown email is indistinguishable by timing.
func (s *Service) verifyDummy(plaintext string) {
	s.dummyOnce.Do(func() {
		h, err := s.hasher.Hash(uuid.NewString())
		if err != nil {
			s.logger.WithError(err).Warn("dummy hash generation failed")
			return
		}
		s.dummyHash = h
	})
	if s.dummyHash == "" {
		return
	}
	_, _ = s.hasher.Verify(plaintext, s.dummyHash)
}

// digest is the form in which refresh tokens are held on the aggregate.
func digest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
