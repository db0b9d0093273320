package application_test

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/oksasatya/go-ddd-school-auth/internal/application"
	"github.com/oksasatya/go-ddd-school-auth/internal/domain/entity"
	"github.com/oksasatya/go-ddd-school-auth/internal/domain/port"
	repo "github.com/oksasatya/go-ddd-school-auth/internal/domain/repository"
	"github.com/oksasatya/go-ddd-school-auth/internal/infrastructure/memory"
	"github.com/oksasatya/go-ddd-school-auth/internal/infrastructure/security"
)

const (
	goodPassword  = "Sunflower42"
	otherPassword = "Moonlight77"
	addrA         = "203.0.113.10"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []entity.Event
}

func (p *recordingPublisher) Publish(_ context.Context, events []entity.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
	return nil
}

func (p *recordingPublisher) all() []entity.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]entity.Event(nil), p.events...)
}

type sentMail struct {
	kind, email, token string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentMail
}

func (n *recordingNotifier) SendPasswordReset(_ context.Context, email, _, token string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentMail{"reset", email, token})
	return nil
}

func (n *recordingNotifier) SendEmailConfirmation(_ context.Context, email, _, token string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentMail{"confirm", email, token})
	return nil
}

func (n *recordingNotifier) last(kind string) (sentMail, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.sent) - 1; i >= 0; i-- {
		if n.sent[i].kind == kind {
			return n.sent[i], true
		}
	}
	return sentMail{}, false
}

// memTokens is a single-process VerificationTokenStore.
type memTokens struct {
	mu     sync.Mutex
	seq    int
	tokens map[string]string
}

func (m *memTokens) Issue(_ context.Context, purpose port.TokenPurpose, email string, _ time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tokens == nil {
		m.tokens = map[string]string{}
	}
	m.seq++
	token := string(purpose) + "-token-" + string(rune('a'+m.seq))
	m.tokens[string(purpose)+":"+token] = email
	return token, nil
}

func (m *memTokens) Consume(_ context.Context, purpose port.TokenPurpose, email, token string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := string(purpose) + ":" + token
	owner, ok := m.tokens[key]
	if !ok {
		return false, nil
	}
	delete(m.tokens, key)
	return owner == email, nil
}

// conflictingRepo fails the first `conflicts` saves with ErrConcurrentUpdate.
type conflictingRepo struct {
	repo.UserRepository
	mu        sync.Mutex
	conflicts int
	saves     int
}

func (r *conflictingRepo) Save(ctx context.Context, u *entity.User) error {
	r.mu.Lock()
	r.saves++
	if r.conflicts > 0 {
		r.conflicts--
		r.mu.Unlock()
		return repo.ErrConcurrentUpdate
	}
	r.mu.Unlock()
	return r.UserRepository.Save(ctx, u)
}

// stallingRepo blocks FindByEmail and Save until the caller's context ends.
type stallingRepo struct {
	repo.UserRepository
}

func (stallingRepo) FindByEmail(ctx context.Context, _ entity.EmailAddress) (*entity.User, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (stallingRepo) Save(ctx context.Context, _ *entity.User) error {
	<-ctx.Done()
	return ctx.Err()
}

type fixture struct {
	svc      *application.Service
	repo     *memory.UserRepository
	clock    *fakeClock
	limiter  *memory.LoginRateLimiter
	events   *recordingPublisher
	notifier *recordingNotifier
	cfg      application.Config
}

type fixtureOption func(*application.Deps, *application.Config)

func withRepo(r repo.UserRepository) fixtureOption {
	return func(d *application.Deps, _ *application.Config) { d.Repo = r }
}

func withLimiter(l port.LoginRateLimiter) fixtureOption {
	return func(d *application.Deps, _ *application.Config) { d.Limiter = l }
}

// withLimits swaps in a limiter with the given attempt limit and suspicion
// threshold, driven by the fixture clock.
func withLimits(limit, suspicious int) fixtureOption {
	return func(d *application.Deps, c *application.Config) {
		d.Limiter = memory.NewLoginRateLimiter(limit, c.RateLimitWindow, suspicious, d.Clock)
	}
}

func withStoreTimeout(d time.Duration) fixtureOption {
	return func(_ *application.Deps, c *application.Config) { c.StoreTimeout = d }
}

// withAccessTTL lets access tokens outlive the session limits.
func withAccessTTL(ttl time.Duration) fixtureOption {
	return func(d *application.Deps, _ *application.Config) {
		m := security.NewJWTManager("access-secret", "refresh-secret", ttl, 24*time.Hour, "test")
		m.Clock = d.Clock
		d.Tokens = m
	}
}

func hasEvent(events []entity.Event, t entity.EventType) bool {
	for _, e := range events {
		if e.Type == t {
			return true
		}
	}
	return false
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)}
	f := &fixture{
		repo:     memory.NewUserRepository(),
		clock:    clock,
		limiter:  memory.NewLoginRateLimiter(50, 15*time.Minute, 40, clock),
		events:   &recordingPublisher{},
		notifier: &recordingNotifier{},
	}
	jwtm := security.NewJWTManager("access-secret", "refresh-secret", 15*time.Minute, 24*time.Hour, "test")
	jwtm.Clock = clock

	cfg := application.DefaultConfig()
	cfg.RetryDelay = time.Millisecond
	deps := application.Deps{
		Repo:         f.repo,
		Hasher:       security.NewBcryptHasher(bcrypt.MinCost),
		Limiter:      f.limiter,
		Tokens:       jwtm,
		Verification: &memTokens{},
		Notifier:     f.notifier,
		Publisher:    f.events,
		Clock:        clock,
		Logger:       quietLogger(),
	}
	for _, o := range opts {
		o(&deps, &cfg)
	}
	f.cfg = cfg
	f.svc = application.NewService(deps, cfg)
	return f
}

func (f *fixture) register(t *testing.T, email string, role entity.RoleCode, school string) *application.UserInfo {
	t.Helper()
	info, err := f.svc.Register(context.Background(), &application.Principal{
		UserID: "root",
		Role:   entity.MustRole(entity.RoleSuperAdmin),
	}, application.RegisterInput{
		FirstName: "Test",
		LastName:  "User",
		Email:     email,
		Password:  goodPassword,
		Role:      string(role),
		SchoolID:  school,
	})
	require.NoError(t, err)
	return info
}

func (f *fixture) login(email, password string) (*application.LoginResponse, application.TokenPair, error) {
	return f.svc.Login(context.Background(), application.LoginInput{
		Email:         email,
		Password:      password,
		SourceAddress: addrA,
		UserAgent:     "Mozilla/5.0 (X11; Linux x86_64) Firefox/128.0",
	})
}

func (f *fixture) principal(t *testing.T, pair application.TokenPair) application.Principal {
	t.Helper()
	p, err := f.svc.Authenticate(context.Background(), pair.AccessToken)
	require.NoError(t, err)
	return p
}
