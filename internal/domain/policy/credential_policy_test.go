package policy_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oksasatya/go-ddd-school-auth/internal/domain/entity"
	"github.com/oksasatya/go-ddd-school-auth/internal/domain/policy"
)

type breachFunc func(ctx context.Context, plaintext string) (bool, error)

func (f breachFunc) IsCompromised(ctx context.Context, plaintext string) (bool, error) {
	return f(ctx, plaintext)
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		password string
		want     []string
	}{
		{"acceptable", "Sunflower42", nil},
		{"short", "Ab1", []string{policy.ViolationTooShort}},
		{"no upper", "sunflower42", []string{policy.ViolationNoUpper}},
		{"no lower", "SUNFLOWER42", []string{policy.ViolationNoLower}},
		{"no digit", "Sunflowers", []string{policy.ViolationNoDigit}},
		{"empty", "", []string{policy.ViolationTooShort, policy.ViolationNoUpper, policy.ViolationNoLower, policy.ViolationNoDigit}},
		{"too long", "Aa1" + strings.Repeat("x", policy.MaxLength), []string{policy.ViolationTooLong}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, policy.Validate(tt.password))
		})
	}
}

func TestScoreIsBoundedAndMonotonic(t *testing.T) {
	assert.Equal(t, 0, policy.Score(""))
	prev := 0
	candidate := ""
	for _, r := range "aB3$kLm9#pQ2xZ7!wE" {
		candidate += string(r)
		s := policy.Score(candidate)
		assert.GreaterOrEqual(t, s, prev, "score dropped at %q", candidate)
		assert.LessOrEqual(t, s, 100)
		prev = s
	}
	assert.Less(t, policy.Score("aaaaaaaa"), policy.Score("aB3$kLm9"))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, policy.VeryWeak, policy.Classify(0))
	assert.Equal(t, policy.Weak, policy.Classify(20))
	assert.Equal(t, policy.Fair, policy.Classify(59))
	assert.Equal(t, policy.Good, policy.Classify(60))
	assert.Equal(t, policy.Strong, policy.Classify(94))
	assert.Equal(t, policy.VeryStrong, policy.Classify(100))
}

func TestEnforce(t *testing.T) {
	breached := breachFunc(func(_ context.Context, p string) (bool, error) { return p == "Password123", nil })
	p := policy.New(breached, time.Second, quietLogger())
	ctx := context.Background()

	require.NoError(t, p.Enforce(ctx, "Sunflower42"))

	err := p.Enforce(ctx, "weak")
	require.Error(t, err)
	assert.True(t, errors.Is(err, entity.ErrWeakPassword))
	assert.Equal(t, entity.KindPolicy, entity.KindOf(err))
	assert.Contains(t, entity.ContextOf(err)["violations"], policy.ViolationTooShort)

	err = p.Enforce(ctx, "Password123")
	assert.True(t, errors.Is(err, entity.ErrCompromisedPassword))
	assert.Equal(t, "AUTH_COMPROMISED_PASSWORD", entity.CodeOf(err))
}

func TestBreachFailureDegradesToNotFound(t *testing.T) {
	failing := breachFunc(func(context.Context, string) (bool, error) { return false, errors.New("redis down") })
	p := policy.New(failing, time.Second, quietLogger())
	assert.NoError(t, p.Enforce(context.Background(), "Sunflower42"))
}

func TestBreachCheckIsBoundedByTimeout(t *testing.T) {
	slow := breachFunc(func(ctx context.Context, _ string) (bool, error) {
		<-ctx.Done()
		return false, ctx.Err()
	})
	p := policy.New(slow, 20*time.Millisecond, quietLogger())

	start := time.Now()
	assert.False(t, p.IsCompromised(context.Background(), "Sunflower42"))
	assert.Less(t, time.Since(start), time.Second)
}

func TestEvaluate(t *testing.T) {
	breached := breachFunc(func(_ context.Context, p string) (bool, error) { return p == "Password123", nil })
	p := policy.New(breached, time.Second, quietLogger())

	r := p.Evaluate(context.Background(), "Password123")
	assert.True(t, r.Compromised)
	assert.False(t, r.Acceptable)
	assert.Equal(t, []string{policy.ViolationBreached}, r.Violations)

	r = p.Evaluate(context.Background(), "Sunflower42")
	assert.True(t, r.Acceptable)
	assert.Equal(t, []string{}, r.Violations)
	assert.Equal(t, policy.Classify(r.Score), r.Strength)
}
