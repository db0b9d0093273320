// Package policy scores and validates candidate passwords.
package policy

import (
	"context"
	"math"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/oksasatya/go-ddd-school-auth/internal/domain/entity"
	"github.com/oksasatya/go-ddd-school-auth/internal/domain/port"
)

// Strength is the coarse classification of a score.
type Strength string

const (
	VeryWeak   Strength = "very_weak"
	Weak       Strength = "weak"
	Fair       Strength = "fair"
	Good       Strength = "good"
	Strong     Strength = "strong"
	VeryStrong Strength = "very_strong"
)

// Violation codes reported by Validate.
const (
	ViolationTooShort  = "PASSWORD_TOO_SHORT"
	ViolationNoUpper   = "PASSWORD_NO_UPPERCASE"
	ViolationNoLower   = "PASSWORD_NO_LOWERCASE"
	ViolationNoDigit   = "PASSWORD_NO_DIGIT"
	ViolationTooLong   = "PASSWORD_TOO_LONG"
	ViolationMismatch  = "PASSWORD_CONFIRMATION_MISMATCH"
	ViolationBreached  = "PASSWORD_COMPROMISED"
	ViolationUnchanged = "PASSWORD_UNCHANGED"
)

const (
	MinLength = 8
	// MaxLength keeps inputs inside bcrypt's 72 byte limit.
	MaxLength = 72

	DefaultCheckTimeout = 2 * time.Second

	lengthWeight    = 35.0
	diversityWeight = 25.0
	entropyWeight   = 40.0
	lengthCap       = 16
	entropyCap      = 100.0
)

// Report is the combined outcome of Evaluate.
type Report struct {
	Score       int      `json:"score"`
	Strength    Strength `json:"strength"`
	Violations  []string `json:"violations"`
	Compromised bool     `json:"compromised"`
	Acceptable  bool     `json:"acceptable"`
}

// CredentialPolicy combines the hard rules, the strength score and the breach
// list lookup.
type CredentialPolicy struct {
	breach  port.BreachListChecker
	timeout time.Duration
	logger  *logrus.Logger
}

// New builds a policy. A nil checker disables the breach lookup.
func New(breach port.BreachListChecker, timeout time.Duration, logger *logrus.Logger) *CredentialPolicy {
	if timeout <= 0 || timeout > DefaultCheckTimeout {
		timeout = DefaultCheckTimeout
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &CredentialPolicy{breach: breach, timeout: timeout, logger: logger}
}

type classes struct {
	upper, lower, digit, symbol bool
}

func (c classes) count() int {
	n := 0
	for _, b := range []bool{c.upper, c.lower, c.digit, c.symbol} {
		if b {
			n++
		}
	}
	return n
}

func (c classes) pool() float64 {
	p := 0.0
	if c.upper {
		p += 26
	}
	if c.lower {
		p += 26
	}
	if c.digit {
		p += 10
	}
	if c.symbol {
		p += 33
	}
	return p
}

func scan(plaintext string) classes {
	var c classes
	for _, r := range plaintext {
		switch {
		case unicode.IsUpper(r):
			c.upper = true
		case unicode.IsLower(r):
			c.lower = true
		case unicode.IsDigit(r):
			c.digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r) || unicode.IsSpace(r):
			c.symbol = true
		}
	}
	return c
}

// Score rates plaintext from 0 to 100. Appending a character never lowers it.
func Score(plaintext string) int {
	n := utf8.RuneCountInString(plaintext)
	if n == 0 {
		return 0
	}
	c := scan(plaintext)

	unique := make(map[rune]struct{}, n)
	for _, r := range plaintext {
		unique[r] = struct{}{}
	}
	effective := n
	if limit := 2 * len(unique); effective > limit {
		effective = limit
	}
	bits := float64(effective) * math.Log2(math.Max(c.pool(), 1))

	length := float64(min(n, lengthCap)) / lengthCap * lengthWeight
	diversity := float64(c.count()) / 4 * diversityWeight
	entropy := math.Min(bits, entropyCap) / entropyCap * entropyWeight

	score := int(math.Round(length + diversity + entropy))
	return max(0, min(100, score))
}

// Classify maps a score onto a Strength.
func Classify(score int) Strength {
	switch {
	case score < 20:
		return VeryWeak
	case score < 40:
		return Weak
	case score < 60:
		return Fair
	case score < 80:
		return Good
	case score < 95:
		return Strong
	default:
		return VeryStrong
	}
}

// Validate applies the hard rules and returns the violated ones. The result
// does not depend on Score.
func Validate(plaintext string) []string {
	var out []string
	n := utf8.RuneCountInString(plaintext)
	if n < MinLength {
		out = append(out, ViolationTooShort)
	}
	if len(plaintext) > MaxLength {
		out = append(out, ViolationTooLong)
	}
	c := scan(plaintext)
	if !c.upper {
		out = append(out, ViolationNoUpper)
	}
	if !c.lower {
		out = append(out, ViolationNoLower)
	}
	if !c.digit {
		out = append(out, ViolationNoDigit)
	}
	return out
}

// IsCompromised asks the breach list about plaintext. A failing or slow
// checker is logged and counts as "not found".
func (p *CredentialPolicy) IsCompromised(ctx context.Context, plaintext string) bool {
	if p.breach == nil || plaintext == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	found, err := p.breach.IsCompromised(ctx, plaintext)
	if err != nil {
		p.logger.WithError(err).Warn("breach list lookup failed, treating password as not found")
		return false
	}
	return found
}

// Evaluate produces the full report for plaintext.
func (p *CredentialPolicy) Evaluate(ctx context.Context, plaintext string) Report {
	score := Score(plaintext)
	violations := Validate(plaintext)
	compromised := p.IsCompromised(ctx, plaintext)
	if compromised {
		violations = append(violations, ViolationBreached)
	}
	if violations == nil {
		violations = []string{}
	}
	return Report{
		Score:       score,
		Strength:    Classify(score),
		Violations:  violations,
		Compromised: compromised,
		Acceptable:  len(violations) == 0,
	}
}

// Enforce returns a policy error when plaintext may not become a credential.
func (p *CredentialPolicy) Enforce(ctx context.Context, plaintext string) error {
	if v := Validate(plaintext); len(v) > 0 {
		return entity.PolicyViolation("AUTH_WEAK_PASSWORD", entity.ErrWeakPassword, "violations", v)
	}
	if p.IsCompromised(ctx, plaintext) {
		return entity.PolicyViolation("AUTH_COMPROMISED_PASSWORD", entity.ErrCompromisedPassword)
	}
	return nil
}
