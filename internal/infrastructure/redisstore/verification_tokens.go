package redisstore

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/oksasatya/go-ddd-school-auth/internal/domain/port"
	"github.com/oksasatya/go-ddd-school-auth/pkg/helpers"
)

const tokenBytes = 32

// VerificationTokens stores one-time reset and confirmation tokens. Keys hold
// a digest of the token so a Redis dump does not leak usable links.
type VerificationTokens struct {
	rdb *redis.Client
}

func NewVerificationTokens(rdb *redis.Client) *VerificationTokens {
	return &VerificationTokens{rdb: rdb}
}

func tokenKey(purpose port.TokenPurpose, token string) string {
	sum := sha256.Sum256([]byte(token))
	return "auth:token:" + string(purpose) + ":" + hex.EncodeToString(sum[:])
}

func (v *VerificationTokens) Issue(ctx context.Context, purpose port.TokenPurpose, email string, ttl time.Duration) (string, error) {
	token, err := helpers.GenToken(tokenBytes)
	if err != nil {
		return "", err
	}
	if err := v.rdb.Set(ctx, tokenKey(purpose, token), email, ttl).Err(); err != nil {
		return "", err
	}
	return token, nil
}

// Consume deletes the token whatever the outcome, so a token can never be
// tried twice.
func (v *VerificationTokens) Consume(ctx context.Context, purpose port.TokenPurpose, email, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	stored, err := v.rdb.GetDel(ctx, tokenKey(purpose, token)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(email)) == 1, nil
}

var _ port.VerificationTokenStore = (*VerificationTokens)(nil)
