package redisstore

import (
	"bufio"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"io"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/oksasatya/go-ddd-school-auth/internal/domain/port"
)

const loadBatch = 1000

// BreachList keeps upper-case SHA-1 digests of breached passwords in a Redis
// set. Plaintext never reaches Redis.
type BreachList struct {
	rdb *redis.Client
	key string
}

func NewBreachList(rdb *redis.Client, key string) *BreachList {
	return &BreachList{rdb: rdb, key: key}
}

func (b *BreachList) IsCompromised(ctx context.Context, plaintext string) (bool, error) {
	return b.rdb.SIsMember(ctx, b.key, Digest(plaintext)).Result()
}

// Load replaces the set with the entries read from r. Lines are either a
// 40 character SHA-1 digest, optionally followed by ":count", or a plaintext
// password. Blank lines and lines starting with # are skipped.
func (b *BreachList) Load(ctx context.Context, r io.Reader) (int, error) {
	tmp := b.key + ":loading"
	if err := b.rdb.Del(ctx, tmp).Err(); err != nil {
		return 0, err
	}

	total := 0
	batch := make([]any, 0, loadBatch)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := b.rdb.SAdd(ctx, tmp, batch...).Err(); err != nil {
			return err
		}
		total += len(batch)
		batch = batch[:0]
		return nil
	}

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		batch = append(batch, entryDigest(line))
		if len(batch) == loadBatch {
			if err := flush(); err != nil {
				return total, err
			}
		}
	}
	if err := sc.Err(); err != nil {
		return total, err
	}
	if err := flush(); err != nil {
		return total, err
	}
	if total == 0 {
		return 0, nil
	}
	return total, b.rdb.Rename(ctx, tmp, b.key).Err()
}

// Digest is the set member for plaintext.
func Digest(plaintext string) string {
	sum := sha1.Sum([]byte(plaintext))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

func entryDigest(line string) string {
	candidate := line
	if i := strings.IndexByte(line, ':'); i == 40 {
		candidate = line[:40]
	}
	if len(candidate) == 40 {
		if _, err := hex.DecodeString(candidate); err == nil {
			return strings.ToUpper(candidate)
		}
	}
	return Digest(line)
}

var _ port.BreachListChecker = (*BreachList)(nil)
