package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	phoneCodePrefix = "phone_auth:"
	blacklistPrefix = "blacklist:"
)

// RedisStore keeps phone verification codes and the logout blacklist in
// Redis. Every key carries an explicit TTL.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore constructs a Redis-backed verification cache.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// PhoneCode returns the pending code for the phone number, if any.
func (s *RedisStore) PhoneCode(ctx context.Context, phone string) (string, bool, error) {
	code, err := s.client.Get(ctx, phoneCodeKey(phone)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("load phone code: %w", err)
	}
	return code, true, nil
}

// SetPhoneCode stores (or replaces) the pending code with a fresh TTL.
func (s *RedisStore) SetPhoneCode(ctx context.Context, phone, code string, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("phone code ttl must be positive, got %s", ttl)
	}
	if err := s.client.Set(ctx, phoneCodeKey(phone), code, ttl).Err(); err != nil {
		return fmt.Errorf("store phone code: %w", err)
	}
	return nil
}

// HasPhoneCode reports whether a code is pending for the phone number.
func (s *RedisStore) HasPhoneCode(ctx context.Context, phone string) (bool, error) {
	n, err := s.client.Exists(ctx, phoneCodeKey(phone)).Result()
	if err != nil {
		return false, fmt.Errorf("check phone code: %w", err)
	}
	return n > 0, nil
}

// Blacklist marks token as revoked until ttl elapses.
func (s *RedisStore) Blacklist(ctx context.Context, token, email string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := s.client.Set(ctx, blacklistKey(token), email, ttl).Err(); err != nil {
		return fmt.Errorf("blacklist token: %w", err)
	}
	return nil
}

// IsBlacklisted reports whether the token was revoked by logout.
func (s *RedisStore) IsBlacklisted(ctx context.Context, token string) (bool, error) {
	n, err := s.client.Exists(ctx, blacklistKey(token)).Result()
	if err != nil {
		return false, fmt.Errorf("check blacklist: %w", err)
	}
	return n > 0, nil
}

// Ping is used by readiness probes.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func phoneCodeKey(phone string) string {
	return phoneCodePrefix + strings.TrimSpace(phone)
}

func blacklistKey(token string) string {
	return blacklistPrefix + token
}
