package keystore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/revittco/safeguard/internal/secrets"
)

// RedisKeystore is the production Keystore backend: a thin, TTL-native KV
// layer (spec.md §6: "store_secret/get_secret/delete_secret") over Redis,
// with every value age-encrypted before it leaves the process. TTL is
// delegated to Redis's own expiry rather than reimplemented.
type RedisKeystore struct {
	client    *redis.Client
	encryptor *secrets.AgeEncryptor
}

// NewRedisKeystore dials addr and verifies connectivity with a PING.
func NewRedisKeystore(ctx context.Context, addr string, enc *secrets.AgeEncryptor) (*RedisKeystore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis keystore: %w", err)
	}
	return &RedisKeystore{client: client, encryptor: enc}, nil
}

// NewRedisKeystoreFromClient wraps an already-constructed redis.Client,
// used by tests to point at a miniredis instance.
func NewRedisKeystoreFromClient(client *redis.Client, enc *secrets.AgeEncryptor) *RedisKeystore {
	return &RedisKeystore{client: client, encryptor: enc}
}

var _ Keystore = (*RedisKeystore)(nil)

func (k *RedisKeystore) StoreSecret(ctx context.Context, key string, data map[string]any, ttl time.Duration) error {
	plaintext, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal secret envelope: %w", err)
	}

	ciphertext, err := k.encryptor.Encrypt(plaintext)
	if err != nil {
		return fmt.Errorf("encrypt secret envelope: %w", err)
	}

	if err := k.client.Set(ctx, key, ciphertext, ttl).Err(); err != nil {
		return fmt.Errorf("store secret envelope: %w", err)
	}
	return nil
}

func (k *RedisKeystore) GetSecret(ctx context.Context, key string) (map[string]any, bool, error) {
	ciphertext, err := k.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("fetch secret envelope: %w", err)
	}

	plaintext, err := k.encryptor.Decrypt(ciphertext)
	if err != nil {
		return nil, false, fmt.Errorf("decrypt secret envelope: %w", err)
	}

	var data map[string]any
	if err := json.Unmarshal(plaintext, &data); err != nil {
		return nil, false, fmt.Errorf("unmarshal secret envelope: %w", err)
	}
	return data, true, nil
}

func (k *RedisKeystore) DeleteSecret(ctx context.Context, key string) (bool, error) {
	n, err := k.client.Del(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("delete secret envelope: %w", err)
	}
	return n > 0, nil
}

// Close releases the underlying connection pool.
func (k *RedisKeystore) Close() error {
	return k.client.Close()
}
