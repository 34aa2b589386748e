package keystore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/revittco/safeguard/internal/secrets"
)

func newTestKeystore(t *testing.T) *RedisKeystore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	enc, err := secrets.NewEphemeralEncryptor()
	if err != nil {
		t.Fatalf("NewEphemeralEncryptor: %v", err)
	}
	return NewRedisKeystoreFromClient(client, enc)
}

func TestRedisKeystore_StoreGetDelete(t *testing.T) {
	ctx := context.Background()
	ks := newTestKeystore(t)

	key := ApprovalKey("approval-1")
	data := map[string]any{"password": "p@ss"}

	if err := ks.StoreSecret(ctx, key, data, time.Hour); err != nil {
		t.Fatalf("StoreSecret: %v", err)
	}

	got, ok, err := ks.GetSecret(ctx, key)
	if err != nil {
		t.Fatalf("GetSecret: %v", err)
	}
	if !ok {
		t.Fatal("expected secret to exist")
	}
	if got["password"] != "p@ss" {
		t.Fatalf("got %v", got)
	}

	deleted, err := ks.DeleteSecret(ctx, key)
	if err != nil {
		t.Fatalf("DeleteSecret: %v", err)
	}
	if !deleted {
		t.Fatal("expected delete to report an existing key")
	}

	_, ok, err = ks.GetSecret(ctx, key)
	if err != nil {
		t.Fatalf("GetSecret after delete: %v", err)
	}
	if ok {
		t.Fatal("expected secret to be gone after delete")
	}
}

func TestRedisKeystore_GetMissingKey(t *testing.T) {
	ctx := context.Background()
	ks := newTestKeystore(t)

	_, ok, err := ks.GetSecret(ctx, ApprovalKey("does-not-exist"))
	if err != nil {
		t.Fatalf("GetSecret: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for a missing key")
	}
}

func TestRedisKeystore_DeleteMissingKeyIsFalse(t *testing.T) {
	ctx := context.Background()
	ks := newTestKeystore(t)

	deleted, err := ks.DeleteSecret(ctx, ApprovalKey("does-not-exist"))
	if err != nil {
		t.Fatalf("DeleteSecret: %v", err)
	}
	if deleted {
		t.Fatal("expected deleting a missing key to report false")
	}
}

func TestRedisKeystore_TTLExpiry(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	enc, _ := secrets.NewEphemeralEncryptor()
	ks := NewRedisKeystoreFromClient(client, enc)

	key := ApprovalKey("approval-expiring")
	if err := ks.StoreSecret(ctx, key, map[string]any{"x": "y"}, time.Second); err != nil {
		t.Fatalf("StoreSecret: %v", err)
	}

	mr.FastForward(2 * time.Second)

	_, ok, err := ks.GetSecret(ctx, key)
	if err != nil {
		t.Fatalf("GetSecret: %v", err)
	}
	if ok {
		t.Fatal("expected key to have expired")
	}
}
