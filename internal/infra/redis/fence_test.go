//go:build !integration

package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"mina-studio/internal/config"
	"mina-studio/internal/infra/redis"
)

func newFence(t *testing.T, scope string) (*redis.ActionFence, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	cli, err := redis.NewClient(context.Background(), &config.RedisConfig{URL: mr.Addr()})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = cli.Close() })
	return redis.NewActionFence(cli, scope, time.Minute), mr
}

func TestActionFence(t *testing.T) {
	ctx := context.Background()
	const key = "POST /mma/still/create#run"

	t.Run("should allow one holder per key", func(t *testing.T) {
		// --- Arrange ---
		f, _ := newFence(t, "pass_1")

		// --- Act ---
		first, err1 := f.Claim(ctx, key, "t1")
		second, err2 := f.Claim(ctx, key, "t2")

		// --- Assert ---
		if err1 != nil || err2 != nil {
			t.Fatalf("unexpected errors %v %v", err1, err2)
		}
		if !first || second {
			t.Errorf("expected only the first claim to win, got %v %v", first, second)
		}
	})

	t.Run("should release only for the holding token", func(t *testing.T) {
		f, mr := newFence(t, "pass_1")
		_, _ = f.Claim(ctx, key, "t1")

		if err := f.Release(ctx, key, "other"); err != nil {
			t.Fatalf("release: %v", err)
		}
		if !mr.Exists("mina:action:pass_1:" + key) {
			t.Fatal("expected a foreign token not to release the claim")
		}
		if err := f.Release(ctx, key, "t1"); err != nil {
			t.Fatalf("release: %v", err)
		}
		ok, _ := f.Claim(ctx, key, "t3")
		if !ok {
			t.Error("expected the key to be claimable after release")
		}
	})

	t.Run("should expire abandoned claims", func(t *testing.T) {
		f, mr := newFence(t, "pass_1")
		_, _ = f.Claim(ctx, key, "t1")

		mr.FastForward(2 * time.Minute)

		if ok, _ := f.Claim(ctx, key, "t2"); !ok {
			t.Error("expected the claim to have expired")
		}
	})

	t.Run("should scope keys by identity", func(t *testing.T) {
		mr := miniredis.RunT(t)
		cli, err := redis.NewClient(ctx, &config.RedisConfig{URL: "redis://" + mr.Addr() + "/0"})
		if err != nil {
			t.Fatalf("connect: %v", err)
		}
		defer cli.Close()
		a := redis.NewActionFence(cli, "pass_a", time.Minute)
		b := redis.NewActionFence(cli, "pass_b", time.Minute)

		okA, _ := a.Claim(ctx, key, "t1")
		okB, _ := b.Claim(ctx, key, "t2")

		if !okA || !okB {
			t.Errorf("expected independent claims per identity, got %v %v", okA, okB)
		}
	})
}
