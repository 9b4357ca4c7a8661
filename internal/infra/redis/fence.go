// File: internal/infra/redis/fence.go
package redis

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"

	"mina-studio/internal/domain/ports/adapter"
)

var _ adapter.ActionFence = (*ActionFence)(nil)

const fencePrefix = "mina:action:"

// ActionFence claims action keys in Redis so that two processes sharing an
// account do not submit the same action at once. Keys are scoped by the
// account identity. A claim expires after ttl in case its holder dies before
// releasing it.
type ActionFence struct {
	cli   *redis.Client
	scope string
	ttl   time.Duration
}

func NewActionFence(c *Client, scope string, ttl time.Duration) *ActionFence {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &ActionFence{cli: c.cli, scope: scope, ttl: ttl}
}

func (f *ActionFence) redisKey(key string) string {
	return fencePrefix + f.scope + ":" + key
}

func (f *ActionFence) Claim(ctx context.Context, key, token string) (bool, error) {
	return f.cli.SetNX(ctx, f.redisKey(key), token, f.ttl).Result()
}

var luaRelease = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`)

func (f *ActionFence) Release(ctx context.Context, key, token string) error {
	_, err := luaRelease.Run(ctx, f.cli, []string{f.redisKey(key)}, token).Result()
	return err
}
