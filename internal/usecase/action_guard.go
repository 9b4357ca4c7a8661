// File: internal/usecase/action_guard.go
package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"mina-studio/internal/domain"
	"mina-studio/internal/domain/model"
	"mina-studio/internal/domain/ports/adapter"
	"mina-studio/internal/infra/logging"
	"mina-studio/internal/infra/metrics"
)

// Compile-time check
var _ ActionGuard = (*actionGuard)(nil)

// GuardedWork is the submission run under an action key. token is the
// idempotency token of the current entry.
type GuardedWork func(ctx context.Context, token string) (any, error)

type ActionGuard interface {
	// Do runs work at most once concurrently per key. Callers arriving while
	// an entry is in flight receive its result; shared reports that the
	// caller joined an existing entry.
	Do(ctx context.Context, key model.ActionKey, work GuardedWork) (v any, shared bool, err error)
}

type actionGuard struct {
	group    singleflight.Group
	fence    adapter.ActionFence // optional
	timeout  time.Duration
	newToken func() string
	log      *zerolog.Logger
}

// NewActionGuard builds the guard. fence may be nil. timeout bounds one
// entry from creation to settlement.
func NewActionGuard(fence adapter.ActionFence, timeout time.Duration, logger *zerolog.Logger) *actionGuard {
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &actionGuard{
		fence:    fence,
		timeout:  timeout,
		newToken: uuid.NewString,
		log:      logging.Component(logger, "action_guard"),
	}
}

func (g *actionGuard) Do(ctx context.Context, key model.ActionKey, work GuardedWork) (any, bool, error) {
	leader := false
	// The entry runs detached from the first caller so its cancellation can
	// never strand the entry; every caller still stops waiting on its own ctx.
	detached := context.WithoutCancel(ctx)
	ch := g.group.DoChan(string(key), func() (v any, err error) {
		leader = true
		metrics.GuardInflightAdd(1)
		defer metrics.GuardInflightAdd(-1)
		defer func() {
			if r := recover(); r != nil {
				v, err = nil, fmt.Errorf("guarded work panicked: %v", r)
			}
		}()

		wctx, cancel := context.WithTimeout(detached, g.timeout)
		defer cancel()
		token := g.newToken()

		if g.fence != nil {
			release, err := g.claim(wctx, key, token)
			if err != nil {
				return nil, err
			}
			defer release()
		}
		return work(wctx, token)
	})

	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		shared := !leader
		if shared {
			metrics.IncGuardShared()
			logging.With(ctx, g.log).Debug().Str("action_key", string(key)).Msg("joined in-flight submission")
		}
		return res.Val, shared, res.Err
	}
}

// claim takes the cross-process fence. Transport errors degrade to
// process-local dedup.
func (g *actionGuard) claim(ctx context.Context, key model.ActionKey, token string) (func(), error) {
	noop := func() {}
	ok, err := g.fence.Claim(ctx, string(key), token)
	if err != nil {
		g.log.Warn().Err(err).Str("action_key", string(key)).Msg("action fence unavailable; local dedup only")
		return noop, nil
	}
	if !ok {
		return noop, domain.ErrDuplicateSubmission
	}
	return func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := g.fence.Release(rctx, string(key), token); err != nil {
			g.log.Warn().Err(err).Str("action_key", string(key)).Msg("action fence release failed")
		}
	}, nil
}
