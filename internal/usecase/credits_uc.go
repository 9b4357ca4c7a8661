// File: internal/usecase/credits_uc.go
package usecase

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"mina-studio/internal/domain"
	"mina-studio/internal/domain/model"
	"mina-studio/internal/domain/ports/adapter"
	"mina-studio/internal/infra/logging"
	"mina-studio/internal/infra/metrics"
)

// Compile-time check
var _ CreditsLedger = (*creditsLedger)(nil)

// Anomaly reasons.
const (
	AnomalyNonFinite        = "non_finite"
	AnomalyNegative         = "negative"
	AnomalyZeroOverPositive = "zero_over_positive"
	AnomalyMalformed        = "malformed"
)

type CreditsLedger interface {
	// Read returns the cached state when clean and fresh, otherwise it
	// refreshes from the backend. On refresh failure the previous state is
	// returned along with the error.
	Read(ctx context.Context, identity string) (model.CreditsState, error)
	// Peek returns the cached state without I/O.
	Peek(identity string) (model.CreditsState, bool)
	// ApplyDelta adopts a balance reported by a job. It returns false when
	// the value was rejected; the cache is then dirty and a refresh queued.
	ApplyDelta(identity string, reported float64) bool
	// RejectMalformed handles a job-reported balance that could not be
	// parsed the same way as a rejected ApplyDelta.
	RejectMalformed(identity string)
	// Invalidate marks the identity dirty without any I/O.
	Invalidate(identity string)
	Refresh(ctx context.Context, identity string) (model.CreditsState, error)
	// CanAfford reports whether the known balance covers one job of mode.
	CanAfford(ctx context.Context, identity string, mode model.Mode) (bool, error)
	// Dirty lists identities that need a refresh.
	Dirty() []string
	// Scheduled yields identities whose refresh was requested by a rejection.
	Scheduled() <-chan string
}

type creditsLedger struct {
	api        adapter.CreditsAPI
	staleAfter time.Duration
	now        func() time.Time
	log        *zerolog.Logger

	mu      sync.Mutex
	entries map[string]*model.CreditsState
	// deltas counts accepted ApplyDelta calls per identity so a refresh
	// that started before one of them can be recognized as stale.
	deltas map[string]uint64

	flight   singleflight.Group
	schedule chan string
}

func NewCreditsLedger(api adapter.CreditsAPI, staleAfter time.Duration, logger *zerolog.Logger) *creditsLedger {
	if staleAfter <= 0 {
		staleAfter = 30 * time.Second
	}
	return &creditsLedger{
		api:        api,
		staleAfter: staleAfter,
		now:        time.Now,
		log:        logging.Component(logger, "credits"),
		entries:    make(map[string]*model.CreditsState),
		deltas:     make(map[string]uint64),
		schedule:   make(chan string, 32),
	}
}

func (l *creditsLedger) Read(ctx context.Context, identity string) (model.CreditsState, error) {
	if identity == "" {
		return model.CreditsState{}, domain.ErrMissingIdentity
	}
	l.mu.Lock()
	st, ok := l.entries[identity]
	if ok && st.Known && !st.Dirty && l.now().Sub(st.FetchedAt) < l.staleAfter {
		out := *st
		l.mu.Unlock()
		metrics.IncCacheRequest("credits", "hit")
		return out, nil
	}
	l.mu.Unlock()
	metrics.IncCacheRequest("credits", "miss")
	return l.Refresh(ctx, identity)
}

func (l *creditsLedger) Peek(identity string) (model.CreditsState, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.entries[identity]
	if !ok {
		return model.CreditsState{}, false
	}
	return *st, true
}

func (l *creditsLedger) Refresh(ctx context.Context, identity string) (model.CreditsState, error) {
	if identity == "" {
		return model.CreditsState{}, domain.ErrMissingIdentity
	}
	v, err, _ := l.flight.Do(identity, func() (any, error) {
		l.mu.Lock()
		started := l.deltas[identity]
		l.mu.Unlock()
		reading, err := l.api.Balance(ctx, identity)
		if err != nil {
			metrics.IncCreditsRefresh("error")
			return nil, err
		}
		return fetched{reading: reading, deltasAtStart: started}, nil
	})

	l.mu.Lock()
	defer l.mu.Unlock()
	st := l.entry(identity)
	if err != nil {
		l.log.Warn().Err(err).Str("pass_id", identity).Msg("balance refresh failed")
		return *st, err
	}

	res, _ := v.(fetched)
	reading := res.reading
	if reading == nil {
		metrics.IncCreditsRefresh("malformed")
		metrics.IncCreditsAnomaly(AnomalyMalformed)
		st.Dirty = true
		return *st, nil
	}
	st.Costs = reading.Costs
	if reading.Balance == nil || rejectReason(*reading.Balance, 0, false) != "" {
		// keep what is displayed; a later refresh will try again.
		metrics.IncCreditsRefresh("malformed")
		metrics.IncCreditsAnomaly(AnomalyMalformed)
		st.Dirty = true
		l.log.Warn().Str("pass_id", identity).Msg("balance response malformed; keeping previous value")
		return *st, nil
	}

	if l.deltas[identity] != res.deltasAtStart {
		// a job reported a newer balance while this fetch was in flight.
		metrics.IncCreditsRefresh("stale")
		st.Dirty = true
		l.log.Debug().Str("pass_id", identity).Msg("dropping balance fetched before a newer job report")
		return *st, nil
	}

	metrics.IncCreditsRefresh("ok")
	st.Balance = *reading.Balance
	st.Known = true
	st.Dirty = false
	st.FetchedAt = l.now()
	return *st, nil
}

func (l *creditsLedger) ApplyDelta(identity string, reported float64) bool {
	if identity == "" {
		return false
	}
	l.mu.Lock()
	st := l.entry(identity)
	reason := rejectReason(reported, st.Balance, st.Known)
	if reason != "" {
		st.Dirty = true
		prev := st.Balance
		l.mu.Unlock()

		metrics.IncCreditsAnomaly(reason)
		l.log.Debug().Str("pass_id", identity).Str("reason", reason).
			Float64("kept", prev).Msg("reported balance rejected")
		l.scheduleRefresh(identity)
		return false
	}
	st.Balance = reported
	st.Known = true
	st.Dirty = false
	st.FetchedAt = l.now()
	l.deltas[identity]++
	l.mu.Unlock()
	return true
}

func (l *creditsLedger) RejectMalformed(identity string) {
	if identity == "" {
		return
	}
	l.mu.Lock()
	l.entry(identity).Dirty = true
	l.mu.Unlock()
	metrics.IncCreditsAnomaly(AnomalyMalformed)
	l.log.Debug().Str("pass_id", identity).Msg("reported balance malformed")
	l.scheduleRefresh(identity)
}

func (l *creditsLedger) Invalidate(identity string) {
	if identity == "" {
		return
	}
	l.mu.Lock()
	l.entry(identity).Dirty = true
	l.mu.Unlock()
}

func (l *creditsLedger) CanAfford(ctx context.Context, identity string, mode model.Mode) (bool, error) {
	st, err := l.Read(ctx, identity)
	if err != nil && !st.Known {
		return false, err
	}
	return st.Balance >= st.Costs.CostOf(mode), nil
}

func (l *creditsLedger) Dirty() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for id, st := range l.entries {
		if st.Dirty {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func (l *creditsLedger) Scheduled() <-chan string { return l.schedule }

func (l *creditsLedger) scheduleRefresh(identity string) {
	select {
	case l.schedule <- identity:
	default:
		// queue full; the periodic dirty sweep picks it up.
	}
}

type fetched struct {
	reading       *model.BalanceReading
	deltasAtStart uint64
}

// entry must be called with mu held.
func (l *creditsLedger) entry(identity string) *model.CreditsState {
	st, ok := l.entries[identity]
	if !ok {
		st = &model.CreditsState{}
		l.entries[identity] = st
	}
	return st
}

// rejectReason returns why reported must not be adopted, or "".
func rejectReason(reported, prior float64, priorKnown bool) string {
	switch {
	case math.IsNaN(reported) || math.IsInf(reported, 0):
		return AnomalyNonFinite
	case reported < 0:
		return AnomalyNegative
	case reported == 0 && priorKnown && prior > 0:
		return AnomalyZeroOverPositive
	}
	return ""
}
