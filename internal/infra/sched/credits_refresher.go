package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"mina-studio/internal/infra/logging"
	"mina-studio/internal/usecase"
)

// CreditsRefresher re-reads balances the ledger no longer trusts. It reacts
// to refreshes the ledger schedules after an anomaly and, on every tick,
// sweeps identities still marked dirty (a scheduled refresh may have
// failed).
type CreditsRefresher struct {
	ledger   usecase.CreditsLedger
	interval time.Duration
	timeout  time.Duration
	log      *zerolog.Logger
}

func NewCreditsRefresher(ledger usecase.CreditsLedger, interval time.Duration, logger *zerolog.Logger) *CreditsRefresher {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &CreditsRefresher{
		ledger:   ledger,
		interval: interval,
		timeout:  10 * time.Second,
		log:      logging.Component(logger, "credits_refresher"),
	}
}

// Start blocks until ctx is done.
func (w *CreditsRefresher) Start(ctx context.Context) {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-w.ledger.Scheduled():
			w.refresh(ctx, id)
		case <-t.C:
			w.tick(ctx)
		}
	}
}

func (w *CreditsRefresher) tick(ctx context.Context) {
	for _, id := range w.ledger.Dirty() {
		if ctx.Err() != nil {
			return
		}
		w.refresh(ctx, id)
	}
}

func (w *CreditsRefresher) refresh(ctx context.Context, identity string) {
	rctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	st, err := w.ledger.Refresh(rctx, identity)
	if err != nil {
		w.log.Warn().Err(err).Str("pass_id", identity).Msg("credits refresh failed")
		return
	}
	w.log.Debug().Str("pass_id", identity).Float64("balance", st.Balance).Bool("dirty", st.Dirty).Msg("credits refreshed")
}
