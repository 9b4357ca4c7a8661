// File: internal/usecase/poller_uc.go
package usecase

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"mina-studio/internal/domain/model"
	"mina-studio/internal/domain/ports/adapter"
	"mina-studio/internal/infra/logging"
	"mina-studio/internal/infra/metrics"
)

// Compile-time check
var _ ResultPoller = (*resultPoller)(nil)

type ResultPoller interface {
	// Wait fetches the job record until it is terminal or the poll timeout
	// elapses. On timeout the best-known record is returned flagged
	// Inconclusive with a nil error.
	Wait(ctx context.Context, generationID string) (*model.GenerationJob, error)
}

type resultPoller struct {
	api      adapter.GenerationAPI
	interval time.Duration
	timeout  time.Duration
	log      *zerolog.Logger
}

func NewResultPoller(api adapter.GenerationAPI, interval, timeout time.Duration, logger *zerolog.Logger) *resultPoller {
	if interval <= 0 {
		interval = 900 * time.Millisecond
	}
	if timeout <= 0 {
		timeout = 180 * time.Second
	}
	return &resultPoller{api: api, interval: interval, timeout: timeout, log: logging.Component(logger, "poller")}
}

func (p *resultPoller) Wait(ctx context.Context, generationID string) (*model.GenerationJob, error) {
	log := logging.With(ctx, p.log).With().Str("generation_id", generationID).Logger()
	pctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var last *model.GenerationJob
	attempts := 0
	for {
		attempts++
		job, err := p.api.GetGeneration(pctx, generationID)
		switch {
		case err != nil:
			// a failed attempt means "still queued", never an abort.
			metrics.IncPollAttempt("error")
			log.Debug().Err(err).Int("attempt", attempts).Msg("poll attempt failed")
		case job.IsTerminal():
			metrics.IncPollAttempt("terminal")
			if job.ID == "" {
				job.ID = generationID
			}
			return job, nil
		default:
			metrics.IncPollAttempt("pending")
			last = job
		}

		select {
		case <-ticker.C:
		case <-pctx.Done():
			if ctx.Err() != nil {
				return p.bestKnown(last, generationID, false), ctx.Err()
			}
			metrics.IncPollTimeout()
			log.Warn().Int("attempts", attempts).Dur("timeout", p.timeout).Msg("poll timed out; returning inconclusive record")
			return p.bestKnown(last, generationID, true), nil
		}
	}
}

func (p *resultPoller) bestKnown(last *model.GenerationJob, generationID string, inconclusive bool) *model.GenerationJob {
	out := last
	if out == nil {
		out = &model.GenerationJob{ID: generationID, Status: model.StatusQueued}
	}
	if out.ID == "" {
		out.ID = generationID
	}
	out.Inconclusive = inconclusive
	return out
}
