// File: internal/usecase/generation_uc.go
package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"mina-studio/internal/domain"
	"mina-studio/internal/domain/model"
	"mina-studio/internal/domain/ports/adapter"
	"mina-studio/internal/infra/logging"
	"mina-studio/internal/infra/metrics"
)

// Compile-time check
var _ GenerationUseCase = (*generationUC)(nil)

type GenerationUseCase interface {
	// SubmitAndWait submits req through the action guard, forwards stream
	// progress to onProgress and returns the confirmed record. A record
	// whose terminal status is a failure comes back together with a
	// *domain.JobTerminalError.
	SubmitAndWait(ctx context.Context, req model.CreateRequest, onProgress func(model.ProgressEvent)) (*model.GenerationJob, error)
	// RecordEvent sends a like/feedback event for a generation.
	RecordEvent(ctx context.Context, ev model.GenerationEvent) error
}

type generationUC struct {
	guard     ActionGuard
	submitter Submitter
	consumer  ProgressConsumer
	poller    ResultPoller
	events    adapter.EventsAPI
	log       *zerolog.Logger
}

func NewGenerationUseCase(
	guard ActionGuard,
	submitter Submitter,
	consumer ProgressConsumer,
	poller ResultPoller,
	events adapter.EventsAPI,
	logger *zerolog.Logger,
) *generationUC {
	return &generationUC{
		guard:     guard,
		submitter: submitter,
		consumer:  consumer,
		poller:    poller,
		events:    events,
		log:       logging.Component(logger, "generation"),
	}
}

func (u *generationUC) SubmitAndWait(ctx context.Context, req model.CreateRequest, onProgress func(model.ProgressEvent)) (*model.GenerationJob, error) {
	key := model.ActionKeyFor(req)
	ctx = logging.WithActionKey(ctx, string(key))
	if req.PassID != "" {
		ctx = logging.WithPassID(ctx, req.PassID)
	}

	v, shared, err := u.guard.Do(ctx, key, func(wctx context.Context, token string) (any, error) {
		return u.submitter.Submit(wctx, req, token)
	})
	if err != nil {
		return nil, err
	}
	ack, ok := v.(*model.SubmitAck)
	if !ok || ack == nil {
		return nil, fmt.Errorf("unexpected submission result %T", v)
	}
	ctx = logging.WithGenerationID(ctx, ack.GenerationID)
	log := logging.With(ctx, u.log)
	log.Debug().Bool("shared", shared).Msg("submission acknowledged")

	emit(onProgress, model.ProgressEvent{Status: initialStatus(ack.Status), ScanLines: []string{}})

	if ack.StreamURL != "" {
		if err := u.consumer.Follow(ctx, ack.GenerationID, ack.StreamURL, onProgress); err != nil {
			return nil, err
		}
	}

	job, err := u.poller.Wait(ctx, ack.GenerationID)
	if job != nil {
		if job.Mode == "" {
			job.Mode = req.Mode()
		}
		if job.Credits.Cost == nil && ack.CreditsCost != nil {
			c := *ack.CreditsCost
			job.Credits.Cost = &c
		}
	}
	if err != nil {
		return job, err
	}

	metrics.IncJobFinished(string(job.Mode), finishedLabel(job))
	if job.Failed() {
		terr := &domain.JobTerminalError{GenerationID: job.ID, Status: model.NormalizeStatus(job.Status)}
		if job.Error != nil {
			terr.Code, terr.Message = job.Error.Code, job.Error.Message
		}
		log.Warn().Str("status", terr.Status).Str("code", terr.Code).Msg("generation ended with failure")
		return job, terr
	}
	if job.Inconclusive {
		log.Warn().Str("status", job.Status).Msg("generation result inconclusive")
	} else {
		log.Info().Str("status", job.Status).Bool("outputs", job.HasOutputs()).Msg("generation finished")
	}
	return job, nil
}

func (u *generationUC) RecordEvent(ctx context.Context, ev model.GenerationEvent) error {
	if strings.TrimSpace(ev.GenerationID) == "" || strings.TrimSpace(ev.EventType) == "" {
		return domain.ErrInvalidArgument
	}
	if u.events == nil {
		return nil
	}
	return u.events.RecordEvent(ctx, ev)
}

func emit(fn func(model.ProgressEvent), ev model.ProgressEvent) {
	if fn != nil {
		fn(ev)
	}
}

func initialStatus(s string) string {
	if strings.TrimSpace(s) == "" {
		return model.StatusQueued
	}
	return s
}

func finishedLabel(job *model.GenerationJob) string {
	switch {
	case job.Inconclusive:
		return "inconclusive"
	case job.Status == "" && job.HasOutputs():
		return "outputs_ready"
	default:
		return model.NormalizeStatus(job.Status)
	}
}
