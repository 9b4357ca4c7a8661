package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"mina-studio/internal/application"
	"mina-studio/internal/config"
	"mina-studio/internal/domain/model"
	"mina-studio/internal/domain/ports/adapter"
	"mina-studio/internal/infra/auth"
	"mina-studio/internal/infra/logging"
	"mina-studio/internal/infra/metrics"
	"mina-studio/internal/infra/mma"
	"mina-studio/internal/infra/preview"
	red "mina-studio/internal/infra/redis"
	"mina-studio/internal/infra/worker"
	"mina-studio/internal/usecase"
)

// app holds the wired object graph shared by every subcommand.
type app struct {
	cfg     *config.Config
	log     *zerolog.Logger
	facade  *application.StudioFacade
	ledger  usecase.CreditsLedger
	uploads usecase.UploadPipeline

	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func buildApp(ctx context.Context) (*app, error) {
	cfg, err := config.LoadConfig(cfgPath, devMode)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)

	a := &app{cfg: cfg, log: logger}

	// ---- Identity ----
	passID, err := auth.ResolvePassID(cfg.API.PassID, cfg.API.Token)
	if err != nil {
		logger.Warn().Err(err).Msg("no pass id configured; requests rely on the token alone")
	}
	if cfg.API.PassID == "" {
		cfg.API.PassID = passID
	}

	// ---- Backend ----
	client, err := mma.NewClient(cfg.API, cfg.Runtime.Dev, logger)
	if err != nil {
		return nil, fmt.Errorf("mma client: %w", err)
	}
	source := mma.NewSource(client, logger)

	// ---- Cross-process fence (optional) ----
	var fence adapter.ActionFence
	if cfg.Redis.URL != "" {
		rc, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable; duplicate protection is local only")
		} else {
			a.closers = append(a.closers, func() { _ = rc.Close() })
			fence = red.NewActionFence(rc, passID, cfg.Redis.FenceTTL)
		}
	}

	// ---- Use cases ----
	guard := usecase.NewActionGuard(fence, cfg.API.SubmitTimeout, logger)
	submitter := usecase.NewSubmitter(client, cfg.API.BaseURL, logger)
	consumer := usecase.NewProgressConsumer(source, cfg.Stream.Grace, logger)
	a.closers = append(a.closers, consumer.Close)
	poller := usecase.NewResultPoller(client, cfg.Poll.Interval, cfg.Poll.Timeout, logger)
	generation := usecase.NewGenerationUseCase(guard, submitter, consumer, poller, client, logger)
	stabilizer := usecase.NewAssetStabilizer(client, cfg.Assets.Host, cfg.Assets.Folder, logger)
	a.ledger = usecase.NewCreditsLedger(client, cfg.Credits.StaleAfter, logger)

	// ---- Uploads ----
	previews, err := preview.NewFileStore(cfg.Uploads.PreviewDir)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("preview store: %w", err)
	}
	a.closers = append(a.closers, func() { _ = previews.Close() })

	pool := worker.NewPool(cfg.Uploads.Workers, logger)
	pool.Start(ctx)
	a.closers = append(a.closers, pool.Stop)

	a.uploads = usecase.NewUploadPipeline(client, stabilizer, previews, pool, usecase.UploadPipelineOptions{
		PassID:   passID,
		Folder:   cfg.Assets.Folder,
		MaxBytes: cfg.Uploads.MaxBytes,
		Specs:    categorySpecs(cfg.Uploads.Categories),
	}, logger)

	a.facade = application.NewStudioFacade(passID, generation, stabilizer, a.ledger, a.uploads, logger)
	return a, nil
}

func categorySpecs(in map[string]config.CategoryConfig) map[model.UploadCategory]model.CategorySpec {
	out := make(map[model.UploadCategory]model.CategorySpec, len(in))
	for name, c := range in {
		policy := model.PolicyAppend
		if c.Policy == string(model.PolicyReplace) {
			policy = model.PolicyReplace
		}
		out[model.UploadCategory(name)] = model.CategorySpec{Max: c.Max, Policy: policy}
	}
	return out
}
