//go:build !integration

package application_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"mina-studio/internal/application"
	"mina-studio/internal/domain"
	"mina-studio/internal/domain/model"
	"mina-studio/internal/usecase"
)

// ---- mock generation usecase ----

type mockGenUC struct {
	job    *model.GenerationJob
	err    error
	got    model.CreateRequest
	events []model.GenerationEvent
	evErr  error
}

func (m *mockGenUC) SubmitAndWait(ctx context.Context, req model.CreateRequest, onProgress func(model.ProgressEvent)) (*model.GenerationJob, error) {
	m.got = req
	if onProgress != nil {
		onProgress(model.ProgressEvent{Status: "queued"})
	}
	return m.job, m.err
}

func (m *mockGenUC) RecordEvent(ctx context.Context, ev model.GenerationEvent) error {
	m.events = append(m.events, ev)
	return m.evErr
}

// ---- mock stabilizer ----

type mockAssets struct{ calls int }

func (m *mockAssets) EnsureStable(ctx context.Context, passID, raw, kind string) string { return raw }

func (m *mockAssets) StabilizeJob(ctx context.Context, passID string, job *model.GenerationJob) {
	m.calls++
	for k := range job.Outputs {
		job.Outputs[k] = "https://assets.mina.test/" + k
	}
}

// ---- mock ledger ----

type mockLedger struct {
	usecase.CreditsLedger // unused methods panic

	applied     []float64
	invalidated int
	malformed   int
	accept      bool
}

func (m *mockLedger) RejectMalformed(identity string) { m.malformed++ }

func (m *mockLedger) ApplyDelta(identity string, reported float64) bool {
	m.applied = append(m.applied, reported)
	return m.accept
}

func (m *mockLedger) Invalidate(identity string) { m.invalidated++ }

func (m *mockLedger) Read(ctx context.Context, identity string) (model.CreditsState, error) {
	return model.CreditsState{Balance: 4, Known: true}, nil
}

// ---- mock uploads ----

type mockUploads struct {
	usecase.UploadPipeline
	assets map[string]any
}

func (m *mockUploads) Assets() map[string]any { return m.assets }

func newFacade(gen *mockGenUC, assets *mockAssets, ledger *mockLedger, uploads usecase.UploadPipeline) *application.StudioFacade {
	log := zerolog.Nop()
	return application.NewStudioFacade("pass_1", gen, assets, ledger, uploads, &log)
}

func TestStudioFacade_Generate(t *testing.T) {
	ctx := context.Background()

	t.Run("should stabilize outputs and adopt the reported balance", func(t *testing.T) {
		// --- Arrange ---
		bal := 6.0
		gen := &mockGenUC{job: &model.GenerationJob{
			ID: "g1", Status: "done",
			Outputs: map[string]string{"image": "https://cdn.x/a.png?Signature=1"},
			Credits: model.JobCredits{Balance: &bal},
		}}
		assets, ledger := &mockAssets{}, &mockLedger{accept: true}
		uploads := &mockUploads{assets: map[string]any{"product_image_url": "https://assets.mina.test/p.png"}}
		f := newFacade(gen, assets, ledger, uploads)

		// --- Act ---
		job, err := f.Generate(ctx, model.CreateRequest{Kind: model.KindStillCreate}, nil)

		// --- Assert ---
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if job.Outputs["image"] != "https://assets.mina.test/image" || assets.calls != 1 {
			t.Errorf("expected stabilized outputs, got %v", job.Outputs)
		}
		if len(ledger.applied) != 1 || ledger.applied[0] != 6 {
			t.Errorf("expected balance 6 to be applied, got %v", ledger.applied)
		}
		if gen.got.PassID != "pass_1" {
			t.Errorf("expected pass id to be filled, got %q", gen.got.PassID)
		}
		if gen.got.Assets["product_image_url"] != "https://assets.mina.test/p.png" {
			t.Errorf("expected upload references folded in, got %v", gen.got.Assets)
		}
	})

	t.Run("should invalidate when only a cost is known", func(t *testing.T) {
		cost := 1.0
		gen := &mockGenUC{job: &model.GenerationJob{ID: "g1", Status: "done", Credits: model.JobCredits{Cost: &cost}}}
		ledger := &mockLedger{}
		f := newFacade(gen, &mockAssets{}, ledger, nil)

		_, err := f.Generate(ctx, model.CreateRequest{}, nil)

		if err != nil || ledger.invalidated != 1 || len(ledger.applied) != 0 {
			t.Errorf("expected invalidate only, got err=%v inv=%d applied=%v", err, ledger.invalidated, ledger.applied)
		}
	})

	t.Run("should route an unreadable balance through the rejection path", func(t *testing.T) {
		// --- Arrange ---
		gen := &mockGenUC{job: &model.GenerationJob{ID: "g1", Status: "done", Credits: model.JobCredits{BalanceMalformed: true}}}
		ledger := &mockLedger{}
		f := newFacade(gen, &mockAssets{}, ledger, nil)

		// --- Act ---
		_, err := f.Generate(ctx, model.CreateRequest{}, nil)

		// --- Assert ---
		if err != nil || ledger.malformed != 1 {
			t.Errorf("expected one malformed rejection, got err=%v malformed=%d", err, ledger.malformed)
		}
		if ledger.invalidated != 0 || len(ledger.applied) != 0 {
			t.Errorf("expected no plain invalidate or apply, got inv=%d applied=%v", ledger.invalidated, ledger.applied)
		}
	})

	t.Run("should keep explicit request assets", func(t *testing.T) {
		gen := &mockGenUC{job: &model.GenerationJob{ID: "g1", Status: "done"}}
		uploads := &mockUploads{assets: map[string]any{"logo_image_url": "x"}}
		f := newFacade(gen, &mockAssets{}, &mockLedger{}, uploads)

		_, _ = f.Generate(ctx, model.CreateRequest{Assets: map[string]any{"start_image_url": "s"}}, nil)

		if _, ok := gen.got.Assets["logo_image_url"]; ok {
			t.Error("expected request assets to win over uploads")
		}
	})

	t.Run("should return the record with a terminal error", func(t *testing.T) {
		terr := &domain.JobTerminalError{GenerationID: "g1", Status: "error", Message: "boom"}
		gen := &mockGenUC{job: &model.GenerationJob{ID: "g1", Status: "error"}, err: terr}
		ledger := &mockLedger{}
		f := newFacade(gen, &mockAssets{}, ledger, nil)

		job, err := f.Generate(ctx, model.CreateRequest{}, nil)

		if !errors.Is(err, domain.ErrJobFailed) || job == nil {
			t.Fatalf("expected job with ErrJobFailed, got job=%v err=%v", job, err)
		}
		if ledger.invalidated != 1 {
			t.Error("expected credits to be invalidated after a terminal job")
		}
	})

	t.Run("should pass submission errors through", func(t *testing.T) {
		gen := &mockGenUC{err: &domain.SubmissionError{Endpoint: "/mma/still/create", StatusCode: 500}}
		f := newFacade(gen, &mockAssets{}, &mockLedger{}, nil)

		job, err := f.Generate(ctx, model.CreateRequest{}, nil)

		if job != nil || !errors.Is(err, domain.ErrSubmission) {
			t.Errorf("expected submission error, got job=%v err=%v", job, err)
		}
	})
}

func TestStudioFacade_Events(t *testing.T) {
	ctx := context.Background()

	t.Run("should swallow delivery failures", func(t *testing.T) {
		gen := &mockGenUC{evErr: errors.New("502")}
		f := newFacade(gen, &mockAssets{}, &mockLedger{}, nil)
		if err := f.Like(ctx, "g1"); err != nil {
			t.Errorf("expected best-effort delivery, got %v", err)
		}
		if gen.events[0].EventType != model.EventLike || gen.events[0].PassID != "pass_1" {
			t.Errorf("unexpected event %+v", gen.events[0])
		}
	})

	t.Run("should require feedback text", func(t *testing.T) {
		f := newFacade(&mockGenUC{}, &mockAssets{}, &mockLedger{}, nil)
		if err := f.Feedback(ctx, "g1", "  "); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})

	t.Run("should report missing upload usecase", func(t *testing.T) {
		f := newFacade(&mockGenUC{}, &mockAssets{}, &mockLedger{}, nil)
		if _, err := f.AddUpload(ctx, model.CategoryLogo, "a.png", []byte{1}); err == nil {
			t.Error("expected an error without an upload usecase")
		}
	})
}

func TestSummary(t *testing.T) {
	cases := []struct {
		job  *model.GenerationJob
		want string
	}{
		{nil, "no result"},
		{&model.GenerationJob{ID: "g", Status: "generating", Inconclusive: true}, "still generating"},
		{&model.GenerationJob{ID: "g", Status: "error", Error: &model.JobError{Message: "nsfw"}}, "failed: nsfw"},
		{&model.GenerationJob{ID: "g", Status: "done", Outputs: map[string]string{"image": "u"}}, "done: u"},
	}
	for _, c := range cases {
		if got := application.Summary(c.job); !strings.Contains(got, c.want) {
			t.Errorf("expected %q in %q", c.want, got)
		}
	}
}
