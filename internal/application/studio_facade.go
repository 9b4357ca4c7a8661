package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"mina-studio/internal/domain"
	"mina-studio/internal/domain/model"
	"mina-studio/internal/infra/logging"
	"mina-studio/internal/usecase"
)

// StudioFacade composes the usecases into the caller-facing flows:
// generate, stabilize outputs, reconcile credits.
type StudioFacade struct {
	PassID    string
	GenUC     usecase.GenerationUseCase
	AssetUC   usecase.AssetStabilizer
	CreditsUC usecase.CreditsLedger
	UploadUC  usecase.UploadPipeline

	log *zerolog.Logger
}

// NewStudioFacade constructs a facade from provided usecases. uploads may be
// nil; the upload methods then return errors.
func NewStudioFacade(
	passID string,
	generation usecase.GenerationUseCase,
	assets usecase.AssetStabilizer,
	credits usecase.CreditsLedger,
	uploads usecase.UploadPipeline,
	logger *zerolog.Logger,
) *StudioFacade {
	return &StudioFacade{
		PassID:    passID,
		GenUC:     generation,
		AssetUC:   assets,
		CreditsUC: credits,
		UploadUC:  uploads,
		log:       logging.Component(logger, "facade"),
	}
}

// Generate runs one job end to end. Durable upload references are folded
// into the request when it carries no assets of its own. The returned record
// has stable outputs; the ledger is updated from whatever the job reported.
func (f *StudioFacade) Generate(ctx context.Context, req model.CreateRequest, onProgress func(model.ProgressEvent)) (*model.GenerationJob, error) {
	if req.PassID == "" {
		req.PassID = f.PassID
	}
	if req.PassID == "" {
		return nil, domain.ErrMissingIdentity
	}
	if len(req.Assets) == 0 && f.UploadUC != nil && !req.IsTweak() {
		req.Assets = f.UploadUC.Assets()
	}
	ctx = logging.WithPassID(ctx, req.PassID)

	job, err := f.GenUC.SubmitAndWait(ctx, req, onProgress)
	if job == nil {
		return nil, err
	}
	if job.HasOutputs() {
		f.AssetUC.StabilizeJob(ctx, req.PassID, job)
	}
	f.reconcileCredits(req.PassID, job)
	return job, err
}

func (f *StudioFacade) reconcileCredits(passID string, job *model.GenerationJob) {
	switch {
	case job.Credits.Balance != nil:
		if !f.CreditsUC.ApplyDelta(passID, *job.Credits.Balance) {
			f.log.Debug().Str("generation_id", job.ID).Msg("reported balance rejected; refresh scheduled")
		}
	case job.Credits.BalanceMalformed:
		f.CreditsUC.RejectMalformed(passID)
		f.log.Debug().Str("generation_id", job.ID).Msg("reported balance malformed; refresh scheduled")
	case job.Credits.Cost != nil || job.IsTerminal():
		// something was spent but the new balance is unknown.
		f.CreditsUC.Invalidate(passID)
	}
}

// Credits returns the current balance, refreshing when stale.
func (f *StudioFacade) Credits(ctx context.Context) (model.CreditsState, error) {
	return f.CreditsUC.Read(ctx, f.PassID)
}

// Like records a like for a generation. Event delivery is best effort.
func (f *StudioFacade) Like(ctx context.Context, generationID string) error {
	return f.recordEvent(ctx, generationID, model.EventLike, nil)
}

// Feedback records free-text feedback for a generation.
func (f *StudioFacade) Feedback(ctx context.Context, generationID, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.ErrInvalidArgument
	}
	return f.recordEvent(ctx, generationID, model.EventFeedback, map[string]any{"text": text})
}

var errUploadsUnavailable = errors.New("upload usecase not available")

// AddUpload adds a local file to a reference category.
func (f *StudioFacade) AddUpload(ctx context.Context, category model.UploadCategory, name string, data []byte) (model.UploadItem, error) {
	if f.UploadUC == nil {
		return model.UploadItem{}, errUploadsUnavailable
	}
	return f.UploadUC.AddFile(ctx, category, name, data)
}

// AddUploadURL adds a remote reference to a category.
func (f *StudioFacade) AddUploadURL(ctx context.Context, category model.UploadCategory, rawURL string) (model.UploadItem, error) {
	if f.UploadUC == nil {
		return model.UploadItem{}, errUploadsUnavailable
	}
	return f.UploadUC.AddURL(ctx, category, rawURL)
}

func (f *StudioFacade) RemoveUpload(category model.UploadCategory, id string) error {
	if f.UploadUC == nil {
		return errUploadsUnavailable
	}
	return f.UploadUC.Remove(category, id)
}

func (f *StudioFacade) MoveUpload(category model.UploadCategory, from, to int) error {
	if f.UploadUC == nil {
		return errUploadsUnavailable
	}
	return f.UploadUC.Move(category, from, to)
}

func (f *StudioFacade) RetryUpload(ctx context.Context, category model.UploadCategory, id string) error {
	if f.UploadUC == nil {
		return errUploadsUnavailable
	}
	return f.UploadUC.Retry(ctx, category, id)
}

// Uploads lists a category; unknown categories list empty.
func (f *StudioFacade) Uploads(category model.UploadCategory) []model.UploadItem {
	if f.UploadUC == nil {
		return nil
	}
	return f.UploadUC.Items(category)
}

func (f *StudioFacade) recordEvent(ctx context.Context, generationID, eventType string, payload map[string]any) error {
	err := f.GenUC.RecordEvent(ctx, model.GenerationEvent{
		PassID:       f.PassID,
		GenerationID: generationID,
		EventType:    eventType,
		Payload:      payload,
	})
	if err != nil && !errors.Is(err, domain.ErrInvalidArgument) {
		logging.With(ctx, f.log).Warn().Err(err).Str("event", eventType).Msg("record event failed")
		return nil
	}
	return err
}

// Summary renders a one-line, human readable outcome.
func Summary(job *model.GenerationJob) string {
	if job == nil {
		return "no result"
	}
	switch {
	case job.Inconclusive:
		return fmt.Sprintf("generation %s still %s; check again later", job.ID, job.Status)
	case job.Failed():
		msg := job.Status
		if job.Error != nil && job.Error.Message != "" {
			msg = job.Error.Message
		}
		return fmt.Sprintf("generation %s failed: %s", job.ID, msg)
	}
	if out := job.PrimaryOutput(); out != "" {
		return fmt.Sprintf("generation %s %s: %s", job.ID, job.Status, out)
	}
	return fmt.Sprintf("generation %s %s", job.ID, job.Status)
}
