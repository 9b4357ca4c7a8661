// File: internal/usecase/submit_uc.go
package usecase

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"mina-studio/internal/domain"
	"mina-studio/internal/domain/model"
	"mina-studio/internal/domain/ports/adapter"
	"mina-studio/internal/infra/logging"
	"mina-studio/internal/infra/metrics"
)

// Compile-time check
var _ Submitter = (*submitter)(nil)

type Submitter interface {
	// Submit creates the job described by req, stamping token into the
	// payload. The returned ack always carries a generation id and an
	// absolute (or empty) stream URL.
	Submit(ctx context.Context, req model.CreateRequest, token string) (*model.SubmitAck, error)
}

type submitter struct {
	api     adapter.GenerationAPI
	baseURL string
	log     *zerolog.Logger
}

func NewSubmitter(api adapter.GenerationAPI, baseURL string, logger *zerolog.Logger) *submitter {
	return &submitter{api: api, baseURL: baseURL, log: logging.Component(logger, "submitter")}
}

func (s *submitter) Submit(ctx context.Context, req model.CreateRequest, token string) (*model.SubmitAck, error) {
	endpoint := req.Endpoint()
	mode := string(req.Mode())
	if req.IsTweak() && strings.TrimSpace(req.ParentID) == "" {
		return nil, &domain.SubmissionError{Endpoint: endpoint, Message: "tweak requires a parent generation", Err: domain.ErrInvalidArgument}
	}

	ack, err := s.api.CreateGeneration(ctx, endpoint, BuildEnvelope(req, token))
	if err != nil {
		metrics.IncJobSubmitted(mode, "rejected")
		var se *domain.SubmissionError
		if errors.As(err, &se) {
			return nil, err
		}
		return nil, &domain.SubmissionError{Endpoint: endpoint, Err: err}
	}
	if ack == nil || strings.TrimSpace(ack.GenerationID) == "" {
		metrics.IncJobSubmitted(mode, "no_id")
		return nil, &domain.SubmissionError{Endpoint: endpoint, Err: domain.ErrNoGenerationID}
	}

	out := *ack
	out.GenerationID = strings.TrimSpace(ack.GenerationID)
	out.StreamURL = ResolveStreamURL(s.baseURL, ack.StreamURL)
	metrics.IncJobSubmitted(mode, "ok")
	logging.With(ctx, s.log).Info().
		Str("generation_id", out.GenerationID).
		Str("endpoint", endpoint).
		Bool("stream", out.StreamURL != "").
		Msg("generation submitted")
	return &out, nil
}

// BuildEnvelope translates a creation request into the request body. The
// idempotency token goes both top-level and under inputs.
func BuildEnvelope(req model.CreateRequest, token string) map[string]any {
	inputs := make(map[string]any, len(req.Inputs)+3)
	for k, v := range req.Inputs {
		inputs[k] = v
	}
	if token != "" {
		inputs["idempotency_key"] = token
	}
	if fb := strings.TrimSpace(req.Feedback); fb != "" {
		inputs["feedback"] = fb
		if _, ok := inputs["userMessage"]; !ok {
			inputs["userMessage"] = fb
		}
	}

	assets := make(map[string]any, len(req.Assets))
	for k, v := range req.Assets {
		assets[k] = v
	}

	env := map[string]any{
		"passId": req.PassID,
		"assets": assets,
		"inputs": inputs,
	}
	if len(req.Settings) > 0 {
		env["settings"] = req.Settings
	}
	if req.History.SessionID != "" || req.History.SessionTitle != "" {
		env["history"] = map[string]any{
			"sessionId":    req.History.SessionID,
			"sessionTitle": req.History.SessionTitle,
		}
	}
	if fb := strings.TrimSpace(req.Feedback); fb != "" {
		env["feedback"] = fb
	}
	if req.IsTweak() {
		env["parent_generation_id"] = req.ParentID
	}
	if token != "" {
		env["idempotency_key"] = token
	}
	return env
}

// ResolveStreamURL turns a stream descriptor into one absolute URL.
// Absolute URLs are kept, root-relative paths are joined to base, and an
// empty descriptor stays empty.
func ResolveStreamURL(base, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	if u, err := url.Parse(ref); err == nil && u.IsAbs() {
		return ref
	}
	b, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil || !b.IsAbs() {
		return ref
	}
	if strings.HasPrefix(ref, "//") {
		return b.Scheme + ":" + ref
	}
	if strings.HasPrefix(ref, "/") {
		return b.String() + ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	b.Path += "/"
	return b.ResolveReference(r).String()
}
