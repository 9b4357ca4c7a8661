package mma

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"mina-studio/internal/domain/model"
)

// Field precedence lists. The backend has shipped several response shapes;
// each canonical field is read from the first variant that carries a usable
// value.
var (
	envelopeFields = []string{"generation", "job", "data", "result"}

	idFields        = []string{"generation_id", "generationId", "id"}
	jobStatusFields = []string{"status", "mg_status", "mma_status", "state"}
	streamFields    = []string{"sse_url", "sseUrl", "stream_url", "streamUrl", "events_url"}
	promptFields    = []string{"prompt", "mg_prompt", "final_prompt"}

	imageFields = []string{"image", "image_url", "imageUrl", "mg_image_url", "output_url", "outputUrl", "asset_url", "url"}
	videoFields = []string{"video", "video_url", "videoUrl", "mg_video_url", "output_video_url"}

	// Top-level output variants; bare "url" is too generic outside outputs{}.
	topImageFields = []string{"image_url", "imageUrl", "mg_image_url", "output_url", "outputUrl"}
	topVideoFields = []string{"video_url", "videoUrl", "mg_video_url", "output_video_url"}

	errorMessageFields = []string{"message", "error_message", "detail", "reason"}
	errorCodeFields    = []string{"code", "error_code", "type"}

	costFields    = []string{"credits_cost", "creditsCost", "cost"}
	balanceFields = []string{"balance", "credits_balance", "creditsBalance", "remaining"}

	uploadURLFields = []string{"uploadUrl", "signedUrl", "upload_url", "signed_url"}
	publicURLFields = []string{"publicUrl", "public_url", "url", "stableUrl"}
)

// NormalizeJob maps a decoded job record onto the canonical record.
func NormalizeJob(raw map[string]any) *model.GenerationJob {
	rec := unwrap(raw)
	job := &model.GenerationJob{
		ID:      firstString(rec, idFields...),
		Status:  model.NormalizeStatus(firstString(rec, jobStatusFields...)),
		Outputs: map[string]string{},
		Raw:     raw,
	}

	outs, _ := rec["outputs"].(map[string]any)
	if outs == nil {
		outs, _ = rec["output"].(map[string]any)
	}
	if u := firstString(outs, imageFields...); u != "" {
		job.Outputs[model.OutputImage] = u
	} else if u := firstString(rec, topImageFields...); u != "" {
		job.Outputs[model.OutputImage] = u
	}
	if u := firstString(outs, videoFields...); u != "" {
		job.Outputs[model.OutputVideo] = u
	} else if u := firstString(rec, topVideoFields...); u != "" {
		job.Outputs[model.OutputVideo] = u
	}
	if len(job.Outputs) == 0 {
		job.Outputs = nil
	}

	job.Prompt = firstString(outs, promptFields...)
	if job.Prompt == "" {
		job.Prompt = firstString(rec, promptFields...)
	}

	job.Error = normalizeError(rec)
	job.Credits = normalizeCredits(rec)
	return job
}

// NormalizeAck maps a creation response onto the acknowledgment.
func NormalizeAck(raw map[string]any) *model.SubmitAck {
	rec := unwrap(raw)
	ack := &model.SubmitAck{
		GenerationID: firstString(rec, idFields...),
		Status:       model.NormalizeStatus(firstString(rec, jobStatusFields...)),
		StreamURL:    firstString(rec, streamFields...),
	}
	if v, ok := firstNumber(rec, costFields...); ok {
		ack.CreditsCost = &v
	} else if c, _ := rec["credits"].(map[string]any); c != nil {
		if v, ok := firstNumber(c, "cost", "credits_cost"); ok {
			ack.CreditsCost = &v
		}
	}
	return ack
}

// NormalizeBalance maps a balance response. Balance stays nil when the
// response carries no number; callers treat that as malformed.
func NormalizeBalance(raw map[string]any) *model.BalanceReading {
	rec := unwrap(raw)
	out := &model.BalanceReading{}
	if v, ok := firstNumber(rec, balanceFields...); ok {
		out.Balance = &v
	} else if c, _ := rec["credits"].(map[string]any); c != nil {
		if v, ok := firstNumber(c, balanceFields...); ok {
			out.Balance = &v
		}
	} else if v, ok := firstNumber(rec, "credits"); ok {
		out.Balance = &v
	}

	meta, _ := rec["meta"].(map[string]any)
	if meta == nil {
		meta = rec
	}
	if v, ok := firstNumber(meta, "imageCost", "image_cost"); ok {
		out.Costs.ImageCost = v
	}
	if v, ok := firstNumber(meta, "motionCost", "motion_cost", "videoCost"); ok {
		out.Costs.MotionCost = v
	}
	if s := firstString(meta, "expiresAt", "expires_at"); s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			out.Costs.ExpiresAt = &t
		}
	}
	return out
}

// NormalizeSignedUpload reads the signed-upload answer.
func NormalizeSignedUpload(raw map[string]any) *model.SignedUpload {
	rec := unwrap(raw)
	return &model.SignedUpload{
		UploadURL: firstString(rec, uploadURLFields...),
		PublicURL: firstString(rec, publicURLFields...),
	}
}

// NormalizePublicURL reads the republished URL from a store-remote answer.
func NormalizePublicURL(raw map[string]any) string {
	return firstString(unwrap(raw), publicURLFields...)
}

func normalizeError(rec map[string]any) *model.JobError {
	var e model.JobError
	switch v := rec["error"].(type) {
	case string:
		e.Message = strings.TrimSpace(v)
	case map[string]any:
		e.Message = firstString(v, errorMessageFields...)
		e.Code = firstString(v, errorCodeFields...)
	}
	if e.Message == "" {
		e.Message = firstString(rec, "error_message", "errorMessage")
	}
	if e.Code == "" {
		e.Code = firstString(rec, "error_code", "errorCode")
	}
	if e.Message == "" && e.Code == "" {
		return nil
	}
	return &e
}

func normalizeCredits(rec map[string]any) model.JobCredits {
	var out model.JobCredits
	if c, _ := rec["credits"].(map[string]any); c != nil {
		if v, ok := firstNumber(c, "cost", "credits_cost", "spent"); ok {
			out.Cost = &v
		}
		if v, ok := firstNumber(c, balanceFields...); ok {
			out.Balance = &v
		}
	}
	if out.Cost == nil {
		if v, ok := firstNumber(rec, "credits_cost", "creditsCost"); ok {
			out.Cost = &v
		}
	}
	if out.Balance == nil {
		if v, ok := firstNumber(rec, "credits_balance", "creditsBalance"); ok {
			out.Balance = &v
		}
	}
	if out.Balance == nil {
		c, _ := rec["credits"].(map[string]any)
		out.BalanceMalformed = present(c, balanceFields...) || present(rec, "credits_balance", "creditsBalance")
	}
	return out
}

// present reports whether any of keys holds a non-null value.
func present(rec map[string]any, keys ...string) bool {
	for _, k := range keys {
		if v, ok := rec[k]; ok && v != nil {
			return true
		}
	}
	return false
}

func unwrap(raw map[string]any) map[string]any {
	if raw == nil {
		return map[string]any{}
	}
	// an envelope wins only when the top level has no identity of its own.
	if firstString(raw, idFields...) != "" {
		return raw
	}
	for _, k := range envelopeFields {
		if inner, ok := raw[k].(map[string]any); ok {
			return inner
		}
	}
	return raw
}

func firstString(rec map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := rec[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case json.Number:
			return v.String()
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

// firstNumber accepts JSON numbers and numeric strings.
func firstNumber(rec map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		var (
			f   float64
			err error
		)
		switch v := rec[k].(type) {
		case float64:
			f = v
		case json.Number:
			f, err = v.Float64()
		case string:
			f, err = strconv.ParseFloat(strings.TrimSpace(v), 64)
		default:
			continue
		}
		if err != nil || math.IsNaN(f) {
			continue
		}
		return f, true
	}
	return 0, false
}
