package model

import (
	"net/http"
	"net/url"
	"strings"
)

// RequestKind selects the creation endpoint.
type RequestKind string

const (
	KindStillCreate  RequestKind = "still_create"
	KindVideoAnimate RequestKind = "video_animate"
	KindStillTweak   RequestKind = "still_tweak"
	KindVideoTweak   RequestKind = "video_tweak"
)

// Intent distinguishes a full run from a lightweight suggestion.
type Intent string

const (
	IntentRun     Intent = "run"
	IntentSuggest Intent = "suggest"
)

// History links a job to the caller's session.
type History struct {
	SessionID    string `json:"sessionId,omitempty"`
	SessionTitle string `json:"sessionTitle,omitempty"`
}

// CreateRequest is everything needed to create (or tweak) a generation.
type CreateRequest struct {
	Kind     RequestKind    `json:"kind"`
	ParentID string         `json:"parentId,omitempty"`
	PassID   string         `json:"passId,omitempty"`
	Assets   map[string]any `json:"assets,omitempty"`
	Inputs   map[string]any `json:"inputs,omitempty"`
	Settings map[string]any `json:"settings,omitempty"`
	History  History        `json:"history"`
	Feedback string         `json:"feedback,omitempty"`
}

// Method of every creation endpoint.
const CreateMethod = http.MethodPost

// Endpoint returns the root-relative creation path for the request.
func (r CreateRequest) Endpoint() string {
	switch r.Kind {
	case KindVideoAnimate:
		return "/mma/video/animate"
	case KindStillTweak:
		return "/mma/still/" + url.PathEscape(r.ParentID) + "/tweak"
	case KindVideoTweak:
		return "/mma/video/" + url.PathEscape(r.ParentID) + "/tweak"
	default:
		return "/mma/still/create"
	}
}

// Mode reports whether the request produces a still or a video.
func (r CreateRequest) Mode() Mode {
	switch r.Kind {
	case KindVideoAnimate, KindVideoTweak:
		return ModeVideo
	default:
		return ModeStill
	}
}

// IsTweak reports whether the request refines an existing generation.
func (r CreateRequest) IsTweak() bool {
	return r.Kind == KindStillTweak || r.Kind == KindVideoTweak
}

// Intent infers whether the request is a suggestion-only call.
func (r CreateRequest) Intent() Intent {
	if r.Inputs == nil {
		return IntentRun
	}
	if v, ok := r.Inputs["suggest_only"]; ok {
		switch b := v.(type) {
		case bool:
			if b {
				return IntentSuggest
			}
		case string:
			if strings.EqualFold(strings.TrimSpace(b), "true") {
				return IntentSuggest
			}
		}
	}
	if s, ok := r.Inputs["intent"].(string); ok {
		if strings.EqualFold(strings.TrimSpace(s), string(IntentSuggest)) {
			return IntentSuggest
		}
	}
	return IntentRun
}

// ActionKey identifies one logical user action for deduplication.
type ActionKey string

// NewActionKey derives the key from the creation endpoint and intent.
func NewActionKey(endpoint string, intent Intent) ActionKey {
	if intent == "" {
		intent = IntentRun
	}
	return ActionKey(CreateMethod + " " + endpoint + "#" + string(intent))
}

// ActionKeyFor derives the key of a creation request.
func ActionKeyFor(r CreateRequest) ActionKey {
	return NewActionKey(r.Endpoint(), r.Intent())
}
