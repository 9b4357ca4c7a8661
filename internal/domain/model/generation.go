package model

import (
	"sort"
	"strings"
)

type Mode string

const (
	ModeStill Mode = "still"
	ModeVideo Mode = "video"
)

// Well-known progress labels. Intermediate labels are display-only and are
// never validated as state transitions.
const (
	StatusQueued     = "queued"
	StatusScanning   = "scanning"
	StatusPrompting  = "prompting"
	StatusGenerating = "generating"
	StatusPostscan   = "postscan"
	StatusDone       = "done"
)

var terminalStatuses = map[string]bool{
	"done":      true,
	"error":     true,
	"failed":    true,
	"succeeded": true,
	"success":   true,
	"completed": true,
	"cancelled": true,
	"canceled":  true,
	"suggested": true,
}

var failureStatuses = map[string]bool{
	"error":     true,
	"failed":    true,
	"cancelled": true,
	"canceled":  true,
}

// NormalizeStatus lower-cases and trims a status label.
func NormalizeStatus(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// IsTerminalStatus reports whether s belongs to the closed terminal vocabulary.
func IsTerminalStatus(s string) bool {
	return terminalStatuses[NormalizeStatus(s)]
}

// IsFailureStatus reports whether s is a terminal failure.
func IsFailureStatus(s string) bool {
	return failureStatuses[NormalizeStatus(s)]
}

// TerminalStatuses returns the terminal vocabulary in a stable order.
func TerminalStatuses() []string {
	out := make([]string, 0, len(terminalStatuses))
	for s := range terminalStatuses {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// JobError is the error payload reported by the backend.
type JobError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// JobCredits carries whatever the backend reported about billing for the job.
// Nil fields were absent from the record.
type JobCredits struct {
	Cost    *float64 `json:"cost,omitempty"`
	Balance *float64 `json:"balance,omitempty"`
	// BalanceMalformed is set when the record carried a balance that could
	// not be read as a number.
	BalanceMalformed bool `json:"-"`
}

// GenerationJob is the canonical form of a remote job record. It is created
// from the submission acknowledgment, refreshed by stream and poll updates,
// and handed to the caller once terminal (or inconclusive).
type GenerationJob struct {
	ID      string            `json:"id"`
	Status  string            `json:"status"`
	Mode    Mode              `json:"mode,omitempty"`
	Outputs map[string]string `json:"outputs,omitempty"`
	Prompt  string            `json:"prompt,omitempty"`
	Error   *JobError         `json:"error,omitempty"`
	Credits JobCredits        `json:"credits"`

	// Inconclusive is set when the poll deadline elapsed before the record
	// reached a terminal state.
	Inconclusive bool `json:"inconclusive,omitempty"`

	// Raw is the last decoded record as received.
	Raw map[string]any `json:"-"`
}

// Output names used by the normalizer.
const (
	OutputImage = "image"
	OutputVideo = "video"
)

// HasOutputs reports whether any recognized output URL is present.
func (j *GenerationJob) HasOutputs() bool {
	if j == nil {
		return false
	}
	for _, u := range j.Outputs {
		if strings.TrimSpace(u) != "" {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the job will not change further. Outputs can be
// populated before the status flips, so a record exposing any output is
// terminal regardless of status.
func (j *GenerationJob) IsTerminal() bool {
	if j == nil {
		return false
	}
	return IsTerminalStatus(j.Status) || j.HasOutputs()
}

// Failed reports whether the job ended with a failure status.
func (j *GenerationJob) Failed() bool {
	return j != nil && IsFailureStatus(j.Status)
}

// PrimaryOutput returns the main output URL: video for video jobs, image
// otherwise, falling back to the first named output.
func (j *GenerationJob) PrimaryOutput() string {
	if j == nil || len(j.Outputs) == 0 {
		return ""
	}
	order := []string{OutputImage, OutputVideo}
	if j.Mode == ModeVideo {
		order = []string{OutputVideo, OutputImage}
	}
	for _, name := range order {
		if u := j.Outputs[name]; u != "" {
			return u
		}
	}
	names := make([]string, 0, len(j.Outputs))
	for name := range j.Outputs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if u := j.Outputs[name]; u != "" {
			return u
		}
	}
	return ""
}

// SubmitAck is the normalized job-creation acknowledgment.
type SubmitAck struct {
	GenerationID string   `json:"generation_id"`
	Status       string   `json:"status,omitempty"`
	StreamURL    string   `json:"sse_url,omitempty"`
	CreditsCost  *float64 `json:"credits_cost,omitempty"`
}

// ProgressEvent is one normalized progress snapshot forwarded to callers.
type ProgressEvent struct {
	Status    string   `json:"status"`
	ScanLines []string `json:"scanLines"`
}
