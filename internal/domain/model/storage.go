package model

// SignedUploadRequest asks the backend for a one-shot upload URL.
type SignedUploadRequest struct {
	ContentType string `json:"contentType"`
	FileName    string `json:"fileName"`
	Folder      string `json:"folder"`
	Kind        string `json:"kind"`
	PassID      string `json:"passId"`
}

// SignedUpload is the backend answer: where to PUT the bytes and where the
// object will be publicly readable afterwards.
type SignedUpload struct {
	UploadURL string
	PublicURL string
}

// StoreRemoteRequest asks the backend to fetch a remote URL and republish it
// under the own asset host.
type StoreRemoteRequest struct {
	SourceURL string `json:"sourceUrl"`
	Folder    string `json:"folder"`
	Kind      string `json:"kind"`
	PassID    string `json:"passId"`
}

// Event types accepted by the events endpoint.
const (
	EventLike     = "like"
	EventFeedback = "feedback"
)

// GenerationEvent is a like/feedback signal attached to a generation.
type GenerationEvent struct {
	PassID       string         `json:"passId"`
	GenerationID string         `json:"generation_id"`
	EventType    string         `json:"event_type"`
	Payload      map[string]any `json:"payload,omitempty"`
}
