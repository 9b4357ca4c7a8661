package adapter

import (
	"context"

	"mina-studio/internal/domain/model"
)

// GenerationAPI is the port for job creation and job records.
type GenerationAPI interface {
	// CreateGeneration posts payload to the root-relative creation path.
	// Rejections come back as *domain.SubmissionError.
	CreateGeneration(ctx context.Context, path string, payload map[string]any) (*model.SubmitAck, error)

	// GetGeneration fetches and normalizes the authoritative job record.
	GetGeneration(ctx context.Context, id string) (*model.GenerationJob, error)
}

// EventsAPI records like/feedback events.
type EventsAPI interface {
	RecordEvent(ctx context.Context, ev model.GenerationEvent) error
}

// StorageAPI is the port for uploads and remote republishing.
type StorageAPI interface {
	RequestSignedUpload(ctx context.Context, req model.SignedUploadRequest) (*model.SignedUpload, error)
	PutBytes(ctx context.Context, uploadURL, contentType string, data []byte) error
	// StoreRemote returns the republished public URL.
	StoreRemote(ctx context.Context, req model.StoreRemoteRequest) (string, error)
}

// CreditsAPI reads the account balance.
type CreditsAPI interface {
	Balance(ctx context.Context, passID string) (*model.BalanceReading, error)
}
