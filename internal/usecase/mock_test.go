//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"mina-studio/internal/domain/model"
	"mina-studio/internal/domain/ports/adapter"
)

func newTestLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

func f64(v float64) *float64 { return &v }

// =============================
// Remote API
// =============================

// ---- Mock GenerationAPI / EventsAPI ----

type MockGenerationAPI struct {
	mu sync.Mutex

	CreateFunc func(ctx context.Context, path string, payload map[string]any) (*model.SubmitAck, error)
	GetFunc    func(ctx context.Context, id string) (*model.GenerationJob, error)
	EventFunc  func(ctx context.Context, ev model.GenerationEvent) error

	Creates []createCall
	Gets    int
	Events  []model.GenerationEvent
}

type createCall struct {
	Path    string
	Payload map[string]any
}

var (
	_ adapter.GenerationAPI = (*MockGenerationAPI)(nil)
	_ adapter.EventsAPI     = (*MockGenerationAPI)(nil)
)

func (m *MockGenerationAPI) CreateGeneration(ctx context.Context, path string, payload map[string]any) (*model.SubmitAck, error) {
	m.mu.Lock()
	m.Creates = append(m.Creates, createCall{Path: path, Payload: payload})
	m.mu.Unlock()
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, path, payload)
	}
	return &model.SubmitAck{GenerationID: "gen-1", Status: "queued"}, nil
}

func (m *MockGenerationAPI) GetGeneration(ctx context.Context, id string) (*model.GenerationJob, error) {
	m.mu.Lock()
	m.Gets++
	m.mu.Unlock()
	if m.GetFunc != nil {
		return m.GetFunc(ctx, id)
	}
	return &model.GenerationJob{ID: id, Status: "done"}, nil
}

func (m *MockGenerationAPI) RecordEvent(ctx context.Context, ev model.GenerationEvent) error {
	m.mu.Lock()
	m.Events = append(m.Events, ev)
	m.mu.Unlock()
	if m.EventFunc != nil {
		return m.EventFunc(ctx, ev)
	}
	return nil
}

func (m *MockGenerationAPI) CreateCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Creates)
}

func (m *MockGenerationAPI) GetCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Gets
}

// ---- Mock StorageAPI ----

type MockStorage struct {
	mu sync.Mutex

	SignedFunc      func(ctx context.Context, req model.SignedUploadRequest) (*model.SignedUpload, error)
	PutFunc         func(ctx context.Context, uploadURL, contentType string, data []byte) error
	StoreRemoteFunc func(ctx context.Context, req model.StoreRemoteRequest) (string, error)

	SignedCalls []model.SignedUploadRequest
	Puts        []string
	Stored      []model.StoreRemoteRequest
}

var _ adapter.StorageAPI = (*MockStorage)(nil)

func (m *MockStorage) RequestSignedUpload(ctx context.Context, req model.SignedUploadRequest) (*model.SignedUpload, error) {
	m.mu.Lock()
	m.SignedCalls = append(m.SignedCalls, req)
	m.mu.Unlock()
	if m.SignedFunc != nil {
		return m.SignedFunc(ctx, req)
	}
	return &model.SignedUpload{
		UploadURL: "https://bucket.r2.example/" + req.FileName + "?X-Amz-Signature=abc",
		PublicURL: "https://assets.mina.test/" + req.Folder + "/" + req.FileName,
	}, nil
}

func (m *MockStorage) PutBytes(ctx context.Context, uploadURL, contentType string, data []byte) error {
	m.mu.Lock()
	m.Puts = append(m.Puts, uploadURL)
	m.mu.Unlock()
	if m.PutFunc != nil {
		return m.PutFunc(ctx, uploadURL, contentType, data)
	}
	return nil
}

func (m *MockStorage) StoreRemote(ctx context.Context, req model.StoreRemoteRequest) (string, error) {
	m.mu.Lock()
	m.Stored = append(m.Stored, req)
	m.mu.Unlock()
	if m.StoreRemoteFunc != nil {
		return m.StoreRemoteFunc(ctx, req)
	}
	return "https://assets.mina.test/stored/out.png", nil
}

func (m *MockStorage) StoredCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Stored)
}

// ---- Mock CreditsAPI ----

type MockCreditsAPI struct {
	mu sync.Mutex

	BalanceFunc func(ctx context.Context, passID string) (*model.BalanceReading, error)
	Calls       int
}

var _ adapter.CreditsAPI = (*MockCreditsAPI)(nil)

func (m *MockCreditsAPI) Balance(ctx context.Context, passID string) (*model.BalanceReading, error) {
	m.mu.Lock()
	m.Calls++
	m.mu.Unlock()
	if m.BalanceFunc != nil {
		return m.BalanceFunc(ctx, passID)
	}
	return &model.BalanceReading{Balance: f64(10), Costs: model.CostTable{ImageCost: 1, MotionCost: 5}}, nil
}

func (m *MockCreditsAPI) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls
}

// =============================
// Progress channel
// =============================

// MockSubscription is fed by the test through Push/Fail/End.
type MockSubscription struct {
	frames    chan adapter.ProgressFrame
	closeOnce sync.Once
	endOnce   sync.Once
	mu        sync.Mutex
	err       error
	closed    chan struct{}
}

var _ adapter.Subscription = (*MockSubscription)(nil)

func NewMockSubscription(buffered ...adapter.ProgressFrame) *MockSubscription {
	s := &MockSubscription{
		frames: make(chan adapter.ProgressFrame, len(buffered)+8),
		closed: make(chan struct{}),
	}
	for _, f := range buffered {
		s.frames <- f
	}
	return s
}

func (s *MockSubscription) Frames() <-chan adapter.ProgressFrame { return s.frames }

func (s *MockSubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Push delivers one frame; the subscription must still be open.
func (s *MockSubscription) Push(f adapter.ProgressFrame) {
	s.frames <- f
}

// Fail ends the channel with err.
func (s *MockSubscription) Fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.End()
}

// End closes the frame channel.
func (s *MockSubscription) End() {
	s.endOnce.Do(func() { close(s.frames) })
}

func (s *MockSubscription) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	s.End()
	return nil
}

func (s *MockSubscription) IsClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

type MockProgressSource struct {
	mu sync.Mutex

	SubscribeFunc func(ctx context.Context, url string) (adapter.Subscription, error)
	URLs          []string
}

var _ adapter.ProgressSource = (*MockProgressSource)(nil)

func (m *MockProgressSource) Subscribe(ctx context.Context, url string) (adapter.Subscription, error) {
	m.mu.Lock()
	m.URLs = append(m.URLs, url)
	m.mu.Unlock()
	if m.SubscribeFunc != nil {
		return m.SubscribeFunc(ctx, url)
	}
	return nil, errors.New("no stream configured")
}

// =============================
// Local infrastructure
// =============================

// ---- Mock PreviewStore ----

type MockPreviewStore struct {
	mu       sync.Mutex
	next     int
	Live     map[string][]byte
	Released []string
}

var _ adapter.PreviewStore = (*MockPreviewStore)(nil)

func NewMockPreviewStore() *MockPreviewStore {
	return &MockPreviewStore{Live: make(map[string][]byte)}
}

func (m *MockPreviewStore) Create(name string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	ref := "preview://" + name
	m.Live[ref] = data
	return ref, nil
}

func (m *MockPreviewStore) Open(ref string) (io.ReadCloser, error) {
	return nil, errors.New("not implemented")
}

func (m *MockPreviewStore) Release(ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Live, ref)
	m.Released = append(m.Released, ref)
	return nil
}

func (m *MockPreviewStore) IsLive(ref string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.Live[ref]
	return ok
}

// ---- Inline TaskRunner ----

// goRunner runs every task on its own goroutine.
type goRunner struct{}

func (goRunner) Submit(task adapter.Task) error {
	go func() { _ = task(context.Background()) }()
	return nil
}

// syncRunner runs every task before Submit returns.
type syncRunner struct{}

func (syncRunner) Submit(task adapter.Task) error {
	_ = task(context.Background())
	return nil
}

// ---- Mock ActionFence ----

type MockFence struct {
	mu      sync.Mutex
	holders map[string]string

	ClaimErr error
	Releases int
}

var _ adapter.ActionFence = (*MockFence)(nil)

func NewMockFence() *MockFence { return &MockFence{holders: make(map[string]string)} }

func (m *MockFence) Claim(ctx context.Context, key, token string) (bool, error) {
	if m.ClaimErr != nil {
		return false, m.ClaimErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, held := m.holders[key]; held {
		return false, nil
	}
	m.holders[key] = token
	return true, nil
}

func (m *MockFence) Release(ctx context.Context, key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Releases++
	if m.holders[key] == token {
		delete(m.holders, key)
	}
	return nil
}

// Hold simulates another process owning key.
func (m *MockFence) Hold(key string) {
	m.mu.Lock()
	m.holders[key] = "other-process"
	m.mu.Unlock()
}
