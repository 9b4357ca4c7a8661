// File: internal/usecase/upload_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"mina-studio/internal/domain"
	"mina-studio/internal/domain/model"
	"mina-studio/internal/domain/ports/adapter"
	"mina-studio/internal/infra/logging"
	"mina-studio/internal/infra/metrics"
)

// Compile-time check
var _ UploadPipeline = (*uploadPipeline)(nil)

// UploadFile is one local file handed to AddFiles.
type UploadFile struct {
	Name string
	Data []byte
}

type UploadPipeline interface {
	AddFile(ctx context.Context, category model.UploadCategory, fileName string, data []byte) (model.UploadItem, error)
	AddFiles(ctx context.Context, category model.UploadCategory, files []UploadFile) ([]model.UploadItem, error)
	AddURL(ctx context.Context, category model.UploadCategory, rawURL string) (model.UploadItem, error)
	Remove(category model.UploadCategory, id string) error
	// Move reorders a category locally; no network I/O.
	Move(category model.UploadCategory, from, to int) error
	Retry(ctx context.Context, category model.UploadCategory, id string) error
	Items(category model.UploadCategory) []model.UploadItem
	// Wait blocks until no upload is in flight.
	Wait(ctx context.Context) error
	// Assets maps ready durable references onto job input assets.
	Assets() map[string]any
}

type uploadPipeline struct {
	storage    adapter.StorageAPI
	stabilizer AssetStabilizer
	previews   adapter.PreviewStore
	runner     adapter.TaskRunner
	passID     string
	folder     string
	maxBytes   int64
	specs      map[model.UploadCategory]model.CategorySpec
	newID      func() string
	log        *zerolog.Logger

	mu       sync.Mutex
	items    map[model.UploadCategory][]*model.UploadItem
	payloads map[string][]byte // local bytes kept for retry until uploaded

	inflight sync.WaitGroup
}

type UploadPipelineOptions struct {
	PassID   string
	Folder   string
	MaxBytes int64
	Specs    map[model.UploadCategory]model.CategorySpec
}

// DefaultCategorySpecs are product 1 replace, logo 1 replace, inspiration 4 append.
func DefaultCategorySpecs() map[model.UploadCategory]model.CategorySpec {
	return map[model.UploadCategory]model.CategorySpec{
		model.CategoryProduct:     {Max: 1, Policy: model.PolicyReplace},
		model.CategoryLogo:        {Max: 1, Policy: model.PolicyReplace},
		model.CategoryInspiration: {Max: 4, Policy: model.PolicyAppend},
	}
}

func NewUploadPipeline(
	storage adapter.StorageAPI,
	stabilizer AssetStabilizer,
	previews adapter.PreviewStore,
	runner adapter.TaskRunner,
	opts UploadPipelineOptions,
	logger *zerolog.Logger,
) *uploadPipeline {
	specs := opts.Specs
	if len(specs) == 0 {
		specs = DefaultCategorySpecs()
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 25 << 20
	}
	return &uploadPipeline{
		storage:    storage,
		stabilizer: stabilizer,
		previews:   previews,
		runner:     runner,
		passID:     opts.PassID,
		folder:     opts.Folder,
		maxBytes:   opts.MaxBytes,
		specs:      specs,
		newID:      func() string { return ulid.Make().String() },
		log:        logging.Component(logger, "uploads"),
		items:      make(map[model.UploadCategory][]*model.UploadItem),
		payloads:   make(map[string][]byte),
	}
}

func (p *uploadPipeline) AddFile(ctx context.Context, category model.UploadCategory, fileName string, data []byte) (model.UploadItem, error) {
	if _, ok := p.specs[category]; !ok {
		return model.UploadItem{}, domain.ErrUnknownCategory
	}
	if len(data) == 0 {
		return model.UploadItem{}, fmt.Errorf("empty file: %w", domain.ErrInvalidArgument)
	}
	if int64(len(data)) > p.maxBytes {
		return model.UploadItem{}, domain.ErrUploadTooLarge
	}
	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") && !strings.HasPrefix(mt.String(), "video/") {
		return model.UploadItem{}, fmt.Errorf("unsupported content type %s: %w", mt.String(), domain.ErrInvalidArgument)
	}

	id := p.newID()
	name := strings.TrimSpace(filepath.Base(fileName))
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = id + mt.Extension()
	}
	ref, err := p.previews.Create(id+mt.Extension(), data)
	if err != nil {
		return model.UploadItem{}, fmt.Errorf("create preview: %w", err)
	}

	item := &model.UploadItem{
		ID:          id,
		Category:    category,
		Origin:      model.OriginLocalFile,
		FileName:    name,
		ContentType: mt.String(),
		PreviewRef:  ref,
		Uploading:   true,
	}
	snap, err := p.insert(item, data)
	if err != nil {
		_ = p.previews.Release(ref)
		return model.UploadItem{}, err
	}
	metrics.ObserveUploadBytes(len(data))
	p.dispatch(ctx, category, id)
	return snap, nil
}

func (p *uploadPipeline) AddFiles(ctx context.Context, category model.UploadCategory, files []UploadFile) ([]model.UploadItem, error) {
	out := make([]model.UploadItem, len(files))
	g, gctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(func() error {
			it, err := p.AddFile(gctx, category, f.Name, f.Data)
			if err != nil {
				return fmt.Errorf("%s: %w", f.Name, err)
			}
			out[i] = it
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *uploadPipeline) AddURL(ctx context.Context, category model.UploadCategory, rawURL string) (model.UploadItem, error) {
	if _, ok := p.specs[category]; !ok {
		return model.UploadItem{}, domain.ErrUnknownCategory
	}
	rawURL = strings.TrimSpace(rawURL)
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return model.UploadItem{}, fmt.Errorf("not an http(s) url: %w", domain.ErrInvalidArgument)
	}
	item := &model.UploadItem{
		ID:         p.newID(),
		Category:   category,
		Origin:     model.OriginRemoteURL,
		FileName:   filepath.Base(u.Path),
		PreviewRef: rawURL,
		Uploading:  true,
	}
	snap, err := p.insert(item, nil)
	if err != nil {
		return model.UploadItem{}, err
	}
	p.dispatch(ctx, category, snap.ID)
	return snap, nil
}

// insert applies the category policy and records item. The returned copy is
// taken under the lock; item itself belongs to the workers once inserted.
func (p *uploadPipeline) insert(item *model.UploadItem, data []byte) (model.UploadItem, error) {
	spec := p.specs[item.Category]
	var evicted []*model.UploadItem

	p.mu.Lock()
	cur := p.items[item.Category]
	switch {
	case spec.Policy == model.PolicyReplace && len(cur) >= spec.Max:
		// drop the oldest items so the new one fits
		n := len(cur) - spec.Max + 1
		evicted = append(evicted, cur[:n]...)
		cur = append([]*model.UploadItem(nil), cur[n:]...)
	case len(cur) >= spec.Max:
		p.mu.Unlock()
		return model.UploadItem{}, domain.ErrCategoryFull
	}
	p.items[item.Category] = append(cur, item)
	if data != nil {
		p.payloads[item.ID] = data
	}
	for _, old := range evicted {
		delete(p.payloads, old.ID)
	}
	snap := *item
	p.mu.Unlock()

	for _, old := range evicted {
		p.releasePreview(old)
	}
	return snap, nil
}

func (p *uploadPipeline) dispatch(ctx context.Context, category model.UploadCategory, id string) {
	p.inflight.Add(1)
	task := func(tctx context.Context) error {
		defer p.inflight.Done()
		return p.process(tctx, category, id)
	}
	if p.runner != nil {
		if err := p.runner.Submit(task); err == nil {
			return
		}
		p.log.Debug().Str("item", id).Msg("worker queue full; uploading inline")
	}
	go func() { _ = task(context.WithoutCancel(ctx)) }()
}

func (p *uploadPipeline) process(ctx context.Context, category model.UploadCategory, id string) error {
	item, data, ok := p.snapshot(category, id)
	if !ok {
		return nil // removed while queued
	}

	var (
		durable string
		err     error
	)
	if item.Origin == model.OriginRemoteURL {
		durable = p.stabilizer.EnsureStable(ctx, p.passID, item.PreviewRef, string(category))
	} else {
		durable, err = p.uploadBytes(ctx, item, data)
	}
	p.finish(category, id, durable, err)
	if err != nil {
		metrics.IncUpload(string(category), "failed")
		p.log.Warn().Err(err).Str("item", id).Str("category", string(category)).Msg("upload failed")
		return nil
	}
	metrics.IncUpload(string(category), "ok")
	return nil
}

func (p *uploadPipeline) uploadBytes(ctx context.Context, item model.UploadItem, data []byte) (string, error) {
	if p.storage == nil {
		return "", domain.ErrStorageNotConfigured
	}
	signed, err := p.storage.RequestSignedUpload(ctx, model.SignedUploadRequest{
		ContentType: item.ContentType,
		FileName:    item.FileName,
		Folder:      p.folder,
		Kind:        string(item.Category),
		PassID:      p.passID,
	})
	if err != nil {
		return "", fmt.Errorf("request signed upload: %w", err)
	}
	if signed == nil || signed.UploadURL == "" || signed.PublicURL == "" {
		return "", errors.New("signed upload response incomplete")
	}
	if err := p.storage.PutBytes(ctx, signed.UploadURL, item.ContentType, data); err != nil {
		return "", fmt.Errorf("put bytes: %w", err)
	}
	return StripSignedQuery(signed.PublicURL), nil
}

func (p *uploadPipeline) snapshot(category model.UploadCategory, id string) (model.UploadItem, []byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, it := range p.items[category] {
		if it.ID == id {
			return *it, p.payloads[id], true
		}
	}
	return model.UploadItem{}, nil, false
}

func (p *uploadPipeline) finish(category model.UploadCategory, id, durable string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, it := range p.items[category] {
		if it.ID != id {
			continue
		}
		it.Uploading = false
		if err != nil {
			it.Err = err.Error()
			return
		}
		it.Err = ""
		it.DurableURL = durable
		delete(p.payloads, id)
		return
	}
}

func (p *uploadPipeline) Remove(category model.UploadCategory, id string) error {
	p.mu.Lock()
	cur := p.items[category]
	idx := indexOf(cur, id)
	if idx < 0 {
		p.mu.Unlock()
		return domain.ErrNotFound
	}
	removed := cur[idx]
	p.items[category] = append(cur[:idx:idx], cur[idx+1:]...)
	delete(p.payloads, id)
	p.mu.Unlock()

	p.releasePreview(removed)
	return nil
}

func (p *uploadPipeline) Move(category model.UploadCategory, from, to int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	cur := p.items[category]
	if from < 0 || from >= len(cur) || to < 0 || to >= len(cur) {
		return domain.ErrInvalidArgument
	}
	if from == to {
		return nil
	}
	it := cur[from]
	next := append(cur[:from:from], cur[from+1:]...)
	next = append(next[:to], append([]*model.UploadItem{it}, next[to:]...)...)
	p.items[category] = next
	return nil
}

func (p *uploadPipeline) Retry(ctx context.Context, category model.UploadCategory, id string) error {
	p.mu.Lock()
	cur := p.items[category]
	idx := indexOf(cur, id)
	if idx < 0 {
		p.mu.Unlock()
		return domain.ErrNotFound
	}
	it := cur[idx]
	_, hasBytes := p.payloads[id]
	if it.Uploading || it.Err == "" || (it.Origin == model.OriginLocalFile && !hasBytes) {
		p.mu.Unlock()
		return domain.ErrUploadNotRetryable
	}
	it.Err = ""
	it.Uploading = true
	p.mu.Unlock()

	p.dispatch(ctx, category, id)
	return nil
}

func (p *uploadPipeline) Items(category model.UploadCategory) []model.UploadItem {
	p.mu.Lock()
	defer p.mu.Unlock()
	cur := p.items[category]
	out := make([]model.UploadItem, len(cur))
	for i, it := range cur {
		out[i] = *it
	}
	return out
}

func (p *uploadPipeline) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *uploadPipeline) Assets() map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := map[string]any{}
	if u := firstReady(p.items[model.CategoryProduct]); u != "" {
		out["product_image_url"] = u
	}
	if u := firstReady(p.items[model.CategoryLogo]); u != "" {
		out["logo_image_url"] = u
	}
	var insp []string
	for _, it := range p.items[model.CategoryInspiration] {
		if it.Ready() {
			insp = append(insp, it.DurableURL)
		}
	}
	if len(insp) > 0 {
		out["inspiration_image_urls"] = insp
	}
	return out
}

func (p *uploadPipeline) releasePreview(it *model.UploadItem) {
	if it.Origin != model.OriginLocalFile || it.PreviewRef == "" {
		return
	}
	if err := p.previews.Release(it.PreviewRef); err != nil {
		p.log.Warn().Err(err).Str("item", it.ID).Msg("release preview failed")
	}
}

func indexOf(items []*model.UploadItem, id string) int {
	for i, it := range items {
		if it.ID == id {
			return i
		}
	}
	return -1
}

func firstReady(items []*model.UploadItem) string {
	for _, it := range items {
		if it.Ready() {
			return it.DurableURL
		}
	}
	return ""
}
