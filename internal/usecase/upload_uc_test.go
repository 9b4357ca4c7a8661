//go:build !integration

package usecase_test

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"mina-studio/internal/domain"
	"mina-studio/internal/domain/model"
	"mina-studio/internal/domain/ports/adapter"
	"mina-studio/internal/infra/worker"
	"mina-studio/internal/usecase"
)

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\x0dIHDR"), bytes.Repeat([]byte{0}, 32)...)

type uploadDeps struct {
	storage  *MockStorage
	previews *MockPreviewStore
	pipeline usecase.UploadPipeline
}

func newUploadDeps(storage *MockStorage, runner adapter.TaskRunner) *uploadDeps {
	if storage == nil {
		storage = &MockStorage{}
	}
	previews := NewMockPreviewStore()
	log := newTestLogger()
	stab := usecase.NewAssetStabilizer(storage, "assets.mina.test", "user_uploads", log)
	p := usecase.NewUploadPipeline(storage, stab, previews, runner, usecase.UploadPipelineOptions{
		PassID:   "pass_1",
		Folder:   "user_uploads",
		MaxBytes: 1 << 20,
	}, log)
	return &uploadDeps{storage: storage, previews: previews, pipeline: p}
}

func waitUploads(t *testing.T, p usecase.UploadPipeline) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.Wait(ctx); err != nil {
		t.Fatalf("uploads did not settle: %v", err)
	}
}

func TestUploadPipeline_AddFile(t *testing.T) {
	ctx := context.Background()

	t.Run("should upload and expose a durable reference", func(t *testing.T) {
		// --- Arrange ---
		deps := newUploadDeps(nil, goRunner{})

		// --- Act ---
		item, err := deps.pipeline.AddFile(ctx, model.CategoryProduct, "bottle.png", pngBytes)
		waitUploads(t, deps.pipeline)

		// --- Assert ---
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if !item.Uploading || item.ContentType != "image/png" || item.Origin != model.OriginLocalFile {
			t.Errorf("unexpected initial item %+v", item)
		}
		items := deps.pipeline.Items(model.CategoryProduct)
		if len(items) != 1 || !items[0].Ready() {
			t.Fatalf("expected one ready item, got %+v", items)
		}
		if items[0].DurableURL != "https://assets.mina.test/user_uploads/bottle.png" {
			t.Errorf("unexpected durable url %q", items[0].DurableURL)
		}
		req := deps.storage.SignedCalls[0]
		if req.Kind != "product" || req.PassID != "pass_1" || req.ContentType != "image/png" {
			t.Errorf("unexpected signed upload request %+v", req)
		}
		if got := deps.pipeline.Assets(); got["product_image_url"] != items[0].DurableURL {
			t.Errorf("unexpected assets %v", got)
		}
	})

	t.Run("should return the item as inserted even when the upload finishes first", func(t *testing.T) {
		// --- Arrange ---
		deps := newUploadDeps(nil, syncRunner{})

		// --- Act ---
		file, err := deps.pipeline.AddFile(ctx, model.CategoryProduct, "a.png", pngBytes)
		remote, rerr := deps.pipeline.AddURL(ctx, model.CategoryInspiration, "https://pinterest.test/p.jpg")

		// --- Assert ---
		if err != nil || rerr != nil {
			t.Fatalf("unexpected errors %v / %v", err, rerr)
		}
		for _, it := range []model.UploadItem{file, remote} {
			if !it.Uploading || it.DurableURL != "" {
				t.Errorf("expected the inserted snapshot, got %+v", it)
			}
		}
		if got := deps.pipeline.Items(model.CategoryProduct)[0]; !got.Ready() {
			t.Errorf("expected the stored item to be ready, got %+v", got)
		}
	})

	t.Run("should keep returned items stable while workers finish concurrently", func(t *testing.T) {
		deps := newUploadDeps(nil, goRunner{})
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				it, err := deps.pipeline.AddFile(ctx, model.CategoryProduct, "a.png", pngBytes)
				if err != nil || it.ID == "" || !it.Uploading {
					t.Errorf("unexpected add result %+v err=%v", it, err)
				}
			}()
		}
		wg.Wait()
		waitUploads(t, deps.pipeline)

		if items := deps.pipeline.Items(model.CategoryProduct); len(items) != 1 {
			t.Errorf("expected replace policy to keep one item, got %d", len(items))
		}
	})

	t.Run("should replace the single item and release its preview", func(t *testing.T) {
		// --- Arrange ---
		deps := newUploadDeps(nil, goRunner{})
		old, err := deps.pipeline.AddFile(ctx, model.CategoryLogo, "old.png", pngBytes)
		if err != nil {
			t.Fatalf("setup failed: %v", err)
		}
		waitUploads(t, deps.pipeline)

		// --- Act ---
		fresh, err := deps.pipeline.AddFile(ctx, model.CategoryLogo, "new.png", pngBytes)
		waitUploads(t, deps.pipeline)

		// --- Assert ---
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		items := deps.pipeline.Items(model.CategoryLogo)
		if len(items) != 1 || items[0].ID != fresh.ID {
			t.Fatalf("expected only the new item, got %+v", items)
		}
		if deps.previews.IsLive(old.PreviewRef) {
			t.Error("expected old preview to be released")
		}
		if !deps.previews.IsLive(fresh.PreviewRef) {
			t.Error("expected new preview to be live")
		}
	})

	t.Run("should refuse to overfill an append category", func(t *testing.T) {
		deps := newUploadDeps(nil, goRunner{})
		for i := 0; i < 4; i++ {
			if _, err := deps.pipeline.AddFile(ctx, model.CategoryInspiration, "", pngBytes); err != nil {
				t.Fatalf("add %d failed: %v", i, err)
			}
		}
		_, err := deps.pipeline.AddFile(ctx, model.CategoryInspiration, "", pngBytes)
		waitUploads(t, deps.pipeline)

		if !errors.Is(err, domain.ErrCategoryFull) {
			t.Fatalf("expected ErrCategoryFull, got %v", err)
		}
		if len(deps.previews.Live) != 4 {
			t.Errorf("expected the rejected preview to be released, live=%d", len(deps.previews.Live))
		}
		urls, _ := deps.pipeline.Assets()["inspiration_image_urls"].([]string)
		if len(urls) != 4 {
			t.Errorf("expected four inspiration urls, got %v", urls)
		}
	})

	t.Run("should isolate a failed upload and keep its preview", func(t *testing.T) {
		storage := &MockStorage{PutFunc: func(ctx context.Context, uploadURL, contentType string, data []byte) error {
			return errors.New("403 from bucket")
		}}
		deps := newUploadDeps(storage, goRunner{})

		item, _ := deps.pipeline.AddFile(ctx, model.CategoryProduct, "a.png", pngBytes)
		waitUploads(t, deps.pipeline)

		got := deps.pipeline.Items(model.CategoryProduct)[0]
		if got.Err == "" || got.Uploading || got.DurableURL != "" {
			t.Errorf("expected failed item, got %+v", got)
		}
		if !deps.previews.IsLive(item.PreviewRef) {
			t.Error("expected preview to be retained")
		}
		if len(deps.pipeline.Assets()) != 0 {
			t.Error("expected failed item to be left out of assets")
		}
	})

	t.Run("should reject unknown categories, empty and oversize files", func(t *testing.T) {
		deps := newUploadDeps(nil, goRunner{})
		if _, err := deps.pipeline.AddFile(ctx, "banner", "a.png", pngBytes); !errors.Is(err, domain.ErrUnknownCategory) {
			t.Errorf("expected ErrUnknownCategory, got %v", err)
		}
		if _, err := deps.pipeline.AddFile(ctx, model.CategoryLogo, "a.png", nil); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
		big := append(append([]byte{}, pngBytes...), make([]byte, 1<<20)...)
		if _, err := deps.pipeline.AddFile(ctx, model.CategoryLogo, "a.png", big); !errors.Is(err, domain.ErrUploadTooLarge) {
			t.Errorf("expected ErrUploadTooLarge, got %v", err)
		}
		if _, err := deps.pipeline.AddFile(ctx, model.CategoryLogo, "a.txt", []byte("plain text")); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("expected non-image to be rejected, got %v", err)
		}
	})
}

func TestUploadPipeline_RemoveMoveRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("should release the preview on removal", func(t *testing.T) {
		deps := newUploadDeps(nil, goRunner{})
		item, _ := deps.pipeline.AddFile(ctx, model.CategoryInspiration, "a.png", pngBytes)
		waitUploads(t, deps.pipeline)

		if err := deps.pipeline.Remove(model.CategoryInspiration, item.ID); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if deps.previews.IsLive(item.PreviewRef) || len(deps.pipeline.Items(model.CategoryInspiration)) != 0 {
			t.Error("expected item and preview to be gone")
		}
		if err := deps.pipeline.Remove(model.CategoryInspiration, item.ID); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("should reorder locally", func(t *testing.T) {
		deps := newUploadDeps(nil, goRunner{})
		var ids []string
		for _, n := range []string{"a.png", "b.png", "c.png"} {
			it, _ := deps.pipeline.AddFile(ctx, model.CategoryInspiration, n, pngBytes)
			ids = append(ids, it.ID)
		}
		waitUploads(t, deps.pipeline)
		signed := len(deps.storage.SignedCalls)

		if err := deps.pipeline.Move(model.CategoryInspiration, 0, 2); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		var got []string
		for _, it := range deps.pipeline.Items(model.CategoryInspiration) {
			got = append(got, it.ID)
		}
		if want := []string{ids[1], ids[2], ids[0]}; !reflect.DeepEqual(got, want) {
			t.Errorf("expected %v, got %v", want, got)
		}
		if len(deps.storage.SignedCalls) != signed {
			t.Error("expected no network calls for a reorder")
		}
		if err := deps.pipeline.Move(model.CategoryInspiration, 0, 5); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})

	t.Run("should retry a failed upload", func(t *testing.T) {
		fail := true
		storage := &MockStorage{PutFunc: func(ctx context.Context, uploadURL, contentType string, data []byte) error {
			if fail {
				return errors.New("timeout")
			}
			return nil
		}}
		deps := newUploadDeps(storage, goRunner{})
		item, _ := deps.pipeline.AddFile(ctx, model.CategoryProduct, "a.png", pngBytes)
		waitUploads(t, deps.pipeline)

		fail = false
		if err := deps.pipeline.Retry(ctx, model.CategoryProduct, item.ID); err != nil {
			t.Fatalf("expected retry to start, got %v", err)
		}
		waitUploads(t, deps.pipeline)

		got := deps.pipeline.Items(model.CategoryProduct)[0]
		if !got.Ready() {
			t.Errorf("expected item ready after retry, got %+v", got)
		}
		if err := deps.pipeline.Retry(ctx, model.CategoryProduct, item.ID); !errors.Is(err, domain.ErrUploadNotRetryable) {
			t.Errorf("expected ErrUploadNotRetryable for a ready item, got %v", err)
		}
	})
}

func TestUploadPipeline_AddURL(t *testing.T) {
	ctx := context.Background()

	t.Run("should stabilize a remote reference in the background", func(t *testing.T) {
		deps := newUploadDeps(nil, goRunner{})

		item, err := deps.pipeline.AddURL(ctx, model.CategoryInspiration, "https://pinterest.test/p.jpg?Expires=1&Signature=2")
		waitUploads(t, deps.pipeline)

		if err != nil || item.Origin != model.OriginRemoteURL {
			t.Fatalf("unexpected add result %+v err=%v", item, err)
		}
		got := deps.pipeline.Items(model.CategoryInspiration)[0]
		if got.DurableURL != "https://assets.mina.test/stored/out.png" {
			t.Errorf("unexpected durable url %q", got.DurableURL)
		}
		if deps.storage.Stored[0].Kind != "inspiration" {
			t.Errorf("unexpected store-remote kind %q", deps.storage.Stored[0].Kind)
		}
	})

	t.Run("should reject non-http urls", func(t *testing.T) {
		deps := newUploadDeps(nil, goRunner{})
		if _, err := deps.pipeline.AddURL(ctx, model.CategoryLogo, "ftp://x/y.png"); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})
}

func TestUploadPipeline_AddFiles(t *testing.T) {
	deps := newUploadDeps(nil, goRunner{})

	items, err := deps.pipeline.AddFiles(context.Background(), model.CategoryInspiration, []usecase.UploadFile{
		{Name: "a.png", Data: pngBytes},
		{Name: "b.png", Data: pngBytes},
	})
	waitUploads(t, deps.pipeline)

	if err != nil || len(items) != 2 {
		t.Fatalf("expected two items, got %d err=%v", len(items), err)
	}
	if len(deps.pipeline.Items(model.CategoryInspiration)) != 2 {
		t.Error("expected both items to be recorded")
	}
}

func TestUploadPipeline_WaitAfterPoolStop(t *testing.T) {
	// --- Arrange ---
	pool := worker.NewPool(1, newTestLogger()) // never started: the upload stays queued
	deps := newUploadDeps(nil, pool)
	if _, err := deps.pipeline.AddFile(context.Background(), model.CategoryProduct, "a.png", pngBytes); err != nil {
		t.Fatalf("add: %v", err)
	}

	// --- Act ---
	pool.Stop()

	// --- Assert ---
	waitUploads(t, deps.pipeline)
	if got := deps.pipeline.Items(model.CategoryProduct)[0]; got.Uploading {
		t.Errorf("expected the queued upload to be settled, got %+v", got)
	}
}
