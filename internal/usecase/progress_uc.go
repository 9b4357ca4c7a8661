// File: internal/usecase/progress_uc.go
package usecase

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"mina-studio/internal/domain/model"
	"mina-studio/internal/domain/ports/adapter"
	"mina-studio/internal/infra/logging"
	"mina-studio/internal/infra/metrics"
)

// Compile-time check
var _ ProgressConsumer = (*progressConsumer)(nil)

type ProgressConsumer interface {
	// Follow forwards normalized progress for one job until the stream
	// signals done or fails. Channel failures are swallowed; only ctx
	// cancellation is returned. A second Follow for a job that is already
	// streaming joins that stream and returns once it has ended.
	Follow(ctx context.Context, generationID, streamURL string, onEvent func(model.ProgressEvent)) error
	// Close drops every active subscription.
	Close()
}

type progressConsumer struct {
	source adapter.ProgressSource
	grace  time.Duration
	log    *zerolog.Logger

	mu      sync.Mutex
	streams map[string]*jobStream
}

// jobStream is the single subscription held for one generation id, shared
// by every caller following that job.
type jobStream struct {
	done chan struct{}

	mu        sync.Mutex
	sub       adapter.Subscription
	closed    bool
	state     progressState
	emitted   bool
	nextID    int
	listeners map[int]func(model.ProgressEvent)
}

func NewProgressConsumer(source adapter.ProgressSource, grace time.Duration, logger *zerolog.Logger) *progressConsumer {
	if grace <= 0 {
		grace = time.Second
	}
	return &progressConsumer{
		source:  source,
		grace:   grace,
		log:     logging.Component(logger, "progress"),
		streams: make(map[string]*jobStream),
	}
}

func (c *progressConsumer) Follow(ctx context.Context, generationID, streamURL string, onEvent func(model.ProgressEvent)) error {
	if strings.TrimSpace(streamURL) == "" {
		return nil
	}
	log := logging.With(ctx, c.log).With().Str("generation_id", generationID).Logger()

	c.mu.Lock()
	if js, ok := c.streams[generationID]; ok {
		c.mu.Unlock()
		log.Debug().Msg("joining progress stream")
		return js.join(ctx, onEvent)
	}
	js := &jobStream{done: make(chan struct{}), listeners: map[int]func(model.ProgressEvent){}}
	js.listen(onEvent)
	c.streams[generationID] = js
	c.mu.Unlock()
	defer c.finish(generationID, js)

	sub, err := c.source.Subscribe(ctx, streamURL)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		metrics.IncStreamDegraded("subscribe")
		log.Warn().Err(err).Msg("progress stream unavailable; falling back to polling")
		return nil
	}
	if !js.attach(sub) {
		_ = sub.Close()
		return nil
	}

	frames := sub.Frames()
	for {
		select {
		case <-ctx.Done():
			_ = sub.Close()
			return ctx.Err()
		case f, ok := <-frames:
			if !ok {
				if err := sub.Err(); err != nil {
					metrics.IncStreamDegraded("channel_error")
					log.Warn().Err(err).Msg("progress stream failed before done")
				} else {
					metrics.IncStreamDegraded("closed_early")
					log.Debug().Msg("progress stream closed before done")
				}
				return c.settle(ctx, sub)
			}
			upd := NormalizeFrame(f)
			metrics.IncStreamFrame(upd.Shape)
			js.apply(upd)
			if upd.Done {
				_ = sub.Close()
				log.Debug().Msg("progress stream done")
				return nil
			}
		}
	}
}

// settle races the subscription teardown against the grace period so a
// misbehaving channel can never hold the caller.
func (c *progressConsumer) settle(ctx context.Context, sub adapter.Subscription) error {
	closed := make(chan struct{})
	go func() {
		_ = sub.Close()
		close(closed)
	}()
	t := time.NewTimer(c.grace)
	defer t.Stop()
	select {
	case <-closed:
	case <-t.C:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (c *progressConsumer) finish(generationID string, js *jobStream) {
	c.mu.Lock()
	if c.streams[generationID] == js {
		delete(c.streams, generationID)
	}
	c.mu.Unlock()
	close(js.done)
}

func (c *progressConsumer) Close() {
	c.mu.Lock()
	streams := make([]*jobStream, 0, len(c.streams))
	for _, js := range c.streams {
		streams = append(streams, js)
	}
	c.mu.Unlock()
	for _, js := range streams {
		js.close()
	}
}

func (js *jobStream) listen(fn func(model.ProgressEvent)) int {
	id := js.nextID
	js.nextID++
	if fn != nil {
		js.listeners[id] = fn
	}
	return id
}

// join registers fn, replays the latest snapshot and blocks until the
// owning Follow has finished with the stream.
func (js *jobStream) join(ctx context.Context, fn func(model.ProgressEvent)) error {
	js.mu.Lock()
	id := js.listen(fn)
	if js.emitted && fn != nil {
		fn(js.state.snapshot())
	}
	js.mu.Unlock()
	defer func() {
		js.mu.Lock()
		delete(js.listeners, id)
		js.mu.Unlock()
	}()

	select {
	case <-js.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// apply folds one update in and fans the snapshot out to every listener.
// Listeners run under js.mu so each one sees snapshots in stream order.
func (js *jobStream) apply(u FrameUpdate) {
	js.mu.Lock()
	defer js.mu.Unlock()
	if !js.state.apply(u) {
		return
	}
	js.emitted = true
	for _, fn := range js.listeners {
		fn(js.state.snapshot())
	}
}

func (js *jobStream) attach(sub adapter.Subscription) bool {
	js.mu.Lock()
	defer js.mu.Unlock()
	if js.closed {
		return false
	}
	js.sub = sub
	return true
}

func (js *jobStream) close() {
	js.mu.Lock()
	js.closed = true
	sub := js.sub
	js.mu.Unlock()
	if sub != nil {
		_ = sub.Close()
	}
}

// ---- normalization ----

// Frame shapes, used as metric labels.
const (
	ShapeStatusText = "status_text"
	ShapeJSON       = "json"
	ShapeScanLines  = "scan_lines"
	ShapeNamed      = "named"
	ShapeDone       = "done"
	ShapeIgnored    = "ignored"
)

// FrameUpdate is what one raw frame contributes to the progress state.
type FrameUpdate struct {
	Status       string
	HasStatus    bool
	ScanLines    []string // replaces the list when ReplaceLines
	ReplaceLines bool
	AppendLine   string
	Done         bool
	Shape        string
}

var (
	statusFields   = []string{"status", "statusText", "status_text", "state", "stage", "mg_status"}
	scanListFields = []string{"scanLines", "scan_lines", "lines"}
	lineFields     = []string{"line", "scanLine", "scan_line", "text", "message"}
)

// NormalizeFrame maps any of the accepted message shapes onto one update.
func NormalizeFrame(f adapter.ProgressFrame) FrameUpdate {
	event := strings.ToLower(strings.TrimSpace(f.Event))
	data := strings.TrimSpace(f.Data)

	switch event {
	case "done", "complete", "completed":
		u := decodeFrameData(data)
		u.Done = true
		u.Shape = ShapeDone
		return u
	case "status":
		u := FrameUpdate{Shape: ShapeNamed}
		if obj, ok := parseObject(data); ok {
			u.Status, u.HasStatus = firstString(obj, statusFields)
		} else if s := unquote(data); s != "" {
			u.Status, u.HasStatus = s, true
		}
		return u
	case "scan_line", "scanline", "scan":
		u := FrameUpdate{Shape: ShapeNamed}
		if obj, ok := parseObject(data); ok {
			u.AppendLine, _ = firstString(obj, lineFields)
		} else {
			u.AppendLine = unquote(data)
		}
		return u
	case "", "message", "progress", "update":
		return decodeFrameData(data)
	}
	return FrameUpdate{Shape: ShapeIgnored}
}

func decodeFrameData(data string) FrameUpdate {
	if data == "" {
		return FrameUpdate{Shape: ShapeIgnored}
	}
	obj, ok := parseObject(data)
	if !ok {
		s := unquote(data)
		if s == "" {
			return FrameUpdate{Shape: ShapeIgnored}
		}
		return FrameUpdate{Status: s, HasStatus: true, Shape: ShapeStatusText}
	}

	u := FrameUpdate{Shape: ShapeJSON}
	u.Status, u.HasStatus = firstString(obj, statusFields)
	for _, k := range scanListFields {
		if lines, ok := stringList(obj[k]); ok {
			u.ScanLines, u.ReplaceLines = lines, true
			u.Shape = ShapeScanLines
			break
		}
	}
	if b, ok := obj["done"].(bool); ok && b {
		u.Done = true
	}
	return u
}

func parseObject(data string) (map[string]any, bool) {
	if !strings.HasPrefix(data, "{") {
		return nil, false
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(data), &obj); err != nil {
		return nil, false
	}
	return obj, true
}

// unquote accepts either a JSON string literal or bare text.
func unquote(data string) string {
	if strings.HasPrefix(data, `"`) {
		var s string
		if err := json.Unmarshal([]byte(data), &s); err == nil {
			return strings.TrimSpace(s)
		}
	}
	return data
}

func firstString(obj map[string]any, keys []string) (string, bool) {
	for _, k := range keys {
		if s, ok := obj[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s), true
		}
	}
	return "", false
}

func stringList(v any) ([]string, bool) {
	arr, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(arr))
	for _, it := range arr {
		switch x := it.(type) {
		case string:
			if s := strings.TrimSpace(x); s != "" {
				out = append(out, s)
			}
		case map[string]any:
			if s, ok := firstString(x, lineFields); ok {
				out = append(out, s)
			}
		}
	}
	return out, true
}

type progressState struct {
	status string
	lines  []string
}

// apply folds an update in and reports whether anything worth emitting
// arrived.
func (s *progressState) apply(u FrameUpdate) bool {
	changed := false
	if u.HasStatus {
		s.status = u.Status
		changed = true
	}
	if u.ReplaceLines {
		s.lines = append([]string(nil), u.ScanLines...)
		changed = true
	}
	if u.AppendLine != "" {
		s.lines = append(s.lines, u.AppendLine)
		changed = true
	}
	return changed
}

func (s *progressState) snapshot() model.ProgressEvent {
	lines := make([]string, len(s.lines))
	copy(lines, s.lines)
	return model.ProgressEvent{Status: s.status, ScanLines: lines}
}
