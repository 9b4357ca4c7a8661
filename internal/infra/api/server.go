package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"mina-studio/internal/application"
	"mina-studio/internal/config"
	"mina-studio/internal/domain"
	"mina-studio/internal/domain/model"
	"mina-studio/internal/infra/logging"
)

// Studio is what the bridge needs from the application layer.
type Studio interface {
	Generate(ctx context.Context, req model.CreateRequest, onProgress func(model.ProgressEvent)) (*model.GenerationJob, error)
	Credits(ctx context.Context) (model.CreditsState, error)
	Like(ctx context.Context, generationID string) error
	Feedback(ctx context.Context, generationID, text string) error
	AddUpload(ctx context.Context, category model.UploadCategory, name string, data []byte) (model.UploadItem, error)
	AddUploadURL(ctx context.Context, category model.UploadCategory, rawURL string) (model.UploadItem, error)
	RemoveUpload(category model.UploadCategory, id string) error
	MoveUpload(category model.UploadCategory, from, to int) error
	RetryUpload(ctx context.Context, category model.UploadCategory, id string) error
	Uploads(category model.UploadCategory) []model.UploadItem
}

var _ Studio = (*application.StudioFacade)(nil)

// Server is the local HTTP bridge in front of the studio facade. UIs talk to
// it instead of the remote service so that dedup, credits and uploads are
// shared by every open window.
type Server struct {
	studio   Studio
	cfg      config.ServerConfig
	maxBytes int64
	log      *zerolog.Logger
}

func NewServer(studio Studio, cfg config.ServerConfig, maxUploadBytes int64, logger *zerolog.Logger) *Server {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 25 << 20
	}
	return &Server{
		studio:   studio,
		cfg:      cfg,
		maxBytes: maxUploadBytes,
		log:      logging.Component(logger, "bridge"),
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(
		TraceID(s.log),
		RequestLog(s.log),
		Recover(s.log),
	)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(APIKey(s.cfg.APIKey))

		// long-running: bounded by the poll timeout, not by the middleware.
		r.Post("/generations", s.handleGenerate)

		r.Group(func(r chi.Router) {
			r.Use(Timeout(30 * time.Second))
			r.Get("/credits", s.handleCredits)
			r.Post("/events", s.handleEvent)

			r.Route("/uploads/{category}", func(r chi.Router) {
				r.Get("/", s.handleListUploads)
				r.Post("/", s.handleAddUpload)
				r.Post("/move", s.handleMoveUpload)
				r.Delete("/{id}", s.handleRemoveUpload)
				r.Post("/{id}/retry", s.handleRetryUpload)
			})
		})
	})
	return r
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.cfg.Addr).Msg("bridge listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ---- generations ----

type generateResponse struct {
	Job     *model.GenerationJob `json:"job,omitempty"`
	Summary string               `json:"summary,omitempty"`
	Error   *errorBody           `json:"error,omitempty"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req model.CreateRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body")
		return
	}
	if !validKind(req.Kind) {
		writeError(w, http.StatusBadRequest, "invalid_kind", fmt.Sprintf("unknown kind %q", req.Kind))
		return
	}

	if wantsEventStream(r) {
		s.streamGenerate(w, r, req)
		return
	}

	job, err := s.studio.Generate(r.Context(), req, nil)
	if job == nil {
		writeDomainError(w, err)
		return
	}
	resp := generateResponse{Job: job, Summary: application.Summary(job)}
	status := http.StatusOK
	if err != nil {
		status, resp.Error = statusFor(err), bodyFor(err)
	}
	writeJSON(w, status, resp)
}

// streamGenerate answers with an event stream: "progress" events while the
// job runs, then a single "result" or "error" event.
func (s *Server) streamGenerate(w http.ResponseWriter, r *http.Request, req model.CreateRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "no_stream", "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	var (
		mu     sync.Mutex
		closed bool
	)
	send := func(event string, v any) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		b, _ := json.Marshal(v)
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, b)
		flusher.Flush()
	}

	job, err := s.studio.Generate(r.Context(), req, func(ev model.ProgressEvent) {
		send("progress", ev)
	})
	switch {
	case job == nil:
		send("error", bodyFor(err))
	case err != nil:
		send("result", generateResponse{Job: job, Summary: application.Summary(job), Error: bodyFor(err)})
	default:
		send("result", generateResponse{Job: job, Summary: application.Summary(job)})
	}

	mu.Lock()
	closed = true
	mu.Unlock()
}

// ---- credits & events ----

func (s *Server) handleCredits(w http.ResponseWriter, r *http.Request) {
	st, err := s.studio.Credits(r.Context())
	if err != nil && !st.Known {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type eventRequest struct {
	GenerationID string `json:"generation_id"`
	EventType    string `json:"event_type"`
	Text         string `json:"text"`
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body")
		return
	}
	var err error
	switch req.EventType {
	case model.EventLike:
		err = s.studio.Like(r.Context(), req.GenerationID)
	case model.EventFeedback:
		err = s.studio.Feedback(r.Context(), req.GenerationID, req.Text)
	default:
		writeError(w, http.StatusBadRequest, "invalid_event", fmt.Sprintf("unknown event type %q", req.EventType))
		return
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---- uploads ----

func (s *Server) category(w http.ResponseWriter, r *http.Request) (model.UploadCategory, bool) {
	c := model.UploadCategory(chi.URLParam(r, "category"))
	for _, known := range model.Categories() {
		if c == known {
			return c, true
		}
	}
	writeDomainError(w, domain.ErrUnknownCategory)
	return "", false
}

func (s *Server) handleListUploads(w http.ResponseWriter, r *http.Request) {
	cat, ok := s.category(w, r)
	if !ok {
		return
	}
	items := s.studio.Uploads(cat)
	if items == nil {
		items = []model.UploadItem{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

type addURLRequest struct {
	URL string `json:"url"`
}

// handleAddUpload accepts a JSON {"url": ...} body or a multipart form with
// one or more "file" parts.
func (s *Server) handleAddUpload(w http.ResponseWriter, r *http.Request) {
	cat, ok := s.category(w, r)
	if !ok {
		return
	}
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	if mediaType == "application/json" {
		var req addURLRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&req); err != nil || strings.TrimSpace(req.URL) == "" {
			writeError(w, http.StatusBadRequest, "invalid_body", "url is required")
			return
		}
		item, err := s.studio.AddUploadURL(r.Context(), cat, req.URL)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"items": []model.UploadItem{item}})
		return
	}

	// a batch may hold several files of up to maxBytes each.
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBytes*8+(1<<20))
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeDomainError(w, domain.ErrUploadTooLarge)
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_body", "expected a multipart form with file parts")
		return
	}
	files := r.MultipartForm.File["file"]
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_body", "no file parts")
		return
	}

	items := make([]model.UploadItem, 0, len(files))
	for _, fh := range files {
		if fh.Size > s.maxBytes {
			writeDomainError(w, domain.ErrUploadTooLarge)
			return
		}
		f, err := fh.Open()
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_body", "unreadable file part")
			return
		}
		data, err := io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_body", "unreadable file part")
			return
		}
		item, err := s.studio.AddUpload(r.Context(), cat, fh.Filename, data)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		items = append(items, item)
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"items": items})
}

type moveRequest struct {
	From int `json:"from"`
	To   int `json:"to"`
}

func (s *Server) handleMoveUpload(w http.ResponseWriter, r *http.Request) {
	cat, ok := s.category(w, r)
	if !ok {
		return
	}
	var req moveRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 4<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body")
		return
	}
	if err := s.studio.MoveUpload(cat, req.From, req.To); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": s.studio.Uploads(cat)})
}

func (s *Server) handleRemoveUpload(w http.ResponseWriter, r *http.Request) {
	cat, ok := s.category(w, r)
	if !ok {
		return
	}
	if err := s.studio.RemoveUpload(cat, chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRetryUpload(w http.ResponseWriter, r *http.Request) {
	cat, ok := s.category(w, r)
	if !ok {
		return
	}
	if err := s.studio.RetryUpload(r.Context(), cat, chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// ---- helpers ----

func validKind(k model.RequestKind) bool {
	switch k {
	case model.KindStillCreate, model.KindVideoAnimate, model.KindStillTweak, model.KindVideoTweak:
		return true
	}
	return false
}

func wantsEventStream(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

type errorBody struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Upstream   int    `json:"upstream_status,omitempty"`
	Generation string `json:"generation_id,omitempty"`
}

func statusFor(err error) int {
	var (
		serr *domain.SubmissionError
		terr *domain.JobTerminalError
	)
	switch {
	case errors.As(err, &terr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, domain.ErrMissingIdentity):
		return http.StatusBadRequest
	case errors.As(err, &serr):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrDuplicateSubmission),
		errors.Is(err, domain.ErrCategoryFull),
		errors.Is(err, domain.ErrUploadNotRetryable):
		return http.StatusConflict
	case errors.Is(err, domain.ErrUnknownCategory), errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUploadTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, domain.ErrInsufficientCredits):
		return http.StatusPaymentRequired
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func bodyFor(err error) *errorBody {
	if err == nil {
		return nil
	}
	var (
		serr *domain.SubmissionError
		terr *domain.JobTerminalError
	)
	switch {
	case errors.As(err, &terr):
		code := terr.Code
		if code == "" {
			code = "job_" + terr.Status
		}
		return &errorBody{Code: code, Message: terr.Message, Generation: terr.GenerationID}
	case errors.As(err, &serr):
		code := serr.Code
		if code == "" {
			code = "submission_rejected"
		}
		return &errorBody{Code: code, Message: serr.Error(), Upstream: serr.StatusCode}
	}
	code := strings.ToLower(strings.ReplaceAll(http.StatusText(statusFor(err)), " ", "_"))
	return &errorBody{Code: code, Message: err.Error()}
}

func writeDomainError(w http.ResponseWriter, err error) {
	if err == nil {
		err = errors.New("no result")
	}
	writeJSON(w, statusFor(err), map[string]any{"error": bodyFor(err)})
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]any{"error": errorBody{Code: code, Message: msg}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
