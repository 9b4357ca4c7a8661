package mma

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/imroc/req/v3"
	"github.com/rs/zerolog"

	"mina-studio/internal/config"
	"mina-studio/internal/domain"
	"mina-studio/internal/domain/model"
	"mina-studio/internal/domain/ports/adapter"
	"mina-studio/internal/infra/logging"
	"mina-studio/internal/infra/metrics"
)

// Compile-time assurance the client satisfies the ports
var (
	_ adapter.GenerationAPI = (*Client)(nil)
	_ adapter.EventsAPI     = (*Client)(nil)
	_ adapter.StorageAPI    = (*Client)(nil)
	_ adapter.CreditsAPI    = (*Client)(nil)
)

const (
	PassIDHeader  = "X-Mina-Pass-Id"
	RequestHeader = "X-Request-Id"

	pathGeneration   = "/mma/generations/"
	pathEvents       = "/mma/events"
	pathSignedUpload = "/api/r2/upload-signed"
	pathStoreRemote  = "/api/r2/store-remote-signed"
	pathBalance      = "/credits/balance"
)

// Client talks JSON over HTTPS to the generation service.
type Client struct {
	api    *req.Client // base URL + auth, bounded timeout
	stream *req.Client // auth, no overall timeout; bodies are read by the caller
	bare   *req.Client // presigned PUTs; never carries credentials
	passID string
	dev    bool
	log    *zerolog.Logger
}

// NewClient builds a client from the api config section.
func NewClient(cfg config.APIConfig, dev bool, logger *zerolog.Logger) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("mma: base url empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	api := req.C().
		SetBaseURL(base).
		SetTimeout(timeout).
		SetUserAgent("mina-studio").
		SetCommonContentType("application/json").
		SetCommonHeader("Accept", "application/json")
	stream := req.C().
		SetBaseURL(base).
		SetTimeout(0).
		DisableAutoReadResponse().
		SetUserAgent("mina-studio")
	if cfg.Token != "" {
		api.SetCommonBearerAuthToken(cfg.Token)
		stream.SetCommonBearerAuthToken(cfg.Token)
	}
	if cfg.PassID != "" {
		api.SetCommonHeader(PassIDHeader, cfg.PassID)
		stream.SetCommonHeader(PassIDHeader, cfg.PassID)
	}

	return &Client{
		api:    api,
		stream: stream,
		bare:   req.C().SetTimeout(timeout).SetUserAgent("mina-studio"),
		passID: cfg.PassID,
		dev:    dev,
		log:    logging.Component(logger, "mma"),
	}, nil
}

// CreateGeneration posts a creation envelope. Any non-2xx answer becomes a
// *domain.SubmissionError carrying the backend code and message.
func (c *Client) CreateGeneration(ctx context.Context, path string, payload map[string]any) (*model.SubmitAck, error) {
	defer logging.TraceDuration(c.log, "mma.Client.CreateGeneration")()

	r := c.request(ctx, c.api)
	if pass, _ := payload["passId"].(string); pass != "" {
		r.SetHeader(PassIDHeader, pass)
	}
	body, resp, err := c.do("create", r.SetBody(payload), http.MethodPost, path)
	if err != nil {
		return nil, &domain.SubmissionError{Endpoint: path, Err: err}
	}
	if resp.StatusCode >= 300 {
		serr := &domain.SubmissionError{Endpoint: path, StatusCode: resp.StatusCode}
		if e := normalizeError(unwrap(body)); e != nil {
			serr.Code, serr.Message = e.Code, e.Message
		}
		if serr.Message == "" {
			serr.Message = firstString(body, "message", "detail")
		}
		if serr.Code == "" {
			serr.Code = firstString(body, "code")
		}
		if serr.Message == "" {
			serr.Message = http.StatusText(resp.StatusCode)
		}
		return nil, serr
	}
	return NormalizeAck(body), nil
}

// GetGeneration fetches one job record.
func (c *Client) GetGeneration(ctx context.Context, id string) (*model.GenerationJob, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, domain.ErrInvalidArgument
	}
	body, resp, err := c.do("get_generation", c.request(ctx, c.api), http.MethodGet, pathGeneration+url.PathEscape(id))
	if err != nil {
		return nil, err
	}
	if err := statusErr("get generation", resp, body); err != nil {
		return nil, err
	}
	job := NormalizeJob(body)
	if job.ID == "" {
		job.ID = id
	}
	return job, nil
}

func (c *Client) RecordEvent(ctx context.Context, ev model.GenerationEvent) error {
	if ev.PassID == "" {
		ev.PassID = c.passID
	}
	_, resp, err := c.do("record_event", c.request(ctx, c.api).SetBody(ev), http.MethodPost, pathEvents)
	if err != nil {
		return err
	}
	return statusErr("record event", resp, nil)
}

func (c *Client) RequestSignedUpload(ctx context.Context, in model.SignedUploadRequest) (*model.SignedUpload, error) {
	if in.PassID == "" {
		in.PassID = c.passID
	}
	body, resp, err := c.do("signed_upload", c.request(ctx, c.api).SetBody(in), http.MethodPost, pathSignedUpload)
	if err != nil {
		return nil, err
	}
	if err := statusErr("signed upload", resp, body); err != nil {
		return nil, err
	}
	out := NormalizeSignedUpload(body)
	if out.UploadURL == "" || out.PublicURL == "" {
		return nil, fmt.Errorf("signed upload: incomplete answer")
	}
	return out, nil
}

// PutBytes uploads data to a presigned URL without the service credentials.
func (c *Client) PutBytes(ctx context.Context, uploadURL, contentType string, data []byte) error {
	start := time.Now()
	resp, err := c.bare.R().
		SetContext(ctx).
		SetHeader("Content-Type", contentType).
		SetBodyBytes(data).
		Put(uploadURL)
	ok := err == nil && resp.StatusCode < 300
	metrics.ObserveRemoteCall("put_bytes", time.Since(start).Milliseconds(), ok)
	if err != nil {
		return fmt.Errorf("put bytes: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("put bytes: status %d", resp.StatusCode)
	}
	return nil
}

// StoreRemote asks the service to republish a remote URL on the own host.
func (c *Client) StoreRemote(ctx context.Context, in model.StoreRemoteRequest) (string, error) {
	if in.PassID == "" {
		in.PassID = c.passID
	}
	payload := map[string]any{
		"sourceUrl": in.SourceURL,
		"url":       in.SourceURL,
		"folder":    in.Folder,
		"kind":      in.Kind,
		"passId":    in.PassID,
	}
	body, resp, err := c.do("store_remote", c.request(ctx, c.api).SetBody(payload), http.MethodPost, pathStoreRemote)
	if err != nil {
		return "", err
	}
	if err := statusErr("store remote", resp, body); err != nil {
		return "", err
	}
	u := NormalizePublicURL(body)
	if u == "" {
		return "", fmt.Errorf("store remote: no url in answer")
	}
	return u, nil
}

func (c *Client) Balance(ctx context.Context, passID string) (*model.BalanceReading, error) {
	if passID == "" {
		passID = c.passID
	}
	r := c.request(ctx, c.api).SetQueryParam("passId", passID).SetHeader(PassIDHeader, passID)
	body, resp, err := c.do("balance", r, http.MethodGet, pathBalance)
	if err != nil {
		return nil, err
	}
	if err := statusErr("balance", resp, body); err != nil {
		return nil, err
	}
	return NormalizeBalance(body), nil
}

// openStream issues the GET for a push channel and hands back the live
// response; the caller owns the body.
func (c *Client) openStream(ctx context.Context, streamURL string) (*http.Response, error) {
	resp, err := c.request(ctx, c.stream).
		SetHeader("Accept", "text/event-stream").
		SetHeader("Cache-Control", "no-cache").
		Get(streamURL)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	if resp.StatusCode >= 300 {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("open stream: status %d", resp.StatusCode)
	}
	return resp.Response, nil
}

// authHeader returns the headers a non-HTTP transport must replay.
func (c *Client) authHeader() http.Header {
	h := http.Header{}
	for k, v := range c.stream.Headers {
		h[k] = append([]string(nil), v...)
	}
	return h
}

func (c *Client) request(ctx context.Context, cl *req.Client) *req.Request {
	r := cl.R().SetContext(ctx)
	if id := logging.TraceID(ctx); id != "" {
		r.SetHeader(RequestHeader, id)
	}
	return r
}

// do sends r and decodes a JSON object body when there is one.
func (c *Client) do(op string, r *req.Request, method, path string) (map[string]any, *req.Response, error) {
	start := time.Now()
	resp, err := r.Send(method, path)
	ok := err == nil && resp.StatusCode < 300
	metrics.ObserveRemoteCall(op, time.Since(start).Milliseconds(), ok)
	if err != nil {
		c.log.Debug().Err(err).Str("op", op).Str("path", logging.RedactURL(path, c.dev)).Msg("request failed")
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	body := map[string]any{}
	if b := resp.Bytes(); len(strings.TrimSpace(string(b))) > 0 {
		if err := json.Unmarshal(b, &body); err != nil && resp.StatusCode < 300 {
			return nil, resp, fmt.Errorf("%s: decode response: %w", op, err)
		}
	}
	if !ok {
		c.log.Debug().Str("op", op).Int("status", resp.StatusCode).Msg("non-2xx answer")
	}
	return body, resp, nil
}

func statusErr(op string, resp *req.Response, body map[string]any) error {
	if resp.StatusCode < 300 {
		return nil
	}
	msg := ""
	if e := normalizeError(unwrap(body)); e != nil {
		msg = e.Message
	}
	if msg == "" {
		msg = firstString(body, "message", "detail")
	}
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	}
	return fmt.Errorf("%s: status %d: %s", op, resp.StatusCode, msg)
}
