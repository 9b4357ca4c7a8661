// File: internal/usecase/asset_uc.go
package usecase

import (
	"context"
	"net/url"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"mina-studio/internal/domain/model"
	"mina-studio/internal/domain/ports/adapter"
	"mina-studio/internal/infra/logging"
	"mina-studio/internal/infra/metrics"
)

// Compile-time check
var _ AssetStabilizer = (*assetStabilizer)(nil)

type AssetStabilizer interface {
	// EnsureStable returns a durable, unsigned URL for raw. It never fails:
	// on any error the stripped original comes back.
	EnsureStable(ctx context.Context, passID, raw, kind string) string
	// StabilizeJob rewrites every output of job in place.
	StabilizeJob(ctx context.Context, passID string, job *model.GenerationJob)
}

type assetStabilizer struct {
	storage adapter.StorageAPI
	ownHost string
	folder  string
	log     *zerolog.Logger
}

func NewAssetStabilizer(storage adapter.StorageAPI, ownHost, folder string, logger *zerolog.Logger) *assetStabilizer {
	return &assetStabilizer{
		storage: storage,
		ownHost: strings.ToLower(strings.TrimSpace(ownHost)),
		folder:  folder,
		log:     logging.Component(logger, "assets"),
	}
}

func (s *assetStabilizer) EnsureStable(ctx context.Context, passID, raw, kind string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if raw == "" || err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		// data:, blob: and relative references are not ours to republish.
		metrics.IncAssetStabilize("passthrough")
		return raw
	}
	stripped := StripSignedQuery(raw)
	if IsOwnHost(u.Hostname(), s.ownHost) {
		metrics.IncAssetStabilize("own_host")
		return stripped
	}
	if s.storage == nil {
		metrics.IncAssetStabilize("fallback")
		return stripped
	}

	// the signed original is what the backend can still fetch.
	stored, err := s.storage.StoreRemote(ctx, model.StoreRemoteRequest{
		SourceURL: raw,
		Folder:    s.folder,
		Kind:      kind,
		PassID:    passID,
	})
	if err != nil || strings.TrimSpace(stored) == "" {
		metrics.IncAssetStabilize("fallback")
		logging.With(ctx, s.log).Warn().Err(err).
			Str("url", logging.RedactURL(raw, false)).
			Msg("store-remote failed; keeping stripped url")
		return stripped
	}
	metrics.IncAssetStabilize("stored")
	return StripSignedQuery(strings.TrimSpace(stored))
}

func (s *assetStabilizer) StabilizeJob(ctx context.Context, passID string, job *model.GenerationJob) {
	if job == nil || len(job.Outputs) == 0 {
		return
	}
	var (
		mu  sync.Mutex
		out = make(map[string]string, len(job.Outputs))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for name, raw := range job.Outputs {
		g.Go(func() error {
			stable := s.EnsureStable(gctx, passID, raw, model.StorageKindGeneration)
			mu.Lock()
			out[name] = stable
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	job.Outputs = out
}

var signingParams = map[string]bool{
	"credential":           true,
	"x-amz-credential":     true,
	"x-goog-credential":    true,
	"googleaccessid":       true,
	"policy":               true,
	"expires":              true,
	"expiry":               true,
	"x-amz-expires":        true,
	"x-goog-expires":       true,
	"x-amz-security-token": true,
	"key-pair-id":          true,
}

// IsSigningParam reports whether a query key carries URL-signing material.
func IsSigningParam(key string) bool {
	k := strings.ToLower(strings.TrimSpace(key))
	return strings.Contains(k, "signature") || signingParams[k]
}

// StripSignedQuery drops the whole query and fragment when any signing
// parameter is present; other URLs are returned unchanged.
func StripSignedQuery(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.RawQuery == "" {
		return raw
	}
	signed := false
	for _, pair := range strings.Split(u.RawQuery, "&") {
		key := pair
		if i := strings.IndexByte(pair, '='); i >= 0 {
			key = pair[:i]
		}
		if k, err := url.QueryUnescape(key); err == nil {
			key = k
		}
		if IsSigningParam(key) {
			signed = true
			break
		}
	}
	if !signed {
		return raw
	}
	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

// IsOwnHost reports whether host is the asset host or one of its subdomains.
func IsOwnHost(host, own string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if own == "" || host == "" {
		return false
	}
	return host == own || strings.HasSuffix(host, "."+own)
}
