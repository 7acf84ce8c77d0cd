package report

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"cloudpico-node/internal/link"
	"cloudpico-node/internal/telemetry"
)

// maxBodyLog caps how much of a response body is kept for diagnostics.
const maxBodyLog = 4 << 10

// LinkStater is the read-only view of the connectivity manager.
type LinkStater interface {
	State() link.State
}

type Option func(*Reporter)

// WithHTTPClient replaces the default client. The caller owns its timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Reporter) { r.client = c }
}

func WithStationID(id string) Option {
	return func(r *Reporter) { r.stationID = id }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Reporter) { r.logger = l }
}

// WithObserver is called after every exchange that reached the network.
func WithObserver(fn func(Outcome, time.Duration)) Option {
	return func(r *Reporter) { r.observe = fn }
}

// Reporter posts one sample per call to the configured endpoint.
type Reporter struct {
	endpoint  string
	link      LinkStater
	client    *http.Client
	stationID string
	logger    *slog.Logger
	observe   func(Outcome, time.Duration)
}

func NewReporter(endpoint string, l LinkStater, timeout time.Duration, opts ...Option) *Reporter {
	r := &Reporter{
		endpoint: endpoint,
		link:     l,
		client:   &http.Client{Timeout: timeout},
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Report performs exactly one request unless the link is down or the sample
// is incomplete, in which case no network I/O happens at all.
func (r *Reporter) Report(ctx context.Context, s telemetry.Sample) Outcome {
	if state := r.link.State(); state != link.Connected {
		r.logger.Warn("report: link not associated, cannot post", "link_state", state)
		return Outcome{Kind: LinkUnavailable}
	}

	body, err := EncodePayload(s)
	if err != nil {
		missing := s.MissingFields()
		r.logger.Warn("report: sample incomplete, skipping send", "missing", missing)
		return Outcome{Kind: EncodingSkipped, Err: err, Missing: missing}
	}

	requestID := uuid.NewString()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		r.logger.Error("report: build request failed", "endpoint", r.endpoint, "error", err)
		return Outcome{Kind: TransportError, Err: err}
	}
	req.Header.Set("Content-Type", ContentType)
	req.Header.Set("X-Request-ID", requestID)
	if r.stationID != "" {
		req.Header.Set("X-Station-ID", r.stationID)
	}

	r.logger.Info("report: posting",
		"endpoint", r.endpoint,
		"request_id", requestID,
		"payload", string(body),
	)

	started := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		out := Outcome{Kind: TransportError, Err: err}
		r.logger.Warn("report: request failed", "request_id", requestID, "error", err)
		r.notify(out, time.Since(started))
		return out
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyLog))
	if readErr != nil {
		r.logger.Debug("report: reading response body failed", "request_id", requestID, "error", readErr)
	}

	out := Outcome{Kind: classify(resp.StatusCode), Code: resp.StatusCode, Body: string(respBody)}
	level := slog.LevelInfo
	if out.Kind != Delivered {
		level = slog.LevelWarn
	}
	r.logger.Log(ctx, level, "report: response",
		"request_id", requestID,
		"status", resp.StatusCode,
		"outcome", out.Kind,
		"body", out.Body,
		"duration_ms", time.Since(started).Milliseconds(),
	)
	r.notify(out, time.Since(started))
	return out
}

func (r *Reporter) notify(out Outcome, d time.Duration) {
	if r.observe != nil {
		r.observe(out, d)
	}
}
