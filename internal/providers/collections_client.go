package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/osvaldoandrade/nftbatch/internal/backoff"
	"github.com/osvaldoandrade/nftbatch/internal/metrics"
	"github.com/osvaldoandrade/nftbatch/internal/tracing"
	"github.com/osvaldoandrade/nftbatch/pkg/domain"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const maxResponseBytes = 1 << 20

// CollectionsClient queries the archive backend for the state of a
// collection download job. Every call yields exactly one Outcome.
type CollectionsClient interface {
	GetStatus(ctx context.Context, address domain.ContractAddress) domain.Outcome
}

type CollectionsClientOptions struct {
	BaseURL string
	Timeout time.Duration

	// Attempts bounds tries per query. Only transport failures and 5xx
	// answers are retried.
	Attempts      int
	BackoffPolicy string
	BackoffBase   time.Duration
	BackoffMax    time.Duration

	HTTPClient *http.Client
	Logger     *slog.Logger
}

type collectionsClient struct {
	baseURL  string
	http     *http.Client
	logger   *slog.Logger
	tracer   trace.Tracer
	attempts int
	policy   string
	base     time.Duration
	max      time.Duration
}

func NewCollectionsClient(opts CollectionsClientOptions) CollectionsClient {
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attempts := opts.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	policy := opts.BackoffPolicy
	if policy == "" {
		policy = backoff.PolicyExpFullJitter
	}
	return &collectionsClient{
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		http:     hc,
		logger:   logger,
		tracer:   otel.Tracer("nftbatch/collections"),
		attempts: attempts,
		policy:   policy,
		base:     opts.BackoffBase,
		max:      opts.BackoffMax,
	}
}

// StatusURL builds {base}/collections/{address}. The address is path-escaped
// but otherwise sent verbatim.
func StatusURL(baseURL string, address domain.ContractAddress) string {
	return strings.TrimRight(baseURL, "/") + "/collections/" + url.PathEscape(address.String())
}

func (c *collectionsClient) GetStatus(ctx context.Context, address domain.ContractAddress) domain.Outcome {
	ctx, span := c.tracer.Start(ctx, "collections.GetStatus",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("nft.contract_address", address.String())),
	)
	defer span.End()

	start := time.Now()
	var (
		out domain.Outcome
		rng *rand.Rand // per call; *rand.Rand is not safe for concurrent use
	)
	for attempt := 1; attempt <= c.attempts; attempt++ {
		out = c.once(ctx, address)
		if !retryable(out) || attempt == c.attempts || ctx.Err() != nil {
			break
		}
		metrics.StatusQueryRetriesTotal.Inc()
		if rng == nil {
			rng = rand.New(rand.NewSource(time.Now().UnixNano()))
		}
		delay := backoff.Delay(c.policy, c.base, c.max, attempt, rng)
		c.logger.Debug("status query failed, retrying", "address", address.String(), "attempt", attempt, "delay", delay, "err", out.Err())
		if err := sleepOrDone(ctx, delay); err != nil {
			out = domain.TransportError(err, 0)
			break
		}
	}

	metrics.StatusQueriesTotal.WithLabelValues(string(out.Kind), out.StatusLabel()).Inc()
	metrics.StatusQueryLatencySeconds.WithLabelValues(string(out.Kind)).Observe(time.Since(start).Seconds())

	span.SetAttributes(attribute.String("nft.outcome", string(out.Kind)))
	if out.HTTPStatus != 0 {
		span.SetAttributes(attribute.Int("http.status_code", out.HTTPStatus))
	}
	if err := out.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(out.Kind))
	} else {
		span.SetAttributes(attribute.String("nft.job_status", out.StatusLabel()))
	}
	return out
}

func (c *collectionsClient) once(ctx context.Context, address domain.ContractAddress) domain.Outcome {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, StatusURL(c.baseURL, address), nil)
	if err != nil {
		return domain.TransportError(err, 0)
	}
	req.Header.Set("Accept", "application/json")
	tracing.InjectHeaders(ctx, req.Header)

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.TransportError(err, 0)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return domain.TransportError(fmt.Errorf("read body: %w", err), 0)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return domain.TransportError(errors.New(http.StatusText(resp.StatusCode)), resp.StatusCode)
	}
	return decodeStatus(body)
}

// decodeStatus requires a JSON object. A status, when present, must be a
// string; a missing status decodes as an empty, unrecognized one, which the
// view treats as a no-op. A missing or null s3Link is accepted.
func decodeStatus(body []byte) domain.Outcome {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		return domain.DecodeError(err, body)
	}
	if obj == nil {
		return domain.DecodeError(errors.New("response is not a JSON object"), body)
	}
	var raw struct {
		ArchiveLink *string `json:"s3Link"`
		Status      *string `json:"status"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return domain.DecodeError(err, body)
	}
	var resp domain.StatusResponse
	if raw.Status != nil {
		resp.Status = domain.JobStatus(*raw.Status)
	}
	if raw.ArchiveLink != nil {
		resp.ArchiveLink = *raw.ArchiveLink
	}
	return domain.Success(resp)
}

func retryable(o domain.Outcome) bool {
	if o.Kind != domain.OutcomeTransportError {
		return false
	}
	return o.HTTPStatus == 0 || o.HTTPStatus >= 500
}

func sleepOrDone(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
