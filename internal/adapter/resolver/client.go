package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"parley/internal/domain"
	"parley/internal/infra/tracer"
)

// Resolution is a successful upstream answer for one reference.
type Resolution struct {
	Reference   string `json:"reference"`
	ResolvedURL string `json:"resolvedUrl"`
	TTLSeconds  int    `json:"ttlSeconds"`
	IssuedAt    int64  `json:"issuedAtEpoch"`
}

type resolveRequest struct {
	Reference     string `json:"reference"`
	TTLSeconds    int    `json:"ttlSeconds,omitempty"`
	IssuerContext string `json:"issuerContext,omitempty"`
}

// Upstream resolves opaque storage references to time-limited URLs.
type Upstream interface {
	Resolve(ctx context.Context, reference string) (*Resolution, error)
}

// ClientConfig configures the HTTP resolution client.
type ClientConfig struct {
	Endpoint       string
	IssuerContext  string
	TTLSeconds     int // requested validity window; 0 lets the server choose
	Timeout        time.Duration
	RequestsPerSec float64 // client-side rate limit; 0 disables
	Burst          int

	// Breaker settings; zero values use the defaults below.
	BreakerMaxFailures uint32
	BreakerTimeout     time.Duration
}

const (
	defaultClientTimeout     = 15 * time.Second
	defaultBreakerFailures   = uint32(5)
	defaultBreakerOpenWindow = 30 * time.Second
)

// Client calls the resolution endpoint over HTTP. Calls are rate limited and
// routed through a circuit breaker so a failing resolver cannot trigger a
// request storm from concurrent renderers.
type Client struct {
	cfg     ClientConfig
	httpc   *http.Client
	breaker *gobreaker.CircuitBreaker[*Resolution]
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewClient creates a resolution client.
func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultClientTimeout
	}
	maxFailures := cfg.BreakerMaxFailures
	if maxFailures == 0 {
		maxFailures = defaultBreakerFailures
	}
	openWindow := cfg.BreakerTimeout
	if openWindow == 0 {
		openWindow = defaultBreakerOpenWindow
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSec > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), burst)
	}

	cb := gobreaker.NewCircuitBreaker[*Resolution](gobreaker.Settings{
		Name:        "resolver",
		MaxRequests: 1, // one probe in half-open state
		Timeout:     openWindow,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})

	return &Client{
		cfg:     cfg,
		httpc:   &http.Client{Timeout: cfg.Timeout},
		breaker: cb,
		limiter: limiter,
		logger:  logger,
	}
}

// Resolve implements Upstream.
func (c *Client) Resolve(ctx context.Context, reference string) (*Resolution, error) {
	ctx, span := tracer.StartSpan(ctx, "resolver.resolve",
		tracer.WithStringAttr("reference", reference))
	defer span.End()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, domain.WrapOp("Resolver.Resolve", err)
		}
	}

	res, err := c.breaker.Execute(func() (*Resolution, error) {
		return c.post(ctx, reference)
	})
	if err != nil {
		tracer.RecordError(span, err)
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, domain.NewDomainError("Resolver.Resolve", domain.ErrResolverUnavailable, "circuit open")
		}
		return nil, err
	}
	tracer.SetOK(span)
	return res, nil
}

func (c *Client) post(ctx context.Context, reference string) (*Resolution, error) {
	body, err := json.Marshal(resolveRequest{
		Reference:     reference,
		TTLSeconds:    c.cfg.TTLSeconds,
		IssuerContext: c.cfg.IssuerContext,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal resolve request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build resolve request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, domain.NewDomainError("Resolver.Resolve", domain.ErrResolveFailed, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, domain.NewDomainError("Resolver.Resolve", domain.ErrRateLimit, resp.Status)
	}
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, domain.NewDomainError("Resolver.Resolve", domain.ErrResolveFailed, resp.Status)
	}

	var out Resolution
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, domain.NewDomainError("Resolver.Resolve", domain.ErrResolveFailed, "decode response: "+err.Error())
	}
	if out.ResolvedURL == "" {
		return nil, domain.NewDomainError("Resolver.Resolve", domain.ErrResolveFailed, "empty resolved url")
	}
	return &out, nil
}
