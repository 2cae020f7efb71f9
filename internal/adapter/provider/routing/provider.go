// Package routing provides road and great-circle distance providers.
package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/heartmarshall/bloodlink-backend/internal/domain"
)

const defaultBaseURL = "https://router.project-osrm.org"

// ErrCircuitOpen is returned while the breaker rejects remote calls and no
// fallback is configured.
var ErrCircuitOpen = errors.New("routing: circuit open")

// Options configure the OSRM provider.
type Options struct {
	BaseURL          string
	Profile          string
	Timeout          time.Duration
	FailureThreshold int
	SuccessThreshold int
	Cooldown         time.Duration
	// FallbackHaversine answers with great-circle distances while the remote
	// router is failing instead of returning an error.
	FallbackHaversine bool
}

// Provider fetches driving distances from an OSRM-compatible routing API.
type Provider struct {
	baseURL    string
	profile    string
	httpClient *http.Client
	breaker    *breaker
	fallback   bool
	log        *slog.Logger
}

// NewProvider creates a Provider. Empty options fall back to the public OSRM demo server.
func NewProvider(logger *slog.Logger, opts Options) *Provider {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.Profile == "" {
		opts.Profile = "driving"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Provider{
		baseURL:    opts.BaseURL,
		profile:    opts.Profile,
		httpClient: &http.Client{Timeout: opts.Timeout},
		breaker:    newBreaker(opts.FailureThreshold, opts.SuccessThreshold, opts.Cooldown),
		fallback:   opts.FallbackHaversine,
		log:        logger.With("adapter", "routing"),
	}
}

// Distance returns the road distance in kilometres between from and to.
func (p *Provider) Distance(ctx context.Context, from, to domain.GeoPoint) (float64, error) {
	if !p.breaker.Allow() {
		return p.fallbackOr(ctx, from, to, ErrCircuitOpen)
	}

	km, err := p.fetch(ctx, from, to)
	if err != nil {
		// The caller giving up is not a routing failure.
		if ctx.Err() == nil {
			if opened := p.breaker.RecordFailure(); opened {
				p.log.WarnContext(ctx, "routing circuit open", slog.String("error", err.Error()))
			}
		}
		return p.fallbackOr(ctx, from, to, err)
	}

	if closed := p.breaker.RecordSuccess(); !closed {
		p.log.DebugContext(ctx, "routing probe succeeded, circuit still open")
	}
	return km, nil
}

func (p *Provider) fallbackOr(ctx context.Context, from, to domain.GeoPoint, err error) (float64, error) {
	if p.fallback && ctx.Err() == nil {
		return domain.HaversineKm(from, to), nil
	}
	return 0, fmt.Errorf("%w: %w", domain.ErrExternalService, err)
}

func (p *Provider) fetch(ctx context.Context, from, to domain.GeoPoint) (float64, error) {
	reqURL := fmt.Sprintf("%s/route/v1/%s/%s,%s;%s,%s?overview=false&alternatives=false",
		p.baseURL, p.profile,
		coord(from.Lng), coord(from.Lat), coord(to.Lng), coord(to.Lat))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return 0, fmt.Errorf("routing: create request: %w", err)
	}

	resp, err := p.doWithRetry(ctx, req)
	if err != nil {
		return 0, fmt.Errorf("routing: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusBadRequest {
		return 0, fmt.Errorf("routing: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("routing: read body: %w", err)
	}

	var rr routeResponse
	if err := json.Unmarshal(body, &rr); err != nil {
		return 0, fmt.Errorf("routing: decode json: %w", err)
	}
	if rr.Code != "Ok" || len(rr.Routes) == 0 {
		return 0, fmt.Errorf("routing: no route (%s: %s)", rr.Code, rr.Message)
	}

	km := rr.Routes[0].Distance / 1000
	p.log.DebugContext(ctx, "routing response",
		slog.Float64("distance_km", km),
		slog.Float64("duration_s", rr.Routes[0].Duration),
	)
	return km, nil
}

// doWithRetry executes the request with a single retry on 5xx or network errors.
func (p *Provider) doWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	resp, err := p.httpClient.Do(req)

	shouldRetry := err != nil || (resp != nil && resp.StatusCode >= 500)
	if !shouldRetry {
		return resp, err
	}

	// Don't retry if context is already cancelled.
	if ctx.Err() != nil {
		return resp, err
	}

	reason := "network error"
	if err == nil && resp != nil {
		reason = fmt.Sprintf("status %d", resp.StatusCode)
	}
	p.log.WarnContext(ctx, "routing retry", slog.String("reason", reason))

	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(200 * time.Millisecond):
	}

	return p.httpClient.Do(req)
}

func coord(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}
