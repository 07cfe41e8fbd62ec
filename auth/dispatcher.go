package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	apperrors "github.com/Harish1404/Anozon-E-commerce/errors"
	"github.com/Harish1404/Anozon-E-commerce/logger"
)

// Doer executes an HTTP request. Satisfied by httpclient.Client and
// httpclient.CircuitBreakerClient.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

var (
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_api_requests_total",
			Help: "Total number of authorized API requests by method and status",
		},
		[]string{"method", "status"},
	)

	forcedLogoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "storefront_forced_logouts_total",
			Help: "Total number of sessions terminated by an unauthorized API response",
		},
	)
)

func init() {
	prometheus.MustRegister(requestsTotal)
	prometheus.MustRegister(forcedLogoutsTotal)
}

// Dispatcher wraps outbound API calls with authorization: it attaches the
// bearer token, refreshes it proactively when expired, and treats a 401
// response as an authoritative signal that the session is gone, clearing
// local tokens. Responses are otherwise passed through untouched for the
// caller to interpret.
type Dispatcher struct {
	baseURL string
	client  Doer
	store   TokenStore
	session *SessionManager
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewDispatcher creates a dispatcher for the given API base URL.
func NewDispatcher(baseURL string, client Doer, store TokenStore, session *SessionManager, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		store:   store,
		session: session,
		logger:  log,
	}
}

// WithRateLimit returns a copy of the dispatcher that throttles outbound
// requests to rps with the given burst.
func (d *Dispatcher) WithRateLimit(rps float64, burst int) *Dispatcher {
	cpy := *d
	cpy.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	return &cpy
}

// Do sends an authorized request to the API. The path is joined to the base
// URL; body may be nil. The raw response is returned for the caller to
// interpret, except the unauthorized case, which forces a local logout and
// returns a session-expired error.
func (d *Dispatcher) Do(ctx context.Context, method, path string, contentType string, body io.Reader) (*http.Response, error) {
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	// The store is re-read at every step: a concurrent refresh may rotate
	// the pair while this request is being prepared.
	if access := d.store.Access(); access != "" && IsExpired(access) {
		if err := d.session.Refresh(ctx); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, d.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", method, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	correlationID := uuid.New().String()
	req.Header.Set("X-Correlation-ID", correlationID)
	ctx = logger.WithCorrelationID(ctx, correlationID)
	log := logger.WithContext(ctx, d.logger)

	if access := d.store.Access(); access != "" {
		req.Header.Set("Authorization", "Bearer "+access)
	}

	resp, err := d.client.Do(ctx, req)
	if err != nil {
		requestsTotal.WithLabelValues(method, "error").Inc()
		return nil, apperrors.Network(err)
	}
	requestsTotal.WithLabelValues(method, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode == http.StatusUnauthorized {
		_ = resp.Body.Close()
		forcedLogoutsTotal.Inc()
		d.session.clearSession()
		log.WarnContext(ctx, "session rejected by server, forcing logout",
			slog.String("method", method),
			slog.String("path", path),
		)
		return nil, apperrors.SessionExpired("session rejected by server")
	}

	log.DebugContext(ctx, "api request completed",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
	)
	return resp, nil
}

// Get sends an authorized GET request.
func (d *Dispatcher) Get(ctx context.Context, path string) (*http.Response, error) {
	return d.Do(ctx, http.MethodGet, path, "", nil)
}

// PostJSON sends an authorized POST request with a JSON-encoded body.
func (d *Dispatcher) PostJSON(ctx context.Context, path string, v any) (*http.Response, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode request body: %w", err)
	}
	return d.Do(ctx, http.MethodPost, path, "application/json", bytes.NewReader(body))
}

// PostForm sends an authorized POST request with a form-encoded body.
func (d *Dispatcher) PostForm(ctx context.Context, path string, form url.Values) (*http.Response, error) {
	return d.Do(ctx, http.MethodPost, path, "application/x-www-form-urlencoded",
		strings.NewReader(form.Encode()))
}

// Delete sends an authorized DELETE request.
func (d *Dispatcher) Delete(ctx context.Context, path string) (*http.Response, error) {
	return d.Do(ctx, http.MethodDelete, path, "", nil)
}

// DecodeJSON decodes a JSON response body into v and closes the body.
func DecodeJSON(resp *http.Response, v any) error {
	defer func() { _ = resp.Body.Close() }()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response body: %w", err)
	}
	return nil
}
