package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/normanking/carevoice/internal/conversation"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/normanking/carevoice/internal/inference"

// ClientConfig configures the inference client
type ClientConfig struct {
	URL     string        // e.g., "http://localhost:5000/api/assistant/message"
	Timeout time.Duration // Per-request timeout, expiry counts as a network failure
}

// DefaultClientConfig returns sensible defaults
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		URL:     "http://localhost:5000/api/assistant/message",
		Timeout: 30 * time.Second,
	}
}

// Client posts user messages to the inference service.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	tokens     TokenSource
	logger     zerolog.Logger
	now        func() time.Time

	tracer   trace.Tracer
	requests metric.Int64Counter
	latency  metric.Float64Histogram
}

// NewClient creates a client. Telemetry goes to the global otel providers.
func NewClient(cfg ClientConfig, tokens TokenSource, logger zerolog.Logger) *Client {
	def := DefaultClientConfig()
	if cfg.URL == "" {
		cfg.URL = def.URL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}

	c := &Client{
		config:     cfg,
		httpClient: &http.Client{},
		tokens:     tokens,
		logger:     logger.With().Str("component", "inference-client").Logger(),
		now:        time.Now,
		tracer:     otel.Tracer(instrumentationName),
	}

	meter := otel.Meter(instrumentationName)
	var err error
	if c.requests, err = meter.Int64Counter("inference.requests",
		metric.WithDescription("Inference requests by outcome")); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to create request counter")
	}
	if c.latency, err = meter.Float64Histogram("inference.latency",
		metric.WithDescription("Inference request latency"),
		metric.WithUnit("ms")); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to create latency histogram")
	}
	return c
}

// Send implements Service.
func (c *Client) Send(ctx context.Context, req Request) (*Reply, error) {
	start := c.now()

	token, err := c.token(ctx)
	if err != nil {
		c.record(ctx, KindUnauthenticated, start)
		return nil, err
	}

	ctx, span := c.tracer.Start(ctx, "inference.send", trace.WithAttributes(
		attribute.Int("history.length", len(req.ConversationHistory)),
	))
	defer span.End()

	reply, err := c.post(ctx, token, req)
	outcome := ErrorKind("ok")
	if err != nil {
		outcome = KindOf(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(outcome))
	}
	c.record(ctx, outcome, start)
	return reply, err
}

func (c *Client) token(ctx context.Context) (string, error) {
	if c.tokens == nil {
		return "", &Error{Kind: KindUnauthenticated, Err: ErrNoToken}
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		if !errors.Is(err, ErrNoToken) {
			err = fmt.Errorf("%w: %v", ErrNoToken, err)
		}
		return "", &Error{Kind: KindUnauthenticated, Err: err}
	}
	if token == "" {
		return "", &Error{Kind: KindUnauthenticated, Err: ErrNoToken}
	}
	if expired(token, c.now()) {
		return "", &Error{Kind: KindUnauthenticated, Err: ErrTokenExpired}
	}
	return token, nil
}

func (c *Client) post(ctx context.Context, token string, req Request) (*Reply, error) {
	if req.ConversationHistory == nil {
		req.ConversationHistory = []conversation.ContextEntry{}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.URL, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Inference request failed")
		return nil, &Error{Kind: KindNetwork, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		io.Copy(io.Discard, resp.Body)
		c.logger.Warn().Int("status", resp.StatusCode).Msg("Inference service rejected credentials")
		return nil, &Error{Kind: KindUnauthenticated, Status: resp.StatusCode, Err: errors.New(http.StatusText(resp.StatusCode))}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Error().Int("status", resp.StatusCode).Str("body", string(snippet)).Msg("Inference service error")
		return nil, &Error{Kind: KindServerError, Status: resp.StatusCode, Err: fmt.Errorf("%s", bytes.TrimSpace(snippet))}
	}

	var reply Reply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		if ctx.Err() != nil {
			return nil, &Error{Kind: KindNetwork, Err: err}
		}
		return nil, &Error{Kind: KindServerError, Status: resp.StatusCode, Err: fmt.Errorf("failed to decode reply: %w", err)}
	}

	c.logger.Debug().
		Bool("suggestAppointment", reply.SuggestAppointment).
		Bool("conversationReset", reply.ConversationReset).
		Msg("Inference reply received")
	return &reply, nil
}

func (c *Client) record(ctx context.Context, outcome ErrorKind, start time.Time) {
	attrs := metric.WithAttributes(attribute.String("outcome", string(outcome)))
	if c.requests != nil {
		c.requests.Add(ctx, 1, attrs)
	}
	if c.latency != nil {
		c.latency.Record(ctx, float64(c.now().Sub(start).Milliseconds()), attrs)
	}
}
