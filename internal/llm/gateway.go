package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"cs4/internal/usage"
)

// Attempt describes one provider call, successful or not, for post-run
// analysis. Attempts are ephemeral unless a sink persists them.
type Attempt struct {
	RecordID string
	Stage    string
	Provider string
	Model    string
	Usage    TokenUsage
	Duration time.Duration
	Err      error
}

// AttemptSink receives every gateway attempt. Implementations must not
// block; failures to persist an attempt never fail the call.
type AttemptSink interface {
	RecordAttempt(a Attempt)
}

// GatewayConfig tunes the retry policy.
type GatewayConfig struct {
	MaxRetries  int           // total attempts per invoke (default 3)
	BackoffBase time.Duration // first backoff delay, doubled per retry (default 1s)
	BackoffMax  time.Duration // backoff ceiling (default 30s)
}

// DefaultGatewayConfig returns sensible defaults.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		MaxRetries:  3,
		BackoffBase: time.Second,
		BackoffMax:  30 * time.Second,
	}
}

// Gateway fronts one or more provider clients behind a single Invoke with a
// bounded retry loop. Every attempt, including failed ones, is recorded in
// the usage tracker with whatever token usage the provider reported.
type Gateway struct {
	clients map[string]Client // keyed by provider
	tracker *usage.Tracker
	sink    AttemptSink
	cfg     GatewayConfig
	logger  *zap.Logger
}

// NewGateway creates a gateway over the given clients. tracker is required;
// sink and logger may be nil.
func NewGateway(tracker *usage.Tracker, cfg GatewayConfig, logger *zap.Logger, clients ...Client) *Gateway {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	byProvider := make(map[string]Client, len(clients))
	for _, c := range clients {
		byProvider[c.Provider()] = c
	}
	return &Gateway{
		clients: byProvider,
		tracker: tracker,
		cfg:     cfg,
		logger:  logger,
	}
}

// SetAttemptSink attaches a sink that receives every attempt. Must be called
// before concurrent use.
func (g *Gateway) SetAttemptSink(sink AttemptSink) { g.sink = sink }

// Invoke sends the request to the provider inferred from req.Model,
// retrying transient failures up to the configured budget. Returns
// CallError{Kind: Invalid} without any provider call for malformed requests,
// and CallError{Kind: Exhausted} once the budget is spent.
func (g *Gateway) Invoke(ctx context.Context, req Request) (*Response, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, &CallError{Kind: Invalid, Cause: errors.New("empty prompt")}
	}
	if req.Model == "" {
		return nil, &CallError{Kind: Invalid, Cause: errors.New("empty model identifier")}
	}
	provider, err := DetectProvider(req.Model)
	if err != nil {
		return nil, &CallError{Kind: Invalid, Cause: err}
	}
	client, ok := g.clients[provider]
	if !ok {
		return nil, &CallError{Kind: Invalid, Provider: provider,
			Cause: errors.New("no client configured for provider")}
	}

	stage := usage.StageFromContext(ctx)
	recordID := RecordIDFromContext(ctx)
	var lastErr error

	for attempt := 1; attempt <= g.cfg.MaxRetries; attempt++ {
		if attempt > 1 {
			if err := g.backoff(ctx, attempt); err != nil {
				// Cancelled while waiting; no attempt was made, so no
				// usage is recorded for this iteration.
				return nil, &CallError{Kind: Exhausted, Provider: provider,
					Attempts: attempt - 1, Cause: err}
			}
		}

		start := time.Now()
		resp, err := client.Complete(ctx, req)
		elapsed := time.Since(start)

		observed := TokenUsage{}
		if resp != nil {
			observed = resp.Usage
		} else if ce := asCallError(err); ce != nil {
			// Partial usage from a failed attempt counts too.
			observed = ce.Usage
		}
		g.tracker.Record(provider, req.Model, stage, observed.Input, observed.Output)
		if g.sink != nil {
			g.sink.RecordAttempt(Attempt{
				RecordID: recordID,
				Stage:    stage,
				Provider: provider,
				Model:    req.Model,
				Usage:    observed,
				Duration: elapsed,
				Err:      err,
			})
		}

		if err == nil {
			return resp, nil
		}
		if !IsTransient(err) {
			return nil, err
		}

		lastErr = err
		g.logger.Warn("transient llm failure",
			zap.String("provider", provider),
			zap.String("model", req.Model),
			zap.Int("attempt", attempt),
			zap.Int("max_retries", g.cfg.MaxRetries),
			zap.Error(err))
	}

	return nil, &CallError{
		Kind:     Exhausted,
		Provider: provider,
		Attempts: g.cfg.MaxRetries,
		Cause:    lastErr,
	}
}

// backoff sleeps for an exponentially growing delay, aborting on ctx
// cancellation. attempt is the upcoming attempt number (>= 2).
func (g *Gateway) backoff(ctx context.Context, attempt int) error {
	delay := g.cfg.BackoffBase << uint(attempt-2)
	if delay > g.cfg.BackoffMax {
		delay = g.cfg.BackoffMax
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type recordIDKey struct{}

// WithRecordID tags the context with the record being processed, so attempt
// sinks can attribute calls per record.
func WithRecordID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, recordIDKey{}, id)
}

// RecordIDFromContext returns the record tag, or "".
func RecordIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(recordIDKey{}).(string)
	return id
}

func asCallError(err error) *CallError {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce
	}
	return nil
}
