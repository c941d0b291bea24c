package llm

import (
	"context"
	"errors"
	"log/slog"

	"github.com/kessel-b2b/aigate/internal/port/outbound"
)

// FallbackClient retries a failed completion once on a fallback model.
// Cancellation and deadline errors are returned as is.
type FallbackClient struct {
	next   outbound.ModelClient
	model  string
	logger *slog.Logger
}

// NewFallbackClient wraps next. An empty model disables the retry.
func NewFallbackClient(next outbound.ModelClient, model string, logger *slog.Logger) *FallbackClient {
	return &FallbackClient{next: next, model: model, logger: logger}
}

// Complete implements outbound.ModelClient.
func (c *FallbackClient) Complete(ctx context.Context, req outbound.CompletionRequest) (*outbound.Completion, error) {
	comp, err := c.next.Complete(ctx, req)
	if err == nil || c.model == "" || req.Model == c.model {
		return comp, err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}
	c.logger.Warn("model completion failed, retrying on fallback model",
		"model", req.Model,
		"fallback", c.model,
		"error", err,
	)
	req.Model = c.model
	return c.next.Complete(ctx, req)
}

var _ outbound.ModelClient = (*FallbackClient)(nil)
