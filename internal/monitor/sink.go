package monitor

import (
	"context"

	"github.com/azrilxx/tradenestkgsb-sub002/internal/contracts"
)

// Sink receives every event a watch or the scanner emits.
type Sink interface {
	Publish(ctx context.Context, e contracts.UpdateEvent) error
}

type SinkFunc func(ctx context.Context, e contracts.UpdateEvent) error

func (f SinkFunc) Publish(ctx context.Context, e contracts.UpdateEvent) error { return f(ctx, e) }
