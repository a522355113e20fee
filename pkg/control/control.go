package control

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/replcheck/pkg/events"
	"github.com/cuemby/replcheck/pkg/log"
	"github.com/rs/zerolog"
)

// Actions understood by cluster control
const (
	ActionStop    = "stop"
	ActionPromote = "promote"
)

// Control stops and promotes database nodes. Implementations are opaque to
// the harness, which only looks at the returned error.
type Control interface {
	Stop(ctx context.Context, node string) error
	Promote(ctx context.Context, node string) error
}

// Observed wraps a Control, logging every call and publishing it on the bus
type Observed struct {
	inner  Control
	bus    *events.Bus
	logger zerolog.Logger
}

// Observe wraps c. A nil bus only logs.
func Observe(c Control, bus *events.Bus) *Observed {
	return &Observed{
		inner:  c,
		bus:    bus,
		logger: log.WithComponent("control"),
	}
}

func (o *Observed) Stop(ctx context.Context, node string) error {
	return o.call(ctx, ActionStop, node, o.inner.Stop)
}

func (o *Observed) Promote(ctx context.Context, node string) error {
	return o.call(ctx, ActionPromote, node, o.inner.Promote)
}

func (o *Observed) call(ctx context.Context, action, node string, fn func(context.Context, string) error) error {
	o.logger.Info().Str("action", action).Str("node", node).Msg("Invoking cluster control")

	start := time.Now()
	err := fn(ctx, node)
	duration := time.Since(start)

	result := "ok"
	if err != nil {
		result = "error"
		o.logger.Error().Err(err).Str("action", action).Str("node", node).Dur("duration", duration).Msg("Cluster control failed")
	} else {
		o.logger.Info().Str("action", action).Str("node", node).Dur("duration", duration).Msg("Cluster control succeeded")
	}

	o.bus.Publish(&events.Event{
		Type:    events.EventControlInvoked,
		Message: fmt.Sprintf("%s %s: %s", action, node, result),
		Metadata: map[string]string{
			"action":   action,
			"node":     node,
			"result":   result,
			"duration": duration.String(),
		},
	})
	return err
}
