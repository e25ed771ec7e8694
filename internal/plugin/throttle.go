package plugin

import (
	"context"
	"log/slog"

	"conductor/internal/config"
	"conductor/internal/event"
	"conductor/internal/ratelimit"
	"conductor/internal/recorder"
)

// Throttle paces steps. A task waiting on the limiter is queued in front of
// every step; the rate follows the configured phases.
func Throttle(host Host, cfg map[string]any) error {
	var tc config.ThrottleConfig
	if err := decode(cfg, &tc); err != nil {
		return err
	}
	if err := tc.Validate(); err != nil {
		return err
	}

	pacer := ratelimit.NewPacer(ratelimit.NewSchedule(tc))
	logger := host.Logger().With(slog.String("component", "throttle"))
	pacer.OnChange(func(perSecond float64) {
		logger.Debug("step rate changed", slog.Float64("rate", perSecond))
	})
	rec := host.Recorder()

	host.Bus().On(event.StepBefore, func(event.Event) {
		rec.Add("throttle", func(ctx context.Context) (any, error) {
			return nil, pacer.Wait(ctx)
		}, recorder.NoRetry())
	})
	return nil
}
