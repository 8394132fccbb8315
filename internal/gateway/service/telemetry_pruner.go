package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Pruner is the store capability the retention loop needs.
type Pruner interface {
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// TelemetryPruner periodically deletes telemetry older than the retention
// period. A retention of 0 disables pruning entirely.
type TelemetryPruner struct {
	store     Pruner
	retention time.Duration
	interval  time.Duration
	logger    zerolog.Logger
	cancel    context.CancelFunc
	done      chan struct{}
}

// PrunerConfig holds the parameters for NewTelemetryPruner.
type PrunerConfig struct {
	// RetentionDays is how many days of telemetry to keep. 0 keeps
	// everything.
	RetentionDays int

	// IntervalHours is how often the pruner runs. Defaults to 6.
	IntervalHours int
}

// NewTelemetryPruner creates a pruner but does not start it.
func NewTelemetryPruner(s Pruner, cfg PrunerConfig, logger zerolog.Logger) *TelemetryPruner {
	interval := time.Duration(cfg.IntervalHours) * time.Hour
	if interval <= 0 {
		interval = 6 * time.Hour
	}

	return &TelemetryPruner{
		store:     s,
		retention: time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		interval:  interval,
		logger:    logger.With().Str("component", "pruner").Logger(),
		done:      make(chan struct{}),
	}
}

// Start runs an immediate prune, then repeats on the configured interval
// until ctx is cancelled or Stop is called.
func (p *TelemetryPruner) Start(ctx context.Context) {
	if p.retention <= 0 {
		p.logger.Info().Msg("telemetry pruner disabled (retention=0)")
		close(p.done)
		return
	}

	ctx, p.cancel = context.WithCancel(ctx)

	go p.loop(ctx)

	p.logger.Info().
		Int("retention_days", int(p.retention.Hours()/24)).
		Dur("interval", p.interval).
		Msg("telemetry pruner started")
}

// Stop signals the pruner to exit and waits for it to finish.
func (p *TelemetryPruner) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	<-p.done
}

func (p *TelemetryPruner) loop(ctx context.Context) {
	defer close(p.done)

	p.prune(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.prune(ctx)
		}
	}
}

func (p *TelemetryPruner) prune(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-p.retention)
	deleted, err := p.store.PruneOlderThan(ctx, cutoff)
	if err != nil {
		p.logger.Error().Err(err).Msg("telemetry prune failed")
		return
	}
	if deleted > 0 {
		p.logger.Info().Int64("deleted", deleted).Time("cutoff", cutoff).Msg("telemetry pruned")
	}
}
