package inventory

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// defaultSweepInterval is how often the sweeper scans for expired
// reservations.
const defaultSweepInterval = time.Minute

// Sweeper periodically releases reservations whose TTL elapsed without a
// confirm or release, through the engine's shared release path.
type Sweeper struct {
	service  Service
	interval time.Duration
	logger   *zap.Logger
	done     chan struct{}
}

func NewSweeper(service Service, interval time.Duration, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	return &Sweeper{
		service:  service,
		interval: interval,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start runs the sweep loop until Stop is called or ctx is cancelled.
func (sw *Sweeper) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(sw.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				sw.sweep(ctx)
			case <-ctx.Done():
				return
			case <-sw.done:
				return
			}
		}
	}()
}

func (sw *Sweeper) Stop() {
	close(sw.done)
}

func (sw *Sweeper) sweep(ctx context.Context) {
	released, err := sw.service.ReleaseExpired(ctx, time.Now())
	if err != nil {
		sw.logger.Error("Expiry sweep failed", zap.Error(err))
		return
	}
	if released > 0 {
		sw.logger.Info("Expiry sweep released reservations", zap.Int("orders", released))
	}
}
