package payment

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper runs ReapExpired on a fixed interval until its context ends.
type Sweeper struct {
	svc      *Service
	interval time.Duration
	logger   *slog.Logger
}

func NewSweeper(svc *Service, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{svc: svc, interval: interval, logger: logger}
}

func (w *Sweeper) Run(ctx context.Context) {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	w.logger.Info("funding sweeper started", "interval", w.interval.String())
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("funding sweeper stopped")
			return
		case <-t.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep runs one pass.
func (w *Sweeper) Sweep(ctx context.Context) int {
	n, err := w.svc.ReapExpired(ctx, w.svc.now())
	if err != nil {
		w.logger.Error("funding sweep failed", "expired", n, "error", err)
	} else if n > 0 {
		w.logger.Info("funding sweep", "expired", n)
	}
	return n
}
