package worker

import (
	"context"
	"log/slog"
	"time"
)

// Exporter writes every stored asset to an external spreadsheet.
type Exporter interface {
	ExportAll(ctx context.Context) (int, error)
}

// SyncWorker periodically mirrors stored assets to Google Sheets.
type SyncWorker struct {
	exporter Exporter
	interval time.Duration
}

// NewSyncWorker creates a new SyncWorker.
func NewSyncWorker(exporter Exporter, interval time.Duration) *SyncWorker {
	return &SyncWorker{exporter: exporter, interval: interval}
}

func (w *SyncWorker) sync(ctx context.Context, phase string) {
	start := time.Now()
	n, err := w.exporter.ExportAll(ctx)
	if err != nil {
		slog.Error("SyncWorker: export failed", "phase", phase, "error", err)
		return
	}
	slog.Info("SyncWorker: export completed", "phase", phase, "assets", n, "duration", time.Since(start))
}

// Run starts the sync loop. It exports once on startup and blocks until the context is cancelled.
func (w *SyncWorker) Run(ctx context.Context) {
	slog.Info("SyncWorker: starting", "interval", w.interval)

	w.sync(ctx, "initial")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("SyncWorker: shutting down")
			return
		case <-ticker.C:
			w.sync(ctx, "scheduled")
		}
	}
}
