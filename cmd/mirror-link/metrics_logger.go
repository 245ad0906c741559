package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mirrorlab/mirrorlink/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"tx_packets", snap.TxPackets,
					"tx_bytes", snap.TxBytes,
					"rx_lines", snap.RxLines,
					"nacks", snap.Nacks,
					"pongs", snap.Pongs,
					"resends", snap.Resends,
					"heartbeats", snap.Heartbeats,
					"reconnects", snap.Reconnects,
					"crc_mismatches", snap.CRCMismatches,
					"diag_drops", snap.DiagDrops,
					"errors", snap.Errors,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
