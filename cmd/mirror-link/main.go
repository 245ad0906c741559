package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/mirrorlab/mirrorlink/internal/link"
	"github.com/mirrorlab/mirrorlink/internal/metrics"
	"github.com/mirrorlab/mirrorlink/internal/packet"
)

func main() {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("mirror-link %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if cfg == nil {
		os.Exit(2)
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)
	h := initDiag(cfg, l)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	mapper, err := initMapper(cfg, l)
	if err != nil {
		l.Error("mapper_init_error", "error", err)
		os.Exit(1)
	}

	port, reopen, cleanup, berr := initBackend(cfg, l)
	if berr != nil {
		l.Error("backend_init_error", "error", berr)
		os.Exit(1)
	}

	kind, _ := ledKind(cfg.encoding) // validated in config
	codec := &packet.Codec{ServoChannels: cfg.servoChannels}
	lk := link.New(ctx, port, mapper, codec, h, l, link.Config{
		Encoding:          kind,
		HeartbeatInterval: cfg.heartbeat,
		MaxResendAttempts: cfg.maxResends,
		WriteFailLimit:    cfg.writeFailLimit,
		TxBuffer:          cfg.txBuffer,
		Reopen:            reopen,
	})
	l.Info("link_up", "backend", cfg.backend, "encoding", kind.String(), "heartbeat", cfg.heartbeat)

	// Log the device boot banner when it arrives; firmware blanks its
	// outputs on boot so the first frame after READY paints from scratch.
	wg.Add(1)
	go func() {
		defer wg.Done()
		waitCtx, waitCancel := context.WithTimeout(ctx, 5*time.Second)
		defer waitCancel()
		if err := lk.WaitReady(waitCtx); err != nil {
			l.Debug("device_ready_not_seen", "error", err)
			return
		}
		l.Info("device_booted")
	}()

	metrics.SetReadinessFunc(func() bool {
		if ctx.Err() != nil {
			return false
		}
		s := lk.State()
		return s == link.Connected || s == link.Sending || s == link.AwaitingAck
	})
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigCh
	l.Info("shutdown_signal", "signal", s.String())
	cancel()
	lk.Close()
	cleanup()
	wg.Wait()
}
