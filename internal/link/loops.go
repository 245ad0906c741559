package link

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/mirrorlab/mirrorlink/internal/metrics"
	"github.com/mirrorlab/mirrorlink/internal/serialport"
)

const (
	readBufSize  = 512
	rxBackoffMin = 20 * time.Millisecond
	rxBackoffMax = 500 * time.Millisecond
)

// writePort is the AsyncTx send function: one outbound write per
// frame/heartbeat/resend/ping, against whatever port is current.
func (l *Link) writePort(pkt []byte) error {
	l.mu.Lock()
	p := l.port
	l.mu.Unlock()
	if p == nil {
		return ErrNotConnected
	}
	_, err := p.Write(pkt)
	return err
}

func (l *Link) onWriteOK() {
	l.mu.Lock()
	l.writeFails = 0
	if l.state == Connecting {
		l.setState(Connected)
	}
	l.mu.Unlock()
}

// onWriteError treats a failed or timed-out write as transient until
// the consecutive-failure limit is hit, then escalates to a single
// reconnect cycle.
func (l *Link) onWriteError(err error) {
	metrics.IncError(metrics.ErrSerialWrite)
	l.log.Warn("serial_write_error", "error", err)
	l.mu.Lock()
	l.writeFails++
	trigger := l.writeFails >= l.cfg.WriteFailLimit && !l.reconnecting
	if trigger {
		l.reconnecting = true
	}
	l.mu.Unlock()
	if trigger {
		go l.reconnect()
	}
}

// reconnect runs one close/reopen/re-handshake cycle. On failure the
// link reports Disconnected rather than retrying forever.
func (l *Link) reconnect() {
	defer func() {
		l.mu.Lock()
		l.reconnecting = false
		l.mu.Unlock()
	}()

	if l.cfg.Reopen == nil {
		l.mu.Lock()
		l.setState(Disconnected)
		l.mu.Unlock()
		l.log.Error("link_disconnected", "reason", "write failures, no reopen configured")
		return
	}

	metrics.IncReconnect()
	l.mu.Lock()
	l.setState(Connecting)
	old := l.port
	l.port = nil
	l.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxElapsedTime = l.cfg.ReconnectMaxElapsed

	var fresh serialport.Port
	op := func() error {
		if !l.running.Load() {
			return backoff.Permanent(ErrClosed)
		}
		p, err := l.cfg.Reopen()
		if err != nil {
			return err
		}
		fresh = p
		return nil
	}
	if err := backoff.Retry(op, bo); err != nil {
		metrics.IncError(metrics.ErrReconnect)
		l.mu.Lock()
		l.setState(Disconnected)
		l.mu.Unlock()
		l.log.Error("reconnect_failed", "error", err)
		return
	}

	l.mu.Lock()
	l.port = fresh
	l.writeFails = 0
	l.setState(Connected)
	l.mu.Unlock()
	l.log.Info("reconnected")
}

// WaitReady blocks until the device emits its READY boot line or the
// context expires. Used once at startup and after firmware resets.
func (l *Link) WaitReady(ctx context.Context) error {
	select {
	case <-l.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Link) heartbeatLoop(ctx context.Context) {
	defer l.wg.Done()
	t := time.NewTicker(l.cfg.HeartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if !l.running.Load() {
				return
			}
			l.HeartbeatTick()
		case <-ctx.Done():
			return
		}
	}
}

// readLoop drains the port and splits newline-terminated status
// lines. Read timeouts surface as n==0 with a nil or EOF error and
// just spin the loop, so shutdown is observed promptly.
func (l *Link) readLoop(ctx context.Context) {
	defer l.wg.Done()
	defer l.log.Debug("link_rx_end")
	buf := make([]byte, readBufSize)
	var acc bytes.Buffer
	bo := rxBackoffMin
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if !l.running.Load() {
			return
		}
		l.mu.Lock()
		p := l.port
		l.mu.Unlock()
		if p == nil {
			time.Sleep(rxBackoffMin)
			continue
		}
		n, err := p.Read(buf)
		if n > 0 {
			acc.Write(buf[:n])
			for {
				idx := bytes.IndexByte(acc.Bytes(), '\n')
				if idx < 0 {
					break
				}
				line := string(acc.Bytes()[:idx])
				acc.Next(idx + 1)
				l.OnInboundLine(line)
			}
			bo = rxBackoffMin
		}
		if n == 0 && err == nil {
			// timeout-style read returned nothing; don't spin hot
			time.Sleep(rxBackoffMin)
			continue
		}
		if err != nil {
			if ctx.Err() != nil { // shutting down
				return
			}
			var perr *os.PathError
			if errors.As(err, &perr) {
				return // device removed or fatal
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				continue // read timeout / transient EOF
			}
			metrics.IncError(metrics.ErrSerialRead)
			l.log.Warn("serial_read_error", "error", err, "backoff", bo)
			time.Sleep(bo)
			bo *= 2
			if bo > rxBackoffMax {
				bo = rxBackoffMax
			}
		}
	}
}
