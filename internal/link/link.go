// Package link is the reliability layer between the renderer and the
// serial device: it owns the frame-id counter, the latest-packet
// buffer used for heartbeats and NACK resends, and the write-failure
// escalation that drives reconnects.
package link

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mirrorlab/mirrorlink/internal/diag"
	"github.com/mirrorlab/mirrorlink/internal/frame"
	"github.com/mirrorlab/mirrorlink/internal/metrics"
	"github.com/mirrorlab/mirrorlink/internal/packet"
	"github.com/mirrorlab/mirrorlink/internal/panelmap"
	"github.com/mirrorlab/mirrorlink/internal/serialport"
	"github.com/mirrorlab/mirrorlink/internal/transport"
)

// State is the connection state machine:
// Disconnected -> Connecting -> Connected -> (Sending | AwaitingAck) -> Connected.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Sending
	AwaitingAck
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Sending:
		return "sending"
	case AwaitingAck:
		return "awaiting_ack"
	}
	return "unknown"
}

// Config tunes the reliability layer. Zero values pick the defaults
// the firmware was tested with.
type Config struct {
	// Encoding is the LED kind used for outgoing frames. The firmware
	// understands one encoding per build; there is no negotiation.
	Encoding packet.Kind
	// HeartbeatInterval is the period of verbatim latest-packet
	// rewrites. Firmware blanks outputs when the link stays silent, so
	// the heartbeat runs even when the rendered frame never changes.
	HeartbeatInterval time.Duration
	// MaxResendAttempts caps consecutive NACK-triggered resends.
	MaxResendAttempts int
	// WriteFailLimit is the consecutive-write-failure count that
	// triggers one reconnect cycle.
	WriteFailLimit int
	// TxBuffer is the depth of the async write queue.
	TxBuffer int
	// Reopen re-establishes the serial connection during a reconnect
	// cycle. Nil disables reconnects: the link just goes Disconnected.
	Reopen func() (serialport.Port, error)
	// ReconnectMaxElapsed bounds one reconnect cycle.
	ReconnectMaxElapsed time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Encoding == 0 {
		out.Encoding = packet.KindLED1CRC
	}
	if out.HeartbeatInterval <= 0 {
		out.HeartbeatInterval = 100 * time.Millisecond
	}
	if out.MaxResendAttempts <= 0 {
		out.MaxResendAttempts = 3
	}
	if out.WriteFailLimit <= 0 {
		out.WriteFailLimit = 5
	}
	if out.TxBuffer <= 0 {
		out.TxBuffer = 64
	}
	if out.ReconnectMaxElapsed <= 0 {
		out.ReconnectMaxElapsed = 15 * time.Second
	}
	return out
}

// Link drives one serial connection. All mutable state lives behind
// one mutex; writes go through a single async TX goroutine so frame,
// heartbeat and resend bytes never interleave mid-packet.
type Link struct {
	cfg    Config
	codec  *packet.Codec
	mapper *panelmap.Mapper
	diag   *diag.Hub
	log    *slog.Logger
	tx     *transport.AsyncTx

	mu             sync.Mutex
	port           serialport.Port
	state          State
	frameID        uint16
	latest         []byte
	latestID       uint16
	resendAttempts int
	writeFails     int
	reconnecting   bool

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	pongCh  chan struct{}
	readyCh chan struct{}
}

// New wires a Link over an open port. The diag hub may be nil. The
// link starts Connecting; the first successful write or the device's
// READY line promotes it to Connected.
func New(parent context.Context, port serialport.Port, mapper *panelmap.Mapper, codec *packet.Codec, d *diag.Hub, l *slog.Logger, cfg Config) *Link {
	if l == nil {
		l = slog.Default()
	}
	ctx, cancel := context.WithCancel(parent)
	lk := &Link{
		cfg:     cfg.withDefaults(),
		codec:   codec,
		mapper:  mapper,
		diag:    d,
		log:     l,
		port:    port,
		state:   Connecting,
		cancel:  cancel,
		pongCh:  make(chan struct{}, 1),
		readyCh: make(chan struct{}, 1),
	}
	lk.running.Store(true)
	metrics.SetLinkState(int(Connecting))
	hooks := transport.Hooks{
		OnError: lk.onWriteError,
		OnAfter: func(n int) {
			metrics.IncSerialTx(n)
			lk.onWriteOK()
		},
		OnDrop: func() error {
			metrics.IncError(metrics.ErrSerialOverflow)
			return ErrTxOverflow
		},
	}
	lk.tx = transport.NewAsyncTx(ctx, lk.cfg.TxBuffer, lk.writePort, hooks)

	lk.wg.Add(2)
	go lk.heartbeatLoop(ctx)
	go lk.readLoop(ctx)
	return lk
}

// State returns the current connection state.
func (l *Link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// FrameID returns the most recently reserved frame id.
func (l *Link) FrameID() uint16 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.frameID
}

func (l *Link) setState(s State) {
	l.state = s
	metrics.SetLinkState(int(s))
}

// SendFrame remaps f, encodes it in the configured kind and queues it
// for transmission. The frame id is reserved under the lock before the
// enqueue, so concurrent senders never mint duplicates; an enqueue
// failure burns its id. On success the exact bytes are retained for
// heartbeats and resends, and the resend counter resets.
func (l *Link) SendFrame(f *frame.Frame) error {
	if !l.running.Load() {
		return ErrClosed
	}
	remapped := l.mapper.Remap(f)

	l.mu.Lock()
	if l.port == nil {
		l.mu.Unlock()
		return ErrNotConnected
	}
	l.frameID++ // wraps mod 65536 by uint16 arithmetic
	id := l.frameID
	pkt, err := l.codec.EncodeFrame(&remapped, l.cfg.Encoding, id)
	if err != nil {
		l.frameID-- // nothing left the lock with this id
		l.mu.Unlock()
		metrics.IncError(metrics.ErrEncode)
		return fmt.Errorf("encode frame: %w", err)
	}
	l.setState(Sending)
	l.mu.Unlock()

	if err := l.tx.Send(pkt); err != nil {
		l.mu.Lock()
		if l.state == Sending {
			l.setState(Connected)
		}
		l.mu.Unlock()
		return err
	}

	l.mu.Lock()
	if id == l.frameID { // newest reservation keeps the retained slot
		l.latest = pkt
		l.latestID = id
		l.resendAttempts = 0
	}
	if l.cfg.Encoding == packet.KindLED1CRC {
		l.setState(AwaitingAck)
	} else {
		l.setState(Connected)
	}
	l.mu.Unlock()
	return nil
}

// SendAngles encodes a servo packet and queues it. Servo packets are
// not retained: the heartbeat keeps the LED frame alive, servos hold
// their last commanded position on their own.
func (l *Link) SendAngles(angles []float64) error {
	if !l.running.Load() {
		return ErrClosed
	}
	pkt, err := l.codec.EncodeServo(angles)
	if err != nil {
		metrics.IncError(metrics.ErrEncode)
		return fmt.Errorf("encode servo: %w", err)
	}
	return l.tx.Send(pkt)
}

// HeartbeatTick rewrites the latest packet verbatim. No-op until the
// first frame has been sent.
func (l *Link) HeartbeatTick() {
	l.mu.Lock()
	pkt := l.latest
	l.mu.Unlock()
	if pkt == nil {
		return
	}
	if err := l.tx.Send(pkt); err == nil {
		metrics.IncHeartbeat()
	}
}

// ResendLatest re-sends the exact last-sent bytes, gated by the
// resend cap. The frame id is untouched: the receiver must see the
// bytes it originally NACKed, even if application state moved on.
func (l *Link) ResendLatest() {
	l.mu.Lock()
	if l.latest == nil {
		l.mu.Unlock()
		return
	}
	if l.resendAttempts >= l.cfg.MaxResendAttempts {
		l.mu.Unlock()
		metrics.IncResendSuppressed()
		return
	}
	l.resendAttempts++
	pkt := l.latest
	id := l.latestID
	attempt := l.resendAttempts
	l.mu.Unlock()

	if err := l.tx.Send(pkt); err != nil {
		l.log.Warn("resend_enqueue_failed", "error", err, "frame_id", id)
		return
	}
	metrics.IncResend()
	l.log.Info("nack_resend", "frame_id", id, "attempt", attempt, "max", l.cfg.MaxResendAttempts)
}

// SendPing queues a ping packet and waits for the device's PONG line.
func (l *Link) SendPing(ctx context.Context) error {
	if !l.running.Load() {
		return ErrClosed
	}
	// drain any stale confirmation
	select {
	case <-l.pongCh:
	default:
	}
	if err := l.tx.Send(l.codec.EncodePing()); err != nil {
		return err
	}
	select {
	case <-l.pongCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrPingTimeout, ctx.Err())
	}
}

// OnInboundLine classifies one status line from the device. NACK
// lines trigger a capped resend, PONG confirms link health, READY
// marks a (re)boot; everything else is fanned out as a diagnostic.
func (l *Link) OnInboundLine(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	metrics.IncRxLine()
	switch {
	case strings.HasPrefix(line, "NACK"):
		metrics.IncNack()
		l.ResendLatest()
	case strings.Contains(line, "PONG"):
		metrics.IncPong()
		l.mu.Lock()
		if l.state == AwaitingAck || l.state == Sending {
			l.setState(Connected)
		}
		l.mu.Unlock()
		select {
		case l.pongCh <- struct{}{}:
		default:
		}
	case line == "READY":
		l.mu.Lock()
		if l.state == Connecting {
			l.setState(Connected)
		}
		l.mu.Unlock()
		select {
		case l.readyCh <- struct{}{}:
		default:
		}
		l.log.Info("device_ready")
	default:
		l.log.Debug("device_line", "line", line)
	}
	if l.diag != nil {
		l.diag.Broadcast(line)
	}
}

// Close shuts the link down; all loops observe it promptly.
func (l *Link) Close() {
	if !l.running.Swap(false) {
		return
	}
	l.cancel()
	l.tx.Close()
	l.mu.Lock()
	if l.port != nil {
		_ = l.port.Close()
	}
	l.setState(Disconnected)
	l.mu.Unlock()
	l.wg.Wait()
}
