// Package simdev is a protocol-faithful stand-in for the embedded
// controller. It speaks the exact wire formats the link emits and
// exposes the resulting LED/servo state for assertions, so the codec
// and reliability layer can be exercised end to end without hardware.
package simdev

import (
	"bytes"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/mirrorlab/mirrorlink/internal/frame"
	"github.com/mirrorlab/mirrorlink/internal/packet"
)

// DefaultBootDelay mimics firmware boot latency before READY.
const DefaultBootDelay = 50 * time.Millisecond

// Device is one simulated controller instance. Construct as many as
// needed; there is no shared global. It implements serialport.Port.
type Device struct {
	mu          sync.Mutex
	rx          bytes.Buffer
	codec       packet.Codec
	leds        [frame.Pixels]uint8
	servos      []float64
	packets     uint64
	lastFrameID uint16
	out         [][]byte
	closed      bool

	bootTimer *time.Timer
}

// New builds a booted-after-delay device expecting servo payloads of
// the given channel count.
func New(servoChannels int, bootDelay time.Duration) *Device {
	if servoChannels <= 0 {
		servoChannels = packet.DefaultServoChannels
	}
	if bootDelay <= 0 {
		bootDelay = DefaultBootDelay
	}
	d := &Device{
		servos: make([]float64, servoChannels),
		codec:  packet.Codec{ServoChannels: servoChannels},
	}
	for i := range d.servos {
		d.servos[i] = 90 // servos boot at neutral
	}
	// Firmware NACKs checksum failures so the host can resend.
	d.codec.OnCRCMismatch = func(id uint16) {
		d.pushLocked(fmt.Sprintf("NACK %d CRC\n", id))
	}
	d.bootTimer = time.AfterFunc(bootDelay, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if !d.closed {
			d.pushLocked("READY\n")
		}
	})
	return d
}

// Write feeds host bytes into the device. Packets may arrive split
// across any number of calls; parsing resumes where it left off.
func (d *Device) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, os.ErrClosed
	}
	d.rx.Write(p)
	_ = d.codec.DecodeStream(&d.rx, d.applyLocked)
	return len(p), nil
}

// Read drains the device's pending output. An empty queue returns
// (0, nil), matching a serial read timeout.
func (d *Device) Read(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, os.ErrClosed
	}
	if len(d.out) == 0 {
		return 0, nil
	}
	n := copy(p, d.out[0])
	if n < len(d.out[0]) {
		d.out[0] = d.out[0][n:]
	} else {
		d.out = d.out[1:]
	}
	return n, nil
}

// Close stops the device; further reads and writes fail.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	if d.bootTimer != nil {
		d.bootTimer.Stop()
	}
	return nil
}

// InjectLine queues a raw status line (newline appended if missing)
// as if the firmware had printed it. Used by tests to provoke NACK
// and PONG handling.
func (d *Device) InjectLine(line string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	if len(line) == 0 || line[len(line)-1] != '\n' {
		line += "\n"
	}
	d.pushLocked(line)
}

// LEDState returns a copy of the 2048 brightness values.
func (d *Device) LEDState() [frame.Pixels]uint8 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.leds
}

// ServoAngles returns a copy of the current angles in degrees.
func (d *Device) ServoAngles() []float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]float64, len(d.servos))
	copy(out, d.servos)
	return out
}

// Packets returns how many packets the device has accepted.
func (d *Device) Packets() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.packets
}

// LastFrameID returns the id of the last accepted kind 0x07 packet.
func (d *Device) LastFrameID() uint16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastFrameID
}

func (d *Device) pushLocked(line string) {
	d.out = append(d.out, []byte(line))
}

func (d *Device) applyLocked(p packet.Packet) {
	d.packets++
	switch pkt := p.(type) {
	case packet.LED8:
		d.leds = pkt.Pixels
	case packet.LED1:
		d.leds = pkt.Pixels()
	case packet.LEDRLE:
		d.leds = pkt.Pixels()
	case packet.LED1CRC:
		d.leds = pkt.Pixels()
		d.lastFrameID = pkt.FrameID
	case packet.Servo:
		for i, a := range pkt.Angles() {
			if i < len(d.servos) {
				d.servos[i] = a
			}
		}
	case packet.Ping:
		d.pushLocked("PONG\n")
	}
}
