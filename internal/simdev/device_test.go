package simdev

import (
	"strings"
	"testing"
	"time"

	"github.com/mirrorlab/mirrorlink/internal/frame"
	"github.com/mirrorlab/mirrorlink/internal/packet"
)

func readLine(t *testing.T, d *Device, timeout time.Duration) string {
	t.Helper()
	deadline := time.Now().Add(timeout)
	var acc strings.Builder
	buf := make([]byte, 64)
	for time.Now().Before(deadline) {
		n, err := d.Read(buf)
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		if n > 0 {
			acc.Write(buf[:n])
			if strings.Contains(acc.String(), "\n") {
				return strings.TrimSpace(acc.String())
			}
			continue
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("no line within %v (got %q so far)", timeout, acc.String())
	return ""
}

func TestDevice_BootBanner(t *testing.T) {
	d := New(6, 5*time.Millisecond)
	defer d.Close()
	if got := readLine(t, d, time.Second); got != "READY" {
		t.Fatalf("boot line = %q, want READY", got)
	}
}

func TestDevice_FrameSplitAcrossWrites(t *testing.T) {
	d := New(6, 0)
	defer d.Close()
	codec := &packet.Codec{}

	var f frame.Frame
	f.Fill(255)
	pkt := codec.EncodeLED8(&f)

	// drip the packet in three unequal slices
	for _, part := range [][]byte{pkt[:100], pkt[100:2000], pkt[2000:]} {
		if _, err := d.Write(part); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if got := d.Packets(); got != 1 {
		t.Fatalf("parsed %d packets, want 1", got)
	}
	leds := d.LEDState()
	if leds[0] != 255 || leds[frame.Pixels-1] != 255 {
		t.Fatalf("LED state not applied")
	}
}

func TestDevice_PongOnPing(t *testing.T) {
	d := New(6, time.Hour) // keep READY out of the way
	defer d.Close()
	codec := &packet.Codec{}
	if _, err := d.Write(codec.EncodePing()); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := readLine(t, d, time.Second); !strings.Contains(got, "PONG") {
		t.Fatalf("got %q, want PONG", got)
	}
}

func TestDevice_NackOnCorruptCRC(t *testing.T) {
	d := New(6, time.Hour)
	defer d.Close()
	codec := &packet.Codec{}

	var f frame.Frame
	f.FillPanel(1, 255)
	pkt := codec.EncodeLED1CRC(&f, 99)
	pkt[20] ^= 0xFF
	if _, err := d.Write(pkt); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got := readLine(t, d, time.Second)
	if !strings.HasPrefix(got, "NACK") || !strings.Contains(got, "99") {
		t.Fatalf("got %q, want NACK carrying frame id 99", got)
	}
	if d.Packets() != 0 {
		t.Fatalf("corrupt frame counted as applied")
	}

	// an intact retransmission goes through
	if _, err := d.Write(codec.EncodeLED1CRC(&f, 99)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if d.Packets() != 1 || d.LastFrameID() != 99 {
		t.Fatalf("resend not applied: packets=%d id=%d", d.Packets(), d.LastFrameID())
	}
}

func TestDevice_ServoBootPosition(t *testing.T) {
	d := New(6, 0)
	defer d.Close()
	for i, a := range d.ServoAngles() {
		if a != 90 {
			t.Fatalf("channel %d boots at %.1f, want 90", i, a)
		}
	}
	codec := &packet.Codec{}
	pkt, err := codec.EncodeServo([]float64{0, 45, 90, 135, 180, 90})
	if err != nil {
		t.Fatalf("EncodeServo: %v", err)
	}
	if _, err := d.Write(pkt); err != nil {
		t.Fatalf("Write: %v", err)
	}
	angles := d.ServoAngles()
	if angles[4] < 179.9 || angles[4] > 180.1 {
		t.Fatalf("channel 4 = %.2f, want ~180", angles[4])
	}
	if angles[0] != 0 {
		t.Fatalf("channel 0 = %.2f, want 0", angles[0])
	}
}

func TestDevice_ClosedReadsFail(t *testing.T) {
	d := New(6, 0)
	_ = d.Close()
	if _, err := d.Read(make([]byte, 8)); err == nil {
		t.Fatalf("read after close must fail")
	}
	if _, err := d.Write([]byte{0x01}); err == nil {
		t.Fatalf("write after close must fail")
	}
}
