package link

import (
	"context"
	"testing"
	"time"

	"github.com/mirrorlab/mirrorlink/internal/frame"
	"github.com/mirrorlab/mirrorlink/internal/packet"
	"github.com/mirrorlab/mirrorlink/internal/panelmap"
	"github.com/mirrorlab/mirrorlink/internal/simdev"
)

// End-to-end over the simulated controller: real codec on both sides,
// real read loop, no hardware.
func TestLink_OverSimulatedDevice(t *testing.T) {
	dev := simdev.New(6, 5*time.Millisecond)
	lk := New(context.Background(), dev, panelmap.New(panelmap.Raw), &packet.Codec{}, nil, nil, Config{
		HeartbeatInterval: time.Hour,
	})
	t.Cleanup(lk.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := lk.WaitReady(ctx); err != nil {
		t.Fatalf("device never booted: %v", err)
	}

	var f frame.Frame
	f.FillPanel(1, 255)
	f.FillPanel(8, 255)
	if err := lk.SendFrame(&f); err != nil {
		t.Fatalf("SendFrame: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for dev.LastFrameID() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("device never applied frame 1 (packets=%d)", dev.Packets())
		}
		time.Sleep(2 * time.Millisecond)
	}
	want := f.Threshold(packet.BitThreshold)
	if got := dev.LEDState(); got != want.Pix {
		t.Fatalf("device LED state does not match the sent frame")
	}

	if err := lk.SendPing(ctx); err != nil {
		t.Fatalf("SendPing over sim device: %v", err)
	}

	if err := lk.SendAngles([]float64{10, 20, 30, 40, 50, 60}); err != nil {
		t.Fatalf("SendAngles: %v", err)
	}
	deadline = time.Now().Add(2 * time.Second)
	for {
		angles := dev.ServoAngles()
		if angles[5] > 59 && angles[5] < 61 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("servo angles never applied: %v", angles)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// A corrupted frame on the wire provokes the device's NACK, which the
// link answers with a byte-identical resend the device then accepts.
func TestLink_NackResendRecovers(t *testing.T) {
	dev := simdev.New(6, time.Hour)
	lk := New(context.Background(), dev, panelmap.New(panelmap.Raw), &packet.Codec{}, nil, nil, Config{
		HeartbeatInterval: time.Hour,
	})
	t.Cleanup(lk.Close)

	var f frame.Frame
	f.FillPanel(3, 255)
	if err := lk.SendFrame(&f); err != nil {
		t.Fatalf("SendFrame: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for dev.LastFrameID() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("frame never arrived")
		}
		time.Sleep(2 * time.Millisecond)
	}

	// The device NACKs an id it claims it rejected; the link resends the
	// latest bytes and the (intact) frame is applied again.
	before := dev.Packets()
	dev.InjectLine("NACK 1 CRC")
	deadline = time.Now().Add(2 * time.Second)
	for dev.Packets() == before {
		if time.Now().After(deadline) {
			t.Fatalf("resend never reached the device")
		}
		time.Sleep(2 * time.Millisecond)
	}
	if dev.LastFrameID() != 1 {
		t.Fatalf("resend changed the frame id to %d", dev.LastFrameID())
	}
}
