// Package packet implements the serial wire protocol spoken by the
// LED-matrix/servo controller. Every packet starts with the two-byte
// header 0xAA 0xBB followed by a type byte; LED payloads carry the
// 2048 pixels of a 32x64 frame in physical transmission order.
package packet

import "github.com/mirrorlab/mirrorlink/internal/frame"

// Header bytes preceding every packet.
const (
	Hdr0 = 0xAA
	Hdr1 = 0xBB
)

// Kind is the wire type byte.
type Kind byte

const (
	KindLED8    Kind = 0x01 // 2048 raw brightness bytes
	KindServo   Kind = 0x02 // N big-endian u16 values in [0,1000]
	KindLED1    Kind = 0x03 // 256 bytes, 8 pixels/byte MSB first
	KindLEDRLE  Kind = 0x04 // u16 length + (count,value) pairs
	KindPing    Kind = 0x05 // no payload
	KindLED1CRC Kind = 0x07 // u16 frame id + 256 packed bytes + u16 CRC
)

func (k Kind) String() string {
	switch k {
	case KindLED8:
		return "led8"
	case KindServo:
		return "servo"
	case KindLED1:
		return "led1"
	case KindLEDRLE:
		return "rle"
	case KindPing:
		return "ping"
	case KindLED1CRC:
		return "led1crc"
	}
	return "unknown"
}

// Fixed sizes (header + type + payload [+ trailer]).
const (
	sizeLED8    = 3 + frame.Pixels      // 2051
	sizeLED1    = 3 + frame.Pixels/8    // 259
	sizePing    = 3                     // header + type only
	sizeLED1CRC = 3 + 2 + frame.Pixels/8 + 2 // 263
	rleHdrSize  = 5                     // header + type + u16 payload length
)

// BitThreshold is the brightness cutoff for 1-bit packing: pixels
// strictly above it are lit.
const BitThreshold = 127

// DefaultServoChannels matches the six-servo rig the firmware ships
// with; the codec accepts any count the caller configures.
const DefaultServoChannels = 6

// Packet is the decoded form of one wire packet. It is a sealed sum
// type: exactly the six kinds below implement it, each carrying only
// the fields valid for its kind.
type Packet interface {
	Kind() Kind
}

// LED8 is a full-brightness frame (kind 0x01).
type LED8 struct {
	Pixels [frame.Pixels]uint8
}

func (LED8) Kind() Kind { return KindLED8 }

// Servo carries raw wire values, one per channel (kind 0x02). A value
// v encodes the angle v/1000*180 degrees.
type Servo struct {
	Values []uint16
}

func (Servo) Kind() Kind { return KindServo }

// Angles converts the wire values to degrees.
func (p Servo) Angles() []float64 {
	out := make([]float64, len(p.Values))
	for i, v := range p.Values {
		out[i] = float64(v) / 1000 * 180
	}
	return out
}

// LED1 is a 1-bit packed frame (kind 0x03).
type LED1 struct {
	Bits [frame.Pixels / 8]byte
}

func (LED1) Kind() Kind { return KindLED1 }

// Pixels expands the packed bits to 2048 brightness values (0 or 255).
func (p LED1) Pixels() [frame.Pixels]uint8 { return unpackBits(p.Bits) }

// LEDRLE is a run-length-encoded binary frame (kind 0x04). Runs holds
// the raw alternating (count, value) byte pairs from the wire.
type LEDRLE struct {
	Runs []byte
}

func (LEDRLE) Kind() Kind { return KindLEDRLE }

// Pixels expands the runs, truncating at 2048 pixels. Short payloads
// leave the tail dark.
func (p LEDRLE) Pixels() [frame.Pixels]uint8 {
	var out [frame.Pixels]uint8
	n := 0
	for i := 0; i+1 < len(p.Runs) && n < frame.Pixels; i += 2 {
		count := int(p.Runs[i])
		value := p.Runs[i+1]
		for j := 0; j < count && n < frame.Pixels; j++ {
			out[n] = value
			n++
		}
	}
	return out
}

// Ping is a link probe (kind 0x05); the device answers with a PONG line.
type Ping struct{}

func (Ping) Kind() Kind { return KindPing }

// LED1CRC is a 1-bit packed frame with sequence number and checksum
// (kind 0x07). The CRC covers type byte, frame id and packed data.
type LED1CRC struct {
	FrameID uint16
	Bits    [frame.Pixels / 8]byte
}

func (LED1CRC) Kind() Kind { return KindLED1CRC }

// Pixels expands the packed bits to 2048 brightness values (0 or 255).
func (p LED1CRC) Pixels() [frame.Pixels]uint8 { return unpackBits(p.Bits) }

func unpackBits(bits [frame.Pixels / 8]byte) [frame.Pixels]uint8 {
	var out [frame.Pixels]uint8
	for i, b := range bits {
		for bit := 0; bit < 8; bit++ {
			if b&(0x80>>uint(bit)) != 0 {
				out[i*8+bit] = 255
			}
		}
	}
	return out
}

// Codec encodes and decodes the six wire kinds. The zero value uses
// DefaultServoChannels; it is safe for concurrent use as long as the
// hook fields are not mutated while decoding.
type Codec struct {
	// ServoChannels is the channel count servo payloads are sized to.
	// The wire carries no length field for kind 0x02, so encoder and
	// decoder must agree on it up front.
	ServoChannels int

	// OnCRCMismatch, if set, is called with the frame id of every kind
	// 0x07 packet rejected for checksum failure.
	OnCRCMismatch func(frameID uint16)
}

func (c *Codec) servoChannels() int {
	if c.ServoChannels > 0 {
		return c.ServoChannels
	}
	return DefaultServoChannels
}
