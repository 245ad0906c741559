package packet

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/mirrorlab/mirrorlink/internal/crc"
	"github.com/mirrorlab/mirrorlink/internal/frame"
)

// ErrAngleCount is returned when the angle list does not match the
// configured channel count.
var ErrAngleCount = errors.New("packet: angle count mismatch")

// ErrAngleRange is returned for angles outside [0,180] degrees.
var ErrAngleRange = errors.New("packet: angle out of range")

// ErrUnsupportedKind is returned when EncodeFrame is asked for a kind
// that does not carry LED data.
var ErrUnsupportedKind = errors.New("packet: kind does not carry a frame")

// EncodeFrame builds the wire bytes for f in the given LED kind. The
// frame must already be in physical transmission order (the panel
// mapper's output); f is never mutated. frameID is used only by
// KindLED1CRC.
func (c *Codec) EncodeFrame(f *frame.Frame, k Kind, frameID uint16) ([]byte, error) {
	switch k {
	case KindLED8:
		return c.EncodeLED8(f), nil
	case KindLED1:
		return c.EncodeLED1(f), nil
	case KindLEDRLE:
		return c.EncodeRLE(f), nil
	case KindLED1CRC:
		return c.EncodeLED1CRC(f, frameID), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedKind, k)
}

// EncodeLED8 builds a kind 0x01 packet: 2048 raw brightness bytes.
func (c *Codec) EncodeLED8(f *frame.Frame) []byte {
	buf := make([]byte, sizeLED8)
	buf[0], buf[1], buf[2] = Hdr0, Hdr1, byte(KindLED8)
	copy(buf[3:], f.Pix[:])
	return buf
}

// EncodeLED1 builds a kind 0x03 packet: 256 bytes, 8 pixels per byte
// MSB first, lit above BitThreshold.
func (c *Codec) EncodeLED1(f *frame.Frame) []byte {
	buf := make([]byte, sizeLED1)
	buf[0], buf[1], buf[2] = Hdr0, Hdr1, byte(KindLED1)
	packBits(f, buf[3:])
	return buf
}

// EncodeLED1CRC builds a kind 0x07 packet: big-endian frame id, 256
// packed bytes, then a CRC-16/CCITT over type, id and data.
func (c *Codec) EncodeLED1CRC(f *frame.Frame, frameID uint16) []byte {
	buf := make([]byte, sizeLED1CRC)
	buf[0], buf[1], buf[2] = Hdr0, Hdr1, byte(KindLED1CRC)
	binary.BigEndian.PutUint16(buf[3:5], frameID)
	packBits(f, buf[5:5+frame.Pixels/8])
	sum := crc.Checksum16(buf[2 : sizeLED1CRC-2])
	binary.BigEndian.PutUint16(buf[sizeLED1CRC-2:], sum)
	return buf
}

// EncodeRLE builds a kind 0x04 packet. Pixels are thresholded to
// {0,255} first; runs longer than 255 are split.
func (c *Codec) EncodeRLE(f *frame.Frame) []byte {
	runs := make([]byte, 0, 128)
	cur := binaryValue(f.Pix[0])
	count := 0
	emit := func(n int, v byte) {
		for n > 255 {
			runs = append(runs, 255, v)
			n -= 255
		}
		if n > 0 {
			runs = append(runs, byte(n), v)
		}
	}
	for _, px := range f.Pix {
		v := binaryValue(px)
		if v == cur {
			count++
			continue
		}
		emit(count, cur)
		cur = v
		count = 1
	}
	emit(count, cur)

	buf := make([]byte, rleHdrSize+len(runs))
	buf[0], buf[1], buf[2] = Hdr0, Hdr1, byte(KindLEDRLE)
	binary.BigEndian.PutUint16(buf[3:5], uint16(len(runs)))
	copy(buf[rleHdrSize:], runs)
	return buf
}

// EncodeServo builds a kind 0x02 packet from angles in degrees. The
// count must match the configured channel count; each angle maps to a
// big-endian u16 in [0,1000] (angle/180*1000).
func (c *Codec) EncodeServo(angles []float64) ([]byte, error) {
	n := c.servoChannels()
	if len(angles) != n {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrAngleCount, len(angles), n)
	}
	buf := make([]byte, 3+2*n)
	buf[0], buf[1], buf[2] = Hdr0, Hdr1, byte(KindServo)
	for i, a := range angles {
		if a < 0 || a > 180 {
			return nil, fmt.Errorf("%w: channel %d = %.2f", ErrAngleRange, i, a)
		}
		v := uint16(a/180*1000 + 0.5)
		if v > 1000 {
			v = 1000
		}
		binary.BigEndian.PutUint16(buf[3+2*i:], v)
	}
	return buf, nil
}

// EncodePing builds a kind 0x05 packet (header and type byte only).
func (c *Codec) EncodePing() []byte {
	return []byte{Hdr0, Hdr1, byte(KindPing)}
}

func packBits(f *frame.Frame, dst []byte) {
	for i := range dst {
		var b byte
		for bit := 0; bit < 8; bit++ {
			if f.Pix[i*8+bit] > BitThreshold {
				b |= 0x80 >> uint(bit)
			}
		}
		dst[i] = b
	}
}

func binaryValue(px uint8) byte {
	if px > BitThreshold {
		return 255
	}
	return 0
}
