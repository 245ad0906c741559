package packet

import (
	"bytes"
	"encoding/binary"

	"github.com/mirrorlab/mirrorlink/internal/crc"
	"github.com/mirrorlab/mirrorlink/internal/frame"
	"github.com/mirrorlab/mirrorlink/internal/metrics"
)

// CompactBuffer reclaims consumed prefix capacity when the underlying
// buffer grows too large relative to unread bytes. It returns true if
// compaction occurred. Thresholds chosen to avoid excessive copying.
func CompactBuffer(b *bytes.Buffer) bool {
	data := b.Bytes()
	// If buffer size < 1KB, skip.
	if len(data) < 1024 {
		return false
	}
	// If unread < 25% of capacity, compact.
	if cap(data) > 0 && len(data)*4 < cap(data) {
		clone := make([]byte, len(data))
		copy(clone, data)
		b.Reset()
		_, _ = b.Write(clone)
		return true
	}
	return false
}

// DecodeStream consumes complete packets from in and emits them via
// out. It never fails on malformed input: bytes before a header are
// skipped, an unknown type byte after a valid header costs only the
// two header bytes (the unknown byte may start the next header), and
// a partial packet is left in the buffer for the next read. A kind
// 0x07 packet whose checksum does not match is consumed and dropped;
// the OnCRCMismatch hook sees its frame id.
//
// Example (kind 0x05, ping):
// AA BB - header
// 05    - type
//
// Example (kind 0x04, RLE, one full-on frame):
// AA BB 04 00 12  followed by 9 (count,value) pairs of FF FF ... 08 FF
func (c *Codec) DecodeStream(in *bytes.Buffer, out func(Packet)) error {
	header := []byte{Hdr0, Hdr1}

	for {
		data := in.Bytes()
		// Periodically compact to avoid unbounded growth from misaligned garbage
		_ = CompactBuffer(in)
		if len(data) < 2 {
			return nil
		}

		// align to header
		i := bytes.Index(data, header)
		if i < 0 {
			// keep last byte in case next buffer starts with the header's second byte
			if in.Len() > 1 {
				last := data[len(data)-1]
				in.Reset()
				_ = in.WriteByte(last)
			}
			return nil
		}
		if i > 0 {
			in.Next(i)
			continue
		}

		// header at start; need type byte
		if len(data) < 3 {
			return nil
		}

		switch Kind(data[2]) {
		case KindLED8:
			if len(data) < sizeLED8 {
				return nil
			}
			var p LED8
			copy(p.Pixels[:], data[3:sizeLED8])
			out(p)
			metrics.IncDecoded()
			in.Next(sizeLED8)

		case KindServo:
			n := c.servoChannels()
			size := 3 + 2*n
			if len(data) < size {
				return nil
			}
			p := Servo{Values: make([]uint16, n)}
			for i := 0; i < n; i++ {
				p.Values[i] = binary.BigEndian.Uint16(data[3+2*i:])
			}
			out(p)
			metrics.IncDecoded()
			in.Next(size)

		case KindLED1:
			if len(data) < sizeLED1 {
				return nil
			}
			var p LED1
			copy(p.Bits[:], data[3:sizeLED1])
			out(p)
			metrics.IncDecoded()
			in.Next(sizeLED1)

		case KindLEDRLE:
			if len(data) < rleHdrSize {
				return nil
			}
			ln := int(binary.BigEndian.Uint16(data[3:5]))
			if len(data) < rleHdrSize+ln {
				return nil
			}
			p := LEDRLE{Runs: make([]byte, ln)}
			copy(p.Runs, data[rleHdrSize:rleHdrSize+ln])
			out(p)
			metrics.IncDecoded()
			in.Next(rleHdrSize + ln)

		case KindPing:
			out(Ping{})
			metrics.IncDecoded()
			in.Next(sizePing)

		case KindLED1CRC:
			if len(data) < sizeLED1CRC {
				return nil
			}
			id := binary.BigEndian.Uint16(data[3:5])
			want := binary.BigEndian.Uint16(data[sizeLED1CRC-2:])
			got := crc.Checksum16(data[2 : sizeLED1CRC-2])
			if got != want {
				// drop the logical frame, keep the stream alive
				metrics.IncCRCMismatch()
				if c.OnCRCMismatch != nil {
					c.OnCRCMismatch(id)
				}
				in.Next(sizeLED1CRC)
				continue
			}
			p := LED1CRC{FrameID: id}
			copy(p.Bits[:], data[5:5+frame.Pixels/8])
			out(p)
			metrics.IncDecoded()
			in.Next(sizeLED1CRC)

		default:
			// unknown type: discard only the header so the type byte can
			// start the next header scan
			metrics.IncMalformed()
			in.Next(2)
		}
	}
}
