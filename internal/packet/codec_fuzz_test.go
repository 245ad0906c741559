package packet

import (
	"bytes"
	"testing"

	"github.com/mirrorlab/mirrorlink/internal/frame"
)

// FuzzDecodeStream ensures the stream decoder never panics and never
// loops on arbitrary byte soup.
func FuzzDecodeStream(f *testing.F) {
	codec := &Codec{ServoChannels: 6}
	var fr frame.Frame
	fr.FillPanel(5, 255)
	f.Add(codec.EncodeLED1(&fr))
	f.Add(codec.EncodeLED1CRC(&fr, 123))
	f.Add(codec.EncodeRLE(&fr))
	f.Add(codec.EncodePing())
	f.Add([]byte{Hdr0, Hdr1, 0xEE, Hdr0, Hdr1})
	f.Fuzz(func(t *testing.T, data []byte) {
		var buf bytes.Buffer
		buf.Write(data)
		if err := codec.DecodeStream(&buf, func(Packet) {}); err != nil {
			t.Fatalf("DecodeStream error on arbitrary input: %v", err)
		}
	})
}
