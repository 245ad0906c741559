package serialport

import (
	"time"

	"github.com/tarm/serial"
)

// Port abstracts tarm/serial for testability; the simulated device
// implements it too.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// Open opens a serial device with 8-N-1 framing. The read timeout
// keeps the inbound reader loop from blocking indefinitely.
func Open(name string, baud int, readTimeout time.Duration) (Port, error) {
	cfg := &serial.Config{Name: name, Baud: baud, ReadTimeout: readTimeout}
	return serial.OpenPort(cfg)
}
