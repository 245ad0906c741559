package main

import (
	"fmt"
	"log/slog"

	"github.com/mirrorlab/mirrorlink/internal/serialport"
	"github.com/mirrorlab/mirrorlink/internal/simdev"
)

// openSerialPort is a hook for tests (overridden in unit tests).
var openSerialPort = serialport.Open

// initBackend opens the device the link will drive and returns the
// port, a reopen function used by reconnect cycles, and a cleanup.
func initBackend(cfg *appConfig, l *slog.Logger) (serialport.Port, func() (serialport.Port, error), func(), error) {
	switch cfg.backend {
	case "serial":
		sp, err := openSerialPort(cfg.serialDev, cfg.baud, cfg.serialReadTO)
		if err != nil {
			return nil, nil, func() {}, fmt.Errorf("open serial: %w", err)
		}
		l.Info("serial_open", "device", cfg.serialDev, "baud", cfg.baud)
		reopen := func() (serialport.Port, error) {
			return openSerialPort(cfg.serialDev, cfg.baud, cfg.serialReadTO)
		}
		return sp, reopen, func() {}, nil
	case "sim":
		dev := simdev.New(cfg.servoChannels, cfg.simBootDelay)
		l.Info("sim_device_open", "servo_channels", cfg.servoChannels, "boot_delay", cfg.simBootDelay)
		// the simulated device survives reconnect cycles
		reopen := func() (serialport.Port, error) { return dev, nil }
		return dev, reopen, func() { _ = dev.Close() }, nil
	default:
		return nil, nil, func() {}, fmt.Errorf("unknown backend %q (use serial|sim)", cfg.backend)
	}
}
