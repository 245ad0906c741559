package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mirrorlab/mirrorlink/internal/packet"
	"github.com/mirrorlab/mirrorlink/internal/panelmap"
)

type appConfig struct {
	serialDev       string
	baud            int
	serialReadTO    time.Duration
	backend         string
	encoding        string
	servoChannels   int
	heartbeat       time.Duration
	maxResends      int
	writeFailLimit  int
	txBuffer        int
	topology        string
	flipX           bool
	flipY           bool
	calibrationFile string
	logFormat       string
	logLevel        string
	metricsAddr     string
	diagBuffer      int
	diagPolicy      string
	logMetricsEvery time.Duration
	simBootDelay    time.Duration
}

func parseFlags() (*appConfig, bool) {
	cfg := &appConfig{}
	serialDev := flag.String("serial", "/dev/ttyUSB0", "Serial device path")
	baud := flag.Int("baud", 921600, "Serial baud rate")
	serialReadTO := flag.Duration("serial-read-timeout", 50*time.Millisecond, "Serial read timeout")
	backend := flag.String("backend", "serial", "Device backend: serial|sim")
	encoding := flag.String("led-encoding", "crc", "LED frame encoding: raw8|bit1|rle|crc")
	servoChannels := flag.Int("servo-channels", packet.DefaultServoChannels, "Number of servo channels on the controller")
	heartbeat := flag.Duration("heartbeat", 100*time.Millisecond, "Latest-packet rewrite interval")
	maxResends := flag.Int("max-resends", 3, "Consecutive NACK resend cap per frame")
	writeFailLimit := flag.Int("write-fail-limit", 5, "Consecutive write failures before a reconnect cycle")
	txBuffer := flag.Int("tx-buffer", 64, "Async serial TX queue depth (packets)")
	topology := flag.String("topology", "column-serpentine", "Panel topology: raw|row-split|column-split|column-serpentine|full-custom|auto-calibrated")
	flipX := flag.Bool("flip-x", false, "Mirror output horizontally")
	flipY := flag.Bool("flip-y", false, "Mirror output vertically")
	calibrationFile := flag.String("calibration-file", "panel_calibration.json", "Panel calibration table; a valid table selects topology=auto-calibrated")
	logFormat := flag.String("log-format", "text", "Log format: text|json")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	metricsAddr := flag.String("metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	diagBuffer := flag.Int("diag-buffer", 64, "Per-observer diagnostic line buffer")
	diagPolicy := flag.String("diag-policy", "drop", "Diagnostic backpressure policy: drop|kick")
	logMetricsEvery := flag.Duration("log-metrics-interval", 0, "If >0, periodically log metrics counters (for non-Prometheus setups)")
	simBootDelay := flag.Duration("sim-boot-delay", 50*time.Millisecond, "Simulated device boot delay (backend=sim)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	// Track which flags were explicitly set to give them precedence over env.
	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })
	cfg.serialDev = *serialDev
	cfg.baud = *baud
	cfg.serialReadTO = *serialReadTO
	cfg.backend = *backend
	cfg.encoding = *encoding
	cfg.servoChannels = *servoChannels
	cfg.heartbeat = *heartbeat
	cfg.maxResends = *maxResends
	cfg.writeFailLimit = *writeFailLimit
	cfg.txBuffer = *txBuffer
	cfg.topology = *topology
	cfg.flipX = *flipX
	cfg.flipY = *flipY
	cfg.calibrationFile = *calibrationFile
	cfg.logFormat = *logFormat
	cfg.logLevel = *logLevel
	cfg.metricsAddr = *metricsAddr
	cfg.diagBuffer = *diagBuffer
	cfg.diagPolicy = *diagPolicy
	cfg.logMetricsEvery = *logMetricsEvery
	cfg.simBootDelay = *simBootDelay

	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		fmt.Printf("environment override error: %v\n", err)
		return nil, *showVersion
	}
	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, *showVersion
	}
	return cfg, *showVersion
}

// ledKind maps the encoding config string onto a wire packet kind.
func ledKind(s string) (packet.Kind, bool) {
	switch s {
	case "raw8":
		return packet.KindLED8, true
	case "bit1":
		return packet.KindLED1, true
	case "rle":
		return packet.KindLEDRLE, true
	case "crc":
		return packet.KindLED1CRC, true
	}
	return 0, false
}

// validate performs basic semantic validation of the parsed configuration.
// It does not attempt to open devices – only checks values/ranges.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	switch c.backend {
	case "serial", "sim":
	default:
		return fmt.Errorf("invalid backend: %s", c.backend)
	}
	if _, ok := ledKind(c.encoding); !ok {
		return fmt.Errorf("invalid led-encoding: %s", c.encoding)
	}
	if _, ok := panelmap.ParseTopology(c.topology); !ok {
		return fmt.Errorf("invalid topology: %s", c.topology)
	}
	switch c.diagPolicy {
	case "drop", "kick":
	default:
		return fmt.Errorf("invalid diag-policy: %s", c.diagPolicy)
	}
	if c.baud <= 0 {
		return fmt.Errorf("baud must be > 0 (got %d)", c.baud)
	}
	if c.serialReadTO <= 0 {
		return fmt.Errorf("serial-read-timeout must be > 0")
	}
	if c.servoChannels <= 0 {
		return fmt.Errorf("servo-channels must be > 0 (got %d)", c.servoChannels)
	}
	if c.heartbeat <= 0 {
		return fmt.Errorf("heartbeat must be > 0")
	}
	if c.maxResends <= 0 {
		return fmt.Errorf("max-resends must be > 0 (got %d)", c.maxResends)
	}
	if c.writeFailLimit <= 0 {
		return fmt.Errorf("write-fail-limit must be > 0 (got %d)", c.writeFailLimit)
	}
	if c.txBuffer <= 0 {
		return fmt.Errorf("tx-buffer must be > 0 (got %d)", c.txBuffer)
	}
	if c.diagBuffer <= 0 {
		return fmt.Errorf("diag-buffer must be > 0 (got %d)", c.diagBuffer)
	}
	if c.topology == "auto-calibrated" && c.calibrationFile == "" {
		return errors.New("calibration-file required for topology=auto-calibrated")
	}
	return nil
}

// applyEnvOverrides maps MIRROR_LINK_* environment variables to config fields
// unless a corresponding flag was explicitly set. Boolean & numeric parsing is lax:
// empty values ignored. Duration accepts Go time.ParseDuration format.
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }
	str := func(flagName, env string, dst *string) {
		if _, ok := set[flagName]; ok {
			return
		}
		if v, ok := get(env); ok && v != "" {
			*dst = v
		}
	}
	num := func(flagName, env string, dst *int, min int) {
		if _, ok := set[flagName]; ok {
			return
		}
		if v, ok := get(env); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= min {
				*dst = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid %s: %w", env, err)
			}
		}
	}
	dur := func(flagName, env string, dst *time.Duration) {
		if _, ok := set[flagName]; ok {
			return
		}
		if v, ok := get(env); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				*dst = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid %s: %w", env, err)
			}
		}
	}
	boolean := func(flagName, env string, dst *bool) {
		if _, ok := set[flagName]; ok {
			return
		}
		if v, ok := get(env); ok && v != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				*dst = true
			case "0", "false", "no", "off":
				*dst = false
			}
		}
	}

	str("serial", "MIRROR_LINK_SERIAL", &c.serialDev)
	num("baud", "MIRROR_LINK_BAUD", &c.baud, 1)
	dur("serial-read-timeout", "MIRROR_LINK_SERIAL_READ_TIMEOUT", &c.serialReadTO)
	str("backend", "MIRROR_LINK_BACKEND", &c.backend)
	str("led-encoding", "MIRROR_LINK_LED_ENCODING", &c.encoding)
	num("servo-channels", "MIRROR_LINK_SERVO_CHANNELS", &c.servoChannels, 1)
	dur("heartbeat", "MIRROR_LINK_HEARTBEAT", &c.heartbeat)
	num("max-resends", "MIRROR_LINK_MAX_RESENDS", &c.maxResends, 1)
	num("write-fail-limit", "MIRROR_LINK_WRITE_FAIL_LIMIT", &c.writeFailLimit, 1)
	num("tx-buffer", "MIRROR_LINK_TX_BUFFER", &c.txBuffer, 1)
	str("topology", "MIRROR_LINK_TOPOLOGY", &c.topology)
	boolean("flip-x", "MIRROR_LINK_FLIP_X", &c.flipX)
	boolean("flip-y", "MIRROR_LINK_FLIP_Y", &c.flipY)
	str("calibration-file", "MIRROR_LINK_CALIBRATION_FILE", &c.calibrationFile)
	str("log-format", "MIRROR_LINK_LOG_FORMAT", &c.logFormat)
	str("log-level", "MIRROR_LINK_LOG_LEVEL", &c.logLevel)
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := get("MIRROR_LINK_METRICS"); ok {
			c.metricsAddr = v
		}
	}
	num("diag-buffer", "MIRROR_LINK_DIAG_BUFFER", &c.diagBuffer, 1)
	str("diag-policy", "MIRROR_LINK_DIAG_POLICY", &c.diagPolicy)
	if _, ok := set["log-metrics-interval"]; !ok {
		if v, ok := get("MIRROR_LINK_LOG_METRICS_INTERVAL"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d >= 0 {
				c.logMetricsEvery = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid MIRROR_LINK_LOG_METRICS_INTERVAL: %w", err)
			}
		}
	}
	dur("sim-boot-delay", "MIRROR_LINK_SIM_BOOT_DELAY", &c.simBootDelay)
	return firstErr
}
