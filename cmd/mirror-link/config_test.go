package main

import (
	"testing"
	"time"
)

func baseConfig() *appConfig {
	return &appConfig{
		serialDev:       "/dev/null",
		baud:            921600,
		serialReadTO:    10 * time.Millisecond,
		backend:         "serial",
		encoding:        "crc",
		servoChannels:   6,
		heartbeat:       100 * time.Millisecond,
		maxResends:      3,
		writeFailLimit:  5,
		txBuffer:        64,
		topology:        "column-serpentine",
		calibrationFile: "panel_calibration.json",
		logFormat:       "text",
		logLevel:        "info",
		diagBuffer:      8,
		diagPolicy:      "drop",
	}
}

func TestConfigValidate_OK(t *testing.T) {
	if err := baseConfig().validate(); err != nil {
		t.Fatalf("expected ok got %v", err)
	}
}

func TestConfigValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*appConfig)
	}{
		{"badFormat", func(c *appConfig) { c.logFormat = "xx" }},
		{"badLevel", func(c *appConfig) { c.logLevel = "nope" }},
		{"badBackend", func(c *appConfig) { c.backend = "x" }},
		{"badEncoding", func(c *appConfig) { c.encoding = "base64" }},
		{"badTopology", func(c *appConfig) { c.topology = "spiral" }},
		{"badDiagPolicy", func(c *appConfig) { c.diagPolicy = "x" }},
		{"badBaud", func(c *appConfig) { c.baud = 0 }},
		{"badSerialTO", func(c *appConfig) { c.serialReadTO = 0 }},
		{"badServoChannels", func(c *appConfig) { c.servoChannels = 0 }},
		{"badHeartbeat", func(c *appConfig) { c.heartbeat = 0 }},
		{"badMaxResends", func(c *appConfig) { c.maxResends = 0 }},
		{"badWriteFailLimit", func(c *appConfig) { c.writeFailLimit = 0 }},
		{"badTxBuffer", func(c *appConfig) { c.txBuffer = 0 }},
		{"badDiagBuffer", func(c *appConfig) { c.diagBuffer = 0 }},
		{"missingCalibration", func(c *appConfig) { c.topology = "auto-calibrated"; c.calibrationFile = "" }},
	}
	for _, tc := range tests {
		c := baseConfig()
		tc.mod(c)
		if err := c.validate(); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestLedKind(t *testing.T) {
	for _, s := range []string{"raw8", "bit1", "rle", "crc"} {
		if _, ok := ledKind(s); !ok {
			t.Fatalf("expected %q to parse", s)
		}
	}
	if _, ok := ledKind("gray16"); ok {
		t.Fatalf("expected unknown encoding to fail")
	}
}
