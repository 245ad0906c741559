package main

import (
	"os"
	"testing"
	"time"
)

func TestApplyEnvOverrides_Basic(t *testing.T) {
	base := baseConfig()

	os.Setenv("MIRROR_LINK_BAUD", "460800")
	os.Setenv("MIRROR_LINK_LED_ENCODING", "rle")
	os.Setenv("MIRROR_LINK_HEARTBEAT", "250ms")
	os.Setenv("MIRROR_LINK_FLIP_X", "true")
	os.Setenv("MIRROR_LINK_LOG_METRICS_INTERVAL", "5s")
	t.Cleanup(func() {
		os.Unsetenv("MIRROR_LINK_BAUD")
		os.Unsetenv("MIRROR_LINK_LED_ENCODING")
		os.Unsetenv("MIRROR_LINK_HEARTBEAT")
		os.Unsetenv("MIRROR_LINK_FLIP_X")
		os.Unsetenv("MIRROR_LINK_LOG_METRICS_INTERVAL")
	})
	if err := applyEnvOverrides(base, map[string]struct{}{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if base.baud != 460800 {
		t.Fatalf("expected baud override, got %d", base.baud)
	}
	if base.encoding != "rle" {
		t.Fatalf("expected encoding override, got %s", base.encoding)
	}
	if base.heartbeat != 250*time.Millisecond {
		t.Fatalf("expected heartbeat 250ms got %v", base.heartbeat)
	}
	if !base.flipX {
		t.Fatalf("expected flipX true")
	}
	if base.logMetricsEvery != 5*time.Second {
		t.Fatalf("expected logMetricsEvery 5s got %v", base.logMetricsEvery)
	}
}

func TestApplyEnvOverrides_FlagPrecedence(t *testing.T) {
	base := baseConfig()
	os.Setenv("MIRROR_LINK_BAUD", "460800")
	t.Cleanup(func() { os.Unsetenv("MIRROR_LINK_BAUD") })
	if err := applyEnvOverrides(base, map[string]struct{}{"baud": {}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if base.baud != 921600 {
		t.Fatalf("flag should win over env, got %d", base.baud)
	}
}

func TestApplyEnvOverrides_BadValue(t *testing.T) {
	base := baseConfig()
	os.Setenv("MIRROR_LINK_BAUD", "fast")
	t.Cleanup(func() { os.Unsetenv("MIRROR_LINK_BAUD") })
	if err := applyEnvOverrides(base, map[string]struct{}{}); err == nil {
		t.Fatalf("expected error for non-numeric baud")
	}
	if base.baud != 921600 {
		t.Fatalf("bad env value must not mutate config, got %d", base.baud)
	}
}
