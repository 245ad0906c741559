package main

import (
	"log/slog"

	"github.com/mirrorlab/mirrorlink/internal/diag"
)

func initDiag(cfg *appConfig, l *slog.Logger) *diag.Hub {
	h := diag.New()
	h.BufSize = cfg.diagBuffer
	switch cfg.diagPolicy {
	case "drop":
		h.Policy = diag.PolicyDrop
	case "kick":
		h.Policy = diag.PolicyKick
	default:
		l.Warn("unknown_diag_policy", "policy", cfg.diagPolicy, "used", "drop")
		h.Policy = diag.PolicyDrop
	}
	policyStr := map[diag.BackpressurePolicy]string{diag.PolicyDrop: "drop", diag.PolicyKick: "kick"}[h.Policy]
	l.Info("build_info", "version", version, "commit", commit, "date", date)
	l.Info("diag_config", "policy", policyStr, "buffer", h.BufSize)
	return h
}
