package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/mirrorlab/mirrorlink/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus counters
var (
	SerialTxPackets = promauto.NewCounter(prometheus.CounterOpts{
		Name: "serial_tx_packets_total",
		Help: "Total packets written to the serial link (frames, heartbeats, resends, pings).",
	})
	SerialTxBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "serial_tx_bytes_total",
		Help: "Total bytes written to the serial link.",
	})
	RxLines = promauto.NewCounter(prometheus.CounterOpts{
		Name: "serial_rx_lines_total",
		Help: "Total status lines read from the device.",
	})
	DecodedPackets = promauto.NewCounter(prometheus.CounterOpts{
		Name: "decoded_packets_total",
		Help: "Total packets parsed from a byte stream (simulated device / loopback tests).",
	})
	Nacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nack_total",
		Help: "Total NACK lines received from the device.",
	})
	Pongs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pong_total",
		Help: "Total PONG confirmations received from the device.",
	})
	Resends = promauto.NewCounter(prometheus.CounterOpts{
		Name: "resend_total",
		Help: "Total verbatim retransmissions of the latest packet.",
	})
	ResendsSuppressed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "resend_suppressed_total",
		Help: "Total NACKs ignored because the resend cap was reached.",
	})
	Heartbeats = promauto.NewCounter(prometheus.CounterOpts{
		Name: "heartbeat_total",
		Help: "Total heartbeat rewrites of the latest packet.",
	})
	Reconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reconnect_total",
		Help: "Total serial reconnect cycles attempted after repeated write failures.",
	})
	CRCMismatches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crc_mismatch_total",
		Help: "Total frame-id LED packets rejected for CRC mismatch.",
	})
	MalformedPackets = promauto.NewCounter(prometheus.CounterOpts{
		Name: "malformed_packets_total",
		Help: "Total rejected malformed packets (unknown type after a valid header).",
	})
	DiagDroppedLines = promauto.NewCounter(prometheus.CounterOpts{
		Name: "diag_dropped_lines_total",
		Help: "Total diagnostic lines dropped by the hub due to slow observers.",
	})
	DiagKickedObservers = promauto.NewCounter(prometheus.CounterOpts{
		Name: "diag_kicked_observers_total",
		Help: "Total observers disconnected due to backpressure kick policy.",
	})
	DiagActiveObservers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "diag_active_observers",
		Help: "Current number of diagnostic line observers.",
	})
	LinkStateGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "link_state",
		Help: "Reliability layer state (0=disconnected 1=connecting 2=connected 3=sending 4=awaiting_ack).",
	})
	VerifyBER = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "verify_bit_error_rate",
		Help: "Most recent observed-vs-expected bit error rate in [0,1].",
	})
	CalibrationAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "calibration_attempts_total",
		Help: "Total automatic corner-detection attempts.",
	})
	CalibrationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "calibration_failures_total",
		Help: "Total automatic corner-detection attempts that found no quadrilateral.",
	})
	FailsafeTrips = promauto.NewCounter(prometheus.CounterOpts{
		Name: "failsafe_trips_total",
		Help: "Total recalibrations triggered by the bit-error-rate failsafe.",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})
	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality)
const (
	ErrSerialWrite    = "serial_write"
	ErrSerialRead     = "serial_read"
	ErrSerialOverflow = "serial_tx_overflow"
	ErrEncode         = "encode"
	ErrReconnect      = "reconnect"
	ErrMappingLoad    = "mapping_load"
)

// StartHTTP serves Prometheus metrics at /metrics on the given address
// along with a /ready probe backed by the registered readiness function.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters for easy logging (avoid Prometheus scraping in-process)
var (
	localTxPackets  uint64
	localTxBytes    uint64
	localRxLines    uint64
	localDecoded    uint64
	localNacks      uint64
	localPongs      uint64
	localResends    uint64
	localSuppressed uint64
	localHeartbeats uint64
	localReconnects uint64
	localCRC        uint64
	localMalformed  uint64
	localDiagDrop   uint64
	localDiagKick   uint64
	localObservers  uint64
	localErrors     uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	TxPackets         uint64
	TxBytes           uint64
	RxLines           uint64
	Decoded           uint64
	Nacks             uint64
	Pongs             uint64
	Resends           uint64
	ResendsSuppressed uint64
	Heartbeats        uint64
	Reconnects        uint64
	CRCMismatches     uint64
	Malformed         uint64
	DiagDrops         uint64
	DiagKicks         uint64
	Observers         uint64
	Errors            uint64 // sum across error labels
}

func Snap() Snapshot {
	return Snapshot{
		TxPackets:         atomic.LoadUint64(&localTxPackets),
		TxBytes:           atomic.LoadUint64(&localTxBytes),
		RxLines:           atomic.LoadUint64(&localRxLines),
		Decoded:           atomic.LoadUint64(&localDecoded),
		Nacks:             atomic.LoadUint64(&localNacks),
		Pongs:             atomic.LoadUint64(&localPongs),
		Resends:           atomic.LoadUint64(&localResends),
		ResendsSuppressed: atomic.LoadUint64(&localSuppressed),
		Heartbeats:        atomic.LoadUint64(&localHeartbeats),
		Reconnects:        atomic.LoadUint64(&localReconnects),
		CRCMismatches:     atomic.LoadUint64(&localCRC),
		Malformed:         atomic.LoadUint64(&localMalformed),
		DiagDrops:         atomic.LoadUint64(&localDiagDrop),
		DiagKicks:         atomic.LoadUint64(&localDiagKick),
		Observers:         atomic.LoadUint64(&localObservers),
		Errors:            atomic.LoadUint64(&localErrors),
	}
}

// Wrapper helpers to keep call sites simple.
func IncSerialTx(n int) {
	SerialTxPackets.Inc()
	SerialTxBytes.Add(float64(n))
	atomic.AddUint64(&localTxPackets, 1)
	atomic.AddUint64(&localTxBytes, uint64(n))
}

func IncRxLine() {
	RxLines.Inc()
	atomic.AddUint64(&localRxLines, 1)
}

func IncDecoded() {
	DecodedPackets.Inc()
	atomic.AddUint64(&localDecoded, 1)
}

func IncNack() {
	Nacks.Inc()
	atomic.AddUint64(&localNacks, 1)
}

func IncPong() {
	Pongs.Inc()
	atomic.AddUint64(&localPongs, 1)
}

func IncResend() {
	Resends.Inc()
	atomic.AddUint64(&localResends, 1)
}

func IncResendSuppressed() {
	ResendsSuppressed.Inc()
	atomic.AddUint64(&localSuppressed, 1)
}

func IncHeartbeat() {
	Heartbeats.Inc()
	atomic.AddUint64(&localHeartbeats, 1)
}

func IncReconnect() {
	Reconnects.Inc()
	atomic.AddUint64(&localReconnects, 1)
}

func IncCRCMismatch() {
	CRCMismatches.Inc()
	atomic.AddUint64(&localCRC, 1)
}

func IncMalformed() {
	MalformedPackets.Inc()
	atomic.AddUint64(&localMalformed, 1)
}

func IncDiagDrop() {
	DiagDroppedLines.Inc()
	atomic.AddUint64(&localDiagDrop, 1)
}

func IncDiagKick() {
	DiagKickedObservers.Inc()
	atomic.AddUint64(&localDiagKick, 1)
}

func SetDiagObservers(n int) {
	DiagActiveObservers.Set(float64(n))
	atomic.StoreUint64(&localObservers, uint64(n))
}

func SetLinkState(s int) { LinkStateGauge.Set(float64(s)) }

func SetVerifyBER(ber float64) { VerifyBER.Set(ber) }

func IncCalibrationAttempt() { CalibrationAttempts.Inc() }

func IncCalibrationFailure() { CalibrationFailures.Inc() }

func IncFailsafeTrip() { FailsafeTrips.Inc() }

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

// InitBuildInfo sets the build info gauge (should be called once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	// Pre-register common error label series so first error does not log a registration latency.
	for _, lbl := range []string{
		ErrSerialWrite, ErrSerialRead, ErrSerialOverflow,
		ErrEncode, ErrReconnect, ErrMappingLoad,
	} {
		Errors.WithLabelValues(lbl).Add(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil { // if not set yet, treat as ready so metrics endpoint doesn't flap
		return true
	}
	return fn()
}

// Ready is a concise alias used at call sites.
func Ready() bool { return IsReady() }
