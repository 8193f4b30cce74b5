package observability

import (
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

// RewardMetrics tracks the reward ledger.
type RewardMetrics struct {
	instructions *prometheus.CounterVec
	payouts      *prometheus.CounterVec
	liability    *prometheus.GaugeVec
	applyLatency *prometheus.HistogramVec
	height       prometheus.Gauge
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	rewardMetricsOnce sync.Once
	rewardRegistry    *RewardMetrics

	signerMetricsOnce sync.Once
	signerRegistry    *SignerMetrics
)

// ModuleMetrics returns the lazily-initialised registry used to record HTTP
// and JSON-RPC module activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "ghr",
				Subsystem: "module",
				Name:      "requests_total",
				Help:      "Total module requests segmented by module and method.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "ghr",
				Subsystem: "module",
				Name:      "errors_total",
				Help:      "Total module errors segmented by module, method, and status.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "ghr",
				Subsystem: "module",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for module handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "ghr",
				Subsystem: "module",
				Name:      "throttles_total",
				Help:      "Count of module requests rejected due to throttling policies.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of a module request. status is either an HTTP
// status or a JSON-RPC error code; anything non-zero outside 1..399 counts as
// an error.
func (m *moduleMetrics) Observe(module, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	failed := status >= 400 || status < 0
	outcome := "success"
	if failed {
		outcome = "error"
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	if failed {
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied module and
// reason.
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// Reward returns the lazily-initialised reward ledger registry.
func Reward() *RewardMetrics {
	rewardMetricsOnce.Do(func() {
		rewardRegistry = &RewardMetrics{
			instructions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "ghr",
				Subsystem: "reward",
				Name:      "instructions_total",
				Help:      "Transactions applied to the ledger segmented by type and outcome code.",
			}, []string{"type", "outcome"}),
			payouts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "ghr",
				Subsystem: "reward",
				Name:      "payout_total",
				Help:      "Base units paid out of reward vaults segmented by mint.",
			}, []string{"mint"}),
			liability: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "ghr",
				Subsystem: "reward",
				Name:      "vault_liability",
				Help:      "Escrow still owed to contributors segmented by mint.",
			}, []string{"mint"}),
			applyLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "ghr",
				Subsystem: "reward",
				Name:      "apply_duration_seconds",
				Help:      "Time spent applying and committing a transaction.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"type"}),
			height: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "ghr",
				Subsystem: "ledger",
				Name:      "height",
				Help:      "Number of committed transactions.",
			}),
		}
		prometheus.MustRegister(
			rewardRegistry.instructions,
			rewardRegistry.payouts,
			rewardRegistry.liability,
			rewardRegistry.applyLatency,
			rewardRegistry.height,
		)
	})
	return rewardRegistry
}

// RecordInstruction counts an applied transaction. outcome is "ok" or an
// error code.
func (m *RewardMetrics) RecordInstruction(txType, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "error"
	}
	m.instructions.WithLabelValues(txType, outcome).Inc()
	m.applyLatency.WithLabelValues(txType).Observe(duration.Seconds())
}

// RecordPayout adds amount to the payout counter of mint.
func (m *RewardMetrics) RecordPayout(mint string, amount *big.Int) {
	if m == nil || amount == nil || amount.Sign() <= 0 {
		return
	}
	m.payouts.WithLabelValues(strings.ToLower(mint)).Add(toFloat(amount))
}

// SetLiability publishes the outstanding escrow of mint.
func (m *RewardMetrics) SetLiability(mint string, amount *big.Int) {
	if m == nil || amount == nil {
		return
	}
	m.liability.WithLabelValues(strings.ToLower(mint)).Set(toFloat(amount))
}

// SetHeight publishes the committed height.
func (m *RewardMetrics) SetHeight(height uint64) {
	if m == nil {
		return
	}
	m.height.Set(float64(height))
}

func toFloat(amount *big.Int) float64 {
	f, _ := new(big.Float).SetInt(amount).Float64()
	return f
}

// SignerMetrics tracks the claim signer service.
type SignerMetrics struct {
	requests   *prometheus.CounterVec
	signatures *prometheus.CounterVec
	rejections *prometheus.CounterVec
}

// ClaimSigner returns the lazily-initialised claim signer registry.
func ClaimSigner() *SignerMetrics {
	signerMetricsOnce.Do(func() {
		signerRegistry = &SignerMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "ghr",
				Subsystem: "signer",
				Name:      "requests_total",
				Help:      "Signer requests segmented by endpoint and HTTP status.",
			}, []string{"endpoint", "status"}),
			signatures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "ghr",
				Subsystem: "signer",
				Name:      "signatures_total",
				Help:      "Authorizations issued segmented by kind.",
			}, []string{"kind"}),
			rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "ghr",
				Subsystem: "signer",
				Name:      "rejections_total",
				Help:      "Refused signing requests segmented by reason.",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(
			signerRegistry.requests,
			signerRegistry.signatures,
			signerRegistry.rejections,
		)
	})
	return signerRegistry
}

// ObserveRequest counts a request served by endpoint.
func (m *SignerMetrics) ObserveRequest(endpoint string, status int) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(endpoint, fmt.Sprintf("%d", status)).Inc()
}

// RecordSignature counts an issued authorization of the given kind.
func (m *SignerMetrics) RecordSignature(kind string) {
	if m == nil {
		return
	}
	m.signatures.WithLabelValues(kind).Inc()
}

// RecordRejection counts a refused request.
func (m *SignerMetrics) RecordRejection(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.rejections.WithLabelValues(reason).Inc()
}
