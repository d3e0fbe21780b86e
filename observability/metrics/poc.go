// Package metrics exposes the Prometheus instrumentation for the PoC
// challenge manager: derivation outcomes, receipt/witness ingestion, GC
// sweeps, and transaction submission.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PoC bundles every metric the Manager and its collaborators record.
type PoC struct {
	challengesInitialized prometheus.Counter
	derivationFailures    *prometheus.CounterVec
	receiptsAccepted      prometheus.Counter
	receiptsDropped       *prometheus.CounterVec
	witnessesAccepted     prometheus.Counter
	witnessesDropped      *prometheus.CounterVec
	challengesSubmitted   prometheus.Counter
	challengesExpiredGC   prometheus.Counter
	keyCacheGCEvicted     prometheus.Counter
	publicPocGCEvicted    prometheus.Counter
	activeChallenges      prometheus.Gauge
}

var (
	once     sync.Once
	registry *PoC
)

// Registry returns the process-wide PoC metrics, registering them with the
// default Prometheus registry on first use.
func Registry() *PoC {
	once.Do(func() {
		registry = &PoC{
			challengesInitialized: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "poc_challenges_initialized_total",
				Help: "Count of LocalPoC records created by target/path derivation.",
			}),
			derivationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "poc_derivation_failures_total",
				Help: "Count of derivation failures by reason.",
			}, []string{"reason"}),
			receiptsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "poc_receipts_accepted_total",
				Help: "Count of receipts stored against a challenge hop.",
			}),
			receiptsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "poc_receipts_dropped_total",
				Help: "Count of receipts dropped by reason.",
			}, []string{"reason"}),
			witnessesAccepted: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "poc_witnesses_accepted_total",
				Help: "Count of witnesses stored against a challenge hop.",
			}),
			witnessesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "poc_witnesses_dropped_total",
				Help: "Count of witnesses dropped by reason.",
			}, []string{"reason"}),
			challengesSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "poc_challenges_submitted_total",
				Help: "Count of PoC-receipts-v1 transactions submitted at TTL expiry.",
			}),
			challengesExpiredGC: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "poc_challenges_expired_total",
				Help: "Count of LocalPoC records removed at TTL expiry.",
			}),
			keyCacheGCEvicted: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "poc_keycache_gc_evicted_total",
				Help: "Count of key cache entries evicted by the periodic GC sweep.",
			}),
			publicPocGCEvicted: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "poc_public_records_gc_evicted_total",
				Help: "Count of ledger public PoC records evicted by the periodic GC sweep.",
			}),
			activeChallenges: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "poc_active_challenges",
				Help: "Current count of in-flight LocalPoC records.",
			}),
		}
		prometheus.MustRegister(
			registry.challengesInitialized,
			registry.derivationFailures,
			registry.receiptsAccepted,
			registry.receiptsDropped,
			registry.witnessesAccepted,
			registry.witnessesDropped,
			registry.challengesSubmitted,
			registry.challengesExpiredGC,
			registry.keyCacheGCEvicted,
			registry.publicPocGCEvicted,
			registry.activeChallenges,
		)
	})
	return registry
}

func (m *PoC) ObserveChallengeInitialized() {
	if m == nil {
		return
	}
	m.challengesInitialized.Inc()
}

func (m *PoC) ObserveDerivationFailure(reason string) {
	if m == nil {
		return
	}
	m.derivationFailures.WithLabelValues(nonEmpty(reason)).Inc()
}

func (m *PoC) ObserveReceiptAccepted() {
	if m == nil {
		return
	}
	m.receiptsAccepted.Inc()
}

func (m *PoC) ObserveReceiptDropped(reason string) {
	if m == nil {
		return
	}
	m.receiptsDropped.WithLabelValues(nonEmpty(reason)).Inc()
}

func (m *PoC) ObserveWitnessAccepted() {
	if m == nil {
		return
	}
	m.witnessesAccepted.Inc()
}

func (m *PoC) ObserveWitnessDropped(reason string) {
	if m == nil {
		return
	}
	m.witnessesDropped.WithLabelValues(nonEmpty(reason)).Inc()
}

func (m *PoC) ObserveChallengeSubmitted() {
	if m == nil {
		return
	}
	m.challengesSubmitted.Inc()
}

func (m *PoC) ObserveChallengeExpiredGC() {
	if m == nil {
		return
	}
	m.challengesExpiredGC.Inc()
}

func (m *PoC) ObserveKeyCacheGC(evicted int) {
	if m == nil || evicted <= 0 {
		return
	}
	m.keyCacheGCEvicted.Add(float64(evicted))
}

func (m *PoC) ObservePublicPocGC(evicted int) {
	if m == nil || evicted <= 0 {
		return
	}
	m.publicPocGCEvicted.Add(float64(evicted))
}

func (m *PoC) SetActiveChallenges(count int) {
	if m == nil {
		return
	}
	m.activeChallenges.Set(float64(count))
}

func nonEmpty(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
