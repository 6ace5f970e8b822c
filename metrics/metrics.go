// Package metrics exposes the daemon's prometheus instrumentation.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the collectors shared by dispatchers and link supervisors.
// All vectors are labeled by chain id.
type Metrics struct {
	SignedVotes          *prometheus.CounterVec
	SignedProposals      *prometheus.CounterVec
	SafetyRejections     *prometheus.CounterVec
	ValidationRejections *prometheus.CounterVec
	ProviderErrors       *prometheus.CounterVec
	Reconnects           *prometheus.CounterVec
	ActiveConnections    *prometheus.GaugeVec
}

// New creates the collectors and registers them when reg is non-nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SignedVotes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tmkms", Name: "signed_votes_total",
			Help: "Votes signed and released.",
		}, []string{"chain_id"}),
		SignedProposals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tmkms", Name: "signed_proposals_total",
			Help: "Proposals signed and released.",
		}, []string{"chain_id"}),
		SafetyRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tmkms", Name: "safety_rejections_total",
			Help: "Sign requests rejected by the double-sign guard.",
		}, []string{"chain_id"}),
		ValidationRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tmkms", Name: "validation_rejections_total",
			Help: "Sign requests rejected before reaching the guard.",
		}, []string{"chain_id"}),
		ProviderErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tmkms", Name: "provider_errors_total",
			Help: "Signing backend failures.",
		}, []string{"chain_id"}),
		Reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tmkms", Name: "reconnects_total",
			Help: "Validator link reconnect attempts.",
		}, []string{"chain_id"}),
		ActiveConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tmkms", Name: "active_connections",
			Help: "Currently established validator links.",
		}, []string{"chain_id"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.SignedVotes, m.SignedProposals, m.SafetyRejections,
			m.ValidationRejections, m.ProviderErrors, m.Reconnects,
			m.ActiveConnections,
		)
	}
	return m
}

// Nop returns unregistered collectors, for tests and optional wiring.
func Nop() *Metrics { return New(nil) }
