package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

// SettlementMetrics counts money movements applied by the settlement engine,
// the refund orchestrator and the payout ledger.
type SettlementMetrics struct {
	finalized *prometheus.CounterVec
	gmv       *prometheus.CounterVec
	refunds   *prometheus.CounterVec
	refundSum *prometheus.CounterVec
	payouts   *prometheus.CounterVec
	webhooks  *prometheus.CounterVec
}

// NewSettlementMetrics registers the settlement metrics on the provided registerer.
func NewSettlementMetrics(reg prometheus.Registerer) *SettlementMetrics {
	if reg == nil {
		return &SettlementMetrics{}
	}
	finalized := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_finalize_total",
		Help: "Finalize attempts by outcome (finalized, duplicate).",
	}, []string{"outcome"})
	gmv := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_gmv_total",
		Help: "Gross merchandise value settled, in major currency units.",
	}, []string{"currency"})
	refunds := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "refunds_total",
		Help: "Refund attempts by kind and outcome.",
	}, []string{"kind", "outcome"})
	refundSum := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "refunds_amount_total",
		Help: "Refunded amount applied locally, in major currency units.",
	}, []string{"kind"})
	payouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payouts_total",
		Help: "Payout ledger transitions by status.",
	}, []string{"status"})
	webhooks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_webhooks_total",
		Help: "Inbound payment webhooks by provider and outcome.",
	}, []string{"provider", "outcome"})
	reg.MustRegister(finalized, gmv, refunds, refundSum, payouts, webhooks)
	return &SettlementMetrics{
		finalized: finalized,
		gmv:       gmv,
		refunds:   refunds,
		refundSum: refundSum,
		payouts:   payouts,
		webhooks:  webhooks,
	}
}

// ObserveFinalize records a finalize attempt. Duplicates are calls that found
// the order already paid.
func (m *SettlementMetrics) ObserveFinalize(duplicate bool, currency string, total decimal.Decimal) {
	if m == nil || m.finalized == nil {
		return
	}
	if duplicate {
		m.finalized.WithLabelValues("duplicate").Inc()
		return
	}
	m.finalized.WithLabelValues("finalized").Inc()
	m.gmv.WithLabelValues(normalizeLabel(currency)).Add(total.InexactFloat64())
}

// IncFinalizeError records a finalize attempt that did not settle the order.
func (m *SettlementMetrics) IncFinalizeError() {
	if m == nil || m.finalized == nil {
		return
	}
	m.finalized.WithLabelValues("error").Inc()
}

// ObserveRefund records a refund outcome (succeeded, gateway_failed, reconciliation_required).
func (m *SettlementMetrics) ObserveRefund(kind, outcome string, amount decimal.Decimal) {
	if m == nil || m.refunds == nil {
		return
	}
	m.refunds.WithLabelValues(normalizeLabel(kind), normalizeLabel(outcome)).Inc()
	if outcome == "succeeded" {
		m.refundSum.WithLabelValues(normalizeLabel(kind)).Add(amount.InexactFloat64())
	}
}

// IncPayout counts payout transitions.
func (m *SettlementMetrics) IncPayout(status string) {
	if m == nil || m.payouts == nil {
		return
	}
	m.payouts.WithLabelValues(normalizeLabel(status)).Inc()
}

// IncWebhook counts inbound provider callbacks.
func (m *SettlementMetrics) IncWebhook(provider, outcome string) {
	if m == nil || m.webhooks == nil {
		return
	}
	m.webhooks.WithLabelValues(normalizeLabel(provider), normalizeLabel(outcome)).Inc()
}
