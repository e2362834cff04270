package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// FinanceMetrics counts money movements and side effects of the finance core.
// A nil *FinanceMetrics is valid and records nothing.
type FinanceMetrics struct {
	paymentsConfirmed   *prometheus.CounterVec
	refundsApproved     prometheus.Counter
	notificationsFailed *prometheus.CounterVec
	reconcileWrites     prometheus.Counter
	reconcileConflicts  prometheus.Counter
	gatewayRetries      *prometheus.CounterVec
}

func NewFinanceMetrics(reg prometheus.Registerer) *FinanceMetrics {
	if reg == nil {
		return nil
	}
	m := &FinanceMetrics{
		paymentsConfirmed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "finance_payments_confirmed_total",
			Help: "Payments moved to completed, by method.",
		}, []string{"method"}),
		refundsApproved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "finance_refunds_approved_total",
			Help: "Refund requests approved.",
		}),
		notificationsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "finance_notifications_failed_total",
			Help: "Notification sends that failed and were left for retry.",
		}, []string{"kind"}),
		reconcileWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "finance_reconcile_writes_total",
			Help: "Invoice status changes written by reconciliation.",
		}),
		reconcileConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "finance_reconcile_version_conflicts_total",
			Help: "Reconciliation writes rejected by a stale invoice version.",
		}),
		gatewayRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "finance_gateway_retries_total",
			Help: "Retried payment gateway calls, by operation.",
		}, []string{"operation"}),
	}
	reg.MustRegister(m.paymentsConfirmed, m.refundsApproved, m.notificationsFailed, m.reconcileWrites, m.reconcileConflicts, m.gatewayRetries)
	return m
}

func (m *FinanceMetrics) PaymentConfirmed(method string) {
	if m == nil {
		return
	}
	m.paymentsConfirmed.WithLabelValues(normalizeLabel(method)).Inc()
}

func (m *FinanceMetrics) RefundApproved() {
	if m == nil {
		return
	}
	m.refundsApproved.Inc()
}

func (m *FinanceMetrics) NotificationFailed(kind string) {
	if m == nil {
		return
	}
	m.notificationsFailed.WithLabelValues(normalizeLabel(kind)).Inc()
}

func (m *FinanceMetrics) ReconcileWrite() {
	if m == nil {
		return
	}
	m.reconcileWrites.Inc()
}

func (m *FinanceMetrics) ReconcileConflict() {
	if m == nil {
		return
	}
	m.reconcileConflicts.Inc()
}

func (m *FinanceMetrics) GatewayRetry(operation string) {
	if m == nil {
		return
	}
	m.gatewayRetries.WithLabelValues(normalizeLabel(operation)).Inc()
}
