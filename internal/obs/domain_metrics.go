package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// CheckoutSessionTotal counts payment session/intent creation attempts.
	CheckoutSessionTotal *prometheus.CounterVec
	// SettlementVerifyTotal counts settlement verification outcomes.
	SettlementVerifyTotal *prometheus.CounterVec
	// OrderFinalizeTotal counts order finalization outcomes.
	OrderFinalizeTotal *prometheus.CounterVec
	// OrderFinalizeRetries counts conflict retries during order insertion.
	OrderFinalizeRetries prometheus.Counter
	// PaymentWebhookTotal counts inbound payment webhook processing outcomes.
	PaymentWebhookTotal *prometheus.CounterVec
	// DiscountAllocationResidual counts allocations that could not reach the
	// nominal target exactly.
	DiscountAllocationResidual prometheus.Counter
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		CheckoutSessionTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_session_total",
			Help:      "Count of checkout session/intent creation outcomes.",
		}, []string{"mode", "result"})
		SettlementVerifyTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlement_verify_total",
			Help:      "Count of settlement verification outcomes by gateway status.",
		}, []string{"kind", "status"})
		OrderFinalizeTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_finalize_total",
			Help:      "Count of order finalization outcomes.",
		}, []string{"result"})
		OrderFinalizeRetries = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_finalize_conflict_retries_total",
			Help:      "Number of conflict-triggered retries while inserting orders.",
		})
		PaymentWebhookTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_webhook_total",
			Help:      "Count of processed payment webhooks by outcome.",
		}, []string{"provider", "result"})
		DiscountAllocationResidual = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discount_allocation_residual_total",
			Help:      "Allocations that left a residual against the nominal discounted total.",
		})

		mustRegisterCollector(reg, CheckoutSessionTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				CheckoutSessionTotal = v
			}
		})
		mustRegisterCollector(reg, SettlementVerifyTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				SettlementVerifyTotal = v
			}
		})
		mustRegisterCollector(reg, OrderFinalizeTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				OrderFinalizeTotal = v
			}
		})
		mustRegisterCollector(reg, OrderFinalizeRetries, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Counter); ok {
				OrderFinalizeRetries = v
			}
		})
		mustRegisterCollector(reg, PaymentWebhookTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PaymentWebhookTotal = v
			}
		})
		mustRegisterCollector(reg, DiscountAllocationResidual, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Counter); ok {
				DiscountAllocationResidual = v
			}
		})
	})
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}
