package metrics

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// BillingMetrics tracks ledger, refill, and checkout reconciliation activity.
type BillingMetrics struct {
	debitsTotal         *prometheus.CounterVec
	creditsTotal        *prometheus.CounterVec
	refillsTriggered    prometheus.Counter
	checkoutResolutions *prometheus.CounterVec
	pollOutcomes        *prometheus.CounterVec
}

var (
	billingMetricsOnce sync.Once
	billingMetrics     *BillingMetrics
)

func Billing() *BillingMetrics {
	return BillingWithConfig(Config{})
}

func BillingWithConfig(cfg Config) *BillingMetrics {
	billingMetricsOnce.Do(func() {
		billingMetrics = newBillingMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return billingMetrics
}

func ResetBillingMetricsForTest() {
	billingMetricsOnce = sync.Once{}
	billingMetrics = nil
}

func newBillingMetrics(registerer prometheus.Registerer, cfg Config) *BillingMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "veracify"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}

	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	debitsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "veracify_credit_debits_total",
			Help:        "Total credit ledger debits by result.",
			ConstLabels: constLabels,
		},
		[]string{"result"}, // success | insufficient | failed
	)

	creditsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "veracify_credit_credits_total",
			Help:        "Total credit ledger credits by reason.",
			ConstLabels: constLabels,
		},
		[]string{"reason"},
	)

	refillsTriggered := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name:        "veracify_auto_refills_triggered_total",
			Help:        "Total auto-refill purchases initiated.",
			ConstLabels: constLabels,
		},
	)

	checkoutResolutions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "veracify_checkout_resolutions_total",
			Help:        "Total checkout session resolutions by terminal status.",
			ConstLabels: constLabels,
		},
		[]string{"status"}, // paid | expired | cancelled | error
	)

	pollOutcomes := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "veracify_checkout_poll_outcomes_total",
			Help:        "Total checkout status poll loops by outcome.",
			ConstLabels: constLabels,
		},
		[]string{"outcome"}, // paid | not_completed | timeout | error
	)

	registerer.MustRegister(
		debitsTotal,
		creditsTotal,
		refillsTriggered,
		checkoutResolutions,
		pollOutcomes,
	)

	return &BillingMetrics{
		debitsTotal:         debitsTotal,
		creditsTotal:        creditsTotal,
		refillsTriggered:    refillsTriggered,
		checkoutResolutions: checkoutResolutions,
		pollOutcomes:        pollOutcomes,
	}
}

func (m *BillingMetrics) IncDebit(result string) {
	if m == nil {
		return
	}
	m.debitsTotal.WithLabelValues(result).Inc()
}

func (m *BillingMetrics) IncCredit(reason string) {
	if m == nil {
		return
	}
	m.creditsTotal.WithLabelValues(reason).Inc()
}

func (m *BillingMetrics) IncRefillTriggered() {
	if m == nil {
		return
	}
	m.refillsTriggered.Inc()
}

func (m *BillingMetrics) IncCheckoutResolution(status string) {
	if m == nil {
		return
	}
	m.checkoutResolutions.WithLabelValues(status).Inc()
}

func (m *BillingMetrics) IncPollOutcome(outcome string) {
	if m == nil {
		return
	}
	m.pollOutcomes.WithLabelValues(outcome).Inc()
}
