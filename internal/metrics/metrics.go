// Package metrics collects and exposes Prometheus metrics for the
// storefront's payment and login flows.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector records storefront counters. The path label distinguishes the
// two reconciliation paths racing over each checkout session.
type Collector struct {
	checkoutCreated   prometheus.Counter
	purchasesRecorded *prometheus.CounterVec
	duplicateSessions *prometheus.CounterVec
	webhookEvents     *prometheus.CounterVec
	signatureFailures prometheus.Counter
	tokensIssued      prometheus.Counter
	redemptions       *prometheus.CounterVec
}

// NewCollector creates a Collector and registers its metrics on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		checkoutCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "latchkey_checkouts_created_total",
			Help: "Checkout sessions created.",
		}),
		purchasesRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "latchkey_purchases_recorded_total",
			Help: "Purchases recorded, by reconciliation path.",
		}, []string{"path"}),
		duplicateSessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "latchkey_duplicate_sessions_total",
			Help: "Recording attempts that lost the race to the other path.",
		}, []string{"path"}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "latchkey_webhook_events_total",
			Help: "Verified webhook events received, by kind.",
		}, []string{"kind"}),
		signatureFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "latchkey_webhook_signature_failures_total",
			Help: "Webhook deliveries rejected for a bad signature.",
		}),
		tokensIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "latchkey_login_tokens_issued_total",
			Help: "Magic-link login tokens issued.",
		}),
		redemptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "latchkey_login_redemptions_total",
			Help: "Login token redemption attempts, by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		c.checkoutCreated,
		c.purchasesRecorded,
		c.duplicateSessions,
		c.webhookEvents,
		c.signatureFailures,
		c.tokensIssued,
		c.redemptions,
	)

	return c
}

func (c *Collector) RecordCheckoutCreated() {
	c.checkoutCreated.Inc()
}

func (c *Collector) RecordPurchaseRecorded(path string) {
	c.purchasesRecorded.WithLabelValues(path).Inc()
}

func (c *Collector) RecordDuplicateSession(path string) {
	c.duplicateSessions.WithLabelValues(path).Inc()
}

func (c *Collector) RecordWebhookEvent(kind string) {
	c.webhookEvents.WithLabelValues(kind).Inc()
}

func (c *Collector) RecordSignatureFailure() {
	c.signatureFailures.Inc()
}

func (c *Collector) RecordTokenIssued() {
	c.tokensIssued.Inc()
}

func (c *Collector) RecordRedemption(outcome string) {
	c.redemptions.WithLabelValues(outcome).Inc()
}

// Handler returns the scrape handler for the registry backing reg.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
