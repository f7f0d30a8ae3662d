package usecase

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	paymentsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shop",
			Name:      "payments_started_total",
			Help:      "Payment attempts handed to a provider",
		},
		[]string{"provider"},
	)

	paymentsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shop",
			Name:      "payments_failed_total",
			Help:      "Payment attempts refused or errored by a provider",
		},
		[]string{"provider"},
	)

	webhooksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shop",
			Name:      "payment_webhooks_total",
			Help:      "Provider notifications by reconciliation outcome",
		},
		[]string{"provider", "outcome"},
	)
)
