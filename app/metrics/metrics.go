package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	paymentNoticesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_notices_total",
			Help: "Total number of gateway payment notices by outcome",
		},
		[]string{"outcome"},
	)

	orderSettlementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_settlements_total",
			Help: "Total number of order settlements by final status",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(paymentNoticesTotal)
	prometheus.MustRegister(orderSettlementsTotal)
}

// Notice outcomes. unknown_token in particular is watched for
// persistence-ordering bugs hiding behind the ack-anyway policy.
const (
	NoticeOutcomeSettled      = "settled"
	NoticeOutcomeDuplicate    = "duplicate"
	NoticeOutcomeUnknownToken = "unknown_token"
	NoticeOutcomeSuperseded   = "superseded"
	NoticeOutcomeRejected     = "rejected"
	NoticeOutcomeUnavailable  = "gateway_unavailable"
	NoticeOutcomeGatewayError = "gateway_rejected"
	NoticeOutcomeNoChange     = "no_change"
)

func RecordPaymentNotice(outcome string) {
	paymentNoticesTotal.WithLabelValues(outcome).Inc()
}

func RecordOrderSettlement(status string) {
	orderSettlementsTotal.WithLabelValues(status).Inc()
}
