package kafka

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	resultOK    = "ok"
	resultError = "error"
)

var (
	publishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "storefront",
			Subsystem: "kafka",
			Name:      "messages_published_total",
			Help:      "Messages handed to the Kafka writer, by topic and result.",
		},
		[]string{"topic", "result"},
	)

	publishSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "storefront",
			Subsystem: "kafka",
			Name:      "publish_duration_seconds",
			Help:      "Time spent in Producer.Publish.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		},
		[]string{"topic"},
	)
)

func observePublish(topic string, seconds float64, err error) {
	publishSeconds.WithLabelValues(topic).Observe(seconds)
	result := resultOK
	if err != nil {
		result = resultError
	}
	publishedTotal.WithLabelValues(topic, result).Inc()
}
