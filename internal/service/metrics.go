package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cartOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_cart_operations_total",
			Help: "Total number of cart operations by outcome",
		},
		[]string{"operation", "result"},
	)

	cartsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "storefront_carts_created_total",
			Help: "Total number of carts created on first resolution",
		},
	)

	eventPublishFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_cart_event_publish_failures_total",
			Help: "Total number of cart domain events that could not be published",
		},
		[]string{"event"},
	)
)

// Operation labels.
const (
	opResolve = "resolve"
	opAddItem = "add_item"
	opUpdate  = "update_quantity"
	opRemove  = "remove_item"
	opClear   = "clear"
)

func observe(op string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	cartOperations.WithLabelValues(op, result).Inc()
}
