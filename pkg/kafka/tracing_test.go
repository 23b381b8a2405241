package kafka

import (
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
)

func TestHeaderCarrier_GetSetKeys(t *testing.T) {
	headers := []kafka.Header{{Key: "event_type", Value: []byte("cart.updated")}}
	c := NewHeaderCarrier(&headers)

	assert.Equal(t, "cart.updated", c.Get("event_type"))
	assert.Empty(t, c.Get("missing"))

	c.Set("traceparent", "00-abc-def-01")
	c.Set("event_type", "cart.cleared")

	assert.Equal(t, "cart.cleared", c.Get("event_type"))
	assert.Len(t, headers, 2)
	assert.ElementsMatch(t, []string{"event_type", "traceparent"}, c.Keys())
}

func TestHeaderCarrier_Empty(t *testing.T) {
	var headers []kafka.Header
	c := NewHeaderCarrier(&headers)

	assert.Empty(t, c.Keys())
	c.Set("k", "v")
	assert.Equal(t, "v", c.Get("k"))
}
