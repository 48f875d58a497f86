package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestIncDecConnection_TracksGaugeValue(t *testing.T) {
	before := testutil.ToFloat64(ActiveWebSocketConnections)

	IncConnection()
	IncConnection()
	DecConnection()

	after := testutil.ToFloat64(ActiveWebSocketConnections)
	assert.Equal(t, before+1, after)
}

func TestRateLimitExceeded_IncrementsPerBucket(t *testing.T) {
	before := testutil.ToFloat64(RateLimitExceeded.WithLabelValues("test_bucket"))
	RateLimitExceeded.WithLabelValues("test_bucket").Inc()
	after := testutil.ToFloat64(RateLimitExceeded.WithLabelValues("test_bucket"))
	assert.Equal(t, before+1, after)
}
