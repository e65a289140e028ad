package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMustRegisterIsIdempotent(t *testing.T) {
	assert.NotPanics(t, func() {
		MustRegister()
		MustRegister()
	})
}

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(VotesTotal.WithLabelValues("flipped"))
	IncVote("flipped")
	assert.Equal(t, before+1, testutil.ToFloat64(VotesTotal.WithLabelValues("flipped")))

	beforeDrops := testutil.ToFloat64(HubDroppedTotal)
	IncHubDropped()
	IncHubDropped()
	assert.Equal(t, beforeDrops+2, testutil.ToFloat64(HubDroppedTotal))

	AddSubscribers(3)
	AddSubscribers(-1)
	assert.Equal(t, 2.0, testutil.ToFloat64(HubSubscribers))
}
