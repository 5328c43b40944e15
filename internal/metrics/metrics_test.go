package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersIndependentPerSet(t *testing.T) {
	a := New()
	b := New() // must not collide with a's registry

	a.EventsReceived.Inc()
	a.EventsReceived.Inc()
	a.EventsEvicted.Add(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(a.EventsReceived))
	assert.Equal(t, 3.0, testutil.ToFloat64(a.EventsEvicted))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.EventsReceived))
}

func TestHandlerServesRegistry(t *testing.T) {
	s := New()
	s.MalformedSkipped.Inc()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "blind_malformed_messages_total 1")
	assert.Contains(t, body, "blind_events_received_total 0")
}
