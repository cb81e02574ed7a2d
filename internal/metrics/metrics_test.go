package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandler_ExposesCounters(t *testing.T) {
	m := New()
	m.Transitions.WithLabelValues("finished", Outcome(nil)).Inc()
	m.Unlocks.WithLabelValues("mqtt", Outcome(errors.New("offline"))).Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `event_transitions_total{outcome="ok",to="finished"} 1`)
	assert.Contains(t, string(body), `hardware_unlocks_total{kind="mqtt",outcome="error"} 1`)
}
