package runtime

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersAndHandler(t *testing.T) {
	tel := NewTelemetry(TelemetryOptions{})
	tel.SessionStarted()
	tel.AnswerRecorded(true)
	tel.AnswerRecorded(false)
	tel.AnswerRecorded(true)
	tel.ItemSelected("first_item")
	tel.SessionStopped([]string{"max_items", "se_threshold"})
	tel.ObserveRecalibration(3, 1, 0, 250*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(tel.sessionsStarted))
	assert.Equal(t, 2.0, testutil.ToFloat64(tel.answers.WithLabelValues("true")))
	assert.Equal(t, 3.0, testutil.ToFloat64(tel.recalibratedItems.WithLabelValues("updated")))

	rec := httptest.NewRecorder()
	tel.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `catengine_session_stops_total{reason="se_threshold"} 1`))
	assert.True(t, strings.Contains(body, "catengine_recalibration_run_seconds_count 1"))
}

func TestNilTelemetryIsSafe(t *testing.T) {
	var tel *Telemetry
	tel.SessionStarted()
	tel.AnswerRecorded(true)
	tel.ItemSelected("default")
	tel.SessionStopped([]string{"max_items"})
	tel.ObserveRecalibration(1, 0, 0, time.Second)
	assert.NoError(t, tel.Serve(context.Background()))
}
