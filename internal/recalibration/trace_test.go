package recalibration

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestRunOnceIsTraced(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	src := staticSource{stats: []ItemStat{
		{ItemID: "1", A: 1, B: 0, C: 0.2, CorrectRate: 0.4},
		{ItemID: "", A: 1, B: 0, C: 0, CorrectRate: 0.5},
	}}
	rep, err := NewRunner(src, &recordingSink{}, RunnerOptions{}, nil).RunOnce(context.Background())
	require.NoError(t, err)
	_, err = NewRunner(staticSource{err: errors.New("db down")}, nil, RunnerOptions{}, nil).RunOnce(context.Background())
	require.Error(t, err)

	spans := rec.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "recalibration.run", spans[0].Name())
	got := map[string]int64{}
	for _, kv := range spans[0].Attributes() {
		if kv.Key == "run_id" {
			assert.Equal(t, rep.RunID, kv.Value.AsString())
			continue
		}
		got[string(kv.Key)] = kv.Value.AsInt64()
	}
	assert.Equal(t, map[string]int64{"updated": 1, "skipped": 1, "failed": 0}, got)
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	assert.Equal(t, codes.Error, spans[1].Status().Code)
}
