package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRunMetrics_RegistersAllInstruments(t *testing.T) {
	m, err := NewRunMetrics()
	require.NoError(t, err)
	require.NotNil(t, m)
}

func TestRecordRunStarted_DoesNotPanic(t *testing.T) {
	m, err := NewRunMetrics()
	require.NoError(t, err)
	assert.NotPanics(t, func() {
		m.RecordRunStarted(context.Background())
	})
}

func TestRecordRunFinished_DoesNotPanic(t *testing.T) {
	m, err := NewRunMetrics()
	require.NoError(t, err)
	assert.NotPanics(t, func() {
		m.RecordRunFinished(context.Background(), true, 3*time.Second)
		m.RecordRunFinished(context.Background(), false, time.Second)
	})
}

func TestRecordFallbackAndIteration_DoNotPanic(t *testing.T) {
	m, err := NewRunMetrics()
	require.NoError(t, err)
	assert.NotPanics(t, func() {
		m.RecordFallback(context.Background())
		m.RecordIteration(context.Background(), "plan")
	})
}
