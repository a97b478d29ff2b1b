package daemon

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Registered(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	metrics.filesDiscovered.Inc()
	metrics.queuedFiles.Inc()
	metrics.queuedFiles.Inc()
	metrics.queuedFiles.Dec()

	count, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Equal(t, 7, count)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.filesDiscovered))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.queuedFiles))
}

func TestMetrics_Unregistered(t *testing.T) {
	assert.NotPanics(t, func() {
		NewMetrics(nil)
		NewMetrics(nil)
	})
}

func TestMetrics_ConcurrentUpdates(t *testing.T) {
	metrics := NewMetrics(nil)

	var wg sync.WaitGroup
	inc := func(fn func()) {
		for i := 0; i < 1000; i++ {
			fn()
		}
		wg.Done()
	}

	wg.Add(4)
	go inc(metrics.filesDiscovered.Inc)
	go inc(metrics.filesProcessed.Inc)
	go inc(metrics.workersBusy.Inc)
	go inc(metrics.linesRead.Inc)
	wg.Wait()

	assert.Equal(t, 1000.0, testutil.ToFloat64(metrics.filesDiscovered))
	assert.Equal(t, 1000.0, testutil.ToFloat64(metrics.filesProcessed))
	assert.Equal(t, 1000.0, testutil.ToFloat64(metrics.workersBusy))
	assert.Equal(t, 1000.0, testutil.ToFloat64(metrics.linesRead))
}
