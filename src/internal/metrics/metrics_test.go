package metrics

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ReapedProcesses.Add(2)
	m.KillFailures.WithLabelValues(PhaseShutdown).Inc()
	m.Spawns.WithLabelValues("ok").Inc()
	m.OutputLines.WithLabelValues("stderr").Add(3)
	m.Up.Set(1)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ReapedProcesses))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.KillFailures.WithLabelValues(PhaseShutdown)))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.OutputLines.WithLabelValues("stderr")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Up))

	count, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Equal(t, 5, count)
}

func TestNew_DoubleRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}

func TestServer_ServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.Spawns.WithLabelValues("ok").Inc()

	srv, err := Listen("127.0.0.1:0", reg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	client := &http.Client{Timeout: 2 * time.Second}
	var body string
	require.Eventually(t, func() bool {
		resp, err := client.Get("http://" + srv.Addr() + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		body = string(data)
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond)

	assert.True(t, strings.Contains(body, `sidecar_spawns_total{result="ok"} 1`), body)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("metrics server did not stop")
	}
}
