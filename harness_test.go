package deliverify

import (
	"io"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/deliverify/config"
)

func testOptions(t *testing.T) *Options {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	opts := NewOptions()
	opts.Logger = log
	opts.DataDir = t.TempDir()
	opts.Config.StreamTimeoutMS = 5000
	return opts
}

func TestHarnessEndToEnd(t *testing.T) {
	harness, err := New(testOptions(t))
	require.NoError(t, err)
	defer harness.Teardown(true)

	workers, err := harness.CreateWorkers(3, false)
	require.NoError(t, err)
	require.Len(t, workers, 3)
	assert.Equal(t, 3, harness.Pool().Len())

	result, err := harness.RunMessageScenario(3)
	require.NoError(t, err)

	assert.True(t, result.AllReceived)
	require.NotNil(t, result.Stats)
	assert.Equal(t, 100.0, result.Stats.ReceptionPercentage)
	assert.Equal(t, 100.0, result.Stats.OrderPercentage)
	assert.True(t, harness.Thresholds().Meets(result.Stats))
}

func TestHarnessRunWithoutWorkers(t *testing.T) {
	harness, err := New(testOptions(t))
	require.NoError(t, err)
	defer harness.Teardown(true)

	_, err = harness.RunMessageScenario(1)
	assert.Error(t, err)
}

func TestHarnessNilOptions(t *testing.T) {
	harness, err := New(nil)
	require.NoError(t, err)
	assert.NotNil(t, harness.Pool())
	assert.NotNil(t, harness.Engine())
	harness.Teardown(false)
}

func TestHarnessMetricsRegistration(t *testing.T) {
	opts := testOptions(t)
	opts.MetricsRegistry = prometheus.NewRegistry()

	harness, err := New(opts)
	require.NoError(t, err)
	defer harness.Teardown(true)

	_, err = harness.CreateWorkers(2, false)
	require.NoError(t, err)

	result, err := harness.RunMessageScenario(2)
	require.NoError(t, err)

	families, err := opts.MetricsRegistry.(*prometheus.Registry).Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families, "scenario activity shows up in the registry")
	assert.True(t, result.AllReceived)
}

func TestHarnessThresholdsFollowConfig(t *testing.T) {
	opts := testOptions(t)
	opts.Config.Thresholds = config.Thresholds{ReceptionPercent: 75, OrderPercent: 25}

	harness, err := New(opts)
	require.NoError(t, err)
	defer harness.Teardown(false)

	thresholds := harness.Thresholds()
	assert.Equal(t, 75.0, thresholds.ReceptionPercent)
	assert.Equal(t, 25.0, thresholds.OrderPercent)
	assert.NotZero(t, harness.Engine())
}
