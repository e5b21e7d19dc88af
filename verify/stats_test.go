package verify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateStatsAllReceivedInOrder(t *testing.T) {
	sent := []string{"gm-1", "gm-2", "gm-3"}
	perReceiver := [][]string{
		{"gm-1", "gm-2", "gm-3"},
		{"gm-1", "gm-2", "gm-3"},
	}

	stats := CalculateStats(perReceiver, sent)
	require.NotNil(t, stats)

	assert.Equal(t, 100.0, stats.ReceptionPercentage)
	assert.Equal(t, 100.0, stats.OrderPercentage)
	assert.Equal(t, 2, stats.WorkersInOrder)
	assert.Equal(t, 2, stats.WorkerCount)
	assert.Equal(t, 6, stats.TotalReceived)
	assert.Equal(t, 6, stats.TotalExpected)
}

func TestCalculateStatsOrderIsExactMatch(t *testing.T) {
	sent := []string{"a", "b", "c"}

	tests := []struct {
		name        string
		received    []string
		wantInOrder bool
	}{
		{"exact match", []string{"a", "b", "c"}, true},
		{"reversed", []string{"c", "b", "a"}, false},
		{"swapped pair", []string{"a", "c", "b"}, false},
		{"correct prefix missing tail", []string{"a", "b"}, false},
		{"extra trailing item", []string{"a", "b", "c", "d"}, false},
		{"empty", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stats := CalculateStats([][]string{tt.received}, sent)
			require.NotNil(t, stats)
			if tt.wantInOrder {
				assert.Equal(t, 1, stats.WorkersInOrder)
				assert.Equal(t, 100.0, stats.OrderPercentage)
			} else {
				assert.Equal(t, 0, stats.WorkersInOrder)
				assert.Equal(t, 0.0, stats.OrderPercentage)
			}
		})
	}
}

func TestCalculateStatsPartialReception(t *testing.T) {
	sent := []string{"m-1", "m-2", "m-3"}
	perReceiver := [][]string{
		{"m-1", "m-2", "m-3"},
		{"m-1", "m-2", "m-3"},
		{}, // one receiver got nothing
	}

	stats := CalculateStats(perReceiver, sent)
	require.NotNil(t, stats)

	assert.InDelta(t, 66.67, stats.ReceptionPercentage, 0.01)
	assert.InDelta(t, 66.67, stats.OrderPercentage, 0.01)
	assert.Equal(t, 6, stats.TotalReceived)
	assert.Equal(t, 9, stats.TotalExpected)
}

func TestCalculateStatsDegenerateInput(t *testing.T) {
	assert.Nil(t, CalculateStats(nil, []string{"a"}))
	assert.Nil(t, CalculateStats([][]string{{"a"}}, nil))
	assert.Nil(t, CalculateStats(nil, nil))
}

func TestThresholdsMeets(t *testing.T) {
	thresholds := DefaultThresholds()

	assert.True(t, thresholds.Meets(nil), "nil stats trivially pass")
	assert.True(t, thresholds.Meets(&Stats{ReceptionPercentage: 100, OrderPercentage: 100}))
	assert.True(t, thresholds.Meets(&Stats{ReceptionPercentage: 90, OrderPercentage: 50}), "bounds are inclusive")
	assert.False(t, thresholds.Meets(&Stats{ReceptionPercentage: 89.9, OrderPercentage: 100}))
	assert.False(t, thresholds.Meets(&Stats{ReceptionPercentage: 100, OrderPercentage: 49.9}))
}

func TestResultSequences(t *testing.T) {
	result := &Result{
		PerReceiver: []ReceiverSequence{
			{Worker: "alice", Payloads: []string{"x", "y"}},
			{Worker: "bob", Payloads: nil},
		},
	}

	sequences := result.Sequences()
	require.Len(t, sequences, 2)
	assert.Equal(t, []string{"x", "y"}, sequences[0])
	assert.Empty(t, sequences[1])
}
