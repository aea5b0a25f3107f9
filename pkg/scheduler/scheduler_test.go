package scheduler

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func threeGPUs() []GPUConfig {
	return []GPUConfig{
		{Device: 0, Name: "GPU 0", Weight: 3},
		{Device: 1, Name: "GPU 1", Weight: 1},
		{Device: 2, Name: "GPU 2", Weight: 2},
	}
}

func TestSelectFavorsHigherWeight(t *testing.T) {
	s := New(threeGPUs())
	require.True(t, s.Enabled())

	counts := map[int]int{}
	for i := 0; i < 6; i++ {
		dev, ok := s.Select()
		require.True(t, ok)
		counts[dev]++
	}

	require.Equal(t, 3, counts[0])
	require.Equal(t, 1, counts[1])
	require.Equal(t, 2, counts[2])
}

func TestSelectSkipsBusyDevices(t *testing.T) {
	s := New(threeGPUs())
	s.MarkBusy(0, true)

	dev, ok := s.Select()
	require.True(t, ok)
	require.NotEqual(t, 0, dev)
}

func TestSelectFallsBackToHighestWeightWhenAllBusy(t *testing.T) {
	s := New(threeGPUs())
	for _, g := range s.GPUs() {
		s.MarkBusy(g.Device, true)
	}

	dev, ok := s.Select()
	require.True(t, ok)
	require.Equal(t, 0, dev) // device 0 carries the highest configured weight
}

func TestSelectReturnsFalseWhenDisabled(t *testing.T) {
	s := New([]GPUConfig{{Device: 0, Name: "GPU 0", Weight: 1}})
	require.False(t, s.Enabled())

	_, ok := s.Select()
	require.False(t, ok)
}

func TestFreeDeviceReturnsFalseWhenAllBusy(t *testing.T) {
	s := New(threeGPUs())
	for _, g := range s.GPUs() {
		s.MarkBusy(g.Device, true)
	}

	_, ok := s.FreeDevice()
	require.False(t, ok)
}

func TestMarkBusyThenFreeRestoresAvailability(t *testing.T) {
	s := New(threeGPUs())
	s.MarkBusy(1, true)
	require.True(t, s.IsBusy(1))

	s.MarkBusy(1, false)
	require.False(t, s.IsBusy(1))
}

func TestWatchConfigFileStopsOnContextCancel(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/gpu_config.json"
	require.NoError(t, os.WriteFile(path, []byte(`{"enabled":true,"gpus":[]}`), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- WatchConfigFile(ctx, path) }()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("WatchConfigFile did not stop after context cancel")
	}
}
