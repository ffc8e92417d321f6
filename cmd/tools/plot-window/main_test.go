package main

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/blerx/internal/ble"
	"github.com/banshee-data/blerx/internal/samplemux"
	"github.com/banshee-data/blerx/internal/testutil"
)

func TestThreshold(t *testing.T) {
	s := []int16{1, 2, 3, 4, 5, 6, 7, 8, 9}
	got, ok := threshold(s, 0)
	require.True(t, ok)
	assert.Equal(t, int32(4), got, "36/8 truncates")

	_, ok = threshold(s, 2)
	assert.False(t, ok)

	got, _ = threshold([]int16{-1, -2, -3, -4, -5, -6, -7, -8}, 0)
	assert.Equal(t, int32(-4), got, "truncates toward zero")
}

func TestPlotWindow(t *testing.T) {
	samples := testutil.Stream(t, testutil.Packet(ble.Address{0xC0, 1, 2, 3, 4, 5}, "plot"))
	path := testutil.TempPath(t, "rec.s16")
	require.NoError(t, os.WriteFile(path, samplemux.EncodeSamples(samples), 0o644))

	loaded, err := readSamples(path)
	require.NoError(t, err)
	assert.Equal(t, samples, loaded)

	records, err := decode(loaded, ble.AdvChannel)
	require.NoError(t, err)
	require.Len(t, records, 1)

	p, err := buildPlot(loaded, 0, 400, records)
	require.NoError(t, err)
	out := testutil.TempPath(t, "window.png")
	require.NoError(t, p.Save(6*vg.Inch, 3*vg.Inch, out))
	info, err := os.Stat(out)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))

	_, err = buildPlot(loaded, len(loaded), 10, nil)
	assert.Error(t, err)
}
