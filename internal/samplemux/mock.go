package samplemux

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/banshee-data/blerx/internal/ble"
	"github.com/banshee-data/blerx/internal/timeutil"
)

// EncodeSamples serializes samples in the wire format read by the mux.
func EncodeSamples(samples []int16) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}

// SynthesizeBurst modulates packets back to back, each preceded by gap idle samples, and
// pads the end with trail idle samples so the last packet reaches the detection window.
func SynthesizeBurst(packets []ble.AdvPacket, amplitude int16, gap, trail int) ([]int16, error) {
	var out []int16
	for i, p := range packets {
		s, err := p.Samples(amplitude)
		if err != nil {
			return nil, fmt.Errorf("packet %d: %w", i, err)
		}
		out = append(out, make([]int16, gap)...)
		out = append(out, s...)
	}
	return append(out, make([]int16, trail)...), nil
}

// MockSource is a SampleSource that emits a synthetic burst of advertising packets on
// every tick of its clock. It stands in for radio hardware in development mode.
type MockSource struct {
	r      *io.PipeReader
	w      *io.PipeWriter
	ticker timeutil.Ticker
	done   chan struct{}
	once   sync.Once
}

// NewMockSource starts emitting burst once per interval.
func NewMockSource(burst []int16, interval time.Duration, clock timeutil.Clock) *MockSource {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	r, w := io.Pipe()
	m := &MockSource{
		r:      r,
		w:      w,
		ticker: clock.NewTicker(interval),
		done:   make(chan struct{}),
	}
	data := EncodeSamples(burst)

	go func() {
		defer w.Close()
		defer m.ticker.Stop()
		for {
			select {
			case <-m.done:
				return
			case <-m.ticker.C():
				if _, err := w.Write(data); err != nil {
					return
				}
			}
		}
	}()
	return m
}

// Read implements io.Reader.
func (m *MockSource) Read(p []byte) (int, error) {
	return m.r.Read(p)
}

// Close stops the generator and unblocks readers.
func (m *MockSource) Close() error {
	m.once.Do(func() { close(m.done) })
	return m.r.Close()
}
