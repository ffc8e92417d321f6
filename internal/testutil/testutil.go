// Package testutil provides shared test utilities and fixtures for the receiver
// packages: local debug requests, synthetic sample streams and in-memory sources.
package testutil

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/banshee-data/blerx/internal/ble"
)

// Amplitude is the modulation level used by synthetic streams.
const Amplitude int16 = 4000

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t testing.TB, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// LocalRequest creates a request that appears to come from localhost, which the
// tsweb debug handlers require.
func LocalRequest(method, path string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, path, body)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

// TempPath returns a path named name inside a per-test temporary directory.
func TempPath(t testing.TB, name string) string {
	t.Helper()
	return filepath.Join(t.TempDir(), name)
}

// Packet returns a small ADV_IND packet for addr carrying a flags structure and name.
func Packet(addr ble.Address, name string) ble.AdvPacket {
	data := []byte{0x02, 0x01, 0x06, byte(1 + len(name)), 0x09}
	data = append(data, name...)
	return ble.AdvPacket{
		Type:    ble.PDUAdvInd,
		TxAdd:   true,
		Address: addr,
		Data:    data,
		Channel: ble.AdvChannel,
	}
}

// Stream modulates packets separated by idle gaps and appends enough idle samples for
// the last packet to reach the detection window of a default-sized ring.
func Stream(t testing.TB, packets ...ble.AdvPacket) []int16 {
	t.Helper()
	var out []int16
	for _, p := range packets {
		s, err := p.Samples(Amplitude)
		if err != nil {
			t.Fatalf("modulate packet: %v", err)
		}
		out = append(out, make([]int16, 64)...)
		out = append(out, s...)
	}
	return append(out, make([]int16, ble.DefaultRingCapacity)...)
}

// ByteSource is an in-memory sample source. Reads return at most ChunkSize bytes to
// exercise partial reads; Close is recorded.
type ByteSource struct {
	mu        sync.Mutex
	r         *bytes.Reader
	ChunkSize int
	ReadErr   error // returned once the data is exhausted, instead of io.EOF
	closed    bool
}

// NewByteSource wraps data.
func NewByteSource(data []byte) *ByteSource {
	return &ByteSource{r: bytes.NewReader(data)}
}

func (s *ByteSource) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, io.EOF
	}
	if s.ChunkSize > 0 && len(p) > s.ChunkSize {
		p = p[:s.ChunkSize]
	}
	n, err := s.r.Read(p)
	if err == io.EOF && s.ReadErr != nil {
		return n, s.ReadErr
	}
	return n, err
}

func (s *ByteSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *ByteSource) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
