package testutil

import (
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/banshee-data/blerx/internal/ble"
)

func TestLocalRequest(t *testing.T) {
	req := LocalRequest(http.MethodGet, "/debug/stats", nil)
	if req.RemoteAddr != "127.0.0.1:12345" {
		t.Errorf("RemoteAddr = %q", req.RemoteAddr)
	}
	if req.URL.Path != "/debug/stats" {
		t.Errorf("Path = %q", req.URL.Path)
	}
}

func TestStream_DecodesToPackets(t *testing.T) {
	addr := ble.Address{1, 2, 3, 4, 5, 6}
	samples := Stream(t, Packet(addr, "a"), Packet(addr, "b"))

	var got []ble.Record
	e, err := ble.NewEngine(ble.DefaultOptions(), ble.SinkFunc(func(r ble.Record) { got = append(got, r) }))
	AssertNoError(t, err)
	e.Configure()
	e.Process(samples)

	if len(got) != 2 {
		t.Fatalf("decoded %d packets, want 2", len(got))
	}
	if got[0].Address != addr {
		t.Errorf("address = %s", got[0].Address)
	}
}

func TestByteSource(t *testing.T) {
	src := NewByteSource([]byte{1, 2, 3, 4, 5})
	src.ChunkSize = 2
	buf := make([]byte, 8)

	n, err := src.Read(buf)
	if n != 2 || err != nil {
		t.Fatalf("first read = %d, %v", n, err)
	}
	data, err := io.ReadAll(src)
	if err != nil || len(data) != 3 {
		t.Fatalf("ReadAll = %v, %v", data, err)
	}

	boom := errors.New("boom")
	src = NewByteSource(nil)
	src.ReadErr = boom
	if _, err := src.Read(buf); !errors.Is(err, boom) {
		t.Errorf("expected injected error, got %v", err)
	}

	src.Close()
	if !src.Closed() {
		t.Error("Closed() = false after Close")
	}
	if _, err := src.Read(buf); err != io.EOF {
		t.Errorf("read after close = %v", err)
	}
}

func TestTempPath(t *testing.T) {
	p := TempPath(t, "x.db")
	if p == "" || p[len(p)-4:] != "x.db" {
		t.Errorf("TempPath = %q", p)
	}
}
