// Package capture writes accepted advertising packets to pcap files readable by
// Wireshark's Bluetooth LE link-layer dissector.
package capture

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/klauspost/compress/gzip"
	"github.com/lestrrat-go/strftime"

	"github.com/banshee-data/blerx/internal/ble"
)

// LinkTypeBluetoothLELL is LINKTYPE_BLUETOOTH_LE_LL: access address, PDU and CRC with
// no pseudo-header.
const LinkTypeBluetoothLELL = layers.LinkType(251)

const snapLen = 4 + ble.HeaderSize + ble.MaxPayloadSize + ble.CRCSize

// RecordBytes lays out r as a link-layer packet in protocol byte order.
func RecordBytes(r ble.Record) []byte {
	aa := ble.AccessAddressBytes()
	out := make([]byte, 0, len(aa)+ble.HeaderSize+len(r.Payload)+ble.CRCSize)
	out = append(out, aa[:]...)
	out = append(out, r.Header[:]...)
	out = append(out, r.Payload...)
	return append(out,
		ble.ReverseBits(byte(r.CRC>>16)),
		ble.ReverseBits(byte(r.CRC>>8)),
		ble.ReverseBits(byte(r.CRC)),
	)
}

// Writer appends records to a pcap stream. It is safe for concurrent use.
type Writer struct {
	mu      sync.Mutex
	pw      *pcapgo.Writer
	buf     *bufio.Writer
	closers []io.Closer
	count   int
}

// NewWriter writes the pcap file header to w.
func NewWriter(w io.Writer) (*Writer, error) {
	buf := bufio.NewWriter(w)
	pw := pcapgo.NewWriter(buf)
	if err := pw.WriteFileHeader(snapLen, LinkTypeBluetoothLELL); err != nil {
		return nil, fmt.Errorf("write pcap header: %w", err)
	}
	return &Writer{pw: pw, buf: buf}, nil
}

// Open creates the capture file named by expanding the strftime pattern at now. Paths
// ending in .gz are gzip-compressed. It returns the expanded path.
func Open(pattern string, now time.Time) (*Writer, string, error) {
	path, err := strftime.Format(pattern, now)
	if err != nil {
		return nil, "", fmt.Errorf("capture path pattern %q: %w", pattern, err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, "", fmt.Errorf("create capture directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, "", fmt.Errorf("create capture file: %w", err)
	}

	var out io.Writer = f
	closers := []io.Closer{f}
	if strings.HasSuffix(strings.ToLower(path), ".gz") {
		zw := gzip.NewWriter(f)
		out = zw
		closers = []io.Closer{zw, f}
	}

	w, err := NewWriter(out)
	if err != nil {
		for _, c := range closers {
			c.Close()
		}
		return nil, "", err
	}
	w.closers = closers
	return w, path, nil
}

// WriteRecord appends r captured at time at.
func (w *Writer) WriteRecord(r ble.Record, at time.Time) error {
	data := RecordBytes(r)
	w.mu.Lock()
	defer w.mu.Unlock()
	err := w.pw.WritePacket(gopacket.CaptureInfo{
		Timestamp:     at,
		CaptureLength: len(data),
		Length:        len(data),
	}, data)
	if err != nil {
		return fmt.Errorf("write capture packet: %w", err)
	}
	w.count++
	return nil
}

// Count returns the number of records written.
func (w *Writer) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Flush pushes buffered packets to the underlying writer.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Flush()
}

// Close flushes and closes any files opened by Open.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	err := w.buf.Flush()
	for _, c := range w.closers {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	w.closers = nil
	return err
}
