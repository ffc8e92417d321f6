package samplemux

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"go.bug.st/serial"
)

// SampleSource is the minimal interface of a demodulated sample stream: little-endian
// signed 16-bit samples read as raw bytes.
type SampleSource interface {
	io.Reader
	io.Closer
}

// PortOptions describes the serial connection parameters used when opening a serial
// sample front-end.
type PortOptions struct {
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"`
}

// DefaultBaudRate suits a 1 Msample/s front-end that decimates before transmission.
const DefaultBaudRate = 921600

// Normalize validates the options and applies defaults for any unset values.
func (o PortOptions) Normalize() (PortOptions, error) {
	opts := o

	if opts.BaudRate <= 0 {
		opts.BaudRate = DefaultBaudRate
	}

	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}

	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}

	switch parity := strings.TrimSpace(strings.ToUpper(opts.Parity)); parity {
	case "", "N", "NONE":
		opts.Parity = "N"
	case "E", "EVEN":
		opts.Parity = "E"
	case "O", "ODD":
		opts.Parity = "O"
	default:
		return opts, fmt.Errorf("unsupported parity %q: expected N, E, or O", opts.Parity)
	}
	return opts, nil
}

// SerialMode converts the port options into the serial.Mode structure required by
// go.bug.st/serial when opening a port.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}

	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
	}
	if opts.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	} else {
		mode.StopBits = serial.OneStopBit
	}

	switch opts.Parity {
	case "N":
		mode.Parity = serial.NoParity
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	}
	return mode, nil
}

// OpenSerialSource opens a serial sample front-end at path.
func OpenSerialSource(path string, opts PortOptions) (serial.Port, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", path, err)
	}
	return port, nil
}

// FileSource reads samples from a recording. Files ending in .zst are decompressed on the
// fly. With loop set the file is reopened at EOF, which makes a short recording behave
// like a live feed.
type FileSource struct {
	path string
	loop bool

	mu     sync.Mutex
	f      *os.File
	r      io.Reader
	dec    *zstd.Decoder
	closed bool
	passes int
}

// OpenFileSource opens the recording at path.
func OpenFileSource(path string, loop bool) (*FileSource, error) {
	s := &FileSource{path: filepath.Clean(path), loop: loop}
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileSource) open() error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("open sample file: %w", err)
	}
	s.f = f
	s.r = f
	if strings.HasSuffix(strings.ToLower(s.path), ".zst") {
		if s.dec == nil {
			dec, err := zstd.NewReader(f)
			if err != nil {
				f.Close()
				return fmt.Errorf("open zstd stream: %w", err)
			}
			s.dec = dec
		} else if err := s.dec.Reset(f); err != nil {
			f.Close()
			return fmt.Errorf("reset zstd stream: %w", err)
		}
		s.r = s.dec
	}
	return nil
}

// Read implements io.Reader.
func (s *FileSource) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, io.EOF
	}
	n, err := s.r.Read(p)
	if err == io.EOF && s.loop {
		s.passes++
		s.f.Close()
		if oerr := s.open(); oerr != nil {
			return n, oerr
		}
		if n > 0 {
			return n, nil
		}
		return s.r.Read(p)
	}
	return n, err
}

// Passes returns how many times a looping source has wrapped.
func (s *FileSource) Passes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.passes
}

// Close implements io.Closer.
func (s *FileSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.dec != nil {
		s.dec.Close()
	}
	return s.f.Close()
}
