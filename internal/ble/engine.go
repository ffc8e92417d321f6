package ble

import (
	"errors"
	"fmt"

	"github.com/banshee-data/blerx/internal/monitoring"
)

var (
	// ErrRingTooSmall is returned when the sample history cannot hold the longest packet
	// the configured length mode may announce.
	ErrRingTooSmall = errors.New("ring capacity too small for length mode")
	// ErrInvalidChannel is returned for an RF channel index above MaxChannel.
	ErrInvalidChannel = errors.New("invalid BLE channel")
)

// Options configures an Engine. Use DefaultOptions and override fields as needed.
type Options struct {
	RingCapacity int
	Channel      uint8
	Cooldown     int
	LengthMode   LengthMode
	// Debug logs every candidate decision through monitoring.Logf.
	Debug bool
}

// DefaultOptions returns the advertising-channel defaults.
func DefaultOptions() Options {
	return Options{
		RingCapacity: DefaultRingCapacity,
		Channel:      AdvChannel,
		Cooldown:     CooldownSamples,
		LengthMode:   LengthBasic,
	}
}

// MinRingCapacity is the smallest ring that holds a whole packet in the given mode.
func MinRingCapacity(mode LengthMode) int {
	return mode.MaxPacketBits()
}

// Validate reports misconfiguration that would let the extractor read past the history.
func (o Options) Validate() error {
	if o.Channel > MaxChannel {
		return fmt.Errorf("%w: %d (max %d)", ErrInvalidChannel, o.Channel, MaxChannel)
	}
	if need := MinRingCapacity(o.LengthMode); o.RingCapacity < need {
		return fmt.Errorf("%w: %d samples, %s mode needs %d", ErrRingTooSmall, o.RingCapacity, o.LengthMode, need)
	}
	if o.Cooldown < 0 {
		return fmt.Errorf("cooldown must be non-negative, got %d", o.Cooldown)
	}
	return nil
}

// Sink receives accepted records. Accept is called synchronously from Process and must not
// block; implementations that hand records to another goroutine drop when full.
type Sink interface {
	Accept(Record)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Record)

func (f SinkFunc) Accept(r Record) { f(r) }

// Engine is the per-sample packet acquisition state machine. It is not safe for concurrent
// use except for Stats, which may be called from any goroutine.
type Engine struct {
	opts       Options
	sink       Sink
	ring       sampleRing
	threshold  int32
	cooldown   int
	configured bool

	hdr  [HeaderSize]byte
	span [maxSpanSize]byte

	stats counters
}

// NewEngine validates opts and allocates the sample history. The engine is inert until
// Configure is called.
func NewEngine(opts Options, sink Sink) (*Engine, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if sink == nil {
		sink = SinkFunc(func(Record) {})
	}
	return &Engine{
		opts: opts,
		sink: sink,
		ring: newSampleRing(opts.RingCapacity),
	}, nil
}

// Configure arms the engine. Later calls are no-ops.
func (e *Engine) Configure() {
	e.configured = true
}

// Configured reports whether Configure has been called.
func (e *Engine) Configured() bool {
	return e.configured
}

// Options returns the options the engine was built with.
func (e *Engine) Options() Options {
	return e.opts
}

// Stats returns a snapshot of the diagnostic counters.
func (e *Engine) Stats() Stats {
	return e.stats.snapshot()
}

// Ingest appends one sample and reports whether a packet search may run this cycle.
// The cooldown is checked before it is decremented, so a cooldown of n suppresses exactly
// the next n samples.
func (e *Engine) Ingest(s Amplitude) bool {
	if !e.configured {
		e.stats.unconfiguredDrop.Add(1)
		return false
	}
	e.ring.push(s)
	e.stats.samples.Add(1)
	if e.cooldown > 0 {
		e.cooldown--
		e.stats.cooldownSkipped.Add(1)
		return false
	}
	return true
}

// Process runs every sample of buf through Ingest and, when eligible, Scan. It returns the
// number of packets accepted.
func (e *Engine) Process(buf []Amplitude) int {
	accepted := 0
	for _, s := range buf {
		if e.Ingest(s) && e.Scan() {
			accepted++
		}
	}
	return accepted
}

// Scan evaluates the detection window that starts at the oldest buffered sample. It
// returns true when a packet was accepted and handed to the sink.
func (e *Engine) Scan() bool {
	e.stats.scans.Add(1)
	e.Threshold()
	if e.transitions() != PreambleBits {
		return false
	}
	e.stats.preambles.Add(1)

	var aa uint32
	for i := 0; i < 4; i++ {
		b := ReverseBits(e.readByte(AccessAddressBitOffset + 8*i))
		aa |= uint32(b) << (8 * i)
	}
	if aa != AdvAccessAddress {
		e.stats.addressRejects.Add(1)
		if e.opts.Debug {
			monitoring.Logf("ble: preamble at sample %d, access address 0x%08X rejected", e.windowStart(), aa)
		}
		return false
	}

	// From here on the candidate counts as processed and the cooldown is armed whatever
	// the outcome.
	e.cooldown = e.opts.Cooldown

	e.readBytes(e.hdr[:], HeaderBitOffset)
	Dewhiten(e.hdr[:], e.opts.Channel)
	length := int(ReverseBits(e.hdr[1]) & e.opts.LengthMode.mask())

	spanLen := HeaderSize + length + CRCSize
	span := e.span[:spanLen]
	e.readBytes(span, HeaderBitOffset)
	Dewhiten(span, e.opts.Channel)

	crcAt := HeaderSize + length
	want := uint32(span[crcAt])<<16 | uint32(span[crcAt+1])<<8 | uint32(span[crcAt+2])
	got := CRC24(span[:crcAt], AdvCRCSeed)
	if got != want {
		e.stats.crcFailures.Add(1)
		if e.opts.Debug {
			monitoring.Logf("ble: sample %d len %d crc mismatch got 0x%06X want 0x%06X", e.windowStart(), length, got, want)
		}
		return false
	}

	if length < AddressSize {
		e.stats.shortPDUs.Add(1)
		if e.opts.Debug {
			monitoring.Logf("ble: sample %d payload of %d bytes has no address", e.windowStart(), length)
		}
		return false
	}

	rec := e.record(span, length, want)
	e.stats.accepted.Add(1)
	if e.opts.Debug {
		monitoring.Logf("ble: sample %d accepted %s %s len %d", rec.SampleIndex, rec.PDUType, rec.Address, rec.Length)
	}
	e.sink.Accept(rec)
	return true
}

// record converts a validated air-order span into a Record. Only this step allocates.
func (e *Engine) record(span []byte, length int, crc uint32) Record {
	rec := Record{
		Length:      length,
		Channel:     e.opts.Channel,
		CRC:         crc,
		SampleIndex: e.windowStart(),
		Payload:     make([]byte, length),
	}
	rec.Header[0] = ReverseBits(span[0])
	rec.Header[1] = ReverseBits(span[1])
	rec.PDUType, rec.TxAdd = decodeHeader(rec.Header[0])
	for i := 0; i < length; i++ {
		rec.Payload[i] = ReverseBits(span[HeaderSize+i])
	}
	// AdvA is little-endian on air.
	for k := 0; k < AddressSize; k++ {
		rec.Address[k] = rec.Payload[AddressSize-1-k]
	}
	return rec
}

// windowStart is the stream index of the sample at offset 0, the oldest buffered sample.
func (e *Engine) windowStart() uint64 {
	n := e.stats.samples.Load()
	c := uint64(e.ring.capacity())
	if n < c {
		return 0
	}
	return n - c
}
