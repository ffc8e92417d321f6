// Package samplemux owns a demodulated sample source, drives the packet acquisition
// engine over it and lets multiple clients subscribe to the decoded advertising packets.
package samplemux

import (
	"context"
	crand "crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/blerx/internal/ble"
	"github.com/banshee-data/blerx/internal/monitoring"
	"github.com/banshee-data/blerx/internal/timeutil"
)

// ErrNotInitialized is returned by Monitor when Initialize was never called.
var ErrNotInitialized = errors.New("sample mux not initialized")

// Event is an accepted packet stamped with the host time it was decoded.
type Event struct {
	Record ble.Record `json:"record"`
	Time   time.Time  `json:"time"`
}

// Options configures a SampleMux.
type Options struct {
	Engine ble.Options
	// ReadSize is the number of samples requested per source read.
	ReadSize int
	// TokenQueue is the capacity of the framed token stream; zero disables it.
	TokenQueue    int
	FrameMetadata bool
	// SubscriberBuffer is the per-subscriber event channel capacity.
	SubscriberBuffer int
	Clock            timeutil.Clock
	Metrics          *monitoring.Metrics
}

func (o Options) withDefaults() Options {
	if o.ReadSize <= 0 {
		o.ReadSize = 4096
	}
	if o.SubscriberBuffer <= 0 {
		o.SubscriberBuffer = 64
	}
	if o.Clock == nil {
		o.Clock = timeutil.RealClock{}
	}
	return o
}

// Stats is the mux-level view of the receiver, served by the stats admin route.
type Stats struct {
	Engine        ble.Stats                   `json:"engine"`
	Amplitude     monitoring.AmplitudeSummary `json:"amplitude"`
	Subscribers   int                         `json:"subscribers"`
	Dropped       uint64                      `json:"dropped_events"`
	TokensFramed  uint64                      `json:"tokens_framed"`
	TokensDropped uint64                      `json:"tokens_dropped"`
	Initialized   bool                        `json:"initialized"`
}

// SampleMux drives a ble.Engine from a single sample source and fans accepted packets
// out to subscribers.
type SampleMux[T SampleSource] struct {
	src     T
	opts    Options
	engine  *ble.Engine
	tokens  *ble.TokenQueue
	metrics *monitoring.Metrics

	subscribers  map[string]chan Event
	subscriberMu sync.Mutex
	closing      bool
	closingMu    sync.Mutex
	initialized  atomic.Bool
	dropped      atomic.Uint64

	amp       monitoring.AmplitudeStats
	ampMu     sync.Mutex
	lastAmp   monitoring.AmplitudeSummary
	lastStats ble.Stats
}

// SampleMuxInterface defines the interface for the SampleMux type.
type SampleMuxInterface interface {
	// Subscribe creates a new channel for receiving decoded packets. The channel ID is
	// used to identify the unique channel when unsubscribing.
	Subscribe() (string, chan Event)
	// Unsubscribe removes a channel from the list of subscribers.
	Unsubscribe(string)
	// Initialize arms the acquisition engine.
	Initialize() error
	// Monitor reads samples from the source and runs them through the engine until
	// the context is cancelled or the source is exhausted.
	Monitor(context.Context) error
	// Close closes all subscribed channels and the source.
	Close() error
	// Stats reports engine and fan-out counters.
	Stats() Stats

	// AttachAdminRoutes attaches admin debugging endpoints to the given HTTP
	// mux served at /debug/. These routes are accessible only over
	// localhost/via Tailscale and are not publicly accessible.
	AttachAdminRoutes(*http.ServeMux)
}

// NewSampleMux creates a SampleMux reading from src.
func NewSampleMux[T SampleSource](src T, opts Options) (*SampleMux[T], error) {
	opts = opts.withDefaults()
	s := &SampleMux[T]{
		src:         src,
		opts:        opts,
		metrics:     opts.Metrics,
		subscribers: make(map[string]chan Event),
	}
	if opts.TokenQueue > 0 {
		s.tokens = ble.NewTokenQueue(opts.TokenQueue, opts.FrameMetadata)
	}
	engine, err := ble.NewEngine(opts.Engine, ble.SinkFunc(s.accept))
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}
	s.engine = engine
	return s, nil
}

// randomID generates a random channel ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

func (s *SampleMux[T]) Subscribe() (string, chan Event) {
	id := randomID()
	ch := make(chan Event, s.opts.SubscriberBuffer)
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	s.subscribers[id] = ch
	if s.metrics != nil {
		s.metrics.Subscribers.Set(float64(len(s.subscribers)))
	}
	return id, ch
}

// Unsubscribe removes a subscriber from the sample mux.
func (s *SampleMux[T]) Unsubscribe(id string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
	if s.metrics != nil {
		s.metrics.Subscribers.Set(float64(len(s.subscribers)))
	}
}

// Initialize delivers the one-shot configure to the engine. Samples read before it are
// discarded by the engine.
func (s *SampleMux[T]) Initialize() error {
	s.engine.Configure()
	s.initialized.Store(true)
	monitoring.Logf("samplemux: engine configured on channel %d, ring %d samples, %s length",
		s.opts.Engine.Channel, s.opts.Engine.RingCapacity, s.opts.Engine.LengthMode)
	return nil
}

// Tokens returns the framed token queue, or nil when disabled.
func (s *SampleMux[T]) Tokens() *ble.TokenQueue {
	return s.tokens
}

// Engine exposes the underlying engine for read-only inspection.
func (s *SampleMux[T]) Engine() *ble.Engine {
	return s.engine
}

// Monitor reads the source and processes each buffer synchronously. It returns nil when
// the source reaches EOF.
func (s *SampleMux[T]) Monitor(ctx context.Context) error {
	if !s.initialized.Load() {
		return ErrNotInitialized
	}

	bufChan := make(chan []int16)
	readErrChan := make(chan error, 1)

	// Source reads block, so they run here and the loop below only waits on whole
	// buffers and cancellation.
	go func() {
		defer close(bufChan)
		raw := make([]byte, 2*s.opts.ReadSize)
		carry := -1
		for {
			n, err := s.src.Read(raw)
			if n > 0 {
				var samples []int16
				samples, carry = decodeSamples(raw[:n], carry)
				if len(samples) > 0 {
					select {
					case bufChan <- samples:
					case <-ctx.Done():
						return
					}
				}
			}
			if err != nil {
				if err != io.EOF {
					select {
					case readErrChan <- err:
					case <-ctx.Done():
					}
				}
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-readErrChan:
			if s.isClosing() {
				return nil
			}
			if s.metrics != nil {
				s.metrics.ReadErrors.Inc()
			}
			return fmt.Errorf("read samples: %w", err)

		case samples, ok := <-bufChan:
			if !ok {
				select {
				case err := <-readErrChan:
					if !s.isClosing() {
						return fmt.Errorf("read samples: %w", err)
					}
				default:
				}
				return nil
			}
			if s.isClosing() {
				return nil
			}
			s.process(samples)
		}
	}
}

func (s *SampleMux[T]) isClosing() bool {
	s.closingMu.Lock()
	defer s.closingMu.Unlock()
	return s.closing
}

// process runs one buffer through the engine and refreshes the counters.
func (s *SampleMux[T]) process(samples []int16) {
	s.engine.Process(samples)

	s.ampMu.Lock()
	s.lastAmp = s.amp.Summarize(samples)
	summary := s.lastAmp
	s.ampMu.Unlock()

	if s.metrics == nil {
		return
	}
	s.metrics.ObserveAmplitude(summary)
	cur := s.engine.Stats()
	d := cur.Sub(s.lastStats)
	s.lastStats = cur
	s.metrics.Samples.Add(float64(d.Samples))
	s.metrics.Scans.Add(float64(d.Scans))
	s.metrics.CooldownSkipped.Add(float64(d.CooldownSkipped))
	s.metrics.Candidates.WithLabelValues(monitoring.OutcomePreamble).Add(float64(d.Preambles))
	s.metrics.Candidates.WithLabelValues(monitoring.OutcomeAddressReject).Add(float64(d.AddressRejects))
	s.metrics.Candidates.WithLabelValues(monitoring.OutcomeCRCFailure).Add(float64(d.CRCFailures))
	s.metrics.Candidates.WithLabelValues(monitoring.OutcomeShortPDU).Add(float64(d.ShortPDUs))
	s.metrics.Candidates.WithLabelValues(monitoring.OutcomeAccepted).Add(float64(d.Accepted))
}

// accept is the engine sink. It runs on the Monitor goroutine and never blocks.
func (s *SampleMux[T]) accept(r ble.Record) {
	ev := Event{Record: r, Time: s.opts.Clock.Now()}

	if s.tokens != nil {
		before := s.tokens.Dropped()
		s.tokens.Accept(r)
		if s.metrics != nil && s.tokens.Dropped() != before {
			s.metrics.Dropped.WithLabelValues("tokens").Inc()
		}
	}
	if s.metrics != nil {
		s.metrics.Packets.WithLabelValues(r.PDUType.String()).Inc()
	}

	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- ev:
		default:
			// if the channel is full skip so as not to stall the engine
			s.dropped.Add(1)
			if s.metrics != nil {
				s.metrics.Dropped.WithLabelValues("subscriber").Inc()
			}
		}
	}
}

// Stats returns a snapshot of the receiver counters.
func (s *SampleMux[T]) Stats() Stats {
	s.subscriberMu.Lock()
	n := len(s.subscribers)
	s.subscriberMu.Unlock()
	s.ampMu.Lock()
	amp := s.lastAmp
	s.ampMu.Unlock()

	st := Stats{
		Engine:      s.engine.Stats(),
		Amplitude:   amp,
		Subscribers: n,
		Dropped:     s.dropped.Load(),
		Initialized: s.initialized.Load(),
	}
	if s.tokens != nil {
		st.TokensFramed = s.tokens.Framed()
		st.TokensDropped = s.tokens.Dropped()
	}
	return st
}

func (s *SampleMux[T]) Close() error {
	s.closingMu.Lock()
	if s.closing {
		s.closingMu.Unlock()
		return nil
	}
	s.closing = true
	s.closingMu.Unlock()

	s.subscriberMu.Lock()
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	s.subscriberMu.Unlock()
	return s.src.Close()
}

// decodeSamples converts little-endian byte pairs to samples. carry holds a dangling low
// byte from the previous read, or -1.
func decodeSamples(raw []byte, carry int) ([]int16, int) {
	total := len(raw)
	if carry >= 0 {
		total++
	}
	out := make([]int16, 0, total/2)
	i := 0
	if carry >= 0 && len(raw) > 0 {
		out = append(out, int16(uint16(carry)|uint16(raw[0])<<8))
		i = 1
		carry = -1
	}
	for ; i+1 < len(raw); i += 2 {
		out = append(out, int16(binary.LittleEndian.Uint16(raw[i:])))
	}
	if i < len(raw) {
		carry = int(raw[i])
	}
	return out, carry
}
