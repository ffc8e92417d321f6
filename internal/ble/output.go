package ble

import (
	"sync/atomic"
)

// Token is one element of the outbound byte stream. Marker tokens carry StartMarker or
// EndMarker; data tokens carry record bytes.
type Token struct {
	Marker bool
	Value  byte
}

// Frame renders a record as tokens: start marker, address, optional length and channel,
// end marker.
func Frame(r Record, metadata bool) []Token {
	n := 2 + AddressSize
	if metadata {
		n += 2
	}
	out := make([]Token, 0, n)
	out = append(out, Token{Marker: true, Value: StartMarker})
	for _, b := range r.Address {
		out = append(out, Token{Value: b})
	}
	if metadata {
		out = append(out, Token{Value: byte(r.Length)}, Token{Value: r.Channel})
	}
	return append(out, Token{Marker: true, Value: EndMarker})
}

// TokenQueue is a Sink that frames records onto a bounded channel. A record is queued
// whole or not at all; records that do not fit are dropped and counted.
type TokenQueue struct {
	ch       chan Token
	metadata bool
	dropped  atomic.Uint64
	framed   atomic.Uint64
}

// NewTokenQueue creates a queue holding up to capacity tokens.
func NewTokenQueue(capacity int, metadata bool) *TokenQueue {
	if capacity < 2+AddressSize+2 {
		capacity = 2 + AddressSize + 2
	}
	return &TokenQueue{ch: make(chan Token, capacity), metadata: metadata}
}

// Accept implements Sink. It never blocks.
func (q *TokenQueue) Accept(r Record) {
	frame := Frame(r, q.metadata)
	// Single producer: free space can only grow between this check and the sends.
	if cap(q.ch)-len(q.ch) < len(frame) {
		q.dropped.Add(1)
		return
	}
	for _, t := range frame {
		q.ch <- t
	}
	q.framed.Add(1)
}

// Tokens returns the receive side of the queue.
func (q *TokenQueue) Tokens() <-chan Token {
	return q.ch
}

// Dropped returns the number of records discarded because the queue was full.
func (q *TokenQueue) Dropped() uint64 {
	return q.dropped.Load()
}

// Framed returns the number of records queued.
func (q *TokenQueue) Framed() uint64 {
	return q.framed.Load()
}

// Close closes the token channel. No Accept may follow.
func (q *TokenQueue) Close() {
	close(q.ch)
}

// DecodedFrame is a frame reassembled on the consumer side.
type DecodedFrame struct {
	Address Address
	Length  int
	Channel uint8
	HasMeta bool
}

// Deframer reassembles frames from a token stream. Tokens outside a frame and frames of
// unexpected size are discarded.
type Deframer struct {
	inFrame bool
	buf     []byte
	bad     uint64
}

// Push consumes one token and returns a frame when an end marker completes one.
func (d *Deframer) Push(t Token) (DecodedFrame, bool) {
	if t.Marker {
		switch t.Value {
		case StartMarker:
			if d.inFrame {
				d.bad++
			}
			d.inFrame = true
			d.buf = d.buf[:0]
		case EndMarker:
			if !d.inFrame {
				d.bad++
				return DecodedFrame{}, false
			}
			d.inFrame = false
			return d.finish()
		}
		return DecodedFrame{}, false
	}
	if d.inFrame {
		d.buf = append(d.buf, t.Value)
	}
	return DecodedFrame{}, false
}

func (d *Deframer) finish() (DecodedFrame, bool) {
	var f DecodedFrame
	switch len(d.buf) {
	case AddressSize:
	case AddressSize + 2:
		f.HasMeta = true
		f.Length = int(d.buf[AddressSize])
		f.Channel = d.buf[AddressSize+1]
	default:
		d.bad++
		return DecodedFrame{}, false
	}
	copy(f.Address[:], d.buf[:AddressSize])
	return f, true
}

// Malformed returns the number of discarded partial or oversized frames.
func (d *Deframer) Malformed() uint64 {
	return d.bad
}
