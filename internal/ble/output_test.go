package ble

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRecord() Record {
	return Record{
		Address: Address{0xC0, 0x11, 0x22, 0x33, 0x44, 0x55},
		Length:  15,
		Channel: AdvChannel,
	}
}

func TestFrame(t *testing.T) {
	r := testRecord()

	got := Frame(r, false)
	require.Len(t, got, 8)
	assert.Equal(t, Token{Marker: true, Value: 'A'}, got[0])
	assert.Equal(t, Token{Marker: true, Value: 'B'}, got[7])
	for i := 0; i < AddressSize; i++ {
		assert.Equal(t, Token{Value: r.Address[i]}, got[1+i])
	}

	meta := Frame(r, true)
	require.Len(t, meta, 10)
	assert.Equal(t, Token{Value: 15}, meta[7])
	assert.Equal(t, Token{Value: AdvChannel}, meta[8])
	assert.Equal(t, Token{Marker: true, Value: 'B'}, meta[9])
}

func TestTokenQueue_DropsWholeFrames(t *testing.T) {
	q := NewTokenQueue(12, false)
	q.Accept(testRecord())
	q.Accept(testRecord())

	assert.Equal(t, uint64(1), q.Framed())
	assert.Equal(t, uint64(1), q.Dropped())
	assert.Len(t, q.Tokens(), 8)
}

func TestTokenQueue_MinimumCapacity(t *testing.T) {
	q := NewTokenQueue(0, true)
	q.Accept(testRecord())
	assert.Equal(t, uint64(1), q.Framed())
	assert.Zero(t, q.Dropped())
}

func TestTokenQueue_RoundTripThroughDeframer(t *testing.T) {
	q := NewTokenQueue(64, true)
	r := testRecord()
	q.Accept(r)
	r.Address[5] = 0x99
	q.Accept(r)
	q.Close()

	var d Deframer
	var frames []DecodedFrame
	for tok := range q.Tokens() {
		if f, ok := d.Push(tok); ok {
			frames = append(frames, f)
		}
	}
	require.Len(t, frames, 2)
	assert.Equal(t, DecodedFrame{Address: testRecord().Address, Length: 15, Channel: AdvChannel, HasMeta: true}, frames[0])
	assert.Equal(t, byte(0x99), frames[1].Address[5])
	assert.Zero(t, d.Malformed())
}

func TestDeframer_Malformed(t *testing.T) {
	var d Deframer
	feed := []Token{
		{Value: 0x01}, // outside any frame
		{Marker: true, Value: EndMarker},
		{Marker: true, Value: StartMarker},
		{Value: 0x01},
		{Value: 0x02},
		{Marker: true, Value: EndMarker}, // too short
		{Marker: true, Value: StartMarker},
		{Value: 1}, {Value: 2}, {Value: 3},
		{Marker: true, Value: StartMarker}, // restart discards the partial frame
		{Value: 1}, {Value: 2}, {Value: 3}, {Value: 4}, {Value: 5}, {Value: 6},
		{Marker: true, Value: EndMarker},
	}
	var got []DecodedFrame
	for _, tok := range feed {
		if f, ok := d.Push(tok); ok {
			got = append(got, f)
		}
	}
	require.Len(t, got, 1)
	assert.Equal(t, Address{1, 2, 3, 4, 5, 6}, got[0].Address)
	assert.False(t, got[0].HasMeta)
	assert.Equal(t, uint64(3), d.Malformed())
}

func TestTokenQueue_AsEngineSink(t *testing.T) {
	q := NewTokenQueue(32, false)
	e, err := NewEngine(DefaultOptions(), q)
	require.NoError(t, err)
	e.Configure()
	e.Process(stream(mustAir(t, testPacket()), 0, DefaultRingCapacity))
	q.Close()

	var d Deframer
	var frames []DecodedFrame
	for tok := range q.Tokens() {
		if f, ok := d.Push(tok); ok {
			frames = append(frames, f)
		}
	}
	require.Len(t, frames, 1)
	assert.Equal(t, testPacket().Address, frames[0].Address)
}
