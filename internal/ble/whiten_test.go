package ble

import (
	"bytes"
	"testing"

	"pgregory.net/rapid"
)

func TestDewhiten_Involution(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		data := rapid.SliceOfN(rapid.Byte(), 0, 300).Draw(t, "data")
		ch := rapid.Uint8Range(0, MaxChannel).Draw(t, "channel")

		buf := append([]byte(nil), data...)
		Dewhiten(buf, ch)
		Dewhiten(buf, ch)
		if !bytes.Equal(buf, data) {
			t.Fatalf("dewhiten twice on channel %d changed data", ch)
		}
	})
}

func TestDewhiten_KeystreamDependsOnChannel(t *testing.T) {
	a := make([]byte, 16)
	b := make([]byte, 16)
	Dewhiten(a, 37)
	Dewhiten(b, 38)
	if bytes.Equal(a, b) {
		t.Fatal("channels 37 and 38 produced the same keystream")
	}
	if bytes.Equal(a, make([]byte, 16)) {
		t.Fatal("keystream is all zeros")
	}
}

func TestDewhiten_KeystreamIsPeriodic(t *testing.T) {
	// A 7-bit maximal LFSR repeats every 127 bits.
	zero := make([]byte, 127*2)
	Dewhiten(zero, AdvChannel)
	bitAt := func(i int) byte { return (zero[i/8] >> (7 - i%8)) & 1 }
	for i := 0; i < 127; i++ {
		if bitAt(i) != bitAt(i+127) {
			t.Fatalf("keystream bit %d differs from bit %d", i, i+127)
		}
	}
}

func TestDewhiten_Empty(t *testing.T) {
	Dewhiten(nil, AdvChannel)
	Dewhiten([]byte{}, 0)
}

func TestDewhiten_KnownKeystream(t *testing.T) {
	// First six keystream bytes per advertising channel, air order.
	tests := []struct {
		channel uint8
		want    []byte
	}{
		{37, []byte{0xB1, 0x4B, 0xEA, 0x85, 0xBC, 0xE5}},
		{38, []byte{0x6B, 0xA3, 0x22, 0x04, 0x9A, 0x7B}},
		{39, []byte{0xF8, 0xEC, 0x52, 0xFA, 0xA1, 0x6F}},
	}
	for _, tt := range tests {
		got := make([]byte, len(tt.want))
		Dewhiten(got, tt.channel)
		if !bytes.Equal(got, tt.want) {
			t.Errorf("channel %d keystream = % X, want % X", tt.channel, got, tt.want)
		}
	}
}
