package ble

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdvPacket_PDU(t *testing.T) {
	p := testPacket()
	pdu, err := p.PDU()
	require.NoError(t, err)

	assert.Equal(t, byte(0x40), pdu[0], "ADV_IND with TxAdd")
	assert.Equal(t, byte(AddressSize+len(p.Data)), pdu[1])
	assert.Equal(t, []byte{0x55, 0x44, 0x33, 0x22, 0x11, 0xC0}, pdu[2:8], "AdvA is little-endian")
	assert.Equal(t, p.Data, pdu[8:])
}

func TestAdvPacket_TooLong(t *testing.T) {
	p := testPacket()
	p.Data = make([]byte, MaxPayloadSize)
	_, err := p.PDU()
	assert.Error(t, err)
}

func TestAirBytes_Layout(t *testing.T) {
	p := testPacket()
	air := mustAir(t, p)

	require.Len(t, air, 1+4+HeaderSize+AddressSize+len(p.Data)+CRCSize)
	assert.Equal(t, byte(0x55), air[0])
	assert.Equal(t, []byte{0x6B, 0x7D, 0x91, 0x71}, air[1:5])

	// Dewhitening and reversing the span recovers the PDU.
	span := append([]byte(nil), air[5:]...)
	Dewhiten(span, p.Channel)
	pdu, _ := p.PDU()
	for i, b := range pdu {
		assert.Equal(t, b, ReverseBits(span[i]), "byte %d", i)
	}
}

func TestEncodePDU_InvalidChannel(t *testing.T) {
	_, err := EncodePDU([]byte{0, 6, 1, 2, 3, 4, 5, 6}, 40)
	assert.True(t, errors.Is(err, ErrInvalidChannel))
}

func TestModulate(t *testing.T) {
	got := Modulate([]byte{0xA0}, 100)
	assert.Equal(t, []Amplitude{100, -100, 100, -100, -100, -100, -100, -100}, got)
	assert.Empty(t, Modulate(nil, 100))
}
