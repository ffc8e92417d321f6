package ble

import "fmt"

// AdvPacket describes an advertising packet to synthesize.
type AdvPacket struct {
	Type    PDUType
	TxAdd   bool
	Address Address
	Data    []byte // AD structures following AdvA
	Channel uint8
}

// PDU returns the protocol-order header and payload.
func (p AdvPacket) PDU() ([]byte, error) {
	length := AddressSize + len(p.Data)
	if length > MaxPayloadSize {
		return nil, fmt.Errorf("payload of %d bytes exceeds %d", length, MaxPayloadSize)
	}
	pdu := make([]byte, 0, HeaderSize+length)
	h0 := byte(p.Type) & 0x0F
	if p.TxAdd {
		h0 |= 0x40
	}
	pdu = append(pdu, h0, byte(length))
	for i := AddressSize - 1; i >= 0; i-- {
		pdu = append(pdu, p.Address[i])
	}
	return append(pdu, p.Data...), nil
}

// AirBytes returns the packet as transmitted: preamble, access address, and the whitened
// header, payload and CRC, each byte in air order (first bit in the MSB).
func (p AdvPacket) AirBytes() ([]byte, error) {
	pdu, err := p.PDU()
	if err != nil {
		return nil, err
	}
	return EncodePDU(pdu, p.Channel)
}

// EncodePDU frames protocol-order header and payload bytes for transmission on channel.
// The header length field is not checked against the payload.
func EncodePDU(pdu []byte, channel uint8) ([]byte, error) {
	if channel > MaxChannel {
		return nil, fmt.Errorf("%w: %d", ErrInvalidChannel, channel)
	}
	span := make([]byte, len(pdu), len(pdu)+CRCSize)
	for i, b := range pdu {
		span[i] = ReverseBits(b)
	}
	crc := CRC24(span, AdvCRCSeed)
	span = append(span, byte(crc>>16), byte(crc>>8), byte(crc))
	Dewhiten(span, channel)

	aa := AccessAddressBytes()
	// The preamble alternates into the first access address bit.
	preamble := byte(0x55)
	if aa[0]&0x01 != 0 {
		preamble = 0xAA
	}
	out := make([]byte, 0, 1+len(aa)+len(span))
	out = append(out, preamble)
	for _, b := range aa {
		out = append(out, ReverseBits(b))
	}
	return append(out, span...), nil
}

// Modulate renders air-order bytes one sample per bit: +amplitude for a one, -amplitude
// for a zero.
func Modulate(air []byte, amplitude Amplitude) []Amplitude {
	out := make([]Amplitude, 0, 8*len(air))
	for _, b := range air {
		for mask := byte(0x80); mask != 0; mask >>= 1 {
			if b&mask != 0 {
				out = append(out, amplitude)
			} else {
				out = append(out, -amplitude)
			}
		}
	}
	return out
}

// Samples is AirBytes followed by Modulate.
func (p AdvPacket) Samples(amplitude Amplitude) ([]Amplitude, error) {
	air, err := p.AirBytes()
	if err != nil {
		return nil, err
	}
	return Modulate(air, amplitude), nil
}
