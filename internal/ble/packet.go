package ble

import (
	"fmt"
	"strings"
)

// PDUType is the 4-bit advertising PDU type from header byte 0.
type PDUType uint8

const (
	PDUAdvInd        PDUType = 0x0
	PDUAdvDirectInd  PDUType = 0x1
	PDUAdvNonconnInd PDUType = 0x2
	PDUScanReq       PDUType = 0x3
	PDUScanRsp       PDUType = 0x4
	PDUConnectInd    PDUType = 0x5
	PDUAdvScanInd    PDUType = 0x6
	PDUAdvExtInd     PDUType = 0x7
)

var pduTypeNames = map[PDUType]string{
	PDUAdvInd:        "ADV_IND",
	PDUAdvDirectInd:  "ADV_DIRECT_IND",
	PDUAdvNonconnInd: "ADV_NONCONN_IND",
	PDUScanReq:       "SCAN_REQ",
	PDUScanRsp:       "SCAN_RSP",
	PDUConnectInd:    "CONNECT_IND",
	PDUAdvScanInd:    "ADV_SCAN_IND",
	PDUAdvExtInd:     "ADV_EXT_IND",
}

func (t PDUType) String() string {
	if name, ok := pduTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("PDU_0x%X", uint8(t))
}

// MarshalText encodes the PDU type by name.
func (t PDUType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText accepts the names produced by String.
func (t *PDUType) UnmarshalText(b []byte) error {
	s := string(b)
	for k, name := range pduTypeNames {
		if name == s {
			*t = k
			return nil
		}
	}
	var v uint8
	if _, err := fmt.Sscanf(s, "PDU_0x%X", &v); err != nil || v > 0x0F {
		return fmt.Errorf("unknown PDU type %q", s)
	}
	*t = PDUType(v)
	return nil
}

// LengthMode selects how many bits of header byte 1 carry the payload length.
type LengthMode int

const (
	// LengthBasic masks the low 6 bits (0-63 bytes), the legacy advertising length field.
	// PDUs longer than 63 bytes are misread in this mode; that is the documented baseline.
	LengthBasic LengthMode = iota
	// LengthExtended uses all 8 bits (0-255 bytes). Requires a ring large enough to hold
	// the longest packet, see MinRingCapacity.
	LengthExtended
)

func (m LengthMode) mask() byte {
	if m == LengthExtended {
		return 0xFF
	}
	return 0x3F
}

func (m LengthMode) String() string {
	if m == LengthExtended {
		return "extended"
	}
	return "basic"
}

// ParseLengthMode maps "basic"/"extended" (case-insensitive) to a LengthMode.
func ParseLengthMode(s string) (LengthMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "basic":
		return LengthBasic, nil
	case "extended":
		return LengthExtended, nil
	default:
		return LengthBasic, fmt.Errorf("unknown length mode %q: expected basic or extended", s)
	}
}

// MaxPacketBits is the number of bits (and samples, at one sample per bit) spanned by the
// longest packet the mode can decode, preamble to CRC.
func (m LengthMode) MaxPacketBits() int {
	return HeaderBitOffset + 8*(HeaderSize+int(m.mask())+CRCSize)
}

// Address is a device address in canonical order, most significant byte first.
type Address [AddressSize]byte

func (a Address) String() string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", a[0], a[1], a[2], a[3], a[4], a[5])
}

// MarshalText encodes the address in its colon-separated form.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText parses the colon-separated form.
func (a *Address) UnmarshalText(b []byte) error {
	v, err := ParseAddress(string(b))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// ParseAddress parses the colon-separated form produced by Address.String.
func ParseAddress(s string) (Address, error) {
	var a Address
	n, err := fmt.Sscanf(s, "%02X:%02X:%02X:%02X:%02X:%02X", &a[0], &a[1], &a[2], &a[3], &a[4], &a[5])
	if err != nil || n != AddressSize {
		return Address{}, fmt.Errorf("invalid device address %q", s)
	}
	return a, nil
}

// Record is an accepted advertising packet. Header and Payload hold protocol-order bytes
// (already bit-reversed); the payload still begins with the on-air AdvA field.
type Record struct {
	Address     Address          `json:"address"`
	PDUType     PDUType          `json:"pdu_type"`
	TxAdd       bool             `json:"tx_add"`  // true when Address is a random address
	Length      int              `json:"length"`  // payload length from the header
	Channel     uint8            `json:"channel"` // channel used for dewhitening
	Header      [HeaderSize]byte `json:"header"`
	Payload     []byte           `json:"payload"`
	CRC         uint32           `json:"crc"`          // transmitted (and verified) CRC as a 24-bit big-endian value
	SampleIndex uint64           `json:"sample_index"` // index of the first preamble sample in the input stream
}

// AdvData returns the advertising data that follows AdvA in the payload.
func (r Record) AdvData() []byte {
	if len(r.Payload) <= AddressSize {
		return nil
	}
	return r.Payload[AddressSize:]
}

// AccessAddressBytes returns the access address in transmission (little-endian) order.
func AccessAddressBytes() [4]byte {
	return [4]byte{
		byte(AdvAccessAddress & 0xFF),
		byte(AdvAccessAddress >> 8 & 0xFF),
		byte(AdvAccessAddress >> 16 & 0xFF),
		byte(AdvAccessAddress >> 24 & 0xFF),
	}
}

// decodeHeader splits protocol-order header bytes into PDU type and TxAdd flag.
func decodeHeader(h0 byte) (PDUType, bool) {
	return PDUType(h0 & 0x0F), h0&0x40 != 0
}
