// Package advdata parses the AD structures carried in advertising payloads after AdvA.
package advdata

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/go-ble/ble/linux/adv"
)

// ErrTruncated is returned when an AD structure's length runs past the payload.
var ErrTruncated = errors.New("advertising data truncated")

// Type is the AD type octet.
type Type uint8

// Common AD types from the assigned numbers list.
const (
	TypeFlags                Type = 0x01
	TypeIncomplete16BitUUIDs Type = 0x02
	TypeComplete16BitUUIDs   Type = 0x03
	TypeShortLocalName       Type = 0x08
	TypeCompleteLocalName    Type = 0x09
	TypeTxPowerLevel         Type = 0x0A
	TypeServiceData16BitUUID Type = 0x16
	TypeAppearance           Type = 0x19
	TypeManufacturerData     Type = 0xFF
)

var typeNames = map[Type]string{
	TypeFlags:                "flags",
	TypeIncomplete16BitUUIDs: "uuid16_incomplete",
	TypeComplete16BitUUIDs:   "uuid16",
	TypeShortLocalName:       "short_name",
	TypeCompleteLocalName:    "name",
	TypeTxPowerLevel:         "tx_power",
	TypeServiceData16BitUUID: "service_data16",
	TypeAppearance:           "appearance",
	TypeManufacturerData:     "manufacturer",
}

func (t Type) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("0x%02X", uint8(t))
}

// Structure is one length-type-value element.
type Structure struct {
	Type Type
	Data []byte
}

// Parse splits data into AD structures and reports where a length octet runs past the
// payload. A zero length octet ends the significant part of the payload. On ErrTruncated
// the structures parsed so far are returned.
func Parse(data []byte) ([]Structure, error) {
	var out []Structure
	for i := 0; i < len(data); {
		n := int(data[i])
		if n == 0 {
			break
		}
		if i+1+n > len(data) {
			return out, fmt.Errorf("%w: structure at offset %d wants %d bytes, %d left", ErrTruncated, i, n, len(data)-i-1)
		}
		out = append(out, Structure{Type: Type(data[i+1]), Data: data[i+2 : i+1+n]})
		i += 1 + n
	}
	return out, nil
}

// Info is the decoded subset of fields the receiver reports.
type Info struct {
	Flags        *uint8            `json:"flags,omitempty"`
	LocalName    string            `json:"local_name,omitempty"`
	TxPower      *int8             `json:"tx_power,omitempty"`
	Appearance   *uint16           `json:"appearance,omitempty"`
	ServiceUUIDs []uint16          `json:"service_uuids,omitempty"`
	CompanyID    *uint16           `json:"company_id,omitempty"`
	Manufacturer []byte            `json:"manufacturer_data,omitempty"`
	ServiceData  map[uint16][]byte `json:"service_data,omitempty"`
}

// Decode collects the well-known fields of data. Field lookup is done by go-ble's
// advertising packet, which takes the first structure of each type and stops at the
// first malformed one; Parse reports that truncation as the returned error. The complete
// local name wins over the shortened one.
func Decode(data []byte) (Info, error) {
	_, err := Parse(data)
	p := adv.NewRawPacket(data)

	var info Info
	if b := p.Field(byte(TypeFlags)); len(b) >= 1 {
		f := b[0]
		info.Flags = &f
	}
	if b := p.Field(byte(TypeCompleteLocalName)); b != nil {
		info.LocalName = cleanName(b)
	} else if b := p.Field(byte(TypeShortLocalName)); b != nil {
		info.LocalName = cleanName(b)
	}
	if b := p.Field(byte(TypeTxPowerLevel)); len(b) >= 1 {
		pw := int8(b[0])
		info.TxPower = &pw
	}
	if b := p.Field(byte(TypeAppearance)); len(b) >= 2 {
		a := binary.LittleEndian.Uint16(b)
		info.Appearance = &a
	}
	for _, t := range []Type{TypeComplete16BitUUIDs, TypeIncomplete16BitUUIDs} {
		b := p.Field(byte(t))
		for j := 0; j+2 <= len(b); j += 2 {
			info.ServiceUUIDs = append(info.ServiceUUIDs, binary.LittleEndian.Uint16(b[j:]))
		}
	}
	if b := p.Field(byte(TypeServiceData16BitUUID)); len(b) >= 2 {
		info.ServiceData = map[uint16][]byte{binary.LittleEndian.Uint16(b): b[2:]}
	}
	if b := p.ManufacturerData(); len(b) >= 2 {
		id := binary.LittleEndian.Uint16(b)
		info.CompanyID = &id
		info.Manufacturer = b[2:]
	}
	return info, err
}

func cleanName(b []byte) string {
	return strings.TrimRight(strings.ToValidUTF8(string(b), "?"), "\x00")
}
