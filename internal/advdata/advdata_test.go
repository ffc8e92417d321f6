package advdata

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParse(t *testing.T) {
	data := []byte{
		0x02, 0x01, 0x06,
		0x05, 0x09, 'b', 'l', 'e', 'x',
		0x00, 0xAA, 0xBB, // padding after the terminator
	}
	got, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := []Structure{
		{Type: TypeFlags, Data: []byte{0x06}},
		{Type: TypeCompleteLocalName, Data: []byte("blex")},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Parse mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_Truncated(t *testing.T) {
	got, err := Parse([]byte{0x02, 0x01, 0x06, 0x05, 0x09, 'b'})
	if !errors.Is(err, ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
	if len(got) != 1 || got[0].Type != TypeFlags {
		t.Errorf("expected the flags structure before the truncation, got %+v", got)
	}
}

func TestParse_Empty(t *testing.T) {
	got, err := Parse(nil)
	if err != nil || len(got) != 0 {
		t.Errorf("Parse(nil) = %v, %v", got, err)
	}
}

func TestDecode(t *testing.T) {
	data := []byte{
		0x02, 0x01, 0x1A,
		0x03, 0x08, 'b', 'l',
		0x05, 0x09, 'b', 'l', 'e', 'x',
		0x02, 0x0A, 0xF4,
		0x05, 0x03, 0x0F, 0x18, 0x0A, 0x18,
		0x03, 0x19, 0xC1, 0x03,
		0x06, 0xFF, 0x4C, 0x00, 0x02, 0x15, 0x01,
		0x04, 0x16, 0xAA, 0xFE, 0x10,
	}
	info, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if info.Flags == nil || *info.Flags != 0x1A {
		t.Errorf("flags = %v", info.Flags)
	}
	if info.LocalName != "blex" {
		t.Errorf("local name = %q, want complete name", info.LocalName)
	}
	if info.TxPower == nil || *info.TxPower != -12 {
		t.Errorf("tx power = %v", info.TxPower)
	}
	if diff := cmp.Diff([]uint16{0x180F, 0x180A}, info.ServiceUUIDs); diff != "" {
		t.Errorf("uuids (-want +got):\n%s", diff)
	}
	if info.Appearance == nil || *info.Appearance != 0x03C1 {
		t.Errorf("appearance = %v", info.Appearance)
	}
	if info.CompanyID == nil || *info.CompanyID != 0x004C {
		t.Errorf("company id = %v", info.CompanyID)
	}
	if diff := cmp.Diff([]byte{0x02, 0x15, 0x01}, info.Manufacturer); diff != "" {
		t.Errorf("manufacturer data (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(map[uint16][]byte{0xFEAA: {0x10}}, info.ServiceData); diff != "" {
		t.Errorf("service data (-want +got):\n%s", diff)
	}
}

func TestDecode_ShortNameOnly(t *testing.T) {
	info, _ := Decode([]byte{0x03, 0x08, 'h', 'i'})
	if info.LocalName != "hi" {
		t.Errorf("local name = %q", info.LocalName)
	}
}

func TestTypeString(t *testing.T) {
	if TypeManufacturerData.String() != "manufacturer" {
		t.Errorf("got %q", TypeManufacturerData.String())
	}
	if Type(0x42).String() != "0x42" {
		t.Errorf("got %q", Type(0x42).String())
	}
}

func TestDecode_TruncatedKeepsEarlierFields(t *testing.T) {
	data := []byte{
		0x02, 0x01, 0x06,
		0x05, 0x09, 'b', 'l', 'e', 'x',
		0x09, 0xFF, 0x4C, 0x00, // runs past the payload
	}
	info, err := Decode(data)
	if !errors.Is(err, ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
	if info.Flags == nil || *info.Flags != 0x06 {
		t.Errorf("flags = %v", info.Flags)
	}
	if info.LocalName != "blex" {
		t.Errorf("local name = %q", info.LocalName)
	}
	if info.CompanyID != nil || info.Manufacturer != nil {
		t.Errorf("truncated manufacturer data decoded: %v % X", info.CompanyID, info.Manufacturer)
	}
}

func TestDecode_FirstStructureOfEachTypeWins(t *testing.T) {
	data := []byte{
		0x04, 0x16, 0xAA, 0xFE, 0x10,
		0x04, 0x16, 0x0F, 0x18, 0x64,
		0x02, 0x0A, 0x04,
		0x02, 0x0A, 0xF4,
	}
	info, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if diff := cmp.Diff(map[uint16][]byte{0xFEAA: {0x10}}, info.ServiceData); diff != "" {
		t.Errorf("service data (-want +got):\n%s", diff)
	}
	if info.TxPower == nil || *info.TxPower != 4 {
		t.Errorf("tx power = %v", info.TxPower)
	}
}

func TestDecode_OddUUIDListIgnoresTrailingByte(t *testing.T) {
	info, err := Decode([]byte{0x04, 0x03, 0x0F, 0x18, 0x0A})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if diff := cmp.Diff([]uint16{0x180F}, info.ServiceUUIDs); diff != "" {
		t.Errorf("uuids (-want +got):\n%s", diff)
	}
}
