package ble

import "math/bits"

// ReverseBits reflects the eight bits of b end-for-end. BLE sends every byte
// least-significant bit first while the extractor assembles bytes in arrival order, so
// every extracted byte passes through here before it is interpreted.
func ReverseBits(b byte) byte {
	return bits.Reverse8(b)
}
