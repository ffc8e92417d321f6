package ble

// crcTaps is the BLE CRC-24 polynomial x^24+x^10+x^9+x^6+x^4+x^3+x+1 without the x^24 term:
// 0x06 lands in the middle register byte and 0x5B in the low byte.
const crcTaps = 0x00065B

// CRC24 computes the link-layer CRC over data (air-order bytes, header and payload only)
// starting from seed. The result is the 24-bit register, comparable with the three CRC
// bytes read off the air as a big-endian value.
func CRC24(data []byte, seed uint32) uint32 {
	reg := seed & 0xFFFFFF
	for _, b := range data {
		d := ReverseBits(b)
		for i := 0; i < 8; i++ {
			top := (reg >> 23) & 1
			reg = (reg << 1) & 0xFFFFFF
			if top != uint32(d&1) {
				reg ^= crcTaps
			}
			d >>= 1
		}
	}
	return reg
}
