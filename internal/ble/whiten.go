package ble

// Dewhiten reverses the data whitening applied by the transmitter on the given RF channel.
// Whitening is an XOR with an LFSR keystream, so the same call also whitens. data is
// modified in place and must hold bytes in air order (as assembled by the extractor).
func Dewhiten(data []byte, channel uint8) {
	lfsr := ReverseBits(channel) | 0x02
	for i := range data {
		for mask := byte(0x80); mask != 0; mask >>= 1 {
			if lfsr&0x80 != 0 {
				lfsr ^= 0x11
				data[i] ^= mask
			}
			lfsr <<= 1
		}
	}
}
