package ble

// Threshold recomputes the decision threshold as the integer mean of the ThresholdWindow
// samples that open the detection window (offsets 0..7), assuming they are a preamble byte
// with as many ones as zeros. These are the oldest buffered samples, not the eight most
// recently ingested: the average is taken over the same bits the preamble check reads.
// The mean truncates toward zero. The value is kept for BitAt until the next call.
func (e *Engine) Threshold() int32 {
	var sum int32
	for i := 0; i < ThresholdWindow; i++ {
		sum += int32(e.ring.at(i))
	}
	e.threshold = sum / ThresholdWindow
	return e.threshold
}

// BitAt slices the sample offset positions after the write position against the last
// computed threshold.
func (e *Engine) BitAt(offset int) bool {
	return int32(e.ring.at(offset)) > e.threshold
}

// transitions counts adjacent bit changes across bits 0..PreambleBits.
func (e *Engine) transitions() int {
	n := 0
	prev := e.BitAt(0)
	for i := 1; i <= PreambleBits; i++ {
		cur := e.BitAt(i)
		if cur != prev {
			n++
		}
		prev = cur
	}
	return n
}

// readByte assembles the 8 bits starting at bitOffset, first bit in the MSB. The result is
// in air order; ReverseBits yields the protocol value.
func (e *Engine) readByte(bitOffset int) byte {
	var b byte
	for c := 0; c < 8; c++ {
		if e.BitAt(bitOffset + c) {
			b |= 1 << (7 - c)
		}
	}
	return b
}

// readBytes fills dst with consecutive air-order bytes starting at bitOffset.
func (e *Engine) readBytes(dst []byte, bitOffset int) {
	for i := range dst {
		dst[i] = e.readByte(bitOffset + 8*i)
	}
}
