package ble

// Amplitude is one FM-demodulated sample as produced by the upstream demodulator.
type Amplitude = int16

// sampleRing is the fixed-capacity sample history. pos is the slot the next sample will be
// written to, which is also the oldest sample once the ring has filled: offset 0 opens the
// detection window and offsets grow forward in time.
type sampleRing struct {
	buf []Amplitude
	pos int
}

func newSampleRing(capacity int) sampleRing {
	return sampleRing{buf: make([]Amplitude, capacity)}
}

// push overwrites the oldest sample and advances the write position by one slot.
func (r *sampleRing) push(s Amplitude) {
	r.buf[r.pos] = s
	r.pos++
	if r.pos == len(r.buf) {
		r.pos = 0
	}
}

// at returns the sample offset positions after the write position.
func (r *sampleRing) at(offset int) Amplitude {
	return r.buf[(r.pos+offset)%len(r.buf)]
}

func (r *sampleRing) capacity() int {
	return len(r.buf)
}
