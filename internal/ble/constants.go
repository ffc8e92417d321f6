package ble

// Link-layer constants for BLE advertising packets on the 1M PHY.
const (
	AdvAccessAddress uint32 = 0x8E89BED6 // reserved access address shared by all advertising packets
	AdvChannel       uint8  = 38         // advertising channel used for dewhitening unless overridden
	AdvCRCSeed       uint32 = 0x555555   // CRC24 initial value for advertising packets

	CooldownSamples     = 20   // ingest cycles suppressed after a structurally processed packet
	DefaultRingCapacity = 1000 // holds a maximal basic-length packet with room to spare
	ThresholdWindow     = 8    // samples averaged into the decision threshold
	MaxChannel          = 39   // highest BLE RF channel index
)

// Packet layout. Bit offsets are relative to the start of the detection window; sizes are
// in bytes.
const (
	PreambleBits           = 8
	AccessAddressBitOffset = PreambleBits
	HeaderBitOffset        = PreambleBits + 32
	HeaderSize             = 2
	CRCSize                = 3
	AddressSize            = 6
	MaxPayloadSize         = 255

	// maxSpanSize bounds header+payload+CRC for the pre-sized candidate buffer.
	maxSpanSize = HeaderSize + MaxPayloadSize + CRCSize
)

// Framing markers emitted around every accepted record in the token stream.
const (
	StartMarker byte = 'A'
	EndMarker   byte = 'B'
)
