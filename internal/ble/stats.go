package ble

import "sync/atomic"

// Stats is a snapshot of the engine's diagnostic counters.
type Stats struct {
	Samples          uint64 `json:"samples"`
	Scans            uint64 `json:"scans"`
	Preambles        uint64 `json:"preambles"`
	AddressRejects   uint64 `json:"address_rejects"`
	CRCFailures      uint64 `json:"crc_failures"`
	ShortPDUs        uint64 `json:"short_pdus"`
	Accepted         uint64 `json:"accepted"`
	CooldownSkipped  uint64 `json:"cooldown_skipped"`
	UnconfiguredDrop uint64 `json:"unconfigured_drop"`
}

// counters are written only by the goroutine driving the engine but may be read
// concurrently by stats endpoints.
type counters struct {
	samples          atomic.Uint64
	scans            atomic.Uint64
	preambles        atomic.Uint64
	addressRejects   atomic.Uint64
	crcFailures      atomic.Uint64
	shortPDUs        atomic.Uint64
	accepted         atomic.Uint64
	cooldownSkipped  atomic.Uint64
	unconfiguredDrop atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Samples:          c.samples.Load(),
		Scans:            c.scans.Load(),
		Preambles:        c.preambles.Load(),
		AddressRejects:   c.addressRejects.Load(),
		CRCFailures:      c.crcFailures.Load(),
		ShortPDUs:        c.shortPDUs.Load(),
		Accepted:         c.accepted.Load(),
		CooldownSkipped:  c.cooldownSkipped.Load(),
		UnconfiguredDrop: c.unconfiguredDrop.Load(),
	}
}

// Sub returns the per-counter difference s - prev, for rate reporting.
func (s Stats) Sub(prev Stats) Stats {
	return Stats{
		Samples:          s.Samples - prev.Samples,
		Scans:            s.Scans - prev.Scans,
		Preambles:        s.Preambles - prev.Preambles,
		AddressRejects:   s.AddressRejects - prev.AddressRejects,
		CRCFailures:      s.CRCFailures - prev.CRCFailures,
		ShortPDUs:        s.ShortPDUs - prev.ShortPDUs,
		Accepted:         s.Accepted - prev.Accepted,
		CooldownSkipped:  s.CooldownSkipped - prev.CooldownSkipped,
		UnconfiguredDrop: s.UnconfiguredDrop - prev.UnconfiguredDrop,
	}
}
