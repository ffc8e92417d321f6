// Command gen-samples writes synthetic demodulated sample recordings of BLE advertising
// packets for replay with blerx --file.
package main

import (
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/klauspost/compress/zstd"
	"github.com/spf13/pflag"

	"github.com/banshee-data/blerx/internal/ble"
	"github.com/banshee-data/blerx/internal/samplemux"
)

type genOptions struct {
	Address   ble.Address
	Name      string
	Channel   uint8
	Amplitude int16
	Offset    int16
	Noise     int16
	Gap       int
	Count     int
	Seed      uint64
}

// generate renders Count copies of the advertisement separated by Gap idle samples,
// shifted by Offset, with uniform noise of up to ±Noise added to every sample.
func generate(o genOptions) ([]int16, error) {
	data := []byte{0x02, 0x01, 0x06}
	if o.Name != "" {
		data = append(data, byte(1+len(o.Name)), 0x09)
		data = append(data, o.Name...)
	}
	p := ble.AdvPacket{Type: ble.PDUAdvInd, TxAdd: true, Address: o.Address, Data: data, Channel: o.Channel}

	packets := make([]ble.AdvPacket, o.Count)
	for i := range packets {
		packets[i] = p
	}
	samples, err := samplemux.SynthesizeBurst(packets, o.Amplitude, o.Gap, ble.DefaultRingCapacity)
	if err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewPCG(o.Seed, o.Seed^0x9E3779B97F4A7C15))
	for i, s := range samples {
		v := int32(s) + int32(o.Offset)
		if o.Noise > 0 {
			v += rng.Int32N(2*int32(o.Noise)+1) - int32(o.Noise)
		}
		samples[i] = clamp16(v)
	}
	return samples, nil
}

func clamp16(v int32) int16 {
	switch {
	case v > 32767:
		return 32767
	case v < -32768:
		return -32768
	}
	return int16(v)
}

// writeSamples writes samples to path, zstd-compressed when the path ends in .zst.
func writeSamples(path string, samples []int16) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var w io.Writer = f
	var enc *zstd.Encoder
	if strings.HasSuffix(strings.ToLower(path), ".zst") {
		if enc, err = zstd.NewWriter(f); err != nil {
			return err
		}
		w = enc
	}
	if _, err := w.Write(samplemux.EncodeSamples(samples)); err != nil {
		return err
	}
	if enc != nil {
		if err := enc.Close(); err != nil {
			return err
		}
	}
	return f.Close()
}

func main() {
	output := pflag.StringP("output", "o", "samples.s16", "output path (.zst compresses)")
	count := pflag.IntP("count", "n", 10, "number of packets")
	addr := pflag.String("address", "C0:FF:EE:00:00:01", "advertiser address")
	name := pflag.String("name", "blerx", "complete local name (empty omits it)")
	channel := pflag.Int("channel", int(ble.AdvChannel), "advertising channel used for whitening")
	amplitude := pflag.Int16("amplitude", 4000, "modulation amplitude")
	offset := pflag.Int16("dc-offset", 0, "constant added to every sample")
	noise := pflag.Int16("noise", 0, "peak uniform noise added to every sample")
	gap := pflag.Int("gap", 500, "idle samples before each packet")
	seed := pflag.Uint64("seed", 1, "noise seed")
	pflag.Parse()

	logger := log.NewWithOptions(os.Stderr, log.Options{Prefix: "gen-samples"})

	address, err := ble.ParseAddress(*addr)
	if err != nil {
		logger.Fatal("bad address", "err", err)
	}
	if *channel < 0 || *channel > ble.MaxChannel {
		logger.Fatal("bad channel", "channel", *channel)
	}
	samples, err := generate(genOptions{
		Address:   address,
		Name:      *name,
		Channel:   uint8(*channel),
		Amplitude: *amplitude,
		Offset:    *offset,
		Noise:     *noise,
		Gap:       *gap,
		Count:     *count,
		Seed:      *seed,
	})
	if err != nil {
		logger.Fatal("generate", "err", err)
	}
	if err := writeSamples(*output, samples); err != nil {
		logger.Fatal("write", "err", err)
	}
	fmt.Printf("wrote %d samples (%d packets) to %s\n", len(samples), *count, *output)
}
