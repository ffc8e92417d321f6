// Command plot-window renders a window of a sample recording with the slicer threshold,
// the sliced bits and the packets the engine accepted inside the window.
package main

import (
	"fmt"
	"image/color"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/blerx/internal/ble"
	"github.com/banshee-data/blerx/internal/samplemux"
)

// readSamples loads a recording (raw or .zst).
func readSamples(path string) ([]int16, error) {
	src, err := samplemux.OpenFileSource(path, false)
	if err != nil {
		return nil, err
	}
	defer src.Close()
	raw, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	samples := make([]int16, len(raw)/2)
	for i := range samples {
		samples[i] = int16(uint16(raw[2*i]) | uint16(raw[2*i+1])<<8)
	}
	return samples, nil
}

// threshold returns the slicer threshold for a window starting at i: the truncated mean
// of the eight samples from i.
func threshold(samples []int16, i int) (int32, bool) {
	if i+ble.ThresholdWindow > len(samples) {
		return 0, false
	}
	var sum int32
	for _, s := range samples[i : i+ble.ThresholdWindow] {
		sum += int32(s)
	}
	return sum / ble.ThresholdWindow, true
}

// decode runs the whole recording through an engine on channel.
func decode(samples []int16, channel uint8) ([]ble.Record, error) {
	opts := ble.DefaultOptions()
	opts.Channel = channel
	var out []ble.Record
	e, err := ble.NewEngine(opts, ble.SinkFunc(func(r ble.Record) { out = append(out, r) }))
	if err != nil {
		return nil, err
	}
	e.Configure()
	e.Process(samples)
	return out, nil
}

// buildPlot plots samples[start:start+length].
func buildPlot(samples []int16, start, length int, records []ble.Record) (*plot.Plot, error) {
	if start < 0 || start >= len(samples) {
		return nil, fmt.Errorf("offset %d outside recording of %d samples", start, len(samples))
	}
	end := min(start+length, len(samples))

	var peak float64 = 1
	raw := make(plotter.XYs, 0, end-start)
	thr := make(plotter.XYs, 0, end-start)
	for i := start; i < end; i++ {
		v := float64(samples[i])
		raw = append(raw, plotter.XY{X: float64(i), Y: v})
		peak = max(peak, v, -v)
		if t, ok := threshold(samples, i); ok {
			thr = append(thr, plotter.XY{X: float64(i), Y: float64(t)})
		}
	}
	// Bits sliced against the threshold of the window each sample opens.
	bits := make(plotter.XYs, 0, len(thr))
	for _, t := range thr {
		y := -peak * 1.2
		if float64(samples[int(t.X)]) > t.Y {
			y = -peak * 1.1
		}
		bits = append(bits, plotter.XY{X: t.X, Y: y})
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("samples %d-%d", start, end-1)
	p.X.Label.Text = "Sample"
	p.Y.Label.Text = "Amplitude"

	rawLine, err := plotter.NewLine(raw)
	if err != nil {
		return nil, err
	}
	rawLine.Width = vg.Points(1)
	rawLine.Color = color.RGBA{R: 31, G: 119, B: 180, A: 255}

	thrLine, err := plotter.NewLine(thr)
	if err != nil {
		return nil, err
	}
	thrLine.Width = vg.Points(1)
	thrLine.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
	thrLine.Color = color.RGBA{R: 214, G: 39, B: 40, A: 255}

	bitLine, err := plotter.NewLine(bits)
	if err != nil {
		return nil, err
	}
	bitLine.StepStyle = plotter.PostStep
	bitLine.Color = color.Gray{Y: 90}

	p.Add(plotter.NewGrid(), rawLine, thrLine, bitLine)
	p.Legend.Add("samples", rawLine)
	p.Legend.Add("threshold", thrLine)
	p.Legend.Add("bits", bitLine)

	var marks plotter.XYs
	for _, r := range records {
		if x := int(r.SampleIndex); x >= start && x < end {
			marks = append(marks, plotter.XY{X: float64(x), Y: peak * 1.1})
		}
	}
	if len(marks) > 0 {
		sc, err := plotter.NewScatter(marks)
		if err != nil {
			return nil, err
		}
		sc.Color = color.RGBA{R: 44, G: 160, B: 44, A: 255}
		p.Add(sc)
		p.Legend.Add("accepted packet", sc)
	}
	return p, nil
}

func main() {
	input := pflag.StringP("input", "i", "samples.s16", "sample recording (.zst is decompressed)")
	output := pflag.StringP("output", "o", "window.png", "output image (.png, .svg or .pdf)")
	offset := pflag.Int("offset", 0, "first sample of the window")
	length := pflag.Int("length", 600, "window length in samples")
	channel := pflag.Int("channel", int(ble.AdvChannel), "advertising channel used for dewhitening")
	pflag.Parse()

	logger := log.NewWithOptions(os.Stderr, log.Options{Prefix: "plot-window"})

	samples, err := readSamples(*input)
	if err != nil {
		logger.Fatal("read", "err", err)
	}
	if *channel < 0 || *channel > ble.MaxChannel {
		logger.Fatal("bad channel", "channel", *channel)
	}
	records, err := decode(samples, uint8(*channel))
	if err != nil {
		logger.Fatal("decode", "err", err)
	}
	p, err := buildPlot(samples, *offset, *length, records)
	if err != nil {
		logger.Fatal("plot", "err", err)
	}
	if err := p.Save(14*vg.Inch, 6*vg.Inch, *output); err != nil {
		logger.Fatal("save", "err", err)
	}
	logger.Info("saved", "path", *output, "packets", len(records))
}
