// Package graph turns test-run samples into the 800x600 PNG progress
// chart shown to viewers and attached to result emails.
package graph

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"

	chart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/results-wang/pluslife-notifier/src/messages"
)

const (
	Width  = 800
	Height = 600

	// yAxisFloor keeps near-flat data from rendering as a mis-scaled
	// full-height chart: the Y axis always spans at least this much.
	yAxisFloor = 5000
)

// palette assigns one fixed color per channel slot so the same input
// always renders the same bytes. Series are drawn in channel order.
var palette = [messages.ChannelCount]drawing.Color{
	{R: 166, G: 206, B: 227, A: 255},
	{R: 32, G: 120, B: 180, A: 255},
	{R: 178, G: 223, B: 138, A: 255},
	{R: 52, G: 160, B: 45, A: 255},
	{R: 166, G: 206, B: 227, A: 255},
	{R: 252, G: 154, B: 154, A: 255},
	{R: 254, G: 192, B: 112, A: 255},
}

// TooManyChannelsError reports a sample addressing a channel slot beyond
// the fixed palette.
type TooManyChannelsError struct {
	Channel int
}

func (e *TooManyChannelsError) Error() string {
	return fmt.Sprintf("sample channel %d exceeds the %d channel slots", e.Channel, messages.ChannelCount)
}

// Point is one plotted measurement.
type Point struct {
	TimeMinutes float64
	Value       int64
}

// Line is the series for one channel slot.
type Line struct {
	Color  drawing.Color
	Points []Point
}

// GraphData is the normalized chart model derived from TestData.
type GraphData struct {
	MinTime  float64
	MaxTime  float64
	MinValue int64
	MaxValue int64
	Lines    []Line
}

// FromTestData buckets every sample onto its channel's line, converting
// sampling time (hundred-millisecond ticks) to minutes.
func FromTestData(data *messages.TestData) (*GraphData, error) {
	g := &GraphData{Lines: make([]Line, messages.ChannelCount)}
	for i := range g.Lines {
		g.Lines[i].Color = palette[i]
	}
	first := true
	for _, sample := range data.Samples {
		if sample.StartingChannel >= len(g.Lines) || sample.StartingChannel < 0 {
			return nil, &TooManyChannelsError{Channel: sample.StartingChannel}
		}
		timeMinutes := float64(sample.SamplingTime) / 600.0
		if first {
			g.MinTime, g.MaxTime = timeMinutes, timeMinutes
			g.MinValue, g.MaxValue = sample.FirstChannelResult, sample.FirstChannelResult
			first = false
		} else {
			g.MinTime = min(g.MinTime, timeMinutes)
			g.MaxTime = max(g.MaxTime, timeMinutes)
			g.MinValue = min(g.MinValue, sample.FirstChannelResult)
			g.MaxValue = max(g.MaxValue, sample.FirstChannelResult)
		}
		line := &g.Lines[sample.StartingChannel]
		line.Points = append(line.Points, Point{TimeMinutes: timeMinutes, Value: sample.FirstChannelResult})
	}
	return g, nil
}

// NormaliseValuesToZero rebases every line onto its own minimum, so each
// channel's curve starts at zero regardless of its raw baseline. The value
// range becomes 0 to the largest normalized value across all lines.
func (g *GraphData) NormaliseValuesToZero() *GraphData {
	out := &GraphData{
		MinTime:  g.MinTime,
		MaxTime:  g.MaxTime,
		MinValue: 0,
		MaxValue: 0,
		Lines:    make([]Line, len(g.Lines)),
	}
	for i, line := range g.Lines {
		var lineMin int64
		for j, p := range line.Points {
			if j == 0 || p.Value < lineMin {
				lineMin = p.Value
			}
		}
		normalised := Line{Color: line.Color, Points: make([]Point, len(line.Points))}
		for j, p := range line.Points {
			v := p.Value - lineMin
			normalised.Points[j] = Point{TimeMinutes: p.TimeMinutes, Value: v}
			if v > out.MaxValue {
				out.MaxValue = v
			}
		}
		out.Lines[i] = normalised
	}
	return out
}

// RenderPNG rasterizes the chart. Output bytes are reproducible for the
// same input: fixed size, fixed palette, series drawn in channel order.
func (g *GraphData) RenderPNG() ([]byte, error) {
	var series []chart.Series
	for _, line := range g.Lines {
		if len(line.Points) == 0 {
			continue
		}
		xs := make([]float64, len(line.Points))
		ys := make([]float64, len(line.Points))
		for i, p := range line.Points {
			xs[i] = p.TimeMinutes
			ys[i] = float64(p.Value)
		}
		if len(xs) == 1 {
			// Pad to two values; go-chart cannot draw a one-point series.
			xs = append(xs, xs[0]+1)
			ys = append(ys, ys[0])
		}
		series = append(series, chart.ContinuousSeries{
			XValues: xs,
			YValues: ys,
			Style: chart.Style{
				StrokeColor: line.Color,
				StrokeWidth: 1.5,
				DotColor:    line.Color,
				DotWidth:    2,
			},
		})
	}
	if len(series) == 0 {
		// A finished test can arrive with zero samples; show an empty
		// chart rather than failing the whole update.
		return blankPNG()
	}

	maxTime := g.MaxTime
	if maxTime <= g.MinTime {
		// Pad the X range: go-chart rejects a zero-width domain.
		maxTime = g.MinTime + 1
	}
	yMax := float64(max(g.MaxValue*2, yAxisFloor))

	ch := chart.Chart{
		Width:      Width,
		Height:     Height,
		Background: chart.Style{Padding: chart.Box{Top: 10, Left: 10, Right: 10, Bottom: 10}},
		XAxis: chart.XAxis{
			Range: &chart.ContinuousRange{Min: g.MinTime, Max: maxTime},
		},
		YAxis: chart.YAxis{
			Style: chart.Style{Hidden: true},
			Range: &chart.ContinuousRange{Min: float64(g.MinValue), Max: yMax},
		},
		Series: series,
	}

	var buf bytes.Buffer
	if err := ch.Render(chart.PNG, &buf); err != nil {
		return nil, fmt.Errorf("render chart: %w", err)
	}
	return buf.Bytes(), nil
}

// RenderPNGToFile writes the rendered chart to path.
func (g *GraphData) RenderPNGToFile(path string) error {
	b, err := g.RenderPNG()
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

func blankPNG() ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, Width, Height))
	white := color.RGBA{R: 255, G: 255, B: 255, A: 255}
	for y := 0; y < Height; y++ {
		for x := 0; x < Width; x++ {
			img.SetRGBA(x, y, white)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode blank chart: %w", err)
	}
	return buf.Bytes(), nil
}
