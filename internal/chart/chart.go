// Package chart renders a crossover frame as an SVG snapshot: the close
// price with both rolling means overlaid, and markers at every crossover.
// The output is meant for posting to a notification channel, not for
// interactive analysis.
package chart

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"crossbot/internal/signal"
)

const (
	defaultWidth  = 900
	defaultHeight = 300

	marginLeft = 40
	marginTop  = 20

	closeColor = "#59a6ff"
	shortColor = "#f2c14e"
	longColor  = "#b07aff"
	buyColor   = "#8bff9b"
	sellColor  = "#ff7a7a"
	axisColor  = "#1f2837"
	bgColor    = "#0b0f17"
	textColor  = "#e6edf3"
)

// ErrEmptyFrame indicates a render attempt on a frame with no rows.
var ErrEmptyFrame = errors.New("cannot chart an empty frame")

// Render draws the frame into SVG bytes: one polyline each for close, short
// mean and long mean, with circle markers at crossover rows.
func Render(f *signal.Frame, title string) ([]byte, error) {
	if f == nil || f.Len() == 0 {
		return nil, ErrEmptyFrame
	}

	width, height := defaultWidth, defaultHeight
	plotW := float64(width - 2*marginLeft)
	plotH := float64(height - 3*marginTop)

	// y-scale spans all three lines so none of them clips
	minY, maxY := frameBounds(f)
	sx := plotW / float64(max(f.Len()-1, 1))
	sy := plotH / (maxY - minY + 1e-9)

	px := func(i int) float64 { return float64(i) * sx }
	py := func(v float64) float64 { return plotH - (v-minY)*sy }

	var b bytes.Buffer
	fmt.Fprintf(&b, "<svg xmlns='http://www.w3.org/2000/svg' width='%d' height='%d' viewBox='0 0 %d %d'>",
		width, height, width, height)
	fmt.Fprintf(&b, "<rect width='100%%' height='100%%' fill='%s'/>", bgColor)
	fmt.Fprintf(&b, "<g transform='translate(%d,%d)'>", marginLeft, marginTop)

	// axes
	fmt.Fprintf(&b, "<line x1='0' y1='0' x2='0' y2='%.0f' stroke='%s'/>", plotH, axisColor)
	fmt.Fprintf(&b, "<line x1='0' y1='%.0f' x2='%.0f' y2='%.0f' stroke='%s'/>", plotH, plotW, plotH, axisColor)

	writePolyline(&b, f, closeColor, px, py, func(r signal.Row) float64 { return r.Close.InexactFloat64() })
	writePolyline(&b, f, shortColor, px, py, func(r signal.Row) float64 { return r.Short.InexactFloat64() })
	writePolyline(&b, f, longColor, px, py, func(r signal.Row) float64 { return r.Long.InexactFloat64() })

	for i, row := range f.Rows {
		if row.Position == 0 {
			continue
		}
		color := buyColor
		if row.Position < 0 {
			color = sellColor
		}
		fmt.Fprintf(&b, "<circle cx='%.2f' cy='%.2f' r='4' fill='%s'/>",
			px(i), py(row.Close.InexactFloat64()), color)
	}

	b.WriteString("</g>")
	fmt.Fprintf(&b, "<text x='16' y='18' fill='%s' font-family='Inter' font-size='14'>%s</text>", textColor, title)
	b.WriteString("</svg>")
	return b.Bytes(), nil
}

// RenderToFile renders the frame and writes it to path.
func RenderToFile(f *signal.Frame, title, path string) error {
	data, err := Render(f, title)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write chart: %w", err)
	}
	return nil
}

func writePolyline(b *bytes.Buffer, f *signal.Frame, color string,
	px func(int) float64, py func(float64) float64, value func(signal.Row) float64) {

	fmt.Fprintf(b, "<polyline fill='none' stroke='%s' stroke-width='1.5' points='", color)
	for i, row := range f.Rows {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(b, "%.2f,%.2f", px(i), py(value(row)))
	}
	b.WriteString("'/>")
}

// frameBounds returns the min and max across close, short and long values.
func frameBounds(f *signal.Frame) (minY, maxY float64) {
	minY = f.Rows[0].Close.InexactFloat64()
	maxY = minY
	for _, row := range f.Rows {
		for _, v := range []float64{row.Close.InexactFloat64(), row.Short.InexactFloat64(), row.Long.InexactFloat64()} {
			minY = min(minY, v)
			maxY = max(maxY, v)
		}
	}
	return minY, maxY
}
