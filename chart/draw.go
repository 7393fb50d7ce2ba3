package chart

import (
	"bytes"
	"fmt"
	"image/color"
	"math"
	"strconv"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
)

var palette = []color.NRGBA{
	{0x1f, 0x77, 0xb4, 0xff},
	{0xff, 0x7f, 0x0e, 0xff},
	{0x2c, 0xa0, 0x2c, 0xff},
	{0xd6, 0x27, 0x28, 0xff},
	{0x94, 0x67, 0xbd, 0xff},
	{0x8c, 0x56, 0x4b, 0xff},
	{0xe3, 0x77, 0xc2, 0xff},
	{0x7f, 0x7f, 0x7f, 0xff},
	{0xbc, 0xbd, 0x22, 0xff},
	{0x17, 0xbe, 0xcf, 0xff},
}

type faces struct {
	title, text, small font.Face
}

func loadFaces() (faces, error) {
	regular, err := truetype.Parse(goregular.TTF)
	if err != nil {
		return faces{}, fmt.Errorf("parse regular font: %w", err)
	}
	bold, err := truetype.Parse(gobold.TTF)
	if err != nil {
		return faces{}, fmt.Errorf("parse bold font: %w", err)
	}
	face := func(f *truetype.Font, size float64) font.Face {
		return truetype.NewFace(f, &truetype.Options{Size: size, DPI: 72, Hinting: font.HintingNone})
	}
	return faces{title: face(bold, 28), text: face(regular, 18), small: face(regular, 14)}, nil
}

// plotArea is the rectangle series are drawn into.
type plotArea struct {
	x, y, w, h float64
}

// rasterize draws the figure and encodes it as PNG.
func rasterize(fig *Figure) ([]byte, error) {
	fig.mu.Lock()
	defer fig.mu.Unlock()

	ff, err := loadFaces()
	if err != nil {
		return nil, err
	}

	w, h := float64(fig.Width), float64(fig.Height)
	dc := gg.NewContext(fig.Width, fig.Height)
	dc.SetColor(color.White)
	dc.Clear()

	top := 20.0
	if fig.Title != "" {
		dc.SetFontFace(ff.title)
		dc.SetColor(color.Black)
		dc.DrawStringAnchored(fig.Title, w/2, top+14, 0.5, 0.5)
		top += 40
	}
	if fig.Subtitle != "" {
		dc.SetFontFace(ff.text)
		dc.SetHexColor("#555555")
		dc.DrawStringAnchored(fig.Subtitle, w/2, top+10, 0.5, 0.5)
		top += 30
	}
	bottom := h - 70
	if fig.Footnote != "" {
		dc.SetFontFace(ff.small)
		dc.SetHexColor("#555555")
		dc.DrawStringAnchored(fig.Footnote, w-20, h-14, 1, 0.5)
		bottom -= 20
	}

	area := plotArea{x: 90, y: top + 20, w: w - 130, h: bottom - top - 20}
	if fig.Legend {
		area.w -= 180
	}

	pies, rest := split(fig.Series)
	switch {
	case len(rest) > 0:
		drawAxes(dc, ff, fig, area, rest)
	case len(pies) > 0:
		drawPie(dc, ff, area, pies[0])
	}

	if fig.Legend {
		drawLegend(dc, ff, fig.Series, area.x+area.w+30, area.y)
	}

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("failed to encode PNG: %w", err)
	}
	return buf.Bytes(), nil
}

func split(series []Series) (pies, rest []Series) {
	for _, s := range series {
		if s.Kind == KindPie {
			pies = append(pies, s)
		} else {
			rest = append(rest, s)
		}
	}
	return pies, rest
}

func drawAxes(dc *gg.Context, ff faces, fig *Figure, area plotArea, series []Series) {
	lo, hi := valueRange(series)
	horizontal := series[0].Kind == KindBarh

	dc.SetColor(color.Black)
	dc.SetLineWidth(1.5)
	dc.DrawLine(area.x, area.y, area.x, area.y+area.h)
	dc.DrawLine(area.x, area.y+area.h, area.x+area.w, area.y+area.h)
	dc.Stroke()

	dc.SetFontFace(ff.text)
	if fig.XLabel != "" {
		dc.DrawStringAnchored(fig.XLabel, area.x+area.w/2, area.y+area.h+50, 0.5, 0.5)
	}
	if fig.YLabel != "" {
		dc.Push()
		dc.RotateAbout(gg.Radians(-90), 24, area.y+area.h/2)
		dc.DrawStringAnchored(fig.YLabel, 24, area.y+area.h/2, 0.5, 0.5)
		dc.Pop()
	}

	labels := categories(series)
	scale := func(v float64) float64 { return (v - lo) / (hi - lo) }

	dc.SetFontFace(ff.small)
	for i := 0; i <= 4; i++ {
		v := lo + (hi-lo)*float64(i)/4
		dc.SetHexColor("#444444")
		if horizontal {
			x := area.x + area.w*scale(v)
			dc.DrawStringAnchored(formatValue(v), x, area.y+area.h+16, 0.5, 0.5)
		} else {
			y := area.y + area.h - area.h*scale(v)
			dc.DrawStringAnchored(formatValue(v), area.x-8, y, 1, 0.5)
		}
	}

	bars := 0
	for _, s := range series {
		if s.Kind == KindBar || s.Kind == KindBarh {
			bars++
		}
	}
	slot := 0
	for i, s := range series {
		dc.SetColor(palette[i%len(palette)])
		switch s.Kind {
		case KindBar:
			drawBars(dc, ff, area, s, labels, scale, slot, bars, false)
			slot++
		case KindBarh:
			drawBars(dc, ff, area, s, labels, scale, slot, bars, true)
			slot++
		case KindLine:
			drawLine(dc, area, s, labels, scale)
		case KindScatter:
			drawScatter(dc, area, s, scale)
		}
	}

	dc.SetFontFace(ff.small)
	dc.SetColor(color.Black)
	step := float64(len(labels))
	for i, label := range labels {
		if horizontal {
			y := area.y + area.h*(float64(i)+0.5)/step
			dc.DrawStringAnchored(label, area.x-8, y, 1, 0.5)
		} else {
			x := area.x + area.w*(float64(i)+0.5)/step
			dc.DrawStringAnchored(label, x, area.y+area.h+16, 0.5, 0.5)
		}
	}
}

func drawBars(dc *gg.Context, ff faces, area plotArea, s Series, labels []string, scale func(float64) float64, slot, slots int, horizontal bool) {
	index := indexOf(labels)
	n := float64(len(labels))
	for i, label := range s.Labels {
		pos := float64(index[label])
		v := s.Values[i]
		if horizontal {
			band := area.h / n
			thick := band * 0.8 / float64(slots)
			y := area.y + band*pos + band*0.1 + thick*float64(slot)
			length := area.w * scale(v)
			dc.DrawRectangle(area.x, y, length, thick)
			dc.Fill()
			valueLabel(dc, ff, formatValue(v), area.x+length+6, y+thick/2, 0)
			continue
		}
		band := area.w / n
		thick := band * 0.8 / float64(slots)
		x := area.x + band*pos + band*0.1 + thick*float64(slot)
		height := area.h * scale(v)
		dc.DrawRectangle(x, area.y+area.h-height, thick, height)
		dc.Fill()
		valueLabel(dc, ff, formatValue(v), x+thick/2, area.y+area.h-height-10, 0.5)
	}
}

func valueLabel(dc *gg.Context, ff faces, text string, x, y, ax float64) {
	dc.Push()
	dc.SetFontFace(ff.small)
	dc.SetColor(color.Black)
	dc.DrawStringAnchored(text, x, y, ax, 0.5)
	dc.Pop()
}

func drawLine(dc *gg.Context, area plotArea, s Series, labels []string, scale func(float64) float64) {
	index := indexOf(labels)
	n := float64(len(labels))
	dc.SetLineWidth(3)
	for i, label := range s.Labels {
		x := area.x + area.w*(float64(index[label])+0.5)/n
		y := area.y + area.h - area.h*scale(s.Values[i])
		if i == 0 {
			dc.MoveTo(x, y)
		} else {
			dc.LineTo(x, y)
		}
	}
	dc.Stroke()
}

func drawScatter(dc *gg.Context, area plotArea, s Series, scale func(float64) float64) {
	xlo, xhi := bounds(s.X)
	for i, xv := range s.X {
		x := area.x + area.w*(xv-xlo)/(xhi-xlo)
		y := area.y + area.h - area.h*scale(s.Values[i])
		dc.DrawCircle(x, y, 5)
		dc.Fill()
	}
}

func drawPie(dc *gg.Context, ff faces, area plotArea, s Series) {
	var total float64
	for _, v := range s.Values {
		total += v
	}
	if total == 0 {
		return
	}
	cx, cy := area.x+area.w/2, area.y+area.h/2
	r := math.Min(area.w, area.h) / 2 * 0.9
	angle := -math.Pi / 2
	for i, v := range s.Values {
		sweep := 2 * math.Pi * v / total
		dc.SetColor(palette[i%len(palette)])
		dc.MoveTo(cx, cy)
		dc.DrawArc(cx, cy, r, angle, angle+sweep)
		dc.ClosePath()
		dc.Fill()

		mid := angle + sweep/2
		lx, ly := cx+math.Cos(mid)*r*1.08, cy+math.Sin(mid)*r*1.08
		ax := 0.0
		if math.Cos(mid) < 0 {
			ax = 1
		}
		dc.SetFontFace(ff.small)
		dc.SetColor(color.Black)
		dc.DrawStringAnchored(fmt.Sprintf("%s (%.1f%%)", s.Labels[i], 100*v/total), lx, ly, ax, 0.5)
		angle += sweep
	}
}

func drawLegend(dc *gg.Context, ff faces, series []Series, x, y float64) {
	dc.SetFontFace(ff.small)
	row := 0
	entry := func(name string, c color.Color) {
		top := y + float64(row)*24
		dc.SetColor(c)
		dc.DrawRectangle(x, top, 14, 14)
		dc.Fill()
		dc.SetColor(color.Black)
		dc.DrawStringAnchored(name, x+22, top+7, 0, 0.5)
		row++
	}
	for i, s := range series {
		if s.Kind == KindPie {
			for j, label := range s.Labels {
				entry(label, palette[j%len(palette)])
			}
			continue
		}
		name := s.Name
		if name == "" {
			name = string(s.Kind)
		}
		entry(name, palette[i%len(palette)])
	}
}

// valueRange spans every value with zero included, so bars start at the axis.
func valueRange(series []Series) (lo, hi float64) {
	for _, s := range series {
		l, h := bounds(s.Values)
		lo, hi = math.Min(lo, l), math.Max(hi, h)
	}
	if hi == lo {
		hi = lo + 1
	}
	return lo, hi * 1.1
}

func bounds(values []float64) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, v := range values {
		lo, hi = math.Min(lo, v), math.Max(hi, v)
	}
	if hi == lo {
		hi = lo + 1
	}
	return lo, hi
}

// categories lists labels in first-seen order across series.
func categories(series []Series) []string {
	var out []string
	seen := map[string]bool{}
	for _, s := range series {
		for _, label := range s.Labels {
			if !seen[label] {
				seen[label] = true
				out = append(out, label)
			}
		}
	}
	if len(out) == 0 {
		out = []string{""}
	}
	return out
}

func indexOf(labels []string) map[string]int {
	m := make(map[string]int, len(labels))
	for i, l := range labels {
		m[l] = i
	}
	return m
}

func formatValue(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e9 {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}
