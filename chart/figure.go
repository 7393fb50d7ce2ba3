package chart

import (
	"errors"
	"fmt"
	"sync"
)

type Kind string

const (
	KindBar     Kind = "bar"
	KindBarh    Kind = "barh"
	KindLine    Kind = "line"
	KindScatter Kind = "scatter"
	KindPie     Kind = "pie"
)

// Series is one plotted data set. Bar, barh, line and pie series are keyed by
// Labels; scatter series use X.
type Series struct {
	Kind   Kind
	Name   string
	Labels []string
	X      []float64
	Values []float64
}

var errFigureClosed = errors.New("figure is closed")

// Figure collects what chart code draws. Methods are exposed to the sandbox
// as the plt package, so invalid input is recorded and reported after the
// code has run rather than panicking inside the interpreter.
type Figure struct {
	Title    string
	Subtitle string
	XLabel   string
	YLabel   string
	Footnote string
	Legend   bool
	Width    int
	Height   int
	Series   []Series

	mu     sync.Mutex
	errs   []error
	closed bool
}

const (
	defaultWidth  = 1200
	defaultHeight = 800
	maxDimension  = 3000
)

func NewFigure() *Figure {
	return &Figure{Width: defaultWidth, Height: defaultHeight}
}

func (f *Figure) SetTitle(s string)    { f.set(func() { f.Title = s }) }
func (f *Figure) SetSubtitle(s string) { f.set(func() { f.Subtitle = s }) }
func (f *Figure) SetXLabel(s string)   { f.set(func() { f.XLabel = s }) }
func (f *Figure) SetYLabel(s string)   { f.set(func() { f.YLabel = s }) }
func (f *Figure) SetFootnote(s string) { f.set(func() { f.Footnote = s }) }
func (f *Figure) ShowLegend()          { f.set(func() { f.Legend = true }) }

func (f *Figure) set(apply func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	apply()
}

func (f *Figure) SetSize(width, height int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if width < 200 || height < 200 || width > maxDimension || height > maxDimension {
		f.fail(fmt.Errorf("size %dx%d out of range", width, height))
		return
	}
	f.Width, f.Height = width, height
}

func (f *Figure) Bar(name string, labels []string, values []float64) {
	f.labelled(KindBar, name, labels, values)
}

func (f *Figure) Barh(name string, labels []string, values []float64) {
	f.labelled(KindBarh, name, labels, values)
}

func (f *Figure) Line(name string, labels []string, values []float64) {
	f.labelled(KindLine, name, labels, values)
}

func (f *Figure) Pie(labels []string, values []float64) {
	for _, v := range values {
		if v < 0 {
			f.mu.Lock()
			f.fail(fmt.Errorf("pie: negative value %v", v))
			f.mu.Unlock()
			return
		}
	}
	f.labelled(KindPie, "", labels, values)
}

func (f *Figure) Scatter(name string, x, y []float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		f.fail(errFigureClosed)
		return
	}
	if len(x) == 0 || len(x) != len(y) {
		f.fail(fmt.Errorf("scatter %q: %d x values for %d y values", name, len(x), len(y)))
		return
	}
	f.Series = append(f.Series, Series{Kind: KindScatter, Name: name, X: copyFloats(x), Values: copyFloats(y)})
}

func (f *Figure) labelled(kind Kind, name string, labels []string, values []float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		f.fail(errFigureClosed)
		return
	}
	if len(labels) == 0 || len(labels) != len(values) {
		f.fail(fmt.Errorf("%s %q: %d labels for %d values", kind, name, len(labels), len(values)))
		return
	}
	f.Series = append(f.Series, Series{
		Kind:   kind,
		Name:   name,
		Labels: append([]string(nil), labels...),
		Values: copyFloats(values),
	})
}

// fail must be called with mu held.
func (f *Figure) fail(err error) {
	f.errs = append(f.errs, err)
}

// Err reports the first invalid call or an empty figure.
func (f *Figure) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.errs) > 0 {
		return f.errs[0]
	}
	if len(f.Series) == 0 {
		return errors.New("figure has no data")
	}
	return nil
}

// Close drops the recorded data. Drawing calls after Close are errors.
func (f *Figure) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.Series = nil
}

func copyFloats(in []float64) []float64 {
	return append([]float64(nil), in...)
}
