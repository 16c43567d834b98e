package drawing

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"math"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/image/vector"
)

// Background is the canvas colour and the eraser colour.
const Background = "#ffffff"

// Stroke is one line segment in logical coordinates.
type Stroke struct {
	PrevX, PrevY       float64
	CurrentX, CurrentY float64
	Color              string
	Width              float64
}

// MaxWidth caps the stroke width in logical units. Coordinates are clamped to
// the logical canvas widened by the same margin.
const MaxWidth = 100

// Bounded returns st limited to what the canvas can show. It reports false
// for strokes with non-finite values.
func (st Stroke) Bounded() (Stroke, bool) {
	for _, v := range []float64{st.PrevX, st.PrevY, st.CurrentX, st.CurrentY, st.Width} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return st, false
		}
	}
	st.PrevX = clamp(st.PrevX, -MaxWidth, LogicalWidth+MaxWidth)
	st.CurrentX = clamp(st.CurrentX, -MaxWidth, LogicalWidth+MaxWidth)
	st.PrevY = clamp(st.PrevY, -MaxWidth, LogicalHeight+MaxWidth)
	st.CurrentY = clamp(st.CurrentY, -MaxWidth, LogicalHeight+MaxWidth)
	st.Width = clamp(st.Width, 0, MaxWidth)
	return st, true
}

func clamp(v, lo, hi float64) float64 { return math.Max(lo, math.Min(hi, v)) }

// Surface is a raster canvas. Strokes are painted in call order; overlapping
// pixels take the last stroke.
type Surface struct {
	mu  sync.Mutex
	img *image.RGBA
	sx  float32 // logical to pixel scale
	sy  float32
}

// NewSurface creates a white surface of w×h pixels.
func NewSurface(w, h int) *Surface {
	if w <= 0 {
		w = LogicalWidth
	}
	if h <= 0 {
		h = LogicalHeight
	}
	s := &Surface{
		img: image.NewRGBA(image.Rect(0, 0, w, h)),
		sx:  float32(w) / LogicalWidth,
		sy:  float32(h) / LogicalHeight,
	}
	s.Clear()
	return s
}

func (s *Surface) Bounds() image.Rectangle { return s.img.Bounds() }

// Draw rasterizes st as a thick segment with round caps. Strokes are bounded
// first; invalid ones paint nothing.
func (s *Surface) Draw(st Stroke) {
	st, ok := st.Bounded()
	if !ok {
		return
	}
	c := ParseColor(st.Color)
	w := float32(st.Width) * (s.sx + s.sy) / 2
	if w < 1 {
		w = 1
	}
	x0, y0 := float32(st.PrevX)*s.sx, float32(st.PrevY)*s.sy
	x1, y1 := float32(st.CurrentX)*s.sx, float32(st.CurrentY)*s.sy

	b := s.img.Bounds()
	r := vector.NewRasterizer(b.Dx(), b.Dy())
	r.DrawOp = draw.Over
	src := image.NewUniform(c)
	half := w / 2

	s.mu.Lock()
	defer s.mu.Unlock()

	// Each shape gets its own pass so opposite windings never cancel.
	dx, dy := x1-x0, y1-y0
	if l := float32(math.Hypot(float64(dx), float64(dy))); l > 0 {
		nx, ny := -dy/l*half, dx/l*half
		r.MoveTo(x0+nx, y0+ny)
		r.LineTo(x1+nx, y1+ny)
		r.LineTo(x1-nx, y1-ny)
		r.LineTo(x0-nx, y0-ny)
		r.ClosePath()
		r.Draw(s.img, b, src, image.Point{})
		r.Reset(b.Dx(), b.Dy())
	}
	disc(r, x0, y0, half)
	r.Draw(s.img, b, src, image.Point{})
	if dx != 0 || dy != 0 {
		r.Reset(b.Dx(), b.Dy())
		disc(r, x1, y1, half)
		r.Draw(s.img, b, src, image.Point{})
	}
}

// disc adds a polygonal circle to r.
func disc(r *vector.Rasterizer, cx, cy, radius float32) {
	const steps = 16
	for i := 0; i <= steps; i++ {
		a := 2 * math.Pi * float64(i) / steps
		x := cx + radius*float32(math.Cos(a))
		y := cy + radius*float32(math.Sin(a))
		if i == 0 {
			r.MoveTo(x, y)
		} else {
			r.LineTo(x, y)
		}
	}
	r.ClosePath()
}

// Clear paints the whole surface with the background colour.
func (s *Surface) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	draw.Draw(s.img, s.img.Bounds(), image.NewUniform(ParseColor(Background)), image.Point{}, draw.Src)
}

// At returns the colour of the pixel under logical point x, y.
func (s *Surface) At(x, y float64) color.RGBA {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.img.RGBAAt(int(float32(x)*s.sx), int(float32(y)*s.sy))
}

// Snapshot copies the current raster.
func (s *Surface) Snapshot() *image.RGBA {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := image.NewRGBA(s.img.Bounds())
	copy(cp.Pix, s.img.Pix)
	return cp
}

// WritePNG encodes the current raster.
func (s *Surface) WritePNG(w io.Writer) error {
	if err := png.Encode(w, s.Snapshot()); err != nil {
		return fmt.Errorf("encode png: %w", err)
	}
	return nil
}

var named = map[string]color.RGBA{
	"black": {0, 0, 0, 255},
	"white": {255, 255, 255, 255},
	"red":   {255, 0, 0, 255},
	"green": {0, 128, 0, 255},
	"blue":  {0, 0, 255, 255},
}

// ParseColor reads #rgb, #rrggbb or a few names; anything else is black.
func ParseColor(s string) color.RGBA {
	s = strings.ToLower(strings.TrimSpace(s))
	if c, ok := named[s]; ok {
		return c
	}
	hex := strings.TrimPrefix(s, "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) != 6 {
		return color.RGBA{A: 255}
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.RGBA{A: 255}
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}
}
