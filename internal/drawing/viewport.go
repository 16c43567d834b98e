package drawing

import "errors"

// Logical canvas size. Stroke coordinates on the wire are in this space so
// peers with different viewports render the same picture.
const (
	LogicalWidth  = 800
	LogicalHeight = 600
)

var ErrViewport = errors.New("invalid viewport")

// Viewport describes how a canvas is shown locally: the displayed size of the
// element and the size of its backing store, which differ when the display
// is scaled (CSS size, device pixel ratio).
type Viewport struct {
	DisplayWidth, DisplayHeight float64
	BackingWidth, BackingHeight float64
}

func (v Viewport) Validate() error {
	if v.DisplayWidth <= 0 || v.DisplayHeight <= 0 || v.BackingWidth <= 0 || v.BackingHeight <= 0 {
		return ErrViewport
	}
	return nil
}

// ToBacking maps a pointer position in display coordinates through the
// backing/display ratio onto backing-store pixels.
func (v Viewport) ToBacking(x, y float64) (float64, float64) {
	return x * v.BackingWidth / v.DisplayWidth, y * v.BackingHeight / v.DisplayHeight
}

// ToLogical maps backing-store pixels into the logical canvas.
func (v Viewport) ToLogical(bx, by float64) (float64, float64) {
	return bx * LogicalWidth / v.BackingWidth, by * LogicalHeight / v.BackingHeight
}

// FromPointer maps a pointer position straight to logical coordinates.
func (v Viewport) FromPointer(x, y float64) (float64, float64) {
	return v.ToLogical(v.ToBacking(x, y))
}

// Pointer tracks a press-drag-release gesture and turns it into strokes.
type Pointer struct {
	vp      Viewport
	down    bool
	lastX   float64
	lastY   float64
	Color   string
	Width   float64
	erasing bool
}

func NewPointer(vp Viewport) *Pointer {
	return &Pointer{vp: vp, Color: "#000000", Width: 5}
}

// SetEraser paints with the background colour while on.
func (p *Pointer) SetEraser(on bool) { p.erasing = on }

func (p *Pointer) Resize(vp Viewport) { p.vp = vp }

// Down starts a gesture at display coordinates x, y.
func (p *Pointer) Down(x, y float64) {
	p.down = true
	p.lastX, p.lastY = p.vp.FromPointer(x, y)
}

// Move extends the gesture; ok is false when no gesture is in progress.
func (p *Pointer) Move(x, y float64) (s Stroke, ok bool) {
	if !p.down {
		return Stroke{}, false
	}
	lx, ly := p.vp.FromPointer(x, y)
	color := p.Color
	if p.erasing {
		color = Background
	}
	s = Stroke{
		PrevX: p.lastX, PrevY: p.lastY,
		CurrentX: lx, CurrentY: ly,
		Color: color,
		Width: p.Width * LogicalWidth / p.vp.BackingWidth,
	}
	p.lastX, p.lastY = lx, ly
	return s, true
}

func (p *Pointer) Up() { p.down = false }
