package mesh

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"

	"github.com/paulmach/orb"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"gonum.org/v1/gonum/spatial/r3"
)

// MeshColor defines the colors used for one mesh's preview elements
type MeshColor struct {
	Wire     color.NRGBA
	Landmark color.NRGBA
	Linked   color.NRGBA
	Seam     color.NRGBA
}

// DefaultColors returns the source and target palettes
func DefaultColors() []MeshColor {
	return []MeshColor{
		{ // Source - Blue
			Wire:     color.NRGBA{100, 149, 237, 160}, // Cornflower blue
			Landmark: color.NRGBA{0, 0, 139, 255},     // Dark blue
			Linked:   color.NRGBA{0, 128, 0, 255},     // Green
			Seam:     color.NRGBA{255, 140, 0, 255},   // Dark orange
		},
		{ // Target - Red
			Wire:     color.NRGBA{255, 99, 71, 160}, // Tomato
			Landmark: color.NRGBA{139, 0, 0, 255},   // Dark red
			Linked:   color.NRGBA{0, 128, 0, 255},   // Green
			Seam:     color.NRGBA{255, 140, 0, 255}, // Dark orange
		},
	}
}

var (
	validColor   = color.RGBA{34, 139, 34, 255}
	invalidColor = color.RGBA{220, 20, 60, 255}
	labelColor   = color.RGBA{0, 0, 0, 255}
)

// viewPoint drops the coordinate along axis, keeping a right-handed 2D frame
func viewPoint(p r3.Vec, axis Axis) orb.Point {
	switch axis {
	case AxisX:
		return orb.Point{p.Y, p.Z}
	case AxisY:
		return orb.Point{p.X, p.Z}
	}
	return orb.Point{p.X, p.Y}
}

// viewBound returns the 2D bound of points seen along axis
func viewBound(points []r3.Vec, axis Axis) orb.Bound {
	mp := make(orb.MultiPoint, len(points))
	for i, p := range points {
		mp[i] = viewPoint(p, axis)
	}
	if len(mp) == 0 {
		return orb.Bound{}
	}
	return mp.Bound()
}

// ValidityRenderer draws the source mesh's vertices colored by whether their
// mapping record is valid, with landmark ids as labels.
type ValidityRenderer struct {
	Mesh      *TriMesh
	Validity  []bool
	Landmarks *LandmarkStore
	Axis      Axis
	Width     int // image width in pixels; height follows the aspect ratio
	Padding   int
	DotRadius int
}

// NewValidityRenderer creates a renderer with default settings
func NewValidityRenderer(m *TriMesh, validity []bool, landmarks *LandmarkStore) *ValidityRenderer {
	return &ValidityRenderer{
		Mesh:      m,
		Validity:  validity,
		Landmarks: landmarks,
		Axis:      AxisZ,
		Width:     800,
		Padding:   20,
		DotRadius: 2,
	}
}

// Render draws the preview image
func (r *ValidityRenderer) Render() *image.RGBA {
	b := viewBound(r.Mesh.Vertices, r.Axis)
	w, h := b.Max[0]-b.Min[0], b.Max[1]-b.Min[1]
	extent := math.Max(w, h)
	if extent == 0 {
		extent = 1
	}
	inner := float64(r.Width - 2*r.Padding)
	scale := inner / extent
	width := r.Width
	height := int(math.Ceil(h*scale)) + 2*r.Padding

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i := range img.Pix {
		img.Pix[i] = 255
	}

	// image y grows downward
	toPixel := func(p r3.Vec) (int, int) {
		q := viewPoint(p, r.Axis)
		x := (q[0]-b.Min[0])*scale + float64(r.Padding)
		y := float64(height) - ((q[1]-b.Min[1])*scale + float64(r.Padding))
		return int(math.Round(x)), int(math.Round(y))
	}

	for i, v := range r.Mesh.Vertices {
		c := invalidColor
		if i < len(r.Validity) && r.Validity[i] {
			c = validColor
		}
		x, y := toPixel(v)
		drawCircle(img, x, y, r.DotRadius, c)
	}

	if r.Landmarks != nil {
		r.Landmarks.Each(func(l *Landmark) bool {
			p, err := l.Evaluate(r.Mesh)
			if err != nil {
				return true
			}
			x, y := toPixel(p)
			drawSquare(img, x, y, 2*r.DotRadius+3, labelColor)
			drawText(img, x+r.DotRadius+3, y-r.DotRadius-1, fmt.Sprintf("%d", l.ID), labelColor)
			return true
		})
	}

	if len(r.Validity) > 0 {
		invalid := 0
		for _, ok := range r.Validity {
			if !ok {
				invalid++
			}
		}
		drawText(img, 5, 15, fmt.Sprintf("%s: %d/%d invalid", r.Mesh.Name, invalid, len(r.Validity)), labelColor)
	}
	return img
}

// SavePNG renders and writes the preview to path
func (r *ValidityRenderer) SavePNG(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating preview file: %w", err)
	}
	if err := png.Encode(f, r.Render()); err != nil {
		_ = f.Close()
		return fmt.Errorf("encoding preview PNG: %w", err)
	}
	return f.Close()
}

// drawCircle draws a filled circle
func drawCircle(img *image.RGBA, cx, cy, radius int, c color.RGBA) {
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx*dx+dy*dy <= radius*radius {
				x, y := cx+dx, cy+dy
				if x >= 0 && x < img.Bounds().Max.X && y >= 0 && y < img.Bounds().Max.Y {
					img.Set(x, y, c)
				}
			}
		}
	}
}

// drawSquare draws a square outline
func drawSquare(img *image.RGBA, cx, cy, size int, c color.RGBA) {
	half := size / 2
	for d := -half; d <= half; d++ {
		for _, p := range [][2]int{{cx + d, cy - half}, {cx + d, cy + half}, {cx - half, cy + d}, {cx + half, cy + d}} {
			if p[0] >= 0 && p[0] < img.Bounds().Max.X && p[1] >= 0 && p[1] < img.Bounds().Max.Y {
				img.Set(p[0], p[1], c)
			}
		}
	}
}

func drawText(img *image.RGBA, x, y int, text string, c color.RGBA) {
	face := basicfont.Face7x13
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}
