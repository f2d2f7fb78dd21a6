package mesh

import (
	"fmt"
	"image/color"
	"image/png"
	"io"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/simplify"
	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
	"gonum.org/v1/gonum/spatial/r3"
)

// nrgbaToRGBA converts color.NRGBA to color.RGBA by premultiplying alpha
// This is needed for the canvas library which expects premultiplied RGBA
func nrgbaToRGBA(c color.NRGBA) color.RGBA {
	if c.A == 0 {
		return color.RGBA{0, 0, 0, 0}
	}
	if c.A == 255 {
		return color.RGBA{c.R, c.G, c.B, 255}
	}
	alpha32 := uint32(c.A)
	return color.RGBA{
		R: uint8((uint32(c.R) * alpha32) / 255),
		G: uint8((uint32(c.G) * alpha32) / 255),
		B: uint8((uint32(c.B) * alpha32) / 255),
		A: c.A,
	}
}

// VectorRenderer draws a Scene as two orthographic panels side by side:
// source on the left, target on the right, with link lines across.
type VectorRenderer struct {
	Scene      *Scene
	Colors     []MeshColor
	Axis       Axis
	PanelSize  float64 // larger panel extent in canvas units (mm)
	Padding    float64
	Gap        float64 // space between the panels
	Resolution canvas.Resolution
	// SeamTolerance is the Douglas-Peucker tolerance for seam polylines, as a
	// fraction of the panel extent
	SeamTolerance float64
}

// NewVectorRenderer creates a vector renderer with default settings
func NewVectorRenderer(scene *Scene) *VectorRenderer {
	return &VectorRenderer{
		Scene:         scene,
		Colors:        DefaultColors(),
		Axis:          AxisZ,
		PanelSize:     200,
		Padding:       10,
		Gap:           20,
		Resolution:    canvas.DPI(300),
		SeamTolerance: 0.002,
	}
}

// canvasRenderer is an interface that both svg and rasterizer renderers implement
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

// panel maps one mesh's view-plane points into its area of the canvas
type panel struct {
	bound   orb.Bound
	scale   float64
	offsetX float64
	padding float64
}

func (p panel) toCanvas(q orb.Point) (float64, float64) {
	return (q[0]-p.bound.Min[0])*p.scale + p.offsetX, (q[1]-p.bound.Min[1])*p.scale + p.padding
}

func (p panel) size() (float64, float64) {
	return (p.bound.Max[0] - p.bound.Min[0]) * p.scale, (p.bound.Max[1] - p.bound.Min[1]) * p.scale
}

// layout fits both meshes with a common scale so that the larger extent
// among them spans PanelSize.
func (r *VectorRenderer) layout() (src, tgt *panel, width, height float64, err error) {
	if r.Scene == nil || r.Scene.Source == nil {
		return nil, nil, 0, 0, fmt.Errorf("no scene to render")
	}
	sb := viewBound(r.Scene.Source.Vertices, r.Axis)
	extent := math.Max(sb.Max[0]-sb.Min[0], sb.Max[1]-sb.Min[1])
	var tb orb.Bound
	if r.Scene.Target != nil {
		tb = viewBound(r.Scene.Target.Vertices, r.Axis)
		extent = math.Max(extent, math.Max(tb.Max[0]-tb.Min[0], tb.Max[1]-tb.Min[1]))
	}
	if extent == 0 {
		extent = 1
	}
	scale := r.PanelSize / extent

	src = &panel{bound: sb, scale: scale, offsetX: r.Padding, padding: r.Padding}
	sw, sh := src.size()
	width, height = sw+2*r.Padding, sh+2*r.Padding
	if r.Scene.Target != nil {
		tgt = &panel{bound: tb, scale: scale, offsetX: r.Padding + sw + r.Gap, padding: r.Padding}
		tw, th := tgt.size()
		width += r.Gap + tw
		height = math.Max(height, th+2*r.Padding)
	}
	return src, tgt, width, height, nil
}

// RenderToSVG writes the scene as an SVG to the provided writer
func (r *VectorRenderer) RenderToSVG(w io.Writer) error {
	src, tgt, width, height, err := r.layout()
	if err != nil {
		return err
	}

	svgRenderer := svg.New(w, width, height, nil)
	r.renderToCanvas(svgRenderer, src, tgt, width, height)
	return svgRenderer.Close()
}

// RenderToPNG writes the scene as a PNG to the provided writer
func (r *VectorRenderer) RenderToPNG(w io.Writer) error {
	src, tgt, width, height, err := r.layout()
	if err != nil {
		return err
	}

	rast := rasterizer.New(width, height, r.Resolution, canvas.DefaultColorSpace)
	r.renderToCanvas(rast, src, tgt, width, height)

	// Rasterizer implements draw.Image interface, which embeds image.Image
	return png.Encode(w, rast)
}

func (r *VectorRenderer) renderToCanvas(renderer canvasRenderer, src, tgt *panel, width, height float64) {
	bgStyle := canvas.DefaultStyle
	bgStyle.Fill = canvas.Paint{Color: canvas.White}
	renderer.RenderPath(canvas.Rectangle(width, height), bgStyle, canvas.Identity)

	scene := r.Scene
	r.renderWireframe(renderer, scene.Source, src, r.color(0))
	if tgt != nil {
		r.renderWireframe(renderer, scene.Target, tgt, r.color(1))
	}

	for _, s := range scene.Seams {
		r.renderSeam(renderer, s.SourcePath, src, r.color(0))
		if tgt != nil {
			r.renderSeam(renderer, s.TargetPath, tgt, r.color(1))
		}
	}

	if scene.Linker == nil {
		return
	}
	if tgt != nil && scene.Linker.Target != nil {
		linkStyle := canvas.DefaultStyle
		linkStyle.Fill = canvas.Paint{Color: canvas.Transparent}
		linkStyle.Stroke = canvas.Paint{Color: canvas.Gray}
		linkStyle.StrokeWidth = 0.3
		linkStyle.Dashes = []float64{2.0, 2.0}
		for _, p := range scene.Linker.Pairs() {
			x1, y1 := src.toCanvas(viewPoint(landmarkPosition(p.Source, scene.Source), r.Axis))
			x2, y2 := tgt.toCanvas(viewPoint(landmarkPosition(p.Target, scene.Target), r.Axis))
			lp := &canvas.Path{}
			lp.MoveTo(x1, y1)
			lp.LineTo(x2, y2)
			renderer.RenderPath(lp, linkStyle, canvas.Identity)
		}
	}

	r.renderLandmarks(renderer, scene.Linker.Source, scene.Source, src, r.color(0))
	if tgt != nil && scene.Linker.Target != nil {
		r.renderLandmarks(renderer, scene.Linker.Target, scene.Target, tgt, r.color(1))
	}
}

func (r *VectorRenderer) color(i int) MeshColor {
	if len(r.Colors) == 0 {
		return DefaultColors()[i%2]
	}
	return r.Colors[i%len(r.Colors)]
}

func (r *VectorRenderer) renderWireframe(renderer canvasRenderer, m *TriMesh, p *panel, mc MeshColor) {
	wireStyle := canvas.DefaultStyle
	wireStyle.Fill = canvas.Paint{Color: canvas.Transparent}
	wireStyle.Stroke = canvas.Paint{Color: nrgbaToRGBA(mc.Wire)}
	wireStyle.StrokeWidth = 0.2

	cp := &canvas.Path{}
	for _, e := range m.Edges() {
		x1, y1 := p.toCanvas(viewPoint(m.Vertices[e.A], r.Axis))
		x2, y2 := p.toCanvas(viewPoint(m.Vertices[e.B], r.Axis))
		cp.MoveTo(x1, y1)
		cp.LineTo(x2, y2)
	}
	renderer.RenderPath(cp, wireStyle, canvas.Identity)
}

// renderSeam draws a seam path simplified in the view plane
func (r *VectorRenderer) renderSeam(renderer canvasRenderer, path []r3.Vec, p *panel, mc MeshColor) {
	if len(path) < 2 {
		return
	}
	ls := make(orb.LineString, len(path))
	for i, q := range path {
		ls[i] = viewPoint(q, r.Axis)
	}
	extent := math.Max(p.bound.Max[0]-p.bound.Min[0], p.bound.Max[1]-p.bound.Min[1])
	if tol := r.SeamTolerance * extent; tol > 0 {
		if simplified, ok := simplify.DouglasPeucker(tol).Simplify(ls.Clone()).(orb.LineString); ok && len(simplified) >= 2 {
			ls = simplified
		}
	}

	seamStyle := canvas.DefaultStyle
	seamStyle.Fill = canvas.Paint{Color: canvas.Transparent}
	seamStyle.Stroke = canvas.Paint{Color: nrgbaToRGBA(mc.Seam)}
	seamStyle.StrokeWidth = 0.8

	cp := &canvas.Path{}
	for i, q := range ls {
		x, y := p.toCanvas(q)
		if i == 0 {
			cp.MoveTo(x, y)
		} else {
			cp.LineTo(x, y)
		}
	}
	renderer.RenderPath(cp, seamStyle, canvas.Identity)
}

func (r *VectorRenderer) renderLandmarks(renderer canvasRenderer, store *LandmarkStore, m *TriMesh, p *panel, mc MeshColor) {
	radius := r.PanelSize / 100
	store.Each(func(l *Landmark) bool {
		c := mc.Landmark
		if l.IsLinked {
			c = mc.Linked
		}
		style := canvas.DefaultStyle
		style.Fill = canvas.Paint{Color: nrgbaToRGBA(c)}
		style.Stroke = canvas.Paint{Color: canvas.Black}
		style.StrokeWidth = 0.2

		x, y := p.toCanvas(viewPoint(landmarkPosition(l, m), r.Axis))
		renderer.RenderPath(canvas.Circle(radius).Translate(x, y), style, canvas.Identity)
		return true
	})
}

// landmarkPosition evaluates l on m, which shares topology with l's mesh,
// falling back to the cached position. Rendering never writes the cache.
func landmarkPosition(l *Landmark, m *TriMesh) r3.Vec {
	if m != nil {
		if p, err := l.Evaluate(m); err == nil {
			return p
		}
	}
	return l.CachedPosition
}
