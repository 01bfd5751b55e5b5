package lunarlander

import (
	"fmt"
	"image"
	"image/color"
	"io"

	"github.com/ByteArena/box2d"
	"github.com/fogleman/gg"
)

var (
	skyColour      = color.RGBA{R: 30, G: 30, B: 30, A: 255}
	moonColour     = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	boundaryColour = color.RGBA{R: 255, G: 166, B: 0, A: 255}
	landerColour   = color.RGBA{R: 128, G: 102, B: 230, A: 255}
)

// toPixels converts world coordinates to image coordinates
func toPixels(x, y float64) (float64, float64) {
	return Scale * x, ViewportH - Scale*y
}

// Render draws the current frame as a ViewportW × ViewportH image
func (l *lander) Render() (image.Image, error) {
	if l.body == nil {
		return nil, fmt.Errorf("render: environment has not been reset")
	}
	dc := gg.NewContext(int(ViewportW), int(ViewportH))
	dc.SetColor(skyColour)
	dc.Clear()

	// Moon, filled down to the bottom of the viewport
	x, y := toPixels(l.moonVertices[0][0], 0)
	dc.MoveTo(x, y)
	for _, v := range l.moonVertices {
		dc.LineTo(toPixels(v[0], v[1]))
	}
	last := l.moonVertices[len(l.moonVertices)-1]
	dc.LineTo(toPixels(last[0], 0))
	dc.ClosePath()
	dc.SetColor(moonColour)
	dc.Fill()

	dc.SetColor(boundaryColour)
	dc.SetLineWidth(5)
	for _, b := range l.boundary {
		edge := b.GetFixtureList().M_shape.(*box2d.B2EdgeShape)
		x1, y1 := toPixels(edge.M_vertex1.X, edge.M_vertex1.Y)
		x2, y2 := toPixels(edge.M_vertex2.X, edge.M_vertex2.Y)
		dc.DrawLine(x1, y1, x2, y2)
	}
	dc.Stroke()

	dc.SetColor(landerColour)
	for _, body := range append([]*box2d.B2Body{l.body}, l.legs...) {
		for fix := body.GetFixtureList(); fix != nil; fix = fix.M_next {
			drawPolygon(dc, body, fix.M_shape.(*box2d.B2PolygonShape))
		}
	}
	return dc.Image(), nil
}

func drawPolygon(dc *gg.Context, body *box2d.B2Body,
	shape *box2d.B2PolygonShape) {
	dc.NewSubPath()
	for i := 0; i < shape.M_count; i++ {
		v := box2d.B2TransformVec2Mul(body.M_xf, shape.M_vertices[i])
		dc.LineTo(toPixels(v.X, v.Y))
	}
	dc.ClosePath()
	dc.Fill()
}

// RenderPNG writes the current frame to w as a PNG
func (l *lander) RenderPNG(w io.Writer) error {
	img, err := l.Render()
	if err != nil {
		return err
	}
	dc := gg.NewContextForImage(img)
	if err := dc.EncodePNG(w); err != nil {
		return fmt.Errorf("renderPNG: %w", err)
	}
	return nil
}
