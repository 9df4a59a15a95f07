package canvas

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"strings"
	"sync"

	"github.com/gogpu/gg"
	"github.com/gogpu/gg/text"
	"golang.org/x/image/font/gofont/goregular"
)

var (
	fontOnce   sync.Once
	fontSource *text.FontSource
	fontErr    error
)

func loadFont() (*text.FontSource, error) {
	fontOnce.Do(func() {
		fontSource, fontErr = text.NewFontSource(goregular.TTF)
	})
	return fontSource, fontErr
}

// surface is the mutable bitmap a session draws on.
type surface struct {
	width, height int
	pm            *gg.Pixmap
	dc            *gg.Context

	// scratch holds eraser coverage for one segment.
	scratch   *gg.Pixmap
	scratchDC *gg.Context
}

func newSurface(width, height int) *surface {
	pm := gg.NewPixmap(width, height)
	scratch := gg.NewPixmap(width, height)
	s := &surface{
		width:     width,
		height:    height,
		pm:        pm,
		dc:        gg.NewContext(width, height, gg.WithPixmap(pm)),
		scratch:   scratch,
		scratchDC: gg.NewContext(width, height, gg.WithPixmap(scratch)),
	}
	for _, dc := range []*gg.Context{s.dc, s.scratchDC} {
		dc.SetLineCap(gg.LineCapRound)
		dc.SetLineJoin(gg.LineJoinRound)
	}
	return s
}

func (s *surface) strokeSegment(from, to image.Point, width int, c color.Color) error {
	s.dc.SetLineWidth(float64(width))
	s.dc.SetColor(c)
	s.dc.DrawLine(float64(from.X), float64(from.Y), float64(to.X), float64(to.Y))
	return s.dc.Stroke()
}

// eraseSegment removes paint under the segment, scaling every destination
// channel by one minus the stroke coverage.
func (s *surface) eraseSegment(from, to image.Point, width int) error {
	s.scratch.Clear(gg.Transparent)
	s.scratchDC.SetLineWidth(float64(width))
	s.scratchDC.SetColor(color.Black)
	s.scratchDC.DrawLine(float64(from.X), float64(from.Y), float64(to.X), float64(to.Y))
	if err := s.scratchDC.Stroke(); err != nil {
		return err
	}

	pad := width/2 + 2
	r := image.Rect(from.X, from.Y, to.X, to.Y).Canon().Inset(-pad).Intersect(image.Rect(0, 0, s.width, s.height))
	dst := s.pm.Data()
	cov := s.scratch.Data()
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			i := (y*s.width + x) * 4
			a := cov[i+3]
			if a == 0 {
				continue
			}
			keep := 255 - uint32(a)
			for k := 0; k < 4; k++ {
				dst[i+k] = uint8(uint32(dst[i+k]) * keep / 255)
			}
		}
	}
	return nil
}

func (s *surface) fill(c color.Color) {
	s.dc.ClearWithColor(gg.FromColor(c))
}

// drawText renders one line per newline, the first with its top at origin.
func (s *surface) drawText(origin image.Point, body string, size int, c color.Color) error {
	src, err := loadFont()
	if err != nil {
		return fmt.Errorf("load font: %w", err)
	}
	face := src.Face(float64(size * 3))
	s.dc.SetFont(face)
	s.dc.SetColor(c)

	ascent := face.Metrics().Ascent
	for i, line := range strings.Split(body, "\n") {
		y := float64(origin.Y) + float64(i*size*4) + ascent
		s.dc.DrawString(line, float64(origin.X), y)
	}
	return nil
}

// fitRect scales a w x h image to fit inside the surface without upscaling
// and centers it.
func fitRect(w, h, boundW, boundH int) image.Rectangle {
	scale := math.Min(math.Min(float64(boundW)/float64(w), float64(boundH)/float64(h)), 1)
	dw := int(math.Round(float64(w) * scale))
	dh := int(math.Round(float64(h) * scale))
	if dw < 1 {
		dw = 1
	}
	if dh < 1 {
		dh = 1
	}
	x := (boundW - dw) / 2
	y := (boundH - dh) / 2
	return image.Rect(x, y, x+dw, y+dh)
}

// drawImage composites img centered and scaled to fit, returning the
// destination rectangle.
func (s *surface) drawImage(img image.Image) image.Rectangle {
	b := img.Bounds()
	dst := fitRect(b.Dx(), b.Dy(), s.width, s.height)
	s.dc.DrawImageEx(gg.ImageBufFromImage(img), gg.DrawImageOptions{
		X:             float64(dst.Min.X),
		Y:             float64(dst.Min.Y),
		DstWidth:      float64(dst.Dx()),
		DstHeight:     float64(dst.Dy()),
		Interpolation: gg.InterpBilinear,
	})
	return dst
}

// snapshot copies the raw pixel buffer.
func (s *surface) snapshot() []byte {
	data := s.pm.Data()
	out := make([]byte, len(data))
	copy(out, data)
	return out
}

func (s *surface) restore(buf []byte) {
	copy(s.pm.Data(), buf)
}

// load draws img unscaled at the origin, replacing the surface contents.
func (s *surface) load(img image.Image) {
	dst := image.NewRGBA(image.Rect(0, 0, s.width, s.height))
	draw.Draw(dst, dst.Bounds(), img, img.Bounds().Min, draw.Src)
	copy(s.pm.Data(), dst.Pix)
}

func (s *surface) image() *image.RGBA {
	return s.pm.ToImage()
}
