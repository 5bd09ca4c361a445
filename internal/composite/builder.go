package composite

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"log/slog"

	"github.com/google/uuid"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Layout constants for the reference grid. The crop fraction keeps the inner
// region of each photo, which is where the subject sits in a selfie.
const (
	tileSize     = 512
	cropFraction = 0.8
	gridColumns  = 2
	margin       = 24
	labelBand    = 48
)

// SourceImage is one decoded reference input.
type SourceImage struct {
	Data []byte
	MIME string
}

// Composite is the single reference bundle handed to the provider call.
type Composite struct {
	Data       []byte
	MIME       string
	Annotation string
}

// Builder assembles raw reference images into a provider-ready composite.
type Builder struct {
	log *slog.Logger
}

func NewBuilder(log *slog.Logger) *Builder {
	if log == nil {
		log = slog.Default()
	}
	return &Builder{log: log}
}

// Build returns the reference bundle for a generation. A single input passes
// through untouched; multiple inputs become one labeled grid image. A
// per-input processing failure degrades that tile instead of aborting the
// whole composite; Build only fails when no input is usable at all.
func (b *Builder) Build(ctx context.Context, generationID uuid.UUID, title string, inputs []SourceImage) (*Composite, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(inputs) == 0 {
		return nil, errors.New("composite: no reference images")
	}

	if len(inputs) == 1 {
		return &Composite{
			Data: inputs[0].Data,
			MIME: inputs[0].MIME,
			Annotation: "Single reference photo of the subject. Use it as the sole identity " +
				"reference; preserve facial structure, skin tone and hair exactly.",
		}, nil
	}

	rows := (len(inputs) + gridColumns - 1) / gridColumns
	width := margin + gridColumns*(tileSize+margin)
	height := labelBand + margin + rows*(tileSize+margin)

	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	xdraw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.White), image.Point{}, xdraw.Src)
	drawTitle(canvas, title)

	usable := 0
	for i, in := range inputs {
		tile, degraded := b.renderTile(in)
		if tile == nil {
			b.log.Warn("reference image unusable, rendering placeholder tile",
				"generation_id", generationID, "index", i)
			tile = placeholderTile()
		} else {
			usable++
			if degraded {
				b.log.Warn("reference crop failed, used plain resize",
					"generation_id", generationID, "index", i)
			}
		}

		col := i % gridColumns
		row := i / gridColumns
		x := margin + col*(tileSize+margin)
		y := labelBand + margin + row*(tileSize+margin)
		xdraw.Draw(canvas, image.Rect(x, y, x+tileSize, y+tileSize), tile, image.Point{}, xdraw.Src)
	}
	if usable == 0 {
		return nil, fmt.Errorf("composite: none of the %d reference images could be decoded", len(inputs))
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, canvas); err != nil {
		return nil, fmt.Errorf("composite: encode grid: %w", err)
	}

	annotation := fmt.Sprintf(
		"Composite reference sheet %q: %d photos of the same subject arranged in a %d-column grid. "+
			"Every tile shows the same person; use all tiles together as the identity reference.",
		title, len(inputs), gridColumns)

	return &Composite{Data: buf.Bytes(), MIME: "image/png", Annotation: annotation}, nil
}

// renderTile produces a tileSize square for one input. Returns nil when the
// bytes cannot be decoded; degraded is true when the crop step failed and the
// tile is a plain resize of the full frame.
func (b *Builder) renderTile(in SourceImage) (img *image.RGBA, degraded bool) {
	src, _, err := image.Decode(bytes.NewReader(in.Data))
	if err != nil {
		return nil, false
	}
	cropped, err := centerCrop(src)
	if err != nil {
		return scaleTo(src, tileSize), true
	}
	return scaleTo(cropped, tileSize), false
}

// centerCrop keeps a centered square sized to cropFraction of the shorter
// dimension.
func centerCrop(src image.Image) (image.Image, error) {
	b := src.Bounds()
	short := b.Dx()
	if b.Dy() < short {
		short = b.Dy()
	}
	side := int(float64(short) * cropFraction)
	if side <= 0 {
		return nil, fmt.Errorf("image too small to crop: %dx%d", b.Dx(), b.Dy())
	}
	x0 := b.Min.X + (b.Dx()-side)/2
	y0 := b.Min.Y + (b.Dy()-side)/2
	out := image.NewRGBA(image.Rect(0, 0, side, side))
	xdraw.Draw(out, out.Bounds(), src, image.Pt(x0, y0), xdraw.Src)
	return out, nil
}

func scaleTo(src image.Image, size int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)
	return dst
}

func placeholderTile() *image.RGBA {
	tile := image.NewRGBA(image.Rect(0, 0, tileSize, tileSize))
	xdraw.Draw(tile, tile.Bounds(), image.NewUniform(color.RGBA{R: 0xdd, G: 0xdd, B: 0xdd, A: 0xff}), image.Point{}, xdraw.Src)
	return tile
}

func drawTitle(dst *image.RGBA, title string) {
	if title == "" {
		title = "Reference photos"
	}
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(color.RGBA{R: 0x28, G: 0x28, B: 0x28, A: 0xff}),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(margin, labelBand/2+6),
	}
	d.DrawString(title)
}
