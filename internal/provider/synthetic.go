package provider

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
)

const syntheticSize = 1024

// Synthetic renders deterministic placeholder portraits. Used in development
// and test environments where no provider credentials are configured; the same
// request always produces the same bytes.
type Synthetic struct{}

func NewSynthetic() *Synthetic {
	return &Synthetic{}
}

var _ Generator = (*Synthetic)(nil)

func (s *Synthetic) Generate(ctx context.Context, req Request) ([]Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	variations := req.Variations
	if variations <= 0 {
		variations = 1
	}
	images := make([]Image, 0, variations)
	for i := 0; i < variations; i++ {
		seed := syntheticSeed(req, i)
		images = append(images, Image{Data: renderSynthetic(seed), MIME: "image/png"})
	}
	return images, nil
}

func syntheticSeed(req Request, index int) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%s|%s|%d", req.Model, req.Prompt, req.StyleSettings, index))
	return hex.EncodeToString(sum[:6])
}

func renderSynthetic(seed string) []byte {
	img := image.NewRGBA(image.Rect(0, 0, syntheticSize, syntheticSize))
	base := colorFromSeed(seed, 0)
	accent := colorFromSeed(seed, 1)
	draw.Draw(img, img.Bounds(), &image.Uniform{base}, image.Point{}, draw.Src)

	stripeHeight := syntheticSize / 12
	for y := 0; y < syntheticSize; y += stripeHeight * 2 {
		bottom := y + stripeHeight
		if bottom > syntheticSize {
			bottom = syntheticSize
		}
		stripe := image.Rect(0, y, syntheticSize, bottom)
		draw.Draw(img, stripe, &image.Uniform{accent}, image.Point{}, draw.Over)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil
	}
	return buf.Bytes()
}

func colorFromSeed(seed string, shift int) color.RGBA {
	raw, err := hex.DecodeString(seed)
	if err != nil || len(raw) < 3 {
		raw = []byte{0x80, 0x80, 0x80}
	}
	pick := func(i int) uint8 {
		return raw[(shift*3+i)%len(raw)]
	}
	return color.RGBA{R: pick(0), G: pick(1), B: pick(2), A: 0xFF}
}
