// Package composer tiles the images returned by one txt2img batch into a
// single 2x2 still image.
package composer

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/anthonynsimon/bild/imgio"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// Columns is the width of the tile grid
const Columns = 2

// JPEGQuality is the quality of the default encoder
const JPEGQuality = 100

// ErrNoImages is returned when there is nothing to compose
var ErrNoImages = errors.New("no images to compose")

// Composer decodes encoded images, tiles them and encodes the result
type Composer struct {
	encode imgio.Encoder
}

// New creates a composer that writes the tiled canvas with encoder
func New(encoder imgio.Encoder) *Composer {
	return &Composer{encode: encoder}
}

// NewJPEG creates a composer producing JPEG at JPEGQuality
func NewJPEG() *Composer {
	return New(imgio.JPEGEncoder(JPEGQuality))
}

var defaultComposer = NewJPEG()

// Compose tiles images with the default JPEG composer
func Compose(images [][]byte) ([]byte, error) {
	return defaultComposer.Compose(images)
}

// Compose decodes every input, places image i at
// ((i%Columns)*w, (i/Columns)*h) on a canvas twice the size of the first
// image and returns the encoded canvas. Quadrants without an image stay
// transparent; anything beyond the canvas is clipped.
func (c *Composer) Compose(images [][]byte) ([]byte, error) {
	if len(images) == 0 {
		return nil, ErrNoImages
	}

	decoded := make([]image.Image, 0, len(images))
	for i, data := range images {
		img, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to decode image %d: %w", i, err)
		}
		decoded = append(decoded, img)
	}

	canvas := Tile(decoded)

	var buf bytes.Buffer
	if err := c.encode(&buf, canvas); err != nil {
		return nil, fmt.Errorf("failed to encode composite: %w", err)
	}

	return buf.Bytes(), nil
}

// Tile draws decoded images onto a new RGBA canvas sized from the first one.
// Each image keeps its own size and is never rescaled.
func Tile(images []image.Image) *image.RGBA {
	if len(images) == 0 {
		return image.NewRGBA(image.Rectangle{})
	}

	first := images[0].Bounds()
	canvas := image.NewRGBA(image.Rect(0, 0, Columns*first.Dx(), Columns*first.Dy()))

	for i, img := range images {
		b := img.Bounds()
		x := (i % Columns) * b.Dx()
		y := (i / Columns) * b.Dy()
		dst := image.Rect(x, y, x+b.Dx(), y+b.Dy())
		draw.Draw(canvas, dst, img, b.Min, draw.Over)
	}

	return canvas
}
