package cover

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
)

const jpegQuality = 90

var ErrNoArtwork = errors.New("no artwork to compose")

func decode(b []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(b))
	if nil != err {
		return nil, fmt.Errorf("failed to decode image: %v", err)
	}

	return img, nil
}

func encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); nil != err {
		return nil, fmt.Errorf("failed to encode image: %v", err)
	}

	return buf.Bytes(), nil
}

// Fit scales an image down to fit within size x size, keeping its aspect
// ratio, and re-encodes it as JPEG.
func Fit(b []byte, size int) ([]byte, error) {
	img, err := decode(b)
	if nil != err {
		return nil, err
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width > size || height > size {
		if width >= height {
			height = max(1, height*size/width)
			width = size
		} else {
			width = max(1, width*size/height)
			height = size
		}
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)

	return encode(dst)
}

// Grid composes up to four covers into one size x size mosaic. One cover
// fills the whole square; with more, the 2x2 cells are filled in order and
// empty cells repeat covers from the start.
func Grid(covers [][]byte, size int) ([]byte, error) {
	if len(covers) == 0 {
		return nil, ErrNoArtwork
	}
	covers = covers[:min(len(covers), 4)]

	imgs := make([]image.Image, 0, len(covers))
	for i, b := range covers {
		img, err := decode(b)
		if nil != err {
			return nil, fmt.Errorf("cover %d: %w", i, err)
		}
		imgs = append(imgs, img)
	}

	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	if len(imgs) == 1 {
		drawSquare(dst, dst.Bounds(), imgs[0])
		return encode(dst)
	}

	half := size / 2
	cells := []image.Rectangle{
		image.Rect(0, 0, half, half),
		image.Rect(half, 0, size, half),
		image.Rect(0, half, half, size),
		image.Rect(half, half, size, size),
	}
	order := cellOrder(len(imgs))
	for i, cell := range cells {
		drawSquare(dst, cell, imgs[order[i]])
	}

	return encode(dst)
}

// cellOrder keeps two covers on a diagonal so that neither is adjacent to a
// copy of itself.
func cellOrder(n int) [4]int {
	switch n {
	case 2:
		return [4]int{0, 1, 1, 0}
	case 3:
		return [4]int{0, 1, 2, 0}
	default:
		return [4]int{0, 1, 2, 3}
	}
}

// drawSquare center-crops src to a square and scales it into r.
func drawSquare(dst draw.Image, r image.Rectangle, src image.Image) {
	b := src.Bounds()
	side := min(b.Dx(), b.Dy())
	crop := image.Rect(0, 0, side, side).Add(image.Pt(
		b.Min.X+(b.Dx()-side)/2,
		b.Min.Y+(b.Dy()-side)/2,
	))
	draw.CatmullRom.Scale(dst, r, src, crop, draw.Src, nil)
}
