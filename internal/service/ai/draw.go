package ai

import (
	"fmt"
	"image"
	"image/color"

	"diginetra/internal/framebus"

	"gocv.io/x/gocv"
)

const boxThickness = 2

// Color returns the stroke color used when drawing a category.
func (c Category) Color() color.RGBA {
	switch c {
	case Human:
		return color.RGBA{G: 255}
	case Vehicle:
		return color.RGBA{R: 255}
	case Animal:
		return color.RGBA{B: 255}
	}
	return color.RGBA{R: 255, G: 255, B: 255}
}

// Annotate draws boxes onto a copy of the frame and returns it JPEG-encoded
// at the given quality. The frame itself is never modified.
func Annotate(f framebus.Frame, boxes []Box, quality int) ([]byte, error) {
	src, err := FrameToMat(f)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	mat := src.Clone()
	defer mat.Close()

	for _, box := range boxes {
		c := box.Category.Color()
		if err := gocv.Rectangle(&mat, box.Rect(), c, boxThickness); err != nil {
			return nil, fmt.Errorf("failed to draw rectangle: %w", err)
		}

		label := fmt.Sprintf("%s: %.2f", box.Category, box.Confidence)
		pt := image.Pt(box.X, max(box.Y-5, 12))
		if err := gocv.PutText(&mat, label, pt, gocv.FontHersheySimplex, 0.5, c, boxThickness); err != nil {
			return nil, fmt.Errorf("failed to draw text: %w", err)
		}
	}

	if quality <= 0 || quality > 100 {
		quality = 80
	}
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, mat, []int{gocv.IMWriteJpegQuality, quality})
	if err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	defer buf.Close()

	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}
