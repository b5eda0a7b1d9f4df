// Package vision defines the narrow interfaces the pipeline consumes from
// the external engines (frame source, plate-region detector, OCR) and a
// registry of detector implementations.
package vision

import (
	"context"
	"errors"
	"image"
	"image/draw"

	"github.com/crimson-sun/platewatch/internal/model"
)

// ErrEndOfStream is returned by Source.Read when a finite source (a video
// file) has no more frames.
var ErrEndOfStream = errors.New("vision: end of stream")

// Source produces decoded frames.
type Source interface {
	Read(ctx context.Context) (model.Frame, error)
	Close() error
}

// Detector finds candidate plate regions in a frame.
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]model.Region, error)
	Close() error
}

// Recognizer reads the text of a cropped plate region.
type Recognizer interface {
	Recognize(ctx context.Context, img image.Image) (string, error)
	Close() error
}

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

// Crop returns the part of img inside r, clipped to the image bounds. The
// result shares pixels with img when the image type supports it. An empty
// intersection yields nil.
func Crop(img image.Image, r image.Rectangle) image.Image {
	r = r.Intersect(img.Bounds())
	if r.Empty() {
		return nil
	}
	if si, ok := img.(subImager); ok {
		return si.SubImage(r)
	}
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), img, r.Min, draw.Src)
	return dst
}
