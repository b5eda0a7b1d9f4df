package model

import (
	"image"
	"time"
)

// Frame is a decoded video frame handed from the capture goroutine to the
// pipeline.
type Frame struct {
	Seq       uint64
	Timestamp time.Time
	Image     image.Image
}

// Region is a candidate plate rectangle reported by a detector, in frame
// pixel coordinates.
type Region struct {
	Bounds     image.Rectangle
	Confidence float64
}
