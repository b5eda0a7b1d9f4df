// Package gocvcam binds the vision interfaces to OpenCV: frame capture from
// a camera, file or stream URL, and a Haar cascade plate detector.
package gocvcam

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/crimson-sun/platewatch/internal/model"
	"github.com/crimson-sun/platewatch/internal/vision"
)

// Camera reads frames from an OpenCV video capture. Device is a camera
// index ("0"), a file path or a stream URL.
type Camera struct {
	mu      sync.Mutex
	device  string
	capture *gocv.VideoCapture
	mat     gocv.Mat
	seq     uint64
	now     func() time.Time
}

// OpenCamera opens device for reading.
func OpenCamera(device string) (*Camera, error) {
	capture, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, fmt.Errorf("gocvcam: open %s: %w", device, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("gocvcam: open %s: capture not opened", device)
	}
	return &Camera{
		device:  device,
		capture: capture,
		mat:     gocv.NewMat(),
		now:     time.Now,
	}, nil
}

// Read grabs and decodes the next frame. A failed grab is reported as
// vision.ErrEndOfStream.
func (c *Camera) Read(ctx context.Context) (model.Frame, error) {
	if err := ctx.Err(); err != nil {
		return model.Frame{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.capture.Read(&c.mat) {
		return model.Frame{}, vision.ErrEndOfStream
	}
	if c.mat.Empty() {
		return model.Frame{}, fmt.Errorf("gocvcam: %s: empty frame", c.device)
	}

	img, err := c.mat.ToImage()
	if err != nil {
		return model.Frame{}, fmt.Errorf("gocvcam: decode frame: %w", err)
	}
	c.seq++
	return model.Frame{Seq: c.seq, Timestamp: c.now(), Image: img}, nil
}

// Close releases the capture device.
func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mat.Close()
	return c.capture.Close()
}
