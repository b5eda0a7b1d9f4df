// Package onnxdetect finds plate regions with a YOLO-style ONNX model
// exported with a single [1, 4+classes, candidates] output.
package onnxdetect

import (
	"context"
	"fmt"
	"image"
	"sort"
	"sync"

	"github.com/crimson-sun/platewatch/internal/model"
	"github.com/crimson-sun/platewatch/internal/vision"
)

const (
	defaultInputSize = 640
	defaultThreshold = 0.5
	nmsIoU           = 0.45
)

func init() {
	vision.RegisterDetector("onnx", func(cfg vision.DetectorConfig) (vision.Detector, error) {
		d, err := New(cfg)
		if err != nil {
			return nil, err
		}
		return d, nil
	})
}

// Detector runs the model on a resized copy of each frame.
type Detector struct {
	mu        sync.Mutex
	sess      *session
	threshold float64
}

// New loads the model at cfg.ModelPath.
func New(cfg vision.DetectorConfig) (*Detector, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("onnxdetect: model path is required")
	}
	sess, err := newSession(cfg.ModelPath, cfg.LibraryPath)
	if err != nil {
		return nil, err
	}
	if cfg.InputSize > 0 && int64(cfg.InputSize) != sess.inputSize {
		sess.close()
		return nil, fmt.Errorf("onnxdetect: model input is %d, configured %d", sess.inputSize, cfg.InputSize)
	}
	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = defaultThreshold
	}
	return &Detector{sess: sess, threshold: threshold}, nil
}

// Detect returns the regions scoring at least the threshold after
// non-maximum suppression, highest confidence first.
func (d *Detector) Detect(ctx context.Context, img image.Image) ([]model.Region, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	size := int(d.sess.inputSize)
	input := toTensor(img, size)

	d.mu.Lock()
	data, attrs, n, err := d.sess.infer(input)
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}

	b := img.Bounds()
	sx := float64(b.Dx()) / float64(size)
	sy := float64(b.Dy()) / float64(size)
	boxes := decode(data, attrs, n, d.threshold)
	boxes = suppress(boxes, nmsIoU)

	regions := make([]model.Region, 0, len(boxes))
	for _, bx := range boxes {
		r := image.Rect(
			int(bx.x1*sx), int(bx.y1*sy),
			int(bx.x2*sx+0.5), int(bx.y2*sy+0.5),
		).Add(b.Min).Intersect(b)
		if r.Empty() {
			continue
		}
		regions = append(regions, model.Region{Bounds: r, Confidence: bx.score})
	}
	return regions, nil
}

// Close releases the session.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sess.close()
}

// toTensor resizes img to size×size with nearest-neighbour sampling and
// lays it out as CHW float32 in [0,1].
func toTensor(img image.Image, size int) []float32 {
	b := img.Bounds()
	plane := size * size
	out := make([]float32, 3*plane)
	for y := 0; y < size; y++ {
		sy := b.Min.Y + y*b.Dy()/size
		for x := 0; x < size; x++ {
			sx := b.Min.X + x*b.Dx()/size
			r, g, bl, _ := img.At(sx, sy).RGBA()
			i := y*size + x
			out[i] = float32(r>>8) / 255
			out[plane+i] = float32(g>>8) / 255
			out[2*plane+i] = float32(bl>>8) / 255
		}
	}
	return out
}

type box struct {
	x1, y1, x2, y2 float64
	score          float64
}

// decode reads a [attrs, n] output where rows 0..3 are cx, cy, w, h in
// input pixels and the remaining rows are class scores.
func decode(data []float32, attrs, n int, threshold float64) []box {
	if attrs < 5 || len(data) < attrs*n {
		return nil
	}
	var boxes []box
	for i := 0; i < n; i++ {
		var score float64
		for c := 4; c < attrs; c++ {
			if s := float64(data[c*n+i]); s > score {
				score = s
			}
		}
		if score < threshold {
			continue
		}
		cx, cy := float64(data[i]), float64(data[n+i])
		w, h := float64(data[2*n+i]), float64(data[3*n+i])
		boxes = append(boxes, box{
			x1: cx - w/2, y1: cy - h/2,
			x2: cx + w/2, y2: cy + h/2,
			score: score,
		})
	}
	return boxes
}

// suppress keeps the best-scoring box of every overlapping group.
func suppress(boxes []box, maxIoU float64) []box {
	sort.Slice(boxes, func(i, j int) bool { return boxes[i].score > boxes[j].score })
	kept := boxes[:0]
	for _, b := range boxes {
		overlap := false
		for _, k := range kept {
			if iou(b, k) > maxIoU {
				overlap = true
				break
			}
		}
		if !overlap {
			kept = append(kept, b)
		}
	}
	return kept
}

func iou(a, b box) float64 {
	ix := max(0, min(a.x2, b.x2)-max(a.x1, b.x1))
	iy := max(0, min(a.y2, b.y2)-max(a.y1, b.y1))
	inter := ix * iy
	union := (a.x2-a.x1)*(a.y2-a.y1) + (b.x2-b.x1)*(b.y2-b.y1) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}
