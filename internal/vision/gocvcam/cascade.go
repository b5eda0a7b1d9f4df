package gocvcam

import (
	"context"
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"github.com/crimson-sun/platewatch/internal/model"
	"github.com/crimson-sun/platewatch/internal/vision"
)

const (
	defaultScaleFactor  = 1.1
	defaultMinNeighbors = 5
	defaultMinSize      = 30
)

func init() {
	vision.RegisterDetector("cascade", func(cfg vision.DetectorConfig) (vision.Detector, error) {
		d, err := NewCascade(cfg)
		if err != nil {
			return nil, err
		}
		return d, nil
	})
}

type cascadeParams struct {
	scale     float64
	neighbors int
	minSize   image.Point
}

func paramsFrom(cfg vision.DetectorConfig) cascadeParams {
	p := cascadeParams{
		scale:     cfg.ScaleFactor,
		neighbors: cfg.MinNeighbors,
		minSize:   image.Pt(cfg.MinSize, cfg.MinSize),
	}
	if p.scale <= 1 {
		p.scale = defaultScaleFactor
	}
	if p.neighbors <= 0 {
		p.neighbors = defaultMinNeighbors
	}
	if cfg.MinSize <= 0 {
		p.minSize = image.Pt(defaultMinSize, defaultMinSize)
	}
	return p
}

// Cascade detects plate regions with a Haar cascade on an equalized
// grayscale copy of the frame. One detection runs at a time; see
// vision.Slot.
type Cascade struct {
	slot       *vision.Slot
	classifier gocv.CascadeClassifier
	params     cascadeParams
}

// NewCascade loads the cascade XML at cfg.CascadePath.
func NewCascade(cfg vision.DetectorConfig) (*Cascade, error) {
	if cfg.CascadePath == "" {
		return nil, fmt.Errorf("gocvcam: cascade path is required")
	}
	classifier := gocv.NewCascadeClassifier()
	if !classifier.Load(cfg.CascadePath) {
		classifier.Close()
		return nil, fmt.Errorf("gocvcam: load cascade %s", cfg.CascadePath)
	}
	return &Cascade{slot: vision.NewSlot(), classifier: classifier, params: paramsFrom(cfg)}, nil
}

// Detect returns one region per cascade hit. The cascade has no score, so
// every region carries confidence 1. OpenCV cannot be interrupted: when ctx
// ends first Detect returns ctx.Err() and the detection finishes in the
// background, and calls made before it finishes return vision.ErrBusy.
func (c *Cascade) Detect(ctx context.Context, img image.Image) ([]model.Region, error) {
	return vision.Run(ctx, c.slot, func() ([]model.Region, error) {
		return c.detect(img)
	})
}

// detect owns every Mat it creates, so an abandoned call never touches
// memory its caller released.
func (c *Cascade) detect(img image.Image) ([]model.Region, error) {
	src, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("gocvcam: convert frame: %w", err)
	}
	defer src.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(src, &gray, gocv.ColorBGRToGray)
	gocv.EqualizeHist(gray, &gray)

	rects := c.classifier.DetectMultiScaleWithParams(gray,
		c.params.scale, c.params.neighbors, 0, c.params.minSize, image.Point{})

	// Mat coordinates start at the origin; map them back to the frame.
	offset := img.Bounds().Min
	regions := make([]model.Region, 0, len(rects))
	for _, r := range rects {
		regions = append(regions, model.Region{Bounds: r.Add(offset), Confidence: 1})
	}
	return regions, nil
}

// Close releases the classifier once no detection is running.
func (c *Cascade) Close() error {
	release := c.slot.Hold()
	defer release()
	return c.classifier.Close()
}
