package gocvcam

import (
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"testing"

	"github.com/crimson-sun/platewatch/internal/vision"
)

// testCascadePath points at an OpenCV plate cascade, e.g.
// haarcascade_russian_plate_number.xml from the OpenCV data directory.
var testCascadePath = os.Getenv("PLATEWATCH_TEST_CASCADE")

func skipIfNoCascade(t *testing.T) {
	t.Helper()
	if testCascadePath == "" {
		t.Skip("PLATEWATCH_TEST_CASCADE not set")
	}
	if _, err := os.Stat(testCascadePath); os.IsNotExist(err) {
		t.Skipf("cascade file %s not found", testCascadePath)
	}
}

func TestParamsDefaults(t *testing.T) {
	tests := []struct {
		name string
		cfg  vision.DetectorConfig
		want cascadeParams
	}{
		{"zero config", vision.DetectorConfig{}, cascadeParams{1.1, 5, image.Pt(30, 30)}},
		{"explicit", vision.DetectorConfig{ScaleFactor: 1.2, MinNeighbors: 3, MinSize: 24}, cascadeParams{1.2, 3, image.Pt(24, 24)}},
		{"scale not above one", vision.DetectorConfig{ScaleFactor: 1.0}, cascadeParams{1.1, 5, image.Pt(30, 30)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := paramsFrom(tt.cfg); got != tt.want {
				t.Errorf("paramsFrom() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestRegisteredAsCascade(t *testing.T) {
	_, err := vision.NewDetector(vision.DetectorConfig{Kind: "cascade"})
	if errors.Is(err, vision.ErrUnknownDetector) {
		t.Fatal("cascade detector not registered")
	}
	if err == nil {
		t.Fatal("expected error without a cascade path")
	}
}

func TestCascadeBlankFrame(t *testing.T) {
	skipIfNoCascade(t)

	d, err := NewCascade(vision.DetectorConfig{CascadePath: testCascadePath})
	if err != nil {
		t.Fatalf("NewCascade: %v", err)
	}
	defer d.Close()

	img := image.NewRGBA(image.Rect(0, 0, 320, 240))
	regions, err := d.Detect(context.Background(), img)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(regions) != 0 {
		t.Errorf("blank frame produced %d regions", len(regions))
	}
}

func TestCascadeHonoursCancelledContext(t *testing.T) {
	skipIfNoCascade(t)

	d, err := NewCascade(vision.DetectorConfig{CascadePath: testCascadePath})
	if err != nil {
		t.Fatalf("NewCascade: %v", err)
	}
	defer d.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := d.Detect(ctx, image.NewRGBA(image.Rect(0, 0, 8, 8))); !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}

func TestOpenCameraMissingFile(t *testing.T) {
	if _, err := OpenCamera(t.TempDir() + "/missing.mp4"); err == nil {
		t.Error("expected error opening a missing file")
	}
}

func TestRedTextMask(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 20, 10))
	for y := 0; y < 10; y++ {
		for x := 0; x < 20; x++ {
			c := color.RGBA{R: 255, G: 255, B: 255, A: 255}
			if x < 10 {
				c = color.RGBA{R: 140, G: 10, B: 10, A: 255}
			}
			img.Set(x, y, c)
		}
	}

	out, err := RedTextMask(img)
	if err != nil {
		t.Fatalf("RedTextMask: %v", err)
	}
	if out.Bounds().Dx() != 20 || out.Bounds().Dy() != 10 {
		t.Fatalf("bounds = %v", out.Bounds())
	}

	lum := func(x, y int) uint8 { return color.GrayModel.Convert(out.At(x, y)).(color.Gray).Y }
	if got := lum(2, 5); got != 0 {
		t.Errorf("red pixel = %d, want 0", got)
	}
	if got := lum(15, 5); got != 255 {
		t.Errorf("white pixel = %d, want 255", got)
	}
}
