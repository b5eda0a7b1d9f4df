package onnxdetect

import (
	"context"
	"image"
	"image/color"
	"math"
	"os"
	"testing"

	"github.com/crimson-sun/platewatch/internal/vision"
)

const testModelPath = "../../../models/plate_detector.onnx"

func skipIfNoModel(t *testing.T) {
	t.Helper()
	if _, err := os.Stat(testModelPath); os.IsNotExist(err) {
		t.Skip("model files not found; place plate_detector.onnx and libonnxruntime.so in models/")
	}
}

// column builds a [attrs, n] tensor from per-candidate rows.
func column(rows ...[]float32) ([]float32, int, int) {
	attrs, n := len(rows[0]), len(rows)
	data := make([]float32, attrs*n)
	for i, r := range rows {
		for a, v := range r {
			data[a*n+i] = v
		}
	}
	return data, attrs, n
}

func TestDecodeThreshold(t *testing.T) {
	data, attrs, n := column(
		[]float32{100, 50, 40, 20, 0.9},
		[]float32{300, 200, 60, 30, 0.2},
	)
	boxes := decode(data, attrs, n, 0.5)
	if len(boxes) != 1 {
		t.Fatalf("got %d boxes, want 1", len(boxes))
	}
	b := boxes[0]
	if b.x1 != 80 || b.y1 != 40 || b.x2 != 120 || b.y2 != 60 {
		t.Errorf("box = %+v, want (80,40)-(120,60)", b)
	}
	if math.Abs(b.score-0.9) > 1e-6 {
		t.Errorf("score = %v", b.score)
	}
}

func TestDecodeTakesBestClass(t *testing.T) {
	data, attrs, n := column([]float32{10, 10, 4, 4, 0.1, 0.7})
	boxes := decode(data, attrs, n, 0.5)
	if len(boxes) != 1 || math.Abs(boxes[0].score-0.7) > 1e-6 {
		t.Fatalf("boxes = %+v, want one box scored 0.7", boxes)
	}
}

func TestDecodeRejectsShortTensor(t *testing.T) {
	if boxes := decode([]float32{1, 2, 3}, 5, 4, 0.1); boxes != nil {
		t.Errorf("got %v, want nil", boxes)
	}
}

func TestSuppress(t *testing.T) {
	boxes := []box{
		{0, 0, 10, 10, 0.6},
		{1, 1, 11, 11, 0.9},
		{50, 50, 60, 60, 0.7},
	}
	kept := suppress(boxes, 0.45)
	if len(kept) != 2 {
		t.Fatalf("kept %d boxes, want 2", len(kept))
	}
	if kept[0].score != 0.9 || kept[1].score != 0.7 {
		t.Errorf("kept = %+v, want 0.9 then 0.7", kept)
	}
}

func TestIoU(t *testing.T) {
	a := box{0, 0, 10, 10, 1}
	if got := iou(a, a); got != 1 {
		t.Errorf("iou(a,a) = %v", got)
	}
	if got := iou(a, box{20, 20, 30, 30, 1}); got != 0 {
		t.Errorf("disjoint iou = %v", got)
	}
}

func TestToTensorLayout(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, color.RGBA{R: 255, B: 51, A: 255})
		}
	}
	out := toTensor(img, 2)
	if len(out) != 12 {
		t.Fatalf("len = %d, want 12", len(out))
	}
	for i := 0; i < 4; i++ {
		if out[i] != 1 || out[4+i] != 0 || math.Abs(float64(out[8+i])-0.2) > 1e-6 {
			t.Fatalf("pixel %d = (%v,%v,%v)", i, out[i], out[4+i], out[8+i])
		}
	}
}

func TestNewRequiresModelPath(t *testing.T) {
	if _, err := vision.NewDetector(vision.DetectorConfig{Kind: "onnx"}); err == nil {
		t.Error("expected error without model path")
	}
}

func TestDetectorLoad(t *testing.T) {
	skipIfNoModel(t)

	d, err := New(vision.DetectorConfig{ModelPath: testModelPath})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer d.Close()

	regions, err := d.Detect(context.Background(), image.NewRGBA(image.Rect(0, 0, 320, 240)))
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	t.Logf("blank frame produced %d regions", len(regions))
}
