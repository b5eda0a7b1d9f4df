package tesseract

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync/atomic"
	"testing"
	"time"

	"github.com/crimson-sun/platewatch/internal/vision"
)

func newOrSkip(t *testing.T) *Recognizer {
	t.Helper()
	r, err := New(Config{})
	if err != nil {
		t.Skipf("tesseract unavailable: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func blank(w, h int) image.Image {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: 255})
		}
	}
	return img
}

func TestRecognizeBlankImage(t *testing.T) {
	r := newOrSkip(t)

	text, err := r.Recognize(context.Background(), blank(120, 40))
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if text != "" {
		t.Errorf("blank crop read as %q", text)
	}
}

func TestRecognizeCancelled(t *testing.T) {
	r := newOrSkip(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.Recognize(ctx, blank(2000, 2000)); err != nil && !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want nil or context.Canceled", err)
	}
}

func TestNewUnknownLanguage(t *testing.T) {
	r, err := New(Config{Language: "zz-not-a-language"})
	if err == nil {
		r.Close()
		t.Skip("tesseract accepted the language lazily")
	}
}

// slowEngine blocks in Text until released.
type slowEngine struct {
	release chan struct{}
	calls   atomic.Int32
	closed  atomic.Bool
}

func (e *slowEngine) SetImageFromBytes([]byte) error { return nil }

func (e *slowEngine) Text() (string, error) {
	e.calls.Add(1)
	<-e.release
	return " 1-ACD-234\n", nil
}

func (e *slowEngine) Close() error {
	e.closed.Store(true)
	return nil
}

func TestRecognizeTimeoutDoesNotQueue(t *testing.T) {
	eng := &slowEngine{release: make(chan struct{})}
	r := newRecognizer(eng)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := r.Recognize(ctx, blank(8, 8)); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v, want deadline exceeded", err)
	}

	for i := 0; i < 10; i++ {
		if _, err := r.Recognize(context.Background(), blank(8, 8)); !errors.Is(err, vision.ErrBusy) {
			t.Fatalf("call %d: got %v, want vision.ErrBusy", i, err)
		}
	}
	if n := eng.calls.Load(); n != 1 {
		t.Errorf("engine called %d times, want 1", n)
	}

	close(eng.release)
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !eng.closed.Load() {
		t.Error("client not closed")
	}
}

func TestRecognizeTrimsText(t *testing.T) {
	eng := &slowEngine{release: make(chan struct{})}
	close(eng.release)
	r := newRecognizer(eng)

	text, err := r.Recognize(context.Background(), blank(8, 8))
	if err != nil || text != "1-ACD-234" {
		t.Errorf("got %q, %v", text, err)
	}
}
