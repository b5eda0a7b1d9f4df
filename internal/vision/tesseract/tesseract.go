// Package tesseract reads plate text with the Tesseract OCR engine.
package tesseract

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/crimson-sun/platewatch/internal/vision"
)

// Config selects the OCR language and character set.
type Config struct {
	Language  string // default "eng"
	Whitelist string // optional, e.g. "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789-"
}

// engine is the part of the Tesseract client Recognizer drives.
type engine interface {
	SetImageFromBytes(data []byte) error
	Text() (string, error)
	Close() error
}

// Recognizer wraps a single Tesseract client. One call runs at a time;
// see vision.Slot.
type Recognizer struct {
	slot   *vision.Slot
	client engine
}

// New creates a Recognizer in single-block page segmentation mode.
func New(cfg Config) (*Recognizer, error) {
	if cfg.Language == "" {
		cfg.Language = "eng"
	}

	client := gosseract.NewClient()
	if err := client.SetLanguage(cfg.Language); err != nil {
		client.Close()
		return nil, fmt.Errorf("tesseract: set language %s: %w", cfg.Language, err)
	}
	if err := client.SetPageSegMode(gosseract.PSM_SINGLE_BLOCK); err != nil {
		client.Close()
		return nil, fmt.Errorf("tesseract: set page segmentation mode: %w", err)
	}
	if cfg.Whitelist != "" {
		if err := client.SetWhitelist(cfg.Whitelist); err != nil {
			client.Close()
			return nil, fmt.Errorf("tesseract: set whitelist: %w", err)
		}
	}
	return newRecognizer(client), nil
}

func newRecognizer(client engine) *Recognizer {
	return &Recognizer{slot: vision.NewSlot(), client: client}
}

// Recognize returns the raw text found in img, whitespace trimmed. The
// engine call itself cannot be interrupted: when ctx ends first Recognize
// returns ctx.Err() and the call finishes in the background, and calls made
// before it finishes return vision.ErrBusy.
func (r *Recognizer) Recognize(ctx context.Context, img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("tesseract: encode crop: %w", err)
	}
	return vision.Run(ctx, r.slot, func() (string, error) {
		return r.recognize(buf.Bytes())
	})
}

func (r *Recognizer) recognize(encoded []byte) (string, error) {
	if err := r.client.SetImageFromBytes(encoded); err != nil {
		return "", fmt.Errorf("tesseract: set image: %w", err)
	}
	text, err := r.client.Text()
	if err != nil {
		return "", fmt.Errorf("tesseract: text: %w", err)
	}
	return strings.TrimSpace(text), nil
}

// Close releases the Tesseract client once no call is running.
func (r *Recognizer) Close() error {
	release := r.slot.Hold()
	defer release()
	return r.client.Close()
}
