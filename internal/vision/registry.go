package vision

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownDetector is returned by NewDetector for an unregistered kind.
var ErrUnknownDetector = errors.New("vision: unknown detector")

// DetectorConfig holds settings shared by detector implementations. Each
// implementation reads the fields it needs.
type DetectorConfig struct {
	Kind string

	// Haar cascade.
	CascadePath  string
	ScaleFactor  float64
	MinNeighbors int
	MinSize      int

	// ONNX model.
	ModelPath   string
	LibraryPath string
	InputSize   int
	Threshold   float64
}

// DetectorConstructor creates a Detector from its configuration.
type DetectorConstructor func(cfg DetectorConfig) (Detector, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]DetectorConstructor{}
)

// RegisterDetector adds a detector constructor under kind.
func RegisterDetector(kind string, ctor DetectorConstructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[kind] = ctor
}

// NewDetector builds the detector registered under cfg.Kind.
func NewDetector(cfg DetectorConfig) (Detector, error) {
	registryMu.RLock()
	ctor, ok := registry[cfg.Kind]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %v)", ErrUnknownDetector, cfg.Kind, DetectorKinds())
	}
	return ctor(cfg)
}

// DetectorKinds returns the registered detector kinds, sorted.
func DetectorKinds() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
