package onnxdetect

import (
	"fmt"
	"path/filepath"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// ortEnv manages global ONNX Runtime initialization (process-wide singleton).
var ortEnv struct {
	once sync.Once
	err  error
}

func initORT(libPath string) error {
	ortEnv.once.Do(func() {
		ort.SetSharedLibraryPath(libPath)
		ortEnv.err = ort.InitializeEnvironment()
	})
	return ortEnv.err
}

// session wraps a DynamicAdvancedSession for a single-input detector with
// an NCHW float32 image input and one [1, attrs, candidates] output.
type session struct {
	session    *ort.DynamicAdvancedSession
	inputName  string
	outputName string
	inputSize  int64
}

// newSession loads the model. libPath defaults to libonnxruntime.so next
// to the model file.
func newSession(modelPath, libPath string) (*session, error) {
	if libPath == "" {
		libPath = filepath.Join(filepath.Dir(modelPath), "libonnxruntime.so")
	}
	if err := initORT(libPath); err != nil {
		return nil, fmt.Errorf("onnxdetect: initialize runtime: %w", err)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("onnxdetect: read model info: %w", err)
	}
	if len(inputs) != 1 {
		return nil, fmt.Errorf("onnxdetect: expected 1 input, got %d", len(inputs))
	}
	in := inputs[0].Dimensions
	if len(in) != 4 || in[1] != 3 {
		return nil, fmt.Errorf("onnxdetect: expected [N,3,H,W] input, got %v", in)
	}
	if len(outputs) == 0 {
		return nil, fmt.Errorf("onnxdetect: model has no outputs")
	}
	if dims := outputs[0].Dimensions; len(dims) != 3 {
		return nil, fmt.Errorf("onnxdetect: expected 3D output tensor, got %v", dims)
	}

	size := in[2]
	if size <= 0 {
		size = defaultInputSize
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("onnxdetect: create session options: %w", err)
	}
	defer opts.Destroy()
	opts.SetIntraOpNumThreads(2)
	opts.SetInterOpNumThreads(1)

	s, err := ort.NewDynamicAdvancedSession(modelPath,
		[]string{inputs[0].Name},
		[]string{outputs[0].Name},
		opts,
	)
	if err != nil {
		return nil, fmt.Errorf("onnxdetect: create session: %w", err)
	}

	return &session{
		session:    s,
		inputName:  inputs[0].Name,
		outputName: outputs[0].Name,
		inputSize:  size,
	}, nil
}

// infer runs one image through the model and returns the output tensor
// data with its [attrs, candidates] shape.
func (s *session) infer(input []float32) ([]float32, int, int, error) {
	tIn, err := ort.NewTensor(ort.NewShape(1, 3, s.inputSize, s.inputSize), input)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("onnxdetect: create input tensor: %w", err)
	}
	defer tIn.Destroy()

	// A nil output is allocated by the runtime and must be destroyed here.
	outputs := []ort.Value{nil}
	if err := s.session.Run([]ort.Value{tIn}, outputs); err != nil {
		return nil, 0, 0, fmt.Errorf("onnxdetect: inference failed: %w", err)
	}
	defer outputs[0].Destroy()

	tOut, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, 0, 0, fmt.Errorf("onnxdetect: unexpected output type %T", outputs[0])
	}
	shape := tOut.GetShape()
	if len(shape) != 3 {
		return nil, 0, 0, fmt.Errorf("onnxdetect: unexpected output shape %v", shape)
	}

	src := tOut.GetData()
	data := make([]float32, len(src))
	copy(data, src)
	return data, int(shape[1]), int(shape[2]), nil
}

func (s *session) close() error {
	return s.session.Destroy()
}
