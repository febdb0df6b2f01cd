package model

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	ort "github.com/yalue/onnxruntime_go"
)

var (
	ErrEngineFailure = errors.New("inference engine failure")
	ErrEngineClosed  = fmt.Errorf("%w: engine closed", ErrEngineFailure)
)

// Engine runs the network on one encoded tensor and returns raw class
// scores. Implementations are not required to be reentrant.
type Engine interface {
	Predict(ctx context.Context, input []float32) ([]float32, error)
}

// OnnxEngine owns an onnxruntime session with pre-allocated input and
// output tensors.
type OnnxEngine struct {
	Metadata Metadata

	mu           sync.Mutex
	envReady     bool
	closed       bool
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

// NewOnnxEngine loads modelPath. libraryPath points at the onnxruntime
// shared library; empty keeps the runtime default. Anything allocated
// before a failure is released again.
func NewOnnxEngine(modelPath, libraryPath string, md Metadata) (*OnnxEngine, error) {
	if err := md.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineFailure, err)
	}

	e := &OnnxEngine{Metadata: md}
	if err := e.load(modelPath, libraryPath); err != nil {
		e.Close()
		return nil, fmt.Errorf("%w: %v", ErrEngineFailure, err)
	}

	log.Info().Str("model", modelPath).Strs("classes", md.Classes).
		Ints64("inputShape", md.InputShape).Msg("model loaded")
	return e, nil
}

func (e *OnnxEngine) load(modelPath, libraryPath string) error {
	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}
	e.envReady = true

	var err error
	e.inputTensor, err = ort.NewEmptyTensor[float32](ort.NewShape(e.Metadata.InputShape...))
	if err != nil {
		return fmt.Errorf("failed to create input tensor: %w", err)
	}

	e.outputTensor, err = ort.NewEmptyTensor[float32](ort.NewShape(e.Metadata.OutputShape...))
	if err != nil {
		return fmt.Errorf("failed to create output tensor: %w", err)
	}

	e.session, err = ort.NewAdvancedSession(modelPath,
		[]string{e.Metadata.InputName}, []string{e.Metadata.OutputName},
		[]ort.ArbitraryTensor{e.inputTensor}, []ort.ArbitraryTensor{e.outputTensor},
		nil)
	if err != nil {
		return fmt.Errorf("failed to create ONNX session: %w", err)
	}
	return nil
}

// Predict copies input into the session, runs it and returns a copy of
// the output scores.
func (e *OnnxEngine) Predict(ctx context.Context, input []float32) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed || e.session == nil {
		return nil, ErrEngineClosed
	}
	in := e.inputTensor.GetData()
	if len(input) != len(in) {
		return nil, fmt.Errorf("%w: input has %d values, model expects %d", ErrEngineFailure, len(input), len(in))
	}
	copy(in, input)

	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("%w: inference failed: %v", ErrEngineFailure, err)
	}

	out := e.outputTensor.GetData()
	scores := make([]float32, len(out))
	copy(scores, out)
	return scores, nil
}

// Close releases the session, tensors and runtime environment. It is safe
// to call more than once and on a partially loaded engine.
func (e *OnnxEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	var errs []error
	if e.session != nil {
		errs = append(errs, e.session.Destroy())
		e.session = nil
	}
	if e.inputTensor != nil {
		errs = append(errs, e.inputTensor.Destroy())
		e.inputTensor = nil
	}
	if e.outputTensor != nil {
		errs = append(errs, e.outputTensor.Destroy())
		e.outputTensor = nil
	}
	if e.envReady {
		errs = append(errs, ort.DestroyEnvironment())
		e.envReady = false
	}
	return errors.Join(errs...)
}
