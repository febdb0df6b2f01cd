package classifier

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/Brownie44l1/handpose-api/internal/imaging"
	"github.com/Brownie44l1/handpose-api/internal/metrics"
	"github.com/Brownie44l1/handpose-api/internal/model"
	"github.com/Brownie44l1/handpose-api/internal/scores"
	"github.com/Brownie44l1/handpose-api/internal/tensor"
)

const (
	StageResize  = "resize"
	StageEncode  = "encode"
	StagePredict = "predict"
	StageDecode  = "decode"
)

type Config struct {
	TargetSize       int
	IntermediateSize int
	Mean             [tensor.Channels]float32
	Std              [tensor.Channels]float32
	Order            imaging.ChannelOrder
	Labels           []string
	// Timeout bounds one whole classification. Zero waits forever.
	Timeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		TargetSize:       imaging.TargetSize,
		IntermediateSize: imaging.IntermediateSize,
		Mean:             tensor.ImageMean,
		Std:              tensor.ImageStd,
		Order:            imaging.RGB,
		Labels:           []string{"ok", "thumbup"},
		Timeout:          5 * time.Second,
	}
}

// ConfigFromMetadata takes sizes and labels from the model export.
func ConfigFromMetadata(md model.Metadata) Config {
	cfg := DefaultConfig()
	cfg.TargetSize = md.ImageSize
	cfg.IntermediateSize = md.ResizeSize
	cfg.Labels = append([]string(nil), md.Classes...)
	return cfg
}

// Outcome is what a submitted classification resolves to.
type Outcome struct {
	Result *scores.Result
	Err    error
}

// Classifier runs resize, encode, predict and decode for one image at a
// time. A call made while another is running is rejected, never queued.
type Classifier struct {
	engine model.Engine
	cfg    Config
	slot   *semaphore.Weighted
}

func New(engine model.Engine, cfg Config) (*Classifier, error) {
	if engine == nil {
		return nil, errors.New("nil inference engine")
	}
	if cfg.TargetSize <= 0 || cfg.IntermediateSize < cfg.TargetSize {
		return nil, fmt.Errorf("invalid sizes: target %d, intermediate %d", cfg.TargetSize, cfg.IntermediateSize)
	}
	if len(cfg.Labels) == 0 {
		return nil, errors.New("no class labels")
	}
	if cfg.Timeout < 0 {
		return nil, fmt.Errorf("negative timeout %s", cfg.Timeout)
	}
	return &Classifier{
		engine: engine,
		cfg:    cfg,
		slot:   semaphore.NewWeighted(1),
	}, nil
}

// Labels returns the class labels in score order.
func (c *Classifier) Labels() []string {
	return append([]string(nil), c.cfg.Labels...)
}

// TensorLen is the length of the tensor the engine is fed.
func (c *Classifier) TensorLen() int {
	return tensor.Len(c.cfg.TargetSize, c.cfg.TargetSize)
}

// Classify blocks until img is classified, rejected or timed out.
func (c *Classifier) Classify(ctx context.Context, img image.Image) (*scores.Result, error) {
	if err := validateImage(img); err != nil {
		return nil, err
	}
	if !c.tryAcquire() {
		return nil, ErrConcurrencyRejected
	}
	return c.await(ctx, c.start(ctx, c.imagePipeline(img)))
}

// Submit starts classifying img and returns a channel that receives exactly
// one Outcome. Rejection is decided before Submit returns.
func (c *Classifier) Submit(ctx context.Context, img image.Image) <-chan Outcome {
	out := make(chan Outcome, 1)
	if err := validateImage(img); err != nil {
		out <- Outcome{Err: err}
		close(out)
		return out
	}
	if !c.tryAcquire() {
		out <- Outcome{Err: ErrConcurrencyRejected}
		close(out)
		return out
	}

	done := c.start(ctx, c.imagePipeline(img))
	go func() {
		res, err := c.await(ctx, done)
		out <- Outcome{Result: res, Err: err}
		close(out)
	}()
	return out
}

// ClassifyTensor skips preprocessing and runs an already encoded tensor.
func (c *Classifier) ClassifyTensor(ctx context.Context, input []float32) (*scores.Result, error) {
	if len(input) != c.TensorLen() {
		return nil, fmt.Errorf("%w: tensor has %d values, want %d", ErrInvalidInput, len(input), c.TensorLen())
	}
	if !c.tryAcquire() {
		return nil, ErrConcurrencyRejected
	}
	buf := append([]float32(nil), input...)
	return c.await(ctx, c.start(ctx, func(ctx context.Context) (*scores.Result, error) {
		return c.predictAndDecode(ctx, buf)
	}))
}

func validateImage(img image.Image) error {
	if img == nil {
		return fmt.Errorf("%w: nil image", ErrInvalidInput)
	}
	if img.Bounds().Empty() {
		return fmt.Errorf("%w: empty image %v", ErrInvalidInput, img.Bounds())
	}
	return nil
}

func (c *Classifier) tryAcquire() bool {
	if c.slot.TryAcquire(1) {
		return true
	}
	log.Debug().Msg("classification rejected, previous run still in flight")
	metrics.Count(metrics.ClassifyTotal, 1, []string{metrics.Tag("result", "rejected")})
	return false
}

// start runs fn on its own goroutine. The slot is released only when fn
// returns, so an abandoned run still blocks new ones until the engine is free.
// The release happens before the outcome is delivered.
func (c *Classifier) start(ctx context.Context, fn func(context.Context) (*scores.Result, error)) <-chan Outcome {
	done := make(chan Outcome, 1)
	go func() {
		var o Outcome
		defer func() {
			if r := recover(); r != nil {
				o = Outcome{Err: &StageError{Stage: StagePredict, Err: fmt.Errorf("%w: panic: %v", model.ErrEngineFailure, r)}}
			}
			c.slot.Release(1)
			done <- o
		}()
		res, err := fn(ctx)
		o = Outcome{Result: res, Err: err}
	}()
	return done
}

func (c *Classifier) await(ctx context.Context, done <-chan Outcome) (*scores.Result, error) {
	start := time.Now()

	var timeout <-chan time.Time
	if c.cfg.Timeout > 0 {
		t := time.NewTimer(c.cfg.Timeout)
		defer t.Stop()
		timeout = t.C
	}

	var o Outcome
	select {
	case o = <-done:
	case <-timeout:
		o.Err = fmt.Errorf("%w after %s", ErrTimeout, c.cfg.Timeout)
	case <-ctx.Done():
		o.Err = fmt.Errorf("%w: %w", ErrCanceled, ctx.Err())
	}

	elapsed := time.Since(start)
	switch {
	case errors.Is(o.Err, ErrCanceled):
		log.Info().Err(o.Err).Dur("elapsed", elapsed).Msg("classification abandoned by caller")
		metrics.Count(metrics.ClassifyTotal, 1, []string{metrics.Tag("result", "canceled")})
		return nil, o.Err
	case o.Err != nil:
		log.Error().Err(o.Err).Dur("elapsed", elapsed).Msg("classification failed")
		metrics.Count(metrics.ClassifyTotal, 1, []string{metrics.Tag("result", "error")})
		return nil, o.Err
	}

	log.Info().Str("label", o.Result.Label).Float32("confidence", o.Result.Confidence).
		Dur("elapsed", elapsed).Msg(o.Result.Display)
	metrics.Count(metrics.ClassifyTotal, 1, []string{metrics.Tag("result", "ok"), metrics.Tag("label", o.Result.Label)})
	metrics.Timing(metrics.ClassifyLatency, elapsed, nil)
	return o.Result, nil
}

func (c *Classifier) imagePipeline(img image.Image) func(context.Context) (*scores.Result, error) {
	return func(ctx context.Context) (*scores.Result, error) {
		t := time.Now()
		cropped, err := imaging.ResizeAndCrop(img, c.cfg.TargetSize, c.cfg.IntermediateSize)
		if err != nil {
			return nil, &StageError{Stage: StageResize, Err: err}
		}
		observe(StageResize, t)

		t = time.Now()
		input, err := tensor.Encode(cropped, c.cfg.TargetSize, c.cfg.TargetSize, c.cfg.Mean, c.cfg.Std, c.cfg.Order)
		if err != nil {
			return nil, &StageError{Stage: StageEncode, Err: err}
		}
		observe(StageEncode, t)

		log.Debug().Int("width", img.Bounds().Dx()).Int("height", img.Bounds().Dy()).
			Int("tensorLen", len(input)).Msg("image preprocessed")
		return c.predictAndDecode(ctx, input)
	}
}

func (c *Classifier) predictAndDecode(ctx context.Context, input []float32) (*scores.Result, error) {
	t := time.Now()
	raw, err := c.engine.Predict(ctx, input)
	if err != nil {
		if !errors.Is(err, model.ErrEngineFailure) {
			err = fmt.Errorf("%w: %w", model.ErrEngineFailure, err)
		}
		return nil, &StageError{Stage: StagePredict, Err: err}
	}
	if len(raw) != len(c.cfg.Labels) {
		return nil, &StageError{Stage: StagePredict, Err: fmt.Errorf("%w: got %d scores for %d labels",
			model.ErrEngineFailure, len(raw), len(c.cfg.Labels))}
	}
	observe(StagePredict, t)
	log.Debug().Floats32("scores", raw).Msg("raw scores")

	t = time.Now()
	res, err := scores.Decode(raw, c.cfg.Labels)
	if err != nil {
		return nil, &StageError{Stage: StageDecode, Err: err}
	}
	observe(StageDecode, t)
	return res, nil
}

func observe(stage string, since time.Time) {
	metrics.Timing(metrics.StageLatency, time.Since(since), []string{metrics.Tag("stage", stage)})
}
