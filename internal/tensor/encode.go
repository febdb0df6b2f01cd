package tensor

import (
	"errors"
	"fmt"
	"image"

	"github.com/Brownie44l1/handpose-api/internal/imaging"
)

// Channels is the number of color planes in an encoded tensor.
const Channels = 3

// ImageNet statistics scaled to the 0-255 pixel range.
var (
	ImageMean = [Channels]float32{0.485 * 255, 0.456 * 255, 0.406 * 255}
	ImageStd  = [Channels]float32{0.229 * 255, 0.224 * 255, 0.225 * 255}
)

var (
	ErrDimensionMismatch    = errors.New("image dimensions do not match tensor shape")
	ErrInvalidNormalization = errors.New("invalid normalization constants")
)

// Len returns the element count of a planar tensor of the given size.
func Len(width, height int) int {
	return Channels * width * height
}

// Encode flattens img into a planar float32 buffer: all of channel 0 in
// row-major order, then channel 1, then channel 2. Each value is
// (v - mean[c]) / std[c]. img is not modified.
func Encode(img image.Image, width, height int, mean, std [Channels]float32, order imaging.ChannelOrder) ([]float32, error) {
	if img == nil {
		return nil, fmt.Errorf("%w: nil image", ErrDimensionMismatch)
	}
	b := img.Bounds()
	if b.Dx() != width || b.Dy() != height || width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: got %dx%d, want %dx%d", ErrDimensionMismatch, b.Dx(), b.Dy(), width, height)
	}
	for c := 0; c < Channels; c++ {
		if std[c] == 0 {
			return nil, fmt.Errorf("%w: std[%d] is zero", ErrInvalidNormalization, c)
		}
	}

	out := make([]float32, 0, Len(width, height))
	for c := 0; c < Channels; c++ {
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				v := imaging.Channel(img.At(b.Min.X+x, b.Min.Y+y), c, order)
				out = append(out, (float32(v)-mean[c])/std[c])
			}
		}
	}
	return out, nil
}
