package imaging

import (
	"errors"
	"fmt"
	"image"

	"github.com/nfnt/resize"
	"golang.org/x/image/draw"
)

const (
	// TargetSize is the square edge fed to the model.
	TargetSize = 224
	// IntermediateSize is what the shorter side is scaled to before cropping.
	IntermediateSize = 256
	// MaxAspect bounds how much longer than the short side the source may be
	// before it is trimmed. The trimmed region always covers the center crop.
	MaxAspect = 4
)

var (
	ErrOutOfBounds = errors.New("crop region out of image bounds")
	ErrEmptyImage  = errors.New("image has no pixels")
	ErrBadSize     = errors.New("invalid target size")
)

// ResizeAndCrop scales img so its shorter side equals intermediate and
// then extracts the centered target×target square.
// An image that is already target×target is returned unchanged.
func ResizeAndCrop(img image.Image, target, intermediate int) (image.Image, error) {
	if img == nil {
		return nil, ErrEmptyImage
	}
	if target <= 0 || intermediate < target {
		return nil, fmt.Errorf("%w: target %d, intermediate %d", ErrBadSize, target, intermediate)
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return nil, ErrEmptyImage
	}
	if w == target && h == target {
		return img, nil
	}

	src, err := trimLongSide(img)
	if err != nil {
		return nil, err
	}
	b = src.Bounds()
	w, h = b.Dx(), b.Dy()

	var sw, sh int
	if w < h {
		sw = intermediate
		sh = h * intermediate / w
	} else {
		sh = intermediate
		sw = w * intermediate / h
	}

	scaled := resize.Resize(uint(sw), uint(sh), src, resize.Bilinear)

	sb := scaled.Bounds()
	cx, cy := sb.Dx()/2, sb.Dy()/2
	origin := image.Pt(sb.Min.X+cx-target/2, sb.Min.Y+cy-target/2)
	return crop(scaled, image.Rectangle{Min: origin, Max: origin.Add(image.Pt(target, target))})
}

// trimLongSide keeps the centered part of the long axis when it exceeds
// MaxAspect times the short axis. The kept length has the parity of the long
// side so the same number of pixels is dropped at both ends.
func trimLongSide(img image.Image) (image.Image, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	switch {
	case w > MaxAspect*h:
		keep := MaxAspect*h + (w-MaxAspect*h)%2
		x0 := b.Min.X + (w-keep)/2
		return crop(img, image.Rect(x0, b.Min.Y, x0+keep, b.Max.Y))
	case h > MaxAspect*w:
		keep := MaxAspect*w + (h-MaxAspect*w)%2
		y0 := b.Min.Y + (h-keep)/2
		return crop(img, image.Rect(b.Min.X, y0, b.Max.X, y0+keep))
	default:
		return img, nil
	}
}

// crop copies r out of src into a new image whose bounds start at the origin.
func crop(src image.Image, r image.Rectangle) (*image.NRGBA, error) {
	if r.Empty() || !r.In(src.Bounds()) {
		return nil, fmt.Errorf("%w: %v not within %v", ErrOutOfBounds, r, src.Bounds())
	}
	dst := image.NewNRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), src, r.Min, draw.Src)
	return dst, nil
}
