package handlers

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

var (
	errNotImage = errors.New("payload is not an image")
	errTooLarge = errors.New("payload too large")
)

// decodeImage reads at most maxBytes from r, checks the sniffed MIME type and
// decodes the image. JPEG photos are turned upright according to their EXIF
// orientation tag.
func decodeImage(r io.Reader, maxBytes int64) (image.Image, string, error) {
	raw, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read image: %w", err)
	}
	if int64(len(raw)) > maxBytes {
		return nil, "", errTooLarge
	}

	mt := mimetype.Detect(raw)
	if !strings.HasPrefix(mt.String(), "image/") {
		return nil, mt.String(), fmt.Errorf("%w: detected %s", errNotImage, mt.String())
	}

	img, err := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(true))
	if err != nil {
		return nil, mt.String(), fmt.Errorf("%w: %v", errNotImage, err)
	}
	return img, mt.String(), nil
}
