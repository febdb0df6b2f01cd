package model

import (
	"encoding/json"
	"fmt"
	"os"
)

// Metadata describes the exported network. It is stored next to the model
// file as JSON.
type Metadata struct {
	InputShape  []int64  `json:"input_shape"`
	OutputShape []int64  `json:"output_shape"`
	Classes     []string `json:"classes"`
	ImageSize   int      `json:"image_size"`
	ResizeSize  int      `json:"resize_size"`
	InputName   string   `json:"input_name"`
	OutputName  string   `json:"output_name"`
}

// DefaultMetadata matches the bundled MobileNetV2 handpose export.
func DefaultMetadata() Metadata {
	return Metadata{
		InputShape:  []int64{1, 3, 224, 224},
		OutputShape: []int64{1, 2},
		Classes:     []string{"ok", "thumbup"},
		ImageSize:   224,
		ResizeSize:  256,
		InputName:   "input",
		OutputName:  "output",
	}
}

// LoadMetadata reads path and fills any field it leaves empty from
// DefaultMetadata.
func LoadMetadata(path string) (Metadata, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to read metadata: %w", err)
	}

	var md Metadata
	if err := json.Unmarshal(raw, &md); err != nil {
		return Metadata{}, fmt.Errorf("failed to parse metadata: %w", err)
	}

	def := DefaultMetadata()
	if len(md.InputShape) == 0 {
		md.InputShape = def.InputShape
	}
	if len(md.OutputShape) == 0 {
		md.OutputShape = def.OutputShape
	}
	if len(md.Classes) == 0 {
		md.Classes = def.Classes
	}
	if md.ImageSize == 0 {
		md.ImageSize = def.ImageSize
	}
	if md.ResizeSize == 0 {
		md.ResizeSize = def.ResizeSize
	}
	if md.InputName == "" {
		md.InputName = def.InputName
	}
	if md.OutputName == "" {
		md.OutputName = def.OutputName
	}
	return md, md.Validate()
}

// Validate checks that the shapes agree with the image size and class list.
func (m Metadata) Validate() error {
	if m.ImageSize <= 0 || m.ResizeSize < m.ImageSize {
		return fmt.Errorf("invalid image_size %d / resize_size %d", m.ImageSize, m.ResizeSize)
	}
	if got, want := ShapeSize(m.InputShape), int64(3*m.ImageSize*m.ImageSize); got != want {
		return fmt.Errorf("input_shape %v holds %d values, want %d", m.InputShape, got, want)
	}
	if got := ShapeSize(m.OutputShape); got != int64(len(m.Classes)) {
		return fmt.Errorf("output_shape %v holds %d values for %d classes", m.OutputShape, got, len(m.Classes))
	}
	return nil
}

// ShapeSize is the number of elements a tensor of the given shape holds.
func ShapeSize(shape []int64) int64 {
	if len(shape) == 0 {
		return 0
	}
	n := int64(1)
	for _, d := range shape {
		n *= d
	}
	return n
}
