package imaging

import (
	"fmt"
	"image/color"
	"strings"
)

// ChannelOrder selects which color component is emitted as tensor channel 0, 1 and 2.
type ChannelOrder int

const (
	// RGB emits red, green, blue. The handpose model was trained on RGB input.
	RGB ChannelOrder = iota
	// BGR emits blue, green, red, matching a packed ARGB int read as (v >> (c*8)) & 255.
	BGR
)

func (o ChannelOrder) String() string {
	switch o {
	case RGB:
		return "RGB"
	case BGR:
		return "BGR"
	default:
		return fmt.Sprintf("ChannelOrder(%d)", int(o))
	}
}

// ParseChannelOrder accepts "RGB" or "BGR" in any case.
func ParseChannelOrder(s string) (ChannelOrder, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "RGB":
		return RGB, nil
	case "BGR":
		return BGR, nil
	default:
		return RGB, fmt.Errorf("unknown channel order %q", s)
	}
}

// Channel returns the 8-bit value of channel c (0..2) of px in the given order.
// Values are straight alpha, so a translucent pixel reports its own color
// rather than a value scaled by its alpha.
func Channel(px color.Color, c int, order ChannelOrder) uint8 {
	n := color.NRGBAModel.Convert(px).(color.NRGBA)
	if order == BGR {
		c = 2 - c
	}
	switch c {
	case 0:
		return n.R
	case 1:
		return n.G
	default:
		return n.B
	}
}
