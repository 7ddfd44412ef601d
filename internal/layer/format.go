package layer

import (
	"github.com/smazurov/displaynode/internal/disperr"
)

// Format is a layer pixel format.
type Format int

// Pixel formats. RGB formats are accepted by RGB layers, YUV formats by the
// video layer.
const (
	FormatNone Format = iota
	FormatRGB332
	FormatRGB565
	FormatARGB1555
	FormatARGB4444
	FormatRGB888
	FormatXRGB8888
	FormatARGB8888
	FormatYUV420
	FormatYUV422
	FormatYUYV
)

type formatInfo struct {
	name  string
	code  uint32
	bits  int
	alpha bool
	yuv   bool
	// channel depths used for color key comparison
	r, g, b int
}

var formats = [...]formatInfo{
	FormatNone:     {name: "none"},
	FormatRGB332:   {name: "rgb332", code: 0x4120, bits: 8, r: 3, g: 3, b: 2},
	FormatRGB565:   {name: "rgb565", code: 0x4432, bits: 16, r: 5, g: 6, b: 5},
	FormatARGB1555: {name: "argb1555", code: 0x3342, bits: 16, alpha: true, r: 5, g: 5, b: 5},
	FormatARGB4444: {name: "argb4444", code: 0x2211, bits: 16, alpha: true, r: 4, g: 4, b: 4},
	FormatRGB888:   {name: "rgb888", code: 0x4653, bits: 24, r: 8, g: 8, b: 8},
	FormatXRGB8888: {name: "xrgb8888", code: 0x4753, bits: 32, r: 8, g: 8, b: 8},
	FormatARGB8888: {name: "argb8888", code: 0x0653, bits: 32, alpha: true, r: 8, g: 8, b: 8},
	FormatYUV420:   {name: "yuv420", code: 0x0000, bits: 12, yuv: true},
	FormatYUV422:   {name: "yuv422", code: 0x0001, bits: 16, yuv: true},
	FormatYUYV:     {name: "yuyv", code: 0x0002, bits: 16, yuv: true},
}

// ParseFormat looks a format up by name, e.g. "argb8888".
func ParseFormat(s string) (Format, error) {
	for i, f := range formats {
		if i != int(FormatNone) && f.name == s {
			return Format(i), nil
		}
	}
	return FormatNone, disperr.Newf(disperr.CodeUnsupportedPixelFormat, "layer.ParseFormat", "unknown pixel format %q", s)
}

// Formats returns every known format name.
func Formats() []string {
	out := make([]string, 0, len(formats)-1)
	for _, f := range formats[1:] {
		out = append(out, f.name)
	}
	return out
}

func (f Format) info() formatInfo {
	if f < 0 || int(f) >= len(formats) {
		return formats[FormatNone]
	}
	return formats[f]
}

func (f Format) String() string {
	return f.info().name
}

// MarshalText implements encoding.TextMarshaler.
func (f Format) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *Format) UnmarshalText(b []byte) error {
	v, err := ParseFormat(string(b))
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// BitsPerPixel returns the storage depth of the format.
func (f Format) BitsPerPixel() int { return f.info().bits }

// BytesPerPixel returns the bytes per pixel of packed RGB formats and the
// luma plane bytes per pixel of YUV formats.
func (f Format) BytesPerPixel() int {
	in := f.info()
	if in.yuv {
		return 1
	}
	return in.bits / 8
}

// HasAlpha reports whether the format carries per-pixel alpha.
func (f Format) HasAlpha() bool { return f.info().alpha }

// IsYUV reports whether the format is a video (YUV) format.
func (f Format) IsYUV() bool { return f.info().yuv }

// QuantizeColor reduces a 24-bit 0xRRGGBB color to the channel depth of f and
// expands it back to 24 bits, giving the value the mixer compares pixels
// against. Formats of 24 bits or more and YUV formats return c unchanged.
func QuantizeColor(c uint32, f Format) uint32 {
	in := f.info()
	c &= 0xffffff
	if in.yuv || in.r == 0 || in.bits >= 24 {
		return c
	}
	r := expand(byte(c>>16)>>(8-in.r), in.r)
	g := expand(byte(c>>8)>>(8-in.g), in.g)
	b := expand(byte(c)>>(8-in.b), in.b)
	return uint32(r)<<16 | uint32(g)<<8 | uint32(b)
}

// expand replicates an n-bit channel value into 8 bits.
func expand(q byte, n int) byte {
	var out int
	for shift := 8 - n; ; shift -= n {
		if shift >= 0 {
			out |= int(q) << shift
		} else {
			out |= int(q) >> -shift
			break
		}
		if shift == 0 {
			break
		}
	}
	return byte(out)
}
