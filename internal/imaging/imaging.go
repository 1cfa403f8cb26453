// Package imaging turns arbitrary avatar bytes into a gamma corrected PNG suitable for the
// host renderer.
package imaging

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	_ "image/gif"  // registers decoder
	_ "image/jpeg" // registers decoder
	"image/png"
	"math"
	"sync"

	"github.com/leighmacdonald/pfp/internal/model"
	"github.com/pkg/errors"
	_ "golang.org/x/image/bmp" // registers decoder
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // registers decoder
)

var (
	ErrDecode = errors.New("failed to decode image")
	ErrEncode = errors.New("failed to encode image")
)

const (
	gammaExponent = 0.4545454545
	// MaxDimension bounds either side of a source image so a tiny file cannot expand into a
	// huge pixel buffer.
	MaxDimension = 4096
)

var (
	gammaOnce  sync.Once
	gammaTable [256]uint8
)

// GammaTable returns the lookup applied to colour channels when brightness adjustment is on.
func GammaTable() [256]uint8 {
	gammaOnce.Do(func() {
		for i := range gammaTable {
			gammaTable[i] = uint8(math.Round(255 * math.Pow(float64(i)/255, gammaExponent)))
		}
	})

	return gammaTable
}

// Normalize decodes raw, converts it to the output channel layout, optionally brightens the
// colour channels and re-encodes it as PNG.
func Normalize(raw []byte, brightness bool) (model.Image, error) {
	if len(raw) == 0 {
		return model.Image{}, errors.Wrap(ErrDecode, "empty input")
	}

	imgConfig, _, errConfig := image.DecodeConfig(bytes.NewReader(raw))
	if errConfig != nil {
		return model.Image{}, errors.Wrap(ErrDecode, errConfig.Error())
	}

	if imgConfig.Width <= 0 || imgConfig.Height <= 0 ||
		imgConfig.Width > MaxDimension || imgConfig.Height > MaxDimension {
		return model.Image{}, errors.Wrapf(ErrDecode, "unsupported dimensions %dx%d", imgConfig.Width, imgConfig.Height)
	}

	src, _, errDecode := image.Decode(bytes.NewReader(raw))
	if errDecode != nil {
		return model.Image{}, errors.Wrap(ErrDecode, errDecode.Error())
	}

	channels := OutputChannels(SourceChannels(raw, src))

	var out image.Image

	if channels == 1 {
		gray := toGray(src)
		if brightness {
			brightenGray(gray)
		}

		out = gray
	} else {
		nrgba := toNRGBA(src)
		if brightness {
			brightenNRGBA(nrgba)
		}

		out = nrgba
	}

	var buf bytes.Buffer

	encoder := png.Encoder{CompressionLevel: png.DefaultCompression}
	if errEncode := encoder.Encode(&buf, out); errEncode != nil {
		return model.Image{}, errors.Wrap(ErrEncode, errEncode.Error())
	}

	bounds := out.Bounds()

	return model.Image{
		PNG:      buf.Bytes(),
		Width:    bounds.Dx(),
		Height:   bounds.Dy(),
		Channels: channels,
	}, nil
}

// OutputChannels keeps up to 4 channels and falls back to 3 when the source count is unknown.
func OutputChannels(source int) int {
	switch {
	case source >= 4:
		return 4
	case source <= 0:
		return 3
	default:
		return source
	}
}

var pngSignature = []byte("\x89PNG\r\n\x1a\n")

// SourceChannels reports how many channels the encoded source carries. PNG is read straight
// from the IHDR colour type, with a tRNS chunk adding alpha to gray and truecolour images.
// Everything else is inferred from the decoded colour model.
func SourceChannels(raw []byte, decoded image.Image) int {
	if len(raw) >= 26 && bytes.HasPrefix(raw, pngSignature) && string(raw[12:16]) == "IHDR" {
		switch raw[25] {
		case 0:
			if hasTransparencyChunk(raw) {
				return 2
			}

			return 1
		case 2:
			if hasTransparencyChunk(raw) {
				return 4
			}

			return 3
		case 3:
			return paletteChannels(decoded)
		case 4:
			return 2
		case 6:
			return 4
		}
	}

	if decoded == nil {
		return 0
	}

	switch decoded.ColorModel() {
	case color.GrayModel, color.Gray16Model:
		return 1
	case color.YCbCrModel, color.CMYKModel, color.NYCbCrAModel:
		if _, ok := decoded.(*image.NYCbCrA); ok {
			return 4
		}

		return 3
	case color.RGBAModel, color.RGBA64Model, color.NRGBAModel, color.NRGBA64Model:
		if opaque, ok := decoded.(interface{ Opaque() bool }); ok && opaque.Opaque() {
			return 3
		}

		return 4
	}

	return paletteChannels(decoded)
}

// hasTransparencyChunk walks the PNG chunks preceding the image data looking for tRNS.
func hasTransparencyChunk(raw []byte) bool {
	offset := len(pngSignature)
	for offset+8 <= len(raw) {
		length := binary.BigEndian.Uint32(raw[offset:])
		switch string(raw[offset+4 : offset+8]) {
		case "tRNS":
			return true
		case "IDAT", "IEND":
			return false
		}

		if uint64(length) > uint64(len(raw)) {
			return false
		}

		offset += 12 + int(length)
	}

	return false
}

func paletteChannels(decoded image.Image) int {
	palette, ok := decoded.ColorModel().(color.Palette)
	if !ok {
		return 0
	}

	for _, entry := range palette {
		if _, _, _, alpha := entry.RGBA(); alpha != 0xffff {
			return 4
		}
	}

	return 3
}

func toNRGBA(src image.Image) *image.NRGBA {
	bounds := src.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))

	if nrgba, ok := src.(*image.NRGBA); ok {
		rowLen := bounds.Dx() * 4
		for y := 0; y < bounds.Dy(); y++ {
			srcOffset := nrgba.PixOffset(bounds.Min.X, bounds.Min.Y+y)
			copy(dst.Pix[y*dst.Stride:y*dst.Stride+rowLen], nrgba.Pix[srcOffset:srcOffset+rowLen])
		}

		return dst
	}

	draw.Draw(dst, dst.Bounds(), src, bounds.Min, draw.Src)

	return dst
}

func toGray(src image.Image) *image.Gray {
	bounds := src.Bounds()
	dst := image.NewGray(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(dst, dst.Bounds(), src, bounds.Min, draw.Src)

	return dst
}

func brightenNRGBA(img *image.NRGBA) {
	table := GammaTable()
	for i := 0; i+3 < len(img.Pix); i += 4 {
		img.Pix[i] = table[img.Pix[i]]
		img.Pix[i+1] = table[img.Pix[i+1]]
		img.Pix[i+2] = table[img.Pix[i+2]]
	}
}

func brightenGray(img *image.Gray) {
	table := GammaTable()
	for i, value := range img.Pix {
		img.Pix[i] = table[value]
	}
}
