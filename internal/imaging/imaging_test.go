package imaging_test

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/leighmacdonald/pfp/internal/imaging"
	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	return buf.Bytes()
}

// withTransparency inserts a tRNS chunk carrying data right after the IHDR chunk.
func withTransparency(t *testing.T, raw []byte, data []byte) []byte {
	t.Helper()

	const ihdrEnd = 8 + 12 + 13

	require.Equal(t, "IHDR", string(raw[12:16]))

	chunk := make([]byte, 8, 12+len(data))
	binary.BigEndian.PutUint32(chunk, uint32(len(data)))
	copy(chunk[4:], "tRNS")
	chunk = append(chunk, data...)
	chunk = binary.BigEndian.AppendUint32(chunk, crc32.ChecksumIEEE(chunk[4:]))

	patched := append([]byte{}, raw[:ihdrEnd]...)
	patched = append(patched, chunk...)

	return append(patched, raw[ihdrEnd:]...)
}

func testNRGBA(width, height int, alpha uint8) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 20), G: uint8(y * 30), B: 64, A: alpha})
		}
	}

	return img
}

func TestGammaTable(t *testing.T) {
	table := imaging.GammaTable()
	require.Equal(t, uint8(0), table[0])
	require.Equal(t, uint8(255), table[255])

	for i := 1; i < len(table); i++ {
		require.GreaterOrEqual(t, table[i], table[i-1])
		// Brightening never darkens.
		require.GreaterOrEqual(t, table[i], uint8(i))
	}
}

func TestNormalizeRoundTrip(t *testing.T) {
	t.Run("rgba", func(t *testing.T) {
		src := testNRGBA(8, 6, 128)
		out, errNorm := imaging.Normalize(encodePNG(t, src), false)
		require.NoError(t, errNorm)
		require.Equal(t, 8, out.Width)
		require.Equal(t, 6, out.Height)
		require.Equal(t, 4, out.Channels)

		decoded, errDecode := png.Decode(bytes.NewReader(out.PNG))
		require.NoError(t, errDecode)
		require.Equal(t, 4, imaging.SourceChannels(out.PNG, decoded))
		require.Equal(t, src.Pix, decoded.(*image.NRGBA).Pix)
	})

	t.Run("rgb", func(t *testing.T) {
		out, errNorm := imaging.Normalize(encodePNG(t, testNRGBA(5, 5, 255)), false)
		require.NoError(t, errNorm)
		require.Equal(t, 3, out.Channels)

		decoded, errDecode := png.Decode(bytes.NewReader(out.PNG))
		require.NoError(t, errDecode)
		require.Equal(t, 3, imaging.SourceChannels(out.PNG, decoded))
	})

	t.Run("gray", func(t *testing.T) {
		src := image.NewGray(image.Rect(0, 0, 4, 4))
		for i := range src.Pix {
			src.Pix[i] = uint8(i * 10)
		}

		out, errNorm := imaging.Normalize(encodePNG(t, src), false)
		require.NoError(t, errNorm)
		require.Equal(t, 1, out.Channels)

		decoded, errDecode := png.Decode(bytes.NewReader(out.PNG))
		require.NoError(t, errDecode)
		require.IsType(t, &image.Gray{}, decoded)
		require.Equal(t, src.Pix, decoded.(*image.Gray).Pix)
	})
}

func TestNormalizeTransparencyChunk(t *testing.T) {
	t.Run("gray", func(t *testing.T) {
		src := image.NewGray(image.Rect(0, 0, 2, 1))
		src.Pix[0] = 10
		src.Pix[1] = 200

		raw := withTransparency(t, encodePNG(t, src), []byte{0, 10})
		out, errNorm := imaging.Normalize(raw, false)
		require.NoError(t, errNorm)
		require.Equal(t, 2, out.Channels)

		decoded, errDecode := png.Decode(bytes.NewReader(out.PNG))
		require.NoError(t, errDecode)

		nrgba, ok := decoded.(*image.NRGBA)
		require.True(t, ok)
		require.Equal(t, uint8(0), nrgba.NRGBAAt(0, 0).A)
		require.Equal(t, color.NRGBA{R: 200, G: 200, B: 200, A: 255}, nrgba.NRGBAAt(1, 0))
	})

	t.Run("rgb", func(t *testing.T) {
		src := testNRGBA(2, 1, 255)

		// Keyed on the (0,0) colour, R 0 G 0 B 64.
		raw := withTransparency(t, encodePNG(t, src), []byte{0, 0, 0, 0, 0, 64})
		out, errNorm := imaging.Normalize(raw, false)
		require.NoError(t, errNorm)
		require.Equal(t, 4, out.Channels)

		decoded, errDecode := png.Decode(bytes.NewReader(out.PNG))
		require.NoError(t, errDecode)
		require.Equal(t, 4, imaging.SourceChannels(out.PNG, decoded))

		nrgba, ok := decoded.(*image.NRGBA)
		require.True(t, ok)
		require.Equal(t, uint8(0), nrgba.NRGBAAt(0, 0).A)
		require.Equal(t, uint8(255), nrgba.NRGBAAt(1, 0).A)
	})
}

func TestNormalizeTooLarge(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, imaging.MaxDimension+1, 1))

	_, errNorm := imaging.Normalize(encodePNG(t, src), false)
	require.ErrorIs(t, errNorm, imaging.ErrDecode)
}

func TestNormalizeBrightness(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	for i := 0; i < len(src.Pix); i += 4 {
		copy(src.Pix[i:i+4], []uint8{64, 128, 0, 100})
	}

	out, errNorm := imaging.Normalize(encodePNG(t, src), true)
	require.NoError(t, errNorm)

	decoded, errDecode := png.Decode(bytes.NewReader(out.PNG))
	require.NoError(t, errDecode)

	table := imaging.GammaTable()
	pixel := decoded.(*image.NRGBA).NRGBAAt(1, 1)
	require.Equal(t, color.NRGBA{R: table[64], G: table[128], B: 0, A: 100}, pixel)
}

func TestNormalizeJPEG(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, testNRGBA(16, 16, 255), nil))

	out, errNorm := imaging.Normalize(buf.Bytes(), true)
	require.NoError(t, errNorm)
	require.Equal(t, 3, out.Channels)
	require.Equal(t, 16, out.Width)
}

func TestNormalizeErrors(t *testing.T) {
	_, errEmpty := imaging.Normalize(nil, false)
	require.ErrorIs(t, errEmpty, imaging.ErrDecode)

	_, errGarbage := imaging.Normalize([]byte("<html>not found</html>"), false)
	require.ErrorIs(t, errGarbage, imaging.ErrDecode)
}

func TestSourceChannelsPalette(t *testing.T) {
	palette := color.Palette{color.NRGBA{A: 0}, color.NRGBA{R: 255, A: 255}}
	src := image.NewPaletted(image.Rect(0, 0, 2, 2), palette)
	src.SetColorIndex(1, 1, 1)

	raw := encodePNG(t, src)
	decoded, errDecode := png.Decode(bytes.NewReader(raw))
	require.NoError(t, errDecode)
	require.Equal(t, 4, imaging.SourceChannels(raw, decoded))
	require.Equal(t, 3, imaging.OutputChannels(0))
	require.Equal(t, 4, imaging.OutputChannels(5))
}
