package decoder_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/Skryldev/image-loader/adapters/decoder"
	"github.com/Skryldev/image-loader/core"
	apperrors "github.com/Skryldev/image-loader/errors"
	"github.com/Skryldev/image-loader/utils"
)

func stdJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func smoothRGBA(w, h int) *image.RGBA {
	m := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			m.Set(x, y, color.RGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: 128, A: 255})
		}
	}
	return m
}

// near fails unless every sample of got is within tol of img decoded with
// image/jpeg.
func near(t *testing.T, got *core.Raster, data []byte, tol int) {
	t.Helper()
	ref, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	want := nrgba(ref, 3)
	if len(got.Pix()) != len(want) {
		t.Fatalf("length: got %d, want %d", len(got.Pix()), len(want))
	}
	for i, v := range got.Pix() {
		d := int(v) - int(want[i])
		if d < -tol || d > tol {
			t.Fatalf("sample %d: got %d, want %d±%d", i, v, want[i], tol)
		}
	}
}

func TestJPEG_MatchesImageJPEG(t *testing.T) {
	w, h := 37, 21
	data := stdJPEG(t, smoothRGBA(w, h))
	img, err := decode(decoder.NewJPEG(), data)
	if err != nil {
		t.Fatal(err)
	}
	if img.Width() != w || img.Height() != h || img.Depth() != core.Depth24 {
		t.Fatalf("shape: %v", img)
	}
	near(t, img, data, 8)
}

func TestJPEG_Gray(t *testing.T) {
	m := image.NewGray(image.Rect(0, 0, 16, 16))
	for i := range m.Pix {
		m.Pix[i] = uint8(i)
	}
	data := stdJPEG(t, m)
	img, err := decode(decoder.NewJPEG(), data)
	if err != nil {
		t.Fatal(err)
	}
	if img.Depth() != core.Depth24 {
		t.Fatalf("gray should expand to RGB, got depth %d", img.Depth())
	}
	p := img.Pix()
	for i := 0; i < len(p); i += 3 {
		if p[i] != p[i+1] || p[i] != p[i+2] {
			t.Fatalf("pixel %d not gray: %v", i/3, p[i:i+3])
		}
	}
	near(t, img, data, 4)
}

// withSegments inserts APP1 and COM segments right after SOI.
func withSegments(data []byte) []byte {
	exif := append([]byte{0xff, 0xe1, 0x00, 0x10}, []byte("Exif\x00\x00MM\x00\x2a\x00\x00\x00\x08")...)
	com := append([]byte{0xff, 0xfe, 0x00, 0x07}, []byte("hello")...)
	out := append([]byte{}, data[:2]...)
	out = append(out, exif...)
	out = append(out, com...)
	return append(out, data[2:]...)
}

func TestJPEG_MetadataSegmentsSkipped(t *testing.T) {
	data := stdJPEG(t, smoothRGBA(24, 16))
	plain, err := decode(decoder.NewJPEG(), data)
	if err != nil {
		t.Fatal(err)
	}
	tagged, err := decode(decoder.NewJPEG(), withSegments(data))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(plain.Pix(), tagged.Pix()) {
		t.Fatal("metadata segments changed the decoded pixels")
	}
}

// sof builds SOI followed by a frame header with n components.
func sof(marker byte, n int) []byte {
	l := 8 + 3*n
	b := []byte{0xff, 0xd8, 0xff, marker, byte(l >> 8), byte(l), 8, 0, 4, 0, 4, byte(n)}
	for i := 0; i < n; i++ {
		b = append(b, byte(i+1), 0x11, 0)
	}
	return b
}

func TestJPEG_SixteenComponentsRejected(t *testing.T) {
	img, err := decode(decoder.NewJPEG(), sof(0xc0, 16))
	if img != nil || !errors.Is(err, apperrors.ErrUnsupportedFormat) {
		t.Fatalf("got %v, %v", img, err)
	}
	if !apperrors.IsCategory(err, apperrors.CategoryUnsupported) {
		t.Errorf("category: %q", apperrors.CategoryOf(err))
	}
}

func TestJPEG_Header(t *testing.T) {
	cases := []struct {
		name     string
		data     []byte
		channels int
		model    string
	}{
		{"gray", sof(0xc0, 1), 3, "gray"},
		{"ycbcr", sof(0xc1, 3), 3, "ycbcr"},
		{"cmyk", sof(0xc2, 4), 4, "cmyk"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			d := core.NewDecoder(decoder.NewJPEG(), core.DecoderOptions{})
			h, err := d.DecodeHeader(context.Background(), utils.NewStream(bytes.NewReader(c.data)))
			if err != nil {
				t.Fatal(err)
			}
			if h.Width != 4 || h.Height != 4 || h.Channels != c.channels || h.ColorModel != c.model {
				t.Fatalf("header: %+v", h)
			}
		})
	}
}

func TestJPEG_Malformed(t *testing.T) {
	cases := []struct {
		name string
		data []byte
		cat  apperrors.Category
	}{
		{"no SOI", []byte{0xff, 0xd9, 0xff, 0xd8}, apperrors.CategoryMalformed},
		{"EOI before SOF", []byte{0xff, 0xd8, 0xff, 0xd9}, apperrors.CategoryMalformed},
		{"SOS before SOF", []byte{0xff, 0xd8, 0xff, 0xda, 0x00, 0x02}, apperrors.CategoryMalformed},
		{"bad SOF length", []byte{0xff, 0xd8, 0xff, 0xc0, 0x00, 0x0b, 8, 0, 4, 0, 4, 3, 1, 0x11, 0}, apperrors.CategoryMalformed},
		{"lossless", sof(0xc3, 3), apperrors.CategoryUnsupported},
		{"12-bit", func() []byte { b := sof(0xc1, 3); b[6] = 12; return b }(), apperrors.CategoryUnsupported},
		{"no scan", append(sof(0xc0, 3), 0xff, 0xd9), apperrors.CategoryMalformed},
		{"empty scan", append(sof(0xc0, 3), 0xff, 0xda, 0x00, 0x0c, 3, 1, 0x00, 2, 0x11, 3, 0x11, 0, 63, 0, 0xff, 0xd9), apperrors.CategoryMalformed},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			img, err := decode(decoder.NewJPEG(), c.data)
			if img != nil || err == nil {
				t.Fatalf("got %v, %v", img, err)
			}
			if !apperrors.IsCategory(err, c.cat) {
				t.Fatalf("category: got %q, want %q (%v)", apperrors.CategoryOf(err), c.cat, err)
			}
		})
	}
}

func TestJPEG_TruncatedAtEveryOffset(t *testing.T) {
	data := stdJPEG(t, smoothRGBA(16, 16))
	for n := 0; n < len(data); n++ {
		img, err := decode(decoder.NewJPEG(), data[:n])
		if img != nil || err == nil {
			t.Fatalf("truncated at %d of %d: decode succeeded", n, len(data))
		}
		if !errors.Is(err, apperrors.ErrUnexpectedEOS) {
			t.Fatalf("truncated at %d: got %v", n, err)
		}
	}
}
