package decoder

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"image/color"
	"io"

	"golang.org/x/image/webp"

	"github.com/Skryldev/image-loader/core"
	"github.com/Skryldev/image-loader/utils"
)

const riffHeaderLen = 12

// WebP creates WebP engines on top of golang.org/x/image/webp, which decodes
// lossy (VP8), lossless (VP8L) and extended (VP8X with alpha) files but not
// animation.  The RIFF container is read through the engine source; the
// payload is buffered whole before decoding.
type WebP struct{}

// NewWebP returns the WebP engine factory.
func NewWebP() *WebP { return &WebP{} }

func (w *WebP) Format() core.Format { return core.FormatWebP }

func (w *WebP) NewEngine() (core.Engine, error) { return &webpEngine{}, nil }

type webpEngine struct {
	src  core.EngineSource
	buf  *bytes.Buffer
	hdr  core.Header
	rows []byte
	y    int
}

func (e *webpEngine) InstallSource(src core.EngineSource) error {
	e.src = src
	return nil
}

func (e *webpEngine) ReadHeader() (core.Header, error) {
	var riff [riffHeaderLen]byte
	if _, err := io.ReadFull(e.src, riff[:]); err != nil {
		return core.Header{}, err
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WEBP" {
		return core.Header{}, fmt.Errorf("webp: missing RIFF/WEBP header")
	}
	size := binary.LittleEndian.Uint32(riff[4:8])
	if size < 4 || size&1 != 0 {
		return core.Header{}, fmt.Errorf("webp: invalid RIFF size %d", size)
	}

	// The payload after "WEBP" is exactly size-4 bytes; the adapter turns a
	// short stream into a fault before LimitReader can report EOF.
	payload, err := utils.DrainReader(context.Background(), io.LimitReader(e.src, int64(size)-4), 32*1024)
	if err != nil {
		return core.Header{}, err
	}
	e.buf = utils.AcquireBuffer()
	e.buf.Write(riff[:])
	e.buf.Write(payload.Bytes())
	utils.ReleaseBuffer(payload)

	cfg, err := webp.DecodeConfig(bytes.NewReader(e.buf.Bytes()))
	if err != nil {
		return core.Header{}, err
	}
	e.hdr = core.Header{Width: cfg.Width, Height: cfg.Height, Channels: 3, BitDepth: 8, ColorModel: "ycbcr"}
	switch cfg.ColorModel {
	case color.NRGBAModel:
		e.hdr.Channels, e.hdr.ColorModel = 4, "rgba"
	case color.NYCbCrAModel:
		e.hdr.Channels, e.hdr.ColorModel = 4, "ycbcra"
	}
	return e.hdr, nil
}

func (e *webpEngine) PullScanline() ([]byte, error) {
	if e.rows == nil {
		img, err := webp.Decode(bytes.NewReader(e.buf.Bytes()))
		if err != nil {
			return nil, err
		}
		b := img.Bounds()
		if b.Dx() != e.hdr.Width || b.Dy() != e.hdr.Height {
			return nil, fmt.Errorf("webp: decoded %dx%d, header says %dx%d", b.Dx(), b.Dy(), e.hdr.Width, e.hdr.Height)
		}
		e.rows = make([]byte, e.hdr.Width*e.hdr.Height*e.hdr.Channels)
		packRows(e.rows, img, e.hdr.Channels)
	}
	if e.y >= e.hdr.Height {
		return nil, io.EOF
	}
	stride := e.hdr.Width * e.hdr.Channels
	row := e.rows[e.y*stride : (e.y+1)*stride]
	e.y++
	return row, nil
}

// Finish has nothing left to read: the RIFF payload was consumed whole.
func (e *webpEngine) Finish() error { return nil }

func (e *webpEngine) Destroy() {
	if e.buf != nil {
		utils.ReleaseBuffer(e.buf)
		e.buf = nil
	}
	e.rows, e.src = nil, nil
}
