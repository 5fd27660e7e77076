// Package decoder provides the format-specific engines the core decode
// orchestrator drives.
package decoder

import (
	"bytes"
	"fmt"
	"io"

	"github.com/gen2brain/jpegn"

	"github.com/Skryldev/image-loader/core"
	apperrors "github.com/Skryldev/image-loader/errors"
	"github.com/Skryldev/image-loader/utils"
)

// JPEG markers, as per section B.1.1.3 of ITU-T T.81.
const (
	sof0Marker  = 0xc0 // Start Of Frame (Baseline Sequential).
	sof1Marker  = 0xc1 // Start Of Frame (Extended Sequential).
	sof2Marker  = 0xc2 // Start Of Frame (Progressive).
	sof15Marker = 0xcf
	dhtMarker   = 0xc4 // Define Huffman Table.
	jpgMarker   = 0xc8
	dacMarker   = 0xcc // Define Arithmetic Conditioning.
	rst0Marker  = 0xd0 // ReSTart (0).
	rst7Marker  = 0xd7 // ReSTart (7).
	soiMarker   = 0xd8 // Start Of Image.
	eoiMarker   = 0xd9 // End Of Image.
	sosMarker   = 0xda // Start Of Scan.
	app1Marker  = 0xe1
	app13Marker = 0xed
	app15Marker = 0xef
	comMarker   = 0xfe // COMment.
	temMarker   = 0x01
)

// A jpegFormatError reports that the input is not a valid JPEG.
type jpegFormatError string

func (e jpegFormatError) Error() string { return "jpeg: invalid format: " + string(e) }

// JPEG creates JPEG engines.  The marker structure is walked through the
// engine source; entropy decoding and IDCT are done by jpegn once the whole
// scan data has been collected.  Output is 8-bit RGB, or raw CMYK for
// 4-component images.
type JPEG struct{}

// NewJPEG returns the JPEG engine factory.
func NewJPEG() *JPEG { return &JPEG{} }

func (j *JPEG) Format() core.Format { return core.FormatJPEG }

func (j *JPEG) NewEngine() (core.Engine, error) {
	return &jpegEngine{buf: utils.AcquireBuffer()}, nil
}

type jpegEngine struct {
	src core.EngineSource
	buf *bytes.Buffer // the stream as handed to jpegn, minus skipped segments
	tmp [2]byte
	seg []byte

	width, height int
	components    int
	precision     int
	channels      int

	rows []byte
	y    int
}

func (e *jpegEngine) InstallSource(src core.EngineSource) error {
	e.src = src
	return nil
}

func (e *jpegEngine) ReadHeader() (core.Header, error) {
	if _, err := io.ReadFull(e.src, e.tmp[:2]); err != nil {
		return core.Header{}, err
	}
	if e.tmp[0] != 0xff || e.tmp[1] != soiMarker {
		return core.Header{}, jpegFormatError("missing SOI marker")
	}
	e.buf.Write(e.tmp[:2])

	for {
		marker, err := e.src.Resync()
		if err != nil {
			return core.Header{}, err
		}
		switch {
		case marker == eoiMarker, marker == sosMarker:
			return core.Header{}, jpegFormatError("missing SOF marker")
		case isSOF(marker):
			if err := e.parseSOF(marker); err != nil {
				return core.Header{}, err
			}
			return e.header(), nil
		default:
			if err := e.segment(marker); err != nil {
				return core.Header{}, err
			}
		}
	}
}

func isSOF(m byte) bool {
	return m >= sof0Marker && m <= sof15Marker && m != dhtMarker && m != jpgMarker && m != dacMarker
}

func (e *jpegEngine) header() core.Header {
	h := core.Header{
		Width:    e.width,
		Height:   e.height,
		BitDepth: e.precision,
	}
	switch e.components {
	case 1:
		h.Channels, h.ColorModel = 3, "gray"
	case 3:
		h.Channels, h.ColorModel = 3, "ycbcr"
	case 4:
		h.Channels, h.ColorModel = 4, "cmyk"
	default:
		// Reported as-is; the orchestrator refuses to size a raster for it.
		h.Channels, h.ColorModel = e.components, "unknown"
	}
	e.channels = h.Channels
	return h
}

// readLength reads a segment's length field and returns the payload size.
func (e *jpegEngine) readLength() (int, error) {
	if _, err := io.ReadFull(e.src, e.tmp[:2]); err != nil {
		return 0, err
	}
	n := int(e.tmp[0])<<8 | int(e.tmp[1])
	if n < 2 {
		return 0, jpegFormatError("short segment length")
	}
	return n - 2, nil
}

func (e *jpegEngine) parseSOF(marker byte) error {
	n, err := e.readLength()
	if err != nil {
		return err
	}
	if n < 6 {
		return jpegFormatError("short SOF segment")
	}
	e.seg = append(e.seg[:0], 0xff, marker, e.tmp[0], e.tmp[1])
	start := len(e.seg)
	e.seg = append(e.seg, make([]byte, n)...)
	if _, err := io.ReadFull(e.src, e.seg[start:]); err != nil {
		return err
	}
	p := e.seg[start:]
	e.precision = int(p[0])
	e.height = int(p[1])<<8 | int(p[2])
	e.width = int(p[3])<<8 | int(p[4])
	e.components = int(p[5])
	if n != 6+3*e.components {
		return jpegFormatError("bad SOF length")
	}
	switch marker {
	case sof0Marker, sof1Marker, sof2Marker:
	default:
		return apperrors.New(apperrors.CategoryUnsupported, "jpeg.read_header",
			fmt.Errorf("%w: SOF%d coding process", apperrors.ErrUnsupportedFormat, marker-sof0Marker))
	}
	e.buf.Write(e.seg)
	return nil
}

// segment handles one marker segment outside the frame header.  Metadata the
// decoder has no use for is skipped without being read; everything else is
// kept for jpegn.
func (e *jpegEngine) segment(marker byte) error {
	switch {
	case marker >= rst0Marker && marker <= rst7Marker, marker == temMarker:
		// Standalone markers carry no length.
		return nil
	case marker >= app1Marker && marker <= app13Marker, marker == app15Marker, marker == comMarker:
		n, err := e.readLength()
		if err != nil {
			return err
		}
		return e.src.Skip(int64(n))
	}
	n, err := e.readLength()
	if err != nil {
		return err
	}
	e.buf.Write([]byte{0xff, marker, e.tmp[0], e.tmp[1]})
	_, err = io.CopyN(e.buf, e.src, int64(n))
	return err
}

// collect walks the rest of the stream up to EOI, copying scan data as is.
func (e *jpegEngine) collect() error {
	sawSOS := false
	marker, err := e.src.Resync()
	for {
		if err != nil {
			return err
		}
		switch {
		case marker == eoiMarker:
			if !sawSOS {
				return jpegFormatError("no scan data")
			}
			e.buf.Write([]byte{0xff, eoiMarker})
			return nil
		case marker == soiMarker:
			return jpegFormatError("unexpected SOI marker")
		case isSOF(marker):
			return jpegFormatError("multiple SOF markers")
		case marker == sosMarker:
			if err = e.segment(marker); err != nil {
				return err
			}
			sawSOS = true
			marker, err = e.scan()
		default:
			if err = e.segment(marker); err != nil {
				return err
			}
			marker, err = e.src.Resync()
		}
	}
}

// scan copies entropy-coded data, including byte stuffing and restart
// markers, and returns the first real marker after it.  A scan with no
// entropy-coded bytes at all is malformed.
func (e *jpegEngine) scan() (byte, error) {
	n := 0
	for {
		b, err := e.src.ReadByte()
		if err != nil {
			return 0, err
		}
		if b != 0xff {
			e.buf.WriteByte(b)
			n++
			continue
		}
		for b == 0xff {
			if b, err = e.src.ReadByte(); err != nil {
				return 0, err
			}
		}
		if b == 0x00 || (b >= rst0Marker && b <= rst7Marker) {
			e.buf.Write([]byte{0xff, b})
			n++
			continue
		}
		if n == 0 {
			return 0, jpegFormatError("empty scan")
		}
		return b, nil
	}
}

func (e *jpegEngine) decode() error {
	if err := e.collect(); err != nil {
		return err
	}
	img, err := jpegn.Decode(bytes.NewReader(e.buf.Bytes()), &jpegn.Options{})
	if err != nil {
		return fmt.Errorf("jpeg: %w", err)
	}
	b := img.Bounds()
	if b.Dx() != e.width || b.Dy() != e.height {
		return jpegFormatError(fmt.Sprintf("decoded %dx%d, header says %dx%d", b.Dx(), b.Dy(), e.width, e.height))
	}
	e.rows = make([]byte, e.width*e.height*e.channels)
	packRows(e.rows, img, e.channels)
	return nil
}

func (e *jpegEngine) PullScanline() ([]byte, error) {
	if e.rows == nil {
		if err := e.decode(); err != nil {
			return nil, err
		}
	}
	if e.y >= e.height {
		return nil, io.EOF
	}
	stride := e.width * e.channels
	row := e.rows[e.y*stride : (e.y+1)*stride]
	e.y++
	return row, nil
}

// Finish has nothing left to read: collect already consumed through EOI.
func (e *jpegEngine) Finish() error {
	if e.rows == nil {
		return jpegFormatError("no scan data")
	}
	return nil
}

func (e *jpegEngine) Destroy() {
	if e.buf != nil {
		utils.ReleaseBuffer(e.buf)
		e.buf = nil
	}
	e.rows, e.seg, e.src = nil, nil, nil
}
