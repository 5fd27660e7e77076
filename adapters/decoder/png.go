package decoder

import (
	"encoding/binary"
	"fmt"
	"hash"
	"hash/crc32"
	"io"

	"github.com/Skryldev/image-loader/core"
	apperrors "github.com/Skryldev/image-loader/errors"
)

// Color type, as per the PNG spec.
const (
	ctGrayscale      = 0
	ctTrueColor      = 2
	ctPaletted       = 3
	ctGrayscaleAlpha = 4
	ctTrueColorAlpha = 6
)

// Decoding stage.
// The PNG specification says that the IHDR, PLTE (if present), tRNS (if
// present), IDAT and IEND chunks must appear in that order. There may be
// multiple IDAT chunks, and IDAT chunks must be sequential (i.e. they may not
// have any other chunks between them).
const (
	dsStart = iota
	dsSeenIHDR
	dsSeenPLTE
	dsSeenTRNS
	dsSeenIDAT
	dsSeenIEND
)

const pngHeader = "\x89PNG\r\n\x1a\n"

// A formatError reports that the input is not a valid PNG.
type formatError string

func (e formatError) Error() string { return "png: invalid format: " + string(e) }

var chunkOrderError = formatError("chunk out of order")

func pngUnsupported(stage, format string, args ...interface{}) error {
	return apperrors.New(apperrors.CategoryUnsupported, "png."+stage,
		fmt.Errorf("%w: "+format, append([]interface{}{apperrors.ErrUnsupportedFormat}, args...)...))
}

// PNG creates row-by-row PNG engines.  Every PNG colour type and bit depth is
// normalised to 8-bit RGB, or RGBA when the image carries alpha.
type PNG struct{}

// NewPNG returns the PNG engine factory.
func NewPNG() *PNG { return &PNG{} }

func (p *PNG) Format() core.Format { return core.FormatPNG }

func (p *PNG) NewEngine() (core.Engine, error) {
	return &pngEngine{crc: crc32.NewIEEE()}, nil
}

type pngEngine struct {
	src core.EngineSource
	crc hash.Hash32
	tmp [3 * 256]byte

	width, height int
	depth         int
	colorType     int
	interlace     int
	stage         int
	idatLength    uint32
	idatDone      bool    // the IDAT run has ended
	next          [8]byte // header of the chunk that ended the IDAT run

	palette []byte // RGB triples
	trns    []byte // alpha per palette entry

	// useTransparent and transparent are used for grayscale and truecolor
	// transparency, as opposed to palette transparency.
	useTransparent bool
	transparent    [3]uint16

	channels int // 3 or 4, as delivered

	zr     io.ReadCloser
	bpp    int // filter unit in bytes
	cr, pr []byte
	out    []byte
	frame  []byte // assembled Adam7 image
	y      int
}

func (e *pngEngine) InstallSource(src core.EngineSource) error {
	e.src = src
	return nil
}

func (e *pngEngine) ReadHeader() (core.Header, error) {
	if err := e.checkHeader(); err != nil {
		return core.Header{}, err
	}
	for e.stage != dsSeenIDAT {
		length, header, err := e.readChunkHeader()
		if err != nil {
			return core.Header{}, err
		}
		switch header {
		case "IHDR":
			if e.stage != dsStart {
				return core.Header{}, chunkOrderError
			}
			if err := e.parseIHDR(length); err != nil {
				return core.Header{}, err
			}
			e.stage = dsSeenIHDR
		case "PLTE":
			if e.stage != dsSeenIHDR {
				return core.Header{}, chunkOrderError
			}
			if err := e.parsePLTE(length); err != nil {
				return core.Header{}, err
			}
			e.stage = dsSeenPLTE
		case "tRNS":
			if e.stage < dsSeenIHDR || e.stage >= dsSeenTRNS {
				return core.Header{}, chunkOrderError
			}
			if e.colorType == ctPaletted && e.stage != dsSeenPLTE {
				return core.Header{}, chunkOrderError
			}
			if err := e.parseTRNS(length); err != nil {
				return core.Header{}, err
			}
			e.stage = dsSeenTRNS
		case "IDAT":
			if e.stage < dsSeenIHDR {
				return core.Header{}, chunkOrderError
			}
			if e.colorType == ctPaletted && e.palette == nil {
				return core.Header{}, formatError("missing PLTE")
			}
			e.idatLength = length
			e.stage = dsSeenIDAT
		case "IEND":
			return core.Header{}, formatError("missing IDAT")
		default:
			if err := e.skipChunk(header, length, "read_header"); err != nil {
				return core.Header{}, err
			}
		}
	}

	e.channels = 3
	if e.colorType == ctGrayscaleAlpha || e.colorType == ctTrueColorAlpha || e.useTransparent || e.trns != nil {
		e.channels = 4
	}
	return core.Header{
		Width:      e.width,
		Height:     e.height,
		Channels:   e.channels,
		BitDepth:   8,
		Interlaced: e.interlace == 1,
		ColorModel: pngColorModel(e.colorType),
	}, nil
}

func (e *pngEngine) Finish() error {
	if e.zr == nil {
		if err := e.startRows(); err != nil {
			return err
		}
	}
	// The zlib stream must end exactly where the pixel data does.
	var one [1]byte
	n, err := io.ReadFull(e.zr, one[:])
	if n != 0 {
		return formatError("too much pixel data")
	}
	if err != io.EOF && err != io.ErrUnexpectedEOF {
		return err
	}
	if err := e.zr.Close(); err != nil {
		return err
	}
	// Consume any IDAT padding after the zlib stream, verifying each CRC.
	if _, err := io.Copy(io.Discard, idatReader{e}); err != nil {
		return err
	}

	copy(e.tmp[:8], e.next[:])
	for {
		length := binary.BigEndian.Uint32(e.tmp[:4])
		header := string(e.tmp[4:8])
		switch header {
		case "IEND":
			if length != 0 {
				return formatError("bad IEND length")
			}
			e.stage = dsSeenIEND
			return e.verifyChecksum()
		case "IDAT":
			return chunkOrderError
		default:
			if err := e.skipChunk(header, length, "finish"); err != nil {
				return err
			}
		}
		if _, _, err := e.readChunkHeader(); err != nil {
			return err
		}
	}
}

func (e *pngEngine) Destroy() {
	if e.zr != nil {
		e.zr.Close()
		e.zr = nil
	}
	e.cr, e.pr, e.out, e.frame = nil, nil, nil, nil
	e.src = nil
}

func (e *pngEngine) checkHeader() error {
	if _, err := io.ReadFull(e.src, e.tmp[:len(pngHeader)]); err != nil {
		return err
	}
	if string(e.tmp[:len(pngHeader)]) != pngHeader {
		return formatError("not a PNG file")
	}
	return nil
}

// readChunkHeader reads a chunk's length and type into tmp[:8] and starts
// its CRC.
func (e *pngEngine) readChunkHeader() (uint32, string, error) {
	if _, err := io.ReadFull(e.src, e.tmp[:8]); err != nil {
		return 0, "", err
	}
	length := binary.BigEndian.Uint32(e.tmp[:4])
	if length > 0x7fffffff {
		return 0, "", formatError(fmt.Sprintf("bad chunk length: %d", length))
	}
	e.crc.Reset()
	e.crc.Write(e.tmp[4:8])
	return length, string(e.tmp[4:8]), nil
}

// skipChunk steps over a chunk this engine does not interpret.  Ancillary
// chunks (lower-case first letter) are skipped unread along with their CRC;
// unknown critical chunks cannot be ignored.
func (e *pngEngine) skipChunk(header string, length uint32, stage string) error {
	if header[0]&0x20 == 0 {
		return pngUnsupported(stage, "critical chunk %q", header)
	}
	return e.src.Skip(int64(length) + 4)
}

func (e *pngEngine) parseIHDR(length uint32) error {
	if length != 13 {
		return formatError("bad IHDR length")
	}
	if _, err := io.ReadFull(e.src, e.tmp[:13]); err != nil {
		return err
	}
	e.crc.Write(e.tmp[:13])
	if e.tmp[10] != 0 {
		return pngUnsupported("read_header", "compression method %d", e.tmp[10])
	}
	if e.tmp[11] != 0 {
		return pngUnsupported("read_header", "filter method %d", e.tmp[11])
	}
	if e.tmp[12] > 1 {
		return formatError("invalid interlace method")
	}
	e.interlace = int(e.tmp[12])

	w := int32(binary.BigEndian.Uint32(e.tmp[0:4]))
	h := int32(binary.BigEndian.Uint32(e.tmp[4:8]))
	if w <= 0 || h <= 0 {
		return formatError("non-positive dimension")
	}

	e.depth = int(e.tmp[8])
	e.colorType = int(e.tmp[9])
	if !validDepth(e.colorType, e.depth) {
		return pngUnsupported("read_header", "bit depth %d, color type %d", e.depth, e.colorType)
	}
	e.width, e.height = int(w), int(h)
	return e.verifyChecksum()
}

func validDepth(colorType, depth int) bool {
	switch colorType {
	case ctGrayscale:
		return depth == 1 || depth == 2 || depth == 4 || depth == 8 || depth == 16
	case ctPaletted:
		return depth == 1 || depth == 2 || depth == 4 || depth == 8
	case ctTrueColor, ctGrayscaleAlpha, ctTrueColorAlpha:
		return depth == 8 || depth == 16
	}
	return false
}

func (e *pngEngine) parsePLTE(length uint32) error {
	np := int(length / 3) // The number of palette entries.
	if length%3 != 0 || np <= 0 || np > 256 || np > 1<<uint(e.depth) {
		return formatError("bad PLTE length")
	}
	n, err := io.ReadFull(e.src, e.tmp[:3*np])
	if err != nil {
		return err
	}
	e.crc.Write(e.tmp[:n])
	switch e.colorType {
	case ctPaletted:
		e.palette = append([]byte(nil), e.tmp[:3*np]...)
	case ctTrueColor, ctTrueColorAlpha:
		// As per the PNG spec, a PLTE chunk is optional (and for practical
		// purposes, ignorable) for these color types.
	default:
		return formatError("PLTE, color type mismatch")
	}
	return e.verifyChecksum()
}

func (e *pngEngine) parseTRNS(length uint32) error {
	switch e.colorType {
	case ctGrayscale:
		if length != 2 {
			return formatError("bad tRNS length")
		}
		n, err := io.ReadFull(e.src, e.tmp[:length])
		if err != nil {
			return err
		}
		e.crc.Write(e.tmp[:n])
		e.useTransparent = true
		e.transparent[0] = binary.BigEndian.Uint16(e.tmp[0:2])
	case ctTrueColor:
		if length != 6 {
			return formatError("bad tRNS length")
		}
		n, err := io.ReadFull(e.src, e.tmp[:length])
		if err != nil {
			return err
		}
		e.crc.Write(e.tmp[:n])
		e.useTransparent = true
		for i := range e.transparent {
			e.transparent[i] = binary.BigEndian.Uint16(e.tmp[2*i:])
		}
	case ctPaletted:
		if length > 256 || int(length) > len(e.palette)/3 {
			return formatError("bad tRNS length")
		}
		n, err := io.ReadFull(e.src, e.tmp[:length])
		if err != nil {
			return err
		}
		e.crc.Write(e.tmp[:n])
		e.trns = append([]byte(nil), e.tmp[:n]...)
	default:
		return formatError("tRNS, color type mismatch")
	}
	return e.verifyChecksum()
}

func (e *pngEngine) verifyChecksum() error {
	if _, err := io.ReadFull(e.src, e.tmp[:4]); err != nil {
		return err
	}
	if binary.BigEndian.Uint32(e.tmp[:4]) != e.crc.Sum32() {
		return formatError("invalid checksum")
	}
	return nil
}

// idatReader presents one or more IDAT chunks as one continuous stream (minus
// the intermediate chunk headers and footers).  When a chunk other than IDAT
// follows, its header is kept in next and the stream ends.
type idatReader struct{ e *pngEngine }

func (r idatReader) Read(p []byte) (int, error) {
	e := r.e
	if len(p) == 0 {
		return 0, nil
	}
	for e.idatLength == 0 {
		if e.idatDone {
			return 0, io.EOF
		}
		// We have exhausted an IDAT chunk. Verify the checksum of that chunk.
		if err := e.verifyChecksum(); err != nil {
			return 0, err
		}
		length, header, err := e.readChunkHeader()
		if err != nil {
			return 0, err
		}
		if header != "IDAT" {
			copy(e.next[:], e.tmp[:8])
			e.idatDone = true
			return 0, io.EOF
		}
		e.idatLength = length
	}
	n, err := e.src.Read(p[:min(len(p), int(e.idatLength))])
	e.crc.Write(p[:n])
	e.idatLength -= uint32(n)
	return n, err
}

func pngColorModel(colorType int) string {
	switch colorType {
	case ctGrayscale:
		return "gray"
	case ctTrueColor:
		return "rgb"
	case ctPaletted:
		return "palette"
	case ctGrayscaleAlpha:
		return "gray_alpha"
	case ctTrueColorAlpha:
		return "rgba"
	}
	return "unknown"
}
