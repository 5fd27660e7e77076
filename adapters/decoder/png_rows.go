package decoder

import (
	"io"

	"github.com/klauspost/compress/zlib"

	"github.com/Skryldev/image-loader/core"
)

// Filter type, as per the PNG spec.
const (
	ftNone    = 0
	ftSub     = 1
	ftUp      = 2
	ftAverage = 3
	ftPaeth   = 4
)

// interlaceScan defines the placement and size of a pass for Adam7 interlacing.
type interlaceScan struct {
	xFactor, yFactor, xOffset, yOffset int
}

// interlacing defines Adam7 interlacing, with 7 passes of reduced images.
// See https://www.w3.org/TR/PNG/#8Interlace
var interlacing = []interlaceScan{
	{8, 8, 0, 0},
	{8, 8, 4, 0},
	{4, 8, 0, 4},
	{4, 4, 2, 0},
	{2, 4, 0, 2},
	{2, 2, 1, 0},
	{1, 2, 0, 1},
}

func samplesPerPixel(colorType int) int {
	switch colorType {
	case ctTrueColor:
		return 3
	case ctGrayscaleAlpha:
		return 2
	case ctTrueColorAlpha:
		return 4
	}
	return 1
}

// startRows opens the zlib stream over the IDAT run and sizes the row buffers.
func (e *pngEngine) startRows() error {
	zr, err := zlib.NewReader(idatReader{e})
	if err != nil {
		return err
	}
	e.zr = zr

	bitsPerPixel := e.depth * samplesPerPixel(e.colorType)
	e.bpp = (bitsPerPixel + 7) / 8

	// The +1 is for the per-row filter type, which is at cr[0].
	rowSize := 1 + (int64(bitsPerPixel)*int64(e.width)+7)/8
	if rowSize != int64(int(rowSize)) {
		return pngUnsupported("pull_scanlines", "dimension overflow")
	}
	// cr and pr are the bytes for the current and previous row.
	e.cr = make([]uint8, rowSize)
	e.pr = make([]uint8, rowSize)
	e.out = make([]uint8, e.width*e.channels)
	return nil
}

func (e *pngEngine) PullScanline() ([]byte, error) {
	if e.zr == nil {
		if err := e.startRows(); err != nil {
			return nil, err
		}
		if e.interlace == 1 {
			if err := e.readInterlaced(); err != nil {
				return nil, err
			}
		}
	}
	if e.y >= e.height {
		return nil, io.EOF
	}

	if e.frame != nil {
		stride := e.width * e.channels
		row := e.frame[e.y*stride : (e.y+1)*stride]
		e.y++
		return row, nil
	}

	cdat, err := e.readRow(e.cr, e.pr)
	if err != nil {
		return nil, err
	}
	e.expand(e.out, cdat, e.width)
	e.pr, e.cr = e.cr, e.pr
	e.y++
	return e.out, nil
}

// readInterlaced decodes all seven passes into frame.
func (e *pngEngine) readInterlaced() error {
	stride := e.width * e.channels
	e.frame = make([]byte, stride*e.height)
	bitsPerPixel := e.depth * samplesPerPixel(e.colorType)
	for _, p := range interlacing {
		pw := (e.width - p.xOffset + p.xFactor - 1) / p.xFactor
		ph := (e.height - p.yOffset + p.yFactor - 1) / p.yFactor
		// Passes with zero width or height contain no data, not even
		// filter bytes.
		if pw <= 0 || ph <= 0 {
			continue
		}
		rowSize := 1 + (bitsPerPixel*pw+7)/8
		cr, pr := e.cr[:rowSize], e.pr[:rowSize]
		clear(pr)
		for py := 0; py < ph; py++ {
			cdat, err := e.readRow(cr, pr)
			if err != nil {
				return err
			}
			e.expand(e.out, cdat, pw)
			y := p.yOffset + py*p.yFactor
			for px := 0; px < pw; px++ {
				x := p.xOffset + px*p.xFactor
				copy(e.frame[y*stride+x*e.channels:], e.out[px*e.channels:(px+1)*e.channels])
			}
			cr, pr = pr, cr
		}
	}
	return nil
}

// readRow reads and unfilters one row into cr, using pr as the previous row.
func (e *pngEngine) readRow(cr, pr []byte) ([]byte, error) {
	if _, err := io.ReadFull(e.zr, cr); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, formatError("not enough pixel data")
		}
		return nil, err
	}

	// Apply the filter.
	cdat := cr[1:]
	pdat := pr[1:]
	bpp := e.bpp
	switch cr[0] {
	case ftNone:
		// No-op.
	case ftSub:
		for i := bpp; i < len(cdat); i++ {
			cdat[i] += cdat[i-bpp]
		}
	case ftUp:
		for i, p := range pdat {
			cdat[i] += p
		}
	case ftAverage:
		// The first column has no column to the left of it, so it is a
		// special case.
		for i := 0; i < bpp && i < len(cdat); i++ {
			cdat[i] += pdat[i] / 2
		}
		for i := bpp; i < len(cdat); i++ {
			cdat[i] += uint8((int(cdat[i-bpp]) + int(pdat[i])) / 2)
		}
	case ftPaeth:
		filterPaeth(cdat, pdat, bpp)
	default:
		return nil, formatError("bad filter type")
	}
	return cdat, nil
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// paeth implements the Paeth filter function, as per the PNG specification.
func paeth(a, b, c uint8) uint8 {
	// This is an optimized version of the sample code in the PNG spec.
	// For example, the sample code starts with:
	//	p := int(a) + int(b) - int(c)
	//	pa := abs(p - int(a))
	// but the optimized form uses fewer arithmetic operations:
	//	pa := int(b) - int(c)
	//	pa = abs(pa)
	pc := int(c)
	pa := int(b) - pc
	pb := int(a) - pc
	pc = abs(pa + pb)
	pa = abs(pa)
	pb = abs(pb)
	if pa <= pb && pa <= pc {
		return a
	} else if pb <= pc {
		return b
	}
	return c
}

func filterPaeth(cdat, pdat []byte, bpp int) {
	for i := range cdat {
		var a, c uint8
		if i >= bpp {
			a, c = cdat[i-bpp], pdat[i-bpp]
		}
		cdat[i] += paeth(a, pdat[i], c)
	}
}

// sample returns the i'th raw sample of an unfiltered row at the native bit
// depth.
func (e *pngEngine) sample(cdat []byte, i int) uint16 {
	switch e.depth {
	case 8:
		return uint16(cdat[i])
	case 16:
		return uint16(cdat[2*i])<<8 | uint16(cdat[2*i+1])
	}
	per := 8 / e.depth
	shift := uint(8 - e.depth*(i%per+1))
	mask := uint16(1)<<uint(e.depth) - 1
	return uint16(cdat[i/per]>>shift) & mask
}

// to8 scales a raw sample to 8 bits.
func (e *pngEngine) to8(v uint16) uint8 {
	switch e.depth {
	case 8:
		return uint8(v)
	case 16:
		return uint8((uint32(v)*255 + 32895) >> 16)
	}
	return uint8(uint32(v) * 255 / (uint32(1)<<uint(e.depth) - 1))
}

// expand converts width pixels of an unfiltered row into packed 8-bit RGB or
// RGBA in dst.
func (e *pngEngine) expand(dst, cdat []byte, width int) {
	nc := e.channels
	switch e.colorType {
	case ctGrayscale:
		for x, o := 0, 0; x < width; x, o = x+1, o+nc {
			v := e.sample(cdat, x)
			g := e.to8(v)
			dst[o], dst[o+1], dst[o+2] = g, g, g
			if nc == 4 {
				dst[o+3] = 0xff
				if v == e.transparent[0] {
					dst[o+3] = 0x00
				}
			}
		}
	case ctTrueColor:
		if e.depth == 8 && nc == 3 {
			copy(dst, cdat[:3*width])
			return
		}
		for x, o := 0, 0; x < width; x, o = x+1, o+nc {
			r, g, b := e.sample(cdat, 3*x), e.sample(cdat, 3*x+1), e.sample(cdat, 3*x+2)
			dst[o], dst[o+1], dst[o+2] = e.to8(r), e.to8(g), e.to8(b)
			if nc == 4 {
				dst[o+3] = 0xff
				if r == e.transparent[0] && g == e.transparent[1] && b == e.transparent[2] {
					dst[o+3] = 0x00
				}
			}
		}
	case ctPaletted:
		n := len(e.palette) / 3
		for x, o := 0, 0; x < width; x, o = x+1, o+nc {
			idx := int(e.sample(cdat, x))
			if idx >= n {
				core.Abort(formatError("palette index out of range"))
			}
			copy(dst[o:o+3], e.palette[3*idx:3*idx+3])
			if nc == 4 {
				dst[o+3] = 0xff
				if idx < len(e.trns) {
					dst[o+3] = e.trns[idx]
				}
			}
		}
	case ctGrayscaleAlpha:
		for x, o := 0, 0; x < width; x, o = x+1, o+4 {
			g := e.to8(e.sample(cdat, 2*x))
			dst[o], dst[o+1], dst[o+2] = g, g, g
			dst[o+3] = e.to8(e.sample(cdat, 2*x+1))
		}
	case ctTrueColorAlpha:
		if e.depth == 8 {
			copy(dst, cdat[:4*width])
			return
		}
		for i := 0; i < 4*width; i++ {
			dst[i] = e.to8(e.sample(cdat, i))
		}
	}
}
