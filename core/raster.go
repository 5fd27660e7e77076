package core

import (
	"fmt"
	"image"
	"math"

	apperrors "github.com/Skryldev/image-loader/errors"
)

// Raster is a 2D buffer of pixel data.
//
// A Raster has a width and height in pixels, a depth of 8, 24 or 32 bits per
// pixel, and exactly Width*Height*Depth/8 bytes of pixel data.  Pixels and
// rows are tightly packed: a 24-bit row is not word aligned.  The channel
// order is assumed to be R, G, B[, A].
//
// The zero value is an empty 0x0 raster with no allocation.  A *Raster owns
// its pixels; two rasters never share storage.  Use Clone for a deep copy and
// Move to transfer ownership.  A Raster is not safe for concurrent mutation.
type Raster struct {
	width, height int
	depth         Depth
	pix           []byte
}

// allocate is replaced in tests to simulate allocation failure.
var allocate = func(n int) (b []byte, err error) {
	defer func() {
		// make panics with a runtime error for lengths it can never satisfy.
		if r := recover(); r != nil {
			b = nil
			err = apperrors.Fault(apperrors.CategoryMemory, "raster.allocate",
				apperrors.ErrOutOfMemory, fmt.Errorf("%d bytes: %v", n, r))
		}
	}()
	return make([]byte, n), nil
}

// ByteSize returns width*height*depth/8, or an error if the shape is invalid
// or the size does not fit in an int.
func ByteSize(width, height int, depth Depth) (int, error) {
	if !depth.Valid() {
		return 0, apperrors.New(apperrors.CategoryShape, "raster.shape",
			fmt.Errorf("%w: depth %d is not one of 8, 24, 32", apperrors.ErrInvalidShape, depth))
	}
	if width < 0 || height < 0 {
		return 0, apperrors.New(apperrors.CategoryShape, "raster.shape",
			fmt.Errorf("%w: negative dimensions %dx%d", apperrors.ErrInvalidShape, width, height))
	}
	bpp := depth.BytesPerPixel()
	if width != 0 && height > math.MaxInt/width/bpp {
		return 0, apperrors.New(apperrors.CategoryMemory, "raster.shape",
			fmt.Errorf("%w: %dx%dx%d overflows", apperrors.ErrOutOfMemory, width, height, bpp))
	}
	return width * height * bpp, nil
}

// NewRaster allocates a zeroed raster of the given shape.
func NewRaster(width, height int, depth Depth) (*Raster, error) {
	n, err := ByteSize(width, height, depth)
	if err != nil {
		return nil, err
	}
	pix, err := allocate(n)
	if err != nil {
		return nil, err
	}
	return &Raster{width: width, height: height, depth: depth, pix: pix}, nil
}

func (r *Raster) Width() int   { return r.width }
func (r *Raster) Height() int  { return r.height }
func (r *Raster) Depth() Depth { return r.depth }

// BytesPerPixel returns Depth()/8.
func (r *Raster) BytesPerPixel() int { return r.depth.BytesPerPixel() }

// Stride returns the number of bytes in one row.
func (r *Raster) Stride() int { return r.width * r.BytesPerPixel() }

// Len returns the number of pixel bytes.
func (r *Raster) Len() int { return len(r.pix) }

// Empty reports whether r holds no pixels.
func (r *Raster) Empty() bool { return len(r.pix) == 0 }

// Pix returns the pixel bytes.  Writes through the slice modify r.
func (r *Raster) Pix() []byte { return r.pix }

// Row returns row y as a sub-slice of Pix.
func (r *Raster) Row(y int) []byte {
	if y < 0 || y >= r.height {
		return nil
	}
	s := r.Stride()
	return r.pix[y*s : (y+1)*s : (y+1)*s]
}

// Clone returns a deep copy of r.
func (r *Raster) Clone() (*Raster, error) {
	if r == nil || r.depth == 0 {
		return &Raster{}, nil
	}
	c, err := NewRaster(r.width, r.height, r.depth)
	if err != nil {
		return nil, err
	}
	copy(c.pix, r.pix)
	return c, nil
}

// Move transfers r's pixels to a new Raster and leaves r empty.
func (r *Raster) Move() *Raster {
	m := &Raster{}
	m.Swap(r)
	return m
}

// Swap exchanges the contents of r and o.
func (r *Raster) Swap(o *Raster) {
	r.width, o.width = o.width, r.width
	r.height, o.height = o.height, r.height
	r.depth, o.depth = o.depth, r.depth
	r.pix, o.pix = o.pix, r.pix
}

// Assign makes r a deep copy of src.  If the copy cannot be made r is left
// unchanged.
func (r *Raster) Assign(src *Raster) error {
	c, err := src.Clone()
	if err != nil {
		return err
	}
	r.Swap(c)
	return nil
}

// AssignMove transfers src's pixels into r, releasing r's previous pixels
// and leaving src empty.
func (r *Raster) AssignMove(src *Raster) {
	m := src.Move()
	r.Swap(m)
}

// Image returns a copy of r as an image.Image: *image.Gray for 8-bit rasters
// and *image.NRGBA otherwise (opaque alpha for 24-bit).
func (r *Raster) Image() image.Image {
	rect := image.Rect(0, 0, r.width, r.height)
	switch r.depth {
	case Depth8:
		g := image.NewGray(rect)
		copy(g.Pix, r.pix)
		return g
	case Depth24:
		m := image.NewNRGBA(rect)
		for i, j := 0, 0; i+2 < len(r.pix); i, j = i+3, j+4 {
			m.Pix[j+0] = r.pix[i+0]
			m.Pix[j+1] = r.pix[i+1]
			m.Pix[j+2] = r.pix[i+2]
			m.Pix[j+3] = 0xff
		}
		return m
	case Depth32:
		m := image.NewNRGBA(rect)
		copy(m.Pix, r.pix)
		return m
	}
	return image.NewNRGBA(image.Rectangle{})
}

func (r *Raster) String() string {
	return fmt.Sprintf("Raster(%dx%d, %dbpp, %dB)", r.width, r.height, r.depth, len(r.pix))
}
