package core

import (
	"context"
	"fmt"

	apperrors "github.com/Skryldev/image-loader/errors"
)

// DecoderOptions tunes a Decoder.
type DecoderOptions struct {
	ChunkSize int   // source adapter read-ahead; default 1024
	MaxPixels int64 // 0 = no limit on width*height
	Logger    Logger
}

// Decoder drives one engine factory through the decode lifecycle.  A Decoder
// holds no per-call state and is safe for concurrent use; each call gets its
// own engine and session.
type Decoder struct {
	factory EngineFactory
	opts    DecoderOptions
}

// NewDecoder returns a Decoder for the engines f creates.
func NewDecoder(f EngineFactory, opts DecoderOptions) *Decoder {
	return &Decoder{factory: f, opts: opts}
}

// Format returns the format of the underlying engine factory.
func (d *Decoder) Format() Format { return d.factory.Format() }

// Decode reads one whole image from src.  It returns either a fully
// populated Raster or exactly one error; never both.
func (d *Decoder) Decode(ctx context.Context, src ByteSource) (*Raster, error) {
	img, _, err := d.run(ctx, src, false)
	return img, err
}

// DecodeHeader reads and validates only the header, then tears the engine
// down.
func (d *Decoder) DecodeHeader(ctx context.Context, src ByteSource) (Header, error) {
	_, h, err := d.run(ctx, src, true)
	return h, err
}

func (d *Decoder) run(ctx context.Context, src ByteSource, headerOnly bool) (*Raster, Header, error) {
	format := d.factory.Format()
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return nil, Header{}, apperrors.Wrap(apperrors.CategoryInput, string(format)+".decode", err)
		}
	}
	if src == nil {
		return nil, Header{}, apperrors.New(apperrors.CategoryInput, string(format)+".decode", apperrors.ErrEmptyInput)
	}

	// Any end of stream inside a decode is a fault.  Deferred first so it
	// is restored after the engine is destroyed.
	if ss, ok := src.(StrictSource); ok {
		prev := ss.Strict()
		ss.SetStrict(true)
		defer ss.SetStrict(prev)
	}

	s := newSession(format, src, d.opts.ChunkSize)
	err := s.call(func() error {
		e, err := d.factory.NewEngine()
		s.engine = e
		return err
	})
	if err != nil || s.engine == nil {
		s.destroy()
		if err == nil {
			err = fmt.Errorf("factory returned no engine")
		}
		return nil, Header{}, apperrors.Fault(apperrors.CategoryEngine, s.op(StateCreated.String()), apperrors.ErrEngineInit, err)
	}
	defer s.destroy()

	img, h, err := d.drive(s, headerOnly)
	if err != nil {
		if d.opts.Logger != nil {
			d.opts.Logger.Debug("decode.session.failed", "format", format, "stage", s.state.String(), "error", err.Error())
		}
		s.state = StateFailed
		return nil, h, err
	}
	return img, h, nil
}

// drive walks the session from AdaptersInstalled to Finished.
func (d *Decoder) drive(s *session, headerOnly bool) (*Raster, Header, error) {
	var h Header

	s.state = StateAdaptersInstalled
	if err := s.step(func() error { return s.engine.InstallSource(s.adapter) }); err != nil {
		return nil, h, err
	}

	s.state = StateHeaderRead
	if err := s.step(func() (err error) {
		h, err = s.engine.ReadHeader()
		return err
	}); err != nil {
		return nil, h, err
	}
	if d.opts.Logger != nil {
		d.opts.Logger.Debug("decode.header",
			"format", s.format,
			"width", h.Width,
			"height", h.Height,
			"channels", h.Channels,
			"bit_depth", h.BitDepth,
			"color_model", h.ColorModel,
		)
	}

	s.state = StateShapeValidated
	if err := d.validate(s, h); err != nil {
		return nil, h, s.fail(err)
	}
	if headerOnly {
		return nil, h, nil
	}

	s.state = StateAllocated
	img, err := NewRaster(h.Width, h.Height, Depth(h.Channels*8))
	if err != nil {
		return nil, h, s.fail(err)
	}

	s.state = StateScanlinesPulled
	if err := d.pull(s, img, h); err != nil {
		return nil, h, err
	}

	s.state = StateFinished
	if err := s.step(s.engine.Finish); err != nil {
		return nil, h, err
	}
	return img, h, nil
}

// validate checks the engine's header before it is trusted to size an
// allocation.
func (d *Decoder) validate(s *session, h Header) error {
	op := s.op(StateShapeValidated.String())
	if h.BitDepth != 8 {
		return apperrors.New(apperrors.CategoryUnsupported, op,
			fmt.Errorf("%w: %d-bit channels, only 8 is supported", apperrors.ErrUnsupportedFormat, h.BitDepth))
	}
	if h.Channels != 3 && h.Channels != 4 {
		return apperrors.New(apperrors.CategoryUnsupported, op,
			fmt.Errorf("%w: %d colour channels, want 3 or 4", apperrors.ErrUnsupportedFormat, h.Channels))
	}
	if h.Width <= 0 || h.Height <= 0 {
		return apperrors.New(apperrors.CategoryMalformed, op,
			fmt.Errorf("%w: non-positive dimensions %dx%d", apperrors.ErrMalformedStream, h.Width, h.Height))
	}
	if d.opts.MaxPixels > 0 && int64(h.Width)*int64(h.Height) > d.opts.MaxPixels {
		return apperrors.New(apperrors.CategoryMemory, op,
			fmt.Errorf("%w: %dx%d exceeds %d pixels", apperrors.ErrImageTooLarge, h.Width, h.Height, d.opts.MaxPixels))
	}
	return nil
}

// pull copies Height scanlines into sequential rows of img.  Each copy is
// clamped to the capacity left in img, whatever length the engine returns.
func (d *Decoder) pull(s *session, img *Raster, h Header) error {
	pix := img.Pix()
	stride := img.Stride()
	for y, off := 0, 0; y < h.Height; y, off = y+1, off+stride {
		var row []byte
		if err := s.step(func() (err error) {
			row, err = s.engine.PullScanline()
			return err
		}); err != nil {
			return err
		}
		if len(row) < stride {
			return s.fail(apperrors.New(apperrors.CategoryMalformed, s.op(s.state.String()),
				fmt.Errorf("%w: scanline %d has %d bytes, want %d", apperrors.ErrMalformedStream, y, len(row), stride)))
		}
		copy(pix[off:off+stride], row)
	}
	return nil
}
