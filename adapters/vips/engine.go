//go:build vips

// Package vips is an optional libvips-backed decoder.  Build with -tags vips
// and have libvips installed.
package vips

import (
	"bytes"
	"context"
	"errors"
	"io"
	"runtime"
	"sync"

	govips "github.com/davidbyttow/govips/v2/vips"

	"github.com/Skryldev/image-loader/core"
	apperrors "github.com/Skryldev/image-loader/errors"
	"github.com/Skryldev/image-loader/utils"
)

// BackendConfig configures the libvips backend.
type BackendConfig struct {
	MaxCacheSize int
	MaxWorkers   int
	ReportLeaks  bool
	ChunkSize    int
	MaxPixels    int64
	Logger       core.Logger
}

var (
	startOnce sync.Once
	stopOnce  sync.Once
)

// Startup initialises libvips for the process.  Only the first call has
// any effect.
func Startup(cfg BackendConfig) {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = runtime.NumCPU()
	}
	startOnce.Do(func() {
		govips.Startup(&govips.Config{
			ConcurrencyLevel: cfg.MaxWorkers,
			MaxCacheSize:     cfg.MaxCacheSize,
			ReportLeaks:      cfg.ReportLeaks,
		})
	})
}

// Shutdown releases all libvips resources.  Call once at process exit.
func Shutdown() {
	stopOnce.Do(govips.Shutdown)
}

// Backend decodes any format libvips understands into a core.Raster.
// Safe for concurrent use across goroutines.
type Backend struct {
	cfg BackendConfig
}

// NewBackend starts libvips if needed and returns a ready Backend.
func NewBackend(cfg BackendConfig) *Backend {
	Startup(cfg)
	return &Backend{cfg: cfg}
}

// Decode buffers r whole (libvips decodes from memory) and runs the buffer
// through the core decode lifecycle.
func (b *Backend) Decode(ctx context.Context, r io.Reader) (*core.Raster, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryInput, "vips.decode", err)
	}
	buf, err := utils.DrainReader(ctx, r, 32*1024)
	if err != nil {
		return nil, apperrors.Fault(apperrors.CategorySource, "vips.drain", apperrors.ErrSourceFault, err)
	}
	raw := utils.CloneBytes(buf.Bytes())
	utils.ReleaseBuffer(buf)
	if len(raw) == 0 {
		return nil, apperrors.New(apperrors.CategoryInput, "vips.decode", apperrors.ErrEmptyInput)
	}

	dec := core.NewDecoder(&factory{raw: raw}, core.DecoderOptions{
		ChunkSize: b.cfg.ChunkSize,
		MaxPixels: b.cfg.MaxPixels,
		Logger:    b.cfg.Logger,
	})
	return dec.Decode(ctx, utils.NewStream(bytes.NewReader(raw)))
}

// factory hands each engine the buffer the stream was built from.
type factory struct{ raw []byte }

func (f *factory) Format() core.Format { return "vips" }

func (f *factory) NewEngine() (core.Engine, error) { return &engine{raw: f.raw}, nil }

type engine struct {
	src  core.EngineSource
	raw  []byte
	ref  *govips.ImageRef
	pix  []byte
	w, h int
	nc   int
	y    int
}

func (e *engine) InstallSource(src core.EngineSource) error {
	e.src = src
	return nil
}

func (e *engine) ReadHeader() (core.Header, error) {
	// The stream is the buffer; consume it so the source ends where it should.
	if err := e.src.Skip(int64(len(e.raw))); err != nil {
		return core.Header{}, err
	}
	ref, err := govips.NewImageFromBuffer(e.raw)
	if err != nil {
		return core.Header{}, err
	}
	e.ref = ref
	if err := ref.ToColorSpace(govips.InterpretationSRGB); err != nil {
		return core.Header{}, err
	}
	if err := ref.Cast(govips.BandFormatUchar); err != nil {
		return core.Header{}, err
	}
	e.w, e.h, e.nc = ref.Width(), ref.Height(), ref.Bands()
	return core.Header{
		Width:      e.w,
		Height:     e.h,
		Channels:   e.nc,
		BitDepth:   8,
		ColorModel: vipsFormatName(ref.Format()),
	}, nil
}

func (e *engine) PullScanline() ([]byte, error) {
	if e.pix == nil {
		pix, err := e.ref.ToBytes()
		if err != nil {
			return nil, err
		}
		if len(pix) < e.w*e.h*e.nc {
			return nil, errors.New("vips: short pixel buffer")
		}
		e.pix = pix
	}
	stride := e.w * e.nc
	if e.y >= e.h {
		return nil, io.EOF
	}
	row := e.pix[e.y*stride : (e.y+1)*stride]
	e.y++
	return row, nil
}

func (e *engine) Finish() error { return nil }

func (e *engine) Destroy() {
	if e.ref != nil {
		e.ref.Close()
		e.ref = nil
	}
	e.pix, e.raw, e.src = nil, nil, nil
}

func vipsFormatName(f govips.ImageType) string {
	switch f {
	case govips.ImageTypeJPEG:
		return string(core.FormatJPEG)
	case govips.ImageTypePNG:
		return string(core.FormatPNG)
	case govips.ImageTypeWEBP:
		return string(core.FormatWebP)
	}
	return string(core.FormatUnknown)
}
