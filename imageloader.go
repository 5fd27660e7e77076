// Package imageloader decodes PNG, JPEG and WebP images from any sequential
// byte source into tightly packed 8-bit rasters.
package imageloader

import (
	"context"
	"io"
	"sync"

	"github.com/Skryldev/image-loader/adapters/decoder"
	"github.com/Skryldev/image-loader/config"
	"github.com/Skryldev/image-loader/core"
	apperrors "github.com/Skryldev/image-loader/errors"
	"github.com/Skryldev/image-loader/utils"
)

// Re-export Format constants for convenience.
const (
	JPEG = core.FormatJPEG
	PNG  = core.FormatPNG
	WebP = core.FormatWebP
)

// Raster is the decoded pixel buffer.
type Raster = core.Raster

// DefaultConfig returns a sensible production configuration.
func DefaultConfig() config.Config { return config.Default() }

// Loader is the primary entry point.
type Loader struct {
	inner *core.Loader
	reg   *core.DefaultRegistry
}

// New creates a fully wired Loader with the built-in JPEG, PNG and WebP
// engines registered.  Pass a custom config.Config to override defaults.
func New(cfg config.Config) *Loader {
	reg := core.NewRegistry()
	// Register built-in engines.
	reg.RegisterEngine(core.FormatJPEG, decoder.NewJPEG())
	reg.RegisterEngine(core.FormatPNG, decoder.NewPNG())
	reg.RegisterEngine(core.FormatWebP, decoder.NewWebP())

	inner := core.New(cfg, reg)
	return &Loader{inner: inner, reg: reg}
}

// SetLogger attaches a structured logger.
func (l *Loader) SetLogger(lg core.Logger) { l.inner.SetLogger(lg) }

// SetMetrics attaches a metrics collector.
func (l *Loader) SetMetrics(m core.MetricsCollector) { l.inner.SetMetrics(m) }

// AddHook registers an observer for decode events.
func (l *Loader) AddHook(h core.Hook) { l.inner.AddHook(h) }

// RegisterEngine registers a custom engine factory for the given format.
func (l *Loader) RegisterEngine(f core.Format, e core.EngineFactory) { l.reg.RegisterEngine(f, e) }

// Inner exposes the underlying core.Loader for advanced use.
func (l *Loader) Inner() *core.Loader { return l.inner }

// Decode sniffs the format of src and decodes it.
func (l *Loader) Decode(ctx context.Context, src core.Source) (*Raster, core.Format, error) {
	return l.inner.Decode(ctx, src)
}

// DecodeFormat decodes src as format f without sniffing.
func (l *Loader) DecodeFormat(ctx context.Context, f core.Format, src core.Source) (*Raster, error) {
	return l.inner.DecodeFormat(ctx, f, src)
}

// DecodeHeader reads only the image header.
func (l *Loader) DecodeHeader(ctx context.Context, src core.Source) (core.Header, core.Format, error) {
	return l.inner.DecodeHeader(ctx, src)
}

// DecodeObject decodes an image held in an object store.
func (l *Loader) DecodeObject(ctx context.Context, store core.ObjectStore, key core.StorageKey) (*Raster, core.Format, error) {
	return l.inner.DecodeObject(ctx, store, key)
}

// Batch decodes multiple jobs concurrently.
func (l *Loader) Batch(ctx context.Context, jobs []core.Job) []core.JobResult {
	return l.inner.Batch(ctx, jobs)
}

// Stats returns lightweight decode statistics.
func (l *Loader) Stats() (processed, errors int64) {
	s := l.inner.Stats()
	return s.Processed, s.Errors
}

// ── Source constructors ────────────────────────────────────────────────────────

// FromReader creates a Source from an io.Reader.
func FromReader(r io.Reader) core.Source { return core.Source{Reader: r, Size: -1} }

// FromReaderWithMeta creates a Source with known size and content-type hints.
func FromReaderWithMeta(r io.Reader, size int64, contentType, name string) core.Source {
	return core.Source{Reader: r, Size: size, ContentType: contentType, Name: name}
}

// ── Package-level decoding ─────────────────────────────────────────────────────

var (
	defaultOnce   sync.Once
	defaultLoader *Loader
)

func std() *Loader {
	defaultOnce.Do(func() { defaultLoader = New(DefaultConfig()) })
	return defaultLoader
}

// Decode sniffs and decodes r with a default Loader.
func Decode(ctx context.Context, r io.Reader) (*Raster, core.Format, error) {
	return std().Decode(ctx, FromReader(r))
}

// DecodePNG decodes a PNG image from r.
func DecodePNG(ctx context.Context, r io.Reader) (*Raster, error) {
	return decodeWith(ctx, decoder.NewPNG(), r)
}

// DecodeJPEG decodes a JPEG image from r.
func DecodeJPEG(ctx context.Context, r io.Reader) (*Raster, error) {
	return decodeWith(ctx, decoder.NewJPEG(), r)
}

// DecodeWebP decodes a WebP image from r.
func DecodeWebP(ctx context.Context, r io.Reader) (*Raster, error) {
	return decodeWith(ctx, decoder.NewWebP(), r)
}

func decodeWith(ctx context.Context, f core.EngineFactory, r io.Reader) (*Raster, error) {
	if r == nil {
		return nil, apperrors.New(apperrors.CategoryInput, string(f.Format())+".decode", apperrors.ErrEmptyInput)
	}
	cfg := DefaultConfig()
	dec := core.NewDecoder(f, core.DecoderOptions{ChunkSize: cfg.ChunkSize, MaxPixels: cfg.MaxPixels})
	return dec.Decode(ctx, utils.NewStream(r))
}
