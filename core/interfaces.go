package core

import (
	"context"
	"io"
	"time"
)

// ByteSource is the sequential input a decode reads from.  Read follows the
// io.Reader contract; a short read is only expected at true end of stream.
type ByteSource interface {
	io.Reader
	// Skip advances the read position by n bytes without materialising them
	// and returns how many bytes were actually skipped.
	Skip(n int64) (int64, error)
}

// StrictSource is a ByteSource with a configurable end-of-stream policy.
// In strict mode reaching end of stream is reported as a fault instead of a
// plain io.EOF.  Decoders raise strictness for the duration of one decode
// and restore the previous setting on every exit path.
type StrictSource interface {
	ByteSource
	Strict() bool
	SetStrict(strict bool)
}

// EngineSource is the callback surface a decoder engine pulls bytes through.
// Engines must treat any error it returns as fatal and propagate it; the
// decode session already knows the real cause.
type EngineSource interface {
	io.Reader
	io.ByteReader
	// Skip discards n bytes of input.
	Skip(n int64) error
	// Resync discards input up to the next marker (0xFF followed by a byte
	// other than 0x00 or 0xFF) and returns the marker code.  The marker is
	// consumed.
	Resync() (marker byte, err error)
}

// Engine is one instance of a pull-based decoder.  An Engine lives for
// exactly one decode call.  Every method may fail fatally, either by
// returning an error or by calling Abort.
type Engine interface {
	InstallSource(src EngineSource) error
	ReadHeader() (Header, error)
	// PullScanline returns the next decoded row.  The slice is owned by the
	// engine and only valid until the next call.
	PullScanline() ([]byte, error)
	// Finish consumes the stream trailer and checks its integrity.
	Finish() error
	// Destroy releases engine-owned resources.  It must be safe to call on
	// a partially initialised engine.
	Destroy()
}

// EngineFactory creates engines for one format.  NewEngine must return an
// untyped nil Engine on failure, never a typed nil pointer.
type EngineFactory interface {
	Format() Format
	NewEngine() (Engine, error)
}

// ObjectStore opens stored images for decoding.
// Implementations live in adapters/storage/.
type ObjectStore interface {
	Open(ctx context.Context, key StorageKey) (io.ReadCloser, error)
	Exists(ctx context.Context, key StorageKey) (bool, error)
}

// MetricsCollector receives performance observations from decodes.
type MetricsCollector interface {
	RecordDecodeTime(format string, d time.Duration)
	RecordThroughput(bytes int64)
	RecordError(format string, category string)
}

// Logger is a minimal structured logging interface.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

// Registry maps Format values to engine factories.
type Registry interface {
	EngineFor(format Format) (EngineFactory, bool)
	RegisterEngine(format Format, f EngineFactory)
	Formats() []Format
}

// DecodeEvent describes one finished decode for hooks.
type DecodeEvent struct {
	ID       string
	Name     string
	Format   Format
	Header   Header
	Duration time.Duration
	Bytes    int64 // raster bytes produced
	Err      error
}
