package core

import (
	"context"
	"io"
)

// Format identifies an image codec.
type Format string

const (
	FormatJPEG    Format = "jpeg"
	FormatPNG     Format = "png"
	FormatWebP    Format = "webp"
	FormatUnknown Format = "unknown"
)

// Depth is a raster's bits per pixel.
type Depth int

const (
	Depth8  Depth = 8  // one 8-bit channel
	Depth24 Depth = 24 // three 8-bit channels, RGB
	Depth32 Depth = 32 // four 8-bit channels, RGBA (or CMYK for 4-component JPEG)
)

// Valid reports whether d is a supported raster depth.
func (d Depth) Valid() bool {
	return d == Depth8 || d == Depth24 || d == Depth32
}

// BytesPerPixel returns d/8.
func (d Depth) BytesPerPixel() int { return int(d) >> 3 }

// Header is what an engine reports once it has parsed the stream header,
// after its own normalising transforms have been applied.
type Header struct {
	Width    int
	Height   int
	Channels int // samples per pixel delivered by PullScanline
	BitDepth int // bits per sample delivered by PullScanline

	// Informational.
	Interlaced bool
	ColorModel string // e.g. "rgb", "rgba", "gray", "palette", "ycbcr", "cmyk"
}

// Stride returns the number of bytes in one delivered scanline.
func (h Header) Stride() int { return h.Width * h.Channels * h.BitDepth / 8 }

// State is a decode session's position in its lifecycle.
type State int

const (
	StateCreated State = iota
	StateAdaptersInstalled
	StateHeaderRead
	StateShapeValidated
	StateAllocated
	StateScanlinesPulled
	StateFinished
	StateFailed
)

var stateNames = [...]string{
	StateCreated:           "create",
	StateAdaptersInstalled: "install_source",
	StateHeaderRead:        "read_header",
	StateShapeValidated:    "validate",
	StateAllocated:         "allocate",
	StateScanlinesPulled:   "pull_scanlines",
	StateFinished:          "finish",
	StateFailed:            "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Source abstracts where raw bytes come from (reader, file, object store).
type Source struct {
	Reader      io.Reader
	ContentType string // optional hint
	Name        string // optional logical name / filename
	Size        int64  // -1 if unknown
}

// Job encapsulates one unit of work for Loader.Batch.
type Job struct {
	ID     string
	Source Source
	Format Format // FormatUnknown sniffs the stream
}

// JobResult wraps the outcome of a batch job.
type JobResult struct {
	JobID  string
	Format Format
	Raster *Raster
	Err    error
}

// Hook is an optional observer invoked around each decode.
type Hook interface {
	BeforeDecode(ctx context.Context, format Format, name string)
	AfterDecode(ctx context.Context, ev DecodeEvent)
}

// StorageKey uniquely identifies a stored image.
type StorageKey struct {
	Bucket string
	Path   string
}
