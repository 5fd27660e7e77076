package core

import (
	"bufio"
	"context"
	"errors"
	"io"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/google/uuid"

	"github.com/Skryldev/image-loader/config"
	apperrors "github.com/Skryldev/image-loader/errors"
	"github.com/Skryldev/image-loader/utils"
)

// sniffLen is how many leading bytes format detection looks at.
const sniffLen = 512

// Loader is the central entry point.  It is safe for concurrent use; each
// decode runs synchronously on the calling goroutine.
type Loader struct {
	cfg      config.Config
	registry Registry
	hooks    []Hook
	logger   Logger
	metrics  MetricsCollector

	// Atomic counters for lightweight internal metrics.
	processedCount int64
	errorCount     int64
}

// New creates a Loader with the given config.  Engines are looked up in reg.
func New(cfg config.Config, reg Registry) *Loader {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = config.Default().ChunkSize
	}
	return &Loader{cfg: cfg, registry: reg}
}

// SetLogger attaches a structured logger.
func (l *Loader) SetLogger(lg Logger) { l.logger = lg }

// SetMetrics attaches a metrics collector.
func (l *Loader) SetMetrics(m MetricsCollector) { l.metrics = m }

// AddHook registers a decode hook.
func (l *Loader) AddHook(h Hook) { l.hooks = append(l.hooks, h) }

// Registry returns the underlying registry so callers can register engines
// after construction.
func (l *Loader) Registry() Registry { return l.registry }

// Config returns the loader's configuration.
func (l *Loader) Config() config.Config { return l.cfg }

// Decode sniffs the format of src and decodes it.
func (l *Loader) Decode(ctx context.Context, src Source) (*Raster, Format, error) {
	return l.decodeAs(ctx, FormatUnknown, src)
}

// DecodeFormat decodes src with the engine registered for f.
func (l *Loader) DecodeFormat(ctx context.Context, f Format, src Source) (*Raster, error) {
	img, _, err := l.decodeAs(ctx, f, src)
	return img, err
}

// DecodeHeader sniffs the format of src and reads only its header.
func (l *Loader) DecodeHeader(ctx context.Context, src Source) (Header, Format, error) {
	stream, format, err := l.open(src, FormatUnknown)
	if err != nil {
		return Header{}, format, err
	}
	dec, err := l.decoderFor(format)
	if err != nil {
		return Header{}, format, err
	}
	h, err := dec.DecodeHeader(ctx, stream)
	return h, format, err
}

// DecodeObject opens key in store and decodes it.
func (l *Loader) DecodeObject(ctx context.Context, store ObjectStore, key StorageKey) (*Raster, Format, error) {
	if store == nil {
		return nil, FormatUnknown, apperrors.New(apperrors.CategoryStorage, "decode_object", errors.New("nil object store"))
	}
	rc, err := store.Open(ctx, key)
	if err != nil {
		return nil, FormatUnknown, err
	}
	defer rc.Close()
	return l.Decode(ctx, Source{Reader: rc, Name: key.Path, Size: -1})
}

// Batch decodes jobs concurrently on a worker pool and returns one result
// per job, in order.
func (l *Loader) Batch(ctx context.Context, jobs []Job) []JobResult {
	results := make([]JobResult, len(jobs))
	wp := workerpool.New(l.workers())
	for i, job := range jobs {
		if job.ID == "" {
			job.ID = uuid.NewString()
		}
		wp.Submit(func() {
			img, f, err := l.decodeAs(ctx, job.Format, job.Source)
			results[i] = JobResult{JobID: job.ID, Format: f, Raster: img, Err: err}
		})
	}
	wp.StopWait()
	return results
}

func (l *Loader) workers() int {
	if l.cfg.WorkerCount > 0 {
		return l.cfg.WorkerCount
	}
	return runtime.NumCPU()
}

func (l *Loader) decodeAs(ctx context.Context, want Format, src Source) (*Raster, Format, error) {
	start := time.Now()
	id := uuid.NewString()

	stream, format, err := l.open(src, want)
	var img *Raster
	if err == nil {
		l.notifyBefore(ctx, format, src.Name)
		var dec *Decoder
		if dec, err = l.decoderFor(format); err == nil {
			img, err = dec.Decode(ctx, stream)
		}
	}

	ev := DecodeEvent{ID: id, Name: src.Name, Format: format, Duration: time.Since(start), Err: err}
	if img != nil {
		ev.Header = Header{Width: img.Width(), Height: img.Height(), Channels: img.BytesPerPixel(), BitDepth: 8}
		ev.Bytes = int64(img.Len())
	}
	l.notifyAfter(ctx, ev)

	if err != nil {
		atomic.AddInt64(&l.errorCount, 1)
		if l.logger != nil {
			l.logger.Warn("decode.failed", "decode_id", id, "format", format, "name", src.Name, "error", err.Error())
		}
		return nil, format, err
	}
	atomic.AddInt64(&l.processedCount, 1)
	return img, format, nil
}

// open wraps src in a Stream and settles its format.
func (l *Loader) open(src Source, want Format) (*utils.Stream, Format, error) {
	if src.Reader == nil {
		return nil, want, apperrors.New(apperrors.CategoryInput, "open", apperrors.ErrEmptyInput)
	}
	var r io.Reader = src.Reader
	if l.cfg.MaxImageBytes > 0 {
		r = &utils.LimitedReader{R: r, Max: l.cfg.MaxImageBytes}
	}

	format := want
	if format == "" || format == FormatUnknown {
		format = contentTypeToFormat(src.ContentType)
	}
	if format == FormatUnknown {
		br := bufio.NewReaderSize(r, sniffLen)
		peek, err := br.Peek(sniffLen)
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
			if apperrors.CategoryOf(err) != "" {
				return nil, format, err
			}
			return nil, format, apperrors.Fault(apperrors.CategorySource, "open.sniff", apperrors.ErrSourceFault, err)
		}
		if len(peek) == 0 {
			return nil, format, apperrors.New(apperrors.CategoryInput, "open.sniff", apperrors.ErrEmptyInput)
		}
		format = Format(utils.DetectFormat(peek))
		r = br
	}
	return utils.NewStream(r), format, nil
}

func (l *Loader) decoderFor(f Format) (*Decoder, error) {
	if l.registry == nil {
		return nil, apperrors.New(apperrors.CategoryConfig, "decoder_for", errors.New("no registry"))
	}
	factory, ok := l.registry.EngineFor(f)
	if !ok {
		return nil, apperrors.New(apperrors.CategoryUnsupported, "decoder_for",
			errors.Join(apperrors.ErrUnknownFormat, errors.New(string(f))))
	}
	return NewDecoder(factory, DecoderOptions{
		ChunkSize: l.cfg.ChunkSize,
		MaxPixels: l.cfg.MaxPixels,
		Logger:    l.logger,
	}), nil
}

func (l *Loader) notifyBefore(ctx context.Context, f Format, name string) {
	for _, h := range l.hooks {
		h.BeforeDecode(ctx, f, name)
	}
}

func (l *Loader) notifyAfter(ctx context.Context, ev DecodeEvent) {
	if l.metrics != nil {
		l.metrics.RecordDecodeTime(string(ev.Format), ev.Duration)
		if ev.Err != nil {
			l.metrics.RecordError(string(ev.Format), string(apperrors.CategoryOf(ev.Err)))
		} else {
			l.metrics.RecordThroughput(ev.Bytes)
		}
	}
	for _, h := range l.hooks {
		h.AfterDecode(ctx, ev)
	}
}

// contentTypeToFormat maps MIME types to Format values.
func contentTypeToFormat(ct string) Format {
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	switch strings.TrimSpace(strings.ToLower(ct)) {
	case "image/jpeg", "image/jpg":
		return FormatJPEG
	case "image/png":
		return FormatPNG
	case "image/webp":
		return FormatWebP
	}
	return FormatUnknown
}

// ProcessedCount returns the total number of successful decodes.
func (l *Loader) ProcessedCount() int64 { return atomic.LoadInt64(&l.processedCount) }

// ErrorCount returns the total number of failed decodes.
func (l *Loader) ErrorCount() int64 { return atomic.LoadInt64(&l.errorCount) }

// Stats is a snapshot of the loader's counters.
type Stats struct {
	Processed int64
	Errors    int64
}

// Stats returns the current counters.
func (l *Loader) Stats() Stats {
	return Stats{Processed: l.ProcessedCount(), Errors: l.ErrorCount()}
}
