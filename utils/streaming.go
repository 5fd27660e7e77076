package utils

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	apperrors "github.com/Skryldev/image-loader/errors"
)

// bufPool reuses byte buffers to reduce GC pressure.
var bufPool = sync.Pool{
	New: func() interface{} { return new(bytes.Buffer) },
}

// AcquireBuffer returns a reset buffer from the pool.
func AcquireBuffer() *bytes.Buffer {
	b := bufPool.Get().(*bytes.Buffer)
	b.Reset()
	return b
}

// ReleaseBuffer returns b to the pool.  Callers must not use b after this call.
func ReleaseBuffer(b *bytes.Buffer) {
	// Cap large buffers to avoid pinning excessive memory.
	if b.Cap() > 8*1024*1024 {
		return
	}
	bufPool.Put(b)
}

// DrainReader reads all bytes from r into a pooled buffer and returns them.
// The caller owns the returned slice; pass the buffer back with ReleaseBuffer.
func DrainReader(ctx context.Context, r io.Reader, chunkSize int) (*bytes.Buffer, error) {
	if chunkSize <= 0 {
		chunkSize = 32 * 1024
	}
	buf := AcquireBuffer()
	chunk := make([]byte, chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			ReleaseBuffer(buf)
			return nil, err
		}
		n, err := r.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			ReleaseBuffer(buf)
			return nil, err
		}
	}
	return buf, nil
}

// LimitedReader wraps r and fails with a memory-category error once more
// than Max bytes would be read.  Max <= 0 disables the limit.
type LimitedReader struct {
	R   io.Reader
	Max int64
	n   int64
}

// Read passes through to R.  Reading exactly Max bytes is fine; the limit
// only trips when the stream has more.
func (l *LimitedReader) Read(p []byte) (int, error) {
	if l.Max > 0 && l.n >= l.Max {
		var probe [1]byte
		if n, _ := l.R.Read(probe[:]); n == 0 {
			return 0, io.EOF
		}
		return 0, apperrors.New(apperrors.CategoryMemory, "source.limit",
			fmt.Errorf("%w: input exceeds %d bytes", apperrors.ErrImageTooLarge, l.Max))
	}
	if l.Max > 0 {
		remain := l.Max - l.n
		if int64(len(p)) > remain {
			p = p[:remain]
		}
	}
	n, err := l.R.Read(p)
	l.n += int64(n)
	return n, err
}
