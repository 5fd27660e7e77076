package utils

import (
	"bufio"
	"errors"
	"io"

	apperrors "github.com/Skryldev/image-loader/errors"
)

// Stream adapts any io.Reader into the sequential byte source decoders read
// from.  It tracks the read offset and can skip without materialising bytes
// when the underlying reader supports it.
//
// In strict mode end of stream is reported as an end_of_stream DecodeError
// rather than io.EOF.  A Stream is not safe for concurrent use.
type Stream struct {
	r      io.Reader
	strict bool
	off    int64
}

// NewStream wraps r.  A *Stream passed in is returned unchanged.
func NewStream(r io.Reader) *Stream {
	if s, ok := r.(*Stream); ok {
		return s
	}
	return &Stream{r: r}
}

// Strict reports whether end of stream is currently a fault.
func (s *Stream) Strict() bool { return s.strict }

// SetStrict switches the end-of-stream policy.
func (s *Stream) SetStrict(strict bool) { s.strict = strict }

// Offset returns the number of bytes consumed so far, skipped bytes included.
func (s *Stream) Offset() int64 { return s.off }

func (s *Stream) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	s.off += int64(n)
	if err == io.EOF && s.strict {
		err = s.eos("stream.read")
	}
	return n, err
}

// Skip advances past n bytes.  It returns the number actually skipped, which
// is less than n only at end of stream or on error.
func (s *Stream) Skip(n int64) (int64, error) {
	if n <= 0 {
		return 0, nil
	}
	skipped, err := s.skip(n)
	s.off += skipped
	if skipped < n && (err == nil || err == io.EOF) {
		if s.strict {
			return skipped, s.eos("stream.skip")
		}
		return skipped, io.EOF
	}
	return skipped, err
}

func (s *Stream) skip(n int64) (int64, error) {
	switch r := s.r.(type) {
	case *bufio.Reader:
		if n <= int64(^uint(0)>>1) {
			d, err := r.Discard(int(n))
			return int64(d), err
		}
	case io.Seeker:
		cur, err := r.Seek(0, io.SeekCurrent)
		if err == nil {
			end, err := r.Seek(0, io.SeekEnd)
			if err != nil {
				return 0, err
			}
			target := cur + n
			if target > end {
				target = end
			}
			if _, err := r.Seek(target, io.SeekStart); err != nil {
				return 0, err
			}
			return target - cur, nil
		}
		// Not actually seekable (e.g. a pipe behind *os.File); copy instead.
	}
	return io.CopyN(io.Discard, s.r, n)
}

func (s *Stream) eos(op string) error {
	return apperrors.New(apperrors.CategoryEndOfStream, op, errors.Join(apperrors.ErrUnexpectedEOS, io.EOF))
}
