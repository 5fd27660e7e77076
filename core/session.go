package core

import (
	"errors"
	"fmt"
	"io"

	apperrors "github.com/Skryldev/image-loader/errors"
)

// ErrAborted is returned by an EngineSource once the session has recorded a
// fault.  Engines only need to propagate it; the session reports the real
// cause.
var ErrAborted = errors.New("decode aborted")

// maxEmptyReads bounds consecutive (0, nil) reads from a ByteSource.
const maxEmptyReads = 100

// abort is the panic payload used by Abort.
type abort struct{ err error }

// Abort unwinds from anywhere inside engine code to the resumption point of
// the engine call in progress, which then fails with err.  Engines with deep
// hot paths use it instead of threading errors through every frame.
func Abort(err error) {
	if err == nil {
		err = errors.New("engine aborted")
	}
	panic(abort{err: err})
}

// session is the state of one decode call: the engine, the adapter serving
// it, and the single slot for the fault that ended the call.
type session struct {
	format  Format
	engine  Engine
	adapter *sourceAdapter
	state   State
	fault   error // first fault wins
}

func newSession(format Format, src ByteSource, chunkSize int) *session {
	if chunkSize <= 0 {
		chunkSize = 1024
	}
	s := &session{format: format}
	s.adapter = &sourceAdapter{s: s, src: src, buf: make([]byte, chunkSize)}
	return s
}

func (s *session) op(stage string) string { return string(s.format) + "." + stage }

// record stores err in the fault slot unless a fault is already held.
func (s *session) record(err error) {
	if s.fault == nil {
		s.fault = err
	}
}

// call runs one engine operation at a resumption point.  An Abort raised
// anywhere below fn is turned back into fn's error; other panics are not
// ours and keep unwinding.
func (s *session) call(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			a, ok := r.(abort)
			if !ok {
				panic(r)
			}
			err = a.err
		}
	}()
	return fn()
}

// step runs fn at a resumption point and translates a fatal result.  A
// recorded fault fails the step even if the engine ignored its ErrAborted.
func (s *session) step(fn func() error) error {
	err := s.call(fn)
	if s.fault != nil {
		return s.fault
	}
	if err == nil {
		return nil
	}
	// Engines may report typed errors (e.g. an unsupported feature).
	if apperrors.CategoryOf(err) != "" {
		return err
	}
	return apperrors.Fault(apperrors.CategoryMalformed, s.op(s.state.String()),
		apperrors.ErrMalformedStream, err)
}

// fail records a session-level fault and returns it.
func (s *session) fail(err error) error {
	s.record(err)
	return s.fault
}

// destroy releases the engine exactly once.
func (s *session) destroy() {
	e := s.engine
	if e == nil {
		return
	}
	s.engine = nil
	_ = s.call(func() error {
		e.Destroy()
		return nil
	})
}

// ── source adapter ────────────────────────────────────────────────────────────

// sourceAdapter serves an engine's byte requests from a ByteSource through a
// fixed scratch buffer.  Source faults never reach the engine: they go into
// the session's fault slot and the engine receives ErrAborted.
type sourceAdapter struct {
	s       *session
	src     ByteSource
	buf     []byte
	r, w    int   // buf[r:w] is unread
	pending error // error delivered alongside the last non-empty read
}

var _ EngineSource = (*sourceAdapter)(nil)

// fill refills the scratch buffer with up to len(buf) bytes.
func (a *sourceAdapter) fill() error {
	if a.s.fault != nil {
		return ErrAborted
	}
	if err := a.pending; err != nil {
		a.pending = nil
		return a.fault("fill", err)
	}
	for i := 0; i < maxEmptyReads; i++ {
		n, err := a.src.Read(a.buf)
		if n > 0 {
			a.r, a.w = 0, n
			a.pending = err
			return nil
		}
		if err != nil {
			return a.fault("fill", err)
		}
	}
	return a.fault("fill", io.ErrNoProgress)
}

// fault classifies a source error, records it and returns ErrAborted.
func (a *sourceAdapter) fault(stage string, err error) error {
	op := a.s.op(stage)
	switch {
	case apperrors.CategoryOf(err) != "":
		// Already typed by the source (strict end of stream, size limit).
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		err = apperrors.Fault(apperrors.CategoryEndOfStream, op, apperrors.ErrUnexpectedEOS, err)
	default:
		err = apperrors.Fault(apperrors.CategorySource, op, apperrors.ErrSourceFault, err)
	}
	a.s.record(err)
	return ErrAborted
}

func (a *sourceAdapter) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if a.r == a.w {
		if err := a.fill(); err != nil {
			return 0, err
		}
	}
	n := copy(p, a.buf[a.r:a.w])
	a.r += n
	return n, nil
}

func (a *sourceAdapter) ReadByte() (byte, error) {
	if a.r == a.w {
		if err := a.fill(); err != nil {
			return 0, err
		}
	}
	b := a.buf[a.r]
	a.r++
	return b, nil
}

func (a *sourceAdapter) Skip(n int64) error {
	if n <= 0 {
		return nil
	}
	buffered := int64(a.w - a.r)
	if n <= buffered {
		a.r += int(n)
		return nil
	}
	n -= buffered
	a.r = a.w
	if a.s.fault != nil {
		return ErrAborted
	}
	if err := a.pending; err != nil {
		a.pending = nil
		return a.fault("skip", err)
	}
	skipped, err := a.src.Skip(n)
	if skipped < n {
		if err == nil {
			err = fmt.Errorf("skipped %d of %d bytes: %w", skipped, n, io.ErrUnexpectedEOF)
		}
		return a.fault("skip", err)
	}
	if err != nil {
		// The skip completed; surface the error on the next fill.
		a.pending = err
	}
	return nil
}

func (a *sourceAdapter) Resync() (byte, error) {
	for {
		b, err := a.ReadByte()
		if err != nil {
			return 0, err
		}
		if b != 0xff {
			continue
		}
		for b == 0xff {
			if b, err = a.ReadByte(); err != nil {
				return 0, err
			}
		}
		if b != 0x00 {
			return b, nil
		}
	}
}
