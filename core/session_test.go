package core

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	apperrors "github.com/Skryldev/image-loader/errors"
)

// ── Test helpers ──────────────────────────────────────────────────────────────

// memSource is a ByteSource over a byte slice.  Once data is exhausted Read
// returns end (io.EOF by default).
type memSource struct {
	data   []byte
	off    int
	end    error
	strict bool
	reads  int
}

func newMemSource(b []byte) *memSource { return &memSource{data: b} }

func (m *memSource) Read(p []byte) (int, error) {
	m.reads++
	if m.off >= len(m.data) {
		if m.end != nil {
			return 0, m.end
		}
		return 0, io.EOF
	}
	n := copy(p, m.data[m.off:])
	m.off += n
	return n, nil
}

func (m *memSource) Skip(n int64) (int64, error) {
	rem := int64(len(m.data) - m.off)
	if n > rem {
		m.off = len(m.data)
		return rem, io.EOF
	}
	m.off += int(n)
	return n, nil
}

func (m *memSource) Strict() bool          { return m.strict }
func (m *memSource) SetStrict(strict bool) { m.strict = strict }

// stallSource never makes progress.
type stallSource struct{}

func (stallSource) Read(p []byte) (int, error)   { return 0, nil }
func (stallSource) Skip(n int64) (int64, error) { return 0, nil }

// tailErrSource returns its data together with a trailing error.
type tailErrSource struct {
	data []byte
	err  error
	done bool
}

func (s *tailErrSource) Read(p []byte) (int, error) {
	if s.done {
		return 0, s.err
	}
	s.done = true
	return copy(p, s.data), s.err
}

func (s *tailErrSource) Skip(n int64) (int64, error) { return 0, s.err }

func newTestSession(src ByteSource, chunk int) *session {
	s := newSession(FormatPNG, src, chunk)
	s.state = StateHeaderRead
	return s
}

// ── Source adapter ────────────────────────────────────────────────────────────

func TestAdapter_ReadAcrossChunks(t *testing.T) {
	data := []byte("0123456789abcdef")
	src := newMemSource(data)
	s := newTestSession(src, 3)

	got := make([]byte, len(data))
	if _, err := io.ReadFull(s.adapter, got); err != nil {
		t.Fatalf("ReadFull: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("got %q", got)
	}
	if src.reads != 6 {
		t.Errorf("source reads: got %d, want 6 (chunk size 3)", src.reads)
	}
	if s.fault != nil {
		t.Errorf("unexpected fault: %v", s.fault)
	}
}

func TestAdapter_DefaultChunkSize(t *testing.T) {
	s := newSession(FormatJPEG, newMemSource(nil), 0)
	if len(s.adapter.buf) != 1024 {
		t.Fatalf("chunk size: got %d", len(s.adapter.buf))
	}
}

func TestAdapter_EndOfStreamIsFault(t *testing.T) {
	s := newTestSession(newMemSource([]byte{1, 2}), 8)
	buf := make([]byte, 4)
	_, err := io.ReadFull(s.adapter, buf)
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("engine should see ErrAborted, got %v", err)
	}
	if !errors.Is(s.fault, apperrors.ErrUnexpectedEOS) || !errors.Is(s.fault, io.EOF) {
		t.Fatalf("fault: %v", s.fault)
	}
	if !apperrors.IsCategory(s.fault, apperrors.CategoryEndOfStream) {
		t.Errorf("category: %q", apperrors.CategoryOf(s.fault))
	}
	if !strings.HasPrefix(s.fault.Error(), "[end_of_stream] png.fill") {
		t.Errorf("message: %q", s.fault.Error())
	}
}

func TestAdapter_SourceFaultKeepsCause(t *testing.T) {
	cause := errors.New("disk on fire")
	src := newMemSource(nil)
	src.end = cause
	s := newTestSession(src, 8)

	if _, err := s.adapter.ReadByte(); !errors.Is(err, ErrAborted) {
		t.Fatalf("got %v", err)
	}
	if !errors.Is(s.fault, apperrors.ErrSourceFault) || !errors.Is(s.fault, cause) {
		t.Fatalf("fault: %v", s.fault)
	}
}

func TestAdapter_TypedSourceErrorPreserved(t *testing.T) {
	typed := apperrors.New(apperrors.CategoryMemory, "source.limit", apperrors.ErrImageTooLarge)
	src := newMemSource(nil)
	src.end = typed
	s := newTestSession(src, 8)

	s.adapter.ReadByte()
	if s.fault != typed {
		t.Fatalf("fault: %v", s.fault)
	}
}

func TestAdapter_FirstFaultWins(t *testing.T) {
	src := newMemSource(nil)
	s := newTestSession(src, 8)
	s.adapter.ReadByte()
	first := s.fault

	src.end = errors.New("later")
	if _, err := s.adapter.Read(make([]byte, 1)); !errors.Is(err, ErrAborted) {
		t.Fatalf("got %v", err)
	}
	if s.fault != first {
		t.Fatalf("fault replaced: %v", s.fault)
	}
	if src.reads != 1 {
		t.Errorf("source read after fault: %d reads", src.reads)
	}
}

func TestAdapter_DataWithTrailingError(t *testing.T) {
	cause := errors.New("connection reset")
	s := newTestSession(&tailErrSource{data: []byte{7, 8}, err: cause}, 8)

	b := make([]byte, 2)
	if n, err := s.adapter.Read(b); n != 2 || err != nil {
		t.Fatalf("first read: %d, %v", n, err)
	}
	if _, err := s.adapter.ReadByte(); !errors.Is(err, ErrAborted) {
		t.Fatalf("second read: %v", err)
	}
	if !errors.Is(s.fault, cause) {
		t.Fatalf("fault: %v", s.fault)
	}
}

func TestAdapter_NoProgress(t *testing.T) {
	s := newTestSession(stallSource{}, 8)
	if _, err := s.adapter.ReadByte(); !errors.Is(err, ErrAborted) {
		t.Fatalf("got %v", err)
	}
	if !errors.Is(s.fault, io.ErrNoProgress) || !errors.Is(s.fault, apperrors.ErrSourceFault) {
		t.Fatalf("fault: %v", s.fault)
	}
}

func TestAdapter_Skip(t *testing.T) {
	data := make([]byte, 64)
	for i := range data {
		data[i] = byte(i)
	}
	src := newMemSource(data)
	s := newTestSession(src, 4)

	// Within the buffer...
	if _, err := s.adapter.ReadByte(); err != nil {
		t.Fatal(err)
	}
	if err := s.adapter.Skip(2); err != nil {
		t.Fatal(err)
	}
	if b, _ := s.adapter.ReadByte(); b != 3 {
		t.Fatalf("after buffered skip: got %d, want 3", b)
	}
	// ...and past it, without reading the skipped bytes.
	readsBefore := src.reads
	if err := s.adapter.Skip(40); err != nil {
		t.Fatal(err)
	}
	if src.reads != readsBefore {
		t.Errorf("skip read through the source")
	}
	if b, _ := s.adapter.ReadByte(); b != 44 {
		t.Fatalf("after source skip: got %d, want 44", b)
	}
	if err := s.adapter.Skip(0); err != nil {
		t.Fatal(err)
	}
	if err := s.adapter.Skip(-5); err != nil {
		t.Fatal(err)
	}
}

func TestAdapter_ShortSkipIsEndOfStream(t *testing.T) {
	s := newTestSession(newMemSource(make([]byte, 10)), 4)
	if err := s.adapter.Skip(100); !errors.Is(err, ErrAborted) {
		t.Fatalf("got %v", err)
	}
	if !errors.Is(s.fault, apperrors.ErrUnexpectedEOS) {
		t.Fatalf("fault: %v", s.fault)
	}
}

// silentShortSkip under-reports without an error.
type silentShortSkip struct{ memSource }

func (s *silentShortSkip) Skip(n int64) (int64, error) { return n / 2, nil }

func TestAdapter_SilentShortSkip(t *testing.T) {
	s := newTestSession(&silentShortSkip{}, 4)
	s.adapter.Skip(10)
	if !errors.Is(s.fault, apperrors.ErrUnexpectedEOS) || !errors.Is(s.fault, io.ErrUnexpectedEOF) {
		t.Fatalf("fault: %v", s.fault)
	}
}

func TestAdapter_Resync(t *testing.T) {
	src := newMemSource([]byte{0x12, 0xff, 0x00, 0x34, 0xff, 0xff, 0xd9, 0x55})
	s := newTestSession(src, 3)
	m, err := s.adapter.Resync()
	if err != nil {
		t.Fatal(err)
	}
	if m != 0xd9 {
		t.Fatalf("marker: got %#x, want 0xd9", m)
	}
	if b, _ := s.adapter.ReadByte(); b != 0x55 {
		t.Fatalf("after marker: got %#x", b)
	}
}

func TestAdapter_ResyncRunsOut(t *testing.T) {
	s := newTestSession(newMemSource([]byte{1, 2, 0xff, 0x00}), 3)
	if _, err := s.adapter.Resync(); !errors.Is(err, ErrAborted) {
		t.Fatalf("got %v", err)
	}
	if !errors.Is(s.fault, apperrors.ErrUnexpectedEOS) {
		t.Fatalf("fault: %v", s.fault)
	}
}

// ── Error bridge ──────────────────────────────────────────────────────────────

func TestBridge_AbortLandsAtResumptionPoint(t *testing.T) {
	s := newTestSession(newMemSource(nil), 8)
	cause := errors.New("bad huffman code")
	err := s.step(func() error {
		func() { Abort(cause) }()
		t.Fatal("unreachable")
		return nil
	})
	if !errors.Is(err, apperrors.ErrMalformedStream) || !errors.Is(err, cause) {
		t.Fatalf("got %v", err)
	}
	if !strings.Contains(err.Error(), "bad huffman code") {
		t.Errorf("diagnostic lost: %q", err.Error())
	}
}

func TestBridge_AbortNil(t *testing.T) {
	s := newTestSession(newMemSource(nil), 8)
	err := s.step(func() error {
		Abort(nil)
		return nil
	})
	if !errors.Is(err, apperrors.ErrMalformedStream) {
		t.Fatalf("got %v", err)
	}
}

func TestBridge_ForeignPanicIsNotSwallowed(t *testing.T) {
	s := newTestSession(newMemSource(nil), 8)
	defer func() {
		if r := recover(); r != "boom" {
			t.Fatalf("recovered %v", r)
		}
	}()
	s.step(func() error { panic("boom") })
	t.Fatal("panic was swallowed")
}

func TestBridge_FaultWinsOverEngineResult(t *testing.T) {
	s := newTestSession(newMemSource(nil), 8)
	err := s.step(func() error {
		// The engine ignores ErrAborted and claims success.
		s.adapter.ReadByte()
		return nil
	})
	if !errors.Is(err, apperrors.ErrUnexpectedEOS) {
		t.Fatalf("got %v", err)
	}

	s2 := newTestSession(newMemSource(nil), 8)
	err = s2.step(func() error {
		if _, err := s2.adapter.ReadByte(); err != nil {
			return errors.New("engine's own message")
		}
		return nil
	})
	if !errors.Is(err, apperrors.ErrUnexpectedEOS) {
		t.Fatalf("got %v", err)
	}
}

func TestBridge_TypedEngineErrorPreserved(t *testing.T) {
	s := newTestSession(newMemSource(nil), 8)
	typed := apperrors.New(apperrors.CategoryUnsupported, "png.read_header", apperrors.ErrUnsupportedFormat)
	if err := s.step(func() error { return typed }); err != typed {
		t.Fatalf("got %v", err)
	}
}

func TestBridge_UntypedEngineErrorIsMalformed(t *testing.T) {
	s := newTestSession(newMemSource(nil), 8)
	s.state = StateScanlinesPulled
	err := s.step(func() error { return errors.New("png: invalid format: bad filter type") })
	if !apperrors.IsCategory(err, apperrors.CategoryMalformed) {
		t.Fatalf("got %v", err)
	}
	if !strings.Contains(err.Error(), "png.pull_scanlines") || !strings.Contains(err.Error(), "bad filter type") {
		t.Errorf("message: %q", err.Error())
	}
}

type countingEngine struct {
	destroyed int
}

func (e *countingEngine) InstallSource(EngineSource) error { return nil }
func (e *countingEngine) ReadHeader() (Header, error)      { return Header{}, nil }
func (e *countingEngine) PullScanline() ([]byte, error)    { return nil, nil }
func (e *countingEngine) Finish() error                    { return nil }
func (e *countingEngine) Destroy()                         { e.destroyed++ }

func TestSession_DestroyOnce(t *testing.T) {
	s := newTestSession(newMemSource(nil), 8)
	e := &countingEngine{}
	s.engine = e
	s.destroy()
	s.destroy()
	if e.destroyed != 1 {
		t.Fatalf("destroyed %d times", e.destroyed)
	}
}
