package hooks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Skryldev/image-loader/core"
	apperrors "github.com/Skryldev/image-loader/errors"
)

func TestInMemoryMetrics(t *testing.T) {
	m := NewInMemoryMetrics()
	h := NewMetricsHook(m)
	ctx := context.Background()

	h.AfterDecode(ctx, core.DecodeEvent{Format: core.FormatPNG, Duration: 3 * time.Millisecond, Bytes: 300})
	h.AfterDecode(ctx, core.DecodeEvent{Format: core.FormatPNG, Duration: 2 * time.Millisecond, Bytes: 200})
	h.AfterDecode(ctx, core.DecodeEvent{
		Format: core.FormatJPEG,
		Err:    apperrors.New(apperrors.CategoryEndOfStream, "jpeg.fill", apperrors.ErrUnexpectedEOS),
	})

	snap := m.Snapshot()
	if snap.DecodeCalls["png"] != 2 || snap.DecodeDurationsMs["png"] != 5 {
		t.Errorf("png: calls %d, ms %d", snap.DecodeCalls["png"], snap.DecodeDurationsMs["png"])
	}
	if snap.TotalThroughputB != 500 {
		t.Errorf("throughput: %d", snap.TotalThroughputB)
	}
	if snap.Errors["jpeg/end_of_stream"] != 1 || len(snap.Errors) != 1 {
		t.Errorf("errors: %v", snap.Errors)
	}

	// The snapshot is a copy.
	snap.DecodeCalls["png"] = 99
	if m.Snapshot().DecodeCalls["png"] != 2 {
		t.Error("snapshot aliases live counters")
	}
}

func TestLoggingHook_Zap(t *testing.T) {
	obs, logs := observer.New(zap.DebugLevel)
	h := NewLoggingHook(WrapZap(zap.New(obs)))
	ctx := context.Background()

	h.BeforeDecode(ctx, core.FormatPNG, "a.png")
	h.AfterDecode(ctx, core.DecodeEvent{ID: "id-1", Format: core.FormatPNG, Name: "a.png", Bytes: 12})
	h.AfterDecode(ctx, core.DecodeEvent{
		ID:     "id-2",
		Format: core.FormatPNG,
		Err:    apperrors.New(apperrors.CategoryMalformed, "png.read_header", errors.New("bad IHDR")),
	})

	entries := logs.All()
	if len(entries) != 3 {
		t.Fatalf("got %d entries", len(entries))
	}
	if entries[0].Message != "decode.start" || entries[1].Message != "decode.done" || entries[2].Message != "decode.error" {
		t.Fatalf("messages: %q %q %q", entries[0].Message, entries[1].Message, entries[2].Message)
	}
	fields := entries[2].ContextMap()
	if fmt.Sprint(fields["decode_id"]) != "id-2" || fmt.Sprint(fields["category"]) != "malformed" {
		t.Errorf("error fields: %v", fields)
	}
	if entries[2].Level != zap.ErrorLevel {
		t.Errorf("level: %v", entries[2].Level)
	}
}

func TestLoggingHook_Slog(t *testing.T) {
	var buf bytes.Buffer
	l := NewSlogLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	h := NewLoggingHook(l)
	h.AfterDecode(context.Background(), core.DecodeEvent{ID: "x", Format: core.FormatJPEG, Bytes: 3})
	out := buf.String()
	if !strings.Contains(out, "decode.done") || !strings.Contains(out, "decode_id=x") || !strings.Contains(out, "format=jpeg") {
		t.Fatalf("got %q", out)
	}
}

func TestNewZapLogger(t *testing.T) {
	for _, env := range []string{"prod", "test", "development"} {
		l, err := NewZapLogger(env, "warn")
		if err != nil {
			t.Fatalf("%s: %v", env, err)
		}
		l.Info("ignored")
		_ = l.Sync()
	}
	if _, err := NewZapLogger("development", "shouting"); err == nil {
		t.Error("bad level: expected an error")
	}
}
