package app

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLightmonHandler_Handle(t *testing.T) {
	ts := time.Date(2024, 6, 15, 14, 30, 45, 0, time.UTC)

	tests := []struct {
		name      string
		component string
		level     slog.Level
		message   string
		attrs     []slog.Attr
		want      string
	}{
		{
			name:      "basic info message",
			component: "serve",
			level:     slog.LevelInfo,
			message:   "sync process ready",
			want:      "2024-06-15T14:30:45Z\tINFO\tserve\tsync process ready\n",
		},
		{
			name:      "debug level",
			component: "sync",
			level:     slog.LevelDebug,
			message:   "indexed report",
			want:      "2024-06-15T14:30:45Z\tDEBUG\tsync\tindexed report\n",
		},
		{
			name:      "with record attrs",
			component: "cleanup",
			level:     slog.LevelWarn,
			message:   "could not delete artifact",
			attrs:     []slog.Attr{slog.String("file", "/reports/run/a.gz"), slog.Int("size", 42)},
			want:      "2024-06-15T14:30:45Z\tWARN\tcleanup\tcould not delete artifact\tfile=/reports/run/a.gz\tsize=42\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			h := &lightmonHandler{w: &buf, component: tt.component}

			r := slog.NewRecord(ts, tt.level, tt.message, 0)
			for _, a := range tt.attrs {
				r.AddAttrs(a)
			}

			if err := h.Handle(context.Background(), r); err != nil {
				t.Fatalf("Handle() error = %v", err)
			}

			if got := buf.String(); got != tt.want {
				t.Errorf("Handle() output =\n%q\nwant:\n%q", got, tt.want)
			}
		})
	}
}

func TestLightmonHandler_WithAttrs(t *testing.T) {
	var buf bytes.Buffer
	h := &lightmonHandler{w: &buf, component: "serve"}

	h2 := h.WithAttrs([]slog.Attr{slog.String("instance", "abc")}).(*lightmonHandler)

	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r := slog.NewRecord(ts, slog.LevelInfo, "reconcile complete", 0)
	r.AddAttrs(slog.Int("indexed", 3))

	if err := h2.Handle(context.Background(), r); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	got := buf.String()
	if !strings.Contains(got, "instance=abc") {
		t.Errorf("expected pre-set attr instance=abc, got: %q", got)
	}
	if !strings.Contains(got, "indexed=3") {
		t.Errorf("expected record attr indexed=3, got: %q", got)
	}
}

func TestLightmonHandler_WithAttrs_doesNotMutateOriginal(t *testing.T) {
	var buf bytes.Buffer
	h := &lightmonHandler{w: &buf, component: "serve", attrs: []slog.Attr{slog.String("a", "1")}}

	h2 := h.WithAttrs([]slog.Attr{slog.String("b", "2")}).(*lightmonHandler)

	if len(h.attrs) != 1 {
		t.Errorf("original handler attrs modified: got %d, want 1", len(h.attrs))
	}
	if len(h2.attrs) != 2 {
		t.Errorf("new handler attrs: got %d, want 2", len(h2.attrs))
	}
}

func TestLightmonHandler_Enabled(t *testing.T) {
	t.Run("nil level enables everything", func(t *testing.T) {
		h := &lightmonHandler{}
		for _, level := range []slog.Level{slog.LevelDebug, slog.LevelInfo, slog.LevelWarn, slog.LevelError} {
			if !h.Enabled(context.Background(), level) {
				t.Errorf("Enabled(%v) = false, want true", level)
			}
		}
	})

	t.Run("info level drops debug", func(t *testing.T) {
		h := &lightmonHandler{level: slog.LevelInfo}
		if h.Enabled(context.Background(), slog.LevelDebug) {
			t.Error("Enabled(DEBUG) = true, want false")
		}
		if !h.Enabled(context.Background(), slog.LevelWarn) {
			t.Error("Enabled(WARN) = false, want true")
		}
	})
}

func TestNewLogger(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "log")

	logger, f, err := newLogger(dir, "test", false)
	if err != nil {
		t.Fatalf("newLogger() error = %v", err)
	}
	defer f.Close()

	if logger == nil {
		t.Fatal("newLogger() returned nil logger")
	}

	logger.Debug("hidden")
	logger.Info("shown", "key", "value")

	content, err := os.ReadFile(filepath.Join(dir, LogFileName))
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if strings.Contains(string(content), "hidden") {
		t.Error("debug record written without verbose")
	}
	if !strings.Contains(string(content), "\tINFO\ttest\tshown\tkey=value\n") {
		t.Errorf("log file = %q", content)
	}
}
