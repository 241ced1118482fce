package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestWithBuildLoggerAnnotatesOutput(t *testing.T) {
	var buf bytes.Buffer
	base := New(Config{Level: slog.LevelDebug, JSON: true, Output: &buf})

	ctx, log := WithBuildLogger(context.Background(), base)
	id := BuildIDFromContext(ctx)
	if id == "" {
		t.Fatalf("expected a build id on the context")
	}

	log.Info(ctx, "iteration started", Int("attempt", 2), Err(errors.New("boom")))
	out := buf.String()
	for _, want := range []string{id, `"attempt":2`, `"error":"boom"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("log output %q missing %q", out, want)
		}
	}
}

func TestEnsureBuildIDIsStable(t *testing.T) {
	ctx, first := EnsureBuildID(context.Background())
	_, second := EnsureBuildID(ctx)
	if first != second {
		t.Fatalf("EnsureBuildID changed id from %q to %q", first, second)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: slog.LevelWarn, Output: &buf})
	log.Info(context.Background(), "hidden")
	log.Warn(context.Background(), "shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Fatalf("unexpected output %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		" error ": slog.LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Fatalf("ParseLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseLevel("verbose"); err == nil {
		t.Fatalf("expected an error for an unknown level")
	}
}

func TestNilContextIsTolerated(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Output: &buf}).With(String("component", "dome"))
	log.Info(nil, "synced")
	if !strings.Contains(buf.String(), "component=dome") {
		t.Fatalf("missing With field in %q", buf.String())
	}
}
