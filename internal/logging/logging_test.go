package logging

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
)

func TestJSONLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "debug", Format: "json", Output: &buf})

	l.With(String("node", "n1")).Info(context.Background(), "interface configured",
		Int("index", 2), Uint64("seed", 7), Err(errors.New("boom")))

	out := buf.String()
	for _, want := range []string{`"msg":"interface configured"`, `"node":"n1"`, `"index":2`, `"seed":7`, `"error":"boom"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("log line %q missing %s", out, want)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "warn", Output: &buf})

	l.Info(context.Background(), "hidden")
	l.Warn(context.Background(), "shown")

	if strings.Contains(buf.String(), "hidden") {
		t.Fatalf("info line written at warn level: %q", buf.String())
	}
	if !strings.Contains(buf.String(), "shown") {
		t.Fatalf("warn line missing: %q", buf.String())
	}
}

func TestWithRunLoggerIsStable(t *testing.T) {
	ctx, _ := WithRunLogger(context.Background(), nil)
	id := RunIDFromContext(ctx)
	if id == "" {
		t.Fatalf("run id not set")
	}

	ctx2, _ := EnsureRunID(ctx)
	if got := RunIDFromContext(ctx2); got != id {
		t.Fatalf("EnsureRunID replaced id %q with %q", id, got)
	}
	if FromContext(ctx) == nil {
		t.Fatalf("FromContext returned nil")
	}
}

func TestFromContextDefaultsToNoop(t *testing.T) {
	l := FromContext(context.Background())
	l.Error(context.Background(), "dropped")
}
