package logging

import (
	"strings"
	"testing"
)

func TestEmitFormat(t *testing.T) {
	var buf strings.Builder
	log := New(&buf, LevelInfo)

	log.Info("stored posts", "count", 12, "kind", "post")

	line := buf.String()
	if !strings.HasPrefix(line, "time=") {
		t.Errorf("missing timestamp: %q", line)
	}
	for _, want := range []string{"level=info", "msg=\"stored posts\"", "count=12", "kind=post"} {
		if !strings.Contains(line, want) {
			t.Errorf("line %q missing %q", line, want)
		}
	}
	if !strings.HasSuffix(line, "\n") {
		t.Errorf("line not newline-terminated: %q", line)
	}
}

func TestLevelGate(t *testing.T) {
	var buf strings.Builder
	log := New(&buf, LevelWarn)

	log.Debug("hidden")
	log.Info("hidden too")
	log.Warn("visible")
	log.Error("also visible")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("gated lines leaked: %q", out)
	}
	if strings.Count(out, "\n") != 2 {
		t.Errorf("expected 2 lines, got %q", out)
	}
}

func TestWithBindsFields(t *testing.T) {
	var buf strings.Builder
	log := New(&buf, LevelDebug).With("component", "ingest")

	log.Debug("parsing", "file", "tweets.js")

	line := buf.String()
	if !strings.Contains(line, "component=ingest") || !strings.Contains(line, "file=tweets.js") {
		t.Errorf("bound fields missing: %q", line)
	}
}

func TestQuoting(t *testing.T) {
	var buf strings.Builder
	log := New(&buf, LevelDebug)

	log.Info("ok", "path", "/with space/xf.db", "empty", "")

	line := buf.String()
	if !strings.Contains(line, `path="/with space/xf.db"`) {
		t.Errorf("spaced value not quoted: %q", line)
	}
	if !strings.Contains(line, `empty=""`) {
		t.Errorf("empty value not quoted: %q", line)
	}
}

func TestOddKeyvals(t *testing.T) {
	var buf strings.Builder
	log := New(&buf, LevelDebug)

	log.Info("odd", "dangling")

	if !strings.Contains(buf.String(), "dangling=(missing)") {
		t.Errorf("dangling key dropped: %q", buf.String())
	}
}

func TestNop(t *testing.T) {
	log := Nop().With("k", "v")
	log.Error("nothing happens")
}
