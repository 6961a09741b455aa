package logging

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestInit_DoesNotPanic(t *testing.T) {
	// Test JSON mode (default)
	Init(false, false)
	log := L()
	log.Info().Msg("test json info")

	// Test debug + human
	Init(true, true)
	log = L()
	log.Debug().Msg("test human debug")
	if !IsPrettyMode() {
		t.Error("expected pretty mode after Init(_, true)")
	}

	Init(false, false)
	if IsPrettyMode() {
		t.Error("expected JSON mode after Init(_, false)")
	}
}

func TestInitWriter(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf, false, false)
	defer Init(false, false)

	L().Info().Msg("hello")
	L().Debug().Msg("hidden")

	out := buf.String()
	if !strings.Contains(out, `"message":"hello"`) {
		t.Errorf("expected info line, got: %s", out)
	}
	if strings.Contains(out, "hidden") {
		t.Errorf("debug line logged at info level: %s", out)
	}
}

func TestWithTable(t *testing.T) {
	var buf bytes.Buffer
	log := WithTable(zerolog.New(&buf), "Spell")
	log.Info().Msg("test message")

	if !bytes.Contains(buf.Bytes(), []byte(`"table":"Spell"`)) {
		t.Errorf("expected table field in output, got: %s", buf.String())
	}
}

func TestCompletionEvent(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)

	TableExported(log, "Spell", 1500*time.Millisecond).
		Str("format", "csv").
		Count("rows", 12345).
		Bytes("bytes", 2048).
		Log("export complete")

	out := buf.String()
	for _, want := range []string{
		`"event":"table_exported"`,
		`"table":"Spell"`,
		`"duration_ms":1500`,
		`"format":"csv"`,
		`"rows":12345`,
		`"bytes":2048`,
		`"message":"export complete"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %s in %s", want, out)
		}
	}
	if strings.Contains(out, "_h") {
		t.Errorf("human fields emitted outside pretty mode: %s", out)
	}
}

func TestCompletionEventPretty(t *testing.T) {
	Init(false, true)
	defer Init(false, false)

	var buf bytes.Buffer
	TableOpened(zerolog.New(&buf), "Item", 45*time.Millisecond).
		Bytes("bytes", 1536).
		Count("records", 2500).
		Log("opened")

	out := buf.String()
	for _, want := range []string{`"bytes_h":"1.50 KiB"`, `"records_h":"2.50K"`, `"duration_h":"45.0ms"`} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %s in %s", want, out)
		}
	}
}

func TestProgressTracker(t *testing.T) {
	pt := NewProgressTracker(10)
	pt.RecordCompletion(100 * time.Millisecond)
	pt.RecordCompletion(100 * time.Millisecond)
	pt.RecordFailure()

	done, failed, total := pt.Progress()
	if done != 2 || failed != 1 || total != 10 {
		t.Errorf("Progress = %d, %d, %d", done, failed, total)
	}
	if pct := pt.ProgressPct(); pct != 30 {
		t.Errorf("ProgressPct = %.1f, want 30", pct)
	}
	// 7 remaining at 100ms each
	if eta := pt.ETA(); eta != 700*time.Millisecond {
		t.Errorf("ETA = %v, want 700ms", eta)
	}

	var buf bytes.Buffer
	NewCompletionEvent(zerolog.New(&buf), "batch", "", time.Second).Progress(pt).Log("progress")
	if !strings.Contains(buf.String(), `"done":2`) || !strings.Contains(buf.String(), `"progress_pct":30`) {
		t.Errorf("unexpected progress output: %s", buf.String())
	}
}

func TestProgressTrackerZeroTotal(t *testing.T) {
	pt := NewProgressTracker(0)
	if pct := pt.ProgressPct(); pct != 100 {
		t.Errorf("ProgressPct = %.1f, want 100", pct)
	}
	if eta := pt.ETA(); eta != 0 {
		t.Errorf("ETA = %v, want 0", eta)
	}
}

func TestHumanize(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{formatBytes(512), "512 B"},
		{formatBytes(1024), "1.00 KiB"},
		{formatBytes(5 * 1024 * 1024), "5.00 MiB"},
		{formatCount(999), "999"},
		{formatCount(1_500_000), "1.50M"},
		{formatDuration(1500 * time.Millisecond), "1.50s"},
		{formatDuration(125 * time.Second), "2m5s"},
		{formatDuration(500 * time.Microsecond), "500µs"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}
