package debug

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseCategories(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  map[string]bool
	}{
		{"empty", "", map[string]bool{}},
		{"single", "store", map[string]bool{"store": true}},
		{"multiple", "store,admission", map[string]bool{"store": true, "admission": true}},
		{"all", "all", map[string]bool{"all": true}},
		{"with spaces", " store , admission ", map[string]bool{"store": true, "admission": true}},
		{"uppercase normalized", "STORE,Admission", map[string]bool{"store": true, "admission": true}},
		{"empty segments", "store,,proxy", map[string]bool{"store": true, "proxy": true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseCategories(tt.input)
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("got[%q] = %v, want %v", k, got[k], v)
				}
			}
			if len(got) != len(tt.want) {
				t.Errorf("len(got) = %d, want %d", len(got), len(tt.want))
			}
		})
	}
}

func TestEnabled(t *testing.T) {
	orig := categories
	defer func() { categories = orig }()

	categories = parseCategories("store,admission")

	if !Enabled("store") {
		t.Error("store should be enabled")
	}
	if !Enabled("admission") {
		t.Error("admission should be enabled")
	}
	if Enabled("auth") {
		t.Error("auth should not be enabled")
	}
	if Enabled("all") {
		t.Error("all should not be enabled (not in categories)")
	}
}

func TestEnabled_All(t *testing.T) {
	orig := categories
	defer func() { categories = orig }()

	categories = parseCategories("all")

	for _, c := range []string{"store", "proxy", "anything"} {
		if !Enabled(c) {
			t.Errorf("%s should be enabled via 'all'", c)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"TRACE", LevelTrace},
		{"trace", LevelTrace},
		{"DEBUG", slog.LevelDebug},
		{" debug ", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"WARNING", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"unknown", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := ParseLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestInit_JSONFormat(t *testing.T) {
	origCats, origLogger := categories, slog.Default()
	defer func() {
		categories = origCats
		slog.SetDefault(origLogger)
	}()
	t.Setenv(EnvCategories, "")
	t.Setenv(EnvLevel, "")
	t.Setenv(EnvFormat, "")

	var buf bytes.Buffer
	Init(Options{Categories: "store", Level: "debug", Format: "json", Output: &buf})

	Log("store", "increment", "key", "ai-invocation:u:1")
	Log("auth", "should not appear")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if rec["debug"] != "store" || rec["msg"] != "increment" {
		t.Errorf("unexpected record: %v", rec)
	}
}

func TestInit_EnvOverridesConfig(t *testing.T) {
	origCats, origLogger := categories, slog.Default()
	defer func() {
		categories = origCats
		slog.SetDefault(origLogger)
	}()
	t.Setenv(EnvCategories, "proxy")
	t.Setenv(EnvLevel, "ERROR")
	t.Setenv(EnvFormat, "")

	var buf bytes.Buffer
	Init(Options{Categories: "store", Level: "debug", Output: &buf})

	if Enabled("store") {
		t.Error("store should be overridden by env")
	}
	if !Enabled("proxy") {
		t.Error("proxy should be enabled from env")
	}
	Log("proxy", "hidden at ERROR level")
	if buf.Len() != 0 {
		t.Errorf("expected no output at ERROR level, got %q", buf.String())
	}
}

func TestLog_DisabledCategory(t *testing.T) {
	orig := categories
	defer func() { categories = orig }()

	categories = parseCategories("")

	// Should not panic or produce output.
	Log("store", "test message", "key", "value")
	Trace("store", "trace message", "key", "value")
	Raw("store", "raw")
}
