package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestConfigure(t *testing.T) {
	var buf bytes.Buffer
	Configure(LevelWarn, &buf)
	defer Configure(LevelInfo, &bytes.Buffer{})

	Info("hidden")
	Component("preview").Warn("shown", "status", "error")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Expected one JSON entry, got %q: %v", buf.String(), err)
	}
	if entry["msg"] != "shown" || entry["component"] != "preview" {
		t.Errorf("Unexpected entry %v", entry)
	}
}

func TestEnableFileLogging(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	if err := EnableFileLogging(dir, LevelDebug); err != nil {
		t.Fatalf("EnableFileLogging failed: %v", err)
	}
	Debug("to file")
	Close()
	defer Configure(LevelInfo, &bytes.Buffer{})

	data, err := os.ReadFile(filepath.Join(dir, "askh.log"))
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if !bytes.Contains(data, []byte("to file")) {
		t.Errorf("Expected log line in file, got %q", data)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"DEBUG":   LevelDebug,
		"warning": LevelWarn,
		"error":   LevelError,
		"":        LevelInfo,
		"bogus":   LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}
