package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestInitRejectsUnknownLevel(t *testing.T) {
	if _, _, err := Init(Config{Level: "shouty"}); err == nil {
		t.Fatalf("Init() error = nil, want invalid level error")
	}
}

func TestInitWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "solace.log")
	l, closeFn, err := Init(Config{Level: "debug", Format: "json", Output: "file", FilePath: path})
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	l.Info().Str("stage", "retrieve").Msg("hello")
	if err := closeFn(); err != nil {
		t.Fatalf("close error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	out := string(data)
	if !strings.Contains(out, `"stage":"retrieve"`) || !strings.Contains(out, `"message":"hello"`) {
		t.Fatalf("log output = %q, want structured stage/message fields", out)
	}
}

func TestInitFileOutputNeedsPath(t *testing.T) {
	if _, _, err := Init(Config{Output: "file"}); err == nil {
		t.Fatalf("Init() error = nil, want missing path error")
	}
}
