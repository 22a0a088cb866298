package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync.log")
	log, closer, err := New(Config{Level: "debug", Path: path})
	if err != nil {
		t.Fatal(err)
	}
	log.Debug().Int64("record_id", 4).Msg("upserted")
	if err := closer.Close(); err != nil {
		t.Fatal(err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), `"record_id":4`) || !strings.Contains(string(raw), `"message":"upserted"`) {
		t.Fatalf("unexpected log line: %s", raw)
	}
}

func TestNewDefaultsToInfo(t *testing.T) {
	log, _, err := New(Config{Level: "bogus"})
	if err != nil {
		t.Fatal(err)
	}
	if log.GetLevel() != zerolog.InfoLevel {
		t.Fatalf("level = %s", log.GetLevel())
	}
}
