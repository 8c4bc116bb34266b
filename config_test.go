package torrentcore

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadSettingsMissingFileReturnsDefaults(t *testing.T) {
	s, err := LoadSettings(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if s.PortBegin != DefaultSettings.PortBegin {
		t.Fatalf("expected default PortBegin, got %d", s.PortBegin)
	}
}

func TestLoadSettingsOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	yaml := "port_begin: 7000\nunchoke_slots_limit: 8\n"
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}
	s, err := LoadSettings(path)
	if err != nil {
		t.Fatal(err)
	}
	if s.PortBegin != 7000 {
		t.Fatalf("expected overridden PortBegin 7000, got %d", s.PortBegin)
	}
	if s.UnchokedPeers != 8 {
		t.Fatalf("expected overridden UnchokedPeers 8, got %d", s.UnchokedPeers)
	}
	if s.CacheSize != DefaultSettings.CacheSize {
		t.Fatalf("expected untouched field to keep default, got %d", s.CacheSize)
	}
}
