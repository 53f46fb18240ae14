package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/chazu/scivm/vm"
)

func TestLoadManifest(t *testing.T) {
	// Create a temporary directory with a scivm.toml
	dir := t.TempDir()
	tomlContent := `
[game]
name = "quest"
version = "1.0"
vocabulary = "data/vocab.toml"

[vm]
max-frame-depth = 64
stack-size = 2048
instructions-per-tick = 500
collect-every = 30

[log]
verbosity = 2
file = "scivm.log"

[saves]
database = "/var/games/quest.db"
`
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(tomlContent), 0644); err != nil {
		t.Fatal(err)
	}

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if m.Game.Name != "quest" {
		t.Errorf("game name = %q, want quest", m.Game.Name)
	}
	if m.Game.Version != "1.0" {
		t.Errorf("game version = %q, want 1.0", m.Game.Version)
	}
	if got, want := m.VocabularyPath(), filepath.Join(m.Dir, "data", "vocab.toml"); got != want {
		t.Errorf("vocabulary path = %q, want %q", got, want)
	}
	if m.Log.Verbosity != 2 {
		t.Errorf("log verbosity = %d, want 2", m.Log.Verbosity)
	}
	if got, want := m.LogFilePath(), filepath.Join(m.Dir, "scivm.log"); got != want {
		t.Errorf("log file = %q, want %q", got, want)
	}
	if m.DatabasePath() != "/var/games/quest.db" {
		t.Errorf("database = %q, want the absolute path unchanged", m.DatabasePath())
	}

	cfg := m.VMConfig()
	want := vm.Config{MaxFrameDepth: 64, StackSize: 2048, InstructionsPerTick: 500, CollectEvery: 30}
	if cfg != want {
		t.Errorf("VMConfig = %+v, want %+v", cfg, want)
	}
}

func TestLoadManifestDefaults(t *testing.T) {
	dir := t.TempDir()
	tomlContent := `
[game]
name = "minimal"
`
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(tomlContent), 0644); err != nil {
		t.Fatal(err)
	}

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if m.Game.Vocabulary != "vocab.toml" {
		t.Errorf("default vocabulary = %q, want vocab.toml", m.Game.Vocabulary)
	}
	if got, want := m.DatabasePath(), filepath.Join(m.Dir, ".scivm", "saves.db"); got != want {
		t.Errorf("default database = %q, want %q", got, want)
	}
	if m.LogFilePath() != "" {
		t.Errorf("default log file = %q, want stderr", m.LogFilePath())
	}
	if cfg := m.VMConfig(); cfg != vm.DefaultConfig() {
		t.Errorf("VMConfig = %+v, want defaults", cfg)
	}
}

func TestLoadManifestParseError(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte("[vm\nstack-size = 1"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(dir); err == nil {
		t.Error("expected parse error")
	}
}

func TestFindAndLoad(t *testing.T) {
	// Create nested directory structure
	dir := t.TempDir()
	subDir := filepath.Join(dir, "a", "b", "c")
	if err := os.MkdirAll(subDir, 0755); err != nil {
		t.Fatal(err)
	}

	tomlContent := `[game]
name = "found-game"
`
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(tomlContent), 0644); err != nil {
		t.Fatal(err)
	}

	// Should find manifest when starting from a deep subdirectory
	m, err := FindAndLoad(subDir)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if m == nil {
		t.Fatal("FindAndLoad returned nil")
	}
	if m.Game.Name != "found-game" {
		t.Errorf("game name = %q, want found-game", m.Game.Name)
	}
}

func TestFindAndLoadNotFound(t *testing.T) {
	dir := t.TempDir()
	m, err := FindAndLoad(dir)
	if err != nil {
		t.Fatalf("FindAndLoad error: %v", err)
	}
	if m != nil {
		t.Error("expected nil manifest when no scivm.toml exists")
	}
}

func TestDefault(t *testing.T) {
	m := Default("/games/quest")
	if m.VocabularyPath() != "/games/quest/vocab.toml" {
		t.Errorf("vocabulary path = %q", m.VocabularyPath())
	}
	if m.DatabasePath() != "/games/quest/.scivm/saves.db" {
		t.Errorf("database path = %q", m.DatabasePath())
	}
}
