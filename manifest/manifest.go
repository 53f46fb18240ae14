// Package manifest handles scivm.toml game configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/chazu/scivm/vm"
)

// FileName is the name of the configuration file.
const FileName = "scivm.toml"

// Manifest represents a scivm.toml configuration.
type Manifest struct {
	Game  Game       `toml:"game"`
	VM    VMSettings `toml:"vm"`
	Log   LogConfig  `toml:"log"`
	Saves Saves      `toml:"saves"`

	// Dir is the directory containing the scivm.toml file (set at load time).
	Dir string `toml:"-"`
}

// Game contains game metadata.
type Game struct {
	Name       string `toml:"name"`
	Version    string `toml:"version"`
	Vocabulary string `toml:"vocabulary"`
}

// VMSettings bounds the executor. Zero values fall back to vm.DefaultConfig.
type VMSettings struct {
	MaxFrameDepth       int `toml:"max-frame-depth"`
	StackSize           int `toml:"stack-size"`
	InstructionsPerTick int `toml:"instructions-per-tick"`
	CollectEvery        int `toml:"collect-every"`
}

// LogConfig configures commonlog.
type LogConfig struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Saves configures the save-slot database.
type Saves struct {
	Database string `toml:"database"`
}

// Load parses a scivm.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	m.applyDefaults()
	return &m, nil
}

// Default returns the configuration used for dir when it has no scivm.toml.
func Default(dir string) *Manifest {
	m := &Manifest{Dir: dir}
	m.applyDefaults()
	return m
}

func (m *Manifest) applyDefaults() {
	if m.Game.Vocabulary == "" {
		m.Game.Vocabulary = "vocab.toml"
	}
	if m.Saves.Database == "" {
		m.Saves.Database = filepath.Join(".scivm", "saves.db")
	}
}

// FindAndLoad walks up from startDir to find a scivm.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// VMConfig converts the [vm] section to a vm.Config.
func (m *Manifest) VMConfig() vm.Config {
	cfg := vm.DefaultConfig()
	if m.VM.MaxFrameDepth > 0 {
		cfg.MaxFrameDepth = m.VM.MaxFrameDepth
	}
	if m.VM.StackSize > 0 {
		cfg.StackSize = m.VM.StackSize
	}
	if m.VM.InstructionsPerTick > 0 {
		cfg.InstructionsPerTick = m.VM.InstructionsPerTick
	}
	if m.VM.CollectEvery > 0 {
		cfg.CollectEvery = m.VM.CollectEvery
	}
	return cfg
}

// VocabularyPath returns the absolute path of the vocabulary file.
func (m *Manifest) VocabularyPath() string {
	return m.resolve(m.Game.Vocabulary)
}

// DatabasePath returns the absolute path of the save-slot database.
func (m *Manifest) DatabasePath() string {
	return m.resolve(m.Saves.Database)
}

// LogFilePath returns the absolute path of the log file, or "" for stderr.
func (m *Manifest) LogFilePath() string {
	if m.Log.File == "" {
		return ""
	}
	return m.resolve(m.Log.File)
}

func (m *Manifest) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}
