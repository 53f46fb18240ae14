package manifest

import (
	"fmt"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"

	"github.com/chazu/scivm/vm"
)

// vocabularyFile is the on-disk form of a vm.Vocabulary. Ids may be sparse;
// gaps become empty names.
type vocabularyFile struct {
	Version   string            `toml:"version"`
	Selectors map[string]int    `toml:"selectors"`
	Kernels   map[string]int    `toml:"kernels"`
	Classes   map[string]uint16 `toml:"classes"`
}

// LoadVocabulary reads a vocabulary file.
func LoadVocabulary(path string) (*vm.Vocabulary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	v, err := ParseVocabulary(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return v, nil
}

// ParseVocabulary decodes vocabulary TOML.
func ParseVocabulary(data []byte) (*vm.Vocabulary, error) {
	var f vocabularyFile
	if _, err := toml.Decode(string(data), &f); err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	if f.Version == "" {
		return nil, fmt.Errorf("vocabulary has no version")
	}

	selectors, err := byID("selector", f.Selectors)
	if err != nil {
		return nil, err
	}
	kernels, err := byID("kernel", f.Kernels)
	if err != nil {
		return nil, err
	}

	var classes []uint16
	for key, script := range f.Classes {
		id, err := strconv.Atoi(key)
		if err != nil || id < 0 || id > 0xFFFF {
			return nil, fmt.Errorf("class id %q is not a number", key)
		}
		for len(classes) <= id {
			classes = append(classes, 0)
		}
		classes[id] = script
	}

	return &vm.Vocabulary{
		Version:   f.Version,
		Selectors: selectors,
		Kernels:   kernels,
		Classes:   classes,
	}, nil
}

// byID inverts a name -> id table into an id-indexed name list.
func byID(what string, names map[string]int) ([]string, error) {
	var out []string
	for name, id := range names {
		if id < 0 || id > 0xFFFF {
			return nil, fmt.Errorf("%s %s: id %d out of range", what, name, id)
		}
		for len(out) <= id {
			out = append(out, "")
		}
		if out[id] != "" {
			return nil, fmt.Errorf("%s id %d names both %s and %s", what, id, out[id], name)
		}
		out[id] = name
	}
	return out, nil
}
