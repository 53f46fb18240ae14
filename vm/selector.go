package vm

import (
	"crypto/sha256"
	"fmt"
)

// Selector names a property or method. Ids come from the game vocabulary.
type Selector int

// NoSelector marks an absent selector.
const NoSelector Selector = -1

// Vocabulary is the loaded game's symbol set, produced by an external
// resource parser.
type Vocabulary struct {
	Version   string
	Selectors []string // index is the selector id; "" marks an unused id
	Kernels   []string // index is the kernel call number
	Classes   []uint16 // index is the class id; value is the defining script
}

// ---------------------------------------------------------------------------
// SelectorTable: immutable name <-> id mapping
// ---------------------------------------------------------------------------

// SelectorTable maps selector names to ids for one vocabulary.
//
// The table is built once and never mutated afterwards, so it is shared by
// reference between the VM, its kernels and the host without locking.
type SelectorTable struct {
	byName   map[string]Selector
	byID     []string
	version  string
	identity []byte
	cache    *SelectorCache
}

// NewSelectorTable builds the table for vocab and binds the statically known
// selectors. A required selector missing from the vocabulary is an error.
func NewSelectorTable(vocab *Vocabulary) (*SelectorTable, error) {
	st := &SelectorTable{
		byName:  make(map[string]Selector, len(vocab.Selectors)),
		byID:    make([]string, len(vocab.Selectors)),
		version: vocab.Version,
	}
	copy(st.byID, vocab.Selectors)

	for id, name := range vocab.Selectors {
		if name == "" {
			continue
		}
		if prev, ok := st.byName[name]; ok {
			log.Debugf("selector %q defined twice (ids %d and %d), keeping %d", name, prev, id, prev)
			continue
		}
		st.byName[name] = Selector(id)
	}

	h := sha256.New()
	h.Write([]byte(vocab.Version))
	for _, name := range vocab.Selectors {
		h.Write([]byte{0})
		h.Write([]byte(name))
	}
	st.identity = h.Sum(nil)

	cache, err := newSelectorCache(st)
	if err != nil {
		return nil, err
	}
	st.cache = cache
	return st, nil
}

// Lookup returns the id for name, failing with SelectorNotFound.
func (st *SelectorTable) Lookup(name string) (Selector, error) {
	if id, ok := st.byName[name]; ok {
		return id, nil
	}
	return NoSelector, newError(KindSelectorNotFound, NullReg, NoSelector, "no selector named %q", name)
}

// Has reports whether name is in the vocabulary.
func (st *SelectorTable) Has(name string) bool {
	_, ok := st.byName[name]
	return ok
}

// Name returns the name of id, or a placeholder for unknown ids.
func (st *SelectorTable) Name(id Selector) string {
	if id < 0 || int(id) >= len(st.byID) || st.byID[id] == "" {
		return fmt.Sprintf("<selector %d>", id)
	}
	return st.byID[id]
}

// Len returns the number of selector ids, including unused ones.
func (st *SelectorTable) Len() int {
	return len(st.byID)
}

// Version returns the vocabulary version tag.
func (st *SelectorTable) Version() string {
	return st.version
}

// Identity returns a digest of the vocabulary. Snapshots record it so a
// restore can refuse state produced under a different vocabulary.
func (st *SelectorTable) Identity() []byte {
	out := make([]byte, len(st.identity))
	copy(out, st.identity)
	return out
}

// Cache returns the statically bound selectors.
func (st *SelectorTable) Cache() *SelectorCache {
	return st.cache
}

// ---------------------------------------------------------------------------
// SelectorCache: statically known selectors
// ---------------------------------------------------------------------------

// SelectorCache holds the ids of selectors the VM itself relies on. Fields
// for optional selectors are NoSelector when the vocabulary lacks them.
type SelectorCache struct {
	Info      Selector // -info-
	X         Selector
	Y         Selector
	Z         Selector
	View      Selector
	Loop      Selector
	Cel       Selector
	Priority  Selector
	Signal    Selector
	Client    Selector
	Name      Selector
	Play      Selector
	Init      Selector
	Doit      Selector
	Dispose   Selector
	New       Selector
	Type      Selector
	Message   Selector
	Modifiers Selector
	Claimed   Selector
	Size      Selector
	Elements  Selector
	NodePtr   Selector
}

type selectorBinding struct {
	name     string
	field    *Selector
	required bool
}

func (c *SelectorCache) bindings() []selectorBinding {
	return []selectorBinding{
		{"-info-", &c.Info, false},
		{"x", &c.X, true},
		{"y", &c.Y, true},
		{"z", &c.Z, false},
		{"view", &c.View, true},
		{"loop", &c.Loop, true},
		{"cel", &c.Cel, true},
		{"priority", &c.Priority, false},
		{"signal", &c.Signal, true},
		{"client", &c.Client, false},
		{"name", &c.Name, false},
		{"play", &c.Play, true},
		{"init", &c.Init, true},
		{"doit", &c.Doit, true},
		{"dispose", &c.Dispose, true},
		{"new", &c.New, false},
		{"type", &c.Type, false},
		{"message", &c.Message, false},
		{"modifiers", &c.Modifiers, false},
		{"claimed", &c.Claimed, false},
		{"size", &c.Size, false},
		{"elements", &c.Elements, false},
		{"nodePtr", &c.NodePtr, false},
	}
}

// RequiredSelectors lists the selector names every vocabulary must define.
func RequiredSelectors() []string {
	var c SelectorCache
	var names []string
	for _, b := range c.bindings() {
		if b.required {
			names = append(names, b.name)
		}
	}
	return names
}

func newSelectorCache(st *SelectorTable) (*SelectorCache, error) {
	c := &SelectorCache{}
	for _, b := range c.bindings() {
		id, ok := st.byName[b.name]
		if !ok {
			if b.required {
				return nil, newError(KindMissingSelector, NullReg, NoSelector, "vocabulary lacks %q", b.name)
			}
			id = NoSelector
		}
		*b.field = id
	}
	return c, nil
}
