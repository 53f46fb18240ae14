package vm

import "sort"

// ---------------------------------------------------------------------------
// ClassTable: class id -> defining script and class object
// ---------------------------------------------------------------------------

// ClassEntry records where a class lives. Addr is NullReg while the defining
// script is not loaded.
type ClassEntry struct {
	Script uint16
	Addr   Reg
	Name   string
}

// ClassTable maps class ids to their class objects.
type ClassTable struct {
	Entries map[ClassID]*ClassEntry
}

// NewClassTable seeds the table from the vocabulary's class list.
func NewClassTable(vocab *Vocabulary) *ClassTable {
	ct := &ClassTable{Entries: make(map[ClassID]*ClassEntry, len(vocab.Classes))}
	for id, script := range vocab.Classes {
		ct.Entries[ClassID(id)] = &ClassEntry{Script: script}
	}
	return ct
}

// Lookup returns the entry for id.
func (ct *ClassTable) Lookup(id ClassID) (*ClassEntry, bool) {
	e, ok := ct.Entries[id]
	return e, ok
}

// Len returns the number of known classes.
func (ct *ClassTable) Len() int {
	return len(ct.Entries)
}

// IDs returns all class ids in ascending order.
func (ct *ClassTable) IDs() []ClassID {
	ids := make([]ClassID, 0, len(ct.Entries))
	for id := range ct.Entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (ct *ClassTable) register(id ClassID, script uint16, addr Reg, name string) {
	e, ok := ct.Entries[id]
	if !ok {
		e = &ClassEntry{}
		ct.Entries[id] = e
	}
	e.Script = script
	e.Addr = addr
	e.Name = name
}

// forgetScript clears the addresses of classes defined by script.
func (ct *ClassTable) forgetScript(script uint16) {
	for _, e := range ct.Entries {
		if e.Script == script {
			e.Addr = NullReg
		}
	}
}

func (ct *ClassTable) clone() *ClassTable {
	out := &ClassTable{Entries: make(map[ClassID]*ClassEntry, len(ct.Entries))}
	for id, e := range ct.Entries {
		cp := *e
		out.Entries[id] = &cp
	}
	return out
}
