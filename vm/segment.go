package vm

import "fmt"

// ---------------------------------------------------------------------------
// Segment kinds
// ---------------------------------------------------------------------------

// SegmentKind identifies what a segment holds.
type SegmentKind uint8

const (
	SegNone   SegmentKind = iota
	SegScript             // bytecode and objects of one script module
	SegLocals             // local variables of one script module
	SegStack              // the VM value stack
	SegClones             // table of cloned objects
	SegLists              // table of list headers
	SegNodes              // table of list nodes
	SegArray              // script-allocated array of Reg
	SegString             // script-allocated byte string
	SegDynMem             // script-allocated scratch memory
)

var segmentKindNames = [...]string{
	SegNone:   "none",
	SegScript: "script",
	SegLocals: "locals",
	SegStack:  "stack",
	SegClones: "clones",
	SegLists:  "lists",
	SegNodes:  "nodes",
	SegArray:  "array",
	SegString: "string",
	SegDynMem: "dynmem",
}

// String implements the Stringer interface.
func (k SegmentKind) String() string {
	if int(k) < len(segmentKindNames) {
		return segmentKindNames[k]
	}
	return fmt.Sprintf("SegmentKind(%d)", uint8(k))
}

// IsTable reports whether segments of this kind hold fixed-size entries
// addressed by index.
func (k SegmentKind) IsTable() bool {
	return k == SegClones || k == SegLists || k == SegNodes
}

// isRegAddressed reports whether offsets address 16-bit words.
func (k SegmentKind) isRegAddressed() bool {
	return k == SegLocals || k == SegStack || k == SegArray
}

// isByteAddressed reports whether offsets address raw bytes.
func (k SegmentKind) isByteAddressed() bool {
	return k == SegString || k == SegDynMem
}

// ---------------------------------------------------------------------------
// Segment payloads
// ---------------------------------------------------------------------------

// List is a doubly linked list header. First and Last address Nodes entries.
type List struct {
	First Reg
	Last  Reg
}

// Node is one element of a List.
type Node struct {
	Pred  Reg
	Succ  Reg
	Key   Reg
	Value Reg
}

// TableEntry is one slot of a table segment. Exactly one payload is set
// while the entry is live.
type TableEntry struct {
	Live       bool
	Generation uint32
	Object     *Object `cbor:",omitempty"`
	List       *List   `cbor:",omitempty"`
	Node       *Node   `cbor:",omitempty"`
}

// Table holds the entries of a Clones, Lists or Nodes segment along with its
// reuse bookkeeping. Freed indices wait in Quarantine until disposal is
// acknowledged, then move to Free.
type Table struct {
	Entries    []TableEntry
	Free       []uint16
	Quarantine []uint16
}

// maxTableEntries bounds a table so every entry is addressable by a 16-bit
// offset.
const maxTableEntries = 0xFFFF

// ScriptSegment is a loaded script module: its bytecode and the objects
// declared in it, keyed by their offset in the script's address space.
type ScriptSegment struct {
	Number    uint16
	Code      []byte
	Objects   map[uint16]*Object
	Exports   []uint16
	LocalsSeg SegmentID
}

// Segment is one slot of the segment table.
type Segment struct {
	Kind       SegmentKind
	Live       bool
	Generation uint32
	Name       string `cbor:",omitempty"`

	Script *ScriptSegment `cbor:",omitempty"`
	Regs   []Reg          `cbor:",omitempty"`
	Bytes  []byte         `cbor:",omitempty"`
	Table  *Table         `cbor:",omitempty"`
}

// clearPayload drops the segment's data after it has been freed.
func (s *Segment) clearPayload() {
	s.Script = nil
	s.Regs = nil
	s.Bytes = nil
	s.Table = nil
}

// size returns the number of addressable offsets.
func (s *Segment) size() int {
	switch {
	case s.Kind.isRegAddressed():
		return len(s.Regs) * 2
	case s.Kind.isByteAddressed():
		return len(s.Bytes)
	case s.Kind.IsTable():
		return len(s.Table.Entries)
	case s.Kind == SegScript:
		return len(s.Script.Code)
	}
	return 0
}

// ---------------------------------------------------------------------------
// View: resolved memory
// ---------------------------------------------------------------------------

// View is the result of resolving an address. Regs and Bytes are slices of
// the segment starting at the resolved offset; Object, List and Node are set
// for table entries and script objects.
type View struct {
	Kind    SegmentKind
	Segment SegmentID
	Offset  uint16
	Regs    []Reg
	Bytes   []byte
	Object  *Object
	List    *List
	Node    *Node
}

// Handle is an address paired with the generation of the slot it refers to.
// Hosts holding references across ticks use it to detect reuse of a slot.
type Handle struct {
	Addr       Reg
	Generation uint32
}
