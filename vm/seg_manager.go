package vm

import "sort"

// ---------------------------------------------------------------------------
// SegManager: owner of the segmented address space
// ---------------------------------------------------------------------------

// SegManager owns every segment. Other components reach memory only through
// Allocate, Resolve, Free and FreeEntry.
//
// Freed segment ids and table indices are not handed out again until
// AcknowledgeDisposal is called: a script may still hold a raw address into
// a freed slot, and that address must keep failing with UseAfterFree rather
// than silently reaching a new occupant.
type SegManager struct {
	segments   []*Segment // index is the SegmentID; slot 0 is never used
	free       []SegmentID
	quarantine []SegmentID

	tables  map[SegmentKind]SegmentID // current table segment per table kind
	scripts map[uint16]SegmentID      // script number -> script segment
}

// NewSegManager creates an empty address space.
func NewSegManager() *SegManager {
	return &SegManager{
		segments: make([]*Segment, 1, 16),
		tables:   make(map[SegmentKind]SegmentID),
		scripts:  make(map[uint16]SegmentID),
	}
}

// NumSegments returns the size of the segment table, including dead slots.
func (sm *SegManager) NumSegments() int {
	return len(sm.segments)
}

// newSegment claims a segment id, reusing an acknowledged free id when one
// is available.
func (sm *SegManager) newSegment(kind SegmentKind) (SegmentID, *Segment, error) {
	if n := len(sm.free); n > 0 {
		id := sm.free[n-1]
		sm.free = sm.free[:n-1]
		seg := sm.segments[id]
		seg.Kind = kind
		seg.Live = true
		seg.Name = ""
		log.Debugf("reusing segment %d as %s (generation %d)", id, kind, seg.Generation)
		return id, seg, nil
	}
	if len(sm.segments) > 0xFFFF {
		return 0, nil, addrError(KindInvalidAddress, NullReg, "segment table exhausted")
	}
	id := SegmentID(len(sm.segments))
	seg := &Segment{Kind: kind, Live: true}
	sm.segments = append(sm.segments, seg)
	log.Debugf("allocated segment %d as %s", id, kind)
	return id, seg, nil
}

// Allocate reserves memory of the given kind. Array, String and DynMem
// allocations get a segment of their own sized in words (Array) or bytes;
// Clones, Lists and Nodes get an entry in the shared table of that kind and
// ignore size.
func (sm *SegManager) Allocate(kind SegmentKind, size int) (Reg, error) {
	if size < 0 || size > 0xFFFF {
		return NullReg, addrError(KindInvalidAddress, NullReg, "invalid %s allocation size %d", kind, size)
	}
	switch kind {
	case SegClones, SegLists, SegNodes:
		return sm.allocateEntry(kind)
	case SegArray, SegLocals, SegStack:
		if kind == SegArray && size > 0x7FFF {
			return NullReg, addrError(KindInvalidAddress, NullReg, "array of %d words is not addressable", size)
		}
		id, seg, err := sm.newSegment(kind)
		if err != nil {
			return NullReg, err
		}
		seg.Regs = make([]Reg, size)
		return MakeReg(id, 0), nil
	case SegString, SegDynMem:
		id, seg, err := sm.newSegment(kind)
		if err != nil {
			return NullReg, err
		}
		seg.Bytes = make([]byte, size)
		return MakeReg(id, 0), nil
	}
	return NullReg, addrError(KindInvalidAddress, NullReg, "cannot allocate segment kind %s", kind)
}

// allocateEntry claims a slot in the current table segment of kind,
// opening a new table segment when the current one is full.
func (sm *SegManager) allocateEntry(kind SegmentKind) (Reg, error) {
	id, ok := sm.tables[kind]
	var seg *Segment
	if ok {
		seg = sm.segments[id]
	}
	if !ok || !seg.Live || (len(seg.Table.Free) == 0 && len(seg.Table.Entries) >= maxTableEntries) {
		var err error
		id, seg, err = sm.newSegment(kind)
		if err != nil {
			return NullReg, err
		}
		seg.Table = &Table{}
		sm.tables[kind] = id
	}

	t := seg.Table
	var idx uint16
	if n := len(t.Free); n > 0 {
		idx = t.Free[n-1]
		t.Free = t.Free[:n-1]
		t.Entries[idx].Live = true
	} else {
		idx = uint16(len(t.Entries))
		t.Entries = append(t.Entries, TableEntry{Live: true})
	}
	return MakeReg(id, idx), nil
}

// segment returns the live segment for id.
func (sm *SegManager) segment(id SegmentID, addr Reg) (*Segment, error) {
	if id == 0 {
		return nil, addrError(KindInvalidAddress, addr, "not a pointer")
	}
	if int(id) >= len(sm.segments) || sm.segments[id] == nil {
		return nil, addrError(KindInvalidAddress, addr, "no such segment")
	}
	seg := sm.segments[id]
	if !seg.Live {
		return nil, addrError(KindUseAfterFree, addr, "segment %d was freed", id)
	}
	return seg, nil
}

// Segment returns the live segment with the given id.
func (sm *SegManager) Segment(id SegmentID) (*Segment, error) {
	return sm.segment(id, MakeReg(id, 0))
}

// entry returns the live table entry addressed by addr.
func (sm *SegManager) entry(addr Reg, kind SegmentKind) (*TableEntry, error) {
	seg, err := sm.segment(addr.Segment, addr)
	if err != nil {
		return nil, err
	}
	if seg.Kind != kind {
		return nil, addrError(KindInvalidAddress, addr, "expected %s segment, found %s", kind, seg.Kind)
	}
	if int(addr.Offset) >= len(seg.Table.Entries) {
		return nil, addrError(KindInvalidAddress, addr, "entry out of range")
	}
	e := &seg.Table.Entries[addr.Offset]
	if !e.Live {
		return nil, addrError(KindUseAfterFree, addr, "%s entry was freed", kind)
	}
	return e, nil
}

// Resolve turns an address into a view of the memory it names.
func (sm *SegManager) Resolve(addr Reg) (View, error) {
	seg, err := sm.segment(addr.Segment, addr)
	if err != nil {
		return View{}, err
	}
	v := View{Kind: seg.Kind, Segment: addr.Segment, Offset: addr.Offset}

	switch {
	case seg.Kind.IsTable():
		e, err := sm.entry(addr, seg.Kind)
		if err != nil {
			return View{}, err
		}
		v.Object, v.List, v.Node = e.Object, e.List, e.Node
		return v, nil

	case seg.Kind == SegScript:
		if obj, ok := seg.Script.Objects[addr.Offset]; ok {
			v.Object = obj
			return v, nil
		}
		if int(addr.Offset) >= len(seg.Script.Code) {
			return View{}, addrError(KindInvalidAddress, addr, "offset past end of script %d", seg.Script.Number)
		}
		v.Bytes = seg.Script.Code[addr.Offset:]
		return v, nil

	case seg.Kind.isRegAddressed():
		if addr.Offset&1 != 0 {
			return View{}, addrError(KindInvalidAddress, addr, "unaligned %s access", seg.Kind)
		}
		idx := int(addr.Offset / 2)
		if idx >= len(seg.Regs) {
			return View{}, addrError(KindInvalidAddress, addr, "offset past end of %s segment", seg.Kind)
		}
		v.Regs = seg.Regs[idx:]
		return v, nil

	case seg.Kind.isByteAddressed():
		if int(addr.Offset) >= len(seg.Bytes) {
			return View{}, addrError(KindInvalidAddress, addr, "offset past end of %s segment", seg.Kind)
		}
		v.Bytes = seg.Bytes[addr.Offset:]
		return v, nil
	}
	return View{}, addrError(KindInvalidAddress, addr, "unresolvable segment kind %s", seg.Kind)
}

// Free releases a whole segment. Every address into it fails with
// UseAfterFree from now on. Table segments and the stack cannot be freed
// this way.
func (sm *SegManager) Free(id SegmentID) error {
	seg, err := sm.Segment(id)
	if err != nil {
		return err
	}
	if seg.Kind.IsTable() {
		return addrError(KindInvalidAddress, MakeReg(id, 0), "table segments are freed per entry")
	}
	if seg.Kind == SegStack {
		return addrError(KindInvalidAddress, MakeReg(id, 0), "the stack segment cannot be freed")
	}
	if seg.Kind == SegScript {
		delete(sm.scripts, seg.Script.Number)
	}
	seg.Live = false
	seg.Generation++
	seg.clearPayload()
	sm.quarantine = append(sm.quarantine, id)
	log.Debugf("freed segment %d (%s)", id, seg.Kind)
	return nil
}

// FreeEntry releases one entry of a table segment.
func (sm *SegManager) FreeEntry(addr Reg) error {
	seg, err := sm.segment(addr.Segment, addr)
	if err != nil {
		return err
	}
	if !seg.Kind.IsTable() {
		return addrError(KindInvalidAddress, addr, "%s segment has no entries", seg.Kind)
	}
	e, err := sm.entry(addr, seg.Kind)
	if err != nil {
		return err
	}
	e.Live = false
	e.Generation++
	e.Object, e.List, e.Node = nil, nil, nil
	seg.Table.Quarantine = append(seg.Table.Quarantine, addr.Offset)
	return nil
}

// AcknowledgeDisposal makes every quarantined segment id and table index
// available for reuse. Call it only when no reachable value can still hold
// an address into a freed slot.
func (sm *SegManager) AcknowledgeDisposal() {
	sm.free = append(sm.free, sm.quarantine...)
	sm.quarantine = sm.quarantine[:0]
	// Reuse lowest ids first so allocation order stays deterministic.
	sort.Slice(sm.free, func(i, j int) bool { return sm.free[i] > sm.free[j] })

	for _, seg := range sm.segments {
		if seg == nil || !seg.Live || seg.Table == nil {
			continue
		}
		t := seg.Table
		t.Free = append(t.Free, t.Quarantine...)
		t.Quarantine = t.Quarantine[:0]
		sort.Slice(t.Free, func(i, j int) bool { return t.Free[i] > t.Free[j] })
	}
}

// Quarantined returns how many segment ids and table entries await
// acknowledgement.
func (sm *SegManager) Quarantined() int {
	n := len(sm.quarantine)
	for _, seg := range sm.segments {
		if seg != nil && seg.Live && seg.Table != nil {
			n += len(seg.Table.Quarantine)
		}
	}
	return n
}

// ---------------------------------------------------------------------------
// Handles
// ---------------------------------------------------------------------------

// Handle captures the current generation of the slot addr refers to.
func (sm *SegManager) Handle(addr Reg) (Handle, error) {
	seg, err := sm.segment(addr.Segment, addr)
	if err != nil {
		return Handle{}, err
	}
	if seg.Kind.IsTable() {
		e, err := sm.entry(addr, seg.Kind)
		if err != nil {
			return Handle{}, err
		}
		return Handle{Addr: addr, Generation: e.Generation}, nil
	}
	return Handle{Addr: addr, Generation: seg.Generation}, nil
}

// CheckHandle fails with UseAfterFree if the slot behind h was freed since
// the handle was taken, even if the slot has since been reused.
func (sm *SegManager) CheckHandle(h Handle) error {
	cur, err := sm.Handle(h.Addr)
	if err != nil {
		return err
	}
	if cur.Generation != h.Generation {
		return addrError(KindUseAfterFree, h.Addr, "stale handle (generation %d, now %d)", h.Generation, cur.Generation)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Typed accessors
// ---------------------------------------------------------------------------

// Object returns the object at addr: a script object or a clone.
func (sm *SegManager) Object(addr Reg) (*Object, error) {
	v, err := sm.Resolve(addr)
	if err != nil {
		return nil, err
	}
	if v.Object == nil {
		return nil, addrError(KindInvalidAddress, addr, "not an object")
	}
	return v.Object, nil
}

// IsObject reports whether addr resolves to a live object.
func (sm *SegManager) IsObject(addr Reg) bool {
	if addr.IsNumber() {
		return false
	}
	_, err := sm.Object(addr)
	return err == nil
}

// List returns the list header at addr.
func (sm *SegManager) List(addr Reg) (*List, error) {
	e, err := sm.entry(addr, SegLists)
	if err != nil {
		return nil, err
	}
	return e.List, nil
}

// Node returns the list node at addr.
func (sm *SegManager) Node(addr Reg) (*Node, error) {
	e, err := sm.entry(addr, SegNodes)
	if err != nil {
		return nil, err
	}
	return e.Node, nil
}

// setEntryPayload stores a freshly allocated entry's payload.
func (sm *SegManager) setEntryPayload(addr Reg, obj *Object, list *List, node *Node) {
	seg := sm.segments[addr.Segment]
	e := &seg.Table.Entries[addr.Offset]
	e.Object, e.List, e.Node = obj, list, node
}

// ScriptSegment returns the segment id of a loaded script.
func (sm *SegManager) ScriptSegment(number uint16) (SegmentID, bool) {
	id, ok := sm.scripts[number]
	return id, ok
}

// script returns the payload of a loaded script by segment id.
func (sm *SegManager) script(id SegmentID) (*ScriptSegment, error) {
	seg, err := sm.Segment(id)
	if err != nil {
		return nil, err
	}
	if seg.Kind != SegScript {
		return nil, addrError(KindInvalidAddress, MakeReg(id, 0), "segment %d is not a script", id)
	}
	return seg.Script, nil
}

// LoadedScripts returns the numbers of all loaded scripts in ascending order.
func (sm *SegManager) LoadedScripts() []uint16 {
	nums := make([]uint16, 0, len(sm.scripts))
	for n := range sm.scripts {
		nums = append(nums, n)
	}
	sort.Slice(nums, func(i, j int) bool { return nums[i] < nums[j] })
	return nums
}

// Each calls fn for every segment slot that has ever been used, live or not.
func (sm *SegManager) Each(fn func(id SegmentID, seg *Segment)) {
	for i, seg := range sm.segments {
		if seg != nil {
			fn(SegmentID(i), seg)
		}
	}
}
