package vm

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ---------------------------------------------------------------------------
// Snapshot format
// ---------------------------------------------------------------------------
//
//	magic   [4]byte "SCIS"
//	version uint32  little-endian
//	body    canonical CBOR of snapshotBody
//
// The body holds the segment table verbatim, dead slots and reuse lists
// included, so restored addresses name exactly what they named at capture.

// SnapshotMagic opens every snapshot.
var SnapshotMagic = [4]byte{'S', 'C', 'I', 'S'}

// SnapshotVersion is the current body layout.
const SnapshotVersion uint32 = 1

const snapshotHeaderSize = 8

var snapshotEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("snapshot: cbor enc mode: %v", err))
	}
	snapshotEncMode = em
}

type snapshotBody struct {
	VocabVersion  string
	Identity      []byte
	SelectorCount int

	Segments   []*Segment
	Free       []SegmentID
	Quarantine []SegmentID
	Tables     map[SegmentKind]SegmentID
	Scripts    map[uint16]SegmentID
	Classes    map[ClassID]*ClassEntry

	StackSeg   SegmentID
	Frames     []*Frame
	SP         int
	Acc        Reg
	Prev       Reg
	RestAdjust int
	State      State

	Ticks    uint64
	Clock    uint32
	LastWait uint32
}

// SnapshotInfo is the header-level summary of a snapshot.
type SnapshotInfo struct {
	Version       uint32
	VocabVersion  string
	Identity      []byte
	Segments      int
	LiveSegments  int
	Frames        int
	State         State
	Ticks         uint64
	SegmentCounts map[SegmentKind]int
}

// ---------------------------------------------------------------------------
// Capture
// ---------------------------------------------------------------------------

// Capture serializes the VM. It refuses while an instruction stream runs
// and once the VM has faulted, since a fault is repaired by restoring an
// earlier snapshot rather than by saving the broken one.
func (vm *VM) Capture() ([]byte, error) {
	switch vm.state {
	case StateRunning:
		return nil, errors.New("capture: vm is running")
	case StateFaulted:
		return nil, fmt.Errorf("capture: vm is faulted: %w", vm.faultError())
	}
	sm := vm.Segments
	body := snapshotBody{
		VocabVersion:  vm.Selectors.Version(),
		Identity:      vm.Selectors.Identity(),
		SelectorCount: vm.Selectors.Len(),
		Segments:      sm.segments,
		Free:          sm.free,
		Quarantine:    sm.quarantine,
		Tables:        sm.tables,
		Scripts:       sm.scripts,
		Classes:       vm.Classes.Entries,
		StackSeg:      vm.stackSeg,
		Frames:        vm.frames,
		SP:            vm.sp,
		Acc:           vm.acc,
		Prev:          vm.prev,
		RestAdjust:    vm.restAdjust,
		State:         vm.state,
		Ticks:         vm.ticks,
		Clock:         vm.clock,
		LastWait:      vm.lastWait,
	}
	data, err := snapshotEncMode.Marshal(&body)
	if err != nil {
		return nil, fmt.Errorf("capture: encoding body: %w", err)
	}

	var buf bytes.Buffer
	buf.Grow(snapshotHeaderSize + len(data))
	buf.Write(SnapshotMagic[:])
	binary.Write(&buf, binary.LittleEndian, SnapshotVersion)
	buf.Write(data)

	log.Infof("captured snapshot: %d segments, %d frames, %d bytes", len(sm.segments)-1, len(vm.frames), buf.Len())
	return buf.Bytes(), nil
}

// ---------------------------------------------------------------------------
// Restore
// ---------------------------------------------------------------------------

func incompatible(format string, args ...any) error {
	return newError(KindIncompatibleSnapshot, NullReg, NoSelector, format, args...)
}

// decodeSnapshot checks the header and decodes the body.
func decodeSnapshot(data []byte) (uint32, *snapshotBody, error) {
	if len(data) < snapshotHeaderSize {
		return 0, nil, incompatible("snapshot too short (%d bytes)", len(data))
	}
	if !bytes.Equal(data[:4], SnapshotMagic[:]) {
		return 0, nil, incompatible("bad magic %q", data[:4])
	}
	version := binary.LittleEndian.Uint32(data[4:8])
	if version != SnapshotVersion {
		return version, nil, incompatible("snapshot version %d, expected %d", version, SnapshotVersion)
	}
	var body snapshotBody
	if err := cbor.Unmarshal(data[snapshotHeaderSize:], &body); err != nil {
		return version, nil, incompatible("decoding body: %v", err)
	}
	return version, &body, nil
}

// Restore replaces the VM's state with a snapshot. Nothing changes unless
// the whole snapshot decodes and matches this VM's vocabulary. Freed ids
// become reusable and dispatch caches are dropped.
func (vm *VM) Restore(data []byte) error {
	if vm.state == StateRunning {
		return errors.New("restore: vm is running")
	}
	_, body, err := decodeSnapshot(data)
	if err != nil {
		return err
	}
	if !bytes.Equal(body.Identity, vm.Selectors.Identity()) || body.SelectorCount != vm.Selectors.Len() {
		return incompatible("snapshot was taken with vocabulary %q (%d selectors), this vm has %q (%d selectors)",
			body.VocabVersion, body.SelectorCount, vm.Selectors.Version(), vm.Selectors.Len())
	}

	sm, err := rebuildSegments(body)
	if err != nil {
		return err
	}
	if err := checkExecutor(sm, body); err != nil {
		return err
	}
	classes := &ClassTable{Entries: body.Classes}
	if classes.Entries == nil {
		classes.Entries = make(map[ClassID]*ClassEntry)
	}

	// Everything validated; swap.
	sm.AcknowledgeDisposal()
	vm.Segments = sm
	vm.Classes = classes
	vm.stackSeg = body.StackSeg
	vm.frames = body.Frames
	vm.sp = body.SP
	vm.acc = body.Acc
	vm.prev = body.Prev
	vm.restAdjust = body.RestAdjust
	vm.state = body.State
	vm.lastErr = nil
	vm.ticks = body.Ticks
	vm.clock = body.Clock
	vm.lastWait = body.LastWait
	vm.invalidateDispatchCaches()

	log.Infof("restored snapshot: %d segments, %d frames, state %s", len(sm.segments)-1, len(vm.frames), vm.state)
	return nil
}

// rebuildSegments turns a decoded body into a segment manager, restoring
// the pointers the encoding cannot express.
func rebuildSegments(body *snapshotBody) (*SegManager, error) {
	if len(body.Segments) == 0 || body.Segments[0] != nil {
		return nil, incompatible("segment table malformed")
	}
	sm := &SegManager{
		segments:   body.Segments,
		free:       body.Free,
		quarantine: body.Quarantine,
		tables:     body.Tables,
		scripts:    body.Scripts,
	}
	if sm.tables == nil {
		sm.tables = make(map[SegmentKind]SegmentID)
	}
	if sm.scripts == nil {
		sm.scripts = make(map[uint16]SegmentID)
	}
	for i, seg := range sm.segments {
		if seg == nil || !seg.Live {
			continue
		}
		switch {
		case seg.Kind.IsTable():
			if seg.Table == nil {
				return nil, incompatible("segment %d: %s table missing", i, seg.Kind)
			}
		case seg.Kind == SegScript:
			if seg.Script == nil {
				return nil, incompatible("segment %d: script payload missing", i)
			}
			if seg.Script.Objects == nil {
				seg.Script.Objects = make(map[uint16]*Object)
			}
		}
	}
	for number, id := range sm.scripts {
		s, err := sm.script(id)
		if err != nil || s.Number != number {
			return nil, incompatible("script %d: segment %d is not its script", number, id)
		}
	}
	if err := checkHeap(sm); err != nil {
		return nil, err
	}
	return sm, nil
}

// checkObject verifies the layout invariants property access relies on.
func checkObject(where string, o *Object) error {
	if o == nil {
		return incompatible("%s: object missing", where)
	}
	if len(o.Vars) != len(o.VarSelectors) {
		return incompatible("%s: %d property values for %d selectors", where, len(o.Vars), len(o.VarSelectors))
	}
	return nil
}

// checkHeap verifies every live segment's payload has the shape its kind
// promises.
func checkHeap(sm *SegManager) error {
	for i, seg := range sm.segments {
		if seg == nil || !seg.Live {
			continue
		}
		switch seg.Kind {
		case SegScript:
			for off, o := range seg.Script.Objects {
				if err := checkObject(fmt.Sprintf("script %d object %04x", seg.Script.Number, off), o); err != nil {
					return err
				}
			}
			if ls := seg.Script.LocalsSeg; ls != 0 {
				if locals, err := sm.Segment(ls); err != nil || locals.Kind != SegLocals {
					return incompatible("script %d: locals segment %d missing", seg.Script.Number, ls)
				}
			}
		case SegClones, SegLists, SegNodes:
			for n, e := range seg.Table.Entries {
				if !e.Live {
					continue
				}
				var ok bool
				switch seg.Kind {
				case SegClones:
					if ok = e.Object != nil; ok {
						if err := checkObject(fmt.Sprintf("segment %d entry %d", i, n), e.Object); err != nil {
							return err
						}
					}
				case SegLists:
					ok = e.List != nil
				case SegNodes:
					ok = e.Node != nil
				}
				if !ok {
					return incompatible("segment %d entry %d: %s payload missing", i, n, seg.Kind)
				}
			}
		}
	}
	return nil
}

// checkExecutor verifies the stack pointer and every frame index against
// the stack, and every pc against its script's code.
func checkExecutor(sm *SegManager, body *snapshotBody) error {
	stackSeg, err := sm.Segment(body.StackSeg)
	if err != nil || stackSeg.Kind != SegStack {
		return incompatible("stack segment %d missing", body.StackSeg)
	}
	sp, words := body.SP, len(stackSeg.Regs)
	if sp < 0 || sp > words {
		return incompatible("stack pointer %d outside stack of %d words", sp, words)
	}
	if body.RestAdjust < 0 {
		return incompatible("negative rest adjustment %d", body.RestAdjust)
	}
	if body.State == StateRunning || body.State == StateFaulted || body.State > StateHalted {
		return incompatible("snapshot taken in state %s", body.State)
	}
	within := func(n int) bool { return n >= 0 && n <= sp }
	for i, f := range body.Frames {
		if f == nil {
			return incompatible("frame %d missing", i)
		}
		s, err := sm.script(f.Script)
		if err != nil {
			return incompatible("frame %d: %v", i, err)
		}
		if f.PC < 0 || f.PC >= len(s.Code) {
			return incompatible("frame %d: pc %d outside %d bytes of code", i, f.PC, len(s.Code))
		}
		if f.Argc < 0 || f.TempCount < 0 {
			return incompatible("frame %d: negative argc or temp count", i)
		}
		if !within(f.EntrySP) || !within(f.ParamBase) || f.ParamBase+f.Argc >= words {
			return incompatible("frame %d: parameters outside the stack", i)
		}
		if !within(f.TempBase) || !within(f.TempBase+f.TempCount) {
			return incompatible("frame %d: temporaries outside the stack", i)
		}
		if p := f.Pending; p != nil {
			if !within(p.Base) || p.Pos < p.Base || p.End < p.Pos || !within(p.End) {
				return incompatible("frame %d: pending send outside the stack", i)
			}
		}
	}
	return nil
}

// InspectSnapshot decodes a snapshot's header and summarizes its contents
// without a VM.
func InspectSnapshot(data []byte) (*SnapshotInfo, error) {
	version, body, err := decodeSnapshot(data)
	if err != nil {
		return nil, err
	}
	info := &SnapshotInfo{
		Version:       version,
		VocabVersion:  body.VocabVersion,
		Identity:      body.Identity,
		Segments:      len(body.Segments) - 1,
		Frames:        len(body.Frames),
		State:         body.State,
		Ticks:         body.Ticks,
		SegmentCounts: make(map[SegmentKind]int),
	}
	for _, seg := range body.Segments {
		if seg != nil && seg.Live {
			info.LiveSegments++
			info.SegmentCounts[seg.Kind]++
		}
	}
	return info, nil
}
