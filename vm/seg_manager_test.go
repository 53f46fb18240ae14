package vm

import (
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestSegManagerAllocateAndResolve(t *testing.T) {
	sm := NewSegManager()

	arr, err := sm.Allocate(SegArray, 4)
	if err != nil {
		t.Fatalf("Allocate(Array): %v", err)
	}
	v, err := sm.Resolve(MakeReg(arr.Segment, 2))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if v.Kind != SegArray || len(v.Regs) != 3 {
		t.Errorf("array view = %s with %d regs, want Array with 3", v.Kind, len(v.Regs))
	}
	v.Regs[0] = Num(42)
	v, _ = sm.Resolve(MakeReg(arr.Segment, 2))
	if v.Regs[0] != Num(42) {
		t.Errorf("write through view was lost")
	}

	str, err := sm.Allocate(SegString, 8)
	if err != nil {
		t.Fatalf("Allocate(String): %v", err)
	}
	v, err = sm.Resolve(MakeReg(str.Segment, 5))
	if err != nil || len(v.Bytes) != 3 {
		t.Errorf("string view = %d bytes, %v; want 3", len(v.Bytes), err)
	}

	clone, err := sm.Allocate(SegClones, 0)
	if err != nil {
		t.Fatalf("Allocate(Clones): %v", err)
	}
	clone2, _ := sm.Allocate(SegClones, 0)
	if clone.Segment != clone2.Segment || clone.Offset == clone2.Offset {
		t.Errorf("clones %v and %v should share a table segment", clone, clone2)
	}
}

func TestSegManagerResolveInvalid(t *testing.T) {
	sm := NewSegManager()
	arr, _ := sm.Allocate(SegArray, 2)

	tests := []struct {
		name string
		addr Reg
	}{
		{"number", Num(5)},
		{"unknown segment", MakeReg(99, 0)},
		{"past end", MakeReg(arr.Segment, 4)},
		{"unaligned", MakeReg(arr.Segment, 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := sm.Resolve(tt.addr)
			if !errors.Is(err, ErrInvalidAddress) {
				t.Errorf("Resolve(%v) = %v, want InvalidAddress", tt.addr, err)
			}
			if KindOf(err) != KindInvalidAddress {
				t.Errorf("KindOf = %s", KindOf(err))
			}
		})
	}
}

func TestSegManagerUseAfterFree(t *testing.T) {
	sm := NewSegManager()
	arr, _ := sm.Allocate(SegArray, 2)
	if err := sm.Free(arr.Segment); err != nil {
		t.Fatalf("Free: %v", err)
	}
	_, err := sm.Resolve(arr)
	if !errors.Is(err, ErrUseAfterFree) {
		t.Errorf("Resolve after free = %v, want UseAfterFree", err)
	}
	if err := sm.Free(arr.Segment); !errors.Is(err, ErrUseAfterFree) {
		t.Errorf("double free = %v, want UseAfterFree", err)
	}

	clone, _ := sm.Allocate(SegClones, 0)
	if err := sm.FreeEntry(clone); err != nil {
		t.Fatalf("FreeEntry: %v", err)
	}
	if _, err := sm.Resolve(clone); !errors.Is(err, ErrUseAfterFree) {
		t.Errorf("Resolve freed entry = %v, want UseAfterFree", err)
	}
}

func TestSegManagerTableSegmentsCannotBeFreedWhole(t *testing.T) {
	sm := NewSegManager()
	clone, _ := sm.Allocate(SegClones, 0)
	if err := sm.Free(clone.Segment); !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("Free(table) = %v, want InvalidAddress", err)
	}
}

func TestSegManagerStackCannotBeFreed(t *testing.T) {
	sm := NewSegManager()
	stack, _ := sm.Allocate(SegStack, 16)
	if err := sm.Free(stack.Segment); !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("Free(stack) = %v, want InvalidAddress", err)
	}
	if _, err := sm.Resolve(stack); err != nil {
		t.Errorf("stack unusable after refused free: %v", err)
	}
}

func TestSegManagerQuarantine(t *testing.T) {
	sm := NewSegManager()
	a, _ := sm.Allocate(SegDynMem, 4)
	if err := sm.Free(a.Segment); err != nil {
		t.Fatalf("Free: %v", err)
	}
	if sm.Quarantined() != 1 {
		t.Errorf("Quarantined = %d, want 1", sm.Quarantined())
	}

	b, _ := sm.Allocate(SegDynMem, 4)
	if b.Segment == a.Segment {
		t.Fatalf("segment %d reused before acknowledgement", a.Segment)
	}
	if _, err := sm.Resolve(a); !errors.Is(err, ErrUseAfterFree) {
		t.Errorf("old address = %v, want UseAfterFree", err)
	}

	sm.AcknowledgeDisposal()
	if sm.Quarantined() != 0 {
		t.Errorf("Quarantined after acknowledge = %d", sm.Quarantined())
	}
	c, _ := sm.Allocate(SegDynMem, 4)
	if c.Segment != a.Segment {
		t.Errorf("acknowledged segment %d not reused, got %d", a.Segment, c.Segment)
	}
}

func TestSegManagerEntryQuarantine(t *testing.T) {
	sm := NewSegManager()
	first, _ := sm.Allocate(SegNodes, 0)
	if err := sm.FreeEntry(first); err != nil {
		t.Fatalf("FreeEntry: %v", err)
	}
	second, _ := sm.Allocate(SegNodes, 0)
	if second == first {
		t.Fatalf("entry %v reused before acknowledgement", first)
	}
	sm.AcknowledgeDisposal()
	third, _ := sm.Allocate(SegNodes, 0)
	if third != first {
		t.Errorf("acknowledged entry not reused: got %v, want %v", third, first)
	}
}

func TestSegManagerHandles(t *testing.T) {
	sm := NewSegManager()
	clone, _ := sm.Allocate(SegClones, 0)
	h, err := sm.Handle(clone)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if err := sm.CheckHandle(h); err != nil {
		t.Errorf("fresh handle: %v", err)
	}

	sm.FreeEntry(clone)
	sm.AcknowledgeDisposal()
	reused, _ := sm.Allocate(SegClones, 0)
	if reused != clone {
		t.Fatalf("expected slot reuse, got %v", reused)
	}
	if err := sm.CheckHandle(h); !errors.Is(err, ErrUseAfterFree) {
		t.Errorf("stale handle = %v, want UseAfterFree", err)
	}
}

func TestSegManagerFreeProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("every address into a freed segment fails UseAfterFree", prop.ForAll(
		func(size uint16, offset uint16, kindPick uint8) bool {
			kinds := []SegmentKind{SegArray, SegString, SegDynMem}
			kind := kinds[int(kindPick)%len(kinds)]
			sm := NewSegManager()
			n := int(size%512) + 1
			addr, err := sm.Allocate(kind, n)
			if err != nil {
				return false
			}
			if err := sm.Free(addr.Segment); err != nil {
				return false
			}
			_, err = sm.Resolve(MakeReg(addr.Segment, offset))
			return errors.Is(err, ErrUseAfterFree)
		},
		gen.UInt16(), gen.UInt16(), gen.UInt8(),
	))

	properties.Property("freed table entries fail UseAfterFree until reused", prop.ForAll(
		func(count uint8, victim uint8) bool {
			sm := NewSegManager()
			n := int(count%32) + 1
			addrs := make([]Reg, n)
			for i := range addrs {
				addrs[i], _ = sm.Allocate(SegLists, 0)
			}
			target := addrs[int(victim)%n]
			if err := sm.FreeEntry(target); err != nil {
				return false
			}
			_, err := sm.Resolve(target)
			return errors.Is(err, ErrUseAfterFree)
		},
		gen.UInt8(), gen.UInt8(),
	))

	properties.TestingRun(t)
}
