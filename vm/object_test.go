package vm

import (
	"errors"
	"testing"
)

// ---------------------------------------------------------------------------
// Properties
// ---------------------------------------------------------------------------

func TestPropertyReadWrite(t *testing.T) {
	vm := newTestVM(t)
	loadHierarchy(t, vm)

	obj, err := vm.Instantiate(classA)
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	x, y := sel(t, vm, "x"), sel(t, vm, "y")

	got, err := vm.Send(obj, x, Num(5))
	if err != nil {
		t.Fatalf("Send(x, 5): %v", err)
	}
	if got != Num(5) {
		t.Errorf("property write returned %v, want 5", got)
	}
	if v, _ := vm.Send(obj, x); v != Num(5) {
		t.Errorf("x = %v, want 5", v)
	}
	if v, _ := vm.Send(obj, y); v != Num(0) {
		t.Errorf("y = %v, want 0", v)
	}
	if v, _ := vm.GetProperty(obj, x); v != Num(5) {
		t.Errorf("GetProperty(x) = %v, want 5", v)
	}
}

func TestPropertyNotFound(t *testing.T) {
	vm := newTestVM(t)
	loadHierarchy(t, vm)
	obj, _ := vm.Instantiate(classA)

	_, err := vm.GetProperty(obj, sel(t, vm, "foo"))
	if !errors.Is(err, ErrPropertyNotFound) {
		t.Errorf("GetProperty(foo) = %v, want PropertyNotFound", err)
	}
	err = vm.SetProperty(obj, sel(t, vm, "sum"), Num(1))
	if !errors.Is(err, ErrPropertyNotFound) {
		t.Errorf("SetProperty(sum) = %v, want PropertyNotFound", err)
	}
	if KindOf(err).Fatal() {
		t.Error("PropertyNotFound should be recoverable")
	}
}

func TestPropertyNotFoundOnNonObject(t *testing.T) {
	vm := newTestVM(t)
	if _, err := vm.GetProperty(Num(3), sel(t, vm, "x")); !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("GetProperty(number) = %v, want InvalidAddress", err)
	}
}

// ---------------------------------------------------------------------------
// Classes and inheritance
// ---------------------------------------------------------------------------

func TestUnknownClass(t *testing.T) {
	vm := newTestVM(t)
	if _, err := vm.ClassObject(99); !errors.Is(err, ErrUnknownClass) {
		t.Errorf("ClassObject(99) = %v, want UnknownClass", err)
	}
	// Registered in the vocabulary but its script is not loaded.
	if _, err := vm.Instantiate(classA); !errors.Is(err, ErrUnknownClass) {
		t.Errorf("Instantiate before load = %v, want UnknownClass", err)
	}
}

func TestClassLoadedOnDemand(t *testing.T) {
	var requested []uint16
	loader := ScriptLoaderFunc(func(number uint16) (*ScriptModule, error) {
		requested = append(requested, number)
		st, _ := NewSelectorTable(testVocab())
		b := NewScriptBuilder(st, number)
		b.Class("A", classA, NoClass).Prop("x", 3)
		b.Class("B", classB, classA).Prop("x", 4)
		b.Class("C", classC, classB).Prop("x", 5)
		return b.Build()
	})
	vm := newTestVM(t, WithScriptLoader(loader))

	addr, err := vm.ClassObject(classC)
	if err != nil {
		t.Fatalf("ClassObject: %v", err)
	}
	if v, _ := vm.GetProperty(addr, sel(t, vm, "x")); v != Num(5) {
		t.Errorf("C x = %v, want 5", v)
	}
	if len(requested) != 1 || requested[0] != 1 {
		t.Errorf("loader calls = %v, want [1]", requested)
	}
}

func TestMethodOverride(t *testing.T) {
	vm := newTestVM(t)
	loadHierarchy(t, vm)
	obj, err := vm.Instantiate(classC)
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}

	tests := []struct {
		selector string
		want     Reg
	}{
		{"foo", Num(2)},
		{"bar", Num(10)},
	}
	for _, tt := range tests {
		t.Run(tt.selector, func(t *testing.T) {
			got, err := vm.Send(obj, sel(t, vm, tt.selector))
			if err != nil {
				t.Fatalf("Send: %v", err)
			}
			if got != tt.want {
				t.Errorf("Send(%s) = %v, want %v", tt.selector, got, tt.want)
			}
		})
	}
	if vm.Depth() != 0 || vm.State() != StateIdle {
		t.Errorf("after sends: depth %d state %s", vm.Depth(), vm.State())
	}
}

func TestResolveMethod(t *testing.T) {
	vm := newTestVM(t)
	loadHierarchy(t, vm)
	obj, _ := vm.Instantiate(classC)
	bAddr, _ := vm.ClassObject(classB)
	aAddr, _ := vm.ClassObject(classA)

	ref, err := vm.ResolveMethod(obj, sel(t, vm, "foo"))
	if err != nil {
		t.Fatalf("ResolveMethod(foo): %v", err)
	}
	if ref.Owner != bAddr || ref.Class != classB {
		t.Errorf("foo resolved to %v (class %d), want B", ref.Owner, ref.Class)
	}
	ref, _ = vm.ResolveMethod(obj, sel(t, vm, "bar"))
	if ref.Owner != aAddr || ref.Class != classA {
		t.Errorf("bar resolved to %v (class %d), want A", ref.Owner, ref.Class)
	}
	if _, err := vm.ResolveMethod(obj, sel(t, vm, "sum")); !errors.Is(err, ErrMethodNotFound) {
		t.Errorf("ResolveMethod(sum) = %v, want MethodNotFound", err)
	}
}

func TestIsKindOf(t *testing.T) {
	vm := newTestVM(t)
	loadHierarchy(t, vm)
	c, _ := vm.Instantiate(classC)
	a, _ := vm.Instantiate(classA)

	if !vm.IsKindOf(c, classA) || !vm.IsKindOf(c, classB) || !vm.IsKindOf(c, classC) {
		t.Error("C instance should be kind of A, B and C")
	}
	if vm.IsKindOf(a, classC) {
		t.Error("A instance should not be kind of C")
	}
	if vm.IsKindOf(Num(1), classA) {
		t.Error("numbers are not objects")
	}
}

// ---------------------------------------------------------------------------
// Clones
// ---------------------------------------------------------------------------

func TestCloneInfo(t *testing.T) {
	vm := newTestVM(t)
	loadHierarchy(t, vm)
	info := sel(t, vm, "-info-")

	class, _ := vm.ClassObject(classB)
	if v, _ := vm.GetProperty(class, info); v != Num(int(InfoClass)) {
		t.Errorf("class -info- = %v, want %#x", v, InfoClass)
	}
	clone, err := vm.Instantiate(classB)
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	if v, _ := vm.GetProperty(clone, info); v != Num(int(InfoClone)) {
		t.Errorf("clone -info- = %v, want %#x", v, InfoClone)
	}
	obj, _ := vm.Segments.Object(clone)
	if !obj.IsClone() || obj.IsClass() {
		t.Errorf("clone flags: clone=%v class=%v", obj.IsClone(), obj.IsClass())
	}
	if obj.Species != classB {
		t.Errorf("clone species = %d, want %d", obj.Species, classB)
	}
}

func TestCloneCopiesValues(t *testing.T) {
	vm := newTestVM(t)
	loadHierarchy(t, vm)
	x := sel(t, vm, "x")

	orig, _ := vm.Instantiate(classA)
	vm.SetProperty(orig, x, Num(7))
	dup, err := vm.CloneObject(orig)
	if err != nil {
		t.Fatalf("CloneObject: %v", err)
	}
	vm.SetProperty(orig, x, Num(8))
	if v, _ := vm.GetProperty(dup, x); v != Num(7) {
		t.Errorf("clone x = %v, want 7", v)
	}
}

func TestDisposeClone(t *testing.T) {
	vm := newTestVM(t)
	loadHierarchy(t, vm)

	class, _ := vm.ClassObject(classA)
	if err := vm.DisposeClone(class); !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("DisposeClone(class) = %v, want InvalidAddress", err)
	}

	clone, _ := vm.Instantiate(classA)
	if err := vm.DisposeClone(clone); err != nil {
		t.Fatalf("DisposeClone: %v", err)
	}
	if _, err := vm.GetProperty(clone, sel(t, vm, "x")); !errors.Is(err, ErrUseAfterFree) {
		t.Errorf("access after dispose = %v, want UseAfterFree", err)
	}
	if err := vm.DisposeClone(clone); !errors.Is(err, ErrUseAfterFree) {
		t.Errorf("second dispose = %v, want UseAfterFree", err)
	}
}

func TestRespondsTo(t *testing.T) {
	vm := newTestVM(t)
	loadHierarchy(t, vm)
	c, _ := vm.Instantiate(classC)

	for _, name := range []string{"x", "z", "foo", "bar"} {
		if !vm.RespondsTo(c, sel(t, vm, name)) {
			t.Errorf("C should respond to %s", name)
		}
	}
	if vm.RespondsTo(c, sel(t, vm, "sum")) {
		t.Error("C should not respond to sum")
	}
}

// ---------------------------------------------------------------------------
// Script loading
// ---------------------------------------------------------------------------

func TestScriptLoadIsIdempotent(t *testing.T) {
	vm := newTestVM(t)
	first := loadHierarchy(t, vm)
	second := loadHierarchy(t, vm)
	if first != second {
		t.Errorf("reloading script 1 gave segment %d, want %d", second, first)
	}
}

func TestUnloadScript(t *testing.T) {
	vm := newTestVM(t)
	loadHierarchy(t, vm)
	class, _ := vm.ClassObject(classA)

	if err := vm.UnloadScript(1); err != nil {
		t.Fatalf("UnloadScript: %v", err)
	}
	if _, err := vm.Segments.Object(class); !errors.Is(err, ErrUseAfterFree) {
		t.Errorf("class object after unload = %v, want UseAfterFree", err)
	}
	if _, ok := vm.Segments.ScriptSegment(1); ok {
		t.Error("script 1 still registered")
	}
	if _, err := vm.ClassObject(classA); !errors.Is(err, ErrUnknownClass) {
		t.Errorf("ClassObject after unload = %v, want UnknownClass", err)
	}
	if err := vm.UnloadScript(1); err == nil {
		t.Error("unloading twice should fail")
	}
}

func TestObjectOverlappingCodeRejected(t *testing.T) {
	vm := newTestVM(t)
	m := &ScriptModule{
		Number:  5,
		Code:    []byte{byte(OpRet) << 1, byte(OpRet) << 1},
		Objects: []ObjectDef{{Offset: 1, Name: "bad", ClassID: NoClass, SuperClass: NoClass}},
	}
	if _, err := vm.LoadScript(m); err == nil {
		t.Error("object inside the code area should be rejected")
	}
}
