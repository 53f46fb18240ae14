package vm

// maxClassDepth bounds superclass walks so a corrupt class table cannot
// loop forever.
const maxClassDepth = 256

// ClassObject returns the address of class id's class object, loading the
// defining script through the ScriptLoader when needed.
func (vm *VM) ClassObject(id ClassID) (Reg, error) {
	e, ok := vm.Classes.Lookup(id)
	if !ok {
		return NullReg, newError(KindUnknownClass, NullReg, NoSelector, "class %d is not registered", id)
	}
	if e.Addr.IsNull() && vm.loader != nil {
		if _, err := vm.LoadScriptNumber(e.Script); err != nil {
			return NullReg, newError(KindUnknownClass, NullReg, NoSelector, "class %d: loading script %d: %v", id, e.Script, err)
		}
	}
	if e.Addr.IsNull() {
		return NullReg, newError(KindUnknownClass, NullReg, NoSelector, "class %d: script %d is not loaded", id, e.Script)
	}
	return e.Addr, nil
}

// classObject is ClassObject followed by the object lookup.
func (vm *VM) classObject(id ClassID) (*Object, error) {
	addr, err := vm.ClassObject(id)
	if err != nil {
		return nil, err
	}
	return vm.Segments.Object(addr)
}

// Instantiate creates a clone of class id with the class's property values.
func (vm *VM) Instantiate(id ClassID) (Reg, error) {
	addr, err := vm.ClassObject(id)
	if err != nil {
		return NullReg, err
	}
	return vm.CloneObject(addr)
}

// CloneObject copies any object into a new clone.
func (vm *VM) CloneObject(src Reg) (Reg, error) {
	obj, err := vm.Segments.Object(src)
	if err != nil {
		return NullReg, err
	}
	pos, err := vm.Segments.Allocate(SegClones, 0)
	if err != nil {
		return NullReg, err
	}
	vm.Segments.setEntryPayload(pos, obj.cloneAt(pos, vm.Selectors.Cache().Info), nil, nil)
	return pos, nil
}

// DisposeClone frees a clone. Script objects cannot be disposed.
func (vm *VM) DisposeClone(addr Reg) error {
	obj, err := vm.Segments.Object(addr)
	if err != nil {
		return err
	}
	if !obj.IsClone() {
		return addrError(KindInvalidAddress, addr, "%s is not a clone", obj.Name)
	}
	return vm.Segments.FreeEntry(addr)
}

// propertySlot finds sel in the layout of obj or, failing that, of its
// ancestors. A subclass layout extends its superclass layout, so an
// ancestor hit maps to the same slot index in obj.
func (vm *VM) propertySlot(obj *Object, sel Selector) (int, bool) {
	if idx := obj.propertyIndex(sel); idx >= 0 {
		return idx, true
	}
	class := obj.SuperClass
	for depth := 0; class != NoClass && depth < maxClassDepth; depth++ {
		c, err := vm.classObject(class)
		if err != nil {
			return -1, false
		}
		if idx := c.propertyIndex(sel); idx >= 0 && idx < len(obj.Vars) {
			return idx, true
		}
		class = c.SuperClass
	}
	return -1, false
}

// GetProperty reads property sel of obj.
func (vm *VM) GetProperty(addr Reg, sel Selector) (Reg, error) {
	obj, err := vm.Segments.Object(addr)
	if err != nil {
		return NullReg, err
	}
	idx, ok := vm.propertySlot(obj, sel)
	if !ok {
		return NullReg, newError(KindPropertyNotFound, addr, sel, "%s has no property %s", obj.Name, vm.Selectors.Name(sel))
	}
	return obj.Vars[idx], nil
}

// SetProperty writes property sel of obj.
func (vm *VM) SetProperty(addr Reg, sel Selector, value Reg) error {
	obj, err := vm.Segments.Object(addr)
	if err != nil {
		return err
	}
	idx, ok := vm.propertySlot(obj, sel)
	if !ok {
		return newError(KindPropertyNotFound, addr, sel, "%s has no property %s", obj.Name, vm.Selectors.Name(sel))
	}
	obj.Vars[idx] = value
	return nil
}

// ResolveMethod finds the code for sel on obj: its own method table first,
// then each superclass from nearest to root.
func (vm *VM) ResolveMethod(addr Reg, sel Selector) (MethodRef, error) {
	obj, err := vm.Segments.Object(addr)
	if err != nil {
		return MethodRef{}, err
	}
	return vm.methodOn(obj, sel)
}

func (vm *VM) methodOn(obj *Object, sel Selector) (MethodRef, error) {
	if off, ok := obj.methodOffset(sel); ok {
		class := NoClass
		if obj.IsClass() {
			class = obj.Species
		}
		return MethodRef{Owner: obj.Behavior, Class: class, Script: obj.Script, Offset: off}, nil
	}
	ref, err := vm.resolveMethodFrom(obj.SuperClass, sel)
	if err != nil {
		if KindOf(err) == KindMethodNotFound {
			return MethodRef{}, newError(KindMethodNotFound, obj.Pos, sel, "%s does not respond to %s", obj.Name, vm.Selectors.Name(sel))
		}
		return MethodRef{}, err
	}
	return ref, nil
}

// resolveMethodFrom walks the superclass chain starting at class.
func (vm *VM) resolveMethodFrom(class ClassID, sel Selector) (MethodRef, error) {
	for depth := 0; class != NoClass; depth++ {
		if depth >= maxClassDepth {
			return MethodRef{}, newError(KindMethodNotFound, NullReg, sel, "superclass chain deeper than %d", maxClassDepth)
		}
		c, err := vm.classObject(class)
		if err != nil {
			return MethodRef{}, err
		}
		if off, ok := c.methodOffset(sel); ok {
			return MethodRef{Owner: c.Pos, Class: class, Script: c.Script, Offset: off}, nil
		}
		class = c.SuperClass
	}
	return MethodRef{}, newError(KindMethodNotFound, NullReg, sel, "no class in chain defines %s", vm.Selectors.Name(sel))
}

// RespondsTo reports whether sel names a property or method of obj.
func (vm *VM) RespondsTo(addr Reg, sel Selector) bool {
	d, err := vm.Classify(addr, sel)
	return err == nil && d.Kind != DispatchNone
}

// IsKindOf reports whether obj's species is class or descends from it.
func (vm *VM) IsKindOf(addr Reg, class ClassID) bool {
	obj, err := vm.Segments.Object(addr)
	if err != nil {
		return false
	}
	cur := obj.Species
	for depth := 0; cur != NoClass && depth < maxClassDepth; depth++ {
		if cur == class {
			return true
		}
		c, err := vm.classObject(cur)
		if err != nil {
			return false
		}
		cur = c.SuperClass
	}
	return false
}
