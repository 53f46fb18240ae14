package vm

import "context"

// ---------------------------------------------------------------------------
// Classification
// ---------------------------------------------------------------------------

// DispatchKind says what a selector names on an object.
type DispatchKind uint8

const (
	DispatchNone DispatchKind = iota
	DispatchProperty
	DispatchMethod
)

// String implements the Stringer interface.
func (k DispatchKind) String() string {
	switch k {
	case DispatchProperty:
		return "property"
	case DispatchMethod:
		return "method"
	}
	return "none"
}

// Dispatch is the classification of a selector on an object: a property
// slot or a method. A selector that is both classifies as a property.
type Dispatch struct {
	Kind   DispatchKind
	Slot   int       // property slot, for DispatchProperty
	Method MethodRef // for DispatchMethod
}

// Classify decides whether sel names a property or a method of obj.
// DispatchNone with a nil error means obj has neither.
func (vm *VM) Classify(obj Reg, sel Selector) (Dispatch, error) {
	o, err := vm.Segments.Object(obj)
	if err != nil {
		return Dispatch{}, err
	}
	return vm.classify(o, sel, NoClass, false)
}

// classify is Classify on a resolved object. For super sends, properties
// still come from the receiver but method lookup starts at superClass.
func (vm *VM) classify(o *Object, sel Selector, superClass ClassID, super bool) (Dispatch, error) {
	if slot, ok := vm.propertySlot(o, sel); ok {
		return Dispatch{Kind: DispatchProperty, Slot: slot}, nil
	}
	ref, err := vm.lookupMethod(o, sel, superClass, super)
	switch {
	case err == nil:
		return Dispatch{Kind: DispatchMethod, Method: ref}, nil
	case KindOf(err) == KindMethodNotFound:
		return Dispatch{Kind: DispatchNone}, nil
	}
	return Dispatch{}, err
}

func (vm *VM) lookupMethod(o *Object, sel Selector, superClass ClassID, super bool) (MethodRef, error) {
	if super {
		return vm.resolveMethodFrom(superClass, sel)
	}
	return vm.methodOn(o, sel)
}

// selectAction applies the argument-count convention to a classification:
// a property with no arguments is read, with one argument is written, and
// with more is treated as a method call, which requires a method of the
// same name further along.
func (vm *VM) selectAction(o *Object, sel Selector, d Dispatch, argc int, superClass ClassID, super bool) (Dispatch, error) {
	switch d.Kind {
	case DispatchProperty:
		if argc <= 1 {
			return d, nil
		}
		ref, err := vm.lookupMethod(o, sel, superClass, super)
		if err == nil {
			return Dispatch{Kind: DispatchMethod, Method: ref}, nil
		}
		if KindOf(err) != KindMethodNotFound {
			return Dispatch{}, err
		}
		return Dispatch{}, newError(KindSelectorNotFound, o.Pos, sel,
			"%s: property %s sent %d arguments", o.Name, vm.Selectors.Name(sel), argc)
	case DispatchMethod:
		return d, nil
	}
	return Dispatch{}, newError(KindSelectorNotFound, o.Pos, sel,
		"%s does not understand %s", o.Name, vm.Selectors.Name(sel))
}

// invalidateDispatchCaches drops cached classifications after the class
// graph changed.
func (vm *VM) invalidateDispatchCaches() {
	if vm.caches != nil {
		vm.caches.Invalidate()
	}
}

// ---------------------------------------------------------------------------
// Message delivery
// ---------------------------------------------------------------------------

// message delivers one message whose argc word sits at stack index argcAt,
// followed by the arguments. Property accesses complete immediately; a
// method pushes a frame of the given kind and reports entered.
func (vm *VM) message(obj Reg, sel Selector, argcAt int, kind FrameKind, p *PendingSend) (entered bool, err error) {
	st, err := vm.stack()
	if err != nil {
		return false, err
	}
	o, err := vm.Segments.Object(obj)
	if err != nil {
		return false, err
	}
	argc := int(st[argcAt].Unsigned())

	super, superClass := false, NoClass
	if p != nil {
		super, superClass = p.Super, p.SuperClass
	}

	var d Dispatch
	var cache *InlineCache
	hit := false
	if p != nil && !super {
		cache = vm.caches.GetOrCreate(CallSite{Script: vm.frame().Script, PC: p.CallSite, Message: p.Message})
		d, hit = cache.Lookup(o.Behavior, sel)
	}
	if !hit {
		if d, err = vm.classify(o, sel, superClass, super); err != nil {
			return false, err
		}
		if cache != nil {
			cache.Update(o.Behavior, sel, d)
		}
	}
	if d, err = vm.selectAction(o, sel, d, argc, superClass, super); err != nil {
		return false, err
	}

	switch d.Kind {
	case DispatchProperty:
		if argc == 0 {
			vm.acc = o.Vars[d.Slot]
		} else {
			o.Vars[d.Slot] = st[argcAt+1]
		}
		return false, nil
	}

	scriptSeg, err := vm.LoadScriptNumber(d.Method.Script)
	if err != nil {
		return false, err
	}
	f := &Frame{
		Kind:      kind,
		Script:    scriptSeg,
		PC:        int(d.Method.Offset),
		Self:      obj,
		Owner:     d.Method.Class,
		Selector:  sel,
		ParamBase: argcAt,
		Argc:      argc,
		EntrySP:   vm.sp,
	}
	if kind == FrameHost {
		f.EntrySP = argcAt
	}
	if err := vm.pushFrame(f); err != nil {
		return false, err
	}
	return true, nil
}

// continueSend delivers the remaining messages of f's pending send until one
// enters a method or the block is exhausted.
func (vm *VM) continueSend(f *Frame) error {
	p := f.Pending
	for !p.done() {
		st, err := vm.stack()
		if err != nil {
			return err
		}
		if p.Pos+1 >= p.End {
			return addrError(KindInvalidAddress, MakeReg(vm.stackSeg, uint16(p.Pos*2)), "truncated send block")
		}
		sel := Selector(st[p.Pos].Unsigned())
		argcAt := p.Pos + 1
		argc := int(st[argcAt].Unsigned())
		if argcAt+argc >= p.End {
			return addrError(KindInvalidAddress, MakeReg(vm.stackSeg, uint16(p.Pos*2)), "send block message claims %d arguments", argc)
		}
		p.Pos = argcAt + 1 + argc
		entered, err := vm.message(p.Object, sel, argcAt, FrameSend, p)
		p.Message++
		if err != nil {
			return err
		}
		if entered {
			return nil
		}
	}
	vm.sp = p.Base
	f.Pending = nil
	return nil
}

// enterHost pushes args as a parameter block and delivers sel to obj.
func (vm *VM) enterHost(obj Reg, sel Selector, args []Reg) (bool, error) {
	base := vm.sp
	if err := vm.push(Num(len(args))); err != nil {
		return false, err
	}
	for _, a := range args {
		if err := vm.push(a); err != nil {
			vm.sp = base
			return false, err
		}
	}
	entered, err := vm.message(obj, sel, base, FrameHost, nil)
	if err != nil || !entered {
		vm.sp = base
	}
	return entered, err
}

// ---------------------------------------------------------------------------
// Host send
// ---------------------------------------------------------------------------

// Send delivers sel to obj and runs any method it selects to completion,
// returning the result. It may be called by the host between ticks or by a
// kernel while the executor runs. Registers and frames outside the nested
// run are left as they were.
func (vm *VM) Send(obj Reg, sel Selector, args ...Reg) (Reg, error) {
	return vm.SendContext(context.Background(), obj, sel, args...)
}

// SendContext is Send with cancellation.
func (vm *VM) SendContext(ctx context.Context, obj Reg, sel Selector, args ...Reg) (Reg, error) {
	switch vm.state {
	case StateHalted:
		return NullReg, ErrHalted
	case StateFaulted:
		return NullReg, vm.faultError()
	}
	savedAcc, savedPrev, savedRest := vm.acc, vm.prev, vm.restAdjust
	restore := func() Reg {
		result := vm.acc
		vm.acc, vm.prev, vm.restAdjust = savedAcc, savedPrev, savedRest
		return result
	}

	base := len(vm.frames)
	entered, err := vm.enterHost(obj, sel, args)
	if err != nil {
		restore()
		return NullReg, vm.report(err)
	}
	if !entered {
		result := restore()
		if len(args) == 1 {
			result = args[0]
		}
		return result, nil
	}

	savedState := vm.state
	vm.state = StateRunning
	vm.restAdjust = 0
	vm.nested++
	err = vm.execute(ctx, base, 0)
	vm.nested--

	if err != nil {
		e := vm.report(err)
		if !e.Kind.Fatal() {
			for len(vm.frames) > base {
				vm.popFrame()
			}
			vm.state = savedState
		}
		restore()
		return NullReg, e
	}
	if vm.state == StateRunning {
		vm.state = savedState
	}
	return restore(), nil
}
