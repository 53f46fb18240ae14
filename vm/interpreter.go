package vm

import (
	"context"
	"errors"
	"fmt"
)

// cancelCheckInterval is how many instructions run between context checks.
const cancelCheckInterval = 256

// ---------------------------------------------------------------------------
// Run loop
// ---------------------------------------------------------------------------

// run executes up to limit instructions (no limit when zero) as one tick.
func (vm *VM) run(ctx context.Context, limit int) error {
	switch vm.state {
	case StateHalted:
		return ErrHalted
	case StateFaulted:
		return vm.faultError()
	case StateRunning:
		return fmt.Errorf("vm is already running")
	}
	if len(vm.frames) == 0 {
		vm.state = StateIdle
		return nil
	}
	if vm.state == StateBlocked {
		log.Debugf("retrying blocked kernel call")
	}
	vm.state = StateRunning
	if err := vm.execute(ctx, 0, limit); err != nil {
		return vm.abort(err)
	}
	if vm.state == StateRunning {
		vm.state = StateIdle
	}
	return nil
}

// execute runs instructions while more than stop frames are active, the
// instruction budget lasts and the executor stays Running.
func (vm *VM) execute(ctx context.Context, stop, limit int) error {
	for n := 0; len(vm.frames) > stop; n++ {
		if limit > 0 && n >= limit {
			return nil
		}
		if n%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return newError(KindCancelled, NullReg, NoSelector, "%v", err)
			}
		}
		if err := vm.step(); err != nil {
			return err
		}
		if vm.state != StateRunning {
			return nil
		}
	}
	return nil
}

// abort handles an error raised during a tick. Fatal errors fault the VM
// and keep the frames for inspection. Recoverable errors unwind the whole
// call chain the host started, down to the root frame's entry stack
// pointer. The heap is left as it is.
func (vm *VM) abort(err error) error {
	e := asVMError(err)
	if e.Kind.Fatal() {
		vm.report(e)
		return e
	}
	for len(vm.frames) > 0 {
		vm.popFrame()
	}
	vm.acc = NullReg
	vm.restAdjust = 0
	vm.state = StateIdle
	vm.report(e)
	return e
}

// ---------------------------------------------------------------------------
// Instruction execution
// ---------------------------------------------------------------------------

// code returns the bytecode the frame executes.
func (vm *VM) code(f *Frame) ([]byte, error) {
	s, err := vm.Segments.script(f.Script)
	if err != nil {
		return nil, err
	}
	return s.Code, nil
}

// step executes the instruction at the active frame's pc.
func (vm *VM) step() error {
	f := vm.frame()
	code, err := vm.code(f)
	if err != nil {
		return err
	}
	in, err := DecodeInstruction(code, f.PC)
	if err != nil {
		e := asVMError(err)
		if e.Addr.IsNull() {
			e.Addr = MakeReg(f.Script, uint16(f.PC))
		}
		return e
	}
	pc := f.PC
	f.PC += in.Size

	if in.Op >= OpVarBase {
		return vm.execVar(f, in)
	}

	switch in.Op {
	case OpBnot:
		return vm.unary(Reg.BNot)
	case OpNeg:
		return vm.unary(Reg.Neg)
	case OpNot:
		vm.acc = vm.acc.Not()

	case OpAdd, OpSub, OpMul, OpShr, OpShl, OpXor, OpAnd, OpOr:
		a, err := vm.pop()
		if err != nil {
			return err
		}
		var res Reg
		switch in.Op {
		case OpAdd:
			res, err = a.Add(vm.acc)
		case OpSub:
			res, err = a.Sub(vm.acc)
		case OpMul:
			res, err = a.Mul(vm.acc)
		case OpShr:
			res, err = a.Shr(vm.acc)
		case OpShl:
			res, err = a.Shl(vm.acc)
		case OpXor:
			res, err = a.Xor(vm.acc)
		case OpAnd:
			res, err = a.And(vm.acc)
		case OpOr:
			res, err = a.Or(vm.acc)
		}
		if err != nil {
			return err
		}
		vm.acc = res

	case OpDiv, OpMod:
		a, err := vm.pop()
		if err != nil {
			return err
		}
		var res Reg
		var ok bool
		if in.Op == OpDiv {
			res, ok, err = a.Div(vm.acc)
		} else {
			res, ok, err = a.Mod(vm.acc)
		}
		if err != nil {
			return err
		}
		if !ok {
			log.Warningf("%s by zero at %v", in.Op, MakeReg(f.Script, uint16(pc)))
		}
		vm.acc = res

	case OpEq, OpNe, OpGt, OpGe, OpLt, OpLe, OpUgt, OpUge, OpUlt, OpUle:
		a, err := vm.pop()
		if err != nil {
			return err
		}
		vm.prev = vm.acc
		vm.acc = Bool(compare(in.Op, a, vm.acc))

	case OpBt:
		if vm.acc.Truthy() {
			f.PC += in.Args[0]
		}
	case OpBnt:
		if !vm.acc.Truthy() {
			f.PC += in.Args[0]
		}
	case OpJmp:
		f.PC += in.Args[0]

	case OpLdi:
		vm.acc = Num(in.Args[0])
	case OpPush:
		return vm.push(vm.acc)
	case OpPushi:
		return vm.push(Num(in.Args[0]))
	case OpToss:
		_, err := vm.pop()
		return err
	case OpDup:
		v, err := vm.peek()
		if err != nil {
			return err
		}
		return vm.push(v)
	case OpLink:
		f.TempBase = vm.sp
		f.TempCount = 0
		for i := 0; i < in.Args[0]; i++ {
			if err := vm.push(NullReg); err != nil {
				return err
			}
		}
		f.TempCount = in.Args[0]

	case OpCall:
		return vm.callLocal(f, f.PC+in.Args[0], in.Args[1])
	case OpCallk:
		return vm.callKernel(f, pc, in.Args[0], in.Args[1])
	case OpCallb:
		return vm.callExport(f, 0, in.Args[0], in.Args[1])
	case OpCalle:
		return vm.callExport(f, in.Args[0], in.Args[1], in.Args[2])
	case OpRet:
		return vm.ret()

	case OpSend:
		return vm.beginSend(f, pc, vm.acc, in.Args[0], false, NoClass)
	case OpSelf:
		return vm.beginSend(f, pc, f.Self, in.Args[0], false, NoClass)
	case OpSuper:
		return vm.beginSend(f, pc, f.Self, in.Args[1], true, ClassID(in.Args[0]))

	case OpClass:
		addr, err := vm.ClassObject(ClassID(in.Args[0]))
		if err != nil {
			return err
		}
		vm.acc = addr

	case OpRest:
		return vm.pushRest(f, in.Args[0])
	case OpLea:
		addr, err := vm.lea(f, in.Args[0], in.Args[1])
		if err != nil {
			return err
		}
		vm.acc = addr
	case OpSelfID:
		vm.acc = f.Self
	case OpPprev:
		return vm.push(vm.prev)

	case OpPToA, OpAToP, OpPToS, OpSToP, OpIPToA, OpDPToA, OpIPToS, OpDPToS:
		return vm.execProperty(f, in)

	case OpLofsa:
		vm.acc = MakeReg(f.Script, uint16(in.Args[0]))
	case OpLofss:
		return vm.push(MakeReg(f.Script, uint16(in.Args[0])))
	case OpPush0:
		return vm.push(Num(0))
	case OpPush1:
		return vm.push(Num(1))
	case OpPush2:
		return vm.push(Num(2))
	case OpPushSelf:
		return vm.push(f.Self)

	default:
		return addrError(KindInvalidOpcode, MakeReg(f.Script, uint16(pc)), "%s has no implementation", in.Op)
	}
	return nil
}

func (vm *VM) unary(fn func(Reg) (Reg, error)) error {
	res, err := fn(vm.acc)
	if err != nil {
		return err
	}
	vm.acc = res
	return nil
}

func compare(op Opcode, a, b Reg) bool {
	switch op {
	case OpEq:
		return a == b
	case OpNe:
		return a != b
	case OpGt:
		return a.Compare(b, false) > 0
	case OpGe:
		return a.Compare(b, false) >= 0
	case OpLt:
		return a.Compare(b, false) < 0
	case OpLe:
		return a.Compare(b, false) <= 0
	case OpUgt:
		return a.Compare(b, true) > 0
	case OpUge:
		return a.Compare(b, true) >= 0
	case OpUlt:
		return a.Compare(b, true) < 0
	case OpUle:
		return a.Compare(b, true) <= 0
	}
	return false
}

// ---------------------------------------------------------------------------
// Calls
// ---------------------------------------------------------------------------

// callBlock locates the argument block of a call whose encoded frame size
// is frameSize bytes, folding in words pushed by a preceding &rest.
func (vm *VM) callBlock(frameSize int) (base int, argc int, err error) {
	st, err := vm.stack()
	if err != nil {
		return 0, 0, err
	}
	words := frameSize/2 + vm.restAdjust
	base = vm.sp - words
	if words < 1 || base < vm.floor() {
		return 0, 0, addrError(KindInvalidAddress, MakeReg(vm.stackSeg, uint16(vm.sp*2)), "call frame of %d words exceeds stack", words)
	}
	if vm.restAdjust > 0 {
		st[base] = Num(int(st[base].Unsigned()) + vm.restAdjust)
		vm.restAdjust = 0
	}
	return base, int(st[base].Unsigned()), nil
}

func (vm *VM) callLocal(f *Frame, target, frameSize int) error {
	base, argc, err := vm.callBlock(frameSize)
	if err != nil {
		return err
	}
	return vm.pushFrame(&Frame{
		Kind:      FrameCall,
		Script:    f.Script,
		PC:        target,
		Self:      f.Self,
		Owner:     f.Owner,
		Selector:  f.Selector,
		ParamBase: base,
		Argc:      argc,
		EntrySP:   base,
	})
}

func (vm *VM) callExport(f *Frame, script, export, frameSize int) error {
	target, err := vm.ScriptExport(uint16(script), export)
	if err != nil {
		return err
	}
	base, argc, err := vm.callBlock(frameSize)
	if err != nil {
		return err
	}
	return vm.pushFrame(&Frame{
		Kind:      FrameCall,
		Script:    target.Segment,
		PC:        int(target.Offset),
		Self:      f.Self,
		Owner:     f.Owner,
		Selector:  f.Selector,
		ParamBase: base,
		Argc:      argc,
		EntrySP:   base,
	})
}

// callKernel invokes kernel number n. A kernel that reports ErrBlocked
// leaves the stack and pc as they were so the call is retried on resume.
func (vm *VM) callKernel(f *Frame, pc, n, frameSize int) error {
	rest := vm.restAdjust
	st, err := vm.stack()
	if err != nil {
		return err
	}
	base, argc, err := vm.callBlock(frameSize)
	if err != nil {
		return err
	}
	original := st[base]
	if base+1+argc > vm.sp {
		return addrError(KindInvalidAddress, MakeReg(vm.stackSeg, uint16(base*2)), "kernel call claims %d arguments", argc)
	}
	args := make([]Reg, argc)
	copy(args, st[base+1:base+1+argc])

	fn, name := vm.kernels.lookup(n)
	res, err := fn(vm, args)
	if errors.Is(err, ErrBlocked) {
		if vm.nested > 0 {
			log.Warningf("kernel %s blocked inside a host send, returning 0", name)
			res, err = NullReg, nil
		} else {
			st[base] = Num(int(original.Unsigned()) - rest)
			vm.restAdjust = rest
			f.PC = pc
			vm.state = StateBlocked
			log.Debugf("kernel %s blocked", name)
			return nil
		}
	}
	vm.sp = base
	if err != nil {
		return fmt.Errorf("kernel %s: %w", name, err)
	}
	if vm.state == StateRunning || vm.state == StateIdle {
		vm.acc = res
	}
	return nil
}

// ret returns from the active frame. A method entered by a send resumes the
// caller's remaining messages.
func (vm *VM) ret() error {
	done := vm.popFrame()
	if done.Kind != FrameSend {
		return nil
	}
	if caller := vm.frame(); caller != nil && caller.Pending != nil {
		return vm.continueSend(caller)
	}
	return nil
}

// beginSend starts delivering the send block of frameSize bytes on top of
// the stack to obj.
func (vm *VM) beginSend(f *Frame, pc int, obj Reg, frameSize int, super bool, superClass ClassID) error {
	st, err := vm.stack()
	if err != nil {
		return err
	}
	words := frameSize/2 + vm.restAdjust
	base := vm.sp - words
	if words < 2 || base < vm.floor() {
		return addrError(KindInvalidAddress, MakeReg(vm.stackSeg, uint16(vm.sp*2)), "send block of %d words exceeds stack", words)
	}
	if vm.restAdjust > 0 {
		st[base+1] = Num(int(st[base+1].Unsigned()) + vm.restAdjust)
		vm.restAdjust = 0
	}
	f.Pending = &PendingSend{
		Object:     obj,
		Base:       base,
		Pos:        base,
		End:        vm.sp,
		Super:      super,
		SuperClass: superClass,
		CallSite:   pc,
	}
	return vm.continueSend(f)
}

// pushRest pushes parameters from index first onwards and arranges for the
// next call or send to include them.
func (vm *VM) pushRest(f *Frame, first int) error {
	st, err := vm.stack()
	if err != nil {
		return err
	}
	n := 0
	for i := first; i <= f.Argc; i++ {
		if err := vm.push(st[f.ParamBase+i]); err != nil {
			return err
		}
		n++
	}
	vm.restAdjust = n
	return nil
}

// ---------------------------------------------------------------------------
// Variables
// ---------------------------------------------------------------------------

// leaIndexed is the lea type flag that adds acc to the index.
const leaIndexed = 0x10

// lea computes the address of a variable.
func (vm *VM) lea(f *Frame, typ, idx int) (Reg, error) {
	if typ&leaIndexed != 0 {
		idx += int(vm.acc.Signed())
	}
	if idx < 0 {
		return NullReg, addrError(KindInvalidAddress, NullReg, "negative variable index %d", idx)
	}
	switch VarType(typ & 0x03) {
	case VarGlobal:
		id, ok := vm.Segments.ScriptSegment(0)
		if !ok {
			return NullReg, addrError(KindInvalidAddress, NullReg, "globals unavailable: script 0 is not loaded")
		}
		s, err := vm.Segments.script(id)
		if err != nil {
			return NullReg, err
		}
		return MakeReg(s.LocalsSeg, uint16(idx*2)), nil
	case VarLocal:
		s, err := vm.Segments.script(f.Script)
		if err != nil {
			return NullReg, err
		}
		return MakeReg(s.LocalsSeg, uint16(idx*2)), nil
	case VarTemp:
		return MakeReg(vm.stackSeg, uint16((f.TempBase+idx)*2)), nil
	default:
		return MakeReg(vm.stackSeg, uint16((f.ParamBase+idx)*2)), nil
	}
}

// varSlot returns the storage of a variable. Parameters past argc have no
// storage: they read as 0 and ignore writes, signalled by a nil slot.
func (vm *VM) varSlot(f *Frame, vt VarType, idx int) (*Reg, error) {
	var regs []Reg
	switch vt {
	case VarGlobal:
		seg, err := vm.globals()
		if err != nil {
			return nil, err
		}
		regs = seg.Regs
	case VarLocal:
		s, err := vm.Segments.script(f.Script)
		if err != nil {
			return nil, err
		}
		seg, err := vm.Segments.Segment(s.LocalsSeg)
		if err != nil {
			return nil, err
		}
		regs = seg.Regs
	case VarTemp:
		st, err := vm.stack()
		if err != nil {
			return nil, err
		}
		regs = st[f.TempBase:]
	case VarParam:
		if idx > f.Argc {
			return nil, nil
		}
		st, err := vm.stack()
		if err != nil {
			return nil, err
		}
		regs = st[f.ParamBase:]
	}
	if idx < 0 || idx >= len(regs) {
		return nil, addrError(KindInvalidAddress, NullReg, "variable %d out of range", idx)
	}
	return &regs[idx], nil
}

func (vm *VM) execVar(f *Frame, in Instruction) error {
	action, vt, toStack, indexed := decodeVarOp(in.Op)
	idx := in.Args[0]
	if indexed {
		idx += int(vm.acc.Signed())
	}
	slot, err := vm.varSlot(f, vt, idx)
	if err != nil {
		return err
	}

	switch action {
	case VarLoad:
		v := NullReg
		if slot != nil {
			v = *slot
		}
		if toStack {
			return vm.push(v)
		}
		vm.acc = v

	case VarStore:
		v := vm.acc
		if toStack || indexed {
			if v, err = vm.pop(); err != nil {
				return err
			}
			if !toStack {
				vm.acc = v
			}
		}
		if slot != nil {
			*slot = v
		}

	case VarInc, VarDec:
		cur := NullReg
		if slot != nil {
			cur = *slot
		}
		var next Reg
		if action == VarInc {
			next, err = cur.Add(Num(1))
		} else {
			next, err = cur.Sub(Num(1))
		}
		if err != nil {
			return err
		}
		if slot != nil {
			*slot = next
		}
		if toStack {
			return vm.push(next)
		}
		vm.acc = next
	}
	return nil
}

// execProperty runs the property opcodes, which address self's property
// block by byte offset.
func (vm *VM) execProperty(f *Frame, in Instruction) error {
	obj, err := vm.Segments.Object(f.Self)
	if err != nil {
		return err
	}
	slot := in.Args[0] / 2
	if slot >= len(obj.Vars) {
		return addrError(KindInvalidAddress, f.Self, "%s has no property at offset %d", obj.Name, in.Args[0])
	}
	p := &obj.Vars[slot]

	switch in.Op {
	case OpPToA:
		vm.acc = *p
	case OpAToP:
		*p = vm.acc
	case OpPToS:
		return vm.push(*p)
	case OpSToP:
		v, err := vm.pop()
		if err != nil {
			return err
		}
		*p = v
	case OpIPToA, OpIPToS, OpDPToA, OpDPToS:
		var next Reg
		if in.Op == OpIPToA || in.Op == OpIPToS {
			next, err = p.Add(Num(1))
		} else {
			next, err = p.Sub(Num(1))
		}
		if err != nil {
			return err
		}
		*p = next
		if in.Op == OpIPToS || in.Op == OpDPToS {
			return vm.push(next)
		}
		vm.acc = next
	}
	return nil
}
