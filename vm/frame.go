package vm

// ---------------------------------------------------------------------------
// Frame: execution state for one activation
// ---------------------------------------------------------------------------

// FrameKind records how a frame was entered, which decides what happens when
// it returns.
type FrameKind uint8

const (
	// FrameCall is a local procedure or export call.
	FrameCall FrameKind = iota
	// FrameSend is a method entered while processing a send instruction.
	// Its return resumes the caller's pending send.
	FrameSend
	// FrameHost is a method entered from the host through Start or Send.
	// Its return ends the host's run.
	FrameHost
)

// String implements the Stringer interface.
func (k FrameKind) String() string {
	switch k {
	case FrameCall:
		return "call"
	case FrameSend:
		return "send"
	case FrameHost:
		return "host"
	}
	return "frame?"
}

// Frame is one activation record. Parameters, temporaries and the operand
// stack all live in the stack segment; the frame holds word indices into it.
//
//	ParamBase -> argc, param 1 .. param argc
//	TempBase  -> temp 0 .. temp TempCount-1
//	then operands up to sp
type Frame struct {
	Kind     FrameKind
	Script   SegmentID // script segment holding the code
	PC       int
	Self     Reg
	Owner    ClassID // class whose method is running; super sends start above it
	Selector Selector

	ParamBase int
	Argc      int
	TempBase  int
	TempCount int

	// EntrySP is the stack pointer restored when the frame returns.
	EntrySP int

	// Pending is the send block this frame is working through, if any.
	Pending *PendingSend `cbor:",omitempty"`
}

// PendingSend tracks a send instruction whose messages are being delivered
// one at a time. The block occupies stack words [Base, End):
//
//	selector, argc, arg 1 .. arg argc, selector, argc, ...
type PendingSend struct {
	Object     Reg
	Base       int
	Pos        int // next message
	End        int
	Super      bool
	SuperClass ClassID
	CallSite   int // pc of the send instruction
	Message    int // index of the next message within the block
}

// done reports whether every message has been delivered.
func (p *PendingSend) done() bool {
	return p.Pos >= p.End
}

// ---------------------------------------------------------------------------
// Stack access
// ---------------------------------------------------------------------------

// stack returns the words of the stack segment.
func (vm *VM) stack() ([]Reg, error) {
	seg, err := vm.Segments.Segment(vm.stackSeg)
	if err != nil {
		return nil, err
	}
	return seg.Regs, nil
}

func (vm *VM) push(v Reg) error {
	st, err := vm.stack()
	if err != nil {
		return err
	}
	if vm.sp >= len(st) {
		return addrError(KindStackOverflow, MakeReg(vm.stackSeg, uint16(vm.sp*2)), "value stack exhausted (%d words)", len(st))
	}
	st[vm.sp] = v
	vm.sp++
	return nil
}

func (vm *VM) pop() (Reg, error) {
	st, err := vm.stack()
	if err != nil {
		return NullReg, err
	}
	if vm.sp <= vm.floor() {
		return NullReg, addrError(KindInvalidAddress, MakeReg(vm.stackSeg, uint16(vm.sp*2)), "value stack underflow")
	}
	vm.sp--
	return st[vm.sp], nil
}

func (vm *VM) peek() (Reg, error) {
	st, err := vm.stack()
	if err != nil {
		return NullReg, err
	}
	if vm.sp <= vm.floor() {
		return NullReg, addrError(KindInvalidAddress, MakeReg(vm.stackSeg, uint16(vm.sp*2)), "value stack underflow")
	}
	return st[vm.sp-1], nil
}

// floor is the lowest stack index the current frame may pop to.
func (vm *VM) floor() int {
	if f := vm.frame(); f != nil {
		return f.TempBase + f.TempCount
	}
	return 0
}

// frame returns the active frame, or nil.
func (vm *VM) frame() *Frame {
	if n := len(vm.frames); n > 0 {
		return vm.frames[n-1]
	}
	return nil
}

// pushFrame activates f, faulting when the depth limit is reached.
func (vm *VM) pushFrame(f *Frame) error {
	if len(vm.frames) >= vm.config.MaxFrameDepth {
		return newError(KindStackOverflow, f.Self, f.Selector, "call depth limit %d reached", vm.config.MaxFrameDepth)
	}
	f.TempBase = vm.sp
	vm.frames = append(vm.frames, f)
	return nil
}

// popFrame removes the active frame and restores the stack pointer.
func (vm *VM) popFrame() *Frame {
	n := len(vm.frames)
	f := vm.frames[n-1]
	vm.frames[n-1] = nil
	vm.frames = vm.frames[:n-1]
	vm.sp = f.EntrySP
	return f
}

// Frames returns a copy of the frame stack, outermost first.
func (vm *VM) Frames() []Frame {
	out := make([]Frame, len(vm.frames))
	for i, f := range vm.frames {
		out[i] = *f
		if f.Pending != nil {
			p := *f.Pending
			out[i].Pending = &p
		}
	}
	return out
}

// Depth returns the number of active frames.
func (vm *VM) Depth() int {
	return len(vm.frames)
}
