package vm

import "errors"

// ---------------------------------------------------------------------------
// Kernel calls
// ---------------------------------------------------------------------------

// KernelFunc implements a kernel call. args excludes the argc word.
type KernelFunc func(vm *VM, args []Reg) (Reg, error)

// ErrBlocked is returned by a kernel that must wait for the host (an input
// event, a frame boundary). The executor suspends in BlockedOnIO and retries
// the call when resumed.
var ErrBlocked = errors.New("kernel call blocked")

// builtinKernels are bound by name to the vocabulary's kernel numbers.
func builtinKernels() map[string]KernelFunc {
	return map[string]KernelFunc{
		"Clone":        kClone,
		"DisposeClone": kDisposeClone,
		"IsObject":     kIsObject,
		"RespondsTo":   kRespondsTo,
		"ScriptID":     kScriptID,

		"NewList":     kNewList,
		"DisposeList": kDisposeList,
		"NewNode":     kNewNode,
		"AddToEnd":    kAddToEnd,
		"AddToFront":  kAddToFront,
		"FirstNode":   kFirstNode,
		"LastNode":    kLastNode,
		"NextNode":    kNextNode,
		"PrevNode":    kPrevNode,
		"NodeValue":   kNodeValue,
		"EmptyList":   kEmptyList,
		"FindKey":     kFindKey,
		"DeleteKey":   kDeleteKey,

		"Memory": kMemory,

		"GetEvent": kGetEvent,
		"Wait":     kWait,
		"GetTime":  kGetTime,
		"Quit":     kQuit,
	}
}

type kernelEntry struct {
	name string
	fn   KernelFunc
}

// kernelTable maps kernel call numbers to implementations.
type kernelTable struct {
	entries []kernelEntry
}

func newKernelTable(names []string) *kernelTable {
	builtins := builtinKernels()
	kt := &kernelTable{entries: make([]kernelEntry, len(names))}
	missing := 0
	for i, name := range names {
		kt.entries[i].name = name
		if fn, ok := builtins[name]; ok {
			kt.entries[i].fn = fn
		} else if name != "" {
			missing++
		}
	}
	if missing > 0 {
		log.Debugf("%d of %d kernel calls have no built-in implementation", missing, len(names))
	}
	return kt
}

// lookup returns the implementation of kernel n. Unimplemented kernels
// return 0 and log a warning.
func (kt *kernelTable) lookup(n int) (KernelFunc, string) {
	if n < 0 || n >= len(kt.entries) {
		return unimplementedKernel("?"), "?"
	}
	e := kt.entries[n]
	if e.fn == nil {
		return unimplementedKernel(e.name), e.name
	}
	return e.fn, e.name
}

func unimplementedKernel(name string) KernelFunc {
	return func(vm *VM, args []Reg) (Reg, error) {
		log.Warningf("kernel %s is not implemented, returning 0", name)
		return NullReg, nil
	}
}

// RegisterKernel binds fn to every kernel number the vocabulary names
// name, replacing any built-in. It returns the number of bindings made.
func (vm *VM) RegisterKernel(name string, fn KernelFunc) int {
	n := 0
	for i := range vm.kernels.entries {
		if vm.kernels.entries[i].name == name {
			vm.kernels.entries[i].fn = fn
			n++
		}
	}
	if n == 0 {
		log.Warningf("vocabulary has no kernel named %s", name)
	}
	return n
}

// KernelNumber returns the call number of the named kernel.
func (vm *VM) KernelNumber(name string) (int, bool) {
	for i, e := range vm.kernels.entries {
		if e.name == name {
			return i, true
		}
	}
	return 0, false
}

// arg returns args[i], or 0 when the script passed fewer arguments.
func arg(args []Reg, i int) Reg {
	if i < len(args) {
		return args[i]
	}
	return NullReg
}

// ---------------------------------------------------------------------------
// Object kernels
// ---------------------------------------------------------------------------

// kClone copies an object. Extra arguments are selector/value pairs applied
// to the copy.
func kClone(vm *VM, args []Reg) (Reg, error) {
	c, err := vm.CloneObject(arg(args, 0))
	if err != nil {
		return NullReg, err
	}
	for i := 1; i+1 < len(args); i += 2 {
		if err := vm.SetProperty(c, Selector(args[i].Unsigned()), args[i+1]); err != nil {
			return NullReg, err
		}
	}
	return c, nil
}

func kDisposeClone(vm *VM, args []Reg) (Reg, error) {
	return NullReg, vm.DisposeClone(arg(args, 0))
}

func kIsObject(vm *VM, args []Reg) (Reg, error) {
	return Bool(vm.Segments.IsObject(arg(args, 0))), nil
}

func kRespondsTo(vm *VM, args []Reg) (Reg, error) {
	return Bool(vm.RespondsTo(arg(args, 0), Selector(arg(args, 1).Unsigned()))), nil
}

// kScriptID returns export n (default 0) of a script, loading it if needed.
func kScriptID(vm *VM, args []Reg) (Reg, error) {
	return vm.ScriptExport(arg(args, 0).Unsigned(), int(arg(args, 1).Unsigned()))
}

func kQuit(vm *VM, args []Reg) (Reg, error) {
	vm.Halt()
	return NullReg, nil
}
