package vm

import (
	"context"
	"errors"
	"fmt"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("scivm.vm")

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

// Config bounds the executor.
type Config struct {
	// MaxFrameDepth is the deepest call chain allowed before the executor
	// faults with StackOverflow.
	MaxFrameDepth int
	// StackSize is the size of the value stack in words.
	StackSize int
	// InstructionsPerTick caps the work done by one Tick. Zero means run
	// until the frame stack empties or a kernel blocks.
	InstructionsPerTick int
	// CollectEvery runs the collector after every N ticks. Zero disables
	// automatic collection.
	CollectEvery int
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return Config{
		MaxFrameDepth:       256,
		StackSize:           0x1000,
		InstructionsPerTick: 0,
		CollectEvery:        0,
	}
}

// ---------------------------------------------------------------------------
// Executor state
// ---------------------------------------------------------------------------

// State is the executor's run state.
type State uint8

const (
	StateIdle State = iota
	StateRunning
	StateBlocked
	StateFaulted
	StateHalted
)

var stateNames = [...]string{"Idle", "Running", "BlockedOnIO", "Faulted", "Halted"}

// String implements the Stringer interface.
func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// ErrHalted is returned when work is requested from a halted VM.
var ErrHalted = errors.New("vm is halted")

// ---------------------------------------------------------------------------
// VM
// ---------------------------------------------------------------------------

// VM is one game's interpreter: its address space, vocabulary, class table
// and executor. A VM is not safe for concurrent use; the host serializes
// every call.
type VM struct {
	Segments  *SegManager
	Selectors *SelectorTable
	Classes   *ClassTable

	vocab  *Vocabulary
	config Config

	kernels *kernelTable
	events  EventSource
	loader  ScriptLoader
	caches  *InlineCacheTable

	// executor registers
	stackSeg   SegmentID
	sp         int
	frames     []*Frame
	acc        Reg
	prev       Reg
	restAdjust int
	state      State
	lastErr    *VMError
	nested     int // active host sends

	ticks    uint64
	clock    uint32
	lastWait uint32
}

// Option configures a VM at construction.
type Option func(*VM)

// WithConfig replaces the default configuration.
func WithConfig(cfg Config) Option {
	return func(vm *VM) { vm.config = cfg }
}

// WithEventSource connects the input events GetEvent reports.
func WithEventSource(src EventSource) Option {
	return func(vm *VM) { vm.events = src }
}

// WithScriptLoader supplies scripts that are loaded on demand.
func WithScriptLoader(l ScriptLoader) Option {
	return func(vm *VM) { vm.loader = l }
}

// NewVM builds a VM for vocab. It fails when the vocabulary lacks a selector
// the executor requires.
func NewVM(vocab *Vocabulary, opts ...Option) (*VM, error) {
	st, err := NewSelectorTable(vocab)
	if err != nil {
		return nil, fmt.Errorf("building selector table: %w", err)
	}
	vm := &VM{
		Segments:  NewSegManager(),
		Selectors: st,
		Classes:   NewClassTable(vocab),
		vocab:     vocab,
		config:    DefaultConfig(),
		caches:    NewInlineCacheTable(),
		events:    noEvents{},
	}
	for _, opt := range opts {
		opt(vm)
	}
	if vm.config.MaxFrameDepth <= 0 {
		vm.config.MaxFrameDepth = DefaultConfig().MaxFrameDepth
	}
	if vm.config.StackSize <= 0 || vm.config.StackSize > 0x7FFF {
		vm.config.StackSize = DefaultConfig().StackSize
	}
	vm.kernels = newKernelTable(vocab.Kernels)

	addr, err := vm.Segments.Allocate(SegStack, vm.config.StackSize)
	if err != nil {
		return nil, err
	}
	vm.stackSeg = addr.Segment
	vm.Segments.segments[vm.stackSeg].Name = "stack"

	log.Infof("vm ready: vocabulary %q, %d selectors, %d kernels, %d classes",
		vocab.Version, st.Len(), len(vocab.Kernels), vm.Classes.Len())
	return vm, nil
}

// Config returns the active configuration.
func (vm *VM) Config() Config {
	return vm.config
}

// Vocabulary returns the vocabulary the VM was built from.
func (vm *VM) Vocabulary() *Vocabulary {
	return vm.vocab
}

// State returns the executor state.
func (vm *VM) State() State {
	return vm.state
}

// LastError returns the most recent error reported by the executor, or nil.
func (vm *VM) LastError() *VMError {
	return vm.lastErr
}

// Acc returns the accumulator.
func (vm *VM) Acc() Reg {
	return vm.acc
}

// Ticks returns the number of completed ticks.
func (vm *VM) Ticks() uint64 {
	return vm.ticks
}

// Clock returns the game clock in ticks of 1/60 s.
func (vm *VM) Clock() uint32 {
	return vm.clock
}

// AdvanceClock moves the game clock forward. Hosts call it once per frame.
func (vm *VM) AdvanceClock(n uint32) {
	vm.clock += n
}

// StackSegment returns the id of the value stack segment.
func (vm *VM) StackSegment() SegmentID {
	return vm.stackSeg
}

// globals returns the global variable bank: the locals of script 0.
func (vm *VM) globals() (*Segment, error) {
	id, ok := vm.Segments.ScriptSegment(0)
	if !ok {
		return nil, addrError(KindInvalidAddress, NullReg, "globals unavailable: script 0 is not loaded")
	}
	s, err := vm.Segments.script(id)
	if err != nil {
		return nil, err
	}
	return vm.Segments.Segment(s.LocalsSeg)
}

// Global reads global variable n.
func (vm *VM) Global(n int) (Reg, error) {
	seg, err := vm.globals()
	if err != nil {
		return NullReg, err
	}
	if n < 0 || n >= len(seg.Regs) {
		return NullReg, addrError(KindInvalidAddress, NullReg, "global %d out of range", n)
	}
	return seg.Regs[n], nil
}

// SetGlobal writes global variable n.
func (vm *VM) SetGlobal(n int, v Reg) error {
	seg, err := vm.globals()
	if err != nil {
		return err
	}
	if n < 0 || n >= len(seg.Regs) {
		return addrError(KindInvalidAddress, NullReg, "global %d out of range", n)
	}
	seg.Regs[n] = v
	return nil
}

// ---------------------------------------------------------------------------
// Host entry points
// ---------------------------------------------------------------------------

// Start queues a message to obj as the root of execution. Property
// selectors are applied at once; methods run on the following ticks.
func (vm *VM) Start(obj Reg, sel Selector, args ...Reg) error {
	switch vm.state {
	case StateHalted:
		return ErrHalted
	case StateFaulted:
		return vm.faultError()
	}
	if len(vm.frames) > 0 {
		return fmt.Errorf("vm is busy: %d frames active", len(vm.frames))
	}
	_, err := vm.enterHost(obj, sel, args)
	if err != nil {
		vm.report(err)
	}
	return err
}

// Tick runs the executor for one game-loop tick. Recoverable dispatch
// errors abort the whole call chain the host started and are returned;
// the VM stays usable. Fatal errors leave the VM Faulted.
func (vm *VM) Tick(ctx context.Context) error {
	err := vm.run(ctx, vm.config.InstructionsPerTick)
	vm.ticks++
	if vm.config.CollectEvery > 0 && vm.ticks%uint64(vm.config.CollectEvery) == 0 && vm.state != StateFaulted {
		vm.Collect()
	}
	return err
}

// Step executes a single instruction.
func (vm *VM) Step() error {
	return vm.run(context.Background(), 1)
}

// Resume releases a blocked executor. The blocked kernel call is retried by
// the next Tick.
func (vm *VM) Resume() {
	if vm.state == StateBlocked {
		vm.state = StateIdle
	}
}

// Halt stops the VM for good.
func (vm *VM) Halt() {
	if vm.state != StateHalted {
		log.Infof("halted at depth %d", len(vm.frames))
	}
	vm.state = StateHalted
}

// Fault forces the VM into the Faulted state, as a host does when it gives
// up on a script. Only Restore recovers from it.
func (vm *VM) Fault(err error) {
	e := asVMError(err)
	vm.lastErr = e
	vm.state = StateFaulted
	log.Errorf("faulted: %v", e)
}

// faultError is the error returned to callers of a faulted VM. It is never
// nil, even when the fault was restored from a snapshot without its cause.
func (vm *VM) faultError() *VMError {
	if vm.lastErr != nil {
		return vm.lastErr
	}
	return newError(KindNone, NullReg, NoSelector, "vm is faulted")
}

// report records err as the last error and logs it by severity.
func (vm *VM) report(err error) *VMError {
	e := asVMError(err)
	vm.lastErr = e
	if e.Kind.Fatal() {
		vm.state = StateFaulted
		log.Errorf("faulted: %v", e)
	} else {
		log.Warningf("call aborted: %v", e)
	}
	return e
}
