package vm

// ---------------------------------------------------------------------------
// Events and timing
// ---------------------------------------------------------------------------

// Event types, usable as GetEvent masks.
const (
	EventNone      uint16 = 0x0000
	EventMouseDown uint16 = 0x0001
	EventMouseUp   uint16 = 0x0002
	EventKeyDown   uint16 = 0x0004
	EventKeyUp     uint16 = 0x0008
	EventAll       uint16 = 0x7FFF
)

// Event is one input event.
type Event struct {
	Type      uint16
	Message   uint16 // key code or button
	Modifiers uint16
	X, Y      int16
}

// EventSource supplies input to the GetEvent kernel. PollEvent never
// blocks: it returns false when no event matching mask is queued.
type EventSource interface {
	PollEvent(mask uint16) (Event, bool)
}

type noEvents struct{}

func (noEvents) PollEvent(uint16) (Event, bool) { return Event{}, false }

// EventQueue is an in-memory EventSource.
type EventQueue struct {
	events []Event
}

// Push queues ev.
func (q *EventQueue) Push(ev Event) {
	q.events = append(q.events, ev)
}

// Len returns the number of queued events.
func (q *EventQueue) Len() int {
	return len(q.events)
}

// PollEvent removes and returns the oldest event whose type is in mask.
func (q *EventQueue) PollEvent(mask uint16) (Event, bool) {
	for i, ev := range q.events {
		if ev.Type&mask != 0 {
			q.events = append(q.events[:i], q.events[i+1:]...)
			return ev, true
		}
	}
	return Event{}, false
}

// kGetEvent takes (mask, event object). When an event is available it is
// copied into the object's type, message, modifiers, x and y properties and
// the call returns 1.
func kGetEvent(vm *VM, args []Reg) (Reg, error) {
	ev, ok := vm.events.PollEvent(arg(args, 0).Unsigned())
	if !ok {
		return Bool(false), nil
	}
	obj := arg(args, 1)
	if obj.IsNull() {
		return Bool(true), nil
	}
	c := vm.Selectors.Cache()
	fields := []struct {
		sel   Selector
		value Reg
	}{
		{c.Type, Num(int(ev.Type))},
		{c.Message, Num(int(ev.Message))},
		{c.Modifiers, Num(int(ev.Modifiers))},
		{c.X, Num(int(ev.X))},
		{c.Y, Num(int(ev.Y))},
	}
	for _, f := range fields {
		if f.sel == NoSelector {
			continue
		}
		if err := vm.SetProperty(obj, f.sel, f.value); err != nil {
			return NullReg, err
		}
	}
	return Bool(true), nil
}

// kWait takes (ticks) and blocks until that many clock ticks have passed
// since the previous Wait. It returns the ticks actually elapsed.
func kWait(vm *VM, args []Reg) (Reg, error) {
	want := uint32(arg(args, 0).Unsigned())
	elapsed := vm.clock - vm.lastWait
	if elapsed < want {
		return NullReg, ErrBlocked
	}
	vm.lastWait = vm.clock
	return Num(int(elapsed)), nil
}

func kGetTime(vm *VM, args []Reg) (Reg, error) {
	return Num(int(vm.clock)), nil
}
