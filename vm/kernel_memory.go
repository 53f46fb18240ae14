package vm

import "encoding/binary"

// Memory kernel sub-operations.
const (
	MemAllocCritical    = 1
	MemAllocNonCritical = 2
	MemFree             = 3
	MemCopy             = 4
	MemPeek             = 5
	MemPoke             = 6
)

// kMemory dispatches on its first argument:
//
//	(1|2 size)          allocate size bytes of scratch memory
//	(3 addr)            free it
//	(4 dest src count)  copy count bytes (or words for reg segments)
//	(5 addr)            read a 16-bit value
//	(6 addr value)      write a 16-bit value
func kMemory(vm *VM, args []Reg) (Reg, error) {
	switch arg(args, 0).Unsigned() {
	case MemAllocCritical, MemAllocNonCritical:
		return vm.Segments.Allocate(SegDynMem, int(arg(args, 1).Unsigned()))
	case MemFree:
		addr := arg(args, 1)
		seg, err := vm.Segments.Segment(addr.Segment)
		if err != nil {
			return NullReg, err
		}
		if seg.Kind != SegDynMem {
			return NullReg, addrError(KindInvalidAddress, addr, "Memory free of %s segment", seg.Kind)
		}
		return NullReg, vm.Segments.Free(addr.Segment)
	case MemCopy:
		return arg(args, 1), vm.memcpy(arg(args, 1), arg(args, 2), int(arg(args, 3).Unsigned()))
	case MemPeek:
		return vm.Peek(arg(args, 1))
	case MemPoke:
		return NullReg, vm.Poke(arg(args, 1), arg(args, 2))
	}
	log.Warningf("Memory: unknown sub-operation %d", arg(args, 0).Unsigned())
	return NullReg, nil
}

// Peek reads the value at addr: a word of a reg segment or a little-endian
// 16-bit number from a byte segment.
func (vm *VM) Peek(addr Reg) (Reg, error) {
	v, err := vm.Segments.Resolve(addr)
	if err != nil {
		return NullReg, err
	}
	switch {
	case v.Regs != nil:
		return v.Regs[0], nil
	case len(v.Bytes) >= 2:
		return Num(int(binary.LittleEndian.Uint16(v.Bytes))), nil
	case len(v.Bytes) == 1:
		return Num(int(v.Bytes[0])), nil
	}
	return NullReg, addrError(KindInvalidAddress, addr, "cannot peek into %s", v.Kind)
}

// Poke writes value at addr. Byte segments hold numbers only.
func (vm *VM) Poke(addr, value Reg) error {
	v, err := vm.Segments.Resolve(addr)
	if err != nil {
		return err
	}
	switch {
	case v.Regs != nil:
		v.Regs[0] = value
		return nil
	case v.Kind == SegScript:
		return addrError(KindInvalidAddress, addr, "script code is read-only")
	case v.Bytes != nil:
		if value.IsPointer() {
			return addrError(KindInvalidAddress, addr, "cannot store pointer %v in %s memory", value, v.Kind)
		}
		if len(v.Bytes) >= 2 {
			binary.LittleEndian.PutUint16(v.Bytes, value.Offset)
		} else {
			v.Bytes[0] = byte(value.Offset)
		}
		return nil
	}
	return addrError(KindInvalidAddress, addr, "cannot poke into %s", v.Kind)
}

// memcpy copies count units from src to dest. Both sides must be byte
// segments or both reg segments.
func (vm *VM) memcpy(dest, src Reg, count int) error {
	d, err := vm.Segments.Resolve(dest)
	if err != nil {
		return err
	}
	s, err := vm.Segments.Resolve(src)
	if err != nil {
		return err
	}
	if d.Kind == SegScript {
		return addrError(KindInvalidAddress, dest, "script code is read-only")
	}
	switch {
	case d.Regs != nil && s.Regs != nil:
		if count > len(d.Regs) || count > len(s.Regs) {
			return addrError(KindInvalidAddress, dest, "copy of %d words overruns segment", count)
		}
		copy(d.Regs[:count], s.Regs[:count])
	case d.Bytes != nil && s.Bytes != nil:
		if count > len(d.Bytes) || count > len(s.Bytes) {
			return addrError(KindInvalidAddress, dest, "copy of %d bytes overruns segment", count)
		}
		copy(d.Bytes[:count], s.Bytes[:count])
	default:
		return addrError(KindInvalidAddress, dest, "cannot copy %s memory into %s memory", s.Kind, d.Kind)
	}
	return nil
}
