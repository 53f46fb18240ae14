package vm

import "fmt"

// ---------------------------------------------------------------------------
// Reg: tagged 16-bit address/number
// ---------------------------------------------------------------------------

// SegmentID indexes the segment table. Segment 0 is reserved for numbers.
type SegmentID uint16

// Reg is the VM's universal value: a (segment, offset) pair. When Segment is
// zero the value is a plain 16-bit number held in Offset.
type Reg struct {
	_       struct{} `cbor:",toarray"`
	Segment SegmentID
	Offset  uint16
}

// NullReg is the number zero and the null pointer.
var NullReg = Reg{}

// MakeReg builds an address.
func MakeReg(seg SegmentID, offset uint16) Reg {
	return Reg{Segment: seg, Offset: offset}
}

// Num builds a number, wrapping v to 16 bits.
func Num(v int) Reg {
	return Reg{Offset: uint16(v)}
}

// Bool builds 1 or 0.
func Bool(b bool) Reg {
	if b {
		return Num(1)
	}
	return NullReg
}

// IsNull reports whether r is the number zero.
func (r Reg) IsNull() bool { return r.Segment == 0 && r.Offset == 0 }

// IsNumber reports whether r is arithmetic rather than a heap pointer.
func (r Reg) IsNumber() bool { return r.Segment == 0 }

// IsPointer reports whether r refers into the segment table.
func (r Reg) IsPointer() bool { return r.Segment != 0 }

// Signed returns the offset as a signed 16-bit value.
func (r Reg) Signed() int16 { return int16(r.Offset) }

// Unsigned returns the offset as an unsigned 16-bit value.
func (r Reg) Unsigned() uint16 { return r.Offset }

// Truthy follows script semantics: anything but null is true.
func (r Reg) Truthy() bool { return !r.IsNull() }

// String implements the Stringer interface.
func (r Reg) String() string {
	return fmt.Sprintf("%04x:%04x", uint16(r.Segment), r.Offset)
}

// ---------------------------------------------------------------------------
// Arithmetic
// ---------------------------------------------------------------------------
//
// All arithmetic wraps at 16 bits. Pointer arithmetic is limited to what
// compiled scripts do: pointer +/- number, and pointer - pointer within a
// single segment.

func arithError(op string, a, b Reg) error {
	return addrError(KindInvalidAddress, a, "invalid operands for %s: %v, %v", op, a, b)
}

// Add returns a + b.
func (r Reg) Add(o Reg) (Reg, error) {
	switch {
	case r.IsNumber() && o.IsNumber():
		return Reg{Offset: r.Offset + o.Offset}, nil
	case r.IsPointer() && o.IsNumber():
		return Reg{Segment: r.Segment, Offset: r.Offset + o.Offset}, nil
	case r.IsNumber() && o.IsPointer():
		return Reg{Segment: o.Segment, Offset: o.Offset + r.Offset}, nil
	}
	return NullReg, arithError("add", r, o)
}

// Sub returns r - o.
func (r Reg) Sub(o Reg) (Reg, error) {
	switch {
	case r.IsNumber() && o.IsNumber():
		return Reg{Offset: r.Offset - o.Offset}, nil
	case r.IsPointer() && o.IsNumber():
		return Reg{Segment: r.Segment, Offset: r.Offset - o.Offset}, nil
	case r.IsPointer() && r.Segment == o.Segment:
		return Reg{Offset: r.Offset - o.Offset}, nil
	}
	return NullReg, arithError("sub", r, o)
}

// numeric applies a number-only binary operation.
func (r Reg) numeric(op string, o Reg, fn func(a, b uint16) uint16) (Reg, error) {
	if !r.IsNumber() || !o.IsNumber() {
		return NullReg, arithError(op, r, o)
	}
	return Reg{Offset: fn(r.Offset, o.Offset)}, nil
}

// Mul returns r * o.
func (r Reg) Mul(o Reg) (Reg, error) {
	return r.numeric("mul", o, func(a, b uint16) uint16 { return uint16(int16(a) * int16(b)) })
}

// Div returns r / o with signed truncation. Division by zero yields zero;
// ok is false in that case so the caller can report it.
func (r Reg) Div(o Reg) (res Reg, ok bool, err error) {
	ok = true
	res, err = r.numeric("div", o, func(a, b uint16) uint16 {
		if b == 0 {
			ok = false
			return 0
		}
		return uint16(int16(a) / int16(b))
	})
	return res, ok, err
}

// Mod returns r mod o. The result takes the sign of the dividend, matching
// the interpreter this VM emulates. Modulo by zero yields zero.
func (r Reg) Mod(o Reg) (res Reg, ok bool, err error) {
	ok = true
	res, err = r.numeric("mod", o, func(a, b uint16) uint16 {
		if b == 0 {
			ok = false
			return 0
		}
		return uint16(int16(a) % int16(b))
	})
	return res, ok, err
}

// Shr returns r >> o (logical).
func (r Reg) Shr(o Reg) (Reg, error) {
	return r.numeric("shr", o, func(a, b uint16) uint16 { return a >> (b & 0x1f) })
}

// Shl returns r << o.
func (r Reg) Shl(o Reg) (Reg, error) {
	return r.numeric("shl", o, func(a, b uint16) uint16 { return a << (b & 0x1f) })
}

// Xor returns r ^ o.
func (r Reg) Xor(o Reg) (Reg, error) {
	return r.numeric("xor", o, func(a, b uint16) uint16 { return a ^ b })
}

// And returns r & o.
func (r Reg) And(o Reg) (Reg, error) {
	return r.numeric("and", o, func(a, b uint16) uint16 { return a & b })
}

// Or returns r | o.
func (r Reg) Or(o Reg) (Reg, error) {
	return r.numeric("or", o, func(a, b uint16) uint16 { return a | b })
}

// Neg returns -r.
func (r Reg) Neg() (Reg, error) {
	if !r.IsNumber() {
		return NullReg, arithError("neg", r, NullReg)
	}
	return Reg{Offset: -r.Offset}, nil
}

// BNot returns ^r.
func (r Reg) BNot() (Reg, error) {
	if !r.IsNumber() {
		return NullReg, arithError("bnot", r, NullReg)
	}
	return Reg{Offset: ^r.Offset}, nil
}

// Not returns 1 if r is null, else 0.
func (r Reg) Not() Reg {
	return Bool(r.IsNull())
}

// ---------------------------------------------------------------------------
// Comparison
// ---------------------------------------------------------------------------

// Compare orders r against o. Values in the same segment compare by offset,
// signed for numbers and unsigned for pointers (or when unsigned is set).
// A pointer always orders above a number; pointers in different segments
// order by segment id.
func (r Reg) Compare(o Reg, unsigned bool) int {
	if r.Segment != o.Segment {
		if r.Segment < o.Segment {
			return -1
		}
		return 1
	}
	if r.IsNumber() && !unsigned {
		a, b := r.Signed(), o.Signed()
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		}
		return 0
	}
	switch {
	case r.Offset < o.Offset:
		return -1
	case r.Offset > o.Offset:
		return 1
	}
	return 0
}
