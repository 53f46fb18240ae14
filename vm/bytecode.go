package vm

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode is an instruction number. In the byte stream it is stored shifted
// left by one; the low bit selects one-byte rather than two-byte operands.
type Opcode byte

// Arithmetic and logic. Operands: the popped stack value and the accumulator.
const (
	OpBnot Opcode = 0x00 // acc = ~acc
	OpAdd  Opcode = 0x01 // acc = pop + acc
	OpSub  Opcode = 0x02 // acc = pop - acc
	OpMul  Opcode = 0x03
	OpDiv  Opcode = 0x04
	OpMod  Opcode = 0x05
	OpShr  Opcode = 0x06
	OpShl  Opcode = 0x07
	OpXor  Opcode = 0x08
	OpAnd  Opcode = 0x09
	OpOr   Opcode = 0x0a
	OpNeg  Opcode = 0x0b // acc = -acc
	OpNot  Opcode = 0x0c // acc = !acc
)

// Comparisons. prev = acc; acc = pop <op> acc.
const (
	OpEq  Opcode = 0x0d
	OpNe  Opcode = 0x0e
	OpGt  Opcode = 0x0f
	OpGe  Opcode = 0x10
	OpLt  Opcode = 0x11
	OpLe  Opcode = 0x12
	OpUgt Opcode = 0x13
	OpUge Opcode = 0x14
	OpUlt Opcode = 0x15
	OpUle Opcode = 0x16
)

// Control flow and stack.
const (
	OpBt    Opcode = 0x17 // branch if acc
	OpBnt   Opcode = 0x18 // branch if !acc
	OpJmp   Opcode = 0x19
	OpLdi   Opcode = 0x1a // acc = immediate
	OpPush  Opcode = 0x1b // push acc
	OpPushi Opcode = 0x1c // push immediate
	OpToss  Opcode = 0x1d // pop
	OpDup   Opcode = 0x1e
	OpLink  Opcode = 0x1f // reserve n temporaries
)

// Calls and sends.
const (
	OpCall   Opcode = 0x20 // call local procedure (relative offset, frame size)
	OpCallk  Opcode = 0x21 // call kernel function (number, frame size)
	OpCallb  Opcode = 0x22 // call export of script 0 (export, frame size)
	OpCalle  Opcode = 0x23 // call export of script (script, export, frame size)
	OpRet    Opcode = 0x24
	OpSend   Opcode = 0x25 // send to acc (frame size)
	OpClass  Opcode = 0x28 // acc = class object
	OpSelf   Opcode = 0x2a // send to self (frame size)
	OpSuper  Opcode = 0x2b // send to self, lookup from class (class, frame size)
	OpRest   Opcode = 0x2c // push params from n on, extending the next call
	OpLea    Opcode = 0x2d // acc = address of variable (type, index)
	OpSelfID Opcode = 0x2e // acc = self
)

// Property access on self. The operand is a byte offset into the property
// block; slot = operand / 2.
const (
	OpPprev    Opcode = 0x30 // push prev
	OpPToA     Opcode = 0x31 // acc = prop
	OpAToP     Opcode = 0x32 // prop = acc
	OpPToS     Opcode = 0x33 // push prop
	OpSToP     Opcode = 0x34 // prop = pop
	OpIPToA    Opcode = 0x35 // acc = ++prop
	OpDPToA    Opcode = 0x36 // acc = --prop
	OpIPToS    Opcode = 0x37 // push ++prop
	OpDPToS    Opcode = 0x38 // push --prop
	OpLofsa    Opcode = 0x39 // acc = address in current script
	OpLofss    Opcode = 0x3a // push address in current script
	OpPush0    Opcode = 0x3b
	OpPush1    Opcode = 0x3c
	OpPush2    Opcode = 0x3d
	OpPushSelf Opcode = 0x3e
)

// OpVarBase is the first of the 64 variable opcodes; see VarOp.
const OpVarBase Opcode = 0x40

// VarType selects a variable bank.
type VarType uint8

const (
	VarGlobal VarType = iota
	VarLocal
	VarTemp
	VarParam
)

// VarAction selects what a variable opcode does.
type VarAction uint8

const (
	VarLoad VarAction = iota
	VarStore
	VarInc
	VarDec
)

// VarOp builds a variable opcode. toStack routes the result through the
// stack instead of the accumulator; indexed adds acc to the variable index.
func VarOp(action VarAction, vt VarType, toStack, indexed bool) Opcode {
	op := OpVarBase | Opcode(action)<<4 | Opcode(vt)
	if toStack {
		op |= 0x04
	}
	if indexed {
		op |= 0x08
	}
	return op
}

func decodeVarOp(op Opcode) (action VarAction, vt VarType, toStack, indexed bool) {
	v := op - OpVarBase
	return VarAction(v >> 4), VarType(v & 0x03), v&0x04 != 0, v&0x08 != 0
}

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

type operandKind uint8

const (
	argSigned   operandKind = iota // one or two bytes, sign-extended
	argUnsigned                    // one or two bytes, zero-extended
	argByte                        // always one byte
)

type opcodeInfo struct {
	name     string
	operands []operandKind
}

var (
	signed1   = []operandKind{argSigned}
	unsigned1 = []operandKind{argUnsigned}
	unsigned2 = []operandKind{argUnsigned, argUnsigned}
	frameOnly = []operandKind{argByte}
)

var opcodeTable = map[Opcode]opcodeInfo{
	OpBnot: {"bnot", nil}, OpAdd: {"add", nil}, OpSub: {"sub", nil},
	OpMul: {"mul", nil}, OpDiv: {"div", nil}, OpMod: {"mod", nil},
	OpShr: {"shr", nil}, OpShl: {"shl", nil}, OpXor: {"xor", nil},
	OpAnd: {"and", nil}, OpOr: {"or", nil}, OpNeg: {"neg", nil}, OpNot: {"not", nil},

	OpEq: {"eq?", nil}, OpNe: {"ne?", nil}, OpGt: {"gt?", nil}, OpGe: {"ge?", nil},
	OpLt: {"lt?", nil}, OpLe: {"le?", nil}, OpUgt: {"ugt?", nil}, OpUge: {"uge?", nil},
	OpUlt: {"ult?", nil}, OpUle: {"ule?", nil},

	OpBt: {"bt", signed1}, OpBnt: {"bnt", signed1}, OpJmp: {"jmp", signed1},
	OpLdi: {"ldi", signed1}, OpPush: {"push", nil}, OpPushi: {"pushi", signed1},
	OpToss: {"toss", nil}, OpDup: {"dup", nil}, OpLink: {"link", unsigned1},

	OpCall:   {"call", []operandKind{argSigned, argByte}},
	OpCallk:  {"callk", []operandKind{argUnsigned, argByte}},
	OpCallb:  {"callb", []operandKind{argUnsigned, argByte}},
	OpCalle:  {"calle", []operandKind{argUnsigned, argUnsigned, argByte}},
	OpRet:    {"ret", nil},
	OpSend:   {"send", frameOnly},
	OpClass:  {"class", unsigned1},
	OpSelf:   {"self", frameOnly},
	OpSuper:  {"super", []operandKind{argUnsigned, argByte}},
	OpRest:   {"&rest", unsigned1},
	OpLea:    {"lea", unsigned2},
	OpSelfID: {"selfID", nil},

	OpPprev: {"pprev", nil},
	OpPToA: {"pToa", unsigned1}, OpAToP: {"aTop", unsigned1},
	OpPToS: {"pTos", unsigned1}, OpSToP: {"sTop", unsigned1},
	OpIPToA: {"ipToa", unsigned1}, OpDPToA: {"dpToa", unsigned1},
	OpIPToS: {"ipTos", unsigned1}, OpDPToS: {"dpTos", unsigned1},
	OpLofsa: {"lofsa", unsigned1}, OpLofss: {"lofss", unsigned1},
	OpPush0: {"push0", nil}, OpPush1: {"push1", nil}, OpPush2: {"push2", nil},
	OpPushSelf: {"pushSelf", nil},
}

func init() {
	actions := [...]string{"l", "s", "+", "-"}
	banks := [...]string{"g", "l", "t", "p"}
	for op := OpVarBase; op < 0x80; op++ {
		action, vt, toStack, indexed := decodeVarOp(op)
		dest := "a"
		if toStack {
			dest = "s"
		}
		name := actions[action] + dest + banks[vt]
		if indexed {
			name += "i"
		}
		opcodeTable[op] = opcodeInfo{name: name, operands: unsigned1}
	}
}

// Name returns the mnemonic for op.
func (op Opcode) Name() string {
	if info, ok := opcodeTable[op]; ok {
		return info.name
	}
	return fmt.Sprintf("op_%02x", byte(op))
}

// Valid reports whether op is a defined instruction.
func (op Opcode) Valid() bool {
	_, ok := opcodeTable[op]
	return ok
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Name()
}

// ---------------------------------------------------------------------------
// Instruction decoding
// ---------------------------------------------------------------------------

// Instruction is one decoded instruction.
type Instruction struct {
	Op    Opcode
	Short bool   // operands are one byte wide
	Args  [3]int // decoded operands
	NArgs int
	Size  int // encoded length in bytes
}

// DecodeInstruction decodes the instruction at pc.
func DecodeInstruction(code []byte, pc int) (Instruction, error) {
	if pc < 0 || pc >= len(code) {
		return Instruction{}, addrError(KindInvalidAddress, NullReg, "pc %#x outside code (%d bytes)", pc, len(code))
	}
	raw := code[pc]
	in := Instruction{Op: Opcode(raw >> 1), Short: raw&1 != 0}
	info, ok := opcodeTable[in.Op]
	if !ok {
		return Instruction{}, addrError(KindInvalidOpcode, NullReg, "opcode %#02x at %#x", raw, pc)
	}
	pos := pc + 1
	for i, kind := range info.operands {
		width := 2
		if kind == argByte || in.Short {
			width = 1
		}
		if pos+width > len(code) {
			return Instruction{}, addrError(KindInvalidOpcode, NullReg, "truncated %s at %#x", info.name, pc)
		}
		var v int
		if width == 1 {
			v = int(code[pos])
			if kind == argSigned {
				v = int(int8(code[pos]))
			}
		} else {
			u := binary.LittleEndian.Uint16(code[pos:])
			v = int(u)
			if kind == argSigned {
				v = int(int16(u))
			}
		}
		in.Args[i] = v
		pos += width
	}
	in.NArgs = len(info.operands)
	in.Size = pos - pc
	return in, nil
}

// ---------------------------------------------------------------------------
// Builder: helper for constructing bytecode
// ---------------------------------------------------------------------------

// Builder assembles bytecode. Emit picks the short encoding whenever every
// variable-width operand fits in a byte.
type Builder struct {
	bytes []byte
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{bytes: make([]byte, 0, 64)}
}

// Bytes returns the assembled code.
func (b *Builder) Bytes() []byte {
	return b.bytes
}

// Len returns the current length, which is also the offset of the next
// instruction.
func (b *Builder) Len() int {
	return len(b.bytes)
}

func fitsShort(kind operandKind, v int) bool {
	switch kind {
	case argSigned:
		return v >= -128 && v <= 127
	case argUnsigned:
		return v >= 0 && v <= 255
	}
	return true
}

// Emit appends op with the given operands.
func (b *Builder) Emit(op Opcode, args ...int) {
	info, ok := opcodeTable[op]
	if !ok {
		panic(fmt.Sprintf("emit: undefined opcode %#02x", byte(op)))
	}
	if len(args) != len(info.operands) {
		panic(fmt.Sprintf("emit: %s takes %d operands, got %d", info.name, len(info.operands), len(args)))
	}
	short := true
	for i, kind := range info.operands {
		if !fitsShort(kind, args[i]) {
			short = false
		}
	}
	b.emit(op, short, args)
}

// EmitWide appends op with two-byte operands regardless of their values.
func (b *Builder) EmitWide(op Opcode, args ...int) {
	b.emit(op, false, args)
}

func (b *Builder) emit(op Opcode, short bool, args []int) {
	raw := byte(op) << 1
	if short {
		raw |= 1
	}
	b.bytes = append(b.bytes, raw)
	for i, kind := range opcodeTable[op].operands {
		if kind == argByte || short {
			b.bytes = append(b.bytes, byte(args[i]))
		} else {
			b.bytes = append(b.bytes, byte(args[i]), byte(args[i]>>8))
		}
	}
}

// ---------------------------------------------------------------------------
// Label management for jumps and local calls
// ---------------------------------------------------------------------------

// Label is a branch target that may be referenced before it is placed.
type Label struct {
	resolved bool
	position int
	refs     []labelRef
}

type labelRef struct {
	patch int // position of the 16-bit operand
	end   int // offset of the next instruction
}

// NewLabel creates an unplaced label.
func (b *Builder) NewLabel() *Label {
	return &Label{}
}

// Mark places label at the current position and patches earlier references.
func (b *Builder) Mark(label *Label) {
	if label.resolved {
		panic("label already resolved")
	}
	label.resolved = true
	label.position = len(b.bytes)
	for _, ref := range label.refs {
		binary.LittleEndian.PutUint16(b.bytes[ref.patch:], uint16(label.position-ref.end))
	}
	label.refs = nil
}

func (b *Builder) reference(label *Label, patch, end int) {
	if label.resolved {
		binary.LittleEndian.PutUint16(b.bytes[patch:], uint16(label.position-end))
		return
	}
	label.refs = append(label.refs, labelRef{patch: patch, end: end})
}

// EmitBranch appends bt, bnt or jmp targeting label.
func (b *Builder) EmitBranch(op Opcode, label *Label) {
	if op != OpBt && op != OpBnt && op != OpJmp {
		panic(fmt.Sprintf("emit: %s is not a branch", op))
	}
	b.EmitWide(op, 0)
	b.reference(label, len(b.bytes)-2, len(b.bytes))
}

// EmitCall appends a local call to label passing frameSize bytes of
// arguments (argc word included).
func (b *Builder) EmitCall(label *Label, frameSize int) {
	b.EmitWide(OpCall, 0, frameSize)
	b.reference(label, len(b.bytes)-3, len(b.bytes))
}

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

// Disassemble renders code one instruction per line. Decoding stops at the
// first invalid instruction, which is reported in place.
func Disassemble(code []byte) string {
	var sb strings.Builder
	for pc := 0; pc < len(code); {
		in, err := DecodeInstruction(code, pc)
		if err != nil {
			fmt.Fprintf(&sb, "%04x  ??? %v\n", pc, err)
			break
		}
		fmt.Fprintf(&sb, "%04x  %s", pc, in.Op.Name())
		for i := 0; i < in.NArgs; i++ {
			fmt.Fprintf(&sb, " %d", in.Args[i])
		}
		switch in.Op {
		case OpBt, OpBnt, OpJmp, OpCall:
			fmt.Fprintf(&sb, " (-> %04x)", pc+in.Size+in.Args[0])
		}
		sb.WriteByte('\n')
		pc += in.Size
	}
	return sb.String()
}
