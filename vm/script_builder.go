package vm

import "fmt"

// ---------------------------------------------------------------------------
// ScriptBuilder: assemble script modules by name
// ---------------------------------------------------------------------------

// ObjectBase is the offset of the first object a ScriptBuilder places.
// Code must stay below it.
const ObjectBase = 0x8000

// ScriptBuilder assembles a ScriptModule, resolving selector names against
// a selector table. Name errors are collected and reported by Build.
type ScriptBuilder struct {
	sel     *SelectorTable
	number  uint16
	code    *Builder
	locals  []Reg
	relocs  []int
	exports []uint16
	objects []*ObjectBuilder
	errs    []error
}

// ObjectBuilder declares one class or instance of a script.
type ObjectBuilder struct {
	script *ScriptBuilder
	def    ObjectDef
}

// NewScriptBuilder starts script number.
func NewScriptBuilder(st *SelectorTable, number uint16) *ScriptBuilder {
	return &ScriptBuilder{sel: st, number: number, code: NewBuilder()}
}

// Code returns the bytecode builder.
func (b *ScriptBuilder) Code() *Builder {
	return b.code
}

// Here returns the offset of the next instruction.
func (b *ScriptBuilder) Here() int {
	return b.code.Len()
}

// Sel returns the id of a selector, recording an error if it is unknown.
func (b *ScriptBuilder) Sel(name string) int {
	id, err := b.sel.Lookup(name)
	if err != nil {
		b.errs = append(b.errs, fmt.Errorf("script %d: %w", b.number, err))
		return 0
	}
	return int(id)
}

// Locals sets the number of local variables.
func (b *ScriptBuilder) Locals(n int) *ScriptBuilder {
	if n > len(b.locals) {
		b.locals = append(b.locals, make([]Reg, n-len(b.locals))...)
	}
	return b
}

// SetLocal initializes local i with a number.
func (b *ScriptBuilder) SetLocal(i int, v int) *ScriptBuilder {
	b.Locals(i + 1)
	b.locals[i] = Num(v)
	return b
}

// SetLocalAddr initializes local i with an address in this script.
func (b *ScriptBuilder) SetLocalAddr(i int, offset uint16) *ScriptBuilder {
	b.Locals(i + 1)
	b.locals[i] = Num(int(offset))
	b.relocs = append(b.relocs, i)
	return b
}

// Export adds an export pointing at offset and returns its number.
func (b *ScriptBuilder) Export(offset int) int {
	b.exports = append(b.exports, uint16(offset))
	return len(b.exports) - 1
}

// Class declares class id with the given superclass (NoClass for a root).
func (b *ScriptBuilder) Class(name string, id, super ClassID) *ObjectBuilder {
	return b.object(name, id, super)
}

// Instance declares a static instance of class super.
func (b *ScriptBuilder) Instance(name string, super ClassID) *ObjectBuilder {
	return b.object(name, NoClass, super)
}

func (b *ScriptBuilder) object(name string, id, super ClassID) *ObjectBuilder {
	o := &ObjectBuilder{
		script: b,
		def: ObjectDef{
			Offset:     uint16(ObjectBase + 2*len(b.objects)),
			Name:       name,
			ClassID:    id,
			SuperClass: super,
		},
	}
	b.objects = append(b.objects, o)
	return o
}

// Offset returns the object's offset within the script.
func (o *ObjectBuilder) Offset() uint16 {
	return o.def.Offset
}

// Prop appends a numeric property.
func (o *ObjectBuilder) Prop(name string, value int) *ObjectBuilder {
	o.def.Properties = append(o.def.Properties, Property{
		Selector: Selector(o.script.Sel(name)),
		Value:    uint16(value),
	})
	return o
}

// PropAddr appends a property holding an address in this script.
func (o *ObjectBuilder) PropAddr(name string, offset uint16) *ObjectBuilder {
	o.def.Properties = append(o.def.Properties, Property{
		Selector: Selector(o.script.Sel(name)),
		Value:    offset,
		Reloc:    true,
	})
	return o
}

// Method binds a method selector to code at offset.
func (o *ObjectBuilder) Method(name string, offset int) *ObjectBuilder {
	o.def.Methods = append(o.def.Methods, MethodEntry{
		Selector: Selector(o.script.Sel(name)),
		Offset:   uint16(offset),
	})
	return o
}

// Build returns the assembled module.
func (b *ScriptBuilder) Build() (*ScriptModule, error) {
	if len(b.errs) > 0 {
		return nil, b.errs[0]
	}
	if b.code.Len() >= ObjectBase {
		return nil, fmt.Errorf("script %d: %d bytes of code overlap the object area", b.number, b.code.Len())
	}
	m := &ScriptModule{
		Number:      b.number,
		Code:        append([]byte(nil), b.code.Bytes()...),
		Locals:      append([]Reg(nil), b.locals...),
		LocalRelocs: append([]int(nil), b.relocs...),
		Exports:     append([]uint16(nil), b.exports...),
	}
	for _, o := range b.objects {
		def := o.def
		def.Properties = append([]Property(nil), def.Properties...)
		def.Methods = append([]MethodEntry(nil), def.Methods...)
		m.Objects = append(m.Objects, def)
	}
	return m, nil
}
