package vm

import "fmt"

// ---------------------------------------------------------------------------
// Script modules: compiled input produced by an external parser
// ---------------------------------------------------------------------------

// Property is one declared property of an object. When Reloc is set, Value
// is an offset into the declaring script and becomes an address on load.
type Property struct {
	Selector Selector
	Value    uint16
	Reloc    bool
}

// ObjectDef declares a class (ClassID set) or an instance (ClassID ==
// NoClass) at Offset in the script's address space. Offsets must lie past
// the end of the script's code.
type ObjectDef struct {
	Offset     uint16
	Name       string
	ClassID    ClassID
	SuperClass ClassID
	Properties []Property
	Methods    []MethodEntry
}

// ScriptModule is one compiled script.
type ScriptModule struct {
	Number      uint16
	Code        []byte
	Locals      []Reg
	LocalRelocs []int // indices of Locals holding script offsets
	Exports     []uint16
	Objects     []ObjectDef
}

// ScriptLoader supplies script modules on demand, typically from the game's
// resource files.
type ScriptLoader interface {
	LoadScript(number uint16) (*ScriptModule, error)
}

// ScriptLoaderFunc adapts a function to ScriptLoader.
type ScriptLoaderFunc func(number uint16) (*ScriptModule, error)

// LoadScript implements ScriptLoader.
func (f ScriptLoaderFunc) LoadScript(number uint16) (*ScriptModule, error) { return f(number) }

// LoadScript installs m into the address space. Loading an already loaded
// script number returns the existing segment.
func (vm *VM) LoadScript(m *ScriptModule) (SegmentID, error) {
	if id, ok := vm.Segments.ScriptSegment(m.Number); ok {
		return id, nil
	}
	for _, def := range m.Objects {
		if int(def.Offset) < len(m.Code) {
			return 0, fmt.Errorf("script %d: object %s at %#x overlaps code", m.Number, def.Name, def.Offset)
		}
	}

	addr, err := vm.Segments.Allocate(SegLocals, len(m.Locals))
	if err != nil {
		return 0, err
	}
	localsID := addr.Segment

	id, seg, err := vm.Segments.newSegment(SegScript)
	if err != nil {
		return 0, err
	}
	code := make([]byte, len(m.Code))
	copy(code, m.Code)
	exports := make([]uint16, len(m.Exports))
	copy(exports, m.Exports)
	seg.Script = &ScriptSegment{
		Number:    m.Number,
		Code:      code,
		Objects:   make(map[uint16]*Object, len(m.Objects)),
		Exports:   exports,
		LocalsSeg: localsID,
	}
	vm.Segments.scripts[m.Number] = id

	locals := vm.Segments.segments[localsID]
	copy(locals.Regs, m.Locals)
	for _, i := range m.LocalRelocs {
		if i >= 0 && i < len(locals.Regs) {
			locals.Regs[i] = MakeReg(id, locals.Regs[i].Offset)
		}
	}

	info := vm.Selectors.Cache().Info
	for _, def := range m.Objects {
		pos := MakeReg(id, def.Offset)
		obj := &Object{
			Pos:          pos,
			Name:         def.Name,
			Species:      def.SuperClass,
			SuperClass:   def.SuperClass,
			Script:       m.Number,
			VarSelectors: make([]Selector, len(def.Properties)),
			Vars:         make([]Reg, len(def.Properties)),
			Methods:      append([]MethodEntry(nil), def.Methods...),
			Behavior:     pos,
		}
		if def.ClassID != NoClass {
			obj.Species = def.ClassID
			obj.Info = InfoClass
		}
		for i, p := range def.Properties {
			obj.VarSelectors[i] = p.Selector
			if p.Reloc {
				obj.Vars[i] = MakeReg(id, p.Value)
			} else {
				obj.Vars[i] = Num(int(p.Value))
			}
			if p.Selector == info && info != NoSelector {
				obj.Vars[i] = Num(int(obj.Info))
			}
		}
		seg.Script.Objects[def.Offset] = obj
		if def.ClassID != NoClass {
			vm.Classes.register(def.ClassID, m.Number, pos, def.Name)
		}
	}

	vm.invalidateDispatchCaches()
	log.Infof("loaded script %d into segment %d (%d objects, %d bytes of code)", m.Number, id, len(m.Objects), len(m.Code))
	return id, nil
}

// LoadScriptNumber loads script number through the ScriptLoader.
func (vm *VM) LoadScriptNumber(number uint16) (SegmentID, error) {
	if id, ok := vm.Segments.ScriptSegment(number); ok {
		return id, nil
	}
	if vm.loader == nil {
		return 0, fmt.Errorf("script %d is not loaded and no loader is configured", number)
	}
	m, err := vm.loader.LoadScript(number)
	if err != nil {
		return 0, fmt.Errorf("loading script %d: %w", number, err)
	}
	return vm.LoadScript(m)
}

// UnloadScript frees a script and its locals. Addresses into either fail
// with UseAfterFree afterwards.
func (vm *VM) UnloadScript(number uint16) error {
	id, ok := vm.Segments.ScriptSegment(number)
	if !ok {
		return fmt.Errorf("script %d is not loaded", number)
	}
	s, err := vm.Segments.script(id)
	if err != nil {
		return err
	}
	locals := s.LocalsSeg
	if err := vm.Segments.Free(id); err != nil {
		return err
	}
	if err := vm.Segments.Free(locals); err != nil {
		return err
	}
	vm.Classes.forgetScript(number)
	vm.invalidateDispatchCaches()
	log.Infof("unloaded script %d", number)
	return nil
}

// ScriptExport returns the address of export n of script number.
func (vm *VM) ScriptExport(number uint16, n int) (Reg, error) {
	id, err := vm.LoadScriptNumber(number)
	if err != nil {
		return NullReg, err
	}
	s, err := vm.Segments.script(id)
	if err != nil {
		return NullReg, err
	}
	if n < 0 || n >= len(s.Exports) {
		return NullReg, addrError(KindInvalidAddress, MakeReg(id, 0), "script %d has no export %d", number, n)
	}
	return MakeReg(id, s.Exports[n]), nil
}
