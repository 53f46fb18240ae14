package vm

// ---------------------------------------------------------------------------
// Object: runtime form of script classes and instances
// ---------------------------------------------------------------------------

// ClassID identifies a class in the vocabulary's class table.
type ClassID int

// NoClass is the superclass of root classes.
const NoClass ClassID = -1

// Info flags, mirrored into the -info- property when the vocabulary has one.
const (
	InfoClone uint16 = 0x0001
	InfoClass uint16 = 0x8000
)

// MethodEntry binds a selector to code in the owning script.
type MethodEntry struct {
	Selector Selector
	Offset   uint16
}

// Object is a class, an instance declared in a script, or a clone.
//
// VarSelectors and Methods are fixed when the object is created. Only the
// values in Vars change at runtime.
type Object struct {
	Pos        Reg
	Name       string
	Species    ClassID
	SuperClass ClassID
	Info       uint16
	Script     uint16 // script holding the method code

	VarSelectors []Selector
	Vars         []Reg
	Methods      []MethodEntry

	// Behavior is the object whose method table this one shares; the
	// object itself unless it is a clone. Dispatch caches key on it.
	Behavior Reg
}

// IsClass reports whether the object is a class definition.
func (o *Object) IsClass() bool { return o.Info&InfoClass != 0 }

// IsClone reports whether the object was created at runtime.
func (o *Object) IsClone() bool { return o.Info&InfoClone != 0 }

// propertyIndex returns the slot holding sel, or -1.
func (o *Object) propertyIndex(sel Selector) int {
	for i, s := range o.VarSelectors {
		if s == sel {
			return i
		}
	}
	return -1
}

// methodOffset returns the code offset of sel in this object's own method
// table.
func (o *Object) methodOffset(sel Selector) (uint16, bool) {
	for _, m := range o.Methods {
		if m.Selector == sel {
			return m.Offset, true
		}
	}
	return 0, false
}

// cloneAt copies o into a new clone living at pos. The clone shares o's
// layout, method table and superclass, so lookups on it behave exactly as
// on o.
func (o *Object) cloneAt(pos Reg, info Selector) *Object {
	c := &Object{
		Pos:          pos,
		Name:         o.Name,
		Species:      o.Species,
		SuperClass:   o.SuperClass,
		Info:         InfoClone,
		Script:       o.Script,
		VarSelectors: o.VarSelectors,
		Vars:         make([]Reg, len(o.Vars)),
		Methods:      o.Methods,
		Behavior:     o.Behavior,
	}
	copy(c.Vars, o.Vars)
	if info != NoSelector {
		if idx := c.propertyIndex(info); idx >= 0 {
			c.Vars[idx] = Num(int(InfoClone))
		}
	}
	return c
}

// MethodRef locates the code a method selector resolved to.
type MethodRef struct {
	Owner  Reg     // object whose method table defined the selector
	Class  ClassID // class of the owner, NoClass for plain instances
	Script uint16
	Offset uint16
}
