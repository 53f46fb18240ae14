package vm

// ---------------------------------------------------------------------------
// Lists
// ---------------------------------------------------------------------------

// NewList allocates an empty list.
func (vm *VM) NewList() (Reg, error) {
	addr, err := vm.Segments.Allocate(SegLists, 0)
	if err != nil {
		return NullReg, err
	}
	vm.Segments.setEntryPayload(addr, nil, &List{}, nil)
	return addr, nil
}

// NewNode allocates a detached node.
func (vm *VM) NewNode(value, key Reg) (Reg, error) {
	addr, err := vm.Segments.Allocate(SegNodes, 0)
	if err != nil {
		return NullReg, err
	}
	vm.Segments.setEntryPayload(addr, nil, nil, &Node{Value: value, Key: key})
	return addr, nil
}

// AddToEnd appends node to list.
func (vm *VM) AddToEnd(listAddr, nodeAddr Reg) error {
	l, n, err := vm.listAndNode(listAddr, nodeAddr)
	if err != nil {
		return err
	}
	n.Succ = NullReg
	n.Pred = l.Last
	if l.Last.IsNull() {
		l.First = nodeAddr
	} else {
		last, err := vm.Segments.Node(l.Last)
		if err != nil {
			return err
		}
		last.Succ = nodeAddr
	}
	l.Last = nodeAddr
	return nil
}

// AddToFront prepends node to list.
func (vm *VM) AddToFront(listAddr, nodeAddr Reg) error {
	l, n, err := vm.listAndNode(listAddr, nodeAddr)
	if err != nil {
		return err
	}
	n.Pred = NullReg
	n.Succ = l.First
	if l.First.IsNull() {
		l.Last = nodeAddr
	} else {
		first, err := vm.Segments.Node(l.First)
		if err != nil {
			return err
		}
		first.Pred = nodeAddr
	}
	l.First = nodeAddr
	return nil
}

func (vm *VM) listAndNode(listAddr, nodeAddr Reg) (*List, *Node, error) {
	l, err := vm.Segments.List(listAddr)
	if err != nil {
		return nil, nil, err
	}
	n, err := vm.Segments.Node(nodeAddr)
	if err != nil {
		return nil, nil, err
	}
	return l, n, nil
}

// ListValues returns the values of list's nodes in order.
func (vm *VM) ListValues(listAddr Reg) ([]Reg, error) {
	l, err := vm.Segments.List(listAddr)
	if err != nil {
		return nil, err
	}
	var out []Reg
	for cur := l.First; !cur.IsNull(); {
		n, err := vm.Segments.Node(cur)
		if err != nil {
			return nil, err
		}
		out = append(out, n.Value)
		cur = n.Succ
		if len(out) > maxTableEntries {
			return nil, addrError(KindInvalidAddress, listAddr, "list is cyclic")
		}
	}
	return out, nil
}

// findKey returns the first node of list whose key is key.
func (vm *VM) findKey(listAddr, key Reg) (Reg, *Node, error) {
	l, err := vm.Segments.List(listAddr)
	if err != nil {
		return NullReg, nil, err
	}
	for cur, steps := l.First, 0; !cur.IsNull() && steps <= maxTableEntries; steps++ {
		n, err := vm.Segments.Node(cur)
		if err != nil {
			return NullReg, nil, err
		}
		if n.Key == key {
			return cur, n, nil
		}
		cur = n.Succ
	}
	return NullReg, nil, nil
}

// unlink removes node from list without freeing it.
func (vm *VM) unlink(l *List, n *Node) error {
	if n.Pred.IsNull() {
		l.First = n.Succ
	} else {
		pred, err := vm.Segments.Node(n.Pred)
		if err != nil {
			return err
		}
		pred.Succ = n.Succ
	}
	if n.Succ.IsNull() {
		l.Last = n.Pred
	} else {
		succ, err := vm.Segments.Node(n.Succ)
		if err != nil {
			return err
		}
		succ.Pred = n.Pred
	}
	n.Pred, n.Succ = NullReg, NullReg
	return nil
}

// DisposeList frees list and every node in it.
func (vm *VM) DisposeList(listAddr Reg) error {
	l, err := vm.Segments.List(listAddr)
	if err != nil {
		return err
	}
	for cur, steps := l.First, 0; !cur.IsNull() && steps <= maxTableEntries; steps++ {
		n, err := vm.Segments.Node(cur)
		if err != nil {
			return err
		}
		next := n.Succ
		if err := vm.Segments.FreeEntry(cur); err != nil {
			return err
		}
		cur = next
	}
	return vm.Segments.FreeEntry(listAddr)
}

// ---------------------------------------------------------------------------
// List kernels
// ---------------------------------------------------------------------------

func kNewList(vm *VM, args []Reg) (Reg, error) {
	return vm.NewList()
}

func kDisposeList(vm *VM, args []Reg) (Reg, error) {
	if arg(args, 0).IsNull() {
		return NullReg, nil
	}
	return NullReg, vm.DisposeList(args[0])
}

// kNewNode takes (value [, key]); the key defaults to the value.
func kNewNode(vm *VM, args []Reg) (Reg, error) {
	value := arg(args, 0)
	key := value
	if len(args) > 1 {
		key = args[1]
	}
	return vm.NewNode(value, key)
}

// kAddToEnd takes (list, node [, key]).
func kAddToEnd(vm *VM, args []Reg) (Reg, error) {
	if err := setNodeKey(vm, args); err != nil {
		return NullReg, err
	}
	return NullReg, vm.AddToEnd(arg(args, 0), arg(args, 1))
}

// kAddToFront takes (list, node [, key]).
func kAddToFront(vm *VM, args []Reg) (Reg, error) {
	if err := setNodeKey(vm, args); err != nil {
		return NullReg, err
	}
	return NullReg, vm.AddToFront(arg(args, 0), arg(args, 1))
}

func setNodeKey(vm *VM, args []Reg) error {
	if len(args) < 3 {
		return nil
	}
	n, err := vm.Segments.Node(args[1])
	if err != nil {
		return err
	}
	n.Key = args[2]
	return nil
}

func kFirstNode(vm *VM, args []Reg) (Reg, error) {
	if arg(args, 0).IsNull() {
		return NullReg, nil
	}
	l, err := vm.Segments.List(args[0])
	if err != nil {
		return NullReg, err
	}
	return l.First, nil
}

func kLastNode(vm *VM, args []Reg) (Reg, error) {
	if arg(args, 0).IsNull() {
		return NullReg, nil
	}
	l, err := vm.Segments.List(args[0])
	if err != nil {
		return NullReg, err
	}
	return l.Last, nil
}

func kNextNode(vm *VM, args []Reg) (Reg, error) {
	if arg(args, 0).IsNull() {
		return NullReg, nil
	}
	n, err := vm.Segments.Node(args[0])
	if err != nil {
		return NullReg, err
	}
	return n.Succ, nil
}

func kPrevNode(vm *VM, args []Reg) (Reg, error) {
	if arg(args, 0).IsNull() {
		return NullReg, nil
	}
	n, err := vm.Segments.Node(args[0])
	if err != nil {
		return NullReg, err
	}
	return n.Pred, nil
}

func kNodeValue(vm *VM, args []Reg) (Reg, error) {
	if arg(args, 0).IsNull() {
		return NullReg, nil
	}
	n, err := vm.Segments.Node(args[0])
	if err != nil {
		return NullReg, err
	}
	return n.Value, nil
}

func kEmptyList(vm *VM, args []Reg) (Reg, error) {
	if arg(args, 0).IsNull() {
		return Bool(true), nil
	}
	l, err := vm.Segments.List(args[0])
	if err != nil {
		return NullReg, err
	}
	return Bool(l.First.IsNull()), nil
}

// kFindKey takes (list, key) and returns the matching node or 0.
func kFindKey(vm *VM, args []Reg) (Reg, error) {
	addr, _, err := vm.findKey(arg(args, 0), arg(args, 1))
	return addr, err
}

// kDeleteKey takes (list, key), unlinks and frees the matching node, and
// returns 1 if one was found.
func kDeleteKey(vm *VM, args []Reg) (Reg, error) {
	addr, n, err := vm.findKey(arg(args, 0), arg(args, 1))
	if err != nil || n == nil {
		return Bool(false), err
	}
	l, err := vm.Segments.List(args[0])
	if err != nil {
		return NullReg, err
	}
	if err := vm.unlink(l, n); err != nil {
		return NullReg, err
	}
	return Bool(true), vm.Segments.FreeEntry(addr)
}
