package vm

import "time"

// ---------------------------------------------------------------------------
// Reachability collector
// ---------------------------------------------------------------------------

// CollectStats summarizes one collector pass.
type CollectStats struct {
	Marked   int // table entries and segments found reachable
	Entries  int // table entries freed
	Segments int // whole segments freed
	Duration time.Duration
}

// marker traces Reg values through the heap.
type marker struct {
	sm       *SegManager
	entries  map[Reg]bool
	segments map[SegmentID]bool
	work     []Reg
}

func (m *marker) add(r Reg) {
	if r.IsPointer() {
		m.work = append(m.work, r)
	}
}

func (m *marker) addAll(rs []Reg) {
	for _, r := range rs {
		m.add(r)
	}
}

// drain marks everything reachable from the work list.
func (m *marker) drain() {
	for len(m.work) > 0 {
		r := m.work[len(m.work)-1]
		m.work = m.work[:len(m.work)-1]

		if int(r.Segment) >= len(m.sm.segments) {
			continue
		}
		seg := m.sm.segments[r.Segment]
		if seg == nil || !seg.Live {
			continue
		}
		switch seg.Kind {
		case SegClones, SegLists, SegNodes:
			if int(r.Offset) >= len(seg.Table.Entries) {
				continue
			}
			key := MakeReg(r.Segment, r.Offset)
			if m.entries[key] {
				continue
			}
			e := &seg.Table.Entries[r.Offset]
			if !e.Live {
				continue
			}
			m.entries[key] = true
			switch {
			case e.Object != nil:
				m.addAll(e.Object.Vars)
			case e.List != nil:
				m.add(e.List.First)
				m.add(e.List.Last)
			case e.Node != nil:
				m.add(e.Node.Pred)
				m.add(e.Node.Succ)
				m.add(e.Node.Key)
				m.add(e.Node.Value)
			}
		case SegArray, SegString, SegDynMem:
			if m.segments[r.Segment] {
				continue
			}
			m.segments[r.Segment] = true
			m.addAll(seg.Regs)
		}
	}
}

// Collect frees every clone, list, node, array, string and scratch block no
// root can reach, then acknowledges all pending disposals. Roots are the
// live part of the value stack, the accumulators, every frame, and all
// script locals and script objects. It must run between ticks.
func (vm *VM) Collect() CollectStats {
	if vm.state == StateRunning {
		log.Warningf("collector skipped: executor is running")
		return CollectStats{}
	}
	start := time.Now()
	m := &marker{
		sm:       vm.Segments,
		entries:  make(map[Reg]bool),
		segments: make(map[SegmentID]bool),
	}

	if st, err := vm.stack(); err == nil {
		m.addAll(st[:vm.sp])
	}
	m.add(vm.acc)
	m.add(vm.prev)
	for _, f := range vm.frames {
		m.add(f.Self)
		if f.Pending != nil {
			m.add(f.Pending.Object)
		}
	}
	for _, id := range vm.Segments.scripts {
		s, err := vm.Segments.script(id)
		if err != nil {
			continue
		}
		if locals, err := vm.Segments.Segment(s.LocalsSeg); err == nil {
			m.addAll(locals.Regs)
		}
		for _, obj := range s.Objects {
			m.addAll(obj.Vars)
		}
	}
	m.drain()

	stats := CollectStats{Marked: len(m.entries) + len(m.segments)}
	for i, seg := range vm.Segments.segments {
		if seg == nil || !seg.Live {
			continue
		}
		id := SegmentID(i)
		switch seg.Kind {
		case SegClones, SegLists, SegNodes:
			for off := range seg.Table.Entries {
				addr := MakeReg(id, uint16(off))
				if seg.Table.Entries[off].Live && !m.entries[addr] {
					if err := vm.Segments.FreeEntry(addr); err == nil {
						stats.Entries++
					}
				}
			}
		case SegArray, SegString, SegDynMem:
			if !m.segments[id] {
				if err := vm.Segments.Free(id); err == nil {
					stats.Segments++
				}
			}
		}
	}
	vm.Segments.AcknowledgeDisposal()
	stats.Duration = time.Since(start)

	log.Debugf("collected %d entries and %d segments (%d live) in %s",
		stats.Entries, stats.Segments, stats.Marked, stats.Duration)
	return stats
}
