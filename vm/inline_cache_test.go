package vm

import (
	"testing"
)

func behavior(n int) Reg {
	return MakeReg(SegmentID(n+1), ObjectBase)
}

func methodAt(offset uint16) Dispatch {
	return Dispatch{Kind: DispatchMethod, Method: MethodRef{Script: 1, Offset: offset}}
}

func TestInlineCacheEmpty(t *testing.T) {
	ic := &InlineCache{State: CacheEmpty}

	_, ok := ic.Lookup(behavior(0), 3)
	if ok {
		t.Error("Expected miss from empty cache")
	}
	if ic.Misses != 1 {
		t.Errorf("Expected 1 miss, got %d", ic.Misses)
	}
}

func TestInlineCacheMonomorphic(t *testing.T) {
	ic := &InlineCache{State: CacheEmpty}
	d := methodAt(10)

	// First update - becomes monomorphic
	ic.Update(behavior(0), 3, d)

	if ic.State != CacheMonomorphic {
		t.Errorf("Expected monomorphic state, got %v", ic.State)
	}
	if ic.Count != 1 {
		t.Errorf("Expected count 1, got %d", ic.Count)
	}

	got, ok := ic.Lookup(behavior(0), 3)
	if !ok || got != d {
		t.Error("Expected cache hit")
	}
	if ic.Hits != 1 {
		t.Errorf("Expected 1 hit, got %d", ic.Hits)
	}

	// Different behavior or selector should miss
	if _, ok := ic.Lookup(behavior(1), 3); ok {
		t.Error("Expected cache miss for different behavior")
	}
	if _, ok := ic.Lookup(behavior(0), 4); ok {
		t.Error("Expected cache miss for different selector")
	}
	if ic.Misses != 2 {
		t.Errorf("Expected 2 misses, got %d", ic.Misses)
	}
}

func TestInlineCacheIgnoresFailedLookups(t *testing.T) {
	ic := &InlineCache{State: CacheEmpty}
	ic.Update(behavior(0), 3, Dispatch{Kind: DispatchNone})
	if ic.State != CacheEmpty || ic.Count != 0 {
		t.Errorf("failed lookup was cached: state %v count %d", ic.State, ic.Count)
	}
}

func TestInlineCacheUpgradeToPolymorphic(t *testing.T) {
	ic := &InlineCache{State: CacheEmpty}
	d1 := methodAt(10)
	d2 := Dispatch{Kind: DispatchProperty, Slot: 2}

	ic.Update(behavior(0), 3, d1)
	if ic.State != CacheMonomorphic {
		t.Errorf("Expected monomorphic, got %v", ic.State)
	}

	ic.Update(behavior(1), 3, d2)
	if ic.State != CachePolymorphic {
		t.Errorf("Expected polymorphic, got %v", ic.State)
	}
	if ic.Count != 2 {
		t.Errorf("Expected count 2, got %d", ic.Count)
	}

	if got, ok := ic.Lookup(behavior(0), 3); !ok || got != d1 {
		t.Error("Expected hit for first behavior")
	}
	if got, ok := ic.Lookup(behavior(1), 3); !ok || got != d2 {
		t.Error("Expected hit for second behavior")
	}
}

func TestInlineCachePolymorphicGrowth(t *testing.T) {
	ic := &InlineCache{State: CacheEmpty}

	for i := 0; i < MaxPICEntries; i++ {
		ic.Update(behavior(i), 3, methodAt(uint16(i)))
	}

	if ic.State != CachePolymorphic {
		t.Errorf("Expected polymorphic, got %v", ic.State)
	}
	if ic.Count != MaxPICEntries {
		t.Errorf("Expected count %d, got %d", MaxPICEntries, ic.Count)
	}

	for i := 0; i < MaxPICEntries; i++ {
		if got, ok := ic.Lookup(behavior(i), 3); !ok || got != methodAt(uint16(i)) {
			t.Errorf("Expected hit for behavior %d", i)
		}
	}
}

func TestInlineCacheUpgradeToMegamorphic(t *testing.T) {
	ic := &InlineCache{State: CacheEmpty}

	for i := 0; i < MaxPICEntries; i++ {
		ic.Update(behavior(i), 3, methodAt(uint16(i)))
	}
	ic.Update(behavior(MaxPICEntries), 3, methodAt(99))

	if ic.State != CacheMegamorphic {
		t.Errorf("Expected megamorphic, got %v", ic.State)
	}

	// Megamorphic always misses
	if _, ok := ic.Lookup(behavior(0), 3); ok {
		t.Error("Expected miss from megamorphic cache")
	}
}

func TestInlineCacheHitRate(t *testing.T) {
	ic := &InlineCache{State: CacheEmpty}
	ic.Update(behavior(0), 3, methodAt(10))

	for i := 0; i < 10; i++ {
		ic.Lookup(behavior(0), 3)
	}
	ic.Lookup(behavior(1), 3)
	ic.Lookup(behavior(1), 3)

	// 10 hits / 12 total = 83.33%
	hitRate := ic.HitRate()
	if hitRate < 83.0 || hitRate > 84.0 {
		t.Errorf("Expected ~83%% hit rate, got %.2f%%", hitRate)
	}
}

func TestInlineCacheTable(t *testing.T) {
	table := NewInlineCacheTable()
	site := CallSite{Script: 2, PC: 100}

	ic1 := table.GetOrCreate(site)
	if ic1 == nil {
		t.Fatal("Expected cache to be created")
	}
	if ic2 := table.GetOrCreate(site); ic1 != ic2 {
		t.Error("Expected same cache for same site")
	}
	if ic3 := table.GetOrCreate(CallSite{Script: 2, PC: 100, Message: 1}); ic1 == ic3 {
		t.Error("Expected different cache for a different message of the same send")
	}
	if ic4 := table.GetOrCreate(CallSite{Script: 3, PC: 100}); ic1 == ic4 {
		t.Error("Expected different cache for a different script")
	}

	table.Invalidate()
	if table.Len() != 0 || table.Get(site) != nil {
		t.Error("Invalidate should drop every cache")
	}
}

func TestInlineCacheTableStats(t *testing.T) {
	table := NewInlineCacheTable()
	d := methodAt(10)

	// Monomorphic
	ic1 := table.GetOrCreate(CallSite{PC: 100})
	ic1.Update(behavior(0), 3, d)
	ic1.Lookup(behavior(0), 3) // 1 hit

	// Empty
	table.GetOrCreate(CallSite{PC: 200})

	// Polymorphic
	ic3 := table.GetOrCreate(CallSite{PC: 300})
	ic3.Update(behavior(1), 3, d)
	ic3.Update(behavior(2), 3, d)
	ic3.Lookup(behavior(3), 3) // 1 miss

	mono, poly, mega, empty, hits, misses := table.Stats()

	if mono != 1 {
		t.Errorf("Expected 1 mono, got %d", mono)
	}
	if poly != 1 {
		t.Errorf("Expected 1 poly, got %d", poly)
	}
	if mega != 0 {
		t.Errorf("Expected 0 mega, got %d", mega)
	}
	if empty != 1 {
		t.Errorf("Expected 1 empty, got %d", empty)
	}
	if hits != 1 {
		t.Errorf("Expected 1 hit, got %d", hits)
	}
	if misses != 1 {
		t.Errorf("Expected 1 miss, got %d", misses)
	}
}

// BenchmarkInlineCacheLookup measures the overhead of inline cache lookup.
func BenchmarkInlineCacheLookup(b *testing.B) {
	d := methodAt(10)

	b.Run("Monomorphic_Hit", func(b *testing.B) {
		ic := &InlineCache{State: CacheEmpty}
		ic.Update(behavior(0), 3, d)
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			ic.Lookup(behavior(0), 3)
		}
	})

	b.Run("Polymorphic_Hit_Last", func(b *testing.B) {
		ic := &InlineCache{State: CacheEmpty}
		for i := 0; i < 4; i++ {
			ic.Update(behavior(i), 3, d)
		}
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			ic.Lookup(behavior(3), 3)
		}
	})

	b.Run("Megamorphic_Miss", func(b *testing.B) {
		ic := &InlineCache{State: CacheMegamorphic}
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			ic.Lookup(behavior(0), 3)
		}
	})
}
