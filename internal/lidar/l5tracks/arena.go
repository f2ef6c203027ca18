package l5tracks

// handle addresses a slot in an arena. The zero handle is never valid:
// generations start at 1, so stale handles to released slots are detected.
type handle struct {
	index uint32
	gen   uint32
}

func (h handle) valid() bool { return h.gen != 0 }

// NodeHandle references a GraphNode inside a NeighborhoodGraph.
type NodeHandle handle

// Valid reports whether the handle was ever assigned.
func (h NodeHandle) Valid() bool { return handle(h).valid() }

// CliqueHandle references a CompleteSubgraph inside a NeighborhoodGraph.
type CliqueHandle handle

// Valid reports whether the handle was ever assigned.
func (h CliqueHandle) Valid() bool { return handle(h).valid() }

// ComponentHandle references a DisconnectedSubgraph inside a NeighborhoodGraph.
type ComponentHandle handle

// Valid reports whether the handle was ever assigned.
func (h ComponentHandle) Valid() bool { return handle(h).valid() }

type slot[T any] struct {
	gen  uint32
	live bool
	val  T
}

// arena is a free-list backed store. Slots are heap allocated individually
// so pointers returned by get stay valid across later allocations.
type arena[T any] struct {
	slots []*slot[T]
	free  []uint32
	live  int
}

func (a *arena[T]) alloc(v T) handle {
	var idx uint32
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		a.slots = append(a.slots, &slot[T]{})
		idx = uint32(len(a.slots) - 1)
	}
	s := a.slots[idx]
	s.gen++
	if s.gen == 0 {
		s.gen = 1
	}
	s.live = true
	s.val = v
	a.live++
	return handle{index: idx, gen: s.gen}
}

func (a *arena[T]) get(h handle) *T {
	if !h.valid() || int(h.index) >= len(a.slots) {
		return nil
	}
	s := a.slots[h.index]
	if !s.live || s.gen != h.gen {
		return nil
	}
	return &s.val
}

func (a *arena[T]) release(h handle) bool {
	if a.get(h) == nil {
		return false
	}
	s := a.slots[h.index]
	var zero T
	s.val = zero
	s.live = false
	a.free = append(a.free, h.index)
	a.live--
	return true
}

func (a *arena[T]) len() int { return a.live }

// each visits live slots in index order. fn must not alloc or release.
func (a *arena[T]) each(fn func(handle, *T)) {
	for i, s := range a.slots {
		if s.live {
			fn(handle{index: uint32(i), gen: s.gen}, &s.val)
		}
	}
}

func (a *arena[T]) reset() {
	a.slots = nil
	a.free = nil
	a.live = 0
}

func containsNode(list []NodeHandle, h NodeHandle) bool {
	for _, x := range list {
		if x == h {
			return true
		}
	}
	return false
}

func withoutNode(list []NodeHandle, h NodeHandle) []NodeHandle {
	for i, x := range list {
		if x == h {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

func withoutClique(list []CliqueHandle, h CliqueHandle) []CliqueHandle {
	for i, x := range list {
		if x == h {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
