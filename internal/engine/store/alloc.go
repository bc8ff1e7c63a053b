package store

// Range is a half-open span inside a pool, in pool elements.
type Range struct {
	Offset int
	Count  int
}

// rangeAlloc hands out spans from a fixed capacity using a first-fit free
// list. The list stays sorted by offset and adjacent spans are coalesced on
// release, so fragmentation from churny streaming stays bounded.
type rangeAlloc struct {
	capacity int
	free     []Range
}

func newRangeAlloc(capacity int) rangeAlloc {
	return rangeAlloc{
		capacity: capacity,
		free:     []Range{{Offset: 0, Count: capacity}},
	}
}

func (a *rangeAlloc) take(n int) (int, bool) {
	if n == 0 {
		return 0, true
	}
	for i := range a.free {
		if a.free[i].Count < n {
			continue
		}
		off := a.free[i].Offset
		a.free[i].Offset += n
		a.free[i].Count -= n
		if a.free[i].Count == 0 {
			a.free = append(a.free[:i], a.free[i+1:]...)
		}
		return off, true
	}
	return 0, false
}

func (a *rangeAlloc) release(r Range) {
	if r.Count == 0 {
		return
	}
	i := 0
	for i < len(a.free) && a.free[i].Offset < r.Offset {
		i++
	}
	a.free = append(a.free, Range{})
	copy(a.free[i+1:], a.free[i:])
	a.free[i] = r

	// Coalesce with the right neighbor, then the left.
	if i+1 < len(a.free) && a.free[i].Offset+a.free[i].Count == a.free[i+1].Offset {
		a.free[i].Count += a.free[i+1].Count
		a.free = append(a.free[:i+1], a.free[i+2:]...)
	}
	if i > 0 && a.free[i-1].Offset+a.free[i-1].Count == a.free[i].Offset {
		a.free[i-1].Count += a.free[i].Count
		a.free = append(a.free[:i], a.free[i+1:]...)
	}
}

// grow extends the capacity, merging the new tail span into the free list.
func (a *rangeAlloc) grow(newCapacity int) {
	if newCapacity <= a.capacity {
		return
	}
	a.release(Range{Offset: a.capacity, Count: newCapacity - a.capacity})
	a.capacity = newCapacity
}

// largestFree returns the biggest contiguous span available.
func (a *rangeAlloc) largestFree() int {
	best := 0
	for _, r := range a.free {
		if r.Count > best {
			best = r.Count
		}
	}
	return best
}
