package rxd

const nilRef int32 = -1

type listNode[T any] struct {
	v    T
	prev int32
	next int32
	used bool
}

// arenaList is an ordered list over an index-stable slab. References handed out stay valid until removed.
type arenaList[T any] struct {
	nodes []listNode[T]
	head  int32
	tail  int32
	free  int32
	n     int
}

func newArenaList[T any](capHint int) *arenaList[T] {
	return &arenaList[T]{
		nodes: make([]listNode[T], 0, capHint),
		head:  nilRef,
		tail:  nilRef,
		free:  nilRef,
	}
}

func (l *arenaList[T]) Len() int {
	return l.n
}

func (l *arenaList[T]) alloc(v T) int32 {
	var r int32
	if l.free != nilRef {
		r = l.free
		l.free = l.nodes[r].next
	} else {
		l.nodes = append(l.nodes, listNode[T]{})
		r = int32(len(l.nodes) - 1)
	}
	l.nodes[r] = listNode[T]{v: v, prev: nilRef, next: nilRef, used: true}
	l.n++
	return r
}

// PushBack appends v and returns its reference
func (l *arenaList[T]) PushBack(v T) int32 {
	r := l.alloc(v)
	l.nodes[r].prev = l.tail
	if l.tail != nilRef {
		l.nodes[l.tail].next = r
	} else {
		l.head = r
	}
	l.tail = r
	return r
}

// Remove unlinks r and returns its value
func (l *arenaList[T]) Remove(r int32) T {
	l.mustUse(r)
	nd := &l.nodes[r]
	if nd.prev != nilRef {
		l.nodes[nd.prev].next = nd.next
	} else {
		l.head = nd.next
	}
	if nd.next != nilRef {
		l.nodes[nd.next].prev = nd.prev
	} else {
		l.tail = nd.prev
	}

	v := nd.v
	var zero T
	*nd = listNode[T]{v: zero, prev: nilRef, next: l.free}
	l.free = r
	l.n--
	return v
}

// Replace swaps the value stored at r, keeping its position
func (l *arenaList[T]) Replace(r int32, v T) T {
	l.mustUse(r)
	old := l.nodes[r].v
	l.nodes[r].v = v
	return old
}

func (l *arenaList[T]) Get(r int32) T {
	l.mustUse(r)
	return l.nodes[r].v
}

func (l *arenaList[T]) Front() int32 {
	return l.head
}

func (l *arenaList[T]) Next(r int32) int32 {
	return l.nodes[r].next
}

// Find returns the first reference in list order whose value satisfies f
func (l *arenaList[T]) Find(f func(T) bool) (int32, bool) {
	for r := l.head; r != nilRef; r = l.nodes[r].next {
		if f(l.nodes[r].v) {
			return r, true
		}
	}
	return nilRef, false
}

// Each visits values front to back until f returns false
func (l *arenaList[T]) Each(f func(r int32, v T) bool) {
	for r := l.head; r != nilRef; {
		next := l.nodes[r].next
		if !f(r, l.nodes[r].v) {
			return
		}
		r = next
	}
}

func (l *arenaList[T]) mustUse(r int32) {
	if r < 0 || int(r) >= len(l.nodes) || !l.nodes[r].used {
		panic("arenaList: stale reference")
	}
}
