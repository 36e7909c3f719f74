// Package list provides an unsynchronized, intrusive doubly linked list. Nodes
// carry their own links and an optional destructor, so the list never
// allocates or frees anything on its own. Callers that share a List between
// goroutines must serialize access themselves (see package queue).
package list

// Node is a single list entry. A Node belongs to at most one List at a time.
type Node[T any] struct {
	prev, next *Node[T]
	list       *List[T]

	// Value is the payload carried by the node.
	Value T

	// Destroy, when non-nil, is invoked by List.Teardown after the node has
	// been unlinked.
	Destroy func(T)
}

// NewNode returns an unlinked node holding v with an optional destructor.
//
// Parameters:
//   - v: The payload
//   - destroy: Destructor invoked on teardown; may be nil
//
// Returns:
//   - A node ready to be inserted into a List
func NewNode[T any](v T, destroy func(T)) *Node[T] {
	return &Node[T]{Value: v, Destroy: destroy}
}

// Next returns the following node or nil.
func (n *Node[T]) Next() *Node[T] {
	return n.next
}

// Prev returns the preceding node or nil.
func (n *Node[T]) Prev() *Node[T] {
	return n.prev
}

// Linked reports whether the node currently belongs to a list.
func (n *Node[T]) Linked() bool {
	return n.list != nil
}

// List is a doubly linked list of *Node[T]. The zero value is an empty list
// ready to use.
type List[T any] struct {
	head, tail *Node[T]
	length     int
}

// Init resets l to the empty state. Nodes still linked are abandoned without
// running their destructors; use Teardown for that.
func (l *List[T]) Init() {
	l.head = nil
	l.tail = nil
	l.length = 0
}

// Len returns the number of linked nodes.
func (l *List[T]) Len() int {
	return l.length
}

// Front returns the first node or nil.
func (l *List[T]) Front() *Node[T] {
	return l.head
}

// Back returns the last node or nil.
func (l *List[T]) Back() *Node[T] {
	return l.tail
}

// InsertAfter links n right after mark. A nil mark inserts n at the head.
//
// Parameters:
//   - mark: A node of l, or nil
//   - n: An unlinked node
func (l *List[T]) InsertAfter(mark, n *Node[T]) {
	l.checkInsert(mark, n)

	n.list = l
	n.prev = mark
	if mark == nil {
		n.next = l.head
		l.head = n
	} else {
		n.next = mark.next
		mark.next = n
	}

	if n.next != nil {
		n.next.prev = n
	} else {
		l.tail = n
	}

	l.length++
}

// InsertBefore links n right before mark. A nil mark appends n at the tail.
//
// Parameters:
//   - mark: A node of l, or nil
//   - n: An unlinked node
func (l *List[T]) InsertBefore(mark, n *Node[T]) {
	if mark == nil {
		l.InsertAfter(l.tail, n)
		return
	}

	l.InsertAfter(mark.prev, n)
}

// PushBack appends n at the tail.
func (l *List[T]) PushBack(n *Node[T]) {
	l.InsertAfter(l.tail, n)
}

// PushFront inserts n at the head.
func (l *List[T]) PushFront(n *Node[T]) {
	l.InsertAfter(nil, n)
}

// Delete unlinks n without destroying it. Deleting a node that is not part of
// l is a no-op.
//
// Parameters:
//   - n: The node to unlink
func (l *List[T]) Delete(n *Node[T]) {
	if n == nil || n.list != l {
		return
	}

	if n.prev != nil {
		n.prev.next = n.next
	} else {
		l.head = n.next
	}

	if n.next != nil {
		n.next.prev = n.prev
	} else {
		l.tail = n.prev
	}

	n.prev = nil
	n.next = nil
	n.list = nil
	l.length--
}

// Find scans from the head and returns the first node for which match returns
// true, or nil. Every call restarts from the head.
//
// Parameters:
//   - match: Predicate evaluated against each node in order
//
// Returns:
//   - The first matching node, or nil if none matches
func (l *List[T]) Find(match func(*Node[T]) bool) *Node[T] {
	for n := l.head; n != nil; n = n.next {
		if match(n) {
			return n
		}
	}

	return nil
}

// Teardown unlinks every node from head to tail and invokes its destructor
// when one is set. The list is empty afterwards, so calling Teardown again
// destroys nothing.
func (l *List[T]) Teardown() {
	for n := l.head; n != nil; n = l.head {
		l.Delete(n)
		if n.Destroy != nil {
			n.Destroy(n.Value)
		}
	}
}

func (l *List[T]) checkInsert(mark, n *Node[T]) {
	if n == nil {
		panic("list: insert of nil node")
	}

	if n.list != nil {
		panic("list: node already linked")
	}

	if mark != nil && mark.list != l {
		panic("list: mark does not belong to this list")
	}
}
