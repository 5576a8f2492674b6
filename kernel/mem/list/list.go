// Package list implements the zero-allocation intrusive lists used by the
// heap allocator's free lists and by other bookkeeping structures that
// cannot call into an allocator to manage their own nodes.
//
// A node type embeds Link as its first field. Because Go guarantees a
// struct's first field starts at offset zero, a pointer to the embedded
// Link and a pointer to the owning node are the same address, so callers
// can walk the list with only *Link in hand and recover the owning node
// with a single unsafe.Pointer cast at the call site.
package list

// Link is the pair of pointers embedded at the head of every node managed
// by a List. The list never allocates a node; it only ever rewires Links
// that already live inside caller-owned memory.
type Link struct {
	prev, next *Link
}

// Prev returns the link preceding this one, or nil if this is the head.
func (l *Link) Prev() *Link { return l.prev }

// Next returns the link following this one, or nil if this is the tail.
func (l *Link) Next() *Link { return l.next }

// List is a doubly-linked list of embedded Links. The zero value is an
// empty list ready to use.
type List struct {
	head, tail *Link
	length     uint64
}

// Len returns the number of nodes currently linked into the list.
func (l *List) Len() uint64 { return l.length }

// IsEmpty reports whether the list has no nodes.
func (l *List) IsEmpty() bool { return l.head == nil }

// Front returns the first link, or nil if the list is empty.
func (l *List) Front() *Link { return l.head }

// Back returns the last link, or nil if the list is empty.
func (l *List) Back() *Link { return l.tail }

// PushFront links n in as the new head of the list. n must not already be
// linked into any list.
func (l *List) PushFront(n *Link) {
	n.prev = nil
	n.next = l.head
	if l.head != nil {
		l.head.prev = n
	} else {
		l.tail = n
	}
	l.head = n
	l.length++
}

// PushBack links n in as the new tail of the list. n must not already be
// linked into any list.
func (l *List) PushBack(n *Link) {
	n.next = nil
	n.prev = l.tail
	if l.tail != nil {
		l.tail.next = n
	} else {
		l.head = n
	}
	l.tail = n
	l.length++
}

// PopFront unlinks and returns the head of the list, or nil if empty.
func (l *List) PopFront() *Link {
	n := l.head
	if n == nil {
		return nil
	}
	l.remove(n)
	return n
}

// PopBack unlinks and returns the tail of the list, or nil if empty.
func (l *List) PopBack() *Link {
	n := l.tail
	if n == nil {
		return nil
	}
	l.remove(n)
	return n
}

// remove unlinks n from the list. n must currently be linked into l.
func (l *List) remove(n *Link) {
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
	n.prev, n.next = nil, nil
	l.length--
}

// Cursor walks a List from front to back and supports removing the
// currently visited node without restarting the traversal.
type Cursor struct {
	list *List
	cur  *Link
}

// Cursor returns a cursor positioned before the first node.
func (l *List) Cursor() Cursor {
	return Cursor{list: l}
}

// Next advances the cursor to the next node and reports whether one
// exists.
func (c *Cursor) Next() bool {
	if c.cur == nil {
		c.cur = c.list.head
	} else {
		c.cur = c.cur.next
	}
	return c.cur != nil
}

// Link returns the node the cursor currently sits on.
func (c *Cursor) Link() *Link { return c.cur }

// Remove unlinks the node currently under the cursor and returns the node
// that followed it; the next call to Next moves the cursor onto that node.
func (c *Cursor) Remove() *Link {
	n := c.cur
	if n == nil {
		return nil
	}
	prev, next := n.prev, n.next
	c.list.remove(n)
	c.cur = prev
	return next
}

// FindAndRemove walks the list from the front, removes and returns the
// first link for which pred returns true, or nil if no link matches.
func (l *List) FindAndRemove(pred func(*Link) bool) *Link {
	c := l.Cursor()
	for c.Next() {
		if pred(c.Link()) {
			n := c.Link()
			l.remove(n)
			return n
		}
	}
	return nil
}

// Contains reports whether target is currently linked into the list. It
// is O(len(l)).
func (l *List) Contains(target *Link) bool {
	for n := l.head; n != nil; n = n.next {
		if n == target {
			return true
		}
	}
	return false
}

// Stack is a singly-linked LIFO list, used where only push/pop at one end
// is needed (e.g. the frame cache backing the temporary-page helper).
type Stack struct {
	top    *SLink
	length uint64
}

// SLink is the single pointer embedded at the head of every node managed
// by a Stack.
type SLink struct {
	next *SLink
}

// Len returns the number of nodes on the stack.
func (s *Stack) Len() uint64 { return s.length }

// IsEmpty reports whether the stack has no nodes.
func (s *Stack) IsEmpty() bool { return s.top == nil }

// Push links n in as the new top of the stack.
func (s *Stack) Push(n *SLink) {
	n.next = s.top
	s.top = n
	s.length++
}

// Pop unlinks and returns the top of the stack, or nil if empty.
func (s *Stack) Pop() *SLink {
	n := s.top
	if n == nil {
		return nil
	}
	s.top = n.next
	n.next = nil
	s.length--
	return n
}
