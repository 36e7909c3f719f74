package list

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func values[T any](l *List[T]) []T {
	var out []T
	for n := l.Front(); n != nil; n = n.Next() {
		out = append(out, n.Value)
	}

	return out
}

func backwards[T any](l *List[T]) []T {
	var out []T
	for n := l.Back(); n != nil; n = n.Prev() {
		out = append(out, n.Value)
	}

	return out
}

func TestList_ZeroValue(t *testing.T) {
	var l List[int]
	assert.Equal(t, 0, l.Len())
	assert.Nil(t, l.Front())
	assert.Nil(t, l.Back())
}

func TestList_Insert(t *testing.T) {
	t.Run("push back keeps insertion order", func(t *testing.T) {
		var l List[int]
		for i := 1; i <= 3; i++ {
			l.PushBack(NewNode(i, nil))
		}

		assert.Equal(t, []int{1, 2, 3}, values(&l))
		assert.Equal(t, []int{3, 2, 1}, backwards(&l))
		assert.Equal(t, 3, l.Len())
	})

	t.Run("insert after nil mark goes to head", func(t *testing.T) {
		var l List[string]
		l.PushBack(NewNode("b", nil))
		l.InsertAfter(nil, NewNode("a", nil))
		assert.Equal(t, []string{"a", "b"}, values(&l))
	})

	t.Run("insert before nil mark goes to tail", func(t *testing.T) {
		var l List[string]
		l.PushBack(NewNode("a", nil))
		l.InsertBefore(nil, NewNode("b", nil))
		assert.Equal(t, []string{"a", "b"}, values(&l))
	})

	t.Run("insert in the middle", func(t *testing.T) {
		var l List[int]
		first := NewNode(1, nil)
		last := NewNode(4, nil)
		l.PushBack(first)
		l.PushBack(last)
		l.InsertAfter(first, NewNode(2, nil))
		l.InsertBefore(last, NewNode(3, nil))

		assert.Equal(t, []int{1, 2, 3, 4}, values(&l))
		assert.Equal(t, []int{4, 3, 2, 1}, backwards(&l))
	})

	t.Run("linked node cannot be inserted twice", func(t *testing.T) {
		var a, b List[int]
		n := NewNode(1, nil)
		a.PushBack(n)

		assert.Panics(t, func() { b.PushBack(n) })
		assert.Panics(t, func() { a.PushFront(n) })
		assert.Equal(t, 1, a.Len())
		assert.Equal(t, 0, b.Len())
	})

	t.Run("mark from another list panics", func(t *testing.T) {
		var a, b List[int]
		mark := NewNode(1, nil)
		a.PushBack(mark)
		assert.Panics(t, func() { b.InsertAfter(mark, NewNode(2, nil)) })
	})
}

func TestList_Delete(t *testing.T) {
	t.Run("unlinks head, middle and tail", func(t *testing.T) {
		var l List[int]
		nodes := make([]*Node[int], 5)
		for i := range nodes {
			nodes[i] = NewNode(i, nil)
			l.PushBack(nodes[i])
		}

		l.Delete(nodes[2])
		assert.Equal(t, []int{0, 1, 3, 4}, values(&l))
		l.Delete(nodes[0])
		assert.Equal(t, []int{1, 3, 4}, values(&l))
		l.Delete(nodes[4])
		assert.Equal(t, []int{1, 3}, values(&l))
		assert.Equal(t, []int{3, 1}, backwards(&l))
		assert.Equal(t, 2, l.Len())
		assert.False(t, nodes[2].Linked())
	})

	t.Run("deleting a foreign node is a no-op", func(t *testing.T) {
		var a, b List[int]
		n := NewNode(7, nil)
		a.PushBack(n)
		b.Delete(n)
		assert.Equal(t, 1, a.Len())
		assert.True(t, n.Linked())
	})

	t.Run("delete does not destroy", func(t *testing.T) {
		var l List[int]
		destroyed := 0
		n := NewNode(1, func(int) { destroyed++ })
		l.PushBack(n)
		l.Delete(n)
		assert.Equal(t, 0, destroyed)
		assert.Nil(t, l.Front())
		assert.Nil(t, l.Back())
	})

	t.Run("deleted node can be reinserted", func(t *testing.T) {
		var l List[int]
		n := NewNode(1, nil)
		l.PushBack(n)
		l.Delete(n)
		require.NotPanics(t, func() { l.PushBack(n) })
		assert.Equal(t, 1, l.Len())
	})
}

func TestList_Find(t *testing.T) {
	var l List[int]
	for _, v := range []int{5, 10, 15, 10} {
		l.PushBack(NewNode(v, nil))
	}

	t.Run("returns first match", func(t *testing.T) {
		n := l.Find(func(n *Node[int]) bool { return n.Value == 10 })
		require.NotNil(t, n)
		assert.Same(t, l.Front().Next(), n)
	})

	t.Run("stops on first match", func(t *testing.T) {
		calls := 0
		l.Find(func(n *Node[int]) bool {
			calls++
			return n.Value == 5
		})
		assert.Equal(t, 1, calls)
	})

	t.Run("restarts from head every call", func(t *testing.T) {
		threshold := 7
		match := func(n *Node[int]) bool { return n.Value > threshold }
		first := l.Find(match)
		second := l.Find(match)
		assert.Same(t, first, second)
	})

	t.Run("no match returns nil", func(t *testing.T) {
		assert.Nil(t, l.Find(func(n *Node[int]) bool { return n.Value == 99 }))
	})
}

func TestList_Teardown(t *testing.T) {
	t.Run("destroys every node once in order", func(t *testing.T) {
		var l List[int]
		var destroyed []int
		destroy := func(v int) { destroyed = append(destroyed, v) }
		for i := 1; i <= 3; i++ {
			l.PushBack(NewNode(i, destroy))
		}
		l.PushBack(NewNode(4, nil))

		l.Teardown()
		assert.Equal(t, []int{1, 2, 3}, destroyed)
		assert.Equal(t, 0, l.Len())
		assert.Nil(t, l.Front())

		l.Teardown()
		assert.Equal(t, []int{1, 2, 3}, destroyed)
	})

	t.Run("empty list is a no-op", func(t *testing.T) {
		var l List[int]
		assert.NotPanics(t, l.Teardown)
		assert.Equal(t, 0, l.Len())
	})
}

func TestList_Init(t *testing.T) {
	var l List[int]
	l.PushBack(NewNode(1, nil))
	l.Init()
	assert.Equal(t, 0, l.Len())
	assert.Nil(t, l.Front())
	assert.Nil(t, l.Back())
}
