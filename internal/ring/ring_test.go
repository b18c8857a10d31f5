package ring

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPushOverwritesOldestOnOverflow(t *testing.T) {
	b := New[int](3)
	b.Push(1)
	b.Push(2)
	b.Push(3)
	b.Push(4) // overflow: evicts 1

	require.Equal(t, 3, b.Size())
	require.Equal(t, 1, b.OverflowCount())
	require.Equal(t, []int{2, 3, 4}, b.ToArray())
}

func TestSizePlusOverflowEqualsTotalPushes(t *testing.T) {
	b := New[int](4)
	totalPushes := 11
	for i := 0; i < totalPushes; i++ {
		b.Push(i)
	}
	if got := b.Size() + b.OverflowCount(); got != totalPushes {
		t.Fatalf("size+overflow = %d, want %d", got, totalPushes)
	}
}

func TestSetCapacityPreservesNewestInOrder(t *testing.T) {
	b := New[int](5)
	for i := 1; i <= 5; i++ {
		b.Push(i)
	}
	b.SetCapacity(3)

	require.Equal(t, []int{3, 4, 5}, b.ToArray())
	require.Equal(t, 0, b.OverflowCount())

	b.Push(6)
	require.Equal(t, []int{4, 5, 6}, b.ToArray())
}

func TestSetCapacityGrowingKeepsEverything(t *testing.T) {
	b := New[int](2)
	b.Push(1)
	b.Push(2)
	b.SetCapacity(5)
	require.Equal(t, []int{1, 2}, b.ToArray())

	b.Push(3)
	b.Push(4)
	b.Push(5)
	b.Push(6)
	require.Equal(t, []int{2, 3, 4, 5, 6}, b.ToArray())
}

func TestSliceReturnsNewestNChronological(t *testing.T) {
	b := New[int](5)
	for i := 1; i <= 5; i++ {
		b.Push(i)
	}
	if got := b.Slice(2); !reflect.DeepEqual(got, []int{4, 5}) {
		t.Fatalf("Slice(2) = %v, want [4 5]", got)
	}
	if got := b.Slice(0); len(got) != 0 {
		t.Fatalf("Slice(0) = %v, want empty", got)
	}
	if got := b.Slice(-1); len(got) != 0 {
		t.Fatalf("Slice(-1) = %v, want empty", got)
	}
	if got := b.Slice(100); !reflect.DeepEqual(got, []int{1, 2, 3, 4, 5}) {
		t.Fatalf("Slice(100) = %v, want all elements", got)
	}
}

func TestToArrayIsASnapshotNotSharedStorage(t *testing.T) {
	b := New[int](3)
	b.Push(1)
	b.Push(2)
	snap := b.ToArray()
	snap[0] = 999
	b.Push(3)
	require.Equal(t, []int{1, 2, 3}, b.ToArray())
}

func TestPeekAndPeekLast(t *testing.T) {
	b := New[string](2)
	if _, ok := b.Peek(); ok {
		t.Fatalf("Peek() on empty buffer returned ok=true")
	}
	b.Push("a")
	b.Push("b")
	b.Push("c") // evicts "a"

	oldest, ok := b.Peek()
	require.True(t, ok)
	require.Equal(t, "b", oldest)

	newest, ok := b.PeekLast()
	require.True(t, ok)
	require.Equal(t, "c", newest)
}

func TestFindAndFilter(t *testing.T) {
	b := New[int](5)
	for i := 1; i <= 5; i++ {
		b.Push(i)
	}
	found, ok := b.Find(func(n int) bool { return n%2 == 0 })
	require.True(t, ok)
	require.Equal(t, 2, found)

	evens := b.Filter(func(n int) bool { return n%2 == 0 })
	require.Equal(t, []int{2, 4}, evens)

	_, ok = b.Find(func(n int) bool { return n > 100 })
	require.False(t, ok)
}

func TestClearResetsSizeAndOverflow(t *testing.T) {
	b := New[int](2)
	b.Push(1)
	b.Push(2)
	b.Push(3) // overflow

	b.Clear()
	require.Equal(t, 0, b.Size())
	require.Equal(t, 0, b.OverflowCount())
	require.Equal(t, []int{}, b.ToArray())
}

func TestNewInvalidCapacityPanics(t *testing.T) {
	require.Panics(t, func() { New[int](0) })
	require.Panics(t, func() { New[int](-1) })
}

func TestSetCapacityInvalidPanics(t *testing.T) {
	b := New[int](2)
	require.Panics(t, func() { b.SetCapacity(0) })
}
