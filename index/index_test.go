package index

import (
	"maps"
	"math/rand/v2"
	"reflect"
	"slices"
	"testing"
)

func TestMap_basics(t *testing.T) {
	m := New[string, int]()
	deepEqual(t, m.Len(), 0)
	deepEqual(t, m.Set("b", 2), false)
	deepEqual(t, m.Set("a", 1), false)
	deepEqual(t, m.Set("c", 3), false)
	deepEqual(t, m.Set("b", 20), true)

	v, ok := m.Get("b")
	deepEqual(t, v, 20)
	deepEqual(t, ok, true)
	_, ok = m.Get("zzz")
	deepEqual(t, ok, false)
	deepEqual(t, m.Has("c"), true)

	deepEqual(t, slices.Collect(m.Keys()), []string{"a", "b", "c"})
	deepEqual(t, slices.Collect(m.Values()), []int{1, 20, 3})

	k, v, ok := m.Min()
	deepEqual(t, k, "a")
	deepEqual(t, v, 1)
	k, _, _ = m.Max()
	deepEqual(t, k, "c")

	v, ok = m.Delete("a")
	deepEqual(t, v, 1)
	deepEqual(t, ok, true)
	_, ok = m.Delete("a")
	deepEqual(t, ok, false)
	deepEqual(t, m.Len(), 2)
}

func TestMap_iteration(t *testing.T) {
	m := From(maps.All(map[string]int{"d": 4, "a": 1, "c": 3, "b": 2}))

	var keys []string
	for k := range m.All() {
		keys = append(keys, k)
		if k == "c" {
			break
		}
	}
	deepEqual(t, keys, []string{"a", "b", "c"})
	var from []string
	for k := range m.From("b") {
		from = append(from, k)
	}
	deepEqual(t, from, []string{"b", "c", "d"})

	var back []string
	for k := range m.Backward() {
		back = append(back, k)
	}
	deepEqual(t, back, []string{"d", "c", "b", "a"})
}

func TestMap_assignReplacesContents(t *testing.T) {
	m := New[string, int]()
	m.Set("old", 1)
	m.Assign(maps.All(map[string]int{"x": 1, "y": 2}))
	deepEqual(t, slices.Collect(m.Keys()), []string{"x", "y"})

	c := m.Clone()
	c.Set("z", 3)
	deepEqual(t, m.Len(), 2)
	deepEqual(t, c.Len(), 3)

	m.Clear()
	deepEqual(t, m.Len(), 0)
}

func TestMap_matchesSortedSlice(t *testing.T) {
	rnd := rand.New(rand.NewPCG(9, 9))
	m := New[int, int]()
	ref := make(map[int]int)
	for i := range 5000 {
		k := rnd.IntN(1000)
		if rnd.IntN(3) == 0 {
			m.Delete(k)
			delete(ref, k)
		} else {
			m.Set(k, i)
			ref[k] = i
		}
	}
	deepEqual(t, m.Len(), len(ref))
	deepEqual(t, slices.Collect(m.Keys()), slices.Sorted(maps.Keys(ref)))
	for k, v := range m.All() {
		deepEqual(t, v, ref[k])
	}
}

func deepEqual[T any](t testing.TB, a, e T) {
	if !reflect.DeepEqual(a, e) {
		t.Helper()
		t.Errorf("** got %v, wanted %v", a, e)
	}
}
