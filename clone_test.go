package farcall

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type plain struct {
	Name  string
	Tags  []string
	Inner *plain
	skip  func()
}

type node struct {
	Next *node
}

type dated struct {
	X    int
	When time.Time
}

type withMethod struct{ N int }

func (withMethod) Describe() string { return "object" }

func TestClonable(t *testing.T) {
	cyclic := &node{}
	cyclic.Next = cyclic
	selfMap := map[string]any{}
	selfMap["self"] = selfMap
	shared := []int{1, 2}

	cases := []struct {
		name string
		v    any
		want bool
	}{
		{"nil", nil, true},
		{"bool", true, true},
		{"int", 42, true},
		{"float", 1.5, true},
		{"string", "x", true},
		{"bytes", []byte("abc"), true},
		{"slice", []any{1, "a", []int{2}}, true},
		{"array", [2]int{1, 2}, true},
		{"string map", map[string]any{"a": 1, "b": map[string]int{"c": 2}}, true},
		{"int keyed map", map[int]string{1: "a"}, false},
		{"plain struct", plain{Name: "n", Tags: []string{"t"}, Inner: &plain{}}, true},
		{"pointer to plain struct", &plain{Name: "n"}, true},
		{"unexported func field", plain{skip: func() {}}, true},
		{"shared acyclic", map[string]any{"a": shared, "b": shared}, true},
		{"nil pointer", (*node)(nil), true},
		{"duration", time.Second, true},
		{"func", func() {}, false},
		{"channel", make(chan int), false},
		{"struct with methods", withMethod{N: 1}, false},
		{"pointer to struct with methods", &withMethod{}, false},
		{"time", time.Now(), false},
		{"nil time pointer", (*time.Time)(nil), true},
		{"struct with a date", dated{X: 1, When: time.Now()}, true},
		{"dates in a slice", []time.Time{time.Now()}, true},
		{"func inside map", map[string]any{"f": func() {}}, false},
		{"cyclic pointers", cyclic, false},
		{"cyclic map", selfMap, false},
		{"remote", &Remote{}, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, clonable(tc.v), tc.name)
	}
}

func TestIdentityOf(t *testing.T) {
	a := &counter{}
	b := &counter{}
	ida, ok := identityOf(a)
	assert.True(t, ok)
	idb, _ := identityOf(b)
	assert.NotEqual(t, ida, idb)
	again, _ := identityOf(a)
	assert.Equal(t, ida, again)

	f := func() int { return a.n }
	g := func() int { return b.n }
	idf, ok := identityOf(f)
	assert.True(t, ok)
	idg, _ := identityOf(g)
	assert.NotEqual(t, idf, idg)
	idf2, _ := identityOf(f)
	assert.Equal(t, idf, idf2)

	_, ok = identityOf(42)
	assert.False(t, ok)
	_, ok = identityOf((*counter)(nil))
	assert.False(t, ok)
	_, ok = identityOf(withMethod{})
	assert.False(t, ok)
}
