// Package snapshot holds the value-typed copies of host entities handed to a
// script for one tick, and their CBOR wire encoding.
package snapshot

import (
	"fmt"
	"slices"
	"strings"
)

// Pos is an integer block position.
type Pos struct {
	X int32 `cbor:"x"`
	Y int32 `cbor:"y"`
	Z int32 `cbor:"z"`
}

func (p Pos) String() string {
	return fmt.Sprintf("(%d, %d, %d)", p.X, p.Y, p.Z)
}

// Item is one non-empty inventory slot of an entity.
type Item struct {
	SlotIndex int64    `cbor:"slot_index"`
	Name      string   `cbor:"name"`
	Tags      []string `cbor:"tags"`
	Count     int32    `cbor:"count"`
}

// Equal compares the script-visible fields. The slot index is excluded.
func (i Item) Equal(o Item) bool {
	return i.Name == o.Name && i.Count == o.Count && slices.Equal(i.Tags, o.Tags)
}

// HasTag reports whether the item carries tag.
func (i Item) HasTag(tag string) bool {
	return slices.Contains(i.Tags, tag)
}

func (i Item) String() string {
	return fmt.Sprintf("%s x%d", i.Name, i.Count)
}

// Entity is a copy of one host entity. RawAccessIndex is the entity's
// position in the host array of the call that produced it; it is not a
// pointer and means nothing outside that call.
type Entity struct {
	RawAccessIndex int64  `cbor:"raw_access_index"`
	Pos            Pos    `cbor:"block_pos"`
	Dimension      string `cbor:"dimension"`
	Name           string `cbor:"name"`
	Items          []Item `cbor:"items"`
}

// Equal compares the script-visible fields. The access index is excluded.
func (e Entity) Equal(o Entity) bool {
	if e.Pos != o.Pos || e.Dimension != o.Dimension || e.Name != o.Name {
		return false
	}
	return slices.EqualFunc(e.Items, o.Items, Item.Equal)
}

// Count returns the total number of items named name.
func (e Entity) Count(name string) int64 {
	var n int64
	for _, it := range e.Items {
		if it.Name == name {
			n += int64(it.Count)
		}
	}
	return n
}

// Find returns the first item named name.
func (e Entity) Find(name string) (Item, bool) {
	for _, it := range e.Items {
		if it.Name == name {
			return it, true
		}
	}
	return Item{}, false
}

func (e Entity) String() string {
	names := make([]string, len(e.Items))
	for i, it := range e.Items {
		names[i] = it.String()
	}
	return fmt.Sprintf("%s@%s%s[%s]", e.Name, e.Dimension, e.Pos, strings.Join(names, ", "))
}
