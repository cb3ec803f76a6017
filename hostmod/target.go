// Package hostmod is the host capability module: the types and functions a
// script may use to inspect host entities and ask the host to move items
// between them.
//
// Nothing in this package hands a host object to a script. Scripts see
// value copies (snapshot records) and a per-tick Bridge; the bridge maps
// access indices back to host handles only inside Go code, and only for the
// tick that produced them.
package hostmod

import (
	"fmt"
)

// Handle is an opaque host reference. The engine never inspects it; it is
// passed back to the Target unchanged.
type Handle any

// Amount is an optional item count. When Set is false the host moves the
// whole matched stack.
type Amount struct {
	Count int
	Set   bool
}

// AmountOf returns an explicit amount of n.
func AmountOf(n int) Amount {
	return Amount{Count: n, Set: true}
}

func (a Amount) String() string {
	if !a.Set {
		return "all"
	}
	return fmt.Sprintf("%d", a.Count)
}

// Target is the host object a tick runs against. It performs the actual
// mutation for move_item and reports failure as an error. Errors are never
// surfaced to the script as faults.
type Target interface {
	MoveItem(src, dst Handle, slot int64, face Direction, amount Amount) error
}

// TargetFunc adapts a function to the Target interface.
type TargetFunc func(src, dst Handle, slot int64, face Direction, amount Amount) error

func (f TargetFunc) MoveItem(src, dst Handle, slot int64, face Direction, amount Amount) error {
	return f(src, dst, slot, face, amount)
}
