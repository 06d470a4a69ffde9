package pagination

import (
	"fmt"
	"slices"
	"strings"

	"github.com/Sternrassler/hn-pager/pkg/item"
)

// Slot is one row of a page being filled. Item is nil until the record
// for ID arrives.
type Slot struct {
	ID   int64
	Item item.Item
}

// Resolved reports whether the slot's record has arrived.
func (s Slot) Resolved() bool {
	return s.Item != nil
}

// Partial is a page in progress, in listing order.
type Partial []Slot

// Resolved counts the resolved slots.
func (p Partial) Resolved() int {
	n := 0
	for _, s := range p {
		if s.Resolved() {
			n++
		}
	}
	return n
}

// clone copies the slot array so a posted Partial never changes under its
// reader.
func (p Partial) clone() Partial {
	return slices.Clone(p)
}

// String renders ids, marking resolved slots with '*'.
func (p Partial) String() string {
	parts := make([]string, len(p))
	for i, s := range p {
		parts[i] = fmt.Sprint(s.ID)
		if s.Resolved() {
			parts[i] += "*"
		}
	}
	return "[" + strings.Join(parts, " ") + "]"
}
