// Package swaperr defines the swap engine's error taxonomy.
//
// Engine operations return a plain integer compared against a zero "no
// error" sentinel rather than Go's exception-shaped error values, so
// callers can compare directly against the kind constants below instead
// of unwrapping a wrapped error chain.
package swaperr

import "fmt"

// Err_t is the swap engine's error return type. The zero value is OK.
type Err_t int

const (
	// OK indicates success.
	OK Err_t = 0
	// NoSlot means the slot table is exhausted.
	NoSlot Err_t = -1
	// NoFrame means the physical allocator has no free frames.
	NoFrame Err_t = -2
	// PteMissing means a page-table walk found no entry at all.
	PteMissing Err_t = -3
	// PteState means a PTE was in an unexpected state for the operation.
	PteState Err_t = -4
	// IoFail means the backing block device failed a read or write.
	IoFail Err_t = -5
)

var names = map[Err_t]string{
	OK:         "ok",
	NoSlot:     "no free swap slot",
	NoFrame:    "no free physical frame",
	PteMissing: "page table entry missing",
	PteState:   "page table entry in unexpected state",
	IoFail:     "block device i/o failure",
}

// Error implements the error interface so an Err_t can be returned
// wherever Go code expects one (tests, wrapping, fmt verbs), while
// engine-internal code keeps comparing it directly against OK and the
// named kinds.
func (e Err_t) Error() string {
	if s, ok := names[e]; ok {
		return s
	}
	return fmt.Sprintf("swaperr: unknown error %d", int(e))
}

// OK reports whether e represents success.
func (e Err_t) OK() bool { return e == OK }
