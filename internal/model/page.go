package model

import (
	"fmt"

	"github.com/google/uuid"
)

// Cursor is an optional keyset position. At most one field may be set.
type Cursor struct {
	Before *uuid.UUID `json:"before,omitempty"`
	After  *uuid.UUID `json:"after,omitempty"`
}

// Validate rejects a cursor with both directions set.
func (c Cursor) Validate() error {
	if c.Before != nil && c.After != nil {
		return ErrBothCursors
	}
	return nil
}

// ErrBothCursors is returned when before and after are both supplied.
var ErrBothCursors = fmt.Errorf("%w: before and after are mutually exclusive", ErrInvalidArgument)

// Bounds is the min and max id present in a stream. Both are nil when the
// stream is empty.
type Bounds struct {
	FirstID *uuid.UUID `json:"first_id"`
	LastID  *uuid.UUID `json:"last_id"`
}

// Empty reports whether the stream had no records.
func (b Bounds) Empty() bool { return b.FirstID == nil && b.LastID == nil }

// PageInfo tells a client whether more records exist on either side of a
// page, derived by comparing the page edges to the stream bounds.
type PageInfo struct {
	HasOlder bool `json:"has_older"`
	HasNewer bool `json:"has_newer"`
}

// PageInfoFor computes PageInfo for a descending page of ids.
func PageInfoFor(ids []uuid.UUID, b Bounds) PageInfo {
	if len(ids) == 0 || b.Empty() {
		return PageInfo{}
	}
	newest, oldest := ids[0], ids[len(ids)-1]
	return PageInfo{
		HasOlder: b.FirstID != nil && *b.FirstID != oldest,
		HasNewer: b.LastID != nil && *b.LastID != newest,
	}
}
