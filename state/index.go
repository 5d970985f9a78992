package state

import "strconv"

// NoRow is the position a non-strict Lookup reports for ids the index has
// never seen.
const NoRow = -1

// Index maps externally stable entity ids to dense row positions.
// Insertion order is row order. Ids are append-only: once assigned, a row
// keeps its id for the life of the index.
type Index struct {
	ids    []int64
	rows   map[int64]int
	strict bool

	// identity context for error messages
	dataset string
	group   string
}

// NewIndex returns an empty index. Lookups for unknown ids report NoRow.
func NewIndex() *Index {
	return &Index{rows: make(map[int64]int)}
}

// NewStrictIndex returns an empty index whose Lookup fails on unknown ids
// instead of reporting NoRow.
func NewStrictIndex() *Index {
	ix := NewIndex()
	ix.strict = true
	return ix
}

// Add appends new ids to the index. Every id must be new: a repeat within
// the batch or a collision with an existing id fails with DuplicateIDError
// before anything is appended.
func (ix *Index) Add(ids []int64) error {
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			return &DuplicateIDError{Dataset: ix.dataset, Group: ix.group, ID: id}
		}
		if _, ok := ix.rows[id]; ok {
			return &DuplicateIDError{Dataset: ix.dataset, Group: ix.group, ID: id}
		}
		seen[id] = true
	}
	for _, id := range ids {
		ix.rows[id] = len(ix.ids)
		ix.ids = append(ix.ids, id)
	}
	return nil
}

// SetIDs adopts ids on an empty index. On a populated index the call is
// idempotent: the given sequence must equal the existing one positionally,
// anything else fails with IdentityViolationError.
func (ix *Index) SetIDs(ids []int64) error {
	if len(ix.ids) == 0 {
		return ix.Add(ids)
	}
	if len(ids) != len(ix.ids) {
		return &IdentityViolationError{
			Dataset: ix.dataset,
			Group:   ix.group,
			Message: "cannot change entity ids",
		}
	}
	for i, id := range ids {
		if ix.ids[i] != id {
			return &IdentityViolationError{
				Dataset: ix.dataset,
				Group:   ix.group,
				Message: "cannot change entity ids",
			}
		}
	}
	return nil
}

// Lookup resolves ids to row positions. Unknown ids resolve to NoRow, or
// fail with IdentityViolationError when the index is strict.
func (ix *Index) Lookup(ids []int64) ([]int, error) {
	out := make([]int, len(ids))
	for i, id := range ids {
		row, ok := ix.rows[id]
		if !ok {
			if ix.strict {
				return nil, &IdentityViolationError{
					Dataset: ix.dataset,
					Group:   ix.group,
					Message: "unknown entity id " + strconv.FormatInt(id, 10),
				}
			}
			row = NoRow
		}
		out[i] = row
	}
	return out, nil
}

// Row resolves a single id.
func (ix *Index) Row(id int64) (int, bool) {
	row, ok := ix.rows[id]
	return row, ok
}

// IDs returns the ids in row order. The caller owns the returned slice.
func (ix *Index) IDs() []int64 {
	out := make([]int64, len(ix.ids))
	copy(out, ix.ids)
	return out
}

// ID returns the id assigned to a row.
func (ix *Index) ID(row int) int64 {
	return ix.ids[row]
}

// Len returns the number of rows.
func (ix *Index) Len() int {
	return len(ix.ids)
}
