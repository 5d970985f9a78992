package state

import (
	"fmt"

	"github.com/RoaringBitmap/roaring"

	"github.com/polysim/polysim/schema"
)

// Column is a dense, fixed-length buffer for one attribute, unit elements
// per row. Change state is relative to a baseline: the first write after a
// Reset snapshots the prior contents, and Changed compares current against
// that snapshot. All mutation goes through the setters so the tracking
// epoch stays explicit; Values and Row hand out views for read-only use.
type Column[T schema.Element] struct {
	data []T
	unit int
	tol  Tolerance

	baseline []T             // contents at the start of the write epoch; nil when clean
	changed  *roaring.Bitmap // cached change mask; nil when stale
}

// NewColumn allocates a column of rows entries, every element set to the
// type's undefined sentinel.
func NewColumn[T schema.Element](rows, unit int, tol Tolerance) *Column[T] {
	if unit < 1 {
		unit = 1
	}
	data := make([]T, rows*unit)
	undef := schema.UndefinedOf[T]()
	for i := range data {
		data[i] = undef
	}
	return &Column[T]{data: data, unit: unit, tol: tol.orDefault()}
}

// Rows returns the number of entity rows.
func (c *Column[T]) Rows() int {
	return len(c.data) / c.unit
}

// UnitSize returns the number of elements per row.
func (c *Column[T]) UnitSize() int {
	return c.unit
}

// Values returns the backing buffer, row-major. Read-only: mutate through
// the setters or change tracking breaks.
func (c *Column[T]) Values() []T {
	return c.data
}

// Row returns row's elements as a view into the backing buffer.
func (c *Column[T]) Row(row int) []T {
	return c.data[row*c.unit : (row+1)*c.unit]
}

// Fill replaces the whole buffer. len(values) must match the current
// element count.
func (c *Column[T]) Fill(values []T) error {
	if len(values) != len(c.data) {
		return fmt.Errorf("fill with %d elements, column holds %d", len(values), len(c.data))
	}
	c.beginWrite()
	copy(c.data, values)
	return nil
}

// SetRow replaces one row. len(values) must equal the unit size.
func (c *Column[T]) SetRow(row int, values []T) error {
	if row < 0 || row >= c.Rows() {
		return fmt.Errorf("row %d out of range [0,%d)", row, c.Rows())
	}
	if len(values) != c.unit {
		return fmt.Errorf("row of %d elements, unit size is %d", len(values), c.unit)
	}
	c.beginWrite()
	copy(c.data[row*c.unit:], values)
	return nil
}

// SetValue replaces a single element of one row.
func (c *Column[T]) SetValue(row, offset int, v T) error {
	if row < 0 || row >= c.Rows() {
		return fmt.Errorf("row %d out of range [0,%d)", row, c.Rows())
	}
	if offset < 0 || offset >= c.unit {
		return fmt.Errorf("offset %d out of range [0,%d)", offset, c.unit)
	}
	c.beginWrite()
	c.data[row*c.unit+offset] = v
	return nil
}

// beginWrite opens the tracking epoch on first mutation after a reset and
// invalidates the cached change mask.
func (c *Column[T]) beginWrite() {
	if c.baseline == nil {
		c.baseline = make([]T, len(c.data))
		copy(c.baseline, c.data)
	}
	c.changed = nil
}

// Changed returns the rows whose contents differ from the epoch baseline,
// a row counting as changed when any of its elements moved outside
// tolerance. The mask is cached until the next mutation; treat it as
// read-only.
func (c *Column[T]) Changed() *roaring.Bitmap {
	if c.changed != nil {
		return c.changed
	}
	mask := roaring.New()
	if c.baseline != nil {
		for row := 0; row < c.Rows(); row++ {
			base := c.baseline[row*c.unit : (row+1)*c.unit]
			if !sliceEqualWithin(c.tol, base, c.Row(row)) {
				mask.Add(uint32(row))
			}
		}
	}
	c.changed = mask
	return mask
}

// Diff reports the changed rows with their before and after contents.
// Debugging aid, not a hot path.
func (c *Column[T]) Diff() (rows []int, before, after [][]T) {
	mask := c.Changed()
	it := mask.Iterator()
	for it.HasNext() {
		row := int(it.Next())
		old := make([]T, c.unit)
		copy(old, c.baseline[row*c.unit:(row+1)*c.unit])
		cur := make([]T, c.unit)
		copy(cur, c.Row(row))
		rows = append(rows, row)
		before = append(before, old)
		after = append(after, cur)
	}
	return rows, before, after
}

// Reset drops the baseline and the cached mask; the column reports no
// changes until the next write.
func (c *Column[T]) Reset() {
	c.baseline = nil
	c.changed = nil
}

// Resize grows the column to rows entries, filling new rows with the
// undefined sentinel. Existing values and their change flags survive.
// Shrinking is not supported.
func (c *Column[T]) Resize(rows int) error {
	if rows < c.Rows() {
		return fmt.Errorf("cannot shrink column from %d to %d rows", c.Rows(), rows)
	}
	if rows == c.Rows() {
		return nil
	}
	undef := schema.UndefinedOf[T]()
	grown := make([]T, rows*c.unit)
	copy(grown, c.data)
	for i := len(c.data); i < len(grown); i++ {
		grown[i] = undef
	}
	c.data = grown
	if c.baseline != nil {
		base := make([]T, rows*c.unit)
		copy(base, c.baseline)
		for i := len(c.baseline); i < len(base); i++ {
			base[i] = undef
		}
		c.baseline = base
	}
	c.changed = nil
	return nil
}

// UndefinedMask returns the rows whose elements are all the undefined
// sentinel. A row with any defined element does not count.
func (c *Column[T]) UndefinedMask() *roaring.Bitmap {
	mask := roaring.New()
	for row := 0; row < c.Rows(); row++ {
		all := true
		for _, v := range c.Row(row) {
			if !schema.IsUndefined(v) {
				all = false
				break
			}
		}
		if all {
			mask.Add(uint32(row))
		}
	}
	return mask
}

// SpecialMask returns the rows whose elements all equal the special value
// under the column's tolerance.
func (c *Column[T]) SpecialMask(special T) *roaring.Bitmap {
	mask := roaring.New()
	for row := 0; row < c.Rows(); row++ {
		all := true
		for _, v := range c.Row(row) {
			if !equalWithin(c.tol, v, special) {
				all = false
				break
			}
		}
		if all && c.unit > 0 {
			mask.Add(uint32(row))
		}
	}
	return mask
}

// allUndefined reports whether every element of a non-empty column is the
// undefined sentinel. Empty columns report false so that a group ingested
// with zero entities still counts as initialized.
func (c *Column[T]) allUndefined() bool {
	if len(c.data) == 0 {
		return false
	}
	for _, v := range c.data {
		if !schema.IsUndefined(v) {
			return false
		}
	}
	return true
}
