package state

import (
	"fmt"

	"github.com/RoaringBitmap/roaring"

	"github.com/polysim/polysim/schema"
)

// CSRColumn stores one variable-length sequence per row, packed as a flat
// data buffer plus row offsets: row i occupies data[rowPtr[i]:rowPtr[i+1]].
// Rows hold whole units of unit elements each (unit is 1 for scalar rows,
// 2 for point sequences, and so on). Change tracking is per row and
// accumulates across updates until Reset, since a row may be touched
// several times before a delta is emitted.
type CSRColumn[T schema.Element] struct {
	data    []T
	rowPtr  []int // element offsets, always on unit boundaries
	unit    int
	tol     Tolerance
	changed *roaring.Bitmap
}

// NewCSRColumn allocates rows entries, each holding the single-unit
// undefined placeholder that marks "no data supplied yet" for ragged rows.
func NewCSRColumn[T schema.Element](rows, unit int, tol Tolerance) *CSRColumn[T] {
	if unit < 1 {
		unit = 1
	}
	data := make([]T, rows*unit)
	undef := schema.UndefinedOf[T]()
	for i := range data {
		data[i] = undef
	}
	rowPtr := make([]int, rows+1)
	for i := range rowPtr {
		rowPtr[i] = i * unit
	}
	return &CSRColumn[T]{data: data, rowPtr: rowPtr, unit: unit, tol: tol.orDefault(), changed: roaring.New()}
}

// NewCSRColumnFrom wraps an existing packed buffer. The offsets must start
// at zero, never decrease, end at len(data), and fall on unit boundaries.
func NewCSRColumnFrom[T schema.Element](data []T, rowPtr []int, unit int, tol Tolerance) (*CSRColumn[T], error) {
	if unit < 1 {
		unit = 1
	}
	if err := validateRowPtr(rowPtr, len(data), unit); err != nil {
		return nil, err
	}
	return &CSRColumn[T]{data: data, rowPtr: rowPtr, unit: unit, tol: tol.orDefault(), changed: roaring.New()}, nil
}

func validateRowPtr(rowPtr []int, elements, unit int) error {
	if len(rowPtr) == 0 || rowPtr[0] != 0 {
		return fmt.Errorf("row_ptr must start at 0")
	}
	for i := 1; i < len(rowPtr); i++ {
		if rowPtr[i] < rowPtr[i-1] {
			return fmt.Errorf("row_ptr must be non-decreasing at index %d", i)
		}
		if (rowPtr[i]-rowPtr[i-1])%unit != 0 {
			return fmt.Errorf("row %d holds %d elements, not whole units of %d", i-1, rowPtr[i]-rowPtr[i-1], unit)
		}
	}
	if last := rowPtr[len(rowPtr)-1]; last != elements {
		return fmt.Errorf("row_ptr covers %d elements, data has %d", last, elements)
	}
	return nil
}

// Rows returns the number of entity rows.
func (c *CSRColumn[T]) Rows() int {
	return len(c.rowPtr) - 1
}

// UnitSize returns the number of elements per unit.
func (c *CSRColumn[T]) UnitSize() int {
	return c.unit
}

// Row returns row's elements as a view into the packed buffer, valid until
// the next Update or Resize. Read-only.
func (c *CSRColumn[T]) Row(row int) []T {
	return c.data[c.rowPtr[row]:c.rowPtr[row+1]]
}

// RowLen returns the element count of one row.
func (c *CSRColumn[T]) RowLen(row int) int {
	return c.rowPtr[row+1] - c.rowPtr[row]
}

// Data returns the packed buffer. Read-only.
func (c *CSRColumn[T]) Data() []T {
	return c.data
}

// RowPtr returns the element offsets. Read-only.
func (c *CSRColumn[T]) RowPtr() []int {
	return c.rowPtr
}

// Update replaces whole rows: update row k, delimited by updPtr, replaces
// the row at targets[k]. Other rows keep their contents, though the
// backing buffers are rebuilt because row lengths may differ. When skip is
// non-nil, an update row holding exactly one unit whose elements all equal
// *skip marks "no new information" and leaves its target untouched. A
// replaced row is flagged changed when its new contents differ from the
// old under the column's tolerance; different lengths always differ. The
// flag accumulates until Reset.
func (c *CSRColumn[T]) Update(upd []T, updPtr []int, targets []int, skip *T) error {
	if err := validateRowPtr(updPtr, len(upd), c.unit); err != nil {
		return err
	}
	if len(updPtr)-1 != len(targets) {
		return fmt.Errorf("update has %d rows, %d target rows given", len(updPtr)-1, len(targets))
	}
	for _, row := range targets {
		if row < 0 || row >= c.Rows() {
			return fmt.Errorf("target row %d out of range [0,%d)", row, c.Rows())
		}
	}

	// Later duplicates win, matching parallel-array assignment order. Skip
	// rows are no-ops, not assignments, so they never shadow earlier ones.
	replace := make(map[int]int, len(targets))
	for k, row := range targets {
		if skip != nil && c.isSkipRow(upd[updPtr[k]:updPtr[k+1]], *skip) {
			continue
		}
		replace[row] = k
	}

	newLen := len(c.data)
	for row, k := range replace {
		newLen += (updPtr[k+1] - updPtr[k]) - c.RowLen(row)
	}
	data := make([]T, 0, newLen)
	rowPtr := make([]int, 1, len(c.rowPtr))
	touched := make([]int, 0, len(replace))

	for row := 0; row < c.Rows(); row++ {
		if k, ok := replace[row]; ok {
			next := upd[updPtr[k]:updPtr[k+1]]
			if !sliceEqualWithin(c.tol, c.Row(row), next) {
				touched = append(touched, row)
			}
			data = append(data, next...)
		} else {
			data = append(data, c.Row(row)...)
		}
		rowPtr = append(rowPtr, len(data))
	}

	// Swap in only after the full rebuild so no reader can observe a torn
	// data/rowPtr pair.
	c.data = data
	c.rowPtr = rowPtr
	for _, row := range touched {
		c.changed.Add(uint32(row))
	}
	return nil
}

func (c *CSRColumn[T]) isSkipRow(row []T, skip T) bool {
	if len(row) != c.unit {
		return false
	}
	for _, v := range row {
		if !equalWithin(c.tol, v, skip) {
			return false
		}
	}
	return true
}

// Slice extracts the given rows, in the given order, into a new compact
// column with fresh change tracking.
func (c *CSRColumn[T]) Slice(rows []int) (*CSRColumn[T], error) {
	for _, row := range rows {
		if row < 0 || row >= c.Rows() {
			return nil, fmt.Errorf("row %d out of range [0,%d)", row, c.Rows())
		}
	}
	size := 0
	for _, row := range rows {
		size += c.RowLen(row)
	}
	data := make([]T, 0, size)
	rowPtr := make([]int, 1, len(rows)+1)
	for _, row := range rows {
		data = append(data, c.Row(row)...)
		rowPtr = append(rowPtr, len(data))
	}
	return &CSRColumn[T]{data: data, rowPtr: rowPtr, unit: c.unit, tol: c.tol, changed: roaring.New()}, nil
}

// SliceMask is Slice over a bitmap selection, rows in ascending order.
func (c *CSRColumn[T]) SliceMask(mask *roaring.Bitmap) (*CSRColumn[T], error) {
	rows := make([]int, 0, mask.GetCardinality())
	it := mask.Iterator()
	for it.HasNext() {
		rows = append(rows, int(it.Next()))
	}
	return c.Slice(rows)
}

// RowsEqual returns the rows whose full contents equal the given sequence
// under the column's tolerance. An empty row equals only an empty sequence.
func (c *CSRColumn[T]) RowsEqual(row []T) *roaring.Bitmap {
	mask := roaring.New()
	for i := 0; i < c.Rows(); i++ {
		if sliceEqualWithin(c.tol, c.Row(i), row) {
			mask.Add(uint32(i))
		}
	}
	return mask
}

// RowsContain returns the rows holding at least one element equal to v.
// Empty rows contain nothing.
func (c *CSRColumn[T]) RowsContain(v T) *roaring.Bitmap {
	mask := roaring.New()
	for i := 0; i < c.Rows(); i++ {
		if sliceContains(c.tol, c.Row(i), v) {
			mask.Add(uint32(i))
		}
	}
	return mask
}

// RowsIntersect returns the rows sharing at least one element with values.
func (c *CSRColumn[T]) RowsIntersect(values []T) *roaring.Bitmap {
	mask := roaring.New()
	for i := 0; i < c.Rows(); i++ {
		for _, v := range c.Row(i) {
			if sliceContains(c.tol, values, v) {
				mask.Add(uint32(i))
				break
			}
		}
	}
	return mask
}

// Changed returns the accumulated per-row change mask. Treat as read-only.
func (c *CSRColumn[T]) Changed() *roaring.Bitmap {
	return c.changed
}

// Reset clears the accumulated change mask.
func (c *CSRColumn[T]) Reset() {
	c.changed = roaring.New()
}

// Resize grows the column to rows entries; new rows get the single-unit
// undefined placeholder, same as initial allocation. Existing rows and
// their change flags survive. Shrinking is not supported.
func (c *CSRColumn[T]) Resize(rows int) error {
	if rows < c.Rows() {
		return fmt.Errorf("cannot shrink column from %d to %d rows", c.Rows(), rows)
	}
	undef := schema.UndefinedOf[T]()
	for i := c.Rows(); i < rows; i++ {
		for k := 0; k < c.unit; k++ {
			c.data = append(c.data, undef)
		}
		c.rowPtr = append(c.rowPtr, len(c.data))
	}
	return nil
}

// UndefinedMask returns the rows still holding the single-unit undefined
// placeholder.
func (c *CSRColumn[T]) UndefinedMask() *roaring.Bitmap {
	mask := roaring.New()
	for i := 0; i < c.Rows(); i++ {
		if c.isUndefinedRow(i) {
			mask.Add(uint32(i))
		}
	}
	return mask
}

func (c *CSRColumn[T]) isUndefinedRow(row int) bool {
	vals := c.Row(row)
	if len(vals) != c.unit {
		return false
	}
	for _, v := range vals {
		if !schema.IsUndefined(v) {
			return false
		}
	}
	return true
}

// SpecialMask returns the non-empty rows whose elements all equal the
// special value under the column's tolerance.
func (c *CSRColumn[T]) SpecialMask(special T) *roaring.Bitmap {
	mask := roaring.New()
	for i := 0; i < c.Rows(); i++ {
		row := c.Row(i)
		if len(row) == 0 {
			continue
		}
		all := true
		for _, v := range row {
			if !equalWithin(c.tol, v, special) {
				all = false
				break
			}
		}
		if all {
			mask.Add(uint32(i))
		}
	}
	return mask
}

// allUndefined reports whether every row of a non-empty column is the
// undefined placeholder. Empty columns report false so that a group
// ingested with zero entities still counts as initialized.
func (c *CSRColumn[T]) allUndefined() bool {
	if c.Rows() == 0 {
		return false
	}
	for i := 0; i < c.Rows(); i++ {
		if !c.isUndefinedRow(i) {
			return false
		}
	}
	return true
}
