package state

import (
	"fmt"

	"github.com/RoaringBitmap/roaring"
	"github.com/sirupsen/logrus"

	"github.com/polysim/polysim/schema"
	"github.com/polysim/polysim/wire"
)

// Attribute wraps one tracked column with its schema identity, role flags,
// and sentinel semantics. The concrete types are UniformAttribute and
// CSRAttribute, parameterized by element type; models reach them through
// the Uniform and Ragged lookups.
type Attribute interface {
	Spec() schema.AttributeSpec
	Flags() Flags
	Rows() int
	// IsInitialized reports whether the backing column is allocated and
	// holds at least one defined value. A zero-row column counts as
	// initialized: a group legitimately ingested with no entities is ready.
	IsInitialized() bool
	Changed() (*roaring.Bitmap, error)
	UndefinedMask() (*roaring.Bitmap, error)
	SpecialMask() (*roaring.Bitmap, error)
	Reset()

	addFlags(f Flags)
	initialize(rows int)
	resize(rows int) error
	validateBlock(block wire.ValueBlock, rows int) error
	applyBlock(block wire.ValueBlock, rows []int) error
	generateBlock(mask *roaring.Bitmap) (wire.ValueBlock, error)
	setSpecial(v any) error
}

func newAttribute(dataset, group string, spec schema.AttributeSpec, flags Flags, tol Tolerance) Attribute {
	dt := spec.DataType()
	if dt.CSR {
		switch dt.Primitive {
		case schema.Bool:
			return newCSRAttribute[int8](dataset, group, spec, flags, tol)
		case schema.Int:
			return newCSRAttribute[int64](dataset, group, spec, flags, tol)
		case schema.Str:
			return newCSRAttribute[string](dataset, group, spec, flags, tol)
		default:
			return newCSRAttribute[float64](dataset, group, spec, flags, tol)
		}
	}
	switch dt.Primitive {
	case schema.Bool:
		return newUniformAttribute[int8](dataset, group, spec, flags, tol)
	case schema.Int:
		return newUniformAttribute[int64](dataset, group, spec, flags, tol)
	case schema.Str:
		return newUniformAttribute[string](dataset, group, spec, flags, tol)
	default:
		return newUniformAttribute[float64](dataset, group, spec, flags, tol)
	}
}

// UniformAttribute is a dense attribute: one fixed-size unit per entity.
type UniformAttribute[T schema.Element] struct {
	dataset string
	group   string
	spec    schema.AttributeSpec
	flags   Flags
	tol     Tolerance
	col     *Column[T]
	special *T
}

func newUniformAttribute[T schema.Element](dataset, group string, spec schema.AttributeSpec, flags Flags, tol Tolerance) *UniformAttribute[T] {
	return &UniformAttribute[T]{dataset: dataset, group: group, spec: spec, flags: flags, tol: tol.orDefault()}
}

func (a *UniformAttribute[T]) Spec() schema.AttributeSpec { return a.spec }
func (a *UniformAttribute[T]) Flags() Flags               { return a.flags }
func (a *UniformAttribute[T]) addFlags(f Flags)           { a.flags |= f }

// Column exposes the backing buffer for direct model mutation. Nil until
// the first update initializes the attribute.
func (a *UniformAttribute[T]) Column() *Column[T] { return a.col }

func (a *UniformAttribute[T]) Rows() int {
	if a.col == nil {
		return 0
	}
	return a.col.Rows()
}

func (a *UniformAttribute[T]) IsInitialized() bool {
	return a.col != nil && !a.col.allUndefined()
}

func (a *UniformAttribute[T]) Changed() (*roaring.Bitmap, error) {
	if a.col == nil {
		return nil, a.uninitialized()
	}
	return a.col.Changed(), nil
}

func (a *UniformAttribute[T]) UndefinedMask() (*roaring.Bitmap, error) {
	if a.col == nil {
		return nil, a.uninitialized()
	}
	return a.col.UndefinedMask(), nil
}

func (a *UniformAttribute[T]) SpecialMask() (*roaring.Bitmap, error) {
	if a.col == nil {
		return nil, a.uninitialized()
	}
	if a.special == nil {
		return roaring.New(), nil
	}
	return a.col.SpecialMask(*a.special), nil
}

func (a *UniformAttribute[T]) Reset() {
	if a.col != nil {
		a.col.Reset()
	}
}

// Special returns the configured special value, if any.
func (a *UniformAttribute[T]) Special() (T, bool) {
	if a.special == nil {
		var zero T
		return zero, false
	}
	return *a.special, true
}

// SetSpecial configures the special value. The value sticks once: a
// conflicting second assignment is logged and ignored, first wins.
func (a *UniformAttribute[T]) SetSpecial(v T) {
	if a.special != nil {
		if !equalWithin(a.tol, *a.special, v) {
			logrus.Warnf("conflicting special value for %s: keeping %v, ignoring %v",
				attrPath(a.dataset, a.group, a.spec.Key()), *a.special, v)
		}
		return
	}
	a.special = &v
}

func (a *UniformAttribute[T]) setSpecial(v any) error {
	sv, err := specialValue[T](v)
	if err != nil {
		return &ConfigurationError{Dataset: a.dataset, Group: a.group, Attr: a.spec.Key(), Message: err.Error()}
	}
	a.SetSpecial(sv)
	return nil
}

func (a *UniformAttribute[T]) initialize(rows int) {
	a.col = NewColumn[T](rows, a.spec.DataType().UnitSize(), a.tol)
}

func (a *UniformAttribute[T]) resize(rows int) error {
	if a.col == nil {
		return a.uninitialized()
	}
	return a.col.Resize(rows)
}

func (a *UniformAttribute[T]) validateBlock(block wire.ValueBlock, rows int) error {
	if block.IsCSR() {
		return a.malformed("ragged data for a uniform attribute")
	}
	vals, err := blockElements[T](block)
	if err != nil {
		return a.malformed(err.Error())
	}
	unit := a.spec.DataType().UnitSize()
	if block.UnitSize() > 1 && block.UnitSize() != unit {
		return a.malformed(fmt.Sprintf("unit size %d does not match declared %d", block.UnitSize(), unit))
	}
	if len(vals) != rows*unit {
		return a.malformed(fmt.Sprintf("%d elements for %d rows of %d", len(vals), rows, unit))
	}
	return nil
}

func (a *UniformAttribute[T]) applyBlock(block wire.ValueBlock, rows []int) error {
	if err := a.validateBlock(block, len(rows)); err != nil {
		return err
	}
	if a.col == nil {
		return a.uninitialized()
	}
	vals, err := blockElements[T](block)
	if err != nil {
		return a.malformed(err.Error())
	}
	unit := a.col.UnitSize()
	merged := make([]T, unit)
	for k, row := range rows {
		cur := a.col.Row(row)
		for j := 0; j < unit; j++ {
			if v := vals[k*unit+j]; schema.IsUndefined(v) {
				// Explicit undefined never overwrites defined data.
				merged[j] = cur[j]
			} else {
				merged[j] = v
			}
		}
		if err := a.col.SetRow(row, merged); err != nil {
			return err
		}
	}
	return nil
}

func (a *UniformAttribute[T]) generateBlock(mask *roaring.Bitmap) (wire.ValueBlock, error) {
	if a.col == nil {
		return wire.ValueBlock{}, a.uninitialized()
	}
	unit := a.col.UnitSize()
	changed := a.col.Changed()
	undef := schema.UndefinedOf[T]()
	vals := make([]T, 0, int(mask.GetCardinality())*unit)
	it := mask.Iterator()
	for it.HasNext() {
		row := it.Next()
		if changed.Contains(row) {
			vals = append(vals, a.col.Row(int(row))...)
		} else {
			// Placeholder keeps the delta aligned with the id list while
			// reporting no value for this entity.
			for j := 0; j < unit; j++ {
				vals = append(vals, undef)
			}
		}
	}
	return blockFromElements(vals, unit, nil), nil
}

func (a *UniformAttribute[T]) uninitialized() error {
	return &UninitializedAccessError{Dataset: a.dataset, Group: a.group, Attr: a.spec.Key()}
}

func (a *UniformAttribute[T]) malformed(msg string) error {
	return &MalformedUpdateError{Dataset: a.dataset, Group: a.group, Attr: a.spec.Key(), Message: msg}
}

// CSRAttribute is a ragged attribute: a variable number of units per
// entity, packed in CSR form.
type CSRAttribute[T schema.Element] struct {
	dataset string
	group   string
	spec    schema.AttributeSpec
	flags   Flags
	tol     Tolerance
	col     *CSRColumn[T]
	special *T
}

func newCSRAttribute[T schema.Element](dataset, group string, spec schema.AttributeSpec, flags Flags, tol Tolerance) *CSRAttribute[T] {
	return &CSRAttribute[T]{dataset: dataset, group: group, spec: spec, flags: flags, tol: tol.orDefault()}
}

func (a *CSRAttribute[T]) Spec() schema.AttributeSpec { return a.spec }
func (a *CSRAttribute[T]) Flags() Flags               { return a.flags }
func (a *CSRAttribute[T]) addFlags(f Flags)           { a.flags |= f }

// Column exposes the backing CSR buffer for direct model use. Nil until
// the first update initializes the attribute.
func (a *CSRAttribute[T]) Column() *CSRColumn[T] { return a.col }

func (a *CSRAttribute[T]) Rows() int {
	if a.col == nil {
		return 0
	}
	return a.col.Rows()
}

func (a *CSRAttribute[T]) IsInitialized() bool {
	return a.col != nil && !a.col.allUndefined()
}

func (a *CSRAttribute[T]) Changed() (*roaring.Bitmap, error) {
	if a.col == nil {
		return nil, a.uninitialized()
	}
	return a.col.Changed(), nil
}

func (a *CSRAttribute[T]) UndefinedMask() (*roaring.Bitmap, error) {
	if a.col == nil {
		return nil, a.uninitialized()
	}
	return a.col.UndefinedMask(), nil
}

func (a *CSRAttribute[T]) SpecialMask() (*roaring.Bitmap, error) {
	if a.col == nil {
		return nil, a.uninitialized()
	}
	if a.special == nil {
		return roaring.New(), nil
	}
	return a.col.SpecialMask(*a.special), nil
}

func (a *CSRAttribute[T]) Reset() {
	if a.col != nil {
		a.col.Reset()
	}
}

// Special returns the configured special value, if any.
func (a *CSRAttribute[T]) Special() (T, bool) {
	if a.special == nil {
		var zero T
		return zero, false
	}
	return *a.special, true
}

// SetSpecial configures the special value, first assignment wins.
func (a *CSRAttribute[T]) SetSpecial(v T) {
	if a.special != nil {
		if !equalWithin(a.tol, *a.special, v) {
			logrus.Warnf("conflicting special value for %s: keeping %v, ignoring %v",
				attrPath(a.dataset, a.group, a.spec.Key()), *a.special, v)
		}
		return
	}
	a.special = &v
}

func (a *CSRAttribute[T]) setSpecial(v any) error {
	sv, err := specialValue[T](v)
	if err != nil {
		return &ConfigurationError{Dataset: a.dataset, Group: a.group, Attr: a.spec.Key(), Message: err.Error()}
	}
	a.SetSpecial(sv)
	return nil
}

func (a *CSRAttribute[T]) initialize(rows int) {
	a.col = NewCSRColumn[T](rows, a.spec.DataType().UnitSize(), a.tol)
}

func (a *CSRAttribute[T]) resize(rows int) error {
	if a.col == nil {
		return a.uninitialized()
	}
	return a.col.Resize(rows)
}

func (a *CSRAttribute[T]) validateBlock(block wire.ValueBlock, rows int) error {
	if !block.IsCSR() {
		return a.malformed("uniform data for a ragged attribute")
	}
	if block.Rows() != rows {
		return a.malformed(fmt.Sprintf("%d update rows for %d target rows", block.Rows(), rows))
	}
	if _, err := blockElements[T](block); err != nil {
		return a.malformed(err.Error())
	}
	unit := a.spec.DataType().UnitSize()
	if block.UnitSize() > 1 && block.UnitSize() != unit {
		return a.malformed(fmt.Sprintf("unit size %d does not match declared %d", block.UnitSize(), unit))
	}
	if err := validateRowPtr(elementRowPtr(block.RowPtr, block.UnitSize()), block.Elements(), unit); err != nil {
		return a.malformed(err.Error())
	}
	return nil
}

func (a *CSRAttribute[T]) applyBlock(block wire.ValueBlock, rows []int) error {
	if err := a.validateBlock(block, len(rows)); err != nil {
		return err
	}
	if a.col == nil {
		return a.uninitialized()
	}
	vals, err := blockElements[T](block)
	if err != nil {
		return a.malformed(err.Error())
	}
	// An incoming single-unit undefined row is the wire spelling of "no
	// update for this entity"; passing it as the skip value keeps defined
	// rows intact.
	undef := schema.UndefinedOf[T]()
	ptr := elementRowPtr(block.RowPtr, block.UnitSize())
	if err := a.col.Update(vals, ptr, rows, &undef); err != nil {
		return a.malformed(err.Error())
	}
	return nil
}

func (a *CSRAttribute[T]) generateBlock(mask *roaring.Bitmap) (wire.ValueBlock, error) {
	if a.col == nil {
		return wire.ValueBlock{}, a.uninitialized()
	}
	unit := a.col.UnitSize()
	changed := a.col.Changed()
	undef := schema.UndefinedOf[T]()
	vals := make([]T, 0, int(mask.GetCardinality())*unit)
	rowPtr := make([]int, 1, int(mask.GetCardinality())+1)
	it := mask.Iterator()
	for it.HasNext() {
		row := it.Next()
		if changed.Contains(row) {
			vals = append(vals, a.col.Row(int(row))...)
		} else {
			for j := 0; j < unit; j++ {
				vals = append(vals, undef)
			}
		}
		rowPtr = append(rowPtr, len(vals)/unit)
	}
	return blockFromElements(vals, unit, rowPtr), nil
}

func (a *CSRAttribute[T]) uninitialized() error {
	return &UninitializedAccessError{Dataset: a.dataset, Group: a.group, Attr: a.spec.Key()}
}

func (a *CSRAttribute[T]) malformed(msg string) error {
	return &MalformedUpdateError{Dataset: a.dataset, Group: a.group, Attr: a.spec.Key(), Message: msg}
}

// elementRowPtr scales wire row offsets (whole units) to element offsets.
func elementRowPtr(unitPtr []int, unit int) []int {
	if unit == 1 {
		return unitPtr
	}
	out := make([]int, len(unitPtr))
	for i, p := range unitPtr {
		out[i] = p * unit
	}
	return out
}

// blockElements converts a block's payload to the attribute's element
// type, mapping the source primitive's undefined sentinel onto the
// target's. String data never converts to numeric types and vice versa.
func blockElements[T schema.Element](block wire.ValueBlock) ([]T, error) {
	var out any
	var err error
	switch schema.PrimitiveFor[T]() {
	case schema.Bool:
		out, err = blockBools(block)
	case schema.Int:
		out, err = blockInts(block)
	case schema.Float:
		out, err = blockFloats(block)
	default:
		out, err = blockStrings(block)
	}
	if err != nil {
		return nil, err
	}
	return out.([]T), nil
}

func blockBools(b wire.ValueBlock) ([]int8, error) {
	switch {
	case b.Bools != nil:
		return b.Bools, nil
	case b.Ints != nil:
		out := make([]int8, len(b.Ints))
		for i, v := range b.Ints {
			if v == schema.UndefinedInt {
				out[i] = schema.UndefinedBool
			} else {
				out[i] = int8(v)
			}
		}
		return out, nil
	case b.Floats != nil:
		out := make([]int8, len(b.Floats))
		for i, v := range b.Floats {
			if schema.IsUndefined(v) {
				out[i] = schema.UndefinedBool
			} else {
				out[i] = int8(v)
			}
		}
		return out, nil
	case b.Strings != nil:
		return nil, fmt.Errorf("cannot apply string data to a bool attribute")
	}
	return nil, fmt.Errorf("value block carries no data")
}

func blockInts(b wire.ValueBlock) ([]int64, error) {
	switch {
	case b.Ints != nil:
		return b.Ints, nil
	case b.Bools != nil:
		out := make([]int64, len(b.Bools))
		for i, v := range b.Bools {
			if v == schema.UndefinedBool {
				out[i] = schema.UndefinedInt
			} else {
				out[i] = int64(v)
			}
		}
		return out, nil
	case b.Floats != nil:
		out := make([]int64, len(b.Floats))
		for i, v := range b.Floats {
			if schema.IsUndefined(v) {
				out[i] = schema.UndefinedInt
			} else {
				out[i] = int64(v)
			}
		}
		return out, nil
	case b.Strings != nil:
		return nil, fmt.Errorf("cannot apply string data to an int attribute")
	}
	return nil, fmt.Errorf("value block carries no data")
}

func blockFloats(b wire.ValueBlock) ([]float64, error) {
	switch {
	case b.Floats != nil:
		return b.Floats, nil
	case b.Ints != nil:
		out := make([]float64, len(b.Ints))
		for i, v := range b.Ints {
			if v == schema.UndefinedInt {
				out[i] = schema.UndefinedFloat()
			} else {
				out[i] = float64(v)
			}
		}
		return out, nil
	case b.Bools != nil:
		out := make([]float64, len(b.Bools))
		for i, v := range b.Bools {
			if v == schema.UndefinedBool {
				out[i] = schema.UndefinedFloat()
			} else {
				out[i] = float64(v)
			}
		}
		return out, nil
	case b.Strings != nil:
		return nil, fmt.Errorf("cannot apply string data to a float attribute")
	}
	return nil, fmt.Errorf("value block carries no data")
}

func blockStrings(b wire.ValueBlock) ([]string, error) {
	if b.Strings != nil {
		return b.Strings, nil
	}
	if b.Bools != nil || b.Ints != nil || b.Floats != nil {
		return nil, fmt.Errorf("cannot apply numeric data to a string attribute")
	}
	return nil, fmt.Errorf("value block carries no data")
}

// blockFromElements packs typed elements back into a wire block. rowPtr is
// nil for uniform attributes and unit-scaled for ragged ones.
func blockFromElements[T schema.Element](vals []T, unit int, rowPtr []int) wire.ValueBlock {
	b := wire.ValueBlock{Unit: unit, RowPtr: rowPtr}
	switch v := any(vals).(type) {
	case []int8:
		b.Bools = v
	case []int64:
		b.Ints = v
	case []float64:
		b.Floats = v
	case []string:
		b.Strings = v
	}
	return b
}

// specialValue coerces a scenario-supplied special value to the
// attribute's element type.
func specialValue[T schema.Element](v any) (T, error) {
	var zero T
	var out any
	switch schema.PrimitiveFor[T]() {
	case schema.Bool:
		switch b := v.(type) {
		case bool:
			if b {
				out = int8(1)
			} else {
				out = int8(0)
			}
		default:
			n, ok := wire.AsInt64(v)
			if !ok {
				return zero, fmt.Errorf("special value %v is not a bool", v)
			}
			out = int8(n)
		}
	case schema.Int:
		n, ok := wire.AsInt64(v)
		if !ok {
			return zero, fmt.Errorf("special value %v is not an integer", v)
		}
		out = n
	case schema.Float:
		f, ok := wire.AsFloat64(v)
		if !ok {
			return zero, fmt.Errorf("special value %v is not a number", v)
		}
		out = f
	default:
		s, ok := v.(string)
		if !ok {
			return zero, fmt.Errorf("special value %v is not a string", v)
		}
		out = s
	}
	return out.(T), nil
}
