// Defines the primitive value types an attribute may carry, their reserved
// undefined sentinels, and the DataType descriptor combining a primitive with
// a unit shape and storage layout.

package schema

import (
	"fmt"
	"math"
	"strings"
)

// Primitive identifies the scalar type of an attribute's elements.
type Primitive string

const (
	Bool  Primitive = "bool"
	Int   Primitive = "int"
	Float Primitive = "float"
	Str   Primitive = "str"
)

// validPrimitives maps accepted primitive names.
var validPrimitives = map[Primitive]bool{
	Bool: true, Int: true, Float: true, Str: true,
}

// IsValidPrimitive reports whether name is a recognized primitive type.
func IsValidPrimitive(name string) bool {
	return validPrimitives[Primitive(name)]
}

// Element is the set of Go types that back attribute columns. Bool columns
// are int8-backed (0 = false, 1 = true) so that the undefined sentinel can
// live in-band, the same as the other primitives.
type Element interface {
	int8 | int64 | float64 | string
}

// Reserved undefined sentinels, one per primitive. A value equal to its
// type's sentinel means "no data supplied" at the wire level.
const (
	UndefinedBool int8   = math.MinInt8
	UndefinedInt  int64  = math.MinInt64
	UndefinedStr  string = "_udf_"
)

// UndefinedFloat returns the float sentinel (NaN). A function because NaN
// cannot be a Go constant.
func UndefinedFloat() float64 {
	return math.NaN()
}

// UndefinedOf returns the undefined sentinel for the element type T.
func UndefinedOf[T Element]() T {
	var v T
	switch p := any(&v).(type) {
	case *int8:
		*p = UndefinedBool
	case *int64:
		*p = UndefinedInt
	case *float64:
		*p = math.NaN()
	case *string:
		*p = UndefinedStr
	}
	return v
}

// IsUndefined reports whether v equals the undefined sentinel for its type.
// Floats use an IsNaN test since NaN != NaN.
func IsUndefined[T Element](v T) bool {
	switch a := any(v).(type) {
	case float64:
		return math.IsNaN(a)
	case int8:
		return a == UndefinedBool
	case int64:
		return a == UndefinedInt
	case string:
		return a == UndefinedStr
	}
	return false
}

// PrimitiveFor returns the Primitive corresponding to the element type T.
func PrimitiveFor[T Element]() Primitive {
	var v T
	switch any(v).(type) {
	case int8:
		return Bool
	case int64:
		return Int
	case float64:
		return Float
	default:
		return Str
	}
}

// DataType describes the storage type of one attribute: its primitive, the
// per-entity unit shape (empty means scalar), and whether rows are ragged
// (CSR layout) rather than uniform.
type DataType struct {
	Primitive Primitive
	UnitShape []int
	CSR       bool
}

// UnitSize returns the number of elements one unit occupies: the product of
// UnitShape, or 1 for scalars.
func (dt DataType) UnitSize() int {
	size := 1
	for _, d := range dt.UnitShape {
		size *= d
	}
	return size
}

// Validate checks the data type for internal consistency.
func (dt DataType) Validate() error {
	if !validPrimitives[dt.Primitive] {
		return fmt.Errorf("unknown primitive %q; valid: bool, int, float, str", dt.Primitive)
	}
	for _, d := range dt.UnitShape {
		if d <= 0 {
			return fmt.Errorf("unit_shape dimensions must be positive, got %v", dt.UnitShape)
		}
	}
	return nil
}

// String renders the data type, e.g. "float", "float(2)", "int/csr".
func (dt DataType) String() string {
	var sb strings.Builder
	sb.WriteString(string(dt.Primitive))
	if len(dt.UnitShape) > 0 {
		dims := make([]string, len(dt.UnitShape))
		for i, d := range dt.UnitShape {
			dims[i] = fmt.Sprint(d)
		}
		sb.WriteString("(" + strings.Join(dims, ",") + ")")
	}
	if dt.CSR {
		sb.WriteString("/csr")
	}
	return sb.String()
}
