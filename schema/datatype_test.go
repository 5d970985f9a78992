package schema

import (
	"math"
	"testing"
)

func TestUndefinedSentinels(t *testing.T) {
	// GIVEN the typed undefined sentinels
	// THEN each generic accessor agrees with its constant
	if UndefinedOf[int8]() != UndefinedBool {
		t.Errorf("UndefinedOf[int8]() = %d, want %d", UndefinedOf[int8](), UndefinedBool)
	}
	if UndefinedOf[int64]() != UndefinedInt {
		t.Errorf("UndefinedOf[int64]() = %d, want %d", UndefinedOf[int64](), UndefinedInt)
	}
	if !math.IsNaN(UndefinedOf[float64]()) {
		t.Errorf("UndefinedOf[float64]() = %v, want NaN", UndefinedOf[float64]())
	}
	if UndefinedOf[string]() != UndefinedStr {
		t.Errorf("UndefinedOf[string]() = %q, want %q", UndefinedOf[string](), UndefinedStr)
	}
}

func TestIsUndefined(t *testing.T) {
	// GIVEN sentinel and ordinary values of every primitive
	// THEN only the sentinels test as undefined
	if !IsUndefined(UndefinedBool) || IsUndefined(int8(0)) || IsUndefined(int8(1)) {
		t.Error("int8 undefined detection broken")
	}
	if !IsUndefined(UndefinedInt) || IsUndefined(int64(0)) {
		t.Error("int64 undefined detection broken")
	}
	if !IsUndefined(UndefinedFloat()) || IsUndefined(0.0) || IsUndefined(math.Inf(1)) {
		t.Error("float64 undefined detection broken")
	}
	if !IsUndefined(UndefinedStr) || IsUndefined("") || IsUndefined("udf") {
		t.Error("string undefined detection broken")
	}
}

func TestPrimitiveFor(t *testing.T) {
	if got := PrimitiveFor[int8](); got != Bool {
		t.Errorf("PrimitiveFor[int8]() = %s, want %s", got, Bool)
	}
	if got := PrimitiveFor[int64](); got != Int {
		t.Errorf("PrimitiveFor[int64]() = %s, want %s", got, Int)
	}
	if got := PrimitiveFor[float64](); got != Float {
		t.Errorf("PrimitiveFor[float64]() = %s, want %s", got, Float)
	}
	if got := PrimitiveFor[string](); got != Str {
		t.Errorf("PrimitiveFor[string]() = %s, want %s", got, Str)
	}
}

func TestIsValidPrimitive(t *testing.T) {
	tests := []struct {
		name  string
		valid bool
	}{
		{"bool", true},
		{"int", true},
		{"float", true},
		{"str", true},
		{"double", false},
		{"", false},
		{"Float", false}, // case-sensitive
	}
	for _, tt := range tests {
		if got := IsValidPrimitive(tt.name); got != tt.valid {
			t.Errorf("IsValidPrimitive(%q) = %v, want %v", tt.name, got, tt.valid)
		}
	}
}

func TestDataType_UnitSize(t *testing.T) {
	tests := []struct {
		shape []int
		want  int
	}{
		{nil, 1},
		{[]int{}, 1},
		{[]int{2}, 2},
		{[]int{2, 3}, 6},
	}
	for _, tt := range tests {
		dt := DataType{Primitive: Float, UnitShape: tt.shape}
		if got := dt.UnitSize(); got != tt.want {
			t.Errorf("UnitSize(%v) = %d, want %d", tt.shape, got, tt.want)
		}
	}
}

func TestDataType_String(t *testing.T) {
	tests := []struct {
		dt   DataType
		want string
	}{
		{DataType{Primitive: Float}, "float"},
		{DataType{Primitive: Float, UnitShape: []int{2}}, "float(2)"},
		{DataType{Primitive: Int, CSR: true}, "int/csr"},
		{DataType{Primitive: Float, UnitShape: []int{2, 3}, CSR: true}, "float(2,3)/csr"},
	}
	for _, tt := range tests {
		if got := tt.dt.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestDataType_Validate(t *testing.T) {
	valid := DataType{Primitive: Int, UnitShape: []int{2}, CSR: true}
	if err := valid.Validate(); err != nil {
		t.Errorf("valid data type rejected: %v", err)
	}
	if err := (DataType{Primitive: "double"}).Validate(); err == nil {
		t.Error("unknown primitive accepted")
	}
	if err := (DataType{Primitive: Int, UnitShape: []int{-1}}).Validate(); err == nil {
		t.Error("negative unit shape accepted")
	}
}
