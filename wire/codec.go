package wire

// Conversion core shared by the JSON and MessagePack codecs. Both formats
// decode into generic maps first and meet here, so the structural rules
// (id required, row_ptr/indptr detection, schema-driven typing, undefined =
// null) live in exactly one place.

import (
	"fmt"
	"math"

	"github.com/polysim/polysim/schema"
)

const (
	generalKey = "general"
	idKey      = "id"
	dataKey    = "data"
	rowPtrKey  = "row_ptr"
	indPtrKey  = "indptr"
)

// decodeUpdate walks a generic payload map and produces a typed Update.
// Attribute identities found in reg decode to their declared primitive;
// unknown attributes fall back by wire type (bool → bool, number → float,
// string → str).
func decodeUpdate(raw map[string]any, reg *schema.Registry) (*Update, error) {
	u := NewUpdate()
	for datasetName, v := range raw {
		obj, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: dataset %q is not an object", ErrMalformedUpdate, datasetName)
		}
		ds := u.Dataset(datasetName)
		for key, gv := range obj {
			inner, ok := gv.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: dataset %q: section %q is not an object", ErrMalformedUpdate, datasetName, key)
			}
			if key == generalKey {
				general, err := decodeGeneral(datasetName, inner)
				if err != nil {
					return nil, err
				}
				ds.General = general
				continue
			}
			group, err := decodeGroup(datasetName, key, inner, reg)
			if err != nil {
				return nil, err
			}
			ds.Groups[key] = group
		}
	}
	return u, nil
}

func decodeGeneral(dataset string, obj map[string]any) (*General, error) {
	general := &General{}
	for key, v := range obj {
		switch key {
		case "special":
			m, ok := v.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: dataset %q: general.special is not an object", ErrMalformedUpdate, dataset)
			}
			general.Special = make(map[string]any, len(m))
			for path, value := range m {
				general.Special[path] = normalizeScalar(value)
			}
		case "enum":
			m, ok := v.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: dataset %q: general.enum is not an object", ErrMalformedUpdate, dataset)
			}
			general.Enums = make(map[string][]string, len(m))
			for name, labels := range m {
				list, ok := labels.([]any)
				if !ok {
					return nil, fmt.Errorf("%w: dataset %q: enum %q is not a list", ErrMalformedUpdate, dataset, name)
				}
				out := make([]string, len(list))
				for i, l := range list {
					s, ok := l.(string)
					if !ok {
						return nil, fmt.Errorf("%w: dataset %q: enum %q label %d is not a string", ErrMalformedUpdate, dataset, name, i)
					}
					out[i] = s
				}
				general.Enums[name] = out
			}
		default:
			return nil, fmt.Errorf("%w: dataset %q: unknown general section key %q", ErrMalformedUpdate, dataset, key)
		}
	}
	return general, nil
}

func decodeGroup(dataset, group string, obj map[string]any, reg *schema.Registry) (*GroupBlock, error) {
	idRaw, ok := obj[idKey]
	if !ok {
		return nil, fmt.Errorf("%w: dataset %q, entity group %q: missing %q key", ErrMalformedUpdate, dataset, group, idKey)
	}
	idObj, ok := idRaw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: dataset %q, entity group %q: %q is not an object", ErrMalformedUpdate, dataset, group, idKey)
	}
	idBlock, err := decodeValueBlock(path(dataset, group, "", idKey), specFor(reg, "", idKey, forceInt), idObj)
	if err != nil {
		return nil, err
	}
	if idBlock.Ints == nil || idBlock.IsCSR() {
		return nil, fmt.Errorf("%w: dataset %q, entity group %q: %q must be a uniform integer block", ErrMalformedUpdate, dataset, group, idKey)
	}

	gb := NewGroupBlock(idBlock.Ints)
	for key, v := range obj {
		if key == idKey {
			continue
		}
		inner, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %s is not an object", ErrMalformedUpdate, path(dataset, group, "", key))
		}
		if _, leaf := inner[dataKey]; leaf {
			block, err := decodeValueBlock(path(dataset, group, "", key), specFor(reg, "", key, inferType), inner)
			if err != nil {
				return nil, err
			}
			gb.Set("", key, block)
			continue
		}
		// One level of component grouping.
		for name, av := range inner {
			attrObj, ok := av.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: %s is not an object", ErrMalformedUpdate, path(dataset, group, key, name))
			}
			block, err := decodeValueBlock(path(dataset, group, key, name), specFor(reg, key, name, inferType), attrObj)
			if err != nil {
				return nil, err
			}
			gb.Set(key, name, block)
		}
	}

	for _, block := range gb.Attributes {
		if err := checkRowCount(dataset, group, block, len(gb.IDs)); err != nil {
			return nil, err
		}
	}
	for _, inner := range gb.Components {
		for _, block := range inner {
			if err := checkRowCount(dataset, group, block, len(gb.IDs)); err != nil {
				return nil, err
			}
		}
	}
	return gb, nil
}

func checkRowCount(dataset, group string, block ValueBlock, rows int) error {
	if block.Rows() != rows {
		return fmt.Errorf("%w: dataset %q, entity group %q: block addresses %d rows, ids name %d",
			ErrMalformedUpdate, dataset, group, block.Rows(), rows)
	}
	return nil
}

// typing policy for decodeValueBlock when the attribute is not registered
type typePolicy int8

const (
	inferType typePolicy = iota
	forceInt
)

// specFor resolves the declared spec for an attribute, or nil for fallback
// typing. The id pseudo-attribute is always integer-typed.
func specFor(reg *schema.Registry, component, name string, policy typePolicy) *schema.AttributeSpec {
	if policy == forceInt {
		return &schema.AttributeSpec{Name: name, Primitive: schema.Int}
	}
	if reg == nil {
		return nil
	}
	if spec, ok := reg.Get(component, name); ok {
		return &spec
	}
	return nil
}

// decodeValueBlock parses one {"data": ..., "row_ptr"?: ...} object.
func decodeValueBlock(path string, spec *schema.AttributeSpec, obj map[string]any) (ValueBlock, error) {
	var block ValueBlock
	dataRaw, ok := obj[dataKey]
	if !ok {
		return block, fmt.Errorf("%w: %s: missing %q key", ErrMalformedUpdate, path, dataKey)
	}
	for key := range obj {
		switch key {
		case dataKey, rowPtrKey, indPtrKey:
		default:
			return block, fmt.Errorf("%w: %s: unknown key %q in value block", ErrMalformedUpdate, path, key)
		}
	}
	if ptrRaw, ok := obj[rowPtrKey]; ok {
		ptr, err := decodeRowPtr(path, ptrRaw)
		if err != nil {
			return block, err
		}
		block.RowPtr = ptr
	} else if ptrRaw, ok := obj[indPtrKey]; ok {
		ptr, err := decodeRowPtr(path, ptrRaw)
		if err != nil {
			return block, err
		}
		block.RowPtr = ptr
	}

	list, ok := dataRaw.([]any)
	if !ok {
		return block, fmt.Errorf("%w: %s: data is not a list", ErrMalformedUpdate, path)
	}
	flat, unit, err := flattenUnits(path, list)
	if err != nil {
		return block, err
	}
	block.Unit = unit

	prim := inferPrimitive(flat)
	if spec != nil {
		prim = spec.Primitive
		if want := spec.DataType().UnitSize(); unit == 1 && want > 1 && len(flat)%want == 0 {
			// Pre-flattened multi-dimensional data; trust the declared shape.
			block.Unit = want
		}
	}
	if err := fillValues(path, &block, prim, flat); err != nil {
		return block, err
	}
	if err := block.Validate(); err != nil {
		return block, fmt.Errorf("%s: %w", path, err)
	}
	return block, nil
}

func decodeRowPtr(path string, raw any) ([]int, error) {
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s: row_ptr is not a list", ErrMalformedUpdate, path)
	}
	out := make([]int, len(list))
	for i, v := range list {
		n, ok := AsInt64(v)
		if !ok {
			return nil, fmt.Errorf("%w: %s: row_ptr[%d] is not an integer", ErrMalformedUpdate, path, i)
		}
		out[i] = int(n)
	}
	return out, nil
}

// flattenUnits flattens one level of nesting: [[a,b],[c,d]] becomes
// [a,b,c,d] with unit 2. Mixed scalar/list elements are malformed.
func flattenUnits(path string, list []any) ([]any, int, error) {
	if len(list) == 0 {
		return nil, 1, nil
	}
	_, nested := list[0].([]any)
	if !nested {
		for i, v := range list {
			if _, isList := v.([]any); isList {
				return nil, 0, fmt.Errorf("%w: %s: mixed scalar and list elements at index %d", ErrMalformedUpdate, path, i)
			}
		}
		return list, 1, nil
	}
	unit := len(list[0].([]any))
	flat := make([]any, 0, len(list)*unit)
	for i, v := range list {
		sub, ok := v.([]any)
		if !ok {
			return nil, 0, fmt.Errorf("%w: %s: mixed scalar and list elements at index %d", ErrMalformedUpdate, path, i)
		}
		if len(sub) != unit {
			return nil, 0, fmt.Errorf("%w: %s: ragged unit at index %d (len %d, want %d); use row_ptr for ragged data",
				ErrMalformedUpdate, path, i, len(sub), unit)
		}
		flat = append(flat, sub...)
	}
	return flat, unit, nil
}

// inferPrimitive types an undeclared attribute by its first defined value.
func inferPrimitive(flat []any) schema.Primitive {
	for _, v := range flat {
		switch v.(type) {
		case nil:
			continue
		case bool:
			return schema.Bool
		case string:
			return schema.Str
		default:
			return schema.Float
		}
	}
	return schema.Float
}

func fillValues(path string, block *ValueBlock, prim schema.Primitive, flat []any) error {
	switch prim {
	case schema.Bool:
		out := make([]int8, len(flat))
		for i, v := range flat {
			switch b := v.(type) {
			case nil:
				out[i] = schema.UndefinedBool
			case bool:
				if b {
					out[i] = 1
				}
			default:
				n, ok := AsInt64(v)
				if !ok {
					return fmt.Errorf("%w: %s: element %d is not a bool", ErrMalformedUpdate, path, i)
				}
				out[i] = int8(n)
			}
		}
		block.Bools = out
	case schema.Int:
		out := make([]int64, len(flat))
		for i, v := range flat {
			if v == nil {
				out[i] = schema.UndefinedInt
				continue
			}
			n, ok := AsInt64(v)
			if !ok {
				return fmt.Errorf("%w: %s: element %d is not an integer", ErrMalformedUpdate, path, i)
			}
			out[i] = n
		}
		block.Ints = out
	case schema.Float:
		out := make([]float64, len(flat))
		for i, v := range flat {
			if v == nil {
				out[i] = schema.UndefinedFloat()
				continue
			}
			f, ok := AsFloat64(v)
			if !ok {
				return fmt.Errorf("%w: %s: element %d is not a number", ErrMalformedUpdate, path, i)
			}
			out[i] = f
		}
		block.Floats = out
	case schema.Str:
		out := make([]string, len(flat))
		for i, v := range flat {
			if v == nil {
				out[i] = schema.UndefinedStr
				continue
			}
			s, ok := v.(string)
			if !ok {
				return fmt.Errorf("%w: %s: element %d is not a string", ErrMalformedUpdate, path, i)
			}
			out[i] = s
		}
		block.Strings = out
	}
	return nil
}

func path(dataset, group, component, name string) string {
	if component == "" {
		return fmt.Sprintf("dataset %q, entity group %q, attribute %q", dataset, group, name)
	}
	return fmt.Sprintf("dataset %q, entity group %q, attribute %q/%q", dataset, group, component, name)
}

// encodeUpdate renders an Update back into the generic map shape shared by
// both serializations. Undefined elements encode as null.
func encodeUpdate(u *Update) map[string]any {
	out := make(map[string]any, len(u.Datasets))
	for datasetName, ds := range u.Datasets {
		obj := make(map[string]any, len(ds.Groups)+1)
		if ds.General != nil {
			general := make(map[string]any, 2)
			if len(ds.General.Special) > 0 {
				general["special"] = ds.General.Special
			}
			if len(ds.General.Enums) > 0 {
				enums := make(map[string]any, len(ds.General.Enums))
				for name, labels := range ds.General.Enums {
					list := make([]any, len(labels))
					for i, l := range labels {
						list[i] = l
					}
					enums[name] = list
				}
				general["enum"] = enums
			}
			obj[generalKey] = general
		}
		for groupName, gb := range ds.Groups {
			obj[groupName] = encodeGroup(gb)
		}
		out[datasetName] = obj
	}
	return out
}

func encodeGroup(gb *GroupBlock) map[string]any {
	obj := make(map[string]any, gb.Len()+1)
	ids := make([]any, len(gb.IDs))
	for i, id := range gb.IDs {
		ids[i] = id
	}
	obj[idKey] = map[string]any{dataKey: ids}
	for name, block := range gb.Attributes {
		obj[name] = encodeValueBlock(block)
	}
	for component, inner := range gb.Components {
		comp := make(map[string]any, len(inner))
		for name, block := range inner {
			comp[name] = encodeValueBlock(block)
		}
		obj[component] = comp
	}
	return obj
}

func encodeValueBlock(b ValueBlock) map[string]any {
	unit := b.UnitSize()
	flat := make([]any, b.Elements())
	switch {
	case b.Bools != nil:
		for i, v := range b.Bools {
			switch v {
			case schema.UndefinedBool:
				flat[i] = nil
			case 0:
				flat[i] = false
			default:
				flat[i] = true
			}
		}
	case b.Ints != nil:
		for i, v := range b.Ints {
			if v == schema.UndefinedInt {
				flat[i] = nil
			} else {
				flat[i] = v
			}
		}
	case b.Floats != nil:
		for i, v := range b.Floats {
			if math.IsNaN(v) {
				flat[i] = nil
			} else {
				flat[i] = v
			}
		}
	case b.Strings != nil:
		for i, v := range b.Strings {
			if v == schema.UndefinedStr {
				flat[i] = nil
			} else {
				flat[i] = v
			}
		}
	}

	data := flat
	if unit > 1 {
		nested := make([]any, 0, len(flat)/unit)
		for i := 0; i < len(flat); i += unit {
			sub := make([]any, unit)
			copy(sub, flat[i:i+unit])
			nested = append(nested, sub)
		}
		data = nested
	}
	obj := map[string]any{dataKey: data}
	if b.IsCSR() {
		ptr := make([]any, len(b.RowPtr))
		for i, p := range b.RowPtr {
			ptr[i] = p
		}
		obj[rowPtrKey] = ptr
	}
	return obj
}

// normalizeScalar rewrites codec-internal number wrappers into int64 or
// float64 so payload consumers never see them.
func normalizeScalar(v any) any {
	if n, ok := v.(jsonNumber); ok {
		if i, ok := n.asInt64(); ok {
			return i
		}
		if f, ok := n.asFloat64(); ok {
			return f
		}
		return string(n)
	}
	return v
}

// AsInt64 coerces the numeric representations the codecs produce to int64.
// Non-integral floats do not coerce.
func AsInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint8:
		return int64(n), true
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) || math.IsNaN(n) {
			return 0, false
		}
		return int64(n), true
	case float32:
		return AsInt64(float64(n))
	case jsonNumber:
		return n.asInt64()
	}
	return 0, false
}

func AsFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint8:
		return float64(n), true
	case jsonNumber:
		return n.asFloat64()
	}
	return 0, false
}
