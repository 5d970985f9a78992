package state

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polysim/polysim/schema"
	"github.com/polysim/polysim/wire"
)

func floatSpec(name string) schema.AttributeSpec {
	return schema.AttributeSpec{Name: name, Primitive: schema.Float}
}

func TestEntityGroup_Register_SameIdentity_UnionsFlags(t *testing.T) {
	g := newEntityGroup("ds", "grp", DefaultTolerance)

	first, err := g.Register(floatSpec("a"), FlagInit)
	require.NoError(t, err)
	second, err := g.Register(floatSpec("a"), FlagPub)
	require.NoError(t, err)

	assert.Same(t, first, second, "same identity resolves to the same attribute")
	assert.True(t, first.Flags().Has(FlagInit|FlagPub))
}

func TestEntityGroup_Register_ConflictingType_Fails(t *testing.T) {
	g := newEntityGroup("ds", "grp", DefaultTolerance)
	_, err := g.Register(floatSpec("a"), FlagInit)
	require.NoError(t, err)

	_, err = g.Register(schema.AttributeSpec{Name: "a", Primitive: schema.Int}, FlagSub)
	assert.True(t, IsConfigurationError(err))

	_, err = g.Register(schema.AttributeSpec{Name: "a", Primitive: schema.Float, CSR: true}, FlagSub)
	assert.True(t, IsConfigurationError(err), "layout change is a type conflict")
}

func TestEntityGroup_Register_InvalidSpec_Fails(t *testing.T) {
	g := newEntityGroup("ds", "grp", DefaultTolerance)

	_, err := g.Register(schema.AttributeSpec{Name: "", Primitive: schema.Float}, FlagInit)
	assert.True(t, IsConfigurationError(err))

	_, err = g.Register(schema.AttributeSpec{Name: "a", Primitive: "decimal"}, FlagInit)
	assert.True(t, IsConfigurationError(err))
}

func TestEntityGroup_Register_AfterAdoption_AllocatesImmediately(t *testing.T) {
	g := newEntityGroup("ds", "grp", DefaultTolerance)
	_, err := g.Register(floatSpec("a"), FlagSub)
	require.NoError(t, err)
	require.NoError(t, g.AppendIDs([]int64{1, 2, 3}))

	late, err := g.Register(floatSpec("b"), FlagPub)
	require.NoError(t, err)
	assert.Equal(t, 3, late.Rows(), "late registration sizes the column to the index")
}

func TestEntityGroup_ReceiveBlock_FirstBlockFixesIDs(t *testing.T) {
	g := newEntityGroup("ds", "grp", DefaultTolerance)
	_, err := g.Register(floatSpec("a"), FlagSub)
	require.NoError(t, err)

	gb := wire.NewGroupBlock([]int64{10, 20, 30})
	gb.Set("", "a", wire.ValueBlock{Floats: []float64{1, 2, 3}})
	require.NoError(t, g.receiveBlock(gb))

	assert.Equal(t, []int64{10, 20, 30}, g.Index().IDs())
	attr, _ := g.Attribute("", "a")
	assert.Equal(t, []float64{1, 2, 3}, attr.(*UniformAttribute[float64]).Column().Values())

	// Re-pinning the same ids with partial data is fine; new ids are not.
	gb2 := wire.NewGroupBlock([]int64{20})
	gb2.Set("", "a", wire.ValueBlock{Floats: []float64{5}})
	require.NoError(t, g.receiveBlock(gb2))
	assert.Equal(t, []float64{1, 5, 3}, attr.(*UniformAttribute[float64]).Column().Values())

	gb3 := wire.NewGroupBlock([]int64{99})
	gb3.Set("", "a", wire.ValueBlock{Floats: []float64{7}})
	err = g.receiveBlock(gb3)
	assert.True(t, IsIdentityViolation(err))
	assert.Equal(t, []float64{1, 5, 3}, attr.(*UniformAttribute[float64]).Column().Values(), "failed block must not apply")
}

func TestEntityGroup_ReceiveBlock_FirstBlockWithDuplicateIDs_Fails(t *testing.T) {
	g := newEntityGroup("ds", "grp", DefaultTolerance)
	_, err := g.Register(floatSpec("a"), FlagSub)
	require.NoError(t, err)

	gb := wire.NewGroupBlock([]int64{10, 10})
	gb.Set("", "a", wire.ValueBlock{Floats: []float64{1, 2}})
	err = g.receiveBlock(gb)

	assert.True(t, IsDuplicateID(err))
	assert.Equal(t, 0, g.Len(), "the group stays unadopted")
}

func TestEntityGroup_ReceiveBlock_MalformedAttr_NothingApplies(t *testing.T) {
	g := newEntityGroup("ds", "grp", DefaultTolerance)
	_, err := g.Register(floatSpec("a"), FlagSub)
	require.NoError(t, err)
	_, err = g.Register(floatSpec("b"), FlagSub)
	require.NoError(t, err)

	// Fresh group: a malformed sibling keeps the whole block out, ids included.
	gb := wire.NewGroupBlock([]int64{10, 20})
	gb.Set("", "a", wire.ValueBlock{Floats: []float64{1, 2}})
	gb.Set("", "b", wire.ValueBlock{Floats: []float64{1, 2, 3}})
	err = g.receiveBlock(gb)
	require.True(t, IsMalformedUpdate(err))
	assert.Equal(t, 0, g.Len())

	// Populated group: same rule, the valid sibling stays unapplied.
	ok := wire.NewGroupBlock([]int64{10, 20})
	ok.Set("", "a", wire.ValueBlock{Floats: []float64{1, 2}})
	ok.Set("", "b", wire.ValueBlock{Floats: []float64{3, 4}})
	require.NoError(t, g.receiveBlock(ok))

	bad := wire.NewGroupBlock([]int64{10, 20})
	bad.Set("", "a", wire.ValueBlock{Floats: []float64{8, 9}})
	bad.Set("", "b", wire.ValueBlock{Strings: []string{"x", "y"}})
	err = g.receiveBlock(bad)
	require.True(t, IsMalformedUpdate(err))

	attr, _ := g.Attribute("", "a")
	assert.Equal(t, []float64{1, 2}, attr.(*UniformAttribute[float64]).Column().Values())
}

func TestEntityGroup_ReceiveBlock_UnregisteredAttr_Skipped(t *testing.T) {
	g := newEntityGroup("ds", "grp", DefaultTolerance)
	_, err := g.Register(floatSpec("a"), FlagSub)
	require.NoError(t, err)

	gb := wire.NewGroupBlock([]int64{10})
	gb.Set("", "a", wire.ValueBlock{Floats: []float64{1}})
	gb.Set("", "never_registered", wire.ValueBlock{Strings: []string{"zzz"}})
	require.NoError(t, g.receiveBlock(gb), "foreign attributes must not fail the block")

	attr, _ := g.Attribute("", "a")
	assert.Equal(t, []float64{1}, attr.(*UniformAttribute[float64]).Column().Values())
}

func TestEntityGroup_AppendIDs_GrowsEveryColumn(t *testing.T) {
	g := newEntityGroup("ds", "grp", DefaultTolerance)
	_, err := g.Register(floatSpec("a"), FlagSub|FlagPub)
	require.NoError(t, err)
	_, err = g.Register(schema.AttributeSpec{Name: "shape", Primitive: schema.Int, CSR: true}, FlagPub)
	require.NoError(t, err)

	gb := wire.NewGroupBlock([]int64{10, 20})
	gb.Set("", "a", wire.ValueBlock{Floats: []float64{1, 2}})
	gb.Set("", "shape", wire.ValueBlock{Ints: []int64{7, 8, 9}, RowPtr: []int{0, 2, 3}})
	require.NoError(t, g.receiveBlock(gb))

	// Flag a row before growing so the flag's survival is observable.
	aAttr, _ := g.Attribute("", "a")
	ua := aAttr.(*UniformAttribute[float64])
	g.resetChanges(FlagSub | FlagPub)
	require.NoError(t, ua.Column().SetValue(1, 0, 5))

	require.NoError(t, g.AppendIDs([]int64{30, 40}))

	assert.Equal(t, 4, g.Len())
	assert.Equal(t, []int64{10, 20, 30, 40}, g.Index().IDs())

	require.Equal(t, 4, ua.Rows())
	assert.Equal(t, 5.0, ua.Column().Values()[1], "existing values survive growth")
	assert.True(t, math.IsNaN(ua.Column().Values()[2]))
	assert.True(t, math.IsNaN(ua.Column().Values()[3]))
	changed, err := ua.Changed()
	require.NoError(t, err)
	assert.Equal(t, []uint32{1}, changed.ToArray(), "change flags survive growth")

	shapeAttr, _ := g.Attribute("", "shape")
	ca := shapeAttr.(*CSRAttribute[int64])
	require.Equal(t, 4, ca.Rows())
	assert.Equal(t, []int64{7, 8}, ca.Column().Row(0))
	undef, err := ca.UndefinedMask()
	require.NoError(t, err)
	assert.Equal(t, []uint32{2, 3}, undef.ToArray(), "new rows hold placeholders")

	// Appending a known id fails without growing anything.
	err = g.AppendIDs([]int64{20})
	assert.True(t, IsDuplicateID(err))
	assert.Equal(t, 4, g.Len())
}

func TestEntityGroup_GenerateBlock_UnionOfChangedRows(t *testing.T) {
	g := newEntityGroup("ds", "grp", DefaultTolerance)
	_, err := g.Register(floatSpec("a"), FlagPub)
	require.NoError(t, err)
	_, err = g.Register(floatSpec("b"), FlagPub)
	require.NoError(t, err)
	_, err = g.Register(floatSpec("internal"), FlagSub)
	require.NoError(t, err)

	gb := wire.NewGroupBlock([]int64{10, 20, 30})
	gb.Set("", "a", wire.ValueBlock{Floats: []float64{1, 2, 3}})
	gb.Set("", "b", wire.ValueBlock{Floats: []float64{4, 5, 6}})
	gb.Set("", "internal", wire.ValueBlock{Floats: []float64{7, 8, 9}})
	require.NoError(t, g.receiveBlock(gb))
	g.resetChanges(FlagPub | FlagSub | FlagInit | FlagOpt)

	// Nothing changed: no block at all.
	block, err := g.generateBlock(FlagPub)
	require.NoError(t, err)
	assert.Nil(t, block)

	// a changes on row 0, b on row 2.
	aAttr, _ := g.Attribute("", "a")
	require.NoError(t, aAttr.(*UniformAttribute[float64]).Column().SetValue(0, 0, 11))
	bAttr, _ := g.Attribute("", "b")
	require.NoError(t, bAttr.(*UniformAttribute[float64]).Column().SetValue(2, 0, 16))

	block, err = g.generateBlock(FlagPub)
	require.NoError(t, err)
	require.NotNil(t, block)

	assert.Equal(t, []int64{10, 30}, block.IDs, "ids cover the union of changed rows")

	aOut, ok := block.Get("", "a")
	require.True(t, ok)
	assert.Equal(t, 11.0, aOut.Floats[0])
	assert.True(t, math.IsNaN(aOut.Floats[1]), "row changed only by the sibling emits a placeholder")

	bOut, ok := block.Get("", "b")
	require.True(t, ok)
	assert.True(t, math.IsNaN(bOut.Floats[0]))
	assert.Equal(t, 16.0, bOut.Floats[1])

	_, ok = block.Get("", "internal")
	assert.False(t, ok, "non-published attributes stay out of the delta")
}

func TestEntityGroup_ReadyFor_TracksInitialization(t *testing.T) {
	g := newEntityGroup("ds", "grp", DefaultTolerance)
	_, err := g.Register(floatSpec("required"), FlagInit)
	require.NoError(t, err)
	_, err = g.Register(floatSpec("consumed"), FlagSub)
	require.NoError(t, err)

	assert.False(t, g.readyFor(FlagInit))

	// The first block defines only the init attribute; the sub attribute is
	// allocated but stays undefined.
	gb := wire.NewGroupBlock([]int64{10, 20})
	gb.Set("", "required", wire.ValueBlock{Floats: []float64{1, 2}})
	require.NoError(t, g.receiveBlock(gb))

	assert.True(t, g.readyFor(FlagInit))
	assert.False(t, g.readyFor(FlagSub))

	gb2 := wire.NewGroupBlock([]int64{10, 20})
	gb2.Set("", "consumed", wire.ValueBlock{Floats: []float64{3, 4}})
	require.NoError(t, g.receiveBlock(gb2))

	assert.True(t, g.readyFor(FlagSub))
}
