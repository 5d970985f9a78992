package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Add_IdempotentOnAgreement(t *testing.T) {
	r := NewRegistry()
	spec := AttributeSpec{Name: "speed", Primitive: Float}

	require.NoError(t, r.Add(spec))
	require.NoError(t, r.Add(spec))

	assert.Equal(t, 1, r.Len())
	got, ok := r.Get("", "speed")
	require.True(t, ok)
	assert.Equal(t, spec, got)
}

func TestRegistry_Add_ConflictingTypeRejected(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Add(AttributeSpec{Name: "speed", Primitive: Float}))

	err := r.Add(AttributeSpec{Name: "speed", Primitive: Int})
	require.Error(t, err)
	assert.ErrorContains(t, err, "conflicting data types")

	err = r.Add(AttributeSpec{Name: "speed", Primitive: Float, CSR: true})
	require.Error(t, err)
}

func TestRegistry_Add_InvalidSpecRejected(t *testing.T) {
	r := NewRegistry()
	err := r.Add(AttributeSpec{Primitive: Float})
	require.Error(t, err)
	assert.Zero(t, r.Len())
}

func TestRegistry_Get_ComponentKeys(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Add(AttributeSpec{Name: "closed", Component: "transport", Primitive: Bool}))

	_, ok := r.Get("", "closed")
	assert.False(t, ok, "component-scoped attribute must not resolve without its component")

	got, ok := r.Get("transport", "closed")
	require.True(t, ok)
	assert.Equal(t, Bool, got.Primitive)
}

func TestRegistry_AddDataset(t *testing.T) {
	ds, err := ParseDatasetSchema([]byte(`
name: road_network
entity_groups:
  - name: segments
    attributes:
      - name: length
        data_type: float
      - name: closed
        component: transport
        data_type: bool
  - name: nodes
    attributes:
      - name: elevation
        data_type: float
`))
	require.NoError(t, err)

	r := NewRegistry()
	require.NoError(t, r.AddDataset(ds))
	assert.Equal(t, []string{"elevation", "length", "transport/closed"}, r.Keys())
}

func TestRegistry_AddDataset_ConflictAcrossGroups(t *testing.T) {
	ds, err := ParseDatasetSchema([]byte(`
name: road_network
entity_groups:
  - name: segments
    attributes:
      - name: label
        data_type: str
  - name: nodes
    attributes:
      - name: label
        data_type: int
`))
	require.NoError(t, err)

	r := NewRegistry()
	err = r.AddDataset(ds)
	require.Error(t, err)
	assert.ErrorContains(t, err, `entity group "nodes"`)
	assert.ErrorContains(t, err, "conflicting data types")
}
