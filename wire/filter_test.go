package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterNode_Mark_DensePath(t *testing.T) {
	// GIVEN a filter marking a component-less attribute
	f := NewFilter()
	f.Pub.Mark("road_network", "road_segments", "", "length")

	// THEN the component level is collapsed
	assert.Equal(t, FilterNode{
		"road_network": FilterNode{
			"road_segments": FilterNode{"length": Wildcard},
		},
	}, f.Pub)
}

func TestFilterNode_Mark_ComponentPath(t *testing.T) {
	f := NewFilter()
	f.Sub.Mark("road_network", "road_segments", "transport", "max_speed")
	f.Sub.Mark("road_network", "road_segments", "", "id")

	assert.Equal(t, FilterNode{
		"road_network": FilterNode{
			"road_segments": FilterNode{
				"transport": FilterNode{"max_speed": Wildcard},
				"id":        Wildcard,
			},
		},
	}, f.Sub)
}

func TestFilterNode_Mark_MergesSiblings(t *testing.T) {
	// GIVEN two attributes under the same group
	f := NewFilter()
	f.Pub.Mark("d", "g", "", "a")
	f.Pub.Mark("d", "g", "c", "b")

	// THEN they share one group node
	group := f.Pub["d"].(FilterNode)["g"].(FilterNode)
	assert.Len(t, group, 2)
}

func TestFilterNode_Contains(t *testing.T) {
	f := NewFilter()
	f.Pub.Mark("d", "g", "c", "a")

	assert.True(t, f.Pub.Contains("d", "g", "c", "a"))
	assert.True(t, f.Pub.Contains("d", "g"))
	assert.False(t, f.Pub.Contains("d", "g", "c", "other"))
	assert.False(t, f.Pub.Contains("other"))

	// A wildcard met early matches anything below it.
	assert.True(t, f.Pub.Contains("d", "g", "c", "a", "deeper"))
}
