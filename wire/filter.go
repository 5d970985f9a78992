package wire

// Wildcard marks a filter leaf: every value of that attribute is wanted.
const Wildcard = "*"

// FilterNode is a nested routing descriptor. Keys are dataset, entity
// group, component, and attribute names from the root down; a Wildcard
// string terminates each path. Values are either FilterNode or Wildcard.
type FilterNode map[string]any

// Filter declares what a state will publish and what it needs delivered.
// It carries no data; the outer engine uses it to negotiate routing
// between models before any update flows.
type Filter struct {
	Pub FilterNode `json:"pub" msgpack:"pub"`
	Sub FilterNode `json:"sub" msgpack:"sub"`
}

// NewFilter returns an empty filter with both trees allocated.
func NewFilter() Filter {
	return Filter{Pub: FilterNode{}, Sub: FilterNode{}}
}

// Mark records one attribute path. An empty component collapses the level,
// so dense paths read {dataset: {group: {attr: "*"}}}.
func (n FilterNode) Mark(dataset, group, component, attr string) {
	node := n.child(dataset).child(group)
	if component != "" {
		node = node.child(component)
	}
	node[attr] = Wildcard
}

// Contains reports whether the given path was marked, walking from the
// root. A Wildcard met early matches any longer path under it.
func (n FilterNode) Contains(path ...string) bool {
	var cur any = n
	for _, key := range path {
		node, ok := cur.(FilterNode)
		if !ok {
			return cur == Wildcard
		}
		cur, ok = node[key]
		if !ok {
			return false
		}
	}
	return true
}

func (n FilterNode) child(key string) FilterNode {
	if sub, ok := n[key].(FilterNode); ok {
		return sub
	}
	sub := FilterNode{}
	n[key] = sub
	return sub
}
