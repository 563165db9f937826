package causaldoc

import (
	"github.com/cshekharsharma/causaldoc/container"
	"github.com/cshekharsharma/causaldoc/id"
	"github.com/cshekharsharma/causaldoc/op"
)

// ToJSON materialises the current state as a tagged JSON-able value:
// the document itself becomes an object keyed by root container name,
// with maps becoming objects, lists/movable-lists becoming arrays,
// counters becoming numbers, trees becoming a forest of
// {id, parent, children[]} and text becoming plain strings.
func (d *Document) ToJSON() map[string]any {
	d.stateMu.RLock()
	defer d.stateMu.RUnlock()

	out := make(map[string]any)
	for _, idx := range d.arena.Roots() {
		cid, ok := d.arena.ContainerIDOf(idx)
		if !ok || !cid.IsRoot {
			continue
		}
		out[cid.Name] = d.containerToJSON(idx, cid.Type)
	}
	return out
}

func (d *Document) containerToJSON(idx op.ContainerIdx, typ op.ContainerType) any {
	switch typ {
	case op.ContainerText:
		if t, ok := d.texts[idx]; ok {
			return t.String()
		}
		return ""
	case op.ContainerList:
		if l, ok := d.lists[idx]; ok {
			return d.resolveValues(l.Values())
		}
		return []any{}
	case op.ContainerMovableList:
		if m, ok := d.mlists[idx]; ok {
			return d.resolveValues(m.Values())
		}
		return []any{}
	case op.ContainerMap:
		m, ok := d.maps[idx]
		obj := make(map[string]any)
		if ok {
			for _, k := range m.Keys() {
				if v, ok := m.Get(k); ok {
					obj[k] = d.resolveValue(v)
				}
			}
		}
		return obj
	case op.ContainerTree:
		if t, ok := d.trees[idx]; ok {
			return treeForestJSON(t)
		}
		return []any{}
	case op.ContainerCounter:
		if c, ok := d.counts[idx]; ok {
			return c.Value()
		}
		return int64(0)
	default:
		return nil
	}
}

func (d *Document) resolveValues(indexes []uint32) []any {
	out := make([]any, len(indexes))
	for i, v := range indexes {
		out[i] = d.resolveValue(v)
	}
	return out
}

func (d *Document) resolveValue(idx uint32) any {
	if v, ok := d.arena.Value(idx); ok {
		return v
	}
	return nil
}

// treeJSONNode is the tagged JSON shape of one tree node, per §6.1's
// "forest of {id, parent, children[]}".
type treeJSONNode struct {
	ID       string         `json:"id"`
	Parent   *string        `json:"parent"`
	Children []treeJSONNode `json:"children"`
}

func treeForestJSON(t *container.Tree) []treeJSONNode {
	var build func(ids []id.ID) []treeJSONNode
	build = func(ids []id.ID) []treeJSONNode {
		nodes := make([]treeJSONNode, 0, len(ids))
		for _, nodeID := range ids {
			n, ok := t.Node(nodeID)
			if !ok || n.Deleted {
				continue
			}
			var parent *string
			if n.Parent != nil {
				s := n.Parent.String()
				parent = &s
			}
			nodes = append(nodes, treeJSONNode{
				ID:       nodeID.String(),
				Parent:   parent,
				Children: build(n.Children),
			})
		}
		return nodes
	}
	return build(t.Roots())
}
