// Package dom models the serialized page structure a recorder captures and a
// player rebuilds. Nodes carry stable integer ids assigned at capture time;
// mutations reference nodes by those ids only.
package dom

import (
	"maps"
	"slices"
)

// Kind classifies a serialized node.
type Kind uint8

const (
	KindDocument Kind = iota + 1
	KindDoctype
	KindElement
	KindText
	KindComment
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case KindDocument:
		return "document"
	case KindDoctype:
		return "doctype"
	case KindElement:
		return "element"
	case KindText:
		return "text"
	case KindComment:
		return "comment"
	default:
		return "unknown"
	}
}

// Valid reports whether k is one of the defined kinds.
func (k Kind) Valid() bool {
	return k >= KindDocument && k <= KindComment
}

// container reports whether nodes of this kind may have children.
func (k Kind) container() bool {
	return k == KindDocument || k == KindElement
}

// Node is one node of a serialized document.
type Node struct {
	ID       int64             `json:"id"`
	Kind     Kind              `json:"k"`
	Tag      string            `json:"tag,omitempty"`
	Attrs    map[string]string `json:"attrs,omitempty"`
	Text     string            `json:"text,omitempty"`
	Children []*Node           `json:"children,omitempty"`
}

// Clone returns a deep copy of the subtree rooted at n.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	c := &Node{
		ID:   n.ID,
		Kind: n.Kind,
		Tag:  n.Tag,
		Text: n.Text,
	}
	if len(n.Attrs) > 0 {
		c.Attrs = maps.Clone(n.Attrs)
	}
	if len(n.Children) > 0 {
		c.Children = make([]*Node, len(n.Children))
		for i, ch := range n.Children {
			c.Children[i] = ch.Clone()
		}
	}
	return c
}

// Walk visits n and its descendants depth-first in document order.
// Returning false from fn prunes the subtree below the visited node.
func (n *Node) Walk(fn func(*Node) bool) {
	if n == nil {
		return
	}
	if !fn(n) {
		return
	}
	for _, ch := range n.Children {
		ch.Walk(fn)
	}
}

// Count returns the number of nodes in the subtree rooted at n.
func (n *Node) Count() int {
	total := 0
	n.Walk(func(*Node) bool {
		total++
		return true
	})
	return total
}

// Validate checks structural rules for a subtree: known kinds, non-zero ids,
// no children under leaves.
func (n *Node) Validate() error {
	var err error
	n.Walk(func(x *Node) bool {
		if err != nil {
			return false
		}
		switch {
		case x.ID == 0:
			err = invalidf("node without id")
		case !x.Kind.Valid():
			err = invalidf("node %d has unknown kind %d", x.ID, x.Kind)
		case x.Kind == KindElement && x.Tag == "":
			err = invalidf("element %d has no tag", x.ID)
		case !x.Kind.container() && len(x.Children) > 0:
			err = invalidf("%s node %d cannot have children", x.Kind, x.ID)
		}
		return err == nil
	})
	return err
}

// attrNames returns the attribute names in sorted order.
func (n *Node) attrNames() []string {
	return slices.Sorted(maps.Keys(n.Attrs))
}
