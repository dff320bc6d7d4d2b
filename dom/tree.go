package dom

import (
	"bytes"
	"encoding/binary"
	"slices"
	"strings"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Tree is a mutable, id-indexed document. The zero value is not usable; build
// one with NewTree or Blank. A Tree is not safe for concurrent mutation.
type Tree struct {
	root   *Node
	nodes  map[int64]*Node
	parent map[int64]*Node
}

// NewTree indexes a deep copy of root. The caller's node is never retained.
func NewTree(root *Node) (*Tree, error) {
	if root == nil {
		return nil, invalidf("nil root")
	}
	if err := root.Validate(); err != nil {
		return nil, err
	}
	t := &Tree{
		root:   root.Clone(),
		nodes:  make(map[int64]*Node),
		parent: make(map[int64]*Node),
	}
	if err := t.index(t.root, nil); err != nil {
		return nil, err
	}
	return t, nil
}

// Blank returns an empty document. Players render it when no snapshot is
// available.
func Blank() *Tree {
	root := &Node{ID: -1, Kind: KindDocument}
	return &Tree{
		root:   root,
		nodes:  map[int64]*Node{root.ID: root},
		parent: make(map[int64]*Node),
	}
}

func (t *Tree) index(n, parent *Node) error {
	if _, dup := t.nodes[n.ID]; dup {
		return duplicate(n.ID)
	}
	t.nodes[n.ID] = n
	if parent != nil {
		t.parent[n.ID] = parent
	}
	for _, ch := range n.Children {
		if err := t.index(ch, n); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tree) unindex(n *Node) {
	n.Walk(func(x *Node) bool {
		delete(t.nodes, x.ID)
		delete(t.parent, x.ID)
		return true
	})
}

// Root returns the document root. Callers must treat it as read-only.
func (t *Tree) Root() *Node { return t.root }

// Node returns the node with the given id.
func (t *Tree) Node(id int64) (*Node, bool) {
	n, ok := t.nodes[id]
	return n, ok
}

// Parent returns the parent of the node with the given id.
func (t *Tree) Parent(id int64) (*Node, bool) {
	p, ok := t.parent[id]
	return p, ok
}

// Len returns the number of indexed nodes.
func (t *Tree) Len() int { return len(t.nodes) }

// Clone returns an independent deep copy of t.
func (t *Tree) Clone() *Tree {
	c := &Tree{
		root:   t.root.Clone(),
		nodes:  make(map[int64]*Node, len(t.nodes)),
		parent: make(map[int64]*Node, len(t.parent)),
	}
	// Ids are unique in t, so re-indexing cannot fail.
	_ = c.index(c.root, nil)
	return c
}

// Snapshot returns a deep copy of the document root.
func (t *Tree) Snapshot() *Node { return t.root.Clone() }

// Apply performs m against the tree. It either applies completely or leaves
// the tree untouched.
func (t *Tree) Apply(m Mutation) error {
	if err := m.Validate(); err != nil {
		return err
	}

	switch m.Op {
	case OpAdd:
		return t.add(m)
	case OpRemove:
		n, ok := t.nodes[m.ID]
		if !ok {
			return unknownNode(m.ID)
		}
		p, ok := t.parent[m.ID]
		if !ok {
			return invalidf("cannot remove root %d", m.ID)
		}
		p.Children = slices.DeleteFunc(p.Children, func(c *Node) bool { return c == n })
		t.unindex(n)
	case OpAttr:
		n, ok := t.nodes[m.ID]
		if !ok {
			return unknownNode(m.ID)
		}
		if n.Kind != KindElement {
			return invalidf("attr on %s node %d", n.Kind, m.ID)
		}
		if m.Removed {
			delete(n.Attrs, m.Name)
			return nil
		}
		if n.Attrs == nil {
			n.Attrs = make(map[string]string)
		}
		n.Attrs[m.Name] = m.Value
	case OpText:
		n, ok := t.nodes[m.ID]
		if !ok {
			return unknownNode(m.ID)
		}
		if n.Kind != KindText && n.Kind != KindComment {
			return invalidf("text on %s node %d", n.Kind, m.ID)
		}
		n.Text = m.Value
	}
	return nil
}

func (t *Tree) add(m Mutation) error {
	p, ok := t.nodes[m.ParentID]
	if !ok {
		return unknownNode(m.ParentID)
	}
	if !p.Kind.container() {
		return invalidf("%s node %d cannot have children", p.Kind, p.ID)
	}

	pos := len(p.Children)
	if m.BeforeID != 0 {
		pos = slices.IndexFunc(p.Children, func(c *Node) bool { return c.ID == m.BeforeID })
		if pos < 0 {
			return unknownNode(m.BeforeID)
		}
	}

	sub := m.Node.Clone()
	var clash int64
	seen := make(map[int64]struct{})
	sub.Walk(func(x *Node) bool {
		if _, live := t.nodes[x.ID]; live {
			clash = x.ID
			return false
		}
		if _, dup := seen[x.ID]; dup {
			clash = x.ID
			return false
		}
		seen[x.ID] = struct{}{}
		return true
	})
	if clash != 0 {
		return duplicate(clash)
	}

	p.Children = slices.Insert(p.Children, pos, sub)
	_ = t.index(sub, p)
	return nil
}

// Hash returns a digest of the document's structure and content. Two trees
// with equal hashes render identically.
func (t *Tree) Hash() uint64 {
	d := xxhash.New()
	var buf [8]byte
	var visit func(n *Node)
	visit = func(n *Node) {
		binary.LittleEndian.PutUint64(buf[:], uint64(n.ID))
		_, _ = d.Write(buf[:])
		_, _ = d.Write([]byte{byte(n.Kind)})
		_, _ = d.WriteString(n.Tag)
		_, _ = d.Write([]byte{0})
		for _, k := range n.attrNames() {
			_, _ = d.WriteString(k)
			_, _ = d.Write([]byte{'='})
			_, _ = d.WriteString(n.Attrs[k])
			_, _ = d.Write([]byte{0})
		}
		_, _ = d.WriteString(n.Text)
		binary.LittleEndian.PutUint64(buf[:], uint64(len(n.Children)))
		_, _ = d.Write(buf[:])
		for _, ch := range n.Children {
			visit(ch)
		}
	}
	visit(t.root)
	return d.Sum64()
}

// HTML renders the document as markup.
func (t *Tree) HTML() string {
	var buf bytes.Buffer
	root := toHTML(t.root)
	if err := html.Render(&buf, root); err != nil {
		return ""
	}
	return buf.String()
}

// Text returns the concatenated character data of the document.
func (t *Tree) Text() string {
	var sb strings.Builder
	t.root.Walk(func(n *Node) bool {
		if n.Kind == KindElement && (n.Tag == "script" || n.Tag == "style") {
			return false
		}
		if n.Kind == KindText {
			sb.WriteString(n.Text)
		}
		return true
	})
	return sb.String()
}

func toHTML(n *Node) *html.Node {
	out := &html.Node{}
	switch n.Kind {
	case KindDocument:
		out.Type = html.DocumentNode
	case KindDoctype:
		out.Type = html.DoctypeNode
		out.Data = n.Text
	case KindElement:
		out.Type = html.ElementNode
		out.Data = n.Tag
		out.DataAtom = atom.Lookup([]byte(n.Tag))
		for _, k := range n.attrNames() {
			out.Attr = append(out.Attr, html.Attribute{Key: k, Val: n.Attrs[k]})
		}
	case KindText:
		out.Type = html.TextNode
		out.Data = n.Text
	case KindComment:
		out.Type = html.CommentNode
		out.Data = n.Text
	}
	for _, ch := range n.Children {
		out.AppendChild(toHTML(ch))
	}
	return out
}

func duplicate(id int64) error {
	return fmtErr(ErrDuplicateNode, id)
}
